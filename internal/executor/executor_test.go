package executor

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ferret/internal/agent"
	"ferret/internal/browser"
	"ferret/internal/extractor"
	"ferret/internal/netlog"
	"ferret/internal/nlq"
	"ferret/internal/pool"
	"ferret/internal/relevance"
	"ferret/internal/selector"
)

// fakeOps records calls and returns canned values/errors per action.
type fakeOps struct {
	calls []string
	errs  map[string]error
}

func (f *fakeOps) fail(action string) error { return f.errs[action] }

func (f *fakeOps) Navigate(ctx context.Context, tabID, url string) (*agent.NavResult, error) {
	f.calls = append(f.calls, "navigate")
	if err := f.fail("navigate"); err != nil {
		return nil, err
	}
	return &agent.NavResult{URL: url, Title: "Example", TabID: tabID}, nil
}

func (f *fakeOps) Extract(ctx context.Context, tabID, url string, fields map[string]nlq.FieldSpec) (map[string]extractor.FieldResult, error) {
	f.calls = append(f.calls, "extract")
	if err := f.fail("extract"); err != nil {
		return nil, err
	}
	return map[string]extractor.FieldResult{"price": {Value: 849.0, Strategy: "direct"}}, nil
}

func (f *fakeOps) ExtractTables(ctx context.Context, tabID, sel string) ([]extractor.Table, error) {
	f.calls = append(f.calls, "extract_tables")
	return []extractor.Table{{Headers: []string{"a"}, Rows: [][]string{{"1"}}}}, f.fail("extract_tables")
}

func (f *fakeOps) CaptureStructure(ctx context.Context, tabID, root string) (*extractor.Structure, error) {
	f.calls = append(f.calls, "capture_structure")
	return &extractor.Structure{Title: "Example"}, f.fail("capture_structure")
}

func (f *fakeOps) Preview(ctx context.Context, tabID string, maxChars int) (*extractor.Preview, error) {
	f.calls = append(f.calls, "preview")
	return &extractor.Preview{Title: "Example", Text: "body"}, f.fail("preview")
}

func (f *fakeOps) FilterRelevant(ctx context.Context, tabID string, keywords []string, minScore float64, maxItems int) ([]relevance.Scored, error) {
	f.calls = append(f.calls, "relevance_filter")
	return nil, f.fail("relevance_filter")
}

func (f *fakeOps) StreamExtract(ctx context.Context, tabID, logicalName string, spec nlq.FieldSpec, maxTokens int) (*agent.StreamResult, error) {
	f.calls = append(f.calls, "stream_extract")
	if err := f.fail("stream_extract"); err != nil {
		return nil, err
	}
	return &agent.StreamResult{Tokens: 2}, nil
}

func (f *fakeOps) NetworkCalls(ctx context.Context, tabID string, limit int) ([]netlog.Event, error) {
	f.calls = append(f.calls, "network_calls")
	return []netlog.Event{{Kind: "request", URL: "https://api.example.com"}}, f.fail("network_calls")
}

func (f *fakeOps) ParallelExtract(ctx context.Context, urls []string, fields map[string]nlq.FieldSpec, maxConcurrent int) []pool.Outcome {
	f.calls = append(f.calls, "parallel_extract")
	out := make([]pool.Outcome, len(urls))
	for i, u := range urls {
		out[i] = pool.Outcome{URL: u, OK: true}
	}
	return out
}

func (f *fakeOps) SaveSession(name string) (string, error) {
	f.calls = append(f.calls, "save_session")
	return "/tmp/" + name + ".json", f.fail("save_session")
}

func (f *fakeOps) LoadSession(name string) error {
	f.calls = append(f.calls, "load_session")
	return f.fail("load_session")
}

func (f *fakeOps) CloseTab(tabID string) error {
	f.calls = append(f.calls, "close_tab")
	return f.fail("close_tab")
}

func newTestExecutor(errs map[string]error) (*Executor, *fakeOps) {
	ops := &fakeOps{errs: errs}
	return New(ops, nil), ops
}

func TestExecuteDispatchesEveryAction(t *testing.T) {
	e, ops := newTestExecutor(nil)
	ctx := context.Background()

	actions := []string{
		"navigate", "extract", "extract_tables", "capture_structure",
		"preview", "relevance_filter", "stream_extract", "network_calls",
		"parallel_extract", "save_session", "load_session", "close_tab",
	}
	for _, action := range actions {
		res := e.Execute(ctx, Task{Action: action, URL: "https://example.com", URLs: []string{"https://example.com"}})
		assert.Equal(t, "ok", res.Status, "action %s", action)
		assert.Nil(t, res.Error, "action %s", action)
	}
	assert.Equal(t, actions, ops.calls)
}

func TestExecuteUnknownAction(t *testing.T) {
	e, _ := newTestExecutor(nil)

	res := e.Execute(context.Background(), Task{Action: "teleport"})
	assert.Equal(t, "error", res.Status)
	require.NotNil(t, res.Error)
	assert.Equal(t, "bad_request", res.Error.Kind)

	res = e.Execute(context.Background(), Task{})
	require.NotNil(t, res.Error)
	assert.Equal(t, "bad_request", res.Error.Kind)
}

func TestExecuteJSONAlwaysValid(t *testing.T) {
	e, _ := newTestExecutor(nil)

	out := e.ExecuteJSON(context.Background(), []byte(`{not json`))
	var res Result
	require.NoError(t, json.Unmarshal(out, &res))
	assert.Equal(t, "error", res.Status)
	assert.Equal(t, "bad_request", res.Error.Kind)

	out = e.ExecuteJSON(context.Background(), []byte(`{"action":"navigate","url":"https://example.com"}`))
	require.NoError(t, json.Unmarshal(out, &res))
	assert.Equal(t, "ok", res.Status)
}

func TestErrorKindClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind string
	}{
		{"resolution", &selector.ResolutionFailure{LogicalName: "price", Attempted: []string{"direct"}}, "resolution"},
		{"required field", extractor.ErrRequiredField, "resolution"},
		{"pool exhausted", pool.ErrPoolExhausted, "pool_exhausted"},
		{"navigation", &browser.NavigationError{URL: "https://x", Err: errors.New("refused")}, "navigation"},
		{"session missing", os.ErrNotExist, "not_found"},
		{"timeout", context.DeadlineExceeded, "timeout"},
		{"unknown", errors.New("disk on fire"), "internal"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, _ := newTestExecutor(map[string]error{"navigate": tc.err})
			res := e.Execute(context.Background(), Task{Action: "navigate", URL: "https://example.com"})
			assert.Equal(t, "error", res.Status)
			require.NotNil(t, res.Error)
			assert.Equal(t, tc.kind, res.Error.Kind)
			assert.NotEmpty(t, res.Error.Message)
		})
	}
}

func TestWrappedErrorsStillClassify(t *testing.T) {
	wrapped := errors.New("outer")
	err := errors.Join(wrapped, pool.ErrPoolExhausted)

	e, _ := newTestExecutor(map[string]error{"navigate": err})
	res := e.Execute(context.Background(), Task{Action: "navigate"})
	assert.Equal(t, "pool_exhausted", res.Error.Kind)
}

func TestBatchStopsAtFirstFailure(t *testing.T) {
	e, ops := newTestExecutor(map[string]error{"extract": pool.ErrPoolExhausted})

	res := e.Execute(context.Background(), Task{Actions: []Task{
		{Action: "navigate", URL: "https://example.com"},
		{Action: "extract"},
		{Action: "preview"},
	}})

	assert.Equal(t, "error", res.Status)
	require.Len(t, res.Results, 2, "the action after the failure must not run")
	assert.Equal(t, "ok", res.Results[0].Status)
	assert.Equal(t, "error", res.Results[1].Status)
	assert.Equal(t, []string{"navigate", "extract"}, ops.calls)
}

func TestBatchAllOK(t *testing.T) {
	e, _ := newTestExecutor(nil)

	res := e.Execute(context.Background(), Task{Actions: []Task{
		{Action: "navigate", URL: "https://example.com"},
		{Action: "preview"},
	}})

	assert.Equal(t, "ok", res.Status)
	assert.Len(t, res.Results, 2)
	assert.Nil(t, res.Error)
}

func TestResultJSONShape(t *testing.T) {
	e, _ := newTestExecutor(nil)

	out := e.ExecuteJSON(context.Background(), []byte(`{"action":"extract","fields":{"price":{}}}`))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(out, &doc))
	assert.Equal(t, "ok", doc["status"])
	assert.NotContains(t, doc, "error")
	result, ok := doc["result"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, result, "price")
}
