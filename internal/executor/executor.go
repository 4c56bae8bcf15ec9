// Package executor is the JSON boundary of the agent: one task document
// in, one result document out. Output is always valid JSON with a status,
// even on panics; errors are classified into stable kinds so callers can
// branch on them without parsing messages.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"ferret/internal/agent"
	"ferret/internal/browser"
	"ferret/internal/extractor"
	"ferret/internal/netlog"
	"ferret/internal/nlq"
	"ferret/internal/pool"
	"ferret/internal/relevance"
	"ferret/internal/selector"
)

// Task is the JSON task document. Exactly one of Action or Actions must
// be set; Actions runs its tasks sequentially against the same agent.
type Task struct {
	Action  string `json:"action,omitempty"`
	Actions []Task `json:"actions,omitempty"`

	URL      string                   `json:"url,omitempty"`
	URLs     []string                 `json:"urls,omitempty"`
	TabID    string                   `json:"tab_id,omitempty"`
	Fields   map[string]nlq.FieldSpec `json:"fields,omitempty"`
	Field    string                   `json:"field,omitempty"`
	Selector string                   `json:"selector,omitempty"`
	Keywords []string                 `json:"keywords,omitempty"`
	Session  string                   `json:"session,omitempty"`

	MinScore      float64 `json:"min_score,omitempty"`
	MaxItems      int     `json:"max_items,omitempty"`
	MaxChars      int     `json:"max_chars,omitempty"`
	MaxTokens     int     `json:"max_tokens,omitempty"`
	MaxConcurrent int     `json:"max_concurrent,omitempty"`
	Limit         int     `json:"limit,omitempty"`

	// ConfigOverrides shallow-merges onto the loaded configuration before
	// the agent starts. Parsed by the caller, carried here for visibility.
	ConfigOverrides json.RawMessage `json:"config_overrides,omitempty"`
}

// ErrorInfo classifies a failure for the caller.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Result is the JSON result document.
type Result struct {
	Status  string     `json:"status"`
	Result  any        `json:"result,omitempty"`
	Results []Result   `json:"results,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// Ops is the operation surface the executor dispatches to. The live
// implementation is *agent.Agent; tests substitute a fake.
type Ops interface {
	Navigate(ctx context.Context, tabID, url string) (*agent.NavResult, error)
	Extract(ctx context.Context, tabID, url string, fields map[string]nlq.FieldSpec) (map[string]extractor.FieldResult, error)
	ExtractTables(ctx context.Context, tabID, sel string) ([]extractor.Table, error)
	CaptureStructure(ctx context.Context, tabID, root string) (*extractor.Structure, error)
	Preview(ctx context.Context, tabID string, maxChars int) (*extractor.Preview, error)
	FilterRelevant(ctx context.Context, tabID string, keywords []string, minScore float64, maxItems int) ([]relevance.Scored, error)
	StreamExtract(ctx context.Context, tabID, logicalName string, spec nlq.FieldSpec, maxTokens int) (*agent.StreamResult, error)
	NetworkCalls(ctx context.Context, tabID string, limit int) ([]netlog.Event, error)
	ParallelExtract(ctx context.Context, urls []string, fields map[string]nlq.FieldSpec, maxConcurrent int) []pool.Outcome
	SaveSession(name string) (string, error)
	LoadSession(name string) error
	CloseTab(tabID string) error
}

// Executor dispatches tasks to an Ops implementation.
type Executor struct {
	ops Ops
	log *zap.Logger
}

// New builds an executor over ops.
func New(ops Ops, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{ops: ops, log: logger.With(zap.String("component", "executor"))}
}

// ExecuteJSON parses a raw task document and returns the marshaled
// result. Malformed input yields a bad_request error document, never a
// parse panic.
func (e *Executor) ExecuteJSON(ctx context.Context, data []byte) []byte {
	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return mustMarshal(Result{
			Status: "error",
			Error:  &ErrorInfo{Kind: "bad_request", Message: "parse task: " + err.Error()},
		})
	}
	return mustMarshal(e.Execute(ctx, task))
}

// Execute runs one task (or its action sequence) and always returns a
// well-formed result.
func (e *Executor) Execute(ctx context.Context, task Task) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("task panicked", zap.Any("panic", r))
			res = Result{Status: "error", Error: &ErrorInfo{Kind: "internal", Message: fmt.Sprint(r)}}
		}
	}()

	if len(task.Actions) > 0 {
		return e.executeBatch(ctx, task.Actions)
	}
	return e.executeOne(ctx, task)
}

// executeBatch runs actions in order. A failed action stops the batch;
// its result and the completed ones are all reported.
func (e *Executor) executeBatch(ctx context.Context, actions []Task) Result {
	out := Result{Status: "ok"}
	for _, action := range actions {
		r := e.executeOne(ctx, action)
		out.Results = append(out.Results, r)
		if r.Status != "ok" {
			out.Status = "error"
			out.Error = r.Error
			break
		}
	}
	return out
}

func (e *Executor) executeOne(ctx context.Context, t Task) Result {
	e.log.Debug("dispatch", zap.String("action", t.Action), zap.String("tab_id", t.TabID))

	var value any
	var err error

	switch t.Action {
	case "navigate":
		value, err = e.ops.Navigate(ctx, t.TabID, t.URL)
	case "extract":
		value, err = e.ops.Extract(ctx, t.TabID, t.URL, t.Fields)
	case "extract_tables":
		value, err = e.ops.ExtractTables(ctx, t.TabID, t.Selector)
	case "capture_structure":
		value, err = e.ops.CaptureStructure(ctx, t.TabID, t.Selector)
	case "preview":
		value, err = e.ops.Preview(ctx, t.TabID, t.MaxChars)
	case "relevance_filter":
		value, err = e.ops.FilterRelevant(ctx, t.TabID, t.Keywords, t.MinScore, t.MaxItems)
	case "stream_extract":
		value, err = e.ops.StreamExtract(ctx, t.TabID, t.Field, nlq.FieldSpec{Selector: t.Selector}, t.MaxTokens)
	case "network_calls":
		value, err = e.ops.NetworkCalls(ctx, t.TabID, t.Limit)
	case "parallel_extract":
		value = e.ops.ParallelExtract(ctx, t.URLs, t.Fields, t.MaxConcurrent)
	case "save_session":
		value, err = e.ops.SaveSession(t.Session)
	case "load_session":
		err = e.ops.LoadSession(t.Session)
	case "close_tab":
		err = e.ops.CloseTab(t.TabID)
	case "":
		err = fmt.Errorf("%w: missing action", errBadRequest)
	default:
		err = fmt.Errorf("%w: unknown action %q", errBadRequest, t.Action)
	}

	if err != nil {
		res := Result{Status: "error", Error: classify(err)}
		// Partial field results still matter on a required-field failure.
		if value != nil {
			res.Result = value
		}
		return res
	}
	return Result{Status: "ok", Result: value}
}

var errBadRequest = errors.New("executor: bad request")

// classify maps an error onto the stable kind taxonomy.
func classify(err error) *ErrorInfo {
	var resFail *selector.ResolutionFailure
	var navErr *browser.NavigationError

	kind := "internal"
	switch {
	case errors.As(err, &resFail), errors.Is(err, extractor.ErrRequiredField):
		kind = "resolution"
	case errors.Is(err, pool.ErrPoolExhausted):
		kind = "pool_exhausted"
	case errors.As(err, &navErr):
		kind = "navigation"
	case errors.Is(err, os.ErrNotExist):
		kind = "not_found"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		kind = "timeout"
	case errors.Is(err, errBadRequest):
		kind = "bad_request"
	}
	return &ErrorInfo{Kind: kind, Message: err.Error()}
}

func mustMarshal(r Result) []byte {
	out, err := json.Marshal(r)
	if err != nil {
		// Result only holds marshalable values; this is unreachable in
		// practice but the contract is JSON out, always.
		return []byte(`{"status":"error","error":{"kind":"internal","message":"encode result"}}`)
	}
	return out
}
