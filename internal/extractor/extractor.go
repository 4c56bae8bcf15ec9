// Package extractor pulls typed field values out of a document. It
// composes the field parser and the selector resolver: each field is
// resolved to a verified locator, read from the document, and cast to its
// declared type. Extraction never guesses: a value that cannot be read or
// cast is reported as that field's error, not silently dropped.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"ferret/internal/dom"
	"ferret/internal/nlq"
	"ferret/internal/selector"
)

// FieldResult is one field's extraction outcome, including how the
// locator was obtained so callers can audit self-healing decisions.
type FieldResult struct {
	Value      any     `json:"value"`
	Selector   string  `json:"selector,omitempty"`
	Strategy   string  `json:"strategy,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// ErrRequiredField is wrapped when a field marked required could not be
// extracted. Optional field failures stay inside their FieldResult.
var ErrRequiredField = errors.New("extractor: required field failed")

const maxListItems = 50

// Extractor reads typed fields from documents.
type Extractor struct {
	resolver      *selector.Resolver
	maxTextLength int
	maxTableRows  int
	log           *zap.Logger
}

// New builds an extractor. maxTextLength and maxTableRows bound every
// string and table this extractor emits.
func New(resolver *selector.Resolver, maxTextLength, maxTableRows int, logger *zap.Logger) *Extractor {
	if maxTextLength <= 0 {
		maxTextLength = 12000
	}
	if maxTableRows <= 0 {
		maxTableRows = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		resolver:      resolver,
		maxTextLength: maxTextLength,
		maxTableRows:  maxTableRows,
		log:           logger.With(zap.String("component", "extractor")),
	}
}

// Fields extracts every parsed field from the document. The result map
// always holds one entry per field. The error is non-nil only when a
// required field failed; optional failures are reported per-field.
func (x *Extractor) Fields(ctx context.Context, d dom.DOM, fields []nlq.Field) (map[string]FieldResult, error) {
	results := make(map[string]FieldResult, len(fields))
	var requiredErr error

	for _, f := range fields {
		res := x.extractOne(ctx, d, f)
		results[f.Name] = res
		if res.Error != "" && f.Required && requiredErr == nil {
			requiredErr = fmt.Errorf("%w: %s: %s", ErrRequiredField, f.Name, res.Error)
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}
	}
	return results, requiredErr
}

func (x *Extractor) extractOne(ctx context.Context, d dom.DOM, f nlq.Field) FieldResult {
	cand, err := x.resolver.Resolve(ctx, d, f.Target)
	if err != nil {
		x.log.Debug("field resolution failed", zap.String("field", f.Name), zap.Error(err))
		return FieldResult{Error: err.Error()}
	}

	res := FieldResult{
		Selector:   cand.Selector,
		Strategy:   cand.Strategy,
		Confidence: cand.Confidence,
	}

	value, err := x.readValue(ctx, d, f, cand.Selector)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Value = value
	return res
}

// readValue reads and casts one field according to its type.
func (x *Extractor) readValue(ctx context.Context, d dom.DOM, f nlq.Field, sel string) (any, error) {
	switch f.Type {
	case "number":
		raw, err := d.Text(ctx, sel)
		if err != nil {
			return nil, err
		}
		n, ok := CastNumber(raw)
		if !ok {
			return nil, fmt.Errorf("extractor: %q is not numeric", clip(raw, 80))
		}
		return n, nil

	case "boolean":
		raw, err := d.Text(ctx, sel)
		if err != nil {
			return nil, err
		}
		return CastBool(raw), nil

	case "link", "image":
		attr := f.Attribute
		if attr == "" {
			attr = "href"
		}
		val, err := d.Attr(ctx, sel, attr)
		if err != nil {
			return nil, err
		}
		if val == "" {
			return nil, fmt.Errorf("extractor: attribute %q empty", attr)
		}
		return val, nil

	case "list":
		items, err := d.Texts(ctx, sel, maxListItems)
		if err != nil {
			return nil, err
		}
		for i, item := range items {
			items[i] = clip(item, x.maxTextLength)
		}
		return items, nil

	case "table":
		fragments, err := d.HTML(ctx, sel)
		if err != nil {
			return nil, err
		}
		tables, err := ParseTables(fragments, x.maxTableRows)
		if err != nil {
			return nil, err
		}
		if len(tables) == 0 {
			return nil, errors.New("extractor: no table rows found")
		}
		return tables, nil

	default: // text, button, and anything unrecognized read as text
		if f.Attribute != "" {
			return d.Attr(ctx, sel, f.Attribute)
		}
		raw, err := d.Text(ctx, sel)
		if err != nil {
			return nil, err
		}
		return clip(raw, x.maxTextLength), nil
	}
}

func clip(s string, max int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= max {
		return string(r)
	}
	return string(r[:max])
}
