package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/itchyny/gojq"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
)

// Query evaluates a jq expression against input, which is first normalized
// through its JSON encoding. Every emitted value is returned.
func Query(ctx context.Context, expr string, input any) ([]any, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "catalog", "query", fmt.Sprintf("invalid jq expression %q", expr), err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "catalog", "query", fmt.Sprintf("compile jq expression %q", expr), err)
	}
	normalized, err := toJQValue(input)
	if err != nil {
		return nil, err
	}
	var out []any
	iter := code.RunWithContext(ctx, normalized)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			var halt *gojq.HaltError
			if errors.As(err, &halt) && halt.Value() == nil {
				break
			}
			return out, services.Wrap(services.ErrValidation, "catalog", "query", "evaluate", err)
		}
		out = append(out, v)
	}
	return out, nil
}

// QueryEntries runs expr over every readable entry as a JSON array.
func (c *Catalog) QueryEntries(ctx context.Context, expr string) ([]any, error) {
	entries, _, err := c.List(Filter{})
	if err != nil {
		return nil, err
	}
	return Query(ctx, expr, entries)
}

func toJQValue(input any) (any, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encode query input: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode query input: %w", err)
	}
	return v, nil
}
