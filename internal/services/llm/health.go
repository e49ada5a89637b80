package llm

import (
	"context"
	"errors"
	"fmt"
)

// HealthCheck issues a fast ping to verify the API key and model are usable.
func HealthCheck(ctx context.Context, c Completer) error {
	if c == nil {
		return errors.New("llm health: no client")
	}
	content, err := c.CompleteJSON(ctx, "You must respond with JSON only.", `Respond with {"ok":true}`)
	if err != nil {
		return err
	}
	var parsed struct {
		OK bool `json:"ok"`
	}
	if err := DecodeLLMJSON(content, &parsed); err != nil {
		return fmt.Errorf("llm health: parse payload: %w", err)
	}
	if !parsed.OK {
		return errors.New("llm health: unexpected response")
	}
	return nil
}
