package schema

import (
	"encoding/json"
	"fmt"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
)

// DecodeJSON migrates a JSON document through chain and decodes the result
// into target.
func DecodeJSON(chain *Chain, data []byte, target any) (Result, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Result{}, fmt.Errorf("%w: %s: %w", services.ErrCorruptRecord, chain.Kind, err)
	}
	return DecodeDocument(chain, doc, target)
}

// DecodeDocument migrates an already parsed document and decodes it into target.
func DecodeDocument(chain *Chain, doc Document, target any) (Result, error) {
	if doc == nil {
		return Result{}, fmt.Errorf("%w: %s: empty document", services.ErrCorruptRecord, chain.Kind)
	}
	migrated, result, err := chain.Migrate(doc)
	if err != nil {
		return result, err
	}
	encoded, err := json.Marshal(migrated)
	if err != nil {
		return result, fmt.Errorf("%w: %s: %w", services.ErrCorruptRecord, chain.Kind, err)
	}
	if err := json.Unmarshal(encoded, target); err != nil {
		return result, fmt.Errorf("%w: %s: %w", services.ErrCorruptRecord, chain.Kind, err)
	}
	return result, nil
}
