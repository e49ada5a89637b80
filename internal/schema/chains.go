package schema

import (
	"github.com/CLIAI/speaker-diarization-toolkit/internal/speaker"
)

// Legacy profile and sample metadata documents use "version"; documents
// written by the store use "schema_version".
const (
	legacyVersionKey = "version"
	storeVersionKey  = "schema_version"
)

// LegacyProfile upgrades db/*.json speaker profiles.
var LegacyProfile = MustChain("profile", legacyVersionKey, 1,
	Step{From: 0, Describe: "add version and default collections", Apply: profileV0ToV1},
)

// LegacySampleMetadata upgrades samples/<speaker>/*.meta.yaml files.
var LegacySampleMetadata = MustChain("sample metadata", legacyVersionKey, 2,
	Step{From: 0, Describe: "add version and basic structure", Apply: sampleMetaV0ToV1},
	Step{From: 1, Describe: "add review section and b3sum fields", Apply: sampleMetaV1ToV2},
)

// Store document chains.
var (
	Identity   = MustChain("identity", storeVersionKey, speaker.IdentityVersion)
	Sample     = MustChain("sample", storeVersionKey, speaker.SampleVersion)
	Embedding  = MustChain("embedding", storeVersionKey, speaker.EmbeddingVersion)
	Assignment = MustChain("assignment", storeVersionKey, speaker.AssignmentVersion)
)

func setDefault(doc Document, key string, value any) {
	if _, ok := doc[key]; !ok {
		doc[key] = value
	}
}

func profileV0ToV1(doc Document) Document {
	setDefault(doc, "tags", []any{})
	setDefault(doc, "embeddings", map[string]any{})
	setDefault(doc, "metadata", map[string]any{})
	setDefault(doc, "name_contexts", map[string]any{})
	return doc
}

func sampleMetaV0ToV1(doc Document) Document {
	setDefault(doc, "sample_id", "unknown")
	setDefault(doc, "source", map[string]any{})
	setDefault(doc, "segment", map[string]any{})
	setDefault(doc, "extraction", map[string]any{})
	return doc
}

func sampleMetaV1ToV2(doc Document) Document {
	setDefault(doc, "review", map[string]any{
		"status":      "pending",
		"reviewed_at": nil,
		"notes":       nil,
	})
	setDefault(doc, "b3sum", nil)
	if source, ok := doc["source"].(map[string]any); ok {
		setDefault(source, "audio_b3sum", nil)
	}
	return doc
}
