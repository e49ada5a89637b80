package backend

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/config"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/speaker"
)

// EnrollResult is the opaque fingerprint produced by a backend.
type EnrollResult struct {
	Handle       []byte
	ModelVersion string
}

// Candidate is an enrolled embedding offered to Identify.
type Candidate struct {
	SpeakerID    string
	EmbeddingID  string
	Handle       []byte
	ModelVersion string
}

// Match is one candidate's similarity to the probe audio.
type Match struct {
	SpeakerID   string
	EmbeddingID string
	Similarity  float64
}

// Backend computes voice fingerprints and compares them. Implementations own
// the numeric representation; callers treat handles as opaque bytes.
type Backend interface {
	Name() string
	ModelVersion() string
	AudioProfile() AudioProfile
	// Enroll builds a fingerprint from the given spans of audioPath.
	Enroll(ctx context.Context, audioPath string, segments []speaker.Segment) (EnrollResult, error)
	// Identify compares the given spans of audioPath with every candidate and
	// returns matches at or above threshold.
	Identify(ctx context.Context, audioPath string, segments []speaker.Segment, candidates []Candidate, threshold float64) ([]Match, error)
}

// Factory constructs a backend from configuration.
type Factory func(cfg *config.Config, logger *slog.Logger) (Backend, error)

// Registry maps backend names to factories. It is built by the caller and
// passed to whatever needs to open a backend.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register adds a factory under name. Names are case-insensitive.
func (r *Registry) Register(name string, factory Factory) error {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return fmt.Errorf("register backend: name and factory are required")
	}
	if _, exists := r.factories[key]; exists {
		return fmt.Errorf("register backend: %q already registered", key)
	}
	r.factories[key] = factory
	return nil
}

// Names lists the registered backends in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Open constructs the named backend.
func (r *Registry) Open(name string, cfg *config.Config, logger *slog.Logger) (Backend, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	factory, ok := r.factories[key]
	if !ok {
		return nil, services.Wrap(services.ErrConfiguration, "backend", "open",
			fmt.Sprintf("unknown backend %q (available: %s)", name, strings.Join(r.Names(), ", ")), nil)
	}
	return factory(cfg, logger)
}

// IsCompatible reports whether an embedding's model version belongs to the
// named backend.
func IsCompatible(modelVersion, backendName string) bool {
	return strings.HasPrefix(modelVersion, backendName+"-")
}

// CompatibilityWarning returns the re-enrollment advice for an incompatible
// embedding, or an empty string when it is compatible.
func CompatibilityWarning(modelVersion, backendName string) string {
	if IsCompatible(modelVersion, backendName) {
		return ""
	}
	if strings.TrimSpace(modelVersion) == "" {
		modelVersion = "unknown"
	}
	return fmt.Sprintf("Embedding created with %s may not work with backend %s. Consider re-enrolling.", modelVersion, backendName)
}
