// Package pyannote is the local embedding backend. It runs the pyannote
// embedding model through uvx and compares vectors with cosine similarity.
package pyannote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/backend"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/config"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/logging"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/speaker"
)

// Name is the registry name of this backend.
const Name = "pyannote"

// ModelVersion is stored on every embedding this backend produces.
const ModelVersion = "pyannote-embedding-3.1"

// Runner executes an external command and returns its stdout and stderr.
type Runner func(ctx context.Context, binary string, args, env []string) (stdout, stderr []byte, err error)

func execRunner(ctx context.Context, binary string, args, env []string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = append(os.Environ(), env...)
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Backend implements backend.Backend.
type Backend struct {
	uvx     string
	hfToken string
	cuda    bool
	workDir string
	run     Runner
	logger  *slog.Logger
}

// Option configures the backend.
type Option func(*Backend)

// WithRunner overrides command execution.
func WithRunner(r Runner) Option {
	return func(b *Backend) {
		if r != nil {
			b.run = r
		}
	}
}

// New constructs the backend from configuration.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Backend, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "pyannote", "init", "config is required", nil)
	}
	b := &Backend{
		uvx:     cfg.UvxBinary(),
		hfToken: strings.TrimSpace(cfg.Embedding.HFToken),
		cuda:    cfg.Embedding.CUDA,
		workDir: filepath.Join(cfg.Paths.CacheDir, "pyannote"),
		run:     execRunner,
		logger:  logging.NewComponentLogger(logger, "pyannote"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Factory adapts New to backend.Factory.
func Factory(cfg *config.Config, logger *slog.Logger) (backend.Backend, error) {
	return New(cfg, logger)
}

func (b *Backend) Name() string { return Name }

func (b *Backend) ModelVersion() string { return ModelVersion }

func (b *Backend) AudioProfile() backend.AudioProfile { return backend.ProfileFor(Name) }

// Enroll embeds the requested spans and returns the vector as a msgpack
// encoded handle.
func (b *Backend) Enroll(ctx context.Context, audioPath string, segments []speaker.Segment) (backend.EnrollResult, error) {
	vector, err := b.embed(ctx, audioPath, segments)
	if err != nil {
		return backend.EnrollResult{}, err
	}
	handle, err := EncodeVector(vector)
	if err != nil {
		return backend.EnrollResult{}, err
	}
	return backend.EnrollResult{Handle: handle, ModelVersion: ModelVersion}, nil
}

// Identify embeds the probe spans and scores every candidate by cosine
// similarity. Candidates whose handle cannot be decoded are skipped.
func (b *Backend) Identify(ctx context.Context, audioPath string, segments []speaker.Segment, candidates []backend.Candidate, threshold float64) ([]backend.Match, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	probe, err := b.embed(ctx, audioPath, segments)
	if err != nil {
		return nil, err
	}
	matches := make([]backend.Match, 0, len(candidates))
	for _, cand := range candidates {
		vector, err := DecodeVector(cand.Handle)
		if err != nil {
			b.logger.Warn("skipping undecodable embedding",
				logging.String("embedding", cand.EmbeddingID),
				logging.Error(err),
				logging.String(logging.FieldEventType, "embedding_decode_failed"),
			)
			continue
		}
		sim := Cosine(probe, vector)
		if sim < threshold {
			continue
		}
		matches = append(matches, backend.Match{SpeakerID: cand.SpeakerID, EmbeddingID: cand.EmbeddingID, Similarity: sim})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	return matches, nil
}

type scriptResult struct {
	Embedding []float64 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

func (b *Backend) embed(ctx context.Context, audioPath string, segments []speaker.Segment) ([]float64, error) {
	if b.hfToken == "" {
		return nil, services.Wrap(services.ErrConfiguration, "pyannote", "embed",
			"HuggingFace token missing; set embedding.hf_token or HF_TOKEN", nil)
	}
	if err := os.MkdirAll(b.workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	scriptPath := filepath.Join(b.workDir, "embed.py")
	if err := os.WriteFile(scriptPath, []byte(embedScript), 0o644); err != nil {
		return nil, fmt.Errorf("write embed script: %w", err)
	}

	spans := make([][2]float64, 0, len(segments))
	for _, seg := range segments {
		spans = append(spans, [2]float64{seg.Start, seg.End})
	}
	encodedSpans, err := json.Marshal(spans)
	if err != nil {
		return nil, fmt.Errorf("encode segments: %w", err)
	}

	// torchaudio + soundfile are the decoder fallback when torchcodec fails.
	args := []string{
		"--quiet",
		"--with", "pyannote.audio",
		"--with", "numpy",
		"--with", "torchaudio",
		"--with", "soundfile",
		"--with", "omegaconf",
	}
	if b.cuda {
		args = append(args,
			"--index-url", "https://download.pytorch.org/whl/cu128",
			"--extra-index-url", "https://pypi.org/simple",
		)
	}
	args = append(args, "python", scriptPath,
		"--audio", audioPath,
		"--segments", string(encodedSpans),
		"--hf-token", b.hfToken,
	)
	env := []string{"HF_TOKEN=" + b.hfToken}
	if os.Getenv("TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD") == "" {
		env = append(env, "TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD=1")
	}

	stdout, stderr, err := b.run(ctx, b.uvx, args, env)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, services.Wrap(services.ErrTimeout, "pyannote", "embed", "embedding interrupted", ctxErr)
		}
		return nil, services.Wrap(services.ErrExternalTool, "pyannote", "embed", summarizeStderr(stderr), err)
	}
	var result scriptResult
	if err := json.Unmarshal(stdout, &result); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "pyannote", "parse", "unexpected script output", err)
	}
	if result.Error != "" {
		return nil, services.Wrap(services.ErrExternalTool, "pyannote", "embed", result.Error, nil)
	}
	if len(result.Embedding) == 0 {
		return nil, services.Wrap(services.ErrExternalTool, "pyannote", "embed", "empty embedding", nil)
	}
	return result.Embedding, nil
}

func summarizeStderr(stderr []byte) string {
	var result scriptResult
	if json.Unmarshal(stderr, &result) == nil && result.Error != "" {
		return result.Error
	}
	msg := strings.TrimSpace(string(stderr))
	if strings.Contains(msg, "GatedRepoError") || strings.Contains(msg, "401") {
		return "HuggingFace model access denied. Visit https://hf.co/pyannote/embedding to accept the model terms, then retry"
	}
	if idx := strings.LastIndex(msg, "Error:"); idx != -1 {
		return strings.TrimSpace(msg[idx:])
	}
	lines := strings.Split(msg, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return "embedding script failed"
}

// EncodeVector packs a vector as a float32 msgpack array.
func EncodeVector(vector []float64) ([]byte, error) {
	packed := make([]float32, len(vector))
	for i, v := range vector {
		packed[i] = float32(v)
	}
	return msgpack.Marshal(packed)
}

// DecodeVector reverses EncodeVector.
func DecodeVector(handle []byte) ([]float64, error) {
	if len(handle) == 0 {
		return nil, errors.New("empty embedding handle")
	}
	var packed []float32
	if err := msgpack.Unmarshal(handle, &packed); err != nil {
		return nil, fmt.Errorf("decode embedding handle: %w", err)
	}
	out := make([]float64, len(packed))
	for i, v := range packed {
		out[i] = float64(v)
	}
	return out, nil
}

// Cosine returns the cosine similarity of a and b clamped to [0, 1].
// Mismatched lengths or zero vectors score zero.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Max(0, math.Min(1, sim))
}
