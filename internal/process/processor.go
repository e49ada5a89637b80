package process

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/assign"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/catalog"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/contenthash"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/logging"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/transcript"
)

var audioExtensions = []string{".wav", ".mp3", ".flac", ".m4a", ".ogg", ".opus", ".aac", ".wma"}

// ErrNoTranscript reports a recording with neither a registered nor a
// sidecar transcript.
var ErrNoTranscript = fmt.Errorf("%w: no transcript found", services.ErrValidation)

// IsAudio reports whether path has a known audio extension.
func IsAudio(path string) bool {
	return slices.Contains(audioExtensions, strings.ToLower(filepath.Ext(path)))
}

// Assigner resolves speaker assignments for one recording.
type Assigner interface {
	Resolve(ctx context.Context, req assign.Request) (*assign.Result, error)
}

// Job describes one recording to process.
type Job struct {
	Path    string
	Context string
	// Provider prefers transcripts registered or named for this provider.
	Provider string
	DryRun   bool
}

// Outcome reports what Process did, or would do on a dry run.
type Outcome struct {
	Path       string `json:"path"`
	Digest     string `json:"recording_b3sum,omitempty"`
	Catalogued bool   `json:"catalogued"`
	// ContextSet reports that an existing entry took the job's context.
	ContextSet bool   `json:"context_set"`
	Transcript string `json:"transcript,omitempty"`
	// Registered reports that a sidecar transcript was registered.
	Registered bool `json:"transcript_registered"`
	Labels     int  `json:"labels"`
	Assigned   int  `json:"assigned"`
	Persisted  bool `json:"persisted"`
	DryRun     bool `json:"dry_run"`
}

// Processor runs the catalogue, transcript and assign steps.
type Processor struct {
	catalog  *catalog.Catalog
	assigner Assigner
	hasher   contenthash.Hasher
	logger   *slog.Logger
}

// Option customizes a Processor.
type Option func(*Processor)

// WithHasher overrides the hasher used for queue digests.
func WithHasher(h contenthash.Hasher) Option {
	return func(p *Processor) {
		if h != nil {
			p.hasher = h
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New builds a processor. assigner may be nil when only dry runs are made.
func New(cat *catalog.Catalog, assigner Assigner, opts ...Option) *Processor {
	p := &Processor{
		catalog:  cat,
		assigner: assigner,
		hasher:   contenthash.BLAKE3{},
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.NewComponentLogger(p.logger, "process")
	return p
}

// Process catalogues job.Path when needed, locates its transcript and
// resolves assignments. A dry run reports the plan without writing.
func (p *Processor) Process(ctx context.Context, job Job) (*Outcome, error) {
	if err := checkAudioFile(job.Path); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(job.Path)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "process", "path", job.Path, err)
	}
	out := &Outcome{Path: abs, DryRun: job.DryRun}
	contextName := strings.TrimSpace(job.Context)

	entry, err := p.catalog.Resolve(abs)
	switch {
	case err == nil:
		if contextName != "" && entry.Context.Name != contextName {
			out.ContextSet = true
			if !job.DryRun {
				if entry, err = p.catalog.SetContext(ctx, entry.Digest(), catalog.ContextUpdate{Name: &contextName}); err != nil {
					return nil, err
				}
			}
		}
	case errors.Is(err, catalog.ErrNotInCatalog):
		out.Catalogued = true
		if !job.DryRun {
			if entry, err = p.catalog.Add(ctx, abs, catalog.AddOptions{Context: contextName}); err != nil {
				return nil, err
			}
		}
	default:
		return nil, err
	}

	var transcriptPath string
	if entry != nil {
		out.Digest = entry.Digest()
		if t, ok := entry.Transcript(job.Provider); ok {
			transcriptPath = t.Path
		} else if t, ok := entry.Transcript(""); ok {
			transcriptPath = t.Path
		}
	}
	if transcriptPath == "" {
		sidecar, ok := FindSidecar(abs, job.Provider)
		if !ok {
			return out, fmt.Errorf("%w for %s", ErrNoTranscript, abs)
		}
		transcriptPath = sidecar
		out.Registered = true
		if !job.DryRun {
			if err := p.register(ctx, entry.Digest(), job.Provider, sidecar); err != nil {
				return out, err
			}
		}
	}
	out.Transcript = transcriptPath
	if job.DryRun {
		return out, nil
	}

	if p.assigner == nil {
		return out, services.Wrap(services.ErrConfiguration, "process", "assign", "no assigner configured", nil)
	}
	res, err := p.assigner.Resolve(services.WithRecording(ctx, entry.Digest()), assign.Request{
		RecordingPath:    abs,
		RecordingDigest:  entry.Digest(),
		TranscriptPath:   transcriptPath,
		ExpectedSpeakers: entry.Context.ExpectedSpeakers,
		Context:          entry.Context.Name,
	})
	if err != nil {
		return out, err
	}
	out.Labels = len(res.Assignment.Mappings)
	for _, m := range res.Assignment.Mappings {
		if m.SpeakerID != nil {
			out.Assigned++
		}
	}
	out.Persisted = res.Persisted
	p.logger.Info("recording processed",
		logging.String(logging.FieldRecording, contenthash.Short(out.Digest)),
		logging.String("path", abs),
		logging.Int("labels", out.Labels),
		logging.Int("assigned", out.Assigned),
	)
	return out, nil
}

func (p *Processor) register(ctx context.Context, digest, provider, path string) error {
	name := strings.TrimSpace(provider)
	if name == "" {
		tr, err := transcript.Load(path)
		if err != nil {
			return err
		}
		name = string(tr.Format)
	}
	_, _, err := p.catalog.RegisterTranscript(ctx, digest, name, path)
	return err
}

// Digest hashes the recording at path for queueing.
func (p *Processor) Digest(path string) (string, error) {
	digest, err := p.hasher.SumFile(path)
	if err != nil {
		return "", services.Wrap(services.ErrExternalTool, "process", "hash", path, err)
	}
	return digest, nil
}

// FindSidecar looks for <name>.<provider>.json, then <name>.json, next to
// the audio file.
func FindSidecar(audioPath, provider string) (string, bool) {
	base := strings.TrimSuffix(audioPath, filepath.Ext(audioPath))
	var candidates []string
	if provider = strings.ToLower(strings.TrimSpace(provider)); provider != "" {
		candidates = append(candidates, base+"."+provider+".json")
	}
	candidates = append(candidates, base+".json")
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, true
		}
	}
	return "", false
}

// Discover lists the audio files at root: root itself when it is a file,
// its direct children, or its whole tree when recursive is set.
func Discover(root string, recursive bool) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, "process", "discover", "not found: "+root, nil)
		}
		return nil, services.Wrap(services.ErrValidation, "process", "discover", root, err)
	}
	if !info.IsDir() {
		if !IsAudio(root) {
			return nil, services.Wrap(services.ErrValidation, "process", "discover", "not an audio file: "+root, nil)
		}
		return []string{root}, nil
	}
	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if IsAudio(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "process", "discover", root, err)
	}
	slices.Sort(files)
	return files, nil
}

func checkAudioFile(path string) error {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return services.Wrap(services.ErrNotFound, "process", "audio", "not found: "+path, nil)
	case err != nil:
		return services.Wrap(services.ErrValidation, "process", "audio", path, err)
	case info.IsDir():
		return services.Wrap(services.ErrValidation, "process", "audio", "is a directory: "+path, nil)
	case !IsAudio(path):
		return services.Wrap(services.ErrValidation, "process", "audio", "not an audio file: "+path, nil)
	}
	return nil
}
