package catalog

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
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/contenthash"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/fileutil"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/logging"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/transcript"
)

// MinPrefixLength is the shortest digest prefix accepted by Resolve.
const MinPrefixLength = 4

const lockRetry = 25 * time.Millisecond

var (
	// ErrNotInCatalog reports a reference that matches no entry.
	ErrNotInCatalog = fmt.Errorf("%w: not in catalog", services.ErrNotFound)
	// ErrAlreadyCatalogued reports an add of a known recording without force.
	ErrAlreadyCatalogued = fmt.Errorf("%w: already in catalog", services.ErrValidation)
	// ErrAmbiguousPrefix reports a digest prefix shared by several entries.
	ErrAmbiguousPrefix = fmt.Errorf("%w: ambiguous digest prefix", services.ErrValidation)
)

// Catalog manages entries under a directory.
type Catalog struct {
	dir    string
	hasher contenthash.Hasher
	logger *slog.Logger
	now    func() time.Time
}

// Option customizes a Catalog.
type Option func(*Catalog)

// WithHasher overrides the content hasher.
func WithHasher(h contenthash.Hasher) Option {
	return func(c *Catalog) {
		if h != nil {
			c.hasher = h
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Catalog) {
		if now != nil {
			c.now = now
		}
	}
}

// New returns a catalog rooted at dir.
func New(dir string, logger *slog.Logger, opts ...Option) *Catalog {
	c := &Catalog{
		dir:    dir,
		hasher: contenthash.BLAKE3{},
		logger: logging.NewComponentLogger(logger, "catalog"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dir returns the catalog directory.
func (c *Catalog) Dir() string { return c.dir }

func (c *Catalog) path(digest string) string {
	return filepath.Join(c.dir, digest+".yaml")
}

// AddOptions describes a new recording.
type AddOptions struct {
	Context          string
	Tags             []string
	ExpectedSpeakers []string
	DurationSec      float64
	Force            bool
}

// Add catalogues the recording at path. Re-adding a known recording fails
// with ErrAlreadyCatalogued unless opts.Force is set, in which case the entry
// is rebuilt and registered transcripts are kept.
func (c *Catalog) Add(ctx context.Context, path string, opts AddOptions) (*Entry, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "catalog", "add", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, services.Wrap(services.ErrNotFound, "catalog", "add", "recording not found: "+path, err)
	}
	if info.IsDir() {
		return nil, services.Wrap(services.ErrValidation, "catalog", "add", "recording is a directory: "+path, nil)
	}
	digest, err := c.hasher.SumFile(abs)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "catalog", "hash", abs, err)
	}

	var entry *Entry
	err = c.withLock(ctx, digest, func() error {
		existing, err := c.read(digest)
		switch {
		case err == nil && !opts.Force:
			return fmt.Errorf("%w: %s", ErrAlreadyCatalogued, contenthash.Short(digest))
		case err != nil && !errors.Is(err, ErrNotInCatalog):
			return err
		}
		now := c.now().UTC()
		entry = &Entry{
			SchemaVersion: EntryVersion,
			Recording: Recording{
				Path:        abs,
				Digest:      digest,
				SizeBytes:   info.Size(),
				DurationSec: opts.DurationSec,
				AddedAt:     now,
			},
			Context: Context{
				Name:             strings.TrimSpace(opts.Context),
				Tags:             normalizeList(opts.Tags),
				ExpectedSpeakers: normalizeList(opts.ExpectedSpeakers),
			},
			Transcriptions: []Transcription{},
			UpdatedAt:      now,
		}
		if existing != nil {
			entry.Recording.AddedAt = existing.Recording.AddedAt
			entry.Transcriptions = existing.Transcriptions
		}
		return c.write(entry)
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("recording catalogued",
		logging.String(logging.FieldRecording, contenthash.Short(digest)),
		logging.String("path", abs),
		logging.String("context", entry.Context.Name),
	)
	return entry, nil
}

// Get loads the entry for a full digest.
func (c *Catalog) Get(digest string) (*Entry, error) {
	return c.read(digest)
}

// Resolve finds the entry for a file path, full digest, or digest prefix.
func (c *Catalog) Resolve(ref string) (*Entry, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, services.Wrap(services.ErrValidation, "catalog", "resolve", "empty reference", nil)
	}
	if info, err := os.Stat(ref); err == nil && !info.IsDir() {
		digest, err := c.hasher.SumFile(ref)
		if err != nil {
			return nil, services.Wrap(services.ErrExternalTool, "catalog", "hash", ref, err)
		}
		entry, err := c.read(digest)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ref, err)
		}
		return entry, nil
	}
	if contenthash.Valid(ref) {
		return c.read(ref)
	}
	if isHex(ref) && len(ref) >= MinPrefixLength {
		return c.resolvePrefix(strings.ToLower(ref))
	}
	// A path whose file has moved still resolves through the stored path.
	if abs, err := filepath.Abs(ref); err == nil {
		entries, _, err := c.List(Filter{})
		if err != nil {
			return nil, err
		}
		for i := range entries {
			if entries[i].Recording.Path == abs {
				return &entries[i], nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotInCatalog, ref)
}

func (c *Catalog) resolvePrefix(prefix string) (*Entry, error) {
	digests, err := c.digests()
	if err != nil {
		return nil, err
	}
	var matches []string
	for _, d := range digests {
		if strings.HasPrefix(d, prefix) {
			matches = append(matches, d)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNotInCatalog, prefix)
	case 1:
		return c.read(matches[0])
	default:
		return nil, fmt.Errorf("%w: %s matches %d recordings", ErrAmbiguousPrefix, prefix, len(matches))
	}
}

// Filter selects entries in List.
type Filter struct {
	Context string
	Tag     string
}

func (f Filter) match(e Entry) bool {
	if f.Context != "" && e.Context.Name != f.Context {
		return false
	}
	if f.Tag != "" && !e.HasTag(f.Tag) {
		return false
	}
	return true
}

// List returns matching entries ordered by add time, then digest. Unreadable
// files are reported separately and skipped.
func (c *Catalog) List(filter Filter) ([]Entry, []string, error) {
	digests, err := c.digests()
	if err != nil {
		return nil, nil, err
	}
	entries := make([]Entry, 0, len(digests))
	var broken []string
	for _, d := range digests {
		entry, err := c.read(d)
		if err != nil {
			logging.WarnWithContext(c.logger, "catalog entry unreadable", "catalog_entry_corrupt",
				logging.String(logging.FieldRecording, d),
				logging.Error(err),
				logging.String(logging.FieldImpact, "recording skipped in listings"),
				logging.String(logging.FieldErrorHint, "inspect or re-add the recording"),
			)
			broken = append(broken, d)
			continue
		}
		if filter.match(*entry) {
			entries = append(entries, *entry)
		}
	}
	slices.SortFunc(entries, func(a, b Entry) int {
		if cmp := a.Recording.AddedAt.Compare(b.Recording.AddedAt); cmp != 0 {
			return cmp
		}
		return strings.Compare(a.Digest(), b.Digest())
	})
	return entries, broken, nil
}

// SetContext applies update to the entry for digest.
func (c *Catalog) SetContext(ctx context.Context, digest string, update ContextUpdate) (*Entry, error) {
	return c.modify(ctx, digest, func(e *Entry) error {
		update.apply(&e.Context)
		return nil
	})
}

// RegisterTranscript records a transcript for the recording, replacing any
// earlier registration for the same backend.
func (c *Catalog) RegisterTranscript(ctx context.Context, digest, backend, path string) (*Entry, *Transcription, error) {
	backend = strings.ToLower(strings.TrimSpace(backend))
	if backend == "" {
		return nil, nil, services.Wrap(services.ErrValidation, "catalog", "register transcript", "backend is required", nil)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, nil, services.Wrap(services.ErrValidation, "catalog", "register transcript", path, err)
	}
	tr, err := transcript.Load(abs)
	if err != nil {
		return nil, nil, err
	}
	digestOfTranscript, err := c.hasher.SumFile(abs)
	if err != nil {
		return nil, nil, services.Wrap(services.ErrExternalTool, "catalog", "hash", abs, err)
	}
	reg := Transcription{
		Backend:      backend,
		Path:         abs,
		Digest:       digestOfTranscript,
		Format:       string(tr.Format),
		Speakers:     len(tr.Speakers()),
		RegisteredAt: c.now().UTC(),
	}
	entry, err := c.modify(ctx, digest, func(e *Entry) error {
		e.Transcriptions = slices.DeleteFunc(e.Transcriptions, func(t Transcription) bool {
			return t.Backend == backend
		})
		e.Transcriptions = append(e.Transcriptions, reg)
		slices.SortFunc(e.Transcriptions, func(a, b Transcription) int { return strings.Compare(a.Backend, b.Backend) })
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return entry, &reg, nil
}

// Remove deletes the entry for digest. It reports whether an entry existed.
func (c *Catalog) Remove(ctx context.Context, digest string) (bool, error) {
	removed := false
	err := c.withLock(ctx, digest, func() error {
		err := os.Remove(c.path(digest))
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("remove catalog entry: %w", err)
		}
		removed = true
		return nil
	})
	if err == nil && removed {
		_ = os.Remove(c.path(digest) + ".lock")
	}
	return removed, err
}

func (c *Catalog) modify(ctx context.Context, digest string, fn func(*Entry) error) (*Entry, error) {
	var entry *Entry
	err := c.withLock(ctx, digest, func() error {
		var err error
		entry, err = c.read(digest)
		if err != nil {
			return err
		}
		if err := fn(entry); err != nil {
			return err
		}
		entry.UpdatedAt = c.now().UTC()
		return c.write(entry)
	})
	return entry, err
}

func (c *Catalog) withLock(ctx context.Context, digest string, fn func() error) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "catalog", "mkdir", c.dir, err)
	}
	lock := flock.New(c.path(digest) + ".lock")
	locked, err := lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("lock catalog entry %s: %w", contenthash.Short(digest), err)
	}
	if !locked {
		return fmt.Errorf("lock catalog entry %s: not acquired", contenthash.Short(digest))
	}
	defer func() { _ = lock.Unlock() }()
	return fn()
}

func (c *Catalog) read(digest string) (*Entry, error) {
	data, err := os.ReadFile(c.path(digest))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotInCatalog, contenthash.Short(digest))
	}
	if err != nil {
		return nil, fmt.Errorf("read catalog entry: %w", err)
	}
	var entry Entry
	if err := yaml.Unmarshal(data, &entry); err != nil {
		return nil, services.Wrap(services.ErrCorruptRecord, "catalog", "decode", digest, err)
	}
	if entry.SchemaVersion != EntryVersion {
		return nil, services.Wrap(services.ErrCorruptRecord, "catalog", "decode",
			fmt.Sprintf("%s: unsupported schema_version %d", digest, entry.SchemaVersion), nil)
	}
	if entry.Context.Tags == nil {
		entry.Context.Tags = []string{}
	}
	if entry.Context.ExpectedSpeakers == nil {
		entry.Context.ExpectedSpeakers = []string{}
	}
	if entry.Transcriptions == nil {
		entry.Transcriptions = []Transcription{}
	}
	return &entry, nil
}

func (c *Catalog) write(entry *Entry) error {
	data, err := yaml.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode catalog entry: %w", err)
	}
	if err := fileutil.WriteAtomic(c.path(entry.Digest()), data, 0o644); err != nil {
		return fmt.Errorf("write catalog entry: %w", err)
	}
	return nil
}

func (c *Catalog) digests() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(c.dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("scan catalog: %w", err)
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimSuffix(filepath.Base(m), ".yaml"))
	}
	slices.Sort(out)
	return out, nil
}

func isHex(s string) bool {
	for _, r := range strings.ToLower(s) {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return s != ""
}
