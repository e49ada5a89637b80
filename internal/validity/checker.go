package validity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/logging"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/speaker"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/store"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/trust"
)

// Status is the outcome of checking one embedding record.
type Status string

const (
	StatusOK          Status = "OK"
	StatusChanged     Status = "CHANGED"
	StatusInvalidated Status = "INVALIDATED"
)

// Outcome describes one checked embedding.
type Outcome struct {
	EmbeddingID string      `json:"embedding_id"`
	SpeakerID   string      `json:"speaker_id"`
	Backend     string      `json:"backend"`
	Status      Status      `json:"status"`
	Old         trust.Level `json:"old"`
	New         trust.Level `json:"new"`
	Moved       int         `json:"moved"`
	Missing     []string    `json:"missing,omitempty"`
}

// Line renders the outcome the way the check-validity command prints it.
func (o Outcome) Line() string {
	subject := fmt.Sprintf("%s/%s %s", o.SpeakerID, o.Backend, o.EmbeddingID)
	switch o.Status {
	case StatusChanged:
		return fmt.Sprintf("CHANGED %s: %s -> %s", subject, o.Old, o.New)
	case StatusInvalidated:
		return fmt.Sprintf("INVALIDATED %s: %s -> %s", subject, o.Old, o.New)
	default:
		return fmt.Sprintf("OK %s: %s", subject, o.New)
	}
}

// Summary aggregates a validity sweep.
type Summary struct {
	Checked     int `json:"checked"`
	Changed     int `json:"changed"`
	Invalidated int `json:"invalidated"`
	// CurrentlyInvalidated counts embeddings whose trust is invalidated after
	// the sweep, including ones that were already invalidated before it.
	CurrentlyInvalidated int                   `json:"currently_invalidated"`
	Outcomes             []Outcome             `json:"outcomes"`
	Corrupt              []store.CorruptRecord `json:"-"`
}

// Healthy reports whether no embedding is currently invalidated.
func (s Summary) Healthy() bool {
	return s.CurrentlyInvalidated == 0
}

// CorruptKeys lists the keys of records that failed to decode.
func (s Summary) CorruptKeys() []string {
	out := make([]string, 0, len(s.Corrupt))
	for _, rec := range s.Corrupt {
		out = append(out, rec.Kind+" "+rec.Key)
	}
	return out
}

// Checker runs validity sweeps.
type Checker struct {
	store   *store.Store
	workers int
	logger  *slog.Logger
}

// New constructs a checker. workers bounds concurrent record processing.
func New(st *store.Store, workers int, logger *slog.Logger) *Checker {
	if workers <= 0 {
		workers = 1
	}
	return &Checker{store: st, workers: workers, logger: logging.NewComponentLogger(logger, "validity")}
}

// Check processes every embedding record. Cancellation is honored between
// records; records already processed stay persisted and are included in the
// returned summary alongside the context error.
func (c *Checker) Check(ctx context.Context) (Summary, error) {
	records, corrupt, err := c.store.ListEmbeddings(ctx, store.EmbeddingFilter{})
	if err != nil {
		return Summary{}, err
	}
	statuses, sampleCorrupt, err := c.loadStatuses(ctx)
	if err != nil {
		return Summary{}, err
	}
	corrupt = append(corrupt, sampleCorrupt...)
	for _, rec := range corrupt {
		logging.WarnWithContext(c.logger, "skipping corrupt record", "corrupt_record",
			logging.String("kind", rec.Kind),
			logging.String("key", rec.Key),
			logging.Error(rec.Err),
			logging.String(logging.FieldImpact, "record excluded from validity check"),
			logging.String(logging.FieldErrorHint, "re-enroll or re-import the affected speaker"),
		)
	}

	var (
		mu       sync.Mutex
		outcomes = make([]Outcome, 0, len(records))
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(c.workers)
	for i := range records {
		record := records[i]
		if groupCtx.Err() != nil {
			break
		}
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			outcome, err := c.checkRecord(groupCtx, &record, statuses[record.SpeakerID])
			if err != nil {
				return fmt.Errorf("check embedding %s: %w", record.ID, err)
			}
			mu.Lock()
			outcomes = append(outcomes, outcome)
			mu.Unlock()
			return nil
		})
	}
	waitErr := group.Wait()
	if waitErr == nil {
		waitErr = ctx.Err()
	}

	summary := summarize(outcomes)
	summary.Corrupt = corrupt
	if waitErr != nil {
		return summary, waitErr
	}
	c.logger.Info("validity check complete",
		logging.Int("checked", summary.Checked),
		logging.Int("changed", summary.Changed),
		logging.Int("invalidated", summary.Invalidated),
		logging.Int("corrupt", len(corrupt)),
	)
	return summary, nil
}

func summarize(outcomes []Outcome) Summary {
	slices.SortFunc(outcomes, func(a, b Outcome) int {
		if c := strings.Compare(a.SpeakerID, b.SpeakerID); c != 0 {
			return c
		}
		if c := strings.Compare(a.Backend, b.Backend); c != 0 {
			return c
		}
		return strings.Compare(a.EmbeddingID, b.EmbeddingID)
	})
	summary := Summary{Checked: len(outcomes), Outcomes: outcomes}
	for _, o := range outcomes {
		switch o.Status {
		case StatusChanged:
			summary.Changed++
		case StatusInvalidated:
			summary.Invalidated++
		}
		if o.New == trust.Invalidated {
			summary.CurrentlyInvalidated++
		}
	}
	return summary
}

func (c *Checker) loadStatuses(ctx context.Context) (map[string]map[string]speaker.ReviewStatus, []store.CorruptRecord, error) {
	samples, corrupt, err := c.store.ListSamples(ctx, store.SampleFilter{})
	if err != nil {
		return nil, nil, err
	}
	out := map[string]map[string]speaker.ReviewStatus{}
	for _, s := range samples {
		bySpeaker, ok := out[s.SpeakerID]
		if !ok {
			bySpeaker = map[string]speaker.ReviewStatus{}
			out[s.SpeakerID] = bySpeaker
		}
		bySpeaker[s.Digest] = s.Review.Status
	}
	return out, corrupt, nil
}

// Rebucket places every digest of p in the bucket matching its current
// review status. Digests unknown to the ledger keep their bucket and are
// returned as missing.
func Rebucket(p speaker.Partition, statuses map[string]speaker.ReviewStatus) (speaker.Partition, int, []string) {
	next := p.Clone()
	moved := 0
	var missing []string
	for _, digest := range p.All() {
		status, ok := statuses[digest]
		if !ok {
			missing = append(missing, digest)
			continue
		}
		bucket := speaker.BucketFor(status)
		if next[digest] != bucket {
			next.Set(digest, bucket)
			moved++
		}
	}
	return next, moved, missing
}

func (c *Checker) checkRecord(ctx context.Context, record *speaker.EmbeddingRecord, statuses map[string]speaker.ReviewStatus) (Outcome, error) {
	next, moved, missing := Rebucket(record.Samples, statuses)
	level := next.Trust()
	outcome := Outcome{
		EmbeddingID: record.ID,
		SpeakerID:   record.SpeakerID,
		Backend:     record.Backend,
		Old:         record.TrustLevel,
		New:         level,
		Moved:       moved,
		Missing:     missing,
		Status:      StatusOK,
	}
	switch {
	case level == record.TrustLevel:
	case level == trust.Invalidated:
		outcome.Status = StatusInvalidated
	default:
		outcome.Status = StatusChanged
	}
	if len(missing) > 0 {
		logging.WarnWithContext(c.logger, "embedding references unknown samples", "sample_missing",
			logging.String("embedding", record.ID),
			logging.Int("missing", len(missing)),
			logging.String(logging.FieldImpact, "missing samples keep their previous bucket"),
		)
	}
	if moved == 0 && level == record.TrustLevel {
		return outcome, nil
	}

	record.Samples = next
	record.TrustLevel = level
	if err := c.store.UpdateEmbedding(ctx, record); err != nil {
		if !errors.Is(err, store.ErrConflict) {
			return outcome, err
		}
		// The record changed underneath us; recheck against the fresh copy.
		fresh, getErr := c.store.GetEmbedding(ctx, record.ID)
		if getErr != nil {
			if errors.Is(getErr, services.ErrNotFound) {
				return outcome, nil
			}
			return outcome, getErr
		}
		return c.checkRecord(ctx, fresh, statuses)
	}
	if outcome.Status == StatusInvalidated {
		logging.WarnWithContext(c.logger, "embedding invalidated", "embedding_invalidated",
			logging.String("embedding", record.ID),
			logging.String("speaker", record.SpeakerID),
			logging.Alert("trust_invalidated"),
			logging.String(logging.FieldErrorHint, "re-enroll the speaker from reviewed samples"),
			logging.String(logging.FieldImpact, "embedding no longer votes in assignments"),
		)
	} else if outcome.Status != StatusOK {
		c.logger.Info("embedding trust updated",
			logging.String("embedding", record.ID),
			logging.String("speaker", record.SpeakerID),
			logging.String("old", string(outcome.Old)),
			logging.String("new", string(outcome.New)),
		)
	}
	return outcome, nil
}
