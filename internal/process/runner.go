package process

import (
	"context"
	"errors"
	"strings"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/logging"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/queue"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
)

// RunOptions bounds a queue run.
type RunOptions struct {
	// Limit caps the items processed; zero means no cap.
	Limit  int
	DryRun bool
}

// ItemResult is the outcome for one queue item.
type ItemResult struct {
	Item    queue.Item `json:"item"`
	Outcome *Outcome   `json:"outcome,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// RunSummary reports a queue run.
type RunSummary struct {
	Completed int          `json:"completed"`
	Failed    int          `json:"failed"`
	Items     []ItemResult `json:"items"`
	DryRun    bool         `json:"dry_run"`
}

// Enqueue queues every path under context and provider, reporting how many
// rows were new.
func (p *Processor) Enqueue(ctx context.Context, q *queue.Store, paths []string, contextName, provider string) ([]*queue.Item, int, error) {
	items := make([]*queue.Item, 0, len(paths))
	added := 0
	for _, path := range paths {
		digest, err := p.Digest(path)
		if err != nil {
			return items, added, err
		}
		item, created, err := q.Enqueue(ctx, queue.EnqueueRequest{
			SourcePath:      path,
			RecordingDigest: digest,
			Context:         strings.TrimSpace(contextName),
			Backend:         strings.TrimSpace(provider),
		})
		if err != nil {
			return items, added, err
		}
		if created {
			added++
		}
		items = append(items, item)
	}
	return items, added, nil
}

// Run works pending queue items oldest first. Item failures are recorded on
// the item and the run continues; only store errors and cancellation stop
// it. Items left processing by an interrupted run are picked up again.
func (p *Processor) Run(ctx context.Context, q *queue.Store, opts RunOptions, progress func(ItemResult)) (RunSummary, error) {
	summary := RunSummary{DryRun: opts.DryRun, Items: []ItemResult{}}
	if opts.DryRun {
		pending, err := q.List(ctx, queue.StatusPending, queue.StatusProcessing)
		if err != nil {
			return summary, err
		}
		for _, item := range pending {
			if opts.Limit > 0 && len(summary.Items) >= opts.Limit {
				break
			}
			summary.Items = append(summary.Items, p.runItem(ctx, *item, true))
		}
		return summary, nil
	}

	reset, err := q.ResetProcessing(ctx)
	if err != nil {
		return summary, err
	}
	if reset > 0 {
		logging.WarnWithContext(p.logger, "requeued interrupted items", "queue_items_requeued",
			logging.Int("count", int(reset)),
			logging.String(logging.FieldImpact, "items are processed again from the start"),
			logging.String(logging.FieldErrorHint, "avoid running several batch runs at once"),
		)
	}

	for opts.Limit == 0 || len(summary.Items) < opts.Limit {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		item, err := q.Claim(ctx)
		if err != nil {
			return summary, err
		}
		if item == nil {
			break
		}
		result := p.runItem(ctx, *item, false)
		if errors.Is(ctx.Err(), context.Canceled) {
			item.Status = queue.StatusPending
			_ = q.Update(context.WithoutCancel(ctx), item)
			return summary, ctx.Err()
		}
		if result.Error != "" {
			item.SetFailed(result.Error)
			summary.Failed++
		} else {
			item.SetCompleted()
			summary.Completed++
		}
		if err := q.Update(ctx, item); err != nil {
			return summary, err
		}
		result.Item = *item
		summary.Items = append(summary.Items, result)
		if progress != nil {
			progress(result)
		}
	}
	return summary, nil
}

func (p *Processor) runItem(ctx context.Context, item queue.Item, dryRun bool) ItemResult {
	result := ItemResult{Item: item}
	out, err := p.Process(ctx, Job{
		Path:     item.SourcePath,
		Context:  item.Context,
		Provider: item.Backend,
		DryRun:   dryRun,
	})
	result.Outcome = out
	if err != nil {
		result.Error = err.Error()
		if !dryRun {
			logging.ErrorWithContext(p.logger, "queue item failed", "queue_item_failed",
				logging.String("path", item.SourcePath),
				logging.Int("attempt", item.Attempts),
				logging.Alert("queue_item_failure"),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, failureHint(err)),
			)
		}
	}
	return result
}

func failureHint(err error) string {
	switch {
	case errors.Is(err, ErrNoTranscript):
		return "place a transcript next to the audio or register one with catalog register-transcript"
	case errors.Is(err, services.ErrNotFound):
		return "the file moved or was deleted; re-queue it from its new location"
	case services.IsSetupError(err):
		return "fix the input or configuration, then re-queue the item"
	default:
		return "check logs for details"
	}
}
