package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/contenthash"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/process"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/queue"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
)

type batchFlags struct {
	recursive bool
	context   string
	provider  string
}

func (f *batchFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&f.recursive, "recursive", "r", false, "Descend into subdirectories")
	cmd.Flags().StringVar(&f.context, "context", "", "Context recorded for each recording")
	cmd.Flags().StringVar(&f.provider, "provider", "", "Preferred transcript provider (e.g. assemblyai)")
}

func newQueueCommand(ctx *commandContext) *cobra.Command {
	var flags batchFlags
	cmd := &cobra.Command{
		Use:   "queue <path>",
		Short: "Queue audio files for batch processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := process.Discover(args[0], flags.recursive)
			if err != nil {
				return err
			}
			q, err := ctx.openQueue()
			if err != nil {
				return err
			}
			p, err := ctx.openProcessor(true)
			if err != nil {
				return err
			}
			items, added, err := p.Enqueue(cmd.Context(), q, paths, flags.context, flags.provider)
			if err != nil {
				return err
			}
			if ok, err := writeStructured(cmd, ctx, map[string]any{"added": added, "items": items}); ok || err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, item := range items {
				fmt.Fprintf(out, "Queued: %s\n", item.SourcePath)
			}
			fmt.Fprintf(out, "Added %d item(s)\n", added)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

type queueStatus struct {
	Stats queue.Summary `json:"stats"`
	Items []*queue.Item `json:"items"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show batch queue counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := ctx.openQueue()
			if err != nil {
				return err
			}
			summary, err := q.Summary(cmd.Context())
			if err != nil {
				return err
			}
			items, err := q.List(cmd.Context())
			if err != nil {
				return err
			}
			if ok, err := writeStructured(cmd, ctx, queueStatus{Stats: summary, Items: items}); ok || err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Total items: %d\n", summary.Total)
			fmt.Fprintf(out, "Pending:     %d\n", summary.Pending)
			fmt.Fprintf(out, "Processing:  %d\n", summary.Processing)
			fmt.Fprintf(out, "Completed:   %d\n", summary.Completed)
			fmt.Fprintf(out, "Failed:      %d\n", summary.Failed)
			if !ctx.isVerbose() || len(items) == 0 {
				return nil
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Queue Items:")
			rows := make([][]string, 0, len(items))
			for _, item := range items {
				rows = append(rows, []string{
					strconv.FormatInt(item.ID, 10),
					colorize(out, queueStatusColor(item.Status), string(item.Status)),
					contenthash.Short(item.RecordingDigest),
					item.SourcePath,
					item.ErrorMessage,
				})
			}
			printTable(out, []string{"ID", "Status", "Recording", "Path", "Error"}, rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft})
			return nil
		},
	}
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process pending queue items",
		Long: `Work the queue oldest first. A failed item is marked failed with its error
and the run moves on. Items left processing by an interrupted run are picked
up again. The command exits 1 when any item failed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return fmt.Errorf("%w: --limit must not be negative", services.ErrValidation)
			}
			q, err := ctx.openQueue()
			if err != nil {
				return err
			}
			p, err := ctx.openProcessor(dryRun)
			if err != nil {
				return err
			}
			structured := ctx.format() != formatText
			out := cmd.OutOrStdout()
			var progress func(process.ItemResult)
			if !structured {
				progress = func(r process.ItemResult) { printItemResult(out, r) }
			}
			summary, err := p.Run(cmd.Context(), q, process.RunOptions{Limit: limit, DryRun: dryRun}, progress)
			if err != nil {
				return err
			}
			if ok, err := writeStructured(cmd, ctx, summary); ok || err != nil {
				if err == nil && summary.Failed > 0 {
					return errSilentFailure
				}
				return err
			}
			if len(summary.Items) == 0 {
				fmt.Fprintln(out, "No pending items")
				return nil
			}
			if summary.DryRun {
				fmt.Fprintln(out, "DRY RUN: nothing is written")
				for _, r := range summary.Items {
					printItemResult(out, r)
				}
				return nil
			}
			fmt.Fprintf(out, "Processing %d queued item(s): %d completed, %d failed\n",
				len(summary.Items), summary.Completed, summary.Failed)
			if summary.Failed > 0 {
				return errSilentFailure
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Process at most this many items (0 for all)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be processed without writing")
	return cmd
}

func newProcessCommand(ctx *commandContext) *cobra.Command {
	var flags batchFlags
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "process <path>",
		Short: "Catalogue and assign audio files directly, without the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := process.Discover(args[0], flags.recursive)
			if err != nil {
				return err
			}
			p, err := ctx.openProcessor(dryRun)
			if err != nil {
				return err
			}
			structured := ctx.format() != formatText
			out := cmd.OutOrStdout()
			results := make([]process.ItemResult, 0, len(paths))
			failed := 0
			for _, path := range paths {
				if !structured {
					fmt.Fprintf(out, "Processing: %s\n", path)
				}
				outcome, err := p.Process(cmd.Context(), process.Job{
					Path:     path,
					Context:  flags.context,
					Provider: flags.provider,
					DryRun:   dryRun,
				})
				result := process.ItemResult{
					Item:    queue.Item{SourcePath: path, Context: flags.context, Backend: flags.provider},
					Outcome: outcome,
				}
				if err != nil {
					if cmd.Context().Err() != nil {
						return err
					}
					result.Error = err.Error()
					failed++
				}
				results = append(results, result)
				if !structured {
					printOutcome(out, result)
				}
			}
			if ok, err := writeStructured(cmd, ctx, results); ok || err != nil {
				if err == nil && failed > 0 {
					return errSilentFailure
				}
				return err
			}
			if failed > 0 {
				fmt.Fprintf(out, "%d of %d file(s) failed\n", failed, len(paths))
				return errSilentFailure
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without writing")
	return cmd
}

func newClearQueueCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var force bool
	cmd := &cobra.Command{
		Use:   "clear-queue",
		Short: "Remove queue items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := make([]queue.Status, 0, len(statuses))
			for _, raw := range statuses {
				status, ok := queue.ParseStatus(raw)
				if !ok {
					return fmt.Errorf("%w: unknown status %q (want pending, processing, completed or failed)", services.ErrValidation, raw)
				}
				filter = append(filter, status)
			}
			if len(filter) == 0 && !force {
				return fmt.Errorf("%w: clearing removes every queue item; pass --force or narrow with --status", services.ErrValidation)
			}
			q, err := ctx.openQueue()
			if err != nil {
				return err
			}
			removed, err := q.Clear(cmd.Context(), filter...)
			if err != nil {
				return err
			}
			if ok, err := writeStructured(cmd, ctx, map[string]int64{"cleared": removed}); ok || err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d item(s)\n", removed)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Only clear items with these statuses")
	cmd.Flags().BoolVar(&force, "force", false, "Clear every item")
	return cmd
}

func printItemResult(out io.Writer, r process.ItemResult) {
	fmt.Fprintf(out, "[%s] %s\n", colorize(out, queueStatusColor(r.Item.Status), string(r.Item.Status)), r.Item.SourcePath)
	printOutcome(out, r)
}

func printOutcome(out io.Writer, r process.ItemResult) {
	if r.Error != "" {
		fmt.Fprintf(out, "  Error: %s\n", r.Error)
		return
	}
	o := r.Outcome
	if o == nil {
		return
	}
	if o.Catalogued {
		if o.DryRun {
			fmt.Fprintln(out, "  Would add to catalog")
		} else {
			fmt.Fprintf(out, "  Added to catalog: %s\n", contenthash.Short(o.Digest))
		}
	}
	if o.Registered {
		verb := "Registered"
		if o.DryRun {
			verb = "Would register"
		}
		fmt.Fprintf(out, "  %s transcript %s\n", verb, o.Transcript)
	} else if o.Transcript != "" {
		fmt.Fprintf(out, "  Transcript: %s\n", o.Transcript)
	}
	if o.DryRun {
		fmt.Fprintln(out, "  Would assign speakers")
		return
	}
	fmt.Fprintf(out, "  Assigned %d of %d speaker(s)\n", o.Assigned, o.Labels)
}

func queueStatusColor(status queue.Status) string {
	switch status {
	case queue.StatusCompleted:
		return ansiGreen
	case queue.StatusFailed:
		return ansiRed
	case queue.StatusProcessing:
		return ansiYellow
	default:
		return ""
	}
}
