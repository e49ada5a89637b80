package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/report"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/trust"
)

func newReportCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summaries over assignments, speakers and the catalog",
	}
	cmd.AddCommand(newReportConfidenceCommand(ctx))
	cmd.AddCommand(newReportStaleCommand(ctx))
	cmd.AddCommand(newReportStatusCommand(ctx))
	cmd.AddCommand(newReportCoverageCommand(ctx))
	cmd.AddCommand(newReportSpeakersCommand(ctx))
	return cmd
}

func (c *commandContext) openReporter() (*report.Reporter, error) {
	st, err := c.openStore()
	if err != nil {
		return nil, err
	}
	cat, err := c.openCatalog()
	if err != nil {
		return nil, err
	}
	return report.New(st, cat, report.WithLogger(c.logger())), nil
}

func newReportConfidenceCommand(ctx *commandContext) *cobra.Command {
	var below int
	cmd := &cobra.Command{
		Use:   "confidence",
		Short: "Recordings with a mapping below a confidence percentage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if below < 0 || below > 100 {
				return fmt.Errorf("%w: --below must be between 0 and 100", services.ErrValidation)
			}
			r, err := ctx.openReporter()
			if err != nil {
				return err
			}
			rep, err := r.Confidence(cmd.Context(), below)
			if err != nil {
				return err
			}
			if ok, err := writeStructured(cmd, ctx, rep); ok || err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if rep.Count == 0 {
				fmt.Fprintf(out, "No recordings below threshold (%d%%)\n", below)
				return nil
			}
			fmt.Fprintf(out, "Found %d recording(s) below %d%% confidence\n", rep.Count, below)
			for _, f := range rep.Recordings {
				fmt.Fprintf(out, "\n%s\n", firstNonEmpty(f.Path, f.RecordingDigest))
				for _, l := range f.Labels {
					fmt.Fprintf(out, "  %s -> %s: %s (%d%%, score %.3f)\n",
						l.Label, firstNonEmpty(l.SpeakerID, "unassigned"),
						colorize(out, confidenceColor(l.Confidence), string(l.Confidence)), l.Percent, l.Score)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&below, "below", report.DefaultBelowPercent, "Confidence percentage bound")
	return cmd
}

func newReportStaleCommand(ctx *commandContext) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "stale",
		Short: "Recordings whose assignment is older than N days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 0 {
				return fmt.Errorf("%w: --days must not be negative", services.ErrValidation)
			}
			r, err := ctx.openReporter()
			if err != nil {
				return err
			}
			rep, err := r.Stale(cmd.Context(), days)
			if err != nil {
				return err
			}
			if ok, err := writeStructured(cmd, ctx, rep); ok || err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if rep.Count == 0 {
				fmt.Fprintf(out, "No stale recordings (older than %d days)\n", days)
				return nil
			}
			fmt.Fprintf(out, "Found %d recording(s) with assignments older than %d days\n", rep.Count, days)
			for _, f := range rep.Recordings {
				fmt.Fprintf(out, "  %s: %d days ago\n", firstNonEmpty(f.Path, f.RecordingDigest), f.AgeDays)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", report.DefaultStaleDays, "Age in days")
	return cmd
}

func newReportStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Overall system status and recommendations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := ctx.openReporter()
			if err != nil {
				return err
			}
			status, err := r.Status(cmd.Context())
			if err != nil {
				return err
			}
			if ok, err := writeStructured(cmd, ctx, status); ok || err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Speaker Detection System Status")
			fmt.Fprintln(out, strings.Repeat("=", 31))
			fmt.Fprintf(out, "Recordings:     %d total\n", status.Recordings)
			for _, key := range sortedKeys(status.ByStatus) {
				fmt.Fprintf(out, "  %-13s %d\n", key+":", status.ByStatus[key])
			}
			fmt.Fprintf(out, "Speakers:       %d enrolled\n", status.Speakers)
			fmt.Fprintf(out, "Embeddings:     %d\n", status.Embeddings)
			for _, level := range []trust.Level{trust.High, trust.Medium, trust.Low, trust.Invalidated} {
				if n := status.EmbeddingsByTrust[level.String()]; n > 0 {
					fmt.Fprintf(out, "  %-13s %d\n", level.String()+":", n)
				}
			}
			fmt.Fprintf(out, "Samples:        %d pending, %d reviewed, %d rejected\n",
				status.Samples["pending"], status.Samples["reviewed"], status.Samples["rejected"])
			fmt.Fprintf(out, "Assignments:    %d\n", status.Assignments)
			if len(status.Recommendations) > 0 {
				fmt.Fprintln(out)
				fmt.Fprintln(out, "Recommendations:")
				for _, rec := range status.Recommendations {
					fmt.Fprintf(out, "  - %s\n", rec)
				}
			}
			return nil
		},
	}
}

func newReportCoverageCommand(ctx *commandContext) *cobra.Command {
	var contextName string
	cmd := &cobra.Command{
		Use:   "coverage",
		Short: "Processing progress per recording context",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := ctx.openReporter()
			if err != nil {
				return err
			}
			coverage, err := r.Coverage(cmd.Context(), contextName)
			if err != nil {
				return err
			}
			if ok, err := writeStructured(cmd, ctx, coverage); ok || err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Coverage by Context")
			if len(coverage) == 0 {
				fmt.Fprintln(out, "No recordings found")
				return nil
			}
			rows := make([][]string, 0, len(coverage))
			for _, c := range coverage {
				pct := 0
				if c.Total > 0 {
					pct = c.Assigned * 100 / c.Total
				}
				rows = append(rows, []string{
					c.Context,
					fmt.Sprint(c.Total),
					fmt.Sprint(c.Unprocessed),
					fmt.Sprint(c.Transcribed),
					fmt.Sprint(c.Assigned),
					fmt.Sprintf("%d%%", pct),
				})
			}
			printTable(out, []string{"Context", "Total", "Unprocessed", "Transcribed", "Assigned", "Coverage"}, rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight})
			return nil
		},
	}
	cmd.Flags().StringVar(&contextName, "context", "", "Only report this context")
	return cmd
}

func newReportSpeakersCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "speakers",
		Short: "Enrolled speakers by trust level",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := ctx.openReporter()
			if err != nil {
				return err
			}
			rep, err := r.Speakers(cmd.Context())
			if err != nil {
				return err
			}
			if ok, err := writeStructured(cmd, ctx, rep); ok || err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Total speakers: %d\n", rep.Total)
			if rep.Total == 0 {
				return nil
			}
			fmt.Fprintln(out, "By trust level:")
			for _, key := range sortedKeys(rep.ByTrust) {
				fmt.Fprintf(out, "  %-12s %d\n", key+":", rep.ByTrust[key])
			}
			rows := make([][]string, 0, len(rep.Speakers))
			needs := 0
			for _, s := range rep.Speakers {
				if s.NeedsReview {
					needs++
				}
				rows = append(rows, []string{
					s.SpeakerID,
					s.DisplayName,
					colorize(out, trustColor(trust.Level(s.Trust)), s.Trust),
					fmt.Sprint(s.Embeddings),
					fmt.Sprintf("%d/%d/%d", s.Samples["reviewed"], s.Samples["pending"], s.Samples["rejected"]),
				})
			}
			printTable(out, []string{"ID", "Name", "Trust", "Embeddings", "Samples (r/p/x)"}, rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight})
			if needs > 0 {
				fmt.Fprintf(out, "%d speaker(s) needing more reviewed samples (at least %d)\n", needs, report.MinReviewedSamples)
			}
			return nil
		},
	}
}
