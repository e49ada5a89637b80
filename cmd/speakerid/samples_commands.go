package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/speaker"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/store"
)

func newSamplesCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "samples",
		Short: "List and review enrollment samples",
	}
	cmd.AddCommand(newSamplesListCommand(ctx))
	cmd.AddCommand(newSamplesReviewCommand(ctx))
	return cmd
}

func newSamplesListCommand(ctx *commandContext) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list [speaker]",
		Short: "List samples with their review status",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			filter := store.SampleFilter{Status: speaker.ReviewStatus(status)}
			if len(args) == 1 {
				filter.SpeakerID = args[0]
				if _, err := st.GetIdentity(cmd.Context(), args[0]); err != nil {
					return err
				}
			}
			switch filter.Status {
			case "", speaker.ReviewPending, speaker.ReviewReviewed, speaker.ReviewRejected:
			default:
				return fmt.Errorf("%w: unknown status %q (expected pending, reviewed or rejected)", services.ErrValidation, status)
			}
			samples, corrupt, err := st.ListSamples(cmd.Context(), filter)
			if err != nil {
				return err
			}
			warnCorrupt(cmd, corrupt)
			if samples == nil {
				samples = []speaker.Sample{}
			}
			if ok, err := writeStructured(cmd, ctx, samples); ok || err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(samples) == 0 {
				fmt.Fprintln(out, "No samples found")
				return nil
			}
			rows := make([][]string, 0, len(samples))
			for _, s := range samples {
				rows = append(rows, []string{
					s.SpeakerID,
					shortDigest(s.Digest),
					shortDigest(s.SourceRecordingDigest),
					s.Segment.String(),
					colorize(out, reviewColor(s.Review.Status), string(s.Review.Status)),
					truncate(s.Text, 40),
				})
			}
			printTable(out, []string{"Speaker", "Sample", "Recording", "Segment", "Review", "Text"}, rows, nil)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by review status (pending, reviewed, rejected)")
	return cmd
}

func newSamplesReviewCommand(ctx *commandContext) *cobra.Command {
	var approve, reject bool
	var notes string
	cmd := &cobra.Command{
		Use:   "review <speaker> <sample-digest-or-prefix>",
		Short: "Approve or reject a sample",
		Long: `Record a review decision for a sample. The last decision wins.
Reviews never touch embeddings directly; run check-validity afterwards to
re-evaluate the trust of embeddings built from the sample.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if approve == reject {
				return fmt.Errorf("%w: pass exactly one of --approve or --reject", services.ErrValidation)
			}
			decision := speaker.ReviewReviewed
			if reject {
				decision = speaker.ReviewRejected
			}
			l, err := ctx.openLedger()
			if err != nil {
				return err
			}
			samples, _, err := l.Samples(cmd.Context(), args[0], "")
			if err != nil {
				return err
			}
			digest, err := resolveSampleDigest(args[0], samples, args[1])
			if err != nil {
				return err
			}
			sample, err := l.ReviewSample(cmd.Context(), args[0], digest, decision, notes)
			if err != nil {
				return err
			}
			if ok, err := writeStructured(cmd, ctx, sample); ok || err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sample %s of %s marked %s\n", shortDigest(sample.Digest), sample.SpeakerID, sample.Review.Status)
			return nil
		},
	}
	cmd.Flags().BoolVar(&approve, "approve", false, "Mark the sample reviewed")
	cmd.Flags().BoolVar(&reject, "reject", false, "Mark the sample rejected")
	cmd.Flags().StringVar(&notes, "notes", "", "Review notes")
	return cmd
}

func reviewColor(status speaker.ReviewStatus) string {
	switch status {
	case speaker.ReviewReviewed:
		return ansiGreen
	case speaker.ReviewRejected:
		return ansiRed
	default:
		return ansiYellow
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
