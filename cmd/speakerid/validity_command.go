package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/validity"
)

func newCheckValidityCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check-validity",
		Short: "Re-evaluate embedding trust against current sample reviews",
		Long: `Re-bucket every embedding's samples by their current review status and
recompute its trust level. Exits non-zero when any embedding is invalidated.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			checker := validity.New(st, ctx.config.Assignment.Workers, ctx.logger())
			summary, err := checker.Check(cmd.Context())
			warnCorrupt(cmd, summary.Corrupt)
			if err != nil {
				return err
			}
			structured, err := writeStructured(cmd, ctx, summary)
			if err != nil {
				return err
			}
			if !structured {
				out := cmd.OutOrStdout()
				for _, outcome := range summary.Outcomes {
					fmt.Fprintln(out, colorize(out, outcomeColor(outcome.Status), outcome.Line()))
				}
				fmt.Fprintf(out, "Checked %d embeddings: %d changed, %d newly invalidated\n",
					summary.Checked, summary.Changed, summary.Invalidated)
				if !summary.Healthy() {
					fmt.Fprintf(out, "%d embedding(s) invalidated; re-enroll affected speakers with reviewed samples\n",
						summary.CurrentlyInvalidated)
				}
			}
			if !summary.Healthy() {
				return errSilentFailure
			}
			return nil
		},
	}
}

func outcomeColor(status validity.Status) string {
	switch status {
	case validity.StatusChanged:
		return ansiYellow
	case validity.StatusInvalidated:
		return ansiRed
	default:
		return ansiGreen
	}
}
