package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/identify"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/trust"
)

// matchFlags are shared by identify and verify.
type matchFlags struct {
	threshold   float64
	minTrust    string
	backendName string
}

func (f *matchFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&f.threshold, "threshold", 0, "Minimum similarity for a match (default from config)")
	cmd.Flags().StringVar(&f.minTrust, "min-trust", "", "Lowest embedding trust compared (low, medium, high)")
	cmd.Flags().StringVar(&f.backendName, "backend", "", "Embedding backend (defaults to embedding.backend)")
}

func (f *matchFlags) matcher(cmd *cobra.Command, ctx *commandContext) (*identify.Matcher, error) {
	opts := []identify.Option{identify.WithLogger(ctx.logger())}
	if cmd.Flags().Changed("threshold") {
		if f.threshold < 0 || f.threshold > 1 {
			return nil, fmt.Errorf("%w: --threshold must be between 0 and 1", services.ErrValidation)
		}
		opts = append(opts, identify.WithThreshold(f.threshold))
	}
	if cmd.Flags().Changed("min-trust") {
		level, err := trust.ParseFloor(f.minTrust)
		if err != nil {
			return nil, fmt.Errorf("%w: --min-trust: %v", services.ErrValidation, err)
		}
		opts = append(opts, identify.WithMinTrust(level))
	}
	st, err := ctx.openStore()
	if err != nil {
		return nil, err
	}
	b, err := ctx.openBackend(f.backendName)
	if err != nil {
		return nil, err
	}
	return identify.New(ctx.config, st, b, opts...)
}

func newIdentifyCommand(ctx *commandContext) *cobra.Command {
	var flags matchFlags
	cmd := &cobra.Command{
		Use:   "identify <audio>",
		Short: "Find which enrolled speaker a recording sounds like",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := flags.matcher(cmd, ctx)
			if err != nil {
				return err
			}
			result, err := m.Identify(cmd.Context(), args[0], nil)
			if err != nil {
				return err
			}
			if ok, err := writeStructured(cmd, ctx, result); ok || err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if result.Best != nil {
				fmt.Fprintf(out, "Best match: %s (%s) similarity %.3f\n",
					result.Best.SpeakerID, result.Best.Name, result.Best.Similarity)
			} else {
				fmt.Fprintf(out, "No speaker reached threshold %.3f\n", result.Threshold)
			}
			rows := make([][]string, 0, len(result.Matches))
			for _, match := range result.Matches {
				rows = append(rows, []string{
					match.SpeakerID,
					match.Name,
					fmt.Sprintf("%.3f", match.Similarity),
					colorize(out, confidenceColor(match.Confidence), string(match.Confidence)),
				})
			}
			printTable(out, []string{"Speaker", "Name", "Similarity", "Confidence"}, rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft})
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newVerifyCommand(ctx *commandContext) *cobra.Command {
	var flags matchFlags
	cmd := &cobra.Command{
		Use:   "verify <speaker> <audio>",
		Short: "Check whether a recording sounds like a given speaker",
		Long: `Compare a recording against one speaker's embeddings. The command exits
with status 1 when the similarity stays below the threshold.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := flags.matcher(cmd, ctx)
			if err != nil {
				return err
			}
			v, err := m.Verify(cmd.Context(), args[0], args[1], nil)
			if err != nil {
				return err
			}
			if ok, err := writeStructured(cmd, ctx, v); ok || err != nil {
				if err == nil && !v.Verified {
					err = errSilentFailure
				}
				return err
			}
			out := cmd.OutOrStdout()
			if v.Verified {
				fmt.Fprintf(out, "%s %s (similarity %.3f, threshold %.3f)\n",
					colorize(out, ansiGreen, "VERIFIED"), v.SpeakerID, v.Similarity, v.Threshold)
				return nil
			}
			fmt.Fprintf(out, "%s %s (similarity %.3f, threshold %.3f)\n",
				colorize(out, ansiRed, "NOT VERIFIED"), v.SpeakerID, v.Similarity, v.Threshold)
			return errSilentFailure
		},
	}
	flags.register(cmd)
	return cmd
}
