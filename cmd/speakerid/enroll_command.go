package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/enroll"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
)

func newEnrollCommand(ctx *commandContext) *cobra.Command {
	var label string
	var maxSegments int
	var backendName string
	cmd := &cobra.Command{
		Use:   "enroll <speaker> <audio> [transcript]",
		Short: "Build an embedding for a speaker from a labelled recording",
		Long: `Extract one clip per merged segment of the transcript label, record each
clip as a pending sample, and store a new embedding record for the speaker.
The transcript defaults to the one registered for the recording in the catalog.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(label) == "" {
				return fmt.Errorf("%w: --label is required", services.ErrValidation)
			}
			transcriptPath := ""
			if len(args) == 3 {
				transcriptPath = args[2]
			} else {
				path, err := catalogTranscript(ctx, args[1], backendName)
				if err != nil {
					return err
				}
				transcriptPath = path
			}
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			l, err := ctx.openLedger()
			if err != nil {
				return err
			}
			b, err := ctx.openBackend(backendName)
			if err != nil {
				return err
			}
			enroller := enroll.New(st, l, b, ctx.audioTools(), enroll.WithLogger(ctx.logger()))
			result, err := enroller.Enroll(cmd.Context(), enroll.Request{
				SpeakerID:      args[0],
				RecordingPath:  args[1],
				TranscriptPath: transcriptPath,
				Label:          label,
				MaxSegments:    maxSegments,
			})
			if err != nil {
				return err
			}
			if ok, err := writeStructured(cmd, ctx, result); ok || err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Enrolled %s from label %s (%d samples)\n", args[0], label, len(result.Samples))
			fmt.Fprintf(out, "  %s\n", embeddingLine(*result.Embedding, true))
			for _, sup := range result.Superseded {
				if sup.Removed {
					fmt.Fprintf(out, "  Removed %s (all %d samples moved to the new embedding)\n", sup.EmbeddingID, sup.Moved)
					continue
				}
				fmt.Fprintf(out, "  Moved %d sample(s) from %s, now %s\n", sup.Moved, sup.EmbeddingID, sup.Trust)
			}
			fmt.Fprintln(out, "Review the new samples with 'speakerid samples list "+args[0]+"'")
			return nil
		},
	}
	cmd.Flags().StringVarP(&label, "label", "l", "", "Transcript speaker label to enroll")
	cmd.Flags().IntVar(&maxSegments, "max-segments", 0, "Limit the number of segments used (0 = all)")
	cmd.Flags().StringVar(&backendName, "backend", "", "Embedding backend (defaults to embedding.backend)")
	return cmd
}

// catalogTranscript returns the transcript registered for a catalogued
// recording.
func catalogTranscript(ctx *commandContext, ref, backendName string) (string, error) {
	cat, err := ctx.openCatalog()
	if err != nil {
		return "", err
	}
	entry, err := cat.Resolve(ref)
	if err != nil {
		return "", fmt.Errorf("no transcript given: %w", err)
	}
	t, ok := entry.Transcript(backendName)
	if !ok {
		return "", services.Wrap(services.ErrValidation, "cli", "transcript",
			fmt.Sprintf("recording %s has no registered transcript; pass one explicitly", shortDigest(entry.Digest())), nil)
	}
	return t.Path, nil
}
