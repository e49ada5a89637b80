package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/assign"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/catalog"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/speaker"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/trust"
)

// recordingTarget is what the assign command resolved its argument to.
type recordingTarget struct {
	path             string
	digest           string
	transcriptPath   string
	context          string
	expectedSpeakers []string
}

func newAssignCommand(ctx *commandContext) *cobra.Command {
	var transcriptPath string
	var threshold float64
	var minTrust string
	var expected string
	var contextName string
	var dryRun bool
	var backendName string
	var outputPath string
	cmd := &cobra.Command{
		Use:   "assign <audio|digest|prefix>",
		Short: "Map transcript speaker labels to enrolled identities",
		Long: `Resolve every diarization label of a recording's transcript to an enrolled
identity using voice embeddings, name mentions and recording context.
Catalogued recordings supply their registered transcript, context name and
expected speakers; flags override them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := resolveRecordingTarget(ctx, args[0], backendName)
			if err != nil {
				return err
			}
			if transcriptPath != "" {
				target.transcriptPath = transcriptPath
			}
			if target.transcriptPath == "" {
				return fmt.Errorf("%w: no transcript registered for %s; pass --transcript", services.ErrValidation, args[0])
			}
			if cmd.Flags().Changed("context") {
				target.context = strings.TrimSpace(contextName)
			}
			if cmd.Flags().Changed("expected") {
				target.expectedSpeakers = catalog.SplitList(expected)
			}

			req := assign.Request{
				RecordingPath:    target.path,
				RecordingDigest:  target.digest,
				TranscriptPath:   target.transcriptPath,
				ExpectedSpeakers: target.expectedSpeakers,
				Context:          target.context,
				DryRun:           dryRun,
			}
			if cmd.Flags().Changed("threshold") {
				if threshold < 0 || threshold > 1 {
					return fmt.Errorf("%w: --threshold must be between 0 and 1", services.ErrValidation)
				}
				req.Threshold = &threshold
			}
			if cmd.Flags().Changed("min-trust") {
				level, err := trust.ParseFloor(minTrust)
				if err != nil {
					return fmt.Errorf("%w: --min-trust: %v", services.ErrValidation, err)
				}
				req.MinTrust = &level
			}

			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			b, err := ctx.openBackend(backendName)
			if err != nil {
				return err
			}
			text := ctx.format() == formatText
			out := cmd.OutOrStdout()
			opts := []assign.Option{
				assign.WithDetector(ctx.openDetector()),
				assign.WithLogger(ctx.logger()),
			}
			if text && ctx.isVerbose() {
				opts = append(opts, assign.WithProgress(func(label string, m speaker.Mapping) {
					fmt.Fprintf(out, "Processing speaker %s\n", label)
				}))
			}
			resolver, err := assign.New(ctx.config, st, b, opts...)
			if err != nil {
				return err
			}

			runCtx := services.WithRequestID(cmd.Context(), uuid.NewString())
			result, err := resolver.Resolve(runCtx, req)
			if err != nil {
				return err
			}
			warnCorrupt(cmd, result.Skipped)
			if outputPath != "" {
				if err := writeDocumentFile(outputPath, result.Assignment); err != nil {
					return fmt.Errorf("write %s: %w", outputPath, err)
				}
			}
			if ok, err := writeStructured(cmd, ctx, result.Assignment); ok || err != nil {
				return err
			}
			if dryRun {
				fmt.Fprintln(out, colorize(out, ansiYellow, "DRY RUN: assignments not saved"))
			}
			fmt.Fprintf(out, "Found %d speakers\n", len(result.Assignment.Mappings))
			renderMappings(out, result.Assignment)
			if result.Persisted {
				fmt.Fprintln(out, "Assignments saved")
			}
			if outputPath != "" {
				fmt.Fprintf(out, "Wrote assignment to %s\n", outputPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&transcriptPath, "transcript", "t", "", "Transcript JSON (defaults to the catalog registration)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Minimum combined score to assign a label (default from config)")
	cmd.Flags().StringVar(&minTrust, "min-trust", "", "Lowest embedding trust used for voice matching (low, medium, high)")
	cmd.Flags().StringVar(&expected, "expected", "", "Comma-separated speaker ids expected in the recording")
	cmd.Flags().StringVar(&contextName, "context", "", "Recording context name")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Resolve without saving the assignment")
	cmd.Flags().StringVar(&backendName, "backend", "", "Embedding backend (defaults to embedding.backend)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Also write the assignment record to this file (.json for JSON, YAML otherwise)")
	return cmd
}

// resolveRecordingTarget prefers the catalog entry for ref and falls back to
// treating ref as an uncatalogued audio file.
func resolveRecordingTarget(ctx *commandContext, ref, backendName string) (recordingTarget, error) {
	cat, err := ctx.openCatalog()
	if err != nil {
		return recordingTarget{}, err
	}
	entry, err := cat.Resolve(ref)
	switch {
	case err == nil:
		target := recordingTarget{
			path:             entry.Recording.Path,
			digest:           entry.Digest(),
			context:          entry.Context.Name,
			expectedSpeakers: entry.Context.ExpectedSpeakers,
		}
		if _, statErr := os.Stat(ref); statErr == nil {
			target.path = ref
		}
		if t, ok := entry.Transcript(backendName); ok {
			target.transcriptPath = t.Path
		} else if t, ok := entry.Transcript(""); ok {
			target.transcriptPath = t.Path
		}
		return target, nil
	case errors.Is(err, services.ErrNotFound):
		info, statErr := os.Stat(ref)
		if statErr != nil || info.IsDir() {
			return recordingTarget{}, fmt.Errorf("%s is neither an audio file nor a catalogued recording: %w", ref, err)
		}
		return recordingTarget{path: ref}, nil
	default:
		return recordingTarget{}, err
	}
}

func renderMappings(w io.Writer, a speaker.Assignment) {
	labels := sortedKeys(a.Mappings)
	rows := make([][]string, 0, len(labels))
	for _, label := range labels {
		m := a.Mappings[label]
		id := "-"
		if m.SpeakerID != nil {
			id = *m.SpeakerID
		}
		detail := signalSummary(m.Signals)
		if m.Error != "" {
			detail = "error: " + m.Error
		}
		rows = append(rows, []string{
			label,
			id,
			colorize(w, confidenceColor(m.Confidence), string(m.Confidence)),
			fmt.Sprintf("%.3f", m.Score),
			detail,
		})
	}
	printTable(w, []string{"Label", "Speaker", "Confidence", "Score", "Signals"}, rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft})
}

func signalSummary(signals []speaker.Signal) string {
	if len(signals) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(signals))
	for _, s := range signals {
		parts = append(parts, fmt.Sprintf("%s:%s=%.2f", s.Type, s.SpeakerID, s.Score))
	}
	return strings.Join(parts, " ")
}

func confidenceColor(c speaker.Confidence) string {
	switch c {
	case speaker.ConfidenceHigh:
		return ansiGreen
	case speaker.ConfidenceMedium:
		return ansiBlue
	case speaker.ConfidenceLow:
		return ansiYellow
	default:
		return ansiRed
	}
}
