package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/speaker"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/transcript"
)

type labelSummary struct {
	Label       string  `json:"label"`
	Segments    int     `json:"segments"`
	Merged      int     `json:"merged_segments"`
	DurationSec float64 `json:"duration_sec"`
	Preview     string  `json:"preview"`
}

func newTranscriptCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcript",
		Short: "Inspect transcript files",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "speakers <transcript>",
		Short: "List the speaker labels of a transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := transcript.Load(args[0])
			if err != nil {
				return err
			}
			labels := tr.Speakers()
			summaries := make([]labelSummary, 0, len(labels))
			for _, label := range labels {
				s := labelSummary{
					Label:    label,
					Segments: len(tr.RawSegments(label)),
					Merged:   len(tr.Segments(label)),
					Preview:  truncate(strings.TrimSpace(tr.Text(label)), 60),
				}
				for _, seg := range tr.RawSegments(label) {
					s.DurationSec += seg.Duration()
				}
				summaries = append(summaries, s)
			}
			if ok, err := writeStructured(cmd, ctx, summaries); ok || err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Format: %s, %d speaker label(s)\n", tr.Format, len(labels))
			rows := make([][]string, 0, len(summaries))
			for _, s := range summaries {
				rows = append(rows, []string{
					s.Label,
					fmt.Sprint(s.Segments),
					fmt.Sprint(s.Merged),
					fmt.Sprintf("%.1fs", s.DurationSec),
					s.Preview,
				})
			}
			printTable(out, []string{"Label", "Segments", "Usable", "Speech", "Preview"}, rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignLeft})
			return nil
		},
	})
	cmd.AddCommand(newTranscriptSegmentsCommand())
	return cmd
}

func newTranscriptSegmentsCommand() *cobra.Command {
	var mergeGap float64
	var layout string
	cmd := &cobra.Command{
		Use:   "segments <transcript> <label>",
		Short: "Print the time spans spoken by one label",
		Long: `Print every span spoken by label in seconds. --merge-gap joins spans at
most that many seconds apart. --as selects the layout: json (a list of
[start, end] pairs), tuples ("[(2.0, 4.0), ...]") or csv.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if mergeGap < 0 {
				return fmt.Errorf("%w: --merge-gap must not be negative", services.ErrValidation)
			}
			tr, err := transcript.Load(args[0])
			if err != nil {
				return err
			}
			label := args[1]
			if !slices.Contains(tr.Speakers(), label) {
				return fmt.Errorf("%w: speaker label %q in %s (labels: %s)",
					services.ErrNotFound, label, args[0], strings.Join(tr.Speakers(), ", "))
			}
			spans := transcript.MergeSpans(tr.RawSegments(label), mergeGap)
			return writeSpans(cmd.OutOrStdout(), spans, layout)
		},
	}
	cmd.Flags().Float64Var(&mergeGap, "merge-gap", 0, "Merge spans separated by at most this many seconds")
	cmd.Flags().StringVar(&layout, "as", "json", "Output layout: json, tuples or csv")
	return cmd
}

func writeSpans(w io.Writer, spans []speaker.Segment, layout string) error {
	switch strings.ToLower(strings.TrimSpace(layout)) {
	case "json":
		pairs := make([][2]float64, 0, len(spans))
		for _, s := range spans {
			pairs = append(pairs, [2]float64{s.Start, s.End})
		}
		data, err := json.Marshal(pairs)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case "tuples":
		parts := make([]string, 0, len(spans))
		for _, s := range spans {
			parts = append(parts, fmt.Sprintf("(%s, %s)", secondsText(s.Start), secondsText(s.End)))
		}
		_, err := fmt.Fprintf(w, "[%s]\n", strings.Join(parts, ", "))
		return err
	case "csv":
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{"start", "end"}); err != nil {
			return err
		}
		for _, s := range spans {
			if err := cw.Write([]string{secondsText(s.Start), secondsText(s.End)}); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	default:
		return fmt.Errorf("%w: unsupported --as %q (expected json, tuples or csv)", services.ErrValidation, layout)
	}
}

// secondsText renders a seconds value with at least one decimal, as in "2.0".
func secondsText(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
