package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/speaker"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/store"
)

func newEmbeddingsCommand(ctx *commandContext) *cobra.Command {
	var showTrust bool
	var backendName string
	cmd := &cobra.Command{
		Use:   "embeddings [speaker]",
		Short: "List embedding records per speaker and backend",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			filter := store.EmbeddingFilter{Backend: backendName}
			if len(args) == 1 {
				filter.SpeakerID = args[0]
				if _, err := st.GetIdentity(cmd.Context(), args[0]); err != nil {
					return err
				}
			}
			records, corrupt, err := st.ListEmbeddings(cmd.Context(), filter)
			if err != nil {
				return err
			}
			warnCorrupt(cmd, corrupt)
			if records == nil {
				records = []speaker.EmbeddingRecord{}
			}
			if ok, err := writeStructured(cmd, ctx, records); ok || err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No embeddings found")
				return nil
			}
			grouped := make(map[string][]speaker.EmbeddingRecord)
			for _, rec := range records {
				grouped[rec.SpeakerID] = append(grouped[rec.SpeakerID], rec)
			}
			for _, id := range sortedKeys(grouped) {
				fmt.Fprintf(out, "%s:\n", id)
				for _, rec := range grouped[id] {
					line := embeddingLine(rec, showTrust)
					if showTrust {
						line = colorize(out, trustColor(rec.TrustLevel), line)
					}
					fmt.Fprintf(out, "  %s\n", line)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showTrust, "show-trust", false, "Show trust level and sample counts")
	cmd.Flags().StringVar(&backendName, "backend", "", "Only list embeddings for this backend")
	return cmd
}
