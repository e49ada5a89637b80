package main

import (
	"slices"

	"github.com/spf13/cobra"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/speaker"
)

type speakerExport struct {
	Speakers []speaker.Profile `json:"speakers"`
}

func newExportCommand(ctx *commandContext) *cobra.Command {
	var tags []string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export speaker profiles with their embeddings",
		Long: `Write every speaker profile, embeddings included, as one JSON document of
the form {"speakers": [...]}. --format yaml writes the same document as YAML.
With --tags only speakers carrying at least one of the tags are exported.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			idents, corrupt, err := st.ListIdentities(cmd.Context())
			if err != nil {
				return err
			}
			warnCorrupt(cmd, corrupt)
			doc := speakerExport{Speakers: []speaker.Profile{}}
			for _, ident := range idents {
				if len(tags) > 0 && !slices.ContainsFunc(tags, ident.HasTag) {
					continue
				}
				profile, skipped, err := st.Profile(cmd.Context(), ident.ID)
				if err != nil {
					return err
				}
				warnCorrupt(cmd, skipped)
				doc.Speakers = append(doc.Speakers, *profile)
			}
			if ctx.format() == formatYAML {
				return writeYAML(cmd, doc)
			}
			return writeJSON(cmd, doc)
		},
	}
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "Only export speakers with any of these tags (comma-separated)")
	return cmd
}
