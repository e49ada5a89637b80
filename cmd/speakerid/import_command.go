package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/ledger"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/legacy"
)

func newImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <legacy-dir>",
		Short: "Import profiles and samples from a legacy speaker database directory",
		Long: `Read legacy speaker profiles (db/*.json) and sample metadata
(samples/<speaker>/*.meta.yaml), migrate them to the current formats and
store them. Records that already exist are left untouched; files that cannot
be migrated are reported and skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			importer := legacy.New(st, ledger.NewClipStore(ctx.config.Paths.SamplesDir), ctx.logger())
			rep, err := importer.Import(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if ok, err := writeStructured(cmd, ctx, rep); ok || err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Imported %d identities, %d embeddings, %d samples\n", rep.Identities, rep.Embeddings, rep.Samples)
			if rep.Migrated > 0 {
				fmt.Fprintf(out, "Migrated %d document(s) from older formats\n", rep.Migrated)
			}
			if rep.Existing > 0 {
				fmt.Fprintf(out, "Skipped %d record(s) already present\n", rep.Existing)
			}
			if len(rep.Skipped) > 0 {
				fmt.Fprintf(out, "Could not import %d file(s):\n", len(rep.Skipped))
				for _, s := range rep.Skipped {
					fmt.Fprintf(out, "  %s: %s\n", s.Path, s.Reason)
				}
			}
			return nil
		},
	}
}
