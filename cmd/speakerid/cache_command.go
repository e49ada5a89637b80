package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/namedetect"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the name detection cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop all cached name detection results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := namedetect.ClearCache(ctx.config, ctx.logger()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared name detection cache at %s\n", ctx.config.NameCacheDir())
			return nil
		},
	})
	return cmd
}
