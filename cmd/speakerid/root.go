package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	return newRootCommandWithDeps(defaultDeps())
}

func newRootCommandWithDeps(deps commandDeps) *cobra.Command {
	var configFlag string
	var formatFlag string
	var verbose bool

	ctx := newCommandContext(&configFlag, &formatFlag, &verbose, deps)

	rootCmd := &cobra.Command{
		Use:           "speakerid",
		Short:         "Speaker identity and trust resolution",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(formatFlag); err != nil {
				return err
			}
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", formatText, "Output format: text, json or yaml")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show progress and mirror logs to stderr")

	rootCmd.AddCommand(newConfigCommand(ctx))
	rootCmd.AddCommand(newSpeakersCommand(ctx))
	rootCmd.AddCommand(newSamplesCommand(ctx))
	rootCmd.AddCommand(newEnrollCommand(ctx))
	rootCmd.AddCommand(newEmbeddingsCommand(ctx))
	rootCmd.AddCommand(newCheckValidityCommand(ctx))
	rootCmd.AddCommand(newAssignCommand(ctx))
	rootCmd.AddCommand(newAssignmentsCommand(ctx))
	rootCmd.AddCommand(newIdentifyCommand(ctx))
	rootCmd.AddCommand(newVerifyCommand(ctx))
	rootCmd.AddCommand(newExportCommand(ctx))
	rootCmd.AddCommand(newCatalogCommand(ctx))
	rootCmd.AddCommand(newReportCommand(ctx))
	rootCmd.AddCommand(newImportCommand(ctx))
	rootCmd.AddCommand(newTranscriptCommand(ctx))
	rootCmd.AddCommand(newQueueCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newProcessCommand(ctx))
	rootCmd.AddCommand(newClearQueueCommand(ctx))
	rootCmd.AddCommand(newCacheCommand(ctx))
	rootCmd.AddCommand(newDoctorCommand(ctx))

	closeAfterRun(rootCmd, ctx)
	return rootCmd
}

// closeAfterRun releases the store, detector and other lazily opened
// resources once a command finishes, whether or not it failed.
func closeAfterRun(cmd *cobra.Command, ctx *commandContext) {
	if run := cmd.RunE; run != nil {
		cmd.RunE = func(c *cobra.Command, args []string) (err error) {
			defer func() {
				if cerr := ctx.close(); err == nil {
					err = cerr
				}
			}()
			return run(c, args)
		}
	}
	for _, child := range cmd.Commands() {
		closeAfterRun(child, ctx)
	}
}
