package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/config"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigValidateCommand(ctx))
	configCmd.AddCommand(newConfigInitCommand())

	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a starter configuration file",
		Long: `Write a commented starter configuration and print the directories and
embedding backend it resolves to. SPEAKERS_EMBEDDINGS_DIR, when set, moves the
data directory and every path under it.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := resolveConfigTarget(targetPath)
			if err != nil {
				return err
			}
			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("%w: config file already exists at %s (use --overwrite to replace it)", services.ErrValidation, target)
				} else if !errors.Is(err, fs.ErrNotExist) {
					return fmt.Errorf("check config path: %w", err)
				}
			}
			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}
			cfg, _, _, err := config.Load(target)
			if err != nil {
				return fmt.Errorf("%w: written config does not load: %v", services.ErrConfiguration, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			printResolvedConfig(out, cfg)
			if !cfg.LLMConfigured() {
				fmt.Fprintln(out, "Set an LLM api_key (or export OPENROUTER_API_KEY) to enable name detection.")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}

func resolveConfigTarget(raw string) (string, error) {
	if target := strings.TrimSpace(raw); target != "" {
		expanded, err := config.ExpandPath(target)
		if err != nil {
			return "", fmt.Errorf("resolve config path: %w", err)
		}
		return expanded, nil
	}
	target, err := config.DefaultConfigPath()
	if err != nil {
		return "", fmt.Errorf("determine default config path: %w", err)
	}
	return target, nil
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Validate configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, exists, err := config.Load(strings.TrimSpace(*ctx.configFlag))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure directories: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", path)
			if !exists {
				fmt.Fprintln(out, "Config file did not exist; defaults were used")
			}
			printResolvedConfig(out, cfg)
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}

func printResolvedConfig(out io.Writer, cfg *config.Config) {
	fmt.Fprintf(out, "Data directory: %s\n", cfg.Paths.DataDir)
	fmt.Fprintf(out, "Samples directory: %s\n", cfg.Paths.SamplesDir)
	fmt.Fprintf(out, "Embedding backend: %s\n", cfg.Embedding.Backend)
	fmt.Fprintf(out, "Name detection: %s\n", yesNo(cfg.NameDetection.Enabled && cfg.LLMConfigured()))
}
