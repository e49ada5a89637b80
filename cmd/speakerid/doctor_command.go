package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check directories, external tools, the database and the LLM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			results := preflight.RunAll(cmd.Context(), ctx.config)
			results = append(results, databaseCheck(cmd, ctx))
			structured, err := writeStructured(cmd, ctx, results)
			if err != nil {
				return err
			}
			failed := preflight.Failed(results)
			if structured {
				if failed {
					return errSilentFailure
				}
				return nil
			}
			out := cmd.OutOrStdout()
			for _, r := range results {
				mark, color := "OK  ", ansiGreen
				switch {
				case !r.Passed && r.Optional:
					mark, color = "WARN", ansiYellow
				case !r.Passed:
					mark, color = "FAIL", ansiRed
				}
				fmt.Fprintf(out, "[%s] %s: %s\n", colorize(out, color, mark), r.Name, r.Detail)
			}
			if failed {
				fmt.Fprintln(out, "Some required checks failed")
				return errSilentFailure
			}
			fmt.Fprintln(out, "All required checks passed")
			return nil
		},
	}
}

func databaseCheck(cmd *cobra.Command, ctx *commandContext) preflight.Result {
	result := preflight.Result{Name: "Speaker database"}
	st, err := ctx.openStore()
	if err != nil {
		result.Detail = err.Error()
		return result
	}
	health, err := st.CheckHealth(cmd.Context())
	switch {
	case err != nil:
		result.Detail = err.Error()
	case len(health.MissingTables) > 0:
		result.Detail = "missing tables: " + strings.Join(health.MissingTables, ", ")
	case !health.IntegrityCheck:
		result.Detail = "integrity check failed"
	default:
		result.Passed = true
		result.Detail = fmt.Sprintf("%s (schema v%d, %d speakers, %d embeddings)",
			health.DBPath, health.SchemaVersion, health.Stats.Speakers, health.Stats.Embeddings)
	}
	return result
}
