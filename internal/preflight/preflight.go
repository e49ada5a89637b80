package preflight

import (
	"context"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Optional bool   `json:"optional,omitempty"`
	Detail   string `json:"detail"`
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckDirectoryAccess("Catalog directory", cfg.Paths.CatalogDir),
		CheckDirectoryAccess("Samples directory", cfg.Paths.SamplesDir),
	}

	for _, status := range CheckSystemDeps(cfg) {
		r := Result{Name: status.Name, Passed: status.Available, Optional: status.Optional, Detail: status.Detail}
		if status.Available {
			r.Detail = status.Path
		}
		results = append(results, r)
	}

	if cfg.NameDetection.Enabled {
		results = append(results, CheckLLM(ctx, "Name detection LLM", cfg.GetLLM()))
	}
	return results
}

// Failed reports whether any required check failed.
func Failed(results []Result) bool {
	for _, r := range results {
		if !r.Passed && !r.Optional {
			return true
		}
	}
	return false
}
