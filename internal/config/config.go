package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	LogDir     string `toml:"log_dir"`
	CatalogDir string `toml:"catalog_dir"`
	SamplesDir string `toml:"samples_dir"`
	CacheDir   string `toml:"cache_dir"`
}

// Assignment contains resolver defaults.
type Assignment struct {
	Threshold           float64 `toml:"threshold"`
	MinTrust            string  `toml:"min_trust"`
	LabelTimeoutSeconds int     `toml:"label_timeout_seconds"`
	Workers             int     `toml:"workers"`
	// HighConfidence and MediumConfidence are the lower score bounds of the
	// high and medium tiers. Anything assigned below MediumConfidence is low.
	HighConfidence   float64 `toml:"high_confidence"`
	MediumConfidence float64 `toml:"medium_confidence"`
	// ContextBoost caps how much an expected-speaker prior may lift a score.
	ContextBoost float64 `toml:"context_boost"`
}

// Embedding contains settings for the embedding backend.
type Embedding struct {
	Backend      string `toml:"backend"`
	HFToken      string `toml:"hf_token"`
	CUDA         bool   `toml:"cuda"`
	UvxBinary    string `toml:"uvx_binary"`
	FFmpegBinary string `toml:"ffmpeg_binary"`
}

// LLM contains connection settings for the name detector.
type LLM struct {
	Provider       string `toml:"provider"`
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// NameDetection controls the name-mention signal.
type NameDetection struct {
	Enabled            bool `toml:"enabled"`
	Cache              bool `toml:"cache"`
	MaxTranscriptChars int  `toml:"max_transcript_chars"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values.
//
// Configuration sections by subsystem:
//   - Paths: data, log, catalog, samples and cache directories
//   - Assignment: threshold, trust floor, timeouts and confidence bands
//   - Embedding: backend selection and local model tooling
//   - LLM: connection settings for name detection
//   - NameDetection: toggles for the name-mention signal
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Assignment    Assignment    `toml:"assignment"`
	Embedding     Embedding     `toml:"embedding"`
	LLM           LLM           `toml:"llm"`
	NameDetection NameDetection `toml:"name_detection"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("speakerid.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the data layout.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.CatalogDir, c.Paths.SamplesDir, c.Paths.CacheDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite database location inside the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "speakers.db")
}

// QueuePath returns the batch queue database location.
func (c *Config) QueuePath() string {
	return filepath.Join(c.Paths.DataDir, "queue.db")
}

// NameCacheDir returns the directory holding cached name detections.
func (c *Config) NameCacheDir() string {
	return filepath.Join(c.Paths.CacheDir, "names")
}

// FFmpegBinary returns the ffmpeg executable used for clip extraction.
func (c *Config) FFmpegBinary() string {
	if bin := strings.TrimSpace(c.Embedding.FFmpegBinary); bin != "" {
		return bin
	}
	return "ffmpeg"
}

// UvxBinary returns the uvx executable used to run the local embedding model.
func (c *Config) UvxBinary() string {
	if bin := strings.TrimSpace(c.Embedding.UvxBinary); bin != "" {
		return bin
	}
	return "uvx"
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// LLMConfig contains the resolved LLM settings.
type LLMConfig struct {
	Provider       string
	APIKey         string
	BaseURL        string
	Model          string
	Referer        string
	Title          string
	TimeoutSeconds int
}

// GetLLM returns the name detector connection settings.
func (c *Config) GetLLM() LLMConfig {
	return LLMConfig{
		Provider:       strings.TrimSpace(c.LLM.Provider),
		APIKey:         strings.TrimSpace(c.LLM.APIKey),
		BaseURL:        strings.TrimSpace(c.LLM.BaseURL),
		Model:          strings.TrimSpace(c.LLM.Model),
		Referer:        strings.TrimSpace(c.LLM.Referer),
		Title:          strings.TrimSpace(c.LLM.Title),
		TimeoutSeconds: c.LLM.TimeoutSeconds,
	}
}

// LLMConfigured reports whether an API key is present for the name detector.
func (c *Config) LLMConfigured() bool {
	return strings.TrimSpace(c.LLM.APIKey) != ""
}
