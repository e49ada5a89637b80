package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAssignment()
	c.normalizeEmbedding()
	c.normalizeLLM()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if value, ok := os.LookupEnv("SPEAKERS_EMBEDDINGS_DIR"); ok && strings.TrimSpace(value) != "" {
		c.Paths.DataDir = strings.TrimSpace(value)
	}
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}

	derived := []struct {
		field *string
		key   string
		name  string
	}{
		{&c.Paths.LogDir, "paths.log_dir", "logs"},
		{&c.Paths.CatalogDir, "paths.catalog_dir", "catalog"},
		{&c.Paths.SamplesDir, "paths.samples_dir", "samples"},
		{&c.Paths.CacheDir, "paths.cache_dir", "cache"},
	}
	for _, d := range derived {
		if strings.TrimSpace(*d.field) == "" {
			*d.field = filepath.Join(c.Paths.DataDir, d.name)
		}
		if *d.field, err = expandPath(*d.field); err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
	}
	return nil
}

func (c *Config) normalizeAssignment() {
	c.Assignment.MinTrust = strings.ToLower(strings.TrimSpace(c.Assignment.MinTrust))
	if c.Assignment.MinTrust == "" {
		c.Assignment.MinTrust = defaultMinTrust
	}
	if c.Assignment.LabelTimeoutSeconds <= 0 {
		c.Assignment.LabelTimeoutSeconds = defaultLabelTimeoutSeconds
	}
	if c.Assignment.Workers <= 0 {
		c.Assignment.Workers = defaultWorkers
	}
}

func (c *Config) normalizeEmbedding() {
	c.Embedding.Backend = strings.ToLower(strings.TrimSpace(c.Embedding.Backend))
	if c.Embedding.Backend == "" {
		c.Embedding.Backend = defaultEmbeddingBackend
	}
	if c.Embedding.HFToken == "" {
		if value, ok := os.LookupEnv("HF_TOKEN"); ok {
			c.Embedding.HFToken = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeLLM() {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.Provider == "" {
		c.LLM.Provider = defaultLLMProvider
	}
	if c.LLM.APIKey == "" {
		envKey := "OPENROUTER_API_KEY"
		if c.LLM.Provider == "openai" {
			envKey = "OPENAI_API_KEY"
		}
		if value, ok := os.LookupEnv(envKey); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		}
	}
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.Provider == "openai" && c.LLM.BaseURL == defaultLLMBaseURL {
		// The OpenAI SDK supplies its own endpoint.
		c.LLM.BaseURL = ""
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
	if c.NameDetection.MaxTranscriptChars <= 0 {
		c.NameDetection.MaxTranscriptChars = defaultMaxTranscriptChars
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
