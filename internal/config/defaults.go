package config

const (
	defaultConfigPath          = "~/.config/speakerid/config.toml"
	defaultDataDir             = "~/.local/share/speakerid"
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultThreshold           = 0.354
	defaultMinTrust            = "low"
	defaultLabelTimeoutSeconds = 120
	defaultWorkers             = 4
	defaultHighConfidence      = 0.85
	defaultMediumConfidence    = 0.60
	defaultContextBoost        = 0.10
	defaultEmbeddingBackend    = "pyannote"
	defaultLLMProvider         = "openrouter"
	defaultLLMBaseURL          = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel            = "google/gemini-3-flash-preview"
	defaultLLMReferer          = "https://github.com/CLIAI/speaker-diarization-toolkit"
	defaultLLMTitle            = "speakerid name detection"
	defaultLLMTimeoutSeconds   = 60
	defaultMaxTranscriptChars  = 12000
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
		},
		Assignment: Assignment{
			Threshold:           defaultThreshold,
			MinTrust:            defaultMinTrust,
			LabelTimeoutSeconds: defaultLabelTimeoutSeconds,
			Workers:             defaultWorkers,
			HighConfidence:      defaultHighConfidence,
			MediumConfidence:    defaultMediumConfidence,
			ContextBoost:        defaultContextBoost,
		},
		Embedding: Embedding{
			Backend: defaultEmbeddingBackend,
		},
		LLM: LLM{
			Provider:       defaultLLMProvider,
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Referer:        defaultLLMReferer,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		NameDetection: NameDetection{
			Enabled:            true,
			Cache:              true,
			MaxTranscriptChars: defaultMaxTranscriptChars,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
