package namedetect

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/config"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/contenthash"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/logging"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/services/llm"
)

// LLMDetector asks a chat completion model which names the transcript reveals.
type LLMDetector struct {
	completer llm.Completer
	provider  string
	model     string
	cache     *Cache
	logger    *slog.Logger
}

// Option customizes an LLMDetector.
type Option func(*LLMDetector)

// WithCache enables response caching.
func WithCache(cache *Cache) Option {
	return func(d *LLMDetector) { d.cache = cache }
}

// WithModel records the provider and model that make up the cache key.
func WithModel(provider, model string) Option {
	return func(d *LLMDetector) {
		d.provider = provider
		d.model = model
	}
}

// WithLogger sets the detector logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *LLMDetector) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewLLMDetector wraps completer.
func NewLLMDetector(completer llm.Completer, opts ...Option) *LLMDetector {
	d := &LLMDetector{completer: completer, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = logging.NewComponentLogger(d.logger, "namedetect")
	return d
}

// Open builds the detector described by cfg, opening the on-disk cache when
// enabled. Close releases the cache.
func Open(cfg *config.Config, logger *slog.Logger) (*LLMDetector, error) {
	if cfg == nil || !cfg.LLMConfigured() {
		return nil, services.Wrap(services.ErrConfiguration, "namedetect", "open", "llm api key not configured", nil)
	}
	settings := cfg.GetLLM()
	completer, err := llm.New(llm.Config{
		Provider:       settings.Provider,
		APIKey:         settings.APIKey,
		BaseURL:        settings.BaseURL,
		Model:          settings.Model,
		Referer:        settings.Referer,
		Title:          settings.Title,
		TimeoutSeconds: settings.TimeoutSeconds,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "namedetect", "open", "build llm client", err)
	}
	opts := []Option{WithModel(settings.Provider, settings.Model), WithLogger(logger)}
	if cfg.NameDetection.Cache {
		cache, err := OpenCache(cfg.NameCacheDir(), logger)
		if err != nil {
			logging.WarnWithContext(logger, "name cache unavailable", "name_cache_unavailable",
				logging.Error(err),
				logging.String(logging.FieldImpact, "name detection results will not be cached"),
				logging.String(logging.FieldErrorHint, "check permissions on the cache directory or close other speakerid processes"),
			)
		} else {
			opts = append(opts, WithCache(cache))
		}
	}
	return NewLLMDetector(completer, opts...), nil
}

// Close releases the cache, if any.
func (d *LLMDetector) Close() error {
	if d == nil {
		return nil
	}
	return d.cache.Close()
}

// CacheKey is the digest identifying a detection request.
func (d *LLMDetector) CacheKey(sample string, labels []string) string {
	sorted := slices.Clone(labels)
	slices.Sort(sorted)
	parts := []string{d.provider, d.model, sample, strings.Join(sorted, ",")}
	return contenthash.Sum([]byte(strings.Join(parts, "\x00")))
}

// Detect implements Detector.
func (d *LLMDetector) Detect(ctx context.Context, sample string, labels []string) (map[string]Detection, error) {
	if len(labels) == 0 || strings.TrimSpace(sample) == "" {
		return map[string]Detection{}, nil
	}
	logger := logging.WithContext(ctx, d.logger)
	key := d.CacheKey(sample, labels)
	if d.cache != nil {
		cached, ok, err := d.cache.Get(key)
		if err != nil {
			logging.WarnWithContext(logger, "name cache read failed", "name_cache_read_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "detection will query the model"),
			)
		} else if ok {
			logger.Debug("name detection cache hit", logging.String("key", contenthash.Short(key)))
			return cached, nil
		}
	}

	content, err := d.completer.CompleteJSON(ctx, systemPrompt, userPrompt(sample, labels))
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "namedetect", "complete", "name detection request failed", err)
	}
	var resp response
	if err := llm.DecodeLLMJSON(content, &resp); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "namedetect", "decode", "unreadable name detection response", err)
	}
	detections := resp.normalize(labels)
	logger.Info("names detected",
		logging.Int("labels", len(labels)),
		logging.Int("detected", len(detections)),
	)
	if resp.Notes != "" {
		logger.Debug("name detection notes", logging.String("notes", resp.Notes))
	}
	if d.cache != nil {
		if err := d.cache.Put(key, detections); err != nil {
			logging.WarnWithContext(logger, "name cache write failed", "name_cache_write_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "next run will query the model again"),
			)
		}
	}
	return detections, nil
}

// ClearCache removes every cached response under cfg's cache directory.
func ClearCache(cfg *config.Config, logger *slog.Logger) error {
	cache, err := OpenCache(cfg.NameCacheDir(), logger)
	if err != nil {
		return err
	}
	defer cache.Close()
	return cache.Clear()
}

var _ Detector = (*LLMDetector)(nil)

func (c Confidence) String() string { return string(c) }

func (d Detection) String() string {
	return fmt.Sprintf("%s=%s (%s)", d.Label, d.Name, d.Confidence)
}
