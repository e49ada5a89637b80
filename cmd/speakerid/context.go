package main

import (
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/assign"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/audio"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/backend"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/backend/pyannote"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/catalog"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/config"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/ledger"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/logging"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/namedetect"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/process"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/queue"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/store"
)

// errSilentFailure makes the process exit non-zero after the command has
// already printed its own explanation.
var errSilentFailure = errors.New("command reported failure")

// commandDeps are the collaborators that tests replace.
type commandDeps struct {
	registry    *backend.Registry
	audioRunner audio.Runner
	detector    namedetect.Detector
}

func defaultDeps() commandDeps {
	reg := backend.NewRegistry()
	_ = reg.Register(pyannote.Name, pyannote.Factory)
	return commandDeps{registry: reg}
}

type commandContext struct {
	configFlag *string
	formatFlag *string
	verbose    *bool
	deps       commandDeps

	configOnce sync.Once
	config     *config.Config
	configErr  error

	log      *slog.Logger
	store    *store.Store
	queue    *queue.Store
	catalog  *catalog.Catalog
	detector *namedetect.LLMDetector
}

func newCommandContext(configFlag, formatFlag *string, verbose *bool, deps commandDeps) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		formatFlag: formatFlag,
		verbose:    verbose,
		deps:       deps,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) format() string {
	if c.formatFlag == nil {
		return formatText
	}
	return strings.ToLower(strings.TrimSpace(*c.formatFlag))
}

func (c *commandContext) isVerbose() bool {
	return c.verbose != nil && *c.verbose
}

// logger writes to speakerid.log in the log directory, and to stderr as
// well in verbose mode.
func (c *commandContext) logger() *slog.Logger {
	if c.log != nil {
		return c.log
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		c.log = logging.NewNop()
		return c.log
	}
	var logger *slog.Logger
	if c.isVerbose() {
		logger, err = logging.NewFromConfig(cfg)
	} else {
		logger, err = logging.New(logging.Options{
			Level:       cfg.Logging.Level,
			Format:      cfg.Logging.Format,
			OutputPaths: []string{filepath.Join(cfg.Paths.LogDir, "speakerid.log")},
		})
	}
	if err != nil {
		logger = logging.NewNop()
	}
	c.log = logger
	return c.log
}

func (c *commandContext) openStore() (*store.Store, error) {
	if c.store != nil {
		return c.store, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg)
	if err != nil {
		return nil, err
	}
	c.store = st
	return st, nil
}

func (c *commandContext) openCatalog() (*catalog.Catalog, error) {
	if c.catalog != nil {
		return c.catalog, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	c.catalog = catalog.New(cfg.Paths.CatalogDir, c.logger())
	return c.catalog, nil
}

func (c *commandContext) openQueue() (*queue.Store, error) {
	if c.queue != nil {
		return c.queue, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	q, err := queue.Open(cfg)
	if err != nil {
		return nil, err
	}
	c.queue = q
	return q, nil
}

// openProcessor builds the batch processor. Dry runs skip the embedding
// backend so they work before it is installed.
func (c *commandContext) openProcessor(dryRun bool) (*process.Processor, error) {
	cat, err := c.openCatalog()
	if err != nil {
		return nil, err
	}
	opts := []process.Option{process.WithLogger(c.logger())}
	if dryRun {
		return process.New(cat, nil, opts...), nil
	}
	st, err := c.openStore()
	if err != nil {
		return nil, err
	}
	b, err := c.openBackend("")
	if err != nil {
		return nil, err
	}
	resolver, err := assign.New(c.config, st, b,
		assign.WithDetector(c.openDetector()),
		assign.WithLogger(c.logger()),
	)
	if err != nil {
		return nil, err
	}
	return process.New(cat, resolver, opts...), nil
}

func (c *commandContext) openLedger() (*ledger.Ledger, error) {
	st, err := c.openStore()
	if err != nil {
		return nil, err
	}
	return ledger.New(st, ledger.NewClipStore(c.config.Paths.SamplesDir), ledger.WithLogger(c.logger())), nil
}

func (c *commandContext) openBackend(name string) (backend.Backend, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		name = cfg.Embedding.Backend
	}
	return c.deps.registry.Open(name, cfg, c.logger())
}

func (c *commandContext) audioTools() *audio.Tools {
	return audio.New(c.config, audio.WithRunner(c.deps.audioRunner))
}

// openDetector returns the name detector, or nil when name detection is
// disabled or has no API key. The reason is logged either way.
func (c *commandContext) openDetector() namedetect.Detector {
	if c.deps.detector != nil {
		return c.deps.detector
	}
	cfg, err := c.ensureConfig()
	if err != nil || !cfg.NameDetection.Enabled {
		return nil
	}
	logger := c.logger()
	if !cfg.LLMConfigured() {
		logging.WarnWithContext(logger, "name detection skipped", "name_detection_unconfigured",
			logging.String(logging.FieldImpact, "labels are resolved from voice and context signals only"),
			logging.String(logging.FieldErrorHint, "set llm.api_key or OPENROUTER_API_KEY"),
		)
		return nil
	}
	detector, err := namedetect.Open(cfg, logger)
	if err != nil {
		logging.WarnWithContext(logger, "name detection unavailable", "name_detection_unavailable",
			logging.Error(err),
			logging.String(logging.FieldImpact, "labels are resolved from voice and context signals only"),
		)
		return nil
	}
	c.detector = detector
	return detector
}

func (c *commandContext) close() error {
	var errs []error
	if c.detector != nil {
		errs = append(errs, c.detector.Close())
		c.detector = nil
	}
	if c.store != nil {
		errs = append(errs, c.store.Close())
		c.store = nil
	}
	if c.queue != nil {
		errs = append(errs, c.queue.Close())
		c.queue = nil
	}
	return errors.Join(errs...)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

// exitCode maps errors to process exit codes: 2 for problems the operator
// must fix first (bad input, configuration, unknown records), 1 otherwise.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if services.IsSetupError(err) {
		return 2
	}
	return 1
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
