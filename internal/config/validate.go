package config

import (
	"errors"
	"fmt"
)

var validTrustFloors = map[string]struct{}{
	"unknown": {},
	"low":     {},
	"medium":  {},
	"high":    {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateAssignment(); err != nil {
		return err
	}
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateAssignment() error {
	a := c.Assignment
	if a.Threshold < 0 || a.Threshold > 1 {
		return errors.New("assignment.threshold must be between 0 and 1")
	}
	if _, ok := validTrustFloors[a.MinTrust]; !ok {
		return fmt.Errorf("assignment.min_trust: unsupported value %q (expected unknown, low, medium, or high)", a.MinTrust)
	}
	if a.MediumConfidence <= 0 || a.MediumConfidence > 1 {
		return errors.New("assignment.medium_confidence must be within (0, 1]")
	}
	if a.HighConfidence < a.MediumConfidence || a.HighConfidence > 1 {
		return errors.New("assignment.high_confidence must be between medium_confidence and 1")
	}
	if a.ContextBoost < 0 || a.ContextBoost > 0.25 {
		return errors.New("assignment.context_boost must be between 0 and 0.25")
	}
	return nil
}

func (c *Config) validateLLM() error {
	switch c.LLM.Provider {
	case "openrouter", "openai":
		return nil
	default:
		return fmt.Errorf("llm.provider: unsupported value %q (expected openrouter or openai)", c.LLM.Provider)
	}
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
