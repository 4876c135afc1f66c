// Package config loads broker configuration from ~/.surf/config.yaml
// with sensible defaults and a small set of environment overrides. A
// missing config file is not an error; every field has a default.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable the broker reads at startup.
type Config struct {
	// SocketPath is the unix socket CLI clients connect to.
	SocketPath string `yaml:"socket_path"`

	// BatchPacing is the delay between successful batch steps.
	BatchPacing time.Duration `yaml:"batch_pacing"`

	// KeyRepeatPacing is the delay between repeated key presses.
	KeyRepeatPacing time.Duration `yaml:"key_repeat_pacing"`

	// AICooldown is the idle interval the task queue enforces between
	// AI backend requests.
	AICooldown time.Duration `yaml:"ai_cooldown"`

	// Retry policy knobs for AI backend calls.
	MaxRetries        int           `yaml:"max_retries"`
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay"`
	RetryMaxDelay     time.Duration `yaml:"retry_max_delay"`

	// Screenshot artifact handling.
	ScreenshotDir       string        `yaml:"screenshot_dir"`
	MaxDimension        int           `yaml:"max_dimension"`
	AutoScreenshotDelay time.Duration `yaml:"auto_screenshot_delay"`
	AutoScreenshotKeep  int           `yaml:"auto_screenshot_keep"`

	// OpenAIModel is the model used by the API-backed AI backend.
	OpenAIModel string `yaml:"openai_model"`

	// PromptTokenBudget caps page context attached to AI prompts.
	PromptTokenBudget int `yaml:"prompt_token_budget"`
}

// Default returns the built-in configuration.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		SocketPath:          filepath.Join(os.TempDir(), fmt.Sprintf("surf-cli-%d.sock", os.Getuid())),
		BatchPacing:         500 * time.Millisecond,
		KeyRepeatPacing:     50 * time.Millisecond,
		AICooldown:          2 * time.Second,
		MaxRetries:          3,
		RetryInitialDelay:   time.Second,
		RetryMaxDelay:       10 * time.Second,
		ScreenshotDir:       filepath.Join(home, ".surf", "screenshots"),
		MaxDimension:        1200,
		AutoScreenshotDelay: 500 * time.Millisecond,
		AutoScreenshotKeep:  10,
		OpenAIModel:         "gpt-4o",
		PromptTokenBudget:   12000,
	}
}

// Load reads ~/.surf/config.yaml over the defaults, then applies env
// overrides. It only fails on an unreadable or malformed file.
func Load() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Default(), fmt.Errorf("resolve home directory: %w", err)
	}
	return LoadFile(filepath.Join(home, ".surf", "config.yaml"))
}

// LoadFile is Load with an explicit config path, for tests.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults apply.
	case err != nil:
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if v := os.Getenv("SURF_SOCKET"); v != "" {
		cfg.SocketPath = v
	}
	return cfg.validate()
}

func (c Config) validate() (Config, error) {
	if c.MaxRetries < 0 {
		return c, fmt.Errorf("max_retries must not be negative")
	}
	if c.AutoScreenshotKeep < 1 {
		return c, fmt.Errorf("auto_screenshot_keep must be at least 1")
	}
	if c.MaxDimension < 1 {
		return c, fmt.Errorf("max_dimension must be at least 1")
	}
	return c, nil
}
