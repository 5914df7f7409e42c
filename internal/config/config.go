// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger    LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	Browser   BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	Agent     AgentConfig       `mapstructure:"agent" yaml:"agent"`
	LLM       LLMConfig         `mapstructure:"llm" yaml:"llm"`
	Artifacts ArtifactsConfig   `mapstructure:"artifacts" yaml:"artifacts"`
	Sites     map[string]string `mapstructure:"sites" yaml:"sites"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig holds settings for the headless browser instances.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	ViewportWidth     int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight    int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	SettleTimeout     time.Duration `mapstructure:"settle_timeout" yaml:"settle_timeout"`
}

// AgentConfig tunes the perception-decide-act loop.
type AgentConfig struct {
	MaxSteps               int           `mapstructure:"max_steps" yaml:"max_steps"`
	StepPacing             time.Duration `mapstructure:"step_pacing" yaml:"step_pacing"`
	WaitInterval           time.Duration `mapstructure:"wait_interval" yaml:"wait_interval"`
	DecisionTimeout        time.Duration `mapstructure:"decision_timeout" yaml:"decision_timeout"`
	DecisionRetries        int           `mapstructure:"decision_retries" yaml:"decision_retries"`
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures" yaml:"max_consecutive_failures"`
}

// LLMConfig defines the vision model used for the decision step.
type LLMConfig struct {
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	TopP        float32       `mapstructure:"top_p" yaml:"top_p"`
	TopK        int           `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// ArtifactsConfig controls the per-session archive (chronological log and
// numbered screenshots).
type ArtifactsConfig struct {
	Dir             string `mapstructure:"dir" yaml:"dir"`
	SaveScreenshots bool   `mapstructure:"save_screenshots" yaml:"save_screenshots"`
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "webpilot")
	v.SetDefault("logger.log_file", "webpilot.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.viewport_width", 1920)
	v.SetDefault("browser.viewport_height", 1080)
	v.SetDefault("browser.navigation_timeout", "90s")
	v.SetDefault("browser.settle_timeout", "3s")

	// -- Agent --
	v.SetDefault("agent.max_steps", 50)
	v.SetDefault("agent.step_pacing", "500ms")
	v.SetDefault("agent.wait_interval", "3s")
	v.SetDefault("agent.decision_timeout", "60s")
	v.SetDefault("agent.decision_retries", 3)
	v.SetDefault("agent.max_consecutive_failures", 5)

	// -- LLM --
	v.SetDefault("llm.model", "gemini-2.5-pro")
	v.SetDefault("llm.api_timeout", "2m")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 4096)

	// -- Artifacts --
	v.SetDefault("artifacts.dir", "logs")
	v.SetDefault("artifacts.save_screenshots", true)

	// -- Known site shortcuts --
	v.SetDefault("sites", map[string]string{
		"baidu":  "https://www.baidu.com/",
		"bing":   "https://www.bing.com/",
		"google": "https://www.google.com/",
	})
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	v.BindEnv("llm.api_key", "GEMINI_API_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Manually load the key if Unmarshal didn't pick it up.
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		return fmt.Errorf("browser.viewport_width and browser.viewport_height must be positive")
	}
	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("agent.max_steps must be a positive integer")
	}
	if c.Agent.DecisionRetries <= 0 {
		return fmt.Errorf("agent.decision_retries must be a positive integer")
	}
	if c.Agent.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("agent.max_consecutive_failures must be a positive integer")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is a required configuration field")
	}
	return nil
}
