// Package config loads application configuration from config.yaml and the
// environment, and initializes the global logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	LLM       LLMConfig       `yaml:"llm" mapstructure:"llm"`
	Matcher   MatcherConfig   `yaml:"matcher" mapstructure:"matcher"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// AnthropicConfig holds Anthropic API settings for the completion capability.
type AnthropicConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	Model       string  `yaml:"model" mapstructure:"model"`
	MaxTokens   int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
}

// LLMConfig tunes access to the shared completion capability.
type LLMConfig struct {
	// MaxConcurrent matches the number of independently-loaded generation
	// contexts. Calls beyond this queue on the gate.
	MaxConcurrent     int64 `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	RequestsPerMinute int   `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	CallTimeoutSecs   int   `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
	RetryAttempts     int   `yaml:"retry_attempts" mapstructure:"retry_attempts"`
}

// MatcherConfig holds the trial-matching policy. The rubric is configuration,
// not hard-coded medical fact: each entry becomes an evaluation criterion in
// the matching prompt, in order.
type MatcherConfig struct {
	Rubric []string `yaml:"rubric" mapstructure:"rubric"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port      int    `yaml:"port" mapstructure:"port"`
	StaticDir string `yaml:"static_dir" mapstructure:"static_dir"`
	// RetryMalformed enables a single explicit retry with a temperature
	// bump when the completion emits unparseable output.
	RetryMalformed bool `yaml:"retry_malformed" mapstructure:"retry_malformed"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultRubric lists the evaluation criteria used when none are configured.
var DefaultRubric = []string{
	"Cancer type / condition matches the trial's target conditions",
	"Biomarker matches (specific named mutations are first-class criteria)",
	"Disease stage compatibility",
	"Age requirements",
	"Performance status compatibility",
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MEDMATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Every key needs a registered default or AutomaticEnv
	// overrides never reach Unmarshal.
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 2000)
	v.SetDefault("anthropic.temperature", 0.1)
	v.SetDefault("llm.max_concurrent", 1)
	v.SetDefault("llm.requests_per_minute", 0)
	v.SetDefault("llm.call_timeout_secs", 120)
	v.SetDefault("llm.retry_attempts", 3)
	v.SetDefault("matcher.rubric", DefaultRubric)
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.static_dir", "")
	v.SetDefault("server.retry_malformed", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
