// Package config loads application configuration from file and environment
// and initializes the global logger.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	SAM        SAMConfig        `yaml:"sam" mapstructure:"sam"`
	GovWin     GovWinConfig     `yaml:"govwin" mapstructure:"govwin"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Resolver   ResolverConfig   `yaml:"resolver" mapstructure:"resolver"`
	Scorer     ScorerConfig     `yaml:"scorer" mapstructure:"scorer"`
	Search     SearchConfig     `yaml:"search" mapstructure:"search"`
	Evaluator  EvaluatorConfig  `yaml:"evaluator" mapstructure:"evaluator"`
	Events     EventsConfig     `yaml:"events" mapstructure:"events"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// SAMConfig holds notice feed API settings.
type SAMConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// GovWinConfig holds historical-records search API credentials.
type GovWinConfig struct {
	BaseURL      string `yaml:"base_url" mapstructure:"base_url"`
	ClientID     string `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string `yaml:"client_secret" mapstructure:"client_secret"`
	Username     string `yaml:"username" mapstructure:"username"`
	Password     string `yaml:"password" mapstructure:"password"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key         string        `yaml:"key" mapstructure:"key"`
	HaikuModel  string        `yaml:"haiku_model" mapstructure:"haiku_model"`
	SonnetModel string        `yaml:"sonnet_model" mapstructure:"sonnet_model"`
	CallTimeout time.Duration `yaml:"call_timeout" mapstructure:"call_timeout"`
}

// SalesforceConfig holds Salesforce JWT auth settings for CRM export.
type SalesforceConfig struct {
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
	Username string `yaml:"username" mapstructure:"username"`
	KeyPath  string `yaml:"key_path" mapstructure:"key_path"`
	LoginURL string `yaml:"login_url" mapstructure:"login_url"`
}

// ResolverConfig tunes amendment detection.
type ResolverConfig struct {
	// SimilarityThreshold is the minimum normalized title similarity for a
	// stored opportunity to qualify as a predecessor. Business policy, so
	// tunable rather than hardcoded.
	SimilarityThreshold float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
	// InheritReviewFields carries the predecessor's bid-review flags onto an
	// amendment instead of resetting them to Pending.
	InheritReviewFields bool `yaml:"inherit_review_fields" mapstructure:"inherit_review_fields"`
}

// ScorerConfig configures fit scoring.
type ScorerConfig struct {
	RubricPath string `yaml:"rubric_path" mapstructure:"rubric_path"`
	BatchLimit int    `yaml:"batch_limit" mapstructure:"batch_limit"`
}

// SearchConfig configures the match search orchestrator.
type SearchConfig struct {
	FitThreshold          float64 `yaml:"fit_threshold" mapstructure:"fit_threshold"`
	MaxResultsPerStrategy int     `yaml:"max_results_per_strategy" mapstructure:"max_results_per_strategy"`
	TitleKeywords         int     `yaml:"title_keywords" mapstructure:"title_keywords"`
}

// EvaluatorConfig configures match quality evaluation.
type EvaluatorConfig struct {
	Concurrency       int `yaml:"concurrency" mapstructure:"concurrency"`
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// EventsConfig configures outbound entity-state notifications.
type EventsConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FEDMATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("sam.base_url", "https://api.sam.gov/opportunities/v2")
	v.SetDefault("govwin.base_url", "https://services.govwin.com/neo-ws")
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.sonnet_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.call_timeout", "120s")
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("resolver.similarity_threshold", 0.85)
	v.SetDefault("resolver.inherit_review_fields", false)
	v.SetDefault("scorer.rubric_path", "rubric.yaml")
	v.SetDefault("scorer.batch_limit", 50)
	v.SetDefault("search.fit_threshold", 6.0)
	v.SetDefault("search.max_results_per_strategy", 10)
	v.SetDefault("search.title_keywords", 5)
	v.SetDefault("evaluator.concurrency", 4)
	v.SetDefault("evaluator.requests_per_minute", 30)

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
