// Package config loads application configuration from config.yaml, .env and
// the environment, and installs the global logger.
package config

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	OCR    OCRConfig    `yaml:"ocr" mapstructure:"ocr"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Poll   PollConfig   `yaml:"poll" mapstructure:"poll"`
	Batch  BatchConfig  `yaml:"batch" mapstructure:"batch"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the slip record store.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// OCRConfig selects and configures the text-extraction collaborator.
type OCRConfig struct {
	Provider       string  `yaml:"provider" mapstructure:"provider"`
	TesseractPath  string  `yaml:"tesseract_path" mapstructure:"tesseract_path"`
	MistralKey     string  `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel   string  `yaml:"mistral_ocr_model" mapstructure:"mistral_ocr_model"`
	AnthropicKey   string  `yaml:"anthropic_api_key" mapstructure:"anthropic_api_key"`
	AnthropicModel string  `yaml:"anthropic_model" mapstructure:"anthropic_model"`
	RatePerSecond  float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	RateBurst      int     `yaml:"rate_burst" mapstructure:"rate_burst"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// PollConfig configures the status watcher.
type PollConfig struct {
	IntervalSecs int `yaml:"interval_secs" mapstructure:"interval_secs"`
}

// BatchConfig configures batch re-validation.
type BatchConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config file and environment.
func Load() (*Config, error) {
	// .env is optional and never overrides an already-set variable.
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SLIPCHECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "slipcheck.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("ocr.provider", "tesseract")
	v.SetDefault("ocr.tesseract_path", "tesseract")
	v.SetDefault("ocr.mistral_api_key", "")
	v.SetDefault("ocr.mistral_ocr_model", "pixtral-large-latest")
	v.SetDefault("ocr.anthropic_api_key", "")
	v.SetDefault("ocr.anthropic_model", "claude-haiku-4-5-20251001")
	v.SetDefault("ocr.rate_per_second", 2.0)
	v.SetDefault("ocr.rate_burst", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("poll.interval_secs", 5)
	v.SetDefault("batch.max_concurrent", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Default returns the configuration produced by defaults alone, used by
// `slipcheck config init` to render a starting config.yaml.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always unmarshal cleanly.
	_ = v.Unmarshal(&cfg)
	return &cfg
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
