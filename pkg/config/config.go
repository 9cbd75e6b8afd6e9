// Package config loads runtime configuration via viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the full set of environment-driven settings: store DSN,
// embedding base URL + key, LLM base URL + key, catalog
// base URL + credentials, idle threshold, refine threshold, RRF
// weights, brand-cache TTL").
type Config struct {
	StoreDSN string `mapstructure:"store_dsn"`
	RedisURL string `mapstructure:"redis_url"`

	EmbeddingBaseURL string `mapstructure:"embedding_base_url"`
	EmbeddingAPIKey  string `mapstructure:"embedding_api_key"`
	EmbeddingModel   string `mapstructure:"embedding_model"`

	LLMBaseURL  string `mapstructure:"llm_base_url"`
	LLMAPIKey   string `mapstructure:"llm_api_key"`
	LLMCheap    string `mapstructure:"llm_model_cheap"`
	LLMStandard string `mapstructure:"llm_model_standard"`
	LLMStrong   string `mapstructure:"llm_model_strong"`

	CatalogBaseURL string `mapstructure:"catalog_base_url"`
	CatalogAPIKey  string `mapstructure:"catalog_api_key"`
	CatalogConcurrency int `mapstructure:"catalog_concurrency"`

	WebhookSecret string `mapstructure:"webhook_secret"`

	IdleThreshold   time.Duration `mapstructure:"idle_threshold"`
	RefineThreshold int           `mapstructure:"refine_threshold"`
	RRFK            int           `mapstructure:"rrf_k"`
	RRFVectorWeight float64       `mapstructure:"rrf_vector_weight"`
	RRFTextWeight   float64       `mapstructure:"rrf_text_weight"`
	BrandCacheTTL   time.Duration `mapstructure:"brand_cache_ttl"`

	EscalationPhrases []string `mapstructure:"escalation_phrases"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	HTTPAddr string `mapstructure:"http_addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("idle_threshold", 30*time.Minute)
	v.SetDefault("refine_threshold", 15)
	v.SetDefault("rrf_k", 60)
	v.SetDefault("rrf_vector_weight", 0.6)
	v.SetDefault("rrf_text_weight", 0.4)
	v.SetDefault("brand_cache_ttl", 60*time.Second)
	v.SetDefault("catalog_concurrency", 8)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("llm_model_cheap", "gpt-4o-mini")
	v.SetDefault("llm_model_standard", "gpt-4o")
	v.SetDefault("llm_model_strong", "gpt-4o")
	v.SetDefault("escalation_phrases", []string{
		"talk to a human", "speak to a person", "quiero hablar con una persona",
		"refund", "reembolso", "complaint", "queja",
	})
}

// Load reads configuration from a file (if present), environment
// variables (prefix ASSIST_), and CLI flags, in that precedence order
// (flags win).
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("assist")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("config: bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}
