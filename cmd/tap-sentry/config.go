package main

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/tap-sentry/pkg/client"
	"github.com/Sternrassler/tap-sentry/pkg/logging"
	"github.com/Sternrassler/tap-sentry/pkg/stream"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	outputStdout = "stdout"
	outputRedis  = "redis"
)

// tapConfig is the connector configuration. Keys follow the Singer config
// file; without --config the environment alone configures the run.
// Variables use the TAP_SENTRY_ prefix with ':' and '.'
// replaced by '_' (TAP_SENTRY_EVENTS_FIELDS for events:fields).
type tapConfig struct {
	AuthToken      string   `mapstructure:"auth_token"`
	Organization   string   `mapstructure:"organization_id_or_slug"`
	APIURL         string   `mapstructure:"api_url"`
	UserAgent      string   `mapstructure:"user_agent"`
	Query          string   `mapstructure:"query"`
	EventFields    []string `mapstructure:"events:fields"`
	EventQuery     string   `mapstructure:"events:query"`
	EventStartDate string   `mapstructure:"events:start_date"`
	EventEndDate   string   `mapstructure:"events:end_date"`

	MaxPages   int           `mapstructure:"max_pages"`
	RateLimit  float64       `mapstructure:"rate_limit"`
	MaxRetries int           `mapstructure:"max_retries"`
	Timeout    time.Duration `mapstructure:"timeout"`

	RedisURL          string        `mapstructure:"redis_url"`
	PageCacheTTL      time.Duration `mapstructure:"page_cache_ttl"`
	Output            string        `mapstructure:"output"`
	RedisStreamPrefix string        `mapstructure:"redis_stream_prefix"`
	RedisStreamMaxLen int64         `mapstructure:"redis_stream_maxlen"`

	MetricsAddr string `mapstructure:"metrics_addr"`
	LogLevel    string `mapstructure:"log_level"`
	LogPretty   bool   `mapstructure:"log_pretty"`
}

func loadConfig(configPath string) (tapConfig, error) {
	var cfg tapConfig

	v := viper.New()
	v.SetEnvPrefix("TAP_SENTRY")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(":", "_", ".", "_"))

	defaults := client.DefaultConfig("")
	v.SetDefault("auth_token", "")
	v.SetDefault("organization_id_or_slug", "")
	v.SetDefault("api_url", client.DefaultBaseURL)
	v.SetDefault("user_agent", "")
	v.SetDefault("query", "")
	v.SetDefault("events:fields", []string{})
	v.SetDefault("events:query", "")
	v.SetDefault("events:start_date", "")
	v.SetDefault("events:end_date", "")
	v.SetDefault("max_pages", 0)
	v.SetDefault("rate_limit", defaults.RateLimit)
	v.SetDefault("max_retries", defaults.MaxRetries)
	v.SetDefault("timeout", defaults.Timeout)
	v.SetDefault("redis_url", "")
	v.SetDefault("page_cache_ttl", time.Duration(0))
	v.SetDefault("output", outputStdout)
	v.SetDefault("redis_stream_prefix", "tap_sentry")
	v.SetDefault("redis_stream_maxlen", 0)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("log_level", string(logging.LevelInfo))
	v.SetDefault("log_pretty", false)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsToDurationHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c tapConfig) validate() error {
	if c.AuthToken == "" {
		return errors.New("auth_token is required")
	}
	if c.Organization == "" {
		return errors.New("organization_id_or_slug is required")
	}
	if c.MaxPages < 0 {
		return fmt.Errorf("invalid max_pages: %d", c.MaxPages)
	}
	switch c.Output {
	case outputStdout:
	case outputRedis:
		if c.RedisURL == "" {
			return errors.New("output redis requires redis_url")
		}
	default:
		return fmt.Errorf("invalid output %q: want %s or %s", c.Output, outputStdout, outputRedis)
	}
	if c.PageCacheTTL > 0 && c.RedisURL == "" {
		return errors.New("page_cache_ttl requires redis_url")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// secondsToDurationHook reads bare numbers for duration keys as seconds, so
// {"timeout": 30} means 30s. Strings with a unit ("90s", "10m") are left to
// StringToTimeDurationHookFunc.
func secondsToDurationHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != durationType || from == durationType {
			return data, nil
		}
		switch v := data.(type) {
		case int:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		case string:
			if secs, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return time.Duration(secs * float64(time.Second)), nil
			}
		}
		return data, nil
	}
}

// settings returns the per-run stream settings.
func (c tapConfig) settings() stream.Settings {
	return stream.Settings{
		OrganizationID: c.Organization,
		Query:          c.Query,
		EventFields:    c.EventFields,
		EventQuery:     c.EventQuery,
		EventStart:     c.EventStartDate,
		EventEnd:       c.EventEndDate,
	}
}

// clientConfig returns the transport configuration; Redis is attached by
// the caller.
func (c tapConfig) clientConfig() client.Config {
	cfg := client.DefaultConfig(c.AuthToken)
	cfg.BaseURL = c.APIURL
	cfg.UserAgent = c.UserAgent
	cfg.RateLimit = c.RateLimit
	cfg.MaxRetries = c.MaxRetries
	cfg.Timeout = c.Timeout
	cfg.RateLimitNamespace = "tap_sentry:rate_limit:" + c.Organization
	cfg.PageCacheTTL = c.PageCacheTTL
	cfg.CacheScope = c.Organization
	return cfg
}
