// Package config loads Options for the FlagKit client, merging compiled-in
// defaults, an optional config file, and FLAGKIT_-prefixed environment
// variables. Layering is built on viper, the configuration library the
// rest of the corpus uses for service configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/flagkit/flagkit-go/pkg/errors"
	"github.com/flagkit/flagkit-go/pkg/model"
	"github.com/spf13/viper"
)

// DefaultBaseURL is the production API endpoint used when no override is
// configured.
const DefaultBaseURL = "https://api.flagkit.dev/api/v1"

const (
	DefaultPollingInterval = 30 * time.Second
	DefaultCacheTTL        = 5 * time.Minute
	DefaultTimeout         = 5 * time.Second
	DefaultRetries         = 3
)

// EvaluationJitter adds a small uniform delay inside Evaluate to blur
// cache-hit timing. Disabled by default.
type EvaluationJitter struct {
	Enabled bool
	MinMs   int
	MaxMs   int
}

// ErrorSanitization controls whether outgoing error messages are redacted
// before they reach OnError or an Error() string.
type ErrorSanitization struct {
	Enabled bool
}

// Callbacks are the user-supplied hooks invoked from internal workers.
// None are required; a nil callback is simply skipped.
type Callbacks struct {
	OnReady             func()
	OnError             func(error)
	OnUpdate            func([]model.FlagState)
	OnUsageUpdate       func(apiUsagePercent, evalUsagePercent *float64, rateLimitWarning bool, subscriptionStatus string)
	OnSubscriptionError func(message string)
	OnConnectionLimit   func()
	OnVersionInfo       func(min, recommended, latest, deprecationWarning string)
}

// Options configures a Client. APIKey is the only required field; every
// other field carries a usable default via Defaults().
type Options struct {
	APIKey              string `mapstructure:"api_key"`
	SecondaryAPIKey     string `mapstructure:"secondary_api_key"`
	BaseURL             string `mapstructure:"base_url"`
	PollingInterval     time.Duration `mapstructure:"polling_interval"`
	EnablePolling       bool   `mapstructure:"enable_polling"`
	EnableStreaming     bool   `mapstructure:"enable_streaming"`
	CacheEnabled        bool   `mapstructure:"cache_enabled"`
	CacheTTL            time.Duration `mapstructure:"cache_ttl"`
	CacheMaxSize        int    `mapstructure:"cache_max_size"`
	Offline             bool   `mapstructure:"offline"`
	Timeout             time.Duration `mapstructure:"timeout"`
	Retries             int    `mapstructure:"retries"`
	Bootstrap           map[string]interface{} `mapstructure:"bootstrap"`
	BootstrapConfig     *model.BootstrapConfig
	BootstrapVerification model.BootstrapVerificationConfig
	BootstrapFilePath   string `mapstructure:"bootstrap_file_path"`
	EnableRequestSigning bool  `mapstructure:"enable_request_signing"`
	EnableCacheEncryption bool `mapstructure:"enable_cache_encryption"`
	EvaluationJitter    EvaluationJitter
	ErrorSanitization   ErrorSanitization
	Callbacks           Callbacks
}

// Defaults returns an Options with every field set to its documented
// default except APIKey, which the caller must still supply.
func Defaults() Options {
	return Options{
		BaseURL:              DefaultBaseURL,
		PollingInterval:      DefaultPollingInterval,
		EnablePolling:        true,
		EnableStreaming:      false,
		CacheEnabled:         true,
		CacheTTL:             DefaultCacheTTL,
		CacheMaxSize:         1000,
		Timeout:              DefaultTimeout,
		Retries:              DefaultRetries,
		Bootstrap:            map[string]interface{}{},
		BootstrapVerification: model.BootstrapVerificationConfig{
			Enabled:   true,
			OnFailure: model.OnFailureWarn,
		},
		EnableRequestSigning: true,
		EnableCacheEncryption: false,
		EvaluationJitter:     EvaluationJitter{Enabled: false},
		ErrorSanitization:    ErrorSanitization{Enabled: false},
	}
}

// Validate checks the fields that would otherwise fail obscurely deep
// inside a component constructor.
func (o Options) Validate() error {
	if o.APIKey == "" {
		return errors.New(errors.ConfigMissingRequired, "api key is required")
	}
	if len(o.APIKey) < 10 {
		return errors.New(errors.ConfigInvalidAPIKey, "api key is too short")
	}
	if !hasValidPrefix(o.APIKey) {
		return errors.New(errors.ConfigInvalidAPIKey, "api key must start with sdk_, srv_, or cli_")
	}
	if o.PollingInterval < time.Second {
		return errors.New(errors.ConfigInvalidInterval, "polling interval must be at least 1 second")
	}
	if o.BaseURL == "" {
		return errors.New(errors.ConfigInvalidURL, "base url must not be empty")
	}
	return nil
}

func hasValidPrefix(key string) bool {
	for _, prefix := range []string{"sdk_", "srv_", "cli_"} {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// LoadOptions merges, lowest to highest priority: compiled-in defaults, an
// optional YAML/JSON file at path (skipped if path is empty or the file
// does not exist), then environment variables prefixed FLAGKIT_, e.g.
// FLAGKIT_API_KEY, FLAGKIT_POLLING_INTERVAL. Callbacks and BootstrapConfig
// are never read from file or environment; set them on the result
// directly after loading.
func LoadOptions(path string) (*Options, error) {
	defaults := Defaults()

	v := viper.New()
	v.SetEnvPrefix("FLAGKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, val := range defaultsToMap(defaults) {
		v.SetDefault(key, val)
	}

	if path != "" {
		if _, statErr := os.Stat(path); statErr == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, errors.Wrap(errors.ConfigMissingRequired, fmt.Sprintf("reading config file %s", path), err)
			}
		}
	}

	opts := defaults
	opts.APIKey = v.GetString("api_key")
	opts.SecondaryAPIKey = v.GetString("secondary_api_key")
	opts.BaseURL = v.GetString("base_url")
	opts.PollingInterval = v.GetDuration("polling_interval")
	opts.EnablePolling = v.GetBool("enable_polling")
	opts.EnableStreaming = v.GetBool("enable_streaming")
	opts.CacheEnabled = v.GetBool("cache_enabled")
	opts.CacheTTL = v.GetDuration("cache_ttl")
	opts.CacheMaxSize = v.GetInt("cache_max_size")
	opts.Offline = v.GetBool("offline")
	opts.Timeout = v.GetDuration("timeout")
	opts.Retries = v.GetInt("retries")
	opts.BootstrapFilePath = v.GetString("bootstrap_file_path")
	opts.EnableRequestSigning = v.GetBool("enable_request_signing")
	opts.EnableCacheEncryption = v.GetBool("enable_cache_encryption")

	if bootstrap := v.GetStringMap("bootstrap"); len(bootstrap) > 0 {
		opts.Bootstrap = bootstrap
	}

	return &opts, nil
}

// defaultsToMap projects the subset of Options viper understands into a
// flat key/value map suitable for v.SetDefault.
func defaultsToMap(o Options) map[string]interface{} {
	return map[string]interface{}{
		"base_url":                o.BaseURL,
		"polling_interval":        o.PollingInterval,
		"enable_polling":          o.EnablePolling,
		"enable_streaming":        o.EnableStreaming,
		"cache_enabled":           o.CacheEnabled,
		"cache_ttl":               o.CacheTTL,
		"cache_max_size":          o.CacheMaxSize,
		"offline":                 o.Offline,
		"timeout":                 o.Timeout,
		"retries":                 o.Retries,
		"enable_request_signing":  o.EnableRequestSigning,
		"enable_cache_encryption": o.EnableCacheEncryption,
	}
}
