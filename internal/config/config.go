// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package config

import (
	"errors"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// TECHDESK_SERVER_LISTEN for server.listen.
const EnvPrefix = "TECHDESK"

// Config is the top-level TechDesk configuration.
type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
	Models    ModelsConfig              `mapstructure:"models"`
	Agents    AgentsConfig              `mapstructure:"agents"`
	Profiles  ProfilesConfig            `mapstructure:"profiles"`
	Storage   StorageConfig             `mapstructure:"storage"`
	Knowledge KnowledgeConfig           `mapstructure:"knowledge"`
	Backend   BackendConfig             `mapstructure:"backend"`
	Logging   LoggingConfig             `mapstructure:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Listen       string        `mapstructure:"listen"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	EnableHSTS   bool          `mapstructure:"enable_hsts"`
	RateLimit    RateLimit     `mapstructure:"rate_limit"`
}

// RateLimit throttles API requests per client IP. A zero rate disables it.
type RateLimit struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// ProviderConfig holds credentials and endpoint for an LLM provider.
type ProviderConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
}

// ModelsConfig selects a model per agent role. Empty role entries fall
// back to Default.
type ModelsConfig struct {
	Default      string   `mapstructure:"default"`
	Failover     []string `mapstructure:"failover"`
	Policy       string   `mapstructure:"policy"`
	Confirmation string   `mapstructure:"confirmation"`
	Triage       string   `mapstructure:"triage"`
	Action       string   `mapstructure:"action"`
	Knowledge    string   `mapstructure:"knowledge"`
	Composer     string   `mapstructure:"composer"`
}

// For returns the model for a role, or Default when the role has none.
func (m ModelsConfig) For(role string) string {
	var ref string
	switch role {
	case "policy":
		ref = m.Policy
	case "confirmation":
		ref = m.Confirmation
	case "triage":
		ref = m.Triage
	case "action":
		ref = m.Action
	case "knowledge":
		ref = m.Knowledge
	case "composer":
		ref = m.Composer
	}
	if ref == "" {
		return m.Default
	}
	return ref
}

type AgentsConfig struct {
	Policy PolicyAgentConfig `mapstructure:"policy"`
}

// PolicyAgentConfig lets operators replace the built-in policy prompt.
type PolicyAgentConfig struct {
	InstructionsFile string `mapstructure:"instructions_file"`
}

type ProfilesConfig struct {
	File string `mapstructure:"file"`
}

// StorageConfig selects where conversation state lives.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// KnowledgeConfig points at the markdown corpus and its search index.
type KnowledgeConfig struct {
	Dir       string `mapstructure:"dir"`
	IndexPath string `mapstructure:"index_path"`
}

// BackendConfig holds Azure DevOps connection settings.
type BackendConfig struct {
	Organization    string `mapstructure:"organization"`
	Project         string `mapstructure:"project"`
	PAT             string `mapstructure:"pat"`
	BaseURL         string `mapstructure:"base_url"`
	// IdentityBaseURL hosts the identities API used for permission grants.
	IdentityBaseURL string `mapstructure:"identity_base_url"`
	APIVersion      string `mapstructure:"api_version"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", "127.0.0.1:3000")
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Minute)
	v.SetDefault("server.rate_limit.requests_per_second", 2)
	v.SetDefault("server.rate_limit.burst", 10)
	v.SetDefault("models.default", "anthropic/claude-sonnet-4-5")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.path", "techdesk.db")
	v.SetDefault("knowledge.dir", "knowledge")
	v.SetDefault("knowledge.index_path", "knowledge.db")
	v.SetDefault("backend.base_url", "https://dev.azure.com")
	v.SetDefault("backend.identity_base_url", "https://vssps.dev.azure.com")
	v.SetDefault("backend.api_version", "7.1")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// SetupEnv binds TECHDESK_* environment overrides.
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, tderr.Errorf(tderr.CodeConfigParseInvalidFormat, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, tderr.Errorf(tderr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}
	return &cfg, nil
}

// Load reads configuration from path (optional) on top of defaults and
// environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	SetupEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, tderr.Errorf(tderr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}
	return FromViper(v)
}

// Validate returns every problem found rather than stopping at the first.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateModels()...)
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateLogging()...)

	return errs
}

func (c *Config) validateServer() []error {
	if c.Server.Listen == "" {
		return []error{invalid("config: server.listen must not be empty")}
	}

	_, portStr, err := net.SplitHostPort(c.Server.Listen)
	if err != nil {
		return []error{tderr.Errorf(tderr.CodeConfigValidateInvalidValue,
			"config: server.listen must be a valid host:port address, got %q: %w", c.Server.Listen, err)}
	}

	var errs []error
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		errs = append(errs, tderr.Errorf(tderr.CodeConfigValidateInvalidValue,
			"config: server.listen port must be between 1 and 65535, got %q", portStr))
	}
	if rl := c.Server.RateLimit; rl.RequestsPerSecond < 0 || (rl.RequestsPerSecond > 0 && rl.Burst <= 0) {
		errs = append(errs, tderr.Errorf(tderr.CodeConfigValidateInvalidValue,
			"config: server.rate_limit needs a non-negative rate and a positive burst, got rate=%g burst=%d",
			rl.RequestsPerSecond, rl.Burst))
	}
	return errs
}

func (c *Config) validateModels() []error {
	var errs []error

	refs := map[string]string{
		"models.default":      c.Models.Default,
		"models.policy":       c.Models.Policy,
		"models.confirmation": c.Models.Confirmation,
		"models.triage":       c.Models.Triage,
		"models.action":       c.Models.Action,
		"models.knowledge":    c.Models.Knowledge,
		"models.composer":     c.Models.Composer,
	}
	for i, ref := range c.Models.Failover {
		refs["models.failover["+strconv.Itoa(i)+"]"] = ref
	}

	keys := make([]string, 0, len(refs))
	for k := range refs {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, key := range keys {
		ref := refs[key]
		if ref == "" {
			if key == "models.default" {
				errs = append(errs, invalid("config: models.default must not be empty"))
			}
			continue
		}
		if !strings.Contains(ref, "/") {
			errs = append(errs, tderr.Errorf(tderr.CodeConfigValidateInvalidValue,
				"config: %s must be in \"provider/model\" format, got %q", key, ref))
			continue
		}
		// A nil providers map means a defaults-only install, which is valid.
		if c.Providers == nil {
			continue
		}
		if _, ok := c.Providers[ProviderFromModel(ref)]; !ok {
			errs = append(errs, tderr.Errorf(tderr.CodeConfigValidateInvalidValue,
				"config: %s %q references provider %q which is not configured", key, ref, ProviderFromModel(ref)))
		}
	}

	return errs
}

func (c *Config) validateStorage() []error {
	switch c.Storage.Backend {
	case "memory":
		return nil
	case "sqlite":
		if c.Storage.Path == "" {
			return []error{invalid("config: storage.path is required for the sqlite backend")}
		}
		return nil
	default:
		return []error{tderr.Errorf(tderr.CodeConfigValidateInvalidValue,
			"config: storage.backend must be one of [memory, sqlite], got %q", c.Storage.Backend)}
	}
}

func (c *Config) validateLogging() []error {
	var errs []error

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.Logging.Level)) {
		errs = append(errs, tderr.Errorf(tderr.CodeConfigValidateInvalidValue,
			"config: logging.level must be one of [debug, info, warn, error], got %q", c.Logging.Level))
	}
	if !slices.Contains([]string{"text", "json"}, c.Logging.Format) {
		errs = append(errs, tderr.Errorf(tderr.CodeConfigValidateInvalidValue,
			"config: logging.format must be one of [text, json], got %q", c.Logging.Format))
	}

	return errs
}

// ProviderFromModel extracts the provider prefix from a "provider/model" ref.
func ProviderFromModel(model string) string {
	if idx := strings.Index(model, "/"); idx > 0 {
		return model[:idx]
	}
	return model
}

func invalid(msg string) error {
	return tderr.New(tderr.CodeConfigValidateInvalidValue, msg)
}
