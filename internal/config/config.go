// Package config loads Garvis settings from an optional JSON or YAML file and
// the process environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"garvis/internal/domain"

	"gopkg.in/yaml.v3"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// Config is the root configuration.
type Config struct {
	App      AppConfig      `json:"app" yaml:"app"`
	Slack    SlackConfig    `json:"slack" yaml:"slack"`
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	Agents   AgentsConfig   `json:"agents" yaml:"agents"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
}

type AppConfig struct {
	Env       string `json:"env" yaml:"env"`             // development | production | test
	LogLevel  string `json:"logLevel" yaml:"logLevel"`   // debug | info | warn | error
	LogFormat string `json:"logFormat" yaml:"logFormat"` // "" picks text in development, json otherwise
	LogFile   string `json:"logFile,omitempty" yaml:"logFile,omitempty"`
	Port      int    `json:"port" yaml:"port"` // metrics and health endpoints
}

type SlackConfig struct {
	Enabled         bool     `json:"enabled" yaml:"enabled"`
	BotToken        string   `json:"botToken" yaml:"botToken"`
	AppToken        string   `json:"appToken" yaml:"appToken"` // Socket Mode
	SigningSecret   string   `json:"signingSecret" yaml:"signingSecret"`
	SlashCommand    string   `json:"slashCommand" yaml:"slashCommand"`
	ChannelKeywords []string `json:"channelKeywords" yaml:"channelKeywords"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled" yaml:"enabled"`
	Token     string         `json:"token" yaml:"token"`
	AllowFrom FlexStringList `json:"allowFrom" yaml:"allowFrom"`
	ParseMode string         `json:"parseMode" yaml:"parseMode"`
}

type AgentsConfig struct {
	TimeoutMs           int     `json:"timeoutMs" yaml:"timeoutMs"` // 0 disables the timeout
	MaxConcurrentAgents int     `json:"maxConcurrentAgents" yaml:"maxConcurrentAgents"`
	MaxConcurrentMsgs   int     `json:"maxConcurrentMessages" yaml:"maxConcurrentMessages"`
	TaskStoreDSN        string  `json:"taskStoreDsn" yaml:"taskStoreDsn"` // empty keeps tasks in memory
	RatePerMinute       float64 `json:"ratePerMinute" yaml:"ratePerMinute"`
	RateBurst           int     `json:"rateBurst" yaml:"rateBurst"`
}

// Timeout returns the per-execution timeout.
func (a AgentsConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutMs) * time.Millisecond
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// FlexStringList is a []string that also accepts numbers, so Telegram user
// IDs can be written either way (["123", 456]).
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// UnmarshalYAML accepts a sequence of scalars; YAML scalars decode to their
// literal text, so numbers need no special casing.
func (f *FlexStringList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: expected a list", node.Line)
	}
	result := make([]string, 0, len(node.Content))
	for _, item := range node.Content {
		if item.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: expected a scalar", item.Line)
		}
		result = append(result, item.Value)
	}
	*f = result
	return nil
}

func (c *Config) IsDevelopment() bool { return c.App.Env == EnvDevelopment }
func (c *Config) IsProduction() bool  { return c.App.Env == EnvProduction }

// DefaultConfigDir returns ~/.garvis.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".garvis"
	}
	return filepath.Join(home, ".garvis")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Load builds the configuration: defaults, then the file at path (skipped
// when path is empty), then environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		path = ExpandPath(path)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, domain.NewConfigError("cannot read config file", map[string]any{"path": path}, err)
		}
		data = []byte(ExpandEnvVars(string(data)))
		if err := decode(path, data, cfg); err != nil {
			return nil, domain.NewConfigError("cannot parse config file", map[string]any{"path": path}, err)
		}
	}

	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	cfg.App.LogFile = ExpandPath(cfg.App.LogFile)
	cfg.Agents.TaskStoreDSN = ExpandPath(cfg.Agents.TaskStoreDSN)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func decode(path string, data []byte, cfg *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, cfg)
	}
	return json.Unmarshal(data, cfg)
}

// applyEnv overrides file values with the documented environment variables.
// A bot token in the environment also enables its channel.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) bool {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
			return true
		}
		return false
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(name)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return domain.NewConfigError(name+" must be a number",
				map[string]any{"variable": name, "value": v},
				fmt.Errorf("%w: %w", domain.ErrInvalidSetting, err))
		}
		*dst = n
		return nil
	}

	if str("SLACK_BOT_TOKEN", &cfg.Slack.BotToken) {
		cfg.Slack.Enabled = true
	}
	str("SLACK_APP_TOKEN", &cfg.Slack.AppToken)
	str("SLACK_SIGNING_SECRET", &cfg.Slack.SigningSecret)
	if str("TELEGRAM_BOT_TOKEN", &cfg.Telegram.Token) {
		cfg.Telegram.Enabled = true
	}
	str("GARVIS_ENV", &cfg.App.Env)
	str("LOG_LEVEL", &cfg.App.LogLevel)

	if err := num("PORT", &cfg.App.Port); err != nil {
		return err
	}
	if err := num("AGENT_TIMEOUT", &cfg.Agents.TimeoutMs); err != nil {
		return err
	}
	return num("MAX_CONCURRENT_AGENTS", &cfg.Agents.MaxConcurrentAgents)
}

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the variable's value. ${VAR:-default}
// uses default when VAR is unset or empty; an unset VAR without a default is
// left untouched.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

// Save writes cfg as YAML or JSON depending on the file extension.
func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks required settings and value ranges. Failures are
// CONFIG_ERRORs; missing settings are listed under the "missing" context key.
func Validate(cfg *Config) error {
	if cfg.Slack.Enabled {
		var missing []string
		if cfg.Slack.BotToken == "" {
			missing = append(missing, "SLACK_BOT_TOKEN")
		}
		if cfg.Slack.AppToken == "" {
			missing = append(missing, "SLACK_APP_TOKEN")
		}
		if cfg.Slack.SigningSecret == "" {
			missing = append(missing, "SLACK_SIGNING_SECRET")
		}
		if len(missing) > 0 {
			return domain.NewConfigError("Missing required Slack configuration",
				map[string]any{"missing": missing}, domain.ErrMissingSetting)
		}
	}
	if cfg.Telegram.Enabled && cfg.Telegram.Token == "" {
		return domain.NewConfigError("Missing required Telegram configuration",
			map[string]any{"missing": []string{"TELEGRAM_BOT_TOKEN"}}, domain.ErrMissingSetting)
	}

	var errs []string
	switch cfg.App.Env {
	case EnvDevelopment, EnvProduction, EnvTest:
	default:
		errs = append(errs, "app.env must be one of: development, production, test")
	}
	switch strings.ToLower(cfg.App.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, "app.logLevel must be one of: debug, info, warn, error")
	}
	switch cfg.App.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, "app.logFormat must be text or json")
	}
	if cfg.App.Port < 0 || cfg.App.Port > 65535 {
		errs = append(errs, "app.port must be between 0 and 65535")
	}
	if cfg.Agents.TimeoutMs < 0 {
		errs = append(errs, "agents.timeoutMs must be >= 0")
	}
	if cfg.Agents.MaxConcurrentAgents < 1 {
		errs = append(errs, "agents.maxConcurrentAgents must be >= 1")
	}
	if cfg.Agents.MaxConcurrentMsgs < 1 || cfg.Agents.MaxConcurrentMsgs > 100 {
		errs = append(errs, "agents.maxConcurrentMessages must be between 1 and 100")
	}
	if cfg.Agents.RatePerMinute < 0 || cfg.Agents.RateBurst < 0 {
		errs = append(errs, "agents.ratePerMinute and agents.rateBurst must be >= 0")
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, "metrics.path must start with /")
	}

	if len(errs) > 0 {
		return domain.NewConfigError("invalid configuration:\n  - "+strings.Join(errs, "\n  - "),
			map[string]any{"errors": errs}, domain.ErrInvalidSetting)
	}
	return nil
}

// ExpandPath resolves a leading ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// IsNotExist reports whether a Load error came from a missing file.
func IsNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
