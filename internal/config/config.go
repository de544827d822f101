package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Config is the root configuration for RelayBot.
type Config struct {
	General    GeneralConfig    `json:"general"`
	Mail       MailConfig       `json:"mail"`
	Telegram   TelegramConfig   `json:"telegram"`
	Generation GenerationConfig `json:"generation"`
	Workflows  WorkflowsConfig  `json:"workflows"`
	Metrics    MetricsConfig    `json:"metrics"`
	CLI        CLIConfig        `json:"cli"`
}

type GeneralConfig struct {
	DataDir  string `json:"dataDir"`
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile,omitempty"` // optional log file path
}

// MailConfig configures the mail-style messaging adapter.
type MailConfig struct {
	Enabled        bool   `json:"enabled"`
	BaseURL        string `json:"baseUrl,omitempty"`
	Token          string `json:"token,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
	Fallback       bool   `json:"fallback"`     // serve demo records when the backend is missing or failing
	SimulateSend   bool   `json:"simulateSend"` // confirm sends locally when the backend is missing or failing
}

// TelegramConfig configures both the telegram chat adapter and the
// telegram user surface.
type TelegramConfig struct {
	Enabled     bool           `json:"enabled"`
	Token       string         `json:"token"`
	DefaultChat string         `json:"defaultChat,omitempty"` // target when a chat command names none
	AllowFrom   FlexStringList `json:"allowFrom"`
	ParseMode   string         `json:"parseMode"`
	Fallback    bool           `json:"fallback"` // serve demo records from fetch when unconfigured
}

// GenerationConfig configures the free-text generation engine.
type GenerationConfig struct {
	Enabled        bool   `json:"enabled"`
	APIBase        string `json:"apiBase,omitempty"`
	Model          string `json:"model,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty"`
	MaxHistory     int    `json:"maxHistory"` // turns kept per chat for generation context
}

// WorkflowsConfig configures persistent forwarding workflows.
type WorkflowsConfig struct {
	Enabled             bool   `json:"enabled"`
	DBPath              string `json:"dbPath"`
	Dir                 string `json:"dir,omitempty"` // optional directory of YAML workflow definitions
	PollIntervalSeconds int    `json:"pollIntervalSeconds"`
}

// MetricsConfig configures the Prometheus-style metrics endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Endpoint string `json:"endpoint"`
}

type CLIConfig struct {
	Enabled bool `json:"enabled"`
}

// FlexStringList accepts JSON arrays whose items are strings or numbers and
// carries them all as strings, so allow lists can hold bare numeric IDs.
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var items []any
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			out = append(out, v)
		case float64:
			out = append(out, strconv.FormatFloat(v, 'f', -1, 64))
		default:
			out = append(out, fmt.Sprint(v))
		}
	}
	*f = out
	return nil
}

// DefaultConfigDir returns the default config directory (~/.relaybot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relaybot"
	}
	return filepath.Join(home, ".relaybot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads, env-expands, parses and validates the config at path.
// Values start from Defaults, so a sparse file only overrides what it names.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Defaults()
	if err := json.Unmarshal([]byte(ExpandEnvVars(string(raw))), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	for _, p := range []*string{
		&cfg.General.DataDir, &cfg.General.LogFile,
		&cfg.Workflows.DBPath, &cfg.Workflows.Dir,
	} {
		*p = ExpandPath(*p)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}
	return cfg, nil
}

// envRefPattern matches ${VAR} and ${VAR:-default} references.
var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars rewrites ${VAR} references from the environment. The
// ${VAR:-default} form falls back to the default when VAR is unset or
// empty; a plain reference with nothing to offer stays as written.
func ExpandEnvVars(input string) string {
	return envRefPattern.ReplaceAllStringFunc(input, func(ref string) string {
		groups := envRefPattern.FindStringSubmatch(ref)
		name, fallback := groups[1], groups[2]

		if val, ok := os.LookupEnv(name); ok && val != "" {
			return val
		}
		if fallback != "" {
			return fallback
		}
		return ref
	})
}

// Save writes cfg as indented JSON, creating the directory when needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, out, 0o644)
}

// Validate flags values the rest of the process cannot work with.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Mail.TimeoutSeconds < 1 {
		errs = append(errs, "mail.timeoutSeconds must be >= 1")
	}
	if cfg.Mail.Enabled && cfg.Mail.BaseURL != "" &&
		!strings.HasPrefix(cfg.Mail.BaseURL, "http://") && !strings.HasPrefix(cfg.Mail.BaseURL, "https://") {
		errs = append(errs, "mail.baseUrl must start with http:// or https://")
	}

	switch cfg.Telegram.ParseMode {
	case "", "Markdown", "MarkdownV2", "HTML":
		// valid
	default:
		errs = append(errs, "telegram.parseMode must be one of: Markdown, MarkdownV2, HTML")
	}

	if cfg.Generation.MaxHistory < 1 {
		errs = append(errs, "generation.maxHistory must be >= 1")
	}
	if cfg.Generation.TimeoutSeconds < 0 {
		errs = append(errs, "generation.timeoutSeconds must be >= 0")
	}

	if cfg.Workflows.PollIntervalSeconds < 1 {
		errs = append(errs, "workflows.pollIntervalSeconds must be >= 1")
	}
	if cfg.Workflows.Enabled && cfg.Workflows.DBPath == "" {
		errs = append(errs, "workflows.dbPath is required when workflows are enabled")
	}

	if cfg.Metrics.Port < 0 || cfg.Metrics.Port > 65535 {
		errs = append(errs, "metrics.port must be between 0 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
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
