package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for voxchat.
type Config struct {
	General   GeneralConfig   `yaml:"general"`
	Assistant AssistantConfig `yaml:"assistant"`
	Inference InferenceConfig `yaml:"inference"`
	Speech    SpeechConfig    `yaml:"speech"`
	History   HistoryConfig   `yaml:"history"`
	Telegram  TelegramConfig  `yaml:"telegram"`
}

type GeneralConfig struct {
	LogLevel string `yaml:"logLevel"`
	LogFile  string `yaml:"logFile,omitempty"` // optional; stderr when empty
	DataDir  string `yaml:"dataDir"`
}

type AssistantConfig struct {
	Name         string `yaml:"name"`
	SystemPrompt string `yaml:"systemPrompt"`
}

type InferenceConfig struct {
	APIBase        string  `yaml:"apiBase"`
	Model          string  `yaml:"model"`
	Temperature    float64 `yaml:"temperature"`
	TimeoutSeconds int     `yaml:"timeoutSeconds"`
}

type SpeechConfig struct {
	STT                   STTConfig `yaml:"stt"`
	TTS                   TTSConfig `yaml:"tts"`
	RecordCommand         string    `yaml:"recordCommand"`
	PlayCommand           string    `yaml:"playCommand"`
	ListenPauseMs         int       `yaml:"listenPauseMs"`
	CaptureTimeoutSeconds int       `yaml:"captureTimeoutSeconds"` // 0 = recorder decides
}

type STTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	APIBase  string `yaml:"apiBase"`
	APIKey   string `yaml:"apiKey,omitempty"`
	Model    string `yaml:"model"`
	Language string `yaml:"language,omitempty"`
	Prompt   string `yaml:"prompt,omitempty"` // vocabulary hint for the recognizer
}

type TTSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider"` // "openai" | "elevenlabs"
	APIBase  string `yaml:"apiBase,omitempty"`
	APIKey   string `yaml:"apiKey,omitempty"`
	Model    string `yaml:"model,omitempty"`
	Voice    string `yaml:"voice,omitempty"`
}

type HistoryConfig struct {
	Backend string `yaml:"backend"` // "json" | "sqlite"
	Path    string `yaml:"path"`
}

type TelegramConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Token     string `yaml:"token"`
	AllowFrom int64  `yaml:"allowFrom"` // the single user allowed to chat
	ParseMode string `yaml:"parseMode"`

	SendsPerMinute float64 `yaml:"sendsPerMinute"`
}

// InferenceTimeout returns the per-request limit, zero meaning none.
func (c InferenceConfig) InferenceTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c SpeechConfig) ListenPause() time.Duration {
	return time.Duration(c.ListenPauseMs) * time.Millisecond
}

func (c SpeechConfig) CaptureTimeout() time.Duration {
	return time.Duration(c.CaptureTimeoutSeconds) * time.Second
}

// DefaultConfigDir returns the default config directory (~/.voxchat).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".voxchat"
	}
	return filepath.Join(home, ".voxchat")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	cfg.expandPaths()

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads path, falling back to defaults when it does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(ExpandPath(path)); os.IsNotExist(err) {
		cfg := Defaults()
		cfg.expandPaths()
		return cfg, nil
	}
	return Load(path)
}

func (c *Config) expandPaths() {
	c.General.DataDir = ExpandPath(c.General.DataDir)
	c.General.LogFile = ExpandPath(c.General.LogFile)
	c.History.Path = ExpandPath(c.History.Path)
}

// HistoryPath returns the history file, defaulting into the data directory.
func (c *Config) HistoryPath() string {
	if c.History.Path != "" {
		return c.History.Path
	}
	name := "history.json"
	if c.History.Backend == "sqlite" {
		name = "history.db"
	}
	return filepath.Join(c.General.DataDir, name)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset
// variable without default is left as written.
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

func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	// May hold API keys.
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values, reporting every problem.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.DataDir == "" {
		errs = append(errs, "general.dataDir is required")
	}

	if cfg.Inference.APIBase == "" {
		errs = append(errs, "inference.apiBase is required")
	}
	if cfg.Inference.Model == "" {
		errs = append(errs, "inference.model is required")
	}
	if cfg.Inference.Temperature < 0 || cfg.Inference.Temperature > 2 {
		errs = append(errs, "inference.temperature must be between 0 and 2")
	}
	if cfg.Inference.TimeoutSeconds < 0 {
		errs = append(errs, "inference.timeoutSeconds must be >= 0")
	}

	if cfg.Speech.ListenPauseMs < 0 {
		errs = append(errs, "speech.listenPauseMs must be >= 0")
	}
	if cfg.Speech.CaptureTimeoutSeconds < 0 {
		errs = append(errs, "speech.captureTimeoutSeconds must be >= 0")
	}
	if cfg.Speech.STT.Enabled && !strings.Contains(cfg.Speech.RecordCommand, "{file}") {
		errs = append(errs, "speech.recordCommand must contain {file}")
	}
	if cfg.Speech.TTS.Enabled {
		if !strings.Contains(cfg.Speech.PlayCommand, "{file}") {
			errs = append(errs, "speech.playCommand must contain {file}")
		}
		switch cfg.Speech.TTS.Provider {
		case "openai", "elevenlabs":
		default:
			errs = append(errs, "speech.tts.provider must be one of: openai, elevenlabs")
		}
	}

	switch cfg.History.Backend {
	case "json", "sqlite":
	default:
		errs = append(errs, "history.backend must be one of: json, sqlite")
	}

	if cfg.Telegram.Enabled {
		if cfg.Telegram.Token == "" {
			errs = append(errs, "telegram.token is required when telegram is enabled")
		}
		if cfg.Telegram.AllowFrom == 0 {
			errs = append(errs, "telegram.allowFrom must name the user id allowed to chat")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
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
