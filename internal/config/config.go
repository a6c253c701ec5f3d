package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultModel is used when the config file does not pin one.
const DefaultModel = "deepseek/deepseek-chat-v3-0324"

// Config captures the tunable runtime settings for the agent.
type Config struct {
	Model                 string  `yaml:"model"`
	BaseURL               string  `yaml:"base_url"`
	APIKey                string  `yaml:"api_key"`
	Temperature           float64 `yaml:"temperature"`
	MaxOutputTokens       int     `yaml:"max_output_tokens"`
	SystemPrompt          string  `yaml:"system_prompt"`
	RequestTimeoutSeconds int     `yaml:"request_timeout_seconds"`
	ConversationDir       string  `yaml:"conversation_dir"`
	WorkspaceRoot         string  `yaml:"workspace_root"`
	MaxToolIterations     int     `yaml:"max_tool_iterations"`
	TreeDebounceMs        int     `yaml:"tree_debounce_ms"`
	HistoryPath           string  `yaml:"history_path"`
	LedgerDBPath          string  `yaml:"ledger_db_path"`
	LogFile               string  `yaml:"log_file"`
}

// LoadUserConfig loads configuration from ~/.monolith/config.yaml.
// Checks MONOLITH_CONFIG_PATH environment variable first.
// If the file doesn't exist, returns defaults.
func LoadUserConfig() (Config, error) {
	configPath := os.Getenv("MONOLITH_CONFIG_PATH")
	if configPath == "" {
		configPath = filepath.Join(GetConfigDir(), "config.yaml")
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := Config{}
		cfg.applyDefaults()
		return cfg, nil
	}

	return Load(configPath)
}

// Load reads the YAML configuration from disk and injects sane defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	cfg.SystemPrompt = strings.TrimSpace(cfg.SystemPrompt)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyDefaults fills in optional values to keep the YAML file concise.
func (c *Config) applyDefaults() {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://openrouter.ai/api/v1"
	}
	if c.APIKey == "" {
		c.APIKey = os.Getenv("MONOLITH_API_KEY")
	}
	if c.Temperature == 0 {
		c.Temperature = 0.2
	}
	if c.MaxOutputTokens <= 0 {
		c.MaxOutputTokens = 8192
	}
	if c.RequestTimeoutSeconds <= 0 {
		c.RequestTimeoutSeconds = 90
	}
	if c.ConversationDir == "" {
		c.ConversationDir = filepath.Join(GetConfigDir(), "conversations")
	}
	if c.MaxToolIterations <= 0 {
		c.MaxToolIterations = 25
	}
	if c.TreeDebounceMs <= 0 {
		c.TreeDebounceMs = 300
	}
	if c.HistoryPath == "" {
		c.HistoryPath = filepath.Join(GetConfigDir(), "history")
	}
	if c.LedgerDBPath == "" {
		c.LedgerDBPath = filepath.Join(GetConfigDir(), "ledger.db")
	}
}

func (c Config) validate() error {
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature %.2f outside [0, 2]", c.Temperature)
	}
	if c.MaxToolIterations < 1 {
		return fmt.Errorf("max_tool_iterations must be at least 1")
	}
	return nil
}

// RequestTimeout converts the configured seconds into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// TreeDebounce converts the configured milliseconds into a duration.
func (c Config) TreeDebounce() time.Duration {
	return time.Duration(c.TreeDebounceMs) * time.Millisecond
}

// OverrideWorkspaceRoot replaces the workspace root with an absolute path.
func (c *Config) OverrideWorkspaceRoot(root string) {
	if root == "" {
		return
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	c.WorkspaceRoot = root
}

// GetConfigDir returns the directory holding config, conversations and the
// ledger database. MONOLITH_CONFIG_DIR overrides the default ~/.monolith.
func GetConfigDir() string {
	if configDir := os.Getenv("MONOLITH_CONFIG_DIR"); configDir != "" {
		return configDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".monolith"
	}
	return filepath.Join(home, ".monolith")
}
