package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the on-disk configuration as loaded by viper. It is loosely
// typed; Resolve turns it into the validated values the engine runs on.
type Config struct {
	Providers        []ProviderEntry `mapstructure:"providers"`
	Selected         int             `mapstructure:"selected"`
	MaxToolRounds    int             `mapstructure:"max_tool_rounds"`
	HandshakeTimeout time.Duration   `mapstructure:"handshake_timeout"`
	CancelGrace      time.Duration   `mapstructure:"cancel_grace"`
	AutoCompact      bool            `mapstructure:"auto_compact"`
	ProjectDoc       string          `mapstructure:"project_doc"`
	ShellHookFile    string          `mapstructure:"shell_hook_file"`
	Trace            TraceConfig     `mapstructure:"trace"`
	Sessions         SessionsConfig  `mapstructure:"sessions"`
	Tools            ToolsConfig     `mapstructure:"tools"`
}

// ProviderEntry is one element of the providers list.
type ProviderEntry struct {
	ID               string            `mapstructure:"id"`
	Kind             string            `mapstructure:"kind"`
	Model            string            `mapstructure:"model"`
	ToolMethod       string            `mapstructure:"tool_method"`
	MaxContextTokens string            `mapstructure:"max_context_tokens"` // integer, "auto", or empty
	BaseURL          string            `mapstructure:"base_url"`
	APIKey           string            `mapstructure:"api_key"`
	Env              map[string]string `mapstructure:"env"`
}

// TraceConfig sets the default trace artifact encoding.
type TraceConfig struct {
	Encoding string `mapstructure:"encoding"` // "json" or "cbor"
	Compress bool   `mapstructure:"compress"` // zstd
}

// SessionsConfig configures the run history store.
type SessionsConfig struct {
	Enabled  bool `mapstructure:"enabled"`
	MaxCount int  `mapstructure:"max_count"` // Keep at most N runs (0=unlimited)
}

// ToolsConfig configures the built-in tools.
type ToolsConfig struct {
	ShellAllow   []string      `mapstructure:"shell_allow"`
	ShellTimeout time.Duration `mapstructure:"shell_timeout"`
	OutputLimit  int           `mapstructure:"output_limit"`
}

// ProviderKind names a backend family.
type ProviderKind string

const (
	KindOpenAI       ProviderKind = "openai"
	KindOpenAICompat ProviderKind = "openai-compat"
	KindAnthropic    ProviderKind = "anthropic"
	KindGemini       ProviderKind = "gemini"
	KindMock         ProviderKind = "mock" // scripted provider for tests and demos
)

// ToolMethod selects how tool calls travel between the engine and a model.
type ToolMethod string

const (
	ToolMethodFunctionCall ToolMethod = "function_call"
	ToolMethodChat         ToolMethod = "chat"
)

// ProviderConfig is a validated provider selection.
type ProviderConfig struct {
	ID         string
	Kind       ProviderKind
	Model      string
	ToolMethod ToolMethod
	// MaxContextTokens is the token budget for one request; 0 means no
	// budget is enforced.
	MaxContextTokens int
	// ContextAuto is set when the budget should come from the model table.
	ContextAuto bool
	BaseURL     string
	APIKey      string
	Env         map[string]string
}

// ConfigError reports an invalid configuration. It is always fatal and is
// surfaced before any turn starts.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// IsConfigError reports whether err is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Load reads config.yaml from the config dir (or the working directory)
// and applies defaults. A missing file is not an error.
func Load() (*Config, error) {
	configPath, err := GetConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	return load(v)
}

// LoadFile reads a specific config file.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix("TERM_AGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, &ConfigError{Err: fmt.Errorf("failed to read config: %w", err)}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("failed to unmarshal config: %w", err)}
	}
	if len(cfg.Providers) == 0 {
		cfg.Providers = defaultProviders()
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("selected", 0)
	v.SetDefault("max_tool_rounds", 25)
	v.SetDefault("handshake_timeout", 10*time.Second)
	v.SetDefault("cancel_grace", 3*time.Second)
	v.SetDefault("auto_compact", false)
	v.SetDefault("project_doc", "AGENTS.md")
	v.SetDefault("trace.encoding", "json")
	v.SetDefault("trace.compress", false)
	v.SetDefault("sessions.enabled", true)
	v.SetDefault("sessions.max_count", 0)
	v.SetDefault("tools.shell_timeout", 2*time.Minute)
	v.SetDefault("tools.output_limit", 30000)
}

// defaultProviders is used when no providers are configured: whichever
// vendor key is present in the environment, OpenAI first.
func defaultProviders() []ProviderEntry {
	return []ProviderEntry{
		{ID: "openai", Kind: string(KindOpenAI), Model: "gpt-4o-mini", ToolMethod: "function_call", MaxContextTokens: "auto"},
		{ID: "anthropic", Kind: string(KindAnthropic), Model: "claude-sonnet-4-5", ToolMethod: "function_call", MaxContextTokens: "auto"},
		{ID: "gemini", Kind: string(KindGemini), Model: "gemini-2.5-flash", ToolMethod: "function_call", MaxContextTokens: "auto"},
		{ID: "ollama", Kind: string(KindOpenAICompat), Model: "qwen3", BaseURL: "http://localhost:11434/v1", ToolMethod: "chat", MaxContextTokens: "auto"},
	}
}

// Overrides are command-line adjustments applied during Resolve.
type Overrides struct {
	Provider         string // index or id; empty keeps cfg.Selected
	Model            string
	ToolMethod       string
	MaxContextTokens string
}

// Resolve validates the provider list, selects one entry, applies the
// per-provider env injections and returns the typed selection.
func Resolve(cfg *Config, o Overrides) (*ProviderConfig, error) {
	if len(cfg.Providers) == 0 {
		return nil, &ConfigError{Field: "providers", Err: errors.New("no providers configured")}
	}

	idx, err := selectIndex(cfg, o.Provider)
	if err != nil {
		return nil, err
	}
	entry := cfg.Providers[idx]
	field := fmt.Sprintf("providers[%d]", idx)

	pc := &ProviderConfig{
		ID:      entry.ID,
		Kind:    ProviderKind(strings.ToLower(strings.TrimSpace(entry.Kind))),
		Model:   entry.Model,
		BaseURL: expandEnv(entry.BaseURL),
		APIKey:  expandEnv(entry.APIKey),
		Env:     entry.Env,
	}
	if pc.ID == "" {
		pc.ID = string(pc.Kind)
	}
	if o.Model != "" {
		pc.Model = o.Model
	}

	switch pc.Kind {
	case KindOpenAI, KindAnthropic, KindGemini, KindMock:
	case KindOpenAICompat:
		if pc.BaseURL == "" {
			return nil, &ConfigError{Field: field + ".base_url", Err: errors.New("required for openai-compat providers")}
		}
	case "":
		return nil, &ConfigError{Field: field + ".kind", Err: errors.New("missing provider kind")}
	default:
		return nil, &ConfigError{Field: field + ".kind", Err: fmt.Errorf("unknown provider kind %q", entry.Kind)}
	}
	if pc.Model == "" {
		return nil, &ConfigError{Field: field + ".model", Err: errors.New("missing model")}
	}

	method := entry.ToolMethod
	if o.ToolMethod != "" {
		method = o.ToolMethod
	}
	if pc.ToolMethod, err = ParseToolMethod(method); err != nil {
		return nil, &ConfigError{Field: field + ".tool_method", Err: err}
	}

	budget := entry.MaxContextTokens
	if o.MaxContextTokens != "" {
		budget = o.MaxContextTokens
	}
	if pc.MaxContextTokens, pc.ContextAuto, err = parseContextTokens(budget); err != nil {
		return nil, &ConfigError{Field: field + ".max_context_tokens", Err: err}
	}

	for k, v := range entry.Env {
		if err := os.Setenv(k, expandEnv(v)); err != nil {
			return nil, &ConfigError{Field: field + ".env." + k, Err: err}
		}
	}

	return pc, nil
}

func selectIndex(cfg *Config, sel string) (int, error) {
	if sel == "" {
		if cfg.Selected < 0 || cfg.Selected >= len(cfg.Providers) {
			return 0, &ConfigError{Field: "selected", Err: fmt.Errorf("index %d out of range (have %d providers)", cfg.Selected, len(cfg.Providers))}
		}
		return cfg.Selected, nil
	}
	if n, err := strconv.Atoi(sel); err == nil {
		if n < 0 || n >= len(cfg.Providers) {
			return 0, &ConfigError{Field: "provider", Err: fmt.Errorf("index %d out of range (have %d providers)", n, len(cfg.Providers))}
		}
		return n, nil
	}
	for i, p := range cfg.Providers {
		if p.ID == sel || (p.ID == "" && p.Kind == sel) {
			return i, nil
		}
	}
	return 0, &ConfigError{Field: "provider", Err: fmt.Errorf("no provider with id %q", sel)}
}

// ParseToolMethod accepts the spellings used in config files and flags.
func ParseToolMethod(s string) (ToolMethod, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")) {
	case "", "function_call", "functioncall", "function", "fc":
		return ToolMethodFunctionCall, nil
	case "chat", "text":
		return ToolMethodChat, nil
	}
	return "", fmt.Errorf("unknown tool method %q (valid: function_call, chat)", s)
}

func parseContextTokens(s string) (int, bool, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "0", "none":
		return 0, false, nil
	case "auto":
		return 0, true, nil
	}
	n, err := strconv.Atoi(strings.ReplaceAll(s, "_", ""))
	if err != nil {
		return 0, false, fmt.Errorf("expected an integer or \"auto\", got %q", s)
	}
	if n < 0 {
		return 0, false, fmt.Errorf("must not be negative, got %d", n)
	}
	return n, false, nil
}

// expandEnv expands ${VAR} or $VAR in a string
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		varName := s[2 : len(s)-1]
		return os.Getenv(varName)
	}
	if strings.HasPrefix(s, "$") {
		return os.Getenv(s[1:])
	}
	return s
}

// GetConfigDir returns the XDG config directory for term-agent.
// Uses $XDG_CONFIG_HOME if set, otherwise ~/.config
func GetConfigDir() (string, error) {
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, "term-agent"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", "term-agent"), nil
}

// GetConfigPath returns the path where the config file should be located
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}

// GetDataDir returns the XDG data directory for term-agent.
// Uses $XDG_DATA_HOME if set, otherwise ~/.local/share
func GetDataDir() (string, error) {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "term-agent"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "term-agent"), nil
}

// GetStateDir returns the XDG state directory for term-agent, where the
// shell hook writes its capture file.
func GetStateDir() (string, error) {
	if xdgState := os.Getenv("XDG_STATE_HOME"); xdgState != "" {
		return filepath.Join(xdgState, "term-agent"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "state", "term-agent"), nil
}
