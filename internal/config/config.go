package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	DefaultCommandPrefix     = "!"
	DefaultWorkers           = 4
	DefaultBackendTimeout    = 12
	DefaultMemoryLimit       = 10
	DefaultMemoryTTL         = 300
	DefaultMemoryContextSize = 5
	DefaultMemorySweep       = "0 * * * * *"
	DefaultStrikeSummary     = "0 0 * * * *"
	DefaultNotesDriver       = "sqlite"
	DefaultNotesCacheTTL     = 60
	DefaultHost              = "0.0.0.0"
	DefaultPort              = 5000
	DefaultBufSize           = 100
	DefaultSendRatePerMinute = 20
	DefaultLogLevel          = "info"

	DefaultGeminiModel     = "gemini-1.5-flash"
	DefaultOpenAIModel     = "gpt-3.5-turbo"
	DefaultAnthropicModel  = "claude-3-5-haiku-latest"
	DefaultGroqModel       = "llama3-8b-8192"
	DefaultGroqBaseURL     = "https://api.groq.com/openai/v1"
	DefaultOpenRouterModel = "meta-llama/llama-3.1-8b-instruct"
)

// Backend kinds accepted in Backends.Order.
const (
	BackendGemini     = "gemini"
	BackendOpenAI     = "openai"
	BackendAnthropic  = "anthropic"
	BackendGroq       = "groq"
	BackendOpenRouter = "openrouter"
)

// Notes store drivers.
const (
	NotesDriverSQLite = "sqlite"
	NotesDriverRedis  = "redis"
	NotesDriverNone   = "none"
)

type Config struct {
	Agent      AgentConfig      `json:"agent"`
	Moderation ModerationConfig `json:"moderation"`
	Backends   BackendsConfig   `json:"backends"`
	Memory     MemoryConfig     `json:"memory"`
	Notes      NotesConfig      `json:"notes"`
	Channels   ChannelsConfig   `json:"channels"`
	Gateway    GatewayConfig    `json:"gateway"`
	Log        LogConfig        `json:"log"`
}

type AgentConfig struct {
	OwnerID       string `json:"ownerId"`
	CommandPrefix string `json:"commandPrefix"`
	// Lenient also answers question-like messages that do not mention the bot.
	Lenient bool `json:"lenient"`
	Workers int  `json:"workers"`
}

type ModerationConfig struct {
	CapsEnforcement bool           `json:"capsEnforcement"`
	LexiconFile     string         `json:"lexiconFile,omitempty"`
	WatchLexicon    bool           `json:"watchLexicon"`
	Timeouts        TimeoutsConfig `json:"timeouts"`
}

// TimeoutsConfig holds escalation durations in seconds.
type TimeoutsConfig struct {
	CapsFirst     int `json:"capsFirst"`
	CapsRepeat    int `json:"capsRepeat"`
	CapsExcessive int `json:"capsExcessive"`
	BadWords      int `json:"badWords"`
	Harassment    int `json:"harassment"`
	Default       int `json:"default"`
}

type BackendsConfig struct {
	Order          []string      `json:"order"`
	TimeoutSeconds int           `json:"timeoutSeconds"`
	Gemini         BackendConfig `json:"gemini"`
	OpenAI         BackendConfig `json:"openai"`
	Anthropic      BackendConfig `json:"anthropic"`
	Groq           BackendConfig `json:"groq"`
	OpenRouter     BackendConfig `json:"openrouter"`
}

type BackendConfig struct {
	APIKey      string  `json:"apiKey"`
	BaseURL     string  `json:"baseUrl,omitempty"`
	Model       string  `json:"model,omitempty"`
	MaxTokens   int     `json:"maxTokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type MemoryConfig struct {
	Limit       int    `json:"limit"`
	TTLSeconds  int    `json:"ttlSeconds"`
	ContextSize int    `json:"contextSize"`
	Sweep       string `json:"sweep"`
}

type NotesConfig struct {
	Driver          string `json:"driver"`
	DBPath          string `json:"dbPath,omitempty"`
	RedisURL        string `json:"redisUrl,omitempty"`
	CacheTTLSeconds int    `json:"cacheTTLSeconds"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled           bool     `json:"enabled"`
	Token             string   `json:"token"`
	AllowFrom         []string `json:"allowFrom"`
	Proxy             string   `json:"proxy,omitempty"`
	SendRatePerMinute int      `json:"sendRatePerMinute"`
}

type GatewayConfig struct {
	Host          string `json:"host"`
	Port          int    `json:"port"`
	StrikeSummary string `json:"strikeSummary"`
}

type LogConfig struct {
	Level       string `json:"level"`
	Development bool   `json:"development"`
}

func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			CommandPrefix: DefaultCommandPrefix,
			Workers:       DefaultWorkers,
		},
		Moderation: ModerationConfig{
			LexiconFile: filepath.Join(ConfigDir(), "lexicon.yaml"),
			Timeouts:    DefaultTimeouts(),
		},
		Backends: BackendsConfig{
			Order:          []string{BackendGemini, BackendOpenAI},
			TimeoutSeconds: DefaultBackendTimeout,
			Gemini:         BackendConfig{Model: DefaultGeminiModel, MaxTokens: 150, Temperature: 0.7},
			OpenAI:         BackendConfig{Model: DefaultOpenAIModel, MaxTokens: 100, Temperature: 0.9},
			Anthropic:      BackendConfig{Model: DefaultAnthropicModel, MaxTokens: 150, Temperature: 0.9},
			Groq:           BackendConfig{BaseURL: DefaultGroqBaseURL, Model: DefaultGroqModel, MaxTokens: 150, Temperature: 0.9},
			OpenRouter:     BackendConfig{Model: DefaultOpenRouterModel, MaxTokens: 150, Temperature: 0.8},
		},
		Memory: MemoryConfig{
			Limit:       DefaultMemoryLimit,
			TTLSeconds:  DefaultMemoryTTL,
			ContextSize: DefaultMemoryContextSize,
			Sweep:       DefaultMemorySweep,
		},
		Notes: NotesConfig{
			Driver:          DefaultNotesDriver,
			CacheTTLSeconds: DefaultNotesCacheTTL,
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{SendRatePerMinute: DefaultSendRatePerMinute},
		},
		Gateway: GatewayConfig{
			Host:          DefaultHost,
			Port:          DefaultPort,
			StrikeSummary: DefaultStrikeSummary,
		},
		Log: LogConfig{Level: DefaultLogLevel},
	}
}

func DefaultTimeouts() TimeoutsConfig {
	return TimeoutsConfig{
		CapsFirst:     300,
		CapsRepeat:    600,
		CapsExcessive: 1800,
		BadWords:      600,
		Harassment:    900,
		Default:       600,
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".warden")
}

func ConfigPath() string {
	if p := strings.TrimSpace(os.Getenv("WARDEN_CONFIG")); p != "" {
		return p
	}
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	normalize(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if token := os.Getenv("WARDEN_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
		cfg.Channels.Telegram.Enabled = true
	}
	if owner := os.Getenv("WARDEN_OWNER_ID"); owner != "" {
		cfg.Agent.OwnerID = owner
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.Backends.Gemini.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.Backends.OpenAI.APIKey = key
	}
	if url := os.Getenv("OPENAI_BASE_URL"); url != "" {
		cfg.Backends.OpenAI.BaseURL = url
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		cfg.Backends.Anthropic.APIKey = key
	}
	if key := os.Getenv("GROQ_API_KEY"); key != "" {
		cfg.Backends.Groq.APIKey = key
	}
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		cfg.Backends.OpenRouter.APIKey = key
	}
	if order := os.Getenv("WARDEN_BACKENDS"); order != "" {
		cfg.Backends.Order = splitList(order)
	}
	if url := os.Getenv("WARDEN_REDIS_URL"); url != "" {
		cfg.Notes.RedisURL = url
		cfg.Notes.Driver = NotesDriverRedis
	}
	if dbPath := os.Getenv("WARDEN_DB_PATH"); dbPath != "" {
		cfg.Notes.DBPath = dbPath
	}
	if level := os.Getenv("WARDEN_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if enabled := os.Getenv("WARDEN_CAPS_ENFORCEMENT"); enabled != "" {
		if parsed, err := strconv.ParseBool(enabled); err == nil {
			cfg.Moderation.CapsEnforcement = parsed
		}
	}
	if lenient := os.Getenv("WARDEN_LENIENT"); lenient != "" {
		if parsed, err := strconv.ParseBool(lenient); err == nil {
			cfg.Agent.Lenient = parsed
		}
	}
	if port := os.Getenv("PORT"); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil {
			cfg.Gateway.Port = parsed
		}
	}
}

func normalize(cfg *Config) {
	def := DefaultConfig()
	if strings.TrimSpace(cfg.Agent.CommandPrefix) == "" {
		cfg.Agent.CommandPrefix = DefaultCommandPrefix
	}
	if cfg.Agent.Workers <= 0 {
		cfg.Agent.Workers = DefaultWorkers
	}
	if len(cfg.Backends.Order) == 0 {
		cfg.Backends.Order = def.Backends.Order
	}
	for i, kind := range cfg.Backends.Order {
		cfg.Backends.Order[i] = strings.ToLower(strings.TrimSpace(kind))
	}
	if cfg.Backends.TimeoutSeconds <= 0 {
		cfg.Backends.TimeoutSeconds = DefaultBackendTimeout
	}
	if cfg.Backends.Groq.BaseURL == "" {
		cfg.Backends.Groq.BaseURL = DefaultGroqBaseURL
	}

	t := &cfg.Moderation.Timeouts
	dt := DefaultTimeouts()
	positiveOr(&t.CapsFirst, dt.CapsFirst)
	positiveOr(&t.CapsRepeat, dt.CapsRepeat)
	positiveOr(&t.CapsExcessive, dt.CapsExcessive)
	positiveOr(&t.BadWords, dt.BadWords)
	positiveOr(&t.Harassment, dt.Harassment)
	positiveOr(&t.Default, dt.Default)

	if cfg.Memory.Limit <= 0 {
		cfg.Memory.Limit = DefaultMemoryLimit
	}
	if cfg.Memory.TTLSeconds <= 0 {
		cfg.Memory.TTLSeconds = DefaultMemoryTTL
	}
	if cfg.Memory.ContextSize <= 0 {
		cfg.Memory.ContextSize = DefaultMemoryContextSize
	}
	if cfg.Memory.Sweep == "" {
		cfg.Memory.Sweep = DefaultMemorySweep
	}

	cfg.Notes.Driver = strings.ToLower(strings.TrimSpace(cfg.Notes.Driver))
	if cfg.Notes.Driver == "" {
		cfg.Notes.Driver = DefaultNotesDriver
	}
	if cfg.Notes.DBPath == "" {
		cfg.Notes.DBPath = filepath.Join(ConfigDir(), "data", "notes.db")
	}
	if cfg.Notes.CacheTTLSeconds < 0 {
		cfg.Notes.CacheTTLSeconds = 0
	}

	if cfg.Channels.Telegram.SendRatePerMinute <= 0 {
		cfg.Channels.Telegram.SendRatePerMinute = DefaultSendRatePerMinute
	}
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = DefaultHost
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = DefaultPort
	}
	if cfg.Gateway.StrikeSummary == "" {
		cfg.Gateway.StrikeSummary = DefaultStrikeSummary
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
}

// Backend returns the settings for a backend kind.
func (c *Config) Backend(kind string) (BackendConfig, bool) {
	switch strings.ToLower(kind) {
	case BackendGemini:
		return c.Backends.Gemini, true
	case BackendOpenAI:
		return c.Backends.OpenAI, true
	case BackendAnthropic:
		return c.Backends.Anthropic, true
	case BackendGroq:
		return c.Backends.Groq, true
	case BackendOpenRouter:
		return c.Backends.OpenRouter, true
	}
	return BackendConfig{}, false
}

func SaveConfig(cfg *Config) error {
	path := ConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

func positiveOr(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
