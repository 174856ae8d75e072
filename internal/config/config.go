package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"gopkg.in/yaml.v3"
)

// Config aggregates every tunable of the service. Precedence: built-in
// defaults, then the optional YAML file named by PAYBOT_CONFIG_FILE, then
// environment variables.
type Config struct {
	Server ServerConfig `yaml:"server"`
	AI     AIConfig     `yaml:"ai"`
	Stripe StripeConfig `yaml:"stripe"`
	Store  StoreConfig  `yaml:"store"`
	Audit  AuditConfig  `yaml:"audit"`
	Policy PolicyConfig `yaml:"policy"`
}

// Load builds the effective configuration.
func Load() (*Config, error) {
	cfg := defaults()

	if file := strings.TrimSpace(os.Getenv("PAYBOT_CONFIG_FILE")); file != "" {
		if err := mergeFile(cfg, file); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		AI: AIConfig{
			BaseURL: "https://ark.cn-beijing.volces.com/api/v3",
			Region:  "cn-beijing",
		},
		Stripe: StripeConfig{Timeout: 10 * time.Second},
		Store: StoreConfig{
			Backend:     "memory",
			RedisPrefix: "paybot:sessions:",
			SessionTTL:  24 * time.Hour,
		},
		Audit:  AuditConfig{Dir: "audit", Enabled: true},
		Policy: PolicyConfig{TerminalSessions: "reject", VaultTTL: 15 * time.Minute},
	}
}

func mergeFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}
	return nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// AIConfig holds the chat-model credentials and sampling knobs.
type AIConfig struct {
	APIKey      string   `yaml:"api_key"`
	AccessKey   string   `yaml:"access_key"`
	SecretKey   string   `yaml:"secret_key"`
	Model       string   `yaml:"model"`
	BaseURL     string   `yaml:"base_url"`
	Region      string   `yaml:"region"`
	Temperature *float64 `yaml:"temperature"`
	TopP        *float64 `yaml:"top_p"`
	MaxTokens   *int     `yaml:"max_tokens"`
}

// Enabled reports whether the required model credentials are present.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel builds the ark chat model from this configuration.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: set ARK_API_KEY and ARK_MODEL, or the AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}
	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}
	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	return ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	})
}

// StripeConfig holds the tokenization provider settings. The secret key never
// belongs in a YAML file in production; prefer the env var or the key file.
type StripeConfig struct {
	SecretKey     string        `yaml:"secret_key"`
	SecretKeyFile string        `yaml:"secret_key_file"`
	BaseURL       string        `yaml:"base_url"`
	Timeout       time.Duration `yaml:"timeout"`
}

// StoreConfig selects and configures the session store backend.
type StoreConfig struct {
	// Backend is one of memory, redis, postgres.
	Backend     string        `yaml:"backend"`
	RedisAddr   string        `yaml:"redis_addr"`
	RedisPrefix string        `yaml:"redis_prefix"`
	PostgresDSN string        `yaml:"postgres_dsn"`
	SessionTTL  time.Duration `yaml:"session_ttl"`
}

// AuditConfig controls the audit sink.
type AuditConfig struct {
	Dir     string `yaml:"dir"`
	Enabled bool   `yaml:"enabled"`
}

// PolicyConfig captures the product-level decisions left open upstream.
type PolicyConfig struct {
	// TerminalSessions is "reject" or "restart".
	TerminalSessions string        `yaml:"terminal_sessions"`
	CancelWords      []string      `yaml:"cancel_words"`
	VaultTTL         time.Duration `yaml:"vault_ttl"`
}

func applyEnv(cfg *Config) error {
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		if strings.Contains(port, ":") {
			cfg.Server.Addr = port
		} else {
			cfg.Server.Addr = ":" + port
		}
	}

	cfg.AI.APIKey = envOrKeep("ARK_API_KEY", cfg.AI.APIKey)
	cfg.AI.AccessKey = envOrKeep("ARK_ACCESS_KEY", cfg.AI.AccessKey)
	cfg.AI.SecretKey = envOrKeep("ARK_SECRET_KEY", cfg.AI.SecretKey)
	cfg.AI.Model = envOrKeep("ARK_MODEL", cfg.AI.Model)
	cfg.AI.BaseURL = envOrKeep("ARK_BASE_URL", cfg.AI.BaseURL)
	cfg.AI.Region = envOrKeep("ARK_REGION", cfg.AI.Region)

	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return err
	}
	if temperature != nil {
		cfg.AI.Temperature = temperature
	}
	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return err
	}
	if topP != nil {
		cfg.AI.TopP = topP
	}
	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return err
	}
	if maxTokens != nil {
		cfg.AI.MaxTokens = maxTokens
	}

	cfg.Stripe.SecretKey = envOrKeep("STRIPE_SECRET_KEY", cfg.Stripe.SecretKey)
	cfg.Stripe.SecretKeyFile = envOrKeep("STRIPE_SECRET_KEY_FILE", cfg.Stripe.SecretKeyFile)
	cfg.Stripe.BaseURL = envOrKeep("STRIPE_BASE_URL", cfg.Stripe.BaseURL)
	if d, err := parseOptionalDurationEnv("STRIPE_TIMEOUT"); err != nil {
		return err
	} else if d != nil {
		cfg.Stripe.Timeout = *d
	}

	cfg.Store.Backend = envOrKeep("PAYBOT_STORE_BACKEND", cfg.Store.Backend)
	cfg.Store.RedisAddr = envOrKeep("PAYBOT_REDIS_ADDR", cfg.Store.RedisAddr)
	cfg.Store.RedisPrefix = envOrKeep("PAYBOT_REDIS_PREFIX", cfg.Store.RedisPrefix)
	cfg.Store.PostgresDSN = envOrKeep("PAYBOT_POSTGRES_DSN", cfg.Store.PostgresDSN)
	if d, err := parseOptionalDurationEnv("PAYBOT_SESSION_TTL"); err != nil {
		return err
	} else if d != nil {
		cfg.Store.SessionTTL = *d
	}

	cfg.Audit.Dir = envOrKeep("PAYBOT_AUDIT_DIR", cfg.Audit.Dir)
	enabled, err := parseBoolEnv("PAYBOT_AUDIT_ENABLED", cfg.Audit.Enabled)
	if err != nil {
		return err
	}
	cfg.Audit.Enabled = enabled

	cfg.Policy.TerminalSessions = envOrKeep("PAYBOT_TERMINAL_SESSIONS", cfg.Policy.TerminalSessions)
	if words := strings.TrimSpace(os.Getenv("PAYBOT_CANCEL_WORDS")); words != "" {
		cfg.Policy.CancelWords = nil
		for _, w := range strings.Split(words, ",") {
			if w = strings.TrimSpace(strings.ToLower(w)); w != "" {
				cfg.Policy.CancelWords = append(cfg.Policy.CancelWords, w)
			}
		}
	}
	if d, err := parseOptionalDurationEnv("PAYBOT_VAULT_TTL"); err != nil {
		return err
	} else if d != nil {
		cfg.Policy.VaultTTL = *d
	}

	switch cfg.Policy.TerminalSessions {
	case "reject", "restart":
	default:
		return fmt.Errorf("invalid terminal_sessions policy %q (want reject or restart)", cfg.Policy.TerminalSessions)
	}
	switch cfg.Store.Backend {
	case "memory", "redis", "postgres":
	default:
		return fmt.Errorf("invalid store backend %q (want memory, redis or postgres)", cfg.Store.Backend)
	}

	return nil
}

func envOrKeep(key, current string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return current
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalDurationEnv(key string) (*time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := time.ParseDuration(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
