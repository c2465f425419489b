package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const configPathEnv = "KHAROM_CONFIG"

// Config represents runtime configuration for the client core, the local API and the chat route.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config" yaml:"basic_config"`
	Storage     StorageConfig             `json:"storage" yaml:"storage"`
	Databases   map[string]DatabaseConfig `json:"databases" yaml:"databases"`
	Redis       RedisConfig               `json:"redis" yaml:"redis"`
	Chat        ChatConfig                `json:"chat" yaml:"chat"`
	Providers   map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Logging     LoggingConfig             `json:"logging" yaml:"logging"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address" yaml:"server_address"`
	LocalAPI      bool   `json:"local_api" yaml:"local_api"`
}

// StorageConfig selects the key-value backend holding sessions.
type StorageConfig struct {
	Backend       string `json:"backend" yaml:"backend"`
	KeyPrefix     string `json:"key_prefix" yaml:"key_prefix"`
	IndexKey      string `json:"index_key" yaml:"index_key"`
	SnippetLength int    `json:"snippet_length" yaml:"snippet_length"`
	EncryptionKey string `json:"encryption_key" yaml:"encryption_key"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn" yaml:"dsn"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DBName   string `json:"db_name" yaml:"db_name"`
	Params   string `json:"params" yaml:"params"`
}

type RedisConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

// ChatConfig controls how prompts reach the model: through the backend route
// ("remote") or directly through a configured provider ("direct").
type ChatConfig struct {
	Mode           string `json:"mode" yaml:"mode"`
	APIURL         string `json:"api_url" yaml:"api_url"`
	Provider       string `json:"provider" yaml:"provider"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url" yaml:"base_url"`
	Model   string `json:"model" yaml:"model"`
	APIKey  string `json:"api_key" yaml:"api_key"`
}

type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

const (
	ChatModeRemote = "remote"
	ChatModeDirect = "direct"
)

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		BasicConfig: BasicConfig{ServerAddress: ":8090"},
		Storage: StorageConfig{
			Backend:       "sqlite3",
			KeyPrefix:     "KHAROM_SESSION_",
			IndexKey:      "KHAROM_SESSION_SUMMARIES",
			SnippetLength: 50,
		},
		Databases: map[string]DatabaseConfig{
			"sqlite3": {DSN: "kharom.db"},
		},
		Redis: RedisConfig{Host: "127.0.0.1", Port: 6379},
		Chat: ChatConfig{
			Mode:           ChatModeRemote,
			APIURL:         "http://127.0.0.1:8090",
			Provider:       "gemini",
			TimeoutSeconds: 60,
		},
		Providers: map[string]ProviderConfig{},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads configuration from the provided path (defaults to $KHAROM_CONFIG, then config.json).
// A missing file is not an error: defaults plus environment overrides are returned.
func Load(path string) (*Config, error) {
	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	explicit := path != ""
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	cfg := Default()
	data, err := os.ReadFile(absPath)
	switch {
	case err == nil:
		if err := decode(absPath, data, cfg); err != nil {
			return nil, err
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	applyEnv(cfg)
	cfg.fillDefaults()

	if db, ok := cfg.Databases["sqlite3"]; ok && db.DSN != "" && db.DSN != ":memory:" &&
		!strings.HasPrefix(db.DSN, "file:") && !filepath.IsAbs(db.DSN) {
		db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
		cfg.Databases["sqlite3"] = db
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode yaml config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("KHAROM_SERVER_ADDRESS"); v != "" {
		cfg.BasicConfig.ServerAddress = v
	}
	if v := os.Getenv("KHAROM_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("KHAROM_STORAGE_DSN"); v != "" {
		if cfg.Databases == nil {
			cfg.Databases = make(map[string]DatabaseConfig)
		}
		db := cfg.Databases[cfg.Storage.Backend]
		db.DSN = v
		cfg.Databases[cfg.Storage.Backend] = db
	}
	if v := os.Getenv("KHAROM_STORAGE_KEY"); v != "" {
		cfg.Storage.EncryptionKey = v
	}
	if v := os.Getenv("KHAROM_API_URL"); v != "" {
		cfg.Chat.APIURL = v
	}
	if v := os.Getenv("KHAROM_CHAT_MODE"); v != "" {
		cfg.Chat.Mode = v
	}
	if v := os.Getenv("KHAROM_PROVIDER"); v != "" {
		cfg.Chat.Provider = v
	}
	if v := os.Getenv("KHAROM_MODEL"); v != "" || os.Getenv("KHAROM_API_KEY") != "" {
		if cfg.Providers == nil {
			cfg.Providers = make(map[string]ProviderConfig)
		}
		p := cfg.Providers[cfg.Chat.Provider]
		if v != "" {
			p.Model = v
		}
		if key := os.Getenv("KHAROM_API_KEY"); key != "" {
			p.APIKey = key
		}
		cfg.Providers[cfg.Chat.Provider] = p
	}
	if v := os.Getenv("KHAROM_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("KHAROM_CHAT_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.Chat.TimeoutSeconds = secs
		}
	}
}

func (c *Config) fillDefaults() {
	def := Default()
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = def.BasicConfig.ServerAddress
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = def.Storage.Backend
	}
	if c.Storage.KeyPrefix == "" {
		c.Storage.KeyPrefix = def.Storage.KeyPrefix
	}
	if c.Storage.IndexKey == "" {
		c.Storage.IndexKey = def.Storage.IndexKey
	}
	if c.Storage.SnippetLength <= 0 {
		c.Storage.SnippetLength = def.Storage.SnippetLength
	}
	if c.Chat.Mode == "" {
		c.Chat.Mode = def.Chat.Mode
	}
	if c.Chat.TimeoutSeconds <= 0 {
		c.Chat.TimeoutSeconds = def.Chat.TimeoutSeconds
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Storage.KeyPrefix == c.Storage.IndexKey {
		return errors.New("storage key_prefix and index_key must differ")
	}
	switch c.Chat.Mode {
	case ChatModeRemote:
		if c.Chat.APIURL == "" {
			return errors.New("chat api_url must be configured in remote mode")
		}
	case ChatModeDirect:
		if c.Chat.Provider == "" {
			return errors.New("chat provider must be configured in direct mode")
		}
	default:
		return fmt.Errorf("unknown chat mode %q", c.Chat.Mode)
	}
	return nil
}

// ChatTimeout returns the per-prompt timeout.
func (c *Config) ChatTimeout() time.Duration {
	return time.Duration(c.Chat.TimeoutSeconds) * time.Second
}
