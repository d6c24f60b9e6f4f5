package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	ProviderGoOpenAI  = "go-openai"
	ProviderOpenAISDK = "openai-go"

	StorageMemory = "memory"
	StorageRedis  = "redis"
	StorageSQLite = "sqlite"

	MaxRetries = 30
)

var (
	ErrHistoryLengthTooSmall = errors.New("chat.max_history_length must be at least 2")
	ErrUnknownStorageBackend = errors.New("unknown storage backend")
	ErrUnknownProvider       = errors.New("unknown genai provider")
	ErrNegativeRetry         = errors.New("retry settings must not be negative")
	ErrTooManyRetries        = errors.New("retry.max_retries must not exceed 30")
)

type GenAI struct {
	APIKey            string        `env:"GENAI_API_KEY" env-required:"true"`
	BaseURL           string        `yaml:"base_url" env:"GENAI_BASE_URL" env-default:"https://generativelanguage.googleapis.com/v1beta/openai/"`
	Provider          string        `yaml:"provider" env:"GENAI_PROVIDER" env-default:"go-openai"`
	DefaultModel      string        `yaml:"default_model" env:"GENAI_DEFAULT_MODEL" env-default:"gemini-3-flash-preview"`
	Temperature       float32       `yaml:"temperature" env:"GENAI_TEMPERATURE" env-default:"1"`
	RequestTimeout    time.Duration `yaml:"request_timeout" env:"GENAI_REQUEST_TIMEOUT" env-default:"2m"`
	RequestsPerMinute int           `yaml:"requests_per_minute" env:"GENAI_REQUESTS_PER_MINUTE" env-default:"0"`
}

type Retry struct {
	MaxRetries int           `yaml:"max_retries" env:"RETRY_MAX_RETRIES" env-default:"3"`
	BaseDelay  time.Duration `yaml:"base_delay" env:"RETRY_BASE_DELAY" env-default:"1s"`
	MaxJitter  time.Duration `yaml:"max_jitter" env:"RETRY_MAX_JITTER" env-default:"500ms"`
}

type Chat struct {
	StorageKey       string `yaml:"storage_key" env:"CHAT_STORAGE_KEY" env-default:"yaz_ai_chats"`
	MaxHistoryLength int    `yaml:"max_history_length" env:"CHAT_MAX_HISTORY_LENGTH" env-default:"50"`
	MaxImageSize     int64  `yaml:"max_image_size" env:"CHAT_MAX_IMAGE_SIZE" env-default:"5242880"`
	Language         string `yaml:"language" env:"CHAT_LANGUAGE" env-default:"ar"`
	DefaultModel     string `yaml:"default_model" env:"CHAT_DEFAULT_MODEL" env-default:"deepseek"`
}

type Storage struct {
	Backend    string `yaml:"backend" env:"STORAGE_BACKEND" env-default:"memory"`
	SQLitePath string `yaml:"sqlite_path" env:"STORAGE_SQLITE_PATH" env-default:"persona-chat.db"`
}

type Redis struct {
	Endpoint string `yaml:"endpoint" env:"REDIS_ENDPOINT" env-default:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

type HTTP struct {
	Enabled         bool          `yaml:"enabled" env:"HTTP_ENABLED" env-default:"true"`
	Address         string        `yaml:"address" env:"HTTP_ADDRESS" env-default:":8080"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

type Telegram struct {
	Enabled           bool    `yaml:"enabled" env:"TELEGRAM_ENABLED" env-default:"false"`
	TelegramAPIToken  string  `env:"TELEGRAM_APITOKEN"`
	AllowedTelegramID []int64 `yaml:"allowed_telegram_id" env:"ALLOWED_TELEGRAM_ID" env-separator:","`
}

type Log struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"text"`
}

type Config struct {
	GenAI    GenAI    `yaml:"genai"`
	Retry    Retry    `yaml:"retry"`
	Chat     Chat     `yaml:"chat"`
	Storage  Storage  `yaml:"storage"`
	Redis    Redis    `yaml:"redis"`
	HTTP     HTTP     `yaml:"http"`
	Telegram Telegram `yaml:"telegram"`
	Log      Log      `yaml:"log"`
}

// LoadConfig reads cfgPath (yaml or toml) and applies environment overrides.
// An empty cfgPath reads the environment only.
func LoadConfig(cfgPath string) (*Config, error) {
	var cfg Config
	if cfgPath != "" {
		if err := cleanenv.ReadConfig(cfgPath, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", cfgPath, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Chat.MaxHistoryLength < 2 {
		return ErrHistoryLengthTooSmall
	}
	switch c.Storage.Backend {
	case StorageMemory, StorageRedis, StorageSQLite:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStorageBackend, c.Storage.Backend)
	}
	switch c.GenAI.Provider {
	case ProviderGoOpenAI, ProviderOpenAISDK:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownProvider, c.GenAI.Provider)
	}
	if c.Retry.MaxRetries < 0 || c.Retry.BaseDelay < 0 || c.Retry.MaxJitter < 0 {
		return ErrNegativeRetry
	}
	if c.Retry.MaxRetries > MaxRetries {
		return fmt.Errorf("%w: %d", ErrTooManyRetries, c.Retry.MaxRetries)
	}
	return nil
}

// Help describes every supported environment variable.
func Help() (string, error) {
	var cfg Config
	return cleanenv.GetDescription(&cfg, nil)
}
