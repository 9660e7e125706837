package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/go-playground/validator/v10"
)

// Config holds all service settings, populated from environment variables.
// The env tag names the variable and is used in validation errors.
type Config struct {
	TelegramToken         string  `env:"TELEGRAM_TOKEN" validate:"required"`
	TelegramChannels      []int64 `env:"TELEGRAM_CHANNELS"`
	TelegramMonitorChatID int64   `env:"TELEGRAM_MONITOR_CHAT_ID"`

	MediaDir string `env:"MEDIA_DIR" validate:"required"`
	DBPath   string `env:"DB_PATH" validate:"required"`

	// Mapbox geocoding configuration.
	MapboxToken     string        `env:"MAPBOX_TOKEN" validate:"required"`
	MapboxTimeout   time.Duration `env:"MAPBOX_TIMEOUT" validate:"gt=0"`
	MapboxCacheSize int           `env:"MAPBOX_CACHE_SIZE" validate:"gt=0"`

	NERModelPath string `env:"NER_MODEL_PATH" validate:"required"`
	// NERModelName is downloaded into NERModelPath's directory when the path is missing.
	NERModelName string `env:"NER_MODEL_NAME"`

	GeocodeBaseDelay      time.Duration `env:"GEOCODE_BASE_DELAY" validate:"gte=0"`
	GeocodeAttemptTimeout time.Duration `env:"GEOCODE_ATTEMPT_TIMEOUT" validate:"gte=0"`
	MaxConcurrentEvents   int           `env:"MAX_CONCURRENT_EVENTS" validate:"min=1,max=256"`
	MaxRateLimitRetries   int           `env:"MAX_RATE_LIMIT_RETRIES" validate:"min=0,max=100"`

	KafkaEnabled   bool     `env:"KAFKA_ENABLED"`
	KafkaBrokers   []string `env:"KAFKA_BROKERS"`
	KafkaSinkTopic string   `env:"KAFKA_SINK_TOPIC"`

	HTTPAddr            string        `env:"HTTP_ADDR" validate:"required"`
	LogLevel            string        `env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	LogFormat           string        `env:"LOG_FORMAT" validate:"oneof=json text"`
	ShutdownTimeout     time.Duration `env:"SHUTDOWN_TIMEOUT"`
	MaintenanceSchedule string        `env:"MAINTENANCE_SCHEDULE" validate:"omitempty,cron"`
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	channels, err := parseChatIDs(os.Getenv("TELEGRAM_CHANNELS"))
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_CHANNELS: %w", err)
	}

	monitorChatID, err := parseInt64("TELEGRAM_MONITOR_CHAT_ID", 0)
	if err != nil {
		return nil, err
	}

	mapboxTimeout, err := parseDuration("MAPBOX_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}
	baseDelay, err := parseDuration("GEOCODE_BASE_DELAY", "1s")
	if err != nil {
		return nil, err
	}
	attemptTimeout, err := parseDuration("GEOCODE_ATTEMPT_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}

	cacheSize, err := parseInt("MAPBOX_CACHE_SIZE", 1000)
	if err != nil {
		return nil, err
	}
	maxConcurrent, err := parseInt("MAX_CONCURRENT_EVENTS", 8)
	if err != nil {
		return nil, err
	}
	maxRetries, err := parseInt("MAX_RATE_LIMIT_RETRIES", 5)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		TelegramToken:         os.Getenv("TELEGRAM_TOKEN"),
		TelegramChannels:      channels,
		TelegramMonitorChatID: monitorChatID,

		MediaDir: sharedcfg.EnvOrDefault("MEDIA_DIR", "media"),
		DBPath:   sharedcfg.EnvOrDefault("DB_PATH", "intel.db"),

		MapboxToken:     os.Getenv("MAPBOX_TOKEN"),
		MapboxTimeout:   mapboxTimeout,
		MapboxCacheSize: cacheSize,

		NERModelPath: sharedcfg.EnvOrDefault("NER_MODEL_PATH", "models/ner"),
		NERModelName: sharedcfg.EnvOrDefault("NER_MODEL_NAME", "KnightsAnalytics/distilbert-NER"),

		GeocodeBaseDelay:      baseDelay,
		GeocodeAttemptTimeout: attemptTimeout,
		MaxConcurrentEvents:   maxConcurrent,
		MaxRateLimitRetries:   maxRetries,

		KafkaEnabled:   os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers:   sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSinkTopic: sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "intel-messages"),

		HTTPAddr:            sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:            sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:     shutdownTimeout,
		MaintenanceSchedule: sharedcfg.EnvOrDefault("MAINTENANCE_SCHEDULE", "0 4 * * *"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and the rules that span fields.
func (c *Config) Validate() error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("env")
	})

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			if fe.Tag() == "required" {
				return fmt.Errorf("%s is required", fe.Field())
			}
			return fmt.Errorf("invalid %s: %v does not satisfy %s", fe.Field(), fe.Value(), fe.ActualTag())
		}
		return err
	}

	if c.KafkaEnabled {
		if len(c.KafkaBrokers) == 0 {
			return errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
		}
		if c.KafkaSinkTopic == "" {
			return errors.New("KAFKA_SINK_TOPIC is required when KAFKA_ENABLED is true")
		}
	}
	return nil
}

func parseChatIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range sharedcfg.ParseBrokers(s) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func parseInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func parseInt64(key string, def int64) (int64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
