package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config captures all runtime configuration for the validation services.
type Config struct {
	App            AppConfig
	Kafka          KafkaConfig
	Topics         TopicConfig
	ConsumerGroups ConsumerGroupConfig
	Store          StoreConfig
	Inventory      InventoryConfig
	Checker        CheckerConfig
	Sweep          SweepConfig
}

// AppConfig contains generic application level settings.
type AppConfig struct {
	Env      string
	LogLevel string
}

// KafkaConfig defines broker information.
type KafkaConfig struct {
	Brokers []string
}

// TopicPair groups the request and result topics for one fact type.
type TopicPair struct {
	Request string
	Result  string
}

// TopicConfig enumerates the topics per fact type.
type TopicConfig struct {
	User TopicPair
	Book TopicPair
}

// ConsumerGroupConfig provides the consumer group name per process.
type ConsumerGroupConfig struct {
	UserValidator string
	BookValidator string
	Finalizer     string
}

// StoreConfig locates the exchange database.
type StoreConfig struct {
	Path string
}

// InventoryConfig points at the inventory service used for book lookups.
type InventoryConfig struct {
	BaseURL string
}

// CheckerConfig controls the fact-checker engines.
type CheckerConfig struct {
	LookupTimeoutSeconds int
	Concurrency          int
}

// SweepConfig controls the finalizer's reconciliation sweep.
type SweepConfig struct {
	IntervalSeconds int
	DeadlineSeconds int
}

// Load reads environment variables, applies defaults, validates required
// values and returns a populated Config instance.
func Load() (*Config, error) {
	_ = godotenv.Load()

	ldr := &envLoader{}

	cfg := &Config{}
	cfg.App.Env = ldr.getString("APP_ENV", "development", false)
	cfg.App.LogLevel = ldr.getString("LOG_LEVEL", "info", false)

	cfg.Kafka.Brokers = ldr.getStringSlice("KAFKA_BROKERS", true)

	cfg.Topics.User = TopicPair{
		Request: ldr.getString("KAFKA_USER_VALIDATE_TOPIC", "exchange.validate.user", false),
		Result:  ldr.getString("KAFKA_USER_RESULT_TOPIC", "exchange.validated.user", false),
	}
	cfg.Topics.Book = TopicPair{
		Request: ldr.getString("KAFKA_BOOK_VALIDATE_TOPIC", "exchange.validate.book", false),
		Result:  ldr.getString("KAFKA_BOOK_RESULT_TOPIC", "exchange.validated.book", false),
	}

	cfg.ConsumerGroups.UserValidator = ldr.getString("USER_VALIDATOR_GROUP", "user-validator", false)
	cfg.ConsumerGroups.BookValidator = ldr.getString("BOOK_VALIDATOR_GROUP", "book-validator", false)
	cfg.ConsumerGroups.Finalizer = ldr.getString("FINALIZER_GROUP", "exchange-finalizer", false)

	cfg.Store.Path = ldr.getString("EXCHANGE_DB_PATH", "", true)
	cfg.Inventory.BaseURL = ldr.getString("INVENTORY_BASE_URL", "", true)

	cfg.Checker.LookupTimeoutSeconds = ldr.getInt("LOOKUP_TIMEOUT_SECONDS", 5, false)
	cfg.Checker.Concurrency = ldr.getInt("WORKER_CONCURRENCY", 10, false)

	cfg.Sweep.IntervalSeconds = ldr.getInt("SWEEP_INTERVAL_SECONDS", 60, false)
	cfg.Sweep.DeadlineSeconds = ldr.getInt("SWEEP_DEADLINE_SECONDS", 300, false)

	if err := ldr.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

type envLoader struct {
	errs []string
}

func (l *envLoader) validate() error {
	if len(l.errs) == 0 {
		return nil
	}
	return fmt.Errorf("config validation failed: %s", strings.Join(l.errs, "; "))
}

func (l *envLoader) getString(key, def string, required bool) string {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.TrimSpace(val)
		if val == "" {
			if required {
				l.addError(fmt.Sprintf("%s is required", key))
			}
			return def
		}
		return val
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return def
}

func (l *envLoader) getInt(key string, def int, required bool) int {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.TrimSpace(val)
		if val == "" {
			if required {
				l.addError(fmt.Sprintf("%s is required", key))
			}
			return def
		}
		i, err := strconv.Atoi(val)
		if err != nil {
			l.addError(fmt.Sprintf("%s must be a valid integer", key))
			return def
		}
		return i
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return def
}

func (l *envLoader) getStringSlice(key string, required bool) []string {
	raw := l.getString(key, "", required)
	if raw == "" {
		if required {
			return nil
		}
		return []string{}
	}
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if required && len(out) == 0 {
		l.addError(fmt.Sprintf("%s must contain at least one entry", key))
	}
	return out
}

func (l *envLoader) addError(err string) {
	l.errs = append(l.errs, err)
}
