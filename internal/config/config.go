package config

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix — префикс переменных окружения, например EXAM_SESSION_BACKEND_TOKEN.
const EnvPrefix = "EXAM_SESSION"

// ErrInvalidConfig — конфигурация не прошла проверку.
var ErrInvalidConfig = errors.New("invalid config")

var validate = newValidator()

// Config — настройки одного запуска экзаменационной сессии.
type Config struct {
	AssessmentID string        `mapstructure:"assessment_id" validate:"required"`
	UserID       string        `mapstructure:"user_id" validate:"required"`
	Backend      BackendConfig `mapstructure:"backend"`
	Retry        RetryConfig   `mapstructure:"retry"`
	Log          LogConfig     `mapstructure:"log"`
	Storage      StorageConfig `mapstructure:"storage"`
	Report       ReportConfig  `mapstructure:"report"`
	Metrics      MetricsConfig `mapstructure:"metrics"`
}

// BackendConfig описывает REST сервер каталога и оценки.
type BackendConfig struct {
	BaseURL string        `mapstructure:"base_url" validate:"required,http_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
	// RPS 0 снимает ограничение частоты запросов
	RPS float64 `mapstructure:"rps" validate:"gte=0"`
}

// RetryConfig задает автоматические повторы и лимит ручных.
type RetryConfig struct {
	Attempts        int           `mapstructure:"attempts" validate:"min=1"`
	InitialInterval time.Duration `mapstructure:"initial_interval" validate:"gt=0"`
	MaxInterval     time.Duration `mapstructure:"max_interval" validate:"gtefield=InitialInterval"`
	ManualLimit     int           `mapstructure:"manual_limit" validate:"gte=0"`
}

// LogConfig — настройки логгера.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Color bool   `mapstructure:"color"`
	File  string `mapstructure:"file"`
}

// StorageConfig — архив результатов. Пустой DSN означает хранение в памяти.
type StorageConfig struct {
	DSN string `mapstructure:"dsn"`
}

// ReportConfig — выгрузка CSV-отчета после оценки.
type ReportConfig struct {
	CSVPath string `mapstructure:"csv_path"`
}

// MetricsConfig — адрес HTTP сервера метрик Prometheus, пустой отключает его.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// flagKeys связывает флаги командной строки с ключами конфигурации.
var flagKeys = map[string]string{
	"assessment-id":  "assessment_id",
	"user-id":        "user_id",
	"base-url":       "backend.base_url",
	"token":          "backend.token",
	"timeout":        "backend.timeout",
	"rps":            "backend.rps",
	"retry-attempts": "retry.attempts",
	"retry-initial":  "retry.initial_interval",
	"retry-max":      "retry.max_interval",
	"manual-retries": "retry.manual_limit",
	"log-level":      "log.level",
	"log-color":      "log.color",
	"log-file":       "log.file",
	"storage-dsn":    "storage.dsn",
	"report-csv":     "report.csv_path",
	"metrics-addr":   "metrics.addr",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("assessment_id", "")
	v.SetDefault("user_id", "")
	v.SetDefault("backend.base_url", "")
	v.SetDefault("backend.token", "")
	v.SetDefault("backend.timeout", 10*time.Second)
	v.SetDefault("backend.rps", 5.0)
	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.initial_interval", 500*time.Millisecond)
	v.SetDefault("retry.max_interval", 5*time.Second)
	v.SetDefault("retry.manual_limit", 5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.color", true)
	v.SetDefault("log.file", "")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("report.csv_path", "")
	v.SetDefault("metrics.addr", "")
}

// RegisterFlags объявляет флаги в fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to YAML config file")
	fs.String("env-file", "", "load EXAM_SESSION_* variables from this .env file")
	fs.String("assessment-id", "", "assessment to start")
	fs.String("user-id", "", "candidate id")
	fs.String("base-url", "", "backend base URL")
	fs.String("token", "", "backend bearer token")
	fs.Duration("timeout", 10*time.Second, "timeout of one backend request")
	fs.Float64("rps", 5, "backend requests per second, 0 disables the limit")
	fs.Int("retry-attempts", 3, "automatic attempts per remote call")
	fs.Duration("retry-initial", 500*time.Millisecond, "first backoff interval")
	fs.Duration("retry-max", 5*time.Second, "max backoff interval")
	fs.Int("manual-retries", 5, "how many times a blocked step may be retried by hand")
	fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.Bool("log-color", true, "colorize log output")
	fs.String("log-file", "", "write logs to this file with rotation instead of stderr")
	fs.String("storage-dsn", "", "PostgreSQL DSN of the results archive, empty keeps results in memory")
	fs.String("report-csv", "", "write the grading breakdown to this CSV file")
	fs.String("metrics-addr", "", "serve Prometheus metrics on this address")
}

// Load разбирает args и собирает конфигурацию.
// Приоритет: флаги, затем окружение EXAM_SESSION_*, затем YAML файл, затем значения по умолчанию.
// Переменные из --env-file не перекрывают уже заданное окружение.
func Load(fs *pflag.FlagSet, args []string) (*Config, error) {
	if fs.Lookup("config") == nil {
		RegisterFlags(fs)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	envFile, err := fs.GetString("env-file")
	if err != nil {
		return nil, err
	}

	if envFile != "" {
		if err = godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}

	path, err := fs.GetString("config")
	if err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err = v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err = v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	return &cfg, nil
}

// Validate проверяет обязательные поля и числовые ограничения по тегам validate.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return nil
}

// newValidator называет поля в ошибках по ключам конфигурации, например base_url.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("mapstructure"), ",")
		if name == "" || name == "-" {
			return field.Name
		}

		return name
	})

	return v
}

// SlogLevel переводит log.level в slog.Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level %q: %w", l.Level, err)
	}

	return level, nil
}
