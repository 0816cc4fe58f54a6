package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config корневая структура конфигурации сервиса.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig основное хранилище: pgx (PostgreSQL) или sqlite (локально).
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	URL      string `mapstructure:"url"`
	MaxConns int    `mapstructure:"max_conns"`
}

// RedisConfig аудит-индекс, Pub/Sub политик, очередь отписок, блокировки фоновых задач.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig публичный ключ IdP для проверки токенов ревьюеров.
type AuthConfig struct {
	PublicKeyPath string `mapstructure:"public_key_path"`
	PublicKey     []byte
}

// EngineConfig настройки движка предложений.
type EngineConfig struct {
	AuditBufferSize    int           `mapstructure:"audit_buffer_size"`
	AuditBatchSize     int           `mapstructure:"audit_batch_size"`
	AuditFlushInterval time.Duration `mapstructure:"audit_flush_interval"`

	LearningRate    float64 `mapstructure:"learning_rate"`
	WindowDays      int     `mapstructure:"window_days"`
	BaseConfidence  float64 `mapstructure:"base_confidence"`
	WeightInfluence float64 `mapstructure:"weight_influence"`

	// DryRun: изменения в ящике только записываются в память
	DryRun      bool          `mapstructure:"dry_run"`
	MailboxURL  string        `mapstructure:"mailbox_url"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	RateLimit   float64       `mapstructure:"rate_limit"`
	RateBurst   int           `mapstructure:"rate_burst"`

	// Настройки Circuit Breaker для mailbox executor
	CBFailures uint32        `mapstructure:"cb_failures"`
	CBTimeout  time.Duration `mapstructure:"cb_timeout"`

	UnsubscribeTimeout time.Duration `mapstructure:"unsubscribe_timeout"`
	UnsubscribeRate    float64       `mapstructure:"unsubscribe_rate"`

	// Cron-выражения фоновых задач, пусто - задача выключена
	ReplaySchedule    string `mapstructure:"replay_schedule"`
	RecomputeSchedule string `mapstructure:"recompute_schedule"`

	SeedPolicies string `mapstructure:"seed_policies"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
// path непустой - читается конкретный файл.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	// 2. Переменные окружения: SERVER_PORT=9000 перекроет server.port
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Установка дефолтных значений
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет, работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. Ключ: сначала сам PEM из ENV (Docker/K8s), затем файл
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.url", "inboxpilot.db")
	v.SetDefault("database.max_conns", 15)

	v.SetDefault("redis.addr", "localhost:6379")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")

	v.SetDefault("engine.audit_buffer_size", 10000)
	v.SetDefault("engine.audit_batch_size", 100)
	v.SetDefault("engine.audit_flush_interval", 500*time.Millisecond)
	v.SetDefault("engine.learning_rate", 0.2)
	v.SetDefault("engine.window_days", 30)
	v.SetDefault("engine.base_confidence", 0.80)
	v.SetDefault("engine.weight_influence", 0.10)
	v.SetDefault("engine.dry_run", true)
	v.SetDefault("engine.call_timeout", 10*time.Second)
	v.SetDefault("engine.rate_limit", 100)
	v.SetDefault("engine.rate_burst", 20)
	v.SetDefault("engine.cb_failures", 5)
	v.SetDefault("engine.cb_timeout", 30*time.Second)
	v.SetDefault("engine.unsubscribe_timeout", 10*time.Second)
	v.SetDefault("engine.unsubscribe_rate", 5)
	v.SetDefault("engine.replay_schedule", "@every 1h")
	v.SetDefault("engine.recompute_schedule", "@daily")
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "pgx", "sqlite":
	default:
		return fmt.Errorf("config: unsupported database.driver %q (pgx|sqlite)", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("config: database.url is required")
	}
	if !c.Engine.DryRun && c.Engine.MailboxURL == "" {
		return fmt.Errorf("config: engine.mailbox_url is required unless engine.dry_run is set")
	}
	return nil
}

// loadKeyResource PEM из ENV или из файла по пути из конфига
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
