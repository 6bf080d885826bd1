package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config хранит все настройки приложения
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Verification VerificationConfig
	Email        EmailConfig
	Feedback     FeedbackConfig
}

// ServerConfig содержит настройки HTTP сервера
type ServerConfig struct {
	Port         string
	ReadTimeout  int
	WriteTimeout int
}

// DatabaseConfig содержит настройки подключения к PostgreSQL
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig содержит унифицированные настройки подключения к Redis
// Поддерживает режимы: single, sentinel, cluster
type RedisConfig struct {
	// Mode: Режим работы Redis ("single", "sentinel", "cluster"). По умолчанию "single".
	Mode string `mapstructure:"mode"`

	// Addrs: Список адресов Redis (хост:порт). Используется для всех режимов.
	Addrs []string `mapstructure:"addrs"`

	// Addr: Альтернативный адрес для режима 'single', если Addrs пустой.
	Addr string `mapstructure:"addr"`

	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	// MasterName: Имя мастер-сервера Redis (только для режима "sentinel")
	MasterName string `mapstructure:"master_name"`
}

// JWTConfig содержит настройки токенов сессий
type JWTConfig struct {
	// SigningSecret: Секрет для подписи HMAC токенов сессий
	SigningSecret string `mapstructure:"signing_secret"`
	// ExpirationHrs: Время жизни токена сессии в часах
	ExpirationHrs int `mapstructure:"expirationHrs"`
}

// VerificationConfig содержит настройки challenge/response проверки
type VerificationConfig struct {
	// ChallengeTTLSeconds: Время жизни challenge в секундах (по умолчанию 600)
	ChallengeTTLSeconds int `mapstructure:"challenge_ttl_seconds"`
	// MaxAttempts: Бюджет попыток проверки кода (по умолчанию 5)
	MaxAttempts int `mapstructure:"max_attempts"`
	// ResendCooldownSeconds: Минимальный интервал между выпусками кода для одного email
	ResendCooldownSeconds int `mapstructure:"resend_cooldown_seconds"`
	// CodePepper: Секрет, добавляемый к хешу кода
	CodePepper string `mapstructure:"code_pepper"`
	// BypassIdentities: Список email, проходящих проверку без кода.
	// Явная, аудируемая конфигурация для операторского доступа.
	BypassIdentities []string `mapstructure:"bypass_identities"`
}

// EmailConfig содержит настройки канала доставки
type EmailConfig struct {
	// Enabled: Если false, используется noop-доставка (коды только в логах)
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
	From    string `mapstructure:"from"`
}

// FeedbackConfig содержит настройки ретрансляции обратной связи
type FeedbackConfig struct {
	// OperatorEmail: Адрес, на который пересылаются отчеты
	OperatorEmail string `mapstructure:"operator_email"`
}

// ChallengeTTL возвращает TTL challenge как Duration
func (v *VerificationConfig) ChallengeTTL() time.Duration {
	return time.Duration(v.ChallengeTTLSeconds) * time.Second
}

// ResendCooldown возвращает интервал между выпусками как Duration
func (v *VerificationConfig) ResendCooldown() time.Duration {
	return time.Duration(v.ResendCooldownSeconds) * time.Second
}

// PostgresConnectionString формирует строку подключения к PostgreSQL
func (d *DatabaseConfig) PostgresConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// Load загружает конфигурацию из файла и переменных окружения
func Load(configPath string) (*Config, error) {
	vip := viper.New() // Новый экземпляр Viper, чтобы избежать глобального состояния

	// Значения по умолчанию
	vip.SetDefault("server.port", "8080")
	vip.SetDefault("server.readtimeout", 15)
	vip.SetDefault("server.writetimeout", 15)
	vip.SetDefault("jwt.expirationHrs", 24)
	vip.SetDefault("verification.challenge_ttl_seconds", 600)
	vip.SetDefault("verification.max_attempts", 5)
	vip.SetDefault("verification.resend_cooldown_seconds", 60)

	// Привязываем переменные окружения ЯВНО
	vip.BindEnv("database.host", "DATABASE_HOST")
	vip.BindEnv("database.port", "DATABASE_PORT")
	vip.BindEnv("database.user", "DATABASE_USER")
	vip.BindEnv("database.password", "DATABASE_PASSWORD")
	vip.BindEnv("database.dbname", "DATABASE_DBNAME")
	vip.BindEnv("database.sslmode", "DATABASE_SSLMODE")

	vip.BindEnv("redis.mode", "REDIS_MODE")
	vip.BindEnv("redis.addrs", "REDIS_ADDRS")
	vip.BindEnv("redis.addr", "REDIS_ADDR")
	vip.BindEnv("redis.password", "REDIS_PASSWORD")
	vip.BindEnv("redis.db", "REDIS_DB")
	vip.BindEnv("redis.master_name", "REDIS_MASTER_NAME")

	vip.BindEnv("jwt.signing_secret", "JWT_SIGNING_SECRET")
	vip.BindEnv("jwt.expirationHrs", "JWT_EXPIRATIONHRS")

	vip.BindEnv("verification.challenge_ttl_seconds", "VERIFICATION_CHALLENGE_TTL_SECONDS")
	vip.BindEnv("verification.max_attempts", "VERIFICATION_MAX_ATTEMPTS")
	vip.BindEnv("verification.resend_cooldown_seconds", "VERIFICATION_RESEND_COOLDOWN_SECONDS")
	vip.BindEnv("verification.code_pepper", "VERIFICATION_CODE_PEPPER")
	vip.BindEnv("verification.bypass_identities", "VERIFICATION_BYPASS_IDENTITIES")

	vip.BindEnv("email.enabled", "EMAIL_ENABLED")
	vip.BindEnv("email.api_key", "EMAIL_API_KEY")
	vip.BindEnv("email.from", "EMAIL_FROM")

	vip.BindEnv("feedback.operator_email", "FEEDBACK_OPERATOR_EMAIL")

	vip.BindEnv("server.port", "SERVER_PORT")

	// Пытаемся прочитать файл конфигурации (не страшно, если его нет)
	if configPath != "" {
		vip.SetConfigFile(configPath)
		if err := vip.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				log.Printf("Файл конфигурации '%s' не найден, используются переменные окружения/умолчания.", configPath)
			} else {
				log.Printf("Предупреждение: не удалось прочитать файл конфигурации '%s': %v", configPath, err)
			}
		}
	}

	var cfg Config
	if err := vip.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Логирование конфигурации (только вне release режима)
	if os.Getenv("GIN_MODE") != "release" {
		log.Printf("--- Загруженные значения конфигурации ---")
		log.Printf("Database Host: %s", cfg.Database.Host)
		log.Printf("Database Name: %s", cfg.Database.DBName)
		log.Printf("Redis Addr: %s", cfg.Redis.Addr)
		log.Printf("Challenge TTL: %ds", cfg.Verification.ChallengeTTLSeconds)
		log.Printf("Max Attempts: %d", cfg.Verification.MaxAttempts)
		log.Printf("Bypass Identities: %d configured", len(cfg.Verification.BypassIdentities))
		log.Printf("Email Delivery Enabled: %t", cfg.Email.Enabled)
		log.Printf("Server Port: %s", cfg.Server.Port)
		log.Printf("-----------------------------------------")
	}

	// Проверка обязательных параметров
	if cfg.JWT.SigningSecret == "" {
		return nil, fmt.Errorf("session signing secret is required in config (check JWT_SIGNING_SECRET env var)")
	}
	if cfg.Database.Host == "" || cfg.Database.DBName == "" || cfg.Database.User == "" {
		return nil, fmt.Errorf("database configuration (host, dbname, user) is incomplete in config (check DATABASE_HOST, DATABASE_DBNAME, DATABASE_USER env vars)")
	}
	if cfg.Email.Enabled && (cfg.Email.APIKey == "" || cfg.Email.From == "") {
		return nil, fmt.Errorf("email delivery is enabled but api_key/from are not configured (check EMAIL_API_KEY, EMAIL_FROM env vars)")
	}

	return &cfg, nil
}
