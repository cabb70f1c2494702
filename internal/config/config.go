// Пакет config — загрузка и валидация конфигурации pharmatrace
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации сервиса.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Сервис построения транзакций ---

	// Базовый URL сервиса построения/подписи/отправки транзакций
	ChainTxURL string
	// Базовый URL сервиса запросов к блокчейну (по умолчанию = ChainTxURL)
	ChainQueryURL string
	// API-ключ (Bearer) для сервиса транзакций (опционально)
	ChainAPIKey string
	// Таймаут HTTP-запросов к сервису транзакций
	ChainTimeout time.Duration
	// Путь к CA-сертификату для TLS (опционально)
	ChainCACertPath string
	// Путь к plutus.json с валидаторами
	PlutusPath string

	// --- Жизненный цикл партии ---

	// Разрешать перевод, если текущий держатель актива ещё не записан
	TransferHolderGrace bool

	// --- Сверка подтверждений ---

	// Интервал опроса отправленных транзакций
	ReconcileInterval time.Duration
	// Задержка перед первым опросом
	ReconcileStartDelay time.Duration
	// Адрес Redis для распределённой блокировки опроса (опционально)
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// TTL распределённой блокировки опроса
	PollLockTTL time.Duration

	// --- Верификация ---

	// Максимум параллельных запросов статуса транзакций в VerifyBatch
	VerifyConcurrency int
	// Размер и TTL кэша подтверждённых статусов транзакций
	TxStatusCacheSize int
	TxStatusCacheTTL  time.Duration

	// --- JWT (опционально; при пустом JWKS URL аутентификация отключена) ---

	JWTJWKSURL          string
	JWTIssuer           string
	JWTLeeway           time.Duration
	JWKSRefreshInterval time.Duration
	JWKSClientTimeout   time.Duration

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// PT_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("PT_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("PT_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("PT_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("PT_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("PT_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("PT_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("PT_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	cfg.DBHost, err = getEnvRequired("PT_DB_HOST")
	if err != nil {
		return nil, err
	}

	cfg.DBPort, err = getEnvInt("PT_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("PT_DB_PORT: %w", err)
	}

	cfg.DBName, err = getEnvRequired("PT_DB_NAME")
	if err != nil {
		return nil, err
	}

	cfg.DBUser, err = getEnvRequired("PT_DB_USER")
	if err != nil {
		return nil, err
	}

	cfg.DBPassword, err = getEnvRequired("PT_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	cfg.DBSSLMode = getEnvDefault("PT_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("PT_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Сервис транзакций ---

	// PT_CHAIN_TX_URL — обязательный
	cfg.ChainTxURL, err = getEnvRequired("PT_CHAIN_TX_URL")
	if err != nil {
		return nil, err
	}
	cfg.ChainTxURL = strings.TrimRight(cfg.ChainTxURL, "/")
	if err := validateURL(cfg.ChainTxURL); err != nil {
		return nil, fmt.Errorf("PT_CHAIN_TX_URL: %w", err)
	}

	// PT_CHAIN_QUERY_URL — по умолчанию совпадает с PT_CHAIN_TX_URL
	cfg.ChainQueryURL = strings.TrimRight(getEnvDefault("PT_CHAIN_QUERY_URL", cfg.ChainTxURL), "/")
	if err := validateURL(cfg.ChainQueryURL); err != nil {
		return nil, fmt.Errorf("PT_CHAIN_QUERY_URL: %w", err)
	}

	cfg.ChainAPIKey = getEnvDefault("PT_CHAIN_API_KEY", "")

	cfg.ChainTimeout, err = getEnvDuration("PT_CHAIN_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PT_CHAIN_TIMEOUT: %w", err)
	}

	cfg.ChainCACertPath = getEnvDefault("PT_CHAIN_CA_CERT_PATH", "")

	cfg.PlutusPath = getEnvDefault("PT_PLUTUS_PATH", "contracts/plutus.json")

	// --- Жизненный цикл ---

	// PT_TRANSFER_HOLDER_GRACE — перевод без записанного держателя (по умолчанию true)
	cfg.TransferHolderGrace, err = getEnvBool("PT_TRANSFER_HOLDER_GRACE", true)
	if err != nil {
		return nil, fmt.Errorf("PT_TRANSFER_HOLDER_GRACE: %w", err)
	}

	// --- Сверка подтверждений ---

	cfg.ReconcileInterval, err = getEnvDuration("PT_RECONCILE_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PT_RECONCILE_INTERVAL: %w", err)
	}
	if cfg.ReconcileInterval <= 0 {
		return nil, fmt.Errorf("PT_RECONCILE_INTERVAL: значение должно быть положительным")
	}

	cfg.ReconcileStartDelay, err = getEnvDuration("PT_RECONCILE_START_DELAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PT_RECONCILE_START_DELAY: %w", err)
	}

	cfg.RedisAddr = getEnvDefault("PT_REDIS_ADDR", "")
	cfg.RedisPassword = getEnvDefault("PT_REDIS_PASSWORD", "")
	cfg.RedisDB, err = getEnvInt("PT_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("PT_REDIS_DB: %w", err)
	}

	cfg.PollLockTTL, err = getEnvDuration("PT_POLL_LOCK_TTL", 25*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PT_POLL_LOCK_TTL: %w", err)
	}

	// --- Верификация ---

	cfg.VerifyConcurrency, err = getEnvInt("PT_VERIFY_CONCURRENCY", 4)
	if err != nil {
		return nil, fmt.Errorf("PT_VERIFY_CONCURRENCY: %w", err)
	}
	if cfg.VerifyConcurrency < 1 || cfg.VerifyConcurrency > 64 {
		return nil, fmt.Errorf("PT_VERIFY_CONCURRENCY: значение %d вне допустимого диапазона 1-64", cfg.VerifyConcurrency)
	}

	cfg.TxStatusCacheSize, err = getEnvInt("PT_TX_STATUS_CACHE_SIZE", 10000)
	if err != nil {
		return nil, fmt.Errorf("PT_TX_STATUS_CACHE_SIZE: %w", err)
	}
	if cfg.TxStatusCacheSize < 1 {
		return nil, fmt.Errorf("PT_TX_STATUS_CACHE_SIZE: значение %d должно быть положительным", cfg.TxStatusCacheSize)
	}

	cfg.TxStatusCacheTTL, err = getEnvDuration("PT_TX_STATUS_CACHE_TTL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("PT_TX_STATUS_CACHE_TTL: %w", err)
	}

	// --- JWT ---

	cfg.JWTJWKSURL = getEnvDefault("PT_JWT_JWKS_URL", "")
	cfg.JWTIssuer = getEnvDefault("PT_JWT_ISSUER", "")

	cfg.JWTLeeway, err = getEnvDuration("PT_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PT_JWT_LEEWAY: %w", err)
	}

	cfg.JWKSRefreshInterval, err = getEnvDuration("PT_JWKS_REFRESH_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PT_JWKS_REFRESH_INTERVAL: %w", err)
	}

	cfg.JWKSClientTimeout, err = getEnvDuration("PT_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PT_JWKS_CLIENT_TIMEOUT: %w", err)
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("PT_DEPHEALTH_GROUP", "pharmatrace")

	cfg.DephealthCheckInterval, err = getEnvDuration("PT_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PT_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("PT_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PT_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения к PostgreSQL (для лейблов topologymetrics).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%d/%s", c.DBHost, c.DBPort, c.DBName)
}

// AuthEnabled сообщает, включена ли JWT-аутентификация.
func (c *Config) AuthEnabled() bool {
	return c.JWTJWKSURL != ""
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное логическое значение: %q (допустимые: true, false)", val)
	}
	return b, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// validateURL проверяет, что строка — абсолютный http(s) URL.
func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("некорректный URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("недопустимая схема %q, допустимые: http, https", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("в URL %q не указан хост", raw)
	}
	return nil
}
