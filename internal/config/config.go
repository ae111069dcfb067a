// Пакет config — загрузка и валидация конфигурации сервиса
// из переменных окружения UNISHARE_*.
//
// Необязательный YAML-файл (UNISHARE_CONFIG_FILE) задаёт значения
// по умолчанию для тех же ключей; переменные окружения всегда приоритетнее.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Префикс переменных окружения.
const envPrefix = "UNISHARE_"

// Бэкенды хранилищ.
const (
	BackendLocal    = "local"
	BackendS3       = "s3"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendDynamoDB = "dynamodb"
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendNone     = "none"
)

// Config содержит все параметры конфигурации сервиса.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// Таймауты HTTP-сервера
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	// Таймаут graceful shutdown
	ShutdownTimeout time.Duration
	// Максимальный размер тела запроса загрузки (base64 JSON)
	MaxUploadSize int64

	// Blob-хранилище: local или s3
	BlobBackend string
	// Директория локального blob-хранилища
	BlobDir string
	// Параметры S3
	S3Bucket         string
	S3Prefix         string
	S3Endpoint       string
	S3ForcePathStyle bool
	// Регион AWS (S3 и DynamoDB)
	AWSRegion string

	// Хранилище метаданных: postgres, mongo или dynamodb
	MetadataBackend string
	// Параметры PostgreSQL
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
	// Максимум подключений в пуле pgxpool
	DBMaxConns int
	// Сколько ждать доступности PostgreSQL при старте
	DBConnectTimeout time.Duration
	// Параметры MongoDB / DocumentDB
	MongoURI        string
	MongoDatabase   string
	MongoCollection string
	// Параметры DynamoDB
	DynamoDBTable    string
	DynamoDBEndpoint string

	// Поисковый индекс: postgres или memory
	SearchBackend string
	// Лимит результатов поиска по умолчанию и максимум
	SearchDefaultLimit int
	SearchMaxLimit     int

	// Журнал намерений: postgres, file или none
	IntentLogBackend string
	// Директория файлового журнала
	WALDir string

	// Интервал фоновой сверки
	ReconcileInterval time.Duration
	// Минимальный возраст pending-записи, после которого её разбирает сверка
	ReconcileGracePeriod time.Duration
	// Максимальное время повторов обновления при конфликте версий
	UpdateRetryMaxElapsed time.Duration

	// Имя сервиса в метриках topologymetrics
	ServiceID string
	// Группа в метриках topologymetrics
	DephealthGroup string
	// Интервал проверки зависимостей
	DephealthCheckInterval time.Duration
}

// fileValues — значения из YAML-файла конфигурации (ключ без префикса).
var fileValues map[string]string

// Load загружает конфигурацию, валидирует её и возвращает Config или ошибку.
func Load() (*Config, error) {
	values, err := loadFile(os.Getenv(envPrefix + "CONFIG_FILE"))
	if err != nil {
		return nil, err
	}
	fileValues = values

	cfg := &Config{}

	// PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("PORT", 8080)
	if err != nil {
		return nil, err
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("%sPORT: значение %d вне диапазона 1-65535", envPrefix, cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("%sLOG_LEVEL: %w", envPrefix, err)
	}

	cfg.LogFormat = getEnvDefault("LOG_FORMAT", "json")
	if err := oneOf("LOG_FORMAT", cfg.LogFormat, "json", "text"); err != nil {
		return nil, err
	}

	if cfg.HTTPReadTimeout, err = getEnvDuration("HTTP_READ_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.HTTPWriteTimeout, err = getEnvDuration("HTTP_WRITE_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.HTTPIdleTimeout, err = getEnvDuration("HTTP_IDLE_TIMEOUT", 120*time.Second); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	// MAX_UPLOAD_SIZE — по умолчанию 64 MB тела запроса
	cfg.MaxUploadSize, err = getEnvInt64("MAX_UPLOAD_SIZE", 64<<20)
	if err != nil {
		return nil, err
	}
	if cfg.MaxUploadSize <= 0 {
		return nil, fmt.Errorf("%sMAX_UPLOAD_SIZE: значение должно быть положительным", envPrefix)
	}

	// --- Blob-хранилище ---
	cfg.BlobBackend = getEnvDefault("BLOB_BACKEND", BackendLocal)
	if err := oneOf("BLOB_BACKEND", cfg.BlobBackend, BackendLocal, BackendS3); err != nil {
		return nil, err
	}
	cfg.BlobDir = getEnvDefault("BLOB_DIR", "./data/blobs")
	cfg.S3Bucket = getEnvDefault("S3_BUCKET", "")
	cfg.S3Prefix = getEnvDefault("S3_PREFIX", "")
	cfg.S3Endpoint = getEnvDefault("S3_ENDPOINT", "")
	if cfg.S3ForcePathStyle, err = getEnvBool("S3_FORCE_PATH_STYLE", false); err != nil {
		return nil, err
	}
	cfg.AWSRegion = getEnvDefault("AWS_REGION", "eu-west-2")
	if cfg.BlobBackend == BackendS3 && cfg.S3Bucket == "" {
		return nil, fmt.Errorf("%sS3_BUCKET: обязателен при %sBLOB_BACKEND=s3", envPrefix, envPrefix)
	}

	// --- Хранилище метаданных ---
	cfg.MetadataBackend = getEnvDefault("METADATA_BACKEND", BackendPostgres)
	if err := oneOf("METADATA_BACKEND", cfg.MetadataBackend, BackendPostgres, BackendMongo, BackendDynamoDB); err != nil {
		return nil, err
	}
	cfg.MongoURI = getEnvDefault("MONGO_URI", "mongodb://localhost:27017")
	cfg.MongoDatabase = getEnvDefault("MONGO_DATABASE", "unishare")
	cfg.MongoCollection = getEnvDefault("MONGO_COLLECTION", "files")
	cfg.DynamoDBTable = getEnvDefault("DYNAMODB_TABLE", "unishare-files")
	cfg.DynamoDBEndpoint = getEnvDefault("DYNAMODB_ENDPOINT", "")

	// --- Поиск и журнал ---
	cfg.SearchBackend = getEnvDefault("SEARCH_BACKEND", BackendMemory)
	if err := oneOf("SEARCH_BACKEND", cfg.SearchBackend, BackendPostgres, BackendMemory); err != nil {
		return nil, err
	}
	if cfg.SearchDefaultLimit, err = getEnvInt("SEARCH_DEFAULT_LIMIT", 50); err != nil {
		return nil, err
	}
	if cfg.SearchMaxLimit, err = getEnvInt("SEARCH_MAX_LIMIT", 200); err != nil {
		return nil, err
	}
	if cfg.SearchDefaultLimit < 1 || cfg.SearchDefaultLimit > cfg.SearchMaxLimit {
		return nil, fmt.Errorf("%sSEARCH_DEFAULT_LIMIT: значение %d должно быть в диапазоне 1-%d",
			envPrefix, cfg.SearchDefaultLimit, cfg.SearchMaxLimit)
	}

	cfg.IntentLogBackend = getEnvDefault("INTENT_LOG_BACKEND", BackendFile)
	if err := oneOf("INTENT_LOG_BACKEND", cfg.IntentLogBackend, BackendPostgres, BackendFile, BackendNone); err != nil {
		return nil, err
	}
	cfg.WALDir = getEnvDefault("WAL_DIR", "./data/wal")

	// --- PostgreSQL (обязателен, если используется хотя бы одним компонентом) ---
	cfg.DBHost = getEnvDefault("DB_HOST", "localhost")
	if cfg.DBPort, err = getEnvInt("DB_PORT", 5432); err != nil {
		return nil, err
	}
	cfg.DBName = getEnvDefault("DB_NAME", "unishare")
	cfg.DBUser = getEnvDefault("DB_USER", "unishare")
	cfg.DBPassword = getEnvDefault("DB_PASSWORD", "")
	cfg.DBSSLMode = getEnvDefault("DB_SSL_MODE", "disable")
	if cfg.DBMaxConns, err = getEnvInt("DB_MAX_CONNS", 10); err != nil {
		return nil, err
	}
	if cfg.DBMaxConns < 1 {
		return nil, fmt.Errorf("%sDB_MAX_CONNS: значение должно быть положительным, получено %d",
			envPrefix, cfg.DBMaxConns)
	}
	if cfg.DBConnectTimeout, err = getEnvDuration("DB_CONNECT_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.UsesPostgres() && cfg.DBPassword == "" {
		return nil, fmt.Errorf("%sDB_PASSWORD: обязательная переменная окружения не задана", envPrefix)
	}

	// --- Фоновые процессы ---
	if cfg.ReconcileInterval, err = getEnvDuration("RECONCILE_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.ReconcileInterval <= 0 {
		return nil, fmt.Errorf("%sRECONCILE_INTERVAL: значение должно быть положительным", envPrefix)
	}
	if cfg.ReconcileGracePeriod, err = getEnvDuration("RECONCILE_GRACE_PERIOD", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.UpdateRetryMaxElapsed, err = getEnvDuration("UPDATE_RETRY_MAX_ELAPSED", 2*time.Second); err != nil {
		return nil, err
	}

	cfg.ServiceID = getEnvDefault("SERVICE_ID", "unishare")
	cfg.DephealthGroup = getEnvDefault("DEPHEALTH_GROUP", "unishare")
	if cfg.DephealthCheckInterval, err = getEnvDuration("DEPHEALTH_CHECK_INTERVAL", 15*time.Second); err != nil {
		return nil, err
	}

	return cfg, nil
}

// UsesPostgres возвращает true, если PostgreSQL нужен хотя бы одному компоненту.
func (c *Config) UsesPostgres() bool {
	return c.MetadataBackend == BackendPostgres ||
		c.SearchBackend == BackendPostgres ||
		c.IntentLogBackend == BackendPostgres
}

// UsesAWS возвращает true, если нужна AWS-сессия.
func (c *Config) UsesAWS() bool {
	return c.BlobBackend == BackendS3 || c.MetadataBackend == BackendDynamoDB
}

// DatabaseDSN формирует DSN для pgxpool.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.DBUser), url.QueryEscape(c.DBPassword),
		c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// MigrateURL формирует URL для golang-migrate (драйвер pgx5).
func (c *Config) MigrateURL() string {
	return "pgx5" + strings.TrimPrefix(c.DatabaseDSN(), "postgres")
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

// loadFile читает YAML-файл вида {KEY: value} без префикса UNISHARE_.
func loadFile(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%sCONFIG_FILE: ошибка чтения %s: %w", envPrefix, path, err)
	}

	raw := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%sCONFIG_FILE: некорректный YAML в %s: %w", envPrefix, path, err)
	}

	values := make(map[string]string, len(raw))
	for k, v := range raw {
		key := strings.TrimPrefix(strings.ToUpper(k), envPrefix)
		values[key] = fmt.Sprint(v)
	}
	return values, nil
}

// lookup возвращает значение ключа: сначала окружение, затем файл.
func lookup(key string) string {
	if val := os.Getenv(envPrefix + key); val != "" {
		return val
	}
	return fileValues[key]
}

// getEnvDefault возвращает значение переменной или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := lookup(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := lookup(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%s%s: некорректное целое число: %q", envPrefix, key, val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := lookup(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s%s: некорректное целое число: %q", envPrefix, key, val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := lookup(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%s%s: некорректная длительность: %q (используйте формат Go: 30s, 1m, 6h)",
			envPrefix, key, val)
	}
	return d, nil
}

// getEnvBool возвращает bool значение переменной или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := lookup(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("%s%s: некорректное логическое значение: %q", envPrefix, key, val)
	}
	return b, nil
}

// oneOf проверяет, что значение входит в список допустимых.
func oneOf(key, val string, allowed ...string) error {
	for _, a := range allowed {
		if val == a {
			return nil
		}
	}
	return fmt.Errorf("%s%s: недопустимое значение %q, допустимые: %s",
		envPrefix, key, val, strings.Join(allowed, ", "))
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
