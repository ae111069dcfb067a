// Пакет database — подключение к PostgreSQL через pgxpool,
// применение миграций схемы file_records / search_index / pending_operations
// и проверка готовности.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/travis-04/unishare-cw2/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// readyTimeout — таймаут ping для /health/ready.
const readyTimeout = 3 * time.Second

// Connect создаёт пул подключений к PostgreSQL.
// Пока не истёк cfg.DBConnectTimeout, недоступная БД не считается ошибкой:
// ping повторяется с экспоненциальной задержкой (БД в compose/k8s
// часто стартует позже сервиса).
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}
	if cfg.DBMaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.DBMaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания пула подключений: %w", err)
	}

	attempts := 0
	ping := func() error {
		attempts++
		pingCtx, cancel := context.WithTimeout(ctx, readyTimeout)
		defer cancel()
		return pool.Ping(pingCtx)
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("PostgreSQL недоступен, повтор подключения",
			slog.Int("attempt", attempts),
			slog.String("retry_in", wait.String()),
			slog.String("error", err.Error()),
		)
	}
	if err := backoff.RetryNotify(ping, connectBackOff(ctx, cfg.DBConnectTimeout), notify); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка подключения к PostgreSQL (попыток: %d): %w", attempts, err)
	}

	logger.Info("Подключение к PostgreSQL установлено",
		slog.String("host", cfg.DBHost),
		slog.Int("port", cfg.DBPort),
		slog.String("database", cfg.DBName),
		slog.Int("max_conns", int(poolCfg.MaxConns)),
		slog.Int("attempts", attempts),
	)

	return pool, nil
}

// connectBackOff — политика повторов ping. Нулевой таймаут означает одну попытку.
func connectBackOff(ctx context.Context, timeout time.Duration) backoff.BackOff {
	if timeout <= 0 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = timeout
	return backoff.WithContext(b, ctx)
}

// Migrate применяет SQL-миграции из embedded FS к базе данных.
// Ход применения каждой миграции пишется в лог с component=migrate.
func Migrate(cfg *config.Config, logger *slog.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("ошибка создания источника миграций: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, cfg.MigrateURL())
	if err != nil {
		return fmt.Errorf("ошибка инициализации миграций: %w", err)
	}
	defer m.Close()
	m.Log = newMigrateLogger(logger)

	before, _, _ := m.Version()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("ошибка применения миграций: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Info("Миграции применены",
		slog.Uint64("from_version", uint64(before)),
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)

	return nil
}

// migrateLogger — адаптер migrate.Logger поверх slog.
type migrateLogger struct {
	logger *slog.Logger
}

func newMigrateLogger(logger *slog.Logger) *migrateLogger {
	return &migrateLogger{logger: logger.With(slog.String("component", "migrate"))}
}

// Printf пишет сообщение golang-migrate на уровне Debug.
func (l *migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// Verbose включает подробный вывод только при уровне Debug.
func (l *migrateLogger) Verbose() bool {
	return l.logger.Enabled(context.Background(), slog.LevelDebug)
}

// ReadinessChecker — проверка готовности PostgreSQL для /health/ready.
type ReadinessChecker struct {
	pool *pgxpool.Pool
}

// NewReadinessChecker создаёт проверку готовности PostgreSQL.
func NewReadinessChecker(pool *pgxpool.Pool) *ReadinessChecker {
	return &ReadinessChecker{pool: pool}
}

// Name возвращает имя проверяемой зависимости.
func (c *ReadinessChecker) Name() string { return "postgresql" }

// CheckReady пингует PostgreSQL. Исчерпанный пул отдаётся как degraded:
// запросы ещё обслуживаются, но ждут свободного подключения.
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), readyTimeout)
	defer cancel()

	if err := c.pool.Ping(ctx); err != nil {
		return "fail", fmt.Sprintf("PostgreSQL недоступен: %v", err)
	}

	stat := c.pool.Stat()
	message = fmt.Sprintf("подключение активно (занято %d из %d)", stat.AcquiredConns(), stat.MaxConns())
	if stat.MaxConns() > 0 && stat.AcquiredConns() >= stat.MaxConns() {
		return "degraded", message
	}
	return "ok", message
}
