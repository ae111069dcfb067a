// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// Сервис мониторит (в зависимости от конфигурации):
//   - PostgreSQL (pgcheck в pool mode, critical)
//   - S3-совместимый endpoint (HTTP GET, critical)
//   - DynamoDB endpoint (HTTP GET, non-critical)
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health — состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds — задержка проверки
//   - app_dependency_status — категория статуса
//   - app_dependency_status_detail — детальный статус
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // HTTP checker для S3/DynamoDB endpoint
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"     // PostgreSQL checker (pool mode)
	"github.com/prometheus/client_golang/prometheus"
)

// ErrNoDependencies — ни одной зависимости для мониторинга не настроено.
var ErrNoDependencies = errors.New("нет зависимостей для мониторинга")

// HTTPDependency — зависимость, проверяемая HTTP GET.
type HTTPDependency struct {
	// Name — имя зависимости в метриках
	Name string
	// URL — базовый URL endpoint
	URL string
	// HealthPath — путь проверки; пустой — путь из URL или "/"
	HealthPath string
	// Critical — влияет ли зависимость на общее состояние
	Critical bool
}

// DephealthDeps — набор зависимостей для мониторинга.
type DephealthDeps struct {
	// DB — *sql.DB поверх пула pgx (stdlib.OpenDBFromPool), nil без PostgreSQL
	DB *sql.DB
	// PostgresURL — строка подключения PostgreSQL для меток метрик
	PostgresURL string
	// HTTP — HTTP-зависимости
	HTTP []HTTPDependency
}

// Empty возвращает true, если мониторить нечего.
func (d DephealthDeps) Empty() bool {
	return d.DB == nil && len(d.HTTP) == 0
}

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
func NewDephealthService(
	serviceID string,
	group string,
	deps DephealthDeps,
	checkInterval time.Duration,
	logger *slog.Logger,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, deps, checkInterval, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(
	serviceID string,
	group string,
	deps DephealthDeps,
	checkInterval time.Duration,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, deps, checkInterval, logger,
		dephealth.WithRegisterer(registerer))
}

// newDephealthService — внутренний конструктор.
func newDephealthService(
	serviceID string,
	group string,
	deps DephealthDeps,
	checkInterval time.Duration,
	logger *slog.Logger,
	extraOpts ...dephealth.Option,
) (*DephealthService, error) {
	if deps.Empty() {
		return nil, ErrNoDependencies
	}

	opts := []dephealth.Option{dephealth.WithLogger(logger)}

	if deps.DB != nil {
		opts = append(opts, dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(deps.DB)),
			dephealth.FromURL(deps.PostgresURL),
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(true),
		))
	}

	for _, dep := range deps.HTTP {
		healthPath := dep.HealthPath
		if healthPath == "" {
			healthPath = "/"
			if parsed, err := url.Parse(dep.URL); err == nil && parsed.Path != "" {
				healthPath = parsed.Path
			}
		}
		opts = append(opts, dephealth.HTTP(dep.Name,
			dephealth.FromURL(dep.URL),
			dephealth.WithHTTPHealthPath(healthPath),
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(dep.Critical),
		))
	}
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(serviceID, group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ — имя зависимости, значение — true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}

// Name — имя проверки в /health/ready.
func (ds *DephealthService) Name() string { return "dependencies" }

// CheckReady сводит последние результаты topologymetrics в статус готовности.
// Недоступная зависимость даёт degraded: сами хранилища проверяются отдельно.
func (ds *DephealthService) CheckReady() (status string, message string) {
	return summarizeHealth(ds.dh.Health())
}

func summarizeHealth(health map[string]bool) (string, string) {
	if len(health) == 0 {
		return "ok", "проверки ещё не выполнялись"
	}
	var failed []string
	for name, ok := range health {
		if !ok {
			failed = append(failed, name)
		}
	}
	if len(failed) == 0 {
		return "ok", fmt.Sprintf("все зависимости доступны (%d)", len(health))
	}
	sort.Strings(failed)
	return "degraded", "недоступны: " + strings.Join(failed, ", ")
}
