// health.go — обработчики health endpoints.
// /health/live — liveness probe (процесс жив)
// /health/ready — readiness probe (хранилище метаданных и индекс доступны)
// /metrics — Prometheus метрики
package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/travis-04/unishare-cw2/internal/config"
)

// serviceName — имя сервиса в ответах health endpoints.
const serviceName = "unishare"

// ReadinessChecker — интерфейс проверки готовности зависимости.
type ReadinessChecker interface {
	// Name — ключ зависимости в ответе readiness.
	Name() string
	// CheckReady возвращает статус ("ok", "degraded", "fail") и сообщение.
	CheckReady() (status, message string)
}

// HealthHandler — обработчик health endpoints.
type HealthHandler struct {
	checkers    []ReadinessChecker
	promHandler http.Handler
}

// NewHealthHandler создаёт обработчик health endpoints.
// Без проверок readiness отвечает ok.
func NewHealthHandler(checkers ...ReadinessChecker) *HealthHandler {
	return &HealthHandler{
		checkers:    checkers,
		promHandler: promhttp.Handler(),
	}
}

// healthCheckResult — результат проверки одной зависимости.
type healthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// healthLiveResponse — ответ liveness probe.
type healthLiveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
}

// healthReadyResponse — ответ readiness probe.
type healthReadyResponse struct {
	Status    string                       `json:"status"`
	Timestamp string                       `json:"timestamp"`
	Version   string                       `json:"version"`
	Service   string                       `json:"service"`
	Checks    map[string]healthCheckResult `json:"checks"`
}

// HealthLive — liveness probe. Возвращает 200 если процесс жив.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthLiveResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
	})
}

// HealthReady — readiness probe. Зависимости опрашиваются параллельно,
// время ответа ограничено самой медленной проверкой.
// Возвращает 200 (ok/degraded) или 503 (fail).
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	resp := healthReadyResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
		Checks:    make(map[string]healthCheckResult, len(h.checkers)),
	}

	var (
		mu       sync.Mutex
		g        errgroup.Group
		statuses = make([]string, 0, len(h.checkers))
	)
	for _, c := range h.checkers {
		g.Go(func() error {
			status, msg := c.CheckReady()
			mu.Lock()
			defer mu.Unlock()
			resp.Checks[c.Name()] = healthCheckResult{Status: status, Message: msg}
			statuses = append(statuses, status)
			return nil
		})
	}
	_ = g.Wait()
	resp.Status = overallStatus(statuses...)

	code := http.StatusOK
	if resp.Status == statusFail {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// GetMetrics — Prometheus метрики.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}

// Константы статусов health check.
const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusFail     = "fail"
)

// overallStatus определяет итоговый статус из статусов зависимостей.
// Если хотя бы одна зависимость fail, итог fail.
// Если хотя бы одна degraded, итог degraded.
func overallStatus(statuses ...string) string {
	hasDegraded := false
	for _, s := range statuses {
		if s == statusFail {
			return statusFail
		}
		if s == statusDegraded {
			hasDegraded = true
		}
	}
	if hasDegraded {
		return statusDegraded
	}
	return statusOK
}
