// metrics.go — Prometheus HTTP метрики сервиса.
// Метка route — шаблон маршрута chi (/files/{id}), а не сырой путь,
// поэтому кардинальность не зависит от числа файлов.
// Бизнес-метрики регистрируются в сервисном слое.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// routeOther — метка для запросов, не совпавших ни с одним маршрутом.
const routeOther = "other"

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unishare_http_requests_total",
			Help: "Общее количество HTTP-запросов",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "unishare_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	httpInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "unishare_http_in_flight_requests",
			Help: "Количество обрабатываемых HTTP-запросов",
		},
	)

	// Ответы скачивания содержимого доходят до сотен мегабайт
	httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "unishare_http_response_size_bytes",
			Help:    "Размер тела HTTP-ответа в байтах",
			Buckets: prometheus.ExponentialBuckets(256, 4, 10),
		},
		[]string{"route"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Должен стоять внутри chi router: шаблон маршрута известен только после ServeHTTP.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			httpInFlight.Inc()
			defer httpInFlight.Dec()

			wrapped := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			route := routeLabel(r)
			httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.statusCode)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			httpResponseSize.WithLabelValues(route).Observe(float64(wrapped.bytes))
		})
	}
}

// routeLabel возвращает шаблон совпавшего маршрута без завершающего "/".
func routeLabel(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return routeOther
	}
	pattern := rctx.RoutePattern()
	if pattern == "" {
		return routeOther
	}
	if len(pattern) > 1 {
		pattern = strings.TrimSuffix(pattern, "/")
	}
	return pattern
}

// metricsResponseWriter перехватывает статус-код и размер тела.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
	bytes      int64
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *metricsResponseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += int64(n)
	return n, err
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
