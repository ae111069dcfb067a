// Пакет server — HTTP-сервер сервиса файловых записей и сборка
// клиентов хранилищ. Без TLS, TLS termination на ingress.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/travis-04/unishare-cw2/internal/api/handlers"
	"github.com/travis-04/unishare-cw2/internal/api/middleware"
	"github.com/travis-04/unishare-cw2/internal/config"
)

// readHeaderTimeout ограничивает чтение заголовков (slowloris).
const readHeaderTimeout = 10 * time.Second

// Server — HTTP-сервер сервиса.
type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// New собирает router: метрики и логирование запросов, затем маршруты API.
func New(cfg *config.Config, logger *slog.Logger, handler *handlers.APIHandler) *Server {
	router := chi.NewRouter()
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))
	handler.Register(router)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: readHeaderTimeout,
			ReadTimeout:       cfg.HTTPReadTimeout,
			WriteTimeout:      cfg.HTTPWriteTimeout,
			IdleTimeout:       cfg.HTTPIdleTimeout,
		},
		shutdownTimeout: cfg.ShutdownTimeout,
		logger:          logger.With(slog.String("component", "server")),
	}
}

// Handler возвращает корневой http.Handler (router с middleware).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run обслуживает запросы до отмены ctx или сигнала SIGINT/SIGTERM,
// затем выполняет graceful shutdown в пределах ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP-сервер запущен", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Получен сигнал завершения", slog.String("cause", context.Cause(ctx).Error()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...", slog.Duration("timeout", s.shutdownTimeout))
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
