// Точка входа сервиса файловых записей UniShare.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/travis-04/unishare-cw2/internal/api/handlers"
	"github.com/travis-04/unishare-cw2/internal/api/openapi"
	"github.com/travis-04/unishare-cw2/internal/config"
	"github.com/travis-04/unishare-cw2/internal/server"
	"github.com/travis-04/unishare-cw2/internal/service"
)

func main() {
	// 1. Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("UniShare запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("blob_backend", cfg.BlobBackend),
		slog.String("metadata_backend", cfg.MetadataBackend),
		slog.String("search_backend", cfg.SearchBackend),
		slog.String("intent_log_backend", cfg.IntentLogBackend),
	)

	ctx := context.Background()

	// 3. Клиенты хранилищ (один раз на процесс)
	stores, err := server.BuildStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка инициализации хранилищ", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer stores.Close()

	// 4. OpenAPI контракт
	contract, err := openapi.Load(ctx)
	if err != nil {
		logger.Error("Ошибка загрузки OpenAPI контракта", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Debug("OpenAPI контракт загружен", slog.String("api_version", contract.Version()))

	// 5. Сервисы
	fileSvc := service.NewFileService(
		stores.Blobs, stores.Repo, stores.Index, stores.Intents,
		service.FileServiceConfig{
			UpdateRetryMaxElapsed: cfg.UpdateRetryMaxElapsed,
			SearchDefaultLimit:    cfg.SearchDefaultLimit,
			SearchMaxLimit:        cfg.SearchMaxLimit,
		},
		logger,
	)
	reconcileSvc := service.NewReconcileService(
		stores.Blobs, stores.Repo, stores.Index, stores.Intents,
		cfg.ReconcileInterval, cfg.ReconcileGracePeriod, logger,
	)

	// 5.1 In-memory индекс строится из хранилища метаданных
	if stores.MemoryIndex != nil {
		if _, err := fileSvc.Reindex(ctx); err != nil {
			logger.Error("Ошибка построения поискового индекса", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// 5.2 Сверка незавершённых операций, оставшихся от прошлого запуска
	if report, _ := reconcileSvc.RunOnce(ctx); report != nil && report.Examined > 0 {
		logger.Warn("Обнаружены незавершённые операции, выполнена сверка",
			slog.Int("examined", report.Examined),
			slog.Int("committed", report.Committed),
			slog.Int("rolled_back", report.RolledBack),
			slog.Int("deletes_completed", report.DeletesCompleted),
			slog.Int("failed", report.Failed),
		)
	}

	// 6. Фоновые процессы
	reconcileSvc.Start(ctx)

	// 6.1 topologymetrics — мониторинг зависимостей
	var dephealthSvc *service.DephealthService
	if stores.Dependencies.Empty() {
		logger.Info("Внешних зависимостей для мониторинга нет, topologymetrics не запускается")
	} else {
		dephealthSvc, err = service.NewDephealthService(
			cfg.ServiceID,
			cfg.DephealthGroup,
			stores.Dependencies,
			cfg.DephealthCheckInterval,
			logger,
		)
		if err != nil {
			logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
				slog.String("error", err.Error()),
			)
			dephealthSvc = nil
		} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
			dephealthSvc = nil
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 7. Handlers
	checkers := stores.Checkers
	if dephealthSvc != nil {
		checkers = append(checkers, dephealthSvc)
	}
	apiHandler := handlers.NewAPIHandler(
		fileSvc,
		handlers.NewHealthHandler(checkers...),
		handlers.NewMaintenanceHandler(reconcileSvc, fileSvc),
		contract,
		cfg.MaxUploadSize,
		logger,
	)

	// 8. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler)
	runErr := srv.Run(ctx)

	// --- Graceful shutdown фоновых процессов ---
	logger.Info("Остановка фоновых процессов...")
	reconcileSvc.Stop()
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	if runErr != nil {
		logger.Error("Ошибка сервера", slog.String("error", runErr.Error()))
		stores.Close()
		os.Exit(1)
	}
	logger.Info("UniShare остановлен")
}
