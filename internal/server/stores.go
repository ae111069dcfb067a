// stores.go — сборка клиентов хранилищ по конфигурации.
// Клиенты создаются один раз при старте процесса и внедряются в сервисы.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/travis-04/unishare-cw2/internal/api/handlers"
	"github.com/travis-04/unishare-cw2/internal/config"
	"github.com/travis-04/unishare-cw2/internal/database"
	"github.com/travis-04/unishare-cw2/internal/repository"
	"github.com/travis-04/unishare-cw2/internal/service"
	"github.com/travis-04/unishare-cw2/internal/storage/blobstore"
	"github.com/travis-04/unishare-cw2/internal/storage/index"
	"github.com/travis-04/unishare-cw2/internal/storage/wal"
)

// s3HealthPath — health endpoint S3-совместимых сервисов (MinIO).
const s3HealthPath = "/minio/health/live"

// Stores — клиенты хранилищ, общие для всех запросов.
type Stores struct {
	Blobs   blobstore.BlobStore
	Repo    repository.FileRepository
	Index   index.SearchIndex
	Intents wal.Log

	// MemoryIndex — in-memory индекс, требующий Rebuild при старте; nil для postgres
	MemoryIndex *index.Memory
	// Checkers — проверки для /health/ready
	Checkers []handlers.ReadinessChecker
	// Dependencies — зависимости для topologymetrics
	Dependencies service.DephealthDeps

	closers []func()
	logger  *slog.Logger
}

// BuildStores создаёт клиенты хранилищ. При ошибке уже открытые
// подключения закрываются.
func BuildStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *Stores, err error) {
	s := &Stores{logger: logger.With(slog.String("component", "stores"))}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	// --- PostgreSQL (метаданные, поиск или журнал) ---
	var pool *pgxpool.Pool
	if cfg.UsesPostgres() {
		logger.Info("Применение миграций БД...")
		if err := database.Migrate(cfg, logger); err != nil {
			return nil, fmt.Errorf("миграции БД: %w", err)
		}
		pool, err = database.Connect(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, pool.Close)
		s.Checkers = append(s.Checkers, database.NewReadinessChecker(pool))

		// Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
		pgDB := stdlib.OpenDBFromPool(pool)
		s.closers = append(s.closers, func() { _ = pgDB.Close() })
		s.Dependencies.DB = pgDB
		s.Dependencies.PostgresURL = cfg.DatabaseDSN()
	}

	// --- AWS-сессия (S3, DynamoDB) ---
	var sess *session.Session
	if cfg.UsesAWS() {
		sess, err = session.NewSession(aws.NewConfig().WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("ошибка создания AWS-сессии: %w", err)
		}
	}

	// --- Blob-хранилище ---
	switch cfg.BlobBackend {
	case config.BackendS3:
		s.Blobs, err = blobstore.NewS3Store(sess, blobstore.S3Config{
			Bucket:         cfg.S3Bucket,
			Prefix:         cfg.S3Prefix,
			Endpoint:       cfg.S3Endpoint,
			ForcePathStyle: cfg.S3ForcePathStyle,
		})
		if err != nil {
			return nil, err
		}
		if cfg.S3Endpoint != "" {
			s.addHTTPDependency("s3", cfg.S3Endpoint, s3HealthPath, true)
		}
	default:
		s.Blobs, err = blobstore.NewFileStore(cfg.BlobDir)
		if err != nil {
			return nil, err
		}
	}

	// --- Хранилище метаданных ---
	switch cfg.MetadataBackend {
	case config.BackendMongo:
		client, err := repository.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() { _ = client.Disconnect(context.Background()) })

		repo := repository.NewMongoFileRepository(client, cfg.MongoDatabase, cfg.MongoCollection)
		if err := repo.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		s.Repo = repo
		s.Checkers = append(s.Checkers, repo)
	case config.BackendDynamoDB:
		dynamoCfg := aws.NewConfig()
		if cfg.DynamoDBEndpoint != "" {
			dynamoCfg = dynamoCfg.WithEndpoint(cfg.DynamoDBEndpoint)
			s.addHTTPDependency("dynamodb", cfg.DynamoDBEndpoint, "/", false)
		}
		repo := repository.NewDynamoFileRepository(dynamodb.New(sess, dynamoCfg), cfg.DynamoDBTable)
		s.Repo = repo
		s.Checkers = append(s.Checkers, repo)
	default:
		s.Repo = repository.NewFileRepository(pool)
	}

	// --- Поисковый индекс ---
	switch cfg.SearchBackend {
	case config.BackendPostgres:
		s.Index = repository.NewSearchIndexRepository(pool)
	default:
		s.MemoryIndex = index.NewMemory(logger)
		s.Index = s.MemoryIndex
		s.Checkers = append(s.Checkers, s.MemoryIndex)
	}

	// --- Журнал намерений ---
	switch cfg.IntentLogBackend {
	case config.BackendPostgres:
		s.Intents = repository.NewPendingOperationLog(pool, logger)
	case config.BackendNone:
		s.logger.Warn("Журнал намерений отключён, прерванные операции не восстанавливаются")
		s.Intents = wal.NewNop()
	default:
		s.Intents, err = wal.New(cfg.WALDir, logger)
		if err != nil {
			return nil, err
		}
	}

	s.logger.Info("Хранилища инициализированы",
		slog.String("blob", s.Blobs.Name()),
		slog.String("metadata", s.Repo.Name()),
		slog.String("search", s.Index.Name()),
		slog.String("intent_log", s.Intents.Name()),
	)
	return s, nil
}

// Close закрывает подключения в обратном порядке.
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// addHTTPDependency регистрирует HTTP-зависимость для topologymetrics.
// Некорректный URL пропускается с предупреждением.
func (s *Stores) addHTTPDependency(name, endpoint, healthPath string, critical bool) {
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		s.logger.Warn("Некорректный endpoint, мониторинг зависимости пропущен",
			slog.String("dependency", name),
			slog.String("endpoint", endpoint),
		)
		return
	}
	s.Dependencies.HTTP = append(s.Dependencies.HTTP, service.HTTPDependency{
		Name:       name,
		URL:        endpoint,
		HealthPath: healthPath,
		Critical:   critical,
	})
}
