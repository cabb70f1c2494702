// Точка входа pharmatrace — сервис отслеживания происхождения партий
// препаратов. Загружает конфигурацию, применяет миграции, подключается
// к PostgreSQL и сервису транзакций, создаёт сервисный слой и API handlers,
// запускает фоновую сверку подтверждений, topologymetrics и HTTP-сервер
// с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/pharmatrace/internal/api/handlers"
	"github.com/bigkaa/pharmatrace/internal/api/middleware"
	"github.com/bigkaa/pharmatrace/internal/api/openapi"
	"github.com/bigkaa/pharmatrace/internal/chainclient"
	"github.com/bigkaa/pharmatrace/internal/config"
	"github.com/bigkaa/pharmatrace/internal/database"
	"github.com/bigkaa/pharmatrace/internal/repository"
	"github.com/bigkaa/pharmatrace/internal/server"
	"github.com/bigkaa/pharmatrace/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("pharmatrace запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Каталог Plutus-валидаторов и клиент сервиса транзакций
	validators, err := chainclient.LoadValidators(cfg.PlutusPath)
	if err != nil {
		logger.Error("Ошибка загрузки валидаторов", slog.String("path", cfg.PlutusPath), slog.String("error", err.Error()))
		os.Exit(1)
	}
	chain, err := chainclient.New(chainclient.Options{
		TxURL:      cfg.ChainTxURL,
		QueryURL:   cfg.ChainQueryURL,
		APIKey:     cfg.ChainAPIKey,
		Timeout:    cfg.ChainTimeout,
		CACertPath: cfg.ChainCACertPath,
		Validators: validators,
	}, logger)
	if err != nil {
		logger.Error("Ошибка создания клиента сервиса транзакций", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Клиент сервиса транзакций создан",
		slog.String("tx_url", cfg.ChainTxURL),
		slog.String("query_url", cfg.ChainQueryURL),
	)

	// 6. Хранилище и сервисы
	store := repository.NewStore(pool)

	registrySvc := service.NewRegistryService(store, logger)
	lifecycleSvc := service.NewLifecycleService(store, chain, cfg.TransferHolderGrace, logger)
	confirmer := service.NewConfirmer(store, logger)
	txCache := service.NewTxStatusCache(cfg.TxStatusCacheSize, cfg.TxStatusCacheTTL)
	verifier := service.NewVerifier(store, chain, txCache, cfg.VerifyConcurrency, logger)

	// 7. Redis (опционально): блокировка опроса между экземплярами
	var (
		pollLock service.PollLock
		optional []handlers.NamedChecker
	)
	if cfg.RedisAddr != "" {
		rdb, err := service.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Error("Ошибка создания клиента Redis", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer rdb.Close()
		pollLock = service.NewRedisPollLock(rdb, service.PollLockKey, cfg.PollLockTTL, logger)
		optional = append(optional, handlers.NamedChecker{Name: "redis", Checker: service.NewRedisReadiness(rdb)})
		logger.Info("Блокировка опроса через Redis включена", slog.String("addr", cfg.RedisAddr))
	} else {
		logger.Warn("PT_REDIS_ADDR не задан, опрос без распределённой блокировки")
	}

	reconciler := service.NewReconciler(
		store, chain, confirmer, pollLock,
		cfg.ReconcileInterval, cfg.ReconcileStartDelay,
		logger,
	)

	// 8. JWT middleware (опционально)
	var jwtAuth *middleware.JWTAuth
	if cfg.AuthEnabled() {
		jwtAuth, err = middleware.NewJWTAuth(
			cfg.JWTJWKSURL,
			cfg.JWTIssuer,
			cfg.JWKSClientTimeout,
			cfg.JWKSRefreshInterval,
			cfg.JWTLeeway,
			logger,
		)
		if err != nil {
			logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
			os.Exit(1)
		}
		optional = append(optional, handlers.NamedChecker{
			Name:    "jwks",
			Checker: middleware.NewJWKSReadinessChecker(cfg.JWTJWKSURL, cfg.JWKSClientTimeout),
		})
		logger.Info("JWT middleware инициализирован",
			slog.String("jwks_url", cfg.JWTJWKSURL),
			slog.String("issuer", cfg.JWTIssuer),
		)
	} else {
		logger.Warn("PT_JWT_JWKS_URL не задан, API доступен без аутентификации")
	}

	// 9. Валидация запросов по описанию API
	doc, err := openapi.Load()
	if err != nil {
		logger.Error("Ошибка загрузки описания API", slog.String("error", err.Error()))
		os.Exit(1)
	}
	validator, err := middleware.NewRequestValidator(doc, logger)
	if err != nil {
		logger.Error("Ошибка создания валидатора запросов", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 10. Handlers
	healthHandler := handlers.NewHealthHandler(database.NewReadinessChecker(pool), chain, optional...)
	apiHandler := handlers.NewAPIHandler(healthHandler, registrySvc, lifecycleSvc, reconciler, verifier, logger)

	// 11. Фоновая сверка подтверждений
	reconciler.Start(ctx)

	// 11.1 topologymetrics — мониторинг зависимостей (PostgreSQL + сервис транзакций)
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:     "pharmatrace",
		Group:         cfg.DephealthGroup,
		DB:            pgDB,
		PgConnURL:     cfg.DatabaseURL(),
		ChainURL:      cfg.ChainTxURL,
		CheckInterval: cfg.DephealthCheckInterval,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
		dephealthSvc = nil
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 12. HTTP-сервер (блокирует до сигнала завершения)
	srv := server.New(cfg, logger, apiHandler, jwtAuth, validator)
	runErr := srv.Run()

	// 13. Остановка фоновых задач
	reconciler.Stop()
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	if runErr != nil {
		logger.Error("Ошибка сервера", slog.String("error", runErr.Error()))
		os.Exit(1)
	}

	logger.Info("pharmatrace остановлен")
}
