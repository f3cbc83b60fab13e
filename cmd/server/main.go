package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/banking/sar-governance/internal/api"
	"github.com/banking/sar-governance/internal/config"
	"github.com/banking/sar-governance/internal/crypto"
	"github.com/banking/sar-governance/internal/events"
	"github.com/banking/sar-governance/internal/ledger"
	"github.com/banking/sar-governance/internal/metrics"
	"github.com/banking/sar-governance/internal/narrative"
	"github.com/banking/sar-governance/internal/repository"
	"github.com/banking/sar-governance/internal/repository/elasticsearch"
	"github.com/banking/sar-governance/internal/repository/memory"
	"github.com/banking/sar-governance/internal/repository/postgres"
	redisrepo "github.com/banking/sar-governance/internal/repository/redis"
	"github.com/banking/sar-governance/internal/repository/s3"
	"github.com/banking/sar-governance/internal/scoring"
	"github.com/banking/sar-governance/internal/service"
	"github.com/banking/sar-governance/internal/submission"
	"github.com/banking/sar-governance/internal/tuner"
	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// 1. Config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. Logger
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Service stopped with error", zap.Error(err))
	}
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zcfg.Level = level
	if cfg.Format == "console" {
		zcfg.Encoding = "console"
	}
	return zcfg.Build()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting SAR governance service...")

	// 3. Crypto / Security
	keys, err := crypto.NewKeyring(
		cfg.Encryption.EncryptionKeysBase64,
		cfg.Encryption.CurrentKeyVersion,
		cfg.Encryption.AuditHMACSecret,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize keyring: %w", err)
	}

	// 4. Authoritative store
	var (
		store     repository.Store
		profiles  repository.CustomerProfileProvider
		histories repository.TransactionHistoryProvider
		loader    repository.CustomerLoader
	)
	switch cfg.Storage.Driver {
	case "memory":
		logger.Warn("Using in-memory store, data is lost on restart")
		ms := memory.NewStore()
		store, profiles, histories, loader = ms, ms, ms, ms
	default:
		pool, err := postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		defer pool.Close()
		if cfg.Database.AutoMigrate {
			if err := postgres.Migrate(ctx, pool, logger); err != nil {
				return err
			}
		}
		pg := postgres.NewStore(pool)
		store, profiles, histories, loader = pg, pg, pg, pg
	}

	// 5. Optional collaborators
	var invalidator service.ProfileInvalidator
	if cfg.Redis.Enabled {
		client, err := redisrepo.NewClient(ctx, cfg.Redis)
		if err != nil {
			logger.Warn("Redis unavailable, profile cache disabled", zap.Error(err))
		} else {
			defer client.Close()
			cache := redisrepo.NewProfileCache(client, profiles, cfg.Redis.DefaultTTL, logger)
			profiles, invalidator = cache, cache
		}
	}

	var search *elasticsearch.SearchRepository
	if cfg.Elasticsearch.Enabled() {
		client, err := elasticsearch.NewClient(cfg.Elasticsearch)
		if err != nil {
			logger.Warn("Elasticsearch unavailable, audit search disabled", zap.Error(err))
		} else {
			search = elasticsearch.NewSearchRepository(client, cfg.Elasticsearch)
		}
	}

	var archive *s3.ArchiveRepository
	if cfg.S3.Enabled {
		archive, err = s3.NewArchiveRepository(ctx, cfg.S3, keys)
		if err != nil {
			return fmt.Errorf("failed to initialize s3 archive: %w", err)
		}
	}

	var publisher *events.CaseEventPublisher
	if cfg.Kafka.Enabled {
		publisher, err = events.NewCaseEventPublisher(cfg.Kafka)
		if err != nil {
			return fmt.Errorf("failed to create kafka producer: %w", err)
		}
		defer publisher.Close()
	}

	// 6. Services
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	tn := tuner.New(store, logger)
	tn.Window = cfg.Tuner.Window
	tn.MinFeedback = cfg.Tuner.MinFeedback

	deps := service.Dependencies{
		Store:     store,
		Profiles:  profiles,
		Histories: histories,
		Analyzer: &scoring.Analyzer{
			Engine:     newEngine(cfg.Detection),
			Policy:     scoring.ScorePolicy(cfg.Detection.ScorePolicy),
			ScoreFloor: cfg.Detection.ScoreFloor,
		},
		Narrator: narrative.NewGenerator(),
		Ledger:   ledger.New(keys),
		Sealer:   submission.NewSealer(cfg.Governance.SubmissionPrefix),
		Tuner:    tn,
		Metrics:  m,
		Logger:   logger,
	}
	// Typed nils must not leak into the sink interfaces
	if search != nil {
		deps.Indexer, deps.Searcher = search, search
	}
	if archive != nil {
		deps.Archiver = archive
	}
	if publisher != nil {
		deps.Publisher = publisher
	}
	caseService := service.NewCaseService(deps)
	defer caseService.Wait()

	customerService := service.NewCustomerService(loader, invalidator, logger)
	if cfg.Storage.SeedFile != "" {
		n, err := customerService.LoadSeedFile(ctx, cfg.Storage.SeedFile)
		if err != nil {
			return fmt.Errorf("failed to load customer seed file: %w", err)
		}
		logger.Info("Customer seed file loaded", zap.String("path", cfg.Storage.SeedFile), zap.Int("customers", n))
	} else if cfg.Storage.Driver == "memory" {
		logger.Warn("No customer seed file configured, load customers through PUT /api/customers/:customer_id")
	}

	if cfg.Tuner.RecomputeOnStart {
		thresholds, err := tn.RecomputeAll(ctx)
		if err != nil {
			logger.Warn("Adaptive threshold recomputation failed", zap.Error(err))
		} else {
			logger.Info("Adaptive thresholds recomputed", zap.Int("alert_types", len(thresholds)))
		}
	}

	// 7. API Server
	e := echo.New()
	e.HideBanner = true
	e.Server.ReadTimeout = cfg.Server.ReadTimeout
	e.Server.WriteTimeout = cfg.Server.WriteTimeout
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger(logger))

	apiGroup := e.Group("/api")
	if jwtConfig, ok := loadJWTConfig(cfg.Auth, logger); ok {
		apiGroup.Use(echojwt.WithConfig(jwtConfig))
		logger.Info("JWT Authentication enabled for /api/*")
	} else {
		logger.Warn("JWT Authentication DISABLED, analysts are taken from the request body")
	}
	api.NewCaseHandler(caseService, cfg.Auth.AnalystClaim, cfg.Server.DefaultAnalyst, logger).RegisterRoutes(apiGroup)
	api.NewCustomerHandler(customerService, logger).RegisterRoutes(apiGroup)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(metrics.Handler(registry)))

	var consumer *events.AlertConsumer
	if cfg.Kafka.Enabled {
		consumer, err = events.NewAlertConsumer(cfg.Kafka, caseService, logger)
		if err != nil {
			return fmt.Errorf("failed to create kafka consumer: %w", err)
		}
		defer consumer.Close()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", zap.String("addr", cfg.Server.Addr()))
		if err := e.Start(cfg.Server.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if consumer != nil {
		g.Go(func() error {
			logger.Info("Starting Kafka alert consumer", zap.String("topic", cfg.Kafka.AlertTopic))
			return consumer.Start(gctx)
		})
	}

	// Graceful Shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down service...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// newEngine builds the scoring engine from the detection settings
func newEngine(cfg config.DetectionConfig) *scoring.Engine {
	return scoring.NewEngine(
		scoring.WithExclusive(scoring.NewMicroFragmentation(cfg.MicroFragmentationCustomers...)),
		scoring.WithLanes(
			scoring.RapidMovement{},
			scoring.Layering{},
			scoring.VelocitySpike{Threshold: cfg.VelocityThreshold},
			scoring.NetworkLink{MinTransactions: cfg.NetworkMinTransactions, MaxDistinctIPs: cfg.NetworkMaxDistinctIPs},
		),
	)
}

func loadJWTConfig(cfg config.AuthConfig, logger *zap.Logger) (echojwt.Config, bool) {
	if cfg.JWTPublicKeyPath == "" {
		return echojwt.Config{}, false
	}
	keyData, err := os.ReadFile(cfg.JWTPublicKeyPath)
	if err != nil {
		logger.Warn("JWT public key not readable", zap.String("path", cfg.JWTPublicKeyPath), zap.Error(err))
		return echojwt.Config{}, false
	}
	signingKey, err := jwt.ParseRSAPublicKeyFromPEM(keyData)
	if err != nil {
		logger.Warn("Failed to parse JWT public key", zap.Error(err))
		return echojwt.Config{}, false
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}), jwt.WithIssuer(cfg.JWTIssuer))
	return echojwt.Config{
		ParseTokenFunc: func(c echo.Context, auth string) (interface{}, error) {
			return parser.ParseWithClaims(auth, &jwt.MapClaims{}, func(*jwt.Token) (interface{}, error) {
				return signingKey, nil
			})
		},
	}, true
}

func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("request_id", v.RequestID),
			)
			return nil
		},
	})
}
