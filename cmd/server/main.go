package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/shiva/unipool/config"
	"github.com/shiva/unipool/internal/handler"
	"github.com/shiva/unipool/internal/maps"
	"github.com/shiva/unipool/internal/middleware"
	"github.com/shiva/unipool/internal/notify"
	"github.com/shiva/unipool/internal/realtime"
	"github.com/shiva/unipool/internal/repository"
	"github.com/shiva/unipool/internal/service"
	"github.com/shiva/unipool/migrations"
	"github.com/shiva/unipool/pkg/cache"
	"github.com/shiva/unipool/pkg/db"
)

func main() {
	// ── Load configuration ──────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Connect backends ────────────────────────────────
	var (
		store       repository.Store
		pgPool      *pgxpool.Pool
		fsClient    *firestore.Client
		firebaseApp *firebase.App
		redisClient *redis.Client
	)

	if cfg.Store.Backend == config.BackendFirestore || cfg.Firebase.Notifications {
		firebaseApp, err = db.NewFirebaseApp(ctx, cfg.Firebase, logger)
		if err != nil {
			logger.Fatal("failed to initialise firebase", zap.Error(err))
		}
	}

	switch cfg.Store.Backend {
	case config.BackendPostgres:
		pgPool, err = db.NewPostgresPool(ctx, cfg.Postgres, logger)
		if err != nil {
			logger.Fatal("failed to connect to PostgreSQL", zap.Error(err))
		}
		defer pgPool.Close()
		if err := db.Migrate(ctx, pgPool, migrations.FS, logger); err != nil {
			logger.Fatal("failed to migrate", zap.Error(err))
		}
		store = repository.NewPostgresStore(pgPool)
	case config.BackendFirestore:
		fsClient, err = firebaseApp.Firestore(ctx)
		if err != nil {
			logger.Fatal("failed to open firestore", zap.Error(err))
		}
		defer fsClient.Close()
		store = repository.NewFirestoreStore(fsClient)
	default:
		logger.Warn("using in-memory store; data is lost on restart")
		store = repository.NewMemoryStore()
	}

	// The memory backend runs fully in-process; every other backend shares
	// Redis for driver positions, route caching and cross-instance events.
	if cfg.Store.Backend != config.BackendMemory {
		redisClient, err = cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		logger.Info("connected to redis", zap.String("addr", cfg.Redis.Addr()))
	}

	// ── Collaborators ───────────────────────────────────
	hub := realtime.NewHub(logger.Named("realtime"))

	var publishers service.MultiPublisher
	var locator service.DriverLocator
	if redisClient != nil {
		// Every instance's hub is fed by the relay, including this one.
		publishers = append(publishers, realtime.NewRedisPublisher(redisClient))
		go realtime.NewRedisRelay(redisClient, hub, logger.Named("realtime")).Run(ctx)
		locator = repository.NewRedisDriverLocator(redisClient)
	} else {
		publishers = append(publishers, hub)
		locator = repository.NewMemoryDriverLocator()
	}
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPub := realtime.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer kafkaPub.Close()
		publishers = append(publishers, kafkaPub)
		logger.Info("kafka lifecycle stream enabled",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic))
	}

	var notifier service.Notifier = notify.NewLogNotifier(logger.Named("notify"))
	if cfg.Firebase.Notifications {
		messaging, err := firebaseApp.Messaging(ctx)
		if err != nil {
			logger.Fatal("failed to open firebase messaging", zap.Error(err))
		}
		notifier = notify.NewFCMNotifier(messaging, logger.Named("notify"))
	}

	// ── Services ────────────────────────────────────────
	fareCfg, err := fareConfig(cfg)
	if err != nil {
		logger.Fatal("invalid fare config", zap.Error(err))
	}
	poolCfg := poolConfig(cfg)

	fares := service.NewFareCalculator(fareCfg, time.Now, logger.Named("fare"))
	if cfg.Maps.APIKey != "" {
		client, err := maps.NewClient(cfg.Maps.APIKey)
		if err != nil {
			logger.Fatal("failed to create maps client", zap.Error(err))
		}
		var routeCache maps.Cache = cache.NewTTLCache(cfg.Maps.CacheSize, cfg.Maps.CacheTTL)
		if redisClient != nil {
			routeCache = cache.NewRedisCache(redisClient, "unipool:routes:", cfg.Maps.CacheTTL)
		}
		fares.WithDirections(maps.NewDirectionsService(client, routeCache,
			cfg.Maps.RatePerSecond, cfg.Maps.Burst, logger.Named("maps")))
	}

	poolSvc := service.NewPoolService(store, fares, publishers, notifier, poolCfg, logger.Named("pool"))
	matchingSvc := service.NewMatchingService(store, fares, poolCfg, time.Now, logger.Named("match"))
	bookingSvc := service.NewBookingService(store, fares, publishers, notifier, logger.Named("booking"))
	driverSvc := service.NewDriverService(locator, store, logger.Named("driver"))

	// ── Setup router ────────────────────────────────────
	router := mux.NewRouter()
	router.Use(middleware.Recoverer(logger))

	// Health check and metrics.
	router.HandleFunc("/health", healthHandler(pgPool, redisClient)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	handler.NewWSHandler(hub).Register(router)

	// API v1 routes.
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.RequestLogger(logger.Named("http")))
	handler.NewPoolHandler(poolSvc, matchingSvc, logger).Register(api)
	handler.NewBookingHandler(bookingSvc, logger).Register(api)
	handler.NewCancelHandler(poolSvc, bookingSvc, logger).Register(api)
	handler.NewFareHandler(fares, logger).Register(api)
	handler.NewDriverHandler(driverSvc, logger).Register(api)

	// Wrap with CORS so browser clients can call the API.
	h := middleware.CORS(router)

	// ── Expiry sweeper ──────────────────────────────────
	go runSweeper(ctx, poolSvc, cfg.Pool.SweepInterval, logger.Named("sweeper"))

	// ── Start HTTP server ───────────────────────────────
	srv := &http.Server{
		Addr:         cfg.Server.ServerAddr(),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start in a goroutine so we can listen for shutdown signals.
	go func() {
		logger.Info("server listening",
			zap.String("addr", cfg.Server.ServerAddr()),
			zap.String("store", cfg.Store.Backend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ───────────────────────────────
	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
		return
	}
	logger.Info("server gracefully stopped")
}

// newLogger builds the root zap logger from LOG_LEVEL / LOG_DEVELOPMENT.
func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func fareConfig(cfg *config.Config) (service.FareConfig, error) {
	loc, err := cfg.Fare.Location()
	if err != nil {
		return service.FareConfig{}, err
	}
	return service.FareConfig{
		BaseFare:        cfg.Fare.Base,
		PerKmRate:       cfg.Fare.PerKm,
		MinimumFare:     cfg.Fare.Minimum,
		PeakMultiplier:  cfg.Fare.PeakMultiplier,
		PoolDiscount:    cfg.Pool.Discount,
		DriverPoolBonus: cfg.Pool.DriverBonus,
		Location:        loc,
	}, nil
}

func poolConfig(cfg *config.Config) service.PoolConfig {
	return service.PoolConfig{
		MaxSeats:         cfg.Pool.MaxSeats,
		MinParticipants:  cfg.Pool.MinParticipants,
		MatchRadiusKm:    cfg.Pool.MatchRadiusKm,
		MaxMatchRadiusKm: cfg.Pool.MaxMatchRadiusKm,
		Expiry:           cfg.Pool.Expiry(),
	}
}

// runSweeper expires stale pools every interval until ctx is cancelled.
func runSweeper(ctx context.Context, pools *service.PoolService, interval time.Duration, log *zap.Logger) {
	if interval <= 0 {
		log.Warn("pool sweeper disabled")
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := pools.ExpireStalePools(ctx)
			if err != nil {
				log.Error("expire sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Info("expired stale pools", zap.Int("count", n))
			}
		}
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

// healthHandler returns an HTTP handler that checks PG and Redis
// connectivity. Backends that are not configured are skipped.
func healthHandler(pgPool *pgxpool.Pool, redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:   "ok",
			Services: make(map[string]string),
		}

		if pgPool != nil {
			if err := db.HealthCheck(r.Context(), pgPool); err != nil {
				resp.Status = "degraded"
				resp.Services["postgres"] = "unhealthy: " + err.Error()
			} else {
				resp.Services["postgres"] = "healthy"
			}
		}

		if redisClient != nil {
			if err := cache.HealthCheck(r.Context(), redisClient); err != nil {
				resp.Status = "degraded"
				resp.Services["redis"] = "unhealthy: " + err.Error()
			} else {
				resp.Services["redis"] = "healthy"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if resp.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(resp)
	}
}
