package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/mazuri-stores/mazuri-api/internal"
	"github.com/mazuri-stores/mazuri-api/internal/auth"
	"github.com/mazuri-stores/mazuri-api/internal/core/events"
	"github.com/mazuri-stores/mazuri-api/internal/order"
	orderPostgres "github.com/mazuri-stores/mazuri-api/internal/order/postgres"
	"github.com/mazuri-stores/mazuri-api/internal/payment"
	"github.com/mazuri-stores/mazuri-api/internal/paymentgateway"
	"github.com/mazuri-stores/mazuri-api/internal/telemetry"
	"github.com/mazuri-stores/mazuri-api/internal/transaction"
	txPostgres "github.com/mazuri-stores/mazuri-api/internal/transaction/postgres"
	"github.com/mazuri-stores/mazuri-api/internal/transport"
	"github.com/mazuri-stores/mazuri-api/internal/transport/rest"
	"github.com/mazuri-stores/mazuri-api/internal/transport/swagger"
	"github.com/mazuri-stores/mazuri-api/pkg/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server serving the M-Pesa payment API and provider webhooks`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

// Dependencies is everything the server and workers share.
type Dependencies struct {
	Config     *internal.Config
	DB         *sqlx.DB
	Gorm       *gorm.DB
	Redis      *redis.Client
	Bus        *events.EventBus
	Registry   *prometheus.Registry
	Metrics    *telemetry.Metrics
	Gateway    *paymentgateway.Client
	Ledger     *transaction.Service
	Orders     *order.Service
	Reconciler *payment.Reconciler
	Logger     *slog.Logger

	closers []func(context.Context) error
}

// Close releases resources in reverse order of acquisition.
func (d *Dependencies) Close(ctx context.Context) {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](ctx); err != nil {
			d.Logger.Error("failed to release resource", "error", err)
		}
	}
}

func startHTTPServer() {
	deps, err := initializeDependencies(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	router, err := setupRoutes(deps)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up routes: %v\n", err)
		os.Exit(1)
	}

	cfg := deps.Config.Server
	addr := fmt.Sprintf(":%d", cfg.Port)
	deps.Logger.Info("Starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("Received signal, shutting down...", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("Server shutdown error", "error", err)
		}
		if err := deps.Bus.Wait(ctx); err != nil {
			deps.Logger.Warn("Event handlers did not drain before shutdown", "error", err)
		}
		deps.Close(ctx)
	case err := <-serverErrChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			deps.Logger.Error("Server failed to start", "error", err)
			deps.Close(context.Background())
			os.Exit(1)
		}
	}

	deps.Logger.Info("Server stopped")
}

func setupRoutes(deps *Dependencies) (*chi.Mux, error) {
	cfg := deps.Config
	base := transport.NewBaseHandler(deps.Logger)

	tokens := auth.NewJWTTokenGenerator(cfg.Security.JWTSecret, cfg.Security.AccessTokenDuration)
	paymentService := payment.NewService(deps.Ledger, deps.Orders, deps.Gateway, deps.Reconciler, deps.Bus, cfg.Mpesa.AccountReferencePrefix, deps.Logger)

	routeDeps := rest.Dependencies{
		Tokens:         tokens,
		PaymentHandler: payment.NewHandler(base, paymentService),
		WebhookHandler: payment.NewWebhookHandler(base, deps.Reconciler),
		HealthChecks: map[string]rest.CheckFunc{
			"postgres": deps.DB.PingContext,
		},
		AllowedOrigins: cfg.Server.Origins(),
		Tracing:        cfg.Observability.Tracing.Enabled,
		Logger:         deps.Logger,
	}

	if deps.Redis != nil {
		routeDeps.HealthChecks["redis"] = func(ctx context.Context) error {
			return deps.Redis.Ping(ctx).Err()
		}
	}

	if cfg.Observability.Metrics.Enabled {
		routeDeps.MetricsHandler = telemetry.Handler(deps.Registry)
		routeDeps.MetricsPath = cfg.Observability.Metrics.Path
	}

	if cfg.Server.OpenAPIPath != "" {
		raw, _, err := swagger.LoadSpec(context.Background(), cfg.Server.OpenAPIPath)
		if err != nil {
			return nil, err
		}
		routeDeps.OpenAPISpec = raw
	}

	router := chi.NewRouter()
	rest.RegisterAllRoutes(router, routeDeps)
	return router, nil
}

func initializeDependencies(ctx context.Context) (*Dependencies, error) {
	config, err := loadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	lg := logger.Configure(logger.Options{
		Level:  config.Observability.Logging.Level,
		Format: config.Observability.Logging.Format,
	})

	deps := &Dependencies{Config: config, Logger: lg}

	shutdownTracing, err := telemetry.InitTracing(ctx, config.Observability.Tracing, version)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	deps.closers = append(deps.closers, shutdownTracing)

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	deps.DB = db
	deps.closers = append(deps.closers, func(context.Context) error { return db.Close() })

	gormDB, err := initGorm(db)
	if err != nil {
		deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize gorm: %w", err)
	}
	deps.Gorm = gormDB

	deps.Registry = prometheus.NewRegistry()
	deps.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewDBStatsCollector(db.DB, "postgres"),
	)
	deps.Metrics = telemetry.NewMetrics(deps.Registry)

	var tokenCache paymentgateway.TokenCache = paymentgateway.NewMemoryTokenCache()
	if config.Redis.Enabled {
		client, err := initRedis(ctx, config.Redis)
		if err != nil {
			deps.Close(ctx)
			return nil, fmt.Errorf("failed to initialize redis: %w", err)
		}
		deps.Redis = client
		deps.closers = append(deps.closers, func(context.Context) error { return client.Close() })
		tokenCache = paymentgateway.NewRedisTokenCache(client, config.Mpesa.ShortCode)
	}

	deps.Bus = events.NewEventBus(lg)
	if config.Kafka.Enabled {
		writer := events.NewKafkaWriter(splitBrokers(config.Kafka.Brokers), config.Kafka.Topic)
		deps.closers = append(deps.closers, func(context.Context) error { return writer.Close() })
		events.NewKafkaForwarder(writer, lg).Register(deps.Bus, events.PaymentEventTypes...)
		lg.Info("forwarding payment events to kafka", "topic", config.Kafka.Topic)
	}

	deps.Gateway = paymentgateway.NewClient(paymentgateway.Config{
		BaseURL:        config.Mpesa.BaseURL,
		ConsumerKey:    config.Mpesa.ConsumerKey,
		ConsumerSecret: config.Mpesa.ConsumerSecret,
		ShortCode:      config.Mpesa.ShortCode,
		Passkey:        config.Mpesa.Passkey,
		CallbackURL:    config.Mpesa.CallbackURL,
		Timeout:        config.Mpesa.Timeout,
	}, lg,
		paymentgateway.WithTokenCache(tokenCache),
		paymentgateway.WithRecorder(deps.Metrics),
	)

	deps.Orders = order.NewService(orderPostgres.NewOrderRepository(gormDB), lg)
	deps.Ledger = transaction.NewService(txPostgres.NewTransactionRepository(gormDB), lg)
	deps.Reconciler = payment.NewReconciler(deps.Ledger, deps.Orders, deps.Gateway, deps.Bus, deps.Metrics, lg)

	return deps, nil
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}

// initGorm opens gorm over the existing pool so both share one set of connections.
func initGorm(db *sqlx.DB) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
}

func initRedis(ctx context.Context, cfg internal.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

func splitBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
