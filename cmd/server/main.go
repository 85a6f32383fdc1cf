package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"

	"github.com/embedpay/publisher-gateway/internal/api"
	appconfig "github.com/embedpay/publisher-gateway/internal/config"
	"github.com/embedpay/publisher-gateway/internal/events"
	"github.com/embedpay/publisher-gateway/internal/openpayments"
	"github.com/embedpay/publisher-gateway/internal/secrets"
	"github.com/embedpay/publisher-gateway/internal/signing"
	"github.com/embedpay/publisher-gateway/internal/statusstore"
	"github.com/embedpay/publisher-gateway/internal/telemetry"
)

func newLogger(cfg appconfig.Config) *log.Logger {
	prefix := ""
	if cfg.ServiceName != "" {
		prefix = fmt.Sprintf("[%s] ", cfg.ServiceName)
	}
	logger := log.New(os.Stdout, prefix, log.LstdFlags|log.Lmicroseconds)
	log.SetOutput(os.Stdout)
	log.SetFlags(logger.Flags())
	log.SetPrefix(prefix)
	return logger
}

func setupTelemetry(lc fx.Lifecycle, cfg appconfig.Config) {
	var cleanup func()
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			cleanup = telemetry.InitTracer(cfg.ServiceName)
			return nil
		},
		OnStop: func(context.Context) error {
			if cleanup != nil {
				cleanup()
			}
			return nil
		},
	})
}

func newSigner(cfg appconfig.Config, logger *log.Logger) (*signing.Signer, error) {
	key, err := signing.LoadKey(cfg.Signing.KeySeed, cfg.Signing.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load signing key: %w", err)
	}
	logger.Printf("Request signing enabled (keyid=%s)", cfg.Signing.KeyID)
	return signing.NewSigner(key, cfg.Signing.KeyID), nil
}

func newProviderClient(cfg appconfig.Config, signer *signing.Signer, logger *log.Logger) *openpayments.Client {
	return openpayments.NewClient(signer, cfg.Signing.ClientWallet, logger)
}

// newSQLDB provides a shared *sql.DB when status persistence is configured.
// Returns nil when it is not, and the in-memory store is used instead.
func newSQLDB(lc fx.Lifecycle, cfg appconfig.Config, logger *log.Logger) (*sql.DB, error) {
	if !cfg.Database.Enabled() {
		return nil, nil
	}
	logger.Printf("Connecting to PostgreSQL database %s@%s:%d", cfg.Database.Database, cfg.Database.Host, cfg.Database.Port)
	db, err := statusstore.OpenDatabase(cfg.Database)
	if err != nil {
		logger.Printf("WARNING: failed to connect to database, falling back to in-memory status store: %v", err)
		return nil, nil
	}
	logger.Printf("Database connection established successfully")
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return db.Close()
		},
	})
	return db, nil
}

func newStatusStore(lc fx.Lifecycle, cfg appconfig.Config, db *sql.DB, logger *log.Logger) statusstore.Store {
	if db == nil {
		logger.Printf("Using in-memory payment status store (ttl=%s)", cfg.Payments.StatusTTL)
		store := statusstore.NewMemoryStore(cfg.Payments.StatusTTL)
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				store.Close()
				return nil
			},
		})
		return store
	}

	logger.Printf("Using PostgreSQL payment status store (ttl=%s)", cfg.Payments.StatusTTL)
	store := statusstore.NewPostgresStore(db, cfg.Payments.StatusTTL)
	registerPurgeLoop(lc, store, logger)
	return store
}

// registerPurgeLoop sweeps expired status rows so abandoned payments do not
// accumulate.
func registerPurgeLoop(lc fx.Lifecycle, store *statusstore.PostgresStore, logger *log.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				ticker := time.NewTicker(30 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if err := store.PurgeExpired(ctx); err != nil && !errors.Is(err, context.Canceled) {
							logger.Printf("status store purge error: %v", err)
						}
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			<-done
			return nil
		},
	})
}

// newKafkaProducer constructs a shared Kafka producer and binds its lifecycle to Fx.
func newKafkaProducer(cfg appconfig.Config, lc fx.Lifecycle) *events.Producer {
	prod := events.NewProducerWithBrokers(cfg.Kafka.Brokers)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return prod.Close()
		},
	})
	return prod
}

func newHandler(cfg appconfig.Config, logger *log.Logger, provider *openpayments.Client, store statusstore.Store, prod *events.Producer) *api.Handler {
	return api.NewHandler(logger, provider, store, prod, cfg.Payments, cfg.Kafka.PaymentsTopic)
}

func registerWebServer(lc fx.Lifecycle, cfg appconfig.Config, logger *log.Logger, shutdowner fx.Shutdowner, handler *api.Handler) {
	mux := http.NewServeMux()
	handler.Register(mux)

	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: withCORS(cfg.Payments.AllowedOrigins, mux),
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				logger.Printf("Payment API listening on %s", cfg.HTTP.Addr)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Printf("Payment API server error: %v", err)
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	})
}

// withCORS allows browser calls from the configured application origins. The
// grant redirect allow-list is enforced separately in the handler.
func withCORS(origins []string, next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && allowed[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func main() {
	_ = godotenv.Load()
	if err := secrets.Bootstrap(context.Background()); err != nil {
		log.Fatalf("secrets bootstrap failed: %v", err)
	}

	app := fx.New(
		fx.Provide(
			appconfig.Load,
			newLogger,
			newSigner,
			newProviderClient,
			newKafkaProducer,
			newSQLDB,
			newStatusStore,
			newHandler,
		),
		fx.Invoke(
			func(logger *log.Logger, cfg appconfig.Config) {
				logger.Printf("Starting %s...", cfg.ServiceName)
			},
			setupTelemetry,
			registerWebServer,
		),
	)

	app.Run()
}
