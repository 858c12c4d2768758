// Command server runs the certificate fulfillment HTTP service.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"coursecert/internal/audit"
	"coursecert/internal/fulfillment/authz"
	"coursecert/internal/fulfillment/bundle"
	"coursecert/internal/fulfillment/cover"
	"coursecert/internal/fulfillment/handler"
	"coursecert/internal/fulfillment/manifest"
	fulfillmentmetrics "coursecert/internal/fulfillment/metrics"
	"coursecert/internal/fulfillment/report"
	"coursecert/internal/fulfillment/service"
	"coursecert/internal/fulfillment/stock"
	"coursecert/internal/fulfillment/store/batch"
	"coursecert/internal/fulfillment/store/certificate"
	"coursecert/internal/platform/config"
	"coursecert/internal/platform/httpserver"
	"coursecert/internal/platform/logger"
	platformredis "coursecert/internal/platform/redis"
	id "coursecert/pkg/domain"
	"coursecert/pkg/platform/middleware/admin"
	"coursecert/pkg/platform/middleware/request"
)

// reportFingerprintRetention is how long replayed report uploads stay
// detectable. Vendors rarely resend a report more than a quarter later.
const reportFingerprintRetention = 90 * 24 * time.Hour

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	configPath := flag.String("config", "config.yaml", "path to optional YAML config file")
	flag.Parse()

	cfg := config.FromEnv()
	if err := cfg.ApplyFile(*configPath); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, cleanup, err := buildService(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	router := chi.NewRouter()
	router.Use(request.ID)
	router.Use(request.Time)
	router.Use(request.Actor)
	router.Use(request.Recovery(log))
	router.Use(request.Logger(log))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Handle("/metrics", promhttp.Handler())
	router.Route("/admin", func(r chi.Router) {
		r.Use(admin.RequireAdminToken(cfg.AdminToken, log))
		handler.New(svc, log).Routes(r)
	})

	server := httpserver.New(cfg.Addr, router)
	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// buildService wires stores and collaborators from configuration. The
// returned cleanup closes whatever connections were opened.
func buildService(ctx context.Context, cfg config.Server, log *slog.Logger) (*service.Service, func(), error) {
	var (
		certStore  service.CertificateStore
		batchStore service.BatchStore
		stockStore service.StockStore
		auditStore audit.Store
		cleanups   []func()
	)
	cleanup := func() {
		for _, fn := range cleanups {
			fn()
		}
	}

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("ping database: %w", err)
		}
		cleanups = append(cleanups, func() { _ = db.Close() })
		certStore = certificate.NewPostgres(db)
		batchStore = batch.NewPostgres(db)
		stockStore = stock.NewPostgres(db)
		auditStore = audit.NewPostgres(db)
	} else {
		log.Warn("no database configured, using in-memory stores")
		certStore = certificate.NewInMemory()
		batchStore = batch.NewInMemory()
		stockStore = stock.NewInMemory()
		auditStore = audit.NewInMemoryStore()
	}

	var blobs bundle.BlobStore
	if cfg.BlobDir != "" {
		blobs = bundle.NewFilesystemBlobStore(cfg.BlobDir)
	} else {
		log.Warn("no blob directory configured, export bundles are kept in memory")
		blobs = bundle.NewInMemoryBlobStore()
	}

	keyring, err := manifest.NewKeyring([]byte(cfg.ManifestMasterKey), cfg.ManifestKeyIDs)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	var authorizer service.Authorizer = authz.AllowAll{}
	if len(cfg.AdminActors) > 0 {
		actors := make([]id.ActorID, 0, len(cfg.AdminActors))
		for _, raw := range cfg.AdminActors {
			actor, err := id.ParseActorID(raw)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("admin actor %q: %w", raw, err)
			}
			actors = append(actors, actor)
		}
		authorizer = authz.NewStatic(actors)
	}

	// Audit appends go through a buffered worker so request latency never
	// waits on the audit store. Run flushes the buffer on shutdown.
	auditWorker := audit.NewWorker(auditStore, log, 256)
	go func() { _ = auditWorker.Run(ctx) }()

	opts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(fulfillmentmetrics.New()),
		service.WithAudit(audit.NewPublisher(auditWorker, log)),
		service.WithCoverRenderer(cover.Text{}),
	}
	if cfg.RedisAddr != "" {
		client, err := platformredis.NewClient(ctx, cfg.RedisAddr)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		cleanups = append(cleanups, func() { _ = client.Close() })
		opts = append(opts, service.WithFingerprintLog(
			report.NewRedisFingerprintLog(client, reportFingerprintRetention)))
	}

	svc := service.New(
		certStore, batchStore, stockStore,
		manifest.NewSigner(keyring),
		bundle.NewPackager(blobs),
		authorizer,
		opts...,
	)
	return svc, cleanup, nil
}
