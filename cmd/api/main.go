package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"netoffice/internal/api"
	"netoffice/internal/approval"
	"netoffice/internal/archive"
	"netoffice/internal/attendance"
	"netoffice/internal/certify"
	"netoffice/internal/config"
	"netoffice/internal/events"
	"netoffice/internal/geo"
	"netoffice/internal/live"
	"netoffice/internal/logging"
	"netoffice/internal/metrics"
	"netoffice/internal/queue"
	"netoffice/internal/store"
)

func main() {
	root := &cobra.Command{
		Use:           "netoffice-api",
		Short:         "Attendance and approval HTTP API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runHTTP(cmd.Context(), cfg)
		},
	}
	root.PersistentFlags().String("config", "", "config file (yaml, json or toml)")

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runHTTP(parent context.Context, cfg config.App) error {
	log := logging.New("netoffice-api", cfg.LogLevel, cfg.LogFormat, nil)
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	health := map[string]api.HealthChecker{}

	db, err := store.NewDB(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Warn("db not reachable")
	}
	defer func() { _ = db.Close() }()
	health["db"] = db

	q, rdb, worker := buildQueue(cfg, db, log)
	if rdb != nil {
		health["redis"] = rdb
		defer func() { _ = rdb.Close() }()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	hub := live.NewHub(log.WithField("component", "live"), nil)
	go hub.Run(ctx)

	bridge := &events.Bridge{Queue: q, Hub: hub, Metrics: m, Log: log.WithField("component", "events")}

	approvals := approval.NewStore(approval.WithObserver(bridge), approval.WithLogger(log.WithField("component", "approval")))
	bridge.Counts = approvals.Counts
	if cfg.ApprovalSeedFile != "" {
		if err := loadSeed(approvals, cfg.ApprovalSeedFile, log); err != nil {
			return err
		}
	}
	c := approvals.Counts()
	m.SetRequestCounts(c.Pending, c.Approved, c.Rejected)

	certs := certify.New(cfg.CertSigningKey, cfg.CertIssuer, cfg.CertTTL)
	sessions := attendance.NewRegistry(nil,
		attendance.WithGPSOptions(geo.Options{HighAccuracy: cfg.GPSHighAccuracy, Timeout: cfg.GPSTimeout}),
		attendance.WithCertifier(certs),
		attendance.WithObserver(bridge),
		attendance.WithLogger(log.WithField("component", "attendance")),
	)

	if worker != nil {
		go func() {
			if err := worker.Run(ctx); err != nil {
				log.WithError(err).Error("in-process archive worker stopped")
			}
		}()
	}

	router := api.NewRouter(&api.Server{
		Sessions:  sessions,
		Approvals: approvals,
		Certs:     certs,
		Hub:       hub,
		Metrics:   m,
		Gatherer:  reg,
		Health:    health,
		Log:       log,
	}, api.RouterConfig{
		CORSOrigins:     cfg.CORSOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		Production:      cfg.IsProduction(),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server forced shutdown")
	}
	log.Info("server exited")
	return nil
}

// buildQueue picks the event queue. The redis backend returns its client; the
// memory backend returns the in-process archive worker that drains it.
func buildQueue(cfg config.App, db *store.DB, log *logrus.Logger) (queue.Queue, *store.Redis, *archive.Worker) {
	if cfg.QueueBackend == "memory" {
		if db == nil {
			log.Warn("memory queue without a database: events are not archived")
			return nil, nil, nil
		}
		repo := archive.NewRepository(db.Client, db.Driver)
		if err := repo.Migrate(context.Background()); err != nil {
			log.WithError(err).Warn("archive migrate failed: events are not archived")
			return nil, nil, nil
		}
		q := queue.NewInMemory(256)
		return q, nil, &archive.Worker{Queue: q, Repo: repo, Log: log.WithField("component", "archive")}
	}
	r := store.NewRedis(cfg.RedisAddr)
	return queue.NewRedisQueue(r.Client, cfg.QueueKey), r, nil
}

func loadSeed(s *approval.Store, path string, log logrus.FieldLogger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open approval seed: %w", err)
	}
	defer f.Close()
	n, err := s.LoadSeed(f)
	if err != nil {
		return fmt.Errorf("load approval seed: %w", err)
	}
	log.WithFields(logrus.Fields{"requests": n, "file": path}).Info("approval seed loaded")
	return nil
}
