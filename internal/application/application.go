package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/walkin-service/internal/changefeed"
	"github.com/psds-microservice/walkin-service/internal/config"
	"github.com/psds-microservice/walkin-service/internal/database"
	"github.com/psds-microservice/walkin-service/internal/errs"
	"github.com/psds-microservice/walkin-service/internal/handler"
	"github.com/psds-microservice/walkin-service/internal/kafka"
	"github.com/psds-microservice/walkin-service/internal/router"
	"github.com/psds-microservice/walkin-service/internal/service"
	"gorm.io/gorm"
)

// API приложение: HTTP сервер с REST и websocket-лентой изменений (режим api).
type API struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *gorm.DB
	hub      *changefeed.Hub
	producer *kafka.Producer
	httpSrv  *http.Server

	Cases  *service.CaseService
	Agents *service.AgentService
}

// NewAPI создаёт приложение для режима api: миграции, БД, hub, Kafka, роутер.
func NewAPI(cfg *config.Config, logger *slog.Logger) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	db, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}

	hub := changefeed.NewHub(cfg.FeedBuffer, logger)
	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopicCase, logger)
	cases := service.NewCaseService(db, hub, producer)
	agents := service.NewAgentService(db)

	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	h := router.New(router.Handlers{
		Case:   handler.NewCaseHandler(cases),
		Agent:  handler.NewAgentHandler(agents),
		Stream: handler.NewStreamHandler(hub, logger),
	})

	// No WriteTimeout: the change stream is a long-lived response.
	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &API{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		hub:      hub,
		producer: producer,
		httpSrv:  httpSrv,
		Cases:    cases,
		Agents:   agents,
	}, nil
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	if cfg.DBDriver == database.DriverSQLite {
		db, err := database.OpenMigrated(database.DriverSQLite, cfg.DSN())
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		return db, nil
	}
	if err := database.MigrateUp(cfg.DatabaseURL()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(database.DriverPostgres, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	return db, nil
}

// Hub is the in-process change feed, for same-process clients.
func (a *API) Hub() *changefeed.Hub { return a.hub }

// Handler exposes the HTTP handler, for tests.
func (a *API) Handler() http.Handler { return a.httpSrv.Handler }

// Run запускает HTTP сервер, блокируется до отмены ctx.
func (a *API) Run(ctx context.Context) error {
	host := a.cfg.AppHost
	if host == "0.0.0.0" {
		host = "localhost"
	}
	base := "http://" + host + ":" + a.cfg.HTTPPort
	a.logger.Info("HTTP server listening", "addr", a.httpSrv.Addr)
	a.logger.Info("endpoints",
		"swagger", base+"/swagger",
		"health", base+"/health",
		"api", base+"/api/v1/",
		"stream", "ws://"+host+":"+a.cfg.HTTPPort+"/api/v1/cases/stream")

	errCh := make(chan error, 1)
	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		runErr = fmt.Errorf("http: %w", err)
	}
	return errors.Join(runErr, a.Close())
}

// Close stops the server and releases the hub, Kafka producer and database.
func (a *API) Close() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Streams are hijacked connections; ending the hub lets their handlers return.
	a.hub.Close()
	var out error
	if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
		out = errors.Join(out, fmt.Errorf("http shutdown: %w", err))
	}
	if err := a.producer.Close(); err != nil {
		a.logger.Warn("kafka close", "err", errs.Loggable(err))
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	return out
}
