package server

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"gorm.io/gorm"

	"github.com/triagebox/mailsync/api"
	"github.com/triagebox/mailsync/config"
	"github.com/triagebox/mailsync/internal/cron"
	"github.com/triagebox/mailsync/internal/logger"
	"github.com/triagebox/mailsync/internal/repository"
	"github.com/triagebox/mailsync/internal/tracing"
	"github.com/triagebox/mailsync/services"
)

type Server struct {
	config       *config.Config
	log          logger.Logger
	httpServer   *http.Server
	router       *gin.Engine
	services     *services.Services
	repositories *repository.Repositories
	cronManager  *cron.CronManager
	tracerCloser io.Closer
}

func NewServer(cfg *config.Config, db *gorm.DB) (*Server, error) {
	// Initialize logger
	appLogger := logger.NewAppLogger(cfg.Logger)
	appLogger.InitLogger()

	// Initialize tracing
	tracer, closer, err := tracing.NewJaegerTracer(cfg.Tracing, appLogger)
	if err != nil {
		log.Fatalf("Could not initialize jaeger tracer: %s", err.Error())
	}
	opentracing.SetGlobalTracer(tracer)

	// Initialize repositories
	repos := repository.InitRepositories(db)

	// Initialize services
	svcs, err := services.InitServices(cfg, appLogger, repos)
	if err != nil {
		return nil, err
	}

	// Initialize Gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()

	return &Server{
		config:       cfg,
		log:          appLogger,
		router:       router,
		services:     svcs,
		repositories: repos,
		cronManager:  cron.NewCronManager(cfg, appLogger, svcs.SyncEngine),
		tracerCloser: closer,
		httpServer: &http.Server{
			Addr:    ":" + cfg.AppConfig.APIPort,
			Handler: router,
		},
	}, nil
}

func (s *Server) Initialize(ctx context.Context) error {
	// Make sure the search index exists before any orchestrator writes to it
	if err := s.services.DocumentStore.EnsureIndex(ctx); err != nil {
		return err
	}

	// Register env-configured accounts
	if err := s.registerConfiguredAccounts(ctx); err != nil {
		return err
	}

	// Setup API routes
	api.RegisterRoutes(ctx, s.router, s.services, s.repositories, s.config.AppConfig.APIKey)

	return nil
}

// registerConfiguredAccounts upserts the IMAP_ACCOUNTS descriptors into the
// registry so the sync engine picks them up on Start.
func (s *Server) registerConfiguredAccounts(ctx context.Context) error {
	accounts, err := s.config.SyncConfig.ParseAccounts()
	if err != nil {
		return err
	}

	for _, account := range accounts {
		if err := s.repositories.AccountRepository.UpsertByEmailAddress(ctx, account); err != nil {
			return err
		}
		log.Printf("Registered account %s (%s)", account.ID, account.EmailAddress)
	}

	return nil
}

func (s *Server) recoverWithJaeger(name string) {
	if r := recover(); r != nil {
		span := opentracing.GlobalTracer().StartSpan(
			fmt.Sprintf("panic.%s", name),
		)
		defer span.Finish()

		ext.Error.Set(span, true)
		span.LogKV(
			"event", "panic",
			"process", name,
			"error", fmt.Sprintf("%v", r),
			"stack", string(debug.Stack()),
		)

		log.Printf("Panic in %s: %v\n%s", name, r, debug.Stack())
	}
}

func (s *Server) wrapGoroutine(name string, fn func()) {
	defer s.recoverWithJaeger(name)
	fn()
}

func (s *Server) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Initialize(ctx); err != nil {
		return err
	}

	// Start the sync engine
	log.Println("Starting sync engine...")
	s.wrapGoroutine("sync_engine", func() {
		if err := s.services.SyncEngine.Start(ctx); err != nil {
			log.Printf("Sync engine error: %v", err)
		}
	})

	// Start the indexed email listener
	if s.services.IndexedListener != nil {
		log.Println("Starting indexed email listener...")
		s.services.IndexedListener.Start(ctx)
	}

	// Start cron jobs
	s.cronManager.Start()

	// Start HTTP server in a goroutine with panic recovery
	go s.wrapGoroutine("http_server", func() {
		log.Println("Starting HTTP server")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	})
	log.Println("MailSync is now running. Press Ctrl+C to exit.")

	return s.waitForShutdown(cancel)
}

func (s *Server) waitForShutdown(cancel context.CancelFunc) error {
	defer s.recoverWithJaeger("shutdown")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	s.cronManager.Stop()

	log.Println("Shutting down HTTP server...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	// Stop sync engine with timeout and panic recovery
	log.Println("Stopping sync engine...")
	stopDone := make(chan struct{})
	go s.wrapGoroutine("sync_engine_shutdown", func() {
		defer close(stopDone)
		if err := s.services.SyncEngine.Stop(); err != nil {
			log.Printf("Sync engine shutdown error: %v", err)
		}
	})

	select {
	case <-stopDone:
		log.Println("Sync engine stopped gracefully")
	case <-time.After(10 * time.Second):
		log.Println("Sync engine stop timed out, forcing exit")
	}

	if s.services.EventPublisher != nil {
		if err := s.services.EventPublisher.Close(); err != nil {
			log.Printf("Event publisher close error: %v", err)
		}
	}

	if s.tracerCloser != nil {
		s.tracerCloser.Close()
	}

	return nil
}
