package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kandev/kanrun/internal/common/httpmw"
	"github.com/kandev/kanrun/internal/common/tracing"
	"github.com/kandev/kanrun/internal/events"
	"github.com/kandev/kanrun/internal/executor/controller"
	"github.com/kandev/kanrun/internal/executor/discovery"
	executorhandlers "github.com/kandev/kanrun/internal/executor/handlers"
	"github.com/kandev/kanrun/internal/executor/profiles"
	"github.com/kandev/kanrun/internal/executor/scratch"
	schedulinghandlers "github.com/kandev/kanrun/internal/scheduling/handlers"
	"github.com/kandev/kanrun/internal/scheduling/scheduler"
	"github.com/kandev/kanrun/internal/scheduling/service"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the scheduled execution poller",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	tracing.Configure(cfg.Tracing.Endpoint)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracing.Shutdown(ctx)
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting kanrun", zap.String("db_driver", cfg.Database.Driver))

	stores, cleanup, err := provideStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := cleanup(); err != nil {
			log.Warn("failed to close database", zap.Error(err))
		}
	}()

	provided, busCleanup, err := events.Provide(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = busCleanup() }()

	defaults, err := profiles.LoadDefaults()
	if err != nil {
		return err
	}
	source := profiles.NewFileSource(cfg.Profiles.Path, defaults, log)
	session, err := profiles.NewSession(ctx, source, log)
	if err != nil {
		return err
	}

	discoverer, err := discovery.NewBuiltinDiscoverer()
	if err != nil {
		return err
	}
	disc := discovery.NewService(discoverer, discovery.NewCache(cfg.Discovery.TTL(), cfg.Discovery.CacheCapacity), provided.Bus, log)
	if err := disc.Start(); err != nil {
		return err
	}
	defer disc.Close()

	writer := scratch.NewWriter(stores.Scratch, cfg.Scratch.Debounce(), log)
	defer func() {
		if err := writer.Close(context.Background()); err != nil {
			log.Warn("failed to flush scratch configs", zap.Error(err))
		}
	}()

	ctrl := controller.NewController(session, disc, writer, provided.Bus, log)
	scheduleSvc := service.NewService(stores.Schedules, stores.Tasks, provided.Bus, log)
	sched := scheduler.NewScheduler(
		stores.Schedules,
		scheduler.NewBusInvoker(provided.Bus, cfg.Scheduler.InvokeTimeoutDuration()),
		stores.Tasks,
		provided.Bus,
		log,
		scheduler.Config{
			PollInterval:  cfg.Scheduler.PollIntervalDuration(),
			BatchSize:     cfg.Scheduler.BatchSize,
			InvokeTimeout: cfg.Scheduler.InvokeTimeoutDuration(),
			MaxConcurrent: cfg.Scheduler.MaxConcurrent,
		},
	)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), httpmw.RequestID(), httpmw.OtelTracing("kanrun"), httpmw.RequestLogger(log, "kanrun"))
	router.GET("/health", func(c *gin.Context) {
		status, code := "ok", http.StatusOK
		if err := stores.Pool.Ping(c.Request.Context()); err != nil {
			log.Warn("database health check failed", zap.Error(err))
			status, code = "degraded", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":    status,
			"scheduler": sched.IsRunning(),
			"bus":       provided.Bus.IsConnected(),
		})
	})
	executorhandlers.RegisterRoutes(router, ctrl, log)
	schedulinghandlers.RegisterRoutes(router, scheduleSvc, log)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if cfg.Scheduler.Enabled {
		if err := sched.Start(gctx); err != nil {
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			if err := sched.Stop(); err != nil && !errors.Is(err, scheduler.ErrSchedulerNotRunning) {
				return err
			}
			return nil
		})
	} else {
		log.Info("scheduler disabled")
	}

	if cfg.Profiles.Watch {
		g.Go(func() error {
			if err := session.WatchFile(gctx, source); err != nil {
				log.Warn("profile watcher stopped", zap.Error(err))
			}
			return nil
		})
	}

	err = g.Wait()
	log.Info("kanrun stopped")
	return err
}
