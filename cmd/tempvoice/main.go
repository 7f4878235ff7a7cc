package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tempvoice/internal/core/domain"
	"tempvoice/internal/core/ports"
	"tempvoice/internal/core/services"
	httphandlers "tempvoice/internal/handlers/http"
	"tempvoice/internal/infrastructure/distributed"
	"tempvoice/internal/infrastructure/gateway"
	"tempvoice/internal/infrastructure/monitoring"
	repositories "tempvoice/internal/infrastructure/repositories"
	"tempvoice/pkg/config"
	lockpkg "tempvoice/pkg/distributed"
	"tempvoice/pkg/logger"
	"tempvoice/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	configPaths := []string{
		os.Getenv("TEMPVOICE_CONFIG"),
		"configs/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error
	for _, path := range configPaths {
		if path == "" {
			continue
		}
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	zapLogger, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		zapLogger = zap.NewExample()
	}
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "tempvoice",
		JaegerURL:   cfg.Tracing.JaegerEndpoint,
		Environment: os.Getenv("TEMPVOICE_ENV"),
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}

	collector := monitoring.NewPrometheusCollector()

	platform, events, err := newPlatform(cfg, collector, log)
	if err != nil {
		log.Fatalw("failed to initialize platform", "error", err)
	}

	var serializer ports.RoomSerializer = services.NewKeyedSerializer()
	if client := repoFactory.RedisClient(); client != nil {
		locks := lockpkg.NewLockManager(client, "tempvoice:lock:room:")
		serializer = distributed.NewRedisSerializer(serializer, locks, cfg.TempVoice.LockTTL, log)
		log.Info("room serialization spans instances via redis")
	}

	controller := services.NewController(
		controllerConfig(cfg),
		repoFactory.CreateRoomRepository(),
		repoFactory.CreateOwnerRepository(),
		platform,
		serializer,
		log,
	)
	controller.SetMetrics(collector)

	reconciler := services.NewReconciler(services.ReconcilerConfig{
		Interval:          cfg.TempVoice.ReconcileInterval,
		CategoryID:        domain.ChannelID(cfg.TempVoice.CategoryID),
		ProtectedChannels: channelIDs(cfg.TempVoice.ProtectedChannels),
	}, controller, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if client := repoFactory.RedisClient(); client != nil {
		bus := distributed.NewRoomEventBus(client, log)
		fanout := distributed.NewAnomalyFanout(reconciler, bus, log)
		controller.SetPublisher(bus)
		controller.SetAnomalyReporter(fanout)
		if err := bus.Subscribe(ctx, fanout.HandleRemote); err != nil {
			log.Warnw("room event bus unavailable", "error", err)
		}
	} else {
		controller.SetAnomalyReporter(reconciler)
	}

	router := services.NewRouter(
		controller,
		repoFactory.CreateIdempotencyStore(cfg.TempVoice.DedupTTL),
		channelIDs(cfg.TempVoice.IgnoredChannels),
		log,
	)
	routerDone := make(chan struct{})
	go func() {
		defer close(routerDone)
		router.Run(ctx, events)
	}()

	if err := reconciler.Start(ctx); err != nil {
		log.Fatalw("failed to start reconciler", "error", err)
	}

	health := monitoring.NewHealthChecker()
	health.AddStorageCheck(repoFactory.HealthCheck, 2*time.Second)
	if len(cfg.TempVoice.CreatorChannels) > 0 {
		health.AddPlatformCheck(platform, domain.ChannelID(cfg.TempVoice.CreatorChannels[0]), cfg.Platform.Timeout)
	}
	health.AddCheck("platform_breaker", platform.BreakerCheck, time.Second)

	gwCfg := gateway.DefaultConfig()
	gwCfg.AllowedOrigins = cfg.Auth.AllowedOrigins
	eventGateway := gateway.NewEventGateway(router, gwCfg, log)

	var gatherer prometheus.Gatherer
	if cfg.Monitoring.PrometheusEnabled {
		gatherer = collector.Registry()
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	dispatcher := services.NewDispatcher(controller, log)
	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)
	engine := httphandlers.NewRouter(cfg, authService, httphandlers.Handlers{
		Rooms:  httphandlers.NewRoomHandler(dispatcher, controller),
		Owners: httphandlers.NewOwnerHandler(dispatcher),
		Ops:    httphandlers.NewOpsHandler(reconciler, health, gatherer),
		Events: eventGateway.HandleWebSocket,
	}, log)

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("Starting TempVoice server",
			"address", cfg.Server.Address,
			"storage", repoFactory.Driver(),
			"platform", cfg.Platform.Mode,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Errorw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down TempVoice server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	eventGateway.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	}

	// Stop intake, let queued events finish, then stop the timers they may arm.
	cancel()
	<-routerDone
	reconciler.Stop()
	controller.Stop()

	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracer provider", "error", err)
	}
	if err := repoFactory.Close(); err != nil {
		log.Errorw("Error closing repository factory", "error", err)
	}
	log.Info("TempVoice server stopped")
}

func controllerConfig(cfg *config.Config) services.ControllerConfig {
	return services.ControllerConfig{
		CreatorChannels: channelIDs(cfg.TempVoice.CreatorChannels),
		CategoryID:      domain.ChannelID(cfg.TempVoice.CategoryID),
		TagPrefix:       cfg.TempVoice.TagPrefix,
		NameTemplate:    cfg.TempVoice.NameTemplate,
		GraceWindow:     cfg.TempVoice.GraceWindow,
		JoinCooldown:    cfg.TempVoice.JoinCooldown,
		CreateRetry:     retryConfig(cfg),
	}
}

func channelIDs(ids []string) []domain.ChannelID {
	out := make([]domain.ChannelID, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.ChannelID(id))
	}
	return out
}
