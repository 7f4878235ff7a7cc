package main

import (
	"fmt"

	"tempvoice/internal/core/domain"
	"tempvoice/internal/core/ports"
	platformmem "tempvoice/internal/infrastructure/platform/memory"
	"tempvoice/internal/infrastructure/platform/rest"
	"tempvoice/internal/infrastructure/reliability"
	"tempvoice/pkg/circuitbreaker"
	"tempvoice/pkg/config"
	"tempvoice/pkg/retry"

	"go.uber.org/zap"
)

func retryConfig(cfg *config.Config) retry.Config {
	return retry.Config{
		Enabled:      cfg.Retry.MaxAttempts > 1,
		MaxAttempts:  cfg.Retry.MaxAttempts,
		InitialDelay: cfg.Retry.InitialDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
		Multiplier:   cfg.Retry.Multiplier,
		Jitter:       true,
	}
}

// newPlatform builds the configured platform behind the reliability wrapper. The
// returned channel carries membership events from the in-process platform; in rest
// mode events arrive through the bridge socket and the channel stays idle.
func newPlatform(cfg *config.Config, metrics ports.MetricsRecorder, logger *zap.SugaredLogger) (*reliability.PlatformWrapper, chan domain.MembershipEvent, error) {
	events := make(chan domain.MembershipEvent, 256)

	var base ports.Platform
	switch cfg.Platform.Mode {
	case "memory", "":
		mem := platformmem.New()
		category := domain.ChannelID(cfg.TempVoice.CategoryID)
		for _, id := range cfg.TempVoice.CreatorChannels {
			mem.AddChannel(domain.ChannelID(id), category, "Join to create", "")
		}
		mem.SetEventSink(func(ev domain.MembershipEvent) { events <- ev })
		base = mem
	case "rest":
		base = rest.NewClient(cfg.Platform.BaseURL, cfg.Platform.Token, cfg.Platform.Timeout)
	default:
		return nil, nil, fmt.Errorf("unknown platform mode %q", cfg.Platform.Mode)
	}

	var cbConfig *circuitbreaker.Config
	if cfg.CircuitBreaker.Enabled {
		cb := circuitbreaker.DefaultConfig()
		cb.FailureThreshold = cfg.CircuitBreaker.MaxFailures
		cb.SuccessThreshold = cfg.CircuitBreaker.SuccessThreshold
		cb.Timeout = cfg.CircuitBreaker.Timeout
		cbConfig = &cb
	}

	wrapped := reliability.NewPlatformWrapper(base, cfg.Platform.Timeout, retryConfig(cfg), cbConfig, metrics, logger)
	logger.Infow("platform ready", "mode", cfg.Platform.Mode, "breaker", wrapped.BreakerState())
	return wrapped, events, nil
}
