package reliability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tempvoice/internal/core/domain"
	"tempvoice/internal/core/ports"
	"tempvoice/pkg/circuitbreaker"
	"tempvoice/pkg/retry"
	"tempvoice/pkg/tracing"

	"go.uber.org/zap"
)

// PlatformWrapper guards a Platform with per-command timeouts, retries and a circuit
// breaker, and reports command latency.
type PlatformWrapper struct {
	platform ports.Platform
	logger   *zap.SugaredLogger
	metrics  ports.MetricsRecorder

	timeout     time.Duration
	retryConfig retry.Config
	breaker     *circuitbreaker.CircuitBreaker
}

var _ ports.Platform = (*PlatformWrapper)(nil)

// NewPlatformWrapper wraps platform. A nil cbConfig disables the breaker. Only
// transient errors are retried; CreateVoiceChannel is never retried here because the
// caller has to look for a lost create before trying again.
func NewPlatformWrapper(
	platform ports.Platform,
	timeout time.Duration,
	retryConfig retry.Config,
	cbConfig *circuitbreaker.Config,
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
) *PlatformWrapper {
	retryConfig.Retryable = func(err error) bool {
		return errors.Is(err, domain.ErrPlatformTransient)
	}

	w := &PlatformWrapper{
		platform:    platform,
		logger:      logger,
		metrics:     metrics,
		timeout:     timeout,
		retryConfig: retryConfig,
	}

	if cbConfig != nil {
		cfg := *cbConfig
		// A missing channel is an answer, not an outage.
		cfg.IsFailure = func(err error) bool {
			return !errors.Is(err, domain.ErrChannelNotFound)
		}
		w.breaker = circuitbreaker.New(cfg)
		w.breaker.OnStateChange(func(from, to circuitbreaker.State) {
			logger.Warnw("platform circuit breaker state changed",
				"from", from.String(),
				"to", to.String(),
			)
		})
	}
	return w
}

// BreakerState reports the breaker state for logs.
func (w *PlatformWrapper) BreakerState() string {
	if w.breaker == nil {
		return "disabled"
	}
	return w.breaker.GetState().String()
}

// BreakerCheck is a readiness check that fails while the breaker is open.
func (w *PlatformWrapper) BreakerCheck(context.Context) error {
	if w.breaker == nil {
		return nil
	}
	stats := w.breaker.GetStats()
	if stats.State != circuitbreaker.StateOpen {
		return nil
	}
	return fmt.Errorf("platform circuit open since %s (last failure %s)",
		stats.StateChangeTime.UTC().Format(time.RFC3339),
		stats.LastFailureTime.UTC().Format(time.RFC3339))
}

func call[T any](ctx context.Context, w *PlatformWrapper, command string, retryable bool, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := tracing.TracePlatformCommand(ctx, command)
	start := time.Now()

	attempt := func() (T, error) {
		if w.breaker == nil {
			return bounded(ctx, w.timeout, fn)
		}
		return circuitbreaker.ExecuteWithResult(ctx, w.breaker, func() (T, error) {
			return bounded(ctx, w.timeout, fn)
		})
	}

	var (
		result T
		err    error
	)
	if retryable {
		result, err = retry.RetryWithResult(ctx, w.retryConfig, attempt)
	} else {
		result, err = attempt()
	}

	if w.metrics != nil {
		w.metrics.PlatformCommand(command, time.Since(start), err)
	}
	if errors.Is(err, domain.ErrChannelNotFound) {
		tracing.EndSpan(span, nil)
	} else {
		tracing.EndSpan(span, err)
	}
	if err != nil && !errors.Is(err, domain.ErrChannelNotFound) {
		w.logger.Debugw("platform command failed", "command", command, "error", err)
	}
	return result, err
}

// bounded runs fn under the per-command timeout. Hitting that timeout is reported as
// transient; cancellation of the caller's context is passed through.
func bounded[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := fn(cctx)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return result, fmt.Errorf("%w: %v", domain.ErrPlatformTransient, err)
	}
	return result, err
}

func exec(ctx context.Context, w *PlatformWrapper, command string, retryable bool, fn func(context.Context) error) error {
	_, err := call(ctx, w, command, retryable, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func (w *PlatformWrapper) CreateVoiceChannel(ctx context.Context, spec domain.ChannelSpec) (domain.ChannelID, error) {
	return call(ctx, w, "create_voice_channel", false, func(ctx context.Context) (domain.ChannelID, error) {
		return w.platform.CreateVoiceChannel(ctx, spec)
	})
}

func (w *PlatformWrapper) DeleteVoiceChannel(ctx context.Context, id domain.ChannelID) error {
	return exec(ctx, w, "delete_voice_channel", true, func(ctx context.Context) error {
		return w.platform.DeleteVoiceChannel(ctx, id)
	})
}

func (w *PlatformWrapper) MoveMember(ctx context.Context, user domain.UserID, channel domain.ChannelID) error {
	return exec(ctx, w, "move_member", true, func(ctx context.Context) error {
		return w.platform.MoveMember(ctx, user, channel)
	})
}

func (w *PlatformWrapper) SetChannelPermission(ctx context.Context, channel domain.ChannelID, target domain.UserID, perm domain.Permission) error {
	return exec(ctx, w, "set_channel_permission", true, func(ctx context.Context) error {
		return w.platform.SetChannelPermission(ctx, channel, target, perm)
	})
}

func (w *PlatformWrapper) RenameChannel(ctx context.Context, channel domain.ChannelID, name string) error {
	return exec(ctx, w, "rename_channel", true, func(ctx context.Context) error {
		return w.platform.RenameChannel(ctx, channel, name)
	})
}

func (w *PlatformWrapper) SetChannelLimit(ctx context.Context, channel domain.ChannelID, limit int) error {
	return exec(ctx, w, "set_channel_limit", true, func(ctx context.Context) error {
		return w.platform.SetChannelLimit(ctx, channel, limit)
	})
}

func (w *PlatformWrapper) GetChannelMembers(ctx context.Context, channel domain.ChannelID) ([]domain.UserID, error) {
	return call(ctx, w, "get_channel_members", true, func(ctx context.Context) ([]domain.UserID, error) {
		return w.platform.GetChannelMembers(ctx, channel)
	})
}

func (w *PlatformWrapper) GetChannel(ctx context.Context, channel domain.ChannelID) (*domain.ChannelInfo, error) {
	return call(ctx, w, "get_channel", true, func(ctx context.Context) (*domain.ChannelInfo, error) {
		return w.platform.GetChannel(ctx, channel)
	})
}

func (w *PlatformWrapper) ListChannels(ctx context.Context, parent domain.ChannelID) ([]*domain.ChannelInfo, error) {
	return call(ctx, w, "list_channels", true, func(ctx context.Context) ([]*domain.ChannelInfo, error) {
		return w.platform.ListChannels(ctx, parent)
	})
}

func (w *PlatformWrapper) GetMemberName(ctx context.Context, user domain.UserID) (string, error) {
	return call(ctx, w, "get_member_name", true, func(ctx context.Context) (string, error) {
		return w.platform.GetMemberName(ctx, user)
	})
}
