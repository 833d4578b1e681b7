package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"frontdesk/internal/domain"
)

const defaultAttemptTimeout = 10 * time.Second

// Failover tries completers in order. Each member gets 1+Retries attempts,
// every attempt bounded by Timeout; a non-retryable error moves straight
// to the next member.
type Failover struct {
	completers []domain.Completer
	timeout    time.Duration
	retries    int
	retryable  func(error) bool
	logger     *slog.Logger
}

type FailoverConfig struct {
	Completers []domain.Completer
	Timeout    time.Duration
	Retries    int
	Retryable  func(error) bool // default IsRetryable
	Logger     *slog.Logger
}

func NewFailover(cfg FailoverConfig) *Failover {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultAttemptTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Retryable == nil {
		cfg.Retryable = IsRetryable
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Failover{
		completers: cfg.Completers,
		timeout:    cfg.Timeout,
		retries:    cfg.Retries,
		retryable:  cfg.Retryable,
		logger:     cfg.Logger,
	}
}

func (f *Failover) Name() string {
	names := make([]string, len(f.completers))
	for i, c := range f.completers {
		names[i] = c.Name()
	}
	return "failover(" + strings.Join(names, "→") + ")"
}

func (f *Failover) Healthy(ctx context.Context) error {
	for _, c := range f.completers {
		if err := c.Healthy(ctx); err == nil {
			return nil
		}
	}
	return errors.New("no healthy completer in failover chain")
}

func (f *Failover) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.CompletionResponse, error) {
	if len(f.completers) == 0 {
		return nil, errors.New("failover chain is empty")
	}
	var lastErr error
	for i, c := range f.completers {
		for attempt := 0; attempt <= f.retries; attempt++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			actx, cancel := context.WithTimeout(ctx, f.timeout)
			resp, err := c.Complete(actx, req)
			cancel()
			if err == nil {
				if i > 0 || attempt > 0 {
					f.logger.Info("failover: completed after fallback",
						"completer", c.Name(), "member", i+1, "attempt", attempt+1)
				}
				return resp, nil
			}
			lastErr = err
			f.logger.Warn("failover: attempt failed",
				"completer", c.Name(), "member", i+1, "attempt", attempt+1, "err", err)
			if !f.retryable(err) {
				break
			}
		}
	}
	return nil, fmt.Errorf("all completers in failover chain failed: %w", lastErr)
}
