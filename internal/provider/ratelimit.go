package provider

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"frontdesk/internal/domain"
)

// Limited throttles calls to a completer with a token bucket.
type Limited struct {
	domain.Completer
	limiter *rate.Limiter
}

// NewLimited allows perMinute calls per minute with a burst of
// max(1, perMinute/6). perMinute <= 0 disables limiting.
func NewLimited(c domain.Completer, perMinute int) domain.Completer {
	if perMinute <= 0 {
		return c
	}
	burst := max(1, perMinute/6)
	return &Limited{
		Completer: c,
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst),
	}
}

func (l *Limited) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.CompletionResponse, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	return l.Completer.Complete(ctx, req)
}
