// SPDX-License-Identifier: MIT

package aigw

import (
	"context"
	"fmt"
	"time"

	"github.com/broadcomms/brainstormx/internal/log"
	"github.com/broadcomms/brainstormx/internal/metrics"
	"github.com/broadcomms/brainstormx/internal/workshop"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Options tune the gateway's timeout, retry, and provider rate budget.
type Options struct {
	Timeout   time.Duration // per-attempt deadline, default 20s
	RetryMax  int           // total attempts on transient failure, default 3
	RetryBase time.Duration // exponential backoff base, default 1s
	RateRPS   float64       // provider calls per second, 0 disables limiting
	RateBurst int
}

// Gateway coordinates artifact generation: per-(session,stage) in-flight
// deduplication, bounded exponential retry on transient failures, and a
// global provider rate budget.
type Gateway struct {
	provider  Provider
	group     singleflight.Group
	limiter   *rate.Limiter
	timeout   time.Duration
	retryMax  int
	retryBase time.Duration
}

// New wraps a provider with gateway semantics.
func New(provider Provider, opts Options) *Gateway {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.RetryMax < 1 {
		opts.RetryMax = 3
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = time.Second
	}
	var limiter *rate.Limiter
	if opts.RateRPS > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateRPS), burst)
	}
	return &Gateway{
		provider:  provider,
		limiter:   limiter,
		timeout:   opts.Timeout,
		retryMax:  opts.RetryMax,
		retryBase: opts.RetryBase,
	}
}

// Generate produces one artifact for (session, tag). A concurrent call for
// the same key while one is in flight joins the in-flight result instead of
// issuing a duplicate provider call.
func (g *Gateway) Generate(ctx context.Context, sessionID string, tag workshop.ArtifactTag, cs ContextSnapshot) (*workshop.Artifact, error) {
	key := sessionID + "|" + string(tag)
	v, err, _ := g.group.Do(key, func() (any, error) {
		return g.generate(ctx, sessionID, tag, cs)
	})
	if err != nil {
		return nil, err
	}
	return v.(*workshop.Artifact), nil
}

func (g *Gateway) generate(ctx context.Context, sessionID string, tag workshop.ArtifactTag, cs ContextSnapshot) (*workshop.Artifact, error) {
	logger := log.WithComponentFromContext(ctx, "aigw").With().
		Str(log.FieldSessionID, sessionID).
		Str(log.FieldStage, string(tag)).
		Logger()

	req, err := BuildPrompt(tag, cs)
	if err != nil {
		metrics.GatewayRequestsTotal.WithLabelValues(string(tag), "rejected").Inc()
		return nil, err
	}
	requestID := uuid.NewString()

	var lastErr error
	for attempt := 1; attempt <= g.retryMax; attempt++ {
		if attempt > 1 {
			metrics.GatewayRetriesTotal.WithLabelValues(string(tag)).Inc()
			backoff := g.retryBase << (attempt - 2)
			logger.Debug().
				Int(log.FieldAttempt, attempt).
				Dur("backoff", backoff).
				Msg("retrying provider call")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("aigw: generate %s: %w", tag, ctx.Err())
			}
		}

		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("aigw: rate wait: %w", err)
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
		start := time.Now()
		res, err := g.provider.Generate(attemptCtx, req)
		cancel()
		metrics.GatewayDuration.WithLabelValues(string(tag)).Observe(time.Since(start).Seconds())

		if err == nil {
			metrics.GatewayRequestsTotal.WithLabelValues(string(tag), "ok").Inc()
			logger.Info().
				Int(log.FieldAttempt, attempt).
				Str("model", res.ModelID).
				Msg("artifact generated")
			return &workshop.Artifact{
				ID:          uuid.NewString(),
				Tag:         tag,
				Content:     CleanContent(tag, res.Content),
				RequestID:   requestID,
				GeneratedAt: time.Now().UTC(),
			}, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			// The owning session was concluded or the caller gave up;
			// discard rather than retry.
			return nil, fmt.Errorf("aigw: generate %s: %w", tag, ctx.Err())
		}
		if !IsTransient(err) {
			metrics.GatewayRequestsTotal.WithLabelValues(string(tag), "rejected").Inc()
			logger.Warn().Err(err).Int(log.FieldAttempt, attempt).Msg("provider rejected request")
			return nil, err
		}
		logger.Warn().Err(err).Int(log.FieldAttempt, attempt).Msg("transient provider failure")
	}

	metrics.GatewayRequestsTotal.WithLabelValues(string(tag), "exhausted").Inc()
	return nil, fmt.Errorf("aigw: generate %s after %d attempts: %w", tag, g.retryMax, lastErr)
}
