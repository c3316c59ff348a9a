package events

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Dispatcher validates envelopes and forwards them to the notifier under a rate limit.
// Delivery is best-effort: errors are returned for logging and never retried here.
type Dispatcher struct {
	validator *Validator
	notifier  Notifier
	limiter   *rate.Limiter
	timeout   time.Duration
	logger    *zap.Logger
}

// NewDispatcher wires a dispatcher. ratePerSec <= 0 disables throttling.
func NewDispatcher(validator *Validator, notifier Notifier, ratePerSec int, logger *zap.Logger) *Dispatcher {
	if validator == nil {
		panic("events validator is required")
	}
	if notifier == nil {
		panic("events notifier is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if ratePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec)
	}

	return &Dispatcher{
		validator: validator,
		notifier:  notifier,
		limiter:   limiter,
		timeout:   10 * time.Second,
		logger:    logger,
	}
}

// Publish encodes, validates and sends one envelope.
func (d *Dispatcher) Publish(ctx context.Context, env Envelope) error {
	data, err := d.validator.Encode(env)
	if err != nil {
		return fmt.Errorf("shape %s event: %w", env.Kind, err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("throttle %s event: %w", env.Kind, err)
	}

	msg := Message{
		Kind: env.Kind,
		Attributes: map[string]string{
			"kind":       string(env.Kind),
			"eventId":    env.ID.String(),
			"customerId": env.CustomerID.String(),
			"taskId":     env.TaskID.String(),
		},
		Data: data,
	}
	if err := d.notifier.Notify(ctx, msg); err != nil {
		return err
	}

	d.logger.Debug("event dispatched", zap.String("kind", string(env.Kind)), zap.String("event_id", env.ID.String()))
	return nil
}
