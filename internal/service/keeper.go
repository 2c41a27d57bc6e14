package service

import (
	"context"
	"sync"
	"time"

	"water_monitor/internal/feed"
	"water_monitor/internal/logger"

	"github.com/cenkalti/backoff/v4"
)

const defaultKeeperMaxBackoff = 30 * time.Second

// CacheKeeper is a long-lived consumer of the telemetry and control feeds.
// Holding them attached keeps the cache warm for synchronous reads. After a
// terminal listener error it subscribes again with exponential backoff; this
// is consumer-side retry, the feeds themselves never resubscribe.
type CacheKeeper struct {
	telemetry  *TelemetryService
	control    *ControlStateService
	maxBackoff time.Duration
	log        *logger.Logger
}

func NewCacheKeeper(t *TelemetryService, c *ControlStateService, maxBackoff time.Duration, log *logger.Logger) *CacheKeeper {
	if maxBackoff <= 0 {
		maxBackoff = defaultKeeperMaxBackoff
	}
	return &CacheKeeper{telemetry: t, control: c, maxBackoff: maxBackoff, log: log}
}

// Run blocks until ctx is canceled.
func (k *CacheKeeper) Run(ctx context.Context) {
	var wg sync.WaitGroup
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}
	run(func() { keepAttached(ctx, "telemetry", k.telemetry.SubscribeUpdates, k.maxBackoff, k.log) })
	run(func() { keepAttached(ctx, "control_pumps", k.control.SubscribePumps, k.maxBackoff, k.log) })
	run(func() { keepAttached(ctx, "control_system", k.control.SubscribeSystem, k.maxBackoff, k.log) })
	run(func() { keepAttached(ctx, "control_servo", k.control.SubscribeServo, k.maxBackoff, k.log) })
	run(func() { keepAttached(ctx, "control_schedule", k.control.SubscribeSchedule, k.maxBackoff, k.log) })
	wg.Wait()
}

func keepAttached[T any](ctx context.Context, name string, subscribe func() (*feed.Subscription[T], error), maxBackoff time.Duration, log *logger.Logger) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = maxBackoff
	bo.MaxElapsedTime = 0 // retry for as long as ctx lives
	if bo.InitialInterval > maxBackoff {
		bo.InitialInterval = maxBackoff
	}
	bo.Reset()

	for {
		sub, err := subscribe()
		if err == nil {
			var received bool
			received, err = drain(ctx, sub)
			sub.Close()
			if received {
				bo.Reset()
			}
		}
		if ctx.Err() != nil {
			return
		}

		wait := bo.NextBackOff()
		if log != nil {
			log.Warnw("cache_keeper_resubscribe", "feed", name, "err", err, "wait", wait.String())
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// drain consumes sub until it ends and reports whether anything arrived.
func drain[T any](ctx context.Context, sub *feed.Subscription[T]) (bool, error) {
	received := false
	for {
		if _, err := sub.Next(ctx); err != nil {
			return received, err
		}
		received = true
	}
}
