// Package feed multiplexes one upstream listener to any number of consumers.
//
// A Feed registers its listener when the first consumer attaches and releases
// it exactly once, either when the last consumer detaches or when the listener
// fails. Every consumer owns a buffered channel; when a consumer falls behind
// its oldest pending value is discarded so the listener never blocks.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"water_monitor/internal/logger"
	"water_monitor/internal/metrics"

	"github.com/google/uuid"
)

// DefaultBuffer is the per-consumer channel capacity.
const DefaultBuffer = 16

// ErrDetached is returned by Next once the consumer itself closed the
// subscription.
var ErrDetached = errors.New("subscription closed")

// Source registers the upstream listener. emit and fail may be called from
// any goroutine but never from inside Source itself. stop releases the
// listener and is called at most once.
type Source[T any] func(emit func(T), fail func(error)) (stop func(), err error)

type options struct {
	buffer int
	log    *logger.Logger
}

type Option func(*options)

// WithBuffer sets the per-consumer capacity (minimum 1).
func WithBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.buffer = n
		}
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

type Feed[T any] struct {
	name   string
	source Source[T]
	opts   options

	mu   sync.Mutex
	subs map[*Subscription[T]]struct{}
	stop func() // non-nil while the listener is registered
	gen  uint64 // bumped on every (re)registration; stale callbacks are ignored
}

func New[T any](name string, src Source[T], opts ...Option) *Feed[T] {
	o := options{buffer: DefaultBuffer}
	for _, opt := range opts {
		opt(&o)
	}
	return &Feed[T]{
		name:   name,
		source: src,
		opts:   o,
		subs:   make(map[*Subscription[T]]struct{}),
	}
}

func (f *Feed[T]) Name() string { return f.name }

// Subscribe attaches a consumer. The consumer receives every value emitted
// after this call. If the listener cannot be registered the error is returned
// and nothing is attached.
func (f *Feed[T]) Subscribe() (*Subscription[T], error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stop == nil {
		f.gen++
		gen := f.gen
		stop, err := f.source(
			func(v T) { f.emit(gen, v) },
			func(err error) { f.fail(gen, err) },
		)
		if err != nil {
			return nil, fmt.Errorf("feed %s: register listener: %w", f.name, err)
		}
		if stop == nil {
			stop = func() {}
		}
		f.stop = stop
		metrics.RemoteListeners.WithLabelValues(f.name).Set(1)
		f.debugw("feed_listener_registered")
	}

	sub := newSubscription[T](f.opts.buffer)
	sub.detach = func() { f.detach(sub) }
	f.subs[sub] = struct{}{}
	metrics.FeedSubscribers.WithLabelValues(f.name).Set(float64(len(f.subs)))
	f.debugw("feed_consumer_attached", "subscription", sub.id, "consumers", len(f.subs))
	return sub, nil
}

// Subscribers reports the number of attached consumers.
func (f *Feed[T]) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Active reports whether the upstream listener is registered.
func (f *Feed[T]) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stop != nil
}

func (f *Feed[T]) emit(gen uint64, v T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if gen != f.gen || f.stop == nil {
		return
	}
	metrics.FeedEmissions.WithLabelValues(f.name).Inc()
	for sub := range f.subs {
		if sub.offer(v) {
			metrics.FeedDropped.WithLabelValues(f.name).Inc()
		}
	}
}

func (f *Feed[T]) fail(gen uint64, err error) {
	f.mu.Lock()
	if gen != f.gen || f.stop == nil {
		f.mu.Unlock()
		return
	}
	stop := f.stop
	f.stop = nil
	for sub := range f.subs {
		sub.terminate(err)
		delete(f.subs, sub)
	}
	f.mu.Unlock()

	stop()
	metrics.FeedFailures.WithLabelValues(f.name).Inc()
	metrics.FeedSubscribers.WithLabelValues(f.name).Set(0)
	metrics.RemoteListeners.WithLabelValues(f.name).Set(0)
	if f.opts.log != nil {
		f.opts.log.Warnw("feed_listener_failed", "feed", f.name, "err", err)
	}
}

func (f *Feed[T]) detach(sub *Subscription[T]) {
	f.mu.Lock()
	if _, ok := f.subs[sub]; !ok {
		f.mu.Unlock()
		return
	}
	delete(f.subs, sub)
	sub.terminate(nil)
	n := len(f.subs)
	var stop func()
	if n == 0 && f.stop != nil {
		stop = f.stop
		f.stop = nil
		f.gen++
	}
	f.mu.Unlock()

	metrics.FeedSubscribers.WithLabelValues(f.name).Set(float64(n))
	f.debugw("feed_consumer_detached", "subscription", sub.id, "consumers", n)
	if stop != nil {
		stop()
		metrics.RemoteListeners.WithLabelValues(f.name).Set(0)
		f.debugw("feed_listener_released")
	}
}

func (f *Feed[T]) debugw(msg string, kv ...interface{}) {
	if f.opts.log == nil {
		return
	}
	f.opts.log.Debugw(msg, append([]interface{}{"feed", f.name}, kv...)...)
}

// Subscription is one consumer's view of a feed.
type Subscription[T any] struct {
	id     string
	ch     chan T
	detach func()

	closeOnce sync.Once
	termOnce  sync.Once

	mu  sync.Mutex
	err error
}

func newSubscription[T any](buffer int) *Subscription[T] {
	if buffer < 1 {
		buffer = 1
	}
	return &Subscription[T]{id: uuid.NewString(), ch: make(chan T, buffer)}
}

func (s *Subscription[T]) ID() string { return s.id }

// C delivers values in emission order. It is closed when the consumer
// detaches or the listener fails; Err tells the two apart.
func (s *Subscription[T]) C() <-chan T { return s.ch }

// Err is the terminal listener error, nil after a plain Close.
func (s *Subscription[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close detaches the consumer. Closing twice, or after a failure, is a no-op.
func (s *Subscription[T]) Close() {
	s.closeOnce.Do(func() {
		if s.detach != nil {
			s.detach()
		}
	})
}

// Next waits for the next value.
func (s *Subscription[T]) Next(ctx context.Context) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case v, ok := <-s.ch:
		if ok {
			return v, nil
		}
		if err := s.Err(); err != nil {
			return zero, err
		}
		return zero, ErrDetached
	}
}

// offer never blocks. It reports whether an older value was discarded.
func (s *Subscription[T]) offer(v T) (dropped bool) {
	for {
		select {
		case s.ch <- v:
			return dropped
		default:
		}
		select {
		case <-s.ch:
			dropped = true
		default:
		}
	}
}

func (s *Subscription[T]) terminate(err error) {
	s.termOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.ch)
	})
}

// Map derives a subscription by applying fn to every value of src, in order.
// Closing the result closes src; a failure of src terminates the result with
// the same error.
func Map[T, U any](src *Subscription[T], fn func(T) U) *Subscription[U] {
	out := newSubscription[U](cap(src.ch))
	out.detach = src.Close
	go func() {
		for v := range src.ch {
			out.offer(fn(v))
		}
		out.terminate(src.Err())
	}()
	return out
}

// Merge interleaves several subscriptions into one. The first failure among
// them terminates the result and detaches the rest; closing the result
// closes every source.
func Merge[T any](srcs ...*Subscription[T]) *Subscription[T] {
	buffer := 1
	for _, s := range srcs {
		if c := cap(s.ch); c > buffer {
			buffer = c
		}
	}
	out := newSubscription[T](buffer)
	closeAll := func() {
		for _, s := range srcs {
			s.Close()
		}
	}
	out.detach = closeAll

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	for _, s := range srcs {
		wg.Add(1)
		go func(s *Subscription[T]) {
			defer wg.Done()
			for v := range s.ch {
				out.offer(v)
			}
			if err := s.Err(); err != nil {
				errOnce.Do(func() { firstErr = err })
				closeAll()
			}
		}(s)
	}
	go func() {
		wg.Wait()
		out.terminate(firstErr)
	}()
	return out
}
