package feed

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"
)

type stubSource struct {
	mu       sync.Mutex
	emit     func(int)
	fail     func(error)
	starts   int
	stops    int
	startErr error
}

func (s *stubSource) source(emit func(int), fail func(error)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return nil, s.startErr
	}
	s.starts++
	s.emit, s.fail = emit, fail
	return func() {
		s.mu.Lock()
		s.stops++
		s.mu.Unlock()
	}, nil
}

func (s *stubSource) send(v int) {
	s.mu.Lock()
	emit := s.emit
	s.mu.Unlock()
	emit(v)
}

func (s *stubSource) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts, s.stops
}

func collect(t *testing.T, sub *Subscription[int], n int) []int {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var out []int
	for len(out) < n {
		v, err := sub.Next(ctx)
		if err != nil {
			t.Fatalf("Next after %v: %v", out, err)
		}
		out = append(out, v)
	}
	return out
}

func TestFeed_FanOutSameOrder(t *testing.T) {
	src := &stubSource{}
	f := New[int]("test_fanout", src.source)

	a, err := f.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	b, err := f.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if starts, _ := src.counts(); starts != 1 {
		t.Fatalf("listener registered %d times, want 1", starts)
	}

	for i := 1; i <= 5; i++ {
		src.send(i)
	}
	want := []int{1, 2, 3, 4, 5}
	if got := collect(t, a, 5); !reflect.DeepEqual(got, want) {
		t.Errorf("consumer a got %v", got)
	}
	if got := collect(t, b, 5); !reflect.DeepEqual(got, want) {
		t.Errorf("consumer b got %v", got)
	}
}

func TestFeed_TeardownIsIdempotent(t *testing.T) {
	src := &stubSource{}
	f := New[int]("test_teardown", src.source)

	a, _ := f.Subscribe()
	b, _ := f.Subscribe()

	a.Close()
	if _, stops := src.counts(); stops != 0 {
		t.Fatalf("listener released while a consumer is still attached")
	}
	b.Close()
	a.Close()
	b.Close()

	if _, stops := src.counts(); stops != 1 {
		t.Fatalf("stops=%d, want 1", stops)
	}
	if f.Active() || f.Subscribers() != 0 {
		t.Fatalf("feed still active after last detach")
	}
	if _, ok := <-a.C(); ok {
		t.Fatalf("channel of closed subscription still open")
	}
	if _, err := a.Next(context.Background()); !errors.Is(err, ErrDetached) {
		t.Fatalf("Next after Close: %v", err)
	}
}

func TestFeed_ResubscribeRegistersFreshListener(t *testing.T) {
	src := &stubSource{}
	f := New[int]("test_resubscribe", src.source)

	a, _ := f.Subscribe()
	stale := src.emit
	a.Close()

	b, _ := f.Subscribe()
	defer b.Close()
	if starts, _ := src.counts(); starts != 2 {
		t.Fatalf("starts=%d, want 2", starts)
	}

	stale(99) // callback of the released listener
	src.send(1)
	if got := collect(t, b, 1); got[0] != 1 {
		t.Fatalf("stale emission leaked: %v", got)
	}
}

func TestFeed_FailureIsTerminalForAllConsumers(t *testing.T) {
	src := &stubSource{}
	f := New[int]("test_failure", src.source)

	a, _ := f.Subscribe()
	b, _ := f.Subscribe()
	src.send(7)

	boom := errors.New("permission denied")
	src.fail(boom)

	// values emitted before the failure are still delivered
	if got := collect(t, a, 1); got[0] != 7 {
		t.Fatalf("a got %v", got)
	}
	if _, err := a.Next(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("a: want terminal error, got %v", err)
	}
	for range b.C() {
	}
	if !errors.Is(b.Err(), boom) {
		t.Fatalf("b.Err()=%v", b.Err())
	}

	if _, stops := src.counts(); stops != 1 {
		t.Fatalf("stops=%d, want 1", stops)
	}
	a.Close()
	b.Close()
	if _, stops := src.counts(); stops != 1 {
		t.Fatalf("Close after failure released the listener again")
	}

	src.fail(boom)
	if f.Active() {
		t.Fatalf("feed active after failure")
	}
}

func TestFeed_RegisterErrorAttachesNothing(t *testing.T) {
	boom := errors.New("offline")
	src := &stubSource{startErr: boom}
	f := New[int]("test_register_error", src.source)

	if _, err := f.Subscribe(); !errors.Is(err, boom) {
		t.Fatalf("Subscribe err=%v", err)
	}
	if f.Subscribers() != 0 || f.Active() {
		t.Fatalf("failed Subscribe left state behind")
	}
}

func TestFeed_SlowConsumerDropsOldest(t *testing.T) {
	src := &stubSource{}
	f := New[int]("test_slow", src.source, WithBuffer(2))

	slow, _ := f.Subscribe()
	defer slow.Close()

	done := make(chan struct{})
	go func() {
		for i := 1; i <= 5; i++ {
			src.send(i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("emit blocked on a slow consumer")
	}

	if got := collect(t, slow, 2); !reflect.DeepEqual(got, []int{4, 5}) {
		t.Fatalf("got %v, want the two newest values", got)
	}
}

func TestMap(t *testing.T) {
	src := &stubSource{}
	f := New[int]("test_map", src.source)

	sub, _ := f.Subscribe()
	doubled := Map(sub, func(v int) int { return v * 2 })

	src.send(1)
	src.send(2)
	if got := collect(t, doubled, 2); !reflect.DeepEqual(got, []int{2, 4}) {
		t.Fatalf("got %v", got)
	}

	doubled.Close()
	doubled.Close()
	if _, stops := src.counts(); stops != 1 {
		t.Fatalf("closing the mapped subscription should release the source once, stops=%d", stops)
	}
}

func TestMap_PropagatesFailure(t *testing.T) {
	src := &stubSource{}
	f := New[int]("test_map_failure", src.source)

	sub, _ := f.Subscribe()
	mapped := Map(sub, func(v int) string { return "x" })

	boom := errors.New("disconnected")
	src.fail(boom)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := mapped.Next(ctx); !errors.Is(err, boom) {
		t.Fatalf("want %v, got %v", boom, err)
	}
}

func TestMerge(t *testing.T) {
	a, b := &stubSource{}, &stubSource{}
	fa := New[int]("test_merge_a", a.source)
	fb := New[int]("test_merge_b", b.source)

	sa, _ := fa.Subscribe()
	sb, _ := fb.Subscribe()
	merged := Merge(sa, sb)

	a.send(1)
	b.send(2)
	got := collect(t, merged, 2)
	if got[0]+got[1] != 3 {
		t.Fatalf("got %v", got)
	}

	boom := errors.New("revoked")
	b.fail(boom)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := merged.Next(ctx); !errors.Is(err, boom) {
		t.Fatalf("want %v, got %v", boom, err)
	}
	if fa.Active() {
		t.Fatalf("healthy source still attached after a sibling failed")
	}
	merged.Close()
}
