// Package memstore is an in-process remote.Store. It backs the "memory" store
// backend and the subscription tests.
package memstore

import (
	"context"
	"reflect"
	"sync"

	"water_monitor/internal/remote"
)

type listener struct {
	id      uint64
	path    string
	query   remote.Query
	fn      remote.Listener
	last    any
	primed  bool
	removed bool
}

type delivery struct {
	l  *listener
	ev remote.Event
}

// Store keeps the whole tree in memory and delivers events from one
// dispatcher goroutine in write order.
type Store struct {
	mu        sync.Mutex
	root      any
	nextID    uint64
	listeners map[uint64]*listener
	queue     []delivery
	wake      chan struct{}
	done      chan struct{}
	closed    bool
	writeErr  error
	removals  int
}

var _ remote.Store = (*Store)(nil)

// New starts a store and its dispatcher. Call Close to stop it.
func New() *Store {
	s := &Store{
		listeners: make(map[uint64]*listener),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go s.dispatch()
	return s
}

func (s *Store) Listen(path string, q remote.Query, fn remote.Listener) (remote.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, remote.ErrClosed
	}
	s.nextID++
	l := &listener{id: s.nextID, path: remote.Join(path), query: q, fn: fn}
	s.listeners[l.id] = l
	s.enqueueSnapshotLocked(l)
	return remote.NewRegistration(func() { s.remove(l.id) }), nil
}

func (s *Store) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.listeners[id]; ok {
		l.removed = true
		delete(s.listeners, id)
		s.removals++
	}
}

func (s *Store) Set(ctx context.Context, path string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v, err := remote.Normalize(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writableLocked(); err != nil {
		return err
	}
	s.root = remote.Put(s.root, remote.Split(path), v)
	s.notifyLocked(path)
	return nil
}

func (s *Store) Update(ctx context.Context, path string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	normalized := make(map[string]any, len(fields))
	for k, f := range fields {
		v, err := remote.Normalize(f)
		if err != nil {
			return err
		}
		normalized[k] = v
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writableLocked(); err != nil {
		return err
	}
	base := remote.Split(path)
	root := s.root
	for k, v := range normalized {
		root = remote.Put(root, append(append([]string(nil), base...), remote.Split(k)...), v)
	}
	s.root = root
	s.notifyLocked(path)
	return nil
}

func (s *Store) writableLocked() error {
	if s.closed {
		return remote.ErrClosed
	}
	return s.writeErr
}

// notifyLocked queues a snapshot for every listener whose value may have
// changed and actually did.
func (s *Store) notifyLocked(path string) {
	for _, l := range s.listeners {
		if remote.Related(l.path, path) {
			s.enqueueSnapshotLocked(l)
		}
	}
}

func (s *Store) enqueueSnapshotLocked(l *listener) {
	v := remote.ApplyQuery(remote.Lookup(s.root, remote.Split(l.path)), l.query)
	if l.primed && reflect.DeepEqual(v, l.last) {
		return
	}
	l.primed = true
	l.last = v
	s.queue = append(s.queue, delivery{l: l, ev: remote.Event{
		Snapshot: remote.Snapshot{Path: l.path, Value: remote.Clone(v)},
	}})
	s.signal()
}

func (s *Store) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Store) dispatch() {
	for range s.wake {
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			d := s.queue[0]
			s.queue = s.queue[1:]
			skip := d.l.removed
			s.mu.Unlock()
			if !skip {
				d.l.fn(d.ev)
			}
		}
		s.mu.Lock()
		stop := s.closed && len(s.queue) == 0
		s.mu.Unlock()
		if stop {
			close(s.done)
			return
		}
	}
}

// Fail cancels every listener registered exactly on path with err, the way a
// permission or connectivity failure cancels a remote listener.
func (s *Store) Fail(path string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path = remote.Join(path)
	for id, l := range s.listeners {
		if l.path != path {
			continue
		}
		delete(s.listeners, id)
		s.queue = append(s.queue, delivery{l: l, ev: remote.Event{Err: err}})
	}
	s.signal()
}

// SetWriteError makes every following write fail with err (nil restores).
func (s *Store) SetWriteError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

// Listeners counts active registrations on path ("" counts all).
func (s *Store) Listeners(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	path = remote.Join(path)
	n := 0
	for _, l := range s.listeners {
		if path == "" || l.path == path {
			n++
		}
	}
	return n
}

// Removals counts registrations released through Remove.
func (s *Store) Removals() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removals
}

// Get returns a copy of the value at path.
func (s *Store) Get(path string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return remote.Clone(remote.Lookup(s.root, remote.Split(path)))
}

// Close cancels all listeners with remote.ErrClosed. Pending deliveries are
// flushed before the dispatcher exits; Done is closed afterwards.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, l := range s.listeners {
		delete(s.listeners, id)
		s.queue = append(s.queue, delivery{l: l, ev: remote.Event{Err: remote.ErrClosed}})
	}
	s.signal()
}

// Done is closed when the dispatcher has exited after Close.
func (s *Store) Done() <-chan struct{} {
	return s.done
}
