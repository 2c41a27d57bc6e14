package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"water_monitor/internal/logger"
	"water_monitor/internal/remote"
)

// ErrEmptyPath is returned for writes to the root node.
var ErrEmptyPath = errors.New("store path is empty")

// NodeSQLite is a remote.Store kept in SQLite. The tree is stored as one row
// per leaf and every committed write bumps store_revision. Run watches the
// revision and delivers changed snapshots, so writes made by other processes
// sharing the database file reach local listeners as well.
type NodeSQLite struct {
	db  *sql.DB
	log *logger.Logger

	mu        sync.Mutex
	nextID    uint64
	listeners map[uint64]*nodeListener
	wake      chan struct{}
	closed    bool
}

type nodeListener struct {
	id      uint64
	path    string
	query   remote.Query
	fn      remote.Listener
	removed atomic.Bool

	// owned by the Run goroutine
	last   any
	primed bool
}

var _ remote.Store = (*NodeSQLite)(nil)

const (
	selectRevisionSQL = `SELECT rev FROM store_revision WHERE id = 1`
	bumpRevisionSQL   = `UPDATE store_revision SET rev = rev + 1 WHERE id = 1`

	selectSubtreeSQL = `SELECT path, value FROM store_nodes WHERE path = ? OR (path >= ? AND path < ?)`
	deleteSubtreeSQL = `DELETE FROM store_nodes WHERE path = ? OR (path >= ? AND path < ?)`
	deleteNodeSQL    = `DELETE FROM store_nodes WHERE path = ?`

	upsertNodeSQL = `
		INSERT INTO store_nodes (path, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			value=excluded.value,
			updated_at=excluded.updated_at
	`
)

func NewNodeSQLite(db *sql.DB, log *logger.Logger) *NodeSQLite {
	return &NodeSQLite{
		db:        db,
		log:       log,
		listeners: make(map[uint64]*nodeListener),
		wake:      make(chan struct{}, 1),
	}
}

// subtreeArgs selects path itself and everything below it: "p/" <= x < "p0"
// covers exactly the keys starting with "p/".
func subtreeArgs(path string) []any {
	return []any{path, path + "/", path + "0"}
}

// Listen registers fn. The first snapshot is delivered by Run.
func (s *NodeSQLite) Listen(path string, q remote.Query, fn remote.Listener) (remote.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, remote.ErrClosed
	}
	s.nextID++
	l := &nodeListener{id: s.nextID, path: remote.Join(path), query: q, fn: fn}
	s.listeners[l.id] = l
	s.signalLocked()
	return remote.NewRegistration(func() { s.remove(l.id) }), nil
}

func (s *NodeSQLite) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.listeners[id]; ok {
		l.removed.Store(true)
		delete(s.listeners, id)
	}
}

// Listeners counts active registrations.
func (s *NodeSQLite) Listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

func (s *NodeSQLite) signalLocked() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Set replaces the node at path; nil deletes it.
func (s *NodeSQLite) Set(ctx context.Context, path string, value any) error {
	v, err := remote.Normalize(value)
	if err != nil {
		return fmt.Errorf("normalize %s: %w", path, err)
	}
	return s.write(ctx, func(tx *sql.Tx, now string) error {
		return putNode(ctx, tx, path, v, now)
	})
}

// Update replaces several children of path in one transaction.
func (s *NodeSQLite) Update(ctx context.Context, path string, fields map[string]any) error {
	keys := make([]string, 0, len(fields))
	values := make(map[string]any, len(fields))
	for k, f := range fields {
		v, err := remote.Normalize(f)
		if err != nil {
			return fmt.Errorf("normalize %s: %w", remote.Join(path, k), err)
		}
		keys = append(keys, k)
		values[k] = v
	}
	sort.Strings(keys)
	return s.write(ctx, func(tx *sql.Tx, now string) error {
		for _, k := range keys {
			if err := putNode(ctx, tx, remote.Join(path, k), values[k], now); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *NodeSQLite) write(ctx context.Context, apply func(tx *sql.Tx, now string) error) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return remote.ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := apply(tx, time.Now().UTC().Format(sqliteTimestamp)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, bumpRevisionSQL); err != nil {
		return fmt.Errorf("bump store revision: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit write: %w", err)
	}

	s.mu.Lock()
	s.signalLocked()
	s.mu.Unlock()
	return nil
}

// putNode replaces the subtree at path with the leaves of v. Leaves stored at
// ancestors of path are removed, since a node is either a value or a parent.
func putNode(ctx context.Context, tx *sql.Tx, path string, v any, now string) error {
	p := remote.Join(path)
	if p == "" {
		return ErrEmptyPath
	}
	if _, err := tx.ExecContext(ctx, deleteSubtreeSQL, subtreeArgs(p)...); err != nil {
		return fmt.Errorf("clear %s: %w", p, err)
	}
	segs := remote.Split(p)
	for i := 1; i < len(segs); i++ {
		if _, err := tx.ExecContext(ctx, deleteNodeSQL, remote.Join(segs[:i]...)); err != nil {
			return fmt.Errorf("clear ancestor of %s: %w", p, err)
		}
	}

	leaves := remote.Flatten(p, v)
	paths := make([]string, 0, len(leaves))
	for lp := range leaves {
		paths = append(paths, lp)
	}
	sort.Strings(paths)
	for _, lp := range paths {
		raw, err := json.Marshal(leaves[lp])
		if err != nil {
			return fmt.Errorf("encode %s: %w", lp, err)
		}
		if _, err := tx.ExecContext(ctx, upsertNodeSQL, lp, string(raw), now); err != nil {
			return fmt.Errorf("write %s: %w", lp, err)
		}
	}
	return nil
}

// Get reads the current value at path.
func (s *NodeSQLite) Get(ctx context.Context, path string) (any, error) {
	return s.load(ctx, remote.Join(path))
}

func (s *NodeSQLite) load(ctx context.Context, path string) (any, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	rows, err := s.db.QueryContext(ctx, selectSubtreeSQL, subtreeArgs(path)...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", path, err)
	}
	defer rows.Close()

	leaves := make(map[string]any)
	for rows.Next() {
		var p, raw string
		if err := rows.Scan(&p, &raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", path, err)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", p, err)
		}
		leaves[p] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select %s: %w", path, err)
	}
	return remote.Unflatten(path, leaves), nil
}

func (s *NodeSQLite) revision(ctx context.Context) (int64, error) {
	var rev int64
	if err := s.db.QueryRowContext(ctx, selectRevisionSQL).Scan(&rev); err != nil {
		return 0, err
	}
	return rev, nil
}

// Run delivers snapshots until ctx is canceled, checking the revision every
// interval and right after local writes or registrations. A database error
// is terminal for the listeners it affects. On return every remaining
// listener receives remote.ErrClosed.
func (s *NodeSQLite) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	defer s.shutdown()

	rev := int64(-1)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		case <-s.wake:
		}

		cur, err := s.revision(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.failAll(fmt.Errorf("read store revision: %w", err))
			continue
		}
		changed := cur != rev
		rev = cur
		s.poll(ctx, changed)
	}
}

func (s *NodeSQLite) active() []*nodeListener {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*nodeListener, 0, len(s.listeners))
	for _, l := range s.listeners {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// poll refreshes new listeners always and the others only when the revision
// moved. Each listener hears about a value only when it differs from the last
// one it got.
func (s *NodeSQLite) poll(ctx context.Context, changed bool) {
	loaded := make(map[string]any)
	failed := make(map[string]error)
	for _, l := range s.active() {
		if l.primed && !changed {
			continue
		}
		if err, ok := failed[l.path]; ok {
			s.fail(l, err)
			continue
		}
		v, ok := loaded[l.path]
		if !ok {
			var err error
			v, err = s.load(ctx, l.path)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				failed[l.path] = err
				s.fail(l, err)
				continue
			}
			loaded[l.path] = v
		}
		v = remote.ApplyQuery(v, l.query)
		if l.primed && reflect.DeepEqual(v, l.last) {
			continue
		}
		l.primed, l.last = true, v
		if !l.removed.Load() {
			l.fn(remote.Event{Snapshot: remote.Snapshot{Path: l.path, Value: remote.Clone(v)}})
		}
	}
}

func (s *NodeSQLite) fail(l *nodeListener, err error) {
	s.mu.Lock()
	delete(s.listeners, l.id)
	s.mu.Unlock()
	if s.log != nil {
		s.log.Warnw("store_listener_failed", "path", l.path, "err", err)
	}
	if !l.removed.Load() {
		l.fn(remote.Event{Err: err})
	}
}

func (s *NodeSQLite) failAll(err error) {
	for _, l := range s.active() {
		s.fail(l, err)
	}
}

func (s *NodeSQLite) shutdown() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	for _, l := range s.active() {
		s.mu.Lock()
		delete(s.listeners, l.id)
		s.mu.Unlock()
		if !l.removed.Load() {
			l.fn(remote.Event{Err: remote.ErrClosed})
		}
	}
}
