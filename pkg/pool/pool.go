// Package pool implements the per-catalog connection pool: bounded size,
// idle eviction, acquire timeout, liveness validation, and
// transaction-aware connection pinning.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ha1tch/mssqlengine/pkg/connection"
)

// Config is the pool's tunable shape, mirroring spec.md §6's
// connection_limit/connection_cache/idle_timeout/min_connections/
// acquire_timeout keys.
type Config struct {
	Limit           int
	CacheEnabled    bool
	IdleTimeout     time.Duration // 0 = never evict
	MinConnections  int
	AcquireTimeout  time.Duration
	LivenessDeadline time.Duration
}

// Factory constructs a new Connection on demand.
type Factory func(ctx context.Context) (*connection.Connection, error)

// entry is one pool-managed connection, alive in exactly one of the idle
// queue or the active map at any time.
type entry struct {
	conn           *connection.Connection
	id             uint64
	lastReleasedAt time.Time
}

// Stats mirrors the counters the original exposes for its diagnostic
// surface (spec.md's Testable Properties #5/#6 and SPEC_FULL.md §6).
type Stats struct {
	Created   int64
	Closed    int64
	Acquired  int64
	Timeouts  int64
	ActiveNow int
	IdleNow   int
}

// Pool is a bounded set of Connections for one attached catalog.
type Pool struct {
	cfg     Config
	factory Factory

	mu       sync.Mutex
	cond     *sync.Cond
	idle     []*entry
	active   map[uint64]*entry
	pinned   map[string]*entry // transaction key -> pinned entry
	nextID   uint64
	shutdown bool

	stats Stats

	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

// New creates a Pool and starts its background cleanup goroutine.
func New(cfg Config, factory Factory) *Pool {
	if cfg.Limit <= 0 {
		cfg.Limit = 10
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 30 * time.Second
	}
	if cfg.LivenessDeadline <= 0 {
		cfg.LivenessDeadline = 5 * time.Second
	}

	p := &Pool{
		cfg:         cfg,
		factory:     factory,
		active:      make(map[uint64]*entry),
		pinned:      make(map[string]*entry),
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	go p.cleanupLoop()
	return p
}

// Handle is a checked-out connection; callers must call Release exactly
// once. TxKey, when non-empty, pins the handle to a transaction so
// Release becomes a no-op until ReleaseTx commits/rolls it back.
type Handle struct {
	pool  *Pool
	entry *entry
	txKey string
}

// Conn returns the underlying Connection.
func (h *Handle) Conn() *connection.Connection { return h.entry.conn }

// Acquire pops a validated idle entry, grows the pool below its limit,
// or waits on the condvar up to cfg.AcquireTimeout. If txKey names a
// transaction already pinned to a connection, that same handle is
// returned instead (the pool is transaction-aware per spec.md §4.8).
func (p *Pool) Acquire(ctx context.Context, txKey string) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if txKey != "" {
		if e, ok := p.pinned[txKey]; ok {
			return &Handle{pool: p, entry: e, txKey: txKey}, nil
		}
	}

	deadline := time.Now().Add(p.cfg.AcquireTimeout)

	for {
		if p.shutdown {
			return nil, fmt.Errorf("pool: shut down")
		}

		for len(p.idle) > 0 {
			e := p.idle[len(p.idle)-1]
			p.idle = p.idle[:len(p.idle)-1]
			if !e.conn.IsAlive() {
				p.stats.Closed++
				e.conn.Close()
				continue
			}
			// Ping probes the idle connection with a real round trip; the
			// cheap IsAlive check above only catches connections this pool
			// itself marked dead, not ones whose TCP session died silently
			// while idle. Unlock for the round trip so other acquirers and
			// releasers are not blocked on it.
			p.mu.Unlock()
			pingErr := e.conn.Ping(p.cfg.LivenessDeadline)
			p.mu.Lock()
			if pingErr != nil {
				p.stats.Closed++
				e.conn.Close()
				continue
			}
			p.active[e.id] = e
			p.stats.Acquired++
			if txKey != "" {
				p.pinned[txKey] = e
			}
			return &Handle{pool: p, entry: e, txKey: txKey}, nil
		}

		if len(p.active) < p.cfg.Limit {
			p.nextID++
			id := p.nextID
			// Reserve the slot with a placeholder before unlocking so a
			// second goroutine's len(p.active) check below can't also pass
			// while this factory call is in flight and overshoot Limit.
			p.active[id] = nil
			p.mu.Unlock()
			conn, err := p.factory(ctx)
			p.mu.Lock()
			if err != nil {
				delete(p.active, id)
				p.cond.Broadcast()
				return nil, err
			}
			if p.shutdown {
				delete(p.active, id)
				p.mu.Unlock()
				conn.Close()
				p.mu.Lock()
				return nil, fmt.Errorf("pool: shut down")
			}
			e := &entry{conn: conn, id: id}
			p.active[id] = e
			p.stats.Created++
			p.stats.Acquired++
			if txKey != "" {
				p.pinned[txKey] = e
			}
			return &Handle{pool: p, entry: e, txKey: txKey}, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			p.stats.Timeouts++
			return nil, fmt.Errorf("pool: acquire timed out after %s", p.cfg.AcquireTimeout)
		}
		p.waitOrDeadline(remaining)
	}
}

// waitOrDeadline blocks on the condvar for at most d, re-checking
// p.shutdown/idle state on wake. sync.Cond has no timed wait, so a
// helper goroutine signals after d elapses.
func (p *Pool) waitOrDeadline(d time.Duration) {
	timer := time.AfterFunc(d, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer timer.Stop()
	p.cond.Wait()
}

// Release returns a connection to idle, unless the pool is shut down,
// caching is disabled, the connection is dead, or the handle is pinned
// to an still-open transaction (release is a no-op until ReleaseTx).
func (h *Handle) Release() {
	p := h.pool
	p.mu.Lock()
	defer p.mu.Unlock()

	if h.txKey != "" {
		// Pinned handles stay active until ReleaseTx explicitly unpins.
		return
	}
	p.releaseLocked(h.entry)
}

// ReleaseTx unpins a transaction-pinned handle after commit/rollback and
// returns it to idle under the normal release rules.
func (h *Handle) ReleaseTx() {
	p := h.pool
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pinned, h.txKey)
	p.releaseLocked(h.entry)
}

func (p *Pool) releaseLocked(e *entry) {
	delete(p.active, e.id)

	if p.shutdown || !p.cfg.CacheEnabled || !e.conn.IsAlive() {
		p.stats.Closed++
		e.conn.Close()
		p.cond.Signal()
		return
	}

	e.lastReleasedAt = time.Now()
	p.idle = append(p.idle, e)
	p.cond.Signal()
}

func (p *Pool) cleanupLoop() {
	defer close(p.cleanupDone)
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCleanup:
			return
		case <-ticker.C:
			p.evictIdle()
		}
	}
}

func (p *Pool) evictIdle() {
	if p.cfg.IdleTimeout <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	minWarm := p.cfg.MinConnections - len(p.active)
	if minWarm < 0 {
		minWarm = 0
	}

	kept := p.idle[:0]
	now := time.Now()
	for _, e := range p.idle {
		if len(kept) < minWarm || now.Sub(e.lastReleasedAt) < p.cfg.IdleTimeout {
			kept = append(kept, e)
			continue
		}
		p.stats.Closed++
		e.conn.Close()
	}
	p.idle = kept
}

// Stats returns a snapshot of pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.ActiveNow = len(p.active)
	s.IdleNow = len(p.idle)
	return s
}

// Shutdown marks the pool shut down, wakes all waiters, stops the
// cleanup goroutine, and closes every idle and active connection.
// Idempotent.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return
	}
	p.shutdown = true
	close(p.stopCleanup)
	for _, e := range p.idle {
		e.conn.Close()
	}
	for _, e := range p.active {
		if e == nil {
			// Reservation placeholder for a factory call still in flight;
			// that goroutine will observe p.shutdown and close it itself.
			continue
		}
		e.conn.Close()
	}
	p.idle = nil
	p.active = make(map[uint64]*entry)
	p.cond.Broadcast()
	p.mu.Unlock()

	<-p.cleanupDone
}
