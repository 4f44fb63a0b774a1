// Package pool keeps a bounded set of backing-store connections and hands
// them out to concurrent request handlers.
//
// All bookkeeping (idle set, active set, open count, waiter queue) is guarded
// by a single mutex. Driver calls (dial, reset, close) happen outside of it.
// The open count includes slots reserved for dials in flight, so
// idle + active never exceeds MaxConns.
package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bookoftales/tales/internal/logger"
	"github.com/bookoftales/tales/internal/utils"
)

const tracerName = "github.com/bookoftales/tales/internal/pool"

// Options sizes and times the pool.
type Options struct {
	MinConns       int           // connections kept open opportunistically
	MaxConns       int           // hard bound on idle + active
	ConnectTimeout time.Duration // bound on acquire waits and dials, 0 = caller context only
	IdleTimeout    time.Duration // idle connections older than this are reaped, 0 = never
	ReapInterval   time.Duration // reaper period, 0 = derived from IdleTimeout
}

func (o Options) validate() error {
	switch {
	case o.MinConns < 0 || o.MaxConns < 0:
		return fmt.Errorf("pool: connection bounds must be >= 0 (min %d, max %d)", o.MinConns, o.MaxConns)
	case o.MinConns > o.MaxConns:
		return fmt.Errorf("pool: min connections (%d) exceed max (%d)", o.MinConns, o.MaxConns)
	case o.ConnectTimeout < 0 || o.IdleTimeout < 0 || o.ReapInterval < 0:
		return fmt.Errorf("pool: timeouts must be >= 0")
	}
	return nil
}

type grant struct {
	conn     *Conn // a ready connection
	reserved bool  // an open slot; the waiter dials itself
	err      error
}

type waiter struct {
	ch chan grant // buffered(1), written once under Pool.mu
}

// Pool is a bounded connection pool. Create it with New or Connect.
type Pool struct {
	opts   Options
	driver Driver
	logger logger.Logger
	tracer trace.Tracer

	mu          sync.Mutex
	idle        []*Conn // oldest first
	active      map[*Conn]struct{}
	numOpen     int // idle + active + dials in flight
	waiters     []*waiter
	closed      bool
	drained     chan struct{}
	drainMarked bool

	waitCount    int64
	timeoutCount int64
	createdCount int64
	brokenCount  int64
	closedCount  atomic.Int64

	stopReaper context.CancelFunc
	reaperDone chan struct{}
}

// New builds a pool and verifies the backing store is reachable: one
// connection is dialed and pinged within ConnectTimeout, failing with
// *InitError otherwise. The pool is then warmed up to MinConns.
func New(ctx context.Context, opts Options, driver Driver, log logger.Logger) (*Pool, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}

	p := &Pool{
		opts:       opts,
		driver:     driver,
		logger:     log,
		tracer:     otel.Tracer(tracerName),
		active:     make(map[*Conn]struct{}),
		drained:    make(chan struct{}),
		reaperDone: make(chan struct{}),
	}

	ctx, span := p.tracer.Start(ctx, "pool.init", trace.WithAttributes(
		attribute.Int("pool.min_conns", opts.MinConns),
		attribute.Int("pool.max_conns", opts.MaxConns),
	))
	defer span.End()

	s, err := p.probe(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &InitError{Attempts: 1, Err: err}
	}

	if opts.MaxConns == 0 {
		utils.Close(s, log, "probe connection")
		log.Warn("pool has no capacity, every acquire will wait for its timeout")
	} else {
		p.mu.Lock()
		p.numOpen = 1
		p.createdCount++
		p.putLocked(newConn(p, s))
		p.mu.Unlock()
		p.fill(ctx)
	}

	p.startReaper()

	st := p.Stats()
	log.Info("connection pool ready",
		logger.Int("min", opts.MinConns),
		logger.Int("max", opts.MaxConns),
		logger.Int("open", st.Open),
		logger.Duration("connect_timeout", opts.ConnectTimeout),
		logger.Duration("idle_timeout", opts.IdleTimeout))

	return p, nil
}

// probe dials and pings one session within the connect timeout.
func (p *Pool) probe(ctx context.Context) (Session, error) {
	ctx, cancel := p.withConnectTimeout(ctx)
	defer cancel()

	s, err := p.driver.Dial(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.Ping(ctx); err != nil {
		utils.Close(s, p.logger, "unhealthy probe connection")
		return nil, err
	}
	return s, nil
}

func (p *Pool) withConnectTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.opts.ConnectTimeout > 0 {
		return context.WithTimeout(ctx, p.opts.ConnectTimeout)
	}
	return context.WithCancel(ctx)
}

// Acquire returns a connection for exclusive use. It reuses an idle
// connection, dials a new one while below MaxConns, or waits for a release.
// Waiting and dialing share the ConnectTimeout budget; exhausting it yields
// ErrAcquireTimeout. Cancelling ctx abandons the wait without leaking a slot.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	ctx, span := p.tracer.Start(ctx, "pool.acquire")
	defer span.End()

	c, err := p.acquire(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("pool.conn.id", c.id))
	return c, nil
}

func (p *Pool) acquire(ctx context.Context) (*Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, canceled(err)
	}

	var deadline time.Time
	if p.opts.ConnectTimeout > 0 {
		deadline = time.Now().Add(p.opts.ConnectTimeout)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if n := len(p.idle); n > 0 {
		c := p.idle[n-1]
		p.idle[n-1] = nil
		p.idle = p.idle[:n-1]
		c.inUse = true
		p.active[c] = struct{}{}
		p.mu.Unlock()
		return c, nil
	}
	if p.numOpen < p.opts.MaxConns {
		p.numOpen++
		p.mu.Unlock()
		return p.dial(ctx, deadline)
	}

	w := &waiter{ch: make(chan grant, 1)}
	p.waiters = append(p.waiters, w)
	p.waitCount++
	p.mu.Unlock()

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		t := time.NewTimer(time.Until(deadline))
		defer t.Stop()
		timeout = t.C
	}

	select {
	case g := <-w.ch:
		switch {
		case g.err != nil:
			return nil, g.err
		case g.reserved:
			return p.dial(ctx, deadline)
		default:
			return g.conn, nil
		}
	case <-ctx.Done():
		p.abandon(w)
		return nil, canceled(ctx.Err())
	case <-timeout:
		p.abandon(w)
		p.mu.Lock()
		p.timeoutCount++
		p.mu.Unlock()
		return nil, ErrAcquireTimeout
	}
}

func canceled(err error) error {
	return fmt.Errorf("pool: acquire canceled: %w", err)
}

// abandon withdraws a waiter. A grant that raced with the withdrawal goes
// straight back to the pool.
func (p *Pool) abandon(w *waiter) {
	p.mu.Lock()
	for i, q := range p.waiters {
		if q == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			p.mu.Unlock()
			return
		}
	}

	var discard *Conn
	g := <-w.ch
	switch {
	case g.conn != nil:
		if p.closed {
			delete(p.active, g.conn)
			p.releaseSlotLocked()
			discard = g.conn
		} else {
			p.putLocked(g.conn)
		}
	case g.reserved:
		p.releaseSlotLocked()
	}
	p.mu.Unlock()

	if discard != nil {
		p.closeConn(discard)
	}
}

// dial opens a connection in a slot already counted in numOpen.
func (p *Pool) dial(ctx context.Context, deadline time.Time) (*Conn, error) {
	dialCtx, cancel := ctx, context.CancelFunc(func() {})
	if !deadline.IsZero() {
		dialCtx, cancel = context.WithDeadline(ctx, deadline)
	}
	defer cancel()

	s, err := p.driver.Dial(dialCtx)
	if err != nil {
		timedOut := ctx.Err() == nil && errors.Is(dialCtx.Err(), context.DeadlineExceeded)

		p.mu.Lock()
		p.releaseSlotLocked()
		if timedOut {
			p.timeoutCount++
		}
		p.mu.Unlock()

		switch {
		case timedOut:
			return nil, fmt.Errorf("%w: %w", ErrAcquireTimeout, err)
		case ctx.Err() != nil:
			return nil, canceled(ctx.Err())
		default:
			return nil, fmt.Errorf("pool: dial: %w", err)
		}
	}

	c := newConn(p, s)

	p.mu.Lock()
	if p.closed {
		p.releaseSlotLocked()
		p.mu.Unlock()
		p.closeConn(c)
		return nil, ErrPoolClosed
	}
	c.inUse = true
	p.active[c] = struct{}{}
	p.createdCount++
	p.mu.Unlock()

	return c, nil
}

// Release returns a connection to the pool. Healthy connections are reset
// and reused; broken ones (or ones failing reset) are closed and their slot
// freed without dialing a replacement.
func (p *Pool) Release(c *Conn) error {
	if c == nil || c.pool != p {
		return ErrForeignConn
	}

	p.mu.Lock()
	if !c.inUse {
		p.mu.Unlock()
		return ErrConnReleased
	}
	c.inUse = false
	if c.forced {
		p.mu.Unlock()
		return nil
	}
	closed := p.closed
	p.mu.Unlock()

	broken := c.Broken()
	if !broken && !closed {
		ctx, cancel := p.withConnectTimeout(context.Background())
		err := c.session.Reset(ctx)
		cancel()
		if err != nil {
			p.logger.Warn("connection reset failed, discarding",
				logger.String("conn_id", c.id),
				logger.Error(err))
			broken = true
		}
	}

	p.mu.Lock()
	if c.forced {
		p.mu.Unlock()
		return nil
	}
	if broken {
		p.brokenCount++
	}
	if !broken && !p.closed {
		p.putLocked(c)
		p.mu.Unlock()
		return nil
	}
	delete(p.active, c)
	p.mu.Unlock()

	// The slot stays counted until the session is gone, so the number of
	// physical connections never exceeds MaxConns.
	p.closeConn(c)

	p.mu.Lock()
	p.releaseSlotLocked()
	p.mu.Unlock()
	return nil
}

// putLocked makes c available: it goes to the first waiter, or to the idle set.
func (p *Pool) putLocked(c *Conn) {
	if w := p.popWaiterLocked(); w != nil {
		c.inUse = true
		p.active[c] = struct{}{}
		w.ch <- grant{conn: c}
		return
	}
	delete(p.active, c)
	c.inUse = false
	c.lastUsed = time.Now()
	p.idle = append(p.idle, c)
}

// releaseSlotLocked gives back one open slot. A waiter inherits it and dials
// lazily; after Close the last slot marks the pool drained.
func (p *Pool) releaseSlotLocked() {
	p.numOpen--
	if p.closed {
		if p.numOpen == 0 {
			p.markDrainedLocked()
		}
		return
	}
	if w := p.popWaiterLocked(); w != nil {
		p.numOpen++
		w.ch <- grant{reserved: true}
	}
}

func (p *Pool) popWaiterLocked() *waiter {
	if len(p.waiters) == 0 {
		return nil
	}
	w := p.waiters[0]
	p.waiters[0] = nil
	p.waiters = p.waiters[1:]
	return w
}

func (p *Pool) markDrainedLocked() {
	if !p.drainMarked {
		p.drainMarked = true
		close(p.drained)
	}
}

// forceClose closes the connections still held after the Close deadline and
// frees their slots. Their holders may still call Release, which is then a no-op.
func (p *Pool) forceClose(cause error) error {
	p.mu.Lock()
	stragglers := make([]*Conn, 0, len(p.active))
	for c := range p.active {
		c.forced = true
		stragglers = append(stragglers, c)
		delete(p.active, c)
	}
	p.mu.Unlock()

	if len(stragglers) == 0 {
		return nil
	}
	for _, c := range stragglers {
		p.closeConn(c)
	}

	p.mu.Lock()
	for range stragglers {
		p.releaseSlotLocked()
	}
	p.mu.Unlock()
	return fmt.Errorf("pool: %d connections still in use at shutdown: %w", len(stragglers), cause)
}

func (p *Pool) closeConn(c *Conn) {
	if err := c.close(); err != nil {
		p.logger.Warn("failed to close connection",
			logger.String("conn_id", c.id),
			logger.Error(err))
	}
}

// fill dials connections until MinConns are open, as far as free slots allow.
// Failures are logged; the pool grows lazily on the next Acquire instead.
func (p *Pool) fill(ctx context.Context) {
	p.mu.Lock()
	missing := p.opts.MinConns - p.numOpen
	if free := p.opts.MaxConns - p.numOpen; missing > free {
		missing = free
	}
	if p.closed || missing <= 0 {
		p.mu.Unlock()
		return
	}
	p.numOpen += missing
	p.mu.Unlock()

	for i := 0; i < missing; i++ {
		dialCtx, cancel := p.withConnectTimeout(ctx)
		s, err := p.driver.Dial(dialCtx)
		cancel()

		if err != nil {
			p.mu.Lock()
			p.releaseSlotLocked()
			p.mu.Unlock()
			p.logger.Warn("failed to open spare connection", logger.Error(err))
			continue
		}

		c := newConn(p, s)
		p.mu.Lock()
		if p.closed {
			p.releaseSlotLocked()
			p.mu.Unlock()
			p.closeConn(c)
			continue
		}
		p.createdCount++
		p.putLocked(c)
		p.mu.Unlock()
	}
}

// Close shuts the pool down. Pending acquires fail with ErrPoolClosed, idle
// connections are closed at once and active ones as they are released. If
// ctx expires first, the remaining connections are closed forcibly and an
// error reports how many were still in use. Calling Close again is a no-op.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	waiters := p.waiters
	p.waiters = nil
	idle := p.idle
	p.idle = nil
	for _, w := range waiters {
		w.ch <- grant{err: ErrPoolClosed}
	}
	for range idle {
		p.releaseSlotLocked()
	}
	if p.numOpen == 0 {
		p.markDrainedLocked()
	}
	active := len(p.active)
	p.mu.Unlock()

	p.stopReaper()
	<-p.reaperDone

	for _, c := range idle {
		p.closeConn(c)
	}

	p.logger.Info("connection pool closing",
		logger.Int("pending_failed", len(waiters)),
		logger.Int("idle_closed", len(idle)),
		logger.Int("active", active))

	var err error
	select {
	case <-p.drained:
	default:
		select {
		case <-p.drained:
		case <-ctx.Done():
			err = p.forceClose(ctx.Err())
		}
	}

	if cl, ok := p.driver.(io.Closer); ok {
		if cerr := cl.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("pool: close driver: %w", cerr))
		}
	}

	p.logger.Info("✅ connection pool closed",
		logger.Int64("closed_total", p.closedCount.Load()))
	return err
}
