package pool

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/bookoftales/tales/internal/logger"
)

func newTestPool(t *testing.T, opts Options) (*Pool, *fakeDriver) {
	t.Helper()
	d := &fakeDriver{}
	p, err := New(context.Background(), opts, d, logger.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Close(ctx)
	})
	return p, d
}

func mustAcquire(t *testing.T, p *Pool) *Conn {
	t.Helper()
	c, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	return c
}

func mustRelease(t *testing.T, c *Conn) {
	t.Helper()
	if err := c.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		opts     Options
		wantOpen int
	}{
		{name: "warms up to min", opts: Options{MinConns: 3, MaxConns: 5}, wantOpen: 3},
		{name: "keeps the probe when min is zero", opts: Options{MinConns: 0, MaxConns: 2}, wantOpen: 1},
		{name: "min equals max", opts: Options{MinConns: 2, MaxConns: 2}, wantOpen: 2},
		{name: "no capacity", opts: Options{MinConns: 0, MaxConns: 0}, wantOpen: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, d := newTestPool(t, tt.opts)

			st := p.Stats()
			if st.Open != tt.wantOpen || st.Idle != tt.wantOpen || st.Active != 0 {
				t.Errorf("Stats() = %+v, want %d open and idle", st, tt.wantOpen)
			}
			if got := d.live.Load(); got != int64(tt.wantOpen) {
				t.Errorf("live sessions = %d, want %d", got, tt.wantOpen)
			}
		})
	}
}

func TestNewInvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{name: "min above max", opts: Options{MinConns: 3, MaxConns: 1}},
		{name: "negative max", opts: Options{MaxConns: -1}},
		{name: "negative timeout", opts: Options{MaxConns: 1, IdleTimeout: -time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDriver{}
			_, err := New(context.Background(), tt.opts, d, nil)
			if err == nil {
				t.Fatal("New() should have failed")
			}
			if errors.Is(err, ErrInit) {
				t.Errorf("invalid options reported as init failure: %v", err)
			}
			if d.dials.Load() != 0 {
				t.Error("New() dialed despite invalid options")
			}
		})
	}
}

func TestNewUnreachable(t *testing.T) {
	d := &fakeDriver{dialErr: errDown}

	_, err := New(context.Background(), Options{MinConns: 1, MaxConns: 2}, d, logger.Nop())
	if !errors.Is(err, ErrInit) {
		t.Fatalf("New() error = %v, want ErrInit", err)
	}
	var ierr *InitError
	if !errors.As(err, &ierr) {
		t.Fatalf("New() error %T is not *InitError", err)
	}
	if !errors.Is(err, errDown) {
		t.Errorf("InitError does not wrap the driver error: %v", err)
	}
}

func TestNewConnectTimeout(t *testing.T) {
	d := &fakeDriver{dialDelay: time.Second}

	start := time.Now()
	_, err := New(context.Background(), Options{MaxConns: 1, ConnectTimeout: 50 * time.Millisecond}, d, logger.Nop())
	if !errors.Is(err, ErrInit) {
		t.Fatalf("New() error = %v, want ErrInit", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("New() error = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("New() took %v, connect timeout not honored", elapsed)
	}
}

// min 1, max 2, connect timeout 100ms.
func TestSaturatedAcquire(t *testing.T) {
	p, _ := newTestPool(t, Options{MinConns: 1, MaxConns: 2, ConnectTimeout: 100 * time.Millisecond})

	a := mustAcquire(t, p)
	b := mustAcquire(t, p)
	if a == b {
		t.Fatal("the same connection was handed out twice")
	}

	start := time.Now()
	_, err := p.Acquire(context.Background())
	elapsed := time.Since(start)
	if !errors.Is(err, ErrAcquireTimeout) {
		t.Fatalf("Acquire() on saturated pool error = %v, want ErrAcquireTimeout", err)
	}
	if elapsed < 90*time.Millisecond {
		t.Errorf("Acquire() gave up after %v, before the connect timeout", elapsed)
	}

	st := p.Stats()
	if st.Open != 2 || st.Active != 2 || st.Pending != 0 || st.TimeoutCount != 1 {
		t.Errorf("Stats() after timeout = %+v", st)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = a.Release()
	}()

	c, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	if c != a {
		t.Error("waiter should receive the released connection")
	}

	mustRelease(t, b)
	mustRelease(t, c)
	if st := p.Stats(); st.Open != 2 || st.Idle != 2 || st.Active != 0 {
		t.Errorf("Stats() after releasing all = %+v", st)
	}
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	p, d := newTestPool(t, Options{MinConns: 2, MaxConns: 4})

	before := p.Stats()
	c := mustAcquire(t, p)
	mustRelease(t, c)
	after := p.Stats()

	if before.Open != after.Open || before.Idle != after.Idle || before.Active != after.Active {
		t.Errorf("round trip changed counters: before %+v, after %+v", before, after)
	}
	if got := c.session.(*fakeSession).resets.Load(); got != 1 {
		t.Errorf("session reset %d times, want 1", got)
	}
	if d.dials.Load() != 2 {
		t.Errorf("dials = %d, idle connection should have been reused", d.dials.Load())
	}
}

func TestAcquireMostRecentlyUsed(t *testing.T) {
	p, _ := newTestPool(t, Options{MinConns: 0, MaxConns: 2})

	a := mustAcquire(t, p)
	b := mustAcquire(t, p)
	mustRelease(t, a)
	mustRelease(t, b)

	if c := mustAcquire(t, p); c != b {
		t.Error("Acquire() should prefer the most recently released connection")
	}
}

func TestReleaseDiscards(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(d *fakeDriver, c *Conn)
	}{
		{
			name:    "marked broken",
			prepare: func(_ *fakeDriver, c *Conn) { c.MarkBroken() },
		},
		{
			name:    "reset fails",
			prepare: func(d *fakeDriver, _ *Conn) { d.setResetErr(errors.New("reset failed")) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, d := newTestPool(t, Options{MinConns: 1, MaxConns: 2})

			c := mustAcquire(t, p)
			tt.prepare(d, c)
			mustRelease(t, c)

			st := p.Stats()
			if st.Open != 0 || st.Idle != 0 || st.BrokenCount != 1 || st.ClosedCount != 1 {
				t.Errorf("Stats() = %+v, want the connection discarded", st)
			}
			if !c.session.(*fakeSession).closed.Load() {
				t.Error("discarded session was not closed")
			}
			if d.dials.Load() != 1 {
				t.Errorf("dials = %d, discard must not replace eagerly", d.dials.Load())
			}
		})
	}
}

func TestReleaseBrokenHandsSlotToWaiter(t *testing.T) {
	p, d := newTestPool(t, Options{MinConns: 1, MaxConns: 1, ConnectTimeout: time.Second})

	a := mustAcquire(t, p)

	got := make(chan *Conn, 1)
	go func() {
		c, err := p.Acquire(context.Background())
		if err != nil {
			t.Errorf("waiting Acquire() error = %v", err)
		}
		got <- c
	}()

	waitFor(t, func() bool { return p.Stats().Pending == 1 })
	a.MarkBroken()
	mustRelease(t, a)

	c := <-got
	if c == nil || c == a {
		t.Fatal("waiter should get a freshly dialed connection")
	}
	if d.dials.Load() != 2 {
		t.Errorf("dials = %d, want 2", d.dials.Load())
	}
	mustRelease(t, c)
}

func TestReleaseErrors(t *testing.T) {
	p, _ := newTestPool(t, Options{MinConns: 1, MaxConns: 1})
	other, _ := newTestPool(t, Options{MinConns: 1, MaxConns: 1})

	c := mustAcquire(t, p)
	mustRelease(t, c)

	if err := c.Release(); !errors.Is(err, ErrConnReleased) {
		t.Errorf("second Release() error = %v, want ErrConnReleased", err)
	}

	foreign := mustAcquire(t, other)
	if err := p.Release(foreign); !errors.Is(err, ErrForeignConn) {
		t.Errorf("Release(foreign) error = %v, want ErrForeignConn", err)
	}
	if err := p.Release(nil); !errors.Is(err, ErrForeignConn) {
		t.Errorf("Release(nil) error = %v, want ErrForeignConn", err)
	}
	mustRelease(t, foreign)
}

func TestAcquireCanceled(t *testing.T) {
	p, _ := newTestPool(t, Options{MinConns: 1, MaxConns: 1})

	a := mustAcquire(t, p)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := p.Acquire(ctx)
		errc <- err
	}()

	waitFor(t, func() bool { return p.Stats().Pending == 1 })
	cancel()

	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("Acquire() error = %v, want context.Canceled", err)
	}
	if st := p.Stats(); st.Pending != 0 {
		t.Errorf("Pending = %d after cancellation", st.Pending)
	}

	mustRelease(t, a)
	if st := p.Stats(); st.Idle != 1 || st.Open != 1 {
		t.Errorf("Stats() = %+v, released connection should be idle", st)
	}
	if _, err := p.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire(canceled ctx) error = %v", err)
	}
}

func TestAcquireDialTimeout(t *testing.T) {
	p, d := newTestPool(t, Options{MinConns: 0, MaxConns: 2, ConnectTimeout: 50 * time.Millisecond})

	a := mustAcquire(t, p)
	d.mu.Lock()
	d.dialDelay = time.Second
	d.mu.Unlock()

	_, err := p.Acquire(context.Background())
	if !errors.Is(err, ErrAcquireTimeout) {
		t.Fatalf("Acquire() error = %v, want ErrAcquireTimeout", err)
	}
	if st := p.Stats(); st.Open != 1 {
		t.Errorf("Open = %d, failed dial must give its slot back", st.Open)
	}
	mustRelease(t, a)
}

func TestAcquireDialError(t *testing.T) {
	p, d := newTestPool(t, Options{MinConns: 0, MaxConns: 2})

	a := mustAcquire(t, p)
	d.setDialErr(errDown)

	_, err := p.Acquire(context.Background())
	if !errors.Is(err, errDown) || errors.Is(err, ErrAcquireTimeout) {
		t.Fatalf("Acquire() error = %v, want the dial error", err)
	}
	if st := p.Stats(); st.Open != 1 {
		t.Errorf("Open = %d after failed dial", st.Open)
	}
	mustRelease(t, a)
}

func TestReap(t *testing.T) {
	p, d := newTestPool(t, Options{MinConns: 1, MaxConns: 3, IdleTimeout: time.Hour})

	conns := []*Conn{mustAcquire(t, p), mustAcquire(t, p), mustAcquire(t, p)}
	for _, c := range conns {
		mustRelease(t, c)
	}

	p.reap(context.Background(), time.Now())
	if st := p.Stats(); st.Open != 3 {
		t.Errorf("Open = %d, fresh connections must survive", st.Open)
	}

	p.reap(context.Background(), time.Now().Add(2*time.Hour))
	st := p.Stats()
	if st.Open != 1 || st.Idle != 1 {
		t.Errorf("Stats() = %+v, want reaped down to min", st)
	}
	if d.live.Load() != 1 {
		t.Errorf("live sessions = %d, want 1", d.live.Load())
	}
	if p.idle[0] != conns[2] {
		t.Error("reaper should keep the most recently used connection")
	}
}

func TestReapTopsUpToMin(t *testing.T) {
	p, _ := newTestPool(t, Options{MinConns: 2, MaxConns: 2})

	c := mustAcquire(t, p)
	c.MarkBroken()
	mustRelease(t, c)
	if st := p.Stats(); st.Open != 1 {
		t.Fatalf("Open = %d after broken release", st.Open)
	}

	p.reap(context.Background(), time.Now())
	if st := p.Stats(); st.Open != 2 || st.Idle != 2 {
		t.Errorf("Stats() = %+v, want pool topped up to min", st)
	}
}

func TestReaperRuns(t *testing.T) {
	p, d := newTestPool(t, Options{
		MinConns:     0,
		MaxConns:     2,
		IdleTimeout:  20 * time.Millisecond,
		ReapInterval: 10 * time.Millisecond,
	})

	mustRelease(t, mustAcquire(t, p))
	waitFor(t, func() bool { return p.Stats().Open == 0 })
	if d.live.Load() != 0 {
		t.Errorf("live sessions = %d after reaping", d.live.Load())
	}
}

// 2 idle + 1 active, then shutdown.
func TestCloseDrains(t *testing.T) {
	p, d := newTestPool(t, Options{MinConns: 0, MaxConns: 3})

	a, b, c := mustAcquire(t, p), mustAcquire(t, p), mustAcquire(t, p)
	mustRelease(t, a)
	mustRelease(t, b)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- p.Close(ctx)
	}()

	waitFor(t, func() bool { return p.Stats().ClosedCount == 2 })
	select {
	case err := <-done:
		t.Fatalf("Close() returned %v while a connection was still active", err)
	default:
	}

	mustRelease(t, c)
	if err := <-done; err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	st := p.Stats()
	if st.ClosedCount != 3 || st.Open != 0 || !st.Closed {
		t.Errorf("Stats() after Close = %+v", st)
	}
	if d.live.Load() != 0 {
		t.Errorf("live sessions = %d after Close", d.live.Load())
	}
	if !d.closed.Load() {
		t.Error("driver was not closed")
	}
	if _, err := p.Acquire(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Acquire() after Close error = %v, want ErrPoolClosed", err)
	}
	if err := p.Close(context.Background()); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestCloseFailsWaiters(t *testing.T) {
	p, _ := newTestPool(t, Options{MinConns: 1, MaxConns: 1})

	a := mustAcquire(t, p)
	errc := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background())
		errc <- err
	}()
	waitFor(t, func() bool { return p.Stats().Pending == 1 })

	done := make(chan error, 1)
	go func() { done <- p.Close(context.Background()) }()

	if err := <-errc; !errors.Is(err, ErrPoolClosed) {
		t.Errorf("pending Acquire() error = %v, want ErrPoolClosed", err)
	}
	mustRelease(t, a)
	if err := <-done; err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestCloseForcesStragglers(t *testing.T) {
	p, d := newTestPool(t, Options{MinConns: 1, MaxConns: 1})

	c := mustAcquire(t, p)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := p.Close(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Close() error = %v, want deadline exceeded", err)
	}
	if !c.session.(*fakeSession).closed.Load() || d.live.Load() != 0 {
		t.Error("straggler was not force-closed")
	}
	if st := p.Stats(); st.Open != 0 || st.Active != 0 || st.Idle != 0 {
		t.Errorf("Stats() after forced Close = %+v, want nothing open", st)
	}

	// A late release stays harmless.
	mustRelease(t, c)
	st := p.Stats()
	if st.ClosedCount != 1 || st.Open != 0 || st.Active != 0 {
		t.Errorf("Stats() after late release = %+v, want 1 closed and nothing open", st)
	}
	if err := c.Release(); !errors.Is(err, ErrConnReleased) {
		t.Errorf("second late Release() error = %v, want ErrConnReleased", err)
	}
}

func TestCloseDrainedPoolWithExpiredContext(t *testing.T) {
	for i := 0; i < 50; i++ {
		p, _ := newTestPool(t, Options{MinConns: 1, MaxConns: 2})
		mustRelease(t, mustAcquire(t, p))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := p.Close(ctx); err != nil {
			t.Fatalf("run %d: Close() of an idle pool error = %v", i, err)
		}
		if st := p.Stats(); st.Open != 0 {
			t.Fatalf("run %d: Open = %d after Close", i, st.Open)
		}
	}
}

func TestPoolBoundUnderLoad(t *testing.T) {
	const maxConns = 4
	p, d := newTestPool(t, Options{MinConns: 1, MaxConns: maxConns, ConnectTimeout: 2 * time.Second})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c, err := p.Acquire(context.Background())
				if err != nil {
					t.Errorf("Acquire() error = %v", err)
					return
				}
				s := c.session.(*fakeSession)
				if n := s.holders.Add(1); n != 1 {
					t.Errorf("connection %s held by %d callers", c.ID(), n)
				}
				if st := p.Stats(); st.Idle+st.Active > maxConns || st.Open > maxConns {
					t.Errorf("bound violated: %+v", st)
				}
				if rand.IntN(10) == 0 {
					c.MarkBroken()
				}
				s.holders.Add(-1)
				if err := c.Release(); err != nil {
					t.Errorf("Release() error = %v", err)
				}
			}
		}()
	}
	wg.Wait()

	if got := d.maxLive.Load(); got > maxConns {
		t.Errorf("%d physical connections open at once, max is %d", got, maxConns)
	}
	st := p.Stats()
	if st.Active != 0 || st.Pending != 0 || st.Idle != st.Open {
		t.Errorf("Stats() after load = %+v", st)
	}
}

func TestContext(t *testing.T) {
	p, _ := newTestPool(t, Options{MinConns: 1, MaxConns: 1})

	if _, ok := FromContext(context.Background()); ok {
		t.Error("FromContext() found a connection in an empty context")
	}

	c := mustAcquire(t, p)
	defer mustRelease(t, c)

	got, ok := FromContext(NewContext(context.Background(), c))
	if !ok || got != c {
		t.Errorf("FromContext() = %v, %v", got, ok)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}
