package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var errDown = errors.New("connection refused")

// fakeDriver hands out in-memory sessions and records how many are alive.
type fakeDriver struct {
	mu        sync.Mutex
	dialErr   error
	dialDelay time.Duration
	resetErr  error

	dials   atomic.Int64
	live    atomic.Int64
	maxLive atomic.Int64
	closed  atomic.Bool
}

func (d *fakeDriver) Dial(ctx context.Context) (Session, error) {
	d.mu.Lock()
	err, delay := d.dialErr, d.dialDelay
	d.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	d.dials.Add(1)
	n := d.live.Add(1)
	for {
		m := d.maxLive.Load()
		if n <= m || d.maxLive.CompareAndSwap(m, n) {
			break
		}
	}
	return &fakeSession{driver: d}, nil
}

func (d *fakeDriver) setDialErr(err error) {
	d.mu.Lock()
	d.dialErr = err
	d.mu.Unlock()
}

func (d *fakeDriver) setResetErr(err error) {
	d.mu.Lock()
	d.resetErr = err
	d.mu.Unlock()
}

func (d *fakeDriver) Close() error {
	d.closed.Store(true)
	return nil
}

type fakeSession struct {
	driver  *fakeDriver
	holders atomic.Int32
	resets  atomic.Int32
	closed  atomic.Bool
}

func (s *fakeSession) Ping(context.Context) error {
	if s.closed.Load() {
		return errors.New("session closed")
	}
	return nil
}

func (s *fakeSession) Reset(context.Context) error {
	s.resets.Add(1)
	s.driver.mu.Lock()
	defer s.driver.mu.Unlock()
	return s.driver.resetErr
}

func (s *fakeSession) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.driver.live.Add(-1)
	}
	return nil
}
