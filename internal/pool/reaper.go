package pool

import (
	"context"
	"time"

	"github.com/bookoftales/tales/internal/logger"
)

const (
	// DefaultReapInterval is used when neither ReapInterval nor IdleTimeout is set.
	DefaultReapInterval = 30 * time.Second
	minReapInterval     = 10 * time.Millisecond
)

func (p *Pool) reapInterval() time.Duration {
	d := p.opts.ReapInterval
	if d == 0 {
		d = DefaultReapInterval
		if p.opts.IdleTimeout > 0 {
			d = p.opts.IdleTimeout / 2
		}
	}
	if d < minReapInterval {
		d = minReapInterval
	}
	return d
}

// startReaper launches the background loop trimming idle connections and
// topping the pool back up to MinConns. Close stops it.
func (p *Pool) startReaper() {
	ctx, cancel := context.WithCancel(context.Background())
	p.stopReaper = cancel

	interval := p.reapInterval()
	ticker := time.NewTicker(interval)
	go func() {
		defer close(p.reaperDone)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				p.reap(ctx, now)
			case <-ctx.Done():
				return
			}
		}
	}()

	p.logger.Debug("pool reaper started", logger.Duration("interval", interval))
}

// reap closes idle connections unused for IdleTimeout, oldest first, without
// letting the open count drop below MinConns.
func (p *Pool) reap(ctx context.Context, now time.Time) {
	var expired []*Conn

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if p.opts.IdleTimeout > 0 {
		spare := p.numOpen - p.opts.MinConns
		kept := p.idle[:0]
		for _, c := range p.idle {
			if spare > 0 && now.Sub(c.lastUsed) >= p.opts.IdleTimeout {
				expired = append(expired, c)
				spare--
				continue
			}
			kept = append(kept, c)
		}
		for i := len(kept); i < len(p.idle); i++ {
			p.idle[i] = nil
		}
		p.idle = kept
	}
	p.mu.Unlock()

	for _, c := range expired {
		p.closeConn(c)
	}
	if len(expired) > 0 {
		p.mu.Lock()
		for range expired {
			p.releaseSlotLocked()
		}
		p.mu.Unlock()

		p.logger.Debug("reaped idle connections",
			logger.Int("count", len(expired)),
			logger.Duration("idle_timeout", p.opts.IdleTimeout))
	}

	p.fill(ctx)
}
