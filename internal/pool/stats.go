package pool

// Stats is a point-in-time view of the pool counters.
type Stats struct {
	MinConns int
	MaxConns int

	Open    int // idle + active + dials in flight
	Idle    int
	Active  int
	Pending int // acquires waiting for a connection

	WaitCount    int64 // acquires that had to wait
	TimeoutCount int64 // acquires that failed with ErrAcquireTimeout
	CreatedCount int64 // physical connections opened
	ClosedCount  int64 // physical connections closed
	BrokenCount  int64 // connections discarded on release

	Closed bool
}

// Stats returns the current counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		MinConns:     p.opts.MinConns,
		MaxConns:     p.opts.MaxConns,
		Open:         p.numOpen,
		Idle:         len(p.idle),
		Active:       len(p.active),
		Pending:      len(p.waiters),
		WaitCount:    p.waitCount,
		TimeoutCount: p.timeoutCount,
		CreatedCount: p.createdCount,
		ClosedCount:  p.closedCount.Load(),
		BrokenCount:  p.brokenCount,
		Closed:       p.closed,
	}
}
