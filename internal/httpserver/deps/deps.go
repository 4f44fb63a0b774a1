package deps

import (
	"time"

	"github.com/bookoftales/tales/internal/logger"
	"github.com/bookoftales/tales/internal/pool"
	"github.com/bookoftales/tales/internal/version"
)

// Deps are the shared dependencies handed to route registrars and handlers.
type Deps struct {
	Logger       logger.Logger
	StartTime    time.Time
	Build        version.Info
	TimeNow      func() time.Time // for testing, defaults to time.Now
	Pool         *pool.Pool       // shared connection pool, owned by the app
	TrustProxy   bool             // true if running behind a trusted reverse proxy
	MetricsCIDRs []string         // IPs allowed to scrape /metrics, empty = everyone
}

// Now returns d.TimeNow() or time.Now().
func (d Deps) Now() time.Time {
	if d.TimeNow != nil {
		return d.TimeNow()
	}
	return time.Now()
}
