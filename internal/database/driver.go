// Package database turns a connection URI into a pool.Driver for the
// matching backing store. The URI scheme picks the store:
//
//	redis://, rediss://        Redis (go-redis)
//	postgres://, postgresql:// PostgreSQL (lib/pq)
//	mysql://                   MySQL (go-sql-driver)
//	sqlite://                  SQLite (modernc.org/sqlite)
//
// Extensions are opaque key/value options. They are merged into the URI query
// string before the store-specific parser sees it, and win over parameters
// already present in the URI.
package database

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/bookoftales/tales/internal/pool"
)

// Scheme returns the lower-cased URI scheme of host, or "" if it has none.
func Scheme(host string) string {
	i := strings.Index(host, "://")
	if i <= 0 {
		return ""
	}
	return strings.ToLower(host[:i])
}

// NewDriver builds the driver for host. Nothing is dialed yet.
func NewDriver(host string, extensions map[string]string) (pool.Driver, error) {
	switch scheme := Scheme(host); scheme {
	case "redis", "rediss":
		return newRedisDriver(host, extensions)
	case "postgres", "postgresql":
		dsn, err := MergeExtensions(host, extensions)
		if err != nil {
			return nil, err
		}
		return openSQL("postgres", dsn, "DISCARD ALL")
	case "mysql":
		dsn, err := mysqlDSN(host, extensions)
		if err != nil {
			return nil, err
		}
		return openSQL("mysql", dsn, "")
	case "sqlite":
		return openSQL("sqlite", sqliteDSN(host, extensions), "")
	case "":
		return nil, fmt.Errorf("database: host %q has no scheme", Redact(host))
	default:
		return nil, fmt.Errorf("database: unsupported scheme %q", scheme)
	}
}

// MergeExtensions returns host with extensions added to its query string.
func MergeExtensions(host string, extensions map[string]string) (string, error) {
	if len(extensions) == 0 {
		return host, nil
	}
	u, err := url.Parse(host)
	if err != nil {
		return "", fmt.Errorf("database: invalid host: %w", redactErr(err))
	}
	q := u.Query()
	for k, v := range extensions {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Redact masks the password of a URI host for logging.
func Redact(host string) string {
	u, err := url.Parse(host)
	if err != nil {
		return "<unparsable host>"
	}
	return u.Redacted()
}

// url.Parse errors quote the input, password included.
func redactErr(err error) error {
	if uerr, ok := err.(*url.Error); ok {
		return fmt.Errorf("%s: %w", uerr.Op, uerr.Err)
	}
	return err
}
