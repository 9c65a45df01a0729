package postgres

import "time"

// Options configures the connection and pool behavior for the event log
// database. The pool stays small; the gateway only reads from it on cache
// refreshes, never per request.
type Options struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type Option func(*Options)

// WithDSN sets the lib/pq connection string.
func WithDSN(dsn string) Option {
	return func(o *Options) {
		if dsn != "" {
			o.DSN = dsn
		}
	}
}

// WithPoolLimits sets the open and idle connection caps. Zero keeps the
// defaults.
func WithPoolLimits(maxOpen, maxIdle int) Option {
	return func(o *Options) {
		if maxOpen > 0 {
			o.MaxOpenConns = maxOpen
		}
		if maxIdle >= 0 {
			o.MaxIdleConns = maxIdle
		}
	}
}

// WithConnMaxLifetime controls how long a connection can be reused.
func WithConnMaxLifetime(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.ConnMaxLifetime = d
		}
	}
}

func defaultOptions() Options {
	return Options{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	}
}
