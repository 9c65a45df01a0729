package snapshot

import "time"

// RefreshHook observes every refresh attempt: the cache key, a unique attempt
// id, how long the refresh took, and its error if it failed. Hooks must be
// fast; they run on the request path of the caller that triggered the refresh.
type RefreshHook func(key, attemptID string, elapsed time.Duration, err error)

type options struct {
	now       func() time.Time
	onRefresh RefreshHook
}

type Option func(*options)

func defaultOptions() options {
	return options{now: time.Now}
}

// WithClock overrides the time source, used by tests to control freshness.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithRefreshHook installs an observer for refresh attempts (logging, metrics).
func WithRefreshHook(hook RefreshHook) Option {
	return func(o *options) {
		if hook != nil {
			o.onRefresh = hook
		}
	}
}
