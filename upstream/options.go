package upstream

import "time"

type options struct {
	baseURL      string
	secret       string
	secretHeader string
	timeout      time.Duration

	breakerMaxRequests uint32
	breakerInterval    time.Duration
	breakerTimeout     time.Duration
}

type Option func(*options)

func defaultOptions() options {
	return options{
		secretHeader:       "X-Internal-Secret",
		timeout:            30 * time.Second,
		breakerMaxRequests: 1,
		breakerInterval:    time.Minute,
		breakerTimeout:     30 * time.Second,
	}
}

// WithBaseURL sets the upstream fleet API base URL.
func WithBaseURL(url string) Option {
	return func(o *options) {
		if url != "" {
			o.baseURL = url
		}
	}
}

// WithSecret sets the shared secret sent on every request.
func WithSecret(secret string) Option {
	return func(o *options) { o.secret = secret }
}

// WithSecretHeader overrides the header carrying the shared secret.
func WithSecretHeader(name string) Option {
	return func(o *options) {
		if name != "" {
			o.secretHeader = name
		}
	}
}

// WithTimeout sets the overall per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithBreaker tunes the discovery-call circuit breaker.
func WithBreaker(maxRequests uint32, interval, timeout time.Duration) Option {
	return func(o *options) {
		if maxRequests > 0 {
			o.breakerMaxRequests = maxRequests
		}
		if interval > 0 {
			o.breakerInterval = interval
		}
		if timeout > 0 {
			o.breakerTimeout = timeout
		}
	}
}
