package auth

import (
	"context"
	"net/http"
)

// Middleware enforces the authorization boundary before any cache or fetch
// logic runs. It extracts a credential from the request, resolves it through
// the configured parser, and rejects with 401 on failure.
type Middleware struct {
	parser       CredentialParser
	extractor    TokenExtractor
	skipper      MiddlewareSkipper
	errorHandler MiddlewareErrorHandler
}

type principalContextKey struct{}

func NewMiddleware(parser CredentialParser, opts ...MiddlewareOption) (*Middleware, error) {
	cfg, err := newMiddlewareConfig(parser, opts...)
	if err != nil {
		return nil, err
	}
	return &Middleware{
		parser:       cfg.parser,
		extractor:    cfg.extractor,
		skipper:      cfg.skipper,
		errorHandler: cfg.errorHandler,
	}, nil
}

func (m *Middleware) Handler(next http.Handler) http.Handler {
	if m == nil {
		panic("auth: middleware is nil")
	}
	if next == nil {
		next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipper(r) {
			next.ServeHTTP(w, r)
			return
		}

		raw, err := m.extractor(r)
		if err != nil {
			m.errorHandler(w, r, err)
			return
		}

		principal, err := m.parser.Parse(r.Context(), raw)
		if err != nil {
			m.errorHandler(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), principalContextKey{}, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	principal, ok := ctx.Value(principalContextKey{}).(Principal)
	return principal, ok
}
