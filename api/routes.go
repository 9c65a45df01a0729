package api

import (
	"fmt"

	"github.com/reportmate/fleetgate/auth"
	"github.com/reportmate/fleetgate/httpx"
)

// endpointOrder fixes route registration order; the map in config carries the
// tuning, this carries the surface.
var endpointOrder = []string{"devices", "applications", "events", "installs", "inventory"}

// Register mounts every route on the app. Health and metrics are open; the
// session exchange authenticates by secret in the body; everything else sits
// behind the auth middleware.
func (s *Service) Register(a *httpx.App) error {
	mw, err := s.authMiddleware()
	if err != nil {
		return fmt.Errorf("api: build auth middleware: %w", err)
	}

	a.GET("/healthz", s.handleHealth)
	a.GET("/metrics", httpx.WrapHandler(s.metrics.Handler()))
	a.POST("/api/v1/session", s.handleSessionCreate)

	group := a.Group("/api/v1", httpx.AuthMiddleware(mw))
	group.DELETE("/session", s.handleSessionDelete)
	for _, name := range endpointOrder {
		if _, ok := s.endpoints[name]; !ok {
			continue
		}
		group.GET("/"+name, s.handleEndpoint(name))
	}
	return nil
}

// authMiddleware accepts either the internal shared secret header or a
// session token (bearer header or cookie), resolved in that order.
func (s *Service) authMiddleware() (*auth.Middleware, error) {
	parser := auth.ChainParsers(s.secrets, s.sessions)
	extractor := auth.ChainExtractors(
		auth.HeaderExtractor(InternalSecretHeader),
		auth.BearerTokenExtractor(),
		auth.CookieTokenExtractor(SessionCookie),
	)
	return auth.NewMiddleware(parser,
		auth.WithTokenExtractor(extractor),
		auth.WithErrorHandler(unauthorizedHandler),
	)
}
