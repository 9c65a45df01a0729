package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/reportmate/fleetgate/aggregate"
	"github.com/reportmate/fleetgate/auth"
	"github.com/reportmate/fleetgate/httpx"
	"github.com/reportmate/fleetgate/snapshot"
)

// SessionCookie names the cookie carrying a dashboard session token.
const SessionCookie = "fleetgate_session"

// InternalSecretHeader carries the shared secret on service-to-service calls.
const InternalSecretHeader = "X-Internal-Secret"

func (s *Service) handleEndpoint(name string) httpx.HandlerFunc {
	return func(c httpx.Context) error {
		ep, ok := s.endpoints[name]
		if !ok {
			return httpx.HTTPError(httpx.StatusNotFound, "unknown endpoint")
		}

		result, err := s.serve(c.Request().Context(), ep)
		if err != nil {
			if errors.Is(err, snapshot.ErrNoFallback) {
				return c.JSON(httpx.StatusServiceUnavailable, errorBody("upstream refresh failed and no cached data exists", err))
			}
			return c.JSON(httpx.StatusInternalError, errorBody("refresh failed", err))
		}

		// The wrapper response itself must never be cached by intermediaries;
		// freshness is the snapshot cache's job alone.
		header := c.Response().Header()
		header.Set("Cache-Control", "no-store, no-cache, must-revalidate")
		header.Set("X-Data-Source", string(result.Source))
		header.Set("X-Cached-At", result.CachedAt.UTC().Format(time.RFC3339))

		records := result.Payload
		if records == nil {
			records = []aggregate.Record{}
		}
		return c.JSON(httpx.StatusOK, map[string]any{
			"count":    len(records),
			"records":  records,
			"cachedAt": result.CachedAt.UTC(),
		})
	}
}

type sessionRequest struct {
	Secret string `json:"secret"`
}

// handleSessionCreate exchanges the dashboard secret for a session token.
func (s *Service) handleSessionCreate(c httpx.Context) error {
	var req sessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(httpx.StatusBadRequest, errorBody("malformed session request", err))
	}
	if err := s.secrets.Verify(req.Secret); err != nil {
		return c.JSON(httpx.StatusUnauthorized, errorBody("secret rejected", nil))
	}

	token, session, err := s.sessions.Create(c.Request().Context())
	if err != nil {
		return c.JSON(httpx.StatusInternalError, errorBody("session issuance failed", err))
	}

	c.SetCookie(&http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return c.JSON(httpx.StatusCreated, map[string]any{
		"token":     token,
		"expiresAt": session.ExpiresAt.UTC(),
	})
}

// handleSessionDelete revokes the caller's session token.
func (s *Service) handleSessionDelete(c httpx.Context) error {
	token, err := sessionTokenExtractor()(c.Request())
	if err != nil {
		return c.JSON(httpx.StatusBadRequest, errorBody("no session token presented", err))
	}
	if err := s.sessions.Delete(c.Request().Context(), token); err != nil {
		if errors.Is(err, auth.ErrSessionNotFound) {
			return c.JSON(httpx.StatusNotFound, errorBody("session not found", nil))
		}
		return c.JSON(httpx.StatusInternalError, errorBody("session revocation failed", err))
	}
	return c.NoContent(httpx.StatusNoContent)
}

func (s *Service) handleHealth(c httpx.Context) error {
	return c.JSON(httpx.StatusOK, map[string]string{"status": "ok"})
}

func sessionTokenExtractor() auth.TokenExtractor {
	return auth.ChainExtractors(
		auth.BearerTokenExtractor(),
		auth.CookieTokenExtractor(SessionCookie),
	)
}

// errorBody is the uniform failure shape: an error field, details when known,
// never a stack trace.
func errorBody(message string, err error) map[string]string {
	body := map[string]string{"error": message}
	if err != nil {
		body["details"] = err.Error()
	}
	return body
}

func unauthorizedHandler(w http.ResponseWriter, _ *http.Request, _ error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpx.StatusUnauthorized)
	payload, _ := json.Marshal(errorBody("unauthorized", nil))
	_, _ = w.Write(payload)
}
