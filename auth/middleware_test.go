package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestMiddleware(t *testing.T, opts ...MiddlewareOption) *Middleware {
	t.Helper()
	mw, err := NewMiddleware(staticParser{accept: "good", kind: "service"}, opts...)
	if err != nil {
		t.Fatalf("build middleware: %v", err)
	}
	return mw
}

func TestMiddlewareRequiresParser(t *testing.T) {
	if _, err := NewMiddleware(nil); err == nil {
		t.Fatal("expected error for nil parser")
	}
}

func TestMiddlewareRejectsBeforeHandler(t *testing.T) {
	mw := newTestMiddleware(t)

	var handlerRan bool
	handler := mw.Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		handlerRan = true
	}))

	tests := []struct {
		name  string
		setup func(*http.Request)
	}{
		{name: "no credential", setup: func(*http.Request) {}},
		{name: "malformed header", setup: func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") }},
		{name: "rejected credential", setup: func(r *http.Request) { r.Header.Set("Authorization", "Bearer bad") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handlerRan = false
			req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
			if handlerRan {
				t.Fatal("handler ran for unauthorized request")
			}
		})
	}
}

func TestMiddlewareInjectsPrincipal(t *testing.T) {
	mw := newTestMiddleware(t)

	var got Principal
	handler := mw.Handler(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got, _ = PrincipalFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got.Kind != "service" {
		t.Fatalf("principal missing from context: %#v", got)
	}
}

func TestMiddlewareSkipper(t *testing.T) {
	mw := newTestMiddleware(t, WithSkipper(func(r *http.Request) bool {
		return strings.HasPrefix(r.URL.Path, "/healthz")
	}))

	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("skipped path must bypass auth, got %d", rec.Code)
	}
}

func TestExtractorChain(t *testing.T) {
	extractor := ChainExtractors(
		HeaderExtractor("X-Internal-Secret"),
		BearerTokenExtractor(),
		CookieTokenExtractor("fleetgate_session"),
	)

	tests := []struct {
		name  string
		setup func(*http.Request)
		want  string
	}{
		{
			name:  "secret header wins",
			setup: func(r *http.Request) { r.Header.Set("X-Internal-Secret", "s3cret") },
			want:  "s3cret",
		},
		{
			name:  "bearer fallback",
			setup: func(r *http.Request) { r.Header.Set("Authorization", "Bearer tok") },
			want:  "tok",
		},
		{
			name:  "cookie fallback",
			setup: func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "fleetgate_session", Value: "cookie-tok"}) },
			want:  "cookie-tok",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(req)
			got, err := extractor(req)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := extractor(req); err == nil {
		t.Fatal("expected error with no credential present")
	}
}
