// Package upstreamtest provides a fake fleet API for exercising the gateway's
// discovery, fan-out, and failure paths without a live upstream.
package upstreamtest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// Server is a configurable fake upstream. It serves the discovery list at
// /api/v1/devices and per-entity detail at /api/v1/device/{id}.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	list        []map[string]any
	bareList    bool
	listStatus  int
	detail      map[string]map[string]any
	detailFail  map[string]int
	detailHang  map[string]time.Duration
	listCalls   int
	detailCalls map[string]int
}

func New() *Server {
	s := &Server{
		detail:      make(map[string]map[string]any),
		detailFail:  make(map[string]int),
		detailHang:  make(map[string]time.Duration),
		detailCalls: make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// SetList installs the discovery response documents.
func (s *Server) SetList(docs ...map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.list = docs
	s.listStatus = 0
}

// SetBareList switches the list response between a bare JSON array and the
// {"entities": [...]} envelope.
func (s *Server) SetBareList(bare bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bareList = bare
}

// FailList makes the discovery call respond with the given status.
func (s *Server) FailList(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listStatus = status
}

// SetDetail installs the detail document for one entity id.
func (s *Server) SetDetail(id string, doc map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detail[id] = doc
	delete(s.detailFail, id)
	delete(s.detailHang, id)
}

// FailDetail makes one entity's detail call respond with the given status.
func (s *Server) FailDetail(id string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detailFail[id] = status
}

// HangDetail delays one entity's detail response, to trip per-item timeouts.
func (s *Server) HangDetail(id string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detailHang[id] = d
}

// ListCalls reports how many discovery requests the server has seen.
func (s *Server) ListCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCalls
}

// DetailCalls reports how many detail requests the server has seen for id.
func (s *Server) DetailCalls(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detailCalls[id]
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/devices":
		s.serveList(w)
	case strings.HasPrefix(r.URL.Path, "/api/v1/device/"):
		s.serveDetail(w, r, strings.TrimPrefix(r.URL.Path, "/api/v1/device/"))
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) serveList(w http.ResponseWriter) {
	s.mu.Lock()
	s.listCalls++
	status := s.listStatus
	bare := s.bareList
	docs := make([]map[string]any, len(s.list))
	copy(docs, s.list)
	s.mu.Unlock()

	if status != 0 {
		http.Error(w, "upstream unavailable", status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if bare {
		_ = json.NewEncoder(w).Encode(docs)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"entities": docs})
}

func (s *Server) serveDetail(w http.ResponseWriter, r *http.Request, id string) {
	s.mu.Lock()
	s.detailCalls[id]++
	doc, ok := s.detail[id]
	failStatus := s.detailFail[id]
	hang := s.detailHang[id]
	s.mu.Unlock()

	if hang > 0 {
		time.Sleep(hang)
	}
	if failStatus != 0 {
		http.Error(w, "detail unavailable", failStatus)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doc)
}
