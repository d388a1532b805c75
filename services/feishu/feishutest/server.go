package feishutest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/DC-ET/sentry-feishu/services/feishu"
)

// Server records the messages posted to it as a Feishu custom bot would
// receive them.
type Server struct {
	mu       sync.Mutex
	ts       *httptest.Server
	URL      string
	requests []Request
	closed   bool
}

type Request struct {
	URL     string
	Message feishu.Message
	Raw     []byte
}

// NewServer returns a server answering every request with a success body.
func NewServer() *Server {
	return NewServerWithResponse(http.StatusOK, `{"code":0,"msg":"success","data":{}}`)
}

// NewServerWithResponse returns a server answering every request with the
// given status and body.
func NewServerWithResponse(status int, body string) *Server {
	s := new(Server)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := Request{URL: r.URL.String()}
		req.Raw, _ = io.ReadAll(r.Body)
		json.Unmarshal(req.Raw, &req.Message)
		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	s.ts = ts
	s.URL = ts.URL
	return s
}

func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

func (s *Server) Close() {
	s.mu.Lock()
	closed := s.closed
	s.closed = true
	s.mu.Unlock()
	if !closed {
		s.ts.Close()
	}
}
