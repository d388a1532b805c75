package httpdtest

import (
	"io"
	"net/http/httptest"

	"github.com/DC-ET/sentry-feishu/services/diagnostic"
	"github.com/DC-ET/sentry-feishu/services/httpd"
)

// Server serves an httpd.Handler over a local test listener.
type Server struct {
	Handler *httpd.Handler
	Server  *httptest.Server
}

// NewServer returns a running server, request logs are written to w when
// it is not nil.
func NewServer(w io.Writer) *Server {
	out := w
	if out == nil {
		out = io.Discard
	}
	c := diagnostic.NewConfig()
	c.Level = "DEBUG"
	ds := diagnostic.NewService(c, out, out)
	// Open only fails for file outputs.
	_ = ds.Open()
	s := &Server{
		Handler: httpd.NewHandler(w != nil, "", ds.NewHTTPDHandler()),
	}
	s.Handler.DiagService = ds

	s.Server = httptest.NewServer(s.Handler)
	return s
}

// URL is the base URL of the API.
func (s *Server) URL() string {
	return s.Server.URL + httpd.BasePath
}

func (s *Server) Close() error {
	s.Server.Close()
	return nil
}

func (s *Server) AddRoutes(routes []httpd.Route) error {
	return s.Handler.AddRoutes(routes)
}

func (s *Server) DelRoutes(routes []httpd.Route) {
	s.Handler.DelRoutes(routes)
}
