package httpd

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/pkg/errors"
)

type Diagnostic interface {
	NewHTTPServerErrorLogger() *log.Logger

	StartingService()
	StoppedService()
	ShutdownTimeout()
	AuthenticationEnabled(enabled bool)

	ListeningOn(addr string, proto string)
	LogLevelChanged(level string)

	HTTP(
		host string,
		start time.Time,
		method string,
		uri string,
		proto string,
		status int,
		referer string,
		userAgent string,
		reqID string,
		duration time.Duration,
	)

	Error(msg string, err error)
	RecoveryError(
		msg string,
		err string,
		host string,
		start time.Time,
		method string,
		uri string,
		proto string,
		status int,
		referer string,
		userAgent string,
		reqID string,
		duration time.Duration,
	)
}

type Service struct {
	ln    net.Listener
	addr  string
	https bool
	cert  string
	key   string
	err   chan error

	externalURL string

	server *http.Server
	mu     sync.Mutex
	wg     sync.WaitGroup

	shutdownTimeout time.Duration

	Handler *Handler

	diag Diagnostic
}

func NewService(c Config, hostname string, d Diagnostic) *Service {
	port, _ := c.Port()
	u := url.URL{
		Host:   fmt.Sprintf("%s:%d", hostname, port),
		Scheme: "http",
	}
	if c.HttpsEnabled {
		u.Scheme = "https"
	}
	s := &Service{
		addr:            c.BindAddress,
		https:           c.HttpsEnabled,
		cert:            c.HttpsCertificate,
		key:             c.HTTPSPrivateKey,
		externalURL:     u.String(),
		err:             make(chan error, 1),
		shutdownTimeout: time.Duration(c.ShutdownTimeout),
		Handler:         NewHandler(c.LogEnabled, c.SharedSecret, d),
		diag:            d,
	}
	if s.key == "" {
		s.key = s.cert
	}
	return s
}

// Open starts the service
func (s *Service) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.diag.StartingService()
	s.diag.AuthenticationEnabled(s.Handler.sharedSecret != "")

	proto := "http"
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	if s.https {
		cert, err := tls.LoadX509KeyPair(s.cert, s.key)
		if err != nil {
			listener.Close()
			return errors.Wrap(err, "failed to load https certificate")
		}
		listener = tls.NewListener(listener, &tls.Config{
			Certificates: []tls.Certificate{cert},
		})
		proto = "https"
	}
	s.diag.ListeningOn(listener.Addr().String(), proto)
	s.ln = listener

	s.server = &http.Server{
		Handler:  s.Handler,
		ErrorLog: s.diag.NewHTTPServerErrorLogger(),
	}

	s.wg.Add(1)
	go s.serve(s.server, listener)
	return nil
}

// Close stops accepting connections and waits for in-flight requests,
// forcefully closing whatever remains after the shutdown timeout.
func (s *Service) Close() error {
	defer s.diag.StoppedService()
	s.mu.Lock()
	defer s.mu.Unlock()
	// If server is not set we were never started
	if s.server == nil {
		return nil
	}
	ctx := context.Background()
	if s.shutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.shutdownTimeout)
		defer cancel()
	}
	err := s.server.Shutdown(ctx)
	if err == context.DeadlineExceeded {
		s.diag.ShutdownTimeout()
		err = s.server.Close()
	}
	s.wg.Wait()
	s.server = nil
	return err
}

func (s *Service) Err() <-chan error {
	return s.err
}

// serve serves the handler from the listener.
func (s *Service) serve(server *http.Server, ln net.Listener) {
	defer s.wg.Done()
	err := server.Serve(ln)
	if err == http.ErrServerClosed {
		return
	}
	select {
	case s.err <- fmt.Errorf("listener failed: addr=%s, err=%s", ln.Addr(), err):
	default:
	}
}

func (s *Service) Addr() net.Addr {
	if s.ln != nil {
		return s.ln.Addr()
	}
	return nil
}

func (s *Service) URL() string {
	if s.ln != nil {
		if s.https {
			return "https://" + s.Addr().String() + BasePath
		}
		return "http://" + s.Addr().String() + BasePath
	}
	return ""
}

// URL that should resolve externally to the server HTTP endpoint.
// It is possible that the URL does not resolve correctly if the hostname config setting is incorrect.
func (s *Service) ExternalURL() string {
	return s.externalURL
}

func (s *Service) AddRoutes(routes []Route) error {
	return s.Handler.AddRoutes(routes)
}

func (s *Service) DelRoutes(routes []Route) {
	s.Handler.DelRoutes(routes)
}
