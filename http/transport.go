package http

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// NewDefaultTransport creates a new transport with sane defaults.
func NewDefaultTransport() *http.Transport {
	// These defaults are copied from http.DefaultTransport.
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		// Webhooks of a single bot all go to one host.
		MaxIdleConnsPerHost: 10,
	}
}

// NewDefaultTransportWithTLS creates a new transport with the specified TLS configuration.
func NewDefaultTransportWithTLS(tlsConfig *tls.Config) *http.Transport {
	t := NewDefaultTransport()
	t.TLSClientConfig = tlsConfig
	return t
}

// NewClient returns a client for outgoing webhook calls.
// A zero timeout means no timeout.
func NewClient(tlsConfig *tls.Config, timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: NewDefaultTransportWithTLS(tlsConfig),
		Timeout:   timeout,
	}
}
