package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	"github.com/pkg/errors"
)

// Create creates a new tls.Config object from the given certs, key, and CA files.
func Create(
	SSLCA, SSLCert, SSLKey string,
	InsecureSkipVerify bool,
) (*tls.Config, error) {
	t := &tls.Config{
		InsecureSkipVerify: InsecureSkipVerify,
	}
	switch {
	case SSLCert != "" && SSLKey != "":
		cert, err := tls.LoadX509KeyPair(SSLCert, SSLKey)
		if err != nil {
			return nil, errors.Wrap(err, "could not load TLS client key/certificate")
		}
		t.Certificates = []tls.Certificate{cert}
	case SSLCert != "":
		return nil, errors.New("must provide both key and cert files: only cert file provided")
	case SSLKey != "":
		return nil, errors.New("must provide both key and cert files: only key file provided")
	}

	if SSLCA != "" {
		caCert, err := os.ReadFile(SSLCA)
		if err != nil {
			return nil, errors.Wrap(err, "could not load TLS CA")
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, errors.Errorf("no certificates found in %q", SSLCA)
		}
		t.RootCAs = pool
	}
	return t, nil
}
