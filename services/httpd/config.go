package httpd

import (
	"net"
	"strconv"
	"time"

	"github.com/influxdata/influxdb/toml"
	"github.com/pkg/errors"
)

const (
	DefaultShutdownTimeout = toml.Duration(time.Second * 10)
)

type Config struct {
	BindAddress      string `toml:"bind-address"`
	LogEnabled       bool   `toml:"log-enabled"`
	HttpsEnabled     bool   `toml:"https-enabled"`
	HttpsCertificate string `toml:"https-certificate"`
	HTTPSPrivateKey  string `toml:"https-private-key"`
	// When set every API request must carry it, either as the token query
	// parameter or as a bearer token. Sentry sends it as ?token=.
	SharedSecret    string        `toml:"shared-secret"`
	ShutdownTimeout toml.Duration `toml:"shutdown-timeout"`
}

func NewConfig() Config {
	return Config{
		BindAddress:      ":9093",
		LogEnabled:       true,
		HttpsCertificate: "/etc/ssl/sentry-feishu.pem",
		ShutdownTimeout:  DefaultShutdownTimeout,
	}
}

func (c Config) Validate() error {
	if _, err := c.Port(); err != nil {
		return err
	}
	if c.HttpsEnabled && c.HttpsCertificate == "" {
		return errors.New("must specify https-certificate when https is enabled")
	}
	if c.ShutdownTimeout < 0 {
		return errors.New("shutdown-timeout must not be negative")
	}
	return nil
}

// Port returns the port of the bind address.
func (c Config) Port() (int, error) {
	_, portStr, err := net.SplitHostPort(c.BindAddress)
	if err != nil {
		return -1, errors.Wrapf(err, "invalid http bind address %s", c.BindAddress)
	}
	port, err := strconv.ParseInt(portStr, 10, 32)
	if err != nil {
		return -1, errors.Wrapf(err, "invalid http bind address port %s", portStr)
	}
	if port > 65535 || port < 0 {
		return -1, errors.Errorf("invalid http bind address port %d: out of range", port)
	}
	return int(port), nil
}
