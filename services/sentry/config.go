package sentry

import (
	"net/url"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

const DefaultMaxBodySize = "1MB"

type Config struct {
	// Whether the webhook endpoint accepts events.
	Enabled bool `toml:"enabled"`
	// Largest accepted payload, e.g. 512KB or 2MiB.
	MaxBodySize string `toml:"max-body-size"`
	// Organization URL used to link groups when a payload carries no url,
	// e.g. https://sentry.example.com/organizations/acme
	BaseURL string `toml:"base-url"`
}

func NewConfig() Config {
	return Config{
		Enabled:     true,
		MaxBodySize: DefaultMaxBodySize,
	}
}

func (c Config) Validate() error {
	if _, err := c.maxBodySize(); err != nil {
		return err
	}
	if c.BaseURL != "" {
		if _, err := url.Parse(c.BaseURL); err != nil {
			return errors.Wrapf(err, "invalid base-url %q", c.BaseURL)
		}
	}
	return nil
}

func (c Config) maxBodySize() (int64, error) {
	n, err := humanize.ParseBytes(c.MaxBodySize)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid max-body-size %q", c.MaxBodySize)
	}
	if n == 0 {
		return 0, errors.New("max-body-size must be positive")
	}
	return int64(n), nil
}
