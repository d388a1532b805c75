package storage

import (
	"time"

	"github.com/influxdata/influxdb/toml"
	"github.com/pkg/errors"
)

type Config struct {
	// Path to a boltdb database file.
	BoltDBPath string `toml:"boltdb"`
	// How long to wait for the file lock held by another process,
	// zero waits forever.
	OpenTimeout toml.Duration `toml:"open-timeout"`
}

func NewConfig() Config {
	return Config{
		BoltDBPath:  "./sentry-feishu.db",
		OpenTimeout: toml.Duration(5 * time.Second),
	}
}

func (c Config) Validate() error {
	if c.BoltDBPath == "" {
		return errors.New("must specify storage 'boltdb' path")
	}
	if c.OpenTimeout < 0 {
		return errors.New("open-timeout must not be negative")
	}
	return nil
}
