package diagnostic

import (
	"fmt"
	"strings"
)

type Config struct {
	// STDERR, STDOUT or a file path.
	File  string `toml:"file"`
	Level string `toml:"level"`
	// console or json
	Format string `toml:"format"`
}

func NewConfig() Config {
	return Config{
		File:   "STDERR",
		Level:  "INFO",
		Format: "console",
	}
}

func (c Config) Validate() error {
	if _, err := parseLevel(c.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Format) {
	case "console", "logfmt", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Format)
	}
	return nil
}
