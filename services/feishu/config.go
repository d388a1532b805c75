package feishu

import (
	"net/url"
	"time"

	"github.com/influxdata/influxdb/toml"
	"github.com/pkg/errors"
)

const (
	DefaultTitle    = "📢 服务告警通知"
	DefaultTemplate = "red"
	DefaultTimeout  = toml.Duration(10 * time.Second)
)

type Config struct {
	// Whether Feishu integration is enabled.
	Enabled bool `toml:"enabled"`
	// The Feishu custom bot webhook URL.
	URL string `toml:"url"`
	// Signing secret of the custom bot, if signature verification is enabled on it.
	Secret string `toml:"secret"`
	// Whether projects without their own options post to URL.
	Global bool `toml:"global"`
	// Address of the Sentry server, shown in the card footer.
	SentryURL string `toml:"sentry-url"`
	// Extra lark_md lines appended to the card footer.
	Info []string `toml:"info"`
	// Card header title.
	Title string `toml:"title"`
	// Card header colour template.
	Template string `toml:"template"`
	// Timeout for a single webhook request.
	Timeout toml.Duration `toml:"timeout"`
	// Path to CA file
	SSLCA string `toml:"ssl-ca"`
	// Path to host cert file
	SSLCert string `toml:"ssl-cert"`
	// Path to cert key file
	SSLKey string `toml:"ssl-key"`
	// Use SSL but skip chain & host verification
	InsecureSkipVerify bool `toml:"insecure-skip-verify"`
}

func NewConfig() Config {
	return Config{
		Title:    DefaultTitle,
		Template: DefaultTemplate,
		Timeout:  DefaultTimeout,
	}
}

func (c Config) Validate() error {
	if c.Enabled && c.Global && c.URL == "" {
		return errors.New("must specify Feishu webhook URL when global is set")
	}
	if c.URL != "" {
		if _, err := url.Parse(c.URL); err != nil {
			return errors.Wrapf(err, "invalid url %q", c.URL)
		}
	}
	if c.SentryURL != "" {
		if _, err := url.Parse(c.SentryURL); err != nil {
			return errors.Wrapf(err, "invalid sentry-url %q", c.SentryURL)
		}
	}
	if c.Timeout < 0 {
		return errors.New("timeout must not be negative")
	}
	return nil
}
