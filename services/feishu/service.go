package feishu

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	khttp "github.com/DC-ET/sentry-feishu/http"
	"github.com/DC-ET/sentry-feishu/keyvalue"
	"github.com/DC-ET/sentry-feishu/tlsconfig"
	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

type Diagnostic interface {
	WithContext(ctx ...keyvalue.T) Diagnostic
	InsecureSkipVerify()
	Sent(host string, status int)

	Error(msg string, err error)
}

type Service struct {
	mu     sync.RWMutex
	config Config
	client *http.Client

	// Clock is the source of card trigger times.
	Clock clock.Clock

	diag Diagnostic
}

func NewService(c Config, d Diagnostic) (*Service, error) {
	cl, err := newClient(c)
	if err != nil {
		return nil, err
	}
	if c.InsecureSkipVerify {
		d.InsecureSkipVerify()
	}
	return &Service{
		config: c,
		client: cl,
		Clock:  clock.New(),
		diag:   d,
	}, nil
}

func newClient(c Config) (*http.Client, error) {
	tlsConfig, err := tlsconfig.Create(c.SSLCA, c.SSLCert, c.SSLKey, c.InsecureSkipVerify)
	if err != nil {
		return nil, err
	}
	return khttp.NewClient(tlsConfig, time.Duration(c.Timeout)), nil
}

func (s *Service) Open() error {
	return nil
}

func (s *Service) Close() error {
	return nil
}

func (s *Service) state() (Config, *http.Client) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config, s.client
}

func (s *Service) Update(newConfig []interface{}) error {
	if l := len(newConfig); l != 1 {
		return fmt.Errorf("expected only one new config object, got %d", l)
	}
	c, ok := newConfig[0].(Config)
	if !ok {
		return fmt.Errorf("expected config object to be of type %T, got %T", c, newConfig[0])
	}
	if err := c.Validate(); err != nil {
		return err
	}
	cl, err := newClient(c)
	if err != nil {
		return err
	}
	if c.InsecureSkipVerify {
		s.diag.InsecureSkipVerify()
	}
	s.mu.Lock()
	s.config = c
	s.client = cl
	s.mu.Unlock()
	return nil
}

func (s *Service) Enabled() bool {
	c, _ := s.state()
	return c.Enabled
}

// Global reports whether projects without options post to the default webhook.
func (s *Service) Global() bool {
	c, _ := s.state()
	return c.Enabled && c.Global
}

// DefaultTarget returns the configured webhook URL and signing secret.
func (s *Service) DefaultTarget() (string, string) {
	c, _ := s.state()
	return c.URL, c.Secret
}

type testOptions struct {
	URL         string `json:"url"`
	Secret      string `json:"secret"`
	Project     string `json:"project"`
	Environment string `json:"environment"`
	Message     string `json:"message"`
	DetailsURL  string `json:"details_url"`
}

func (s *Service) TestOptions() interface{} {
	c, _ := s.state()
	return &testOptions{
		URL:         c.URL,
		Secret:      c.Secret,
		Project:     "test-project",
		Environment: "production",
		Message:     "test feishu message",
	}
}

func (s *Service) Test(options interface{}) error {
	o, ok := options.(*testOptions)
	if !ok {
		return fmt.Errorf("unexpected options type %T", options)
	}
	return s.Alert(o.URL, o.Secret, Notification{
		Project:     o.Project,
		Environment: o.Environment,
		Message:     o.Message,
		DetailsURL:  o.DetailsURL,
	})
}

// Alert posts a notification card to the webhook URL.
// An empty URL falls back to the configured one, in which case the
// configured secret is used as well.
func (s *Service) Alert(webhookURL, secret string, n Notification) error {
	return s.alert(s.diag, webhookURL, secret, n)
}

func (s *Service) alert(diag Diagnostic, webhookURL, secret string, n Notification) error {
	_, client := s.state()
	u, post, err := s.preparePost(webhookURL, secret, n)
	if err != nil {
		return err
	}

	resp, err := client.Post(u, "application/json", post)
	if err != nil {
		return errors.Wrap(err, "failed to post to Feishu")
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read Feishu response")
	}
	// The hook path is the bot token, only the host is logged.
	diag.Sent(resp.Request.URL.Host, resp.StatusCode)
	return checkResponse(resp.StatusCode, body)
}

type response struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	// Older bot endpoints answer with these instead.
	StatusCode    int    `json:"StatusCode"`
	StatusMessage string `json:"StatusMessage"`
}

func checkResponse(status int, body []byte) error {
	var r response
	jsonErr := json.Unmarshal(body, &r)
	if status/100 != 2 {
		if jsonErr == nil && r.Msg != "" {
			return fmt.Errorf("Feishu responded with status %d: %s", status, r.Msg)
		}
		return fmt.Errorf("failed to understand Feishu response. code: %d content: %s", status, string(body))
	}
	if jsonErr != nil {
		// A 2xx without a JSON body is taken as accepted.
		return nil
	}
	switch {
	case r.Code != 0:
		return fmt.Errorf("Feishu error %d: %s", r.Code, r.Msg)
	case r.StatusCode != 0:
		return fmt.Errorf("Feishu error %d: %s", r.StatusCode, r.StatusMessage)
	}
	return nil
}

func (s *Service) preparePost(webhookURL, secret string, n Notification) (string, io.Reader, error) {
	c, _ := s.state()

	if !c.Enabled {
		return "", nil, errors.New("service is not enabled")
	}

	if webhookURL == "" {
		webhookURL = c.URL
		secret = c.Secret
	}
	if webhookURL == "" {
		return "", nil, errors.New("no Feishu webhook URL")
	}
	u, err := url.Parse(webhookURL)
	if err != nil {
		return "", nil, errors.Wrapf(err, "invalid url %q", webhookURL)
	}

	now := s.Clock.Now()
	if n.Time.IsZero() {
		n.Time = now
	}
	msg := Message{
		MsgType: "interactive",
		Content: newCard(c, n),
	}
	if secret != "" {
		ts := now.Unix()
		msg.Timestamp = strconv.FormatInt(ts, 10)
		msg.Sign = Sign(secret, ts)
	}

	postBytes, err := json.Marshal(msg)
	if err != nil {
		return "", nil, errors.Wrap(err, "error marshaling message struct")
	}
	return u.String(), bytes.NewBuffer(postBytes), nil
}

// Sign computes the signature Feishu expects from a bot with signature
// verification enabled.
func Sign(secret string, timestamp int64) string {
	key := strconv.FormatInt(timestamp, 10) + "\n" + secret
	h := hmac.New(sha256.New, []byte(key))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// HandlerConfig selects the webhook a notification goes to.
type HandlerConfig struct {
	// Webhook URL used to post messages.
	// If empty uses the URL from the configuration.
	URL    string
	Secret string
}

type handler struct {
	s    *Service
	c    HandlerConfig
	diag Diagnostic
}

// Handler is a bound webhook target.
type Handler interface {
	Handle(n Notification) error
}

func (s *Service) Handler(c HandlerConfig, ctx ...keyvalue.T) Handler {
	return &handler{
		s:    s,
		c:    c,
		diag: s.diag.WithContext(ctx...),
	}
}

func (h *handler) Handle(n Notification) error {
	err := h.s.alert(h.diag, h.c.URL, h.c.Secret, n)
	if err != nil {
		h.diag.Error("failed to send event to Feishu", err)
	}
	return err
}
