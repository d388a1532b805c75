package sentry

import (
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/DC-ET/sentry-feishu/keyvalue"
	"github.com/DC-ET/sentry-feishu/repeat"
	"github.com/DC-ET/sentry-feishu/services/feishu"
	"github.com/DC-ET/sentry-feishu/services/httpd"
	"github.com/DC-ET/sentry-feishu/services/projects"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

const (
	webhookPath        = "/sentry"
	projectWebhookPath = "/sentry/:project"
)

// Reasons an event did not notify.
const (
	ReasonNotConfigured = "not configured"
	ReasonIgnored       = "ignored"
	ReasonDisabled      = "project disabled"
	ReasonEnvironment   = "environment filtered"
)

type Diagnostic interface {
	WithContext(ctx ...keyvalue.T) Diagnostic
	Skipped(reason string)
	Notified(environment string)
	Error(msg string, err error)
}

// Result reports what happened to an event.
type Result struct {
	Notified bool   `json:"notified"`
	Reason   string `json:"reason,omitempty"`
}

// DeliveryError is returned when the card could not be posted.
type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string {
	return "failed to deliver notification: " + e.Err.Error()
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

type Service struct {
	mu     sync.RWMutex
	config Config
	routes []httpd.Route
	diag   Diagnostic

	ProjectsService interface {
		Options(slug string) (projects.Options, bool, error)
	}
	FeishuService interface {
		Enabled() bool
		Global() bool
		DefaultTarget() (url, secret string)
		Handler(c feishu.HandlerConfig, ctx ...keyvalue.T) feishu.Handler
	}
	HTTPDService interface {
		AddRoutes([]httpd.Route) error
		DelRoutes([]httpd.Route)
	}
}

func NewService(c Config, d Diagnostic) *Service {
	return &Service{
		config: c,
		diag:   d,
	}
}

func (s *Service) Open() error {
	s.routes = []httpd.Route{
		{
			Method:      "POST",
			Pattern:     webhookPath,
			HandlerFunc: s.handleWebhook,
		},
		{
			Method:      "POST",
			Pattern:     projectWebhookPath,
			HandlerFunc: s.handleWebhook,
		},
	}
	return errors.Wrap(s.HTTPDService.AddRoutes(s.routes), "failed to add API routes")
}

func (s *Service) Close() error {
	if s.HTTPDService != nil {
		s.HTTPDService.DelRoutes(s.routes)
	}
	return nil
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
	s.mu.Lock()
	s.config = c
	s.mu.Unlock()
	return nil
}

func (s *Service) state() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// target is where and how a project is notified.
type target struct {
	handler feishu.HandlerConfig
	options projects.Options
}

// resolve finds the webhook of a project, from its own options or else
// the global default. It returns false when there is none.
func (s *Service) resolve(slug string) (target, bool, error) {
	if !s.FeishuService.Enabled() {
		return target{}, false, nil
	}
	o, ok, err := s.ProjectsService.Options(slug)
	if err != nil {
		return target{}, false, errors.Wrapf(err, "failed to load options of project %q", slug)
	}
	if ok && o.URL != "" {
		return target{
			handler: feishu.HandlerConfig{URL: o.URL, Secret: o.Secret},
			options: o,
		}, true, nil
	}
	if !s.FeishuService.Global() {
		return target{}, false, nil
	}
	u, secret := s.FeishuService.DefaultTarget()
	return target{
		handler: feishu.HandlerConfig{URL: u, Secret: secret},
		options: o,
	}, true, nil
}

// Notify posts a card for the event unless the project has no webhook,
// the group is ignored, the project is disabled or the event environment
// is filtered out.
func (s *Service) Notify(ev Event) (Result, error) {
	ctx := []keyvalue.T{
		keyvalue.KV("project", ev.Project),
		keyvalue.KV("event", ev.EventID),
	}
	d := s.diag.WithContext(ctx...)

	t, ok, err := s.resolve(ev.Project)
	if err != nil {
		d.Error("failed to resolve webhook", err)
		return Result{}, err
	}
	reason := ""
	switch {
	case !ok:
		reason = ReasonNotConfigured
	case ev.Ignored():
		reason = ReasonIgnored
	case t.options.Disabled:
		reason = ReasonDisabled
	case !t.options.AllowsEnvironment(ev.Environment):
		reason = ReasonEnvironment
	}
	if reason != "" {
		d.Skipped(reason)
		return Result{Reason: reason}, nil
	}

	n := feishu.Notification{
		Project:     ev.Project,
		Environment: ev.Environment,
		Message:     repeat.Cut(ev.Summary()),
		DetailsURL:  ev.DetailsURL(s.state().BaseURL),
	}
	if err := s.FeishuService.Handler(t.handler, ctx...).Handle(n); err != nil {
		return Result{}, &DeliveryError{Err: err}
	}
	d.Notified(ev.Environment)
	return Result{Notified: true}, nil
}

func (s *Service) handleWebhook(w http.ResponseWriter, r *http.Request) {
	c := s.state()
	if !c.Enabled {
		httpd.HttpError(w, "sentry webhook is not enabled", true, http.StatusForbidden)
		return
	}
	limit, err := c.maxBodySize()
	if err != nil {
		httpd.HttpError(w, err.Error(), true, http.StatusInternalServerError)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		httpd.HttpError(w, "failed to read request body: "+err.Error(), true, http.StatusBadRequest)
		return
	}
	if int64(len(body)) > limit {
		httpd.HttpError(w, fmt.Sprintf("request body exceeds %s", humanize.Bytes(uint64(limit))), true, http.StatusRequestEntityTooLarge)
		return
	}
	ev, err := DecodeEvent(body)
	if err != nil {
		httpd.HttpError(w, err.Error(), true, http.StatusBadRequest)
		return
	}
	if slug := httpd.Param(r, "project"); slug != "" {
		ev.Project = slug
	}
	if ev.Project == "" {
		httpd.HttpError(w, "event has no project slug", true, http.StatusBadRequest)
		return
	}

	res, err := s.Notify(ev)
	if err != nil {
		var derr *DeliveryError
		if errors.As(err, &derr) {
			httpd.HttpError(w, err.Error(), true, http.StatusBadGateway)
			return
		}
		httpd.HttpError(w, err.Error(), true, http.StatusInternalServerError)
		return
	}
	w.Write(httpd.MarshalJSON(res, true))
}

type testOptions struct {
	Project     string `json:"project"`
	Environment string `json:"environment"`
	Message     string `json:"message"`
}

func (s *Service) TestOptions() interface{} {
	return &testOptions{
		Project:     "test-project",
		Environment: "production",
		Message:     "test sentry event",
	}
}

// Test runs a synthetic event through Notify, it fails when the event
// did not notify.
func (s *Service) Test(options interface{}) error {
	o, ok := options.(*testOptions)
	if !ok {
		return fmt.Errorf("unexpected options type %T", options)
	}
	res, err := s.Notify(Event{
		Project:     o.Project,
		Environment: o.Environment,
		Message:     o.Message,
	})
	if err != nil {
		return err
	}
	if !res.Notified {
		return fmt.Errorf("event was not sent: %s", res.Reason)
	}
	return nil
}
