// Package server provides a server that receives Sentry webhooks and
// forwards them to Feishu.
package server

import (
	"fmt"

	"github.com/DC-ET/sentry-feishu/keyvalue"
	"github.com/DC-ET/sentry-feishu/services/diagnostic"
	"github.com/DC-ET/sentry-feishu/services/feishu"
	"github.com/DC-ET/sentry-feishu/services/httpd"
	"github.com/DC-ET/sentry-feishu/services/projects"
	"github.com/DC-ET/sentry-feishu/services/sentry"
	"github.com/DC-ET/sentry-feishu/services/servicetest"
	"github.com/DC-ET/sentry-feishu/services/storage"
	"github.com/pkg/errors"
)

// BuildInfo represents the build details for the server code.
type BuildInfo struct {
	Version string
	Commit  string
	Branch  string
}

type Diagnostic interface {
	Error(msg string, err error, ctx ...keyvalue.T)
	Info(msg string, ctx ...keyvalue.T)
	Debug(msg string, ctx ...keyvalue.T)
}

// Service represents a service attached to the server.
type Service interface {
	Open() error
	Close() error
}

// Updater is a service that accepts a new configuration while running.
type Updater interface {
	Update(newConfig []interface{}) error
}

type dynamicService interface {
	Service
	Updater
	servicetest.Tester
}

// Server represents a container for the metadata and storage data and services.
// It is built using a Config and it manages the startup and shutdown of all
// services in the proper order.
type Server struct {
	hostname string

	config *Config

	err chan error

	DiagService     *diagnostic.Service
	HTTPDService    *httpd.Service
	StorageService  *storage.Service
	TesterService   *servicetest.Service
	FeishuService   *feishu.Service
	ProjectsService *projects.Service
	SentryService   *sentry.Service

	// List of services in startup order
	Services []Service
	// Map of service name to index in Services list
	ServicesByName map[string]int

	// Map of services capable of receiving dynamic configuration updates.
	DynamicServices map[string]Updater

	BuildInfo BuildInfo

	diag Diagnostic
}

// New returns a new instance of Server built from a config.
// The diagnostic service should already be open so that services log
// through the configured output.
func New(c *Config, buildInfo BuildInfo, diagService *diagnostic.Service) (*Server, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s. To generate a valid configuration file run `sentry-feishud config > sentry-feishu.generated.conf`.", err)
	}
	s := &Server{
		config:          c,
		BuildInfo:       buildInfo,
		hostname:        c.Hostname,
		err:             make(chan error),
		DiagService:     diagService,
		ServicesByName:  make(map[string]int),
		DynamicServices: make(map[string]Updater),
		diag:            diagService.NewServerHandler(),
	}
	s.diag.Info("sentry-feishu hostname", keyvalue.KV("hostname", s.hostname))

	s.initHTTPDService()
	s.appendStorageService()
	s.appendTesterService()

	if err := s.appendFeishuService(); err != nil {
		return nil, errors.Wrap(err, "feishu service")
	}
	s.appendProjectsService()
	s.appendSentryService()

	// Append HTTPD Service last so that the API is ready.
	s.appendHTTPDService()

	return s, nil
}

func (s *Server) AppendService(name string, srv Service) {
	if _, ok := s.ServicesByName[name]; ok {
		// Should be unreachable code
		panic("cannot append service twice")
	}
	i := len(s.Services)
	s.Services = append(s.Services, srv)
	s.ServicesByName[name] = i
}

func (s *Server) SetDynamicService(name string, srv dynamicService) {
	s.DynamicServices[name] = srv
	_ = s.TesterService.AddTester(name, srv)
}

func (s *Server) initHTTPDService() {
	d := s.DiagService.NewHTTPDHandler()
	srv := httpd.NewService(s.config.HTTP, s.hostname, d)

	srv.Handler.DiagService = s.DiagService
	srv.Handler.Version = s.BuildInfo.Version

	s.HTTPDService = srv
}

func (s *Server) appendHTTPDService() {
	s.AppendService("httpd", s.HTTPDService)
}

func (s *Server) appendStorageService() {
	d := s.DiagService.NewStorageHandler()
	srv := storage.NewService(s.config.Storage, d)

	s.StorageService = srv
	s.AppendService("storage", srv)
}

func (s *Server) appendTesterService() {
	srv := servicetest.NewService()
	srv.HTTPDService = s.HTTPDService

	s.TesterService = srv
	s.AppendService("servicetest", srv)
}

func (s *Server) appendFeishuService() error {
	c := s.config.Feishu
	d := s.DiagService.NewFeishuHandler()
	srv, err := feishu.NewService(c, d)
	if err != nil {
		return err
	}

	s.FeishuService = srv
	s.SetDynamicService("feishu", srv)
	s.AppendService("feishu", srv)
	return nil
}

func (s *Server) appendProjectsService() {
	d := s.DiagService.NewProjectsHandler()
	srv := projects.NewService(d)
	srv.StorageService = s.StorageService
	srv.HTTPDService = s.HTTPDService

	s.ProjectsService = srv
	s.AppendService("projects", srv)
}

func (s *Server) appendSentryService() {
	d := s.DiagService.NewSentryHandler()
	srv := sentry.NewService(s.config.Sentry, d)
	srv.ProjectsService = s.ProjectsService
	srv.FeishuService = s.FeishuService
	srv.HTTPDService = s.HTTPDService

	s.SentryService = srv
	s.SetDynamicService("sentry", srv)
	s.AppendService("sentry", srv)
}

// Err returns an error channel that multiplexes all out of band errors received from all services.
func (s *Server) Err() <-chan error { return s.err }

// Open opens all the services.
func (s *Server) Open() error {
	if err := s.startServices(); err != nil {
		s.Close()
		return err
	}

	go s.watchServices()

	return nil
}

func (s *Server) startServices() error {
	for _, service := range s.Services {
		s.diag.Debug("opening service", keyvalue.KV("service", fmt.Sprintf("%T", service)))
		if err := service.Open(); err != nil {
			return fmt.Errorf("open service %T: %s", service, err)
		}
		s.diag.Debug("opened service", keyvalue.KV("service", fmt.Sprintf("%T", service)))
	}
	return nil
}

// Watch if something dies
func (s *Server) watchServices() {
	err := <-s.HTTPDService.Err()
	s.err <- err
}

// Reload applies the settings of c that can change without a restart:
// the feishu and sentry sections and the log level.
// Other sections are only read at startup.
func (s *Server) Reload(c *Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	updates := map[string]interface{}{
		"feishu": c.Feishu,
		"sentry": c.Sentry,
	}
	for name, config := range updates {
		srv, ok := s.DynamicServices[name]
		if !ok {
			return fmt.Errorf("received configuration update for unknown dynamic service %s", name)
		}
		if err := srv.Update([]interface{}{config}); err != nil {
			return errors.Wrapf(err, "failed to update configuration for service %s", name)
		}
	}
	if err := s.DiagService.SetLogLevelFromName(c.Logging.Level); err != nil {
		return errors.Wrap(err, "failed to update log level")
	}
	s.config.Feishu = c.Feishu
	s.config.Sentry = c.Sentry
	s.config.Logging.Level = c.Logging.Level
	s.diag.Info("reloaded configuration")
	return nil
}

// Close shuts down the HTTP API first and then all services.
func (s *Server) Close() error {
	if err := s.HTTPDService.Close(); err != nil {
		s.diag.Error("error closing httpd service", err)
	}

	for i := len(s.Services) - 1; i >= 0; i-- {
		service := s.Services[i]
		s.diag.Debug("closing service", keyvalue.KV("service", fmt.Sprintf("%T", service)))
		if err := service.Close(); err != nil {
			s.diag.Error("error closing service", err, keyvalue.KV("service", fmt.Sprintf("%T", service)))
		}
		s.diag.Debug("closed service", keyvalue.KV("service", fmt.Sprintf("%T", service)))
	}
	return nil
}
