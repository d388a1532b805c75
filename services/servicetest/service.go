// Package servicetest exposes a test endpoint for every service that can
// send a sample notification.
package servicetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"sort"
	"sync"

	"github.com/DC-ET/sentry-feishu/services/httpd"
	"github.com/pkg/errors"
)

const (
	testPath         = "/service-tests"
	testPathAnchored = "/service-tests/:name"
	basePath         = httpd.BasePath + testPath
)

var serviceTestsLink = httpd.Link{Relation: httpd.Self, Href: basePath}

type Tester interface {
	// TestOptions returns an object that is in turn passed to Test.
	// User specified data will be JSON encode/decoded to/from the object.
	TestOptions() interface{}
	// Test a service with the provided options.
	Test(options interface{}) error
}

type Service struct {
	mu      sync.RWMutex
	testers map[string]Tester
	routes  []httpd.Route

	HTTPDService interface {
		AddRoutes([]httpd.Route) error
		DelRoutes([]httpd.Route)
	}
}

func NewService() *Service {
	return &Service{
		testers: make(map[string]Tester),
	}
}

func (s *Service) Open() error {
	s.routes = []httpd.Route{
		{
			Method:      "GET",
			Pattern:     testPath,
			HandlerFunc: s.handleListTests,
		},
		{
			Method:      "GET",
			Pattern:     testPathAnchored,
			HandlerFunc: s.handleTestOptions,
		},
		{
			Method:      "POST",
			Pattern:     testPathAnchored,
			HandlerFunc: s.handleTest,
		},
	}

	err := s.HTTPDService.AddRoutes(s.routes)
	return errors.Wrap(err, "failed to add API routes")
}

func (s *Service) Close() error {
	if s.HTTPDService != nil {
		s.HTTPDService.DelRoutes(s.routes)
	}
	return nil
}

func (s *Service) AddTester(name string, t Tester) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.testers[name]; ok {
		return fmt.Errorf("tester with name %q already exists", name)
	}
	s.testers[name] = t
	return nil
}

func (s *Service) tester(name string) (Tester, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.testers[name]
	return t, ok
}

func serviceTestLink(service string) httpd.Link {
	return httpd.Link{Relation: httpd.Self, Href: path.Join(basePath, service)}
}

type ServiceTests struct {
	Link     httpd.Link      `json:"link"`
	Services ServiceTestList `json:"services"`
}

type ServiceTestList []ServiceTest

func (l ServiceTestList) Len() int           { return len(l) }
func (l ServiceTestList) Less(i, j int) bool { return l[i].Name < l[j].Name }
func (l ServiceTestList) Swap(i, j int)      { l[i], l[j] = l[j], l[i] }

type ServiceTest struct {
	Link    httpd.Link  `json:"link"`
	Name    string      `json:"name"`
	Options interface{} `json:"options"`
}

type ServiceTestResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Service) handleListTests(w http.ResponseWriter, r *http.Request) {
	tests := ServiceTests{
		Link:     serviceTestsLink,
		Services: ServiceTestList{},
	}
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		pattern = "*"
	}
	if _, err := path.Match(pattern, ""); err != nil {
		httpd.HttpError(w, fmt.Sprintf("bad pattern: %v", err), true, http.StatusBadRequest)
		return
	}
	s.mu.RLock()
	for name, test := range s.testers {
		if ok, _ := path.Match(pattern, name); ok {
			tests.Services = append(tests.Services, ServiceTest{
				Link:    serviceTestLink(name),
				Name:    name,
				Options: test.TestOptions(),
			})
		}
	}
	s.mu.RUnlock()
	sort.Sort(tests.Services)

	w.Write(httpd.MarshalJSON(tests, true))
}

func (s *Service) handleTestOptions(w http.ResponseWriter, r *http.Request) {
	name := httpd.Param(r, "name")
	test, ok := s.tester(name)
	if !ok {
		httpd.HttpError(w, fmt.Sprintf("service %q not found", name), true, http.StatusNotFound)
		return
	}

	serviceTest := ServiceTest{
		Link:    serviceTestLink(name),
		Name:    name,
		Options: test.TestOptions(),
	}
	w.Write(httpd.MarshalJSON(serviceTest, true))
}

func (s *Service) handleTest(w http.ResponseWriter, r *http.Request) {
	name := httpd.Param(r, "name")
	test, ok := s.tester(name)
	if !ok {
		httpd.HttpError(w, fmt.Sprintf("service %q not found", name), true, http.StatusNotFound)
		return
	}

	options := test.TestOptions()
	if options != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(options); err != nil {
			httpd.HttpError(w, fmt.Sprint("failed to decode JSON body: ", err), true, http.StatusBadRequest)
			return
		}
	}

	result := ServiceTestResult{}
	if err := test.Test(options); err != nil {
		result.Message = err.Error()
	} else {
		result.Success = true
	}
	w.Write(httpd.MarshalJSON(result, true))
}
