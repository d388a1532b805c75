package projects

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/DC-ET/sentry-feishu/services/httpd"
	"github.com/DC-ET/sentry-feishu/services/storage"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

const (
	projectsPath         = "/projects"
	projectsPathAnchored = "/projects/:slug"
	projectsBasePath     = httpd.BasePath + projectsPath

	// The storage namespace for all project options.
	projectsNamespace = "projects"
)

var validSlug = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

type Diagnostic interface {
	Saved(slug string)
	Deleted(slug string)
	Error(msg string, err error)
}

type Service struct {
	dao    OptionsDAO
	routes []httpd.Route
	diag   Diagnostic

	StorageService interface {
		Store(namespace string) storage.Interface
	}
	HTTPDService interface {
		AddRoutes([]httpd.Route) error
		DelRoutes([]httpd.Route)
	}
}

func NewService(d Diagnostic) *Service {
	return &Service{
		diag: d,
	}
}

func (s *Service) Open() error {
	dao, err := newOptionsKV(s.StorageService.Store(projectsNamespace))
	if err != nil {
		return err
	}
	s.dao = dao

	s.routes = []httpd.Route{
		{
			Method:      "GET",
			Pattern:     projectsPath,
			HandlerFunc: s.handleListProjects,
		},
		{
			Method:      "GET",
			Pattern:     projectsPathAnchored,
			HandlerFunc: s.handleGetProject,
		},
		{
			Method:      "PUT",
			Pattern:     projectsPathAnchored,
			HandlerFunc: s.handleReplaceProject,
		},
		{
			Method:      "PATCH",
			Pattern:     projectsPathAnchored,
			HandlerFunc: s.handlePatchProject,
		},
		{
			Method:      "DELETE",
			Pattern:     projectsPathAnchored,
			HandlerFunc: s.handleDeleteProject,
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

// Options returns the stored options of a project, and false if there are none.
func (s *Service) Options(slug string) (Options, bool, error) {
	o, err := s.dao.Get(slug)
	if err == ErrNoProjectExists {
		return Options{}, false, nil
	} else if err != nil {
		return Options{}, false, err
	}
	return o, true, nil
}

// Save validates and stores the options of a project.
func (s *Service) Save(o Options) error {
	if err := o.Validate(); err != nil {
		return err
	}
	if err := s.dao.Set(o); err != nil {
		return err
	}
	s.diag.Saved(o.Slug)
	return nil
}

// Delete removes the options of a project.
func (s *Service) Delete(slug string) error {
	if err := s.dao.Delete(slug); err != nil {
		return err
	}
	s.diag.Deleted(slug)
	return nil
}

func (o Options) Validate() error {
	if !validSlug.MatchString(o.Slug) {
		return fmt.Errorf("invalid project slug %q", o.Slug)
	}
	if o.URL != "" {
		u, err := url.Parse(o.URL)
		if err != nil {
			return errors.Wrapf(err, "invalid url %q", o.URL)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("invalid url %q: scheme must be http or https", o.URL)
		}
	}
	for _, e := range o.Environments {
		if strings.TrimSpace(e) == "" {
			return errors.New("environments must not contain empty names")
		}
	}
	return nil
}

// project is the API representation of Options, the secret is never echoed.
type project struct {
	Link         httpd.Link `json:"link"`
	Slug         string     `json:"slug"`
	URL          string     `json:"url"`
	SecretSet    bool       `json:"secret-set"`
	Disabled     bool       `json:"disabled"`
	Environments []string   `json:"environments"`
}

type projectsResponse struct {
	Link     httpd.Link `json:"link"`
	Projects []project  `json:"projects"`
}

func projectLink(slug string) httpd.Link {
	return httpd.Link{Relation: httpd.Self, Href: path.Join(projectsBasePath, slug)}
}

func convertProject(o Options) project {
	envs := o.Environments
	if envs == nil {
		envs = []string{}
	}
	return project{
		Link:         projectLink(o.Slug),
		Slug:         o.Slug,
		URL:          o.URL,
		SecretSet:    o.Secret != "",
		Disabled:     o.Disabled,
		Environments: envs,
	}
}

func (s *Service) handleListProjects(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	if _, err := path.Match(pattern, ""); err != nil {
		httpd.HttpError(w, fmt.Sprintf("invalid pattern %q: %v", pattern, err), true, http.StatusBadRequest)
		return
	}
	options, err := s.dao.List(pattern)
	if err != nil {
		httpd.HttpError(w, err.Error(), true, http.StatusInternalServerError)
		return
	}
	resp := projectsResponse{
		Link:     httpd.Link{Relation: httpd.Self, Href: projectsBasePath},
		Projects: make([]project, len(options)),
	}
	for i, o := range options {
		resp.Projects[i] = convertProject(o)
	}
	w.Write(httpd.MarshalJSON(resp, true))
}

func (s *Service) handleGetProject(w http.ResponseWriter, r *http.Request) {
	slug := httpd.Param(r, "slug")
	o, ok, err := s.Options(slug)
	if err != nil {
		httpd.HttpError(w, err.Error(), true, http.StatusInternalServerError)
		return
	}
	if !ok {
		httpd.HttpError(w, fmt.Sprintf("project %q has no options", slug), true, http.StatusNotFound)
		return
	}
	w.Write(httpd.MarshalJSON(convertProject(o), true))
}

func (s *Service) handleReplaceProject(w http.ResponseWriter, r *http.Request) {
	slug := httpd.Param(r, "slug")
	var o Options
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&o); err != nil {
		httpd.HttpError(w, "invalid JSON: "+err.Error(), true, http.StatusBadRequest)
		return
	}
	if o.Slug == "" {
		o.Slug = slug
	} else if o.Slug != slug {
		httpd.HttpError(w, fmt.Sprintf("slug %q does not match path %q", o.Slug, slug), true, http.StatusBadRequest)
		return
	}
	s.save(w, o)
}

func (s *Service) handlePatchProject(w http.ResponseWriter, r *http.Request) {
	slug := httpd.Param(r, "slug")
	var set map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&set); err != nil {
		httpd.HttpError(w, "invalid JSON: "+err.Error(), true, http.StatusBadRequest)
		return
	}
	if v, ok := set["slug"]; ok && v != slug {
		httpd.HttpError(w, "slug cannot be changed", true, http.StatusBadRequest)
		return
	}
	o, _, err := s.Options(slug)
	if err != nil {
		httpd.HttpError(w, err.Error(), true, http.StatusInternalServerError)
		return
	}
	o.Slug = slug
	if err := decodePatch(set, &o); err != nil {
		httpd.HttpError(w, err.Error(), true, http.StatusBadRequest)
		return
	}
	s.save(w, o)
}

// decodePatch applies the fields present in set onto o.
func decodePatch(set map[string]interface{}, o *Options) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      o,
		ErrorUnused: true,
		// Lists are replaced, not merged element by element.
		ZeroFields: true,
	})
	if err != nil {
		return err
	}
	return errors.Wrap(dec.Decode(set), "invalid patch")
}

func (s *Service) save(w http.ResponseWriter, o Options) {
	if err := o.Validate(); err != nil {
		httpd.HttpError(w, err.Error(), true, http.StatusBadRequest)
		return
	}
	if err := s.Save(o); err != nil {
		s.diag.Error("failed to save project options", err)
		httpd.HttpError(w, err.Error(), true, http.StatusInternalServerError)
		return
	}
	w.Write(httpd.MarshalJSON(convertProject(o), true))
}

func (s *Service) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.Delete(httpd.Param(r, "slug")); err != nil {
		httpd.HttpError(w, err.Error(), true, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
