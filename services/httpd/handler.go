package httpd

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/influxdata/httprouter"
	"github.com/pkg/errors"
)

const BasePath = "/feishu/v1"

// Self is the relation of a link to the resource itself.
const Self = "self"

type Link struct {
	Relation string `json:"rel"`
	Href     string `json:"href"`
}

type Route struct {
	Method      string
	Pattern     string
	HandlerFunc http.HandlerFunc
	// NoJSON routes set their own content type.
	NoJSON bool
	// NoAuth routes are served without the shared secret.
	NoAuth bool
}

type routeKey struct {
	method  string
	pattern string
}

// Handler represents an HTTP handler for the API server.
//
// Routes come and go as services open and close, the router is rebuilt
// on every change since httprouter cannot remove a route.
type Handler struct {
	mu     sync.RWMutex
	router *httprouter.Router
	routes map[routeKey]Route

	sharedSecret   string
	loggingEnabled bool

	Version string

	DiagService interface {
		SetLogLevelFromName(lvl string) error
		Level() string
	}

	diag Diagnostic
}

// NewHandler returns a new instance of handler with routes.
func NewHandler(loggingEnabled bool, sharedSecret string, d Diagnostic) *Handler {
	h := &Handler{
		routes:         make(map[routeKey]Route),
		sharedSecret:   sharedSecret,
		loggingEnabled: loggingEnabled,
		diag:           d,
	}
	err := h.addRoutes([]Route{
		{
			Method:      "GET",
			Pattern:     BasePath + "/ping",
			HandlerFunc: h.servePing,
			NoAuth:      true,
		},
		{
			Method:      "HEAD",
			Pattern:     BasePath + "/ping",
			HandlerFunc: h.servePing,
			NoAuth:      true,
		},
		{
			// Display current API routes
			Method:      "GET",
			Pattern:     BasePath + "/routes",
			HandlerFunc: h.serveRoutes,
		},
		{
			Method:      "GET",
			Pattern:     BasePath + "/loglevel",
			HandlerFunc: h.serveGetLogLevel,
		},
		{
			// Change current log level
			Method:      "POST",
			Pattern:     BasePath + "/loglevel",
			HandlerFunc: h.serveLogLevel,
		},
	})
	if err != nil {
		panic(err)
	}
	return h
}

// AddRoutes registers routes relative to BasePath.
func (h *Handler) AddRoutes(routes []Route) error {
	raw := make([]Route, len(routes))
	for i, r := range routes {
		if len(r.Pattern) > 0 && r.Pattern[0] != '/' {
			return fmt.Errorf("route patterns must begin with a '/' %s", r.Pattern)
		}
		r.Pattern = BasePath + r.Pattern
		raw[i] = r
	}
	return h.addRoutes(raw)
}

func (h *Handler) addRoutes(routes []Route) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	next := make(map[routeKey]Route, len(h.routes)+len(routes))
	for k, r := range h.routes {
		next[k] = r
	}
	for _, r := range routes {
		if r.HandlerFunc == nil {
			return fmt.Errorf("route %s %s does not have a handler function", r.Method, r.Pattern)
		}
		k := routeKey{method: r.Method, pattern: r.Pattern}
		if _, ok := next[k]; ok {
			return fmt.Errorf("route %s %s already exists", r.Method, r.Pattern)
		}
		next[k] = r
	}
	router, err := h.buildRouter(next)
	if err != nil {
		return err
	}
	h.routes = next
	h.router = router
	return nil
}

// DelRoutes removes routes relative to BasePath. Unknown routes are ignored.
func (h *Handler) DelRoutes(routes []Route) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range routes {
		delete(h.routes, routeKey{method: r.Method, pattern: BasePath + r.Pattern})
	}
	router, err := h.buildRouter(h.routes)
	if err != nil {
		// Removing routes cannot introduce a conflict.
		h.diag.Error("failed to rebuild router", err)
		return
	}
	h.router = router
}

func (h *Handler) buildRouter(routes map[routeKey]Route) (router *httprouter.Router, err error) {
	// httprouter reports conflicting patterns by panicking.
	defer func() {
		if r := recover(); r != nil {
			router = nil
			err = errors.Errorf("invalid route: %v", r)
		}
	}()
	router = httprouter.New()
	router.NotFound = h.wrap(Route{HandlerFunc: serve404, NoAuth: true})
	router.MethodNotAllowed = h.wrap(Route{HandlerFunc: serve405, NoAuth: true})
	for k, r := range routes {
		router.Handler(k.method, k.pattern, h.wrap(r))
	}
	return router, nil
}

// wrap applies the standard filters to a route handler.
func (h *Handler) wrap(r Route) http.Handler {
	var handler http.Handler = r.HandlerFunc
	if !r.NoAuth && h.sharedSecret != "" {
		handler = authenticate(handler, h.sharedSecret)
	}
	if !r.NoJSON {
		handler = jsonContent(handler)
	}
	handler = versionHeader(handler, h)
	handler = requestID(handler)
	if h.loggingEnabled {
		handler = logHandler(handler, h.diag)
	}
	return recovery(handler, h.diag) // make sure recovery is always last
}

// ServeHTTP responds to HTTP request to the handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	router := h.router
	h.mu.RUnlock()
	cors(router).ServeHTTP(w, r)
}

// Param returns the named path parameter of the matched route.
func Param(r *http.Request, name string) string {
	return httprouter.ParamsFromContext(r.Context()).ByName(name)
}

type logLevelOptions struct {
	Level string `json:"level"`
}

// serveLogLevel sets the log level of the server
func (h *Handler) serveLogLevel(w http.ResponseWriter, r *http.Request) {
	if h.DiagService == nil {
		HttpError(w, "log level cannot be changed", true, http.StatusNotImplemented)
		return
	}
	var opt logLevelOptions
	if err := json.NewDecoder(r.Body).Decode(&opt); err != nil {
		HttpError(w, "invalid json: "+err.Error(), true, http.StatusBadRequest)
		return
	}
	if err := h.DiagService.SetLogLevelFromName(opt.Level); err != nil {
		HttpError(w, err.Error(), true, http.StatusBadRequest)
		return
	}
	h.diag.LogLevelChanged(h.DiagService.Level())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) serveGetLogLevel(w http.ResponseWriter, r *http.Request) {
	if h.DiagService == nil {
		HttpError(w, "log level is unknown", true, http.StatusNotImplemented)
		return
	}
	w.Write(MarshalJSON(logLevelOptions{Level: h.DiagService.Level()}, true))
}

// serveRoutes returns a list of all routes and their methods
func (h *Handler) serveRoutes(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	routes := make(map[string][]string)
	for k := range h.routes {
		routes[k.pattern] = append(routes[k.pattern], k.method)
	}
	h.mu.RUnlock()
	for _, methods := range routes {
		sort.Strings(methods)
	}
	w.Write(MarshalJSON(routes, true))
}

// servePing returns a simple response to let the client know the server is running.
func (h *Handler) servePing(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// serve404 returns an a formated 404 error
func serve404(w http.ResponseWriter, r *http.Request) {
	HttpError(w, "Not Found", true, http.StatusNotFound)
}

func serve405(w http.ResponseWriter, r *http.Request) {
	HttpError(w, "Method Not Allowed", true, http.StatusMethodNotAllowed)
}

// ServeOptions returns an empty response to comply with OPTIONS pre-flight requests
func ServeOptions(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// MarshalJSON will marshal v to JSON. Pretty prints if pretty is true.
func MarshalJSON(v interface{}, pretty bool) []byte {
	var b []byte
	var err error
	if pretty {
		b, err = json.MarshalIndent(v, "", "    ")
	} else {
		b, err = json.Marshal(v)
	}

	if err != nil {
		type errResponse struct {
			Error string `json:"error"`
		}
		er := errResponse{Error: err.Error()}
		b, _ = json.Marshal(er)
	}
	return b
}

// HttpError writes an error to the client in a standard format.
func HttpError(w http.ResponseWriter, err string, pretty bool, code int) {
	w.WriteHeader(code)

	type errResponse struct {
		Error string `json:"error"`
	}

	w.Write(MarshalJSON(errResponse{Error: err}, pretty))
}

// Filters and filter helpers

// authenticate rejects requests that do not carry the shared secret,
// either as the token query parameter or as a bearer token.
func authenticate(inner http.Handler, secret string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if s := r.Header.Get("Authorization"); s != "" {
			strs := strings.SplitN(s, " ", 2)
			if len(strs) == 2 && strs[0] == "Bearer" {
				token = strs[1]
			}
		}
		if token == "" {
			HttpError(w, "unable to parse authentication credentials", false, http.StatusUnauthorized)
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			HttpError(w, "authorization failed", false, http.StatusUnauthorized)
			return
		}
		inner.ServeHTTP(w, r)
	})
}

func jsonContent(inner http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		inner.ServeHTTP(w, r)
	})
}

// versionHeader adds the X-Sentry-Feishu-Version header to outgoing responses.
func versionHeader(inner http.Handler, h *Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("X-Sentry-Feishu-Version", h.Version)
		inner.ServeHTTP(w, r)
	})
}

// cors responds to incoming requests and adds the appropriate cors headers
func cors(inner http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			w.Header().Set(`Access-Control-Allow-Origin`, origin)
			w.Header().Set(`Access-Control-Allow-Methods`, strings.Join([]string{
				`DELETE`,
				`GET`,
				`OPTIONS`,
				`PATCH`,
				`POST`,
				`PUT`,
			}, ", "))

			w.Header().Set(`Access-Control-Allow-Headers`, strings.Join([]string{
				`Accept`,
				`Accept-Encoding`,
				`Authorization`,
				`Content-Length`,
				`Content-Type`,
				`X-CSRF-Token`,
				`X-HTTP-Method-Override`,
			}, ", "))
		}

		if r.Method == "OPTIONS" {
			ServeOptions(w, r)
			return
		}

		inner.ServeHTTP(w, r)
	})
}

func requestID(inner http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := uuid.New()
		r.Header.Set("Request-Id", uid.String())
		w.Header().Set("Request-Id", r.Header.Get("Request-Id"))

		inner.ServeHTTP(w, r)
	})
}

func logHandler(inner http.Handler, d Diagnostic) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		l := &responseLogger{w: w}
		inner.ServeHTTP(l, r)
		d.HTTP(
			r.RemoteAddr,
			start,
			r.Method,
			r.URL.RequestURI(),
			r.Proto,
			l.Status(),
			r.Referer(),
			r.UserAgent(),
			r.Header.Get("Request-Id"),
			time.Since(start),
		)
	})
}

func recovery(inner http.Handler, d Diagnostic) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		l := &responseLogger{w: w}
		defer func() {
			if err := recover(); err != nil {
				if l.status == 0 {
					HttpError(l, "internal server error", true, http.StatusInternalServerError)
				}
				d.RecoveryError(
					"encountered error",
					fmt.Sprint(err),
					r.RemoteAddr,
					start,
					r.Method,
					r.URL.RequestURI(),
					r.Proto,
					l.Status(),
					r.Referer(),
					r.UserAgent(),
					r.Header.Get("Request-Id"),
					time.Since(start),
				)
			}
		}()
		inner.ServeHTTP(l, r)
	})
}
