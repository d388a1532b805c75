package httpd_test

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DC-ET/sentry-feishu/services/diagnostic"
	"github.com/DC-ET/sentry-feishu/services/httpd"
	"github.com/google/go-cmp/cmp"
)

var diagService = diagnostic.NewService(diagnostic.NewConfig(), io.Discard, io.Discard)

func newHandler(secret string) *httpd.Handler {
	h := httpd.NewHandler(true, secret, diagService.NewHTTPDHandler())
	h.Version = "test"
	return h
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(method, target, strings.NewReader(body))
	h.ServeHTTP(w, r)
	return w
}

func TestHandler_Ping(t *testing.T) {
	h := newHandler("")
	for _, method := range []string{"GET", "HEAD"} {
		w := do(h, method, httpd.BasePath+"/ping", "")
		if w.Code != http.StatusNoContent {
			t.Errorf("%s: unexpected status %d", method, w.Code)
		}
		if got := w.Header().Get("X-Sentry-Feishu-Version"); got != "test" {
			t.Errorf("%s: unexpected version header %q", method, got)
		}
		if w.Header().Get("Request-Id") == "" {
			t.Errorf("%s: missing Request-Id", method)
		}
	}
}

func TestHandler_AddDelRoutes(t *testing.T) {
	h := newHandler("")
	routes := []httpd.Route{{
		Method:  "GET",
		Pattern: "/things/:id",
		HandlerFunc: func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, `{"id":%q}`, httpd.Param(r, "id"))
		},
	}}
	if err := h.AddRoutes(routes); err != nil {
		t.Fatal(err)
	}
	w := do(h, "GET", httpd.BasePath+"/things/abc", "")
	if w.Code != http.StatusOK || w.Body.String() != `{"id":"abc"}` {
		t.Fatalf("unexpected response %d %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("unexpected content type %q", ct)
	}

	if err := h.AddRoutes(routes); err == nil {
		t.Error("expected error adding a route twice")
	}
	if err := h.AddRoutes([]httpd.Route{{Method: "GET", Pattern: "/things/:other", HandlerFunc: httpd.ServeOptions}}); err == nil {
		t.Error("expected error for conflicting wildcard")
	}
	if err := h.AddRoutes([]httpd.Route{{Method: "GET", Pattern: "things", HandlerFunc: httpd.ServeOptions}}); err == nil {
		t.Error("expected error for relative pattern")
	}
	// Failed additions leave the existing routes in place.
	if w := do(h, "GET", httpd.BasePath+"/things/abc", ""); w.Code != http.StatusOK {
		t.Errorf("route lost after failed add: %d", w.Code)
	}

	h.DelRoutes(routes)
	w = do(h, "GET", httpd.BasePath+"/things/abc", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("unexpected status after delete %d", w.Code)
	}
	if got, exp := w.Body.String(), "{\n    \"error\": \"Not Found\"\n}"; got != exp {
		t.Errorf("unexpected body got %q exp %q", got, exp)
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	h := newHandler("")
	w := do(h, "DELETE", httpd.BasePath+"/ping", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("unexpected status %d", w.Code)
	}
}

func TestHandler_SharedSecret(t *testing.T) {
	h := newHandler("s3cret")
	testCases := []struct {
		name   string
		target string
		header string
		code   int
	}{
		{name: "no credentials", target: "/routes", code: http.StatusUnauthorized},
		{name: "wrong token", target: "/routes?token=nope", code: http.StatusUnauthorized},
		{name: "query token", target: "/routes?token=s3cret", code: http.StatusOK},
		{name: "bearer token", target: "/routes", header: "Bearer s3cret", code: http.StatusOK},
		{name: "ping is open", target: "/ping", code: http.StatusNoContent},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest("GET", httpd.BasePath+tc.target, nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			h.ServeHTTP(w, r)
			if w.Code != tc.code {
				t.Errorf("unexpected status got %d exp %d", w.Code, tc.code)
			}
		})
	}
}

func TestHandler_CORS(t *testing.T) {
	h := newHandler("s3cret")
	w := httptest.NewRecorder()
	r := httptest.NewRequest("OPTIONS", httpd.BasePath+"/projects", nil)
	r.Header.Set("Origin", "https://console.example.com")
	h.ServeHTTP(w, r)
	if w.Code != http.StatusNoContent {
		t.Errorf("unexpected status %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://console.example.com" {
		t.Errorf("unexpected allow origin %q", got)
	}
}

func TestHandler_Recovery(t *testing.T) {
	h := newHandler("")
	if err := h.AddRoutes([]httpd.Route{{
		Method:      "POST",
		Pattern:     "/boom",
		HandlerFunc: func(http.ResponseWriter, *http.Request) { panic("boom") },
	}}); err != nil {
		t.Fatal(err)
	}
	w := do(h, "POST", httpd.BasePath+"/boom", "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("unexpected status %d", w.Code)
	}
}

type levels struct {
	level string
}

func (l *levels) SetLogLevelFromName(lvl string) error {
	if lvl != "DEBUG" && lvl != "INFO" {
		return fmt.Errorf("unknown log level %q", lvl)
	}
	l.level = lvl
	return nil
}

func (l *levels) Level() string {
	return l.level
}

func TestHandler_LogLevel(t *testing.T) {
	h := newHandler("")
	if w := do(h, "POST", httpd.BasePath+"/loglevel", `{"level":"DEBUG"}`); w.Code != http.StatusNotImplemented {
		t.Errorf("unexpected status without diag service %d", w.Code)
	}

	l := &levels{level: "INFO"}
	h.DiagService = l
	if w := do(h, "POST", httpd.BasePath+"/loglevel", `{"level":"DEBUG"}`); w.Code != http.StatusNoContent {
		t.Errorf("unexpected status %d: %s", w.Code, w.Body.String())
	}
	if l.level != "DEBUG" {
		t.Errorf("level not changed: %s", l.level)
	}
	if w := do(h, "POST", httpd.BasePath+"/loglevel", `{"level":"LOUD"}`); w.Code != http.StatusBadRequest {
		t.Errorf("unexpected status for bad level %d", w.Code)
	}
	if w := do(h, "POST", httpd.BasePath+"/loglevel", `{`); w.Code != http.StatusBadRequest {
		t.Errorf("unexpected status for bad json %d", w.Code)
	}

	w := do(h, "GET", httpd.BasePath+"/loglevel", "")
	var got map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if exp := map[string]string{"level": "DEBUG"}; !cmp.Equal(exp, got) {
		t.Errorf("unexpected level -exp/+got:\n%s", cmp.Diff(exp, got))
	}
}

func TestHandler_Routes(t *testing.T) {
	h := newHandler("")
	w := do(h, "GET", httpd.BasePath+"/routes", "")
	var got map[string][]string
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	exp := map[string][]string{
		httpd.BasePath + "/ping":     {"GET", "HEAD"},
		httpd.BasePath + "/routes":   {"GET"},
		httpd.BasePath + "/loglevel": {"GET", "POST"},
	}
	if !cmp.Equal(exp, got) {
		t.Errorf("unexpected routes -exp/+got:\n%s", cmp.Diff(exp, got))
	}
}

func TestConfig_Validate(t *testing.T) {
	testCases := []struct {
		c     func(c *httpd.Config)
		valid bool
	}{
		{c: func(c *httpd.Config) {}, valid: true},
		{c: func(c *httpd.Config) { c.BindAddress = "localhost" }},
		{c: func(c *httpd.Config) { c.BindAddress = ":99999" }},
		{c: func(c *httpd.Config) { c.HttpsEnabled = true; c.HttpsCertificate = "" }},
	}
	for i, tc := range testCases {
		c := httpd.NewConfig()
		tc.c(&c)
		err := c.Validate()
		if tc.valid && err != nil {
			t.Errorf("%d: unexpected error %v", i, err)
		} else if !tc.valid && err == nil {
			t.Errorf("%d: expected error", i)
		}
	}
}
