package diagnostic_test

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/DC-ET/sentry-feishu/keyvalue"
	"github.com/DC-ET/sentry-feishu/services/diagnostic"
	"github.com/google/go-cmp/cmp"
)

func openJSON(t *testing.T, level string) (*diagnostic.Service, *bytes.Buffer) {
	t.Helper()
	buf := new(bytes.Buffer)
	c := diagnostic.NewConfig()
	c.Format = "json"
	c.Level = level
	s := diagnostic.NewService(c, nil, buf)
	if err := s.Open(); err != nil {
		t.Fatal(err)
	}
	return s, buf
}

func entries(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var got []map[string]interface{}
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		m := make(map[string]interface{})
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("invalid log line %q: %v", sc.Text(), err)
		}
		// Timestamps vary between runs.
		delete(m, "ts")
		got = append(got, m)
	}
	return got
}

func TestService_HandlersTagService(t *testing.T) {
	s, buf := openJSON(t, "DEBUG")
	defer s.Close()

	s.NewFeishuHandler().WithContext(keyvalue.KV("project", "web")).Error("failed", errors.New("boom"))
	s.NewSentryHandler().WithContext(keyvalue.KV("event", "abc")).Skipped("project disabled")
	s.NewServerHandler().Info("opened", keyvalue.KV("addr", ":8080"))

	exp := []map[string]interface{}{
		{"lvl": "error", "msg": "failed", "service": "feishu", "project": "web", "error": "boom"},
		{"lvl": "debug", "msg": "skipped event", "service": "sentry", "event": "abc", "reason": "project disabled"},
		{"lvl": "info", "msg": "opened", "service": "server", "addr": ":8080"},
	}
	if got := entries(t, buf); !cmp.Equal(got, exp) {
		t.Errorf("unexpected log entries -want/+got\n%s", cmp.Diff(exp, got))
	}
}

func TestService_SetLogLevelFromName(t *testing.T) {
	s, buf := openJSON(t, "INFO")
	defer s.Close()
	h := s.NewServerHandler()

	h.Debug("hidden")
	if err := s.SetLogLevelFromName("debug"); err != nil {
		t.Fatal(err)
	}
	h.Debug("shown")
	if got, exp := s.Level(), "DEBUG"; got != exp {
		t.Errorf("unexpected level got %s exp %s", got, exp)
	}
	if err := s.SetLogLevelFromName("verbose"); err == nil {
		t.Error("expected error for unknown level")
	}

	got := entries(t, buf)
	if len(got) != 1 || got[0]["msg"] != "shown" {
		t.Errorf("unexpected entries %v", got)
	}
}

func TestService_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "sentry-feishu.log")
	c := diagnostic.NewConfig()
	c.File = path
	s := diagnostic.NewService(c, nil, nil)
	if err := s.Open(); err != nil {
		t.Fatal(err)
	}
	s.NewCmdHandler().Info("hello")
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(data, []byte("hello")) {
		t.Errorf("log file missing entry: %q", data)
	}
}

func TestConfig_Validate(t *testing.T) {
	testCases := []struct {
		c     diagnostic.Config
		valid bool
	}{
		{c: diagnostic.NewConfig(), valid: true},
		{c: diagnostic.Config{Level: "warn", Format: "json"}, valid: true},
		{c: diagnostic.Config{Level: "trace", Format: "json"}},
		{c: diagnostic.Config{Level: "INFO", Format: "xml"}},
	}
	for i, tc := range testCases {
		err := tc.c.Validate()
		if tc.valid && err != nil {
			t.Errorf("%d: unexpected error: %v", i, err)
		} else if !tc.valid && err == nil {
			t.Errorf("%d: expected error", i)
		}
	}
}
