package feishu_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/DC-ET/sentry-feishu/keyvalue"
	"github.com/DC-ET/sentry-feishu/services/diagnostic"
	"github.com/DC-ET/sentry-feishu/services/feishu"
	"github.com/DC-ET/sentry-feishu/services/feishu/feishutest"
	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"
)

var diagService *diagnostic.Service

func init() {
	diagService = diagnostic.NewService(diagnostic.NewConfig(), io.Discard, io.Discard)
	diagService.Open()
}

var triggerTime = time.Date(2022, time.March, 4, 5, 6, 7, 0, time.Local)

func newService(t *testing.T, c feishu.Config) *feishu.Service {
	t.Helper()
	s, err := feishu.NewService(c, diagService.NewFeishuHandler())
	if err != nil {
		t.Fatal(err)
	}
	mock := clock.NewMock()
	mock.Set(triggerTime)
	s.Clock = mock
	return s
}

func text(s string) feishu.Text {
	return feishu.Text{Content: s, Tag: "lark_md"}
}

func expCard(footer *feishu.Text, detailsURL string) feishu.Card {
	card := feishu.Card{
		Config: feishu.CardConfig{WideScreenMode: true},
		Header: feishu.Header{
			Template: "red",
			Title:    feishu.Text{Content: "📢 服务告警通知", Tag: "plain_text"},
		},
		Elements: []feishu.Element{{
			Tag: "div",
			Fields: []feishu.Field{
				{IsShort: true, Text: text("**🗳 系统名称**\n web")},
				{IsShort: true, Text: text("**📍 环境信息**\n production")},
				{IsShort: false, Text: text("")},
				{IsShort: true, Text: text("**🕙 触发时间**\n 2022-03-04  05:06:07")},
				{IsShort: true, Text: text("**📩 错误摘要**\n ZeroDivisionError: division by zero")},
			},
		}},
	}
	if footer != nil {
		card.Elements = append(card.Elements, feishu.Element{Tag: "div", Text: footer})
	}
	if detailsURL != "" {
		card.Elements = append(card.Elements, feishu.Element{
			Tag: "action",
			Actions: []feishu.Action{{
				Tag:  "button",
				Text: feishu.Text{Content: "查看告警详情", Tag: "plain_text"},
				Type: "danger",
				URL:  detailsURL,
			}},
		})
	}
	return card
}

func notification() feishu.Notification {
	return feishu.Notification{
		Project:     "web",
		Environment: "production",
		Message:     "ZeroDivisionError: division by zero",
	}
}

func TestService_Alert(t *testing.T) {
	footer := text("😊 Sentry 地址：https://sentry.example.com \n值班：@ops \n\n")
	testCases := []struct {
		name       string
		sentryURL  string
		info       []string
		detailsURL string
		exp        feishu.Card
	}{
		{
			name: "bare",
			exp:  expCard(nil, ""),
		},
		{
			name:       "footer and details",
			sentryURL:  "https://sentry.example.com",
			info:       []string{"值班：@ops"},
			detailsURL: "https://sentry.example.com/organizations/acme/issues/1/events/abc/",
			exp:        expCard(&footer, "https://sentry.example.com/organizations/acme/issues/1/events/abc/"),
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ts := feishutest.NewServer()
			defer ts.Close()

			c := feishu.NewConfig()
			c.Enabled = true
			c.URL = ts.URL + "/open-apis/bot/v2/hook/xxx"
			c.SentryURL = tc.sentryURL
			c.Info = tc.info
			s := newService(t, c)

			n := notification()
			n.DetailsURL = tc.detailsURL
			if err := s.Alert("", "", n); err != nil {
				t.Fatal(err)
			}

			got := ts.Requests()
			exp := []feishutest.Request{{
				URL: "/open-apis/bot/v2/hook/xxx",
				Message: feishu.Message{
					MsgType: "interactive",
					Content: tc.exp,
				},
			}}
			ignoreRaw := cmp.FilterPath(func(p cmp.Path) bool {
				return p.Last().String() == ".Raw"
			}, cmp.Ignore())
			if !cmp.Equal(exp, got, ignoreRaw) {
				t.Errorf("unexpected request -exp/+got:\n%s", cmp.Diff(exp, got, ignoreRaw))
			}
		})
	}
}

func TestService_AlertSigned(t *testing.T) {
	ts := feishutest.NewServer()
	defer ts.Close()

	c := feishu.NewConfig()
	c.Enabled = true
	c.URL = ts.URL + "/default"
	c.Secret = "default-secret"
	s := newService(t, c)

	if err := s.Alert(ts.URL+"/project", "project-secret", notification()); err != nil {
		t.Fatal(err)
	}
	if err := s.Alert("", "", notification()); err != nil {
		t.Fatal(err)
	}

	got := ts.Requests()
	if len(got) != 2 {
		t.Fatalf("unexpected number of requests got %d exp 2", len(got))
	}
	ts64 := triggerTime.Unix()
	checks := []struct {
		url    string
		secret string
	}{
		{url: "/project", secret: "project-secret"},
		{url: "/default", secret: "default-secret"},
	}
	for i, exp := range checks {
		r := got[i]
		if r.URL != exp.url {
			t.Errorf("%d: unexpected url got %s exp %s", i, r.URL, exp.url)
		}
		if r.Message.Timestamp != strconv.FormatInt(ts64, 10) {
			t.Errorf("%d: unexpected timestamp %s", i, r.Message.Timestamp)
		}
		if r.Message.Sign != feishu.Sign(exp.secret, ts64) {
			t.Errorf("%d: unexpected sign %s", i, r.Message.Sign)
		}
	}
}

func TestService_AlertUnsignedOmitsSignature(t *testing.T) {
	ts := feishutest.NewServer()
	defer ts.Close()

	c := feishu.NewConfig()
	c.Enabled = true
	s := newService(t, c)
	if err := s.Alert(ts.URL, "", notification()); err != nil {
		t.Fatal(err)
	}
	raw := string(ts.Requests()[0].Raw)
	if strings.Contains(raw, `"sign"`) || strings.Contains(raw, `"timestamp"`) {
		t.Errorf("unexpected signature fields in %s", raw)
	}
}

func TestSign(t *testing.T) {
	if got, exp := feishu.Sign("demo", 1599360473), "l1N0gAcBjdwBvGm1xMjOF0XSyaLRpR7tuO5dHfhAYc8="; got != exp {
		t.Errorf("unexpected sign got %s exp %s", got, exp)
	}
}

func TestService_AlertErrors(t *testing.T) {
	testCases := []struct {
		name   string
		status int
		body   string
		err    string
	}{
		{
			name:   "api error",
			status: http.StatusOK,
			body:   `{"code":19021,"msg":"sign match fail or timestamp is not within one hour from current time"}`,
			err:    "Feishu error 19021: sign match fail or timestamp is not within one hour from current time",
		},
		{
			name:   "legacy api error",
			status: http.StatusOK,
			body:   `{"StatusCode":9499,"StatusMessage":"Bad Request"}`,
			err:    "Feishu error 9499: Bad Request",
		},
		{
			name:   "http error with message",
			status: http.StatusBadRequest,
			body:   `{"code":9499,"msg":"bad request"}`,
			err:    "Feishu responded with status 400: bad request",
		},
		{
			name:   "http error without json",
			status: http.StatusBadGateway,
			body:   `upstream gone`,
			err:    "failed to understand Feishu response. code: 502 content: upstream gone",
		},
		{
			name:   "ok without json",
			status: http.StatusOK,
			body:   `ok`,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ts := feishutest.NewServerWithResponse(tc.status, tc.body)
			defer ts.Close()

			c := feishu.NewConfig()
			c.Enabled = true
			c.URL = ts.URL
			s := newService(t, c)
			err := s.Alert("", "", notification())
			switch {
			case tc.err == "" && err != nil:
				t.Fatalf("unexpected error: %v", err)
			case tc.err != "" && err == nil:
				t.Fatalf("expected error %q", tc.err)
			case tc.err != "" && err.Error() != tc.err:
				t.Errorf("unexpected error got %q exp %q", err.Error(), tc.err)
			}
		})
	}
}

func TestService_AlertNotConfigured(t *testing.T) {
	ts := feishutest.NewServer()
	defer ts.Close()

	s := newService(t, feishu.NewConfig())
	if err := s.Alert(ts.URL, "", notification()); err == nil || err.Error() != "service is not enabled" {
		t.Errorf("unexpected error %v", err)
	}

	c := feishu.NewConfig()
	c.Enabled = true
	if err := s.Update([]interface{}{c}); err != nil {
		t.Fatal(err)
	}
	if err := s.Alert("", "", notification()); err == nil || err.Error() != "no Feishu webhook URL" {
		t.Errorf("unexpected error %v", err)
	}
	if len(ts.Requests()) != 0 {
		t.Error("expected no requests")
	}
}

func TestService_Update(t *testing.T) {
	s := newService(t, feishu.NewConfig())
	if s.Enabled() || s.Global() {
		t.Fatal("expected disabled service")
	}

	c := feishu.NewConfig()
	c.Enabled = true
	c.Global = true
	c.URL = "https://open.feishu.cn/open-apis/bot/v2/hook/abc"
	c.Secret = "s"
	if err := s.Update([]interface{}{c}); err != nil {
		t.Fatal(err)
	}
	if !s.Enabled() || !s.Global() {
		t.Error("expected enabled global service")
	}
	if u, secret := s.DefaultTarget(); u != c.URL || secret != "s" {
		t.Errorf("unexpected default target %s %s", u, secret)
	}

	bad := feishu.NewConfig()
	bad.Enabled = true
	bad.Global = true
	if err := s.Update([]interface{}{bad}); err == nil {
		t.Error("expected validation error")
	}
	if err := s.Update([]interface{}{c, c}); err == nil {
		t.Error("expected error for two configs")
	}
	if err := s.Update([]interface{}{"config"}); err == nil {
		t.Error("expected error for wrong type")
	}
	if !s.Global() {
		t.Error("failed update changed the config")
	}
}

func TestService_Test(t *testing.T) {
	ts := feishutest.NewServer()
	defer ts.Close()

	c := feishu.NewConfig()
	c.Enabled = true
	c.URL = ts.URL
	s := newService(t, c)

	if err := s.Test(s.TestOptions()); err != nil {
		t.Fatal(err)
	}
	got := ts.Requests()
	if len(got) != 1 {
		t.Fatalf("unexpected number of requests %d", len(got))
	}
	if f := got[0].Message.Content.Elements[0].Fields[0].Text.Content; f != "**🗳 系统名称**\n test-project" {
		t.Errorf("unexpected project field %q", f)
	}
	if err := s.Test("nope"); err == nil {
		t.Error("expected error for bad options")
	}
}

func TestHandler_Handle(t *testing.T) {
	ts := feishutest.NewServerWithResponse(http.StatusOK, `{"code":1,"msg":"nope"}`)
	defer ts.Close()

	c := feishu.NewConfig()
	c.Enabled = true
	s := newService(t, c)
	h := s.Handler(feishu.HandlerConfig{URL: ts.URL})
	if err := h.Handle(notification()); err == nil {
		t.Error("expected error from handler")
	}
	if len(ts.Requests()) != 1 {
		t.Error("expected handler to post")
	}
}

func TestHandler_LogsHostOnly(t *testing.T) {
	ts := feishutest.NewServer()
	defer ts.Close()

	var buf bytes.Buffer
	dc := diagnostic.NewConfig()
	dc.Format = "json"
	dc.Level = "DEBUG"
	ds := diagnostic.NewService(dc, nil, &buf)
	if err := ds.Open(); err != nil {
		t.Fatal(err)
	}
	defer ds.Close()

	c := feishu.NewConfig()
	c.Enabled = true
	s, err := feishu.NewService(c, ds.NewFeishuHandler())
	if err != nil {
		t.Fatal(err)
	}
	hook := ts.URL + "/open-apis/bot/v2/hook/token-1234"
	h := s.Handler(feishu.HandlerConfig{URL: hook}, keyvalue.KV("project", "web"))
	if err := h.Handle(notification()); err != nil {
		t.Fatal(err)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("invalid log line %q: %v", buf.String(), err)
	}
	delete(entry, "ts")
	exp := map[string]interface{}{
		"lvl":     "debug",
		"msg":     "posted card",
		"service": "feishu",
		"project": "web",
		"host":    strings.TrimPrefix(ts.URL, "http://"),
		"status":  float64(http.StatusOK),
	}
	if !cmp.Equal(exp, entry) {
		t.Errorf("unexpected log entry -want/+got\n%s", cmp.Diff(exp, entry))
	}
	if strings.Contains(buf.String(), "token-1234") {
		t.Errorf("hook token logged: %s", buf.String())
	}
}
