package diagnostic

import (
	"log"
	"runtime"
	"time"

	"github.com/DC-ET/sentry-feishu/keyvalue"
	"github.com/DC-ET/sentry-feishu/services/feishu"
	"github.com/DC-ET/sentry-feishu/services/sentry"
	"go.uber.org/zap"
)

func Err(l *zap.Logger, msg string, err error, ctx []keyvalue.T) {
	if len(ctx) == 0 {
		l.Error(msg, zap.Error(err))
		return
	}
	l.Error(msg, append([]zap.Field{zap.Error(err)}, contextFields(ctx)...)...)
}

func Info(l *zap.Logger, msg string, ctx []keyvalue.T) {
	if len(ctx) == 0 {
		l.Info(msg)
		return
	}
	l.Info(msg, contextFields(ctx)...)
}

func Debug(l *zap.Logger, msg string, ctx []keyvalue.T) {
	if len(ctx) == 0 {
		l.Debug(msg)
		return
	}
	l.Debug(msg, contextFields(ctx)...)
}

// Feishu handler

type FeishuHandler struct {
	l *zap.Logger
}

func (h *FeishuHandler) WithContext(ctx ...keyvalue.T) feishu.Diagnostic {
	return &FeishuHandler{
		l: h.l.With(contextFields(ctx)...),
	}
}

func (h *FeishuHandler) InsecureSkipVerify() {
	h.l.Warn("service is configured to skip ssl verification")
}

func (h *FeishuHandler) Sent(host string, status int) {
	h.l.Debug("posted card", zap.String("host", host), zap.Int("status", status))
}

func (h *FeishuHandler) Error(msg string, err error) {
	h.l.Error(msg, zap.Error(err))
}

// Sentry handler

type SentryHandler struct {
	l *zap.Logger
}

func (h *SentryHandler) WithContext(ctx ...keyvalue.T) sentry.Diagnostic {
	return &SentryHandler{
		l: h.l.With(contextFields(ctx)...),
	}
}

func (h *SentryHandler) Skipped(reason string) {
	h.l.Debug("skipped event", zap.String("reason", reason))
}

func (h *SentryHandler) Notified(environment string) {
	h.l.Info("notified", zap.String("environment", environment))
}

func (h *SentryHandler) Error(msg string, err error) {
	h.l.Error(msg, zap.Error(err))
}

// Projects handler

type ProjectsHandler struct {
	l *zap.Logger
}

func (h *ProjectsHandler) Saved(slug string) {
	h.l.Info("saved project options", zap.String("project", slug))
}

func (h *ProjectsHandler) Deleted(slug string) {
	h.l.Info("deleted project options", zap.String("project", slug))
}

func (h *ProjectsHandler) Error(msg string, err error) {
	h.l.Error(msg, zap.Error(err))
}

// Storage handler

type StorageHandler struct {
	l *zap.Logger
}

func (h *StorageHandler) Error(msg string, err error) {
	h.l.Error(msg, zap.Error(err))
}

// HTTPD handler

type HTTPDHandler struct {
	l *zap.Logger
}

func (h *HTTPDHandler) NewHTTPServerErrorLogger() *log.Logger {
	l, err := zap.NewStdLogAt(h.l.With(zap.String("service", "httpd_server_errors")), zap.ErrorLevel)
	if err != nil {
		return zap.NewStdLog(h.l)
	}
	return l
}

func (h *HTTPDHandler) StartingService() {
	h.l.Info("starting HTTP service")
}

func (h *HTTPDHandler) StoppedService() {
	h.l.Info("closed HTTP service")
}

func (h *HTTPDHandler) ShutdownTimeout() {
	h.l.Error("shutdown timedout, forcefully closing all remaining connections")
}

func (h *HTTPDHandler) AuthenticationEnabled(enabled bool) {
	h.l.Info("authentication", zap.Bool("enabled", enabled))
}

func (h *HTTPDHandler) ListeningOn(addr string, proto string) {
	h.l.Info("listening on", zap.String("addr", addr), zap.String("protocol", proto))
}

func (h *HTTPDHandler) LogLevelChanged(level string) {
	h.l.Info("log level changed", zap.String("level", level))
}

func (h *HTTPDHandler) HTTP(
	host string,
	start time.Time,
	method string,
	uri string,
	proto string,
	status int,
	referer string,
	userAgent string,
	reqID string,
	duration time.Duration,
) {
	h.l.Info("http request",
		zap.String("host", host),
		zap.Time("start", start),
		zap.String("method", method),
		zap.String("uri", uri),
		zap.String("protocol", proto),
		zap.Int("status", status),
		zap.String("referer", referer),
		zap.String("user-agent", userAgent),
		zap.String("request-id", reqID),
		zap.Duration("duration", duration),
	)
}

func (h *HTTPDHandler) RecoveryError(
	msg string,
	err string,
	host string,
	start time.Time,
	method string,
	uri string,
	proto string,
	status int,
	referer string,
	userAgent string,
	reqID string,
	duration time.Duration,
) {
	h.l.Error(
		msg,
		zap.String("err", err),
		zap.String("host", host),
		zap.Time("start", start),
		zap.String("method", method),
		zap.String("uri", uri),
		zap.String("protocol", proto),
		zap.Int("status", status),
		zap.String("referer", referer),
		zap.String("user-agent", userAgent),
		zap.String("request-id", reqID),
		zap.Duration("duration", duration),
	)
}

func (h *HTTPDHandler) Error(msg string, err error) {
	h.l.Error(msg, zap.Error(err))
}

// Server handler

type ServerHandler struct {
	l *zap.Logger
}

func (h *ServerHandler) Error(msg string, err error, ctx ...keyvalue.T) {
	Err(h.l, msg, err, ctx)
}

func (h *ServerHandler) Info(msg string, ctx ...keyvalue.T) {
	Info(h.l, msg, ctx)
}

func (h *ServerHandler) Debug(msg string, ctx ...keyvalue.T) {
	Debug(h.l, msg, ctx)
}

// Cmd handler

type CmdHandler struct {
	l *zap.Logger
}

func (h *CmdHandler) Error(msg string, err error) {
	h.l.Error(msg, zap.Error(err))
}

func (h *CmdHandler) Starting(version, commit string) {
	h.l.Info("sentry-feishu starting", zap.String("version", version), zap.String("commit", commit))
}

func (h *CmdHandler) GoVersion() {
	h.l.Info("go version", zap.String("version", runtime.Version()))
}

func (h *CmdHandler) Info(msg string) {
	h.l.Info(msg)
}
