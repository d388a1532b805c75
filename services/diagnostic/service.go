package diagnostic

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/DC-ET/sentry-feishu/keyvalue"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Service owns the root logger and hands out per-service handlers.
type Service struct {
	c      Config
	stdout io.Writer
	stderr io.Writer

	mu     sync.Mutex
	closer io.Closer
	level  zap.AtomicLevel

	Logger *zap.Logger
}

func NewService(c Config, stdout, stderr io.Writer) *Service {
	return &Service{
		c:      c,
		stdout: stdout,
		stderr: stderr,
		level:  zap.NewAtomicLevel(),
		Logger: zap.NewNop(),
	}
}

// BootstrapMainHandler logs to stderr until the configuration is loaded.
func BootstrapMainHandler() *CmdHandler {
	s := NewService(NewConfig(), nil, os.Stderr)
	if err := s.Open(); err != nil {
		return &CmdHandler{l: zap.NewNop()}
	}
	return s.NewCmdHandler()
}

func (s *Service) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var output io.Writer
	switch s.c.File {
	case "STDERR", "":
		output = s.stderr
	case "STDOUT":
		output = s.stdout
	default:
		dir := filepath.Dir(s.c.File)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
		f, err := os.OpenFile(s.c.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			return err
		}
		output = f
		s.closer = f
	}

	l, err := parseLevel(s.c.Level)
	if err != nil {
		return err
	}
	s.level.SetLevel(l)

	s.Logger = zap.New(zapcore.NewCore(newEncoder(s.c.Format), zapcore.AddSync(output), s.level))
	return nil
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.Logger.Sync()
	if s.closer != nil {
		err := s.closer.Close()
		s.closer = nil
		return err
	}
	return nil
}

// SetLogLevelFromName changes the level of every logger handed out so far.
func (s *Service) SetLogLevelFromName(lvl string) error {
	l, err := parseLevel(lvl)
	if err != nil {
		return err
	}
	s.level.SetLevel(l)
	return nil
}

// Level reports the current log level name.
func (s *Service) Level() string {
	return strings.ToUpper(s.level.Level().String())
}

func parseLevel(lvl string) (zapcore.Level, error) {
	switch strings.ToUpper(lvl) {
	case "DEBUG":
		return zapcore.DebugLevel, nil
	case "INFO", "":
		return zapcore.InfoLevel, nil
	case "WARN":
		return zapcore.WarnLevel, nil
	case "ERROR":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", lvl)
	}
}

func newEncoder(format string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "ts"
	ec.LevelKey = "lvl"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeDuration = zapcore.StringDurationEncoder
	if strings.ToLower(format) == "json" {
		return zapcore.NewJSONEncoder(ec)
	}
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(ec)
}

func contextFields(ctx []keyvalue.T) []zap.Field {
	fields := make([]zap.Field, len(ctx))
	for i, kv := range ctx {
		fields[i] = zap.String(kv.Key, kv.Value)
	}
	return fields
}

func (s *Service) named(service string) *zap.Logger {
	return s.Logger.With(zap.String("service", service))
}

func (s *Service) NewFeishuHandler() *FeishuHandler {
	return &FeishuHandler{l: s.named("feishu")}
}

func (s *Service) NewSentryHandler() *SentryHandler {
	return &SentryHandler{l: s.named("sentry")}
}

func (s *Service) NewProjectsHandler() *ProjectsHandler {
	return &ProjectsHandler{l: s.named("projects")}
}

func (s *Service) NewStorageHandler() *StorageHandler {
	return &StorageHandler{l: s.named("storage")}
}

func (s *Service) NewHTTPDHandler() *HTTPDHandler {
	return &HTTPDHandler{l: s.named("http")}
}

func (s *Service) NewServerHandler() *ServerHandler {
	return &ServerHandler{l: s.named("server")}
}

func (s *Service) NewCmdHandler() *CmdHandler {
	return &CmdHandler{l: s.named("run")}
}
