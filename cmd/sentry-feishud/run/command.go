package run

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/DC-ET/sentry-feishu/server"
	"github.com/DC-ET/sentry-feishu/services/diagnostic"
)

type Diagnostic interface {
	Error(msg string, err error)
	Starting(version, commit string)
	GoVersion()
	Info(msg string)
}

// Options represents the command line options of the run command.
type Options struct {
	ConfigPath string
	EnvFile    string
	PIDFile    string
	Hostname   string
	LogFile    string
	LogLevel   string
}

// Command represents the command executed by "sentry-feishud run".
type Command struct {
	Version string
	Branch  string
	Commit  string

	closeOnce sync.Once
	closing   chan struct{}
	Closed    chan struct{}

	Stdout io.Writer
	Stderr io.Writer

	Server *server.Server
	Diag   Diagnostic

	options     Options
	diagService *diagnostic.Service
}

// NewCommand return a new instance of Command.
func NewCommand() *Command {
	return &Command{
		closing: make(chan struct{}),
		Closed:  make(chan struct{}),
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}
}

// Run loads the config and starts the server.
func (cmd *Command) Run(options Options) error {
	cmd.options = options

	config, err := LoadConfig(options)
	if err != nil {
		return err
	}

	// Initialize Logging Services
	cmd.diagService = diagnostic.NewService(config.Logging, cmd.Stdout, cmd.Stderr)
	if err := cmd.diagService.Open(); err != nil {
		return fmt.Errorf("init logging: %s", err)
	}
	cmd.Diag = cmd.diagService.NewCmdHandler()

	// Mark start-up in log.
	cmd.Diag.Starting(cmd.Version, cmd.Commit)
	cmd.Diag.GoVersion()

	// Write the PID file.
	if err := writePIDFile(options.PIDFile); err != nil {
		return fmt.Errorf("write pid file: %s", err)
	}

	// Create server from config and start it.
	buildInfo := server.BuildInfo{Version: cmd.Version, Commit: cmd.Commit, Branch: cmd.Branch}
	s, err := server.New(config, buildInfo, cmd.diagService)
	if err != nil {
		return fmt.Errorf("create server: %s", err)
	}
	if err := s.Open(); err != nil {
		return fmt.Errorf("open server: %s", err)
	}
	cmd.Server = s

	// Begin monitoring the server's error channel.
	go cmd.monitorServerErrors()

	return nil
}

// Reload reads the configuration again and applies what can change
// without a restart.
func (cmd *Command) Reload() error {
	config, err := LoadConfig(cmd.options)
	if err != nil {
		return err
	}
	return cmd.Server.Reload(config)
}

// Close shuts down the server.
func (cmd *Command) Close() error {
	var err error
	cmd.closeOnce.Do(func() {
		defer close(cmd.Closed)
		close(cmd.closing)
		if cmd.Server != nil {
			err = cmd.Server.Close()
		}
		if cmd.diagService != nil {
			if cerr := cmd.diagService.Close(); err == nil {
				err = cerr
			}
		}
	})
	return err
}

func (cmd *Command) monitorServerErrors() {
	for {
		select {
		case err := <-cmd.Server.Err():
			if err != nil {
				cmd.Diag.Error("encountered error", err)
			}
		case <-cmd.closing:
			return
		}
	}
}

// writePIDFile writes the process ID to path.
func writePIDFile(path string) error {
	// Ignore if path is not set.
	if path == "" {
		return nil
	}

	// Ensure the required directory structure exists.
	if err := os.MkdirAll(filepath.Dir(path), 0777); err != nil {
		return fmt.Errorf("mkdir: %s", err)
	}

	// Retrieve the PID and write it.
	pid := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(path, []byte(pid), 0666); err != nil {
		return fmt.Errorf("write file: %s", err)
	}
	return nil
}
