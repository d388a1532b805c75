package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DC-ET/sentry-feishu/cmd/sentry-feishud/run"
	"github.com/DC-ET/sentry-feishu/services/diagnostic"
	"github.com/urfave/cli/v2"
)

type Diagnostic run.Diagnostic

// These variables are populated via the Go linker.
var (
	version string
	commit  string
	branch  string
)

func init() {
	// If commit or branch are not set, make that clear.
	if version == "" {
		version = "unknown"
	}
	if commit == "" {
		commit = "unknown"
	}
	if branch == "" {
		branch = "unknown"
	}
}

// shutdownTimeout bounds a clean shutdown after the first signal.
const shutdownTimeout = 30 * time.Second

func main() {
	if err := newApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func configFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "path to the configuration `FILE`",
			EnvVars: []string{"SENTRY_FEISHU_CONFIG_PATH"},
		},
		&cli.StringFlag{
			Name:  "env-file",
			Usage: "load environment variables from `FILE` before applying overrides",
		},
		&cli.StringFlag{
			Name:  "hostname",
			Usage: "override the hostname configuration option",
		},
	}
}

func runFlags() []cli.Flag {
	return append(configFlags(),
		&cli.StringFlag{
			Name:  "pidfile",
			Usage: "write process ID to `FILE`",
		},
		&cli.StringFlag{
			Name:  "log-file",
			Usage: "write logs to `FILE`",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "one of debug, info, warn, error",
		},
	)
}

func options(c *cli.Context) run.Options {
	return run.Options{
		ConfigPath: c.String("config"),
		EnvFile:    c.String("env-file"),
		PIDFile:    c.String("pidfile"),
		Hostname:   c.String("hostname"),
		LogFile:    c.String("log-file"),
		LogLevel:   c.String("log-level"),
	}
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:        "sentry-feishud",
		Usage:       "forward Sentry issue alerts to Feishu group bots",
		Version:     version,
		HideVersion: true,
		Writer:      stdout,
		ErrWriter:   stderr,
		Flags:       runFlags(),
		Action:      runAction,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "start the server (default)",
				Flags:  runFlags(),
				Action: runAction,
			},
			{
				Name:  "config",
				Usage: "display the effective configuration",
				Flags: configFlags(),
				Action: func(c *cli.Context) error {
					if err := run.PrintConfig(c.App.Writer, options(c)); err != nil {
						return fmt.Errorf("config: %s", err)
					}
					return nil
				},
			},
			{
				Name:  "version",
				Usage: "display the version",
				Action: func(c *cli.Context) error {
					_, err := fmt.Fprintf(c.App.Writer, "sentry-feishud %s (git: %s %s)\n", version, branch, commit)
					return err
				},
			},
		},
	}
}

func runAction(c *cli.Context) error {
	var diag Diagnostic = diagnostic.BootstrapMainHandler()

	cmd := run.NewCommand()
	// Tell the server the build details.
	cmd.Version = version
	cmd.Commit = commit
	cmd.Branch = branch
	cmd.Stdout = c.App.Writer
	cmd.Stderr = c.App.ErrWriter

	err := cmd.Run(options(c))
	// Use diagnostic from cmd since it may have special config now.
	if cmd.Diag != nil {
		diag = cmd.Diag
	}
	if err != nil {
		diag.Error("encountered error", err)
		cmd.Close()
		return fmt.Errorf("run: %s", err)
	}

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	diag.Info("listening for signals")

Loop:
	for s := range signalCh {
		switch s {
		case syscall.SIGHUP:
			diag.Info("SIGHUP received, reloading configuration...")
			if err := cmd.Reload(); err != nil {
				diag.Error("failed to reload configuration", err)
			}
		case syscall.SIGTERM:
			diag.Info("SIGTERM received, initializing clean shutdown...")
			go cmd.Close()
			break Loop
		default:
			diag.Info("signal received, initializing clean shutdown...")
			go cmd.Close()
			break Loop
		}
	}

	// Block again until another signal is received, a shutdown timeout elapses,
	// or the Command is gracefully closed
	diag.Info("waiting for clean shutdown...")
	select {
	case <-signalCh:
		diag.Info("second signal received, initializing hard shutdown")
	case <-time.After(shutdownTimeout):
		diag.Info("time limit reached, initializing hard shutdown")
	case <-cmd.Closed:
		diag.Info("server shutdown completed")
	}

	// goodbye.
	return nil
}
