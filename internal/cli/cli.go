package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/pipewatch/pipewatch/internal/config"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It loads the configuration file,
// overlays any flags that were set explicitly, and returns the resolved
// configuration, a boolean indicating if the program should exit cleanly,
// or an ExitError.
func Parse(args []string, output io.Writer) (config.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("pipewatch", flag.ContinueOnError)
	flagSet.SetOutput(output)

	// Custom usage/help text function
	flagSet.Usage = func() {
		fmt.Fprint(output, `
Pipewatch - a webhook-driven pipeline automation server.

Usage:
  pipewatch [options]

Options:
`)
		flagSet.PrintDefaults()
	}

	defaults := config.Default()
	configFlag := flagSet.String("config", "", "Path to the HCL configuration file.")
	listenFlag := flagSet.String("listen", defaults.Server.Listen, "Address for the HTTP API to listen on.")
	workersFlag := flagSet.Int("workers", defaults.Scheduler.Workers, "Number of concurrent pipeline workers.")
	queueSizeFlag := flagSet.Int("queue-size", defaults.Scheduler.QueueSize, "Maximum number of queued pipeline runs.")
	workspaceFlag := flagSet.String("workspace", defaults.Execution.Workspace, "Root directory for per-run workspaces.")
	logFormatFlag := flagSet.String("log-format", defaults.Log.Format, "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", defaults.Log.Level, "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return config.Config{}, true, nil
		}
		return config.Config{}, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	cfg, err := config.Load(*configFlag)
	if err != nil {
		return config.Config{}, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Configuration file resolved.", "path", *configFlag)

	// Flags set on the command line win over file values. Unset flags
	// keep whatever the file (or the default) decided.
	flagSet.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.Server.Listen = *listenFlag
		case "workers":
			cfg.Scheduler.Workers = *workersFlag
		case "queue-size":
			cfg.Scheduler.QueueSize = *queueSizeFlag
		case "workspace":
			cfg.Execution.Workspace = *workspaceFlag
		case "log-format":
			cfg.Log.Format = strings.ToLower(*logFormatFlag)
		case "log-level":
			cfg.Log.Level = strings.ToLower(*logLevelFlag)
		}
	})

	if cfg.Scheduler.Workers <= 0 {
		return config.Config{}, false, &ExitError{Code: 2, Message: "invalid workers: must be positive"}
	}
	if cfg.Scheduler.QueueSize <= 0 {
		return config.Config{}, false, &ExitError{Code: 2, Message: "invalid queue-size: must be positive"}
	}
	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		return config.Config{}, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return config.Config{}, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}
	slog.Debug("CLI parameter validation complete.")

	return cfg, false, nil
}
