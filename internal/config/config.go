// Package config loads the service configuration from an HCL file.
// Every block is optional; absent values fall back to defaults, and
// attribute expressions may reference process environment variables
// through the `env` map:
//
//	server { listen = env.PIPEWATCH_LISTEN }
//	scheduler { workers = 4  queue_size = 64  per_repo_limit = 2 }
//	execution { workspace = "/var/lib/pipewatch"  step_timeout = "10m" }
//	storage { driver = "sqlite"  path = "pipewatch.db" }
//	log { level = "info"  format = "json" }
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// Config is the fully resolved service configuration.
type Config struct {
	Server    Server
	Scheduler Scheduler
	Execution Execution
	Storage   Storage
	Log       Log
}

type Server struct {
	Listen string
}

type Scheduler struct {
	Workers      int
	QueueSize    int
	PerRepoLimit int
}

type Execution struct {
	// Workspace is the root for per-run working directories. Empty
	// means commands run in the process working directory.
	Workspace     string
	StepTimeout   time.Duration
	KeepWorkspace bool
}

type Storage struct {
	// Driver is "memory" or "sqlite".
	Driver string
	// Path is the database file, required for the sqlite driver.
	Path string
	// PoolSize is the sqlite connection pool size; zero picks the
	// driver default.
	PoolSize int
}

type Log struct {
	// Level is "debug", "info", "warn" or "error".
	Level string
	// Format is "text" or "json".
	Format string
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server:    Server{Listen: ":8080"},
		Scheduler: Scheduler{Workers: 4, QueueSize: 64},
		Execution: Execution{StepTimeout: 10 * time.Minute},
		Storage:   Storage{Driver: "memory"},
		Log:       Log{Level: "info", Format: "json"},
	}
}

// HCL decode targets. Pointers distinguish an absent block from an
// empty one; optional attributes default per block below.
type fileConfig struct {
	Server    *serverBlock    `hcl:"server,block"`
	Scheduler *schedulerBlock `hcl:"scheduler,block"`
	Execution *executionBlock `hcl:"execution,block"`
	Storage   *storageBlock   `hcl:"storage,block"`
	Log       *logBlock       `hcl:"log,block"`
}

type serverBlock struct {
	Listen *string `hcl:"listen,optional"`
}

type schedulerBlock struct {
	Workers      *int `hcl:"workers,optional"`
	QueueSize    *int `hcl:"queue_size,optional"`
	PerRepoLimit *int `hcl:"per_repo_limit,optional"`
}

type executionBlock struct {
	Workspace     *string `hcl:"workspace,optional"`
	StepTimeout   *string `hcl:"step_timeout,optional"`
	KeepWorkspace *bool   `hcl:"keep_workspace,optional"`
}

type storageBlock struct {
	Driver   *string `hcl:"driver,optional"`
	Path     *string `hcl:"path,optional"`
	PoolSize *int    `hcl:"pool_size,optional"`
}

type logBlock struct {
	Level  *string `hcl:"level,optional"`
	Format *string `hcl:"format,optional"`
}

// Load reads and validates the configuration file. An empty path
// yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return Parse(path, src)
}

// Parse decodes configuration source. The filename is used in
// diagnostics only.
func Parse(filename string, src []byte) (Config, error) {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return Config{}, fmt.Errorf("config: parsing %s: %s", filename, diags.Error())
	}

	var fc fileConfig
	if diags := gohcl.DecodeBody(file.Body, evalContext(), &fc); diags.HasErrors() {
		return Config{}, fmt.Errorf("config: decoding %s: %s", filename, diags.Error())
	}

	cfg := Default()
	if fc.Server != nil {
		applyString(&cfg.Server.Listen, fc.Server.Listen)
	}
	if fc.Scheduler != nil {
		applyInt(&cfg.Scheduler.Workers, fc.Scheduler.Workers)
		applyInt(&cfg.Scheduler.QueueSize, fc.Scheduler.QueueSize)
		applyInt(&cfg.Scheduler.PerRepoLimit, fc.Scheduler.PerRepoLimit)
	}
	if fc.Execution != nil {
		applyString(&cfg.Execution.Workspace, fc.Execution.Workspace)
		if fc.Execution.KeepWorkspace != nil {
			cfg.Execution.KeepWorkspace = *fc.Execution.KeepWorkspace
		}
		if fc.Execution.StepTimeout != nil {
			d, err := time.ParseDuration(*fc.Execution.StepTimeout)
			if err != nil {
				return Config{}, fmt.Errorf("config: step_timeout: %w", err)
			}
			cfg.Execution.StepTimeout = d
		}
	}
	if fc.Storage != nil {
		applyString(&cfg.Storage.Driver, fc.Storage.Driver)
		applyString(&cfg.Storage.Path, fc.Storage.Path)
		applyInt(&cfg.Storage.PoolSize, fc.Storage.PoolSize)
	}
	if fc.Log != nil {
		applyString(&cfg.Log.Level, fc.Log.Level)
		applyString(&cfg.Log.Format, fc.Log.Format)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("config: workers must be positive, got %d", c.Scheduler.Workers)
	}
	if c.Scheduler.QueueSize <= 0 {
		return fmt.Errorf("config: queue_size must be positive, got %d", c.Scheduler.QueueSize)
	}
	if c.Scheduler.PerRepoLimit < 0 {
		return fmt.Errorf("config: per_repo_limit cannot be negative, got %d", c.Scheduler.PerRepoLimit)
	}
	if c.Execution.StepTimeout < 0 {
		return fmt.Errorf("config: step_timeout cannot be negative")
	}
	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("config: the sqlite driver requires a path")
		}
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: invalid log format %q", c.Log.Format)
	}
	return nil
}

// evalContext exposes the process environment as the `env` map so
// deployments can avoid hardcoding hosts and paths.
func evalContext() *hcl.EvalContext {
	env := map[string]cty.Value{}
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if ok && key != "" {
			env[key] = cty.StringVal(value)
		}
	}
	vars := map[string]cty.Value{}
	if len(env) > 0 {
		vars["env"] = cty.MapVal(env)
	}
	return &hcl.EvalContext{Variables: vars}
}

func applyString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func applyInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}
