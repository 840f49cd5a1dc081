package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/alecthomas/kingpin/v2"
	"k8s.io/client-go/util/homedir"

	"github.com/slok/runbox/internal/conventions"
	"github.com/slok/runbox/internal/log"
	"github.com/slok/runbox/internal/model"
	"github.com/slok/runbox/internal/printer"
	storageio "github.com/slok/runbox/internal/storage/io"
	utilsenv "github.com/slok/runbox/internal/utils/env"
)

const (
	// LoggerTypeDefault is the logger default type.
	LoggerTypeDefault = "default"
	// LoggerTypeJSON is the logger json type.
	LoggerTypeJSON = "json"

	// RuntimeDocker runs the executions in Docker containers.
	RuntimeDocker = "docker"
	// RuntimeFake simulates the executions in memory.
	RuntimeFake = "fake"

	formatText = "text"
	formatJSON = "json"
)

// Command represents an application command, all commands that want to be executed
// should implement and setup on main.
type Command interface {
	Name() string
	Run(ctx context.Context) error
}

// RootCommand represents the root command configuration and global configuration
// for all the commands.
type RootCommand struct {
	// Global flags.
	Debug       bool
	NoLog       bool
	NoColor     bool
	LoggerType  string
	PolicyPath  string
	StagingRoot string
	Runtime     string
	DockerHost  string
	EnvSpecs    []string

	// Global instances.
	Version string
	Stdin   io.Reader
	Stdout  io.Writer
	Stderr  io.Writer
	Logger  log.Logger

	defaultPolicyPath string
}

// NewRootCommand initializes the main root configuration.
func NewRootCommand(app *kingpin.Application) *RootCommand {
	c := &RootCommand{
		defaultPolicyPath: conventions.PolicyPath(homedir.HomeDir()),
	}

	app.Flag("debug", "Enable debug mode.").BoolVar(&c.Debug)
	app.Flag("no-log", "Disable logger.").BoolVar(&c.NoLog)
	app.Flag("no-color", "Disable logger color.").BoolVar(&c.NoColor)
	app.Flag("logger", "Selects the logger type.").Default(LoggerTypeDefault).EnumVar(&c.LoggerType, LoggerTypeDefault, LoggerTypeJSON)

	app.Flag("policy", "Path to the execution policy YAML file, a missing default file uses the default policy.").Default(c.defaultPolicyPath).StringVar(&c.PolicyPath)
	app.Flag("staging-root", "Host directory where the ref files are staged, overrides the policy.").StringVar(&c.StagingRoot)
	app.Flag("runtime", "Container runtime (docker, fake).").Default(RuntimeDocker).EnumVar(&c.Runtime, RuntimeDocker, RuntimeFake)
	app.Flag("docker-host", "Docker daemon address, by default the Docker environment is used.").StringVar(&c.DockerHost)
	app.Flag("env", "Environment variable set on the execution containers (KEY=VALUE or KEY to inherit). Repeatable.").StringsVar(&c.EnvSpecs)

	return c
}

// LoadPolicy loads the execution policy and applies the global flag overrides.
func (c *RootCommand) LoadPolicy(ctx context.Context) (model.Policy, error) {
	policy := model.DefaultPolicy()

	path, err := filepath.Abs(c.PolicyPath)
	if err != nil {
		return policy, fmt.Errorf("could not resolve policy path: %w", err)
	}
	p, err := storageio.NewPolicyYAMLRepository(os.DirFS("/")).GetPolicy(ctx, path[1:])
	switch {
	case err == nil:
		policy = p
		c.Logger.Debugf("Loaded policy from %s", path)
	case errors.Is(err, fs.ErrNotExist) && c.PolicyPath == c.defaultPolicyPath:
		c.Logger.Debugf("Policy file %s missing, using the default policy", path)
	default:
		return policy, fmt.Errorf("could not load policy: %w", err)
	}

	if c.StagingRoot != "" {
		policy.Staging.Root = c.StagingRoot
	}
	if policy.Staging.Root == "" {
		policy.Staging.Root = conventions.DefaultStagingRoot()
	}

	cliEnv, err := utilsenv.ParseSpecs(c.EnvSpecs)
	if err != nil {
		return policy, fmt.Errorf("invalid --env value: %w", err)
	}
	policy.Env = utilsenv.Merge(policy.Env, cliEnv)

	if err := policy.Validate(); err != nil {
		return policy, fmt.Errorf("invalid policy: %w", err)
	}

	return policy, nil
}

func newPrinter(format string, w io.Writer) printer.Printer {
	if format == formatJSON {
		return printer.NewJSONPrinter(w)
	}
	return printer.NewTablePrinter(w)
}
