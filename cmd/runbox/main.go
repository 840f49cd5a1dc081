package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"
	"github.com/sirupsen/logrus"

	"github.com/slok/runbox/cmd/runbox/commands"
	"github.com/slok/runbox/internal/log"
	loglogrus "github.com/slok/runbox/internal/log/logrus"
)

// Version is set at build time with ldflags.
var Version = "dev"

// Run parses the arguments and runs the selected command until it ends or the process is signaled.
func Run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	app := kingpin.New("runbox", "Run untrusted code in disposable containers.")
	app.Version(Version)
	app.DefaultEnvars()
	rootCmd := commands.NewRootCommand(app)

	serveCmd := commands.NewServeCommand(rootCmd, app)
	runCmd := commands.NewRunCommand(rootCmd, app)
	doctorCmd := commands.NewDoctorCommand(rootCmd, app)
	reapCmd := commands.NewReapCommand(rootCmd, app)

	cmds := map[string]commands.Command{}
	for _, cmd := range []commands.Command{serveCmd, runCmd, doctorCmd, reapCmd} {
		cmds[cmd.Name()] = cmd
	}

	cmdName, err := app.Parse(args[1:])
	if err != nil {
		return fmt.Errorf("invalid command configuration: %w", err)
	}

	rootCmd.Version = Version
	rootCmd.Stdin = stdin
	rootCmd.Stdout = stdout
	rootCmd.Stderr = stderr

	// The run command prints the program output, logs only on debug.
	if cmdName == runCmd.Name() && !rootCmd.Debug {
		rootCmd.NoLog = true
	}
	rootCmd.Logger = newLogger(*rootCmd)

	var g run.Group

	// Stop on termination signals.
	{
		sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		g.Add(
			func() error {
				<-sigCtx.Done()
				rootCmd.Logger.Debugf("Stopping: %s", context.Cause(sigCtx))
				return nil
			},
			func(_ error) { stop() },
		)
	}

	// Command.
	{
		cmdCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		g.Add(
			func() error {
				if err := cmds[cmdName].Run(cmdCtx); err != nil {
					return fmt.Errorf("%q command failed: %w", cmdName, err)
				}
				return nil
			},
			func(_ error) { cancel() },
		)
	}

	return g.Run()
}

func newLogger(cfg commands.RootCommand) log.Logger {
	if cfg.NoLog {
		return log.Noop
	}

	l := logrus.New()
	// Stdout is for command output.
	l.Out = cfg.Stderr
	if cfg.Debug {
		l.SetLevel(logrus.DebugLevel)
	}

	switch cfg.LoggerType {
	case commands.LoggerTypeJSON:
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{
			ForceColors:   !cfg.NoColor,
			DisableColors: cfg.NoColor,
		})
	}

	logger := loglogrus.NewLogrus(logrus.NewEntry(l)).WithValues(log.Kv{"version": Version})
	logger.Debugf("Debug level is enabled")

	return logger
}

func main() {
	if err := Run(context.Background(), os.Args, os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
