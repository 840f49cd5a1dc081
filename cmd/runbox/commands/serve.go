package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/slok/runbox/internal/app/reap"
	"github.com/slok/runbox/internal/httpapi"
	metricsprometheus "github.com/slok/runbox/internal/metrics/prometheus"
	"github.com/slok/runbox/internal/storage/memory"
)

type ServeCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	listenAddress   string
	rateLimit       float64
	rateBurst       int
	maxInflight     int
	noReap          bool
	reapMinAge      time.Duration
	shutdownTimeout time.Duration
}

// NewServeCommand returns the serve command.
func NewServeCommand(rootCmd *RootCommand, app *kingpin.Application) *ServeCommand {
	c := &ServeCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("serve", "Serve the code execution HTTP API.")
	c.Cmd.Flag("listen-address", "Address where the HTTP API listens.").Default(":8000").StringVar(&c.listenAddress)
	c.Cmd.Flag("rate-limit", "Maximum execute requests per second, 0 disables it.").Default("0").Float64Var(&c.rateLimit)
	c.Cmd.Flag("rate-burst", "Execute requests burst above the rate limit.").Default("0").IntVar(&c.rateBurst)
	c.Cmd.Flag("max-inflight", "Maximum concurrent executions, 0 disables it.").Default("10").IntVar(&c.maxInflight)
	c.Cmd.Flag("no-reap", "Don't reap leaked containers and staging directories on startup.").BoolVar(&c.noReap)
	c.Cmd.Flag("reap-min-age", "Minimum age of the leaked resources reaped on startup. By default the policy job lifetime (at least 10m).").DurationVar(&c.reapMinAge)
	c.Cmd.Flag("shutdown-timeout", "Time in flight executions have to finish on shutdown.").Default("1m").DurationVar(&c.shutdownTimeout)

	return c
}

func (c ServeCommand) Name() string { return c.Cmd.FullCommand() }

func (c ServeCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	policy, err := c.rootCmd.LoadPolicy(ctx)
	if err != nil {
		return err
	}

	rt, closeRuntime, err := newRuntime(c.rootCmd, policy, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeRuntime(); err != nil {
			logger.Warningf("Could not close container runtime: %s", err)
		}
	}()

	if err := rt.Ping(ctx); err != nil {
		return fmt.Errorf("container runtime is not reachable: %w", err)
	}
	if err := rt.EnsureImage(ctx, policy.Image, policy.PullImage); err != nil {
		return fmt.Errorf("could not ensure execution image: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rec := metricsprometheus.NewRecorder(metricsprometheus.Config{Registry: reg})

	repo, err := memory.NewRepository(memory.RepositoryConfig{Logger: logger})
	if err != nil {
		return fmt.Errorf("could not create job repository: %w", err)
	}

	svc, err := newExecuteService(policy, rt, repo, rec, logger)
	if err != nil {
		return err
	}

	if !c.noReap {
		reaper, err := reap.NewService(reap.ServiceConfig{
			Runtime:         rt,
			Repository:      repo,
			StagingRoot:     policy.Staging.Root,
			MinAge:          reapMinAge(c.reapMinAge, policy, logger),
			MetricsRecorder: rec,
			Logger:          logger,
		})
		if err != nil {
			return fmt.Errorf("could not create reap service: %w", err)
		}
		report, err := reaper.Run(ctx)
		if err != nil {
			// Serving is still possible.
			logger.Warningf("Could not reap leaked resources: %s", err)
		} else {
			logger.Infof("Reaped %d containers and %d staging directories", len(report.RemovedContainers), len(report.RemovedDirs))
		}
	}

	handler, err := httpapi.NewHandler(httpapi.HandlerConfig{
		Executor:        svc,
		Runtime:         rt,
		Repository:      repo,
		MetricsHandler:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		RateLimit:       c.rateLimit,
		RateBurst:       c.rateBurst,
		MaxInflight:     c.maxInflight,
		Version:         c.rootCmd.Version,
		MetricsRecorder: rec,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("could not create HTTP handler: %w", err)
	}

	server := &http.Server{
		Addr:              c.listenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var g run.Group

	// HTTP server.
	{
		g.Add(
			func() error {
				logger.Infof("HTTP API listening on %s", c.listenAddress)
				if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			},
			func(_ error) {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), c.shutdownTimeout)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					logger.Errorf("Could not shut down HTTP server gracefully: %s", err)
				}
			},
		)
	}

	// Command context.
	{
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g.Add(
			func() error {
				<-ctx.Done()
				logger.Infof("Shutting down")
				return nil
			},
			func(_ error) {
				cancel()
			},
		)
	}

	return g.Run()
}
