package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/coherent-in/shotbuzz-e2e/internal/actor"
	"github.com/coherent-in/shotbuzz-e2e/internal/api"
	"github.com/coherent-in/shotbuzz-e2e/internal/browser"
	"github.com/coherent-in/shotbuzz-e2e/internal/config"
	"github.com/coherent-in/shotbuzz-e2e/internal/failure"
	"github.com/coherent-in/shotbuzz-e2e/internal/poll"
	"github.com/coherent-in/shotbuzz-e2e/internal/report"
	"github.com/coherent-in/shotbuzz-e2e/internal/runner"
	"github.com/coherent-in/shotbuzz-e2e/internal/runner/tasks"
	"github.com/coherent-in/shotbuzz-e2e/internal/sandbox"
	"github.com/coherent-in/shotbuzz-e2e/internal/scenario"
	"github.com/coherent-in/shotbuzz-e2e/internal/shotbuzz"
)

func filter() scenario.Filter {
	return scenario.Filter{Tags: tagsFlag, Names: scenariosFlag}
}

// loadConfig reads the configuration and applies command line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFlag, envFileFlag)
	if err != nil {
		return nil, err
	}
	applyFlags(cfg)
	return cfg, cfg.Validate()
}

func applyFlags(cfg *config.Config) {
	if headedFlag {
		cfg.Browser.Headless = false
	}
	if verboseFlag {
		cfg.Browser.Verbose = true
		cfg.API.Debug = true
	}
	if reportFlag != "" {
		cfg.Report.File = reportFlag
	}
	if formatFlag != "" {
		cfg.Report.Format = formatFlag
	}
	if metricsFileFlag != "" {
		cfg.Report.MetricsFile = metricsFileFlag
	}
	if parallelFlag > 0 {
		cfg.Scenario.Parallel = parallelFlag
	}
}

func newLogger() *log.Logger {
	return log.New(os.Stderr, "[E2E] ", log.LstdFlags)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runSuite(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	rep, err := execute(ctx, cfg, filter(), dryRunFlag, newLogger())
	if err != nil {
		return err
	}
	rep.Print(cmd.OutOrStdout())
	if !rep.OK() {
		return errSuiteFailed
	}
	return nil
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger()
	f, dryRun := filter(), dryRunFlag
	suiteFunc := func(cfg *config.Config) tasks.SuiteFunc {
		return func(ctx context.Context) (report.Report, error) {
			return execute(ctx, cfg, f, dryRun, logger)
		}
	}

	budget, err := scheduleBudget(cfg, f)
	if err != nil {
		return err
	}
	task, err := tasks.NewSuiteTask("shotbuzz-suite", cronFlag, budget, suiteFunc(cfg),
		tasks.WithSuiteLogger(logger),
		tasks.OnReport(func(r report.Report) { r.Print(cmd.OutOrStdout()) }),
	)
	if err != nil {
		return err
	}
	registry := runner.NewTaskRegistry()
	if err := registry.Register(task); err != nil {
		return err
	}

	if configFlag != "" {
		if err := config.Watch(configFlag, envFileFlag, func(next *config.Config, err error) {
			if err != nil {
				logger.Printf("[WARN] config reload rejected: %v", err)
				return
			}
			applyFlags(next)
			if err := next.Validate(); err != nil {
				logger.Printf("[WARN] config reload rejected: %v", err)
				return
			}
			task.Swap(suiteFunc(next))
		}); err != nil {
			return err
		}
	}

	opts := []runner.Option{runner.WithLogger(logger)}
	if nowFlag {
		opts = append(opts, runner.WithImmediate())
	}
	return runner.NewRunner(registry, opts...).Start(context.Background())
}

// launchAllowance covers browser start and teardown around a scheduled run.
const launchAllowance = time.Minute

// scheduleBudget bounds one scheduled run by the sum of the selected
// scenarios' timeouts.
func scheduleBudget(cfg *config.Config, f scenario.Filter) (time.Duration, error) {
	catalog, err := shotbuzz.NewSuite(shotbuzz.DefaultSettings())
	if err != nil {
		return 0, err
	}
	selected, err := catalog.Select(f)
	if err != nil {
		return 0, err
	}
	if len(selected) == 0 {
		return 0, failure.New(failure.KindConfig, "no scenario matches the filter")
	}
	budget := launchAllowance
	for _, sc := range selected {
		if sc.Timeout > 0 {
			budget += sc.Timeout
		} else {
			budget += cfg.Scenario.Timeout
		}
	}
	return budget, nil
}

// execute runs the selected scenarios once, against a browser or the
// sandbox, and writes the configured report and metrics files.
func execute(ctx context.Context, cfg *config.Config, f scenario.Filter, dryRun bool, logger *log.Logger) (report.Report, error) {
	settings := shotbuzz.DefaultSettings()
	settings.Supervisor = cfg.Shot.Supervisor
	settings.TeamLead = cfg.Shot.TeamLead
	settings.HOD = cfg.Shot.HOD
	settings.Complexity = cfg.Shot.Complexity
	settings.Timeouts.Row = cfg.Poll.Timeout

	catalog, err := shotbuzz.NewSuite(settings)
	if err != nil {
		return report.Report{}, err
	}
	selected, err := catalog.Select(f)
	if err != nil {
		return report.Report{}, err
	}
	if len(selected) == 0 {
		return report.Report{}, failure.New(failure.KindConfig, "no scenario matches the filter")
	}

	metrics := report.NewMetrics()
	pollOpts := []poll.Option{
		poll.WithDefaults(cfg.Poll.Timeout, cfg.Poll.Interval),
		poll.WithLogger(logger),
		poll.WithObserver(metrics),
	}

	creds := cfg.Credentials()
	apiURL := cfg.App.APIURL
	meta := report.Meta{Environment: cfg.App.Env, BaseURL: cfg.App.BaseURL}
	var factory scenario.WorkspaceFactory

	if dryRun {
		creds = sandboxUsers(creds)
		app := sandbox.NewApp(creds, sandbox.Options{
			PropagationDelay: time.Second,
			HOD:              cfg.Shot.HOD,
			People:           []string{cfg.Shot.Supervisor, cfg.Shot.TeamLead},
			ArtifactsDir:     cfg.Browser.ResultsDir,
			Logger:           logger,
		})
		baseURL, stop, err := app.Serve(ctx)
		if err != nil {
			return report.Report{}, err
		}
		defer stop()
		apiURL = baseURL
		meta = report.Meta{Environment: "sandbox", BaseURL: baseURL}
		factory = app.Factory(pollOpts...)
	} else {
		if err := cfg.RequireRoles(rolesOf(selected)...); err != nil {
			return report.Report{}, err
		}
		launcher, err := browser.Launch(browser.Options{
			BaseURL:     cfg.App.BaseURL,
			Headless:    cfg.Browser.Headless,
			SlowMo:      cfg.Browser.SlowMo,
			Timeout:     cfg.Browser.Timeout,
			Screenshots: cfg.Browser.Screenshots,
			Videos:      cfg.Browser.Videos,
			ResultsDir:  cfg.Browser.ResultsDir,
			Install:     cfg.Browser.Install,
			Verbose:     cfg.Browser.Verbose,
			Logger:      logger,
		})
		if err != nil {
			return report.Report{}, failure.Wrap(err, failure.KindSetupFailure, "start browser")
		}
		defer func() {
			if err := launcher.Close(); err != nil {
				logger.Printf("[WARN] closing browser: %v", err)
			}
		}()
		factory = launcher.Factory(pollOpts...)
	}

	settings.API = api.NewClient(api.Config{
		BaseURL:    apiURL,
		Timeout:    cfg.API.Timeout,
		RetryCount: cfg.API.RetryCount,
		Debug:      cfg.API.Debug,
		Prefix:     cfg.Shot.Prefix,
		Logger:     logger,
	})
	suite, err := shotbuzz.NewSuite(settings)
	if err != nil {
		return report.Report{}, err
	}

	o := scenario.NewOrchestrator(factory,
		scenario.WithCredentials(creds),
		scenario.WithPollOptions(pollOpts...),
		scenario.WithTimeout(cfg.Scenario.Timeout),
		scenario.WithLogger(logger),
		scenario.WithStepObserver(metrics),
	)
	results, runErr := suite.Run(ctx, o, f, cfg.Scenario.Parallel)
	metrics.ObserveResults(results)

	rep := report.New(results, meta)
	if cfg.Report.File != "" {
		if err := rep.Save(cfg.Report.File, cfg.Report.Format); err != nil {
			logger.Printf("[WARN] writing report: %v", err)
		} else {
			logger.Printf("report written to %s", cfg.Report.File)
		}
	}
	if cfg.Report.MetricsFile != "" {
		if err := metrics.WriteTextfile(cfg.Report.MetricsFile); err != nil {
			logger.Printf("[WARN] writing metrics: %v", err)
		}
	}
	if runErr != nil && ctx.Err() == nil {
		return rep, runErr
	}
	return rep, nil
}

func rolesOf(scs []scenario.Scenario) []actor.Role {
	seen := make(map[actor.Role]bool)
	var roles []actor.Role
	for _, sc := range scs {
		if sc.Role != "" && !seen[sc.Role] {
			seen[sc.Role] = true
			roles = append(roles, sc.Role)
		}
	}
	return roles
}

// sandboxUsers fills roles without configured credentials with local
// sandbox accounts.
func sandboxUsers(creds map[actor.Role]actor.Credentials) map[actor.Role]actor.Credentials {
	out := make(map[actor.Role]actor.Credentials, len(actor.Roles))
	for _, r := range actor.Roles {
		if c, ok := creds[r]; ok {
			out[r] = c
			continue
		}
		out[r] = actor.Credentials{Email: fmt.Sprintf("%s@sandbox.local", r), Password: string(r)}
	}
	return out
}
