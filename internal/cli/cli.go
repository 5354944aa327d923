// ============================================================================
// fiberjobs CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra front end that drives the fiber job scheduler
//
// Command Structure:
//   fiberjobs                      # Root command
//   ├── run                        # Run the demo workload
//   │   └── --serve               # Keep serving metrics until SIGINT/SIGTERM
//   ├── stress                     # Multi-producer fan-in on one handle
//   │   ├── --jobs, -n            # Total jobs
//   │   └── --producers, -p       # Submitting goroutines
//   ├── config                     # Print the effective configuration
//   ├── --config, -c               # Config file (missing file = defaults)
//   ├── --workers, -w              # Override scheduler.worker_count
//   └── --log-level                # Override log.level
//
// Worker Count:
//   scheduler.worker_count = 0 means one worker per GOMAXPROCS, which is
//   first adjusted to the container CPU quota by automaxprocs.
//
// Metrics Service:
//   If metrics.enabled, /metrics is served on metrics.port while the
//   command runs.
//
// ============================================================================

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/ChuLiYu/fiberjobs/internal/config"
	"github.com/ChuLiYu/fiberjobs/internal/metrics"
	"github.com/ChuLiYu/fiberjobs/pkg/jobsystem"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configFile string
	workers    int
	logLevel   string
}

func BuildCLI() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "fiberjobs",
		Short: "fiberjobs: a fiber-based job scheduler",
		Long: `fiberjobs runs jobs on a fixed set of workers where a job may
wait on other jobs without blocking its worker:
- generational job handles
- per-worker and global run queues
- worker affinity and precondition chains
- Prometheus metrics`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "configs/default.yaml", "config file path")
	rootCmd.PersistentFlags().IntVarP(&opts.workers, "workers", "w", -1, "worker count (overrides config, 0 = GOMAXPROCS)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (overrides config)")

	rootCmd.AddCommand(buildRunCommand(opts))
	rootCmd.AddCommand(buildStressCommand(opts))
	rootCmd.AddCommand(buildConfigCommand(opts))

	return rootCmd
}

// loadSettings applies flag overrides on top of the config file.
func (o *rootOptions) loadSettings() (*config.Config, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if o.workers >= 0 {
		cfg.Scheduler.WorkerCount = o.workers
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return cfg, nil
}

// session is one started scheduler plus the ambient pieces around it.
type session struct {
	runID     string
	log       *logrus.Entry
	workers   int
	sched     *jobsystem.Scheduler
	collector *metrics.Collector
	stop      func()
}

func startSession(cfg *config.Config, logOut io.Writer) (*session, error) {
	logger, err := cfg.NewLogger(logOut)
	if err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	log := logger.WithField("run_id", runID)

	workers := cfg.Scheduler.WorkerCount
	undo := func() {}
	if workers == 0 {
		undo, err = maxprocs.Set(maxprocs.Logger(log.Debugf))
		if err != nil {
			log.WithError(err).Warn("failed to set GOMAXPROCS from CPU quota")
		}
		workers = runtime.GOMAXPROCS(0)
	}

	var collector *metrics.Collector
	var observer jobsystem.Observer
	stopMetrics := func() {}
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		collector = metrics.NewCollector(reg)
		observer = collector
		srv, errCh := metrics.StartServer(cfg.Metrics.Port, reg)
		log.WithField("port", cfg.Metrics.Port).Info("metrics server started")
		go func() {
			if err := <-errCh; err != nil {
				log.WithError(err).Error("metrics server error")
			}
		}()
		stopMetrics = func() { _ = srv.Close() }
	}

	sched := jobsystem.New(cfg.SchedulerOptions(log, observer))
	if err := sched.Initialize(workers); err != nil {
		stopMetrics()
		undo()
		return nil, fmt.Errorf("failed to start scheduler: %w", err)
	}

	return &session{
		runID:     runID,
		log:       log,
		workers:   sched.Stats().Workers,
		sched:     sched,
		collector: collector,
		stop: func() {
			sched.Uninitialize()
			stopMetrics()
			undo()
		},
	}, nil
}

// publish pushes the current snapshot to the metrics gauges.
func (s *session) publish() jobsystem.Stats {
	st := s.sched.Stats()
	if s.collector != nil {
		s.collector.UpdateSchedulerStats(st)
	}
	return st
}

func buildRunCommand(opts *rootOptions) *cobra.Command {
	var serve bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the demo workload",
		Long:  "Start the scheduler, run fan-out, nested, affinity and chained jobs, then print a report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadSettings()
			if err != nil {
				return err
			}
			return runDemoCommand(cmd.Context(), cfg, serve, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().BoolVar(&serve, "serve", false, "keep serving metrics until interrupted")

	return cmd
}

func runDemoCommand(ctx context.Context, cfg *config.Config, serve bool, out, logOut io.Writer) error {
	sess, err := startSession(cfg, logOut)
	if err != nil {
		return err
	}
	defer sess.stop()

	report, err := runDemo(ctx, sess.sched, sess.workers)
	if err != nil {
		return err
	}
	st := sess.publish()
	printDemoReport(out, sess.runID, report, st)

	if serve && cfg.Metrics.Enabled {
		waitForSignal(ctx, sess.log)
	}
	if !report.OK() {
		return fmt.Errorf("demo workload produced unexpected results")
	}
	return nil
}

func buildStressCommand(opts *rootOptions) *cobra.Command {
	var jobs, producers int

	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Run a multi-producer fan-in stress test",
		Long:  "Submit --jobs jobs from --producers goroutines onto one shared handle and report throughput",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadSettings()
			if err != nil {
				return err
			}
			return runStressCommand(cmd.Context(), cfg, jobs, producers, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().IntVarP(&jobs, "jobs", "n", 100000, "total number of jobs")
	cmd.Flags().IntVarP(&producers, "producers", "p", 8, "number of submitting goroutines")

	return cmd
}

func runStressCommand(ctx context.Context, cfg *config.Config, jobs, producers int, out, logOut io.Writer) error {
	sess, err := startSession(cfg, logOut)
	if err != nil {
		return err
	}
	defer sess.stop()

	report, err := runStress(ctx, sess.sched, jobs, producers)
	if err != nil {
		return err
	}
	st := sess.publish()
	printStressReport(out, sess.runID, report, st)

	sess.log.WithFields(logrus.Fields{
		"jobs":       report.Completed,
		"elapsed":    report.Elapsed,
		"throughput": int64(report.Throughput),
	}).Info("stress run finished")

	if report.Completed != int64(jobs) {
		return fmt.Errorf("stress run completed %d of %d jobs", report.Completed, jobs)
	}
	return nil
}

func buildConfigCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long:  "Load the config file, apply flag overrides and print the result as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadSettings()
			if err != nil {
				return err
			}
			data, err := cfg.Marshal()
			if err != nil {
				return fmt.Errorf("failed to render config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	return cmd
}

func waitForSignal(ctx context.Context, log *logrus.Entry) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("serving metrics, press Ctrl+C to exit")
	<-ctx.Done()
	log.Info("received shutdown signal, stopping")
}
