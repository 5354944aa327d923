package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/fiberjobs/internal/config"
	"github.com/ChuLiYu/fiberjobs/pkg/jobsystem"
)

func testScheduler(t *testing.T, workers int) *jobsystem.Scheduler {
	t.Helper()
	l := logrus.New()
	l.SetOutput(io.Discard)
	s := jobsystem.New(jobsystem.Options{Logger: logrus.NewEntry(l)})
	require.NoError(t, s.Initialize(workers))
	t.Cleanup(s.Uninitialize)
	return s
}

func testConfig(workers int) *config.Config {
	cfg := config.Default()
	cfg.Scheduler.WorkerCount = workers
	cfg.Log.Level = "error"
	return cfg
}

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()

	assert.NotNil(t, cmd, "BuildCLI should return a non-nil command")
	assert.Equal(t, "fiberjobs", cmd.Use)
	assert.Equal(t, "1.0.0", cmd.Version)

	// 檢查子命令
	commands := cmd.Commands()
	assert.Len(t, commands, 3, "Should have 3 subcommands")

	commandNames := make(map[string]bool)
	for _, c := range commands {
		commandNames[c.Use] = true
	}

	assert.True(t, commandNames["run"], "Should have 'run' command")
	assert.True(t, commandNames["stress"], "Should have 'stress' command")
	assert.True(t, commandNames["config"], "Should have 'config' command")

	// 檢查持久化標誌
	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag, "Should have --config flag")
	assert.Equal(t, "c", configFlag.Shorthand)
	assert.NotNil(t, cmd.PersistentFlags().Lookup("workers"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("log-level"))
}

func TestBuildStressCommand(t *testing.T) {
	cmd := buildStressCommand(&rootOptions{})

	assert.Equal(t, "stress", cmd.Use)
	jobsFlag := cmd.Flags().Lookup("jobs")
	require.NotNil(t, jobsFlag)
	assert.Equal(t, "n", jobsFlag.Shorthand)
	assert.NotNil(t, cmd.Flags().Lookup("producers"))
	assert.NotNil(t, cmd.RunE, "RunE function should be set")
}

func TestLoadSettingsOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scheduler:\n  worker_count: 4\nlog:\n  level: info\n"), 0644))

	cfg, err := (&rootOptions{configFile: path, workers: -1}).loadSettings()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Scheduler.WorkerCount, "negative --workers keeps the file value")

	cfg, err = (&rootOptions{configFile: path, workers: 2, logLevel: "debug"}).loadSettings()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Scheduler.WorkerCount)
	assert.Equal(t, "debug", cfg.Log.Level)

	_, err = (&rootOptions{configFile: path, workers: 100}).loadSettings()
	assert.ErrorContains(t, err, "invalid settings")
}

func TestConfigCommandPrintsEffectiveYAML(t *testing.T) {
	cmd := BuildCLI()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "-c", filepath.Join(t.TempDir(), "missing.yaml"), "-w", "3"})

	require.NoError(t, cmd.Execute())

	var cfg config.Config
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &cfg))
	assert.Equal(t, 3, cfg.Scheduler.WorkerCount)
	assert.Equal(t, jobsystem.DefaultFiberCount, cfg.Scheduler.FiberCount)
}

func TestRunDemo(t *testing.T) {
	const workers = 3
	s := testScheduler(t, workers)

	r, err := runDemo(context.Background(), s, workers)
	require.NoError(t, err)

	assert.Equal(t, r.FanOutWant, r.FanOutSum)
	assert.Equal(t, int64(demoParents*demoChildren), r.NestedChildren)
	assert.Equal(t, workers*demoAffinityPerWk, r.AffinityJobs)
	assert.Zero(t, r.AffinityMisses)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, r.ChainOrder)
	assert.True(t, r.OK())
}

func TestDemoReportOK(t *testing.T) {
	r := demoReport{
		FanOutSum: 10, FanOutWant: 10,
		NestedParents: 1, NestedChildren: demoChildren,
		ChainOrder: []int{0, 1, 2, 3, 4},
	}
	assert.True(t, r.OK())

	r.ChainOrder = []int{0, 2, 1, 3, 4}
	assert.False(t, r.OK(), "out-of-order chain")

	r.ChainOrder = []int{0, 1}
	assert.False(t, r.OK(), "short chain")
}

func TestRunStress(t *testing.T) {
	s := testScheduler(t, 4)

	r, err := runStress(context.Background(), s, 10001, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(10001), r.Completed)
	assert.Equal(t, 7, r.Producers)
	assert.Greater(t, r.Throughput, 0.0)
}

func TestRunStressInvalidParameters(t *testing.T) {
	s := testScheduler(t, 1)

	_, err := runStress(context.Background(), s, 10, 0)
	assert.Error(t, err)
}

func TestRunDemoCommandReport(t *testing.T) {
	var out bytes.Buffer
	err := runDemoCommand(context.Background(), testConfig(2), false, &out, io.Discard)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "fiberjobs demo run")
	assert.Contains(t, out.String(), "All stages passed")
}

func TestRunStressCommandReport(t *testing.T) {
	var out bytes.Buffer
	err := runStressCommand(context.Background(), testConfig(2), 500, 2, &out, io.Discard)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "500/500")
}

func TestStartSessionDefaultsToGOMAXPROCS(t *testing.T) {
	sess, err := startSession(testConfig(0), io.Discard)
	require.NoError(t, err)
	defer sess.stop()

	assert.Positive(t, sess.workers)
	assert.NotEmpty(t, sess.runID)
	assert.Nil(t, sess.collector, "metrics disabled by default")
}
