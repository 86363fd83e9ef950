package engine

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// gaiaconfig.Root is a process-wide singleton, so every test in this file
// must point every Engine it builds at the same data directory.
var (
	dataDirOnce sync.Once
	sharedDir   string
)

func testDataDir(t *testing.T) string {
	t.Helper()
	dataDirOnce.Do(func() {
		sharedDir = t.TempDir()
	})
	return sharedDir
}

func testAppConfig(t *testing.T) *AppConfig {
	return &AppConfig{
		EngineUID:            "testuid",
		DataDir:              testDataDir(t),
		Virtualization:       true,
		WatchdogAddr:         ":0",
		ConfigWatcherPeriod:  20 * time.Millisecond,
		SensorsLoopPeriod:    10 * time.Millisecond,
		LightLoopPeriod:      10 * time.Millisecond,
		ClimateLoopPeriod:    10 * time.Millisecond,
		SensorsLoggingPeriod: 10,
		HealthLoggingTime:    "00h00",
	}
}

func TestPluginsNeededReflectsDatabaseAndAggregatorConfig(t *testing.T) {
	cfg := testAppConfig(t)
	e, err := New(cfg, zerolog.New(io.Discard))
	require.NoError(t, err)
	require.False(t, e.pluginsNeeded())

	cfg2 := testAppConfig(t)
	cfg2.UseDatabase = true
	e2 := &Engine{appCfg: cfg2}
	require.True(t, e2.pluginsNeeded())
}

func TestInitPluginsFailsWhenNotNeeded(t *testing.T) {
	cfg := testAppConfig(t)
	e, err := New(cfg, zerolog.New(io.Discard))
	require.NoError(t, err)
	require.Error(t, e.InitPlugins())
}

func TestEngineStartStopLifecycle(t *testing.T) {
	cfg := testAppConfig(t)
	e, err := New(cfg, zerolog.New(io.Discard))
	require.NoError(t, err)

	require.NoError(t, e.Start())
	require.True(t, e.Running())

	require.Error(t, e.Start(), "starting twice must fail")

	require.NoError(t, e.Pause())
	require.True(t, e.Paused())
	require.NoError(t, e.Resume())
	require.True(t, e.Running())

	require.NoError(t, e.Stop())
	require.False(t, e.Running())
	require.Error(t, e.Stop(), "stopping twice must fail")
	require.Error(t, e.Start(), "restarting a stopped engine must fail")
}

func TestEngineEcosystemsStartsEmpty(t *testing.T) {
	cfg := testAppConfig(t)
	cfg.EngineUID = "testuid2"
	e, err := New(cfg, zerolog.New(io.Discard))
	require.NoError(t, err)
	require.Empty(t, e.Ecosystems())
}
