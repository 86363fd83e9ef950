package ecosystem

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vaamb/gaia/internal/actuator"
	"github.com/vaamb/gaia/internal/gaiaconfig"
)

var (
	rootOnce sync.Once
	testRootInstance *gaiaconfig.Root
)

func testRoot(t *testing.T) *gaiaconfig.Root {
	t.Helper()
	rootOnce.Do(func() {
		r, err := gaiaconfig.New(t.TempDir())
		require.NoError(t, err)
		testRootInstance = r
	})
	return testRootInstance
}

func testConfig(uid string) *gaiaconfig.EcosystemConfig {
	return &gaiaconfig.EcosystemConfig{
		UID:  uid,
		Name: "Greenhouse",
		IO:   map[string]*gaiaconfig.HardwareConfig{},
		Env: gaiaconfig.EnvironmentConfig{
			Climate: map[string]gaiaconfig.ClimateParameterConfig{},
		},
	}
}

func TestEcosystemStartWithNoManagedSubroutineReturnsStoppingError(t *testing.T) {
	log := zerolog.New(io.Discard)
	cfg := testConfig("eco1")
	eco := New(cfg, Deps{Root: testRoot(t), Virtual: true}, log)

	err := eco.Start(context.Background())
	require.ErrorIs(t, err, ErrStoppingEcosystem)
	require.False(t, eco.Status())
}

func TestEcosystemStartAndStopSensorsOnly(t *testing.T) {
	log := zerolog.New(io.Discard)
	cfg := testConfig("eco2")
	cfg.IO["sensor1"] = &gaiaconfig.HardwareConfig{
		UID: "sensor1", Model: "virtualTemperatureSensor",
		Type: gaiaconfig.HardwareSensor, Address: "GPIO_4",
	}
	cfg.SetManagementEnabled("sensors", true)

	eco := New(cfg, Deps{Root: testRoot(t), Virtual: true, Periods: Periods{Sensors: 10 * time.Millisecond}}, log)

	require.NoError(t, eco.Start(context.Background()))
	require.True(t, eco.Status())

	require.NoError(t, eco.Stop())
	require.False(t, eco.Status())
}

func TestEcosystemRefreshSubroutinesStopsWhenHardwareRemoved(t *testing.T) {
	log := zerolog.New(io.Discard)
	cfg := testConfig("eco3")
	cfg.IO["sensor1"] = &gaiaconfig.HardwareConfig{
		UID: "sensor1", Model: "virtualTemperatureSensor",
		Type: gaiaconfig.HardwareSensor, Address: "GPIO_4",
	}
	cfg.SetManagementEnabled("sensors", true)

	eco := New(cfg, Deps{Root: testRoot(t), Virtual: true, Periods: Periods{Sensors: 10 * time.Millisecond}}, log)
	require.NoError(t, eco.Start(context.Background()))

	delete(cfg.IO, "sensor1")
	eco.RefreshSubroutines(context.Background())

	require.False(t, eco.Status())
}

func TestEcosystemTurnActuatorDrivesLightHandler(t *testing.T) {
	log := zerolog.New(io.Discard)
	cfg := testConfig("eco4")
	cfg.IO["light1"] = &gaiaconfig.HardwareConfig{
		UID: "light1", Model: "virtualDimmer",
		Type: gaiaconfig.HardwareLight, Address: "GPIO_5",
	}
	cfg.Env.Nycthemeral = gaiaconfig.NycthemeralCycleConfig{Span: "fixed", Day: "00h00", Night: "23h59", Lighting: "fixed"}
	cfg.SetManagementEnabled("light", true)

	eco := New(cfg, Deps{Root: testRoot(t), Virtual: true, Periods: Periods{Light: 10 * time.Millisecond}}, log)
	require.NoError(t, eco.Start(context.Background()))
	defer eco.Stop()

	eco.TurnActuator(gaiaconfig.HardwareLight, actuator.CommandOn, 0)

	handler := eco.Handler(gaiaconfig.HardwareLight)
	require.Equal(t, actuator.ModeManual, handler.Mode())
	require.True(t, handler.Status())
}

func TestEcosystemManagementReflectsManageableState(t *testing.T) {
	log := zerolog.New(io.Discard)
	cfg := testConfig("eco5")
	cfg.SetManagementEnabled("sensors", true)

	eco := New(cfg, Deps{Root: testRoot(t), Virtual: true}, log)
	eco.RefreshSubroutines(context.Background())

	require.False(t, eco.Management()["sensors"])
}
