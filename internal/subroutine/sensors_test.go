package subroutine

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vaamb/gaia/internal/gaiaconfig"
	"github.com/vaamb/gaia/internal/hardware"
)

func testEcosystemConfig(t *testing.T, ioMap map[string]*gaiaconfig.HardwareConfig) *gaiaconfig.EcosystemConfig {
	t.Helper()
	cfg := &gaiaconfig.EcosystemConfig{
		UID:  "eco1",
		Name: "Test",
		IO:   ioMap,
		Env: gaiaconfig.EnvironmentConfig{
			Climate: map[string]gaiaconfig.ClimateParameterConfig{},
		},
	}
	return cfg
}

func TestSensorsUpdateManageableRequiresSensorHardware(t *testing.T) {
	log := zerolog.New(io.Discard)
	cfg := testEcosystemConfig(t, map[string]*gaiaconfig.HardwareConfig{})
	s := NewSensors("eco1", true, SensorsDeps{Config: cfg}, log)
	s.UpdateManageable()
	require.False(t, s.Manageable())

	cfg.IO["sensor1"] = &gaiaconfig.HardwareConfig{
		UID: "sensor1", Model: "virtualTemperatureSensor",
		Type: gaiaconfig.HardwareSensor, Address: "GPIO_4",
	}
	s.UpdateManageable()
	require.True(t, s.Manageable())
}

func TestSensorsTickComputesAveragesAndTrends(t *testing.T) {
	log := zerolog.New(io.Discard)
	cfg := testEcosystemConfig(t, map[string]*gaiaconfig.HardwareConfig{
		"sensor1": {UID: "sensor1", Model: "virtualTemperatureSensor", Type: gaiaconfig.HardwareSensor, Address: "GPIO_4"},
	})
	s := NewSensors("eco1", true, SensorsDeps{Config: cfg, Period: 10 * time.Millisecond}, log)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool {
		return len(s.Data().Records) > 0
	}, time.Second, 5*time.Millisecond)

	data := s.Data()
	require.Contains(t, data.Averages, "temperature")
	require.Contains(t, data.Trends, "temperature")
}

func TestSensorsComputeAlarms(t *testing.T) {
	log := zerolog.New(io.Discard)
	alarm := 2.0
	cfg := testEcosystemConfig(t, nil)
	cfg.Env.Climate["temperature"] = gaiaconfig.ClimateParameterConfig{Day: 20, Hysteresis: 1, Alarm: &alarm}
	s := NewSensors("eco1", true, SensorsDeps{Config: cfg}, log)

	inBand := s.computeAlarms([]hardware.Record{{Measure: "temperature", Value: 20.5}})
	require.Empty(t, inBand)

	critical := s.computeAlarms([]hardware.Record{{Measure: "temperature", Value: 30}})
	require.Len(t, critical, 1)
	require.Equal(t, "critical", critical[0].Level)
}
