package subroutine

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vaamb/gaia/internal/actuator"
	"github.com/vaamb/gaia/internal/gaiaconfig"
	"github.com/vaamb/gaia/internal/hardware"
)

type fakeSensorsData struct{ data Data }

func (f fakeSensorsData) Data() Data { return f.data }

func TestClimateRegulatedRequiresTargetActuatorAndSensor(t *testing.T) {
	log := zerolog.New(io.Discard)
	cfg := testEcosystemConfig(t, map[string]*gaiaconfig.HardwareConfig{})
	c := NewClimate("eco1", true, ClimateDeps{Config: cfg, Sensors: fakeSensorsData{}}, log)
	require.Empty(t, c.regulated())

	cfg.Env.Climate["temperature"] = gaiaconfig.ClimateParameterConfig{Day: 22, Night: 18, Hysteresis: 0.5}
	require.Empty(t, c.regulated(), "target alone isn't enough, an actuator and a sensor are still missing")

	cfg.IO["heater1"] = &gaiaconfig.HardwareConfig{
		UID: "heater1", Model: "virtualSwitch", Type: gaiaconfig.HardwareHeater, Address: "GPIO_10",
	}
	require.Empty(t, c.regulated(), "an actuator alone isn't enough, a sensor is still missing")

	cfg.IO["sensor1"] = &gaiaconfig.HardwareConfig{
		UID: "sensor1", Model: "virtualTemperatureSensor", Type: gaiaconfig.HardwareSensor,
		Address: "GPIO_11", Measures: []string{"temperature"},
	}
	require.Equal(t, []string{"temperature"}, c.regulated())
}

// TestClimateRegulatedActuatorCoupleSelection is the heater+humidifier,
// no-humidity-sensor scenario: regulated must come back {temperature}
// only, never tripping humidity's miss counter for a parameter nobody
// actually measures.
func TestClimateRegulatedActuatorCoupleSelection(t *testing.T) {
	log := zerolog.New(io.Discard)
	cfg := testEcosystemConfig(t, map[string]*gaiaconfig.HardwareConfig{
		"heater1": {UID: "heater1", Model: "virtualSwitch", Type: gaiaconfig.HardwareHeater, Address: "GPIO_10"},
		"humid1":  {UID: "humid1", Model: "virtualSwitch", Type: gaiaconfig.HardwareHumidifier, Address: "GPIO_12"},
		"sensor1": {
			UID: "sensor1", Model: "virtualTemperatureSensor", Type: gaiaconfig.HardwareSensor,
			Address: "GPIO_11", Measures: []string{"temperature"},
		},
	})
	cfg.Env.Climate["temperature"] = gaiaconfig.ClimateParameterConfig{Day: 22, Night: 18, Hysteresis: 0.5}
	cfg.Env.Climate["humidity"] = gaiaconfig.ClimateParameterConfig{Day: 60, Night: 70, Hysteresis: 2}

	c := NewClimate("eco1", true, ClimateDeps{Config: cfg, Sensors: fakeSensorsData{}}, log)
	require.Equal(t, []string{"temperature"}, c.regulated())
}

func TestClimateRoutineDrivesIncreaseActuator(t *testing.T) {
	log := zerolog.New(io.Discard)
	cfg := testEcosystemConfig(t, map[string]*gaiaconfig.HardwareConfig{
		"heater1": {UID: "heater1", Model: "virtualSwitch", Type: gaiaconfig.HardwareHeater, Address: "GPIO_10"},
		"cooler1": {UID: "cooler1", Model: "virtualSwitch", Type: gaiaconfig.HardwareCooler, Address: "GPIO_13"},
	})
	cfg.Env.Climate["temperature"] = gaiaconfig.ClimateParameterConfig{Day: 30, Night: 18, Hysteresis: 0.5}

	heater := actuator.NewHandler("eco1", gaiaconfig.HardwareHeater, log, nil)
	heater.PID.OutputMin, heater.PID.OutputMax = -100, 100
	cooler := actuator.NewHandler("eco1", gaiaconfig.HardwareCooler, log, nil)
	cooler.PID.OutputMin, cooler.PID.OutputMax = -100, 100

	sensors := fakeSensorsData{data: Data{Averages: map[string]float64{"temperature": 20}}}
	c := NewClimate("eco1", true, ClimateDeps{
		Config:  cfg,
		Sensors: sensors,
		Handlers: map[gaiaconfig.HardwareType]*actuator.Handler{
			gaiaconfig.HardwareHeater: heater,
			gaiaconfig.HardwareCooler: cooler,
		},
	}, log)

	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	require.Equal(t, 1, heater.ActiveCount())
	require.Equal(t, 1, cooler.ActiveCount())

	c.Routine()
	require.True(t, heater.PID.Target() > 0)

	heaterDriver, ok := c.Hardware()["heater1"].(hardware.Switch)
	require.True(t, ok)
	require.True(t, heaterDriver.IsOn(), "Drive() must actually turn the attached heater driver on")
}

func TestClimateStopReleasesHandlersAndTurnsOffDrivers(t *testing.T) {
	log := zerolog.New(io.Discard)
	cfg := testEcosystemConfig(t, map[string]*gaiaconfig.HardwareConfig{
		"heater1": {UID: "heater1", Model: "virtualSwitch", Type: gaiaconfig.HardwareHeater, Address: "GPIO_10"},
	})
	cfg.Env.Climate["temperature"] = gaiaconfig.ClimateParameterConfig{Day: 30, Night: 18, Hysteresis: 0.5}

	heater := actuator.NewHandler("eco1", gaiaconfig.HardwareHeater, log, nil)
	sensors := fakeSensorsData{data: Data{Averages: map[string]float64{"temperature": 20}}}
	c := NewClimate("eco1", true, ClimateDeps{
		Config:   cfg,
		Sensors:  sensors,
		Handlers: map[gaiaconfig.HardwareType]*actuator.Handler{gaiaconfig.HardwareHeater: heater},
	}, log)

	require.NoError(t, c.Start(context.Background()))
	require.Equal(t, 1, heater.ActiveCount())

	require.NoError(t, c.Stop())
	require.Equal(t, 0, heater.ActiveCount())
	require.Empty(t, c.Hardware())
}

func TestClimateMissingSensorDataStopsAfterThreshold(t *testing.T) {
	log := zerolog.New(io.Discard)
	cfg := testEcosystemConfig(t, map[string]*gaiaconfig.HardwareConfig{
		"heater1": {UID: "heater1", Model: "virtualSwitch", Type: gaiaconfig.HardwareHeater, Address: "GPIO_10"},
		"sensor1": {
			UID: "sensor1", Model: "virtualTemperatureSensor", Type: gaiaconfig.HardwareSensor,
			Address: "GPIO_11", Measures: []string{"temperature"},
		},
	})
	cfg.Env.Climate["temperature"] = gaiaconfig.ClimateParameterConfig{Day: 22, Night: 18, Hysteresis: 0.5}
	sensors := fakeSensorsData{data: Data{Averages: map[string]float64{}}}
	c := NewClimate("eco1", true, ClimateDeps{Config: cfg, Sensors: sensors}, log)

	require.NoError(t, c.Start(context.Background()))
	for i := 0; i < missesBeforeStop; i++ {
		c.Routine()
	}
	require.Eventually(t, func() bool { return !c.Started() }, time.Second, 5*time.Millisecond)
}
