package actuator

import (
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vaamb/gaia/internal/gaiaconfig"
)

func TestHubGetCreatesOnFirstUseAndReusesAfter(t *testing.T) {
	hub := NewHub("eco1", zerolog.New(io.Discard), nil)

	h1 := hub.Get(gaiaconfig.HardwareHeater)
	require.NotNil(t, h1)
	require.Equal(t, gaiaconfig.HardwareHeater, h1.Type)

	h2 := hub.Get(gaiaconfig.HardwareHeater)
	require.Same(t, h1, h2)

	require.Equal(t, []gaiaconfig.HardwareType{gaiaconfig.HardwareHeater}, hub.Types())
}

func TestHubHandlersForDifferentTypesAreIndependent(t *testing.T) {
	hub := NewHub("eco1", zerolog.New(io.Discard), nil)

	heater := hub.Get(gaiaconfig.HardwareHeater)
	cooler := hub.Get(gaiaconfig.HardwareCooler)
	require.NotSame(t, heater, cooler)

	heater.Acquire()
	require.Equal(t, 1, heater.ActiveCount())
	require.Equal(t, 0, cooler.ActiveCount())

	require.ElementsMatch(t, []gaiaconfig.HardwareType{gaiaconfig.HardwareHeater, gaiaconfig.HardwareCooler}, hub.Types())
}

func TestHubOnChangeForwardsStateChanges(t *testing.T) {
	var got StateChange
	var calls int
	hub := NewHub("eco1", zerolog.New(io.Discard), func(change StateChange) {
		calls++
		got = change
	})

	h := hub.Get(gaiaconfig.HardwareHeater)
	require.NoError(t, h.TurnTo(CommandOn, 0, time.Now()))

	require.Equal(t, 1, calls)
	require.Equal(t, "eco1", got.EcosystemUID)
	require.True(t, got.Status)
}
