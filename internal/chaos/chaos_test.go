package chaos

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vaamb/gaia/internal/gaiaconfig"
)

func alwaysRoll(int) int { return 1 }
func neverRoll(n int) int {
	if n <= 1 {
		return 1
	}
	return 2
}

func TestRollDisabledWhenFrequencyZero(t *testing.T) {
	c := New("eco1", gaiaconfig.ChaosConfig{Frequency: 0, Duration: 3, Intensity: 0.5}, gaiaconfig.ChaosMemoryEntry{})
	_, ok := c.Roll(time.Now(), alwaysRoll)
	require.False(t, ok)
	require.Equal(t, 1.0, c.Factor(time.Now()))
}

func TestRollSkippedWhenWindowStillActive(t *testing.T) {
	now := time.Now()
	begin := now.Add(-time.Hour)
	end := now.Add(time.Hour)
	mem := gaiaconfig.ChaosMemoryEntry{Beginning: &begin, End: &end, LastUpdate: now}
	c := New("eco1", gaiaconfig.ChaosConfig{Frequency: 2, Duration: 3, Intensity: 0.5}, mem)

	_, ok := c.Roll(now, alwaysRoll)
	require.False(t, ok, "should not re-roll while today's window is still active")
}

func TestRollOpensNewWindowAt14UTC(t *testing.T) {
	c := New("eco1", gaiaconfig.ChaosConfig{Frequency: 1, Duration: 1, Intensity: 0.5}, gaiaconfig.ChaosMemoryEntry{})
	now := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)

	win, ok := c.Roll(now, alwaysRoll)
	require.True(t, ok)
	require.Equal(t, 14, win.Begin.Hour())
	require.Equal(t, time.UTC, win.Begin.Location())
	require.Equal(t, win.Begin.AddDate(0, 0, 1), win.End)
}

func TestRollDeclinedByDie(t *testing.T) {
	c := New("eco1", gaiaconfig.ChaosConfig{Frequency: 10, Duration: 1, Intensity: 0.5}, gaiaconfig.ChaosMemoryEntry{})
	_, ok := c.Roll(time.Now(), neverRoll)
	require.False(t, ok)
}

func TestActiveAndFactorWithinWindow(t *testing.T) {
	c := New("eco1", gaiaconfig.ChaosConfig{Frequency: 1, Duration: 1, Intensity: 2.0}, gaiaconfig.ChaosMemoryEntry{})
	now := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	win, ok := c.Roll(now, alwaysRoll)
	require.True(t, ok)

	require.False(t, c.Active(win.Begin.Add(-time.Minute)))
	require.True(t, c.Active(win.Begin))
	require.False(t, c.Active(win.End))

	require.Equal(t, 1.0, c.Factor(win.Begin))
	midpoint := win.Begin.Add(win.End.Sub(win.Begin) / 2)
	require.InDelta(t, c.Intensity, c.Factor(midpoint), 0.01)
	require.Equal(t, 1.0, c.Factor(win.End.Add(time.Minute)))
}

func TestToMemoryRoundTrip(t *testing.T) {
	c := New("eco1", gaiaconfig.ChaosConfig{Frequency: 1, Duration: 1, Intensity: 0.5}, gaiaconfig.ChaosMemoryEntry{})
	now := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	win, _ := c.Roll(now, alwaysRoll)

	mem := c.ToMemory(now)
	c2 := New("eco1", gaiaconfig.ChaosConfig{Frequency: 1, Duration: 1, Intensity: 0.5}, mem)
	require.Equal(t, win, c2.CurrentWindow())
}
