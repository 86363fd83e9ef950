package actuator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestHystericalPIDTruthTable ports the exact truth table from
// original_source/tests/test_hysterical_PID.py: output freezes at 0
// inside the hysteresis band unless the previous tick was already
// driving in the direction the current error now requires.
func TestHystericalPIDTruthTable(t *testing.T) {
	const target = 42.0
	const hysteresis = 2.5

	newPID := func(lastOutput float64) *HystericalPID {
		h := &HystericalPID{
			PID:        PID{Kp: 1, OutputMin: -100, OutputMax: 100},
			Hysteresis: hysteresis,
		}
		h.SetTarget(target)
		h.lastOutput = lastOutput
		return h
	}

	t.Run("below target, out of hysteresis range", func(t *testing.T) {
		value := target - 2*hysteresis
		require.Greater(t, newPID(-1).UpdatePID(value), 0.0)
		require.Greater(t, newPID(0).UpdatePID(value), 0.0)
		require.Greater(t, newPID(1).UpdatePID(value), 0.0)
	})

	t.Run("below target, in hysteresis range", func(t *testing.T) {
		value := target - 0.5*hysteresis
		require.Equal(t, 0.0, newPID(-1).UpdatePID(value))
		require.Equal(t, 0.0, newPID(0).UpdatePID(value))
		require.Greater(t, newPID(1).UpdatePID(value), 0.0)
	})

	t.Run("above target, in hysteresis range", func(t *testing.T) {
		value := target + 0.5*hysteresis
		require.Less(t, newPID(-1).UpdatePID(value), 0.0)
		require.Equal(t, 0.0, newPID(0).UpdatePID(value))
		require.Equal(t, 0.0, newPID(1).UpdatePID(value))
	})

	t.Run("above target, out of hysteresis range", func(t *testing.T) {
		value := target + 2*hysteresis
		require.Less(t, newPID(-1).UpdatePID(value), 0.0)
		require.Less(t, newPID(0).UpdatePID(value), 0.0)
		require.Less(t, newPID(1).UpdatePID(value), 0.0)
	})
}

func TestHystericalPIDResetClearsLastOutput(t *testing.T) {
	h := &HystericalPID{PID: PID{Kp: 1, OutputMin: -100, OutputMax: 100}, Hysteresis: 1}
	h.SetTarget(10)
	h.lastOutput = 5
	h.Reset()
	require.Equal(t, 0.0, h.lastOutput)
	require.Equal(t, 10.0, h.Target())
}
