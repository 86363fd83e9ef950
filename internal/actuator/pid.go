// Package actuator implements the per-(ecosystem, hardware-type) actuator
// handler, its hysteretic PID, and the hub that hands out references to
// both, grounded on
// original_source/src/gaia/subroutines/actuator_handler.py.
package actuator

import "math"

// PID is a standard Kp/Ki/Kd controller with output clamping.
type PID struct {
	Kp, Ki, Kd float64
	OutputMin  float64
	OutputMax  float64

	target     float64
	integral   float64
	lastError  float64
	hasLastErr bool
}

// SetTarget updates the setpoint.
func (p *PID) SetTarget(target float64) { p.target = target }

// Target returns the current setpoint.
func (p *PID) Target() float64 { return p.target }

// Reset clears the controller's accumulated state (integral and derivative
// memory) without touching tunables or target.
func (p *PID) Reset() {
	p.integral = 0
	p.lastError = 0
	p.hasLastErr = false
}

// update runs one PID step for dt (in ticks, dt == 1 when unspecified) and
// returns the clamped raw output, ignoring hysteresis.
func (p *PID) update(value float64, dt float64) float64 {
	if dt <= 0 {
		dt = 1
	}
	err := p.target - value
	p.integral += p.Ki * err * dt
	p.integral = clamp(p.integral, p.OutputMin, p.OutputMax)
	var derivative float64
	if p.hasLastErr {
		derivative = p.Kd * (err - p.lastError) / dt
	}
	p.lastError = err
	p.hasLastErr = true

	out := p.Kp*err + p.integral + derivative
	return clamp(out, p.OutputMin, p.OutputMax)
}

func clamp(v, min, max float64) float64 {
	if max < min {
		min, max = max, min
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// HystericalPID wraps PID with a hysteresis band: inside the band around
// target, output freezes at 0 unless the previous tick's output was
// already driving in the direction the current value now requires
// (exact truth table verified in pid_test.go, ported from the original
// Python test suite).
type HystericalPID struct {
	PID
	Hysteresis float64

	lastOutput float64
}

// UpdatePID runs one tick and returns the (possibly frozen) output.
func (h *HystericalPID) UpdatePID(value float64) float64 {
	err := h.target - value
	inBand := math.Abs(err) <= h.Hysteresis

	if inBand {
		neededSign := sign(err)
		if sign(h.lastOutput) != neededSign || neededSign == 0 {
			h.lastOutput = 0
			return 0
		}
	}

	out := h.PID.update(value, 1)
	h.lastOutput = out
	return out
}

// Reset clears both the inner PID state and the remembered last output.
func (h *HystericalPID) Reset() {
	h.PID.Reset()
	h.lastOutput = 0
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
