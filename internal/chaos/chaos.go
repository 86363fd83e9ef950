// Package chaos implements the stochastic daily disturbance window applied
// to climate and light targets, grounded on
// original_source/src/gaia/subroutines/chaos.py.
package chaos

import (
	"math"
	"math/rand"
	"time"

	"github.com/vaamb/gaia/internal/gaiaconfig"
)

// Window is a persisted chaos time window for one ecosystem.
type Window struct {
	Begin, End time.Time
}

// Chaos computes and persists the daily-rolled disturbance window for one
// ecosystem. Roll() and Factor() are safe for concurrent use by different
// goroutines as long as the caller serializes calls to Roll itself (the
// Engine's daily background task is the only writer).
type Chaos struct {
	EcosystemUID string
	Frequency    int
	Duration     int // days
	Intensity    float64

	window Window
}

// chaosStartHour is the UTC hour at which a rolled chaos window begins.
// The original source hard-codes this at local midnight with no documented
// rationale; 14:00 UTC is used here instead and treated as authoritative
// over that local-midnight start.
const chaosStartHour = 14

// New builds a Chaos tracker from cfg, seeding its window from mem if one
// was persisted, or an already-expired window otherwise (so Factor()
// returns 1.0 until the first roll).
func New(ecosystemUID string, cfg gaiaconfig.ChaosConfig, mem gaiaconfig.ChaosMemoryEntry) *Chaos {
	c := &Chaos{
		EcosystemUID: ecosystemUID,
		Frequency:    cfg.Frequency,
		Duration:     cfg.Duration,
		Intensity:    cfg.Intensity,
	}
	if mem.Beginning != nil && mem.End != nil {
		c.window = Window{Begin: *mem.Beginning, End: *mem.End}
	}
	// Without memory the zero Window stays: it has ended before any now.
	return c
}

// Roll runs the once-daily dice throw: with probability 1/Frequency it
// opens a new window of a random duration (1..Duration days) starting
// today at 14:00 UTC. Returns the new window when a roll happened, or
// ok=false when it's not yet time to roll (today's window already active)
// or chaos is disabled (Frequency == 0).
func (c *Chaos) Roll(now time.Time, rollDie func(n int) int) (Window, bool) {
	if c.Frequency == 0 {
		return Window{}, false
	}
	if !now.After(c.window.End) {
		return Window{}, false
	}
	if rollDie(c.Frequency) != 1 {
		return Window{}, false
	}
	start := time.Date(now.Year(), now.Month(), now.Day(), chaosStartHour, 0, 0, 0, time.UTC)
	days := 1
	if c.Duration > 1 {
		days = rollDie(c.Duration)
	}
	c.window = Window{Begin: start, End: start.AddDate(0, 0, days)}
	return c.window, true
}

// DefaultRollDie rolls a uniform integer in [1, n], matching
// random.randint(1, n) semantics.
func DefaultRollDie(n int) int {
	if n <= 0 {
		return 1
	}
	return rand.Intn(n) + 1
}

// Active reports whether now falls inside the current window.
func (c *Chaos) Active(now time.Time) bool {
	return !now.Before(c.window.Begin) && now.Before(c.window.End)
}

// CurrentWindow returns the currently tracked window.
func (c *Chaos) CurrentWindow() Window {
	return c.window
}

// intensityFunction maps a [0,1] progress fraction to a [0,1] multiplier
// shape, matching original_source's sin(value*pi).
func intensityFunction(value float64) float64 {
	return math.Sin(value * math.Pi)
}

// Factor returns the multiplier to apply to a climate/light target at now:
// 1.0 outside the window or when chaos is disabled, rising to a peak of
// Intensity at the window's midpoint and back to 1.0 at its end.
func (c *Chaos) Factor(now time.Time) float64 {
	if c.Frequency == 0 || !c.Active(now) {
		return 1.0
	}
	total := c.window.End.Sub(c.window.Begin).Minutes()
	if total <= 0 {
		return 1.0
	}
	elapsed := now.Sub(c.window.Begin).Minutes()
	fraction := elapsed / total
	return intensityFunction(fraction)*(c.Intensity-1.0) + 1.0
}

// ToMemory converts the current window into the persisted representation.
func (c *Chaos) ToMemory(lastUpdate time.Time) gaiaconfig.ChaosMemoryEntry {
	begin, end := c.window.Begin, c.window.End
	return gaiaconfig.ChaosMemoryEntry{Beginning: &begin, End: &end, LastUpdate: lastUpdate}
}
