package subroutine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vaamb/gaia/internal/actuator"
	"github.com/vaamb/gaia/internal/gaiaconfig"
	"github.com/vaamb/gaia/internal/hardware"
	"github.com/vaamb/gaia/internal/nycthemeral"
)

// climateHardwareTypes are the actuator kinds Climate reconciles hardware
// for: the union of every actuatorCouple entry.
var climateHardwareTypes = []gaiaconfig.HardwareType{
	gaiaconfig.HardwareHeater, gaiaconfig.HardwareCooler,
	gaiaconfig.HardwareHumidifier, gaiaconfig.HardwareDehumid,
}

const missesBeforeStop = 5

// actuatorCouple is the fixed increase/decrease actuator-type mapping per
// regulated climate parameter.
var actuatorCouple = map[string][2]gaiaconfig.HardwareType{
	"temperature": {gaiaconfig.HardwareHeater, gaiaconfig.HardwareCooler},
	"humidity":    {gaiaconfig.HardwareHumidifier, gaiaconfig.HardwareDehumid},
}

// SensorsDataProvider exposes the subset of Sensors climate needs: its
// latest averages. Satisfied by *Sensors.
type SensorsDataProvider interface {
	Data() Data
}

// ClimateDeps bundles Climate's external dependencies.
type ClimateDeps struct {
	Config      *gaiaconfig.EcosystemConfig
	Sensors     SensorsDataProvider
	LightHours  func() (morningStart, eveningEnd time.Duration, ok bool)
	ChaosFactor func(now time.Time) float64
	Handlers    map[gaiaconfig.HardwareType]*actuator.Handler // increase/decrease handlers, keyed by type
	Period      time.Duration
}

// Climate is the climate subroutine: it regulates each present
// temperature/humidity pair via its hysteretic PID, reading the sensors
// cache rather than hardware directly.
type Climate struct {
	Base
	deps ClimateDeps

	cancel context.CancelFunc
	wg     sync.WaitGroup

	missesMu sync.Mutex
	misses   map[string]int

	driversMu    sync.Mutex
	driverOwners map[string]*actuator.Handler // uid -> handler it was attached to
}

// NewClimate builds the climate subroutine for one ecosystem.
func NewClimate(ecosystemUID string, virtual bool, deps ClimateDeps, log zerolog.Logger) *Climate {
	c := &Climate{
		Base:         NewBase(ecosystemUID, "climate", virtual, log),
		deps:         deps,
		misses:       make(map[string]int),
		driverOwners: make(map[string]*actuator.Handler),
	}
	c.SetHardwareHooks(c.attachDriver, c.detachDriver)
	return c
}

// attachDriver and detachDriver keep each climate ActuatorHandler's driver
// set in sync with the heater/cooler/humidifier/dehumidifier hardware
// Climate currently owns.
func (c *Climate) attachDriver(cfg *gaiaconfig.HardwareConfig, drv hardware.Hardware) {
	handler := c.deps.Handlers[cfg.Type]
	if handler == nil {
		return
	}
	handler.AddDriver(drv.GetUID(), drv)
	c.driversMu.Lock()
	c.driverOwners[drv.GetUID()] = handler
	c.driversMu.Unlock()
}

func (c *Climate) detachDriver(uid string, _ hardware.Hardware) {
	c.driversMu.Lock()
	handler := c.driverOwners[uid]
	delete(c.driverOwners, uid)
	c.driversMu.Unlock()
	if handler != nil {
		handler.RemoveDriver(uid)
	}
}

// regulated returns the climate parameters that have a configured target,
// at least one actuator of the matching increase/decrease couple in IO, and
// a sensor covering the measure — either reporting a live average already
// or configured in IO. A parameter missing any of these stays out of
// regulated so a single unmonitored or unactuated target can't trip
// shouldStop for the whole subroutine.
func (c *Climate) regulated() []string {
	var data Data
	if c.deps.Sensors != nil {
		data = c.deps.Sensors.Data()
	}

	var out []string
	for param, couple := range actuatorCouple {
		if _, ok := c.deps.Config.GetClimateParameter(param); !ok {
			continue
		}
		if !c.hasActuator(couple) {
			continue
		}
		if !c.hasSensorCoverage(param, data) {
			continue
		}
		out = append(out, param)
	}
	return out
}

// hasActuator reports whether at least one IO entry of either type in
// couple is configured.
func (c *Climate) hasActuator(couple [2]gaiaconfig.HardwareType) bool {
	for _, hwType := range couple {
		if len(c.deps.Config.GetIOGroupUIDs(hwType)) > 0 {
			return true
		}
	}
	return false
}

// hasSensorCoverage reports whether param is measured: either the sensors
// subroutine already has a live average for it, or a configured sensor
// lists it among its measures.
func (c *Climate) hasSensorCoverage(param string, data Data) bool {
	if _, ok := data.Averages[param]; ok {
		return true
	}
	for _, uid := range c.deps.Config.GetIOGroupUIDs(gaiaconfig.HardwareSensor) {
		hw := c.deps.Config.IO[uid]
		if hw == nil {
			continue
		}
		for _, measure := range hw.Measures {
			if measure == param {
				return true
			}
		}
	}
	return false
}

// Regulated exposes the climate parameters currently being regulated, for
// the ecosystem's climate_parameters_regulated accessor.
func (c *Climate) Regulated() []string {
	return c.regulated()
}

// Targets returns the configured day target for every regulated
// parameter, for the ecosystem's climate_targets accessor.
func (c *Climate) Targets() map[string]float64 {
	out := make(map[string]float64)
	for _, param := range c.regulated() {
		cfg, _ := c.deps.Config.GetClimateParameter(param)
		out[param] = cfg.Day
	}
	return out
}

func (c *Climate) UpdateManageable() {
	c.SetManageable(len(c.regulated()) > 0)
}

// GetHardwareNeededUIDs returns every heater/cooler/humidifier/dehumidifier
// entry in IO: Climate owns and reconciles this hardware itself, attaching
// each driver to its matching ActuatorHandler as it's built.
func (c *Climate) GetHardwareNeededUIDs() map[string]*gaiaconfig.HardwareConfig {
	out := make(map[string]*gaiaconfig.HardwareConfig)
	for _, hwType := range climateHardwareTypes {
		for uid, cfg := range hardwareNeeded(c.deps.Config, hwType) {
			out[uid] = cfg
		}
	}
	return out
}

func (c *Climate) RefreshHardware() error {
	return c.ReconcileHardware(context.Background(), c.GetHardwareNeededUIDs())
}

func (c *Climate) Start(ctx context.Context) error {
	if c.Started() {
		return fmt.Errorf("subroutine climate: already running")
	}
	if err := c.RefreshHardware(); err != nil {
		return err
	}
	for _, handler := range c.deps.Handlers {
		if handler != nil {
			handler.Acquire()
		}
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.setStarted(true)
	if c.deps.Period > 0 {
		c.wg.Add(1)
		go c.run(runCtx)
	}
	return nil
}

func (c *Climate) Stop() error {
	if !c.Started() {
		return nil
	}
	c.cancel()
	c.wg.Wait()
	c.StopAllHardware(context.Background())
	for _, handler := range c.deps.Handlers {
		if handler != nil {
			handler.Release()
		}
	}
	c.setStarted(false)
	return nil
}

func (c *Climate) run(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.deps.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Routine()
		}
	}
}

// Routine is the periodic work unit, exported so Sensors can trigger it
// directly every ceil(climate_loop_period / P_s) sensor ticks, per
// the cross-subroutine cadence rule.
func (c *Climate) Routine() {
	data := c.deps.Sensors.Data()
	now := time.Now()
	chaosFactor := 1.0
	if c.deps.ChaosFactor != nil {
		chaosFactor = c.deps.ChaosFactor(now)
	}
	isDay := c.periodOfDay(now)

	for _, param := range c.regulated() {
		avg, ok := data.Averages[param]
		if !ok {
			c.bumpMiss(param)
			continue
		}
		c.clearMiss(param)

		climateCfg, _ := c.deps.Config.GetClimateParameter(param)
		var target float64
		if isDay {
			target = climateCfg.Day
		} else {
			target = climateCfg.Night
		}
		target *= chaosFactor

		couple := actuatorCouple[param]
		increase := c.deps.Handlers[couple[0]]
		decrease := c.deps.Handlers[couple[1]]
		if increase == nil && decrease == nil {
			continue
		}

		var output float64
		if increase != nil {
			increase.PID.SetTarget(target)
			output = increase.PID.UpdatePID(avg)
		} else {
			decrease.PID.SetTarget(target)
			output = -decrease.PID.UpdatePID(avg)
		}
		c.drive(output, increase, decrease)
	}

	if c.shouldStop() {
		c.Log().Warn().Msg("climate subroutine stopping after too many consecutive missing sensor readings")
		_ = c.Stop()
	}
}

func (c *Climate) drive(output float64, increase, decrease *actuator.Handler) {
	ctx := context.Background()
	switch {
	case output > 0:
		if increase != nil {
			increase.ApplyAutomaticOutput(output)
			_ = increase.Drive(ctx)
		}
		if decrease != nil {
			decrease.ApplyAutomaticOutput(0)
			_ = decrease.Drive(ctx)
		}
	case output < 0:
		if decrease != nil {
			decrease.ApplyAutomaticOutput(-output)
			_ = decrease.Drive(ctx)
		}
		if increase != nil {
			increase.ApplyAutomaticOutput(0)
			_ = increase.Drive(ctx)
		}
	default:
		if increase != nil {
			increase.ApplyAutomaticOutput(0)
			_ = increase.Drive(ctx)
		}
		if decrease != nil {
			decrease.ApplyAutomaticOutput(0)
			_ = decrease.Drive(ctx)
		}
	}
}

// periodOfDay reports whether now falls within the light subroutine's
// current [morning_start, evening_end] window. Falls back to "day" when
// the light subroutine hasn't resolved a window yet.
func (c *Climate) periodOfDay(now time.Time) bool {
	if c.deps.LightHours == nil {
		return true
	}
	morningStart, eveningEnd, ok := c.deps.LightHours()
	if !ok {
		return true
	}
	nowOfDay := nycthemeral.TimeOfDay(now)
	return nowOfDay >= morningStart && nowOfDay <= eveningEnd
}

func (c *Climate) bumpMiss(param string) {
	c.missesMu.Lock()
	c.misses[param]++
	c.missesMu.Unlock()
}

func (c *Climate) clearMiss(param string) {
	c.missesMu.Lock()
	c.misses[param] = 0
	c.missesMu.Unlock()
}

func (c *Climate) shouldStop() bool {
	c.missesMu.Lock()
	defer c.missesMu.Unlock()
	for _, n := range c.misses {
		if n >= missesBeforeStop {
			return true
		}
	}
	return false
}
