// Package ecosystem implements the per-ecosystem lifecycle: wiring an
// ActuatorHub, a Chaos tracker and the four subroutines together, and
// reconciling which subroutines run against live config, grounded on
// original_source/src/gaia/ecosystem.py.
package ecosystem

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vaamb/gaia/internal/actuator"
	"github.com/vaamb/gaia/internal/chaos"
	"github.com/vaamb/gaia/internal/events"
	"github.com/vaamb/gaia/internal/gaiaconfig"
	"github.com/vaamb/gaia/internal/nycthemeral"
	"github.com/vaamb/gaia/internal/persistence"
	"github.com/vaamb/gaia/internal/subroutine"
)

// ErrStoppingEcosystem signals that no subroutine is manageable/enabled,
// so the ecosystem cannot usefully start (or must stop).
var ErrStoppingEcosystem = errors.New("ecosystem: no subroutine is manageable, stopping")

// subroutineOrder is the fixed start order; Stop runs it in reverse.
var subroutineOrder = []string{"sensors", "light", "climate", "health"}

// Periods bundles the per-subroutine loop periods, normally sourced from
// app-level config (engine.AppConfig); zero values fall back to each
// subroutine's own default.
type Periods struct {
	Sensors time.Duration
	Light   time.Duration
	Climate time.Duration
}

// Deps bundles everything an Ecosystem needs beyond its own config that is
// shared process-wide.
type Deps struct {
	Root    *gaiaconfig.Root
	Bus     *events.Bus
	Store   *persistence.Store
	Conn    subroutine.ConnectionChecker
	Virtual bool
	Periods Periods
}

// Ecosystem owns one EcosystemConfig's ActuatorHub, Chaos tracker and
// subroutines, and reconciles the latter against live config.
type Ecosystem struct {
	uid  string
	name string

	config *gaiaconfig.EcosystemConfig
	hub    *actuator.Hub
	chaos  *chaos.Chaos
	log    zerolog.Logger

	sensors *subroutine.Sensors
	light   *subroutine.Light
	climate *subroutine.Climate
	health  *subroutine.Health
	byName  map[string]subroutine.Subroutine

	mu      sync.Mutex
	started bool
}

// New builds an Ecosystem for cfg, wiring its ActuatorHub, Chaos tracker
// and all four subroutines. Subroutines are constructed but not started;
// call Start (or RefreshSubroutines) to bring them up.
func New(cfg *gaiaconfig.EcosystemConfig, deps Deps, log zerolog.Logger) *Ecosystem {
	log = log.With().Str("ecosystem", cfg.Name).Logger()

	e := &Ecosystem{
		uid:    cfg.UID,
		name:   cfg.Name,
		config: cfg,
		log:    log,
	}

	e.hub = actuator.NewHub(cfg.UID, log, func(change actuator.StateChange) {
		if deps.Bus == nil {
			return
		}
		deps.Bus.Publish(events.TypeActuatorData, events.ActuatorDataPayload{
			EcosystemUID: change.EcosystemUID,
			ActuatorType: string(change.Type),
			Status:       change.Status,
			Level:        change.Level,
			Mode:         string(change.Mode),
		})
	})

	chaosMem, _ := deps.Root.ChaosMemory(cfg.UID)
	e.chaos = chaos.New(cfg.UID, cfg.Env.Chaos, chaosMem)

	homePlace := func() (gaiaconfig.Place, bool) {
		p, ok := deps.Root.Places()["home"]
		return p, ok
	}
	sunTimesFor := func(place string) (nycthemeral.SunTimes, bool) {
		entry, ok := deps.Root.SunTimes(place)
		if !ok {
			return nycthemeral.SunTimes{}, false
		}
		return nycthemeral.FromEntry(entry), true
	}

	sensorsPeriod := deps.Periods.Sensors
	lightPeriod := deps.Periods.Light
	climatePeriod := deps.Periods.Climate
	if climatePeriod <= 0 {
		climatePeriod = 10 * time.Second
	}

	e.sensors = subroutine.NewSensors(cfg.UID, deps.Virtual, subroutine.SensorsDeps{
		Config: cfg,
		Bus:    deps.Bus,
		Store:  deps.Store,
		Conn:   deps.Conn,
		Period: sensorsPeriod,
		TriggerClimate: func() {
			e.climate.Routine()
		},
		ClimateEveryNTicks: climateEveryNTicks(climatePeriod, sensorsPeriod),
	}, log)

	lightHandler := e.hub.Get(gaiaconfig.HardwareLight)
	e.light = subroutine.NewLight(cfg.UID, deps.Virtual, subroutine.LightDeps{
		Config:      cfg,
		HomePlace:   homePlace,
		SunTimesFor: sunTimesFor,
		SunTimesGen: deps.Root.SunTimesGeneration,
		ChaosFactor: e.chaos.Factor,
		Handler:     lightHandler,
		Bus:         deps.Bus,
		Period:      lightPeriod,
	}, log)

	e.climate = subroutine.NewClimate(cfg.UID, deps.Virtual, subroutine.ClimateDeps{
		Config:  cfg,
		Sensors: e.sensors,
		LightHours: func() (time.Duration, time.Duration, bool) {
			if !e.light.Started() {
				return 0, 0, false
			}
			h := e.light.Hours()
			return h.MorningStart, h.EveningEnd, true
		},
		ChaosFactor: e.chaos.Factor,
		Handlers: map[gaiaconfig.HardwareType]*actuator.Handler{
			gaiaconfig.HardwareHeater:     e.hub.Get(gaiaconfig.HardwareHeater),
			gaiaconfig.HardwareCooler:     e.hub.Get(gaiaconfig.HardwareCooler),
			gaiaconfig.HardwareHumidifier: e.hub.Get(gaiaconfig.HardwareHumidifier),
			gaiaconfig.HardwareDehumid:    e.hub.Get(gaiaconfig.HardwareDehumid),
		},
		Period: climatePeriod,
	}, log)

	e.health = subroutine.NewHealth(cfg.UID, deps.Virtual, subroutine.HealthDeps{
		Config:       cfg,
		LightHandler: lightHandler,
		Bus:          deps.Bus,
		Store:        deps.Store,
		Conn:         deps.Conn,
	}, log)

	e.byName = map[string]subroutine.Subroutine{
		"sensors": e.sensors,
		"light":   e.light,
		"climate": e.climate,
		"health":  e.health,
	}

	return e
}

// climateEveryNTicks computes ceil(climate_loop_period / sensors_period),
// the sensor-tick cadence at which Sensors triggers Climate.Routine
// directly, per §4.4's cross-subroutine cadence rule.
func climateEveryNTicks(climatePeriod, sensorsPeriod time.Duration) int {
	if sensorsPeriod <= 0 {
		sensorsPeriod = 10 * time.Second
	}
	n := int(math.Ceil(float64(climatePeriod) / float64(sensorsPeriod)))
	if n < 1 {
		n = 1
	}
	return n
}

// UID returns the ecosystem's identifier.
func (e *Ecosystem) UID() string { return e.uid }

// Name returns the ecosystem's display name.
func (e *Ecosystem) Name() string { return e.name }

// Status reports whether the ecosystem is currently started.
func (e *Ecosystem) Status() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

// Config returns the underlying, live-mutated EcosystemConfig.
func (e *Ecosystem) Config() *gaiaconfig.EcosystemConfig { return e.config }

// Chaos returns the ecosystem's Chaos tracker, for the engine's daily
// chaos-roll task.
func (e *Ecosystem) Chaos() *chaos.Chaos { return e.chaos }

// RefreshChaos re-reads chaos.frequency/duration/intensity from the live
// config, picking up edits made through the watcher or a CRUD event.
func (e *Ecosystem) RefreshChaos() {
	cfg := e.config.Env.Chaos
	e.chaos.Frequency = cfg.Frequency
	e.chaos.Duration = cfg.Duration
	e.chaos.Intensity = cfg.Intensity
}

func (e *Ecosystem) enabledSubroutines() map[string]bool {
	enabled := make(map[string]bool, len(subroutineOrder))
	for _, name := range subroutineOrder {
		enabled[name] = e.config.ManagementEnabled(name)
	}
	return enabled
}

// Start brings up every enabled subroutine in the fixed order
// sensors, light, climate, health. If none are enabled it returns
// ErrStoppingEcosystem without marking the ecosystem started. If any
// subroutine fails to start, the ones already started are stopped and
// the error is returned.
func (e *Ecosystem) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return fmt.Errorf("ecosystem %s: already running", e.name)
	}

	enabled := e.enabledSubroutines()
	anyEnabled := false
	for _, on := range enabled {
		if on {
			anyEnabled = true
			break
		}
	}
	if !anyEnabled {
		return ErrStoppingEcosystem
	}

	e.log.Info().Msg("starting ecosystem")
	var started []string
	for _, name := range subroutineOrder {
		if !enabled[name] {
			continue
		}
		if err := e.byName[name].Start(ctx); err != nil {
			for i := len(started) - 1; i >= 0; i-- {
				_ = e.byName[started[i]].Stop()
			}
			return fmt.Errorf("ecosystem %s: failed to start subroutine %s: %w", e.name, name, err)
		}
		started = append(started, name)
	}
	e.started = true
	e.log.Debug().Msg("ecosystem started")
	return nil
}

// Stop stops every subroutine in reverse order. If any subroutine fails
// to actually stop, the ecosystem stays marked started so the caller can
// retry.
func (e *Ecosystem) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return nil
	}

	e.log.Info().Msg("stopping ecosystem")
	for i := len(subroutineOrder) - 1; i >= 0; i-- {
		_ = e.byName[subroutineOrder[i]].Stop()
	}
	for _, name := range subroutineOrder {
		if e.byName[name].Started() {
			e.log.Error().Msg("failed to stop ecosystem, a subroutine is still running")
			return fmt.Errorf("ecosystem %s: failed to stop, subroutine %s still running", e.name, name)
		}
	}
	e.started = false
	e.log.Debug().Msg("ecosystem stopped")
	return nil
}

// RefreshSubroutines re-evaluates manageable() on every subroutine and
// reconciles started/stopped state against it and the management bitmap:
// unmanageable+started subroutines stop, manageable+enabled+not-started
// subroutines start, and manageable+started subroutines just refresh
// their hardware. If no subroutine ends up started, the ecosystem stops.
func (e *Ecosystem) RefreshSubroutines(ctx context.Context) {
	for _, name := range subroutineOrder {
		e.byName[name].UpdateManageable()
	}

	enabled := e.enabledSubroutines()
	anyStarted := false
	for _, name := range subroutineOrder {
		sub := e.byName[name]
		manageable := sub.Manageable()
		started := sub.Started()

		switch {
		case !manageable && started:
			if err := sub.Stop(); err != nil {
				e.log.Error().Err(err).Str("subroutine", name).Msg("failed to stop unmanageable subroutine")
			}
		case manageable && enabled[name] && !started:
			if err := sub.Start(ctx); err != nil {
				e.log.Error().Err(err).Str("subroutine", name).Msg("failed to start subroutine")
			}
		case manageable && started:
			if err := sub.RefreshHardware(); err != nil {
				e.log.Error().Err(err).Str("subroutine", name).Msg("failed to refresh subroutine hardware")
			}
		}
		if sub.Started() {
			anyStarted = true
		}
	}

	e.mu.Lock()
	wasStarted := e.started
	e.mu.Unlock()
	if wasStarted && !anyStarted {
		e.log.Info().Msg("no subroutine is running, stopping the ecosystem")
		_ = e.Stop()
	}
}

// TurnActuator is the turn_actuator facade: it looks up the Handler for
// actuatorType through the ActuatorHub and applies cmd/countdown to it.
// For light, it also re-emits a light_data event so observers see the
// override immediately rather than waiting for the next tick. Errors are
// logged, never returned, matching the "never raised to the caller"
// contract.
func (e *Ecosystem) TurnActuator(actuatorType gaiaconfig.HardwareType, cmd actuator.Command, countdown time.Duration) {
	handler := e.hub.Get(actuatorType)
	if err := handler.TurnTo(cmd, countdown, time.Now()); err != nil {
		e.log.Error().Err(err).Str("actuator_type", string(actuatorType)).Msg("failed to turn actuator")
		return
	}
	if actuatorType == gaiaconfig.HardwareLight {
		e.light.RepublishLightData()
	}
}

// Handler exposes the ActuatorHandler for actuatorType, creating it on
// first use. Used by the engine's event-driven turn_actuator path and by
// tests.
func (e *Ecosystem) Handler(actuatorType gaiaconfig.HardwareType) *actuator.Handler {
	return e.hub.Get(actuatorType)
}

// SensorsData returns the latest sensors snapshot, or the zero value if
// the sensors subroutine isn't running.
func (e *Ecosystem) SensorsData() subroutine.Data {
	if !e.sensors.Started() {
		return subroutine.Data{}
	}
	return e.sensors.Data()
}

// LightInfo returns the current resolved lighting-hours window, or the
// zero value if the light subroutine isn't running.
func (e *Ecosystem) LightInfo() nycthemeral.Hours {
	if !e.light.Started() {
		return nycthemeral.Hours{}
	}
	return e.light.Hours()
}

// PlantsHealth returns the most recent health capture, or a zero
// timestamp and no records if the health subroutine isn't running or
// hasn't captured yet.
func (e *Ecosystem) PlantsHealth() (time.Time, []subroutine.HealthRecord) {
	if !e.health.Started() {
		return time.Time{}, nil
	}
	return e.health.LastRecords()
}

// Management returns each subroutine's management flag corrected by
// whether it is currently manageable, matching the original's
// management property.
func (e *Ecosystem) Management() map[string]bool {
	out := make(map[string]bool, len(subroutineOrder))
	for _, name := range subroutineOrder {
		out[name] = e.config.ManagementEnabled(name) && e.byName[name].Manageable()
	}
	return out
}

// EnvironmentalParameters returns the ecosystem's environment config
// (chaos/nycthemeral/climate settings).
func (e *Ecosystem) EnvironmentalParameters() gaiaconfig.EnvironmentConfig {
	return e.config.Env
}

// Hardware returns the ecosystem's IO mapping.
func (e *Ecosystem) Hardware() map[string]*gaiaconfig.HardwareConfig {
	return e.config.IO
}

// ClimateParametersRegulated returns the climate parameters the climate
// subroutine is currently regulating, or nil if it isn't running.
func (e *Ecosystem) ClimateParametersRegulated() []string {
	if !e.climate.Started() {
		return nil
	}
	return e.climate.Regulated()
}

// ClimateTargets returns the currently regulated parameters' day targets,
// or nil if the climate subroutine isn't running.
func (e *Ecosystem) ClimateTargets() map[string]float64 {
	if !e.climate.Started() {
		return nil
	}
	return e.climate.Targets()
}
