// Package subroutine implements the per-ecosystem periodic workers
// (sensors, light, climate, health), generalized from
// original_source/src/gaia/subroutines/template.py's SubroutineTemplate.
package subroutine

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vaamb/gaia/internal/gaiaconfig"
	"github.com/vaamb/gaia/internal/hardware"
)

// Subroutine is the contract every concrete worker implements. Ecosystem
// drives these in the fixed order sensors, light, climate, health.
type Subroutine interface {
	Name() string
	UpdateManageable()
	Manageable() bool
	Started() bool
	Start(ctx context.Context) error
	Stop() error
	RefreshHardware() error
}

// ConnectionChecker reports whether an outbound transport is currently
// usable. Satisfied by *events.Dispatcher; subroutines depend on this
// narrow interface instead of the concrete type to avoid an import cycle.
type ConnectionChecker interface {
	IsConnected() bool
}

// Base provides the bookkeeping shared by every subroutine: hardware
// lifecycle, started/manageable state, and logging. Concrete subroutines
// embed Base and implement the rest of Subroutine themselves — Go has no
// abstract-method dispatch, so the per-kind behavior the Python template
// assigned to abstract methods instead lives directly on each concrete
// type, calling back into Base's helpers.
type Base struct {
	EcosystemUID string
	Virtual      bool
	log          zerolog.Logger

	mu       sync.Mutex
	name     string
	hardware map[string]hardware.Hardware
	started  bool
	manageable bool

	onHardwareAdded   func(cfg *gaiaconfig.HardwareConfig, drv hardware.Hardware)
	onHardwareRemoved func(uid string, drv hardware.Hardware)
}

// SetHardwareHooks wires the callbacks invoked whenever AddHardware/
// RemoveHardware attach or detach a driver, so a subroutine can keep an
// actuator.Handler's driver set in sync with its owned hardware. Either
// hook may be nil.
func (b *Base) SetHardwareHooks(onAdded func(cfg *gaiaconfig.HardwareConfig, drv hardware.Hardware), onRemoved func(uid string, drv hardware.Hardware)) {
	b.onHardwareAdded = onAdded
	b.onHardwareRemoved = onRemoved
}

// NewBase builds the shared bookkeeping for one (ecosystem, subroutine
// name) pair.
func NewBase(ecosystemUID, name string, virtual bool, log zerolog.Logger) Base {
	return Base{
		EcosystemUID: ecosystemUID,
		Virtual:      virtual,
		name:         name,
		hardware:     make(map[string]hardware.Hardware),
		log:          log.With().Str("subroutine", name).Logger(),
	}
}

func (b *Base) Name() string { return b.name }

func (b *Base) Log() zerolog.Logger { return b.log }

func (b *Base) Started() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started
}

func (b *Base) setStarted(v bool) {
	b.mu.Lock()
	b.started = v
	b.mu.Unlock()
}

func (b *Base) Manageable() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.manageable
}

// SetManageable is called by the concrete subroutine's UpdateManageable
// once it has decided whether current config/hardware make it useful.
func (b *Base) SetManageable(v bool) {
	b.mu.Lock()
	b.manageable = v
	b.mu.Unlock()
}

// Hardware returns a snapshot of the currently owned drivers.
func (b *Base) Hardware() map[string]hardware.Hardware {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]hardware.Hardware, len(b.hardware))
	for k, v := range b.hardware {
		out[k] = v
	}
	return out
}

// AddHardware builds a driver from cfg and attaches it. Switches are
// forced off and dimmers to 0 immediately after construction, matching
// add_hardware's safety behavior.
func (b *Base) AddHardware(ctx context.Context, cfg *gaiaconfig.HardwareConfig) (hardware.Hardware, error) {
	drv, err := hardware.Build(cfg, b.Virtual)
	if err != nil {
		return nil, fmt.Errorf("subroutine %s: failed to set up hardware %s: %w", b.name, cfg.UID, err)
	}
	if sw, ok := drv.(hardware.Switch); ok {
		_ = sw.TurnOff(ctx)
	}
	if dim, ok := drv.(hardware.Dimmer); ok {
		_ = dim.SetLevel(ctx, 0)
	}
	b.mu.Lock()
	b.hardware[drv.GetUID()] = drv
	b.mu.Unlock()
	b.log.Debug().Str("uid", drv.GetUID()).Msg("hardware attached")
	if b.onHardwareAdded != nil {
		b.onHardwareAdded(cfg, drv)
	}
	return drv, nil
}

// RemoveHardware turns hardware_uid off (if applicable) and detaches it.
func (b *Base) RemoveHardware(ctx context.Context, uid string) {
	b.mu.Lock()
	drv, ok := b.hardware[uid]
	delete(b.hardware, uid)
	b.mu.Unlock()
	if !ok {
		return
	}
	if sw, ok := drv.(hardware.Switch); ok {
		_ = sw.TurnOff(ctx)
	}
	if dim, ok := drv.(hardware.Dimmer); ok {
		_ = dim.SetLevel(ctx, 0)
	}
	if b.onHardwareRemoved != nil {
		b.onHardwareRemoved(uid, drv)
	}
}

// ReconcileHardware adds hardware that's needed but not owned, and
// removes hardware that's owned but no longer needed, matching
// refresh_hardware(). needed maps hardware uid to its config.
func (b *Base) ReconcileHardware(ctx context.Context, needed map[string]*gaiaconfig.HardwareConfig) error {
	owned := b.Hardware()
	for uid, cfg := range needed {
		if _, ok := owned[uid]; !ok {
			if _, err := b.AddHardware(ctx, cfg); err != nil {
				return err
			}
		}
	}
	for uid := range owned {
		if _, ok := needed[uid]; !ok {
			b.RemoveHardware(ctx, uid)
		}
	}
	return nil
}

// StopAllHardware releases every owned driver, in no particular order.
func (b *Base) StopAllHardware(ctx context.Context) {
	for uid := range b.Hardware() {
		b.RemoveHardware(ctx, uid)
	}
}

// hardwareNeeded filters an ecosystem's IO map down to the hardware of
// hwType, keyed by uid, for use with ReconcileHardware.
func hardwareNeeded(cfg *gaiaconfig.EcosystemConfig, hwType gaiaconfig.HardwareType) map[string]*gaiaconfig.HardwareConfig {
	out := make(map[string]*gaiaconfig.HardwareConfig)
	for _, uid := range cfg.GetIOGroupUIDs(hwType) {
		out[uid] = cfg.IO[uid]
	}
	return out
}
