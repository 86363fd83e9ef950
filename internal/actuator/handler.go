package actuator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vaamb/gaia/internal/gaiaconfig"
	"github.com/vaamb/gaia/internal/hardware"
)

// Mode is the actuator handler's control-source state.
type Mode string

const (
	ModeAutomatic Mode = "automatic"
	ModeManual    Mode = "manual"
)

// Command is an inbound turn_actuator payload's requested mode.
type Command string

const (
	CommandAutomatic Command = "automatic"
	CommandOn        Command = "on"
	CommandOff       Command = "off"
)

// StateChange describes a status/mode transition worth telling the outbound
// event dispatcher about.
type StateChange struct {
	EcosystemUID string
	Type         gaiaconfig.HardwareType
	Status       bool
	Level        float64
	Mode         Mode
}

// Handler is the per-(ecosystem, hardware-type) actuator coordinator.
// It owns a HystericalPID and drives every live driver of its type
// that's currently attached.
type Handler struct {
	EcosystemUID string
	Type         gaiaconfig.HardwareType
	PID          HystericalPID

	mu          sync.Mutex
	drivers     map[string]hardware.Hardware
	activations int // number of subroutines currently sharing this handler

	status   bool
	level    float64
	mode     Mode
	deadline time.Time
	timerSet bool

	lastStatus bool
	lastMode   Mode

	onChange func(StateChange)
	log      zerolog.Logger
}

// NewHandler builds a Handler for ecosystemUID/actuatorType. onChange, if
// non-nil, is invoked (outside the handler's lock) whenever status or mode
// actually changes — the hook the ActuatorHub wires to the events bus.
func NewHandler(ecosystemUID string, actuatorType gaiaconfig.HardwareType, log zerolog.Logger, onChange func(StateChange)) *Handler {
	return &Handler{
		EcosystemUID: ecosystemUID,
		Type:         actuatorType,
		PID:          HystericalPID{PID: PID{Kp: 15, Ki: 0.5, Kd: 1, OutputMin: -100, OutputMax: 100}},
		drivers:      make(map[string]hardware.Hardware),
		mode:         ModeAutomatic,
		onChange:     onChange,
		log:          log.With().Str("actuator_type", string(actuatorType)).Logger(),
	}
}

// AddDriver attaches a live driver this handler will write status/level to.
func (h *Handler) AddDriver(uid string, drv hardware.Hardware) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drivers[uid] = drv
}

// RemoveDriver detaches a driver. The caller (subroutine.stop()/
// refresh_hardware()) is responsible for turning the driver off
// beforehand.
func (h *Handler) RemoveDriver(uid string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.drivers, uid)
}

// Acquire registers one more subroutine as a user of this handler.
// ActiveCount becomes > 0 as soon as any subroutine has activated it
//; a handler with ActiveCount == 0 must not
// drive hardware.
func (h *Handler) Acquire() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.activations++
}

// Release undoes one Acquire call.
func (h *Handler) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.activations > 0 {
		h.activations--
	}
}

// ActiveCount is the number of subroutines currently sharing this handler.
func (h *Handler) ActiveCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.activations
}

// Mode returns the current control-source mode.
func (h *Handler) Mode() Mode {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mode
}

// Status returns the current desired on/off state.
func (h *Handler) Status() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Level returns the current desired PWM level (0 when not applicable).
func (h *Handler) Level() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.level
}

// Countdown returns the remaining manual-override duration, or 0 with
// ok=false if no countdown is running.
func (h *Handler) Countdown(now time.Time) (time.Duration, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.timerSet {
		return 0, false
	}
	remaining := h.deadline.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// TurnTo implements the mode state machine: cmd
// "automatic" returns control to the PID; "on"/"off" forces manual status
// for countdown seconds (0 == indefinite, matching the Python source's
// "no timer" semantics when countdown is falsy).
func (h *Handler) TurnTo(cmd Command, countdown time.Duration, now time.Time) error {
	h.mu.Lock()
	switch cmd {
	case CommandAutomatic:
		h.mode = ModeAutomatic
		h.timerSet = false
	case CommandOn:
		h.mode = ModeManual
		h.status = true
	case CommandOff:
		h.mode = ModeManual
		h.status = false
	default:
		h.mu.Unlock()
		return fmt.Errorf("actuator: unknown turn_to command %q", cmd)
	}
	if countdown > 0 {
		h.deadline = now.Add(countdown)
		h.timerSet = true
	} else {
		h.timerSet = false
	}
	change, changed := h.snapshotIfChangedLocked()
	h.mu.Unlock()
	if changed && h.onChange != nil {
		h.onChange(change)
	}
	return nil
}

// ExpireCountdown reverts a manual override to automatic once its deadline
// has passed. The caller is expected to immediately
// recompute status from the PID afterward.
func (h *Handler) ExpireCountdown(now time.Time) (expired bool) {
	h.mu.Lock()
	if !h.timerSet || now.Before(h.deadline) {
		h.mu.Unlock()
		return false
	}
	h.timerSet = false
	h.mode = ModeAutomatic
	change, changed := h.snapshotIfChangedLocked()
	h.mu.Unlock()
	if changed && h.onChange != nil {
		h.onChange(change)
	}
	return true
}

// ApplyAutomaticOutput feeds a fresh hysteretic-PID output into status and
// level when the handler is in automatic mode. In manual mode the call is
// a no-op: status/level stay under operator control until the countdown
// expires.
func (h *Handler) ApplyAutomaticOutput(output float64) {
	h.mu.Lock()
	if h.mode != ModeAutomatic {
		h.mu.Unlock()
		return
	}
	h.status = output > 0
	if h.status {
		h.level = output
	} else {
		h.level = 0
	}
	change, changed := h.snapshotIfChangedLocked()
	h.mu.Unlock()
	if changed && h.onChange != nil {
		h.onChange(change)
	}
}

// snapshotIfChangedLocked must be called with h.mu held. It returns the
// current state and whether status or mode moved since the last snapshot.
func (h *Handler) snapshotIfChangedLocked() (StateChange, bool) {
	changed := h.status != h.lastStatus || h.mode != h.lastMode
	h.lastStatus = h.status
	h.lastMode = h.mode
	return StateChange{
		EcosystemUID: h.EcosystemUID,
		Type:         h.Type,
		Status:       h.status,
		Level:        h.level,
		Mode:         h.mode,
	}, changed
}

// Drive pushes the handler's current status/level to every attached
// driver. A handler with ActiveCount == 0 is a no-op, satisfying the
// invariant that an unactivated handler never writes to
// hardware.
func (h *Handler) Drive(ctx context.Context) error {
	h.mu.Lock()
	if h.activations == 0 {
		h.mu.Unlock()
		return nil
	}
	status, level := h.status, h.level
	drivers := make([]hardware.Hardware, 0, len(h.drivers))
	for _, d := range h.drivers {
		drivers = append(drivers, d)
	}
	h.mu.Unlock()

	for _, drv := range drivers {
		if dimmer, ok := drv.(hardware.Dimmer); ok {
			if status {
				if err := dimmer.SetLevel(ctx, level); err != nil {
					h.log.Warn().Err(err).Str("uid", dimmer.GetUID()).Msg("failed to set dimmer level")
				}
			} else if err := dimmer.TurnOff(ctx); err != nil {
				h.log.Warn().Err(err).Str("uid", dimmer.GetUID()).Msg("failed to turn off dimmer")
			}
			continue
		}
		if sw, ok := drv.(hardware.Switch); ok {
			var err error
			if status {
				err = sw.TurnOn(ctx)
			} else {
				err = sw.TurnOff(ctx)
			}
			if err != nil {
				h.log.Warn().Err(err).Str("uid", sw.GetUID()).Msg("failed to drive switch")
			}
		}
	}
	return nil
}
