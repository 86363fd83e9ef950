// Package hardware defines the driver capability interfaces hardware
// models must implement — dynamic dispatch on hardware model through
// a capability set, not a global type hierarchy — plus a virtualization
// mode for desktop testing.
package hardware

import (
	"context"
	"fmt"

	"github.com/vaamb/gaia/internal/gaiaconfig"
	"github.com/vaamb/gaia/internal/hwaddress"
)

// Record is one (sensor, measure, value) sample.
type Record struct {
	SensorUID string
	Measure   string
	Unit      string
	Value     float64
}

// Base is embedded by every concrete driver; it carries the identity and
// parsed address shared by all hardware kinds.
type Base struct {
	UID     string
	Name    string
	Model   string
	Type    gaiaconfig.HardwareType
	Level   gaiaconfig.HardwareLevel
	Address hwaddress.Address
	Plants  []string
}

func (b Base) GetUID() string   { return b.UID }
func (b Base) GetName() string  { return b.Name }
func (b Base) GetModel() string { return b.Model }

// Hardware is the minimal capability every driver has.
type Hardware interface {
	GetUID() string
	GetName() string
	GetModel() string
}

// Switch is an on/off actuator (heater, cooler, humidifier, dehumidifier,
// fan, non-dimmable light).
type Switch interface {
	Hardware
	TurnOn(ctx context.Context) error
	TurnOff(ctx context.Context) error
	IsOn() bool
}

// Dimmer is a PWM-capable actuator (dimmable light, variable-speed fan).
type Dimmer interface {
	Switch
	// SetLevel sets the duty cycle as a 0-100 percentage; the driver is
	// responsible for converting to duty_cycle_16b = pct/100 * 65535.
	SetLevel(ctx context.Context, percent float64) error
	Level() float64
}

// BaseSensor reads one or more measures.
type BaseSensor interface {
	Hardware
	GetData(ctx context.Context) ([]Record, error)
	Measures() []string
}

// LightSensor is a BaseSensor specialized for ambient lux readings,
// feeding the light subroutine's PID target.
type LightSensor interface {
	BaseSensor
	GetLux(ctx context.Context) (float64, error)
}

// Camera captures a still frame as a pixel array whose shape is opaque to
// this package; plant-health index math lives in the health subroutine
// and operates on whatever the camera returns.
type Camera interface {
	Hardware
	Capture(ctx context.Context) (PixelArray, error)
}

// PixelArray is an opaque RGB frame: Width*Height pixels, 3 bytes each
// (R,G,B), row-major. Index math for a pixel (x,y) channel c is
// (y*Width+x)*3 + c.
type PixelArray struct {
	Width, Height int
	Pixels        []byte
}

// At returns the (r,g,b) channels of pixel (x,y).
func (p PixelArray) At(x, y int) (r, g, b byte) {
	i := (y*p.Width + x) * 3
	return p.Pixels[i], p.Pixels[i+1], p.Pixels[i+2]
}

// Constructor builds one driver instance from its HardwareConfig. Drivers
// register their Constructor in the package registry at init() time,
// keyed by model string.
type Constructor func(cfg *gaiaconfig.HardwareConfig, virtual bool) (Hardware, error)

var registry = make(map[string]Constructor)

// Register adds a model constructor. Panics on duplicate registration,
// which only happens on a programming error (two drivers claiming the same
// model string), never at runtime from config.
func Register(model string, ctor Constructor) {
	if _, exists := registry[model]; exists {
		panic(fmt.Sprintf("hardware: model %q already registered", model))
	}
	registry[model] = ctor
}

// Build constructs a driver for cfg using the model registry. Returns
// gaiaconfig's "unknown hardware model" ConfigError-equivalent when the
// model isn't registered.
func Build(cfg *gaiaconfig.HardwareConfig, virtual bool) (Hardware, error) {
	ctor, ok := registry[cfg.Model]
	if !ok {
		return nil, fmt.Errorf("hardware: unknown model %q for hardware %s", cfg.Model, cfg.UID)
	}
	return ctor(cfg, virtual)
}

func parseBase(cfg *gaiaconfig.HardwareConfig) (Base, error) {
	addr, err := hwaddress.Parse(cfg.Address)
	if err != nil {
		return Base{}, fmt.Errorf("hardware %s: %w", cfg.UID, err)
	}
	return Base{
		UID: cfg.UID, Name: cfg.Name, Model: cfg.Model,
		Type: cfg.Type, Level: cfg.Level, Address: addr, Plants: cfg.Plants,
	}, nil
}
