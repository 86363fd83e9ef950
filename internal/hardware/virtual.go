package hardware

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/vaamb/gaia/internal/gaiaconfig"
)

// init registers the virtualized drivers this binary ships with. A real
// deployment's Raspberry Pi build would additionally register GPIO/I2C
// drivers behind a build tag; this module targets the desktop/virtual
// mode needed for development and CI.
func init() {
	Register("virtualSwitch", newVirtualSwitch)
	Register("virtualDimmer", newVirtualDimmer)
	Register("virtualTemperatureSensor", newVirtualSensor([]string{"temperature"}, []string{"celsius_degree"}))
	Register("virtualHumiditySensor", newVirtualSensor([]string{"humidity"}, []string{"rel_humidity"}))
	Register("virtualLightSensor", newVirtualLightSensorCtor)
	Register("virtualCamera", newVirtualCamera)
}

// virtualSwitch simulates an on/off actuator in memory.
type virtualSwitch struct {
	Base
	mu sync.Mutex
	on bool
}

func newVirtualSwitch(cfg *gaiaconfig.HardwareConfig, _ bool) (Hardware, error) {
	base, err := parseBase(cfg)
	if err != nil {
		return nil, err
	}
	return &virtualSwitch{Base: base}, nil
}

func (s *virtualSwitch) TurnOn(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.on = true
	return nil
}

func (s *virtualSwitch) TurnOff(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.on = false
	return nil
}

func (s *virtualSwitch) IsOn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.on
}

// virtualDimmer simulates a PWM-capable actuator in memory.
type virtualDimmer struct {
	Base
	mu      sync.Mutex
	on      bool
	percent float64
}

func newVirtualDimmer(cfg *gaiaconfig.HardwareConfig, _ bool) (Hardware, error) {
	base, err := parseBase(cfg)
	if err != nil {
		return nil, err
	}
	return &virtualDimmer{Base: base}, nil
}

func (d *virtualDimmer) TurnOn(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.on = true
	return nil
}

func (d *virtualDimmer) TurnOff(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.on = false
	d.percent = 0
	return nil
}

func (d *virtualDimmer) IsOn() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.on
}

func (d *virtualDimmer) SetLevel(_ context.Context, percent float64) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("hardware %s: level %.1f out of range [0,100]", d.UID, percent)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.percent = percent
	d.on = percent > 0
	return nil
}

func (d *virtualDimmer) Level() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.percent
}

// virtualSensor generates plausible readings for its configured measures by
// drifting a sinusoid with a bit of noise, so subroutine-level trend
// smoothing and averaging have something non-trivial to operate on in
// virtualization mode.
type virtualSensor struct {
	Base
	units  map[string]string
	phase  float64
	center map[string]float64
}

func newVirtualSensor(measures, units []string) Constructor {
	return func(cfg *gaiaconfig.HardwareConfig, _ bool) (Hardware, error) {
		base, err := parseBase(cfg)
		if err != nil {
			return nil, err
		}
		if len(cfg.Measures) > 0 {
			measures = cfg.Measures
		}
		unitByMeasure := make(map[string]string, len(measures))
		center := make(map[string]float64, len(measures))
		for i, m := range measures {
			if i < len(units) {
				unitByMeasure[m] = units[i]
			}
			center[m] = defaultCenter(m)
		}
		return &virtualSensor{Base: base, units: unitByMeasure, center: center}, nil
	}
}

func defaultCenter(measure string) float64 {
	switch measure {
	case "temperature":
		return 22.0
	case "humidity":
		return 55.0
	case "light":
		return 8000.0
	default:
		return 0.0
	}
}

func (s *virtualSensor) Measures() []string {
	out := make([]string, 0, len(s.center))
	for m := range s.center {
		out = append(out, m)
	}
	return out
}

func (s *virtualSensor) GetData(_ context.Context) ([]Record, error) {
	s.phase += 0.1
	out := make([]Record, 0, len(s.center))
	for measure, center := range s.center {
		drift := math.Sin(s.phase) * center * 0.05
		noise := (rand.Float64() - 0.5) * center * 0.02
		out = append(out, Record{
			SensorUID: s.UID,
			Measure:   measure,
			Unit:      s.units[measure],
			Value:     center + drift + noise,
		})
	}
	return out, nil
}

// virtualLightSensor additionally implements LightSensor, reporting a lux
// value that drifts around 8000 with each reading so the light
// subroutine's ambient-level PID has a moving signal to follow
// (original_source's light.py averages multiple such readings with a
// timeout).
type virtualLightSensor struct {
	virtualSensor
}

func newVirtualLightSensorCtor(cfg *gaiaconfig.HardwareConfig, _ bool) (Hardware, error) {
	base, err := parseBase(cfg)
	if err != nil {
		return nil, err
	}
	return &virtualLightSensor{virtualSensor{
		Base:   base,
		units:  map[string]string{"light": "lux"},
		center: map[string]float64{"light": 8000.0},
	}}, nil
}

func (s *virtualLightSensor) GetLux(ctx context.Context) (float64, error) {
	records, err := s.GetData(ctx)
	if err != nil {
		return 0, err
	}
	for _, r := range records {
		if r.Measure == "light" {
			return r.Value, nil
		}
	}
	return 0, fmt.Errorf("hardware %s: no light measure configured", s.UID)
}

// virtualCamera returns a small synthetic frame so the health subroutine's
// plant-index computation has real bytes to chew on.
type virtualCamera struct {
	Base
}

func newVirtualCamera(cfg *gaiaconfig.HardwareConfig, _ bool) (Hardware, error) {
	base, err := parseBase(cfg)
	if err != nil {
		return nil, err
	}
	return &virtualCamera{Base: base}, nil
}

func (c *virtualCamera) Capture(_ context.Context) (PixelArray, error) {
	const w, h = 32, 32
	pixels := make([]byte, w*h*3)
	seed := time.Now().UnixNano()
	r := rand.New(rand.NewSource(seed))
	for i := 0; i < w*h; i++ {
		pixels[i*3] = byte(40 + r.Intn(40))      // R, low
		pixels[i*3+1] = byte(120 + r.Intn(100))  // G, plant-dominant
		pixels[i*3+2] = byte(40 + r.Intn(40))    // B, low
	}
	return PixelArray{Width: w, Height: h, Pixels: pixels}, nil
}
