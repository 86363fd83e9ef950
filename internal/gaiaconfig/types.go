// Package gaiaconfig models the two on-disk configuration files
// (ecosystems.cfg, private.cfg) and the process-wide
// EngineConfig root built from them.
package gaiaconfig

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"
)

// ManagementFlags is the bitmap of enabled features on an ecosystem.
type ManagementFlags uint16

const (
	ManageSensors ManagementFlags = 1 << iota
	ManageLight
	ManageClimate
	ManageHealth
	ManageAlarms
	ManageDatabase
	ManagePictures
	ManageWebcam
)

// Has reports whether flag is set.
func (m ManagementFlags) Has(flag ManagementFlags) bool {
	return m&flag != 0
}

// Set returns m with flag set to on.
func (m ManagementFlags) Set(flag ManagementFlags, on bool) ManagementFlags {
	if on {
		return m | flag
	}
	return m &^ flag
}

// Place is a named (latitude, longitude) reference for sun-time lookups.
type Place struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

// ChaosConfig is the stochastic-disturbance configuration for one ecosystem.
type ChaosConfig struct {
	Frequency int     `yaml:"frequency"`
	Duration  int     `yaml:"duration"`
	Intensity float64 `yaml:"intensity"`
}

// NycthemeralCycleConfig describes how day/night and light on/off hours
// are determined for one ecosystem.
type NycthemeralCycleConfig struct {
	Span     string  `yaml:"span"`   // "fixed" | "mimic"
	Target   *string `yaml:"target"` // place name, required when Span == "mimic"
	Day      string  `yaml:"day"`    // "HHhMM"
	Night    string  `yaml:"night"`  // "HHhMM"
	Lighting string  `yaml:"lighting"`
}

// ClimateParameterConfig is the day/night target for one climate parameter
// (temperature, humidity, light, wind, ...).
type ClimateParameterConfig struct {
	Day        float64  `yaml:"day"`
	Night      float64  `yaml:"night"`
	Hysteresis float64  `yaml:"hysteresis"`
	Alarm      *float64 `yaml:"alarm,omitempty"`
}

// EnvironmentConfig bundles chaos, nycthemeral and climate settings.
type EnvironmentConfig struct {
	Chaos       ChaosConfig                       `yaml:"chaos"`
	Nycthemeral NycthemeralCycleConfig            `yaml:"nycthemeral_cycle"`
	Climate     map[string]ClimateParameterConfig `yaml:"climate"`
}

// HardwareType enumerates the supported hardware kinds.
type HardwareType string

const (
	HardwareSensor     HardwareType = "sensor"
	HardwareLight      HardwareType = "light"
	HardwareHeater     HardwareType = "heater"
	HardwareCooler     HardwareType = "cooler"
	HardwareHumidifier HardwareType = "humidifier"
	HardwareDehumid    HardwareType = "dehumidifier"
	HardwareFan        HardwareType = "fan"
	HardwareCamera     HardwareType = "camera"
)

// HardwareLevel is the IO level a piece of hardware operates at.
type HardwareLevel string

const (
	LevelEnvironment HardwareLevel = "environment"
	LevelPlants      HardwareLevel = "plants"
)

// HardwareConfig is one entry of an ecosystem's IO mapping.
type HardwareConfig struct {
	UID              string        `yaml:"-"`
	Name             string        `yaml:"name"`
	Address          string        `yaml:"address"`
	Type             HardwareType  `yaml:"type"`
	Level            HardwareLevel `yaml:"level"`
	Model            string        `yaml:"model"`
	Measures         []string      `yaml:"measures,omitempty"`
	Plants           []string      `yaml:"plants,omitempty"`
	MultiplexerModel *string       `yaml:"multiplexer_model,omitempty"`
}

// EcosystemConfig is a view over one entry of the ecosystems mapping.
type EcosystemConfig struct {
	UID        string                     `yaml:"-"`
	Name       string                     `yaml:"name"`
	Status     bool                       `yaml:"status"`
	Management ManagementFlags            `yaml:"-"`
	RawMgmt    map[string]bool            `yaml:"management"`
	Env        EnvironmentConfig          `yaml:"environment"`
	IO         map[string]*HardwareConfig `yaml:"IO"`

	mu      sync.Mutex
	version uint64 // bumped on every mutation; invalidates caches held by subroutines
}

// Version returns the current derived-cache generation for this ecosystem.
// Subroutines compare this against the generation they last computed
// derived values for (lighting hours, span method, ...) to decide whether
// to recompute, per the "invalidated by the Engine loop" rule.
func (e *EcosystemConfig) Version() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.version
}

// bumpVersion invalidates every subroutine-held derived cache for e.
func (e *EcosystemConfig) bumpVersion() {
	e.mu.Lock()
	e.version++
	e.mu.Unlock()
}

// GetSubroutinesEnabled returns the subroutine names enabled by the
// management bitmap, in no particular order.
func (e *EcosystemConfig) GetSubroutinesEnabled() []string {
	var out []string
	if e.Management.Has(ManageSensors) {
		out = append(out, "sensors")
	}
	if e.Management.Has(ManageLight) {
		out = append(out, "light")
	}
	if e.Management.Has(ManageClimate) {
		out = append(out, "climate")
	}
	if e.Management.Has(ManageHealth) {
		out = append(out, "health")
	}
	return out
}

// ManagementEnabled reports whether the named subroutine ("sensors",
// "light", "climate", "health", ...) is enabled for this ecosystem.
func (e *EcosystemConfig) ManagementEnabled(name string) bool {
	bit, ok := managementBits[name]
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Management.Has(bit)
}

// SetManagementEnabled turns the named subroutine on or off for this
// ecosystem and bumps the cache-invalidation version.
func (e *EcosystemConfig) SetManagementEnabled(name string, on bool) {
	bit, ok := managementBits[name]
	if !ok {
		return
	}
	e.mu.Lock()
	e.Management = e.Management.Set(bit, on)
	e.mu.Unlock()
	e.bumpVersion()
}

// GetIOGroupUIDs returns the hardware UIDs of the given type.
func (e *EcosystemConfig) GetIOGroupUIDs(hwType HardwareType) []string {
	var out []string
	for uid, hw := range e.IO {
		if hw.Type == hwType {
			out = append(out, uid)
		}
	}
	return out
}

// GetClimateParameter returns the configured day/night/hysteresis/alarm for
// parameter, or ok=false if it is not configured.
func (e *EcosystemConfig) GetClimateParameter(parameter string) (ClimateParameterConfig, bool) {
	cfg, ok := e.Env.Climate[parameter]
	return cfg, ok
}

// ChaosMemoryEntry is the persisted chaos window for one ecosystem
// (EngineConfig.chaos_memory).
type ChaosMemoryEntry struct {
	Beginning  *time.Time `msgpack:"beginning"`
	End        *time.Time `msgpack:"end"`
	LastUpdate time.Time  `msgpack:"last_update"`
}

// SunTimesEntry caches one place's sun times with a daily refresh marker.
type SunTimesEntry struct {
	TwilightBegin *time.Time `msgpack:"twilight_begin"`
	Sunrise       *time.Time `msgpack:"sunrise"`
	Sunset        *time.Time `msgpack:"sunset"`
	TwilightEnd   *time.Time `msgpack:"twilight_end"`
	LastUpdate    time.Time  `msgpack:"last_update"`
}

// Root is the process-wide EngineConfig: exactly one per process.
type Root struct {
	mu sync.RWMutex

	dataDir     string
	ecosystems  map[string]*EcosystemConfig
	places      map[string]Place
	units       map[string]string
	sunTimes    map[string]SunTimesEntry
	sunTimesGen uint64
	chaosMem    map[string]ChaosMemoryEntry
}

var (
	rootOnce     sync.Once
	rootInstance *Root
)

// New constructs (or returns the already-constructed) singleton Root bound
// to dataDir. Calling it a second time with a different dataDir is a bug in
// the caller and returns an error.
func New(dataDir string) (*Root, error) {
	var err error
	rootOnce.Do(func() {
		rootInstance = &Root{
			dataDir:    dataDir,
			ecosystems: make(map[string]*EcosystemConfig),
			places:     map[string]Place{"home": {}},
			units:      make(map[string]string),
			sunTimes:   make(map[string]SunTimesEntry),
			chaosMem:   make(map[string]ChaosMemoryEntry),
		}
	})
	if rootInstance.dataDir != dataDir {
		return nil, fmt.Errorf("gaiaconfig: Root already initialized with data dir %q, got %q",
			rootInstance.dataDir, dataDir)
	}
	return rootInstance, nil
}

// DataDir returns the absolute path of the engine's config directory.
func (r *Root) DataDir() string {
	return r.dataDir
}

// EcosystemUIDs returns a snapshot slice of all known ecosystem UIDs.
func (r *Root) EcosystemUIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	uids := make([]string, 0, len(r.ecosystems))
	for uid := range r.ecosystems {
		uids = append(uids, uid)
	}
	return uids
}

// Ecosystem returns the config for uid, or ok=false.
func (r *Root) Ecosystem(uid string) (*EcosystemConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.ecosystems[uid]
	return cfg, ok
}

// Places returns a copy of the places mapping.
func (r *Root) Places() map[string]Place {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Place, len(r.places))
	for k, v := range r.places {
		out[k] = v
	}
	return out
}

// SunTimes returns the cached sun times for place.
func (r *Root) SunTimes(place string) (SunTimesEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sunTimes[place]
	return e, ok
}

// SetSunTimes updates the cached sun times for place and bumps the
// sun-times generation counter, so subroutines caching derived lighting
// hours know to recompute them.
func (r *Root) SetSunTimes(place string, entry SunTimesEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sunTimes[place] = entry
	r.sunTimesGen++
}

// SunTimesGeneration returns the counter bumped every time any place's sun
// times are refreshed.
func (r *Root) SunTimesGeneration() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sunTimesGen
}

// ChaosMemory returns the persisted chaos window for uid.
func (r *Root) ChaosMemory(uid string) (ChaosMemoryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.chaosMem[uid]
	return e, ok
}

// SetChaosMemory updates the persisted chaos window for uid.
func (r *Root) SetChaosMemory(uid string, entry ChaosMemoryEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chaosMem[uid] = entry
}

const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// NewUID returns a random base62 identifier of the given length, used for
// ecosystem UIDs (8 chars) and hardware UIDs (16 chars).
func NewUID(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("gaiaconfig: failed to generate uid: %w", err)
	}
	out := make([]byte, length)
	for i, b := range buf {
		out[i] = base62Alphabet[int(b)%len(base62Alphabet)]
	}
	return string(out), nil
}
