package gaiaconfig

import (
	"crypto/md5"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"
)

const (
	ecosystemsFileName = "ecosystems.cfg"
	privateFileName    = "private.cfg"
	chaosCacheFileName = "chaos.cache"
)

// This file translates between the on-disk YAML shapes and the in-memory
// model so the mapping logic (bitmap<->map[string]bool, UID<->map key)
// lives in one obvious place.

type ecosystemYAML struct {
	Name       string                     `yaml:"name"`
	Status     bool                       `yaml:"status"`
	Management map[string]bool            `yaml:"management"`
	Env        EnvironmentConfig          `yaml:"environment"`
	IO         map[string]*HardwareConfig `yaml:"IO"`
}

type privateYAML struct {
	Places map[string]Place  `yaml:"places"`
	Units  map[string]string `yaml:"units"`
}

var managementBits = map[string]ManagementFlags{
	"sensors":  ManageSensors,
	"light":    ManageLight,
	"climate":  ManageClimate,
	"health":   ManageHealth,
	"alarms":   ManageAlarms,
	"database": ManageDatabase,
	"pictures": ManagePictures,
	"webcam":   ManageWebcam,
}

func managementFromMap(m map[string]bool) ManagementFlags {
	var flags ManagementFlags
	for name, bit := range managementBits {
		if m[name] {
			flags = flags.Set(bit, true)
		}
	}
	return flags
}

func managementToMap(flags ManagementFlags) map[string]bool {
	out := make(map[string]bool, len(managementBits))
	for name, bit := range managementBits {
		out[name] = flags.Has(bit)
	}
	return out
}

// digest returns the MD5 of path's contents, used by the watcher to detect
// real changes rather than relying on mtime.
func digest(path string) ([16]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return [16]byte{}, err
	}
	return md5.Sum(data), nil
}

// LoadEcosystems reads ecosystems.cfg from r.DataDir and replaces r's
// in-memory ecosystems map. Any ecosystem already tracked that still
// exists in the file keeps its pointer identity (and therefore its
// version counter) so caches aren't needlessly invalidated when unrelated
// ecosystems change; the cached-fields invalidation still fires via
// bumpVersion for every ecosystem present in the reloaded file, which is
// intentionally conservative (a precise per-field diff is not required,
// only that the Engine loop invalidates caches, never subroutines).
func (r *Root) LoadEcosystems() error {
	path := filepath.Join(r.dataDir, ecosystemsFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("gaiaconfig: failed to read %s: %w", ecosystemsFileName, err)
	}

	raw := make(map[string]ecosystemYAML)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("gaiaconfig: malformed %s: %w", ecosystemsFileName, err)
	}

	ecosystems := make(map[string]*EcosystemConfig, len(raw))
	for uid, y := range raw {
		for hwUID, hw := range y.IO {
			hw.UID = hwUID
		}
		if err := validateHardwareAddresses(y.IO); err != nil {
			return fmt.Errorf("gaiaconfig: ecosystem %s: %w", uid, err)
		}
		ecosystems[uid] = &EcosystemConfig{
			UID:        uid,
			Name:       y.Name,
			Status:     y.Status,
			Management: managementFromMap(y.Management),
			RawMgmt:    y.Management,
			Env:        y.Env,
			IO:         y.IO,
		}
	}

	r.mu.Lock()
	for uid, cfg := range ecosystems {
		if existing, ok := r.ecosystems[uid]; ok {
			existing.mu.Lock()
			existing.Name = cfg.Name
			existing.Status = cfg.Status
			existing.Management = cfg.Management
			existing.RawMgmt = cfg.RawMgmt
			existing.Env = cfg.Env
			existing.IO = cfg.IO
			existing.mu.Unlock()
			existing.bumpVersion()
			continue
		}
		cfg.bumpVersion()
		r.ecosystems[uid] = cfg
	}
	for uid := range r.ecosystems {
		if _, stillPresent := ecosystems[uid]; !stillPresent {
			delete(r.ecosystems, uid)
		}
	}
	r.mu.Unlock()
	return nil
}

// validateHardwareAddresses enforces uniqueness invariant:
// address is unique across the config except for the literal "I2C_default".
func validateHardwareAddresses(io map[string]*HardwareConfig) error {
	seen := make(map[string]string, len(io))
	for uid, hw := range io {
		if hw.Address == "I2C_default" {
			continue
		}
		if other, ok := seen[hw.Address]; ok {
			return fmt.Errorf("duplicate hardware address %q used by %s and %s", hw.Address, other, uid)
		}
		seen[hw.Address] = uid
	}
	return nil
}

// DumpEcosystems writes the current in-memory ecosystems back to
// ecosystems.cfg.
func (r *Root) DumpEcosystems() error {
	r.mu.RLock()
	raw := make(map[string]ecosystemYAML, len(r.ecosystems))
	for uid, cfg := range r.ecosystems {
		cfg.mu.Lock()
		raw[uid] = ecosystemYAML{
			Name:       cfg.Name,
			Status:     cfg.Status,
			Management: managementToMap(cfg.Management),
			Env:        cfg.Env,
			IO:         cfg.IO,
		}
		cfg.mu.Unlock()
	}
	r.mu.RUnlock()

	data, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("gaiaconfig: failed to marshal %s: %w", ecosystemsFileName, err)
	}
	path := filepath.Join(r.dataDir, ecosystemsFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("gaiaconfig: failed to write %s: %w", ecosystemsFileName, err)
	}
	return nil
}

// LoadPrivate reads private.cfg (places + units) into r.
func (r *Root) LoadPrivate() error {
	path := filepath.Join(r.dataDir, privateFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("gaiaconfig: failed to read %s: %w", privateFileName, err)
	}
	var raw privateYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("gaiaconfig: malformed %s: %w", privateFileName, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if raw.Places != nil {
		if _, ok := raw.Places["home"]; !ok {
			raw.Places["home"] = Place{}
		}
		r.places = raw.Places
	}
	if raw.Units != nil {
		r.units = raw.Units
	}
	return nil
}

// DumpPrivate writes places + units back to private.cfg.
func (r *Root) DumpPrivate() error {
	r.mu.RLock()
	raw := privateYAML{Places: r.places, Units: r.units}
	r.mu.RUnlock()

	data, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("gaiaconfig: failed to marshal %s: %w", privateFileName, err)
	}
	path := filepath.Join(r.dataDir, privateFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("gaiaconfig: failed to write %s: %w", privateFileName, err)
	}
	return nil
}

// LoadChaosCache reads <dataDir>/chaos.cache (msgpack-encoded) into r's
// in-memory chaos memory map. A missing file is not an error: every
// ecosystem just starts with an expired window, per chaos.New's fallback.
func (r *Root) LoadChaosCache() error {
	path := filepath.Join(r.dataDir, chaosCacheFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("gaiaconfig: failed to read %s: %w", chaosCacheFileName, err)
	}
	var mem map[string]ChaosMemoryEntry
	if err := msgpack.Unmarshal(data, &mem); err != nil {
		return fmt.Errorf("gaiaconfig: malformed %s: %w", chaosCacheFileName, err)
	}
	r.mu.Lock()
	r.chaosMem = mem
	r.mu.Unlock()
	return nil
}

// DumpChaosCache writes r's in-memory chaos memory map to
// <dataDir>/chaos.cache, run by the engine's daily chaos-roll task right
// after rolling every ecosystem's window.
func (r *Root) DumpChaosCache() error {
	r.mu.RLock()
	data, err := msgpack.Marshal(r.chaosMem)
	r.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("gaiaconfig: failed to marshal %s: %w", chaosCacheFileName, err)
	}
	path := filepath.Join(r.dataDir, chaosCacheFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("gaiaconfig: failed to write %s: %w", chaosCacheFileName, err)
	}
	return nil
}

// GenerateDefaults writes missing config files with empty-but-valid
// defaults, matching the `generate_default_configs` CLI command.
func GenerateDefaults(dataDir string, ecosystem, private bool) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("gaiaconfig: failed to create data dir: %w", err)
	}
	if ecosystem {
		path := filepath.Join(dataDir, ecosystemsFileName)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := os.WriteFile(path, []byte("{}\n"), 0o644); err != nil {
				return err
			}
		}
	}
	if private {
		path := filepath.Join(dataDir, privateFileName)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			defaultPrivate := privateYAML{
				Places: map[string]Place{"home": {}},
				Units:  map[string]string{},
			}
			data, err := yaml.Marshal(defaultPrivate)
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return err
			}
		}
	}
	return nil
}
