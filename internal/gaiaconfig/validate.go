package gaiaconfig

import (
	"fmt"
	"regexp"
)

var hhMMPattern = regexp.MustCompile(`^([01]?[0-9]|2[0-3])h[0-5][0-9]$`)

var validHardwareTypes = map[HardwareType]bool{
	HardwareSensor: true, HardwareLight: true, HardwareHeater: true,
	HardwareCooler: true, HardwareHumidifier: true, HardwareDehumid: true,
	HardwareFan: true, HardwareCamera: true,
}

var validHardwareLevels = map[HardwareLevel]bool{
	LevelEnvironment: true, LevelPlants: true,
}

// Validate type-checks r's loaded configuration and returns every problem
// found (it does not stop at the first one), backing the `validate_configs`
// CLI command. A nil/empty return means the config is valid.
func Validate(r *Root) []error {
	var errs []error

	r.mu.RLock()
	defer r.mu.RUnlock()

	for uid, eco := range r.ecosystems {
		if eco.Name == "" {
			errs = append(errs, fmt.Errorf("ecosystem %s: missing name", uid))
		}
		if eco.Env.Nycthemeral.Span != "fixed" && eco.Env.Nycthemeral.Span != "mimic" {
			errs = append(errs, fmt.Errorf("ecosystem %s: nycthemeral span must be \"fixed\" or \"mimic\", got %q",
				uid, eco.Env.Nycthemeral.Span))
		}
		if eco.Env.Nycthemeral.Lighting != "fixed" && eco.Env.Nycthemeral.Lighting != "elongate" {
			errs = append(errs, fmt.Errorf("ecosystem %s: lighting method must be \"fixed\" or \"elongate\", got %q",
				uid, eco.Env.Nycthemeral.Lighting))
		}
		if eco.Env.Nycthemeral.Span == "mimic" && (eco.Env.Nycthemeral.Target == nil || *eco.Env.Nycthemeral.Target == "") {
			errs = append(errs, fmt.Errorf("ecosystem %s: nycthemeral span \"mimic\" requires a target place", uid))
		}
		if eco.Env.Nycthemeral.Span == "mimic" && eco.Env.Nycthemeral.Target != nil {
			if _, ok := r.places[*eco.Env.Nycthemeral.Target]; !ok {
				errs = append(errs, fmt.Errorf("ecosystem %s: nycthemeral target place %q is not defined in private.cfg",
					uid, *eco.Env.Nycthemeral.Target))
			}
		}
		if !hhMMPattern.MatchString(eco.Env.Nycthemeral.Day) {
			errs = append(errs, fmt.Errorf("ecosystem %s: nycthemeral day %q is not in \"HHhMM\" form", uid, eco.Env.Nycthemeral.Day))
		}
		if !hhMMPattern.MatchString(eco.Env.Nycthemeral.Night) {
			errs = append(errs, fmt.Errorf("ecosystem %s: nycthemeral night %q is not in \"HHhMM\" form", uid, eco.Env.Nycthemeral.Night))
		}
		if eco.Env.Chaos.Frequency < 0 {
			errs = append(errs, fmt.Errorf("ecosystem %s: chaos frequency must be >= 0", uid))
		}
		if eco.Env.Chaos.Duration < 0 {
			errs = append(errs, fmt.Errorf("ecosystem %s: chaos duration must be >= 0", uid))
		}
		if eco.Env.Chaos.Intensity != 0 && eco.Env.Chaos.Intensity < 1.0 {
			errs = append(errs, fmt.Errorf("ecosystem %s: chaos intensity must be >= 1.0", uid))
		}

		for hwUID, hw := range eco.IO {
			if !validHardwareTypes[hw.Type] {
				errs = append(errs, fmt.Errorf("ecosystem %s: hardware %s has unknown type %q", uid, hwUID, hw.Type))
			}
			if !validHardwareLevels[hw.Level] {
				errs = append(errs, fmt.Errorf("ecosystem %s: hardware %s has unknown level %q", uid, hwUID, hw.Level))
			}
			if hw.Address == "" {
				errs = append(errs, fmt.Errorf("ecosystem %s: hardware %s is missing an address", uid, hwUID))
			}
		}
	}
	return errs
}
