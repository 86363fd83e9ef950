package nycthemeral

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/vaamb/gaia/internal/gaiaconfig"
)

// SpanMethod is the resolved policy for the morning/evening boundaries.
type SpanMethod string

const (
	SpanFixed SpanMethod = "fixed"
	SpanMimic SpanMethod = "mimic"
)

// Method is the resolved lighting policy.
type Method string

const (
	MethodFixed    Method = "fixed"
	MethodElongate Method = "elongate"
)

// defaultTwilightOffset is used when civil twilight is unavailable.
const defaultTwilightOffset = 90 * time.Minute

// Hours is the resolved lighting window for one ecosystem on one day,
// expressed as local-midnight offsets. Invariant:
// MorningStart <= MorningEnd <= EveningStart <= EveningEnd.
type Hours struct {
	MorningStart time.Duration
	MorningEnd   time.Duration
	EveningStart time.Duration
	EveningEnd   time.Duration
	SpanMethod   SpanMethod
	Method       Method
}

// Resolution carries the computed Hours plus the generation they were
// computed for, so callers can cache them against EcosystemConfig.Version().
type Resolution struct {
	Hours      Hours
	Generation uint64
}

// parseHHhMM parses a "HHhMM" clock string (e.g. "08h00") into an offset
// since local midnight.
func parseHHhMM(s string) (time.Duration, error) {
	var hh, mm int
	if _, err := fmt.Sscanf(s, "%dh%d", &hh, &mm); err != nil {
		return 0, fmt.Errorf("nycthemeral: malformed time-of-day %q: %w", s, err)
	}
	return time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute, nil
}

// Compute resolves the lighting-hours window for one ecosystem, given the
// sun times of its nycthemeral target place (only used for span method
// "mimic") and of "home" (always used by lighting method "elongate").
// Either may be the zero value when unavailable; unavailability triggers
// the downgrade-to-fixed fallback rules documented below.
func Compute(cfg gaiaconfig.NycthemeralCycleConfig, targetSunTimes, homeSunTimes SunTimes, log zerolog.Logger) (Hours, error) {
	spanMethod := SpanMethod(cfg.Span)
	var morningStart, eveningEnd time.Duration

	switch spanMethod {
	case SpanMimic:
		if targetSunTimes.Sunrise == nil || targetSunTimes.Sunset == nil {
			log.Warn().Msg("nycthemeral span method \"mimic\" has no usable sun times, downgrading to \"fixed\"")
			spanMethod = SpanFixed
		} else {
			morningStart = *targetSunTimes.Sunrise
			eveningEnd = *targetSunTimes.Sunset
		}
	case SpanFixed:
		// handled below
	default:
		return Hours{}, fmt.Errorf("nycthemeral: unknown span method %q", cfg.Span)
	}

	if spanMethod == SpanFixed {
		day, err := parseHHhMM(cfg.Day)
		if err != nil {
			return Hours{}, err
		}
		night, err := parseHHhMM(cfg.Night)
		if err != nil {
			return Hours{}, err
		}
		morningStart, eveningEnd = day, night
	}

	method := Method(cfg.Lighting)
	var morningEnd, eveningStart time.Duration

	switch method {
	case MethodElongate:
		if homeSunTimes.Sunrise == nil || homeSunTimes.Sunset == nil {
			log.Warn().Msg("nycthemeral lighting method \"elongate\" has no usable home sun times, downgrading to \"fixed\"")
			method = MethodFixed
		} else {
			offset := defaultTwilightOffset
			if homeSunTimes.TwilightBegin != nil {
				if d := *homeSunTimes.Sunrise - *homeSunTimes.TwilightBegin; d > 0 {
					offset = d
				}
			}
			morningEnd = *homeSunTimes.Sunrise + offset
			eveningStart = *homeSunTimes.Sunset - offset
			if morningEnd > eveningEnd {
				morningEnd = eveningEnd
			}
			if eveningStart < morningStart {
				eveningStart = morningStart
			}
		}
	case MethodFixed:
		// handled below
	default:
		return Hours{}, fmt.Errorf("nycthemeral: unknown lighting method %q", cfg.Lighting)
	}

	if method == MethodFixed {
		midpoint := morningStart + (eveningEnd-morningStart)/2
		morningEnd = midpoint - time.Millisecond
		eveningStart = midpoint
	}

	return Hours{
		MorningStart: morningStart,
		MorningEnd:   morningEnd,
		EveningStart: eveningStart,
		EveningEnd:   eveningEnd,
		SpanMethod:   spanMethod,
		Method:       method,
	}, nil
}

// TargetStatus reports whether the light should be on at local time-of-day
// now, per per-tick rule.
func (h Hours) TargetStatus(now time.Duration) bool {
	if h.Method == MethodElongate {
		return (now >= h.MorningStart && now <= h.MorningEnd) ||
			(now >= h.EveningStart && now <= h.EveningEnd)
	}
	return now >= h.MorningStart && now <= h.EveningEnd
}
