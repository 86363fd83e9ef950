package nycthemeral

import (
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vaamb/gaia/internal/gaiaconfig"
)

func durPtr(d time.Duration) *time.Duration { return &d }

func TestComputeFixedSpanFixedLighting(t *testing.T) {
	cfg := gaiaconfig.NycthemeralCycleConfig{Span: "fixed", Day: "08h00", Night: "20h00", Lighting: "fixed"}
	hours, err := Compute(cfg, SunTimes{}, SunTimes{}, zerolog.New(io.Discard))
	require.NoError(t, err)

	require.Equal(t, 8*time.Hour, hours.MorningStart)
	require.Equal(t, 20*time.Hour, hours.EveningEnd)
	require.Equal(t, SpanFixed, hours.SpanMethod)
	require.Equal(t, MethodFixed, hours.Method)
	require.True(t, hours.MorningStart <= hours.MorningEnd)
	require.True(t, hours.MorningEnd <= hours.EveningStart)
	require.True(t, hours.EveningStart <= hours.EveningEnd)
}

func TestComputeMimicSpanUsesTargetSunTimes(t *testing.T) {
	cfg := gaiaconfig.NycthemeralCycleConfig{Span: "mimic", Lighting: "fixed"}
	target := SunTimes{Sunrise: durPtr(6 * time.Hour), Sunset: durPtr(21 * time.Hour)}
	hours, err := Compute(cfg, target, SunTimes{}, zerolog.New(io.Discard))
	require.NoError(t, err)

	require.Equal(t, 6*time.Hour, hours.MorningStart)
	require.Equal(t, 21*time.Hour, hours.EveningEnd)
	require.Equal(t, SpanMimic, hours.SpanMethod)
}

func TestComputeMimicSpanDowngradesToFixedWithoutSunTimes(t *testing.T) {
	cfg := gaiaconfig.NycthemeralCycleConfig{Span: "mimic", Day: "07h00", Night: "19h00", Lighting: "fixed"}
	hours, err := Compute(cfg, SunTimes{}, SunTimes{}, zerolog.New(io.Discard))
	require.NoError(t, err)

	require.Equal(t, SpanFixed, hours.SpanMethod)
	require.Equal(t, 7*time.Hour, hours.MorningStart)
}

func TestComputeElongateUsesHomeSunTimes(t *testing.T) {
	cfg := gaiaconfig.NycthemeralCycleConfig{Span: "fixed", Day: "06h00", Night: "22h00", Lighting: "elongate"}
	home := SunTimes{
		TwilightBegin: durPtr(6*time.Hour - 30*time.Minute),
		Sunrise:       durPtr(6 * time.Hour),
		Sunset:        durPtr(20 * time.Hour),
	}
	hours, err := Compute(cfg, SunTimes{}, home, zerolog.New(io.Discard))
	require.NoError(t, err)

	require.Equal(t, MethodElongate, hours.Method)
	require.Equal(t, 6*time.Hour+30*time.Minute, hours.MorningEnd)
	require.Equal(t, 20*time.Hour-30*time.Minute, hours.EveningStart)
}

func TestComputeElongateDowngradesToFixedWithoutHomeSunTimes(t *testing.T) {
	cfg := gaiaconfig.NycthemeralCycleConfig{Span: "fixed", Day: "06h00", Night: "22h00", Lighting: "elongate"}
	hours, err := Compute(cfg, SunTimes{}, SunTimes{}, zerolog.New(io.Discard))
	require.NoError(t, err)

	require.Equal(t, MethodFixed, hours.Method)
}

func TestComputeRejectsUnknownSpanMethod(t *testing.T) {
	cfg := gaiaconfig.NycthemeralCycleConfig{Span: "bogus", Lighting: "fixed"}
	_, err := Compute(cfg, SunTimes{}, SunTimes{}, zerolog.New(io.Discard))
	require.Error(t, err)
}

func TestComputeRejectsUnknownLightingMethod(t *testing.T) {
	cfg := gaiaconfig.NycthemeralCycleConfig{Span: "fixed", Day: "06h00", Night: "22h00", Lighting: "bogus"}
	_, err := Compute(cfg, SunTimes{}, SunTimes{}, zerolog.New(io.Discard))
	require.Error(t, err)
}

func TestTargetStatusFixedMethod(t *testing.T) {
	h := Hours{MorningStart: 8 * time.Hour, EveningEnd: 20 * time.Hour, Method: MethodFixed}
	require.True(t, h.TargetStatus(12*time.Hour))
	require.False(t, h.TargetStatus(21*time.Hour))
}

func TestTargetStatusElongateMethod(t *testing.T) {
	h := Hours{
		MorningStart: 6 * time.Hour, MorningEnd: 7 * time.Hour,
		EveningStart: 19 * time.Hour, EveningEnd: 20 * time.Hour,
		Method: MethodElongate,
	}
	require.True(t, h.TargetStatus(6*time.Hour+30*time.Minute))
	require.False(t, h.TargetStatus(12*time.Hour))
	require.True(t, h.TargetStatus(19*time.Hour+30*time.Minute))
}
