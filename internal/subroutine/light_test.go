package subroutine

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vaamb/gaia/internal/actuator"
	"github.com/vaamb/gaia/internal/gaiaconfig"
	"github.com/vaamb/gaia/internal/hardware"
)

func TestLightUpdateManageableRequiresLightHardwareAndHours(t *testing.T) {
	log := zerolog.New(io.Discard)
	cfg := testEcosystemConfig(t, map[string]*gaiaconfig.HardwareConfig{})
	cfg.Env.Nycthemeral = gaiaconfig.NycthemeralCycleConfig{Span: "fixed", Day: "08h00", Night: "20h00", Lighting: "fixed"}

	l := NewLight("eco1", true, LightDeps{Config: cfg}, log)
	l.UpdateManageable()
	require.False(t, l.Manageable())

	cfg.IO["light1"] = &gaiaconfig.HardwareConfig{UID: "light1", Model: "virtualDimmer", Type: gaiaconfig.HardwareLight, Address: "GPIO_5"}
	l.UpdateManageable()
	require.True(t, l.Manageable())
}

func TestLightTickDrivesHandler(t *testing.T) {
	log := zerolog.New(io.Discard)
	cfg := testEcosystemConfig(t, map[string]*gaiaconfig.HardwareConfig{
		"light1": {UID: "light1", Model: "virtualDimmer", Type: gaiaconfig.HardwareLight, Address: "GPIO_5"},
	})
	cfg.Env.Nycthemeral = gaiaconfig.NycthemeralCycleConfig{Span: "fixed", Day: "00h00", Night: "23h59", Lighting: "fixed"}
	cfg.Env.Climate["light"] = gaiaconfig.ClimateParameterConfig{Day: 10000, Night: 0}

	handler := actuator.NewHandler("eco1", gaiaconfig.HardwareLight, log, nil)
	handler.PID.OutputMin, handler.PID.OutputMax = -100, 100
	l := NewLight("eco1", true, LightDeps{Config: cfg, Handler: handler, Period: 10 * time.Millisecond}, log)

	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()

	require.Equal(t, 1, handler.ActiveCount())

	require.Eventually(t, func() bool {
		return handler.PID.Target() > 0
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		dim, ok := l.Hardware()["light1"].(hardware.Dimmer)
		return ok && dim.IsOn()
	}, time.Second, 5*time.Millisecond, "Drive() must reach the attached light dimmer")

	hours := l.Hours()
	require.Equal(t, "fixed", string(hours.Method))
}
