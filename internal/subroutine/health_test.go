package subroutine

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vaamb/gaia/internal/gaiaconfig"
)

func TestHealthUpdateManageableRequiresCamera(t *testing.T) {
	log := zerolog.New(io.Discard)
	cfg := testEcosystemConfig(t, map[string]*gaiaconfig.HardwareConfig{})
	h := NewHealth("eco1", true, HealthDeps{Config: cfg}, log)
	h.UpdateManageable()
	require.False(t, h.Manageable())

	cfg.IO["cam1"] = &gaiaconfig.HardwareConfig{UID: "cam1", Model: "virtualCamera", Type: gaiaconfig.HardwareCamera, Address: "GPIO_6"}
	h.UpdateManageable()
	require.True(t, h.Manageable())
}

func TestHealthRoutineScoresEveryCamera(t *testing.T) {
	log := zerolog.New(io.Discard)
	cfg := testEcosystemConfig(t, map[string]*gaiaconfig.HardwareConfig{
		"cam1": {UID: "cam1", Model: "virtualCamera", Type: gaiaconfig.HardwareCamera, Address: "GPIO_6"},
	})
	h := NewHealth("eco1", true, HealthDeps{Config: cfg, ExposureDelay: time.Millisecond}, log)

	require.NoError(t, h.Start(context.Background()))
	defer h.Stop()

	h.Routine(context.Background())

	_, records := h.LastRecords()
	require.NotEmpty(t, records)
	indices := make(map[string]bool)
	for _, r := range records {
		indices[r.Index] = true
	}
	require.True(t, indices["MPRI"])
	require.True(t, indices["NDRGI"])
	require.True(t, indices["VARI"])
}
