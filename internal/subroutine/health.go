package subroutine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vaamb/gaia/internal/actuator"
	"github.com/vaamb/gaia/internal/events"
	"github.com/vaamb/gaia/internal/gaiaconfig"
	"github.com/vaamb/gaia/internal/hardware"
	"github.com/vaamb/gaia/internal/persistence"
)

// HealthRecord is one (camera, index) measurement.
type HealthRecord struct {
	CameraUID string
	Index     string
	Value     float64
}

// indexFormulas computes each supported plant-health index from a
// PixelArray's mean channel values, grounded on
// original_source/src/gaia/subroutines/health.py's `indices` table.
// NDVI is not computed: it requires a near-infrared channel the camera
// capability (abc.Camera, RGB only) does not expose.
var indexFormulas = map[string]func(r, g, b float64) float64{
	"MPRI":  func(r, g, b float64) float64 { return (g - r) / (g + r) },
	"NDRGI": func(r, g, b float64) float64 { return (r - g) / (g + r) },
	"VARI":  func(r, g, b float64) float64 { return (g - r) / (g + r - b) },
}

// HealthDeps bundles Health's external dependencies.
type HealthDeps struct {
	Config        *gaiaconfig.EcosystemConfig
	LightHandler  *actuator.Handler // nil if light isn't managed
	Bus           *events.Bus
	Store         *persistence.Store
	Conn          ConnectionChecker
	ExposureDelay time.Duration // defaults to 2s; tests shorten it
}

// Health is the health subroutine: each Routine() call captures every
// owned camera and scores each enabled plant-health index. The engine
// registers no cron job for it, so a capture happens only when Routine()
// is called directly.
type Health struct {
	Base
	deps HealthDeps

	dataMu    sync.RWMutex
	lastDone  time.Time
	lastStats []HealthRecord
}

// NewHealth builds the health subroutine for one ecosystem.
func NewHealth(ecosystemUID string, virtual bool, deps HealthDeps, log zerolog.Logger) *Health {
	return &Health{Base: NewBase(ecosystemUID, "health", virtual, log), deps: deps}
}

func (h *Health) UpdateManageable() {
	needed := hardwareNeeded(h.deps.Config, gaiaconfig.HardwareCamera)
	h.SetManageable(len(needed) > 0)
}

func (h *Health) GetHardwareNeededUIDs() map[string]*gaiaconfig.HardwareConfig {
	return hardwareNeeded(h.deps.Config, gaiaconfig.HardwareCamera)
}

func (h *Health) RefreshHardware() error {
	return h.ReconcileHardware(context.Background(), h.GetHardwareNeededUIDs())
}

func (h *Health) Start(ctx context.Context) error {
	if h.Started() {
		return fmt.Errorf("subroutine health: already running")
	}
	if h.deps.ExposureDelay == 0 {
		h.deps.ExposureDelay = 2 * time.Second
	}
	if err := h.RefreshHardware(); err != nil {
		return err
	}
	if h.deps.LightHandler == nil {
		h.Log().Warn().Msg("light subroutine isn't managed; health captures may see inconsistent lighting")
	} else {
		h.deps.LightHandler.Acquire()
	}
	h.setStarted(true)
	return nil
}

func (h *Health) Stop() error {
	if !h.Started() {
		return nil
	}
	h.StopAllHardware(context.Background())
	if h.deps.LightHandler != nil {
		h.deps.LightHandler.Release()
	}
	h.setStarted(false)
	return nil
}

// Routine is one capture: it forces the light actuator on (if
// managed), captures every owned camera, restores the previous lighting
// state, scores every index, and persists/publishes the results.
func (h *Health) Routine(ctx context.Context) {
	if !h.Started() {
		return
	}

	restore := h.forceLightOn(ctx)
	defer restore(ctx)

	time.Sleep(h.deps.ExposureDelay) // let camera auto-exposure settle

	now := time.Now()
	var records []HealthRecord
	for uid, drv := range h.Hardware() {
		cam, ok := drv.(hardware.Camera)
		if !ok {
			continue
		}
		frame, err := cam.Capture(ctx)
		if err != nil {
			h.Log().Warn().Err(err).Str("uid", uid).Msg("failed to capture health image")
			continue
		}
		records = append(records, h.scoreFrame(uid, frame)...)
	}

	h.dataMu.Lock()
	h.lastDone = now
	h.lastStats = records
	h.dataMu.Unlock()

	h.publish(now, records)
}

func (h *Health) scoreFrame(cameraUID string, frame hardware.PixelArray) []HealthRecord {
	var sumR, sumG, sumB float64
	n := frame.Width * frame.Height
	for y := 0; y < frame.Height; y++ {
		for x := 0; x < frame.Width; x++ {
			r, g, b := frame.At(x, y)
			sumR += float64(r)
			sumG += float64(g)
			sumB += float64(b)
		}
	}
	if n == 0 {
		return nil
	}
	meanR, meanG, meanB := sumR/float64(n), sumG/float64(n), sumB/float64(n)

	records := make([]HealthRecord, 0, len(indexFormulas))
	for name, formula := range indexFormulas {
		records = append(records, HealthRecord{CameraUID: cameraUID, Index: name, Value: formula(meanR, meanG, meanB)})
	}
	return records
}

// forceLightOn turns the light handler on for the duration of the capture
// and returns a function that restores its previous mode/status.
func (h *Health) forceLightOn(ctx context.Context) func(context.Context) {
	handler := h.deps.LightHandler
	if handler == nil {
		return func(context.Context) {}
	}
	prevMode, prevStatus := handler.Mode(), handler.Status()
	_ = handler.TurnTo(actuator.CommandOn, 0, time.Now())
	_ = handler.Drive(ctx)

	return func(ctx context.Context) {
		if prevMode == actuator.ModeAutomatic {
			_ = handler.TurnTo(actuator.CommandAutomatic, 0, time.Now())
		} else if prevStatus {
			_ = handler.TurnTo(actuator.CommandOn, 0, time.Now())
		} else {
			_ = handler.TurnTo(actuator.CommandOff, 0, time.Now())
		}
		_ = handler.Drive(ctx)
	}
}

func (h *Health) publish(timestamp time.Time, records []HealthRecord) {
	connected := h.deps.Conn != nil && h.deps.Conn.IsConnected()

	if h.deps.Bus != nil && connected {
		for _, r := range records {
			h.deps.Bus.Publish(events.TypeHealthData, events.HealthRecordPayload{
				EcosystemUID: h.EcosystemUID, CameraUID: r.CameraUID, Index: r.Index, Value: r.Value,
			})
		}
	}

	if h.deps.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, r := range records {
		rec := persistence.HealthRecord{
			EcosystemUID: h.EcosystemUID, CameraUID: r.CameraUID,
			Index: r.Index, Timestamp: timestamp, Value: r.Value,
		}
		if err := h.deps.Store.RecordHealth(ctx, rec); err != nil {
			h.Log().Warn().Err(err).Msg("failed to record health reading")
		}
	}
}

// LastRecords returns the most recent capture's results.
func (h *Health) LastRecords() (time.Time, []HealthRecord) {
	h.dataMu.RLock()
	defer h.dataMu.RUnlock()
	return h.lastDone, h.lastStats
}
