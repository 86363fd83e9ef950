package subroutine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/vaamb/gaia/internal/actuator"
	"github.com/vaamb/gaia/internal/events"
	"github.com/vaamb/gaia/internal/gaiaconfig"
	"github.com/vaamb/gaia/internal/hardware"
	"github.com/vaamb/gaia/internal/nycthemeral"
)

const defaultLightPeriod = 500 * time.Millisecond

// LightDeps bundles Light's external dependencies.
type LightDeps struct {
	Config      *gaiaconfig.EcosystemConfig
	HomePlace   func() (gaiaconfig.Place, bool)
	SunTimesFor func(place string) (nycthemeral.SunTimes, bool)
	SunTimesGen func() uint64
	ChaosFactor func(now time.Time) float64
	Handler     *actuator.Handler
	Bus         *events.Bus
	Period      time.Duration
}

// Light is the light subroutine: it computes the lighting-hours window
// and drives the light ActuatorHandler's hysteretic PID every Period.
type Light struct {
	Base
	deps LightDeps

	cancel context.CancelFunc
	wg     sync.WaitGroup

	hoursMu    sync.RWMutex
	hours      nycthemeral.Hours
	hoursGen   uint64 // EcosystemConfig.Version() the cached hours were built for
	sunTimeGen uint64 // gaiaconfig.Root.SunTimesGeneration() the cached hours were built for
}

// NewLight builds the light subroutine for one ecosystem.
func NewLight(ecosystemUID string, virtual bool, deps LightDeps, log zerolog.Logger) *Light {
	if deps.Period <= 0 {
		deps.Period = defaultLightPeriod
	}
	l := &Light{Base: NewBase(ecosystemUID, "light", virtual, log), deps: deps}
	l.SetHardwareHooks(l.attachDriver, l.detachDriver)
	return l
}

// attachDriver and detachDriver keep the light ActuatorHandler's driver set
// in sync with the hardware Light currently owns.
func (l *Light) attachDriver(_ *gaiaconfig.HardwareConfig, drv hardware.Hardware) {
	if l.deps.Handler != nil {
		l.deps.Handler.AddDriver(drv.GetUID(), drv)
	}
}

func (l *Light) detachDriver(uid string, _ hardware.Hardware) {
	if l.deps.Handler != nil {
		l.deps.Handler.RemoveDriver(uid)
	}
}

func (l *Light) UpdateManageable() {
	needed := hardwareNeeded(l.deps.Config, gaiaconfig.HardwareLight)
	if len(needed) == 0 {
		l.SetManageable(false)
		return
	}
	if _, err := l.computeHours(); err != nil {
		l.Log().Warn().Err(err).Msg("light subroutine cannot resolve lighting hours")
		l.SetManageable(false)
		return
	}
	l.SetManageable(true)
}

func (l *Light) GetHardwareNeededUIDs() map[string]*gaiaconfig.HardwareConfig {
	return hardwareNeeded(l.deps.Config, gaiaconfig.HardwareLight)
}

func (l *Light) RefreshHardware() error {
	return l.ReconcileHardware(context.Background(), l.GetHardwareNeededUIDs())
}

func (l *Light) Start(ctx context.Context) error {
	if l.Started() {
		return fmt.Errorf("subroutine light: already running")
	}
	if err := l.RefreshHardware(); err != nil {
		return err
	}
	if _, err := l.computeHours(); err != nil {
		return err
	}
	if l.deps.Handler != nil {
		l.deps.Handler.Acquire()
	}
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.setStarted(true)
	l.wg.Add(1)
	go l.run(runCtx)
	return nil
}

func (l *Light) Stop() error {
	if !l.Started() {
		return nil
	}
	l.cancel()
	l.wg.Wait()
	l.StopAllHardware(context.Background())
	if l.deps.Handler != nil {
		l.deps.Handler.Release()
	}
	l.setStarted(false)
	return nil
}

func (l *Light) run(ctx context.Context) {
	defer l.wg.Done()
	ticker := time.NewTicker(l.deps.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

// computeHours (re)builds the lighting-hours window if the ecosystem
// config version or the sun-times generation moved since the last build,
// matching the "run at start, on config reload, and on sun-time refresh"
// rule.
func (l *Light) computeHours() (nycthemeral.Hours, error) {
	cfgGen := l.deps.Config.Version()
	var sunGen uint64
	if l.deps.SunTimesGen != nil {
		sunGen = l.deps.SunTimesGen()
	}

	l.hoursMu.RLock()
	fresh := l.hoursGen == cfgGen && l.sunTimeGen == sunGen
	cached := l.hours
	l.hoursMu.RUnlock()
	if fresh {
		return cached, nil
	}

	cycleCfg := l.deps.Config.Env.Nycthemeral
	var target nycthemeral.SunTimes
	if cycleCfg.Target != nil && l.deps.SunTimesFor != nil {
		if st, ok := l.deps.SunTimesFor(*cycleCfg.Target); ok {
			target = st
		}
	}
	var home nycthemeral.SunTimes
	if l.deps.SunTimesFor != nil {
		if st, ok := l.deps.SunTimesFor("home"); ok {
			home = st
		}
	}

	hours, err := nycthemeral.Compute(cycleCfg, target, home, l.Log())
	if err != nil {
		return nycthemeral.Hours{}, err
	}

	l.hoursMu.Lock()
	l.hours = hours
	l.hoursGen = cfgGen
	l.sunTimeGen = sunGen
	l.hoursMu.Unlock()
	return hours, nil
}

func (l *Light) tick(ctx context.Context) {
	hours, err := l.computeHours()
	if err != nil {
		l.Log().Warn().Err(err).Msg("skipping light tick, lighting hours unresolved")
		return
	}

	now := time.Now()
	targetStatus := hours.TargetStatus(nycthemeral.TimeOfDay(now))

	chaosFactor := 1.0
	if l.deps.ChaosFactor != nil {
		chaosFactor = l.deps.ChaosFactor(now)
	}
	climateCfg, _ := l.deps.Config.GetClimateParameter("light")
	var photonTarget float64
	if targetStatus {
		photonTarget = climateCfg.Day * chaosFactor
	} else {
		photonTarget = climateCfg.Night * chaosFactor
	}

	ambientLux := l.readAmbientLux(ctx)

	h := l.deps.Handler
	if h == nil {
		return
	}
	h.PID.SetTarget(photonTarget)
	output := h.PID.UpdatePID(ambientLux)
	if expired := h.ExpireCountdown(now); expired {
		l.Log().Debug().Msg("light manual override countdown expired, reverted to automatic")
	}
	h.ApplyAutomaticOutput(output)
	if err := h.Drive(ctx); err != nil {
		l.Log().Warn().Err(err).Msg("failed to drive light actuator")
	}

	l.publish(hours, h)
}

// readAmbientLux samples every owned LightSensor, bounded to half the
// tick period, and returns the mean reading (0 if none respond or none
// are present).
func (l *Light) readAmbientLux(ctx context.Context) float64 {
	owned := l.Hardware()
	var sensors []hardware.LightSensor
	for _, drv := range owned {
		if ls, ok := drv.(hardware.LightSensor); ok {
			sensors = append(sensors, ls)
		}
	}
	if len(sensors) == 0 {
		return 0
	}

	readCtx, cancel := context.WithTimeout(ctx, l.deps.Period/2)
	defer cancel()

	var values []float64
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, s := range sensors {
		s := s
		wg.Add(1)
		go func() {
			defer wg.Done()
			lux, err := s.GetLux(readCtx)
			if err != nil {
				return
			}
			mu.Lock()
			values = append(values, lux)
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

// formatOffset renders a local-midnight offset as "HH:MM:SS".
func formatOffset(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func (l *Light) publish(hours nycthemeral.Hours, h *actuator.Handler) {
	if l.deps.Bus == nil {
		return
	}
	l.deps.Bus.Publish(events.TypeLightData, events.LightDataPayload{
		EcosystemUID: l.EcosystemUID,
		MorningStart: formatOffset(hours.MorningStart),
		MorningEnd:   formatOffset(hours.MorningEnd),
		EveningStart: formatOffset(hours.EveningStart),
		EveningEnd:   formatOffset(hours.EveningEnd),
		Method:       string(hours.Method),
		SpanMethod:   string(hours.SpanMethod),
		Status:       h.Status(),
	})
}

// RepublishLightData re-emits the current lighting-hours/status snapshot,
// used by the ecosystem's turn_actuator facade after a manual light
// override so observers don't wait for the next tick to see it.
func (l *Light) RepublishLightData() {
	if l.deps.Handler == nil {
		return
	}
	l.publish(l.Hours(), l.deps.Handler)
}

// Hours returns the currently cached lighting-hours resolution.
func (l *Light) Hours() nycthemeral.Hours {
	l.hoursMu.RLock()
	defer l.hoursMu.RUnlock()
	return l.hours
}
