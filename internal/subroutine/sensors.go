package subroutine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/vaamb/gaia/internal/events"
	"github.com/vaamb/gaia/internal/gaiaconfig"
	"github.com/vaamb/gaia/internal/hardware"
	"github.com/vaamb/gaia/internal/persistence"
)

const (
	minSensorsPeriod  = 10 * time.Second
	sensorReadTimeout = 5 * time.Second
	trendWindow       = 10 // ticks kept per measure for the rolling SMA
)

// Alarm flags an out-of-range reading for one measure.
type Alarm struct {
	Measure string
	Level   string // moderate | high | critical
	Delta   float64
}

// Data is the latest sensors snapshot, read by the climate subroutine and
// published as a sensors_data event.
type Data struct {
	Timestamp time.Time
	Records   []hardware.Record
	Averages  map[string]float64
	Trends    map[string]float64
	Alarms    []Alarm
}

// SensorsDeps bundles Sensors' external dependencies. Store and Conn may
// be nil (database/broker both optional per app config).
type SensorsDeps struct {
	Config             *gaiaconfig.EcosystemConfig
	Bus                *events.Bus
	Store              *persistence.Store
	Conn               ConnectionChecker
	Period             time.Duration
	TriggerClimate     func()
	ClimateEveryNTicks int
}

// Sensors is the sensors subroutine: it owns every sensor-type hardware,
// samples it on Period, and maintains the shared reading cache every
// other subroutine reads from.
type Sensors struct {
	Base
	deps SensorsDeps

	cancel context.CancelFunc
	wg     sync.WaitGroup

	dataMu sync.RWMutex
	data   Data

	historyMu sync.Mutex
	history   map[string][]float64 // measure -> last trendWindow values, oldest first

	ticks int
}

// NewSensors builds the sensors subroutine for one ecosystem.
func NewSensors(ecosystemUID string, virtual bool, deps SensorsDeps, log zerolog.Logger) *Sensors {
	if deps.Period < minSensorsPeriod {
		deps.Period = minSensorsPeriod
	}
	return &Sensors{
		Base:    NewBase(ecosystemUID, "sensors", virtual, log),
		deps:    deps,
		history: make(map[string][]float64),
	}
}

func (s *Sensors) UpdateManageable() {
	needed := hardwareNeeded(s.deps.Config, gaiaconfig.HardwareSensor)
	s.SetManageable(len(needed) > 0)
}

func (s *Sensors) GetHardwareNeededUIDs() map[string]*gaiaconfig.HardwareConfig {
	return hardwareNeeded(s.deps.Config, gaiaconfig.HardwareSensor)
}

func (s *Sensors) RefreshHardware() error {
	ctx, cancel := context.WithTimeout(context.Background(), sensorReadTimeout)
	defer cancel()
	return s.ReconcileHardware(ctx, s.GetHardwareNeededUIDs())
}

func (s *Sensors) Start(ctx context.Context) error {
	if s.Started() {
		return fmt.Errorf("subroutine sensors: already running")
	}
	if err := s.RefreshHardware(); err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.setStarted(true)
	s.wg.Add(1)
	go s.run(runCtx)
	return nil
}

func (s *Sensors) Stop() error {
	if !s.Started() {
		return nil
	}
	s.cancel()
	s.wg.Wait()
	s.StopAllHardware(context.Background())
	s.setStarted(false)
	return nil
}

func (s *Sensors) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.deps.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick is re-entrant-safe by construction: it only ever runs on the single
// goroutine started by Start(), so overlapping invocations cannot occur.
func (s *Sensors) tick(ctx context.Context) {
	type sensorResult struct {
		records []hardware.Record
		err     error
	}

	owned := s.Hardware()
	resultsCh := make(chan sensorResult, len(owned))
	for _, drv := range owned {
		sensor, ok := drv.(hardware.BaseSensor)
		if !ok {
			continue
		}
		sensor := sensor
		go func() {
			readCtx, cancel := context.WithTimeout(ctx, sensorReadTimeout)
			defer cancel()
			records, err := sensor.GetData(readCtx)
			select {
			case resultsCh <- sensorResult{records: records, err: err}:
			case <-ctx.Done():
			}
		}()
	}

	var records []hardware.Record
	for i := 0; i < len(owned); i++ {
		select {
		case res := <-resultsCh:
			if res.err != nil {
				s.Log().Warn().Err(res.err).Msg("sensor read failed, carrying over to next tick")
				continue
			}
			records = append(records, res.records...)
		case <-ctx.Done():
			return
		}
	}

	byMeasure := make(map[string][]float64)
	for _, r := range records {
		byMeasure[r.Measure] = append(byMeasure[r.Measure], r.Value)
	}

	averages := make(map[string]float64, len(byMeasure))
	trends := make(map[string]float64, len(byMeasure))
	s.historyMu.Lock()
	for measure, values := range byMeasure {
		averages[measure] = stat.Mean(values, nil)

		hist := append(s.history[measure], averages[measure])
		if len(hist) > trendWindow {
			hist = hist[len(hist)-trendWindow:]
		}
		s.history[measure] = hist
		sma := talib.Sma(hist, len(hist))
		if n := len(sma); n > 0 && !math.IsNaN(sma[n-1]) {
			trends[measure] = sma[n-1]
		} else {
			trends[measure] = averages[measure]
		}
	}
	s.historyMu.Unlock()

	var alarms []Alarm
	if s.deps.Config.ManagementEnabled("alarms") {
		alarms = s.computeAlarms(records)
	}

	data := Data{Timestamp: time.Now(), Records: records, Averages: averages, Trends: trends, Alarms: alarms}
	s.dataMu.Lock()
	s.data = data
	s.dataMu.Unlock()

	s.publish(data)

	s.ticks++
	if s.deps.TriggerClimate != nil && s.deps.ClimateEveryNTicks > 0 && s.ticks%s.deps.ClimateEveryNTicks == 0 {
		s.deps.TriggerClimate()
	}
}

func (s *Sensors) computeAlarms(records []hardware.Record) []Alarm {
	var alarms []Alarm
	for _, r := range records {
		param, ok := s.deps.Config.GetClimateParameter(r.Measure)
		if !ok || param.Alarm == nil || *param.Alarm <= 0 {
			continue
		}
		target, hysteresis, alarmThreshold := param.Day, param.Hysteresis, *param.Alarm
		var delta float64
		switch {
		case r.Value > target+hysteresis:
			delta = r.Value - (target + hysteresis)
		case r.Value < target-hysteresis:
			delta = r.Value - (target - hysteresis)
		default:
			continue
		}
		abs := math.Abs(delta)
		if abs <= alarmThreshold {
			continue
		}
		level := "critical"
		switch {
		case abs <= 1.5*alarmThreshold:
			level = "moderate"
		case abs <= 2*alarmThreshold:
			level = "high"
		}
		alarms = append(alarms, Alarm{Measure: r.Measure, Level: level, Delta: delta})
	}
	return alarms
}

func (s *Sensors) publish(data Data) {
	payload := events.SensorsDataPayload{
		EcosystemUID: s.EcosystemUID,
		Timestamp:    data.Timestamp,
		Averages:     data.Averages,
	}
	for _, r := range data.Records {
		payload.Records = append(payload.Records, events.SensorRecordPayload{
			SensorUID: r.SensorUID, Measure: r.Measure, Value: r.Value,
		})
	}
	for _, a := range data.Alarms {
		payload.Alarms = append(payload.Alarms, events.AlarmPayload{Measure: a.Measure, Level: a.Level, Delta: a.Delta})
	}

	connected := s.deps.Conn != nil && s.deps.Conn.IsConnected()
	if s.deps.Bus != nil && connected {
		s.deps.Bus.Publish(events.TypeSensorsData, payload)
	}

	if s.deps.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sensorReadTimeout)
	defer cancel()
	for _, r := range data.Records {
		rec := persistence.SensorRecord{
			SensorUID: r.SensorUID, EcosystemUID: s.EcosystemUID,
			Measure: r.Measure, Timestamp: data.Timestamp, Value: r.Value,
		}
		if err := s.store().RecordSensorReading(ctx, rec); err != nil {
			s.Log().Warn().Err(err).Msg("failed to record sensor reading")
		}
		if !connected {
			if err := s.store().BufferSensorReading(ctx, uuid.NewString(), rec); err != nil {
				s.Log().Warn().Err(err).Msg("failed to buffer sensor reading for later delivery")
			}
		}
	}
}

// store exposes the configured persistence store for publish(); kept as a
// method so it reads naturally alongside Log().
func (s *Sensors) store() *persistence.Store { return s.deps.Store }

// Data returns the latest computed snapshot.
func (s *Sensors) Data() Data {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	return s.data
}
