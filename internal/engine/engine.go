// Package engine implements the process-wide Engine: it owns the
// gaiaconfig.Root singleton, the config-file watcher, the optional
// plugins (database, aggregator dispatcher), the daily background tasks
// and the fixed set of Ecosystem instances it reconciles against live
// config, grounded on original_source/src/gaia/engine.py.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vaamb/gaia/internal/chaos"
	"github.com/vaamb/gaia/internal/ecosystem"
	"github.com/vaamb/gaia/internal/events"
	"github.com/vaamb/gaia/internal/gaiaconfig"
	"github.com/vaamb/gaia/internal/nycthemeral"
	"github.com/vaamb/gaia/internal/persistence"
	"github.com/vaamb/gaia/internal/reliability"
	"github.com/vaamb/gaia/internal/scheduler"
	"github.com/vaamb/gaia/internal/subroutine"
	"github.com/vaamb/gaia/internal/watchdog"
)

// engineLoopSleep coalesces bursts of config-watcher notifications into
// one refresh_ecosystems pass, per the Engine loop's 100 ms sleep rule.
const engineLoopSleep = 100 * time.Millisecond

// outboundEventTypes lists the Bus event types the aggregator dispatcher
// forwards; kept here since Engine is the component wiring Bus to
// Dispatcher.
var outboundEventTypes = []events.Type{
	events.TypeSensorsData,
	events.TypeActuatorData,
	events.TypeLightData,
	events.TypeHealthData,
	events.TypeBaseInfo,
	events.TypeManagement,
	events.TypeEnvironmentalParams,
	events.TypeHardware,
	events.TypeCRUDResult,
	events.TypeBufferedSensorsData,
}

// Engine coordinates every Ecosystem instance for this process: under
// normal circumstances only one Ecosystem is created per configured
// ecosystem, and the Engine makes sure of that.
type Engine struct {
	appCfg *AppConfig
	root   *gaiaconfig.Root
	log    zerolog.Logger

	bus        *events.Bus
	store      *persistence.Store
	dispatcher *events.Dispatcher
	watchdog   *watchdog.Server
	sampler    *watchdog.Sampler
	cron       *scheduler.DailyCron
	backup     *reliability.BackupService
	sunFetcher nycthemeral.Fetcher

	pluginsInitialized bool

	mu         sync.Mutex
	ecosystems map[string]*ecosystem.Ecosystem
	started    bool
	running    bool
	stopped    bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	wake       chan struct{}
	watcher    *gaiaconfig.Watcher
}

// New builds an Engine from appCfg. The gaiaconfig.Root singleton is
// created (or reused) here, bound to appCfg.DataDir.
func New(appCfg *AppConfig, log zerolog.Logger) (*Engine, error) {
	root, err := gaiaconfig.New(appCfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	log = log.With().Str("engine_uid", appCfg.EngineUID).Logger()
	return &Engine{
		appCfg:     appCfg,
		root:       root,
		log:        log,
		bus:        events.NewBus(log),
		sunFetcher: nycthemeral.NewHTTPFetcher(),
		ecosystems: make(map[string]*ecosystem.Ecosystem),
		wake:       make(chan struct{}, 1),
	}, nil
}

// UID returns the engine's identifier.
func (e *Engine) UID() string { return e.appCfg.EngineUID }

// Bus exposes the internal event bus, for the CLI/tests to subscribe to.
func (e *Engine) Bus() *events.Bus { return e.bus }

// pluginsNeeded mirrors plugins_needed: plugins are only required when a
// database or an aggregator connection is configured.
func (e *Engine) pluginsNeeded() bool {
	return e.appCfg.UseDatabase || e.appCfg.CommunicateWithAggregator
}

// InitPlugins wires the optional database and aggregator dispatcher.
// Fails if called twice or if no plugin is actually needed.
func (e *Engine) InitPlugins() error {
	if !e.pluginsNeeded() {
		return fmt.Errorf("engine: cannot init plugins, neither a database nor an aggregator url is configured")
	}
	if e.pluginsInitialized {
		return fmt.Errorf("engine: plugins already initialized")
	}
	e.log.Info().Msg("initializing plugins")

	if e.appCfg.UseDatabase {
		store, err := persistence.New(persistence.Config{Path: e.appCfg.DatabaseURI})
		if err != nil {
			return fmt.Errorf("engine: failed to initialize database: %w", err)
		}
		e.store = store

		if e.appCfg.BackupBucket != "" {
			s3, err := reliability.NewS3Client(context.Background(), reliability.Config{
				Endpoint:        e.appCfg.BackupEndpoint,
				Region:          e.appCfg.BackupRegion,
				AccessKeyID:     e.appCfg.BackupAccessKeyID,
				SecretAccessKey: e.appCfg.BackupAccessKeySecret,
				Bucket:          e.appCfg.BackupBucket,
			}, e.log)
			if err != nil {
				e.log.Warn().Err(err).Msg("failed to initialize off-site backup client, backups disabled")
			} else {
				e.backup = reliability.NewBackupService(store, s3, e.appCfg.EngineUID, e.log)
			}
		}
	}
	if e.appCfg.CommunicateWithAggregator {
		e.dispatcher = events.NewDispatcher(e.appCfg.CommunicationURL, e.bus, e.log, outboundEventTypes...)
	}

	e.pluginsInitialized = true
	return nil
}

func (e *Engine) startPlugins(ctx context.Context) {
	if e.dispatcher != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.dispatcher.Run(ctx)
		}()
	}
}

func (e *Engine) stopPlugins() {
	if e.store != nil {
		_ = e.store.Close()
	}
}

// Start loads the configs, starts the watcher and background tasks, and
// spawns the Engine loop. Refuses to restart a stopped engine.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return fmt.Errorf("engine: can only be started once")
	}
	if e.stopped {
		return fmt.Errorf("engine: cannot restart a shut down engine")
	}
	if e.pluginsNeeded() && !e.pluginsInitialized {
		return fmt.Errorf("engine: plugins are needed but have not been initialized, call InitPlugins first")
	}

	e.log.Info().Msg("starting gaia")

	if err := e.root.LoadPrivate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if err := e.root.LoadEcosystems(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if err := e.root.LoadChaosCache(); err != nil {
		e.log.Warn().Err(err).Msg("failed to load chaos cache, starting with expired windows")
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.watcher = gaiaconfig.NewWatcher(e.root, e.appCfg.ConfigWatcherPeriod, e.log)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.watcher.Run(ctx)
	}()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.forwardWatcherSignals(ctx)
	}()

	e.refreshSunTimes()

	e.sampler = watchdog.NewSampler(e.appCfg.DataDir, e.log)
	e.watchdog = watchdog.NewServer(e.appCfg.WatchdogAddr, e.appCfg.EngineUID, e.sampler, e.log)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.sampler.Run(ctx, 30*time.Second)
	}()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.watchdog.ListenAndServe(ctx); err != nil {
			e.log.Error().Err(err).Msg("watchdog server stopped unexpectedly")
		}
	}()

	e.startBackgroundTasks()
	if e.pluginsInitialized {
		e.startPlugins(ctx)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.loop(ctx)
	}()

	e.started = true
	e.running = true
	e.notify()
	e.log.Info().Msg("gaia started")
	return nil
}

// forwardWatcherSignals coalesces the watcher's Changed notifications
// into the loop's wake channel, the same non-blocking coalescing the
// watcher itself already applies.
func (e *Engine) forwardWatcherSignals(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.watcher.Changed:
			e.notify()
		}
	}
}

func (e *Engine) notify() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.wake:
		}

		if e.Running() {
			e.refreshEcosystems(ctx)
			if e.dispatcher != nil && e.dispatcher.IsConnected() {
				e.broadcastFullConfig()
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(engineLoopSleep):
		}
	}
}

// broadcastFullConfig re-publishes each live ecosystem's environmental
// parameters and lighting hours, so a just-(re)connected aggregator gets
// a full snapshot instead of waiting for the next subroutine tick.
func (e *Engine) broadcastFullConfig() {
	e.mu.Lock()
	ecosystems := make([]*ecosystem.Ecosystem, 0, len(e.ecosystems))
	for _, eco := range e.ecosystems {
		ecosystems = append(ecosystems, eco)
	}
	e.mu.Unlock()

	for _, eco := range ecosystems {
		if !eco.Status() {
			continue
		}
		env := eco.EnvironmentalParameters()
		e.bus.Publish(events.TypeEnvironmentalParams, events.EnvironmentalParamsPayload{
			EcosystemUID: eco.UID(),
			Chaos:        env.Chaos,
			Nycthemeral:  env.Nycthemeral,
			Climate:      env.Climate,
		})
		hours := eco.LightInfo()
		e.bus.Publish(events.TypeLightData, events.LightDataPayload{
			EcosystemUID: eco.UID(),
			MorningStart: formatOffset(hours.MorningStart),
			MorningEnd:   formatOffset(hours.MorningEnd),
			EveningStart: formatOffset(hours.EveningStart),
			EveningEnd:   formatOffset(hours.EveningEnd),
			Method:       string(hours.Method),
			SpanMethod:   string(hours.SpanMethod),
		})
	}
}

// Running reports whether the Engine is started, not paused and not
// stopping.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running && !e.stopped
}

// Paused reports whether the Engine is started but its background tasks
// are paused.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started && !e.running
}

// Pause stops the loop from refreshing ecosystems, without tearing
// anything down. Becomes observable within one config-notification
// round.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || e.stopped {
		return fmt.Errorf("engine: cannot pause a non-running engine")
	}
	e.log.Info().Msg("pausing gaia")
	e.running = false
	return nil
}

// Resume restarts the loop's refresh-ecosystems step.
func (e *Engine) Resume() error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return fmt.Errorf("engine: cannot resume a stopped engine")
	}
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine: cannot resume an already-running engine")
	}
	e.log.Info().Msg("resuming gaia")
	e.running = true
	e.mu.Unlock()
	e.notify()
	return nil
}

// Wait blocks the caller until the engine is no longer running (paused
// or stopped).
func (e *Engine) Wait() error {
	if !e.Running() {
		return fmt.Errorf("engine: gaia needs to be started in order to wait")
	}
	for e.Running() {
		time.Sleep(500 * time.Millisecond)
	}
	return nil
}

// Stop shuts the engine down permanently: stops and dismounts every
// ecosystem, stops plugins and background tasks, and cancels the loop.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return fmt.Errorf("engine: cannot stop a non-started engine")
	}
	if e.stopped {
		e.mu.Unlock()
		return fmt.Errorf("engine: cannot stop an already stopped engine")
	}
	e.running = false
	cancel := e.cancel
	e.mu.Unlock()

	e.log.Info().Msg("shutting down gaia")
	cancel()
	e.notify()
	e.wg.Wait()

	e.mu.Lock()
	ecosystems := e.ecosystems
	e.ecosystems = make(map[string]*ecosystem.Ecosystem)
	e.mu.Unlock()
	for _, eco := range ecosystems {
		if eco.Status() {
			_ = eco.Stop()
		}
	}

	if e.pluginsInitialized {
		e.stopPlugins()
	}
	e.cron.Stop()

	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	e.log.Info().Msg("gaia has shut down")
	return nil
}

// ---------------------------------------------------------------------------
//   Ecosystem management
// ---------------------------------------------------------------------------

func (e *Engine) ecosystemDeps() ecosystem.Deps {
	var conn subroutine.ConnectionChecker
	if e.dispatcher != nil {
		conn = e.dispatcher
	}
	return ecosystem.Deps{
		Root:    e.root,
		Bus:     e.bus,
		Store:   e.store,
		Conn:    conn,
		Virtual: e.appCfg.Virtualization,
		Periods: ecosystem.Periods{
			Sensors: e.appCfg.SensorsLoopPeriod,
			Light:   e.appCfg.LightLoopPeriod,
			Climate: e.appCfg.ClimateLoopPeriod,
		},
	}
}

// Ecosystems returns a snapshot of the currently mounted ecosystems,
// keyed by uid.
func (e *Engine) Ecosystems() map[string]*ecosystem.Ecosystem {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]*ecosystem.Ecosystem, len(e.ecosystems))
	for uid, eco := range e.ecosystems {
		out[uid] = eco
	}
	return out
}

// refreshEcosystems is the central reconciler: mounts newly-configured
// ecosystems, starts the ones now expected to run, stops the ones no
// longer expected, refreshes subroutines on the ones that kept running,
// and dismounts ecosystems removed from the config file entirely.
func (e *Engine) refreshEcosystems(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	uids := e.root.EcosystemUIDs()
	known := make(map[string]bool, len(uids))
	for _, uid := range uids {
		known[uid] = true
		if _, ok := e.ecosystems[uid]; !ok {
			cfg, ok := e.root.Ecosystem(uid)
			if !ok {
				continue
			}
			e.ecosystems[uid] = ecosystem.New(cfg, e.ecosystemDeps(), e.log)
			e.log.Debug().Str("ecosystem", uid).Msg("ecosystem mounted")
		}
	}

	expected := make(map[string]bool)
	for _, uid := range uids {
		if cfg, ok := e.root.Ecosystem(uid); ok && cfg.Status {
			expected[uid] = true
		}
	}

	for uid, eco := range e.ecosystems {
		started := eco.Status()
		switch {
		case expected[uid] && !started:
			if err := eco.Start(ctx); err != nil {
				e.log.Error().Err(err).Str("ecosystem", uid).Msg("failed to start ecosystem")
			}
		case !expected[uid] && started:
			if err := eco.Stop(); err != nil {
				e.log.Error().Err(err).Str("ecosystem", uid).Msg("failed to stop ecosystem")
			}
		case expected[uid] && started:
			eco.RefreshSubroutines(ctx)
		}
	}

	for uid, eco := range e.ecosystems {
		if !known[uid] {
			_ = eco.Stop()
			delete(e.ecosystems, uid)
			e.log.Info().Str("ecosystem", uid).Msg("ecosystem dismounted")
		}
	}
}

// ---------------------------------------------------------------------------
//   Daily background tasks
// ---------------------------------------------------------------------------

func (e *Engine) startBackgroundTasks() {
	e.cron = scheduler.NewDailyCron(e.log)
	_ = e.cron.AddDaily("0 1 * * *", "refresh_sun_times", e.refreshSunTimes)
	_ = e.cron.AddDaily("5 0 * * *", "refresh_chaos", e.rollChaos)
	if e.backup != nil {
		_ = e.cron.AddDaily("30 2 * * *", "backup", e.runBackup)
	}
	e.cron.Start()
}

// startOfDay truncates t to local midnight, used by the "last_update <
// today" daily-refresh gate shared by sun times and chaos.
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// refreshSunTimes downloads today's sun times for every place referenced
// by a mounted ecosystem's nycthemeral target, plus "home". A place that
// can't be reached is simply skipped (it keeps yesterday's cache, or
// none); nycthemeral.Compute already downgrades silently to "fixed" when
// sun times are unavailable for a place.
func (e *Engine) refreshSunTimes() {
	e.log.Info().Msg("refreshing ecosystems sun times")

	today := startOfDay(time.Now())
	places := e.referencedPlaces()
	allPlaces := e.root.Places()

	for _, name := range places {
		place, ok := allPlaces[name]
		if !ok {
			continue
		}
		if entry, ok := e.root.SunTimes(name); ok && !entry.LastUpdate.Before(today) {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		sunTimes, err := e.sunFetcher.Fetch(ctx, place)
		cancel()
		if err != nil {
			e.log.Warn().Err(err).Str("place", name).Msg("failed to refresh sun times, ecosystems depending on it fall back to fixed")
			continue
		}
		e.root.SetSunTimes(name, toEntry(sunTimes, time.Now()))
	}
}

func toEntry(st nycthemeral.SunTimes, now time.Time) gaiaconfig.SunTimesEntry {
	toAbsolute := func(d *time.Duration) *time.Time {
		if d == nil {
			return nil
		}
		midnight := startOfDay(now)
		t := midnight.Add(*d)
		return &t
	}
	return gaiaconfig.SunTimesEntry{
		TwilightBegin: toAbsolute(st.TwilightBegin),
		Sunrise:       toAbsolute(st.Sunrise),
		Sunset:        toAbsolute(st.Sunset),
		TwilightEnd:   toAbsolute(st.TwilightEnd),
		LastUpdate:    now,
	}
}

// referencedPlaces lists "home" plus every mounted ecosystem's nycthemeral
// target place, deduplicated.
func (e *Engine) referencedPlaces() []string {
	seen := map[string]bool{"home": true}
	e.mu.Lock()
	for _, eco := range e.ecosystems {
		env := eco.EnvironmentalParameters()
		if env.Nycthemeral.Target != nil {
			seen[*env.Nycthemeral.Target] = true
		}
	}
	e.mu.Unlock()
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	return out
}

// rollChaos runs the once-daily chaos dice throw for every mounted
// ecosystem whose chaos memory is stale, then persists the updated
// windows to the on-disk cache.
func (e *Engine) rollChaos() {
	e.log.Info().Msg("updating ecosystems chaos time window")
	today := startOfDay(time.Now())
	now := time.Now()

	e.mu.Lock()
	ecosystems := make([]*ecosystem.Ecosystem, 0, len(e.ecosystems))
	for _, eco := range e.ecosystems {
		ecosystems = append(ecosystems, eco)
	}
	e.mu.Unlock()

	for _, eco := range ecosystems {
		mem, ok := e.root.ChaosMemory(eco.UID())
		if ok && !mem.LastUpdate.Before(today) {
			continue
		}
		eco.RefreshChaos()
		eco.Chaos().Roll(now, chaos.DefaultRollDie)
		e.root.SetChaosMemory(eco.UID(), eco.Chaos().ToMemory(now))
	}

	if err := e.root.DumpChaosCache(); err != nil {
		e.log.Error().Err(err).Msg("failed to persist chaos cache")
	}
}

// formatOffset renders a local-midnight offset as "HH:MM:SS", matching
// the light subroutine's own light_data payload formatting.
func formatOffset(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func (e *Engine) runBackup() {
	if e.backup == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	stamp := time.Now().Format("20060102T150405")
	if err := e.backup.Run(ctx, stamp); err != nil {
		e.log.Error().Err(err).Msg("off-site backup failed")
	}
}
