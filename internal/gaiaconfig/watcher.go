package gaiaconfig

import (
	"context"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Watcher polls ecosystems.cfg and private.cfg for changes and signals a
// reload by sending on Changed whenever their MD5 digest moves (polling
// every CONFIG_WATCHER_PERIOD ms, comparing digests rather than mtimes).
type Watcher struct {
	root   *Root
	period time.Duration
	log    zerolog.Logger

	// Changed is signalled (non-blocking, capacity 1) whenever either file's
	// digest changes and has been successfully reloaded into root.
	Changed chan struct{}
}

// NewWatcher builds a Watcher for root, polling every period.
func NewWatcher(root *Root, period time.Duration, log zerolog.Logger) *Watcher {
	return &Watcher{
		root:    root,
		period:  period,
		log:     log.With().Str("service", "config-watcher").Logger(),
		Changed: make(chan struct{}, 1),
	}
}

// Run polls until ctx is cancelled. Intended to be run in its own goroutine.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.period)
	defer ticker.Stop()

	var lastEco, lastPriv [16]byte
	if d, err := digest(filepath.Join(w.root.dataDir, ecosystemsFileName)); err == nil {
		lastEco = d
	}
	if d, err := digest(filepath.Join(w.root.dataDir, privateFileName)); err == nil {
		lastPriv = d
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			changed := false

			if d, err := digest(filepath.Join(w.root.dataDir, ecosystemsFileName)); err == nil && d != lastEco {
				lastEco = d
				if err := w.root.LoadEcosystems(); err != nil {
					w.log.Warn().Err(err).Msg("failed to reload ecosystems.cfg, keeping previous config")
				} else {
					changed = true
				}
			}

			if d, err := digest(filepath.Join(w.root.dataDir, privateFileName)); err == nil && d != lastPriv {
				lastPriv = d
				if err := w.root.LoadPrivate(); err != nil {
					w.log.Warn().Err(err).Msg("failed to reload private.cfg, keeping previous config")
				} else {
					changed = true
				}
			}

			if changed {
				w.notify()
			}
		}
	}
}

func (w *Watcher) notify() {
	select {
	case w.Changed <- struct{}{}:
	default:
		// already has a pending notification; bursts coalesce into one wakeup.
	}
}
