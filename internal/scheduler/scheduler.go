// Package scheduler provides the two timing primitives the engine needs:
// a plain interval ticker for subroutine loop periods, and a cron-driven
// DailyCron for once-a-day background tasks (sun-time refresh, chaos
// roll, off-site backup).
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Periodic runs fn every interval until ctx is cancelled. fn is not run
// immediately on entry; the first call happens after the first tick. The
// caller is expected to run Periodic in its own goroutine.
func Periodic(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// DailyCron wraps robfig/cron/v3 for the engine's handful of once-a-day
// background jobs, giving each a name for logging without requiring every
// caller to build its own cron.Job wrapper.
type DailyCron struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// NewDailyCron builds an empty DailyCron.
func NewDailyCron(log zerolog.Logger) *DailyCron {
	return &DailyCron{
		cron: cron.New(),
		log:  log.With().Str("service", "scheduler").Logger(),
	}
}

// AddDaily schedules fn to run on the standard 5-field cron expression
// spec (e.g. "0 3 * * *" for 3 AM daily), identified as name in logs.
func (d *DailyCron) AddDaily(spec, name string, fn func()) error {
	_, err := d.cron.AddFunc(spec, func() {
		d.log.Debug().Str("job", name).Msg("running scheduled job")
		fn()
	})
	return err
}

// Start begins running scheduled jobs in their own goroutines.
func (d *DailyCron) Start() {
	d.cron.Start()
}

// Stop halts the scheduler, waiting for any in-flight job to finish.
func (d *DailyCron) Stop() {
	<-d.cron.Stop().Done()
}
