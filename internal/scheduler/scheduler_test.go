package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestPeriodicRunsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Millisecond)
	defer cancel()

	var calls int32
	done := make(chan struct{})
	go func() {
		Periodic(ctx, 10*time.Millisecond, func() { atomic.AddInt32(&calls, 1) })
		close(done)
	}()

	<-done
	require.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}

func TestDailyCronAddDailyRejectsBadSpec(t *testing.T) {
	d := NewDailyCron(zerolog.Nop())
	err := d.AddDaily("not a cron spec", "bogus", func() {})
	require.Error(t, err)
}
