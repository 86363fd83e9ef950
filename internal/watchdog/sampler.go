// Package watchdog samples host resource usage and exposes a minimal HTTP
// status surface — useful given the engine's Raspberry-Pi-class target,
// where resource exhaustion is the most likely operational failure.
package watchdog

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot is one host resource sample.
type Snapshot struct {
	Timestamp     time.Time
	CPUPercent    float64
	MemoryPercent float64
	DiskPercent   float64
	MemoryUsedMB  uint64
	MemoryTotalMB uint64
}

// Sampler periodically samples host resource usage and caches the last
// reading for Server to serve.
type Sampler struct {
	diskPath string
	log      zerolog.Logger

	mu   sync.RWMutex
	last Snapshot
}

// NewSampler builds a Sampler that reports disk usage for diskPath (the
// engine's data directory).
func NewSampler(diskPath string, log zerolog.Logger) *Sampler {
	return &Sampler{
		diskPath: diskPath,
		log:      log.With().Str("service", "watchdog").Logger(),
	}
}

// Run samples every interval until ctx is cancelled. Intended to run in
// its own goroutine.
func (s *Sampler) Run(ctx context.Context, interval time.Duration) {
	s.sample()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *Sampler) sample() {
	snap := Snapshot{Timestamp: time.Now()}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		snap.CPUPercent = percents[0]
	} else if err != nil {
		s.log.Warn().Err(err).Msg("failed to sample CPU usage")
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		snap.MemoryPercent = vm.UsedPercent
		snap.MemoryUsedMB = vm.Used / (1024 * 1024)
		snap.MemoryTotalMB = vm.Total / (1024 * 1024)
	} else {
		s.log.Warn().Err(err).Msg("failed to sample memory usage")
	}

	if du, err := disk.Usage(s.diskPath); err == nil {
		snap.DiskPercent = du.UsedPercent
	} else {
		s.log.Warn().Err(err).Str("path", s.diskPath).Msg("failed to sample disk usage")
	}

	s.mu.Lock()
	s.last = snap
	s.mu.Unlock()
}

// Last returns the most recent sample.
func (s *Sampler) Last() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}
