package monitoring

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// SystemMonitor samples process memory on a fixed interval and feeds the
// chat_memory_bytes gauge. Falls back to system-wide memory if per-process
// stats are unavailable (some container runtimes restrict procfs).
type SystemMonitor struct {
	logger   zerolog.Logger
	interval time.Duration
	proc     *process.Process
}

// NewSystemMonitor creates a monitor sampling at the given interval.
func NewSystemMonitor(logger zerolog.Logger, interval time.Duration) *SystemMonitor {
	m := &SystemMonitor{
		logger:   logger.With().Str("component", "system_monitor").Logger(),
		interval: interval,
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		m.logger.Warn().
			Err(err).
			Msg("Failed to get process handle, falling back to system memory")
	} else {
		m.proc = proc
	}

	return m
}

// Run samples until the context is cancelled. Intended to run in its own
// goroutine.
func (m *SystemMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

func (m *SystemMonitor) sample() {
	if m.proc != nil {
		info, err := m.proc.MemoryInfo()
		if err == nil {
			SetMemoryUsage(info.RSS)
			m.logger.Debug().
				Uint64("rss_bytes", info.RSS).
				Msg("Sampled process memory")
			return
		}
		m.logger.Warn().
			Err(err).
			Msg("Failed to read process memory")
	}

	vmem, err := mem.VirtualMemory()
	if err != nil {
		m.logger.Warn().
			Err(err).
			Msg("Failed to read system memory")
		return
	}
	SetMemoryUsage(vmem.Used)
}
