package workers

import (
	"context"
	"ephemeral-chat/contract"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

// Snapshot is one periodic reading of the event channel and the process.
type Snapshot struct {
	Rooms         int
	Subscribers   int
	DroppedEvents int64
	RSSMb         uint64
	CPUPercent    float64
}

// StatsReporter logs a Snapshot every interval until its context ends.
type StatsReporter struct {
	log      *slog.Logger
	registry contract.IRegistry
	dropped  func() int64
	interval time.Duration
}

func NewStatsReporter(log *slog.Logger, registry contract.IRegistry, dropped func() int64, interval time.Duration) *StatsReporter {
	return &StatsReporter{log: log, registry: registry, dropped: dropped, interval: interval}
}

func (w *StatsReporter) Run(ctx context.Context) error {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		w.log.Warn("Process metrics unavailable", "error", err)
		proc = nil
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping stats reporter")
			return nil
		case <-ticker.C:
			s := w.Collect(proc)
			w.log.Info("Stats",
				"rooms", s.Rooms,
				"subscribers", s.Subscribers,
				"dropped_events", s.DroppedEvents,
				"rss_mb", s.RSSMb,
				"cpu_percent", s.CPUPercent)
		}
	}
}

// Collect reads the current figures. proc may be nil, process figures are
// then left at zero.
func (w *StatsReporter) Collect(proc *process.Process) Snapshot {
	stats := w.registry.Stats()
	s := Snapshot{Rooms: stats.Rooms, Subscribers: stats.Subscribers}
	if w.dropped != nil {
		s.DroppedEvents = w.dropped()
	}
	if proc == nil {
		return s
	}
	if mem, err := proc.MemoryInfo(); err == nil {
		s.RSSMb = mem.RSS / 1024 / 1024
	} else {
		w.log.Debug("Error while reading process memory", "error", err)
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		s.CPUPercent = cpu
	} else {
		w.log.Debug("Error while reading process cpu usage", "error", err)
	}
	return s
}
