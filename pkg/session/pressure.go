package session

import (
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// checkMemoryPressure evicts LRU sessions when the process resident set
// exceeds the configured ceiling. Session state dominates heap usage in a
// live-UI server, so shedding the oldest sessions is the recovery lever.
func (r *Registry) checkMemoryPressure() {
	if r.cfg.MaxProcessMemory == 0 {
		return
	}

	rss, err := processRSS()
	if err != nil {
		r.logger.Debug("memory pressure check skipped", "error", err)
		return
	}

	if rss <= r.cfg.MaxProcessMemory {
		return
	}

	batch := r.cfg.EvictBatch
	if batch <= 0 {
		batch = 10
	}

	r.logger.Warn("memory pressure detected, evicting sessions",
		"rss", rss,
		"limit", r.cfg.MaxProcessMemory,
		"evict_count", batch)

	r.EvictLRU(batch)
}

// processRSS returns the current process resident set size in bytes.
func processRSS() (uint64, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	mi, err := p.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return mi.RSS, nil
}
