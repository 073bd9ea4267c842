package endpoint

import (
	"runtime"
	"runtime/debug"
	"time"
)

// GCConfig holds the GC tuning knobs applied once at Endpoint.Start.
type GCConfig struct {
	// GOGC sets the garbage collection target percentage. Default 100;
	// lower means more frequent GC but less resident memory.
	GOGC int

	// MemoryLimit sets a soft memory limit in bytes. 0 = no limit.
	MemoryLimit int64

	// MinRetainExtra is extra memory retained at startup to reduce early
	// GC frequency under connection churn.
	MinRetainExtra int64
}

// DefaultGCConfig returns GC settings tuned for a high-connection-count
// server.
func DefaultGCConfig() GCConfig {
	return GCConfig{
		GOGC:           200,
		MemoryLimit:    0,
		MinRetainExtra: 50 << 20,
	}
}

// ApplyGCConfig applies GC tuning once at Start.
func ApplyGCConfig(cfg GCConfig) {
	if cfg.GOGC > 0 {
		debug.SetGCPercent(cfg.GOGC)
	}
	if cfg.MemoryLimit > 0 {
		debug.SetMemoryLimit(cfg.MemoryLimit)
	}
	if cfg.MinRetainExtra > 0 {
		runtime.GC()
		_ = make([]byte, cfg.MinRetainExtra)
	}
}

// GCStats reports garbage-collector statistics for observability.
type GCStats struct {
	NumGC        uint32
	PauseTotal   time.Duration
	LastPause    time.Duration
	AvgPause     time.Duration
	AllocBytes   uint64
	TotalAlloc   uint64
	Sys          uint64
	NumGoroutine int
}

// GetGCStats returns current GC statistics.
func GetGCStats() GCStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	stats := GCStats{
		NumGC:        ms.NumGC,
		AllocBytes:   ms.Alloc,
		TotalAlloc:   ms.TotalAlloc,
		Sys:          ms.Sys,
		NumGoroutine: runtime.NumGoroutine(),
	}

	if ms.NumGC > 0 {
		stats.LastPause = time.Duration(ms.PauseNs[(ms.NumGC+255)%256])

		var totalPause uint64
		numPauses := ms.NumGC
		if numPauses > 256 {
			numPauses = 256
		}
		for i := uint32(0); i < numPauses; i++ {
			totalPause += ms.PauseNs[i]
		}
		stats.PauseTotal = time.Duration(totalPause)
		if numPauses > 0 {
			stats.AvgPause = time.Duration(totalPause / uint64(numPauses))
		}
	}

	return stats
}
