package pipeline

import (
	"runtime"
	"sync/atomic"
)

// Profiler aggregates stage timings across runs.
type Profiler struct {
	AlignTimeNs   atomic.Int64
	ExtractTimeNs atomic.Int64
	ParseTimeNs   atomic.Int64
	Frames        atomic.Int64
}

func (p *Profiler) Record(alignNs, extractNs, parseNs int64) {
	p.AlignTimeNs.Add(alignNs)
	p.ExtractTimeNs.Add(extractNs)
	p.ParseTimeNs.Add(parseNs)
	p.Frames.Add(1)
}

// Snapshot returns cumulative metrics in milliseconds for readability.
func (p *Profiler) Snapshot() map[string]any {
	n := p.Frames.Load()
	al := p.AlignTimeNs.Load()
	ex := p.ExtractTimeNs.Load()
	pa := p.ParseTimeNs.Load()
	out := map[string]any{
		"frames":           n,
		"align_ms_total":   al / 1_000_000,
		"extract_ms_total": ex / 1_000_000,
		"parse_ms_total":   pa / 1_000_000,
	}
	if n > 0 {
		out["align_ms_per_frame"] = float64(al) / 1_000_000.0 / float64(n)
		out["extract_ms_per_frame"] = float64(ex) / 1_000_000.0 / float64(n)
		out["parse_ms_per_frame"] = float64(pa) / 1_000_000.0 / float64(n)
	}
	return out
}

// MemStats summarizes memory usage information.
type MemStats struct {
	AllocBytes uint64 `json:"alloc_bytes"`
	SysBytes   uint64 `json:"sys_bytes"`
	NumGC      uint32 `json:"num_gc"`
	Goroutines int    `json:"goroutines"`
}

// GetMemStats captures current memory statistics.
func GetMemStats() MemStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemStats{
		AllocBytes: m.Alloc,
		SysBytes:   m.Sys,
		NumGC:      m.NumGC,
		Goroutines: runtime.NumGoroutine(),
	}
}
