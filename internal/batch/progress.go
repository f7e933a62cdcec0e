package batch

import (
	"sync"
	"time"

	"github.com/scrapeforge/harvester/internal/types"
)

// progressTracker computes {phase, completed, total, percentage, errors,
// estimatedTimeRemainingMs} on every item completion and state transition,
// per spec.md §4.D. ETA uses a moving average of the last few item
// durations rather than a cumulative average, so it adapts as throughput
// changes over a long-running batch.
type progressTracker struct {
	mu        sync.Mutex
	phase     string
	total     int
	completed int
	errors    int

	durations  []time.Duration
	windowSize int
}

func newProgressTracker(total int) *progressTracker {
	return &progressTracker{phase: "validating", total: total, windowSize: 20}
}

func (p *progressTracker) setPhase(phase string) types.Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phase = phase
	return p.snapshotLocked()
}

func (p *progressTracker) recordItem(d time.Duration, failed bool) types.Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed++
	if failed {
		p.errors++
	}
	p.durations = append(p.durations, d)
	if len(p.durations) > p.windowSize {
		p.durations = p.durations[len(p.durations)-p.windowSize:]
	}
	return p.snapshotLocked()
}

func (p *progressTracker) snapshotLocked() types.Progress {
	pct := 0.0
	if p.total > 0 {
		pct = float64(p.completed) / float64(p.total) * 100
	}
	prog := types.Progress{
		Phase:      p.phase,
		Completed:  p.completed,
		Total:      p.total,
		Errors:     p.errors,
		Percentage: pct,
	}
	if remaining := p.total - p.completed; remaining > 0 && len(p.durations) > 0 {
		var sum time.Duration
		for _, d := range p.durations {
			sum += d
		}
		avg := sum / time.Duration(len(p.durations))
		prog.EstimatedRemainingMs = (avg * time.Duration(remaining)).Milliseconds()
	}
	return prog
}

func (p *progressTracker) snapshot() types.Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}
