// File: internal/processor/helpers.go
package processor

import (
	"time"

	"github.com/smartdevs17/fleet-alert-relay/internal/models"
)

// EngineStats provides rule engine statistics
type EngineStats struct {
	TotalEvents           uint64                       `json:"total_events"`
	ProcessedEvents       uint64                       `json:"processed_events"`
	DuplicateEvents       uint64                       `json:"duplicate_events"`
	Gates                 map[string]uint64            `json:"gates"`
	Actions               map[models.RuleAction]uint64 `json:"actions"`
	AverageProcessingTime time.Duration                `json:"average_processing_time"`
	LastProcessedAt       *time.Time                   `json:"last_processed_at,omitempty"`
}

// updateStats updates engine statistics
func (e *Engine) updateStats(out *Outcome) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats.TotalEvents++
	switch {
	case out.Gate != "":
		e.stats.Gates[out.Gate]++
	case out.Duplicate:
		e.stats.DuplicateEvents++
	case out.Alert != nil:
		e.stats.ProcessedEvents++
		e.stats.Actions[out.Action]++
		now := time.Now()
		e.stats.LastProcessedAt = &now
	}

	if e.stats.TotalEvents == 1 {
		e.stats.AverageProcessingTime = out.Duration
	} else {
		e.stats.AverageProcessingTime = (e.stats.AverageProcessingTime + out.Duration) / 2
	}
}

// GetStats returns a snapshot of engine statistics
func (e *Engine) GetStats() *EngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	snapshot := *e.stats
	snapshot.Gates = make(map[string]uint64, len(e.stats.Gates))
	for k, v := range e.stats.Gates {
		snapshot.Gates[k] = v
	}
	snapshot.Actions = make(map[models.RuleAction]uint64, len(e.stats.Actions))
	for k, v := range e.stats.Actions {
		snapshot.Actions[k] = v
	}
	return &snapshot
}
