package observability

import (
	"sync"
	"time"
)

// Metrics is a process-local counter registry. It is constructed once and
// passed to the components that record into it. A nil *Metrics ignores
// every call.
type Metrics struct {
	mu sync.Mutex

	automationRuns   int
	automationFrozen int
	phaseTransitions int
	replayRuns       int
	replayFailures   int
	driftEvents      int
	admitted         int
	rejected         map[string]int
}

// NewMetrics creates an empty registry.
func NewMetrics() *Metrics {
	return &Metrics{rejected: map[string]int{}}
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	AutomationRuns   int            `json:"automation_runs"`
	AutomationFrozen int            `json:"automation_frozen"`
	PhaseTransitions int            `json:"phase_transitions"`
	ReplayRuns       int            `json:"replay_runs"`
	ReplayFailures   int            `json:"replay_failures"`
	DriftEvents      int            `json:"drift_events"`
	Admitted         int            `json:"admitted"`
	Rejected         map[string]int `json:"rejected"`
	CollectedAt      time.Time      `json:"collected_at"`
}

// ReplayFailureRate is failures over runs, or 0 with no runs.
func (s Snapshot) ReplayFailureRate() float64 {
	if s.ReplayRuns == 0 {
		return 0
	}
	return float64(s.ReplayFailures) / float64(s.ReplayRuns)
}

func (m *Metrics) update(fn func(m *Metrics)) {
	if m == nil {
		return
	}
	m.mu.Lock()
	fn(m)
	m.mu.Unlock()
}

func (m *Metrics) recordAutomation(status string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.automationRuns++
	if status == "frozen" {
		m.automationFrozen++
	}
}

// RecordReplay counts one shadow or offline replay and whether it drifted.
func (m *Metrics) RecordReplay(drifted bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replayRuns++
	if drifted {
		m.replayFailures++
	}
}

// RecordAdmission counts one admission decision. Rejections are bucketed by
// reason code.
func (m *Metrics) RecordAdmission(admitted bool, reason string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if admitted {
		m.admitted++
		return
	}
	m.rejected[reason]++
}

// Snapshot copies the counters.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{Rejected: map[string]int{}, CollectedAt: time.Now().UTC()}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rejected := make(map[string]int, len(m.rejected))
	for k, v := range m.rejected {
		rejected[k] = v
	}
	return Snapshot{
		AutomationRuns:   m.automationRuns,
		AutomationFrozen: m.automationFrozen,
		PhaseTransitions: m.phaseTransitions,
		ReplayRuns:       m.replayRuns,
		ReplayFailures:   m.replayFailures,
		DriftEvents:      m.driftEvents,
		Admitted:         m.admitted,
		Rejected:         rejected,
		CollectedAt:      time.Now().UTC(),
	}
}
