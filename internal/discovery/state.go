package discovery

import "fog-api/internal/metrics"

// State：区域在本会话中的状态
type State int

const (
	StateUnknown State = iota
	StateInProgress
	StateCommitting
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateInProgress:
		return "in_progress"
	case StateCommitting:
		return "committing"
	case StateCompleted:
		return "completed"
	}
	return "unknown"
}

// State：Unknown → InProgress（有覆盖）→ Committing（提交中）→ Completed；提交失败回到 InProgress
func (e *Engine) State(zoneID string) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.completed[zoneID]; ok {
		return StateCompleted
	}
	if _, ok := e.committing[zoneID]; ok {
		return StateCommitting
	}
	if _, ok := e.touched[zoneID]; ok {
		return StateInProgress
	}
	if e.fog.VisitedCells(zoneID) > 0 {
		return StateInProgress
	}
	return StateUnknown
}

// Outcome：一次判定的结论
type Outcome string

const (
	OutcomeNotLoaded Outcome = "not_loaded"
	OutcomeDeduped   Outcome = "deduped"
	OutcomeUnlocated Outcome = "unlocated"
	OutcomeCompleted Outcome = "already_completed"
	OutcomeKnownCell Outcome = "known_cell"
	OutcomeAbstained Outcome = "abstained"
	OutcomeFactError Outcome = "fact_error"
	OutcomeBelow     Outcome = "below_threshold"
	OutcomeCommitted Outcome = "committed"
	OutcomeNotCommit Outcome = "commit_skipped"
)

// Check：判定结果；ZoneID 为空表示未定位到区域
type Check struct {
	ZoneID  string
	Ratio   float64
	Outcome Outcome
}

func fogOutcome(c Check) Check {
	metrics.FogSamplesTotal.WithLabelValues(string(c.Outcome)).Inc()
	return c
}

func visitOutcome(c Check) Check {
	metrics.VisitChecksTotal.WithLabelValues(string(c.Outcome)).Inc()
	return c
}
