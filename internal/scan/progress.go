package scan

import "sync/atomic"

// State is the lifecycle state of the orchestrator.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StatePaused  State = "paused"
)

// Outcome is how a finished run ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

// Phase identifies which half of the pipeline a run is in.
type Phase string

const (
	PhaseNone        Phase = ""
	PhaseMetadata    Phase = "metadata"
	PhaseFingerprint Phase = "fingerprint"
)

// Progress holds live counters updated by the scan goroutine.
// All fields are atomic so they can be read from HTTP handlers without locks.
type Progress struct {
	Scanned atomic.Int64
	Total   atomic.Int64

	// Phase 1, metadata
	Metadata atomic.Int64
	Remote   atomic.Int64
	// Phase 2, fingerprinting
	Candidates    atomic.Int64
	Fingerprinted atomic.Int64
	AlreadyKnown  atomic.Int64 // candidates whose fingerprint was already set
	Errors        atomic.Int64

	Checkpoints atomic.Int64

	phase atomic.Value // Phase
}

// SetPhase records the current pipeline phase.
func (p *Progress) SetPhase(ph Phase) {
	p.phase.Store(ph)
}

// Phase returns the current pipeline phase.
func (p *Progress) Phase() Phase {
	if v, ok := p.phase.Load().(Phase); ok {
		return v
	}
	return PhaseNone
}

// Snapshot is an immutable copy of the progress counters.
type Snapshot struct {
	State         State   `json:"state"`
	Phase         Phase   `json:"phase"`
	Scanned       int64   `json:"scanned"`
	Total         int64   `json:"total"`
	Fraction      float64 `json:"fraction"`
	Metadata      int64   `json:"metadata"`
	Remote        int64   `json:"remote"`
	Candidates    int64   `json:"candidates"`
	Fingerprinted int64   `json:"fingerprinted"`
	AlreadyKnown  int64   `json:"already_known"`
	Errors        int64   `json:"errors"`
	Checkpoints   int64   `json:"checkpoints"`
}

// Snapshot copies the counters. A nil Progress yields an empty snapshot.
func (p *Progress) Snapshot(state State) Snapshot {
	if p == nil {
		return Snapshot{State: state}
	}
	s := Snapshot{
		State:         state,
		Phase:         p.Phase(),
		Scanned:       p.Scanned.Load(),
		Total:         p.Total.Load(),
		Metadata:      p.Metadata.Load(),
		Remote:        p.Remote.Load(),
		Candidates:    p.Candidates.Load(),
		Fingerprinted: p.Fingerprinted.Load(),
		AlreadyKnown:  p.AlreadyKnown.Load(),
		Errors:        p.Errors.Load(),
		Checkpoints:   p.Checkpoints.Load(),
	}
	if s.Total > 0 {
		s.Fraction = float64(s.Scanned) / float64(s.Total)
		if s.Fraction > 1 {
			s.Fraction = 1
		}
	}
	return s
}
