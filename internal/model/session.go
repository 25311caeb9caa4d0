package model

import "time"

// SessionStatus represents the operator-facing lifecycle of a session.
type SessionStatus string

const (
	SessionStatusPending   SessionStatus = "pending"
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusStopping  SessionStatus = "stopping"
	SessionStatusStopped   SessionStatus = "stopped"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusStopped || s == SessionStatusCompleted || s == SessionStatusFailed
}

// Stoppable reports whether a stop request may be applied.
func (s SessionStatus) Stoppable() bool {
	return s == SessionStatusPending || s == SessionStatusRunning
}

// sessionTransitions lists the allowed forward moves.
var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionStatusPending:  {SessionStatusRunning, SessionStatusStopping, SessionStatusStopped, SessionStatusFailed},
	SessionStatusRunning:  {SessionStatusStopping, SessionStatusStopped, SessionStatusCompleted, SessionStatusFailed},
	SessionStatusStopping: {SessionStatusStopped},
}

// CanTransition reports whether from -> to is a legal session transition.
func CanTransition(from, to SessionStatus) bool {
	for _, s := range sessionTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Session is a human-initiated logical grouping of work items.
type Session struct {
	ID            string        `json:"id"`
	OwnerID       string        `json:"owner_id"`
	CheckType     int           `json:"check_type"`
	TargetCount   int           `json:"target_count"`
	SeededCount   int           `json:"seeded_count"`
	SkippedCount  int           `json:"skipped_count"`
	Status        SessionStatus `json:"status"`
	EstimatedCost float64       `json:"estimated_cost"`
	CreatedAt     time.Time     `json:"created_at"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	StoppedAt     *time.Time    `json:"stopped_at,omitempty"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// StatusCounts aggregates item counts per status.
type StatusCounts map[ItemStatus]int

// Unresolved returns the number of pending and leased items.
func (c StatusCounts) Unresolved() int {
	return c[ItemStatusPending] + c[ItemStatusLeased]
}

// Total returns the sum across all statuses.
func (c StatusCounts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}
