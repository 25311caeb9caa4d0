package model

import "time"

// ItemStatus represents where a work item is in the lease lifecycle.
type ItemStatus string

const (
	ItemStatusPending         ItemStatus = "pending"
	ItemStatusLeased          ItemStatus = "leased"
	ItemStatusResolvedSuccess ItemStatus = "resolved_success"
	ItemStatusResolvedFailure ItemStatus = "resolved_failure"
	ItemStatusResolvedUnknown ItemStatus = "resolved_unknown"
	ItemStatusResolvedError   ItemStatus = "resolved_error"
)

// Resolved reports whether the status is terminal.
func (s ItemStatus) Resolved() bool {
	switch s {
	case ItemStatusResolvedSuccess, ItemStatusResolvedFailure,
		ItemStatusResolvedUnknown, ItemStatusResolvedError:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s ItemStatus) Valid() bool {
	return s == ItemStatusPending || s == ItemStatusLeased || s.Resolved()
}

// CheckSource tags the integration path that created an item.
type CheckSource string

const (
	CheckSourceManual CheckSource = "manual" // Seeded by a session start
	CheckSourceStock  CheckSource = "stock"  // Pooled stock assigned to a session
	CheckSourceDirect CheckSource = "direct" // Fetch fallback submission
)

// ItemMetadata holds the free-form fields populated on resolution.
type ItemMetadata struct {
	Origin string `json:"origin,omitempty"`
	Locale string `json:"locale,omitempty"`
	Issuer string `json:"issuer,omitempty"`
	Tier   string `json:"tier,omitempty"`
	Brand  string `json:"brand,omitempty"`
	Kind   string `json:"kind,omitempty"`
}

// Empty reports whether no metadata field is set.
func (m ItemMetadata) Empty() bool {
	return m == ItemMetadata{}
}

// WorkItem is a unit of submitted content awaiting processing by a checker.
type WorkItem struct {
	ID          string       `json:"id"`
	Fingerprint string       `json:"fingerprint"`
	Content     string       `json:"content"`
	OwnerID     string       `json:"owner_id"`
	SessionID   string       `json:"session_id,omitempty"`
	CheckType   int          `json:"check_type"`
	Status      ItemStatus   `json:"status"`
	Source      CheckSource  `json:"source"`
	Billed      bool         `json:"billed"`
	Price       float64      `json:"price"`
	Message     string       `json:"message,omitempty"`
	Metadata    ItemMetadata `json:"metadata"`
	LeasedBy    string       `json:"leased_by,omitempty"`
	LeasedAt    *time.Time   `json:"leased_at,omitempty"`
	LeasedUntil *time.Time   `json:"leased_until,omitempty"`
	ResolvedBy  string       `json:"resolved_by,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	ResolvedAt  *time.Time   `json:"resolved_at,omitempty"`
}

// NewItem describes an item to insert in pending status.
type NewItem struct {
	Content   string
	OwnerID   string
	SessionID string
	CheckType int
	Source    CheckSource
	Price     float64
}
