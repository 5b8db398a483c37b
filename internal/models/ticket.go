package models

import (
	"time"
)

// DedupKey identifies the open-ticket slot for an ATM and fault.
func DedupKey(atmID string, fault FaultType) string {
	return atmID + "|" + string(fault)
}

// FaultType names a detected ATM fault.
type FaultType string

const (
	FaultCardReaderFailure FaultType = "CARD_READER_FAILURE"
	FaultDispenserFailure  FaultType = "DISPENSER_FAILURE"
	FaultNetworkOffline    FaultType = "NETWORK_OFFLINE"
	FaultHighFailureRate   FaultType = "HIGH_FAILURE_RATE"
	FaultCashOut           FaultType = "CASH_OUT"
	FaultLowUptime         FaultType = "LOW_UPTIME"
	FaultHighTemperature   FaultType = "HIGH_TEMPERATURE"
)

// Severity of a detected fault.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// TicketStatus is the state of a dispatch ticket.
type TicketStatus string

const (
	TicketPending    TicketStatus = "pending"
	TicketAssigned   TicketStatus = "assigned"
	TicketInProgress TicketStatus = "in_progress"
	TicketResolved   TicketStatus = "resolved"
)

// OpenTicketStatuses are the statuses counted as active incidents.
var OpenTicketStatuses = []TicketStatus{TicketPending, TicketAssigned, TicketInProgress}

// Ticket is one dispatch request for one detected fault.
type Ticket struct {
	TicketID   string       `bson:"ticket_id" json:"ticket_id"`
	ATMID      string       `bson:"atm_id" json:"atm_id"`
	FaultType  FaultType    `bson:"fault_type" json:"fault_type"`
	Severity   Severity     `bson:"severity" json:"severity"`
	EngineerID *string      `bson:"engineer_id" json:"engineer_id"`
	Status     TicketStatus `bson:"status" json:"status"`
	Priority   int          `bson:"priority" json:"priority"`
	CreatedAt  time.Time    `bson:"created_at" json:"created_at"`
	ResolvedAt *time.Time   `bson:"resolved_at,omitempty" json:"resolved_at,omitempty"`
	// DedupKey is set while the ticket is the open one for its ATM and fault.
	DedupKey string `bson:"dedup_key,omitempty" json:"-"`
}

// IsValidTicketStatus checks if a ticket status is valid
func IsValidTicketStatus(s TicketStatus) bool {
	switch s {
	case TicketPending, TicketAssigned, TicketInProgress, TicketResolved:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is allowed.
func (s TicketStatus) IsTerminal() bool {
	return s == TicketResolved
}

// IsOpen reports whether the ticket still counts as an active incident.
func (s TicketStatus) IsOpen() bool {
	return IsValidTicketStatus(s) && !s.IsTerminal()
}

// CanTransition reports whether a ticket may move from s to next.
// Resolution is reachable from every non-terminal state.
func (s TicketStatus) CanTransition(next TicketStatus) bool {
	if s.IsTerminal() || !IsValidTicketStatus(next) {
		return false
	}
	switch next {
	case TicketResolved:
		return true
	case TicketAssigned:
		return s == TicketPending
	case TicketInProgress:
		return s == TicketAssigned
	default:
		return false
	}
}

// HasEngineer reports whether an engineer is attached to the ticket.
func (t *Ticket) HasEngineer() bool {
	return t.EngineerID != nil && *t.EngineerID != ""
}

// Resolution records how an engineer closed a ticket.
type Resolution struct {
	ResolutionID          string    `bson:"resolution_id" json:"resolution_id"`
	TicketID              string    `bson:"ticket_id" json:"ticket_id" validate:"required"`
	EngineerID            string    `bson:"engineer_id" json:"engineer_id" validate:"required"`
	ResolutionNotes       string    `bson:"resolution_notes" json:"resolution_notes" validate:"required"`
	PhotoEvidenceURL      string    `bson:"photo_evidence_url,omitempty" json:"photo_evidence_url,omitempty" validate:"omitempty,url"`
	ResolutionTimeMinutes int       `bson:"resolution_time_minutes" json:"resolution_time_minutes" validate:"gte=0"`
	SubmittedAt           time.Time `bson:"submitted_at" json:"submitted_at"`
}

// Overview summarizes fleet and incident counts.
type Overview struct {
	TotalATMs       int64 `json:"total_atms"`
	TotalEngineers  int64 `json:"total_engineers"`
	ActiveIncidents int64 `json:"active_incidents"`
	ResolvedToday   int64 `json:"resolved_today"`
}
