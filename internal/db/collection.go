package db

import (
	"context"
	"errors"
	"time"

	"github.com/ukydev/atm-dispatch/internal/models"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrEngineerUnavailable is returned when a claim loses to another dispatch.
	ErrEngineerUnavailable = errors.New("engineer unavailable")
	// ErrStoreUnavailable marks a transient backend failure.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrTicketConflict is returned when a conditional ticket write finds the
	// ticket no longer in the state the caller expected.
	ErrTicketConflict = errors.New("ticket state changed")
)

// ATMCollection defines the interface for ATM asset operations.
type ATMCollection interface {
	InsertATM(ctx context.Context, atm models.ATM) error
	FindATMByID(ctx context.Context, id string) (*models.ATM, error)
	CountATMs(ctx context.Context) (int64, error)
}

// EngineerCollection defines the interface for engineer asset operations.
type EngineerCollection interface {
	InsertEngineer(ctx context.Context, engineer models.Engineer) error
	FindEngineerByID(ctx context.Context, id string) (*models.Engineer, error)
	// FindAvailableEngineers returns engineers flagged available, ordered by engineer_id.
	FindAvailableEngineers(ctx context.Context) ([]models.Engineer, error)
	// ClaimEngineer flips available from true to false and bumps the workload
	// in one conditional write. It returns ErrEngineerUnavailable when the
	// engineer was already taken.
	ClaimEngineer(ctx context.Context, id string) error
	// ReleaseEngineer marks the engineer available and decrements the workload, floored at zero.
	ReleaseEngineer(ctx context.Context, id string) error
	// SetEngineerAvailability sets the available flag without touching the workload.
	SetEngineerAvailability(ctx context.Context, id string, available bool) error
	UpdateEngineerLocation(ctx context.Context, id string, location models.Location) error
	CountEngineers(ctx context.Context) (int64, error)
}

// TicketCollection defines the interface for dispatch ticket operations.
type TicketCollection interface {
	InsertTicket(ctx context.Context, ticket models.Ticket) error
	FindTicketByID(ctx context.Context, id string) (*models.Ticket, error)
	// FindOpenTicket returns a non-resolved ticket for the ATM and fault, or ErrNotFound.
	FindOpenTicket(ctx context.Context, atmID string, fault models.FaultType) (*models.Ticket, error)
	// InsertTicketUnlessOpen inserts ticket unless a non-resolved ticket for
	// the same ATM and fault type exists. The check and the insert are atomic.
	// existing is the open ticket when nothing was inserted.
	InsertTicketUnlessOpen(ctx context.Context, ticket models.Ticket) (existing *models.Ticket, err error)
	// FindTickets lists tickets newest first, filtered by status when status is non-empty.
	FindTickets(ctx context.Context, status models.TicketStatus) ([]models.Ticket, error)
	AssignTicket(ctx context.Context, id, engineerID string) error
	// UpdateTicketStatus moves a ticket from one status to another. It returns
	// ErrTicketConflict when the ticket is no longer in status from.
	UpdateTicketStatus(ctx context.Context, id string, from, to models.TicketStatus) error
	// ResolveTicket resolves a non-resolved ticket and returns it as it was
	// before the write. It returns ErrTicketConflict when already resolved.
	ResolveTicket(ctx context.Context, id string, resolvedAt time.Time) (*models.Ticket, error)
	CountTickets(ctx context.Context, statuses ...models.TicketStatus) (int64, error)
	CountResolvedSince(ctx context.Context, since time.Time) (int64, error)
}

// ResolutionCollection defines the interface for resolution records.
type ResolutionCollection interface {
	InsertResolution(ctx context.Context, resolution models.Resolution) error
}

// TelemetryCollection defines the interface for telemetry data operations.
type TelemetryCollection interface {
	InsertTelemetry(ctx context.Context, telemetry models.Telemetry) error
}

// Store bundles every collection behind one backend.
type Store interface {
	ATMCollection
	EngineerCollection
	TicketCollection
	ResolutionCollection
	TelemetryCollection
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
