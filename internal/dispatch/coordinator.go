// Package dispatch turns detected faults into tickets and assigns field engineers.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/ukydev/atm-dispatch/internal/db"
	"github.com/ukydev/atm-dispatch/internal/models"
)

// DedupPolicy decides whether a repeated fault opens another ticket.
type DedupPolicy string

const (
	// DedupNone opens a ticket for every fault-triggering snapshot.
	DedupNone DedupPolicy = "none"
	// DedupOpenTicket reuses a non-resolved ticket for the same ATM and fault type.
	DedupOpenTicket DedupPolicy = "open_ticket"
)

// IsValidDedupPolicy checks if a dedup policy is valid
func IsValidDedupPolicy(p DedupPolicy) bool {
	return p == DedupNone || p == DedupOpenTicket
}

// ErrInvalidTransition is returned when a ticket cannot move to the requested
// status, including when a concurrent update got there first.
var ErrInvalidTransition = errors.New("invalid ticket transition")

// Options tunes the coordinator.
type Options struct {
	Dedup DedupPolicy
	// ClaimEngineers reserves the chosen engineer atomically before assignment.
	// When false the engineer's availability is left untouched.
	ClaimEngineers bool
	Now            func() time.Time
	NewID          func() string
}

func (o *Options) setDefaults() {
	if o.Dedup == "" {
		o.Dedup = DedupNone
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
}

// Coordinator runs the create-ticket, match, assign workflow.
type Coordinator struct {
	store   db.Store
	matcher *Matcher
	metrics *Metrics
	log     logrus.FieldLogger
	opts    Options
}

// NewCoordinator creates a coordinator. metrics may be nil.
func NewCoordinator(store db.Store, matcher *Matcher, metrics *Metrics, log logrus.FieldLogger, opts Options) *Coordinator {
	opts.setDefaults()
	return &Coordinator{store: store, matcher: matcher, metrics: metrics, log: log, opts: opts}
}

// HandleFault opens a pending ticket for the fault and tries to assign an
// engineer. The ticket id is returned whenever the ticket was stored, even if
// assignment failed; an error means no ticket exists.
func (c *Coordinator) HandleFault(ctx context.Context, atmID string, fault models.FaultType, severity models.Severity) (string, error) {
	entry := c.log.WithFields(logrus.Fields{"atm_id": atmID, "fault_type": fault, "severity": severity})

	ticket := models.Ticket{
		TicketID:  c.opts.NewID(),
		ATMID:     atmID,
		FaultType: fault,
		Severity:  severity,
		Status:    models.TicketPending,
		CreatedAt: c.opts.Now(),
	}
	var existing *models.Ticket
	var err error
	if c.opts.Dedup == DedupOpenTicket {
		existing, err = c.store.InsertTicketUnlessOpen(ctx, ticket)
	} else {
		err = c.store.InsertTicket(ctx, ticket)
	}
	if err != nil {
		entry.WithError(err).Error("Failed to create dispatch ticket")
		c.metrics.recordTicket(fault, severity, OutcomeFailed)
		return "", fmt.Errorf("create ticket: %w", err)
	}
	if existing != nil {
		entry.WithField("ticket_id", existing.TicketID).Info("Open ticket exists, skipping new ticket")
		c.metrics.recordTicket(fault, severity, OutcomeDeduplicated)
		return existing.TicketID, nil
	}
	entry = entry.WithField("ticket_id", ticket.TicketID)
	entry.Info("Dispatch ticket created")

	start := time.Now()
	engineerID, assigned := c.assign(ctx, entry, &ticket)
	c.metrics.observeMatch(time.Since(start))

	if assigned {
		entry.WithField("engineer_id", engineerID).Info("Ticket assigned")
		c.metrics.recordTicket(fault, severity, OutcomeAssigned)
	} else {
		c.metrics.recordTicket(fault, severity, OutcomePending)
	}
	return ticket.TicketID, nil
}

// assign ranks candidates and attaches the first one it can claim. Every
// failure is logged and leaves the ticket pending.
func (c *Coordinator) assign(ctx context.Context, entry logrus.FieldLogger, ticket *models.Ticket) (string, bool) {
	candidates, err := c.matcher.Rank(ctx, ticket.ATMID, ticket.FaultType)
	if err != nil {
		entry.WithError(err).Warn("Engineer matching failed, ticket left pending")
		return "", false
	}
	if len(candidates) == 0 {
		entry.Warn("Ticket created but no engineer available")
		return "", false
	}

	if !c.opts.ClaimEngineers {
		id := candidates[0].Engineer.EngineerID
		if err := c.store.AssignTicket(ctx, ticket.TicketID, id); err != nil {
			entry.WithError(err).WithField("engineer_id", id).Error("Failed to assign ticket, left pending")
			return "", false
		}
		return id, true
	}

	for _, cand := range candidates {
		id := cand.Engineer.EngineerID
		err := c.store.ClaimEngineer(ctx, id)
		if errors.Is(err, db.ErrEngineerUnavailable) {
			entry.WithField("engineer_id", id).Debug("Engineer claimed by another dispatch, trying next")
			c.metrics.recordClaimConflict()
			continue
		}
		if err != nil {
			entry.WithError(err).WithField("engineer_id", id).Error("Failed to claim engineer, ticket left pending")
			return "", false
		}
		if err := c.store.AssignTicket(ctx, ticket.TicketID, id); err != nil {
			entry.WithError(err).WithField("engineer_id", id).Error("Failed to assign ticket, left pending")
			if relErr := c.store.ReleaseEngineer(ctx, id); relErr != nil {
				entry.WithError(relErr).WithField("engineer_id", id).Error("Failed to release engineer")
			}
			return "", false
		}
		return id, true
	}
	entry.Warn("All candidate engineers were claimed concurrently, ticket left pending")
	return "", false
}

// UpdateStatus moves a ticket along its lifecycle on behalf of the field workflow.
func (c *Coordinator) UpdateStatus(ctx context.Context, ticketID string, status models.TicketStatus) error {
	ticket, err := c.store.FindTicketByID(ctx, ticketID)
	if err != nil {
		return err
	}
	if !ticket.Status.CanTransition(status) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, ticket.Status, status)
	}
	if status == models.TicketAssigned && !ticket.HasEngineer() {
		return fmt.Errorf("%w: assigned without engineer", ErrInvalidTransition)
	}
	if status == models.TicketResolved {
		_, err := c.resolve(ctx, ticketID)
		return err
	}
	if err := c.store.UpdateTicketStatus(ctx, ticketID, ticket.Status, status); err != nil {
		if errors.Is(err, db.ErrTicketConflict) {
			return fmt.Errorf("%w: %w", ErrInvalidTransition, err)
		}
		return err
	}
	c.log.WithFields(logrus.Fields{"ticket_id": ticketID, "from": ticket.Status, "to": status}).Info("Ticket status updated")
	return nil
}

// SubmitResolution closes the ticket and records the engineer's resolution.
// Only the caller that wins the resolve write stores a record; a ticket that
// is already resolved yields ErrInvalidTransition.
func (c *Coordinator) SubmitResolution(ctx context.Context, resolution models.Resolution) (string, error) {
	if err := models.Validate(resolution); err != nil {
		return "", err
	}
	ticket, err := c.store.FindTicketByID(ctx, resolution.TicketID)
	if err != nil {
		return "", err
	}
	if ticket.Status.IsTerminal() {
		return "", fmt.Errorf("%w: ticket %s already resolved", ErrInvalidTransition, ticket.TicketID)
	}

	if _, err := c.resolve(ctx, ticket.TicketID); err != nil {
		return "", err
	}
	resolution.ResolutionID = c.opts.NewID()
	resolution.SubmittedAt = c.opts.Now()
	if err := c.store.InsertResolution(ctx, resolution); err != nil {
		return "", fmt.Errorf("insert resolution: %w", err)
	}
	c.metrics.observeResolution(resolution.ResolutionTimeMinutes)
	c.log.WithFields(logrus.Fields{
		"ticket_id":     ticket.TicketID,
		"resolution_id": resolution.ResolutionID,
		"engineer_id":   resolution.EngineerID,
	}).Info("Resolution submitted")
	return resolution.ResolutionID, nil
}

// resolve closes the ticket and releases the engineer recorded on it at the
// moment of the write. A lost race surfaces as ErrInvalidTransition.
func (c *Coordinator) resolve(ctx context.Context, ticketID string) (*models.Ticket, error) {
	ticket, err := c.store.ResolveTicket(ctx, ticketID, c.opts.Now())
	if errors.Is(err, db.ErrTicketConflict) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTransition, err)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve ticket: %w", err)
	}
	if c.opts.ClaimEngineers && ticket.HasEngineer() {
		if err := c.store.ReleaseEngineer(ctx, *ticket.EngineerID); err != nil {
			c.log.WithError(err).WithFields(logrus.Fields{
				"ticket_id":   ticket.TicketID,
				"engineer_id": *ticket.EngineerID,
			}).Error("Failed to release engineer after resolution")
		}
	}
	return ticket, nil
}

// Tickets lists tickets newest first. An empty status lists every ticket.
func (c *Coordinator) Tickets(ctx context.Context, status models.TicketStatus) ([]models.Ticket, error) {
	if status != "" && !models.IsValidTicketStatus(status) {
		return nil, fmt.Errorf("unknown ticket status %q", status)
	}
	return c.store.FindTickets(ctx, status)
}

// SetEngineerAvailability marks an engineer on or off duty.
func (c *Coordinator) SetEngineerAvailability(ctx context.Context, engineerID string, available bool) error {
	if err := c.store.SetEngineerAvailability(ctx, engineerID, available); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"engineer_id": engineerID, "available": available}).Info("Engineer availability updated")
	return nil
}

// UpdateEngineerLocation records an engineer's reported position.
func (c *Coordinator) UpdateEngineerLocation(ctx context.Context, engineerID string, location models.Location) error {
	if err := models.Validate(location); err != nil {
		return err
	}
	if err := c.store.UpdateEngineerLocation(ctx, engineerID, location); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{
		"engineer_id": engineerID,
		"lat":         location.Lat,
		"lng":         location.Lng,
	}).Debug("Engineer location updated")
	return nil
}

// Overview counts assets and incidents for the operations dashboard.
func (c *Coordinator) Overview(ctx context.Context) (models.Overview, error) {
	var out models.Overview
	var err error
	if out.TotalATMs, err = c.store.CountATMs(ctx); err != nil {
		return out, err
	}
	if out.TotalEngineers, err = c.store.CountEngineers(ctx); err != nil {
		return out, err
	}
	if out.ActiveIncidents, err = c.store.CountTickets(ctx, models.OpenTicketStatuses...); err != nil {
		return out, err
	}
	if out.ResolvedToday, err = c.store.CountResolvedSince(ctx, c.opts.Now().Add(-24*time.Hour)); err != nil {
		return out, err
	}
	return out, nil
}
