// Package ingest accepts ATM telemetry, stores it and hands detected faults to dispatch.
package ingest

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/atm-dispatch/internal/db"
	"github.com/ukydev/atm-dispatch/internal/detection"
	"github.com/ukydev/atm-dispatch/internal/models"
)

// Dispatcher opens a ticket for a detected fault.
type Dispatcher interface {
	HandleFault(ctx context.Context, atmID string, fault models.FaultType, severity models.Severity) (string, error)
}

// Result describes what one snapshot triggered.
type Result struct {
	Detected       bool
	Classification detection.Classification
	// TicketID is empty when no fault was detected or the ticket could not be stored.
	TicketID string
}

// Ingestor runs classification and dispatch for incoming snapshots.
type Ingestor struct {
	telemetry  db.TelemetryCollection
	dispatcher Dispatcher
	rules      []detection.Rule
	log        logrus.FieldLogger
	now        func() time.Time
}

// NewIngestor creates an ingestor using the default rule set.
func NewIngestor(telemetry db.TelemetryCollection, dispatcher Dispatcher, log logrus.FieldLogger) *Ingestor {
	return &Ingestor{
		telemetry:  telemetry,
		dispatcher: dispatcher,
		rules:      detection.Rules,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Ingest validates and processes one snapshot. Only a *models.ValidationError is
// ever returned; storage and dispatch failures are logged and swallowed.
func (i *Ingestor) Ingest(ctx context.Context, snapshot models.Telemetry) (Result, error) {
	if err := models.Validate(snapshot); err != nil {
		i.log.WithError(err).WithField("atm_id", snapshot.ATMID).Warn("Rejected malformed telemetry")
		return Result{}, err
	}

	now := i.now()
	if snapshot.Timestamp.IsZero() {
		snapshot.Timestamp = now
	}
	snapshot.ReceivedAt = now

	entry := i.log.WithField("atm_id", snapshot.ATMID)
	if err := i.telemetry.InsertTelemetry(ctx, snapshot); err != nil {
		entry.WithError(err).Error("Failed to store telemetry")
	}

	c, ok := detection.ClassifyWith(i.rules, &snapshot)
	if !ok {
		entry.Debug("Telemetry healthy")
		return Result{}, nil
	}
	res := Result{Detected: true, Classification: c}
	entry = entry.WithFields(logrus.Fields{"rule": c.Rule, "fault_type": c.FaultType, "severity": c.Severity})
	entry.Info("Fault detected")

	ticketID, err := i.dispatcher.HandleFault(ctx, snapshot.ATMID, c.FaultType, c.Severity)
	if err != nil {
		entry.WithError(err).Error("Dispatch failed")
		return res, nil
	}
	res.TicketID = ticketID
	return res, nil
}
