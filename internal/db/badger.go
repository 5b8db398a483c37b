package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/ukydev/atm-dispatch/internal/models"
)

const (
	atmPrefix        = "atm:"
	engineerPrefix   = "engineer:"
	ticketPrefix     = "ticket:"
	resolutionPrefix = "resolution:"
	telemetryPrefix  = "telemetry:"
	// open_ticket:<atm>:<fault> holds the id of the open ticket for that pair.
	openTicketPrefix = "open_ticket:"

	conflictRetries = 5
)

// BadgerStore implements Store on an embedded Badger database.
// Every write runs in a serializable transaction, so ClaimEngineer is atomic.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens a Badger database at path. An empty path opens an in-memory database.
func OpenBadger(path string) (*BadgerStore, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(filepath.Clean(path))
	}
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger.Open error: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func getJSON(txn *badger.Txn, key string, out interface{}) error {
	item, err := txn.Get([]byte(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("get %s: %w", key, ErrNotFound)
		}
		return err
	}
	return item.Value(func(v []byte) error {
		return json.Unmarshal(v, out)
	})
}

func setJSON(txn *badger.Txn, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set([]byte(key), data)
}

// scan decodes every value under prefix with fn. fn returns false to stop.
func scan(txn *badger.Txn, prefix string, fn func(raw []byte) (bool, error)) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		var cont bool
		err := it.Item().Value(func(v []byte) error {
			var err error
			cont, err = fn(v)
			return err
		})
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

// update retries fn when a concurrent transaction touched the same keys.
func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < conflictRetries; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return s.wrap(err)
		}
	}
	return s.wrap(err)
}

func (s *BadgerStore) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.wrap(s.db.View(fn))
}

func (s *BadgerStore) wrap(err error) error {
	if err != nil && errors.Is(err, badger.ErrDBClosed) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}

func (s *BadgerStore) insert(ctx context.Context, key string, v interface{}) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(key)); err == nil {
			return fmt.Errorf("insert %s: duplicate key", key)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return setJSON(txn, key, v)
	})
}

func (s *BadgerStore) count(ctx context.Context, prefix string, match func(raw []byte) (bool, error)) (int64, error) {
	var n int64
	err := s.view(ctx, func(txn *badger.Txn) error {
		return scan(txn, prefix, func(raw []byte) (bool, error) {
			ok := true
			if match != nil {
				var err error
				if ok, err = match(raw); err != nil {
					return false, err
				}
			}
			if ok {
				n++
			}
			return true, nil
		})
	})
	return n, err
}

// InsertATM inserts an ATM asset.
func (s *BadgerStore) InsertATM(ctx context.Context, atm models.ATM) error {
	if atm.RegisteredAt.IsZero() {
		atm.RegisteredAt = time.Now().UTC()
	}
	return s.insert(ctx, atmPrefix+atm.ATMID, atm)
}

// FindATMByID finds an ATM by its atm_id.
func (s *BadgerStore) FindATMByID(ctx context.Context, id string) (*models.ATM, error) {
	var atm models.ATM
	if err := s.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, atmPrefix+id, &atm)
	}); err != nil {
		return nil, err
	}
	return &atm, nil
}

// CountATMs counts all registered ATMs.
func (s *BadgerStore) CountATMs(ctx context.Context) (int64, error) {
	return s.count(ctx, atmPrefix, nil)
}

// InsertEngineer inserts an engineer asset.
func (s *BadgerStore) InsertEngineer(ctx context.Context, engineer models.Engineer) error {
	if engineer.RegisteredAt.IsZero() {
		engineer.RegisteredAt = time.Now().UTC()
	}
	return s.insert(ctx, engineerPrefix+engineer.EngineerID, engineer)
}

// FindEngineerByID finds an engineer by its engineer_id.
func (s *BadgerStore) FindEngineerByID(ctx context.Context, id string) (*models.Engineer, error) {
	var engineer models.Engineer
	if err := s.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, engineerPrefix+id, &engineer)
	}); err != nil {
		return nil, err
	}
	return &engineer, nil
}

// FindAvailableEngineers lists engineers whose available flag is set.
func (s *BadgerStore) FindAvailableEngineers(ctx context.Context) ([]models.Engineer, error) {
	engineers := []models.Engineer{}
	err := s.view(ctx, func(txn *badger.Txn) error {
		return scan(txn, engineerPrefix, func(raw []byte) (bool, error) {
			var e models.Engineer
			if err := json.Unmarshal(raw, &e); err != nil {
				return false, err
			}
			if e.Available {
				engineers = append(engineers, e)
			}
			return true, nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(engineers, func(i, j int) bool { return engineers[i].EngineerID < engineers[j].EngineerID })
	return engineers, nil
}

func (s *BadgerStore) modifyEngineer(ctx context.Context, id string, fn func(e *models.Engineer) error) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		var e models.Engineer
		if err := getJSON(txn, engineerPrefix+id, &e); err != nil {
			return err
		}
		if err := fn(&e); err != nil {
			return err
		}
		return setJSON(txn, engineerPrefix+id, e)
	})
}

// ClaimEngineer takes an available engineer inside one transaction.
func (s *BadgerStore) ClaimEngineer(ctx context.Context, id string) error {
	return s.modifyEngineer(ctx, id, func(e *models.Engineer) error {
		if !e.Available {
			return fmt.Errorf("claim engineer %s: %w", id, ErrEngineerUnavailable)
		}
		e.Available = false
		e.CurrentWorkload++
		return nil
	})
}

// ReleaseEngineer hands an engineer back to the available pool.
func (s *BadgerStore) ReleaseEngineer(ctx context.Context, id string) error {
	return s.modifyEngineer(ctx, id, func(e *models.Engineer) error {
		e.Available = true
		if e.CurrentWorkload > 0 {
			e.CurrentWorkload--
		}
		return nil
	})
}

// SetEngineerAvailability sets the available flag.
func (s *BadgerStore) SetEngineerAvailability(ctx context.Context, id string, available bool) error {
	return s.modifyEngineer(ctx, id, func(e *models.Engineer) error {
		e.Available = available
		return nil
	})
}

// UpdateEngineerLocation moves an engineer.
func (s *BadgerStore) UpdateEngineerLocation(ctx context.Context, id string, location models.Location) error {
	return s.modifyEngineer(ctx, id, func(e *models.Engineer) error {
		e.Location = location
		return nil
	})
}

// CountEngineers counts all registered engineers.
func (s *BadgerStore) CountEngineers(ctx context.Context) (int64, error) {
	return s.count(ctx, engineerPrefix, nil)
}

// InsertTicket inserts a dispatch ticket.
func (s *BadgerStore) InsertTicket(ctx context.Context, ticket models.Ticket) error {
	return s.insert(ctx, ticketPrefix+ticket.TicketID, ticket)
}

// FindTicketByID finds a ticket by its ticket_id.
func (s *BadgerStore) FindTicketByID(ctx context.Context, id string) (*models.Ticket, error) {
	var ticket models.Ticket
	if err := s.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, ticketPrefix+id, &ticket)
	}); err != nil {
		return nil, err
	}
	return &ticket, nil
}

// FindOpenTicket finds the oldest open ticket for an ATM and fault type.
func (s *BadgerStore) FindOpenTicket(ctx context.Context, atmID string, fault models.FaultType) (*models.Ticket, error) {
	var found *models.Ticket
	err := s.view(ctx, func(txn *badger.Txn) error {
		return scan(txn, ticketPrefix, func(raw []byte) (bool, error) {
			var t models.Ticket
			if err := json.Unmarshal(raw, &t); err != nil {
				return false, err
			}
			if t.ATMID == atmID && t.FaultType == fault && t.Status.IsOpen() {
				if found == nil || t.CreatedAt.Before(found.CreatedAt) {
					found = &t
				}
			}
			return true, nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("find open ticket: %w", ErrNotFound)
	}
	return found, nil
}

func openTicketKey(atmID string, fault models.FaultType) string {
	return openTicketPrefix + atmID + ":" + string(fault)
}

// findOpenInTxn returns the open ticket for the pair, preferring the
// open_ticket key and falling back to a scan for tickets inserted without it.
// indexed is true when the key already points at the returned ticket.
func findOpenInTxn(txn *badger.Txn, atmID string, fault models.FaultType) (open *models.Ticket, indexed bool, err error) {
	var openID string
	err = getJSON(txn, openTicketKey(atmID, fault), &openID)
	if err == nil {
		var t models.Ticket
		err = getJSON(txn, ticketPrefix+openID, &t)
		if err == nil && t.Status.IsOpen() {
			return &t, true, nil
		}
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	var found *models.Ticket
	err = scan(txn, ticketPrefix, func(raw []byte) (bool, error) {
		var t models.Ticket
		if err := json.Unmarshal(raw, &t); err != nil {
			return false, err
		}
		if t.ATMID == atmID && t.FaultType == fault && t.Status.IsOpen() {
			if found == nil || t.CreatedAt.Before(found.CreatedAt) {
				found = &t
			}
		}
		return true, nil
	})
	return found, false, err
}

// InsertTicketUnlessOpen inserts the ticket unless the ATM already has an open
// ticket for the fault. Concurrent callers serialize on the open_ticket key.
func (s *BadgerStore) InsertTicketUnlessOpen(ctx context.Context, ticket models.Ticket) (*models.Ticket, error) {
	var existing *models.Ticket
	err := s.update(ctx, func(txn *badger.Txn) error {
		key := openTicketKey(ticket.ATMID, ticket.FaultType)
		open, indexed, err := findOpenInTxn(txn, ticket.ATMID, ticket.FaultType)
		if err != nil {
			return err
		}
		existing = open
		if open != nil {
			if indexed {
				return nil
			}
			return setJSON(txn, key, open.TicketID)
		}
		if _, err := txn.Get([]byte(ticketPrefix + ticket.TicketID)); err == nil {
			return fmt.Errorf("insert %s%s: duplicate key", ticketPrefix, ticket.TicketID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := setJSON(txn, ticketPrefix+ticket.TicketID, ticket); err != nil {
			return err
		}
		return setJSON(txn, key, ticket.TicketID)
	})
	if err != nil {
		return nil, err
	}
	return existing, nil
}

// FindTickets lists tickets newest first, optionally filtered by status.
func (s *BadgerStore) FindTickets(ctx context.Context, status models.TicketStatus) ([]models.Ticket, error) {
	tickets := []models.Ticket{}
	err := s.view(ctx, func(txn *badger.Txn) error {
		return scan(txn, ticketPrefix, func(raw []byte) (bool, error) {
			var t models.Ticket
			if err := json.Unmarshal(raw, &t); err != nil {
				return false, err
			}
			if status == "" || t.Status == status {
				tickets = append(tickets, t)
			}
			return true, nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(tickets, func(i, j int) bool {
		if !tickets[i].CreatedAt.Equal(tickets[j].CreatedAt) {
			return tickets[i].CreatedAt.After(tickets[j].CreatedAt)
		}
		return tickets[i].TicketID < tickets[j].TicketID
	})
	return tickets, nil
}

func (s *BadgerStore) modifyTicket(ctx context.Context, id string, fn func(t *models.Ticket) error) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		var t models.Ticket
		if err := getJSON(txn, ticketPrefix+id, &t); err != nil {
			return err
		}
		if err := fn(&t); err != nil {
			return err
		}
		return setJSON(txn, ticketPrefix+id, t)
	})
}

// AssignTicket attaches an engineer to a pending ticket.
func (s *BadgerStore) AssignTicket(ctx context.Context, id, engineerID string) error {
	return s.modifyTicket(ctx, id, func(t *models.Ticket) error {
		if t.Status != models.TicketPending {
			return fmt.Errorf("assign ticket %s in status %s: %w", id, t.Status, ErrNotFound)
		}
		t.EngineerID = &engineerID
		t.Status = models.TicketAssigned
		return nil
	})
}

// UpdateTicketStatus moves a ticket from one status to another inside one transaction.
func (s *BadgerStore) UpdateTicketStatus(ctx context.Context, id string, from, to models.TicketStatus) error {
	return s.modifyTicket(ctx, id, func(t *models.Ticket) error {
		if t.Status != from {
			return fmt.Errorf("update ticket %s: status is %s, not %s: %w", id, t.Status, from, ErrTicketConflict)
		}
		t.Status = to
		return nil
	})
}

// ResolveTicket resolves a ticket inside one transaction, so only one caller wins.
func (s *BadgerStore) ResolveTicket(ctx context.Context, id string, resolvedAt time.Time) (*models.Ticket, error) {
	var before models.Ticket
	err := s.update(ctx, func(txn *badger.Txn) error {
		var t models.Ticket
		if err := getJSON(txn, ticketPrefix+id, &t); err != nil {
			return err
		}
		if t.Status.IsTerminal() {
			return fmt.Errorf("resolve ticket %s: %w", id, ErrTicketConflict)
		}
		before = t
		t.Status = models.TicketResolved
		t.ResolvedAt = &resolvedAt
		if err := setJSON(txn, ticketPrefix+id, t); err != nil {
			return err
		}

		key := openTicketKey(t.ATMID, t.FaultType)
		var openID string
		switch err := getJSON(txn, key, &openID); {
		case errors.Is(err, ErrNotFound):
			return nil
		case err != nil:
			return err
		case openID == id:
			return txn.Delete([]byte(key))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &before, nil
}

// CountTickets counts tickets in any of the given statuses, or all tickets when none are given.
func (s *BadgerStore) CountTickets(ctx context.Context, statuses ...models.TicketStatus) (int64, error) {
	if len(statuses) == 0 {
		return s.count(ctx, ticketPrefix, nil)
	}
	want := make(map[models.TicketStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	return s.count(ctx, ticketPrefix, func(raw []byte) (bool, error) {
		var t models.Ticket
		if err := json.Unmarshal(raw, &t); err != nil {
			return false, err
		}
		return want[t.Status], nil
	})
}

// CountResolvedSince counts tickets resolved at or after since.
func (s *BadgerStore) CountResolvedSince(ctx context.Context, since time.Time) (int64, error) {
	return s.count(ctx, ticketPrefix, func(raw []byte) (bool, error) {
		var t models.Ticket
		if err := json.Unmarshal(raw, &t); err != nil {
			return false, err
		}
		return t.ResolvedAt != nil && !t.ResolvedAt.Before(since), nil
	})
}

// InsertResolution inserts a resolution record.
func (s *BadgerStore) InsertResolution(ctx context.Context, resolution models.Resolution) error {
	return s.insert(ctx, resolutionPrefix+resolution.ResolutionID, resolution)
}

func telemetryKey(t models.Telemetry) string {
	return fmt.Sprintf("%s%s:%020d:%s", telemetryPrefix, t.ATMID, t.Timestamp.UnixNano(), uuid.NewString())
}

// InsertTelemetry appends a telemetry snapshot. Keys sort by ATM then
// timestamp; the uuid suffix keeps snapshots with equal timestamps apart.
func (s *BadgerStore) InsertTelemetry(ctx context.Context, telemetry models.Telemetry) error {
	return s.insert(ctx, telemetryKey(telemetry), telemetry)
}


// Ping reports whether the database is open.
func (s *BadgerStore) Ping(ctx context.Context) error {
	if s.db == nil || s.db.IsClosed() {
		return ErrStoreUnavailable
	}
	return ctx.Err()
}

// Close closes the database.
func (s *BadgerStore) Close(context.Context) error {
	return s.db.Close()
}
