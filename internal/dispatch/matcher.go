package dispatch

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/atm-dispatch/internal/db"
	"github.com/ukydev/atm-dispatch/internal/geo"
	"github.com/ukydev/atm-dispatch/internal/models"
)

// Candidate is an available engineer scored against one ATM.
type Candidate struct {
	Engineer   models.Engineer
	DistanceKm float64
	Bonus      float64
	Weighted   float64
}

// Matcher ranks available engineers for a faulted ATM. It never writes.
type Matcher struct {
	atms      db.ATMCollection
	engineers db.EngineerCollection
	log       logrus.FieldLogger
}

// NewMatcher creates a matcher over the given asset collections.
func NewMatcher(atms db.ATMCollection, engineers db.EngineerCollection, log logrus.FieldLogger) *Matcher {
	return &Matcher{atms: atms, engineers: engineers, log: log}
}

// Rank scores every available engineer as distance minus skill bonus and
// orders them by ascending weighted distance, then engineer_id.
func (m *Matcher) Rank(ctx context.Context, atmID string, fault models.FaultType) ([]Candidate, error) {
	atm, err := m.atms.FindATMByID(ctx, atmID)
	if err != nil {
		return nil, fmt.Errorf("lookup atm %s: %w", atmID, err)
	}
	engineers, err := m.engineers.FindAvailableEngineers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list available engineers: %w", err)
	}

	candidates := make([]Candidate, 0, len(engineers))
	for _, e := range engineers {
		// The store query filters on availability; re-check against stale indexes.
		if !e.Available {
			continue
		}
		distance := geo.Distance(atm.Location.Lat, atm.Location.Lng, e.Location.Lat, e.Location.Lng)
		bonus := SkillPriority(e.SkillLevel, fault)
		candidates = append(candidates, Candidate{
			Engineer:   e,
			DistanceKm: distance,
			Bonus:      bonus,
			Weighted:   distance - bonus,
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Weighted != candidates[j].Weighted {
			return candidates[i].Weighted < candidates[j].Weighted
		}
		return candidates[i].Engineer.EngineerID < candidates[j].Engineer.EngineerID
	})
	return candidates, nil
}

// FindNearest returns the best ranked engineer for the ATM. ok is false when
// nobody is available or the lookup failed; err carries the failure.
func (m *Matcher) FindNearest(ctx context.Context, atmID string, fault models.FaultType) (engineerID string, ok bool, err error) {
	candidates, err := m.Rank(ctx, atmID, fault)
	if err != nil {
		return "", false, err
	}
	if len(candidates) == 0 {
		return "", false, nil
	}
	best := candidates[0]
	m.log.WithFields(logrus.Fields{
		"atm_id":      atmID,
		"fault_type":  fault,
		"engineer_id": best.Engineer.EngineerID,
		"distance_km": best.DistanceKm,
		"weighted":    best.Weighted,
	}).Debug("Nearest engineer selected")
	return best.Engineer.EngineerID, true, nil
}
