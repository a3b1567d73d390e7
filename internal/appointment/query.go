package appointment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hackgods/care-portal-scheduling/internal/calendar"
)

// Query is the read-only view over the ledger. Every call reads the ledger
// directly; nothing is cached.
type Query struct {
	ledger Ledger
	loc    *time.Location
}

func NewQuery(ledger Ledger, loc *time.Location) *Query {
	if loc == nil {
		loc = time.UTC
	}
	return &Query{ledger: ledger, loc: loc}
}

func (q *Query) ByPatient(ctx context.Context, patientID string) ([]Appointment, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, fmt.Errorf("%w: patientId is required", ErrValidation)
	}
	return q.ledger.ListByPatient(ctx, patientID)
}

// ByProvider returns the provider's appointments dated from..to inclusive.
func (q *Query) ByProvider(ctx context.Context, providerID string, from, to calendar.Date) ([]Appointment, error) {
	if strings.TrimSpace(providerID) == "" {
		return nil, fmt.Errorf("%w: providerId is required", ErrValidation)
	}
	if !from.Valid() || !to.Valid() {
		return nil, fmt.Errorf("%w: from and to must be ISO dates", ErrValidation)
	}
	if to.Before(from) {
		return nil, fmt.Errorf("%w: to %s is before from %s", ErrValidation, to, from)
	}
	return q.ledger.ListByProvider(ctx, providerID, from, to)
}

// Upcoming returns active appointments starting at or after now.
func (q *Query) Upcoming(ctx context.Context, now time.Time) ([]Appointment, error) {
	now = now.In(q.loc)
	active, err := q.ledger.ListActiveFrom(ctx, calendar.DateOf(now))
	if err != nil {
		return nil, err
	}

	result := active[:0]
	for _, a := range active {
		if !a.StartsAt(q.loc).Before(now) {
			result = append(result, a)
		}
	}
	return result, nil
}
