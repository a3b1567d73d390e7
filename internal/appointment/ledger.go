package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/care-portal-scheduling/internal/calendar"
)

// ErrConflict is returned by TryReserve when an active appointment already
// holds the slot or overlaps the requested interval.
var ErrConflict = errors.New("slot already reserved")

// Ledger is the authoritative appointment store. Implementations guarantee
// that the intervals of a provider's active appointments never overlap, even
// under concurrent TryReserve calls.
type Ledger interface {
	// TryReserve persists d as a Scheduled appointment, or returns ErrConflict
	// without side effects if the slot is occupied.
	TryReserve(ctx context.Context, d Draft) (*Appointment, error)
	// Release moves an active appointment to Cancelled. Releasing an
	// appointment that is no longer active is a no-op.
	Release(ctx context.Context, id uuid.UUID, reason string, at time.Time) error
	// TransitionStatus applies t atomically. It fails with ErrInvalidTransition
	// if the stored status is not t.From or t.To is not a legal successor.
	TransitionStatus(ctx context.Context, id uuid.UUID, t Transition) (*Appointment, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListByPatient(ctx context.Context, patientID string) ([]Appointment, error)
	// ListByProvider returns appointments with from <= date <= to.
	ListByProvider(ctx context.Context, providerID string, from, to calendar.Date) ([]Appointment, error)
	// ListActiveFrom returns active appointments dated on or after from.
	ListActiveFrom(ctx context.Context, from calendar.Date) ([]Appointment, error)

	// FindOrphans returns active appointments created before cutoff that
	// supersede an appointment which is still active, i.e. reschedules that
	// never completed their second step.
	FindOrphans(ctx context.Context, cutoff time.Time) ([]Appointment, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
