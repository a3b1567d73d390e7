package appointment

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/care-portal-scheduling/internal/calendar"
)

// MemoryLedger is a process-local Ledger. The active index maps each occupied
// slot to its appointment, so the occupancy check and the insert happen under
// one lock acquisition.
type MemoryLedger struct {
	mu           sync.RWMutex
	appointments map[uuid.UUID]*Appointment
	active       map[SlotKey]uuid.UUID
	events       []EventLog
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		appointments: make(map[uuid.UUID]*Appointment),
		active:       make(map[SlotKey]uuid.UUID),
	}
}

func (l *MemoryLedger) TryReserve(_ context.Context, d Draft) (*Appointment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := d.Key()
	if _, taken := l.active[key]; taken {
		return nil, ErrConflict
	}
	for _, id := range l.active {
		if d.blockedBy(l.appointments[id]) {
			return nil, ErrConflict
		}
	}

	at := d.At
	if at.IsZero() {
		at = time.Now()
	}
	appt := &Appointment{
		ID:              uuid.New(),
		PatientID:       d.PatientID,
		ProviderID:      d.ProviderID,
		Date:            d.Date,
		StartTime:       d.StartTime,
		DurationMinutes: d.DurationMinutes,
		Type:            d.Type,
		Priority:        d.Priority,
		Reason:          d.Reason,
		Location:        d.Location,
		Status:          StatusScheduled,
		Supersedes:      d.Supersedes,
		CreatedAt:       at,
		UpdatedAt:       at,
	}
	l.appointments[appt.ID] = appt
	l.active[key] = appt.ID

	return appt.clone(), nil
}

func (l *MemoryLedger) Release(_ context.Context, id uuid.UUID, reason string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	appt, ok := l.appointments[id]
	if !ok {
		return ErrAppointmentNotFound
	}
	if !appt.Status.Active() {
		return nil
	}
	l.setStatus(appt, StatusCancelled, at)
	appt.CancelReason = reason
	return nil
}

func (l *MemoryLedger) TransitionStatus(_ context.Context, id uuid.UUID, t Transition) (*Appointment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	appt, ok := l.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if appt.Status != t.From {
		return nil, fmt.Errorf("%w: appointment is %s, expected %s", ErrInvalidTransition, appt.Status, t.From)
	}
	if !CanTransition(t.From, t.To) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.From, t.To)
	}

	l.setStatus(appt, t.To, t.At)
	if t.Reason != "" {
		appt.CancelReason = t.Reason
	}
	if t.SupersededBy != nil {
		next := *t.SupersededBy
		appt.SupersededBy = &next
	}
	return appt.clone(), nil
}

// setStatus keeps the active index in step with the status. Callers hold mu.
func (l *MemoryLedger) setStatus(appt *Appointment, to Status, at time.Time) {
	if at.IsZero() {
		at = time.Now()
	}
	if appt.Status.Active() && !to.Active() {
		if l.active[appt.Key()] == appt.ID {
			delete(l.active, appt.Key())
		}
	}
	appt.Status = to
	appt.UpdatedAt = at
}

func (l *MemoryLedger) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	appt, ok := l.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return appt.clone(), nil
}

func (l *MemoryLedger) ListByPatient(_ context.Context, patientID string) ([]Appointment, error) {
	return l.filter(func(a *Appointment) bool {
		return a.PatientID == patientID
	}), nil
}

func (l *MemoryLedger) ListByProvider(_ context.Context, providerID string, from, to calendar.Date) ([]Appointment, error) {
	return l.filter(func(a *Appointment) bool {
		return a.ProviderID == providerID && !a.Date.Before(from) && !to.Before(a.Date)
	}), nil
}

func (l *MemoryLedger) ListActiveFrom(_ context.Context, from calendar.Date) ([]Appointment, error) {
	return l.filter(func(a *Appointment) bool {
		return a.Status.Active() && !a.Date.Before(from)
	}), nil
}

func (l *MemoryLedger) FindOrphans(_ context.Context, cutoff time.Time) ([]Appointment, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var result []Appointment
	for _, a := range l.appointments {
		if !a.Status.Active() || a.Supersedes == nil || !a.CreatedAt.Before(cutoff) {
			continue
		}
		prev, ok := l.appointments[*a.Supersedes]
		if ok && prev.Status.Active() {
			result = append(result, *a.clone())
		}
	}
	sortChronological(result)
	return result, nil
}

func (l *MemoryLedger) InsertEvent(_ context.Context, ev EventLog) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ev.ID = int64(len(l.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	l.events = append(l.events, ev)
	return nil
}

// Events returns a copy of the audit log in insertion order.
func (l *MemoryLedger) Events() []EventLog {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]EventLog(nil), l.events...)
}

func (l *MemoryLedger) filter(keep func(a *Appointment) bool) []Appointment {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := []Appointment{}
	for _, a := range l.appointments {
		if keep(a) {
			result = append(result, *a.clone())
		}
	}
	sortChronological(result)
	return result
}

func sortChronological(list []Appointment) {
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
}
