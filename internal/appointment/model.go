package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/care-portal-scheduling/internal/calendar"
)

type Status string

const (
	StatusScheduled   Status = "scheduled"
	StatusConfirmed   Status = "confirmed"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusRescheduled Status = "rescheduled"
)

// Active reports whether an appointment in this status occupies its slot.
func (s Status) Active() bool {
	return s == StatusScheduled || s == StatusConfirmed
}

// transitions lists every legal successor. Completed, Cancelled and
// Rescheduled are terminal.
var transitions = map[Status][]Status{
	StatusScheduled: {StatusConfirmed, StatusCancelled, StatusRescheduled},
	StatusConfirmed: {StatusCompleted, StatusCancelled, StatusRescheduled},
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func ParsePriority(s string) (Priority, error) {
	switch p := Priority(s); p {
	case "":
		return PriorityNormal, nil
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown priority %q", ErrValidation, s)
	}
}

type Type string

const (
	TypeConsultation Type = "consultation"
	TypeFollowUp     Type = "follow-up"
	TypeProcedure    Type = "procedure"
	TypeLabReview    Type = "lab-review"
	TypeTelehealth   Type = "telehealth"
)

var defaultDurations = map[Type]int{
	TypeConsultation: 30,
	TypeFollowUp:     30,
	TypeProcedure:    60,
	TypeLabReview:    15,
	TypeTelehealth:   30,
}

func ParseType(s string) (Type, error) {
	t := Type(s)
	if _, ok := defaultDurations[t]; !ok {
		return "", fmt.Errorf("%w: unknown appointment type %q", ErrValidation, s)
	}
	return t, nil
}

// DefaultDuration is the length in minutes booked when a request leaves it out.
func (t Type) DefaultDuration() int {
	return defaultDurations[t]
}

// SlotKey identifies the provider-time slot an active appointment occupies.
type SlotKey struct {
	ProviderID string
	Date       calendar.Date
	StartTime  calendar.TimeOfDay
}

func (k SlotKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.ProviderID, k.Date, k.StartTime)
}

type Appointment struct {
	ID              uuid.UUID
	PatientID       string
	ProviderID      string
	Date            calendar.Date
	StartTime       calendar.TimeOfDay
	DurationMinutes int
	Type            Type
	Priority        Priority
	Reason          string
	Location        string
	Status          Status
	CancelReason    string
	Supersedes      *uuid.UUID
	SupersededBy    *uuid.UUID
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (a *Appointment) Key() SlotKey {
	return SlotKey{ProviderID: a.ProviderID, Date: a.Date, StartTime: a.StartTime}
}

func (a *Appointment) End() calendar.TimeOfDay {
	return a.StartTime.Add(a.DurationMinutes)
}

// Overlaps reports whether the appointment intersects [start, start+minutes)
// on its own day.
func (a *Appointment) Overlaps(start calendar.TimeOfDay, minutes int) bool {
	return a.StartTime < start.Add(minutes) && start < a.End()
}

// StartsAt is the appointment start in loc.
func (a *Appointment) StartsAt(loc *time.Location) time.Time {
	return a.Date.At(a.StartTime, loc)
}

func (a *Appointment) clone() *Appointment {
	c := *a
	if a.Supersedes != nil {
		id := *a.Supersedes
		c.Supersedes = &id
	}
	if a.SupersededBy != nil {
		id := *a.SupersededBy
		c.SupersededBy = &id
	}
	return &c
}

// Draft is a validated appointment waiting for a slot reservation.
type Draft struct {
	PatientID       string
	ProviderID      string
	Date            calendar.Date
	StartTime       calendar.TimeOfDay
	DurationMinutes int
	Type            Type
	Priority        Priority
	Reason          string
	Location        string
	Supersedes      *uuid.UUID
	At              time.Time
}

func (d Draft) Key() SlotKey {
	return SlotKey{ProviderID: d.ProviderID, Date: d.Date, StartTime: d.StartTime}
}

// blockedBy reports whether a keeps d from being reserved: a is active on the
// same provider-day and its interval intersects d's. The appointment d
// supersedes never blocks it.
func (d Draft) blockedBy(a *Appointment) bool {
	if !a.Status.Active() || a.ProviderID != d.ProviderID || a.Date != d.Date {
		return false
	}
	if d.Supersedes != nil && a.ID == *d.Supersedes {
		return false
	}
	return a.Overlaps(d.StartTime, d.DurationMinutes)
}

// Transition is a compare-and-swap status change. From must match the stored
// status for the change to apply.
type Transition struct {
	From         Status
	To           Status
	Reason       string
	SupersededBy *uuid.UUID
	At           time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
