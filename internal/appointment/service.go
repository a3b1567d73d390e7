package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/care-portal-scheduling/internal/calendar"
	"github.com/hackgods/care-portal-scheduling/internal/config"
	"github.com/hackgods/care-portal-scheduling/internal/lock"
	"github.com/hackgods/care-portal-scheduling/internal/metrics"
	"github.com/hackgods/care-portal-scheduling/internal/notify"
)

const (
	EventAppointmentScheduled      = "APPOINTMENT_SCHEDULED"
	EventAppointmentConfirmed      = "APPOINTMENT_CONFIRMED"
	EventAppointmentCancelled      = "APPOINTMENT_CANCELLED"
	EventAppointmentRescheduled    = "APPOINTMENT_RESCHEDULED"
	EventAppointmentCompleted      = "APPOINTMENT_COMPLETED"
	EventAppointmentOrphanReleased = "APPOINTMENT_ORPHAN_RELEASED"
)

const (
	reasonRescheduleAborted  = "reschedule aborted"
	reasonOrphanedReschedule = "orphaned reschedule"
)

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

var SystemClock Clock = ClockFunc(time.Now)

type Option func(*Service)

func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l.With().Str("component", "scheduling").Logger() }
}

type Service struct {
	ledger   Ledger
	dir      calendar.Directory
	locker   lock.Locker
	slots    calendar.Generator
	loc      *time.Location
	clock    Clock
	notifier notify.Notifier
	logger   zerolog.Logger
}

func NewService(ledger Ledger, dir calendar.Directory, locker lock.Locker, cfg config.Config, opts ...Option) *Service {
	s := &Service{
		ledger:   ledger,
		dir:      dir,
		locker:   locker,
		slots:    calendar.Generator{DefaultMinutes: cfg.SlotMinutes},
		loc:      cfg.Location(),
		clock:    SystemClock,
		notifier: notify.Nop{},
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now is the service clock in the clinic timezone.
func (s *Service) Now() time.Time {
	return s.clock.Now().In(s.loc)
}

type ScheduleRequest struct {
	PatientID       string
	ProviderID      string
	Date            string
	StartTime       string
	Type            string
	DurationMinutes int // zero means the type's default
	Priority        string
	Reason          string
	Location        string
}

// Schedule books a new appointment. Validation runs before any ledger access;
// the reservation itself happens under the slot lock so that concurrent
// requests for the same slot are decided by the ledger one at a time.
func (s *Service) Schedule(ctx context.Context, req ScheduleRequest) (appt *Appointment, err error) {
	defer s.observe("schedule", time.Now(), &err)

	draft, err := s.parseSchedule(req)
	if err != nil {
		return nil, err
	}

	now := s.Now()
	if err := s.checkNotPast(now, draft.Date, draft.StartTime); err != nil {
		return nil, err
	}

	provider, err := s.provider(ctx, draft.ProviderID)
	if err != nil {
		return nil, err
	}
	if err := s.checkSlot(provider, draft.Date, draft.StartTime, draft.DurationMinutes); err != nil {
		return nil, err
	}
	if draft.Location == "" {
		draft.Location = provider.Location
	}
	draft.At = now

	appt, err = s.reserve(ctx, draft)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, appt.ID, EventAppointmentScheduled, map[string]any{
		"patient_id":  appt.PatientID,
		"provider_id": appt.ProviderID,
		"date":        appt.Date,
		"start_time":  appt.StartTime.String(),
		"type":        appt.Type,
		"priority":    appt.Priority,
	})
	s.notify(notify.KindScheduled, appt, "")
	s.logger.Info().Str("appointment_id", appt.ID.String()).Str("slot", appt.Key().String()).Msg("appointment scheduled")

	return appt, nil
}

// Confirm moves a scheduled appointment to confirmed.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (appt *Appointment, err error) {
	defer s.observe("confirm", time.Now(), &err)

	appt, err = s.transition(ctx, id, StatusConfirmed, "")
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, appt.ID, EventAppointmentConfirmed, map[string]any{})
	s.notify(notify.KindConfirmed, appt, "")
	return appt, nil
}

// Cancel frees the slot of an active appointment and records why.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (appt *Appointment, err error) {
	defer s.observe("cancel", time.Now(), &err)

	reason = strings.TrimSpace(reason)
	appt, err = s.transition(ctx, id, StatusCancelled, reason)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, appt.ID, EventAppointmentCancelled, map[string]any{
		"reason": reason,
	})
	s.notify(notify.KindCancelled, appt, reason)
	return appt, nil
}

// Complete marks a confirmed appointment as attended.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) (appt *Appointment, err error) {
	defer s.observe("complete", time.Now(), &err)

	appt, err = s.transition(ctx, id, StatusCompleted, "")
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, appt.ID, EventAppointmentCompleted, map[string]any{})
	s.notify(notify.KindCompleted, appt, "")
	return appt, nil
}

// Reschedule moves an active appointment to a new slot and returns the new
// appointment. The new slot is reserved first; the old appointment is only
// marked Rescheduled once that succeeded. If marking fails the new
// reservation is released again. A crash between the two steps leaves an
// orphan for ReconcileOrphans.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, newDate, newStartTime string) (appt *Appointment, err error) {
	defer s.observe("reschedule", time.Now(), &err)

	date, start, err := parseDateTime(newDate, newStartTime)
	if err != nil {
		return nil, err
	}

	old, err := s.ledger.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(old.Status, StatusRescheduled) {
		return nil, fmt.Errorf("%w: cannot reschedule a %s appointment", ErrInvalidTransition, old.Status)
	}
	if old.Date == date && old.StartTime == start {
		return nil, fmt.Errorf("%w: new slot is the current slot", ErrValidation)
	}

	now := s.Now()
	if err := s.checkNotPast(now, date, start); err != nil {
		return nil, err
	}
	provider, err := s.provider(ctx, old.ProviderID)
	if err != nil {
		return nil, err
	}
	if err := s.checkSlot(provider, date, start, old.DurationMinutes); err != nil {
		return nil, err
	}

	oldID := old.ID
	next, err := s.reserve(ctx, Draft{
		PatientID:       old.PatientID,
		ProviderID:      old.ProviderID,
		Date:            date,
		StartTime:       start,
		DurationMinutes: old.DurationMinutes,
		Type:            old.Type,
		Priority:        old.Priority,
		Reason:          old.Reason,
		Location:        old.Location,
		Supersedes:      &oldID,
		At:              now,
	})
	if err != nil {
		return nil, err
	}

	nextID := next.ID
	_, err = s.ledger.TransitionStatus(ctx, old.ID, Transition{
		From:         old.Status,
		To:           StatusRescheduled,
		SupersededBy: &nextID,
		At:           now,
	})
	if err != nil {
		if relErr := s.ledger.Release(context.WithoutCancel(ctx), next.ID, reasonRescheduleAborted, now); relErr != nil {
			s.logger.Error().Err(relErr).
				Str("appointment_id", next.ID.String()).
				Msg("failed to release reservation after aborted reschedule")
		}
		return nil, fmt.Errorf("reschedule %s: %w", old.ID, err)
	}

	s.logEvent(ctx, old.ID, EventAppointmentRescheduled, map[string]any{
		"superseded_by": next.ID.String(),
		"from_date":     old.Date,
		"from_time":     old.StartTime.String(),
		"to_date":       next.Date,
		"to_time":       next.StartTime.String(),
	})
	s.notifyRescheduled(next, old.ID)
	s.logger.Info().
		Str("appointment_id", next.ID.String()).
		Str("supersedes", old.ID.String()).
		Str("slot", next.Key().String()).
		Msg("appointment rescheduled")

	return next, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.ledger.GetAppointmentByID(ctx, id)
}

// AvailableSlots returns the provider's grid for date minus active bookings.
// Past dates, and slots that already started today, are never available.
func (s *Service) AvailableSlots(ctx context.Context, providerID, date string) ([]calendar.TimeSlot, error) {
	if strings.TrimSpace(providerID) == "" {
		return nil, fmt.Errorf("%w: providerId is required", ErrValidation)
	}
	d, err := calendar.ParseDate(date)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	provider, err := s.provider(ctx, providerID)
	if err != nil {
		return nil, err
	}

	now := s.Now()
	available := []calendar.TimeSlot{}
	if d.Before(calendar.DateOf(now)) {
		return available, nil
	}

	candidates := s.slots.Slots(provider, d)
	if len(candidates) == 0 {
		return available, nil
	}

	booked, err := s.ledger.ListByProvider(ctx, provider.ID, d, d)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}

	for _, slot := range candidates {
		if occupied(booked, slot.StartTime, slot.DurationMinutes) || d.At(slot.StartTime, s.loc).Before(now) {
			continue
		}
		available = append(available, slot)
	}
	return available, nil
}

// occupied reports whether an active booking covers any part of
// [start, start+minutes).
func occupied(booked []Appointment, start calendar.TimeOfDay, minutes int) bool {
	for i := range booked {
		if booked[i].Status.Active() && booked[i].Overlaps(start, minutes) {
			return true
		}
	}
	return false
}

// ReconcileOrphans releases reservations left behind by reschedules that
// never marked their predecessor. Only orphans older than grace are touched
// so in-flight reschedules are not disturbed.
func (s *Service) ReconcileOrphans(ctx context.Context, grace time.Duration) (int, error) {
	now := s.Now()
	orphans, err := s.ledger.FindOrphans(ctx, now.Add(-grace))
	if err != nil {
		return 0, fmt.Errorf("find orphans: %w", err)
	}

	released := 0
	for _, o := range orphans {
		if err := s.ledger.Release(ctx, o.ID, reasonOrphanedReschedule, now); err != nil {
			s.logger.Error().Err(err).Str("appointment_id", o.ID.String()).Msg("failed to release orphan")
			continue
		}
		released++
		s.logEvent(ctx, o.ID, EventAppointmentOrphanReleased, map[string]any{
			"supersedes": o.Supersedes.String(),
			"slot":       o.Key().String(),
		})
		s.logger.Warn().
			Str("appointment_id", o.ID.String()).
			Str("slot", o.Key().String()).
			Msg("released orphaned reschedule reservation")
	}

	metrics.RecordOrphansReleased(released)
	return released, nil
}

// Helpers

func (s *Service) parseSchedule(req ScheduleRequest) (Draft, error) {
	patientID := strings.TrimSpace(req.PatientID)
	if patientID == "" {
		return Draft{}, fmt.Errorf("%w: patientId is required", ErrValidation)
	}
	providerID := strings.TrimSpace(req.ProviderID)
	if providerID == "" {
		return Draft{}, fmt.Errorf("%w: providerId is required", ErrValidation)
	}
	date, start, err := parseDateTime(req.Date, req.StartTime)
	if err != nil {
		return Draft{}, err
	}
	typ, err := ParseType(req.Type)
	if err != nil {
		return Draft{}, err
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return Draft{}, fmt.Errorf("%w: reason is required", ErrValidation)
	}
	priority, err := ParsePriority(req.Priority)
	if err != nil {
		return Draft{}, err
	}

	duration := req.DurationMinutes
	switch {
	case duration < 0:
		return Draft{}, fmt.Errorf("%w: durationMinutes must be positive", ErrValidation)
	case duration == 0:
		duration = typ.DefaultDuration()
	}

	return Draft{
		PatientID:       patientID,
		ProviderID:      providerID,
		Date:            date,
		StartTime:       start,
		DurationMinutes: duration,
		Type:            typ,
		Priority:        priority,
		Reason:          reason,
		Location:        strings.TrimSpace(req.Location),
	}, nil
}

func parseDateTime(date, start string) (calendar.Date, calendar.TimeOfDay, error) {
	d, err := calendar.ParseDate(date)
	if err != nil {
		return "", 0, fmt.Errorf("%w: date: %v", ErrValidation, err)
	}
	t, err := calendar.ParseTimeOfDay(start)
	if err != nil {
		return "", 0, fmt.Errorf("%w: startTime: %v", ErrValidation, err)
	}
	return d, t, nil
}

func (s *Service) checkNotPast(now time.Time, d calendar.Date, start calendar.TimeOfDay) error {
	if d.Before(calendar.DateOf(now)) {
		return fmt.Errorf("%w: %s is before %s", ErrPastDate, d, calendar.DateOf(now))
	}
	if d.At(start, s.loc).Before(now) {
		return fmt.Errorf("%w: %s %s has already started", ErrPastDate, d, start)
	}
	return nil
}

func (s *Service) provider(ctx context.Context, id string) (*calendar.Provider, error) {
	p, err := s.dir.Provider(ctx, id)
	if err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, id)
		}
		return nil, fmt.Errorf("load provider: %w", err)
	}
	return p, nil
}

func (s *Service) checkSlot(p *calendar.Provider, d calendar.Date, start calendar.TimeOfDay, duration int) error {
	if !calendar.IsWorkingDay(p, d) {
		return fmt.Errorf("%w: %s on %s", ErrProviderUnavailable, p.ID, d)
	}
	if _, ok := calendar.FindSlot(s.slots.Slots(p, d), start); !ok {
		return fmt.Errorf("%w: %s is not a %d-minute slot for %s", ErrSlotNotOnGrid, start, s.slots.Granularity(p), p.ID)
	}
	if start.Add(duration) > p.Hours.End {
		return fmt.Errorf("%w: a %d-minute appointment at %s ends after %s", ErrValidation, duration, start, p.Hours.End)
	}
	return nil
}

func (s *Service) reserve(ctx context.Context, d Draft) (*Appointment, error) {
	var created *Appointment

	err := s.locker.WithSlotLock(ctx, d.Key().String(), func(lockCtx context.Context) error {
		appt, err := s.ledger.TryReserve(lockCtx, d)
		if err != nil {
			return err
		}
		created = appt
		return nil
	})

	if err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("%w: %s", ErrSlotTaken, d.Key())
		}
		if errors.Is(err, lock.ErrLockNotAcquired) {
			return nil, s.busyOrTaken(ctx, d)
		}
		return nil, fmt.Errorf("reserve slot: %w", err)
	}

	return created, nil
}

// busyOrTaken decides what a lock timeout means for the caller. If the ledger
// already shows the interval booked, the holder won and the slot is taken.
// Otherwise the holder has not finished and the caller may retry.
func (s *Service) busyOrTaken(ctx context.Context, d Draft) error {
	booked, err := s.ledger.ListByProvider(ctx, d.ProviderID, d.Date, d.Date)
	if err != nil {
		return ErrSlotBusy
	}
	for i := range booked {
		if d.blockedBy(&booked[i]) {
			return fmt.Errorf("%w: %s", ErrSlotTaken, d.Key())
		}
	}
	return ErrSlotBusy
}

// transition applies a status change from whatever the appointment currently
// holds. The ledger rejects it if another request changed the status first.
func (s *Service) transition(ctx context.Context, id uuid.UUID, to Status, reason string) (*Appointment, error) {
	appt, err := s.ledger.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(appt.Status, to) {
		return nil, fmt.Errorf("%w: appointment is %s, cannot become %s", ErrInvalidTransition, appt.Status, to)
	}

	return s.ledger.TransitionStatus(ctx, id, Transition{
		From:   appt.Status,
		To:     to,
		Reason: reason,
		At:     s.Now(),
	})
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.clock.Now(),
	}

	if err := s.ledger.InsertEvent(context.WithoutCancel(ctx), ev); err != nil {
		s.logger.Error().Err(err).
			Str("event", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("failed to insert event log")
	}
}

func (s *Service) notify(kind notify.Kind, appt *Appointment, reason string) {
	s.notifier.Notify(notify.Event{
		Kind:          kind,
		AppointmentID: appt.ID.String(),
		PatientID:     appt.PatientID,
		ProviderID:    appt.ProviderID,
		Date:          appt.Date.String(),
		StartTime:     appt.StartTime.String(),
		Status:        string(appt.Status),
		Reason:        reason,
		OccurredAt:    appt.UpdatedAt,
	})
}

func (s *Service) notifyRescheduled(next *Appointment, previous uuid.UUID) {
	s.notifier.Notify(notify.Event{
		Kind:          notify.KindRescheduled,
		AppointmentID: next.ID.String(),
		PatientID:     next.PatientID,
		ProviderID:    next.ProviderID,
		Date:          next.Date.String(),
		StartTime:     next.StartTime.String(),
		Status:        string(next.Status),
		PreviousID:    previous.String(),
		OccurredAt:    next.CreatedAt,
	})
}

func (s *Service) observe(operation string, started time.Time, errp *error) {
	code := Code(*errp)
	metrics.RecordOperation(operation, code, started)
	if code == "internal_error" {
		s.logger.Error().Err(*errp).Str("operation", operation).Msg("scheduling operation failed")
	}
}
