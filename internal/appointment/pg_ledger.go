package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/care-portal-scheduling/internal/calendar"
)

// uniqueViolation is the SQLSTATE raised when appointments_active_slot_uidx
// rejects a second active appointment for the same slot.
const uniqueViolation = "23505"

const appointmentColumns = `id, patient_id, provider_id, date, start_time, duration_minutes, type,
	priority, reason, location, status, cancel_reason, supersedes, superseded_by, created_at, updated_at`

type PgLedger struct {
	pool *pgxpool.Pool
}

func NewPgLedger(pool *pgxpool.Pool) *PgLedger {
	return &PgLedger{pool: pool}
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a            Appointment
		date         time.Time
		startTime    string
		cancelReason *string
	)

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.ProviderID,
		&date,
		&startTime,
		&a.DurationMinutes,
		&a.Type,
		&a.Priority,
		&a.Reason,
		&a.Location,
		&a.Status,
		&cancelReason,
		&a.Supersedes,
		&a.SupersededBy,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Date = calendar.DateOf(date.UTC())
	tod, err := calendar.ParseTimeOfDay(startTime)
	if err != nil {
		return nil, fmt.Errorf("appointment %s: %w", a.ID, err)
	}
	a.StartTime = tod
	if cancelReason != nil {
		a.CancelReason = *cancelReason
	}
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	result := []Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nowIfZero(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

// Interface methods

// TryReserve runs the overlap check and the insert in one transaction holding
// an advisory lock on the provider-day, so concurrent reservations for that
// day are decided one at a time. The partial unique index still rejects a
// second active row for the same start.
func (r *PgLedger) TryReserve(ctx context.Context, d Draft) (*Appointment, error) {
	at := nowIfZero(d.At)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin reserve: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
		d.ProviderID+"/"+d.Date.String()); err != nil {
		return nil, fmt.Errorf("lock provider day: %w", err)
	}

	rows, err := tx.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
		  AND date = $2
		  AND status IN ('scheduled', 'confirmed')
	`, d.ProviderID, d.Date.Time())
	if err != nil {
		return nil, fmt.Errorf("load provider day: %w", err)
	}
	booked, err := collectAppointments(rows)
	if err != nil {
		return nil, fmt.Errorf("load provider day: %w", err)
	}
	for i := range booked {
		if d.blockedBy(&booked[i]) {
			return nil, ErrConflict
		}
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, provider_id, date, start_time, duration_minutes, type,
			priority, reason, location, status, supersedes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'scheduled', $11, $12, $12)
		RETURNING `+appointmentColumns,
		uuid.New(), d.PatientID, d.ProviderID, d.Date.Time(), d.StartTime.String(), d.DurationMinutes,
		d.Type, d.Priority, d.Reason, d.Location, d.Supersedes, at)

	appt, err := scanAppointment(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit reserve: %w", err)
	}
	return appt, nil
}

func (r *PgLedger) Release(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
		    cancel_reason = $2,
		    updated_at = $3
		WHERE id = $1
		  AND status IN ('scheduled', 'confirmed')
	`, id, nullableString(reason), nowIfZero(at))
	if err != nil {
		return fmt.Errorf("release appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Already released, or unknown.
		if _, err := r.GetAppointmentByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *PgLedger) TransitionStatus(ctx context.Context, id uuid.UUID, t Transition) (*Appointment, error) {
	if !CanTransition(t.From, t.To) {
		if _, err := r.GetAppointmentByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.From, t.To)
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    cancel_reason = COALESCE($4, cancel_reason),
		    superseded_by = COALESCE($5, superseded_by),
		    updated_at = $6
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns,
		id, t.To, t.From, nullableString(t.Reason), t.SupersededBy, nowIfZero(t.At))

	appt, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		current, getErr := r.GetAppointmentByID(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("%w: appointment is %s, expected %s", ErrInvalidTransition, current.Status, t.From)
	}
	if err != nil {
		return nil, fmt.Errorf("transition appointment: %w", err)
	}
	return appt, nil
}

func (r *PgLedger) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgLedger) ListByPatient(ctx context.Context, patientID string) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY date, start_time, created_at
	`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list by patient: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgLedger) ListByProvider(ctx context.Context, providerID string, from, to calendar.Date) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
		  AND date BETWEEN $2 AND $3
		ORDER BY date, start_time, created_at
	`, providerID, from.Time(), to.Time())
	if err != nil {
		return nil, fmt.Errorf("list by provider: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgLedger) ListActiveFrom(ctx context.Context, from calendar.Date) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status IN ('scheduled', 'confirmed')
		  AND date >= $1
		ORDER BY date, start_time, created_at
	`, from.Time())
	if err != nil {
		return nil, fmt.Errorf("list active: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgLedger) FindOrphans(ctx context.Context, cutoff time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+prefixed("n")+`
		FROM appointments n
		JOIN appointments o ON o.id = n.supersedes
		WHERE n.status IN ('scheduled', 'confirmed')
		  AND n.created_at < $1
		  AND o.status IN ('scheduled', 'confirmed')
		ORDER BY n.date, n.start_time, n.created_at
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("find orphans: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgLedger) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func prefixed(alias string) string {
	return alias + `.id, ` + alias + `.patient_id, ` + alias + `.provider_id, ` + alias + `.date, ` +
		alias + `.start_time, ` + alias + `.duration_minutes, ` + alias + `.type, ` + alias + `.priority, ` +
		alias + `.reason, ` + alias + `.location, ` + alias + `.status, ` + alias + `.cancel_reason, ` +
		alias + `.supersedes, ` + alias + `.superseded_by, ` + alias + `.created_at, ` + alias + `.updated_at`
}
