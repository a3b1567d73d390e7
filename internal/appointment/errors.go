package appointment

import (
	"errors"

	"github.com/hackgods/care-portal-scheduling/internal/calendar"
	"github.com/hackgods/care-portal-scheduling/internal/lock"
)

// Every rejected operation wraps exactly one of these so callers can tell
// them apart with errors.Is.
var (
	ErrValidation          = errors.New("validation failed")
	ErrProviderNotFound    = calendar.ErrProviderNotFound
	ErrProviderUnavailable = errors.New("provider is not available on this date")
	ErrSlotNotOnGrid       = errors.New("requested time is not on the provider's slot grid")
	ErrSlotTaken           = errors.New("slot is no longer available")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrPastDate            = errors.New("requested time is in the past")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrSlotBusy            = errors.New("slot is currently being booked, please retry")
)

// Code returns a stable machine-readable name for err, used by the HTTP layer
// and as a metrics label.
func Code(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation_failed"
	case errors.Is(err, ErrPastDate):
		return "past_date"
	case errors.Is(err, ErrProviderNotFound):
		return "provider_not_found"
	case errors.Is(err, ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, ErrSlotNotOnGrid):
		return "slot_not_on_grid"
	case errors.Is(err, ErrSlotTaken), errors.Is(err, ErrConflict):
		return "slot_taken"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrAppointmentNotFound):
		return "appointment_not_found"
	case errors.Is(err, ErrSlotBusy), errors.Is(err, lock.ErrLockNotAcquired):
		return "slot_busy"
	default:
		return "internal_error"
	}
}
