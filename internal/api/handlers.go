package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/care-portal-scheduling/internal/appointment"
	"github.com/hackgods/care-portal-scheduling/internal/calendar"
)

func scheduleHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ScheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.Schedule(r.Context(), appointment.ScheduleRequest{
			PatientID:       req.PatientID,
			ProviderID:      req.ProviderID,
			Date:            req.Date,
			StartTime:       req.StartTime,
			Type:            req.Type,
			DurationMinutes: req.DurationMinutes,
			Priority:        req.Priority,
			Reason:          req.Reason,
			Location:        req.Location,
		})
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		appt, err := svc.Get(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func confirmHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		appt, err := svc.Confirm(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func completeHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		appt, err := svc.Complete(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		// The body, and with it the reason, is optional.
		var req CancelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.Cancel(r.Context(), id, req.Reason)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func rescheduleHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		var req RescheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.Reschedule(r.Context(), id, req.NewDate, req.NewStartTime)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

// listAppointmentsHandler serves one of three filters: patient_id,
// provider_id with from/to, or upcoming=true.
func listAppointmentsHandler(svc *appointment.Service, q *appointment.Query) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := r.URL.Query()

		var (
			list []appointment.Appointment
			err  error
		)
		switch {
		case params.Get("patient_id") != "":
			list, err = q.ByPatient(r.Context(), params.Get("patient_id"))

		case params.Get("provider_id") != "":
			from := calendar.Date(params.Get("from"))
			to := calendar.Date(params.Get("to"))
			if from == "" {
				from = calendar.DateOf(svc.Now())
			}
			if to == "" {
				to = from
			}
			list, err = q.ByProvider(r.Context(), params.Get("provider_id"), from, to)

		case params.Get("upcoming") != "":
			upcoming, perr := strconv.ParseBool(params.Get("upcoming"))
			if perr != nil || !upcoming {
				writeError(w, http.StatusBadRequest, "validation_failed", "upcoming must be true")
				return
			}
			list, err = q.Upcoming(r.Context(), svc.Now())

		default:
			writeError(w, http.StatusBadRequest, "validation_failed", "one of patient_id, provider_id or upcoming is required")
			return
		}

		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentList(list))
	}
}

func availableSlotsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date := r.URL.Query().Get("date")
		if date == "" {
			date = calendar.DateOf(svc.Now()).String()
		}

		slots, err := svc.AvailableSlots(r.Context(), chi.URLParam(r, "id"), date)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toSlotList(slots))
	}
}

func appointmentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

var statusByCode = map[string]int{
	"validation_failed":     http.StatusBadRequest,
	"past_date":             http.StatusUnprocessableEntity,
	"provider_not_found":    http.StatusNotFound,
	"provider_unavailable":  http.StatusUnprocessableEntity,
	"slot_not_on_grid":      http.StatusUnprocessableEntity,
	"slot_taken":            http.StatusConflict,
	"invalid_transition":    http.StatusConflict,
	"appointment_not_found": http.StatusNotFound,
	"slot_busy":             http.StatusServiceUnavailable,
}

func handleServiceError(w http.ResponseWriter, err error) {
	code := appointment.Code(err)
	status, ok := statusByCode[code]
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	if code == "slot_busy" {
		w.Header().Set("Retry-After", "1")
	}
	writeError(w, status, code, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
