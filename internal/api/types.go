package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/care-portal-scheduling/internal/appointment"
	"github.com/hackgods/care-portal-scheduling/internal/calendar"
)

type ScheduleRequest struct {
	PatientID       string `json:"patientId"`
	ProviderID      string `json:"providerId"`
	Date            string `json:"date"`
	StartTime       string `json:"startTime"`
	Type            string `json:"type"`
	DurationMinutes int    `json:"durationMinutes,omitempty"`
	Priority        string `json:"priority,omitempty"`
	Reason          string `json:"reason"`
	Location        string `json:"location,omitempty"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type RescheduleRequest struct {
	NewDate      string `json:"newDate"`
	NewStartTime string `json:"newStartTime"`
}

type AppointmentResponse struct {
	ID              uuid.UUID  `json:"id"`
	PatientID       string     `json:"patientId"`
	ProviderID      string     `json:"providerId"`
	Date            string     `json:"date"`
	StartTime       string     `json:"startTime"`
	DurationMinutes int        `json:"durationMinutes"`
	Type            string     `json:"type"`
	Priority        string     `json:"priority"`
	Reason          string     `json:"reason"`
	Location        string     `json:"location"`
	Status          string     `json:"status"`
	CancelReason    string     `json:"cancelReason,omitempty"`
	Supersedes      *uuid.UUID `json:"supersedes,omitempty"`
	SupersededBy    *uuid.UUID `json:"supersededBy,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

type SlotResponse struct {
	ProviderID      string `json:"providerId"`
	Date            string `json:"date"`
	StartTime       string `json:"startTime"`
	DurationMinutes int    `json:"durationMinutes"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		PatientID:       a.PatientID,
		ProviderID:      a.ProviderID,
		Date:            a.Date.String(),
		StartTime:       a.StartTime.String(),
		DurationMinutes: a.DurationMinutes,
		Type:            string(a.Type),
		Priority:        string(a.Priority),
		Reason:          a.Reason,
		Location:        a.Location,
		Status:          string(a.Status),
		CancelReason:    a.CancelReason,
		Supersedes:      a.Supersedes,
		SupersededBy:    a.SupersededBy,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

func toAppointmentList(list []appointment.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(list))
	for i := range list {
		out = append(out, toAppointmentResponse(&list[i]))
	}
	return out
}

func toSlotList(slots []calendar.TimeSlot) []SlotResponse {
	out := make([]SlotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, SlotResponse{
			ProviderID:      s.ProviderID,
			Date:            s.Date.String(),
			StartTime:       s.StartTime.String(),
			DurationMinutes: s.DurationMinutes,
		})
	}
	return out
}
