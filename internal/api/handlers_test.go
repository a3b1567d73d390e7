package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/care-portal-scheduling/internal/appointment"
	"github.com/hackgods/care-portal-scheduling/internal/calendar"
	"github.com/hackgods/care-portal-scheduling/internal/config"
	"github.com/hackgods/care-portal-scheduling/internal/lock"
)

var fridayMorning = time.Date(2025, 3, 7, 8, 0, 0, 0, time.UTC)

type busyLocker struct{}

func (busyLocker) WithSlotLock(context.Context, string, func(ctx context.Context) error) error {
	return lock.ErrLockNotAcquired
}

func newTestServer(t *testing.T, locker lock.Locker) *httptest.Server {
	t.Helper()

	if locker == nil {
		locker = lock.NewKeyedLocker(time.Second)
	}
	dir := calendar.NewStaticDirectory(calendar.Provider{
		ID:       "P1",
		Name:     "Dr. Ada Byrne",
		Location: "Clinic A",
		Hours: calendar.WorkingHours{
			Start: calendar.MustTimeOfDay("09:00"),
			End:   calendar.MustTimeOfDay("12:00"),
			Days:  []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		},
	})

	ledger := appointment.NewMemoryLedger()
	svc := appointment.NewService(ledger, dir, locker, config.Config{SlotMinutes: 30},
		appointment.WithClock(appointment.ClockFunc(func() time.Time { return fridayMorning })),
		appointment.WithLogger(zerolog.Nop()),
	)

	srv := httptest.NewServer(NewRouter(RouterConfig{
		Service: svc,
		Query:   appointment.NewQuery(ledger, time.UTC),
		Logger:  zerolog.Nop(),
		Env:     "test",
		Version: "test",
	}))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func scheduleBody(patient, date, start string) ScheduleRequest {
	return ScheduleRequest{
		PatientID:  patient,
		ProviderID: "P1",
		Date:       date,
		StartTime:  start,
		Type:       "consultation",
		Reason:     "persistent cough",
	}
}

func scheduleOK(t *testing.T, srv *httptest.Server, patient, date, start string) AppointmentResponse {
	t.Helper()
	resp := do(t, srv, http.MethodPost, "/appointments", scheduleBody(patient, date, start))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[AppointmentResponse](t, resp)
}

func TestSchedule_Created(t *testing.T) {
	srv := newTestServer(t, nil)

	appt := scheduleOK(t, srv, "pat-1", "2025-03-10", "09:30")
	assert.Equal(t, "scheduled", appt.Status)
	assert.Equal(t, "2025-03-10", appt.Date)
	assert.Equal(t, "09:30", appt.StartTime)
	assert.Equal(t, 30, appt.DurationMinutes)
	assert.Equal(t, "normal", appt.Priority)
	assert.Equal(t, "Clinic A", appt.Location)

	resp := do(t, srv, http.MethodGet, "/appointments/"+appt.ID.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[AppointmentResponse](t, resp)
	assert.Equal(t, appt.ID, got.ID)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestSchedule_ErrorStatuses(t *testing.T) {
	srv := newTestServer(t, nil)
	scheduleOK(t, srv, "pat-1", "2025-03-10", "09:00")

	unknown := scheduleBody("pat-2", "2025-03-10", "09:00")
	unknown.ProviderID = "P9"
	missingReason := scheduleBody("pat-2", "2025-03-10", "10:00")
	missingReason.Reason = ""

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"bad json", "{", http.StatusBadRequest, "invalid_request_body"},
		{"missing reason", missingReason, http.StatusBadRequest, "validation_failed"},
		{"past date", scheduleBody("pat-2", "2025-03-06", "09:00"), http.StatusUnprocessableEntity, "past_date"},
		{"unknown provider", unknown, http.StatusNotFound, "provider_not_found"},
		{"weekend", scheduleBody("pat-2", "2025-03-08", "09:00"), http.StatusUnprocessableEntity, "provider_unavailable"},
		{"off grid", scheduleBody("pat-2", "2025-03-10", "09:10"), http.StatusUnprocessableEntity, "slot_not_on_grid"},
		{"taken", scheduleBody("pat-2", "2025-03-10", "09:00"), http.StatusConflict, "slot_taken"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, srv, http.MethodPost, "/appointments", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, decode[ErrorResponse](t, resp).Error)
		})
	}
}

func TestSchedule_LockBusy(t *testing.T) {
	srv := newTestServer(t, busyLocker{})

	resp := do(t, srv, http.MethodPost, "/appointments", scheduleBody("pat-1", "2025-03-10", "09:00"))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
	assert.Equal(t, "slot_busy", decode[ErrorResponse](t, resp).Error)
}

func TestLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)
	appt := scheduleOK(t, srv, "pat-1", "2025-03-10", "10:00")
	base := "/appointments/" + appt.ID.String()

	resp := do(t, srv, http.MethodPost, base+"/confirm", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "confirmed", decode[AppointmentResponse](t, resp).Status)

	resp = do(t, srv, http.MethodPost, base+"/complete", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", decode[AppointmentResponse](t, resp).Status)

	resp = do(t, srv, http.MethodPost, base+"/cancel", CancelRequest{Reason: "too late"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "invalid_transition", decode[ErrorResponse](t, resp).Error)
}

func TestCancel_WithoutBody(t *testing.T) {
	srv := newTestServer(t, nil)
	appt := scheduleOK(t, srv, "pat-1", "2025-03-10", "10:00")

	resp := do(t, srv, http.MethodPost, "/appointments/"+appt.ID.String()+"/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "cancelled", decode[AppointmentResponse](t, resp).Status)

	// The slot is free again.
	scheduleOK(t, srv, "pat-2", "2025-03-10", "10:00")
}

func TestReschedule(t *testing.T) {
	srv := newTestServer(t, nil)
	appt := scheduleOK(t, srv, "pat-1", "2025-03-10", "10:00")

	resp := do(t, srv, http.MethodPost, "/appointments/"+appt.ID.String()+"/reschedule",
		RescheduleRequest{NewDate: "2025-03-12", NewStartTime: "11:00"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	next := decode[AppointmentResponse](t, resp)
	assert.Equal(t, "scheduled", next.Status)
	assert.Equal(t, "2025-03-12", next.Date)
	require.NotNil(t, next.Supersedes)
	assert.Equal(t, appt.ID, *next.Supersedes)

	resp = do(t, srv, http.MethodGet, "/appointments/"+appt.ID.String(), nil)
	old := decode[AppointmentResponse](t, resp)
	assert.Equal(t, "rescheduled", old.Status)
	require.NotNil(t, old.SupersededBy)
	assert.Equal(t, next.ID, *old.SupersededBy)
}

func TestAppointmentID(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := do(t, srv, http.MethodGet, "/appointments/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, srv, http.MethodPost, "/appointments/7f1b6c2e-8a5d-4c1e-9a3f-2b6d8e4f1a90/confirm", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "appointment_not_found", decode[ErrorResponse](t, resp).Error)
}

func TestListAppointments(t *testing.T) {
	srv := newTestServer(t, nil)
	scheduleOK(t, srv, "pat-1", "2025-03-12", "09:00")
	scheduleOK(t, srv, "pat-1", "2025-03-10", "11:00")
	scheduleOK(t, srv, "pat-2", "2025-03-10", "09:00")

	resp := do(t, srv, http.MethodGet, "/appointments?patient_id=pat-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	byPatient := decode[[]AppointmentResponse](t, resp)
	require.Len(t, byPatient, 2)
	assert.Equal(t, "2025-03-10", byPatient[0].Date)
	assert.Equal(t, "2025-03-12", byPatient[1].Date)

	resp = do(t, srv, http.MethodGet, "/appointments?provider_id=P1&from=2025-03-10&to=2025-03-10", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	byProvider := decode[[]AppointmentResponse](t, resp)
	require.Len(t, byProvider, 2)
	assert.Equal(t, "09:00", byProvider[0].StartTime)
	assert.Equal(t, "11:00", byProvider[1].StartTime)

	resp = do(t, srv, http.MethodGet, "/appointments?upcoming=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]AppointmentResponse](t, resp), 3)

	resp = do(t, srv, http.MethodGet, "/appointments?patient_id=nobody", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "[]", strings.TrimSpace(readBody(t, resp)))

	resp = do(t, srv, http.MethodGet, "/appointments?provider_id=P1&from=2025-03-12&to=2025-03-10", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, "/appointments", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAvailableSlots(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := do(t, srv, http.MethodGet, "/providers/P1/slots?date=2025-03-10", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]SlotResponse](t, resp), 6)

	scheduleOK(t, srv, "pat-1", "2025-03-10", "09:30")

	resp = do(t, srv, http.MethodGet, "/providers/P1/slots?date=2025-03-10", nil)
	slots := decode[[]SlotResponse](t, resp)
	require.Len(t, slots, 5)
	for _, s := range slots {
		assert.NotEqual(t, "09:30", s.StartTime)
	}

	resp = do(t, srv, http.MethodGet, "/providers/P1/slots?date=2025-03-08", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "[]", strings.TrimSpace(readBody(t, resp)))

	resp = do(t, srv, http.MethodGet, "/providers/P9/slots?date=2025-03-10", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := do(t, srv, http.MethodGet, "/health/live", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode[LivenessResponse](t, resp).Status)

	resp = do(t, srv, http.MethodGet, "/health/ready", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ready := decode[ReadinessResponse](t, resp)
	assert.Equal(t, "ok", ready.Status)
	assert.Equal(t, map[string]string{"postgres": "skipped", "redis": "skipped"}, ready.Dependencies)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)
	scheduleOK(t, srv, "pat-1", "2025-03-10", "09:00")

	resp := do(t, srv, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := readBody(t, resp)
	assert.Contains(t, body, "scheduling_operations_total")
	assert.Contains(t, body, `status_code="201"`)
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return buf.String()
}
