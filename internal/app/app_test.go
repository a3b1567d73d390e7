package app

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/care-portal-scheduling/internal/appointment"
	"github.com/hackgods/care-portal-scheduling/internal/calendar"
	"github.com/hackgods/care-portal-scheduling/internal/config"
)

func memoryConfig() config.Config {
	return config.Config{
		Storage:         config.StorageMemory,
		LockBackend:     config.LockLocal,
		LockWait:        time.Second,
		SlotMinutes:     30,
		NotifyWorkers:   1,
		NotifyQueue:     16,
		DirectorySQLite: ":memory:",
	}
}

func TestBuild_InMemory(t *testing.T) {
	ctx := context.Background()

	a, err := Build(ctx, memoryConfig(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	assert.Nil(t, a.PgPool)
	assert.Nil(t, a.Redis)
	assert.IsType(t, &appointment.MemoryLedger{}, a.Ledger)

	providers, err := a.Store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, providers, DemoProviders)

	p, err := a.Store.Provider(ctx, "P1")
	require.NoError(t, err)

	// First bookable day for P1 after today.
	var day calendar.Date
	for d := calendar.DateOf(time.Now().UTC()).AddDays(1); ; d = d.AddDays(1) {
		if calendar.IsWorkingDay(p, d) {
			day = d
			break
		}
	}

	slots, err := a.Service.AvailableSlots(ctx, "P1", day.String())
	require.NoError(t, err)
	require.NotEmpty(t, slots)

	appt, err := a.Service.Schedule(ctx, appointment.ScheduleRequest{
		PatientID:  "pat-1",
		ProviderID: "P1",
		Date:       day.String(),
		StartTime:  slots[0].StartTime.String(),
		Type:       "lab-review",
		Reason:     "blood panel",
	})
	require.NoError(t, err)
	assert.Equal(t, p.Location, appt.Location)

	list, err := a.Query.ByPatient(ctx, "pat-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestBuild_UnknownStorage(t *testing.T) {
	cfg := memoryConfig()
	cfg.Storage = "cassandra"

	_, err := Build(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestClose_Twice(t *testing.T) {
	a, err := Build(context.Background(), memoryConfig(), zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, a.Close(context.Background()))
	assert.NoError(t, a.Close(context.Background()))
}
