package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuery(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	seed := []Draft{
		draftAt("pat-1", "P1", "2025-03-10", "09:00"),
		draftAt("pat-1", "P1", "2025-03-10", "11:00"),
		draftAt("pat-2", "P1", "2025-03-11", "09:00"),
		draftAt("pat-2", "P2", "2025-03-12", "10:00"),
	}
	var ids []Appointment
	for _, d := range seed {
		a, err := l.TryReserve(ctx, d)
		require.NoError(t, err)
		ids = append(ids, *a)
	}
	_, err := l.TransitionStatus(ctx, ids[2].ID, Transition{From: StatusScheduled, To: StatusCancelled})
	require.NoError(t, err)

	q := NewQuery(l, time.UTC)

	t.Run("by patient", func(t *testing.T) {
		list, err := q.ByPatient(ctx, "pat-2")
		require.NoError(t, err)
		assert.Equal(t, []string{"2025-03-11 09:00", "2025-03-12 10:00"}, slotLabels(list))

		_, err = q.ByPatient(ctx, "")
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("by provider", func(t *testing.T) {
		list, err := q.ByProvider(ctx, "P1", "2025-03-10", "2025-03-10")
		require.NoError(t, err)
		assert.Len(t, list, 2)

		list, err = q.ByProvider(ctx, "P1", "2025-03-10", "2025-03-31")
		require.NoError(t, err)
		assert.Len(t, list, 3, "cancelled appointments stay visible")

		_, err = q.ByProvider(ctx, "P1", "2025-03-12", "2025-03-10")
		assert.ErrorIs(t, err, ErrValidation)
		_, err = q.ByProvider(ctx, "P1", "2025-3-1", "2025-03-10")
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("upcoming", func(t *testing.T) {
		now := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
		list, err := q.Upcoming(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, []string{"2025-03-10 11:00", "2025-03-12 10:00"}, slotLabels(list))

		list, err = q.Upcoming(ctx, time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Len(t, list, 3, "an appointment starting now is still upcoming")
	})
}
