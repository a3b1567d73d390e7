package calendar

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var weekdays = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}

func morningProvider() *Provider {
	return &Provider{
		ID:   "P1",
		Name: "Dr. Rivera",
		Hours: WorkingHours{
			Start: MustTimeOfDay("09:00"),
			End:   MustTimeOfDay("12:00"),
			Days:  weekdays,
		},
	}
}

func startTimes(slots []TimeSlot) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.StartTime.String())
	}
	return out
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-03-10")
	require.NoError(t, err)
	assert.Equal(t, Date("2025-03-10"), d)
	assert.Equal(t, time.Monday, d.Weekday())

	_, err = ParseDate("2025-02-30")
	assert.ErrorIs(t, err, ErrInvalidDate)

	_, err = ParseDate("10/03/2025")
	assert.ErrorIs(t, err, ErrInvalidDate)
}

func TestDate_AddDaysAndBefore(t *testing.T) {
	d := Date("2025-02-28")
	assert.Equal(t, Date("2025-03-01"), d.AddDays(1))
	assert.True(t, d.Before(d.AddDays(1)))
	assert.False(t, d.Before(d))
}

func TestParseTimeOfDay(t *testing.T) {
	tod, err := ParseTimeOfDay("09:30")
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay(570), tod)
	assert.Equal(t, "09:30", tod.String())

	for _, bad := range []string{"9:30", "24:00", "12:60", "noon", ""} {
		_, err := ParseTimeOfDay(bad)
		assert.ErrorIs(t, err, ErrInvalidTimeOfDay, bad)
	}
}

func TestTimeOfDay_TextRoundTrip(t *testing.T) {
	var tod TimeOfDay
	require.NoError(t, tod.UnmarshalText([]byte("17:45")))
	b, err := tod.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "17:45", string(b))
}

func TestIsWorkingDay(t *testing.T) {
	p := morningProvider()
	p.BlockedDates = []Date{"2025-03-12"}

	assert.True(t, IsWorkingDay(p, "2025-03-10"), "monday")
	assert.False(t, IsWorkingDay(p, "2025-03-08"), "saturday")
	assert.False(t, IsWorkingDay(p, "2025-03-12"), "blocked wednesday")
	assert.False(t, IsWorkingDay(p, "not-a-date"))
	assert.False(t, IsWorkingDay(nil, "2025-03-10"))
}

func TestGenerateSlots_MorningShift(t *testing.T) {
	slots := GenerateSlots(morningProvider(), "2025-03-10")

	assert.Equal(t, []string{"09:00", "09:30", "10:00", "10:30", "11:00", "11:30"}, startTimes(slots))
	for _, s := range slots {
		assert.Equal(t, "P1", s.ProviderID)
		assert.Equal(t, Date("2025-03-10"), s.Date)
		assert.Equal(t, 30, s.DurationMinutes)
	}
}

func TestGenerateSlots_Deterministic(t *testing.T) {
	p := morningProvider()
	first := GenerateSlots(p, "2025-03-11")
	second := GenerateSlots(p, "2025-03-11")
	assert.Equal(t, first, second)
}

func TestGenerateSlots_NonWorkingDayIsEmpty(t *testing.T) {
	slots := GenerateSlots(morningProvider(), "2025-03-09")
	require.NotNil(t, slots)
	assert.Empty(t, slots)
}

func TestGenerateSlots_DropsPartialTail(t *testing.T) {
	p := morningProvider()
	p.Hours.End = MustTimeOfDay("10:45")

	slots := GenerateSlots(p, "2025-03-10")
	assert.Equal(t, []string{"09:00", "09:30", "10:00"}, startTimes(slots))
	assert.LessOrEqual(t, int(slots[len(slots)-1].End()), int(p.Hours.End))
}

func TestGenerator_ProviderGranularityWins(t *testing.T) {
	p := morningProvider()
	p.SlotMinutes = 60

	g := Generator{DefaultMinutes: 15}
	assert.Equal(t, []string{"09:00", "10:00", "11:00"}, startTimes(g.Slots(p, "2025-03-10")))

	p.SlotMinutes = 0
	assert.Len(t, g.Slots(p, "2025-03-10"), 12)
}

func TestFindSlot(t *testing.T) {
	slots := GenerateSlots(morningProvider(), "2025-03-10")

	s, ok := FindSlot(slots, MustTimeOfDay("10:30"))
	require.True(t, ok)
	assert.Equal(t, "10:30", s.StartTime.String())

	_, ok = FindSlot(slots, MustTimeOfDay("10:15"))
	assert.False(t, ok)
}

func TestStaticDirectory(t *testing.T) {
	dir := NewStaticDirectory(*morningProvider())

	p, err := dir.Provider(context.Background(), "P1")
	require.NoError(t, err)
	p.Hours.Days[0] = time.Sunday

	again, err := dir.Provider(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, time.Monday, again.Hours.Days[0], "returned provider must be a copy")

	_, err = dir.Provider(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrProviderNotFound)
	assert.Equal(t, []string{"P1"}, dir.IDs())
}
