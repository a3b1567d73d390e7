package directory

import (
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/hackgods/care-portal-scheduling/internal/calendar"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

var shifts = []calendar.WorkingHours{
	{Start: calendar.MustTimeOfDay("08:00"), End: calendar.MustTimeOfDay("12:00")},
	{Start: calendar.MustTimeOfDay("09:00"), End: calendar.MustTimeOfDay("17:00")},
	{Start: calendar.MustTimeOfDay("12:30"), End: calendar.MustTimeOfDay("18:30")},
}

// FakeProviders generates count providers with ids P1..Pn. Every provider
// works at least three weekdays and has a few blocked dates within 60 days of
// from.
func FakeProviders(f *gofakeit.Faker, count int, from calendar.Date) []calendar.Provider {
	out := make([]calendar.Provider, 0, count)
	for i := 1; i <= count; i++ {
		shift := shifts[f.Number(0, len(shifts)-1)]

		days := []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}
		f.ShuffleAnySlice(days)
		days = days[:f.Number(3, 5)]

		var blocked []calendar.Date
		for j := f.Number(0, 3); j > 0; j-- {
			blocked = append(blocked, from.AddDays(f.Number(1, 60)))
		}

		slotMinutes := 0
		if f.Number(1, 4) == 1 {
			slotMinutes = f.RandomInt([]int{15, 20, 60})
		}

		out = append(out, calendar.Provider{
			ID:           fmt.Sprintf("P%d", i),
			Name:         "Dr. " + f.Name(),
			Specialty:    f.RandomString(specialties),
			Location:     f.City() + " Clinic",
			Hours:        calendar.WorkingHours{Start: shift.Start, End: shift.End, Days: days},
			BlockedDates: blocked,
			SlotMinutes:  slotMinutes,
		})
	}
	return out
}
