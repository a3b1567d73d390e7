package calendar

// TimeSlot is a candidate booking time derived from a provider's working hours.
// Slots are never stored on their own.
type TimeSlot struct {
	ProviderID      string    `json:"providerId"`
	Date            Date      `json:"date"`
	StartTime       TimeOfDay `json:"startTime"`
	DurationMinutes int       `json:"durationMinutes"`
}

// End returns the time of day the slot finishes.
func (s TimeSlot) End() TimeOfDay {
	return s.StartTime.Add(s.DurationMinutes)
}

// Generator walks working hours on a fixed grid.
type Generator struct {
	// DefaultMinutes applies to providers without their own SlotMinutes.
	DefaultMinutes int
}

// Granularity returns the grid step for p.
func (g Generator) Granularity(p *Provider) int {
	if p != nil && p.SlotMinutes > 0 {
		return p.SlotMinutes
	}
	if g.DefaultMinutes > 0 {
		return g.DefaultMinutes
	}
	return DefaultSlotMinutes
}

// Slots returns the chronological candidate slots for p on d. The last slot
// ends at or before WorkingHours.End; a shorter tail is dropped. Non-working
// days yield an empty, non-nil slice.
func (g Generator) Slots(p *Provider, d Date) []TimeSlot {
	slots := []TimeSlot{}
	if !IsWorkingDay(p, d) {
		return slots
	}

	step := g.Granularity(p)
	for cur := p.Hours.Start; cur.Add(step) <= p.Hours.End; cur = cur.Add(step) {
		slots = append(slots, TimeSlot{
			ProviderID:      p.ID,
			Date:            d,
			StartTime:       cur,
			DurationMinutes: step,
		})
	}
	return slots
}

// GenerateSlots is Generator.Slots with the default grid.
func GenerateSlots(p *Provider, d Date) []TimeSlot {
	return Generator{DefaultMinutes: DefaultSlotMinutes}.Slots(p, d)
}

// FindSlot returns the slot starting at t, if any.
func FindSlot(slots []TimeSlot, t TimeOfDay) (TimeSlot, bool) {
	for _, s := range slots {
		if s.StartTime == t {
			return s, true
		}
	}
	return TimeSlot{}, false
}
