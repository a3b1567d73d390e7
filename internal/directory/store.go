// Package directory persists provider calendars and serves them to the
// scheduling core as a calendar.Directory.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hackgods/care-portal-scheduling/internal/calendar"
)

// ProviderRecord is the providers table row. Weekdays and blocked dates are
// JSON arrays.
type ProviderRecord struct {
	ID           string `gorm:"type:varchar(64);primaryKey"`
	Name         string `gorm:"type:varchar(255);not null"`
	Specialty    string `gorm:"type:varchar(255)"`
	Location     string `gorm:"type:varchar(255)"`
	StartTime    string `gorm:"type:varchar(5);not null"`
	EndTime      string `gorm:"type:varchar(5);not null"`
	Weekdays     datatypes.JSON
	BlockedDates datatypes.JSON
	SlotMinutes  int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (ProviderRecord) TableName() string { return "providers" }

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&ProviderRecord{})
}

// Provider implements calendar.Directory.
func (s *Store) Provider(ctx context.Context, id string) (*calendar.Provider, error) {
	var rec ProviderRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, calendar.ErrProviderNotFound
		}
		return nil, fmt.Errorf("load provider %s: %w", id, err)
	}
	return fromRecord(rec)
}

// Upsert inserts p or replaces every column of an existing row.
func (s *Store) Upsert(ctx context.Context, p calendar.Provider) error {
	rec, err := toRecord(p)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "specialty", "location", "start_time", "end_time", "weekdays", "blocked_dates", "slot_minutes", "updated_at"}),
		}).
		Create(&rec).Error
}

func (s *Store) List(ctx context.Context) ([]calendar.Provider, error) {
	var recs []ProviderRecord
	if err := s.db.WithContext(ctx).Order("id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}

	out := make([]calendar.Provider, 0, len(recs))
	for _, rec := range recs {
		p, err := fromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, nil
}

func toRecord(p calendar.Provider) (ProviderRecord, error) {
	if p.ID == "" {
		return ProviderRecord{}, errors.New("provider id is required")
	}
	if p.Hours.End <= p.Hours.Start {
		return ProviderRecord{}, fmt.Errorf("provider %s: working hours end %s is not after start %s", p.ID, p.Hours.End, p.Hours.Start)
	}

	days := make([]int, 0, len(p.Hours.Days))
	for _, d := range p.Hours.Days {
		days = append(days, int(d))
	}
	sort.Ints(days)
	weekdays, err := json.Marshal(days)
	if err != nil {
		return ProviderRecord{}, err
	}

	blocked := make([]string, 0, len(p.BlockedDates))
	for _, d := range p.BlockedDates {
		if !d.Valid() {
			return ProviderRecord{}, fmt.Errorf("provider %s: %w: %q", p.ID, calendar.ErrInvalidDate, d)
		}
		blocked = append(blocked, d.String())
	}
	blockedJSON, err := json.Marshal(blocked)
	if err != nil {
		return ProviderRecord{}, err
	}

	return ProviderRecord{
		ID:           p.ID,
		Name:         p.Name,
		Specialty:    p.Specialty,
		Location:     p.Location,
		StartTime:    p.Hours.Start.String(),
		EndTime:      p.Hours.End.String(),
		Weekdays:     datatypes.JSON(weekdays),
		BlockedDates: datatypes.JSON(blockedJSON),
		SlotMinutes:  p.SlotMinutes,
	}, nil
}

func fromRecord(rec ProviderRecord) (*calendar.Provider, error) {
	start, err := calendar.ParseTimeOfDay(rec.StartTime)
	if err != nil {
		return nil, fmt.Errorf("provider %s start: %w", rec.ID, err)
	}
	end, err := calendar.ParseTimeOfDay(rec.EndTime)
	if err != nil {
		return nil, fmt.Errorf("provider %s end: %w", rec.ID, err)
	}

	var days []int
	if len(rec.Weekdays) > 0 {
		if err := json.Unmarshal(rec.Weekdays, &days); err != nil {
			return nil, fmt.Errorf("provider %s weekdays: %w", rec.ID, err)
		}
	}
	var blocked []calendar.Date
	if len(rec.BlockedDates) > 0 {
		if err := json.Unmarshal(rec.BlockedDates, &blocked); err != nil {
			return nil, fmt.Errorf("provider %s blocked dates: %w", rec.ID, err)
		}
	}

	p := &calendar.Provider{
		ID:           rec.ID,
		Name:         rec.Name,
		Specialty:    rec.Specialty,
		Location:     rec.Location,
		Hours:        calendar.WorkingHours{Start: start, End: end},
		BlockedDates: blocked,
		SlotMinutes:  rec.SlotMinutes,
	}
	for _, d := range days {
		p.Hours.Days = append(p.Hours.Days, time.Weekday(d))
	}
	return p, nil
}
