package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/rs/zerolog"

	"github.com/hackgods/care-portal-scheduling/internal/app"
	"github.com/hackgods/care-portal-scheduling/internal/appointment"
	"github.com/hackgods/care-portal-scheduling/internal/calendar"
	"github.com/hackgods/care-portal-scheduling/internal/config"
	"github.com/hackgods/care-portal-scheduling/internal/directory"
	"github.com/hackgods/care-portal-scheduling/internal/logger"
)

var reasons = []string{
	"annual checkup",
	"persistent cough",
	"medication review",
	"follow-up on lab results",
	"knee pain",
	"skin rash",
	"blood pressure check",
	"vaccination",
}

var types = []string{"consultation", "follow-up", "procedure", "lab-review", "telehealth"}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "seed:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}
	if cfg.Storage != config.StoragePostgres {
		return errors.New("seed writes to postgres, set STORAGE=postgres and POSTGRES_DSN")
	}
	log := logger.New(cfg.Env).With().Str("component", "seed").Logger()

	providers := getInt("SEED_PROVIDERS", 100)
	bookings := getInt("SEED_APPOINTMENTS", 500)
	seed := uint64(getInt("SEED_RANDOM", int(time.Now().UnixNano())))

	log.Info().Int("providers", providers).Int("appointments", bookings).Uint64("seed", seed).Msg("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			log.Error().Err(err).Msg("closing backends")
		}
	}()

	f := gofakeit.New(seed)
	today := calendar.DateOf(time.Now().In(cfg.Location()))

	if err := seedProviders(ctx, log, a.Store, f, providers, today); err != nil {
		return fmt.Errorf("seed providers: %w", err)
	}
	if _, err := seedAppointments(ctx, log, a.Service, f, providers, bookings, today); err != nil {
		return fmt.Errorf("seed appointments: %w", err)
	}

	log.Info().Msg("seed complete")
	return nil
}

func seedProviders(ctx context.Context, log zerolog.Logger, store *directory.Store, f *gofakeit.Faker, count int, today calendar.Date) error {
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	for _, p := range directory.FakeProviders(f, count, today) {
		if err := store.Upsert(ctx, p); err != nil {
			return err
		}
	}
	log.Info().Int("count", count).Msg("providers seeded")
	return nil
}

// seedAppointments books through the service so every row passes the same
// checks a real request would. Rejections such as taken slots are skipped.
func seedAppointments(ctx context.Context, log zerolog.Logger, svc *appointment.Service, f *gofakeit.Faker, providers, count int, today calendar.Date) (int, error) {
	patients := make([]string, 0, count/3+1)
	for i := 0; i < cap(patients); i++ {
		patients = append(patients, f.UUID())
	}

	booked, skipped := 0, 0
	for attempt := 0; booked < count && attempt < count*4; attempt++ {
		providerID := "P" + strconv.Itoa(f.Number(1, providers))
		date := today.AddDays(f.Number(1, 30))

		slots, err := svc.AvailableSlots(ctx, providerID, date.String())
		if err != nil {
			return booked, err
		}
		if len(slots) == 0 {
			skipped++
			continue
		}
		slot := slots[f.Number(0, len(slots)-1)]

		_, err = svc.Schedule(ctx, appointment.ScheduleRequest{
			PatientID:  f.RandomString(patients),
			ProviderID: providerID,
			Date:       slot.Date.String(),
			StartTime:  slot.StartTime.String(),
			Type:       f.RandomString(types),
			Reason:     f.RandomString(reasons),
		})
		switch {
		case err == nil:
			booked++
			if booked%100 == 0 {
				log.Info().Int("booked", booked).Int("target", count).Msg("appointments seeded")
			}
		case errors.Is(err, appointment.ErrValidation), errors.Is(err, appointment.ErrSlotTaken):
			// A long procedure may not fit the tail of a shift.
			skipped++
		default:
			return booked, err
		}
	}

	log.Info().Int("booked", booked).Int("skipped", skipped).Msg("appointments seeded")
	return booked, nil
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
