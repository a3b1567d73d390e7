package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/hackgods/care-portal-scheduling/internal/logger"
)

type SimConfig struct {
	APIBaseURL      string
	Duration        time.Duration
	Workers         int
	BookingRatio    float64
	ConfirmRatio    float64
	CancelRatio     float64
	RescheduleRatio float64
	ReadRatio       float64
	Providers       []string
	HotSlots        int
	Patients        int
}

type slot struct {
	ProviderID string `json:"providerId"`
	Date       string `json:"date"`
	StartTime  string `json:"startTime"`
}

type appointmentResp struct {
	ID         uuid.UUID `json:"id"`
	PatientID  string    `json:"patientId"`
	ProviderID string    `json:"providerId"`
	Date       string    `json:"date"`
	StartTime  string    `json:"startTime"`
	Status     string    `json:"status"`
}

// DataPool holds the contended slots every worker races for.
type DataPool struct {
	Patients     []string
	Slots        []slot
	mu           sync.RWMutex
	appointments []uuid.UUID // Thread-safe list of created appointment IDs
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Booking       OperationMetrics
	Confirm       OperationMetrics
	Cancel        OperationMetrics
	Reschedule    OperationMetrics
	ReadByID      OperationMetrics
	ListByPatient OperationMetrics
	Slots         OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     zerolog.Logger
}

func main() {
	_ = godotenv.Load()
	log := logger.New(getEnv("APP_ENV", "dev")).With().Str("component", "simulate").Logger()

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	log.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Strs("providers", cfg.Providers).
		Int("hot_slots", cfg.HotSlots).
		Msg("simulator starting")

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	pool, err := sim.loadDataPool(ctx)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("load data pool")
	}
	sim.pool = pool
	log.Info().Int("patients", len(pool.Patients)).Int("slots", len(pool.Slots)).Msg("data pool loaded")

	sim.Run()
	sim.PrintReport()

	violations, err := sim.VerifyNoDoubleBooking(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("verification failed to run")
	}
	if violations > 0 {
		log.Error().Int("violations", violations).Msg("double booking detected")
		os.Exit(1)
	}
	log.Info().Msg("no slot holds more than one active appointment")
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:      strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Duration:        getDuration("SIM_DURATION", 30*time.Second),
		Workers:         getInt("SIM_WORKERS", 32),
		BookingRatio:    getFloat("SIM_BOOKING_RATIO", 0.5),
		ConfirmRatio:    getFloat("SIM_CONFIRM_RATIO", 0.1),
		CancelRatio:     getFloat("SIM_CANCEL_RATIO", 0.1),
		RescheduleRatio: getFloat("SIM_RESCHEDULE_RATIO", 0.1),
		ReadRatio:       getFloat("SIM_READ_RATIO", 0.2),
		Providers:       strings.Split(getEnv("SIM_PROVIDERS", "P1,P2,P3"), ","),
		HotSlots:        getInt("SIM_HOT_SLOTS", 12),
		Patients:        getInt("SIM_PATIENTS", 200),
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.ConfirmRatio + cfg.CancelRatio + cfg.RescheduleRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.ConfirmRatio /= total
		cfg.CancelRatio /= total
		cfg.RescheduleRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.HotSlots <= 0 {
		return fmt.Errorf("SIM_HOT_SLOTS must be > 0")
	}
	if cfg.Patients <= 0 {
		return fmt.Errorf("SIM_PATIENTS must be > 0")
	}
	return nil
}

// loadDataPool picks a small set of open slots so that workers collide on
// them constantly.
func (s *Simulator) loadDataPool(ctx context.Context) (*DataPool, error) {
	pool := &DataPool{}
	for i := 0; i < s.config.Patients; i++ {
		pool.Patients = append(pool.Patients, "sim-patient-"+strconv.Itoa(i))
	}

	tomorrow := time.Now().AddDate(0, 0, 1)
	for _, providerID := range s.config.Providers {
		for day := 0; day < 14; day++ {
			date := tomorrow.AddDate(0, 0, day).Format("2006-01-02")
			var slots []slot
			status, err := s.getJSON(ctx, fmt.Sprintf("/providers/%s/slots?date=%s", url.PathEscape(providerID), date), &slots)
			if err != nil {
				return nil, err
			}
			if status != http.StatusOK {
				return nil, fmt.Errorf("slots for %s: status %d", providerID, status)
			}
			if len(slots) > 0 {
				pool.Slots = append(pool.Slots, slots...)
				break
			}
		}
	}

	if len(pool.Slots) == 0 {
		return nil, fmt.Errorf("no open slots found for providers %v", s.config.Providers)
	}
	rand.Shuffle(len(pool.Slots), func(i, j int) { pool.Slots[i], pool.Slots[j] = pool.Slots[j], pool.Slots[i] })
	if len(pool.Slots) > s.config.HotSlots {
		pool.Slots = pool.Slots[:s.config.HotSlots]
	}
	return pool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	c := s.config
	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < c.BookingRatio:
			s.doBooking(ctx, rng)
		case r < c.BookingRatio+c.ConfirmRatio:
			s.doTransition(ctx, rng, "confirm", nil, &s.metrics.Confirm)
		case r < c.BookingRatio+c.ConfirmRatio+c.CancelRatio:
			s.doTransition(ctx, rng, "cancel", map[string]string{"reason": "simulated cancellation"}, &s.metrics.Cancel)
		case r < c.BookingRatio+c.ConfirmRatio+c.CancelRatio+c.RescheduleRatio:
			target := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
			s.doTransition(ctx, rng, "reschedule",
				map[string]string{"newDate": target.Date, "newStartTime": target.StartTime}, &s.metrics.Reschedule)
		default:
			switch rng.Intn(3) {
			case 0:
				s.doReadByID(ctx, rng)
			case 1:
				s.doListByPatient(ctx, rng)
			case 2:
				s.doSlots(ctx, rng)
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	target := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	body := map[string]string{
		"patientId":  s.pool.Patients[rng.Intn(len(s.pool.Patients))],
		"providerId": target.ProviderID,
		"date":       target.Date,
		"startTime":  target.StartTime,
		"type":       "consultation",
		"reason":     "simulated visit",
	}

	start := time.Now()
	var appt appointmentResp
	status, err := s.postJSON(ctx, "/appointments", body, &appt)
	latency := time.Since(start)

	success := err == nil && status == http.StatusCreated
	if success && appt.ID != uuid.Nil {
		s.pool.AddAppointment(appt.ID)
	}
	s.metrics.Booking.Record(latency, success, isContention(status))
}

func (s *Simulator) doTransition(ctx context.Context, rng *rand.Rand, action string, body any, om *OperationMetrics) {
	id, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	var appt appointmentResp
	status, err := s.postJSON(ctx, fmt.Sprintf("/appointments/%s/%s", id, action), body, &appt)
	latency := time.Since(start)

	success := err == nil && status == http.StatusOK
	if success && action == "reschedule" && appt.ID != uuid.Nil {
		s.pool.AddAppointment(appt.ID)
	}
	om.Record(latency, success, isContention(status))
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, err := s.getJSON(ctx, "/appointments/"+id.String(), nil)
	s.metrics.ReadByID.Record(time.Since(start), err == nil && status == http.StatusOK, false)
}

func (s *Simulator) doListByPatient(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	start := time.Now()
	status, err := s.getJSON(ctx, "/appointments?patient_id="+url.QueryEscape(patientID), nil)
	s.metrics.ListByPatient.Record(time.Since(start), err == nil && status == http.StatusOK, false)
}

func (s *Simulator) doSlots(ctx context.Context, rng *rand.Rand) {
	target := s.pool.Slots[rng.Intn(len(s.pool.Slots))]

	start := time.Now()
	status, err := s.getJSON(ctx, fmt.Sprintf("/providers/%s/slots?date=%s", url.PathEscape(target.ProviderID), target.Date), nil)
	s.metrics.Slots.Record(time.Since(start), err == nil && status == http.StatusOK, false)
}

// VerifyNoDoubleBooking lists every contended provider-day and counts slots
// holding more than one active appointment.
func (s *Simulator) VerifyNoDoubleBooking(ctx context.Context) (int, error) {
	type day struct{ provider, date string }
	days := make(map[day]bool)
	for _, sl := range s.pool.Slots {
		days[day{sl.ProviderID, sl.Date}] = true
	}

	violations := 0
	for d := range days {
		var list []appointmentResp
		path := fmt.Sprintf("/appointments?provider_id=%s&from=%s&to=%s", url.QueryEscape(d.provider), d.date, d.date)
		status, err := s.getJSON(ctx, path, &list)
		if err != nil {
			return 0, err
		}
		if status != http.StatusOK {
			return 0, fmt.Errorf("list %s %s: status %d", d.provider, d.date, status)
		}

		active := make(map[string][]uuid.UUID)
		for _, a := range list {
			if a.Status == "scheduled" || a.Status == "confirmed" {
				active[a.StartTime] = append(active[a.StartTime], a.ID)
			}
		}
		for start, ids := range active {
			if len(ids) > 1 {
				violations++
				s.log.Error().
					Str("provider_id", d.provider).
					Str("date", d.date).
					Str("start_time", start).
					Interface("appointment_ids", ids).
					Msg("slot has more than one active appointment")
			}
		}
	}
	return violations, nil
}

// isContention reports responses that mean another client won the slot.
func isContention(status int) bool {
	return status == http.StatusConflict || status == http.StatusServiceUnavailable
}

func (s *Simulator) getJSON(ctx context.Context, path string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.APIBaseURL+path, nil)
	if err != nil {
		return 0, err
	}
	return s.do(req, out)
}

func (s *Simulator) postJSON(ctx context.Context, path string, body, out any) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	return s.do(req, out)
}

func (s *Simulator) do(req *http.Request, out any) (int, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Contended slots: %d\n", len(s.pool.Slots))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Confirm", &s.metrics.Confirm)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Reschedule", &s.metrics.Reschedule)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List by Patient", &s.metrics.ListByPatient)
	printOperationReport("Available slots", &s.metrics.Slots)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
