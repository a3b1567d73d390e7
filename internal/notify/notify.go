// Package notify delivers appointment notifications off the request path.
// Delivery failures are logged and counted, never reported to the caller that
// triggered them.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/care-portal-scheduling/internal/metrics"
)

type Kind string

const (
	KindScheduled   Kind = "appointment.scheduled"
	KindConfirmed   Kind = "appointment.confirmed"
	KindCancelled   Kind = "appointment.cancelled"
	KindRescheduled Kind = "appointment.rescheduled"
	KindCompleted   Kind = "appointment.completed"
)

type Event struct {
	Kind          Kind      `json:"kind"`
	AppointmentID string    `json:"appointmentId"`
	PatientID     string    `json:"patientId"`
	ProviderID    string    `json:"providerId"`
	Date          string    `json:"date"`
	StartTime     string    `json:"startTime"`
	Status        string    `json:"status"`
	Reason        string    `json:"reason,omitempty"`
	PreviousID    string    `json:"previousId,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// Message renders the human readable text a patient would receive.
func (e Event) Message() string {
	switch e.Kind {
	case KindScheduled:
		return fmt.Sprintf("Your appointment with %s is booked for %s at %s.", e.ProviderID, e.Date, e.StartTime)
	case KindConfirmed:
		return fmt.Sprintf("Your appointment on %s at %s is confirmed.", e.Date, e.StartTime)
	case KindCancelled:
		if e.Reason != "" {
			return fmt.Sprintf("Your appointment on %s at %s was cancelled: %s.", e.Date, e.StartTime, e.Reason)
		}
		return fmt.Sprintf("Your appointment on %s at %s was cancelled.", e.Date, e.StartTime)
	case KindRescheduled:
		return fmt.Sprintf("Your appointment was moved to %s at %s.", e.Date, e.StartTime)
	case KindCompleted:
		return fmt.Sprintf("Thank you for visiting on %s.", e.Date)
	default:
		return string(e.Kind)
	}
}

// Notifier accepts events without blocking on delivery.
type Notifier interface {
	Notify(ev Event)
}

// Sender performs the actual delivery of one event.
type Sender interface {
	Send(ctx context.Context, ev Event) error
}

type Nop struct{}

func (Nop) Notify(Event) {}

var ErrClosed = errors.New("dispatcher closed")

type Options struct {
	Workers     int
	QueueSize   int
	SendTimeout time.Duration
}

// Dispatcher is a Notifier backed by a bounded queue and a fixed worker pool.
// When the queue is full the event is dropped rather than stalling the caller.
type Dispatcher struct {
	senders []Sender
	logger  zerolog.Logger
	timeout time.Duration

	queue chan Event
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(logger zerolog.Logger, opts Options, senders ...Sender) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 5 * time.Second
	}

	d := &Dispatcher{
		senders: senders,
		logger:  logger.With().Str("component", "notify").Logger(),
		timeout: opts.SendTimeout,
		queue:   make(chan Event, opts.QueueSize),
	}
	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

func (d *Dispatcher) Notify(ev Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warn().Str("kind", string(ev.Kind)).Str("appointment_id", ev.AppointmentID).
			Msg("notification after shutdown dropped")
		metrics.RecordNotification(string(ev.Kind), "dropped")
		return
	}

	select {
	case d.queue <- ev:
	default:
		d.logger.Warn().Str("kind", string(ev.Kind)).Str("appointment_id", ev.AppointmentID).
			Msg("notification queue full, dropping event")
		metrics.RecordNotification(string(ev.Kind), "dropped")
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for ev := range d.queue {
		d.deliver(ev)
	}
}

func (d *Dispatcher) deliver(ev Event) {
	for _, s := range d.senders {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := s.Send(ctx, ev)
		cancel()

		if err != nil {
			d.logger.Error().Err(err).
				Str("kind", string(ev.Kind)).
				Str("appointment_id", ev.AppointmentID).
				Msg("notification delivery failed")
			metrics.RecordNotification(string(ev.Kind), "failed")
			continue
		}
		metrics.RecordNotification(string(ev.Kind), "sent")
	}
}

// Close stops accepting events and waits for queued ones to drain, or for ctx.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
