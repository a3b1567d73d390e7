package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// LogSender writes the rendered message to the log. It stands in for the
// email and SMS gateways, which live outside this service.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger.With().Str("component", "notify.log").Logger()}
}

func (s *LogSender) Send(_ context.Context, ev Event) error {
	s.logger.Info().
		Str("kind", string(ev.Kind)).
		Str("appointment_id", ev.AppointmentID).
		Str("patient_id", ev.PatientID).
		Msg(ev.Message())
	return nil
}

// RedisPublisher fans events out on a pub/sub channel so downstream
// email/SMS workers can subscribe.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Send(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", p.channel, err)
	}
	return nil
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, ev Event) error

func (f SenderFunc) Send(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}
