// Package queue publishes transcription jobs to RabbitMQ for the external worker.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"voice-ingest/internal/config"
	"voice-ingest/internal/domain"
	"voice-ingest/internal/domain/ports/adapter"
)

var _ adapter.JobQueue = (*Producer)(nil)

// JobKind tells the worker whether this is a first run or a resubmission.
type JobKind string

const (
	JobProcess JobKind = "process"
	JobRetry   JobKind = "retry"
)

// JobMessage is the JSON body of every published job.
type JobMessage struct {
	Kind       JobKind   `json:"kind"`
	MessageID  string    `json:"messageId"`
	ProjectID  string    `json:"projectId,omitempty"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// Producer owns one connection and one channel; publishes are serialized.
type Producer struct {
	cfg config.QueueConfig
	log *zerolog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewProducer(cfg config.QueueConfig, logger *zerolog.Logger) (*Producer, error) {
	l := logger.With().Str("component", "RabbitProducer").Logger()
	p := &Producer{cfg: cfg, log: &l}
	if err := p.connect(cfg.DialRetries); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Producer) connect(retries int) error {
	conn, err := connectWithRetry(p.cfg.URL, retries, p.cfg.DialDelay, p.log)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("%w: open channel: %v", domain.ErrGatewayUnavailable, err)
	}
	for _, q := range []string{p.cfg.ProcessQueue, p.cfg.RetryQueue} {
		if _, err := ch.QueueDeclare(
			q,
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,
		); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return fmt.Errorf("%w: declare queue %s: %v", domain.ErrGatewayUnavailable, q, err)
		}
	}
	p.conn, p.ch = conn, ch
	p.log.Info().Str("process_queue", p.cfg.ProcessQueue).Str("retry_queue", p.cfg.RetryQueue).Msg("connected to rabbitmq")
	return nil
}

func connectWithRetry(url string, maxRetries int, delay time.Duration, log *zerolog.Logger) (*amqp.Connection, error) {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	var err error
	for i := 0; i < maxRetries; i++ {
		var conn *amqp.Connection
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		log.Warn().Err(err).Int("attempt", i+1).Int("max", maxRetries).Msg("rabbitmq dial failed")
		if i < maxRetries-1 {
			time.Sleep(delay)
		}
	}
	return nil, fmt.Errorf("%w: connect after %d attempts: %v", domain.ErrGatewayUnavailable, maxRetries, err)
}

func (p *Producer) EnqueueProcessing(ctx context.Context, messageID, scopeID string) error {
	return p.publish(ctx, p.cfg.ProcessQueue, JobMessage{
		Kind:       JobProcess,
		MessageID:  messageID,
		ProjectID:  scopeID,
		EnqueuedAt: time.Now().UTC(),
	})
}

func (p *Producer) Retry(ctx context.Context, messageID string) error {
	return p.publish(ctx, p.cfg.RetryQueue, JobMessage{
		Kind:       JobRetry,
		MessageID:  messageID,
		EnqueuedAt: time.Now().UTC(),
	})
}

func (p *Producer) publish(ctx context.Context, queue string, msg JobMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// A broker restart closes the channel; dial once more before giving up.
	if p.ch == nil || p.ch.IsClosed() || p.conn == nil || p.conn.IsClosed() {
		p.closeLocked()
		if err := p.connect(1); err != nil {
			return err
		}
	}

	err = p.ch.PublishWithContext(ctx,
		"",    // default exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.MessageID,
			Timestamp:    msg.EnqueuedAt,
			Type:         string(msg.Kind),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("%w: publish to %s: %v", domain.ErrGatewayUnavailable, queue, err)
	}
	p.log.Debug().Str("queue", queue).Str("message_id", msg.MessageID).Msg("job published")
	return nil
}

func (p *Producer) closeLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
	return nil
}
