package alert

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Event is an operator-facing notification produced by the batch jobs.
type Event struct {
	Kind    string                 `json:"kind"` // "alert" or "summary"
	Job     string                 `json:"job"`
	At      time.Time              `json:"at"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Publisher sends job alerts and summaries to the ops topic. With no brokers
// configured it degrades to log-only so local runs need no kafka.
type Publisher struct {
	writer *kafka.Writer
	log    *zap.Logger
}

func NewPublisher(brokers []string, topic string, log *zap.Logger) *Publisher {
	p := &Publisher{log: log}
	if len(brokers) == 0 {
		log.Info("alert publisher running without kafka brokers, log-only mode")
		return p
	}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	return p
}

func (p *Publisher) Publish(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	if p.writer == nil {
		p.log.Info("ops event",
			zap.String("kind", ev.Kind),
			zap.String("job", ev.Job),
			zap.String("message", ev.Message),
			zap.Any("details", ev.Details))
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		p.log.Error("failed to marshal ops event", zap.Error(err))
		return
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Job),
		Value: payload,
	}); err != nil {
		// Alerting is best-effort; job outcomes are already persisted.
		p.log.Error("failed to publish ops event",
			zap.String("job", ev.Job), zap.Error(err))
	}
}

func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
