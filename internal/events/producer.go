package events

import (
	"context"
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	TypeMessageSent    = "message.sent"
	TypeMessageUpdated = "message.updated"
	TypeMessageDeleted = "message.deleted"
)

// ChatEvent is the record published for downstream consumers (notification
// pipeline, offline push). Keyed by conversation ID so one conversation's
// events stay in partition order.
type ChatEvent struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	SenderID       string    `json:"sender_id"`
	Recipients     []string  `json:"recipients"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Producer is a best-effort sink: publish errors are logged and swallowed so
// a broker outage never fails a chat mutation.
type Producer struct {
	writer *kafkago.Writer
	log    *zap.SugaredLogger
}

func NewProducer(brokers []string, topic string, log *zap.SugaredLogger) *Producer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireOne,
		Async:        true,
	}
	return &Producer{writer: w, log: log}
}

func (p *Producer) Publish(ctx context.Context, ev ChatEvent) {
	if p == nil || p.writer == nil {
		return
	}
	ev.OccurredAt = time.Now().UTC()
	b, err := json.Marshal(ev)
	if err != nil {
		p.log.Warnw("marshal chat event", "type", ev.Type, "err", err)
		return
	}
	msg := kafkago.Message{
		Key:   []byte(ev.ConversationID),
		Value: b,
		Time:  ev.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Warnw("publish chat event", "type", ev.Type, "err", err)
	}
}

func (p *Producer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
