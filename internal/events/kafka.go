package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// EventGrantInteraction is the one event type the completion race acts on;
// everything else on the topic is ignored by consumers of this package.
const EventGrantInteraction = "GRANT_INTERACTION"

type Producer struct{ w *kafka.Writer }

func NewProducerWithBrokers(brokers []string) *Producer {
	return &Producer{
		w: kafka.NewWriter(kafka.WriterConfig{
			Brokers:  brokers,
			Balancer: &kafka.Hash{}, // partition by Kafka message key
		}),
	}
}

func (p *Producer) Close() error { return p.w.Close() }

// Envelope is the standard event schema published to the payments topic.
// Keep it small and stable.
type Envelope struct {
	EventType    string      `json:"eventType"`
	EventVersion string      `json:"eventVersion"`
	OccurredAt   time.Time   `json:"occurredAt"`
	AggregateID  string      `json:"aggregateId"` // paymentId
	Data         interface{} `json:"data"`
}

// Publish writes a single message.
// 'key' is the Kafka partition key (use paymentId to keep per-payment ordering).
func (p *Producer) Publish(ctx context.Context, topic, key string, evt Envelope) error {
	evt.OccurredAt = time.Now().UTC()
	val, _ := json.Marshal(evt)
	return p.w.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: val,
	})
}

// InteractionMessage is the completion notification an external actor emits
// once the user finishes (or declines) the authorization interaction. It is
// both the Data payload of GRANT_INTERACTION envelopes and the body of the
// status poll response.
type InteractionMessage struct {
	Type        string `json:"type"`
	PaymentID   string `json:"paymentId"`
	InteractRef string `json:"interact_ref,omitempty"`
	Hash        string `json:"hash,omitempty"`
	Result      string `json:"result,omitempty"`
}

// DecodeInteraction extracts an InteractionMessage from an envelope. The
// boolean is false for any other event type.
func DecodeInteraction(evt Envelope) (InteractionMessage, bool) {
	if evt.EventType != EventGrantInteraction {
		return InteractionMessage{}, false
	}
	raw, err := json.Marshal(evt.Data)
	if err != nil {
		return InteractionMessage{}, false
	}
	var msg InteractionMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return InteractionMessage{}, false
	}
	msg.Type = EventGrantInteraction
	if msg.PaymentID == "" {
		msg.PaymentID = evt.AggregateID
	}
	return msg, true
}
