package events

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/segmentio/kafka-go"
)

// MessageReader is the subset of kafka.Reader the interaction stream needs.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// StreamInteractions consumes the payments topic and forwards
// GRANT_INTERACTION messages on the returned channel. Other event types are
// ignored. The channel is closed when ctx is cancelled or the reader stops.
func StreamInteractions(ctx context.Context, reader MessageReader, logger *log.Logger) <-chan InteractionMessage {
	out := make(chan InteractionMessage)
	go func() {
		defer close(out)
		for {
			msg, err := reader.ReadMessage(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					logger.Printf("[events] read error: %v", err)
				}
				return
			}

			var evt Envelope
			if err := json.Unmarshal(msg.Value, &evt); err != nil {
				logger.Printf("[events] bad JSON: %v; payload=%s", err, string(msg.Value))
				continue
			}

			interaction, ok := DecodeInteraction(evt)
			if !ok {
				continue
			}
			select {
			case out <- interaction:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
