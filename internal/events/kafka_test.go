package events

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func testLogger(t *testing.T) *log.Logger {
	return log.New(testWriter{t}, "", 0)
}

func TestDecodeInteraction(t *testing.T) {
	evt := Envelope{
		EventType:   EventGrantInteraction,
		AggregateID: "pay-1",
		Data: map[string]any{
			"type":         EventGrantInteraction,
			"paymentId":    "pay-1",
			"interact_ref": "abc123",
			"hash":         "h",
		},
	}

	msg, ok := DecodeInteraction(evt)
	require.True(t, ok)
	assert.Equal(t, "pay-1", msg.PaymentID)
	assert.Equal(t, "abc123", msg.InteractRef)
	assert.Equal(t, "h", msg.Hash)
}

func TestDecodeInteractionIgnoresOtherEvents(t *testing.T) {
	_, ok := DecodeInteraction(Envelope{EventType: "OrderCreated"})
	assert.False(t, ok)
}

type scriptedReader struct {
	msgs []kafka.Message
}

func (r *scriptedReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.msgs[0]
	r.msgs = r.msgs[1:]
	return msg, nil
}

func TestStreamInteractionsFiltersEvents(t *testing.T) {
	reader := &scriptedReader{msgs: []kafka.Message{
		{Value: []byte(`{"eventType":"OrderCreated","data":{}}`)},
		{Value: []byte(`not json`)},
		{Value: []byte(`{"eventType":"GRANT_INTERACTION","aggregateId":"pay-1",` +
			`"data":{"type":"GRANT_INTERACTION","paymentId":"pay-1","interact_ref":"abc123"}}`)},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := StreamInteractions(ctx, reader, testLogger(t))

	select {
	case msg := <-ch:
		assert.Equal(t, "pay-1", msg.PaymentID)
		assert.Equal(t, "abc123", msg.InteractRef)
	case <-time.After(time.Second):
		t.Fatal("no interaction message received")
	}
}
