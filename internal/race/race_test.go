package race

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embedpay/publisher-gateway/internal/events"
	"github.com/embedpay/publisher-gateway/internal/openpayments"
	"github.com/embedpay/publisher-gateway/internal/statusstore"
)

// fakeStatus blocks until released, then returns its configured result.
type fakeStatus struct {
	msg      events.InteractionMessage
	err      error
	delay    time.Duration
	aborted  atomic.Bool
	attempts atomic.Int32
}

func (f *fakeStatus) Wait(ctx context.Context, paymentID string) (events.InteractionMessage, error) {
	f.attempts.Add(1)
	select {
	case <-ctx.Done():
		f.aborted.Store(true)
		return events.InteractionMessage{}, ctx.Err()
	case <-time.After(f.delay):
		return f.msg, f.err
	}
}

type finalizeRecorder struct {
	calls   atomic.Int32
	lastRef atomic.Value
	result  *openpayments.CheckPaymentResult
	err     error
}

func (f *finalizeRecorder) finalize(ctx context.Context, interactRef string) (*openpayments.CheckPaymentResult, error) {
	f.calls.Add(1)
	f.lastRef.Store(interactRef)
	return f.result, f.err
}

func successMessage(paymentID string) events.InteractionMessage {
	return events.InteractionMessage{
		Type:        events.EventGrantInteraction,
		PaymentID:   paymentID,
		InteractRef: "abc123",
		Hash:        "h",
	}
}

func TestMessageWinsRace(t *testing.T) {
	messages := make(chan events.InteractionMessage, 1)
	status := &fakeStatus{msg: successMessage("pay-1"), delay: time.Second}
	fin := &finalizeRecorder{result: &openpayments.CheckPaymentResult{Success: true}}

	r := New(Config{
		PaymentID: "pay-1",
		Messages:  messages,
		Status:    status,
		Finalize:  fin.finalize,
	})
	messages <- successMessage("pay-1")
	out := r.Run(context.Background())

	assert.Equal(t, StateSuccess, out.State)
	assert.EqualValues(t, 1, fin.calls.Load())
	assert.Equal(t, "abc123", fin.lastRef.Load())
	assert.Equal(t, StateSuccess, r.State())

	// Cancellation cleanup: the losing poll request must be aborted.
	assert.Eventually(t, status.aborted.Load, time.Second, 10*time.Millisecond)
}

func TestPollWinsRace(t *testing.T) {
	status := &fakeStatus{msg: successMessage("pay-1"), delay: 10 * time.Millisecond}
	fin := &finalizeRecorder{result: &openpayments.CheckPaymentResult{Success: true}}

	r := New(Config{
		PaymentID: "pay-1",
		Messages:  make(chan events.InteractionMessage),
		Status:    status,
		Finalize:  fin.finalize,
	})
	out := r.Run(context.Background())

	assert.Equal(t, StateSuccess, out.State)
	assert.EqualValues(t, 1, fin.calls.Load())
}

func TestRaceFinalizesOnce(t *testing.T) {
	// Both channels resolve with a valid result; the message arrives first
	// and the poll result must be discarded.
	messages := make(chan events.InteractionMessage, 1)
	polled := successMessage("pay-1")
	polled.InteractRef = "from-poll"
	status := &fakeStatus{msg: polled, delay: 30 * time.Millisecond}
	fin := &finalizeRecorder{result: &openpayments.CheckPaymentResult{Success: true}}

	r := New(Config{
		PaymentID: "pay-1",
		Messages:  messages,
		Status:    status,
		Finalize:  fin.finalize,
	})
	messages <- successMessage("pay-1")
	out := r.Run(context.Background())
	time.Sleep(60 * time.Millisecond)

	assert.Equal(t, StateSuccess, out.State)
	assert.EqualValues(t, 1, fin.calls.Load())
	assert.Equal(t, "abc123", fin.lastRef.Load())
}

func TestRejectionSkipsFinalize(t *testing.T) {
	messages := make(chan events.InteractionMessage, 1)
	fin := &finalizeRecorder{result: &openpayments.CheckPaymentResult{Success: true}}

	r := New(Config{
		PaymentID: "pay-1",
		Messages:  messages,
		Status:    &fakeStatus{delay: time.Second},
		Finalize:  fin.finalize,
	})
	messages <- events.InteractionMessage{
		Type:      events.EventGrantInteraction,
		PaymentID: "pay-1",
		Result:    statusstore.ResultGrantRejected,
	}
	out := r.Run(context.Background())

	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, "payment authorization was rejected", out.Message)
	assert.Zero(t, fin.calls.Load())
}

func TestInvalidMessageFails(t *testing.T) {
	messages := make(chan events.InteractionMessage, 1)
	fin := &finalizeRecorder{}

	r := New(Config{
		PaymentID: "pay-1",
		Messages:  messages,
		Status:    &fakeStatus{delay: time.Second},
		Finalize:  fin.finalize,
	})
	messages <- events.InteractionMessage{
		Type:      events.EventGrantInteraction,
		PaymentID: "pay-1",
		// interact_ref missing
	}
	out := r.Run(context.Background())

	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, "invalid authorization response", out.Message)
	assert.Zero(t, fin.calls.Load())
}

func TestForeignMessagesIgnored(t *testing.T) {
	messages := make(chan events.InteractionMessage, 2)
	status := &fakeStatus{msg: successMessage("pay-1"), delay: 50 * time.Millisecond}
	fin := &finalizeRecorder{result: &openpayments.CheckPaymentResult{Success: true}}

	r := New(Config{
		PaymentID: "pay-1",
		Messages:  messages,
		Status:    status,
		Finalize:  fin.finalize,
	})
	// Wrong type and wrong payment id; neither may resolve the race.
	messages <- events.InteractionMessage{Type: "SOMETHING_ELSE", PaymentID: "pay-1", InteractRef: "x"}
	messages <- successMessage("pay-9")
	out := r.Run(context.Background())

	assert.Equal(t, StateSuccess, out.State)
	assert.Equal(t, "abc123", fin.lastRef.Load())
}

func TestPollTimeoutFails(t *testing.T) {
	fin := &finalizeRecorder{}
	r := New(Config{
		PaymentID: "pay-1",
		Messages:  make(chan events.InteractionMessage),
		Status:    &fakeStatus{err: ErrPollTimeout, delay: 10 * time.Millisecond},
		Finalize:  fin.finalize,
	})
	out := r.Run(context.Background())

	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, "authorization timed out", out.Message)
	assert.Zero(t, fin.calls.Load())
}

func TestPollErrorFails(t *testing.T) {
	fin := &finalizeRecorder{}
	r := New(Config{
		PaymentID: "pay-1",
		Messages:  make(chan events.InteractionMessage),
		Status:    &fakeStatus{err: fmt.Errorf("status request: status 500"), delay: 10 * time.Millisecond},
		Finalize:  fin.finalize,
	})
	out := r.Run(context.Background())

	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, "failed to check payment status", out.Message)
}

func TestFinalizeFailureFails(t *testing.T) {
	messages := make(chan events.InteractionMessage, 1)
	fin := &finalizeRecorder{result: &openpayments.CheckPaymentResult{
		Success: false,
		Error:   &openpayments.ErrorDetail{Message: "outgoing payment failed"},
	}}
	r := New(Config{
		PaymentID: "pay-1",
		Messages:  messages,
		Status:    &fakeStatus{delay: time.Second},
		Finalize:  fin.finalize,
	})
	messages <- successMessage("pay-1")
	out := r.Run(context.Background())

	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, "outgoing payment failed", out.Message)
}

func TestFinalizeErrorFails(t *testing.T) {
	messages := make(chan events.InteractionMessage, 1)
	fin := &finalizeRecorder{err: fmt.Errorf("connection refused")}
	r := New(Config{
		PaymentID: "pay-1",
		Messages:  messages,
		Status:    &fakeStatus{delay: time.Second},
		Finalize:  fin.finalize,
	})
	messages <- successMessage("pay-1")
	out := r.Run(context.Background())

	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, "failed to finalize payment", out.Message)
}

func TestUserCancellation(t *testing.T) {
	status := &fakeStatus{delay: time.Minute}
	fin := &finalizeRecorder{}
	r := New(Config{
		PaymentID: "pay-1",
		Messages:  make(chan events.InteractionMessage),
		Status:    status,
		Finalize:  fin.finalize,
	})

	done := make(chan Outcome, 1)
	go func() { done <- r.Run(context.Background()) }()

	require.Eventually(t, func() bool { return r.State() == StateAuthorizing }, time.Second, 5*time.Millisecond)
	r.Cancel()

	out := <-done
	assert.Equal(t, StateCancelled, out.State)
	assert.Zero(t, fin.calls.Load())
	assert.Eventually(t, status.aborted.Load, time.Second, 10*time.Millisecond)
}

// TestCancelAfterCompletionKeepsOutcome: once a channel has claimed the
// completion latch, a late user cancel must not flip the outcome or stop the
// in-flight finalize.
func TestCancelAfterCompletionKeepsOutcome(t *testing.T) {
	messages := make(chan events.InteractionMessage, 1)
	fin := &finalizeRecorder{result: &openpayments.CheckPaymentResult{Success: true}}
	started := make(chan struct{})
	release := make(chan struct{})

	gated := func(ctx context.Context, interactRef string) (*openpayments.CheckPaymentResult, error) {
		close(started)
		<-release
		return fin.finalize(ctx, interactRef)
	}
	r := New(Config{
		PaymentID: "pay-1",
		Messages:  messages,
		Status:    &fakeStatus{delay: time.Minute},
		Finalize:  gated,
	})

	messages <- successMessage("pay-1")
	done := make(chan Outcome, 1)
	go func() { done <- r.Run(context.Background()) }()

	<-started
	r.Cancel()
	close(release)

	out := <-done
	assert.Equal(t, StateSuccess, out.State)
	assert.Equal(t, StateSuccess, r.State())
	assert.EqualValues(t, 1, fin.calls.Load())
}

// TestCancelBeforeRun: a cancel that lands before Run starts claims the latch,
// so a message already waiting in the channel must be discarded.
func TestCancelBeforeRun(t *testing.T) {
	messages := make(chan events.InteractionMessage, 1)
	fin := &finalizeRecorder{result: &openpayments.CheckPaymentResult{Success: true}}
	r := New(Config{
		PaymentID: "pay-1",
		Messages:  messages,
		Status:    &fakeStatus{delay: time.Minute},
		Finalize:  fin.finalize,
	})

	messages <- successMessage("pay-1")
	r.Cancel()
	out := r.Run(context.Background())

	assert.Equal(t, StateCancelled, out.State)
	assert.Zero(t, fin.calls.Load())
}

func TestContextCancellation(t *testing.T) {
	fin := &finalizeRecorder{}
	r := New(Config{
		PaymentID: "pay-1",
		Messages:  make(chan events.InteractionMessage),
		Status:    &fakeStatus{delay: time.Minute},
		Finalize:  fin.finalize,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Outcome, 1)
	go func() { done <- r.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	out := <-done
	assert.Equal(t, StateCancelled, out.State)
	assert.Zero(t, fin.calls.Load())
}

func TestOpenerInvoked(t *testing.T) {
	messages := make(chan events.InteractionMessage, 1)
	var opened atomic.Value
	fin := &finalizeRecorder{result: &openpayments.CheckPaymentResult{Success: true}}

	r := New(Config{
		PaymentID: "pay-1",
		Redirect:  "https://auth.wallet.example/interact/123",
		Messages:  messages,
		Status:    &fakeStatus{delay: time.Second},
		Finalize:  fin.finalize,
		Open: func(url string) error {
			opened.Store(url)
			return nil
		},
	})
	messages <- successMessage("pay-1")
	out := r.Run(context.Background())

	assert.Equal(t, StateSuccess, out.State)
	assert.Eventually(t, func() bool {
		v, _ := opened.Load().(string)
		return v == "https://auth.wallet.example/interact/123"
	}, time.Second, 5*time.Millisecond)
}
