// Package race implements the client side of the interactive authorization
// flow: it opens the grant redirect, then waits on two independent
// notification channels for the same logical event and finalizes exactly once
// on whichever arrives first.
package race

import (
	"context"
	"errors"
	"log"
	"sync/atomic"

	"github.com/embedpay/publisher-gateway/internal/events"
	"github.com/embedpay/publisher-gateway/internal/openpayments"
	"github.com/embedpay/publisher-gateway/internal/statusstore"
)

// State of the authorization flow. Success, Failed and Cancelled are terminal.
type State int32

const (
	StateIdle State = iota
	StateAuthorizing
	StateSuccess
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateAuthorizing:
		return "authorizing"
	case StateSuccess:
		return "success"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	}
	return "idle"
}

// Outcome is the terminal result of a run.
type Outcome struct {
	State   State
	Message string
	Result  *openpayments.CheckPaymentResult
}

// ErrPollTimeout is returned by StatusClient.Wait when the server reports the
// authorization wait elapsed (408). Surfaced distinctly so the caller can show
// a timeout message instead of a generic failure.
var ErrPollTimeout = errors.New("status poll timed out")

// StatusClient blocks until a status record exists for the payment or the
// server-side wait elapses.
type StatusClient interface {
	Wait(ctx context.Context, paymentID string) (events.InteractionMessage, error)
}

// FinalizeFunc exchanges the interact reference for the payment result.
type FinalizeFunc func(ctx context.Context, interactRef string) (*openpayments.CheckPaymentResult, error)

// Opener opens the authorization redirect in a new browsing context.
type Opener func(redirectURL string) error

type Config struct {
	PaymentID string
	Redirect  string
	Messages  <-chan events.InteractionMessage
	Status    StatusClient
	Finalize  FinalizeFunc
	Open      Opener
	Logger    *log.Logger
}

// Race runs one authorization attempt. Not reusable across payments.
type Race struct {
	cfg    Config
	state  atomic.Int32
	latch  atomic.Int32
	cancel atomic.Value // context.CancelFunc
}

// Latch owners. Exactly one claims the race; the owner decides the outcome.
const (
	latchOpen int32 = iota
	latchChannel
	latchCancelled
)

func New(cfg Config) *Race {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Race{cfg: cfg}
}

// State reports the current flow state.
func (r *Race) State() State { return State(r.state.Load()) }

// Cancel is the explicit user cancellation: it claims the completion latch so
// late channel results are discarded and aborts the in-flight poll. A channel
// that already claimed the latch keeps its outcome; cancellation never
// overrides a completion that beat it.
func (r *Race) Cancel() {
	r.latch.CompareAndSwap(latchOpen, latchCancelled)
	if cancel, ok := r.cancel.Load().(context.CancelFunc); ok {
		cancel()
	}
}

type arrival struct {
	msg    events.InteractionMessage
	err    error
	source string
}

// Run drives Authorizing to a terminal state. Exactly one of the message
// channel and the status poll resolves the flow; the loser is cancelled and
// its result, if any, is silently dropped.
func (r *Race) Run(ctx context.Context) Outcome {
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.cancel.Store(cancel)
	if r.latch.Load() == latchCancelled {
		// Cancelled before the flow even started.
		return r.finish(StateCancelled, "payment cancelled", nil)
	}
	r.state.Store(int32(StateAuthorizing))

	if r.cfg.Open != nil && r.cfg.Redirect != "" {
		go func() {
			if err := r.cfg.Open(r.cfg.Redirect); err != nil {
				r.cfg.Logger.Printf("[race %s] warning: failed to open authorization redirect: %v", r.cfg.PaymentID, err)
			}
		}()
	}

	won := make(chan arrival, 1)
	go r.listenMessages(raceCtx, won)
	go r.poll(raceCtx, won)

	select {
	case <-raceCtx.Done():
		r.latch.CompareAndSwap(latchOpen, latchCancelled)
		if r.latch.Load() == latchChannel && ctx.Err() == nil {
			// A channel claimed the latch before the cancel; its arrival is
			// already on the way and decides the outcome.
			return r.resolve(ctx, <-won)
		}
		r.cfg.Logger.Printf("[race %s] cancelled before completion", r.cfg.PaymentID)
		return r.finish(StateCancelled, "payment cancelled", nil)
	case a := <-won:
		// Abort the losing channel before acting on the winner.
		cancel()
		return r.resolve(ctx, a)
	}
}

func (r *Race) listenMessages(ctx context.Context, won chan<- arrival) {
	if r.cfg.Messages == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-r.cfg.Messages:
			if !ok {
				return
			}
			if msg.Type != events.EventGrantInteraction || msg.PaymentID != r.cfg.PaymentID {
				continue
			}
			if r.latch.CompareAndSwap(latchOpen, latchChannel) {
				won <- arrival{msg: msg, source: "message"}
			}
			return
		}
	}
}

func (r *Race) poll(ctx context.Context, won chan<- arrival) {
	if r.cfg.Status == nil {
		return
	}
	msg, err := r.cfg.Status.Wait(ctx, r.cfg.PaymentID)
	if ctx.Err() != nil {
		// Lost the race or cancelled; discard whatever came back.
		return
	}
	if r.latch.CompareAndSwap(latchOpen, latchChannel) {
		won <- arrival{msg: msg, err: err, source: "poll"}
	}
}

func (r *Race) resolve(ctx context.Context, a arrival) Outcome {
	r.cfg.Logger.Printf("[race %s] completion via %s", r.cfg.PaymentID, a.source)

	if a.err != nil {
		if errors.Is(a.err, ErrPollTimeout) {
			return r.finish(StateFailed, "authorization timed out", nil)
		}
		return r.finish(StateFailed, "failed to check payment status", nil)
	}
	if a.msg.Result == statusstore.ResultGrantRejected {
		return r.finish(StateFailed, "payment authorization was rejected", nil)
	}
	if a.msg.PaymentID == "" || a.msg.InteractRef == "" {
		return r.finish(StateFailed, "invalid authorization response", nil)
	}

	result, err := r.cfg.Finalize(ctx, a.msg.InteractRef)
	if err != nil {
		r.cfg.Logger.Printf("[race %s] finalize error: %v", r.cfg.PaymentID, err)
		return r.finish(StateFailed, "failed to finalize payment", result)
	}
	if result == nil || !result.Success {
		message := "failed to finalize payment"
		if result != nil && result.Error != nil && result.Error.Message != "" {
			message = result.Error.Message
		}
		return r.finish(StateFailed, message, result)
	}
	return r.finish(StateSuccess, "payment completed", result)
}

func (r *Race) finish(state State, message string, result *openpayments.CheckPaymentResult) Outcome {
	r.state.Store(int32(state))
	return Outcome{State: state, Message: message, Result: result}
}
