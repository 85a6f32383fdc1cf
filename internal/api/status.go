package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/embedpay/publisher-gateway/internal/events"
	"github.com/embedpay/publisher-gateway/internal/statusstore"
)

// handleStatus is the courtesy long poll: it re-checks the store at the
// configured interval until a record appears or the max wait elapses. It
// responds exactly once (data, 408, or 404) regardless of how many check
// iterations ran.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	paymentID := strings.TrimPrefix(r.URL.Path, "/payment/status/")
	if paymentID == "" || strings.Contains(paymentID, "/") {
		writeError(w, http.StatusBadRequest, "payment id required", nil)
		return
	}

	ctx := r.Context()
	deadline := time.NewTimer(h.payments.PollMaxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(h.payments.PollInterval)
	defer ticker.Stop()

	for {
		status, err := h.store.Get(ctx, paymentID)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, interactionBody(status))
			return
		case !errors.Is(err, statusstore.ErrNotFound):
			writeError(w, http.StatusNotFound, "failed to check payment status", err)
			return
		}

		select {
		case <-ctx.Done():
			// Client gave up; normal abandonment, nothing to write.
			return
		case <-deadline.C:
			writeError(w, http.StatusRequestTimeout, "authorization timed out", nil)
			return
		case <-ticker.C:
		}
	}
}

// handleInteraction is the provider redirect target: the first party to
// observe the authorization outcome writes the status record here. The grant
// flow appends the payment id to the finish redirect as a paymentId query
// parameter, so the query takes precedence over the path segment; the path
// form still works for callers that mint the redirect URL themselves.
func (h *Handler) handleInteraction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	paymentID := q.Get("paymentId")
	if paymentID == "" {
		paymentID = strings.TrimPrefix(r.URL.Path, "/payment/interaction/")
	}
	if paymentID == "" || strings.Contains(paymentID, "/") {
		writeError(w, http.StatusBadRequest, "payment id required", nil)
		return
	}

	status := statusstore.PaymentStatus{
		PaymentID:   paymentID,
		InteractRef: q.Get("interact_ref"),
		Hash:        q.Get("hash"),
		Result:      q.Get("result"),
	}
	if !status.Rejected() && status.InteractRef == "" {
		writeError(w, http.StatusBadRequest, "interact_ref required", nil)
		return
	}

	err := h.store.Put(r.Context(), paymentID, status)
	switch {
	case errors.Is(err, statusstore.ErrAlreadyWritten):
		// Redirect reload; the original record stands.
		h.logger.Printf("[payment] interaction for %s already recorded", paymentID)
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to record interaction", err)
		return
	default:
		h.publishInteraction(r, status)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body><p>Payment authorization complete. You can close this window.</p></body></html>")
}

// publishInteraction fans the outcome out on the payments topic so message
// listeners learn of it without polling. Best effort; the status store is
// the source of truth.
func (h *Handler) publishInteraction(r *http.Request, status statusstore.PaymentStatus) {
	if h.producer == nil {
		return
	}
	evt := events.Envelope{
		EventType:    events.EventGrantInteraction,
		EventVersion: "v1",
		AggregateID:  status.PaymentID,
		Data:         interactionBody(status),
	}
	if err := h.producer.Publish(r.Context(), h.topic, status.PaymentID, evt); err != nil {
		h.logger.Printf("[payment] warning: failed to publish interaction for %s: %v", status.PaymentID, err)
	}
}

func interactionBody(status statusstore.PaymentStatus) events.InteractionMessage {
	return events.InteractionMessage{
		Type:        events.EventGrantInteraction,
		PaymentID:   status.PaymentID,
		InteractRef: status.InteractRef,
		Hash:        status.Hash,
		Result:      status.Result,
	}
}
