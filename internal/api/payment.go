package api

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/embedpay/publisher-gateway/internal/openpayments"
)

type quoteRequest struct {
	SenderWalletAddress   string              `json:"senderWalletAddress"`
	ReceiverWalletAddress string              `json:"receiverWalletAddress"`
	Amount                openpayments.Amount `json:"amount"`
	Note                  string              `json:"note,omitempty"`
}

type quoteResponse struct {
	Quote                *openpayments.Quote `json:"quote"`
	IncomingPaymentGrant *openpayments.Grant `json:"incomingPaymentGrant"`
}

// handleQuote resolves both wallets and obtains a provider quote scoped to
// the sender. A duplicate call creates a new provider-side quote; retry is
// the caller's decision.
func (h *Handler) handleQuote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req quoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}
	if req.SenderWalletAddress == "" || req.ReceiverWalletAddress == "" {
		writeError(w, http.StatusBadRequest, "senderWalletAddress and receiverWalletAddress are required", nil)
		return
	}
	if err := req.Amount.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount", err)
		return
	}

	ctx := r.Context()
	sender, err := h.provider.ResolveWallet(ctx, req.SenderWalletAddress)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to resolve sender wallet", err)
		return
	}
	receiver, err := h.provider.ResolveWallet(ctx, req.ReceiverWalletAddress)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to resolve receiver wallet", err)
		return
	}

	incomingGrant, err := h.provider.RequestIncomingPaymentGrant(ctx, receiver.AuthServer)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create quote", err)
		return
	}
	incomingPayment, err := h.provider.CreateIncomingPayment(ctx, receiver, incomingGrant.AccessToken.Value, req.Amount, req.Note)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create quote", err)
		return
	}
	quoteGrant, err := h.provider.RequestQuoteGrant(ctx, sender.AuthServer)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create quote", err)
		return
	}
	quote, err := h.provider.CreateQuote(ctx, sender, quoteGrant.AccessToken.Value, incomingPayment.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create quote", err)
		return
	}

	h.logger.Printf("[payment] quote %s debit=%s receive=%s", quote.ID,
		quote.DebitAmount.Display(), quote.ReceiveAmount.Display())
	writeJSON(w, http.StatusOK, quoteResponse{Quote: quote, IncomingPaymentGrant: incomingGrant})
}

type grantRequest struct {
	WalletAddress string              `json:"walletAddress"`
	DebitAmount   openpayments.Amount `json:"debitAmount"`
	ReceiveAmount openpayments.Amount `json:"receiveAmount"`
	RedirectURL   string              `json:"redirectUrl"`
	PaymentID     string              `json:"paymentId,omitempty"`
}

type grantResponse struct {
	PaymentID string                     `json:"paymentId"`
	Grant     *openpayments.PendingGrant `json:"grant"`
}

// handleGrant requests an interactive outgoing-payment grant. The redirect
// origin must be allow-listed before anything is sent upstream.
func (h *Handler) handleGrant(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}
	if req.WalletAddress == "" || req.RedirectURL == "" {
		writeError(w, http.StatusBadRequest, "walletAddress and redirectUrl are required", nil)
		return
	}
	if !h.originAllowed(req.RedirectURL) {
		writeError(w, http.StatusBadRequest, "redirectUrl origin is not allowed", nil)
		return
	}
	if err := req.DebitAmount.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid debitAmount", err)
		return
	}
	if err := req.ReceiveAmount.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid receiveAmount", err)
		return
	}

	paymentID := req.PaymentID
	if paymentID == "" {
		paymentID = uuid.New().String()
	}

	ctx := r.Context()
	wallet, err := h.provider.ResolveWallet(ctx, req.WalletAddress)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to resolve wallet", err)
		return
	}

	finishURI := appendQuery(req.RedirectURL, "paymentId", paymentID)
	grant, err := h.provider.RequestOutgoingPaymentGrant(ctx, wallet, req.DebitAmount, req.ReceiveAmount, finishURI, uuid.New().String())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create outgoing payment grant", err)
		return
	}

	h.logger.Printf("[payment] pending grant for payment %s", paymentID)
	writeJSON(w, http.StatusOK, grantResponse{PaymentID: paymentID, Grant: grant})
}

type finalizeRequest struct {
	WalletAddress        string                     `json:"walletAddress"`
	PendingGrant         *openpayments.PendingGrant `json:"pendingGrant"`
	Quote                *openpayments.Quote        `json:"quote"`
	IncomingPaymentGrant *openpayments.Grant        `json:"incomingPaymentGrant,omitempty"`
	InteractRef          string                     `json:"interactRef"`
	Note                 string                     `json:"note,omitempty"`
}

// handleFinalize exchanges the pending grant and the one-time interact
// reference for a confirmed grant, then creates the outgoing payment. The
// handler does not deduplicate; the provider enforces single use of the
// interact reference.
func (h *Handler) handleFinalize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req finalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}
	if req.InteractRef == "" || req.PendingGrant == nil || req.Quote == nil || req.WalletAddress == "" {
		writeError(w, http.StatusBadRequest, "walletAddress, pendingGrant, quote and interactRef are required", nil)
		return
	}

	ctx := r.Context()
	wallet, err := h.provider.ResolveWallet(ctx, req.WalletAddress)
	if err != nil {
		writeFinalizeFailure(w, "failed to resolve wallet: "+err.Error())
		return
	}
	grant, err := h.provider.ContinueGrant(ctx, req.PendingGrant, req.InteractRef)
	if err != nil {
		writeFinalizeFailure(w, "failed to confirm grant: "+err.Error())
		return
	}
	payment, err := h.provider.CreateOutgoingPayment(ctx, wallet, grant.AccessToken.Value, req.Quote.ID, req.Note)
	if err != nil {
		writeFinalizeFailure(w, "failed to create outgoing payment: "+err.Error())
		return
	}
	if payment.Failed {
		writeFinalizeFailure(w, "outgoing payment failed")
		return
	}

	h.logger.Printf("[payment] finalized outgoing payment %s", payment.ID)
	writeJSON(w, http.StatusOK, openpayments.CheckPaymentResult{Success: true, Payment: payment})
}

func writeFinalizeFailure(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusInternalServerError, openpayments.CheckPaymentResult{
		Success: false,
		Error:   &openpayments.ErrorDetail{Message: message},
	})
}

func appendQuery(rawURL, key, value string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
