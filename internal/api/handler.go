package api

import (
	"encoding/json"
	"log"
	"net/http"
	"net/url"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/embedpay/publisher-gateway/internal/config"
	"github.com/embedpay/publisher-gateway/internal/events"
	"github.com/embedpay/publisher-gateway/internal/openpayments"
	"github.com/embedpay/publisher-gateway/internal/statusstore"
)

// Handler owns the payment routes. All handlers are stateless; the status
// store is the only shared state and is accessed by key.
type Handler struct {
	logger   *log.Logger
	provider *openpayments.Client
	store    statusstore.Store
	producer *events.Producer
	payments config.PaymentsConfig
	topic    string
}

func NewHandler(logger *log.Logger, provider *openpayments.Client, store statusstore.Store, producer *events.Producer, payments config.PaymentsConfig, topic string) *Handler {
	return &Handler{
		logger:   logger,
		provider: provider,
		store:    store,
		producer: producer,
		payments: payments,
		topic:    topic,
	}
}

// Register wires the payment endpoints into the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("/payment/quote", otelhttp.NewHandler(http.HandlerFunc(h.handleQuote), "payment-quote"))
	mux.Handle("/payment/grant", otelhttp.NewHandler(http.HandlerFunc(h.handleGrant), "payment-grant"))
	mux.Handle("/payment/finalize", otelhttp.NewHandler(http.HandlerFunc(h.handleFinalize), "payment-finalize"))
	mux.Handle("/payment/status/", otelhttp.NewHandler(http.HandlerFunc(h.handleStatus), "payment-status"))
	mux.Handle("/payment/interaction/", otelhttp.NewHandler(http.HandlerFunc(h.handleInteraction), "payment-interaction"))
}

// originAllowed checks a redirect URL's origin against the configured
// application origins. Guards the interactive-grant flow against open
// redirects.
func (h *Handler) originAllowed(redirectURL string) bool {
	u, err := url.Parse(redirectURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	origin := u.Scheme + "://" + u.Host
	for _, allowed := range h.payments.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	body := map[string]any{"error": msg}
	if err != nil {
		body["detail"] = err.Error()
	}
	writeJSON(w, status, body)
}
