// Command payflow drives one interactive payment against a running gateway:
// quote, grant, wallet authorization in the browser, then finalize on
// whichever completion signal lands first.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"

	"github.com/embedpay/publisher-gateway/internal/events"
	"github.com/embedpay/publisher-gateway/internal/openpayments"
	"github.com/embedpay/publisher-gateway/internal/race"
)

func main() {
	_ = godotenv.Load()

	var (
		gateway  = flag.String("gateway", getenv("GATEWAY_URL", "http://localhost:3000"), "payment gateway base URL")
		sender   = flag.String("sender", "", "sender wallet address or $ payment pointer")
		receiver = flag.String("receiver", "", "receiver wallet address or $ payment pointer")
		value    = flag.String("amount", "", "amount to receive, as a scaled integer (e.g. 500 for 5.00 at scale 2)")
		asset    = flag.String("asset", "USD", "asset code")
		scale    = flag.Int("scale", 2, "asset scale")
		redirect = flag.String("redirect", getenv("PAYFLOW_REDIRECT_URL", "http://localhost:3000/payment/interaction/pending"), "finish redirect URL (must be on the gateway allow-list)")
		note     = flag.String("note", "", "payment note")
		brokers  = flag.String("brokers", os.Getenv("KAFKA_BROKERS"), "optional Kafka brokers for event-driven completion")
		topic    = flag.String("topic", getenv("KAFKA_PAYMENTS_TOPIC", "payments.v1"), "payments event topic")
		maxWait  = flag.Duration("max-wait", 25*time.Second, "server-side long poll wait")
		noOpen   = flag.Bool("no-open", false, "print the authorization URL instead of opening a browser")
	)
	flag.Parse()

	if *sender == "" || *receiver == "" || *value == "" {
		flag.Usage()
		os.Exit(2)
	}

	logger := log.New(os.Stderr, "[payflow] ", log.LstdFlags)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flowConfig{
		gateway:  strings.TrimRight(*gateway, "/"),
		sender:   *sender,
		receiver: *receiver,
		amount:   openpayments.Amount{Value: *value, AssetCode: *asset, AssetScale: int32(*scale)},
		redirect: *redirect,
		note:     *note,
		brokers:  splitBrokers(*brokers),
		topic:    *topic,
		maxWait:  *maxWait,
		noOpen:   *noOpen,
		logger:   logger,
	}); err != nil {
		logger.Fatalf("payment failed: %v", err)
	}
}

type flowConfig struct {
	gateway  string
	sender   string
	receiver string
	amount   openpayments.Amount
	redirect string
	note     string
	brokers  []string
	topic    string
	maxWait  time.Duration
	noOpen   bool
	logger   *log.Logger
}

func run(ctx context.Context, cfg flowConfig) error {
	if err := cfg.amount.Validate(); err != nil {
		return err
	}

	// Quote.
	var quoteResp struct {
		Quote                *openpayments.Quote `json:"quote"`
		IncomingPaymentGrant *openpayments.Grant `json:"incomingPaymentGrant"`
	}
	err := postJSON(ctx, cfg.gateway+"/payment/quote", map[string]any{
		"senderWalletAddress":   cfg.sender,
		"receiverWalletAddress": cfg.receiver,
		"amount":                cfg.amount,
		"note":                  cfg.note,
	}, &quoteResp)
	if err != nil {
		return fmt.Errorf("quote: %w", err)
	}
	if quoteResp.Quote == nil {
		return fmt.Errorf("quote: empty response")
	}
	cfg.logger.Printf("quote %s: debit %s, receive %s",
		quoteResp.Quote.ID,
		quoteResp.Quote.DebitAmount.Display(), quoteResp.Quote.ReceiveAmount.Display())

	// Grant.
	var grantResp struct {
		PaymentID string                     `json:"paymentId"`
		Grant     *openpayments.PendingGrant `json:"grant"`
	}
	err = postJSON(ctx, cfg.gateway+"/payment/grant", map[string]any{
		"walletAddress": cfg.sender,
		"debitAmount":   quoteResp.Quote.DebitAmount,
		"receiveAmount": quoteResp.Quote.ReceiveAmount,
		"redirectUrl":   cfg.redirect,
	}, &grantResp)
	if err != nil {
		return fmt.Errorf("grant: %w", err)
	}
	if grantResp.Grant == nil || grantResp.PaymentID == "" {
		return fmt.Errorf("grant: empty response")
	}
	cfg.logger.Printf("payment %s pending authorization", grantResp.PaymentID)

	messages, closeMessages := messageChannel(ctx, cfg)
	defer closeMessages()

	finalize := func(ctx context.Context, interactRef string) (*openpayments.CheckPaymentResult, error) {
		var result openpayments.CheckPaymentResult
		err := postJSON(ctx, cfg.gateway+"/payment/finalize", map[string]any{
			"walletAddress":        cfg.sender,
			"pendingGrant":         grantResp.Grant,
			"quote":                quoteResp.Quote,
			"incomingPaymentGrant": quoteResp.IncomingPaymentGrant,
			"interactRef":          interactRef,
			"note":                 cfg.note,
		}, &result)
		if err != nil && result.Error == nil {
			return nil, err
		}
		return &result, nil
	}

	r := race.New(race.Config{
		PaymentID: grantResp.PaymentID,
		Redirect:  grantResp.Grant.Interact.Redirect,
		Messages:  messages,
		Status:    race.NewPollClient(cfg.gateway, cfg.maxWait),
		Finalize:  finalize,
		Open:      opener(cfg),
		Logger:    cfg.logger,
	})

	out := r.Run(ctx)
	switch out.State {
	case race.StateSuccess:
		cfg.logger.Printf("done: %s", out.Message)
		if out.Result != nil && out.Result.Payment != nil {
			fmt.Println(out.Result.Payment.ID)
		}
		return nil
	case race.StateCancelled:
		return fmt.Errorf("cancelled")
	default:
		return fmt.Errorf("%s", out.Message)
	}
}

// messageChannel subscribes to the gateway's interaction events when brokers
// are configured. Without brokers the race falls back to long polling alone.
func messageChannel(ctx context.Context, cfg flowConfig) (<-chan events.InteractionMessage, func()) {
	if len(cfg.brokers) == 0 {
		return nil, func() {}
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.brokers,
		Topic:   cfg.topic,
		// Fresh group per invocation so only new events are seen.
		GroupID:     "payflow-" + uuid.New().String(),
		StartOffset: kafka.LastOffset,
		MinBytes:    1e3, MaxBytes: 10e6,
	})
	return events.StreamInteractions(ctx, reader, cfg.logger), func() { _ = reader.Close() }
}

func opener(cfg flowConfig) race.Opener {
	return func(url string) error {
		fmt.Fprintf(os.Stderr, "\nAuthorize the payment at:\n\n  %s\n\n", url)
		if cfg.noOpen {
			return nil
		}
		switch runtime.GOOS {
		case "darwin":
			return exec.Command("open", url).Start()
		case "windows":
			return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
		default:
			return exec.Command("xdg-open", url).Start()
		}
	}
}

func postJSON(ctx context.Context, url string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Error bodies still decode into out when the shape matches, so the
		// caller can surface the server's message.
		_ = json.NewDecoder(resp.Body).Decode(out)
		return fmt.Errorf("%s: status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func splitBrokers(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
