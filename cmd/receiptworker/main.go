package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"

	appconfig "github.com/embedpay/publisher-gateway/internal/config"
	"github.com/embedpay/publisher-gateway/internal/email"
	"github.com/embedpay/publisher-gateway/internal/events"
	"github.com/embedpay/publisher-gateway/internal/statusstore"
)

func main() {
	_ = godotenv.Load()
	cfg, err := appconfig.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Println("Receipt worker starting...")
	runConsumer(ctx, cfg)
}

func runConsumer(ctx context.Context, cfg appconfig.Config) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Kafka.Brokers,
		Topic:    cfg.Kafka.PaymentsTopic,
		GroupID:  cfg.Kafka.ReceiptGroup,
		MinBytes: 1e3, MaxBytes: 10e6,
	})
	defer reader.Close()

	sender := pickSender()
	log.Printf("[receipt-worker] consuming %s (group=%s)", cfg.Kafka.PaymentsTopic, cfg.Kafka.ReceiptGroup)
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("[receipt-worker] shutting down")
				return
			}
			log.Printf("[receipt-worker] read error: %v", err)
			return
		}

		var evt events.Envelope
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			log.Printf("[receipt-worker] bad json: %v; payload=%s", err, string(msg.Value))
			continue
		}

		interaction, ok := events.DecodeInteraction(evt)
		if !ok {
			continue
		}
		handleInteraction(sender, cfg, interaction)
	}
}

func handleInteraction(sender email.Sender, cfg appconfig.Config, msg events.InteractionMessage) {
	to := cfg.Email.DemoRecipient

	if msg.Result == statusstore.ResultGrantRejected {
		body := email.RenderRejectedEmail(msg.PaymentID)
		if err := sender.Send(to, "Your payment was not completed", body); err != nil {
			log.Printf("[receipt-worker] send failed: %v", err)
			return
		}
		log.Printf("[receipt-worker] sent rejection notice to=%s payment=%s", to, msg.PaymentID)
		return
	}

	// The interaction event carries no amount; the receipt confirms the
	// authorization itself.
	body := email.RenderReceiptEmail(msg.PaymentID)
	if err := sender.Send(to, "Your payment receipt", body); err != nil {
		log.Printf("[receipt-worker] send failed: %v", err)
		return
	}
	log.Printf("[receipt-worker] sent receipt to=%s payment=%s", to, msg.PaymentID)
}

func pickSender() email.Sender {
	// Use SMTP if configured; else fall back to log output
	if os.Getenv("SMTP_HOST") != "" || os.Getenv("SMTP_PORT") != "" {
		return email.NewSMTPSender()
	}
	return email.LogSender{}
}
