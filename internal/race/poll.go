package race

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/embedpay/publisher-gateway/internal/events"
)

// PollClient is the HTTP StatusClient against the gateway's long-poll
// endpoint. Its own timeout is the server's max wait plus slack, so a
// legitimate server-side 408 always wins over a client-side timeout.
type PollClient struct {
	baseURL string
	http    *http.Client
}

func NewPollClient(baseURL string, serverMaxWait time.Duration) *PollClient {
	return &PollClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: serverMaxWait + 10*time.Second},
	}
}

func (c *PollClient) Wait(ctx context.Context, paymentID string) (events.InteractionMessage, error) {
	url := c.baseURL + "/payment/status/" + paymentID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return events.InteractionMessage{}, fmt.Errorf("build status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return events.InteractionMessage{}, fmt.Errorf("status request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusRequestTimeout:
		return events.InteractionMessage{}, ErrPollTimeout
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return events.InteractionMessage{}, fmt.Errorf("status request: status %d", resp.StatusCode)
	}

	var msg events.InteractionMessage
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return events.InteractionMessage{}, fmt.Errorf("decode status response: %w", err)
	}
	return msg, nil
}
