package openpayments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/embedpay/publisher-gateway/internal/signing"
)

// Client calls the payments provider. Every authenticated request goes out
// with Signature/Signature-Input headers produced by the signer.
type Client struct {
	http          *http.Client
	signer        *signing.Signer
	clientAddress string
	logger        *log.Logger
}

// NewClient builds a provider client. clientAddress is the gateway's own
// wallet address URL, sent as the grant client identifier.
func NewClient(signer *signing.Signer, clientAddress string, logger *log.Logger) *Client {
	return &Client{
		http: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		signer:        signer,
		clientAddress: clientAddress,
		logger:        logger,
	}
}

// ResolveWallet fetches the discovery document behind a payment pointer.
// Discovery is public, so this request is not signed.
func (c *Client) ResolveWallet(ctx context.Context, pointer string) (*WalletAddress, error) {
	walletURL, err := NormalizePointer(pointer)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, walletURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build wallet request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("resolve wallet %s: %w", walletURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("resolve wallet %s: status %d", walletURL, resp.StatusCode)
	}

	var wallet WalletAddress
	if err := json.NewDecoder(resp.Body).Decode(&wallet); err != nil {
		return nil, fmt.Errorf("decode wallet %s: %w", walletURL, err)
	}
	if wallet.ID == "" {
		wallet.ID = walletURL
	}
	if wallet.AuthServer == "" || wallet.ResourceServer == "" {
		return nil, fmt.Errorf("wallet %s discovery document is incomplete", walletURL)
	}
	c.logger.Printf("[provider] resolved wallet %s (asset %s/%d)", wallet.ID, wallet.AssetCode, wallet.AssetScale)
	return &wallet, nil
}

// RequestIncomingPaymentGrant obtains a non-interactive token for creating
// incoming payments at the receiver's auth server.
func (c *Client) RequestIncomingPaymentGrant(ctx context.Context, authServer string) (*Grant, error) {
	body := map[string]any{
		"access_token": map[string]any{
			"access": []map[string]any{{
				"type":    "incoming-payment",
				"actions": []string{"create", "read", "complete"},
			}},
		},
		"client": c.clientAddress,
	}
	var grant Grant
	if err := c.post(ctx, authServer, "", body, &grant); err != nil {
		return nil, fmt.Errorf("incoming payment grant: %w", err)
	}
	return &grant, nil
}

// CreateIncomingPayment creates the receiving side of the payment.
func (c *Client) CreateIncomingPayment(ctx context.Context, receiver *WalletAddress, token string, amount Amount, note string) (*IncomingPayment, error) {
	body := map[string]any{
		"walletAddress":  receiver.ID,
		"incomingAmount": amount,
	}
	if note != "" {
		body["metadata"] = map[string]any{"description": note}
	}
	var payment IncomingPayment
	if err := c.post(ctx, receiver.ResourceServer+"/incoming-payments", token, body, &payment); err != nil {
		return nil, fmt.Errorf("create incoming payment: %w", err)
	}
	return &payment, nil
}

// RequestQuoteGrant obtains a non-interactive token for creating quotes at
// the sender's auth server.
func (c *Client) RequestQuoteGrant(ctx context.Context, authServer string) (*Grant, error) {
	body := map[string]any{
		"access_token": map[string]any{
			"access": []map[string]any{{
				"type":    "quote",
				"actions": []string{"create", "read"},
			}},
		},
		"client": c.clientAddress,
	}
	var grant Grant
	if err := c.post(ctx, authServer, "", body, &grant); err != nil {
		return nil, fmt.Errorf("quote grant: %w", err)
	}
	return &grant, nil
}

// CreateQuote prices the payment from the sender's wallet to the receiver
// (an incoming payment URL).
func (c *Client) CreateQuote(ctx context.Context, sender *WalletAddress, token, receiver string) (*Quote, error) {
	body := map[string]any{
		"walletAddress": sender.ID,
		"receiver":      receiver,
		"method":        "ilp",
	}
	var quote Quote
	if err := c.post(ctx, sender.ResourceServer+"/quotes", token, body, &quote); err != nil {
		return nil, fmt.Errorf("create quote: %w", err)
	}
	return &quote, nil
}

// RequestOutgoingPaymentGrant asks the sender's auth server for an
// interactive outgoing-payment grant. The response carries the authorization
// redirect the user must visit and the continuation used by finalize.
func (c *Client) RequestOutgoingPaymentGrant(ctx context.Context, sender *WalletAddress, debitAmount, receiveAmount Amount, finishURI, nonce string) (*PendingGrant, error) {
	body := map[string]any{
		"access_token": map[string]any{
			"access": []map[string]any{{
				"type":       "outgoing-payment",
				"actions":    []string{"create", "read"},
				"identifier": sender.ID,
				"limits": map[string]any{
					"debitAmount":   debitAmount,
					"receiveAmount": receiveAmount,
				},
			}},
		},
		"interact": map[string]any{
			"start": []string{"redirect"},
			"finish": map[string]any{
				"method": "redirect",
				"uri":    finishURI,
				"nonce":  nonce,
			},
		},
		"client": c.clientAddress,
	}
	var grant PendingGrant
	if err := c.post(ctx, sender.AuthServer, "", body, &grant); err != nil {
		return nil, fmt.Errorf("outgoing payment grant: %w", err)
	}
	if grant.Interact.Redirect == "" {
		return nil, fmt.Errorf("outgoing payment grant: provider returned no interaction redirect")
	}
	c.logger.Printf("[provider] interactive grant pending, continue=%s", grant.Continue.URI)
	return &grant, nil
}

// ContinueGrant exchanges the pending grant and the one-time interact
// reference for a confirmed grant.
func (c *Client) ContinueGrant(ctx context.Context, pending *PendingGrant, interactRef string) (*Grant, error) {
	if pending == nil || pending.Continue.URI == "" {
		return nil, fmt.Errorf("continue grant: pending grant has no continuation")
	}
	body := map[string]any{"interact_ref": interactRef}
	var grant Grant
	if err := c.post(ctx, pending.Continue.URI, pending.Continue.AccessToken.Value, body, &grant); err != nil {
		return nil, fmt.Errorf("continue grant: %w", err)
	}
	if grant.AccessToken.Value == "" {
		return nil, fmt.Errorf("continue grant: provider returned no access token")
	}
	return &grant, nil
}

// CreateOutgoingPayment spends the confirmed grant on the quoted payment.
func (c *Client) CreateOutgoingPayment(ctx context.Context, sender *WalletAddress, token, quoteID, note string) (*OutgoingPayment, error) {
	body := map[string]any{
		"walletAddress": sender.ID,
		"quoteId":       quoteID,
	}
	if note != "" {
		body["metadata"] = map[string]any{"description": note}
	}
	var payment OutgoingPayment
	if err := c.post(ctx, sender.ResourceServer+"/outgoing-payments", token, body, &payment); err != nil {
		return nil, fmt.Errorf("create outgoing payment: %w", err)
	}
	return &payment, nil
}

// post sends a signed JSON request. A failed signature attempt aborts the
// request; nothing is ever sent unsigned.
func (c *Client) post(ctx context.Context, url, token string, payload, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	headers := http.Header{}
	headers.Set("Accept", "application/json")
	if token != "" {
		headers.Set("Authorization", "GNAP "+token)
	}

	signed, body, err := c.signer.Sign(signing.Request{
		Method:  http.MethodPost,
		URL:     url,
		Headers: headers,
		Body:    raw,
	})
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header = headers
	for k, vs := range signed {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("call %s: status %d: %s", url, resp.StatusCode, bytes.TrimSpace(detail))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response from %s: %w", url, err)
		}
	}
	return nil
}
