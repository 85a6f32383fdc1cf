package openpayments

import (
	"fmt"
	"strings"
)

// Amount is an integer value scaled by 10^-AssetScale. Value stays a string
// end to end; it is never parsed as a float in transport.
type Amount struct {
	Value      string `json:"value"`
	AssetCode  string `json:"assetCode"`
	AssetScale int32  `json:"assetScale"`
}

// Validate checks that Value is a non-negative integer string.
func (a Amount) Validate() error {
	if a.Value == "" {
		return fmt.Errorf("amount value is required")
	}
	for _, r := range a.Value {
		if r < '0' || r > '9' {
			return fmt.Errorf("amount value %q is not a non-negative integer", a.Value)
		}
	}
	if a.AssetCode == "" {
		return fmt.Errorf("amount assetCode is required")
	}
	return nil
}

// Display renders the amount for humans: value "502" at scale 2 with asset
// code USD becomes "USD 5.02". The value string is never parsed as a float.
func (a Amount) Display() string {
	v := a.Value
	if v == "" {
		return ""
	}
	scale := int(a.AssetScale)
	if scale <= 0 {
		return strings.TrimSpace(a.AssetCode + " " + v)
	}
	for len(v) <= scale {
		v = "0" + v
	}
	cut := len(v) - scale
	return strings.TrimSpace(a.AssetCode + " " + v[:cut] + "." + v[cut:])
}

// WalletAddress is the discovery document for a payment account. Immutable
// once fetched.
type WalletAddress struct {
	ID             string `json:"id"`
	AssetCode      string `json:"assetCode"`
	AssetScale     int32  `json:"assetScale"`
	AuthServer     string `json:"authServer"`
	ResourceServer string `json:"resourceServer"`
	PublicName     string `json:"publicName,omitempty"`
}

// Quote is a priced proposal for moving funds between two wallet addresses.
type Quote struct {
	ID            string `json:"id"`
	WalletAddress string `json:"walletAddress"`
	Receiver      string `json:"receiver"`
	DebitAmount   Amount `json:"debitAmount"`
	ReceiveAmount Amount `json:"receiveAmount"`
	Method        string `json:"method"`
	ExpiresAt     string `json:"expiresAt,omitempty"`
}

type TokenInfo struct {
	Value  string `json:"value"`
	Manage string `json:"manage,omitempty"`
}

type ContinueInfo struct {
	AccessToken TokenInfo `json:"access_token"`
	URI         string    `json:"uri"`
	Wait        int       `json:"wait,omitempty"`
}

// Grant is a non-interactive grant response carrying a usable access token.
type Grant struct {
	AccessToken TokenInfo    `json:"access_token"`
	Continue    ContinueInfo `json:"continue"`
}

type InteractInfo struct {
	Redirect string `json:"redirect"`
	Finish   string `json:"finish,omitempty"`
}

// PendingGrant is an authorization request awaiting out-of-band user action.
// Interact.Redirect must be opened in a new browsing context.
type PendingGrant struct {
	Interact InteractInfo `json:"interact"`
	Continue ContinueInfo `json:"continue"`
}

type IncomingPayment struct {
	ID             string  `json:"id"`
	WalletAddress  string  `json:"walletAddress"`
	IncomingAmount *Amount `json:"incomingAmount,omitempty"`
	Completed      bool    `json:"completed,omitempty"`
}

type OutgoingPayment struct {
	ID            string `json:"id"`
	WalletAddress string `json:"walletAddress"`
	QuoteID       string `json:"quoteId,omitempty"`
	Failed        bool   `json:"failed,omitempty"`
}

// CheckPaymentResult is the finalize outcome surfaced to the client.
type CheckPaymentResult struct {
	Success bool             `json:"success"`
	Payment *OutgoingPayment `json:"payment,omitempty"`
	Error   *ErrorDetail     `json:"error,omitempty"`
}

type ErrorDetail struct {
	Message string `json:"message"`
}

// NormalizePointer turns a payment pointer into the wallet address URL it
// resolves to: `$wallet.example/alice` becomes `https://wallet.example/alice`,
// and a bare host gets the well-known discovery path.
func NormalizePointer(pointer string) (string, error) {
	p := strings.TrimSpace(pointer)
	if p == "" {
		return "", fmt.Errorf("wallet address is required")
	}
	if rest, ok := strings.CutPrefix(p, "$"); ok {
		p = "https://" + rest
	}
	// Plain http is tolerated for local development wallets.
	var rest string
	switch {
	case strings.HasPrefix(p, "https://"):
		rest = strings.TrimPrefix(p, "https://")
	case strings.HasPrefix(p, "http://"):
		rest = strings.TrimPrefix(p, "http://")
	default:
		return "", fmt.Errorf("wallet address %q must be a URL or a $ payment pointer", pointer)
	}
	p = strings.TrimSuffix(p, "/")
	// Host-only pointers resolve at the well-known path.
	if !strings.Contains(strings.TrimSuffix(rest, "/"), "/") {
		p += "/.well-known/pay"
	}
	return p, nil
}
