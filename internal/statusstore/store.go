package statusstore

import (
	"context"
	"errors"
)

// KeyPrefix namespaces payment status records in shared backends.
const KeyPrefix = "payment-status:"

// ResultGrantRejected marks a status record written after the user declined
// the authorization interaction.
const ResultGrantRejected = "grant_rejected"

// PaymentStatus is the terminal outcome of a grant interaction. Exactly one
// record is ever written per payment id, and it is never mutated.
type PaymentStatus struct {
	PaymentID   string `json:"paymentId"`
	InteractRef string `json:"interact_ref,omitempty"`
	Hash        string `json:"hash,omitempty"`
	Result      string `json:"result,omitempty"`
}

// Rejected reports whether the user declined the authorization.
func (s PaymentStatus) Rejected() bool {
	return s.Result == ResultGrantRejected
}

var (
	// ErrNotFound means no record exists (yet) for the payment id.
	ErrNotFound = errors.New("payment status not found")
	// ErrAlreadyWritten means a record already exists; records are write-once.
	ErrAlreadyWritten = errors.New("payment status already written")
)

// Store maps a payment id to its terminal status record with bounded
// retention. Point reads and writes only; no cross-key coordination.
type Store interface {
	Get(ctx context.Context, paymentID string) (PaymentStatus, error)
	Put(ctx context.Context, paymentID string, status PaymentStatus) error
}
