// Package lightning adapts a Lightning backend for the gateway peer:
// creating (optionally HODL-style) invoices, paying
// invoices, and subscribing to settlement notifications.
package lightning

import "context"

type State int

const (
	Pending State = iota
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Succeeded:
		return "SUCCEEDED"
	case Failed:
		return "FAILED"
	default:
		return "PENDING"
	}
}

type Invoice struct {
	PaymentRequest string
	PaymentHash    string
	Preimage       string
	Status         State
	Amount         uint64
}

type PaymentStatus struct {
	Preimage string
	Status   State
}

// PaymentNotification is delivered on a Subscribe channel whenever an
// invoice's status changes; delivery is at-least-once, so peers dedupe by
// PaymentHash/Preimage.
type PaymentNotification struct {
	PaymentHash string
	Preimage    string
	Status      State
}

// Client is the surface the peer state machines depend on. MakeInvoice
// binds the new invoice's payment hash to preimageHash when the backend
// supports HODL invoices (non-empty preimageHash); backends that can't
// hold a payment pending an externally-supplied preimage should reject a
// non-empty preimageHash rather than silently generating their own.
type Client interface {
	MakeInvoice(amount uint64, preimageHash string, memo string) (Invoice, error)
	LookupInvoice(paymentHash string) (Invoice, error)
	PayInvoice(ctx context.Context, invoice string, maxFeeMsat uint64) (PaymentStatus, error)
	Subscribe(paymentHash string) (<-chan PaymentNotification, error)
}

// HodlClient is implemented by backends (FakeHodlBackend, a real HODL-
// invoice-capable node) that can hold an incoming payment pending an
// explicit settle/cancel decision instead of auto-accepting once the
// preimage hash is satisfied.
type HodlClient interface {
	Client
	SettleInvoice(paymentHash string, preimage string) error
	CancelInvoice(paymentHash string) error
}
