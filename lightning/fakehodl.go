package lightning

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/zpay32"
	decodepay "github.com/nbd-wtf/ln-decodepay"
)

var (
	ErrInvoiceNotFound = errors.New("invoice does not exist")
	ErrAlreadySettled  = errors.New("invoice already settled")
)

// FailDescription, when used as an invoice memo, makes FakeHodlBackend
// fail any attempt to pay it.
const FailDescription = "fail the payment"

type fakeInvoice struct {
	Invoice
	subscribers []chan PaymentNotification
}

// FakeHodlBackend is an in-memory Lightning backend with genuine HODL
// semantics: MakeInvoice with a non-empty preimageHash creates an invoice
// that only becomes Succeeded once SettleInvoice is called with a
// matching preimage, same as a real HODL-invoice-capable node holds the
// incoming HTLC until the application decides to settle or cancel.
type FakeHodlBackend struct {
	mu       sync.Mutex
	invoices map[string]*fakeInvoice // keyed by payment hash
}

func NewFakeHodlBackend() *FakeHodlBackend {
	return &FakeHodlBackend{invoices: make(map[string]*fakeInvoice)}
}

func (fb *FakeHodlBackend) MakeInvoice(amount uint64, preimageHash string, memo string) (Invoice, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	var paymentHash [32]byte
	if preimageHash != "" {
		decoded, err := hex.DecodeString(preimageHash)
		if err != nil || len(decoded) != 32 {
			return Invoice{}, fmt.Errorf("invalid preimage hash")
		}
		copy(paymentHash[:], decoded)
	} else {
		if _, err := rand.Read(paymentHash[:]); err != nil {
			return Invoice{}, err
		}
	}
	hashHex := hex.EncodeToString(paymentHash[:])

	req, err := buildBolt11(paymentHash, amount, memo)
	if err != nil {
		return Invoice{}, err
	}

	inv := &fakeInvoice{Invoice: Invoice{
		PaymentRequest: req,
		PaymentHash:    hashHex,
		Status:         Pending,
		Amount:         amount,
	}}
	fb.invoices[hashHex] = inv
	return inv.Invoice, nil
}

func (fb *FakeHodlBackend) LookupInvoice(paymentHash string) (Invoice, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	inv, ok := fb.invoices[paymentHash]
	if !ok {
		return Invoice{}, ErrInvoiceNotFound
	}
	return inv.Invoice, nil
}

// SettleInvoice reveals preimage and marks the invoice Succeeded,
// notifying every subscriber.
func (fb *FakeHodlBackend) SettleInvoice(paymentHash string, preimage string) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	inv, ok := fb.invoices[paymentHash]
	if !ok {
		return ErrInvoiceNotFound
	}
	if inv.Status == Succeeded {
		return ErrAlreadySettled
	}

	hash := sha256.Sum256(mustDecodeHex(preimage))
	if hex.EncodeToString(hash[:]) != paymentHash {
		return fmt.Errorf("preimage does not match payment hash")
	}

	inv.Preimage = preimage
	inv.Status = Succeeded
	fb.notify(inv)
	return nil
}

func (fb *FakeHodlBackend) CancelInvoice(paymentHash string) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	inv, ok := fb.invoices[paymentHash]
	if !ok {
		return ErrInvoiceNotFound
	}
	inv.Status = Failed
	fb.notify(inv)
	return nil
}

func (fb *FakeHodlBackend) notify(inv *fakeInvoice) {
	for _, ch := range inv.subscribers {
		select {
		case ch <- PaymentNotification{PaymentHash: inv.PaymentHash, Preimage: inv.Preimage, Status: inv.Status}:
		default:
		}
	}
}

func (fb *FakeHodlBackend) Subscribe(paymentHash string) (<-chan PaymentNotification, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	inv, ok := fb.invoices[paymentHash]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	ch := make(chan PaymentNotification, 4)
	inv.subscribers = append(inv.subscribers, ch)
	return ch, nil
}

// PayInvoice decodes request, locates a matching invoice already known to
// this backend (simulating this node being the payment's destination or
// a peer sharing the same fake Lightning network), and reports that
// invoice's current state without settling it: Failed if its memo is
// FailDescription or it was canceled, Pending until the receiving side
// calls SettleInvoice, and Succeeded with the preimage after that. An
// invoice this backend does not know is an error.
func (fb *FakeHodlBackend) PayInvoice(ctx context.Context, request string, maxFeeMsat uint64) (PaymentStatus, error) {
	decoded, err := decodepay.Decodepay(request)
	if err != nil {
		return PaymentStatus{}, fmt.Errorf("error decoding invoice: %v", err)
	}

	fb.mu.Lock()
	inv, known := fb.invoices[decoded.PaymentHash]
	fb.mu.Unlock()

	if decoded.Description == FailDescription {
		return PaymentStatus{Status: Failed}, nil
	}

	if !known {
		return PaymentStatus{Status: Failed}, fmt.Errorf("unknown invoice for this fake network")
	}
	if inv.Status == Pending {
		return PaymentStatus{Status: Pending}, nil
	}
	if inv.Status == Failed {
		return PaymentStatus{Status: Failed}, nil
	}
	return PaymentStatus{Preimage: inv.Preimage, Status: Succeeded}, nil
}

func buildBolt11(paymentHash [32]byte, amount uint64, memo string) (string, error) {
	invoice, err := zpay32.NewInvoice(
		&chaincfg.SigNetParams,
		paymentHash,
		nowFunc(),
		zpay32.Amount(lnwire.MilliSatoshi(amount*1000)),
		zpay32.Description(memo),
	)
	if err != nil {
		return "", err
	}

	return invoice.Encode(zpay32.MessageSigner{
		SignCompact: func(msg []byte) ([]byte, error) {
			key, err := secp256k1.GeneratePrivateKey()
			if err != nil {
				return nil, err
			}
			return ecdsa.SignCompact(key, msg, true), nil
		},
	})
}

// nowFunc exists so tests constructing invoices don't depend on wall
// clock jitter between encode calls.
var nowFunc = time.Now

func mustDecodeHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}
