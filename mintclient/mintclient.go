// Package mintclient talks to a Cashu mint's HTTP API: fetching keysets
// and performing swaps (NUT-03) to turn one set of proofs into another,
// which is how a peer in this protocol both mints blinded HTLC/P2PK
// outputs and redeems proofs it receives.
package mintclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/elnosh/htlcswap/blindedoutput"
	"github.com/elnosh/htlcswap/contract"
	"github.com/elnosh/htlcswap/crypto"
)

type Client struct {
	MintURL    string
	httpClient *http.Client

	cache *KeysetCache
}

func New(mintURL string) *Client {
	return &Client{MintURL: mintURL, httpClient: http.DefaultClient}
}

// SetCache attaches a persistent keyset cache, so LoadKeysets survives a
// process restart instead of always round-tripping to the mint.
func (c *Client) SetCache(cache *KeysetCache) {
	c.cache = cache
}

// LoadKeysets returns the mint's active sat keyset, seeded from the local
// cache if one is attached. On a cache miss it fetches the keyset live and
// persists it, so later restarts find it already on disk.
func (c *Client) LoadKeysets() (*ActiveKeyset, error) {
	if c.cache != nil {
		if ks, ok := c.cache.get(c.MintURL); ok {
			return ks, nil
		}
	}

	ks, err := c.ActiveSatKeyset()
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.save(c.MintURL, ks); err != nil {
			return nil, err
		}
	}
	return ks, nil
}

// ActiveKeyset is the subset of a mint's published keyset a peer needs to
// blind outputs and unblind signatures: its id and per-amount pubkeys.
type ActiveKeyset struct {
	Id   string
	Unit string
	Keys crypto.PublicKeys
}

// ActiveSatKeyset fetches the mint's currently active sat-denominated
// keyset. A mint may publish several (old ones kept for unblinding
// existing proofs); this protocol always mints new outputs under the
// first sat keyset returned.
func (c *Client) ActiveSatKeyset() (*ActiveKeyset, error) {
	resp, err := c.get("/v1/keys")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Keysets []json.RawMessage `json:"keysets"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("error reading response from mint: %v", err)
	}

	for _, entry := range raw.Keysets {
		var tmp struct {
			Id   string          `json:"id"`
			Unit string          `json:"unit"`
			Keys json.RawMessage `json:"keys"`
		}
		if err := json.Unmarshal(entry, &tmp); err != nil {
			return nil, err
		}
		if tmp.Unit != contract.Unit {
			continue
		}

		keys := make(crypto.PublicKeys)
		if err := json.Unmarshal(tmp.Keys, &keys); err != nil {
			return nil, err
		}
		return &ActiveKeyset{Id: tmp.Id, Unit: tmp.Unit, Keys: keys}, nil
	}

	return nil, fmt.Errorf("mint %s has no active %s keyset", c.MintURL, contract.Unit)
}

type swapRequest struct {
	Inputs  contract.Proofs          `json:"inputs"`
	Outputs contract.BlindedMessages `json:"outputs"`
}

type swapResponse struct {
	Signatures contract.BlindedSignatures `json:"signatures"`
}

// Swap exchanges inputs for fresh signatures over outputs (NUT-03). Used
// both to redeem received proofs and to mint the blinded HTLC/P2PK
// outputs this protocol's handshakes require.
func (c *Client) Swap(inputs contract.Proofs, outputs contract.BlindedMessages) (contract.BlindedSignatures, error) {
	reqBody, err := json.Marshal(swapRequest{Inputs: inputs, Outputs: outputs})
	if err != nil {
		return nil, fmt.Errorf("error marshaling swap request: %v", err)
	}

	resp, err := c.post("/v1/swap", reqBody)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var swapResp swapResponse
	if err := json.NewDecoder(resp.Body).Decode(&swapResp); err != nil {
		return nil, fmt.Errorf("error decoding swap response: %v", err)
	}
	return swapResp.Signatures, nil
}

// Receive redeems proofs for a freshly blinded set locked under cond,
// instead of trusting a bearer token's proofs straight into a store: any
// proof witness required to spend the input (e.g. a P2PK signature proving
// the receiver unlocked it) must already be attached by the caller.
// Grounded on the teacher's wallet.Wallet.Receive, which always swaps a
// received token's proofs into fresh outputs of the wallet's own before
// storing anything.
func (c *Client) Receive(proofs contract.Proofs, keyset *ActiveKeyset, cond contract.SpendingCondition) (contract.Proofs, error) {
	if len(proofs) == 0 {
		return nil, fmt.Errorf("no proofs to receive")
	}

	set, err := blindedoutput.New(proofs.Amount(), keyset.Id, cond)
	if err != nil {
		return nil, err
	}

	signatures, err := c.Swap(proofs, set.Messages)
	if err != nil {
		return nil, err
	}

	return set.Unblind(signatures, keyset.KeyMap())
}

func (c *Client) get(path string) (*http.Response, error) {
	resp, err := c.httpClient.Get(c.MintURL + path)
	if err != nil {
		return nil, err
	}
	return parse(resp)
}

func (c *Client) post(path string, body []byte) (*http.Response, error) {
	resp, err := c.httpClient.Post(c.MintURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	return parse(resp)
}

func parse(resp *http.Response) (*http.Response, error) {
	if resp.StatusCode == http.StatusBadRequest {
		var mintErr contract.MintError
		if err := json.NewDecoder(resp.Body).Decode(&mintErr); err != nil {
			return nil, fmt.Errorf("could not decode error response from mint: %v", err)
		}
		return nil, mintErr
	}

	if resp.StatusCode != http.StatusOK {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%s", body)
	}

	return resp, nil
}

// PubKey returns the mint's sat pubkey for a given amount, for callers
// that need to unblind a signature outside of blindedoutput.Set.Unblind.
func (ks *ActiveKeyset) PubKey(amount uint64) (*secp256k1.PublicKey, error) {
	key, ok := ks.Keys[amount]
	if !ok {
		return nil, fmt.Errorf("no mint key for amount %d in keyset %s", amount, ks.Id)
	}
	return key, nil
}

// KeyMap returns the full amount -> pubkey map, for blindedoutput.Set.Unblind.
func (ks *ActiveKeyset) KeyMap() map[uint64]*secp256k1.PublicKey {
	m := make(map[uint64]*secp256k1.PublicKey, len(ks.Keys))
	for amt, key := range ks.Keys {
		m[amt] = key
	}
	return m
}
