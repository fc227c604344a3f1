package wallet

import (
	"encoding/json"
	"fmt"

	"github.com/tolelom/continuity/crypto"
	"github.com/tolelom/continuity/dag"
)

// Wallet holds a key pair and provides operation-event-building helpers.
type Wallet struct {
	priv crypto.PrivateKey
	pub  crypto.PublicKey
}

// New creates a Wallet from an existing private key.
func New(priv crypto.PrivateKey) *Wallet {
	return &Wallet{priv: priv, pub: priv.Public()}
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate() (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(priv), nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// PubKey returns the hex-encoded ed25519 public key, which doubles as the
// DAG Creator field (spec.md §3: Creator carries the full public key, not
// a truncated address, so signature verification needs no separate
// identity lookup).
func (w *Wallet) PubKey() string {
	return w.pub.Hex()
}

// Address returns the short human-readable address (hex of the first 20
// bytes of the pubkey's blake2b-256 hash), used only for display.
func (w *Wallet) Address() string {
	return w.pub.Address()
}

// NewOperationEvent builds a signed regular event carrying operation as
// its opaque payload, extending the wallet's own chain from parent (its
// current local branch head or the genesis merge event).
func (w *Wallet) NewOperationEvent(parent *dag.Event, operation any) (*dag.Event, error) {
	payload, err := json.Marshal(operation)
	if err != nil {
		return nil, fmt.Errorf("wallet: marshal operation: %w", err)
	}
	ev := &dag.Event{
		Kind:             dag.KindRegular,
		Creator:          w.pub.Hex(),
		TreeHash:         parent.EventHash,
		ParentHash:       []string{parent.EventHash},
		BasisBlockHeight: parent.BasisBlockHeight,
		MergeHeight:      parent.MergeHeight + 1,
		Operation:        payload,
	}
	if err := ev.Sign(w.priv); err != nil {
		return nil, fmt.Errorf("wallet: sign operation event: %w", err)
	}
	return ev, nil
}
