// Package identity holds the keypair capability. Callers depend on the
// Signer interface only; whether signing is local or delegated to an
// external agent is decided once at startup.
package identity

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/vidmesh/vidmesh/internal/event"
)

// ErrUnavailable is returned by a delegated signer whose agent cannot
// be reached. There is no silent fallback to a local key.
var ErrUnavailable = errors.New("signer unavailable")

// Signer produces signatures over event payloads.
type Signer interface {
	// PublicKey returns the hex-encoded 32-byte x-only public key.
	PublicKey() string
	// Sign fills in the event's ID and Sig. The ID must already be
	// computed (or is computed here) from the canonical serialization.
	Sign(ctx context.Context, e *event.Event) error
}

// Verify checks an event's signature against its declared pubkey and
// content-derived ID.
func Verify(e *event.Event) error {
	if !e.CheckID() {
		return fmt.Errorf("event %s: id mismatch", e.ID)
	}
	pubBytes, err := hex.DecodeString(e.PubKey)
	if err != nil || len(pubBytes) != 32 {
		return fmt.Errorf("event %s: bad pubkey", e.ID)
	}
	pub, err := schnorr.ParsePubKey(pubBytes)
	if err != nil {
		return fmt.Errorf("event %s: parse pubkey: %w", e.ID, err)
	}
	sigBytes, err := hex.DecodeString(e.Sig)
	if err != nil {
		return fmt.Errorf("event %s: bad sig encoding: %w", e.ID, err)
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return fmt.Errorf("event %s: parse sig: %w", e.ID, err)
	}
	idBytes, err := hex.DecodeString(e.ID)
	if err != nil {
		return fmt.Errorf("event %s: bad id encoding: %w", e.ID, err)
	}
	if !sig.Verify(idBytes, pub) {
		return fmt.Errorf("event %s: signature invalid", e.ID)
	}
	return nil
}
