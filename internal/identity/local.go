package identity

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/vidmesh/vidmesh/internal/event"
)

const keyFile = "identity.key"

// LocalSigner signs with a secp256k1 key held in process.
type LocalSigner struct {
	priv   *btcec.PrivateKey
	pubHex string
}

// NewLocalSigner wraps an existing 32-byte secret.
func NewLocalSigner(secret []byte) (*LocalSigner, error) {
	if len(secret) != 32 {
		return nil, fmt.Errorf("secret must be 32 bytes, got %d", len(secret))
	}
	priv, _ := btcec.PrivKeyFromBytes(secret)
	return &LocalSigner{
		priv:   priv,
		pubHex: hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey())),
	}, nil
}

// LoadOrCreate reads the long-lived identity secret from dataDir,
// generating and persisting a fresh one on first run.
func LoadOrCreate(dataDir string) (*LocalSigner, error) {
	path := filepath.Join(dataDir, keyFile)
	data, err := os.ReadFile(path)
	if err == nil {
		secret, err := hex.DecodeString(string(data))
		if err != nil {
			return nil, fmt.Errorf("corrupt identity file %s: %w", path, err)
		}
		return NewLocalSigner(secret)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read identity: %w", err)
	}

	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	secret := priv.Serialize()
	if err := os.WriteFile(path, []byte(hex.EncodeToString(secret)), 0600); err != nil {
		return nil, fmt.Errorf("persist identity: %w", err)
	}
	return NewLocalSigner(secret)
}

// PublicKey implements Signer.
func (s *LocalSigner) PublicKey() string { return s.pubHex }

// Sign implements Signer. The event's pubkey must be this identity's.
func (s *LocalSigner) Sign(_ context.Context, e *event.Event) error {
	if e.PubKey == "" {
		e.PubKey = s.pubHex
	}
	if e.PubKey != s.pubHex {
		return fmt.Errorf("event pubkey %s does not match signer", e.PubKey)
	}
	if e.ID == "" {
		e.ID = e.ComputeID()
	}
	idBytes, err := hex.DecodeString(e.ID)
	if err != nil {
		return fmt.Errorf("bad event id: %w", err)
	}
	sig, err := schnorr.Sign(s.priv, idBytes)
	if err != nil {
		return fmt.Errorf("schnorr sign: %w", err)
	}
	e.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}
