package transport

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"lukechampine.com/blake3"
)

// pieceDigest is the per-piece transfer digest exchanged between
// peers; it catches corruption early, before the whole content is
// down.
func pieceDigest(data []byte) []byte {
	sum := blake3.Sum256(data)
	return sum[:]
}

// Verifier checks retrieved content against a publisher-declared hex
// sha256 digest. An empty declaration verifies everything.
type Verifier struct {
	declared string
}

// NewVerifier validates the declared digest encoding up front so a
// garbage declaration fails the stream before any bytes move.
func NewVerifier(declaredHex string) (*Verifier, error) {
	if declaredHex != "" {
		raw, err := hex.DecodeString(declaredHex)
		if err != nil || len(raw) != sha256.Size {
			return nil, newError(CodeIntegrityMismatch,
				fmt.Sprintf("declared hash %q is not a hex sha256", declaredHex), err)
		}
	}
	return &Verifier{declared: declaredHex}, nil
}

// Verify digests the full content and compares. A session must never
// report success when this fails.
func (v *Verifier) Verify(data []byte) error {
	if v.declared == "" {
		return nil
	}
	sum := sha256.Sum256(data)
	actual := hex.EncodeToString(sum[:])
	if actual != v.declared {
		return newError(CodeIntegrityMismatch,
			fmt.Sprintf("content digest %s does not match declared %s", actual, v.declared), nil)
	}
	return nil
}

// Enabled reports whether a digest was declared.
func (v *Verifier) Enabled() bool { return v.declared != "" }
