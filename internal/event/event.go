// Package event implements the signed event model shared by the relay
// protocol and the feed: canonical serialization, content-derived
// identifiers, proof-of-work minting and the video item tag encoding.
package event

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Event kinds understood by this client.
const (
	KindProfile  = 0
	KindContacts = 3
	KindDeletion = 5
	KindReaction = 7
	KindReport   = 1984
	KindVideo    = 36234
)

// Event is one signed, timestamped record on the relay network.
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// Serialize returns the canonical byte form the event ID is derived
// from: a compact JSON array [0, pubkey, created_at, kind, tags,
// content] with HTML escaping disabled, so the digest matches what
// other clients on the network compute.
func (e *Event) Serialize() []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encode never fails for these types.
	_ = enc.Encode([]interface{}{0, e.PubKey, e.CreatedAt, e.Kind, e.Tags, e.Content})
	return bytes.TrimRight(buf.Bytes(), "\n")
}

// ComputeID returns the hex sha256 of the canonical serialization.
func (e *Event) ComputeID() string {
	sum := sha256.Sum256(e.Serialize())
	return hex.EncodeToString(sum[:])
}

// CheckID reports whether the declared ID matches the content.
func (e *Event) CheckID() bool {
	return e.ID == e.ComputeID()
}

// Tag returns the first value of the named tag, or "".
func (e *Event) Tag(name string) string {
	for _, t := range e.Tags {
		if len(t) >= 2 && t[0] == name {
			return t[1]
		}
	}
	return ""
}

// TagValues returns every value of a repeatable tag.
func (e *Event) TagValues(name string) []string {
	var out []string
	for _, t := range e.Tags {
		if len(t) >= 2 && t[0] == name {
			out = append(out, t[1])
		}
	}
	return out
}

// SetTag replaces the first occurrence of the named tag, appending it
// if absent.
func (e *Event) SetTag(tag []string) {
	for i, t := range e.Tags {
		if len(t) > 0 && len(tag) > 0 && t[0] == tag[0] {
			e.Tags[i] = tag
			return
		}
	}
	e.Tags = append(e.Tags, tag)
}

// Validate performs the structural checks done on every inbound event
// before it reaches the feed.
func (e *Event) Validate() error {
	if len(e.PubKey) != 64 {
		return fmt.Errorf("event %s: bad pubkey length %d", e.ID, len(e.PubKey))
	}
	if _, err := hex.DecodeString(e.PubKey); err != nil {
		return fmt.Errorf("event %s: pubkey not hex: %w", e.ID, err)
	}
	if !e.CheckID() {
		return fmt.Errorf("event %s: id does not match content", e.ID)
	}
	return nil
}
