package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/vidmesh/vidmesh/internal/event"
)

// DelegatedSigner hands events to an external signing agent the user
// already trusts. The secret never enters this process.
type DelegatedSigner struct {
	agentURL string
	pubkey   string
	client   *http.Client
}

// NewDelegatedSigner connects to the agent and fetches the public key
// it signs for. An unreachable agent fails construction with
// ErrUnavailable so the caller can fall back to asking the user, never
// to a local key.
func NewDelegatedSigner(ctx context.Context, agentURL string) (*DelegatedSigner, error) {
	s := &DelegatedSigner{
		agentURL: agentURL,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, agentURL+"/pubkey", nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: agent returned %d", ErrUnavailable, resp.StatusCode)
	}
	var body struct {
		PubKey string `json:"pubkey"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || len(body.PubKey) != 64 {
		return nil, fmt.Errorf("%w: bad pubkey response", ErrUnavailable)
	}
	s.pubkey = body.PubKey
	return s, nil
}

// PublicKey implements Signer.
func (s *DelegatedSigner) PublicKey() string { return s.pubkey }

// Sign implements Signer. Every failure maps to ErrUnavailable; the
// caller surfaces it rather than retrying with a different key.
func (s *DelegatedSigner) Sign(ctx context.Context, e *event.Event) error {
	if e.PubKey == "" {
		e.PubKey = s.pubkey
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.agentURL+"/sign", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: agent returned %d", ErrUnavailable, resp.StatusCode)
	}
	var signed event.Event
	if err := json.NewDecoder(resp.Body).Decode(&signed); err != nil {
		return fmt.Errorf("%w: bad sign response: %v", ErrUnavailable, err)
	}
	if err := Verify(&signed); err != nil {
		return fmt.Errorf("agent returned invalid signature: %w", err)
	}
	*e = signed
	return nil
}
