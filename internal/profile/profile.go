// Package profile resolves and publishes user metadata records.
package profile

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/vidmesh/vidmesh/internal/event"
)

// Network is the slice of the protocol client profiles need.
type Network interface {
	PublicKey() string
	Query(ctx context.Context, f event.Filter) ([]*event.Event, error)
	PublishEvent(ctx context.Context, ev *event.Event, difficulty int) error
}

// Profile is a user's published metadata record.
type Profile struct {
	PubKey  string `json:"-"`
	Name    string `json:"name,omitempty"`
	About   string `json:"about,omitempty"`
	Picture string `json:"picture,omitempty"`
}

// DisplayName returns the name, falling back to an abbreviated key for
// users who never published metadata.
func (p Profile) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	if len(p.PubKey) > 8 {
		return p.PubKey[:8]
	}
	return p.PubKey
}

// Manager resolves profiles with a short-lived cache so feed rendering
// does not re-query the same authors over and over.
type Manager struct {
	net    Network
	cache  *gocache.Cache
	logger *slog.Logger
}

// NewManager creates a profile manager with the given cache TTL.
func NewManager(net Network, ttl time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Manager{
		net:    net,
		cache:  gocache.New(ttl, 2*ttl),
		logger: logger.With("component", "profile"),
	}
}

// Get resolves the latest metadata record for a pubkey. A user with no
// published record resolves to a minimal profile rather than an error.
func (m *Manager) Get(ctx context.Context, pubkey string) (Profile, error) {
	if cached, ok := m.cache.Get(pubkey); ok {
		return cached.(Profile), nil
	}
	evs, err := m.net.Query(ctx, event.Filter{
		Kinds:   []int{event.KindProfile},
		Authors: []string{pubkey},
		Limit:   1,
	})
	if err != nil {
		return Profile{}, err
	}
	var latest *event.Event
	for _, ev := range evs {
		if latest == nil || ev.CreatedAt > latest.CreatedAt {
			latest = ev
		}
	}
	p := Profile{PubKey: pubkey}
	if latest != nil {
		if err := json.Unmarshal([]byte(latest.Content), &p); err != nil {
			m.logger.Warn("unparseable profile record", "pubkey", pubkey, "error", err)
		}
		p.PubKey = pubkey
	}
	m.cache.SetDefault(pubkey, p)
	return p, nil
}

// UpdateOwn merges the given fields over the caller's current record
// and republishes it. Empty fields keep their current value.
func (m *Manager) UpdateOwn(ctx context.Context, update Profile) (Profile, error) {
	self := m.net.PublicKey()
	current, err := m.Get(ctx, self)
	if err != nil {
		return Profile{}, err
	}
	if update.Name != "" {
		current.Name = update.Name
	}
	if update.About != "" {
		current.About = update.About
	}
	if update.Picture != "" {
		current.Picture = update.Picture
	}
	current.PubKey = self

	body, err := json.Marshal(current)
	if err != nil {
		return Profile{}, err
	}
	ev := &event.Event{
		PubKey:    self,
		CreatedAt: time.Now().Unix(),
		Kind:      event.KindProfile,
		Tags:      [][]string{}, // relays expect an array, never null
		Content:   string(body),
	}
	if err := m.net.PublishEvent(ctx, ev, 0); err != nil {
		return Profile{}, err
	}
	m.cache.SetDefault(self, current)
	return current, nil
}

// Invalidate drops one pubkey from the cache.
func (m *Manager) Invalidate(pubkey string) {
	m.cache.Delete(pubkey)
}
