// Package feed maintains the visible content timeline: a live,
// trust-gated, newest-first window over video events from the relay
// set.
package feed

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/vidmesh/vidmesh/internal/event"
)

// Mode selects which authors populate the timeline.
type Mode int

const (
	// ModeGlobal shows every author the relays carry.
	ModeGlobal Mode = iota
	// ModeFollowing restricts the timeline to the caller's contacts.
	ModeFollowing
)

func (m Mode) String() string {
	if m == ModeFollowing {
		return "following"
	}
	return "global"
}

// Canceler tears down a live subscription.
type Canceler interface {
	Cancel()
}

// Network is the slice of the protocol client the feed needs.
type Network interface {
	Subscribe(filters []event.Filter, onEvent func(*event.Event)) Canceler
	Contacts(ctx context.Context) ([]string, error)
}

// Gate decides whether an author's content is visible.
type Gate interface {
	ShouldHide(pubkey string) bool
}

// Coordinator holds the current timeline window. One instance per
// client; switching modes replaces the subscription and resets the
// window.
type Coordinator struct {
	net    Network
	gate   Gate
	window int
	logger *slog.Logger

	mu       sync.Mutex
	mode     Mode
	items    []*event.ContentItem
	seen     map[string]struct{}
	sub      Canceler
	onChange func([]*event.ContentItem)
}

// NewCoordinator creates a feed over the given network with the given
// visibility gate. window bounds how many items stay resident.
func NewCoordinator(net Network, gate Gate, window int, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if window <= 0 {
		window = 50
	}
	return &Coordinator{
		net:    net,
		gate:   gate,
		window: window,
		logger: logger.With("component", "feed"),
		seen:   make(map[string]struct{}),
	}
}

// Subscribe switches the timeline to the given mode. Any previous
// subscription is cancelled and the window restarts empty. onChange
// fires with a fresh snapshot after every visible mutation, the initial
// empty window included.
func (c *Coordinator) Subscribe(ctx context.Context, mode Mode, onChange func([]*event.ContentItem)) error {
	filter := event.Filter{
		Kinds: []int{event.KindVideo},
		Limit: c.window,
	}
	if mode == ModeFollowing {
		contacts, err := c.net.Contacts(ctx)
		if err != nil {
			return err
		}
		filter.Authors = contacts
	}

	c.mu.Lock()
	if c.sub != nil {
		c.sub.Cancel()
		c.sub = nil
	}
	c.mode = mode
	c.items = nil
	c.seen = make(map[string]struct{})
	c.onChange = onChange
	c.mu.Unlock()

	c.notify()

	// following nobody means an empty timeline, not an unfiltered one
	if mode == ModeFollowing && len(filter.Authors) == 0 {
		c.logger.Info("feed active", "mode", mode.String(), "authors", 0)
		return nil
	}

	sub := c.net.Subscribe([]event.Filter{filter}, c.ingest)
	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()
	c.logger.Info("feed active", "mode", mode.String(), "authors", len(filter.Authors))
	return nil
}

// ingest admits one live event into the window.
func (c *Coordinator) ingest(ev *event.Event) {
	item, err := event.ParseContentItem(ev)
	if err != nil {
		c.logger.Debug("skipping unplayable event", "event", ev.ID, "error", err)
		return
	}
	if c.gate.ShouldHide(item.Author) {
		c.logger.Debug("author below visibility threshold", "author", item.Author)
		return
	}

	c.mu.Lock()
	if _, dup := c.seen[item.ID]; dup {
		c.mu.Unlock()
		return
	}
	c.seen[item.ID] = struct{}{}
	c.items = append(c.items, item)
	// arrival order is relay order, not publish order
	sort.SliceStable(c.items, func(i, j int) bool {
		return c.items[i].CreatedAt > c.items[j].CreatedAt
	})
	if len(c.items) > c.window {
		c.items = c.items[:c.window]
	}
	c.mu.Unlock()

	c.notify()
}

// RemoveAuthor drops an author's items from the window, used when a
// report pushes them below the visibility threshold mid-session.
func (c *Coordinator) RemoveAuthor(pubkey string) {
	c.mu.Lock()
	kept := c.items[:0]
	removed := false
	for _, item := range c.items {
		if item.Author == pubkey {
			removed = true
			continue
		}
		kept = append(kept, item)
	}
	c.items = kept
	c.mu.Unlock()
	if removed {
		c.notify()
	}
}

// Items returns the current window, newest first.
func (c *Coordinator) Items() []*event.ContentItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*event.ContentItem(nil), c.items...)
}

// Mode returns the active timeline mode.
func (c *Coordinator) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Close cancels the live subscription.
func (c *Coordinator) Close() {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
}

func (c *Coordinator) notify() {
	c.mu.Lock()
	fn := c.onChange
	snapshot := append([]*event.ContentItem(nil), c.items...)
	c.mu.Unlock()
	if fn != nil {
		fn(snapshot)
	}
}
