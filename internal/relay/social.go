package relay

import (
	"context"
	"time"

	"github.com/vidmesh/vidmesh/internal/event"
)

// Contacts returns the caller's current follow list. The first call
// fetches the latest published contact list; afterwards the local
// cache is authoritative for this session.
func (c *Client) Contacts(ctx context.Context) ([]string, error) {
	c.contactsMu.Lock()
	if c.contactsLoaded {
		out := append([]string(nil), c.contacts...)
		c.contactsMu.Unlock()
		return out, nil
	}
	c.contactsMu.Unlock()

	evs, err := c.Query(ctx, event.Filter{
		Kinds:   []int{event.KindContacts},
		Authors: []string{c.signer.PublicKey()},
		Limit:   1,
	})
	if err != nil {
		return nil, err
	}
	var latest *event.Event
	for _, ev := range evs {
		if latest == nil || ev.CreatedAt > latest.CreatedAt {
			latest = ev
		}
	}
	var contacts []string
	if latest != nil {
		contacts = latest.TagValues("p")
	}

	c.contactsMu.Lock()
	c.contacts = contacts
	c.contactsLoaded = true
	out := append([]string(nil), c.contacts...)
	c.contactsMu.Unlock()
	return out, nil
}

// publishContacts republishes the full list; the network keeps only
// the latest version, so omitted entries are removed.
func (c *Client) publishContacts(ctx context.Context, contacts []string) error {
	tags := make([][]string, 0, len(contacts))
	for _, pk := range contacts {
		tags = append(tags, []string{"p", pk})
	}
	ev := &event.Event{
		PubKey:    c.signer.PublicKey(),
		CreatedAt: time.Now().Unix(),
		Kind:      event.KindContacts,
		Tags:      tags,
	}
	if err := c.PublishEvent(ctx, ev, 0); err != nil {
		return err
	}
	c.contactsMu.Lock()
	c.contacts = contacts
	c.contactsLoaded = true
	c.contactsMu.Unlock()
	return nil
}

// Follow adds pubkey to the contact list. Already-following is a
// no-op, not an error.
func (c *Client) Follow(ctx context.Context, pubkey string) error {
	contacts, err := c.Contacts(ctx)
	if err != nil {
		return err
	}
	for _, pk := range contacts {
		if pk == pubkey {
			return nil
		}
	}
	return c.publishContacts(ctx, append(contacts, pubkey))
}

// Unfollow removes pubkey from the contact list; idempotent.
func (c *Client) Unfollow(ctx context.Context, pubkey string) error {
	contacts, err := c.Contacts(ctx)
	if err != nil {
		return err
	}
	kept := contacts[:0]
	removed := false
	for _, pk := range contacts {
		if pk == pubkey {
			removed = true
			continue
		}
		kept = append(kept, pk)
	}
	if !removed {
		return nil
	}
	return c.publishContacts(ctx, kept)
}

// Like toggles the caller's reaction on an item and returns the new
// state. The toggle is recorded locally first; network publication is
// best-effort, per the rule that local interaction state survives
// relay failures.
func (c *Client) Like(ctx context.Context, item *event.ContentItem) (bool, error) {
	c.likedMu.Lock()
	reactionID, liked := c.liked[item.ID]
	c.likedMu.Unlock()

	if liked {
		// Un-like: retract the earlier reaction.
		c.likedMu.Lock()
		delete(c.liked, item.ID)
		c.likedMu.Unlock()
		ev := &event.Event{
			PubKey:    c.signer.PublicKey(),
			CreatedAt: time.Now().Unix(),
			Kind:      event.KindDeletion,
			Tags:      [][]string{{"e", reactionID}},
		}
		if err := c.PublishEvent(ctx, ev, 0); err != nil {
			c.logger.Warn("reaction retraction not published", "event", reactionID, "error", err)
		}
		return false, nil
	}

	ev := &event.Event{
		PubKey:    c.signer.PublicKey(),
		CreatedAt: time.Now().Unix(),
		Kind:      event.KindReaction,
		Tags: [][]string{
			{"e", item.ID},
			{"p", item.Author},
		},
		Content: "❤️",
	}
	if err := c.sign(ctx, ev, c.opts.PowDifficulty); err != nil {
		return false, err
	}
	c.likedMu.Lock()
	c.liked[item.ID] = ev.ID
	c.likedMu.Unlock()
	if err := c.broadcast(ctx, ev); err != nil {
		c.logger.Warn("like not published", "item", item.ID, "error", err)
	}
	return true, nil
}

// Report publishes an abuse report. Reports carry a separate, higher
// proof-of-work difficulty to deter flooding, and are append-only.
func (c *Client) Report(ctx context.Context, itemID, authorPubkey, reason string) error {
	ev := &event.Event{
		PubKey:    c.signer.PublicKey(),
		CreatedAt: time.Now().Unix(),
		Kind:      event.KindReport,
		Tags: [][]string{
			{"e", itemID, reason},
			{"p", authorPubkey, reason},
		},
		Content: reason,
	}
	return c.PublishEvent(ctx, ev, c.opts.ReportPowDifficulty)
}
