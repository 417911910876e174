// Package relay implements the protocol client: identity-scoped
// publication and subscription against a set of independent relay
// endpoints, with proof-of-work minting, cross-endpoint deduplication
// and social-graph mutation. No endpoint is authoritative; every
// operation fans out and merges.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vidmesh/vidmesh/internal/event"
	"github.com/vidmesh/vidmesh/internal/identity"
)

// queryBatch bounds id/author list sizes per filter to respect relay
// query limits; larger lists are split and merged client-side.
const queryBatch = 100

// Options tunes the client.
type Options struct {
	PowDifficulty       int
	ReportPowDifficulty int
	Timeout             time.Duration // per-relay operation timeout
}

// Client is the protocol client. Construct once at startup and pass by
// handle.
type Client struct {
	signer identity.Signer
	conns  []*Conn
	opts   Options
	logger *slog.Logger

	likedMu sync.Mutex
	liked   map[string]string // content id -> our reaction event id

	contactsMu     sync.Mutex
	contacts       []string
	contactsLoaded bool
}

// New dials every configured relay. Individual relays being down is
// not an error; their redial loops keep working in the background.
func New(ctx context.Context, urls []string, signer identity.Signer, opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	c := &Client{
		signer: signer,
		opts:   opts,
		logger: logger,
		liked:  make(map[string]string),
	}
	for _, u := range urls {
		c.conns = append(c.conns, Dial(ctx, u, logger))
	}
	return c
}

// Close tears down every relay connection.
func (c *Client) Close() {
	for _, conn := range c.conns {
		conn.Close()
	}
}

// PublicKey returns the identity this client publishes under.
func (c *Client) PublicKey() string { return c.signer.PublicKey() }

// sign mines proof-of-work at the given difficulty, then signs.
func (c *Client) sign(ctx context.Context, ev *event.Event, difficulty int) error {
	if ev.PubKey == "" {
		ev.PubKey = c.signer.PublicKey()
	}
	if err := event.MinePow(ctx, ev, difficulty); err != nil {
		return err
	}
	if err := c.signer.Sign(ctx, ev); err != nil {
		if errors.Is(err, identity.ErrUnavailable) {
			return newError(CodeSignerUnavailable, "delegated signer unavailable", err)
		}
		return err
	}
	return nil
}

// verifyInbound gates everything a relay hands us. Endpoints are
// untrusted: an event whose id does not match its content or whose
// signature does not check out against its claimed author never
// reaches a subscriber.
func (c *Client) verifyInbound(ev *event.Event) bool {
	if err := ev.Validate(); err != nil {
		c.logger.Warn("dropping malformed event", "event", ev.ID, "error", err)
		return false
	}
	if err := identity.Verify(ev); err != nil {
		c.logger.Warn("dropping event with bad signature", "event", ev.ID, "pubkey", ev.PubKey, "error", err)
		return false
	}
	return true
}

// broadcast fans the signed event out to every relay. Succeeds when at
// least one endpoint accepts; per-endpoint failures are logged.
func (c *Client) broadcast(ctx context.Context, ev *event.Event) error {
	var accepted int32
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, conn := range c.conns {
		conn := conn
		g.Go(func() error {
			pubCtx, cancel := context.WithTimeout(gctx, c.opts.Timeout)
			defer cancel()
			if err := conn.Publish(pubCtx, ev); err != nil {
				c.logger.Warn("publish failed", "relay", conn.URL(), "event", ev.ID, "error", err)
				return nil // best-effort fan-out
			}
			mu.Lock()
			accepted++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if accepted == 0 {
		return newError(CodePublishFailed, "no relay accepted the event", nil)
	}
	c.logger.Debug("event broadcast", "event", ev.ID, "kind", ev.Kind, "accepted", accepted, "relays", len(c.conns))
	return nil
}

// PublishEvent mines, signs and broadcasts an event built elsewhere.
func (c *Client) PublishEvent(ctx context.Context, ev *event.Event, difficulty int) error {
	if err := c.sign(ctx, ev, difficulty); err != nil {
		return err
	}
	return c.broadcast(ctx, ev)
}

// PublishItem serializes a draft into the video tag format, mines the
// configured proof-of-work, signs and broadcasts it.
func (c *Client) PublishItem(ctx context.Context, d event.Draft) (*event.ContentItem, error) {
	ev := d.Unsigned(c.signer.PublicKey(), time.Now())
	if err := c.PublishEvent(ctx, ev, c.opts.PowDifficulty); err != nil {
		return nil, err
	}
	return event.ParseContentItem(ev)
}

// Subscription is a cancellable streaming query across all relays.
type Subscription struct {
	id     string
	client *Client
	events chan *event.Event
	stop   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	seenMu sync.Mutex
	seen   map[string]struct{}
}

// Subscribe opens the filter against every relay simultaneously and
// invokes onEvent exactly once per event id, however many endpoints
// deliver it.
func (c *Client) Subscribe(filters []event.Filter, onEvent func(*event.Event)) *Subscription {
	sub := &Subscription{
		id:     uuid.NewString(),
		client: c,
		events: make(chan *event.Event, 64),
		stop:   make(chan struct{}),
		seen:   make(map[string]struct{}),
	}

	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		for {
			select {
			case <-sub.stop:
				return
			case ev := <-sub.events:
				select {
				case <-sub.stop:
					return
				default:
				}
				onEvent(ev)
			}
		}
	}()

	handler := func(ev *event.Event) {
		if !c.verifyInbound(ev) {
			return
		}
		sub.seenMu.Lock()
		if _, dup := sub.seen[ev.ID]; dup {
			sub.seenMu.Unlock()
			return
		}
		sub.seen[ev.ID] = struct{}{}
		sub.seenMu.Unlock()
		select {
		case sub.events <- ev:
		case <-sub.stop:
		}
	}
	for _, conn := range c.conns {
		if err := conn.Subscribe(sub.id, filters, handler, nil); err != nil {
			c.logger.Warn("subscribe deferred until reconnect", "relay", conn.URL(), "error", err)
		}
	}
	return sub
}

// Cancel tears down the subscription on every relay. It is idempotent
// and guarantees no further onEvent invocations once it returns. The
// dedup set dies with the subscription.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		close(s.stop)
		for _, conn := range s.client.conns {
			conn.Unsubscribe(s.id)
		}
	})
	s.wg.Wait()
}

// Query is a one-shot fetch: it runs the filter on every relay until
// each reports end-of-stored-events (or the timeout lapses), merging
// and deduplicating results. Oversized id and author lists are chunked
// into bounded batches.
func (c *Client) Query(ctx context.Context, f event.Filter) ([]*event.Event, error) {
	filters := chunkFilter(f, queryBatch)

	var mu sync.Mutex
	results := make(map[string]*event.Event)
	subID := uuid.NewString()
	eose := make(chan struct{}, len(c.conns))

	expected := 0
	handler := func(ev *event.Event) {
		if !c.verifyInbound(ev) {
			return
		}
		mu.Lock()
		results[ev.ID] = ev
		mu.Unlock()
	}
	for _, conn := range c.conns {
		conn := conn
		if err := conn.Subscribe(subID, filters, handler, func() { eose <- struct{}{} }); err != nil {
			continue // relay currently unreachable; rely on the others
		}
		expected++
	}
	defer func() {
		for _, conn := range c.conns {
			conn.Unsubscribe(subID)
		}
	}()
	if expected == 0 {
		return nil, newError(CodeRelayUnreachable, "no relay reachable", nil)
	}

	timer := time.NewTimer(c.opts.Timeout)
	defer timer.Stop()
	for done := 0; done < expected; {
		select {
		case <-eose:
			done++
		case <-timer.C:
			// generous but bounded; one stuck endpoint must not stall
			// the merge
			done = expected
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	mu.Lock()
	defer mu.Unlock()
	out := make([]*event.Event, 0, len(results))
	for _, ev := range results {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, nil
}

// chunkFilter splits oversized id/author lists into multiple filters
// carried by the same request.
func chunkFilter(f event.Filter, batch int) []event.Filter {
	split := func(list []string) [][]string {
		if len(list) <= batch {
			return [][]string{list}
		}
		var chunks [][]string
		for len(list) > 0 {
			n := batch
			if len(list) < n {
				n = len(list)
			}
			chunks = append(chunks, list[:n])
			list = list[n:]
		}
		return chunks
	}

	if len(f.IDs) > batch {
		var out []event.Filter
		for _, ids := range split(f.IDs) {
			g := f
			g.IDs = ids
			out = append(out, g)
		}
		return out
	}
	if len(f.Authors) > batch {
		var out []event.Filter
		for _, authors := range split(f.Authors) {
			g := f
			g.Authors = authors
			out = append(out, g)
		}
		return out
	}
	return []event.Filter{f}
}
