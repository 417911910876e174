package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidmesh/vidmesh/internal/config"
	"github.com/vidmesh/vidmesh/internal/event"
	"github.com/vidmesh/vidmesh/internal/feed"
	"github.com/vidmesh/vidmesh/internal/profile"
	"github.com/vidmesh/vidmesh/internal/transport"
)

// fakeRelay speaks just enough of the wire protocol for the assembled
// core: store on EVENT, replay plus live fan-out on REQ.
type fakeRelay struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	events  []*event.Event
	clients map[*relayClient]struct{}
}

type relayClient struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	subs    map[string][]event.Filter
}

func newFakeRelay() *fakeRelay {
	r := &fakeRelay{clients: make(map[*relayClient]struct{})}
	r.srv = httptest.NewServer(http.HandlerFunc(r.handle))
	return r
}

func (r *fakeRelay) URL() string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http")
}

func (r *fakeRelay) Close() { r.srv.Close() }

func (r *fakeRelay) handle(w http.ResponseWriter, req *http.Request) {
	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	client := &relayClient{ws: ws, subs: make(map[string][]event.Filter)}
	r.mu.Lock()
	r.clients[client] = struct{}{}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.clients, client)
		r.mu.Unlock()
		ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var frame []json.RawMessage
		if json.Unmarshal(data, &frame) != nil || len(frame) == 0 {
			continue
		}
		var label string
		if json.Unmarshal(frame[0], &label) != nil {
			continue
		}
		switch label {
		case "EVENT":
			var ev event.Event
			if json.Unmarshal(frame[1], &ev) != nil {
				continue
			}
			r.mu.Lock()
			r.events = append(r.events, &ev)
			r.mu.Unlock()
			client.send([]interface{}{"OK", ev.ID, true, ""})
			r.fanOut(&ev)
		case "REQ":
			var subID string
			if json.Unmarshal(frame[1], &subID) != nil {
				continue
			}
			var filters []event.Filter
			for _, raw := range frame[2:] {
				var f event.Filter
				if json.Unmarshal(raw, &f) == nil {
					filters = append(filters, f)
				}
			}
			r.mu.Lock()
			client.subs[subID] = filters
			stored := append([]*event.Event(nil), r.events...)
			r.mu.Unlock()
			for _, ev := range stored {
				if matchesAny(filters, ev) {
					client.send([]interface{}{"EVENT", subID, ev})
				}
			}
			client.send([]interface{}{"EOSE", subID})
		case "CLOSE":
			var subID string
			if json.Unmarshal(frame[1], &subID) != nil {
				continue
			}
			r.mu.Lock()
			delete(client.subs, subID)
			r.mu.Unlock()
		}
	}
}

func (r *fakeRelay) fanOut(ev *event.Event) {
	r.mu.Lock()
	type target struct {
		c     *relayClient
		subID string
	}
	var targets []target
	for c := range r.clients {
		for subID, filters := range c.subs {
			if matchesAny(filters, ev) {
				targets = append(targets, target{c, subID})
			}
		}
	}
	r.mu.Unlock()
	for _, t := range targets {
		t.c.send([]interface{}{"EVENT", t.subID, ev})
	}
}

func (r *fakeRelay) stored() []*event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*event.Event(nil), r.events...)
}

func (c *relayClient) send(v interface{}) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.WriteJSON(v)
}

func matchesAny(filters []event.Filter, ev *event.Event) bool {
	for i := range filters {
		if filters[i].Matches(ev) {
			return true
		}
	}
	return false
}

func newTestApp(t *testing.T, r *fakeRelay) *App {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Relays = []string{r.URL()}
	cfg.ListenAddrs = []string{"/ip4/127.0.0.1/tcp/0"}
	cfg.JoinTimeout = 2 * time.Second
	cfg.RelayTimeout = 5 * time.Second
	cfg.PowDifficulty = 0
	cfg.ReportPowDifficulty = 0

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.clients) > 0
	}, 5*time.Second, 10*time.Millisecond)
	return a
}

func TestPublishAppearsInFeed(t *testing.T) {
	r := newFakeRelay()
	defer r.Close()
	a := newTestApp(t, r)

	var mu sync.Mutex
	var latest []*event.ContentItem
	err := a.SubscribeFeed(context.Background(), feed.ModeGlobal, func(items []*event.ContentItem) {
		mu.Lock()
		latest = items
		mu.Unlock()
	})
	require.NoError(t, err)

	media := []byte("tiny clip bytes")
	item, err := a.Publish(context.Background(), PublishRequest{
		Title:    "first post",
		Summary:  "hello",
		Hashtags: []string{"intro"},
		Media:    media,
	})
	require.NoError(t, err)
	require.NotEmpty(t, item.ID)
	assert.Equal(t, a.PublicKey(), item.Author)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(latest) == 1 && latest[0].ID == item.ID
	}, 5*time.Second, 20*time.Millisecond)
}

func TestStreamOwnPublishedItem(t *testing.T) {
	r := newFakeRelay()
	defer r.Close()
	a := newTestApp(t, r)

	media := []byte("bytes that will round-trip through the transport")
	item, err := a.Publish(context.Background(), PublishRequest{Title: "clip", Media: media})
	require.NoError(t, err)

	var sink transport.BufferSink
	require.NoError(t, a.Stream(context.Background(), item, &sink))
	assert.Equal(t, media, sink.Bytes())
	assert.True(t, sink.IsReady())
}

func TestToggleLikeBoostsAuthor(t *testing.T) {
	r := newFakeRelay()
	defer r.Close()
	a := newTestApp(t, r)

	item := &event.ContentItem{
		ID:      "item-1",
		Author:  "author-pubkey",
		Locator: "magnet:?xt=urn:btih:" + strings.Repeat("ab", 20),
	}
	before := a.TrustScore(item.Author)

	liked, err := a.ToggleLike(context.Background(), item)
	require.NoError(t, err)
	assert.True(t, liked)
	assert.Greater(t, a.TrustScore(item.Author), before)

	// toggling back does not retract the evidence
	after := a.TrustScore(item.Author)
	liked, err = a.ToggleLike(context.Background(), item)
	require.NoError(t, err)
	assert.False(t, liked)
	assert.Equal(t, after, a.TrustScore(item.Author))
}

func TestReportHidesAuthorAndClearsFeed(t *testing.T) {
	r := newFakeRelay()
	defer r.Close()
	a := newTestApp(t, r)

	var mu sync.Mutex
	var latest []*event.ContentItem
	err := a.SubscribeFeed(context.Background(), feed.ModeGlobal, func(items []*event.ContentItem) {
		mu.Lock()
		latest = items
		mu.Unlock()
	})
	require.NoError(t, err)

	item, err := a.Publish(context.Background(), PublishRequest{
		Title: "reported clip",
		Media: []byte("soon to be hidden"),
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(latest) == 1
	}, 5*time.Second, 20*time.Millisecond)

	// a full-weight report from a fresh identity drops the author
	// below the visibility threshold
	require.NoError(t, a.Report(context.Background(), item, "spam"))
	assert.Less(t, a.TrustScore(item.Author), 0.35)

	mu.Lock()
	assert.Empty(t, latest)
	mu.Unlock()

	// the report event reached the relay
	var reports int
	for _, ev := range r.stored() {
		if ev.Kind == event.KindReport {
			reports++
		}
	}
	assert.Equal(t, 1, reports)

	// the transfer session is gone
	assert.Empty(t, a.Sessions())
}

func TestFollowUnfollowRoundTrip(t *testing.T) {
	r := newFakeRelay()
	defer r.Close()
	a := newTestApp(t, r)

	require.NoError(t, a.Follow(context.Background(), "friend-pubkey"))
	contacts, err := a.Contacts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"friend-pubkey"}, contacts)

	require.NoError(t, a.Unfollow(context.Background(), "friend-pubkey"))
	contacts, err = a.Contacts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, contacts)
}

func TestProfileRoundTrip(t *testing.T) {
	r := newFakeRelay()
	defer r.Close()
	a := newTestApp(t, r)

	updated, err := a.UpdateOwnProfile(context.Background(), profile.Profile{Name: "tester", About: "testing"})
	require.NoError(t, err)
	assert.Equal(t, "tester", updated.Name)

	got, err := a.GetProfile(context.Background(), a.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, "tester", got.Name)
	assert.Equal(t, "testing", got.About)
}
