package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/vidmesh/vidmesh/internal/event"
)

// fakeRelay is an in-process relay endpoint speaking the wire protocol
// over a real websocket, enough to exercise publish, subscribe, query
// and cross-endpoint merge behavior.
type fakeRelay struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	events  []*event.Event
	clients map[*relayClient]struct{}

	// recorded REQ filters, for chunking assertions
	reqFilters [][]event.Filter

	rejectAll bool
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

// Shutdown force-closes live websocket connections too, simulating an
// endpoint dropping off the network mid-session.
func (r *fakeRelay) Shutdown() {
	r.srv.CloseClientConnections()
	r.srv.Close()
}

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
			reject := r.rejectAll
			if !reject {
				r.events = append(r.events, &ev)
			}
			r.mu.Unlock()
			client.send([]interface{}{"OK", ev.ID, !reject, ""})
			if !reject {
				r.fanOut(&ev)
			}
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
			r.reqFilters = append(r.reqFilters, filters)
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

// inject stores an event and pushes it to every matching subscription,
// as if another client had published it to this relay.
func (r *fakeRelay) inject(ev *event.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.fanOut(ev)
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

func (r *fakeRelay) recordedFilters() [][]event.Filter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]event.Filter(nil), r.reqFilters...)
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
