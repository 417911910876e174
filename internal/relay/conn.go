package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vidmesh/vidmesh/internal/event"
)

const (
	dialTimeout      = 10 * time.Second
	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second
	okWaitDefault    = 10 * time.Second
)

type connSub struct {
	filters []event.Filter
	onEvent func(*event.Event)
	onEOSE  func()
	eose    sync.Once
}

type okResult struct {
	accepted bool
	reason   string
}

// Conn is one relay endpoint connection. It keeps itself alive with a
// backoff redial loop and re-issues active subscriptions after every
// reconnect, so a flapping relay looks like a slow one to callers.
type Conn struct {
	url    string
	logger *slog.Logger

	mu     sync.Mutex
	ws     *websocket.Conn
	subs   map[string]*connSub
	oks    map[string]chan okResult
	closed bool
}

// Dial connects to a relay. The initial dial failing is not fatal:
// the redial loop keeps trying in the background, matching the
// fan-out rule that no single endpoint is load-bearing.
func Dial(ctx context.Context, url string, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Conn{
		url:    url,
		logger: logger.With("relay", url),
		subs:   make(map[string]*connSub),
		oks:    make(map[string]chan okResult),
	}
	go c.run(ctx)
	return c
}

// run owns the websocket lifecycle: dial, pump, redial.
func (c *Conn) run(ctx context.Context) {
	backoff := reconnectBackoff
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		ws, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.url, nil)
		cancel()
		if err != nil {
			c.logger.Warn("relay dial failed", "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = reconnectBackoff

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			ws.Close()
			return
		}
		c.ws = ws
		resubs := make(map[string][]event.Filter, len(c.subs))
		for id, sub := range c.subs {
			resubs[id] = sub.filters
		}
		c.mu.Unlock()

		for id, filters := range resubs {
			if err := c.writeReq(id, filters); err != nil {
				break
			}
		}

		c.readPump(ws)

		c.mu.Lock()
		if c.ws == ws {
			c.ws = nil
		}
		c.mu.Unlock()
		ws.Close()
	}
}

func (c *Conn) readPump(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				c.logger.Warn("relay read failed", "error", err)
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *Conn) dispatch(data []byte) {
	var frame []json.RawMessage
	if err := json.Unmarshal(data, &frame); err != nil || len(frame) == 0 {
		return
	}
	var label string
	if json.Unmarshal(frame[0], &label) != nil {
		return
	}
	switch label {
	case "EVENT":
		if len(frame) < 3 {
			return
		}
		var subID string
		var ev event.Event
		if json.Unmarshal(frame[1], &subID) != nil || json.Unmarshal(frame[2], &ev) != nil {
			return
		}
		c.mu.Lock()
		sub := c.subs[subID]
		c.mu.Unlock()
		if sub != nil {
			sub.onEvent(&ev)
		}
	case "EOSE":
		if len(frame) < 2 {
			return
		}
		var subID string
		if json.Unmarshal(frame[1], &subID) != nil {
			return
		}
		c.mu.Lock()
		sub := c.subs[subID]
		c.mu.Unlock()
		if sub != nil && sub.onEOSE != nil {
			sub.eose.Do(sub.onEOSE)
		}
	case "OK":
		if len(frame) < 3 {
			return
		}
		var id string
		var accepted bool
		var reason string
		if json.Unmarshal(frame[1], &id) != nil || json.Unmarshal(frame[2], &accepted) != nil {
			return
		}
		if len(frame) >= 4 {
			_ = json.Unmarshal(frame[3], &reason)
		}
		c.mu.Lock()
		ch := c.oks[id]
		delete(c.oks, id)
		c.mu.Unlock()
		if ch != nil {
			ch <- okResult{accepted: accepted, reason: reason}
		}
	case "NOTICE":
		if len(frame) >= 2 {
			var msg string
			_ = json.Unmarshal(frame[1], &msg)
			c.logger.Info("relay notice", "message", msg)
		}
	case "CLOSED":
		if len(frame) >= 2 {
			var subID string
			_ = json.Unmarshal(frame[1], &subID)
			c.logger.Warn("relay closed subscription", "sub", subID)
		}
	}
}

func (c *Conn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return newError(CodeRelayUnreachable, "not connected to "+c.url, nil)
	}
	return c.ws.WriteJSON(v)
}

func (c *Conn) writeReq(subID string, filters []event.Filter) error {
	msg := make([]interface{}, 0, 2+len(filters))
	msg = append(msg, "REQ", subID)
	for _, f := range filters {
		msg = append(msg, f)
	}
	return c.writeJSON(msg)
}

// Publish sends the event and waits for the relay's acceptance.
func (c *Conn) Publish(ctx context.Context, ev *event.Event) error {
	ch := make(chan okResult, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return newError(CodeRelayUnreachable, "connection closed", nil)
	}
	c.oks[ev.ID] = ch
	c.mu.Unlock()

	cleanup := func() {
		c.mu.Lock()
		delete(c.oks, ev.ID)
		c.mu.Unlock()
	}

	if err := c.writeJSON([]interface{}{"EVENT", ev}); err != nil {
		cleanup()
		return err
	}

	timer := time.NewTimer(okWaitDefault)
	defer timer.Stop()
	select {
	case res := <-ch:
		if !res.accepted {
			return newError(CodeRejected, fmt.Sprintf("relay %s rejected event: %s", c.url, res.reason), nil)
		}
		return nil
	case <-timer.C:
		cleanup()
		return newError(CodeRelayUnreachable, "timed out waiting for relay ack", nil)
	case <-ctx.Done():
		cleanup()
		return ctx.Err()
	}
}

// Subscribe opens a streaming query. The handlers stay registered
// across reconnects until Unsubscribe.
func (c *Conn) Subscribe(subID string, filters []event.Filter, onEvent func(*event.Event), onEOSE func()) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return newError(CodeRelayUnreachable, "connection closed", nil)
	}
	c.subs[subID] = &connSub{filters: filters, onEvent: onEvent, onEOSE: onEOSE}
	c.mu.Unlock()
	return c.writeReq(subID, filters)
}

// Unsubscribe stops a streaming query.
func (c *Conn) Unsubscribe(subID string) {
	c.mu.Lock()
	delete(c.subs, subID)
	c.mu.Unlock()
	_ = c.writeJSON([]interface{}{"CLOSE", subID})
}

// Close tears the connection down for good.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()
	if ws != nil {
		ws.Close()
	}
}

// URL returns the relay endpoint address.
func (c *Conn) URL() string { return c.url }
