// Package realtime maintains the push channel that delivers server-initiated
// timer updates. The channel is purely reactive: it never sends anything
// after the handshake, it only relays inbound lifecycle events into the
// state store. Losing the connection is not fatal; the REST path keeps
// working and reconnection is manual.
package realtime

import (
	"fmt"
	"log"
	"net/url"
	"sync"

	"github.com/fentz26/tempo/internal/models"
	"github.com/fentz26/tempo/internal/state"
	"github.com/gorilla/websocket"
)

// Timer lifecycle events pushed by the backend.
const (
	EventStarted = "timer:started"
	EventStopped = "timer:stopped"
	EventPaused  = "timer:paused"
	EventResumed = "timer:resumed"
)

// ConnState is the channel's connection state.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// event is the wire frame for a pushed timer update.
type event struct {
	Event string       `json:"event"`
	Timer models.Timer `json:"timer"`
}

// Channel holds at most one live connection per session and relays pushed
// events into the store.
type Channel struct {
	store    *state.Store
	notifier state.Notifier

	mu    sync.Mutex
	conn  *websocket.Conn
	state ConnState
	gen   int
}

// NewChannel creates a channel bound to the given store. It starts
// disconnected; call Connect to bring it up.
func NewChannel(store *state.Store, notifier state.Notifier) *Channel {
	if notifier == nil {
		notifier = state.NopNotifier{}
	}
	return &Channel{
		store:    store,
		notifier: notifier,
	}
}

// Connect dials the backend's timer socket, authenticated with the bearer
// token. Calling Connect while already connected tears down the previous
// connection first, so re-initialization is idempotent.
func (c *Channel) Connect(baseURL, token string) error {
	wsURL, err := endpointURL(baseURL, token)
	if err != nil {
		return fmt.Errorf("invalid backend URL: %w", err)
	}

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.gen++
	gen := c.gen
	c.state = StateConnecting
	c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		c.mu.Lock()
		if c.gen == gen {
			c.state = StateDisconnected
		}
		c.mu.Unlock()
		c.notifier.Warn("Failed to connect to timer service")
		return fmt.Errorf("dial timer socket: %w", err)
	}

	c.mu.Lock()
	if c.gen != gen {
		// A newer Connect or Disconnect won the race.
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.state = StateConnected
	c.mu.Unlock()

	log.Printf("Timer socket connected")
	go c.readLoop(conn, gen)
	return nil
}

// Disconnect tears down the connection. Safe to call at any time.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.gen++
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// State returns the current connection state.
func (c *Channel) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// readLoop consumes events until the connection dies. The generation guard
// keeps a superseded loop from touching channel state after a re-init.
func (c *Channel) readLoop(conn *websocket.Conn, gen int) {
	for {
		var ev event
		if err := conn.ReadJSON(&ev); err != nil {
			c.mu.Lock()
			current := c.gen == gen
			if current {
				c.conn = nil
				c.state = StateDisconnected
			}
			c.mu.Unlock()
			if current {
				log.Printf("Timer socket closed: %v", err)
				c.notifier.Warn("Lost connection to timer service")
			}
			return
		}
		c.handleEvent(ev)
	}
}

func (c *Channel) handleEvent(ev event) {
	switch ev.Event {
	case EventStarted:
		c.store.ApplyStarted(ev.Timer)
		c.notifier.Success(`Timer for "` + ev.Timer.Task + `" has started`)
	case EventStopped:
		c.store.ApplyStopped(ev.Timer)
		c.notifier.Success(`Timer for "` + ev.Timer.Task + `" has stopped`)
	case EventPaused:
		c.store.ApplyPaused(ev.Timer)
		c.notifier.Success(`Timer for "` + ev.Timer.Task + `" has been paused`)
	case EventResumed:
		c.store.ApplyResumed(ev.Timer)
		c.notifier.Success(`Timer for "` + ev.Timer.Task + `" has resumed`)
	default:
		log.Printf("Ignoring unknown timer event %q", ev.Event)
	}
}

// endpointURL derives the websocket endpoint from the REST base URL.
func endpointURL(baseURL, token string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/timers/ws"
	q := url.Values{}
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
