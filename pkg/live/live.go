// Package live pushes selection and version changes to websocket clients.
//
// Each connection gets its own subscriptions on the Selection and the
// Versions table. They are released when the client disconnects, when the
// client falls too far behind, or when the Hub is closed.
package live

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/zoobzio/beacon"
	"github.com/zoobzio/capitan"
)

// Event types.
const (
	TypeSnapshot  = "snapshot"
	TypeSelection = "selection"
	TypeVersion   = "version"
)

// Event is the JSON message sent to clients.
type Event struct {
	Type      string            `json:"type"`
	Selection *beacon.Choice    `json:"selection,omitempty"`
	Domain    string            `json:"domain,omitempty"`
	Version   uint64            `json:"version,omitempty"`
	Versions  map[string]uint64 `json:"versions,omitempty"`
}

var (
	// ClientConnected is emitted when a websocket client is registered.
	ClientConnected = capitan.NewSignal("beacon.live.connected", "Live client connected")

	// ClientDisconnected is emitted when a client's subscriptions are released.
	ClientDisconnected = capitan.NewSignal("beacon.live.disconnected", "Live client disconnected")

	// ClientDropped is emitted when a client is disconnected for falling behind.
	ClientDropped = capitan.NewSignal("beacon.live.dropped", "Live client dropped")

	// KeyClient is the connection identity.
	KeyClient = capitan.NewStringKey("client")
)

const (
	defaultBuffer       = 32
	defaultWriteTimeout = 5 * time.Second
)

// Hub upgrades HTTP requests to websocket connections and fans events out.
type Hub struct {
	selection    *beacon.Selection
	versions     *beacon.Versions
	upgrader     websocket.Upgrader
	buffer       int
	writeTimeout time.Duration

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// Option configures a Hub.
type Option func(*Hub)

// WithBuffer sets how many change events may queue per client before it is
// dropped. The initial snapshot does not count against it.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		h.buffer = n
	}
}

// WithWriteTimeout bounds each websocket write.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Hub) {
		h.writeTimeout = d
	}
}

// WithCheckOrigin sets the upgrader's origin check. The default rejects
// cross-origin requests.
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = fn
	}
}

// NewHub creates a Hub for sel and versions. Either may be nil.
func NewHub(sel *beacon.Selection, versions *beacon.Versions, opts ...Option) *Hub {
	h := &Hub{
		selection:    sel,
		versions:     versions,
		buffer:       defaultBuffer,
		writeTimeout: defaultWriteTimeout,
		clients:      make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.buffer < 1 {
		h.buffer = 1
	}
	return h
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams events until the client goes
// away. The first message is a snapshot of the current state.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := h.newClient(conn)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	ctx := r.Context()
	capitan.Emit(ctx, ClientConnected, KeyClient.Field(c.id.String()))

	c.subscribe()
	go c.writeLoop()
	c.readLoop()
	c.release(ctx)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.shutdown()
	}
}

// newClient sizes the send buffer one past the configured depth so the
// snapshot never takes a slot meant for changes.
func (h *Hub) newClient(conn *websocket.Conn) *client {
	return &client{
		id:   uuid.New(),
		hub:  h,
		conn: conn,
		send: make(chan Event, h.buffer+1),
		done: make(chan struct{}),
	}
}

type client struct {
	id   uuid.UUID
	hub  *Hub
	conn *websocket.Conn
	send chan Event

	mu            sync.Mutex
	unsubscribers []beacon.Unsubscribe

	once sync.Once
	done chan struct{}
}

// subscribe registers both subscriptions and queues the snapshot while
// holding c.mu, so any event delivered meanwhile queues behind it.
func (c *client) subscribe() {
	h := c.hub
	c.mu.Lock()
	defer c.mu.Unlock()

	if h.selection != nil {
		c.unsubscribers = append(c.unsubscribers, h.selection.Subscribe(func(choice beacon.Choice) {
			c.push(Event{Type: TypeSelection, Selection: &choice})
		}))
	}
	if h.versions != nil {
		c.unsubscribers = append(c.unsubscribers, h.versions.Subscribe(func(v beacon.VersionChange) {
			c.push(Event{Type: TypeVersion, Domain: v.Domain, Version: v.Version})
		}))
	}

	snap := Event{Type: TypeSnapshot}
	if h.selection != nil {
		cur := h.selection.Current()
		snap.Selection = &cur
	}
	if h.versions != nil {
		snap.Versions = h.versions.Snapshot()
	}
	c.send <- snap
}

// push enqueues without blocking the notifying goroutine. A full buffer
// drops the client.
func (c *client) push(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- e:
	default:
		capitan.Emit(context.Background(), ClientDropped, KeyClient.Field(c.id.String()))
		c.shutdown()
	}
}

func (c *client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case e := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.writeTimeout))
			if err := c.conn.WriteJSON(e); err != nil {
				c.shutdown()
				return
			}
		}
	}
}

// readLoop discards client messages until the connection fails or closes.
func (c *client) readLoop() {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.shutdown()
			return
		}
	}
}

// shutdown closes the connection once. readLoop then returns and
// ServeHTTP releases the subscriptions.
func (c *client) shutdown() {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

func (c *client) release(ctx context.Context) {
	c.shutdown()

	c.mu.Lock()
	unsubs := c.unsubscribers
	c.unsubscribers = nil
	c.mu.Unlock()
	for _, u := range unsubs {
		u()
	}

	h := c.hub
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()

	capitan.Emit(ctx, ClientDisconnected, KeyClient.Field(c.id.String()))
}
