package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/mliang/classcast/backend/internal/model/live"
)

// Transport is the minimal surface the registry needs from a live
// bidirectional connection. *websocket.Conn satisfies it.
type Transport interface {
	WriteJSON(v any) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

const writeControlTimeout = 5 * time.Second

// Client is one live connection plus its mutable attributes. The transport
// handle is exclusively owned by the client; all JSON writes go through Send
// so concurrent fan-out and heartbeat writers never interleave frames.
type Client struct {
	id        string
	sessionID string
	transport Transport

	writeMu sync.Mutex

	stateMu  sync.RWMutex
	role     live.Role
	language string
	settings map[string]any
	alive    bool

	ttsLimiter *rate.Limiter
}

// NewClient wraps a transport into a registry client with a fresh session id.
// ttsPerMinute bounds how many tts_request messages the client may issue.
func NewClient(transport Transport, ttsPerMinute int) *Client {
	if ttsPerMinute <= 0 {
		ttsPerMinute = 30
	}
	return &Client{
		id:         uuid.NewString(),
		sessionID:  live.NewSessionID(),
		transport:  transport,
		role:       live.RoleUnknown,
		settings:   make(map[string]any),
		alive:      true,
		ttsLimiter: rate.NewLimiter(rate.Limit(float64(ttsPerMinute)/60.0), ttsPerMinute),
	}
}

// ID returns the stable connection identifier.
func (c *Client) ID() string { return c.id }

// SessionID returns the session identifier assigned at connect time.
func (c *Client) SessionID() string { return c.sessionID }

// Send serializes v as one JSON frame. Safe for concurrent use.
func (c *Client) Send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.transport.WriteJSON(v)
}

// Ping sends a protocol-level liveness probe.
func (c *Client) Ping() error {
	return c.transport.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeControlTimeout))
}

// Close force-closes the underlying transport. The read loop observing the
// closed connection performs registry cleanup.
func (c *Client) Close() error {
	return c.transport.Close()
}

// Role returns the connection role.
func (c *Client) Role() live.Role {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.role
}

func (c *Client) setRole(role live.Role) {
	c.stateMu.Lock()
	c.role = role
	c.stateMu.Unlock()
}

// Language returns the declared language code, e.g. "es-ES".
func (c *Client) Language() string {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.language
}

func (c *Client) setLanguage(language string) {
	c.stateMu.Lock()
	c.language = language
	c.stateMu.Unlock()
}

// Setting reads one client setting.
func (c *Client) Setting(key string) (any, bool) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	v, ok := c.settings[key]
	return v, ok
}

// Settings returns a copy of the settings map.
func (c *Client) Settings() map[string]any {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	copied := make(map[string]any, len(c.settings))
	for k, v := range c.settings {
		copied[k] = v
	}
	return copied
}

func (c *Client) setSetting(key string, value any) {
	c.stateMu.Lock()
	c.settings[key] = value
	c.stateMu.Unlock()
}

func (c *Client) mergeSettings(values map[string]any) {
	c.stateMu.Lock()
	for k, v := range values {
		c.settings[k] = v
	}
	c.stateMu.Unlock()
}

func (c *Client) clear() {
	c.stateMu.Lock()
	c.role = live.RoleUnknown
	c.language = ""
	c.settings = make(map[string]any)
	c.stateMu.Unlock()
}

// MarkAlive records a heartbeat reply.
func (c *Client) MarkAlive() {
	c.stateMu.Lock()
	c.alive = true
	c.stateMu.Unlock()
}

// Alive reports the current liveness flag.
func (c *Client) Alive() bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.alive
}

// Probe transitions the liveness state for one heartbeat cycle and reports
// whether the connection should be terminated. A connection still marked
// not-alive here never answered the previous cycle's probe.
func (c *Client) Probe() (terminate bool) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if !c.alive {
		return true
	}
	c.alive = false
	return false
}

// AllowTTSRequest reports whether the client is within its tts_request rate.
func (c *Client) AllowTTSRequest() bool {
	return c.ttsLimiter.Allow()
}
