package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/campuschat/internal/logger"
	"github.com/campuschat/internal/model"
)

// bufPool pools bytes.Buffer for JSON encoding in the hot-path (writePump).
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Client is one WebSocket connection and its relay state
// (Unjoined → Joined(room) → Unjoined).
// Lifecycle: NewClient -> Start(ctx, cancel) -> [readPump, writePump] -> Close -> Wait.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan OutgoingMessage
	session string
	limiter *rate.Limiter

	mu sync.Mutex
	// bound is the username this connection acts as: set from the token at
	// upgrade, otherwise by the first successful join-room.
	bound    string
	verified *model.Identity
	room     string
	identity model.Identity

	// done is used as a non-blocking guard in sendToClient.
	done chan struct{}
	// cancel cancels the context passed to Start, triggering pump shutdown.
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

// NewClient wraps conn. verified is the identity from a checked token, or nil
// for an anonymous connection.
func NewClient(hub *Hub, conn *websocket.Conn, verified *model.Identity) *Client {
	c := &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan OutgoingMessage, hub.opts.SendBufferSize),
		session: uuid.NewString(),
		limiter: rate.NewLimiter(rate.Limit(hub.opts.ActionRate), hub.opts.ActionBurst),
		done:    make(chan struct{}),
	}
	if verified != nil {
		id := *verified
		c.verified = &id
		c.bound = id.Username
	}
	return c
}

func (c *Client) Session() string { return c.session }

// joined returns the current room and identity; room is empty while Unjoined.
func (c *Client) joined() (string, model.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room, c.identity
}

func (c *Client) boundUsername() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bound
}

func (c *Client) setJoined(room string, identity model.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.room = room
	c.identity = identity
	c.bound = identity.Username
}

// setUnjoined clears the room only if the client is still in room.
func (c *Client) setUnjoined(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.room != room {
		return false
	}
	c.room = ""
	return true
}

// joinState is the part of the client a join changes.
type joinState struct {
	room     string
	identity model.Identity
	bound    string
}

func (c *Client) joinState() joinState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return joinState{room: c.room, identity: c.identity, bound: c.bound}
}

func (c *Client) restoreJoinState(s joinState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.room = s.room
	c.identity = s.identity
	c.bound = s.bound
}

// Start launches readPump and writePump goroutines with controlled lifecycle.
func (c *Client) Start(ctx context.Context, cancel context.CancelFunc) {
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	// closed between Register and Start
	select {
	case <-c.done:
		cancel()
	default:
	}
	c.wg.Add(2)
	go c.writePump(ctx)
	go c.readPump(ctx)
}

// Wait blocks until both pump goroutines have exited.
func (c *Client) Wait() {
	c.wg.Wait()
}

// signalClose stops the pumps without touching the socket; writePump closes
// it on its way out. Safe under a room lock.
func (c *Client) signalClose() {
	c.once.Do(func() {
		close(c.done)
		c.mu.Lock()
		cancel := c.cancel
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	})
}

// Close signals the client to stop and closes the socket. Safe to call
// multiple times from any goroutine.
func (c *Client) Close() {
	c.signalClose()
	// Force both pumps to unblock (ReadMessage / WriteMessage will error).
	if c.conn != nil {
		c.conn.Close()
	}
}

// readPump reads actions one at a time; a connection's actions are therefore
// handled in the order it sent them.
func (c *Client) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	opts := c.hub.opts
	c.conn.SetReadLimit(opts.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(opts.PongWait)); err != nil {
		logger.Errorf("ws set read deadline session=%s: %v", c.session, err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws read error session=%s: %v", c.session, err)
			}
			return
		}

		var msg IncomingMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Debugf("ws unmarshal error session=%s: %v", c.session, err)
			c.hub.reject(c, "", model.ErrInvalidMessage)
			continue
		}

		c.hub.HandleMessage(ctx, c, msg)
	}
}

// writePump writes messages to the WebSocket connection.
// Exits on ctx cancellation, write error, or connection close.
func (c *Client) writePump(ctx context.Context) {
	defer c.wg.Done()
	opts := c.hub.opts
	ticker := time.NewTicker(opts.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")); err != nil {
				logger.Debugf("ws close message session=%s: %v", c.session, err)
			}
			return
		case msg := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(opts.WriteWait)); err != nil {
				logger.Errorf("ws set write deadline session=%s: %v", c.session, err)
				return
			}
			buf := bufPool.Get().(*bytes.Buffer)
			buf.Reset()
			enc := json.NewEncoder(buf)
			if err := enc.Encode(msg); err != nil {
				bufPool.Put(buf)
				logger.Errorf("ws marshal error session=%s event=%s: %v", c.session, msg.Type, err)
				continue
			}
			data := buf.Bytes()
			// json.Encoder appends '\n'; trim it for WebSocket text messages.
			if len(data) > 0 && data[len(data)-1] == '\n' {
				data = data[:len(data)-1]
			}
			writeErr := c.conn.WriteMessage(websocket.TextMessage, data)
			bufPool.Put(buf)
			if writeErr != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(opts.WriteWait)); err != nil {
				logger.Errorf("ws set write deadline session=%s: %v", c.session, err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
