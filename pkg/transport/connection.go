package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// MessageHandler is the callback executed for each inbound frame.
type MessageHandler func(ctx context.Context, msg []byte)

// OnCloseHandler receives the websocket close status observed for the
// connection. A code other than 1000 is an abnormal close.
type OnCloseHandler func(code int, err error)

// ErrQueueFull is returned by Send when the outbound queue is saturated.
// The connection is closed as a slow consumer when this happens.
var ErrQueueFull = errors.New("outbound queue full")

// ErrClosed is returned by Send after the connection has shut down.
var ErrClosed = errors.New("connection closed")

type ConnectionConfig struct {
	ReadTimeout time.Duration
	SendBuffer  int
}

// Connection wraps a single WebSocket connection with a read pump, a write
// pump and a bounded outbound queue. It is safe for concurrent use.
type Connection struct {
	id     uuid.UUID
	conn   *websocket.Conn
	config ConnectionConfig
	send   chan []byte

	onMessage MessageHandler
	onClose   OnCloseHandler

	done      chan struct{}
	wg        *sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	logger *slog.Logger
}

func NewConnection(parentCtx context.Context, wg *sync.WaitGroup, conn *websocket.Conn, config ConnectionConfig, logger *slog.Logger) *Connection {
	id := uuid.New()
	connCtx, cancel := context.WithCancel(parentCtx)
	if config.SendBuffer <= 0 {
		config.SendBuffer = 256
	}

	// Balanced by close(); a connection created but rejected before Run
	// still goes through close.
	wg.Add(1)

	return &Connection{
		id:     id,
		conn:   conn,
		config: config,
		send:   make(chan []byte, config.SendBuffer),
		done:   make(chan struct{}),
		ctx:    connCtx,
		cancel: cancel,
		wg:     wg,
		logger: logger.With(slog.String("connID", id.String())),
	}
}

func (c *Connection) Run() {
	go c.readPump()
	go c.writePump()
	c.logger.Debug("connection pumps started")
}

// readPump pumps inbound frames to the message handler until the socket
// errors or closes.
func (c *Connection) readPump() {
	var readErr error
	defer func() {
		c.close(websocket.StatusNormalClosure, "", closeCode(readErr), readErr)
	}()

	for {
		message, err := c.readOne()
		if err != nil {
			readErr = err
			return
		}
		if message == nil {
			continue
		}
		if c.onMessage != nil {
			c.onMessage(c.ctx, message)
		}
	}
}

// readOne reads a single text or binary frame, returning (nil, nil) for
// frame types the protocol ignores.
func (c *Connection) readOne() ([]byte, error) {
	readCtx := c.ctx
	if c.config.ReadTimeout > 0 {
		var cancel context.CancelFunc
		readCtx, cancel = context.WithTimeout(c.ctx, c.config.ReadTimeout)
		defer cancel()
	}

	typ, r, err := c.conn.Reader(readCtx)
	if err != nil {
		return nil, err
	}
	if typ != websocket.MessageText && typ != websocket.MessageBinary {
		return nil, nil
	}
	return io.ReadAll(r)
}

// writePump drains the outbound queue onto the socket.
func (c *Connection) writePump() {
	var writeErr error
	defer func() {
		c.close(websocket.StatusNormalClosure, "", closeCode(writeErr), writeErr)
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.conn.Write(c.ctx, websocket.MessageText, message); err != nil {
				writeErr = err
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Send queues one frame for delivery. A saturated queue marks the client a
// slow consumer: the frame is dropped and the connection is closed with a
// policy-violation status.
func (c *Connection) Send(frame []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrClosed
	default:
	}

	select {
	case c.send <- frame:
		return nil
	default:
		c.logger.Warn("Outbound queue full, disconnecting slow consumer",
			slog.Int("depth", cap(c.send)))
		go c.Terminate(int(websocket.StatusPolicyViolation), "slow consumer")
		return ErrQueueFull
	}
}

// SendSync writes one frame directly, bypassing the outbound queue. Safe
// alongside the write pump; the underlying connection serializes writers.
func (c *Connection) SendSync(ctx context.Context, frame []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrClosed
	default:
	}
	return c.conn.Write(ctx, websocket.MessageText, frame)
}

// Ping performs one protocol ping round-trip, returning once the peer's
// pong arrives or ctx expires.
func (c *Connection) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

// Terminate closes the connection with the given status code. Safe to call
// from any goroutine, any number of times.
func (c *Connection) Terminate(code int, reason string) {
	c.close(websocket.StatusCode(code), reason, code, nil)
}

func (c *Connection) close(status websocket.StatusCode, reason string, observed int, cause error) {
	c.closeOnce.Do(func() {
		c.logger.Debug("Transport connection closing",
			slog.Int("code", observed), slog.Any("reason", cause))

		c.cancel()
		c.conn.Close(status, reason)
		if c.onClose != nil {
			c.onClose(observed, cause)
		}
		c.wg.Done()
		close(c.done)
	})
}

// closeCode extracts the observed close status from a pump error. Errors
// with no status (network failures, timeouts) count as abnormal closure.
func closeCode(err error) int {
	if err == nil {
		return int(websocket.StatusNormalClosure)
	}
	if status := websocket.CloseStatus(err); status != -1 {
		return int(status)
	}
	return int(websocket.StatusAbnormalClosure)
}

// Done is closed when the connection is fully terminated.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) ID() uuid.UUID {
	return c.id
}

func (c *Connection) SetOnMessageHandler(handler MessageHandler) {
	c.onMessage = handler
}

func (c *Connection) SetOnCloseHandler(handler OnCloseHandler) {
	c.onClose = handler
}
