package server

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gritskevich/vb/pkg/protocol"
)

var jpegMagic = []byte{0xFF, 0xD8, 0xFF}

type outbound struct {
	data []byte
	// closeWith, when set, closes the connection after data is written.
	closeWith *protocol.CloseReason
}

// Conn is one client WebSocket connection. A single writer goroutine
// (WriteLoop) owns every data write. Frames go through a one-slot mailbox
// in which a newer frame replaces an unsent one; other messages are
// queued and written before pending frames.
type Conn struct {
	id     string
	ws     *websocket.Conn
	logger *slog.Logger

	writeTimeout time.Duration

	frames  chan []byte
	control chan outbound
	done    chan struct{}

	closeOnce sync.Once
	closed    atomic.Bool

	framesSent    atomic.Uint64
	framesDropped atomic.Uint64
}

func newConn(id string, ws *websocket.Conn, cfg *Config, logger *slog.Logger) *Conn {
	return &Conn{
		id:           id,
		ws:           ws,
		logger:       logger.With("conn_id", id),
		writeTimeout: cfg.WriteTimeout,
		frames:       make(chan []byte, 1),
		control:      make(chan outbound, cfg.SendQueueSize),
		done:         make(chan struct{}),
	}
}

// ID returns the connection id.
func (c *Conn) ID() string {
	return c.id
}

// Done is closed when the connection closes.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// SendFrame offers an image to the mailbox, replacing any frame not yet
// written. It never blocks and reports false once the connection closed.
func (c *Conn) SendFrame(frame []byte) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.frames <- frame:
		return true
	default:
	}
	select {
	case <-c.frames:
		c.framesDropped.Add(1)
	default:
	}
	select {
	case c.frames <- frame:
		return true
	default:
		c.framesDropped.Add(1)
		return false
	}
}

// OnNavigate tells the client the page moved to url.
func (c *Conn) OnNavigate(url string) {
	if err := c.enqueue(protocol.FrameNavigation, protocol.EncodeNavigation(url), nil); err != nil {
		c.logger.Debug("navigation notice dropped", "url", url, "error", err)
	}
}

// SendError sends a non-fatal error message.
func (c *Conn) SendError(code protocol.ErrorCode, message string) {
	payload := protocol.EncodeErrorMessage(protocol.NewError(code, message))
	if err := c.enqueue(protocol.FrameError, payload, nil); err != nil {
		c.logger.Debug("error message dropped", "code", code, "error", err)
	}
}

// SendPong answers a protocol-level ping.
func (c *Conn) SendPong(timestamp uint64) error {
	return c.enqueue(protocol.FrameControl, protocol.EncodePong(timestamp), nil)
}

func (c *Conn) enqueue(ft protocol.FrameType, payload []byte, closeWith *protocol.CloseReason) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	msg := outbound{
		data:      protocol.NewFrameWithFlags(ft, protocol.FlagPriority, payload).Encode(),
		closeWith: closeWith,
	}
	select {
	case c.control <- msg:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		return ErrSendQueueFull
	}
}

// Probe sends a WebSocket ping. gorilla/websocket allows WriteControl
// concurrently with the writer goroutine.
func (c *Conn) Probe() error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	deadline := time.Now().Add(c.writeTimeout)
	if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
		return fmt.Errorf("%w: ping: %v", ErrTransport, err)
	}
	return nil
}

// ForceClose sends a close message and closes the connection once it is
// written. The read loop then observes the closure.
func (c *Conn) ForceClose(reason protocol.CloseReason, message string) {
	if err := c.enqueue(protocol.FrameControl, protocol.EncodeClose(reason, message), &reason); err != nil {
		c.Close()
	}
}

// WriteLoop writes queued messages and frames until the connection
// closes. It must run in its own goroutine.
func (c *Conn) WriteLoop() {
	defer c.Close()

	for {
		// Queued messages go out ahead of frames.
		select {
		case msg := <-c.control:
			if !c.writeOutbound(msg) {
				return
			}
			continue
		default:
		}

		select {
		case <-c.done:
			return
		case msg := <-c.control:
			if !c.writeOutbound(msg) {
				return
			}
		case frame := <-c.frames:
			var flags protocol.FrameFlags
			if bytes.HasPrefix(frame, jpegMagic) {
				flags = protocol.FlagJPEG
			}
			if err := c.write(protocol.NewFrameWithFlags(protocol.FrameImage, flags, frame).Encode()); err != nil {
				c.logger.Debug("frame write failed", "error", err)
				return
			}
			c.framesSent.Add(1)
		}
	}
}

// writeOutbound writes msg and reports whether the loop should continue.
func (c *Conn) writeOutbound(msg outbound) bool {
	if err := c.write(msg.data); err != nil {
		c.logger.Debug("write failed", "error", err)
		return false
	}
	if msg.closeWith != nil {
		deadline := time.Now().Add(c.writeTimeout)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(wsCloseCode(*msg.closeWith), msg.closeWith.String()), deadline)
		return false
	}
	return true
}

func (c *Conn) write(data []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if err := c.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}

// Close closes the connection. It is safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		_ = c.ws.Close()
	})
}

// FramesSent returns the number of image frames written.
func (c *Conn) FramesSent() uint64 {
	return c.framesSent.Load()
}

// FramesDropped returns the number of frames replaced or refused.
func (c *Conn) FramesDropped() uint64 {
	return c.framesDropped.Load()
}

// wsCloseCode maps a close reason to a WebSocket close status.
func wsCloseCode(reason protocol.CloseReason) int {
	switch reason {
	case protocol.CloseNormal:
		return websocket.CloseNormalClosure
	case protocol.CloseGoingAway, protocol.CloseServerShutdown:
		return websocket.CloseGoingAway
	case protocol.CloseHealthTimeout:
		return websocket.ClosePolicyViolation
	default:
		return websocket.CloseInternalServerErr
	}
}
