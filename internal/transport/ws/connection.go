package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultWriteTimeout   = 10 * time.Second
	defaultPongTimeout    = 60 * time.Second
	defaultMaxMessageSize = 4096
	defaultSendBuffer     = 32
)

// ConnectionOptions tunes a Connection. Zero values fall back to defaults.
type ConnectionOptions struct {
	WriteTimeout   time.Duration
	PongTimeout    time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

func (o ConnectionOptions) withDefaults() ConnectionOptions {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = defaultPongTimeout
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = defaultMaxMessageSize
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = defaultSendBuffer
	}
	return o
}

// Connection serialises writes to a websocket through a single writer goroutine.
type Connection struct {
	conn   *websocket.Conn
	opts   ConnectionOptions
	logger *zap.Logger

	send chan []byte
	done chan struct{}

	closeOnce sync.Once
	writerWG  sync.WaitGroup
}

// NewConnection wraps conn and starts its writer.
func NewConnection(conn *websocket.Conn, opts ConnectionOptions, logger *zap.Logger) *Connection {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()

	c := &Connection{
		conn:   conn,
		opts:   opts,
		logger: logger,
		send:   make(chan []byte, opts.SendBuffer),
		done:   make(chan struct{}),
	}

	c.writerWG.Add(1)
	go c.writeLoop()

	return c
}

// Send queues frame for delivery. A full buffer closes the connection.
func (c *Connection) Send(frame ServerFrame) error {
	if frame.Timestamp.IsZero() {
		frame.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		c.logger.Warn("closing slow websocket consumer", zap.Int("buffer", c.opts.SendBuffer))
		c.Close()
		return ErrSlowConsumer
	}
}

// ReadLoop decodes client frames and hands them to handle until the peer goes away
// or the connection is closed.
func (c *Connection) ReadLoop(handle func(ClientFrame)) error {
	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return err
			}
			return nil
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))

		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			_ = c.Send(ServerFrame{Type: FrameError, Error: "malformed frame"})
			continue
		}
		handle(frame)
	}
}

// Done is closed once the connection shuts down.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Close stops the writer and closes the socket. It is safe to call more than once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.writerWG.Wait()
		_ = c.conn.Close()
	})
}

func (c *Connection) writeLoop() {
	defer c.writerWG.Done()

	ping := time.NewTicker(c.opts.PongTimeout * 9 / 10)
	defer ping.Stop()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("websocket write failed", zap.Error(err))
				go c.Close()
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				go c.Close()
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
