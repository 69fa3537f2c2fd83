package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"optqueue/pkg/logger"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrClosed the socket was already closed
var ErrClosed = errors.New("connection closed")

// Socket adapts a gorilla websocket to Conn. Writes are serialized and bounded
// by the write timeout.
type Socket struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

// NewSocket wraps conn
func NewSocket(conn *websocket.Conn, writeTimeout time.Duration) *Socket {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Socket{conn: conn, writeTimeout: writeTimeout}
}

// Send writes v as a JSON text message
func (s *Socket) Send(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(v)
}

// Ping sends a websocket ping control frame
func (s *Socket) Ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout))
}

// Close sends a close frame and closes the connection
func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return s.conn.Close()
}

// Serve registers the socket for clientID and handles client messages until
// the connection fails or ctx is done.
func (r *Registry) Serve(ctx context.Context, clientID string, socket *Socket) {
	if err := r.Connect(clientID, socket); err != nil {
		logger.Warn("connect failed", logger.ClientField(clientID), zap.Error(err))
		return
	}
	defer r.Disconnect(clientID, socket)

	go func() {
		<-ctx.Done()
		_ = socket.Close()
	}()

	for {
		_, raw, err := socket.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("websocket read failed", logger.ClientField(clientID), zap.Error(err))
			}
			return
		}
		if err := r.HandleMessage(ctx, clientID, socket, raw); err != nil {
			logger.Debug("client message failed", logger.ClientField(clientID), zap.Error(err))
			if errors.Is(err, context.Canceled) {
				return
			}
		}
	}
}
