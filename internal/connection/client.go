// Package connection 实现了 WebSocket 连接的封装与消息发送
package connection

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/faasify-official/websocket-server/internal/logger"
)

const (
	// 出站缓冲区大小，写满说明客户端长时间未读取
	sendBufferSize = 64

	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var (
	ErrClientClosed   = errors.New("client connection is closed")
	ErrSendBufferFull = errors.New("client send buffer is full")
)

// Client 表示一个已升级的 WebSocket 客户端连接
type Client struct {
	ID   string
	conn *websocket.Conn

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(conn *websocket.Conn) *Client {
	return &Client{
		ID:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
}

// Send 将数据放入出站队列，不会阻塞调用方
func (c *Client) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Read blocks until the next text frame arrives. deadline bounds how long
// the peer may stay silent before the connection is considered dead.
func (c *Client) Read(deadline time.Duration) ([]byte, error) {
	if deadline > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
	}
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return data, nil
}

// WritePump 串行化所有写操作，并周期性发送 WebSocket 层心跳
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.DebugF("[%s] Fail to send data, details: %v", c.ID, err)
				return
			}
			logger.DebugF("[%s] Send %d bytes to client", c.ID, len(data))
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close 发送关闭帧并断开连接，可以安全地重复调用
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		message := websocket.FormatCloseMessage(code, reason)
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(writeWait)); err != nil {
			logger.DebugF("[%s] Fail to send close frame, details: %v", c.ID, err)
		}
		close(c.done)
		_ = c.conn.Close()
		logger.DebugF("[%s] Connection closed with code %d", c.ID, code)
	})
}

// Done reports a channel that is closed once the connection is torn down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func IsClosedError(err error) bool {
	if err == nil {
		return false
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return true
	}
	return errors.Is(err, websocket.ErrCloseSent)
}
