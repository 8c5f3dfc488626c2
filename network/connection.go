// network/connection.go
package network

import (
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

type Connection interface {
	Send(f Frame) error
	Close() error
	RemoteAddr() net.Addr
	SetHeartbeat(interval time.Duration)
	ReadFrame() (Frame, error)
}

type WSConnection struct {
	conn      *websocket.Conn
	sendMutex sync.Mutex
	heartbeat time.Duration
}

func NewWSConnection(conn *websocket.Conn) *WSConnection {
	return &WSConnection{conn: conn}
}

func (c *WSConnection) Send(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}

	c.sendMutex.Lock()
	defer c.sendMutex.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// ReadFrame blocks for the next frame. Any inbound message extends the read
// deadline when a heartbeat is configured.
func (c *WSConnection) ReadFrame() (Frame, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	if c.heartbeat > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.heartbeat * 2))
	}

	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, &MalformedFrameError{Err: err}
	}
	return f, nil
}

func (c *WSConnection) SetHeartbeat(interval time.Duration) {
	c.heartbeat = interval
	c.conn.SetReadDeadline(time.Now().Add(interval * 2))
}

func (c *WSConnection) Close() error {
	return c.conn.Close()
}

func (c *WSConnection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// MalformedFrameError is returned by ReadFrame for a message that is not a
// JSON frame. The connection stays usable.
type MalformedFrameError struct {
	Err error
}

func (e *MalformedFrameError) Error() string { return "malformed frame: " + e.Err.Error() }

func (e *MalformedFrameError) Unwrap() error { return e.Err }
