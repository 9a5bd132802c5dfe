package centralsystem

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const writeWait = 10 * time.Second

// wsConn adapts a gorilla websocket to session.Connection and keeps it alive
// with pings.
type wsConn struct {
	conn  *websocket.Conn
	log   logrus.FieldLogger
	pongs chan struct{}
	done  chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newWSConn(conn *websocket.Conn, log logrus.FieldLogger) *wsConn {
	c := &wsConn{
		conn:  conn,
		log:   log,
		pongs: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	conn.SetPongHandler(func(string) error {
		select {
		case c.pongs <- struct{}{}:
		default:
		}
		return nil
	})
	return c
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		if messageType == websocket.TextMessage || messageType == websocket.BinaryMessage {
			c.log.Debugf("received %s", data)
			return data, nil
		}
	}
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return errors.New("connection closed")
	default:
	}
	c.log.Debugf("sending %s", data)
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}

func (c *wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// keepalive pings every interval and closes the connection once tries
// consecutive pings went unanswered for timeout. Pongs are only seen while
// someone reads from the connection, which the session always does.
func (c *wsConn) keepalive(interval, timeout time.Duration, tries int) {
	if interval <= 0 {
		return
	}
	if tries <= 0 {
		tries = 1
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	missed := 0
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}
		select {
		case <-c.pongs:
		default:
		}
		if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout)); err != nil {
			c.log.WithError(err).Warn("ping failed, closing connection")
			c.Close()
			return
		}
		timer := time.NewTimer(timeout)
		select {
		case <-c.pongs:
			missed = 0
		case <-timer.C:
			missed++
			c.log.Warnf("no pong within %s (%d/%d)", timeout, missed, tries)
			if missed >= tries {
				c.log.Warn("charge point stopped answering pings, closing connection")
				c.Close()
				return
			}
		case <-c.done:
			timer.Stop()
			return
		}
		timer.Stop()
	}
}
