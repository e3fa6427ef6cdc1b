package wssvc

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/trezcool/rollcall/core/attendance"
)

// writeWait bounds a single frame write. Reads have no deadline.
const writeWait = 10 * time.Second

// Dialer opens live attendance connections with gorilla/websocket.
type Dialer struct {
	dialer *websocket.Dialer
}

var _ attendance.Dialer = (*Dialer)(nil)

func NewDialer() *Dialer {
	return &Dialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 45 * time.Second,
		},
	}
}

func (d *Dialer) Dial(ctx context.Context, url string, header http.Header) (attendance.Conn, error) {
	ws, resp, err := d.dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "dialing %s: %s", url, resp.Status)
		}
		return nil, errors.Wrapf(err, "dialing %s", url)
	}
	return &conn{ws: ws}, nil
}

type conn struct {
	ws *websocket.Conn

	closeOnce sync.Once
	closeErr  error
}

func (c *conn) WriteJSON(v interface{}) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteJSON(v)
}

func (c *conn) ReadJSON(v interface{}) error {
	return c.ws.ReadJSON(v)
}

// Close sends a close frame then closes the underlying connection. It is idempotent.
func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}
