// Package gorilla_ws_conn implements the Socket interface from
// https://github.com/SirGFM/go-hub-i-guess over a WebSocket connection
// from https://github.com/gorilla/websocket.
package gorilla_ws_conn

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	gohub "github.com/SirGFM/go-hub-i-guess"
	gows "github.com/gorilla/websocket"
)

// defaultPing is sent on ping messages as the application data.
const defaultPing = "go_hub_i_guess says hi"

// controlTimeout bounds writing control frames without a deadline.
const controlTimeout = time.Second

// gwsConn wrap a gorilla/ws connection into a gohub.Socket.
type gwsConn struct {
	// The gorilla WebSocket connection.
	conn *gows.Conn

	// reader of the message currently being received, if any.
	reader io.Reader

	// How long the connection waits until sending a ping to the remote
	// endpoint. Zero disables the timeout.
	timeout time.Duration

	// ticker generates a message on a channel if `timeout` elapsed without
	// receiving any message.
	ticker *time.Ticker

	// timeoutCount counts the number of consecutive timeouts that happened.
	timeoutCount uint32

	// sendMutex synchronizes write operations on `conn`.
	sendMutex sync.Mutex

	// state of the closing handshake, as a gohub.SocketState.
	state uint32

	// stop signals, by getting closed, that the connection should get
	// closed.
	stop chan struct{}
}

var _ gohub.Socket = (*gwsConn)(nil)

// State of the closing handshake.
func (c *gwsConn) State() gohub.SocketState {
	return gohub.SocketState(atomic.LoadUint32(&c.state))
}

// Close the connection.
func (c *gwsConn) Close() error {
	if atomic.SwapUint32(&c.state, uint32(gohub.SocketClosed)) != uint32(gohub.SocketClosed) {
		c.sendMutex.Lock()
		err := c.conn.Close()
		c.sendMutex.Unlock()

		if c.ticker != nil {
			c.ticker.Stop()
		}
		close(c.stop)
		return err
	}

	return nil
}

// resetTimeout reset the last timeout.
//
// This must be called whenever this connections receives any message from
// its remote endpoint.
func (c *gwsConn) resetTimeout() {
	if c.ticker != nil {
		atomic.StoreUint32(&c.timeoutCount, 0)
		c.ticker.Reset(c.timeout)
	}
}

// Receive blocks until some data of the current message is available.
//
// Cancelling `ctx` makes the read time out, after which gorilla/ws refuses
// any further read. Writes are unaffected, so the closing handshake may
// still be sent.
func (c *gwsConn) Receive(ctx context.Context, buf []byte) (gohub.Frame, error) {
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		if c.reader == nil {
			_, r, err := c.conn.NextReader()
			if err != nil {
				var closeErr *gows.CloseError
				if errors.As(err, &closeErr) {
					return gohub.Frame{Close: true}, nil
				} else if ctx.Err() != nil {
					return gohub.Frame{}, ctx.Err()
				}
				return gohub.Frame{}, err
			}

			c.resetTimeout()
			c.reader = r
		}

		n, err := c.reader.Read(buf)
		if err == io.EOF {
			c.reader = nil
			return gohub.Frame{N: n, EndOfMessage: true}, nil
		} else if err != nil {
			c.reader = nil
			if ctx.Err() != nil {
				return gohub.Frame{}, ctx.Err()
			}
			return gohub.Frame{}, err
		} else if n > 0 {
			return gohub.Frame{N: n}, nil
		}
	}
}

// deadline retrieve the write deadline for `ctx`.
func deadline(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Time{}
}

// send the message, properly synchronizing the connection.
func (c *gwsConn) send(ctx context.Context, mType int, data []byte) error {
	c.sendMutex.Lock()
	defer c.sendMutex.Unlock()

	if c.State() == gohub.SocketClosed {
		return gohub.TransportClosed
	}

	c.conn.SetWriteDeadline(deadline(ctx))
	return c.conn.WriteMessage(mType, data)
}

// Send `data` as a single binary message.
func (c *gwsConn) Send(ctx context.Context, data []byte) error {
	return c.send(ctx, gows.BinaryMessage, data)
}

// CloseWith send a close frame carrying `status` to the remote endpoint.
func (c *gwsConn) CloseWith(ctx context.Context, status gohub.CloseStatus) error {
	if c.State() == gohub.SocketClosed {
		return gohub.TransportClosed
	}

	d := deadline(ctx)
	if d.IsZero() {
		d = time.Now().Add(controlTimeout)
	}

	msg := gows.FormatCloseMessage(int(status), "")
	err := c.conn.WriteControl(gows.CloseMessage, msg, d)
	if err == nil {
		atomic.CompareAndSwapUint32(&c.state, uint32(gohub.SocketOpen),
			uint32(gohub.SocketCloseSent))
	}
	return err
}

// detectTimeout wait some time checking if the connection timed out.
//
// After two consecutive timeouts, the connection is automatically closed.
func (c *gwsConn) detectTimeout() {
	for {
		select {
		case <-c.ticker.C:
			if atomic.CompareAndSwapUint32(&c.timeoutCount, 0, 1) {
				// Try to ping the remote endpoint and see if there's any
				// response.
				d := time.Now().Add(controlTimeout)
				err := c.conn.WriteControl(gows.PingMessage, []byte(defaultPing), d)
				if err != nil {
					c.Close()
					return
				}
			} else {
				// This is the second time that this connection timed out,
				// so just close it.
				c.Close()
				return
			}
		case <-c.stop:
			return
		}
	}
}

// ping handle received ping messages.
//
// The WebSocket protocol defines that the receiver must respond with a
// pong with the same `appData` as received. Since this implies on activity
// on the channel, the connection's timeout is reset.
func (c *gwsConn) ping(appData string) error {
	c.resetTimeout()

	d := time.Now().Add(controlTimeout)
	err := c.conn.WriteControl(gows.PongMessage, []byte(appData), d)
	if errors.Is(err, gows.ErrCloseSent) {
		return nil
	}
	return err
}

// pong handle received pong messages.
//
// The WebSocket protocol defines two kinds of pong messages: unrequested
// pongs, which may be ignored, and pongs in response to pings. In both
// cases, this message is used to reset the time without messages.
func (c *gwsConn) pong(appData string) error {
	c.resetTimeout()
	return nil
}

// closed handle received close messages.
//
// Instead of echoing the close frame right away, like gorilla/ws's default
// handler does, the connection only records that the peer started the
// closing handshake. The hub acknowledges it after the client leaves the
// registry.
func (c *gwsConn) closed(code int, text string) error {
	atomic.CompareAndSwapUint32(&c.state, uint32(gohub.SocketOpen),
		uint32(gohub.SocketCloseReceived))
	return nil
}

// NewConn wraps an already upgraded gorilla/ws connection into a Socket.
//
// Other than that, this connection's times out if it doesn't receive any
// message from its remote endpoint in `timeout`. Upon timing out, the
// connection will first try to ping the remote end point, but it will close
// if there's no response in a timely manner. A zero `timeout` disables
// this.
//
// Gorilla/ws's documentation specifies that if `SetReadDeadline` is set
// and a read times out, the websocket becomes corrupt. To work around
// that, `NewConn` spawns a goroutine to manually detect timeouts.
//
// If `conn` is nil, then this function will panic!
func NewConn(conn *gows.Conn, timeout time.Duration) gohub.Socket {
	if conn == nil {
		panic("gorilla_ws_conn NewConn: nil connection")
	}

	c := &gwsConn{
		conn:    conn,
		timeout: timeout,
		state:   uint32(gohub.SocketOpen),
		stop:    make(chan struct{}),
	}
	conn.SetPingHandler(c.ping)
	conn.SetPongHandler(c.pong)
	conn.SetCloseHandler(c.closed)

	if timeout > 0 {
		c.ticker = time.NewTicker(timeout)
		go c.detectTimeout()
	}

	return c
}

// Upgrader implements gohub.Upgrader with gorilla/ws.
type Upgrader struct {
	// Upgrader used to upgrade the HTTP request into a WebSocket
	// connection.
	Upgrader gows.Upgrader

	// Timeout of the upgraded connections. See `NewConn`.
	Timeout time.Duration
}

var _ gohub.Upgrader = (*Upgrader)(nil)

// IsUpgradeRequest check whether `req` asks for a WebSocket connection.
func (u *Upgrader) IsUpgradeRequest(req *http.Request) bool {
	return gows.IsWebSocketUpgrade(req)
}

// Upgrade a HTTP connection to a hub Socket.
func (u *Upgrader) Upgrade(w http.ResponseWriter, req *http.Request) (gohub.Socket, error) {
	conn, err := u.Upgrader.Upgrade(w, req, nil)
	if err != nil {
		return nil, err
	}

	return NewConn(conn, u.Timeout), nil
}
