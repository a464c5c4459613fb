// Package gobwas_ws_conn implements the Socket interface from
// https://github.com/SirGFM/go-hub-i-guess over a WebSocket connection
// from https://github.com/gobwas/ws.
package gobwas_ws_conn

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gohub "github.com/SirGFM/go-hub-i-guess"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// errCloseFrame is returned by the control frame handler when the remote
// endpoint starts the closing handshake.
var errCloseFrame = errors.New("close frame received")

// gbwConn wrap a raw connection, upgraded by gobwas/ws, into a
// gohub.Socket.
type gbwConn struct {
	// conn is the upgraded network connection.
	conn net.Conn

	// reader of frames from the remote endpoint.
	reader *wsutil.Reader

	// inMessage is set while a data message is being received.
	inMessage bool

	// writeMutex synchronizes write operations on `conn`, including pongs
	// sent while receiving.
	writeMutex sync.Mutex

	// state of the closing handshake, as a gohub.SocketState.
	state uint32
}

var _ gohub.Socket = (*gbwConn)(nil)

// NewConn wraps a connection upgraded by gobwas/ws into a Socket.
//
// `rd` may be the buffered reader returned by the upgrade, which may hold
// data already sent by the remote endpoint. If it's nil, `conn` is read
// directly.
//
// If `conn` is nil, then this function will panic!
func NewConn(conn net.Conn, rd *bufio.Reader) gohub.Socket {
	if conn == nil {
		panic("gobwas_ws_conn NewConn: nil connection")
	}

	var src io.Reader = conn
	if rd != nil {
		src = rd
	}

	c := &gbwConn{
		conn:  conn,
		state: uint32(gohub.SocketOpen),
	}
	c.reader = &wsutil.Reader{
		Source:         src,
		State:          ws.StateServerSide,
		OnIntermediate: c.control,
	}

	return c
}

// State of the closing handshake.
func (c *gbwConn) State() gohub.SocketState {
	return gohub.SocketState(atomic.LoadUint32(&c.state))
}

// Close the connection.
func (c *gbwConn) Close() error {
	if atomic.SwapUint32(&c.state, uint32(gohub.SocketClosed)) != uint32(gohub.SocketClosed) {
		return c.conn.Close()
	}

	return nil
}

// control handle a control frame, which may arrive between the fragments
// of a data message.
func (c *gbwConn) control(hdr ws.Header, src io.Reader) error {
	payload := make([]byte, hdr.Length)
	if _, err := io.ReadFull(src, payload); err != nil {
		return err
	}

	switch hdr.OpCode {
	case ws.OpPing:
		c.writeMutex.Lock()
		defer c.writeMutex.Unlock()
		return ws.WriteFrame(c.conn, ws.NewPongFrame(payload))
	case ws.OpClose:
		atomic.CompareAndSwapUint32(&c.state, uint32(gohub.SocketOpen),
			uint32(gohub.SocketCloseReceived))
		return errCloseFrame
	default:
		// Unrequested pongs may be ignored.
		return nil
	}
}

// Receive blocks until some data of the current message is available.
func (c *gbwConn) Receive(ctx context.Context, buf []byte) (gohub.Frame, error) {
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	frame, err := c.receive(buf)
	if errors.Is(err, errCloseFrame) {
		return gohub.Frame{Close: true}, nil
	} else if err != nil && ctx.Err() != nil {
		return gohub.Frame{}, ctx.Err()
	}
	return frame, err
}

func (c *gbwConn) receive(buf []byte) (gohub.Frame, error) {
	for {
		if !c.inMessage {
			hdr, err := c.reader.NextFrame()
			if err != nil {
				return gohub.Frame{}, err
			}

			if hdr.OpCode.IsControl() {
				if err := c.control(hdr, c.reader); err != nil {
					return gohub.Frame{}, err
				}
				continue
			}
			c.inMessage = true
		}

		n, err := c.reader.Read(buf)
		if err == io.EOF {
			c.inMessage = false
			return gohub.Frame{N: n, EndOfMessage: true}, nil
		} else if err != nil {
			c.inMessage = false
			return gohub.Frame{}, err
		} else if n > 0 {
			return gohub.Frame{N: n}, nil
		}
	}
}

// Send `data` as a single binary message.
func (c *gbwConn) Send(ctx context.Context, data []byte) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	if c.State() == gohub.SocketClosed {
		return gohub.TransportClosed
	}

	d, _ := ctx.Deadline()
	c.conn.SetWriteDeadline(d)
	return wsutil.WriteServerMessage(c.conn, ws.OpBinary, data)
}

// CloseWith send a close frame carrying `status` to the remote endpoint.
func (c *gbwConn) CloseWith(ctx context.Context, status gohub.CloseStatus) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	if c.State() == gohub.SocketClosed {
		return gohub.TransportClosed
	}

	d, _ := ctx.Deadline()
	c.conn.SetWriteDeadline(d)

	body := ws.NewCloseFrameBody(ws.StatusCode(status), "")
	err := ws.WriteFrame(c.conn, ws.NewCloseFrame(body))
	if err == nil {
		atomic.CompareAndSwapUint32(&c.state, uint32(gohub.SocketOpen),
			uint32(gohub.SocketCloseSent))
	}
	return err
}

// Upgrader implements gohub.Upgrader with gobwas/ws.
type Upgrader struct {
	// HTTPUpgrader used to upgrade the HTTP request into a WebSocket
	// connection.
	HTTPUpgrader ws.HTTPUpgrader
}

var _ gohub.Upgrader = (*Upgrader)(nil)

// hasToken check whether the comma separated header `key` lists `token`.
func hasToken(h http.Header, key, token string) bool {
	for _, v := range h.Values(key) {
		for _, t := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(t), token) {
				return true
			}
		}
	}
	return false
}

// IsUpgradeRequest check whether `req` asks for a WebSocket connection.
func (u *Upgrader) IsUpgradeRequest(req *http.Request) bool {
	return hasToken(req.Header, "Connection", "upgrade") &&
		hasToken(req.Header, "Upgrade", "websocket")
}

// Upgrade a HTTP connection to a hub Socket.
func (u *Upgrader) Upgrade(w http.ResponseWriter, req *http.Request) (gohub.Socket, error) {
	conn, rw, _, err := u.HTTPUpgrader.Upgrade(req, w)
	if err != nil {
		return nil, err
	}

	var rd *bufio.Reader
	if rw != nil {
		rd = rw.Reader
	}
	return NewConn(conn, rd), nil
}
