package go_hub_i_guess

import (
	"context"
	"io"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// SocketState reports which side of the closing handshake, if any, has
// already happened on a socket.
type SocketState uint32

const (
	// The socket may send and receive messages.
	SocketOpen SocketState = iota
	// The peer sent a close frame, which wasn't acknowledged yet.
	SocketCloseReceived
	// A close frame was sent to the peer.
	SocketCloseSent
	// The socket was released.
	SocketClosed
)

func (s SocketState) String() string {
	switch s {
	case SocketOpen:
		return "Open"
	case SocketCloseReceived:
		return "CloseReceived"
	case SocketCloseSent:
		return "CloseSent"
	case SocketClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Frame describes a chunk of a data message read by `Socket.Receive`.
type Frame struct {
	// N is the number of bytes written into the receive buffer.
	N int

	// EndOfMessage is set once the last byte of the message was read.
	EndOfMessage bool

	// Close is set if the peer sent a close frame instead of data.
	Close bool
}

// Socket is the transport of a single connection. The hub never
// manipulates the protocol directly, so any message oriented, full-duplex
// transport may be plugged in (see `gorilla-ws-conn` and `gobwas-ws-conn`).
//
// `Receive` is only ever called by the connection's own goroutine, while
// `Send` is serialized by the `Connection` wrapping the socket.
type Socket interface {
	io.Closer

	// Receive blocks until some data of the current message is available,
	// copying it into `buf`. Ping and pong control frames must be handled
	// internally by the socket.
	Receive(ctx context.Context, buf []byte) (Frame, error)

	// Send `data` as a single, unfragmented, binary message.
	Send(ctx context.Context, data []byte) error

	// State of the closing handshake.
	State() SocketState

	// CloseWith send a close frame carrying `status` to the peer. This
	// doesn't release the socket, which is still done by `Close`.
	CloseWith(ctx context.Context, status CloseStatus) error
}

// Connection owns one socket and guarantees that writes to it never
// interleave.
type Connection struct {
	// id is only used to correlate log messages.
	id string

	// socket is the underlying transport.
	socket Socket

	// gate lets a single writer access the socket. Acquisition is FIFO, so
	// writes keep their submission order.
	gate *semaphore.Weighted
}

// NewConnection wraps `socket` into a Connection.
//
// If `socket` is nil, then this function will panic!
func NewConnection(socket Socket) *Connection {
	if socket == nil {
		panic("go_hub_i_guess/conn NewConnection: nil socket")
	}

	return &Connection{
		id:     uuid.NewString(),
		socket: socket,
		gate:   semaphore.NewWeighted(1),
	}
}

// ID retrieve the connection's unique identifier.
func (c *Connection) ID() string {
	return c.id
}

// Socket retrieve the connection's transport.
func (c *Connection) Socket() Socket {
	return c.socket
}

// Send `data` to the remote endpoint as a single binary message.
//
// Concurrent calls queue behind each other, in the order that they were
// issued. If `ctx` gets cancelled while waiting, the message isn't sent.
func (c *Connection) Send(ctx context.Context, data []byte) error {
	if err := c.gate.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.gate.Release(1)

	if c.socket.State() != SocketOpen {
		return TransportClosed
	}

	return c.socket.Send(ctx, data)
}

// closeWith send a close frame carrying `status`, queueing behind any
// pending write.
func (c *Connection) closeWith(ctx context.Context, status CloseStatus) error {
	if err := c.gate.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.gate.Release(1)

	return c.socket.CloseWith(ctx, status)
}
