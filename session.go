package go_hub_i_guess

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-metrics"
	"golang.org/x/sync/errgroup"
)

// State of a connection's life cycle. States only ever advance.
type State uint32

const (
	// The socket was accepted, but nothing was done with it yet.
	StateAccepting State = iota
	// The client identifier is being chosen and registered.
	StateIdentifying
	// The connection is registered and receiving messages.
	StateActive
	// The connection is leaving the registry and closing its socket.
	StateClosing
	// Every resource of the connection was released.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAccepting:
		return "Accepting"
	case StateIdentifying:
		return "Identifying"
	case StateActive:
		return "Active"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// noStatus means that no close frame should be initiated by the hub.
const noStatus CloseStatus = 0

// setState advance the session to `state`.
func (s *Session) setState(state State) {
	s.state.Store(uint32(state))
}

// Serve run the life cycle of `socket` until the connection closes. The
// socket is always closed when this returns.
//
// `identity` is the authenticated user that opened the connection, or an
// empty string if it isn't authenticated. Cancelling `ctx`, or closing the
// hub, ends the session.
//
// If `socket` is nil, then this function will panic!
func (h *Hub) Serve(ctx context.Context, socket Socket, identity string) error {
	if socket == nil {
		panic("go_hub_i_guess/session Serve: nil socket")
	}

	// Sessions are only tracked while the hub runs, so `Close` never waits
	// on a session started after it.
	h.mu.Lock()
	if h.IsClosed() {
		h.mu.Unlock()
		socket.Close()
		return nil
	}
	h.sessions.Add(1)
	h.mu.Unlock()
	defer h.sessions.Done()

	h.conf.MetricSink.IncrCounterWithLabels(MetricHubConnAcceptedCount, 1,
		h.conf.MetricLabels)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(h.ctx, cancel)
	defer stop()

	s := &Session{
		identity: identity,
		conn:     NewConnection(socket),
		clients:  clientProxy{r: h.registry},
		groups:   groupProxy{r: h.registry},
	}
	s.setState(StateAccepting)
	defer func() {
		socket.Close()
		s.setState(StateClosed)
	}()

	err := h.identify(ctx, s)
	if s.State() != StateActive {
		// Never registered, so there's nothing to notify.
		return err
	}

	status := noStatus
	if err == nil {
		status = h.receive(ctx, s)
	}
	if status == noStatus && h.IsClosed() {
		status = NormalClosure
	}

	h.closing(ctx, s, status)
	return err
}

// identify choose the client identifier of `s`, then register it and
// notify the handler. Once the client is registered and the handler was
// notified, the session is Active, even if the handler failed.
func (h *Hub) identify(ctx context.Context, s *Session) error {
	s.setState(StateIdentifying)

	if h.conf.ClientIdentity == UserWhenAuthenticated && len(s.identity) > 0 {
		s.clientID = s.identity
	} else {
		id, err := newAnonymousID(h.conf.AnonymousClientIDSize)
		if err != nil {
			return fmt.Errorf("generating client ID: %w", err)
		}
		s.clientID = id
	}

	// The client must be reachable before the handler sees it, so the hook
	// may already add it to groups or message it.
	if err := h.registry.Connect(s.clientID, s.conn); err != nil {
		h.info("Couldn't register client",
			LabelClientID.L(s.clientID),
			LabelConnID.L(s.conn.ID()),
			LabelError.L(err))
		return err
	}

	err := h.call(func() error {
		return h.handler.OnConnected(ctx, s)
	})
	s.setState(StateActive)

	if err != nil {
		h.info("Couldn't connect client",
			LabelClientID.L(s.clientID),
			LabelConnID.L(s.conn.ID()),
			LabelError.L(err))
		return err
	}

	h.debug("Client connected",
		LabelClientID.L(s.clientID),
		LabelConnID.L(s.conn.ID()))

	if h.conf.SendHelloOnConnect {
		data, err := serialize(NewHelloMessage(s.clientID))
		if err == nil {
			err = s.conn.Send(ctx, data)
		}
		if err != nil {
			h.debug("Couldn't send hello",
				LabelClientID.L(s.clientID),
				LabelConnID.L(s.conn.ID()),
				LabelError.L(err))
			return err
		}
	}

	return nil
}

// receive dispatch every message from the connection to the handler,
// returning the status that the hub should close the connection with.
func (h *Hub) receive(ctx context.Context, s *Session) CloseStatus {
	socket := s.conn.Socket()
	buf := make([]byte, h.conf.BufferSize)

	for ctx.Err() == nil && socket.State() == SocketOpen {
		n := 0
		for {
			frame, err := socket.Receive(ctx, buf[n:])
			if err != nil {
				h.debug("Couldn't receive message",
					LabelClientID.L(s.clientID),
					LabelConnID.L(s.conn.ID()),
					LabelError.L(err))
				return noStatus
			}

			n += frame.N
			if frame.Close {
				return NormalClosure
			} else if n >= len(buf) {
				return MessageTooBig
			} else if frame.EndOfMessage {
				break
			}
		}

		h.conf.MetricSink.IncrCounterWithLabels(MetricHubMessageInCount, 1,
			h.conf.MetricLabels)
		h.conf.MetricSink.IncrCounterWithLabels(MetricHubMessageInBytes,
			float32(n), h.conf.MetricLabels)

		msg := h.codec.Deserialize(buf[:n])
		if msg == nil {
			h.conf.MetricSink.IncrCounterWithLabels(MetricHubMessageInvalidCount, 1,
				h.conf.MetricLabels)
			return InvalidPayloadData
		}

		err := h.call(func() error {
			return h.handler.HandleMessage(ctx, s, msg)
		})
		if err != nil {
			h.info("Message handler failed",
				LabelClientID.L(s.clientID),
				LabelConnID.L(s.conn.ID()),
				LabelMethod.L(msg.MethodName),
				LabelError.L(err))
			return noStatus
		}
	}

	return noStatus
}

// closing remove the connection from the registry, notify the handler and
// then perform the closing handshake. Failures are only logged, so the
// socket is always released afterwards.
func (h *Hub) closing(ctx context.Context, s *Session, status CloseStatus) {
	s.setState(StateClosing)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx),
		h.conf.CloseTimeout)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error {
		return h.registry.Disconnect(s.clientID, s.conn)
	})
	g.Go(func() error {
		return h.call(func() error {
			return h.handler.OnDisconnected(ctx, s)
		})
	})
	if err := g.Wait(); err != nil {
		h.info("Couldn't disconnect client",
			LabelClientID.L(s.clientID),
			LabelConnID.L(s.conn.ID()),
			LabelError.L(err))
	}

	var err error
	switch socket := s.conn.Socket(); socket.State() {
	case SocketOpen:
		if status != noStatus {
			err = s.conn.closeWith(ctx, status)
		}
	case SocketCloseReceived:
		err = s.conn.closeWith(ctx, NormalClosure)
	}
	if err != nil {
		h.debug("Couldn't complete the closing handshake",
			LabelClientID.L(s.clientID),
			LabelConnID.L(s.conn.ID()),
			LabelError.L(err))
	}

	reason := "none"
	if status != noStatus {
		reason = status.String()
	}
	h.conf.MetricSink.IncrCounterWithLabels(MetricHubConnClosedCount, 1,
		append([]metrics.Label{LabelCloseReason.M(reason)}, h.conf.MetricLabels...))
	h.debug("Connection closed",
		LabelClientID.L(s.clientID),
		LabelConnID.L(s.conn.ID()),
		LabelCloseReason.L(reason))
}

// call run `fn`, converting a panic into an error.
func (h *Hub) call(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	return fn()
}
