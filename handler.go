package go_hub_i_guess

import (
	"context"
	"sync/atomic"
)

// Handler is the application logic of a hub.
//
// A single Handler serves every connection of the hub, so it must be safe
// for concurrent use. Per-connection data is available through the
// `Session` passed to each call.
type Handler interface {
	// OnConnected is called once the connection's client was identified
	// and registered, so it may already be added to groups or messaged.
	OnConnected(ctx context.Context, s *Session) error

	// OnDisconnected is called when the connection closes, concurrently
	// with its removal from the registry.
	OnDisconnected(ctx context.Context, s *Session) error

	// HandleMessage is the dispatch entry point, receiving every valid
	// message from the client. Its arguments were already converted to the
	// types registered for `msg.MethodName`.
	//
	// Returning an error closes the connection.
	HandleMessage(ctx context.Context, s *Session, msg *Message) error
}

// BaseHandler implements the connection hooks of `Handler` as no-ops, so
// applications only need to implement `HandleMessage`.
type BaseHandler struct{}

// OnConnected does nothing.
func (BaseHandler) OnConnected(context.Context, *Session) error {
	return nil
}

// OnDisconnected does nothing.
func (BaseHandler) OnDisconnected(context.Context, *Session) error {
	return nil
}

// ClientProxy sends messages to clients of the hub.
type ClientProxy interface {
	// SendTo send `msg` to every connection of `clientID`.
	SendTo(ctx context.Context, clientID string, msg *Message) error

	// SendToMany send `msg` to every connection of every client listed.
	// Repeated clients receive it once.
	SendToMany(ctx context.Context, clientIDs []string, msg *Message) error

	// SendToAll send `msg` to every connected client.
	SendToAll(ctx context.Context, msg *Message) error

	// IsInGroup check whether `clientID` is a member of `groupID`.
	IsInGroup(clientID, groupID string) (bool, error)
}

// GroupProxy manages group membership and sends messages to groups.
type GroupProxy interface {
	// Add `clientID` to `groupID`.
	Add(clientID, groupID string) error

	// AddMany add `clientID` to every group listed.
	AddMany(clientID string, groupIDs []string) error

	// Remove `clientID` from `groupID`.
	Remove(clientID, groupID string) error

	// Send `msg` to every member of `groupID`.
	Send(ctx context.Context, groupID string, msg *Message) error

	// SendMany send `msg` to the members of every group listed.
	SendMany(ctx context.Context, groupIDs []string, msg *Message) error
}

// clientProxy implements ClientProxy over a Registry.
type clientProxy struct {
	r *Registry
}

func (p clientProxy) SendTo(ctx context.Context, clientID string, msg *Message) error {
	return p.r.SendTo(ctx, clientID, msg)
}

func (p clientProxy) SendToMany(ctx context.Context, clientIDs []string, msg *Message) error {
	return p.r.SendToMany(ctx, clientIDs, msg)
}

func (p clientProxy) SendToAll(ctx context.Context, msg *Message) error {
	return p.r.SendToAll(ctx, msg)
}

func (p clientProxy) IsInGroup(clientID, groupID string) (bool, error) {
	return p.r.IsInGroup(clientID, groupID)
}

// groupProxy implements GroupProxy over a Registry.
type groupProxy struct {
	r *Registry
}

func (p groupProxy) Add(clientID, groupID string) error {
	return p.r.AddToGroup(clientID, groupID)
}

func (p groupProxy) AddMany(clientID string, groupIDs []string) error {
	return p.r.AddToGroups(clientID, groupIDs)
}

func (p groupProxy) Remove(clientID, groupID string) error {
	return p.r.RemoveFromGroup(clientID, groupID)
}

func (p groupProxy) Send(ctx context.Context, groupID string, msg *Message) error {
	return p.r.SendToGroup(ctx, groupID, msg)
}

func (p groupProxy) SendMany(ctx context.Context, groupIDs []string, msg *Message) error {
	return p.r.SendToGroups(ctx, groupIDs, msg)
}

var (
	_ ClientProxy = clientProxy{}
	_ GroupProxy  = groupProxy{}
)

// Session is a single connection to the hub, as seen by the `Handler`.
type Session struct {
	// clientID assigned to the connection.
	clientID string

	// identity of the authenticated user, if any.
	identity string

	// conn to the remote endpoint.
	conn *Connection

	// state of the connection's life cycle.
	state atomic.Uint32

	clients ClientProxy
	groups  GroupProxy
}

// ClientID retrieve the identifier of the client owning this connection.
func (s *Session) ClientID() string {
	return s.clientID
}

// Identity retrieve the authenticated user that opened this connection.
// It's empty for unauthenticated connections.
func (s *Session) Identity() string {
	return s.identity
}

// Connection retrieve this session's own connection. Messages sent through
// it reach only this device, as opposed to `Clients().SendTo`.
func (s *Session) Connection() *Connection {
	return s.conn
}

// State retrieve the current state of the connection's life cycle.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Clients retrieve the proxy used to reach the hub's clients.
func (s *Session) Clients() ClientProxy {
	return s.clients
}

// Groups retrieve the proxy used to manage and reach the hub's groups.
func (s *Session) Groups() GroupProxy {
	return s.groups
}
