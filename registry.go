package go_hub_i_guess

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/go-metrics"
	"golang.org/x/sync/errgroup"
)

// Number of independent locks protecting each of the client and group
// tables.
const defShardCount = 32

// client is a logical user, which may be connected from multiple devices.
//
// Both sets are protected by the lock of the client's shard.
type client struct {
	// conns currently active for this client.
	conns map[*Connection]struct{}

	// groups the client is a member of.
	groups map[string]struct{}
}

// clientShard holds a slice of the client table.
type clientShard struct {
	lock    sync.RWMutex
	clients map[string]*client
}

// groupShard holds a slice of the group table. Each group is its set of
// members.
type groupShard struct {
	lock   sync.RWMutex
	groups map[string]map[string]struct{}
}

// Registry keeps track of every connected client and of every group.
//
// Clients and groups are spread over shards, each with its own lock, so
// operations on unrelated clients don't serialize each other. Whenever
// both a client and a group must be locked, the client's shard is always
// locked first. No group lock is ever held while acquiring a client lock.
//
// A client exists only while it has at least one connection, and a group
// exists only while it has at least one member. Every group listed by a
// client has that client as a member, and vice-versa.
type Registry struct {
	clientShards []clientShard
	groupShards  []groupShard

	// logger used to report events. If this is nil, no message shall be
	// logged!
	logger *slog.Logger

	// Whether debug messages should be logged.
	debugLog bool

	// metrics receives the registry's counters and gauges.
	metrics metrics.MetricSink

	// labels added to every metric.
	labels []metrics.Label
}

// NewRegistry create an empty registry, using the logging and metrics
// settings from `conf`.
func NewRegistry(conf HubConf) *Registry {
	r := &Registry{
		clientShards: make([]clientShard, defShardCount),
		groupShards:  make([]groupShard, defShardCount),
		logger:       conf.Logger,
		debugLog:     conf.DebugLog,
		metrics:      conf.MetricSink,
		labels:       conf.MetricLabels,
	}
	if r.metrics == nil {
		r.metrics = &metrics.BlackholeSink{}
	}

	for i := range r.clientShards {
		r.clientShards[i].clients = make(map[string]*client)
	}
	for i := range r.groupShards {
		r.groupShards[i].groups = make(map[string]map[string]struct{})
	}

	return r
}

func (r *Registry) clientShard(clientID string) *clientShard {
	return &r.clientShards[xxhash.Sum64String(clientID)%uint64(len(r.clientShards))]
}

func (r *Registry) groupShard(groupID string) *groupShard {
	return &r.groupShards[xxhash.Sum64String(groupID)%uint64(len(r.groupShards))]
}

func (r *Registry) debug(msg string, args ...any) {
	if r.debugLog && r.logger != nil {
		r.logger.Debug(msg, args...)
	}
}

// Connect register `conn` as one of the connections of `clientID`,
// creating the client if it isn't connected yet.
//
// If `conn` is nil, then this function will panic!
func (r *Registry) Connect(clientID string, conn *Connection) error {
	if conn == nil {
		panic("go_hub_i_guess/registry Connect: nil conn")
	} else if len(clientID) == 0 {
		return InvalidClientID
	}

	shard := r.clientShard(clientID)
	shard.lock.Lock()
	c, ok := shard.clients[clientID]
	if !ok {
		c = &client{
			conns:  make(map[*Connection]struct{}, 1),
			groups: make(map[string]struct{}),
		}
		shard.clients[clientID] = c
	}
	c.conns[conn] = struct{}{}
	count := len(c.conns)
	shard.lock.Unlock()

	if !ok {
		r.metrics.IncrCounterWithLabels(MetricHubClientsConnected, 1, r.labels)
	}
	r.debug("Client connected",
		LabelClientID.L(clientID),
		LabelConnID.L(conn.ID()),
		LabelConnCount.L(count))

	return nil
}

// Disconnect remove `conn` from the connections of `clientID`.
//
// If this is the client's last connection, the client is first removed
// from every group. A client still connected from other devices keeps its
// groups. The client itself is removed once it has no connection left.
//
// Disconnecting an unknown client or connection does nothing.
//
// If `conn` is nil, then this function will panic!
func (r *Registry) Disconnect(clientID string, conn *Connection) error {
	if conn == nil {
		panic("go_hub_i_guess/registry Disconnect: nil conn")
	} else if len(clientID) == 0 {
		return InvalidClientID
	}

	shard := r.clientShard(clientID)
	shard.lock.Lock()
	defer shard.lock.Unlock()

	c, ok := shard.clients[clientID]
	if !ok {
		return nil
	}
	if _, ok := c.conns[conn]; !ok {
		return nil
	}

	if len(c.conns) < 2 {
		for groupID := range c.groups {
			r.removeMember(groupID, clientID)
		}
		c.groups = make(map[string]struct{})
	}

	delete(c.conns, conn)
	if len(c.conns) == 0 {
		delete(shard.clients, clientID)
		r.metrics.IncrCounterWithLabels(MetricHubClientsDisconnected, 1, r.labels)
	}

	r.debug("Client disconnected",
		LabelClientID.L(clientID),
		LabelConnID.L(conn.ID()),
		LabelConnCount.L(len(c.conns)))

	return nil
}

// removeMember remove `clientID` from the group, deleting the group if it
// becomes empty. The caller must hold the client's shard lock.
func (r *Registry) removeMember(groupID, clientID string) {
	shard := r.groupShard(groupID)
	shard.lock.Lock()
	defer shard.lock.Unlock()

	members, ok := shard.groups[groupID]
	if !ok {
		return
	}
	delete(members, clientID)
	if len(members) == 0 {
		delete(shard.groups, groupID)
		r.debug("Group removed", LabelGroupID.L(groupID))
	}
}

// AddToGroup add `clientID` to `groupID`, creating the group if needed.
//
// Clients that aren't connected are silently ignored, as they may have
// just disconnected.
func (r *Registry) AddToGroup(clientID, groupID string) error {
	if len(clientID) == 0 {
		return InvalidClientID
	} else if len(groupID) == 0 {
		return InvalidGroupID
	}

	return r.AddToGroups(clientID, []string{groupID})
}

// AddToGroups add `clientID` to every group in `groupIDs`, as done by
// `AddToGroup`.
func (r *Registry) AddToGroups(clientID string, groupIDs []string) error {
	if len(clientID) == 0 {
		return InvalidClientID
	}
	for _, groupID := range groupIDs {
		if len(groupID) == 0 {
			return InvalidGroupID
		}
	}

	shard := r.clientShard(clientID)
	shard.lock.Lock()
	defer shard.lock.Unlock()

	c, ok := shard.clients[clientID]
	if !ok {
		return nil
	}

	for _, groupID := range groupIDs {
		c.groups[groupID] = struct{}{}

		gshard := r.groupShard(groupID)
		gshard.lock.Lock()
		members, ok := gshard.groups[groupID]
		if !ok {
			members = make(map[string]struct{})
			gshard.groups[groupID] = members
		}
		members[clientID] = struct{}{}
		gshard.lock.Unlock()

		r.debug("Client added to group",
			LabelClientID.L(clientID),
			LabelGroupID.L(groupID))
	}

	return nil
}

// RemoveFromGroup remove `clientID` from `groupID`, deleting the group if
// it becomes empty.
//
// Removing a client from a group it isn't a member of does nothing.
func (r *Registry) RemoveFromGroup(clientID, groupID string) error {
	if len(clientID) == 0 {
		return InvalidClientID
	} else if len(groupID) == 0 {
		return InvalidGroupID
	}

	shard := r.clientShard(clientID)
	shard.lock.Lock()
	defer shard.lock.Unlock()

	if c, ok := shard.clients[clientID]; ok {
		delete(c.groups, groupID)
	}
	r.removeMember(groupID, clientID)

	return nil
}

// IsInGroup check whether `clientID` is a member of `groupID`.
func (r *Registry) IsInGroup(clientID, groupID string) (bool, error) {
	if len(clientID) == 0 {
		return false, InvalidClientID
	} else if len(groupID) == 0 {
		return false, InvalidGroupID
	}

	shard := r.groupShard(groupID)
	shard.lock.RLock()
	defer shard.lock.RUnlock()

	_, ok := shard.groups[groupID][clientID]
	return ok, nil
}

// ClientCount retrieve the number of connected clients.
func (r *Registry) ClientCount() int {
	count := 0
	for i := range r.clientShards {
		shard := &r.clientShards[i]
		shard.lock.RLock()
		count += len(shard.clients)
		shard.lock.RUnlock()
	}

	return count
}

// GroupCount retrieve the number of existing groups.
func (r *Registry) GroupCount() int {
	count := 0
	for i := range r.groupShards {
		shard := &r.groupShards[i]
		shard.lock.RLock()
		count += len(shard.groups)
		shard.lock.RUnlock()
	}

	return count
}

// Connections retrieve how many connections `clientID` currently has.
func (r *Registry) Connections(clientID string) int {
	shard := r.clientShard(clientID)
	shard.lock.RLock()
	defer shard.lock.RUnlock()

	if c, ok := shard.clients[clientID]; ok {
		return len(c.conns)
	}
	return 0
}

// GroupsOf retrieve the groups that `clientID` is a member of, sorted.
func (r *Registry) GroupsOf(clientID string) []string {
	shard := r.clientShard(clientID)
	shard.lock.RLock()
	c, ok := shard.clients[clientID]
	var list []string
	if ok {
		list = make([]string, 0, len(c.groups))
		for groupID := range c.groups {
			list = append(list, groupID)
		}
	}
	shard.lock.RUnlock()

	sort.Strings(list)
	return list
}

// Members retrieve the members of `groupID`, sorted.
func (r *Registry) Members(groupID string) []string {
	list := r.members(groupID)
	sort.Strings(list)

	return list
}

// members copy the member set of `groupID`, so it may be iterated without
// holding the group's lock.
func (r *Registry) members(groupID string) []string {
	shard := r.groupShard(groupID)
	shard.lock.RLock()
	defer shard.lock.RUnlock()

	members, ok := shard.groups[groupID]
	if !ok {
		return nil
	}
	list := make([]string, 0, len(members))
	for clientID := range members {
		list = append(list, clientID)
	}

	return list
}

// connections copy the connection set of `clientID`.
func (r *Registry) connections(clientID string) []*Connection {
	shard := r.clientShard(clientID)
	shard.lock.RLock()
	defer shard.lock.RUnlock()

	c, ok := shard.clients[clientID]
	if !ok {
		return nil
	}
	list := make([]*Connection, 0, len(c.conns))
	for conn := range c.conns {
		list = append(list, conn)
	}

	return list
}

// allClients copy the identifier of every connected client.
func (r *Registry) allClients() []string {
	var list []string
	for i := range r.clientShards {
		shard := &r.clientShards[i]
		shard.lock.RLock()
		for clientID := range shard.clients {
			list = append(list, clientID)
		}
		shard.lock.RUnlock()
	}

	return list
}

// encode serialize `msg` once for a fan-out.
//
// If `msg` is nil, then this function will panic!
func encode(msg *Message) ([]byte, error) {
	if msg == nil {
		panic("go_hub_i_guess/registry: nil message")
	}

	return serialize(msg)
}

// SendTo send `msg` to every connection of `clientID`.
//
// Every connection is written concurrently and independently: a failure
// on one of them doesn't prevent delivering to the others. Once every
// write finishes, the first error (if any) is returned. Sending to a
// client that isn't connected does nothing.
func (r *Registry) SendTo(ctx context.Context, clientID string, msg *Message) error {
	if len(clientID) == 0 {
		return InvalidClientID
	}

	data, err := encode(msg)
	if err != nil {
		return err
	}

	return r.send(ctx, []string{clientID}, data)
}

// SendToMany send `msg` to every client in `clientIDs`, as done by
// `SendTo`. A client listed more than once receives the message once.
func (r *Registry) SendToMany(ctx context.Context, clientIDs []string, msg *Message) error {
	unique := make([]string, 0, len(clientIDs))
	seen := make(map[string]struct{}, len(clientIDs))
	for _, clientID := range clientIDs {
		if len(clientID) == 0 {
			return InvalidClientID
		} else if _, ok := seen[clientID]; ok {
			continue
		}
		seen[clientID] = struct{}{}
		unique = append(unique, clientID)
	}

	data, err := encode(msg)
	if err != nil {
		return err
	}

	return r.send(ctx, unique, data)
}

// SendToGroup send `msg` to every member of `groupID`. Sending to a group
// that doesn't exist does nothing.
func (r *Registry) SendToGroup(ctx context.Context, groupID string, msg *Message) error {
	return r.SendToGroups(ctx, []string{groupID}, msg)
}

// SendToGroups send `msg` to the members of every group in `groupIDs`.
//
// Groups that don't exist are skipped, and the remaining ones still
// receive the message. A client that is a member of more than one of the
// groups receives the message once per group.
func (r *Registry) SendToGroups(ctx context.Context, groupIDs []string, msg *Message) error {
	for _, groupID := range groupIDs {
		if len(groupID) == 0 {
			return InvalidGroupID
		}
	}

	data, err := encode(msg)
	if err != nil {
		return err
	}

	var clientIDs []string
	for _, groupID := range groupIDs {
		clientIDs = append(clientIDs, r.members(groupID)...)
	}

	return r.send(ctx, clientIDs, data)
}

// SendToAll send `msg` to every connected client.
func (r *Registry) SendToAll(ctx context.Context, msg *Message) error {
	data, err := encode(msg)
	if err != nil {
		return err
	}

	return r.send(ctx, r.allClients(), data)
}

// send the already encoded `data` to every connection of every client in
// `clientIDs`, concurrently.
func (r *Registry) send(ctx context.Context, clientIDs []string, data []byte) error {
	var g errgroup.Group

	for _, clientID := range clientIDs {
		clientID := clientID
		for _, conn := range r.connections(clientID) {
			conn := conn
			g.Go(func() error {
				err := conn.Send(ctx, data)
				if err != nil {
					r.metrics.IncrCounterWithLabels(MetricHubSendErrorCount, 1, r.labels)
					r.debug("Couldn't send a message to the client",
						LabelClientID.L(clientID),
						LabelConnID.L(conn.ID()),
						LabelError.L(err))
				} else {
					r.metrics.IncrCounterWithLabels(MetricHubSendCount, 1, r.labels)
				}
				return err
			})
		}
	}

	return g.Wait()
}
