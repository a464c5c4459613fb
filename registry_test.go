package go_hub_i_guess

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConn() (*Connection, *mockSocket) {
	sock := newMockSocket()
	return NewConnection(sock), sock
}

func newTestRegistry() *Registry {
	return NewRegistry(GetDefaultHubConf())
}

func TestRegistryConnect(t *testing.T) {
	r := newTestRegistry()
	c1, _ := newTestConn()
	c2, _ := newTestConn()

	require.NoError(t, r.Connect("u1", c1))
	require.NoError(t, r.Connect("u1", c2))

	assert.Equal(t, 1, r.ClientCount())
	assert.Equal(t, 2, r.Connections("u1"))

	// Connecting the same connection twice doesn't duplicate it.
	require.NoError(t, r.Connect("u1", c2))
	assert.Equal(t, 2, r.Connections("u1"))

	assert.ErrorIs(t, r.Connect("", c1), InvalidClientID)
	assert.Panics(t, func() {
		r.Connect("u1", nil)
	})
}

// TestRegistryDisconnectKeepsGroups check that a client keeps its groups
// while it's still connected from other devices.
func TestRegistryDisconnectKeepsGroups(t *testing.T) {
	r := newTestRegistry()
	c1, _ := newTestConn()
	c2, _ := newTestConn()

	require.NoError(t, r.Connect("u1", c1))
	require.NoError(t, r.Connect("u1", c2))
	require.NoError(t, r.AddToGroups("u1", []string{"g1", "g2"}))

	require.NoError(t, r.Disconnect("u1", c1))
	assert.Equal(t, 1, r.Connections("u1"))
	assert.Equal(t, []string{"g1", "g2"}, r.GroupsOf("u1"))
	assert.Equal(t, []string{"u1"}, r.Members("g1"))

	require.NoError(t, r.Disconnect("u1", c2))
	assert.Zero(t, r.ClientCount())
	assert.Zero(t, r.GroupCount())
	assert.Empty(t, r.GroupsOf("u1"))
	assert.Empty(t, r.Members("g1"))

	ok, err := r.IsInGroup("u1", "g1")
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestRegistryDisconnectSharedGroup check that a group only goes away
// once its last member leaves.
func TestRegistryDisconnectSharedGroup(t *testing.T) {
	r := newTestRegistry()
	c1, _ := newTestConn()
	c2, _ := newTestConn()

	require.NoError(t, r.Connect("u1", c1))
	require.NoError(t, r.Connect("u2", c2))
	require.NoError(t, r.AddToGroup("u1", "g"))
	require.NoError(t, r.AddToGroup("u2", "g"))

	require.NoError(t, r.Disconnect("u1", c1))
	assert.Equal(t, 1, r.GroupCount())
	assert.Equal(t, []string{"u2"}, r.Members("g"))

	require.NoError(t, r.Disconnect("u2", c2))
	assert.Zero(t, r.GroupCount())
}

func TestRegistryDisconnectUnknown(t *testing.T) {
	r := newTestRegistry()
	c1, _ := newTestConn()
	c2, _ := newTestConn()

	assert.NoError(t, r.Disconnect("nobody", c1))

	require.NoError(t, r.Connect("u1", c1))
	require.NoError(t, r.AddToGroup("u1", "g"))

	// A connection that was never registered for the client is ignored.
	assert.NoError(t, r.Disconnect("u1", c2))
	assert.Equal(t, 1, r.Connections("u1"))
	assert.Equal(t, []string{"g"}, r.GroupsOf("u1"))

	assert.ErrorIs(t, r.Disconnect("", c1), InvalidClientID)
}

func TestRegistryGroups(t *testing.T) {
	r := newTestRegistry()
	c1, _ := newTestConn()

	require.NoError(t, r.Connect("u1", c1))

	// Adding twice is idempotent.
	require.NoError(t, r.AddToGroup("u1", "g"))
	require.NoError(t, r.AddToGroup("u1", "g"))
	assert.Equal(t, []string{"u1"}, r.Members("g"))
	assert.Equal(t, []string{"g"}, r.GroupsOf("u1"))

	ok, err := r.IsInGroup("u1", "g")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, r.RemoveFromGroup("u1", "g"))
	assert.Zero(t, r.GroupCount())
	assert.Empty(t, r.GroupsOf("u1"))

	// Removing again does nothing.
	require.NoError(t, r.RemoveFromGroup("u1", "g"))

	// Clients that aren't connected are ignored.
	require.NoError(t, r.AddToGroup("ghost", "g"))
	assert.Zero(t, r.GroupCount())
	assert.Zero(t, r.ClientCount())
}

func TestRegistryInvalidIDs(t *testing.T) {
	r := newTestRegistry()
	c1, _ := newTestConn()
	require.NoError(t, r.Connect("u1", c1))

	assert.ErrorIs(t, r.AddToGroup("", "g"), InvalidClientID)
	assert.ErrorIs(t, r.AddToGroup("u1", ""), InvalidGroupID)
	assert.ErrorIs(t, r.AddToGroups("u1", []string{"g", ""}), InvalidGroupID)
	assert.ErrorIs(t, r.RemoveFromGroup("", "g"), InvalidClientID)
	assert.ErrorIs(t, r.RemoveFromGroup("u1", ""), InvalidGroupID)

	_, err := r.IsInGroup("", "g")
	assert.ErrorIs(t, err, InvalidClientID)
	_, err = r.IsInGroup("u1", "")
	assert.ErrorIs(t, err, InvalidGroupID)

	msg := &Message{MethodName: "M"}
	assert.ErrorIs(t, r.SendTo(context.Background(), "", msg), InvalidClientID)
	assert.ErrorIs(t, r.SendToMany(context.Background(), []string{"u1", ""}, msg), InvalidClientID)
	assert.ErrorIs(t, r.SendToGroup(context.Background(), "", msg), InvalidGroupID)

	// A failed validation never touches the registry.
	assert.Zero(t, r.GroupCount())
}

// TestRegistrySendTo check that every device of a client receives the
// message.
func TestRegistrySendTo(t *testing.T) {
	r := newTestRegistry()
	c1, s1 := newTestConn()
	c2, s2 := newTestConn()
	c3, s3 := newTestConn()

	require.NoError(t, r.Connect("u1", c1))
	require.NoError(t, r.Connect("u1", c2))
	require.NoError(t, r.Connect("u2", c3))

	msg := &Message{MethodName: "ReceiveMessage", Args: []any{"hi"}}
	require.NoError(t, r.SendTo(context.Background(), "u1", msg))

	for _, s := range []*mockSocket{s1, s2} {
		data, err := s.TestRecv(time.Second)
		require.NoError(t, err)
		assert.JSONEq(t, `{"methodName":"ReceiveMessage","args":["hi"]}`, string(data))
	}
	_, err := s3.TestRecv(time.Millisecond * 10)
	assert.ErrorIs(t, err, errTestTimeout)

	// Sending to a client that isn't connected does nothing.
	assert.NoError(t, r.SendTo(context.Background(), "ghost", msg))

	assert.Panics(t, func() {
		r.SendTo(context.Background(), "u1", nil)
	})
}

func TestRegistrySendToMany(t *testing.T) {
	r := newTestRegistry()
	c1, s1 := newTestConn()
	c2, s2 := newTestConn()
	c3, s3 := newTestConn()

	require.NoError(t, r.Connect("u1", c1))
	require.NoError(t, r.Connect("u2", c2))
	require.NoError(t, r.Connect("u3", c3))

	msg := &Message{MethodName: "M"}
	require.NoError(t, r.SendToMany(context.Background(), []string{"u1", "u3", "ghost"}, msg))

	_, err := s1.TestRecv(time.Second)
	assert.NoError(t, err)
	_, err = s3.TestRecv(time.Second)
	assert.NoError(t, err)
	_, err = s2.TestRecv(time.Millisecond * 10)
	assert.ErrorIs(t, err, errTestTimeout)
}

// TestRegistrySendToManyRepeated check that a client listed twice receives
// the message only once.
func TestRegistrySendToManyRepeated(t *testing.T) {
	r := newTestRegistry()
	c1, s1 := newTestConn()
	require.NoError(t, r.Connect("u1", c1))

	msg := &Message{MethodName: "M"}
	require.NoError(t, r.SendToMany(context.Background(), []string{"u1", "u1"}, msg))

	_, err := s1.TestRecv(time.Second)
	assert.NoError(t, err)
	_, err = s1.TestRecv(time.Millisecond * 10)
	assert.ErrorIs(t, err, errTestTimeout)
}

// TestRegistrySendToGroup check that every member receives the same bytes.
func TestRegistrySendToGroup(t *testing.T) {
	r := newTestRegistry()

	var socks []*mockSocket
	for i := 0; i < 3; i++ {
		conn, sock := newTestConn()
		id := fmt.Sprintf("u%d", i)
		require.NoError(t, r.Connect(id, conn))
		require.NoError(t, r.AddToGroup(id, "room"))
		socks = append(socks, sock)
	}
	outsider, outSock := newTestConn()
	require.NoError(t, r.Connect("outsider", outsider))

	msg := &Message{MethodName: "ReceiveMessage", Args: []any{"u0", "hello"}}
	require.NoError(t, r.SendToGroup(context.Background(), "room", msg))

	var first []byte
	for _, s := range socks {
		data, err := s.TestRecv(time.Second)
		require.NoError(t, err)
		if first == nil {
			first = data
		}
		assert.Equal(t, first, data)
	}
	_, err := outSock.TestRecv(time.Millisecond * 10)
	assert.ErrorIs(t, err, errTestTimeout)

	assert.NoError(t, r.SendToGroup(context.Background(), "empty", msg))
}

// TestRegistrySendToGroupsSkipsUnknown check that groups that don't exist
// don't prevent delivering to the ones that do.
func TestRegistrySendToGroupsSkipsUnknown(t *testing.T) {
	r := newTestRegistry()
	c1, s1 := newTestConn()
	c2, s2 := newTestConn()

	require.NoError(t, r.Connect("u1", c1))
	require.NoError(t, r.Connect("u2", c2))
	require.NoError(t, r.AddToGroup("u1", "a"))
	require.NoError(t, r.AddToGroup("u2", "b"))
	require.NoError(t, r.AddToGroup("u2", "a"))

	msg := &Message{MethodName: "M"}
	require.NoError(t, r.SendToGroups(context.Background(), []string{"missing", "a", "b"}, msg))

	_, err := s1.TestRecv(time.Second)
	assert.NoError(t, err)
	_, err = s1.TestRecv(time.Millisecond * 10)
	assert.ErrorIs(t, err, errTestTimeout)

	// u2 is a member of both groups.
	for i := 0; i < 2; i++ {
		_, err = s2.TestRecv(time.Second)
		assert.NoError(t, err)
	}
}

func TestRegistrySendToAll(t *testing.T) {
	r := newTestRegistry()

	var socks []*mockSocket
	for i := 0; i < 5; i++ {
		conn, sock := newTestConn()
		require.NoError(t, r.Connect(fmt.Sprintf("u%d", i), conn))
		socks = append(socks, sock)
	}

	require.NoError(t, r.SendToAll(context.Background(), &Message{MethodName: "M"}))
	for _, s := range socks {
		_, err := s.TestRecv(time.Second)
		assert.NoError(t, err)
	}
}

// TestRegistrySendPartialFailure check that a closed connection doesn't
// prevent delivering to the others, while still reporting the failure.
func TestRegistrySendPartialFailure(t *testing.T) {
	r := newTestRegistry()
	c1, s1 := newTestConn()
	c2, s2 := newTestConn()

	require.NoError(t, r.Connect("u1", c1))
	require.NoError(t, r.Connect("u1", c2))
	s1.Close()

	err := r.SendTo(context.Background(), "u1", &Message{MethodName: "M"})
	assert.ErrorIs(t, err, TransportClosed)

	_, err = s2.TestRecv(time.Second)
	assert.NoError(t, err)
}

// TestRegistryConcurrent run many clients joining, messaging and leaving
// groups at once, checking that the registry ends up empty.
func TestRegistryConcurrent(t *testing.T) {
	const clients = 64
	const devices = 3

	r := newTestRegistry()
	groups := []string{"g0", "g1", "g2", "g3"}

	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()

			id := fmt.Sprintf("u%d", i)
			var conns []*Connection
			for j := 0; j < devices; j++ {
				conn, _ := newTestConn()
				assert.NoError(t, r.Connect(id, conn))
				conns = append(conns, conn)
			}

			assert.NoError(t, r.AddToGroups(id, groups))
			assert.NoError(t, r.SendToGroup(context.Background(), groups[i%len(groups)],
				&Message{MethodName: "M"}))
			assert.NoError(t, r.RemoveFromGroup(id, groups[0]))

			for _, conn := range conns {
				assert.NoError(t, r.Disconnect(id, conn))
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, r.ClientCount())
	assert.Zero(t, r.GroupCount())
}

func TestRegistryMetrics(t *testing.T) {
	sink := metrics.NewInmemSink(time.Minute, time.Minute)
	conf := GetDefaultHubConf()
	conf.MetricSink = sink
	r := NewRegistry(conf)

	c1, _ := newTestConn()
	c2, s2 := newTestConn()
	require.NoError(t, r.Connect("u1", c1))
	require.NoError(t, r.Connect("u1", c2))
	require.NoError(t, r.SendTo(context.Background(), "u1", &Message{MethodName: "M"}))
	require.NoError(t, r.Disconnect("u1", c1))
	require.NoError(t, r.Disconnect("u1", c2))
	_, err := s2.TestRecv(time.Second)
	require.NoError(t, err)

	data := sink.Data()
	require.NotEmpty(t, data)
	counters := data[0].Counters
	assert.Equal(t, 1, counters["hub.client.connected.count"].Count)
	assert.Equal(t, 1, counters["hub.client.disconnected.count"].Count)
	assert.Equal(t, 2, counters["hub.send.count"].Count)
}
