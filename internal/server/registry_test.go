package server

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatline/chatline/internal/wire"
)

// pipeConn returns one end of an in-memory connection.
func pipeConn(t *testing.T) net.Conn {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a
}

// identified registers a client with a master and an empty slave pool.
func identified(t *testing.T, r *Registry, name string) {
	t.Helper()
	require.Equal(t, wire.ResponseOK, r.AddMaster(name, pipeConn(t), nil))
	require.Equal(t, wire.ResponseOK, r.PromoteSlaves(name))
}

func TestAddMasterRejectsDuplicates(t *testing.T) {
	r := NewRegistry(nil)

	assert.Equal(t, wire.ResponseOK, r.AddMaster("alice", pipeConn(t), nil))
	assert.Equal(t, wire.ResponseError, r.AddMaster("alice", pipeConn(t), nil))
	assert.Equal(t, wire.ResponseError, r.AddMaster("", pipeConn(t), nil))
	assert.Equal(t, []string{"alice"}, r.ClientNames())
}

func TestAddSlaveRequiresMaster(t *testing.T) {
	r := NewRegistry(nil)

	assert.Equal(t, wire.ResponseNotExist, r.AddSlave("ghost", pipeConn(t)))

	require.Equal(t, wire.ResponseOK, r.AddMaster("alice", pipeConn(t), nil))
	assert.Equal(t, wire.ResponseOK, r.AddSlave("alice", pipeConn(t)))
	assert.Equal(t, wire.ResponseOK, r.AddSlave("alice", pipeConn(t)))
}

func TestPromoteSlavesInstallsPool(t *testing.T) {
	r := NewRegistry(nil)

	require.Equal(t, wire.ResponseOK, r.AddMaster("alice", pipeConn(t), nil))
	require.Equal(t, wire.ResponseOK, r.AddSlave("alice", pipeConn(t)))
	require.Equal(t, wire.ResponseOK, r.AddSlave("alice", pipeConn(t)))

	_, ok := r.Pool("alice")
	assert.False(t, ok, "pool must not exist before promotion")

	assert.Equal(t, wire.ResponseOK, r.PromoteSlaves("alice"))
	p, ok := r.Pool("alice")
	require.True(t, ok)
	assert.Equal(t, 2, p.Size())

	assert.Equal(t, wire.ResponseNotExist, r.PromoteSlaves("ghost"))
}

// A client that never joined a slave still gets a pool on promotion.
func TestPromoteSlavesWithZeroSlaves(t *testing.T) {
	r := NewRegistry(nil)

	require.Equal(t, wire.ResponseOK, r.AddMaster("alice", pipeConn(t), nil))
	assert.Equal(t, wire.ResponseOK, r.PromoteSlaves("alice"))

	p, ok := r.Pool("alice")
	require.True(t, ok)
	assert.Equal(t, 0, p.Size())
}

func TestGroupLifecycle(t *testing.T) {
	r := NewRegistry(nil)
	identified(t, r, "alice")
	identified(t, r, "bob")

	assert.Equal(t, wire.ResponseError, r.CreateGroup(""))
	assert.Equal(t, wire.ResponseOK, r.CreateGroup("devs"))
	assert.Equal(t, wire.ResponseExists, r.CreateGroup("devs"))

	assert.Equal(t, wire.ResponseError, r.JoinGroup("alice", "nope"))
	assert.Equal(t, wire.ResponseOK, r.JoinGroup("alice", "devs"))
	assert.Equal(t, wire.ResponseOK, r.JoinGroup("bob", "devs"))

	members, ok := r.GroupMembers("devs")
	require.True(t, ok)
	assert.Equal(t, []string{"alice", "bob"}, members)

	assert.Equal(t, wire.ResponseError, r.LeaveGroup("alice", "nope"))
	assert.Equal(t, wire.ResponseOK, r.LeaveGroup("alice", "devs"))
	assert.Equal(t, wire.ResponseNotExist, r.LeaveGroup("alice", "devs"))

	// Last member out deletes the group.
	assert.Equal(t, wire.ResponseOK, r.LeaveGroup("bob", "devs"))
	_, ok = r.GroupMembers("devs")
	assert.False(t, ok)
}

func TestJoinGroupTracksCurrentGroup(t *testing.T) {
	r := NewRegistry(nil)
	identified(t, r, "alice")

	require.Equal(t, wire.ResponseOK, r.CreateGroup("devs"))
	require.Equal(t, wire.ResponseOK, r.JoinGroup("alice", "devs"))

	r.mu.RLock()
	group := r.clients["alice"].User.Group
	r.mu.RUnlock()
	assert.Equal(t, "devs", group)

	require.Equal(t, wire.ResponseOK, r.LeaveGroup("alice", "devs"))
	r.mu.RLock()
	group = r.clients["alice"].User.Group
	r.mu.RUnlock()
	assert.Empty(t, group)
}

// Leaving all groups purges exactly the groups that emptied because of this
// departure. A freshly created, never-joined group survives.
func TestLeaveAllGroupsPurgesOnlyJustLeft(t *testing.T) {
	r := NewRegistry(nil)
	identified(t, r, "alice")
	identified(t, r, "bob")

	require.Equal(t, wire.ResponseOK, r.CreateGroup("solo"))
	require.Equal(t, wire.ResponseOK, r.CreateGroup("shared"))
	require.Equal(t, wire.ResponseOK, r.CreateGroup("untouched"))

	require.Equal(t, wire.ResponseOK, r.JoinGroup("alice", "solo"))
	require.Equal(t, wire.ResponseOK, r.JoinGroup("alice", "shared"))
	require.Equal(t, wire.ResponseOK, r.JoinGroup("bob", "shared"))

	assert.Equal(t, wire.ResponseOK, r.LeaveAllGroups("alice"))

	// solo emptied by alice's departure: gone. shared still has bob.
	// untouched was empty all along and is retained.
	assert.Equal(t, []string{"shared", "untouched"}, r.GroupNames())

	members, ok := r.GroupMembers("shared")
	require.True(t, ok)
	assert.Equal(t, []string{"bob"}, members)

	// Repeating is a no-op and still OK.
	assert.Equal(t, wire.ResponseOK, r.LeaveAllGroups("alice"))
	assert.Equal(t, []string{"shared", "untouched"}, r.GroupNames())
}

func TestRoutePrivateAndLoopback(t *testing.T) {
	r := NewRegistry(nil)
	identified(t, r, "alice")
	identified(t, r, "bob")

	msg := &wire.Message{
		Src:  &wire.User{Username: "alice"},
		Dst:  &wire.User{Username: "bob"},
		Type: wire.CodeDataText,
	}
	kind, recipients := r.Route(msg)
	assert.Equal(t, RoutePrivate, kind)
	assert.Equal(t, []string{"bob"}, recipients)

	msg.Dst = &wire.User{Username: "alice"}
	kind, _ = r.Route(msg)
	assert.Equal(t, RouteLoopback, kind)

	msg.Dst = &wire.User{Username: "nobody"}
	kind, _ = r.Route(msg)
	assert.Equal(t, RouteNone, kind)
}

func TestRouteGroupExcludesSenderAndChecksMembership(t *testing.T) {
	r := NewRegistry(nil)
	identified(t, r, "alice")
	identified(t, r, "bob")
	identified(t, r, "carol")

	require.Equal(t, wire.ResponseOK, r.CreateGroup("devs"))
	require.Equal(t, wire.ResponseOK, r.JoinGroup("alice", "devs"))
	require.Equal(t, wire.ResponseOK, r.JoinGroup("bob", "devs"))
	require.Equal(t, wire.ResponseOK, r.JoinGroup("carol", "devs"))

	msg := &wire.Message{
		Src:  &wire.User{Username: "alice", Group: "devs"},
		Dst:  &wire.User{Group: "devs"},
		Type: wire.CodeDataText,
	}
	kind, recipients := r.Route(msg)
	assert.Equal(t, RouteGroup, kind)
	assert.Equal(t, []string{"bob", "carol"}, recipients)

	// A sender outside the group is refused.
	identified(t, r, "eve")
	msg.Src = &wire.User{Username: "eve"}
	kind, _ = r.Route(msg)
	assert.Equal(t, RouteForbidden, kind)

	// Claiming the group without being a member is refused too.
	msg.Src = &wire.User{Username: "eve", Group: "devs"}
	kind, _ = r.Route(msg)
	assert.Equal(t, RouteForbidden, kind)
}

func TestCleanupRemovesClientEverywhere(t *testing.T) {
	r := NewRegistry(nil)
	identified(t, r, "alice")
	identified(t, r, "bob")

	require.Equal(t, wire.ResponseOK, r.CreateGroup("solo"))
	require.Equal(t, wire.ResponseOK, r.CreateGroup("shared"))
	require.Equal(t, wire.ResponseOK, r.JoinGroup("alice", "solo"))
	require.Equal(t, wire.ResponseOK, r.JoinGroup("alice", "shared"))
	require.Equal(t, wire.ResponseOK, r.JoinGroup("bob", "shared"))

	r.Cleanup("alice")

	assert.False(t, r.IsIdentified("alice"))
	_, ok := r.Pool("alice")
	assert.False(t, ok)
	assert.Equal(t, []string{"bob"}, r.ClientNames())
	assert.Equal(t, []string{"shared"}, r.GroupNames())

	// Cleaning up an unknown client is harmless.
	r.Cleanup("alice")
	r.Cleanup("ghost")
}
