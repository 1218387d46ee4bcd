package server

import (
	"net"
	"sort"
	"sync"

	"github.com/chatline/chatline/internal/logger"
	"github.com/chatline/chatline/internal/wire"
	"github.com/chatline/chatline/pkg/metrics"
	"github.com/chatline/chatline/pkg/pool"
)

// Client is the server-side record of an identified client: its user record,
// the master connection it issues control requests on, and the slave
// connections the server pushes messages through.
type Client struct {
	User   *wire.User
	Master net.Conn
	Slaves []net.Conn
}

// Registry is the authoritative map of clients, their connection pools, and
// groups. One lock guards all three maps; every classify-and-mutate region
// of the instruction processor, the routing decision, and disconnect cleanup
// runs under it, which keeps the cross-map invariants easy to reason about.
//
// Invariants:
//   - clients[u].User.Username == u for every entry
//   - every group member is a key of clients
//   - pools has a key exactly for clients that completed IDENTIFY_SLAVES
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
	pools   map[string]*pool.Pool
	groups  map[string]map[string]struct{}

	metrics *metrics.RelayMetrics
}

// NewRegistry creates an empty registry. The metrics handle may be nil.
func NewRegistry(m *metrics.RelayMetrics) *Registry {
	return &Registry{
		clients: make(map[string]*Client),
		pools:   make(map[string]*pool.Pool),
		groups:  make(map[string]map[string]struct{}),
		metrics: m,
	}
}

// AddMaster registers a new client with this connection as its master.
// Returns ERROR when the username is already taken.
func (r *Registry) AddMaster(username string, conn net.Conn, addr *wire.Addr) wire.Response {
	if username == "" {
		return wire.ResponseError
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.clients[username]; exists {
		return wire.ResponseError
	}
	r.clients[username] = &Client{
		User:   &wire.User{Username: username, Address: addr},
		Master: conn,
	}
	r.metrics.SetConnectedClients(len(r.clients))
	return wire.ResponseOK
}

// AddSlave appends a slave connection to an already-identified client.
// Returns NOT_EXIST when no master has identified under this username.
func (r *Registry) AddSlave(username string, conn net.Conn) wire.Response {
	r.mu.Lock()
	defer r.mu.Unlock()

	client, ok := r.clients[username]
	if !ok {
		return wire.ResponseNotExist
	}
	client.Slaves = append(client.Slaves, conn)
	return wire.ResponseOK
}

// PromoteSlaves finalizes identification: the collected slave connections
// become the client's delivery pool. A client that joined no slaves still
// gets a pool; deliveries to it then block until the sender gives up, which
// mirrors the original protocol's behavior.
func (r *Registry) PromoteSlaves(username string) wire.Response {
	r.mu.Lock()
	defer r.mu.Unlock()

	client, ok := r.clients[username]
	if !ok {
		return wire.ResponseNotExist
	}
	r.pools[username] = pool.New(client.Slaves)
	return wire.ResponseOK
}

// ClientNames returns the identified usernames, sorted.
func (r *Registry) ClientNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GroupNames returns the registered group names, sorted.
func (r *Registry) GroupNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.groups))
	for name := range r.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GroupMembers returns the members of a group, sorted, and whether the group
// exists.
func (r *Registry) GroupMembers(group string) ([]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.groups[group]
	if !ok {
		return nil, false
	}
	names := make([]string, 0, len(members))
	for name := range members {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, true
}

// CreateGroup registers an empty group. Returns EXISTS when already present,
// ERROR for an empty name.
func (r *Registry) CreateGroup(name string) wire.Response {
	if name == "" {
		return wire.ResponseError
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.groups[name]; exists {
		return wire.ResponseExists
	}
	r.groups[name] = make(map[string]struct{})
	r.metrics.SetActiveGroups(len(r.groups))
	return wire.ResponseOK
}

// JoinGroup adds the client to an existing group and records it as the
// client's current group. Returns ERROR when the group does not exist.
func (r *Registry) JoinGroup(username, group string) wire.Response {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.groups[group]
	if !ok {
		return wire.ResponseError
	}
	client, ok := r.clients[username]
	if !ok {
		return wire.ResponseError
	}
	members[username] = struct{}{}
	client.User.Group = group
	return wire.ResponseOK
}

// LeaveGroup removes the client from a group. A group emptied by this leave
// is deleted; a group that does not exist yields ERROR, and NOT_EXIST is
// returned when the client was not a member.
func (r *Registry) LeaveGroup(username, group string) wire.Response {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.groups[group]
	if !ok {
		return wire.ResponseError
	}
	if _, member := members[username]; !member {
		return wire.ResponseNotExist
	}

	delete(members, username)
	if len(members) == 0 {
		delete(r.groups, group)
		r.metrics.SetActiveGroups(len(r.groups))
	}
	if client, ok := r.clients[username]; ok {
		client.User.Group = ""
	}
	return wire.ResponseOK
}

// LeaveAllGroups removes the client from every group. Only groups this
// operation emptied are deleted; groups that were already empty (freshly
// created, never joined) are retained. Always returns OK, so repeating the
// operation is idempotent.
func (r *Registry) LeaveAllGroups(username string) wire.Response {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeFromAllGroupsLocked(username)

	if client, ok := r.clients[username]; ok {
		client.User.Group = ""
	}
	return wire.ResponseOK
}

// removeFromAllGroupsLocked drops the username from every group and purges
// exactly the groups that transitioned from non-empty to empty here.
func (r *Registry) removeFromAllGroupsLocked(username string) {
	var justLeft []string
	for name, members := range r.groups {
		if _, member := members[username]; member {
			justLeft = append(justLeft, name)
			delete(members, username)
		}
	}
	for _, name := range justLeft {
		if len(r.groups[name]) == 0 {
			delete(r.groups, name)
		}
	}
	if len(justLeft) > 0 {
		r.metrics.SetActiveGroups(len(r.groups))
	}
}

// Pool returns the delivery pool of an identified client.
func (r *Registry) Pool(username string) (*pool.Pool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pools[username]
	return p, ok
}

// RouteKind classifies a data message's destination.
type RouteKind int

const (
	// RouteNone means the destination resolves to nothing.
	RouteNone RouteKind = iota
	// RouteGroup fans the message out to the destination group.
	RouteGroup
	// RoutePrivate delivers to a single named recipient.
	RoutePrivate
	// RouteLoopback is a private send addressed to the sender itself.
	RouteLoopback
	// RouteForbidden is a group send from a non-member.
	RouteForbidden
)

// Route decides how a data message travels, under a single registry lock so
// the decision and the membership snapshot are consistent. For group routes
// the returned recipients exclude the sender.
func (r *Registry) Route(msg *wire.Message) (RouteKind, []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	srcName := msg.SrcName()
	dstGroup := msg.DstGroup()
	dstName := msg.DstName()

	if members, ok := r.groups[dstGroup]; dstGroup != "" && ok {
		srcGroup := ""
		if msg.Src != nil {
			srcGroup = msg.Src.Group
		}
		srcMembers, srcGroupExists := r.groups[srcGroup]
		if !srcGroupExists {
			return RouteForbidden, nil
		}
		if _, member := srcMembers[srcName]; !member {
			return RouteForbidden, nil
		}

		recipients := make([]string, 0, len(members))
		for name := range members {
			if name != srcName {
				recipients = append(recipients, name)
			}
		}
		sort.Strings(recipients)
		return RouteGroup, recipients
	}

	if _, ok := r.clients[dstName]; dstName != "" && ok {
		if dstName == srcName {
			return RouteLoopback, nil
		}
		return RoutePrivate, []string{dstName}
	}

	return RouteNone, nil
}

// IsIdentified reports whether the username belongs to a registered client.
func (r *Registry) IsIdentified(username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[username]
	return ok
}

// Cleanup tears an identified client down after a disconnect or error on any
// of its sockets: it leaves every group (purging only groups this departure
// emptied), closes all of the client's connections, and removes the pool and
// client entries.
func (r *Registry) Cleanup(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	client, ok := r.clients[username]
	if !ok {
		return
	}

	r.removeFromAllGroupsLocked(username)

	if p, ok := r.pools[username]; ok {
		p.Close()
		delete(r.pools, username)
	}
	_ = client.Master.Close()
	for _, slave := range client.Slaves {
		_ = slave.Close()
	}
	delete(r.clients, username)
	r.metrics.SetConnectedClients(len(r.clients))

	logger.Info("Client removed", "client", username)
}

// CountClients returns the number of identified clients.
func (r *Registry) CountClients() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// CountGroups returns the number of registered groups.
func (r *Registry) CountGroups() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups)
}
