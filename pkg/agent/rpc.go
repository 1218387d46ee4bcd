package agent

import (
	"fmt"

	"github.com/chatline/chatline/internal/wire"
)

// control runs one instruction transaction on the master under the
// single-flight lock and returns the reply.
func (a *Agent) control(code wire.Code, body any) (*wire.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.controlLocked(code, body)
}

func (a *Agent) controlLocked(code wire.Code, body any) (*wire.Message, error) {
	msg, err := wire.NewMessage(a.user, nil, code, body)
	if err != nil {
		return nil, err
	}
	return a.transaction(a.master, msg)
}

// listReply unwraps a list-carrying reply, tolerating an empty body.
func listReply(reply *wire.Message) ([]string, error) {
	if reply.Response != wire.ResponseOK {
		return nil, fmt.Errorf("agent: server replied %s", reply.Response)
	}
	if len(reply.Body) == 0 {
		return nil, nil
	}
	return reply.Strings()
}

// GetConnectedClients returns every username currently identified on the
// server.
func (a *Agent) GetConnectedClients() ([]string, error) {
	reply, err := a.control(wire.CodeClientList, nil)
	if err != nil {
		return nil, err
	}
	return listReply(reply)
}

// GetGroups returns every group name registered on the server.
func (a *Agent) GetGroups() ([]string, error) {
	reply, err := a.control(wire.CodeGroupListGroups, nil)
	if err != nil {
		return nil, err
	}
	return listReply(reply)
}

// GetClientsInGroup returns the members of a group.
func (a *Agent) GetClientsInGroup(group string) ([]string, error) {
	reply, err := a.control(wire.CodeGroupListClients, group)
	if err != nil {
		return nil, err
	}
	return listReply(reply)
}

// CreateGroup registers a new group on the server.
func (a *Agent) CreateGroup(group string) (wire.Response, error) {
	reply, err := a.control(wire.CodeGroupCreate, group)
	if err != nil {
		return wire.ResponseNone, err
	}
	return reply.Response, nil
}

// JoinGroup joins an existing group. The cached current group is updated only
// on OK.
func (a *Agent) JoinGroup(group string) (wire.Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.joinGroupLocked(group)
}

func (a *Agent) joinGroupLocked(group string) (wire.Response, error) {
	reply, err := a.controlLocked(wire.CodeGroupJoin, group)
	if err != nil {
		return wire.ResponseNone, err
	}
	if reply.Response == wire.ResponseOK {
		a.user.Group = group
	}
	return reply.Response, nil
}

// CreateAndJoin creates the group and joins it as one serialized operation,
// returning both response codes. An EXISTS on creation still proceeds to the
// join.
func (a *Agent) CreateAndJoin(group string) (created, joined wire.Response, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	reply, err := a.controlLocked(wire.CodeGroupCreate, group)
	if err != nil {
		return wire.ResponseNone, wire.ResponseNone, err
	}
	created = reply.Response
	if created != wire.ResponseOK && created != wire.ResponseExists {
		return created, wire.ResponseNone, nil
	}

	joined, err = a.joinGroupLocked(group)
	return created, joined, err
}

// LeaveGroup leaves a group. The cached current group is cleared only on OK.
func (a *Agent) LeaveGroup(group string) (wire.Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	reply, err := a.controlLocked(wire.CodeGroupLeave, group)
	if err != nil {
		return wire.ResponseNone, err
	}
	if reply.Response == wire.ResponseOK {
		a.user.Group = ""
	}
	return reply.Response, nil
}

// LeaveAllGroups leaves every group this agent is a member of.
func (a *Agent) LeaveAllGroups() (wire.Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	reply, err := a.controlLocked(wire.CodeGroupLeaveAll, nil)
	if err != nil {
		return wire.ResponseNone, err
	}
	if reply.Response == wire.ResponseOK {
		a.user.Group = ""
	}
	return reply.Response, nil
}

// Rename asks the server to change this agent's username. The server
// currently reserves the operation and answers NOT_EXIST.
func (a *Agent) Rename(username string) (wire.Response, error) {
	reply, err := a.control(wire.CodeClientRename, username)
	if err != nil {
		return wire.ResponseNone, err
	}
	return reply.Response, nil
}

// SendPrivate sends a data message to a single named recipient.
func (a *Agent) SendPrivate(recipient string, code wire.Code, body any) (wire.Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	msg, err := wire.NewMessage(a.user, &wire.User{Username: recipient}, code, body)
	if err != nil {
		return wire.ResponseNone, err
	}
	reply, err := a.transaction(a.master, msg)
	if err != nil {
		return wire.ResponseNone, err
	}
	return reply.Response, nil
}

// SendGroup fans a data message out to every member of the group except this
// agent. The server acknowledges dispatch, not delivery.
func (a *Agent) SendGroup(group string, code wire.Code, body any) (wire.Response, error) {
	return a.sendGroup(group, code, body, wire.FlagNone)
}

// Announce sends a group message carrying the ANNOUNCE flag. Routing is the
// same as SendGroup; receivers present the message as an announcement.
func (a *Agent) Announce(group, text string) (wire.Response, error) {
	return a.sendGroup(group, wire.CodeDataText, text, wire.FlagAnnounce)
}

func (a *Agent) sendGroup(group string, code wire.Code, body any, flag wire.Flag) (wire.Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	msg, err := wire.NewMessage(a.user, &wire.User{Group: group}, code, body)
	if err != nil {
		return wire.ResponseNone, err
	}
	msg.Flag = flag
	reply, err := a.transaction(a.master, msg)
	if err != nil {
		return wire.ResponseNone, err
	}
	return reply.Response, nil
}

// SendFile sends a named byte payload to a single recipient.
func (a *Agent) SendFile(recipient string, file *wire.FileTransfer) (wire.Response, error) {
	return a.SendPrivate(recipient, wire.CodeDataFile, file)
}
