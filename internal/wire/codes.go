// Package wire defines the chatline message records, protocol codes, and the
// length-prefixed framed codec used on every TCP connection and UDP beacon
// datagram.
package wire

// Code identifies the kind of payload carried by a Message.
//
// The numeric ranges are contractual: codes at or above InstructionBase are
// control instructions, everything below is data. The server relies on this
// ordering to classify incoming messages.
type Code uint16

// InstructionBase is the first instruction code. Data codes are below it.
const InstructionBase Code = 1000

// Instruction codes.
const (
	CodeIdentifyMaster Code = 1000
	CodeJoinSlave      Code = 1001
	CodeIdentifySlaves Code = 1002
	CodeResponse       Code = 1003

	CodeClientList   Code = 2000
	CodeClientRename Code = 2001

	CodeGroupListGroups  Code = 3000
	CodeGroupListClients Code = 3001
	CodeGroupJoin        Code = 3002
	CodeGroupLeave       Code = 3003
	CodeGroupLeaveAll    Code = 3004
	CodeGroupCreate      Code = 3005

	CodeServerDiscovery Code = 4000
	CodeClientDiscovery Code = 4001
)

// Data codes.
const (
	CodeDataNull   Code = 100
	CodeDataText   Code = 101
	CodeDataObject Code = 102
	CodeDataImage  Code = 103
	CodeDataVideo  Code = 104
	CodeDataVoice  Code = 105
	CodeDataFile   Code = 106
)

// IsInstruction reports whether the code is a control instruction.
func (c Code) IsInstruction() bool {
	return c >= InstructionBase
}

// IsData reports whether the code is a data code.
func (c Code) IsData() bool {
	return !c.IsInstruction()
}

func (c Code) String() string {
	switch c {
	case CodeIdentifyMaster:
		return "IDENTIFY_MASTER"
	case CodeJoinSlave:
		return "JOIN_SLAVE"
	case CodeIdentifySlaves:
		return "IDENTIFY_SLAVES"
	case CodeResponse:
		return "RESPONSE"
	case CodeClientList:
		return "CLIENT_LIST"
	case CodeClientRename:
		return "CLIENT_RENAME"
	case CodeGroupListGroups:
		return "GROUP_LIST_GROUPS"
	case CodeGroupListClients:
		return "GROUP_LIST_CLIENTS"
	case CodeGroupJoin:
		return "GROUP_JOIN"
	case CodeGroupLeave:
		return "GROUP_LEAVE"
	case CodeGroupLeaveAll:
		return "GROUP_LEAVE_ALL"
	case CodeGroupCreate:
		return "GROUP_CREATE"
	case CodeServerDiscovery:
		return "SERVER_DISC"
	case CodeClientDiscovery:
		return "CLIENT_DISC"
	case CodeDataNull:
		return "NULL"
	case CodeDataText:
		return "PLAIN_TEXT"
	case CodeDataObject:
		return "OBJECT"
	case CodeDataImage:
		return "IMAGE"
	case CodeDataVideo:
		return "VIDEO"
	case CodeDataVoice:
		return "VOICE"
	case CodeDataFile:
		return "FILE"
	default:
		return "UNKNOWN"
	}
}

// Response is the semantic result code carried in a RESPONSE message.
type Response uint16

// Response codes.
const (
	ResponseNone     Response = 0
	ResponseOK       Response = 200
	ResponseWarn     Response = 400
	ResponseNotExist Response = 404
	ResponseError    Response = 500
	ResponseExists   Response = 501
)

func (r Response) String() string {
	switch r {
	case ResponseNone:
		return "NONE"
	case ResponseOK:
		return "OK"
	case ResponseWarn:
		return "WARN"
	case ResponseNotExist:
		return "NOT_EXIST"
	case ResponseError:
		return "ERROR"
	case ResponseExists:
		return "EXISTS"
	default:
		return "UNKNOWN"
	}
}

// Flag carries per-message presentation hints. Routing is unaffected.
type Flag uint8

// Flags.
const (
	FlagNone     Flag = 0
	FlagAnnounce Flag = 1
)
