package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Addr is a host/port pair, the wire form of a peer address.
type Addr struct {
	Host string `cbor:"1,keyasint,omitempty"`
	Port int    `cbor:"2,keyasint,omitempty"`
}

func (a Addr) String() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// User is the wire-level participant record. Connection handles never travel
// on the wire; the server tracks them separately in its registry.
type User struct {
	Username string `cbor:"1,keyasint,omitempty"`
	Group    string `cbor:"2,keyasint,omitempty"`
	Address  *Addr  `cbor:"3,keyasint,omitempty"`
}

// Message is the single unit of exchange on every connection. Body is an
// opaque CBOR-encoded payload: it is serialized when the message is built
// and deserialized by the typed accessors.
type Message struct {
	Src      *User    `cbor:"1,keyasint,omitempty"`
	Dst      *User    `cbor:"2,keyasint,omitempty"`
	Type     Code     `cbor:"3,keyasint"`
	Response Response `cbor:"4,keyasint,omitempty"`
	Flag     Flag     `cbor:"5,keyasint,omitempty"`
	Body     []byte   `cbor:"6,keyasint,omitempty"`
}

// FileTransfer is the body schema for FILE data messages.
type FileTransfer struct {
	Filename string `cbor:"1,keyasint"`
	Content  []byte `cbor:"2,keyasint"`
}

// Size returns the content length in bytes.
func (f *FileTransfer) Size() int {
	return len(f.Content)
}

// NewMessage builds a message with the body serialized in place.
// A nil body yields an empty Body field.
func NewMessage(src, dst *User, code Code, body any) (*Message, error) {
	m := &Message{
		Src:  src,
		Dst:  dst,
		Type: code,
	}
	if body != nil {
		if err := m.SetBody(body); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// NewResponse builds a RESPONSE instruction addressed to dst.
func NewResponse(dst *User, resp Response) *Message {
	return &Message{
		Dst:      dst,
		Type:     CodeResponse,
		Response: resp,
	}
}

// NewListReply builds an OBJECT data message carrying a list of names, the
// shape the server uses for CLIENT_LIST and GROUP_LIST_* replies.
func NewListReply(dst *User, resp Response, names []string) (*Message, error) {
	m := &Message{
		Dst:      dst,
		Type:     CodeDataObject,
		Response: resp,
	}
	if names == nil {
		names = []string{}
	}
	if err := m.SetBody(names); err != nil {
		return nil, err
	}
	return m, nil
}

// SetBody serializes v into the message body.
func (m *Message) SetBody(v any) error {
	data, err := cbor.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode body: %w", err)
	}
	m.Body = data
	return nil
}

// DecodeBody deserializes the message body into out.
func (m *Message) DecodeBody(out any) error {
	if len(m.Body) == 0 {
		return fmt.Errorf("message has no body")
	}
	if err := cbor.Unmarshal(m.Body, out); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// Text decodes the body as a string.
func (m *Message) Text() (string, error) {
	var s string
	if err := m.DecodeBody(&s); err != nil {
		return "", err
	}
	return s, nil
}

// Strings decodes the body as a list of strings.
func (m *Message) Strings() ([]string, error) {
	var list []string
	if err := m.DecodeBody(&list); err != nil {
		return nil, err
	}
	return list, nil
}

// File decodes the body as a file transfer record.
func (m *Message) File() (*FileTransfer, error) {
	var f FileTransfer
	if err := m.DecodeBody(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

// SrcName returns the source username, or "" when absent.
func (m *Message) SrcName() string {
	if m.Src == nil {
		return ""
	}
	return m.Src.Username
}

// DstName returns the destination username, or "" when absent.
func (m *Message) DstName() string {
	if m.Dst == nil {
		return ""
	}
	return m.Dst.Username
}

// DstGroup returns the destination group, or "" when absent.
func (m *Message) DstGroup() string {
	if m.Dst == nil {
		return ""
	}
	return m.Dst.Group
}
