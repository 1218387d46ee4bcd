package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeClassification(t *testing.T) {
	instructions := []Code{
		CodeIdentifyMaster, CodeJoinSlave, CodeIdentifySlaves, CodeResponse,
		CodeClientList, CodeClientRename,
		CodeGroupListGroups, CodeGroupListClients, CodeGroupJoin,
		CodeGroupLeave, CodeGroupLeaveAll, CodeGroupCreate,
		CodeServerDiscovery, CodeClientDiscovery,
	}
	for _, c := range instructions {
		assert.True(t, c.IsInstruction(), "%s must classify as instruction", c)
		assert.False(t, c.IsData(), "%s must not classify as data", c)
	}

	data := []Code{
		CodeDataNull, CodeDataText, CodeDataObject,
		CodeDataImage, CodeDataVideo, CodeDataVoice, CodeDataFile,
	}
	for _, c := range data {
		assert.True(t, c.IsData(), "%s must classify as data", c)
		assert.Less(t, uint16(c), uint16(InstructionBase))
	}
}

func TestNewResponseShape(t *testing.T) {
	dst := &User{Username: "carol"}
	m := NewResponse(dst, ResponseNotExist)

	assert.Equal(t, CodeResponse, m.Type)
	assert.Equal(t, ResponseNotExist, m.Response)
	assert.Equal(t, "carol", m.DstName())
	assert.Nil(t, m.Src)
	assert.Empty(t, m.Body)
}

func TestListReplyRoundTrip(t *testing.T) {
	m, err := NewListReply(&User{Username: "a"}, ResponseOK, []string{"x", "y", "z"})
	require.NoError(t, err)

	assert.Equal(t, CodeDataObject, m.Type)
	assert.Equal(t, ResponseOK, m.Response)

	names, err := m.Strings()
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y", "z"}, names)
}

func TestListReplyNilBecomesEmptyList(t *testing.T) {
	m, err := NewListReply(nil, ResponseError, nil)
	require.NoError(t, err)

	names, err := m.Strings()
	require.NoError(t, err)
	assert.NotNil(t, names)
	assert.Empty(t, names)
}

func TestFileTransferBody(t *testing.T) {
	content := []byte{0x89, 0x50, 0x4e, 0x47}
	m, err := NewMessage(&User{Username: "a"}, &User{Username: "b"}, CodeDataFile,
		&FileTransfer{Filename: "shot.png", Content: content})
	require.NoError(t, err)

	f, err := m.File()
	require.NoError(t, err)
	assert.Equal(t, "shot.png", f.Filename)
	assert.Equal(t, content, f.Content)
	assert.Equal(t, len(content), f.Size())
}

func TestBodySerializedAtConstruction(t *testing.T) {
	m, err := NewMessage(nil, nil, CodeDataText, "eager")
	require.NoError(t, err)
	assert.NotEmpty(t, m.Body, "body must be serialized when the message is built")

	empty, err := NewMessage(nil, nil, CodeDataNull, nil)
	require.NoError(t, err)
	assert.Empty(t, empty.Body)

	_, err = empty.Text()
	assert.Error(t, err)
}
