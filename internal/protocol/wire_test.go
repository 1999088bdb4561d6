package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWireMsgRoundTrip(t *testing.T) {
	key := []byte("secret-key")
	original := ComposedMsg{
		Header: MsgHeader{
			MsgID:           "abc",
			Username:        "kernel",
			Session:         "sess-1",
			MsgType:         "execute_reply",
			ProtocolVersion: Version,
		},
		Metadata: map[string]interface{}{},
		Content:  map[string]interface{}{"status": "ok"},
	}

	parts, err := ToWireMsg(&original, key)
	require.NoError(t, err)

	frames := append([][]byte{[]byte("identity-1"), []byte(delimiter)}, parts...)

	decoded, identities, err := FromWireMsg(frames, key)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("identity-1")}, identities)
	assert.Equal(t, "execute_reply", decoded.Header.MsgType)
	assert.Equal(t, "sess-1", decoded.Header.Session)
}

func TestFromWireMsgRejectsBadSignature(t *testing.T) {
	original := ComposedMsg{Header: MsgHeader{MsgType: "status"}, Content: map[string]interface{}{}}
	parts, err := ToWireMsg(&original, []byte("correct-key"))
	require.NoError(t, err)

	frames := append([][]byte{[]byte(delimiter)}, parts...)
	_, _, err = FromWireMsg(frames, []byte("wrong-key"))
	require.Error(t, err)
	var sigErr *InvalidSignatureError
	assert.ErrorAs(t, err, &sigErr)
}

func TestFromWireMsgMissingDelimiter(t *testing.T) {
	_, _, err := FromWireMsg([][]byte{[]byte("no-delimiter-here")}, nil)
	require.Error(t, err)
}

func TestNewComposedCopiesParentSession(t *testing.T) {
	parent := ComposedMsg{Header: MsgHeader{Session: "s-1", Username: "u-1"}}
	msg, err := NewComposed("status", parent)
	require.NoError(t, err)
	assert.Equal(t, "s-1", msg.Header.Session)
	assert.Equal(t, "u-1", msg.Header.Username)
	assert.Equal(t, Version, msg.Header.ProtocolVersion)
	assert.NotEmpty(t, msg.Header.MsgID)
}
