// Package protocol implements the Jupyter wire protocol: multipart ZMQ
// framing, HMAC-SHA256 message signing, and the session/socket plumbing the
// rest of the kernel uses to talk to a notebook front-end.
//
// Reference: https://jupyter-client.readthedocs.io/en/latest/messaging.html
package protocol

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
)

// Version is the Jupyter messaging protocol version this kernel
// implements. 5.4 is the floor: the control channel must be dispatched
// separately from the shell channel so that interrupt_request can be
// serviced while an execute_request is in flight.
const Version = "5.4"

// MsgHeader encodes header info for a Jupyter wire message.
type MsgHeader struct {
	MsgID           string `json:"msg_id"`
	Username        string `json:"username"`
	Session         string `json:"session"`
	MsgType         string `json:"msg_type"`
	ProtocolVersion string `json:"version"`
	Timestamp       string `json:"date"`
}

// ComposedMsg represents an entire Jupyter message in decoded form.
type ComposedMsg struct {
	Header       MsgHeader
	ParentHeader MsgHeader
	Metadata     map[string]interface{}
	Content      interface{}
}

// InvalidSignatureError is returned when a received message's HMAC
// signature does not validate against the session key.
type InvalidSignatureError struct{}

func (e *InvalidSignatureError) Error() string {
	return "message had an invalid signature"
}

const delimiter = "<IDS|MSG>"

// FromWireMsg decodes the frames of a multipart ZMQ message into a
// ComposedMsg and the leading routing identities, verifying the HMAC
// signature against key (empty key disables verification).
func FromWireMsg(frames [][]byte, key []byte) (msg ComposedMsg, identities [][]byte, err error) {
	i := 0
	for i < len(frames) && string(frames[i]) != delimiter {
		i++
	}
	if i >= len(frames) {
		return msg, nil, errors.New("malformed message: missing delimiter frame")
	}
	identities = frames[:i]
	if i+5 >= len(frames) {
		return msg, nil, errors.New("malformed message: too few frames after delimiter")
	}

	if len(key) != 0 {
		mac := hmac.New(sha256.New, key)
		for _, part := range frames[i+2 : i+6] {
			mac.Write(part)
		}
		signature := make([]byte, hex.DecodedLen(len(frames[i+1])))
		if _, err = hex.Decode(signature, frames[i+1]); err != nil {
			return msg, nil, errors.Wrap(&InvalidSignatureError{}, "decoding received signature")
		}
		if !hmac.Equal(mac.Sum(nil), signature) {
			return msg, nil, errors.Wrap(&InvalidSignatureError{}, "signature does not match session key")
		}
	}

	if err = json.Unmarshal(frames[i+2], &msg.Header); err != nil {
		return msg, nil, errors.Wrap(err, "decoding header")
	}
	if err = json.Unmarshal(frames[i+3], &msg.ParentHeader); err != nil {
		return msg, nil, errors.Wrap(err, "decoding parent header")
	}
	if err = json.Unmarshal(frames[i+4], &msg.Metadata); err != nil {
		return msg, nil, errors.Wrap(err, "decoding metadata")
	}
	if err = json.Unmarshal(frames[i+5], &msg.Content); err != nil {
		return msg, nil, errors.Wrap(err, "decoding content")
	}
	return msg, identities, nil
}

// ToWireMsg encodes and signs a ComposedMsg into the five frames that
// follow the "<IDS|MSG>" delimiter. It does not prepend identities or the
// delimiter itself.
func ToWireMsg(c *ComposedMsg, key []byte) ([][]byte, error) {
	parts := make([][]byte, 5)

	header, err := json.Marshal(c.Header)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling header")
	}
	parts[1] = header

	parentHeader, err := json.Marshal(c.ParentHeader)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling parent header")
	}
	parts[2] = parentHeader

	if c.Metadata == nil {
		c.Metadata = make(map[string]interface{})
	}
	metadata, err := json.Marshal(c.Metadata)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling metadata")
	}
	parts[3] = metadata

	content, err := json.Marshal(c.Content)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling content")
	}
	parts[4] = content

	if len(key) != 0 {
		mac := hmac.New(sha256.New, key)
		for _, part := range parts[1:] {
			mac.Write(part)
		}
		parts[0] = make([]byte, hex.EncodedLen(mac.Size()))
		hex.Encode(parts[0], mac.Sum(nil))
	} else {
		parts[0] = []byte{}
	}
	return parts, nil
}

// NewComposed builds a reply/publish message addressed to parent, filling
// in a fresh message id and timestamp.
func NewComposed(msgType string, parent ComposedMsg) (*ComposedMsg, error) {
	msg := &ComposedMsg{}
	msg.ParentHeader = parent.Header
	msg.Header.Session = parent.Header.Session
	msg.Header.Username = parent.Header.Username
	msg.Header.MsgType = msgType
	msg.Header.ProtocolVersion = Version
	msg.Header.Timestamp = time.Now().UTC().Format(time.RFC3339)

	id, err := uuid.NewV4()
	if err != nil {
		return nil, errors.Wrap(err, "generating message id")
	}
	msg.Header.MsgID = id.String()
	return msg, nil
}
