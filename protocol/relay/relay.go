// relay.go specifies the control messages exchanged with the relay server.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MsgType specifies the type of a control message.
type MsgType string

const (
	Register     MsgType = "register"      // Receiver announces its connection id to the relay
	ReceiveReady MsgType = "receive_ready" // Receiver tells the sender, via the relay, that it is ready
	FileInfo     MsgType = "file_info"     // Sender announces the name and size of the incoming file
	FileEnd      MsgType = "file_end"      // Sender signals the end of the chunk stream
)

const (
	Path        = "/ws"            // Websocket endpoint served by the relay
	DefaultAddr = "localhost:8000" // Address the relay binds by default
)

// ErrParse is returned when a text frame is not a valid control message.
var ErrParse = errors.New("malformed control message")

// Msg is a control message. Only the fields relevant to Type are set.
type Msg struct {
	Type         MsgType `json:"type"`
	ConnectionID string  `json:"connectionId,omitempty"`
	TargetID     string  `json:"target_id,omitempty"`
	SenderID     string  `json:"senderId,omitempty"`
	Name         string  `json:"name,omitempty"`
	Size         int64   `json:"size,omitempty"`
	TotalBytes   *int64  `json:"totalBytes,omitempty"`
}

// NewRegister returns the message registering the provided connection id.
func NewRegister(connectionID string) Msg {
	return Msg{Type: Register, ConnectionID: connectionID}
}

// NewReceiveReady returns the readiness message addressed to the sender's rendezvous id.
func NewReceiveReady(targetID, connectionID string) Msg {
	return Msg{Type: ReceiveReady, TargetID: targetID, SenderID: connectionID}
}

// Encode marshals the message into its wire format.
func (m Msg) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a text frame into a control message. Frames that are not JSON
// objects or that do not carry a type are reported as ErrParse.
func Decode(b []byte) (Msg, error) {
	var msg Msg
	if err := json.Unmarshal(b, &msg); err != nil {
		return Msg{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if msg.Type == "" {
		return Msg{}, fmt.Errorf("%w: missing type", ErrParse)
	}
	return msg, nil
}

// Error is returned when a message of an unexpected type is read.
type Error struct {
	Expected []MsgType
	Got      MsgType
}

func (e Error) Error() string {
	var expectedMessageTypes []string
	for _, expectedType := range e.Expected {
		expectedMessageTypes = append(expectedMessageTypes, string(expectedType))
	}
	oneOfExpected := strings.Join(expectedMessageTypes, ", ")
	return fmt.Sprintf("wrong message type, expected one of: (%s), got: (%s)", oneOfExpected, e.Got)
}
