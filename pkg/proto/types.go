package proto

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/timestamppb"
)

// MessageType identifies the kind of envelope carried by a frame
type MessageType string

const (
	MessageType_HANDSHAKE  MessageType = "handshake"
	MessageType_INVOCATION MessageType = "invocation"
	MessageType_ERROR      MessageType = "error"
)

// Hub method names
const (
	// TargetSendMessage is invoked by a client to broadcast a payload
	TargetSendMessage = "SendMessage"

	// TargetReceiveMessage is invoked by the hub on every other client
	TargetReceiveMessage = "ReceiveMessage"
)

// Envelope is a single frame exchanged between the hub and a client
type Envelope struct {
	Type         MessageType            `json:"type"`
	Target       string                 `json:"target,omitempty"`
	Arguments    []string               `json:"arguments,omitempty"`
	ConnectionId string                 `json:"connection_id,omitempty"`
	Error        string                 `json:"error,omitempty"`
	Ts           *timestamppb.Timestamp `json:"ts,omitempty"`
}

// NewInvocation builds an invocation of target with the given arguments
func NewInvocation(target string, args ...string) *Envelope {
	return &Envelope{
		Type:      MessageType_INVOCATION,
		Target:    target,
		Arguments: args,
		Ts:        timestamppb.Now(),
	}
}

// NewHandshake builds the greeting the hub sends to a new connection
func NewHandshake(connectionID string) *Envelope {
	return &Envelope{
		Type:         MessageType_HANDSHAKE,
		ConnectionId: connectionID,
		Ts:           timestamppb.Now(),
	}
}

// NewErrorEnvelope builds an error reply
func NewErrorEnvelope(msg string) *Envelope {
	return &Envelope{
		Type:  MessageType_ERROR,
		Error: msg,
		Ts:    timestamppb.Now(),
	}
}

// Encode serializes an envelope for a text frame
func Encode(env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, NewError("cannot encode nil envelope")
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return data, nil
}

// Decode parses a text frame and validates its shape
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}

	switch env.Type {
	case MessageType_HANDSHAKE:
		if env.ConnectionId == "" {
			return nil, NewError("handshake without connection id")
		}
	case MessageType_INVOCATION:
		if env.Target == "" {
			return nil, NewError("invocation without target")
		}
	case MessageType_ERROR:
	default:
		return nil, NewError(fmt.Sprintf("unknown message type %q", env.Type))
	}

	return &env, nil
}

// Error wraps an error message for consistent error handling
type Error struct {
	Message string
}

// NewError creates a new Error
func NewError(msg string) error {
	return &Error{Message: msg}
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("pushline: %s", e.Message)
}
