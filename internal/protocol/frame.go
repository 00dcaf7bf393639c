// Package protocol 定义了客户端与服务端之间的帧格式
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// 入站事件类型
const (
	EventChatMessage = "chat:message"
	EventChatRead    = "chat:read"
	EventChatTyping  = "chat:typing"
	EventPing        = "ping"
)

// 出站事件类型
const (
	EventConnected  = "connected"
	EventUserOnline = "user:online"
	EventPong       = "pong"
	EventError      = "error"
	EventShutdown   = "server:shutdown"
)

// WebSocket close codes. CloseAuthFailed is a reserved non-standard code
// so clients can distinguish credential problems from transport failures.
const (
	CloseNormal     = 1000
	CloseGoingAway  = 1001
	CloseAuthFailed = 4001
)

var ErrMissingType = errors.New("frame is missing the type field")

// Frame 统一的消息信封 {type, payload}
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DecodeFrame parses a raw inbound frame. Size limits are enforced by the
// caller before this runs.
func DecodeFrame(data []byte) (*Frame, error) {
	frame := &Frame{}
	if err := json.Unmarshal(data, frame); err != nil {
		return nil, fmt.Errorf("error occured while decoding frame, details: %v", err)
	}
	if frame.Type == "" {
		return nil, ErrMissingType
	}
	return frame, nil
}

// EncodeFrame marshals an outbound event into wire bytes.
func EncodeFrame(eventType string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("error occured while encoding %s payload, details: %v", eventType, err)
	}
	data, err := json.Marshal(Frame{Type: eventType, Payload: body})
	if err != nil {
		return nil, fmt.Errorf("error occured while encoding %s frame, details: %v", eventType, err)
	}
	return data, nil
}
