// Package protocol defines the frames exchanged between the control side of
// the clone pipeline and its execution unit.
package protocol

import (
	"encoding/json"
	"strconv"
)

// Frame types
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// RequestFrame is sent by the control side to invoke a method on the unit.
type RequestFrame struct {
	Type   string          `json:"type"`   // always "req"
	ID     string          `json:"id"`     // process-local monotonic id
	Method string          `json:"method"` // see methods.go
	Params json.RawMessage `json:"params,omitempty"`
}

// ResponseFrame is the single terminal reply for a request id.
type ResponseFrame struct {
	Type    string          `json:"type"` // always "res"
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"` // when ok=true
	Error   *ErrorShape     `json:"error,omitempty"`   // when ok=false
}

// ErrorShape describes a failed request.
type ErrorShape struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e *ErrorShape) Error() string {
	return e.Code + ": " + e.Message
}

// EventFrame is an out-of-band message. Events tied to a request carry the
// request id inside the payload.
type EventFrame struct {
	Type    string          `json:"type"` // always "event"
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Seq     int64           `json:"seq,omitempty"`
}

// FormatID renders a numeric request id.
func FormatID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

// NewRequest builds a request frame, encoding params as JSON.
func NewRequest(id uint64, method string, params interface{}) (*RequestFrame, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return &RequestFrame{
		Type:   FrameTypeRequest,
		ID:     FormatID(id),
		Method: method,
		Params: raw,
	}, nil
}

// NewOKResponse creates a success response frame.
func NewOKResponse(id string, payload interface{}) *ResponseFrame {
	raw, err := json.Marshal(payload)
	if err != nil {
		return NewErrorResponse(id, ErrInternal, "marshal payload: "+err.Error())
	}
	return &ResponseFrame{
		Type:    FrameTypeResponse,
		ID:      id,
		OK:      true,
		Payload: raw,
	}
}

// NewErrorResponse creates an error response frame.
func NewErrorResponse(id string, code, message string) *ResponseFrame {
	return &ResponseFrame{
		Type: FrameTypeResponse,
		ID:   id,
		OK:   false,
		Error: &ErrorShape{
			Code:    code,
			Message: message,
		},
	}
}

// NewEvent creates an event frame.
func NewEvent(event string, seq int64, payload interface{}) *EventFrame {
	raw, _ := json.Marshal(payload)
	return &EventFrame{
		Type:    FrameTypeEvent,
		Event:   event,
		Payload: raw,
		Seq:     seq,
	}
}
