package channel

import "encoding/json"

// Frame is the universal wire format on the persistent channel.
// Three types: "req" (client→server), "res" (server→client), "event" (server→client push).
type Frame struct {
	Type    string          `json:"type"`              // "req" | "res" | "event"
	ID      string          `json:"id,omitempty"`      // request/response correlation ID
	Method  string          `json:"method,omitempty"`  // for req: method name
	Params  json.RawMessage `json:"params,omitempty"`  // for req: method parameters
	OK      *bool           `json:"ok,omitempty"`      // for res: success flag
	Payload json.RawMessage `json:"payload,omitempty"` // for res: response data
	Error   *ErrorPayload   `json:"error,omitempty"`   // for res: error details
	Event   string          `json:"event,omitempty"`   // for event: event name
	Seq     int             `json:"seq,omitempty"`     // for event: sequence number
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Client→server methods.
const (
	MethodIdentify  = "identify"
	MethodJoinRoom  = "room.join"
	MethodLeaveRoom = "room.leave"
	MethodSend      = "message.send"
)

// Server→client events.
const (
	EventMessageBroadcast = "message.broadcast"
	EventSessionError     = "session.error"
)

// IdentifyParams is the one-shot handshake sent after the transport is up.
type IdentifyParams struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Token       string `json:"token,omitempty"`
}

// RoomParams addresses a per-case room.
type RoomParams struct {
	CaseID string `json:"caseId"`
}

// SendParams carries an outbound chat message.
type SendParams struct {
	CaseID string `json:"caseId"`
	Body   string `json:"body"`
}

// SessionErrorPayload is the server's application-level error push.
type SessionErrorPayload struct {
	Reason string `json:"reason"`
}

func Req(id, method string, params any) Frame {
	data, _ := json.Marshal(params)
	return Frame{Type: "req", ID: id, Method: method, Params: data}
}
