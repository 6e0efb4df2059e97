// ABOUTME: Wire frames and method names for the OpenClaw gateway websocket protocol
// ABOUTME: Requests and responses are JSON frames correlated by id

package openclaw

import (
	"encoding/json"
)

// Frame types
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// Gateway methods used by mission-control.
const (
	MethodConnect        = "connect"
	MethodAgentsList     = "agents.list"
	MethodAgentsCreate   = "agents.create"
	MethodAgentsUpdate   = "agents.update"
	MethodAgentsFilesSet = "agents.files.set"
	MethodChatSend       = "chat.send"
	MethodSessionsPatch  = "sessions.patch"
	MethodSessionsReset  = "sessions.reset"
)

// RequestFrame is a client-to-gateway call.
type RequestFrame struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ErrorShape is the error body of a failed response.
type ErrorShape struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// ResponseFrame answers the RequestFrame with the same ID.
type ResponseFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorShape     `json:"error,omitempty"`
}

// frameHeader is decoded first to route an incoming frame.
type frameHeader struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type connectParams struct {
	Token  string     `json:"token,omitempty"`
	Client clientInfo `json:"client"`
}

type clientInfo struct {
	ID   string `json:"id"`
	Mode string `json:"mode"`
}

type chatSendParams struct {
	SessionKey     string `json:"sessionKey"`
	Message        string `json:"message"`
	Deliver        bool   `json:"deliver"`
	IdempotencyKey string `json:"idempotencyKey"`
}

type sessionPatchParams struct {
	Key   string `json:"key"`
	Label string `json:"label,omitempty"`
}
