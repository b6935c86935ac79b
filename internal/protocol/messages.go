// Package protocol defines the JSON frames the relay itself originates and
// the error codes shared with clients.
//
// Peer-to-peer frames (connect, request, response, chainChanged,
// accountsChanged, peer-initiated disconnect) are forwarded verbatim and are
// deliberately not modeled here; the relay never parses payloads.
package protocol

import "encoding/json"

// Message types emitted by the relay.
const (
	TypeReady           = "ready"
	TypeError           = "error"
	TypeDisconnect      = "disconnect"
	TypeDappReconnected = "dapp_reconnected"
)

// Error codes. The relay only emits CodePeerNotConnected; the rest belong to
// the client-side protocol and are listed so both ends share one table.
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnsupportedMethod = 4200
	CodeDisconnected      = 4900
	CodeChainDisconnected = 4901

	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodePeerNotConnected = -32000
	CodeSessionNotFound  = -32001
	CodeSessionExpired   = -32002
	CodeRequestTimeout   = -32003
)

// WebSocket close codes with relay-defined meaning. Clients must not
// auto-reconnect after CloseLockConflict; CloseExpired and CloseGoingAway are
// terminal for the session and process respectively.
const (
	CloseExpired      = 1000
	CloseGoingAway    = 1001
	CloseLockConflict = 1008
)

type Ready struct {
	Type string `json:"type"`
}

type Error struct {
	Type    string `json:"type"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type Disconnect struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

type DappReconnected struct {
	Type string `json:"type"`
}

func NewReady() Ready {
	return Ready{Type: TypeReady}
}

func NewError(code int, message string) Error {
	return Error{Type: TypeError, Code: code, Message: message}
}

func NewDisconnect(reason string) Disconnect {
	return Disconnect{Type: TypeDisconnect, Reason: reason}
}

func NewDappReconnected() DappReconnected {
	return DappReconnected{Type: TypeDappReconnected}
}

// PeerNotConnected is the frame returned to a sender whose peer is absent at
// forward time.
func PeerNotConnected() Error {
	return NewError(CodePeerNotConnected, "Peer not connected")
}

// Marshal encodes a relay frame. Relay frames are small fixed shapes; an
// encode failure would be a programming error, so it is swallowed in favor of
// a stable call site.
func Marshal(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
