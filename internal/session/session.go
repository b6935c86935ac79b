// Package session owns the relay's session records: creation, pairing state,
// the Mobile lock, expiration and termination.
package session

import (
	"time"
)

type Role string

const (
	RoleDApp   Role = "dapp"
	RoleMobile Role = "mobile"
)

// ParseRole validates a role string from the wire.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleDApp:
		return RoleDApp, true
	case RoleMobile:
		return RoleMobile, true
	}
	return "", false
}

// Opposite returns the peer's role.
func (r Role) Opposite() Role {
	if r == RoleDApp {
		return RoleMobile
	}
	return RoleDApp
}

type Status string

const (
	StatusPending      Status = "pending"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// Conn is the attachment handle the WebSocket surface registers into a
// session. The store borrows these handles for routing and close-on-expiry;
// the WS surface owns the underlying socket's lifecycle.
//
// Implementations must serialize writes internally; the store never calls
// Send or Close while holding its own mutex.
type Conn interface {
	// Send writes one relay-originated JSON text frame.
	Send(payload []byte) error
	// SendRaw forwards a peer frame verbatim, preserving the websocket
	// message type.
	SendRaw(messageType int, payload []byte) error
	// Close sends a close frame with the given code and reason and tears the
	// socket down.
	Close(code int, reason string)
}

// Metadata is the advisory DApp description supplied at creation and shown by
// the wallet. The relay treats it as opaque.
type Metadata struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Icon string `json:"icon,omitempty"`
}

// record is a live session. All fields are guarded by the store mutex.
type record struct {
	id        string
	secret    string
	createdAt time.Time
	expiresAt time.Time
	status    Status
	metadata  *Metadata

	dapp   Conn
	mobile Conn

	// mobileLocked is true while a Mobile is attached (and until it detaches).
	// It is a lock, not a session identity: release on detach allows a later
	// Mobile to pair with the same secret.
	mobileLocked bool

	// terminated blocks all further attachments.
	terminated bool
}

func (r *record) conn(role Role) Conn {
	if role == RoleDApp {
		return r.dapp
	}
	return r.mobile
}

func (r *record) setConn(role Role, c Conn) {
	if role == RoleDApp {
		r.dapp = c
	} else {
		r.mobile = c
	}
}

// Snapshot is a copy of a session's externally visible state, safe to use
// outside the store mutex.
type Snapshot struct {
	ID        string
	Secret    string
	CreatedAt time.Time
	ExpiresAt time.Time
	Status    Status
	Metadata  *Metadata

	Terminated     bool
	MobileLocked   bool
	DAppAttached   bool
	MobileAttached bool
}

func (r *record) snapshot() Snapshot {
	return Snapshot{
		ID:             r.id,
		Secret:         r.secret,
		CreatedAt:      r.createdAt,
		ExpiresAt:      r.expiresAt,
		Status:         r.status,
		Metadata:       r.metadata,
		Terminated:     r.terminated,
		MobileLocked:   r.mobileLocked,
		DAppAttached:   r.dapp != nil,
		MobileAttached: r.mobile != nil,
	}
}
