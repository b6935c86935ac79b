package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/wilsonzlin/wallet-relay/internal/ratelimit"
	"github.com/wilsonzlin/wallet-relay/internal/sessionid"
)

const (
	// PendingTTL bounds how long an unpaired session may sit waiting for the
	// wallet to scan the QR code.
	PendingTTL = 5 * time.Minute
	// ConnectedTTL bounds a paired session's total lifetime.
	ConnectedTTL = 24 * time.Hour
	// SweepInterval is how often the expiration sweeper runs.
	SweepInterval = 60 * time.Second

	// DefaultMaxSessions caps live sessions process-wide.
	DefaultMaxSessions = 10000

	// ExpiredCloseReason is sent with close code 1000 when the sweeper removes
	// a session with peers still attached.
	ExpiredCloseReason = "Session expired"

	// maxIDAttempts bounds rejection sampling of the 4-character id. With a
	// ~1.05M id space and at most DefaultMaxSessions live records, exhausting
	// this is effectively impossible.
	maxIDAttempts = 100
)

var (
	ErrAtCapacity = errors.New("session store at capacity")
	errIDSpace    = errors.New("failed to allocate unique session id")
)

// Store is the process-wide in-memory session map. One mutex guards the map
// and every record; no socket I/O happens under it. Targets of Send/Close are
// captured under the lock and invoked after release.
type Store struct {
	maxSessions int
	clock       ratelimit.Clock
	log         *slog.Logger
	startedAt   time.Time

	// onExpired, when set, is invoked by the sweeper with the number of
	// sessions it removed. Set before Run is started.
	onExpired func(n int)

	mu       sync.Mutex
	sessions map[string]*record
}

// SetOnExpired registers a sweeper callback (metrics hook). Must be called
// before Run.
func (s *Store) SetOnExpired(fn func(n int)) {
	s.onExpired = fn
}

func NewStore(maxSessions int, clock ratelimit.Clock, logger *slog.Logger) *Store {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	if clock == nil {
		clock = ratelimit.RealClock{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{
		maxSessions: maxSessions,
		clock:       clock,
		log:         logger,
		startedAt:   clock.Now(),
		sessions:    make(map[string]*record),
	}
}

// Create allocates a new pending session. metadata may be nil.
func (s *Store) Create(metadata *Metadata) (Snapshot, error) {
	secret, err := sessionid.NewSecret()
	if err != nil {
		return Snapshot{}, err
	}

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := sessionid.NewSessionID()
		if err != nil {
			return Snapshot{}, err
		}

		s.mu.Lock()
		if len(s.sessions) >= s.maxSessions {
			s.mu.Unlock()
			return Snapshot{}, ErrAtCapacity
		}
		if _, inUse := s.sessions[id]; inUse {
			s.mu.Unlock()
			continue
		}

		now := s.clock.Now()
		rec := &record{
			id:        id,
			secret:    secret,
			createdAt: now,
			expiresAt: now.Add(PendingTTL),
			status:    StatusPending,
			metadata:  metadata,
		}
		s.sessions[id] = rec
		snap := rec.snapshot()
		s.mu.Unlock()
		return snap, nil
	}

	return Snapshot{}, errIDSpace
}

// Get returns a snapshot of the session, if it exists.
func (s *Store) Get(id string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[id]
	if !ok {
		return Snapshot{}, false
	}
	return rec.snapshot(), true
}

// Delete removes the record without closing attachments.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// VerifySecret reports whether secret matches the session's secret, in
// constant time. Unknown ids report false.
func (s *Store) VerifySecret(id, secret string) bool {
	s.mu.Lock()
	rec, ok := s.sessions[id]
	var want string
	if ok {
		want = rec.secret
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(secret)) == 1
}

// IsMobileLocked reports the session's Mobile lock; false for unknown ids.
func (s *Store) IsMobileLocked(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[id]
	return ok && rec.mobileLocked
}

// RegisterConnection attaches conn in the given role.
//
// It fails (ok=false) when the session is unknown, terminated, or when a
// Mobile is already attached and role is Mobile. A DApp may replace an
// existing DApp attachment (reconnect); the displaced handle is returned as
// replaced so its read loop can be abandoned without detaching the new one.
//
// peer is the opposite-role handle at attach time, captured so the caller can
// notify it (dapp_reconnected) without re-entering the store.
func (s *Store) RegisterConnection(id string, role Role, conn Conn) (peer Conn, replaced Conn, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, found := s.sessions[id]
	if !found || rec.terminated {
		return nil, nil, false
	}
	if role == RoleMobile && rec.mobileLocked && rec.mobile != nil {
		return nil, nil, false
	}

	replaced = rec.conn(role)
	rec.setConn(role, conn)
	if role == RoleMobile {
		rec.mobileLocked = true
	}

	if rec.dapp != nil && rec.mobile != nil {
		rec.status = StatusConnected
		rec.expiresAt = s.clock.Now().Add(ConnectedTTL)
	}

	return rec.conn(role.Opposite()), replaced, true
}

// UnregisterConnection clears the slot held by conn. If another handle has
// already replaced conn (DApp reconnect race), the call is a no-op. A nil
// conn clears the slot unconditionally.
//
// Returns the surviving opposite-role handle, if any, so the caller can send
// it a disconnect advisory.
func (s *Store) UnregisterConnection(id string, role Role, conn Conn) (peer Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[id]
	if !ok {
		return nil
	}
	if conn != nil && rec.conn(role) != conn {
		return nil
	}

	rec.setConn(role, nil)
	if role == RoleMobile {
		rec.mobileLocked = false
	}
	rec.status = StatusDisconnected

	return rec.conn(role.Opposite())
}

// TerminateSession marks the session terminated and closes both attachments.
// Further RegisterConnection calls fail. Reports whether the session existed.
func (s *Store) TerminateSession(id string) bool {
	s.mu.Lock()
	rec, ok := s.sessions[id]
	var toClose []Conn
	if ok {
		rec.terminated = true
		rec.status = StatusDisconnected
		if rec.dapp != nil {
			toClose = append(toClose, rec.dapp)
		}
		if rec.mobile != nil {
			toClose = append(toClose, rec.mobile)
		}
		rec.dapp = nil
		rec.mobile = nil
		rec.mobileLocked = false
	}
	s.mu.Unlock()

	for _, c := range toClose {
		c.Close(1000, "Session terminated")
	}
	return ok
}

// GetPeer returns the opposite-role attachment, if any.
func (s *Store) GetPeer(id string, myRole Role) Conn {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[id]
	if !ok {
		return nil
	}
	return rec.conn(myRole.Opposite())
}

// CleanupExpired removes every record whose expiry has passed, closing any
// still-attached connections with a normal closure. Returns the number of
// sessions removed.
func (s *Store) CleanupExpired() int {
	now := s.clock.Now()

	s.mu.Lock()
	var toClose []Conn
	removed := 0
	for id, rec := range s.sessions {
		if !now.After(rec.expiresAt) {
			continue
		}
		if rec.dapp != nil {
			toClose = append(toClose, rec.dapp)
		}
		if rec.mobile != nil {
			toClose = append(toClose, rec.mobile)
		}
		delete(s.sessions, id)
		removed++
	}
	s.mu.Unlock()

	for _, c := range toClose {
		c.Close(1000, ExpiredCloseReason)
	}
	return removed
}

// CloseAll closes every attached connection with the given code and reason.
// Records are left in place; this is a shutdown affordance.
func (s *Store) CloseAll(code int, reason string) {
	s.mu.Lock()
	var toClose []Conn
	for _, rec := range s.sessions {
		if rec.dapp != nil {
			toClose = append(toClose, rec.dapp)
		}
		if rec.mobile != nil {
			toClose = append(toClose, rec.mobile)
		}
		rec.dapp = nil
		rec.mobile = nil
		rec.mobileLocked = false
	}
	s.mu.Unlock()

	for _, c := range toClose {
		c.Close(code, reason)
	}
}

// Stats reports store-wide counters for /health and /metrics.
type Stats struct {
	TotalSessions     int   `json:"totalSessions"`
	PendingSessions   int   `json:"pendingSessions"`
	ConnectedSessions int   `json:"connectedSessions"`
	MaxSessions       int   `json:"maxSessions"`
	Uptime            int64 `json:"uptime"`
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		TotalSessions: len(s.sessions),
		MaxSessions:   s.maxSessions,
		Uptime:        int64(s.clock.Now().Sub(s.startedAt).Seconds()),
	}
	for _, rec := range s.sessions {
		switch rec.status {
		case StatusPending:
			st.PendingSessions++
		case StatusConnected:
			st.ConnectedSessions++
		}
	}
	return st
}

// IsAtCapacity reports whether the store has reached its session cap.
func (s *Store) IsAtCapacity() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions) >= s.maxSessions
}

// Run sweeps expired sessions every SweepInterval until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	t := time.NewTicker(SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.CleanupExpired(); n > 0 {
				s.log.Info("sessions_expired", "count", n)
				if s.onExpired != nil {
					s.onExpired(n)
				}
			}
		}
	}
}
