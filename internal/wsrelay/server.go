// Package wsrelay implements the relay's WebSocket surface: handshake
// validation, peer registration and verbatim frame forwarding.
package wsrelay

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/wallet-relay/internal/metrics"
	"github.com/wilsonzlin/wallet-relay/internal/protocol"
	"github.com/wilsonzlin/wallet-relay/internal/session"
)

// Close reason for the post-upgrade registration race (two Mobiles passing
// the pre-upgrade lock check simultaneously). Clients must not auto-reconnect
// on code 1008.
const lockConflictReason = "Session not found or already locked"

// Server handles GET /ws?session=<id>&role=<dapp|mobile>[&k=<secret>].
type Server struct {
	store   *session.Store
	metrics *metrics.Metrics
	log     *slog.Logger

	upgrader websocket.Upgrader
}

func NewServer(store *session.Store, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{
		store:   store,
		metrics: m,
		log:     logger,
		upgrader: websocket.Upgrader{
			// The Mobile side connects from a QR-scanned page on a different
			// origin; origin checks would defeat the pairing flow. The secret
			// is the access control.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := q.Get("session")
	roleStr := q.Get("role")

	if id == "" || roleStr == "" {
		http.Error(w, "Missing session or role parameter", http.StatusBadRequest)
		return
	}
	role, ok := session.ParseRole(roleStr)
	if !ok {
		http.Error(w, "Invalid role", http.StatusBadRequest)
		return
	}
	snap, ok := s.store.Get(id)
	if !ok || snap.Terminated {
		// Terminated sessions are indistinguishable from unknown ones.
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	if role == session.RoleMobile {
		if !s.store.VerifySecret(id, q.Get("k")) {
			http.Error(w, "Invalid session secret", http.StatusForbidden)
			return
		}
		if s.store.IsMobileLocked(id) {
			http.Error(w, "Session already has a mobile connection", http.StatusConflict)
			return
		}
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn := newPeerConn(ws)

	// Register and send ready under the connection's write mutex so no frame
	// forwarded by the peer can precede ready on this socket.
	conn.mu.Lock()
	peer, replaced, ok := s.store.RegisterConnection(id, role, conn)
	if !ok {
		conn.mu.Unlock()
		// Lost the race after the pre-upgrade check (e.g. a second Mobile).
		conn.Close(protocol.CloseLockConflict, lockConflictReason)
		return
	}
	_ = conn.writeLocked(websocket.TextMessage, protocol.Marshal(protocol.NewReady()))
	conn.mu.Unlock()

	// A reconnecting DApp displaces its predecessor; the identity guard in
	// UnregisterConnection keeps the stale handle's teardown from detaching us.
	if replaced != nil {
		replaced.Close(protocol.CloseGoingAway, "Replaced by new connection")
	}

	if s.metrics != nil {
		s.metrics.WSConnections.WithLabelValues(string(role)).Inc()
	}
	s.log.Info("ws_connected", "session_id", id, "role", role, "remote_addr", r.RemoteAddr)

	// A DApp (re)attaching while the Mobile is already paired: tell the
	// Mobile so it can re-announce address and chain.
	if role == session.RoleDApp && peer != nil {
		_ = peer.Send(protocol.Marshal(protocol.NewDappReconnected()))
	}

	s.readLoop(id, role, conn)

	if surviving := s.store.UnregisterConnection(id, role, conn); surviving != nil {
		_ = surviving.Send(protocol.Marshal(protocol.NewDisconnect("Peer disconnected")))
	}
	s.log.Info("ws_disconnected", "session_id", id, "role", role, "remote_addr", r.RemoteAddr)
}

// readLoop forwards inbound frames verbatim until the socket closes. Payloads
// are never parsed; the opposite peer is resolved through the store on every
// frame so reconnects are picked up naturally.
func (s *Server) readLoop(id string, role session.Role, conn *peerConn) {
	for {
		messageType, payload, err := conn.ws.ReadMessage()
		if err != nil {
			return
		}

		peer := s.store.GetPeer(id, role)
		if peer == nil {
			if s.metrics != nil {
				s.metrics.ForwardNoPeer.Inc()
			}
			_ = conn.Send(protocol.Marshal(protocol.PeerNotConnected()))
			continue
		}

		if err := peer.SendRaw(messageType, payload); err != nil {
			// Delivery is best-effort; the peer's own read loop handles its
			// teardown. Never retried, never buffered.
			if s.metrics != nil {
				s.metrics.ForwardErrors.Inc()
			}
			s.log.Warn("forward_failed", "session_id", id, "from_role", role, "err", err)
			continue
		}
		if s.metrics != nil {
			s.metrics.FramesForwarded.Inc()
		}
	}
}
