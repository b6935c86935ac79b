package wsrelay

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/wallet-relay/internal/protocol"
	"github.com/wilsonzlin/wallet-relay/internal/session"
)

func newTestRelay(t *testing.T) (*httptest.Server, *session.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := session.NewStore(100, nil, logger)
	srv := httptest.NewServer(NewServer(store, nil, logger))
	t.Cleanup(srv.Close)
	return srv, store
}

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, query), nil)
	if err != nil {
		t.Fatalf("dial %q: %v (resp=%v)", query, err, resp)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func dialExpectStatus(t *testing.T, srv *httptest.Server, query string, wantStatus int) {
	t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, query), nil)
	if err == nil {
		ws.Close()
		t.Fatalf("dial %q succeeded, want HTTP %d", query, wantStatus)
	}
	if resp == nil || resp.StatusCode != wantStatus {
		t.Fatalf("dial %q: resp=%v, want HTTP %d", query, resp, wantStatus)
	}
	resp.Body.Close()
}

func readMessage(t *testing.T, ws *websocket.Conn) (int, []byte) {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	mt, payload, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return mt, payload
}

func readTyped(t *testing.T, ws *websocket.Conn, wantType string) map[string]any {
	t.Helper()
	_, payload := readMessage(t, ws)
	var msg map[string]any
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("unmarshal %q: %v", payload, err)
	}
	if msg["type"] != wantType {
		t.Fatalf("message type=%v, want %s (payload=%s)", msg["type"], wantType, payload)
	}
	return msg
}

func readCloseCode(t *testing.T, ws *websocket.Conn) (int, string) {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, _, err := ws.ReadMessage()
		if err == nil {
			continue
		}
		ce, ok := err.(*websocket.CloseError)
		if !ok {
			t.Fatalf("read: %v, want close error", err)
		}
		return ce.Code, ce.Text
	}
}

func TestHandshakeValidation(t *testing.T) {
	srv, store := newTestRelay(t)
	snap, err := store.Create(nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	dialExpectStatus(t, srv, "role=dapp", http.StatusBadRequest)
	dialExpectStatus(t, srv, "session="+snap.ID, http.StatusBadRequest)
	dialExpectStatus(t, srv, "session="+snap.ID+"&role=tablet", http.StatusBadRequest)
	dialExpectStatus(t, srv, "session=ZZZZ&role=dapp", http.StatusNotFound)
	dialExpectStatus(t, srv, "session="+snap.ID+"&role=mobile", http.StatusForbidden)
	dialExpectStatus(t, srv, "session="+snap.ID+"&role=mobile&k=WRONGSECRET", http.StatusForbidden)
}

func TestPairAndForward(t *testing.T) {
	srv, store := newTestRelay(t)
	snap, err := store.Create(nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	dapp := dial(t, srv, "session="+snap.ID+"&role=dapp")
	readTyped(t, dapp, protocol.TypeReady)

	mobile := dial(t, srv, "session="+snap.ID+"&role=mobile&k="+snap.Secret)
	readTyped(t, mobile, protocol.TypeReady)

	got, _ := store.Get(snap.ID)
	if got.Status != session.StatusConnected {
		t.Fatalf("status=%s, want connected", got.Status)
	}

	// Frames cross verbatim, byte for byte, in both directions.
	req := []byte(`{"jsonrpc":"2.0","id":1,"method":"eth_accounts","params":[]}`)
	if err := dapp.WriteMessage(websocket.TextMessage, req); err != nil {
		t.Fatalf("write: %v", err)
	}
	mt, payload := readMessage(t, mobile)
	if mt != websocket.TextMessage || string(payload) != string(req) {
		t.Fatalf("forwarded %d/%q, want text/%q", mt, payload, req)
	}

	resp := []byte(`{"jsonrpc":"2.0","id":1,"result":["0xabc"]}`)
	if err := mobile.WriteMessage(websocket.TextMessage, resp); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, payload := readMessage(t, dapp); string(payload) != string(resp) {
		t.Fatalf("forwarded %q, want %q", payload, resp)
	}

	// Non-JSON frames cross untouched too; the relay never parses payloads.
	junk := []byte("not json at all")
	if err := dapp.WriteMessage(websocket.TextMessage, junk); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, payload := readMessage(t, mobile); string(payload) != string(junk) {
		t.Fatalf("forwarded %q, want %q", payload, junk)
	}
}

func TestSecondMobileRejected(t *testing.T) {
	srv, store := newTestRelay(t)
	snap, err := store.Create(nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	mobile := dial(t, srv, "session="+snap.ID+"&role=mobile&k="+snap.Secret)
	readTyped(t, mobile, protocol.TypeReady)

	// The lock holds even with the correct secret.
	dialExpectStatus(t, srv, "session="+snap.ID+"&role=mobile&k="+snap.Secret, http.StatusConflict)

	// The first mobile is untouched: detaching it releases the lock.
	mobile.Close()
	deadline := time.Now().Add(5 * time.Second)
	for store.IsMobileLocked(snap.ID) {
		if time.Now().After(deadline) {
			t.Fatalf("mobile lock not released after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}

	second := dial(t, srv, "session="+snap.ID+"&role=mobile&k="+snap.Secret)
	readTyped(t, second, protocol.TypeReady)
}

func TestForwardWithoutPeer(t *testing.T) {
	srv, store := newTestRelay(t)
	snap, err := store.Create(nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	dapp := dial(t, srv, "session="+snap.ID+"&role=dapp")
	readTyped(t, dapp, protocol.TypeReady)

	if err := dapp.WriteMessage(websocket.TextMessage, []byte(`{"id":1}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := readTyped(t, dapp, protocol.TypeError)
	if msg["code"].(float64) != float64(protocol.CodePeerNotConnected) {
		t.Fatalf("code=%v, want %d", msg["code"], protocol.CodePeerNotConnected)
	}
	if msg["message"] != "Peer not connected" {
		t.Fatalf("message=%v", msg["message"])
	}
}

func TestPeerDisconnectAdvisory(t *testing.T) {
	srv, store := newTestRelay(t)
	snap, err := store.Create(nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	dapp := dial(t, srv, "session="+snap.ID+"&role=dapp")
	readTyped(t, dapp, protocol.TypeReady)
	mobile := dial(t, srv, "session="+snap.ID+"&role=mobile&k="+snap.Secret)
	readTyped(t, mobile, protocol.TypeReady)

	mobile.Close()
	msg := readTyped(t, dapp, protocol.TypeDisconnect)
	if msg["reason"] != "Peer disconnected" {
		t.Fatalf("reason=%v", msg["reason"])
	}

	got, _ := store.Get(snap.ID)
	if got.Status != session.StatusDisconnected {
		t.Fatalf("status=%s, want disconnected", got.Status)
	}
}

func TestDappReconnect(t *testing.T) {
	srv, store := newTestRelay(t)
	snap, err := store.Create(nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	dapp1 := dial(t, srv, "session="+snap.ID+"&role=dapp")
	readTyped(t, dapp1, protocol.TypeReady)
	mobile := dial(t, srv, "session="+snap.ID+"&role=mobile&k="+snap.Secret)
	readTyped(t, mobile, protocol.TypeReady)

	// A fresh DApp connection replaces the slot; the mobile hears about it so
	// it can re-announce address and chain, and the stale socket is closed.
	dapp2 := dial(t, srv, "session="+snap.ID+"&role=dapp")
	readTyped(t, dapp2, protocol.TypeReady)
	readTyped(t, mobile, protocol.TypeDappReconnected)
	if code, _ := readCloseCode(t, dapp1); code != websocket.CloseGoingAway {
		t.Fatalf("replaced dapp close code=%d, want 1001", code)
	}

	// Traffic now flows over the replacement.
	frame := []byte(`{"jsonrpc":"2.0","id":7,"method":"eth_chainId"}`)
	if err := dapp2.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, payload := readMessage(t, mobile); string(payload) != string(frame) {
		t.Fatalf("forwarded %q, want %q", payload, frame)
	}

	// The stale handle's teardown must not have detached its replacement.
	resp := []byte(`{"jsonrpc":"2.0","id":7,"result":"0x1"}`)
	if err := mobile.WriteMessage(websocket.TextMessage, resp); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, payload := readMessage(t, dapp2); string(payload) != string(resp) {
		t.Fatalf("forwarded %q, want %q", payload, resp)
	}
}

func TestTerminateClosesConnections(t *testing.T) {
	srv, store := newTestRelay(t)
	snap, err := store.Create(nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	dapp := dial(t, srv, "session="+snap.ID+"&role=dapp")
	readTyped(t, dapp, protocol.TypeReady)
	mobile := dial(t, srv, "session="+snap.ID+"&role=mobile&k="+snap.Secret)
	readTyped(t, mobile, protocol.TypeReady)

	store.TerminateSession(snap.ID)

	for _, ws := range []*websocket.Conn{dapp, mobile} {
		code, reason := readCloseCode(t, ws)
		if code != websocket.CloseNormalClosure || reason != "Session terminated" {
			t.Fatalf("close=%d/%q, want 1000/Session terminated", code, reason)
		}
	}

	dialExpectStatus(t, srv, "session="+snap.ID+"&role=dapp", http.StatusNotFound)
}
