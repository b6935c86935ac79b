package protocol

import "testing"

func TestWireShapes(t *testing.T) {
	cases := []struct {
		name string
		got  []byte
		want string
	}{
		{"ready", Marshal(NewReady()), `{"type":"ready"}`},
		{"dapp_reconnected", Marshal(NewDappReconnected()), `{"type":"dapp_reconnected"}`},
		{"peer_not_connected", Marshal(PeerNotConnected()), `{"type":"error","code":-32000,"message":"Peer not connected"}`},
		{"disconnect", Marshal(NewDisconnect("Peer disconnected")), `{"type":"disconnect","reason":"Peer disconnected"}`},
		{"disconnect_no_reason", Marshal(NewDisconnect("")), `{"type":"disconnect"}`},
	}
	for _, tc := range cases {
		if string(tc.got) != tc.want {
			t.Errorf("%s: got %s, want %s", tc.name, tc.got, tc.want)
		}
	}
}
