package core

import (
	"encoding/json"
	"net"
	"testing"
	"time"
)

func TestTransportUnicastDeliversToHandler(t *testing.T) {
	a := NewTransport("127.0.0.1:0", nil)
	b := NewTransport("127.0.0.1:0", nil)

	received := make(chan GetLastBlockPayload, 1)
	b.OnVerb(VerbGetLastBlock, func(from string, body []byte) {
		var p GetLastBlockPayload
		if err := json.Unmarshal(body, &p); err == nil {
			received <- p
		}
	})

	if err := a.Listen(); err != nil {
		t.Fatalf("a listen: %v", err)
	}
	defer a.Shutdown()
	if err := b.Listen(); err != nil {
		t.Fatalf("b listen: %v", err)
	}
	defer b.Shutdown()

	if err := a.Dial(b.listener.Addr().String(), "self", nil); err != nil {
		t.Fatalf("dial: %v", err)
	}

	if err := a.Unicast(b.listener.Addr().String(), VerbGetLastBlock, GetLastBlockPayload{LatestBlockHeight: 9}); err != nil {
		t.Fatalf("unicast: %v", err)
	}

	select {
	case p := <-received:
		if p.LatestBlockHeight != 9 {
			t.Fatalf("LatestBlockHeight = %d, want 9", p.LatestBlockHeight)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for message delivery")
	}
}

func TestTransportSurvivesMalformedFrame(t *testing.T) {
	tr := NewTransport("127.0.0.1:0", nil)

	received := make(chan int64, 1)
	tr.OnVerb(VerbGetLastBlock, func(from string, body []byte) {
		var p GetLastBlockPayload
		if err := json.Unmarshal(body, &p); err == nil {
			received <- p.LatestBlockHeight
		}
	})

	if err := tr.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer tr.Shutdown()

	conn, err := net.Dial("tcp", tr.listener.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// A garbage frame must be logged and dropped without killing the
	// connection; the valid frame behind it still gets dispatched.
	if _, err := conn.Write([]byte("{not json|")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	valid, err := encodeMessage(VerbGetLastBlock, GetLastBlockPayload{LatestBlockHeight: 4})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := conn.Write(valid); err != nil {
		t.Fatalf("write valid: %v", err)
	}

	select {
	case h := <-received:
		if h != 4 {
			t.Fatalf("LatestBlockHeight = %d, want 4", h)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("valid frame after garbage was never dispatched")
	}
}

func TestTransportDialTwiceIsNoOp(t *testing.T) {
	a := NewTransport("127.0.0.1:0", nil)
	b := NewTransport("127.0.0.1:0", nil)

	if err := a.Listen(); err != nil {
		t.Fatalf("a listen: %v", err)
	}
	defer a.Shutdown()
	if err := b.Listen(); err != nil {
		t.Fatalf("b listen: %v", err)
	}
	defer b.Shutdown()

	addr := b.listener.Addr().String()
	if err := a.Dial(addr, "self", nil); err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := a.Dial(addr, "self", nil); err != nil {
		t.Fatalf("second dial: %v", err)
	}
	if a.PeerCount() != 1 {
		t.Fatalf("PeerCount = %d, want 1 after duplicate dial", a.PeerCount())
	}
}

func TestTransportPeerCountAfterDial(t *testing.T) {
	a := NewTransport("127.0.0.1:0", nil)
	b := NewTransport("127.0.0.1:0", nil)

	if err := a.Listen(); err != nil {
		t.Fatalf("a listen: %v", err)
	}
	defer a.Shutdown()
	if err := b.Listen(); err != nil {
		t.Fatalf("b listen: %v", err)
	}
	defer b.Shutdown()

	if err := a.Dial(b.listener.Addr().String(), "self", nil); err != nil {
		t.Fatalf("dial: %v", err)
	}
	if a.PeerCount() != 1 {
		t.Fatalf("PeerCount = %d, want 1", a.PeerCount())
	}
}
