package core

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

// fakeSyncPeers drives a Syncer against an in-memory fake peer set instead
// of a real TCP transport, exercising the three-phase protocol's state
// transitions directly.
type fakeSyncPeers struct {
	selfHeight int64
	peers      []string

	unicastFn        func(addr string, v Verb, body any) error
	applyFromTallest func(blocks []*Block)
}

func newFakeSyncer(f *fakeSyncPeers) *Syncer {
	return NewSyncer(SyncerDeps{
		SelfHeight:    func() int64 { return f.selfHeight },
		PeerAddresses: func() []string { return f.peers },
		Broadcast:     func(Verb, any) {},
		Unicast: func(addr string, v Verb, body any) error {
			if f.unicastFn != nil {
				return f.unicastFn(addr, v, body)
			}
			return nil
		},
		HardReplace: func() {},
		Splice:      func(blocks []*Block) error { return nil },
	}, logrus.StandardLogger())
}

func TestSyncerNotEnoughHeights(t *testing.T) {
	f := &fakeSyncPeers{selfHeight: 5, peers: []string{"a", "b", "c", "d"}}
	s := newFakeSyncer(f)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	// No peer ever replies, so the first-response wait itself times out on
	// ctx expiry.
	st := s.runOnce(ctx, false)
	if st != SyncNotEnoughHeights {
		t.Fatalf("state = %v, want NotEnoughHeights", st)
	}
}

func TestSyncerNoPeersIsAlreadySynced(t *testing.T) {
	f := &fakeSyncPeers{selfHeight: 5}
	s := newFakeSyncer(f)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if st := s.runOnce(ctx, false); st != SyncAlreadySynced {
		t.Fatalf("state = %v, want AlreadySynced with no peers", st)
	}
}

func TestSyncerAlreadySynced(t *testing.T) {
	f := &fakeSyncPeers{selfHeight: 5, peers: []string{"a", "b"}}
	s := newFakeSyncer(f)

	// ctx must outlive the fixed 3s collection window so the test exercises
	// the real timer path rather than racing it via early ctx expiry.
	ctx, cancel := context.WithTimeout(context.Background(), collectWindow+2*time.Second)
	defer cancel()

	go func() {
		time.Sleep(20 * time.Millisecond)
		s.OnListLastBlocks("a", 5)
		s.OnListLastBlocks("b", 4)
	}()

	st := s.runOnce(ctx, false)
	if st != SyncAlreadySynced {
		t.Fatalf("state = %v, want AlreadySynced", st)
	}
}

func TestSyncerFullySyncedSplicesInventory(t *testing.T) {
	f := &fakeSyncPeers{selfHeight: 5, peers: []string{"a", "b"}}
	f.unicastFn = func(addr string, v Verb, body any) error {
		if v != VerbGetInventory {
			return nil
		}
		req := body.(GetInventoryPayload)
		blocks := make([]*Block, 0, req.ToHeight-req.FromHeight)
		for h := req.FromHeight + 1; h <= req.ToHeight; h++ {
			blocks = append(blocks, &Block{Height: uint64(h)})
		}
		// Deliver the reply asynchronously, as a real peer's updateInventory
		// would arrive on a different goroutine than the unicast call.
		go f.applyFromTallest(blocks)
		return nil
	}
	s := newFakeSyncer(f)
	f.applyFromTallest = func(blocks []*Block) { s.ApplyInventory("a", blocks) }

	ctx, cancel := context.WithTimeout(context.Background(), collectWindow+2*time.Second)
	defer cancel()

	go func() {
		time.Sleep(20 * time.Millisecond)
		s.OnListLastBlocks("a", 9)
		s.OnListLastBlocks("b", 7)
	}()

	st := s.runOnce(ctx, false)
	if st != SyncFullySynced {
		t.Fatalf("state = %v, want FullySynced", st)
	}
}

// waitUntilWaitingOnInventory polls until runOnce has recorded a pending
// getInventory request (i.e. it's blocked waiting for Phase C to resolve),
// so a test can inject an updateInventory reply at the right moment instead
// of racing a fixed sleep against collectWindow. It is safe to call from a
// goroutine other than the test's own, unlike t.Fatal.
func waitUntilWaitingOnInventory(s *Syncer) {
	for i := 0; i < 500; i++ {
		s.mu.Lock()
		pending := s.pending.peer != "" && !s.collecting
		s.mu.Unlock()
		if pending {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSyncerInvalidPeerWhenWrongSourceReplies(t *testing.T) {
	f := &fakeSyncPeers{selfHeight: 5, peers: []string{"a", "b"}}
	s := newFakeSyncer(f)

	ctx, cancel := context.WithTimeout(context.Background(), attemptTimeout)
	defer cancel()

	go func() {
		time.Sleep(20 * time.Millisecond)
		s.OnListLastBlocks("a", 9)
		s.OnListLastBlocks("b", 3)
		waitUntilWaitingOnInventory(s)
		// "b" is not P* ("a" reported the tallest height); its reply must be
		// rejected.
		s.ApplyInventory("b", []*Block{{Height: 6}})
	}()

	st := s.runOnce(ctx, false)
	if st != SyncInvalidPeer {
		t.Fatalf("state = %v, want InvalidPeer", st)
	}
}

func TestSyncerInvalidStateOnWrongBlockCount(t *testing.T) {
	f := &fakeSyncPeers{selfHeight: 5, peers: []string{"a", "b"}}
	s := newFakeSyncer(f)

	ctx, cancel := context.WithTimeout(context.Background(), attemptTimeout)
	defer cancel()

	go func() {
		time.Sleep(20 * time.Millisecond)
		s.OnListLastBlocks("a", 9)
		s.OnListLastBlocks("b", 3)
		waitUntilWaitingOnInventory(s)
		// Expected count is 9-5=4 blocks; only 1 is supplied.
		s.ApplyInventory("a", []*Block{{Height: 6}})
	}()

	st := s.runOnce(ctx, false)
	if st != SyncInvalidState {
		t.Fatalf("state = %v, want InvalidState", st)
	}
}

func TestSyncerHardSyncRollsBackOnFailure(t *testing.T) {
	f := &fakeSyncPeers{selfHeight: 5, peers: []string{"a", "b"}}
	s := newFakeSyncer(f)

	prior := []*Block{{Height: 0}, {Height: 1}}
	var restored []*Block
	s.snapshotChain = func() []*Block { return prior }
	s.restoreChain = func(blocks []*Block) { restored = blocks }

	ctx, cancel := context.WithTimeout(context.Background(), attemptTimeout)
	defer cancel()

	go func() {
		time.Sleep(20 * time.Millisecond)
		s.OnListLastBlocks("a", 9)
		s.OnListLastBlocks("b", 3)
		waitUntilWaitingOnInventory(s)
		// Wrong block count rejects the inventory; the chain captured before
		// the hard replace must come back.
		s.ApplyInventory("a", []*Block{{Height: 6}})
	}()

	st := s.runOnce(ctx, true)
	if st != SyncInvalidState {
		t.Fatalf("state = %v, want InvalidState", st)
	}
	if len(restored) != len(prior) {
		t.Fatalf("restored %d blocks, want %d", len(restored), len(prior))
	}
}

func TestSyncerIgnoresUnsolicitedInventory(t *testing.T) {
	f := &fakeSyncPeers{selfHeight: 5, peers: []string{"a"}}
	s := newFakeSyncer(f)
	s.setState(SyncFullySynced)

	s.ApplyInventory("a", []*Block{{Height: 6}})
	if st := s.State(); st != SyncFullySynced {
		t.Fatalf("state = %v, want FullySynced untouched by unsolicited inventory", st)
	}
}

func TestPickTallestBreaksTiesByFirstSeen(t *testing.T) {
	responses := map[string]int64{"a": 10, "b": 10, "c": 9}
	order := []string{"b", "a", "c"}
	addr, height, found := pickTallest(responses, order)
	if !found || addr != "b" || height != 10 {
		t.Fatalf("pickTallest = (%q, %d, %v), want (\"b\", 10, true)", addr, height, found)
	}
}
