package core

// Sync implements the three-phase chain reconciliation protocol: Advertise
// (broadcast our tip height), Collect (gather peer tip heights against a 3s
// timer), Splice (pull and append the missing range from the tallest
// reporter). Each run is bounded by a per-attempt timeout and a fixed
// attempt count.

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// SyncState is the sync attempt's terminal (or in-flight) condition.
type SyncState int32

const (
	SyncIdle SyncState = iota
	SyncWaiting
	SyncFullySynced
	SyncAlreadySynced
	SyncInvalidState
	SyncInvalidPeer
	SyncNotEnoughHeights
)

func (s SyncState) String() string {
	switch s {
	case SyncWaiting:
		return "Waiting"
	case SyncFullySynced:
		return "FullySynced"
	case SyncAlreadySynced:
		return "AlreadySynced"
	case SyncInvalidState:
		return "InvalidState"
	case SyncInvalidPeer:
		return "InvalidPeer"
	case SyncNotEnoughHeights:
		return "NotEnoughHeights"
	default:
		return "Idle"
	}
}

const (
	collectWindow   = 3 * time.Second
	attemptTimeout  = 15 * time.Second
	maxSyncAttempts = 2
)

// Syncer drives one node's sync protocol. It is created once per node and
// reused across attempts; each Run call resets its transient collection
// state.
type Syncer struct {
	state atomic.Int32

	mu         sync.Mutex
	responses  map[string]int64 // peer listen address -> reported height
	order      []string         // peer addresses in first-seen arrival order
	collecting bool
	firstResp  chan struct{}
	once       sync.Once
	pending    pendingInventory

	log *logrus.Entry

	// hooks back into the owning node; set at construction so Syncer has no
	// direct dependency on Node's type (keeps this file testable in
	// isolation with fakes).
	selfHeight    func() int64
	peerAddresses func() []string
	broadcast     func(Verb, any)
	unicast       func(peerAddr string, v Verb, body any) error
	hardReplace   func()
	splice        func(blocks []*Block) error
	snapshotChain func() []*Block
	restoreChain  func(blocks []*Block)
}

// SyncerDeps wires a Syncer to the rest of a node without importing it
// directly. SnapshotChain and RestoreChain are optional; without them a
// failed hard sync leaves the fresh genesis in place instead of rolling the
// chain back.
type SyncerDeps struct {
	SelfHeight    func() int64
	PeerAddresses func() []string
	Broadcast     func(Verb, any)
	Unicast       func(peerAddr string, v Verb, body any) error
	HardReplace   func()
	Splice        func(blocks []*Block) error
	SnapshotChain func() []*Block
	RestoreChain  func(blocks []*Block)
}

func NewSyncer(deps SyncerDeps, log *logrus.Logger) *Syncer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Syncer{
		log:           log.WithField("component", "sync"),
		selfHeight:    deps.SelfHeight,
		peerAddresses: deps.PeerAddresses,
		broadcast:     deps.Broadcast,
		unicast:       deps.Unicast,
		hardReplace:   deps.HardReplace,
		splice:        deps.Splice,
		snapshotChain: deps.SnapshotChain,
		restoreChain:  deps.RestoreChain,
	}
	s.state.Store(int32(SyncIdle))
	return s
}

// State returns the current sync state.
func (s *Syncer) State() SyncState {
	return SyncState(s.state.Load())
}

func (s *Syncer) setState(st SyncState) {
	s.state.Store(int32(st))
}

// OnListLastBlocks records one peer's Phase B reply. Called from the
// transport's VerbListLastBlocks handler.
func (s *Syncer) OnListLastBlocks(peerAddr string, height int64) {
	s.mu.Lock()
	if !s.collecting {
		s.mu.Unlock()
		return
	}
	if s.responses == nil {
		s.responses = make(map[string]int64)
	}
	first := len(s.responses) == 0
	if _, dup := s.responses[peerAddr]; !dup {
		s.order = append(s.order, peerAddr)
	}
	s.responses[peerAddr] = height
	s.mu.Unlock()

	if first {
		s.once.Do(func() { close(s.firstResp) })
	}
}

// Run executes the full bounded sync protocol: up to maxSyncAttempts
// attempts, each bounded by attemptTimeout, each running Phase A then
// waiting up to collectWindow once the first reply arrives.
func (s *Syncer) Run(ctx context.Context, hard bool) SyncState {
	for attempt := 0; attempt < maxSyncAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		st := s.runOnce(attemptCtx, hard)
		cancel()
		if st == SyncFullySynced || st == SyncAlreadySynced {
			return st
		}
	}
	return s.State()
}

func (s *Syncer) runOnce(ctx context.Context, hard bool) SyncState {
	// With no peers there is nothing to reconcile against; don't sit out the
	// collection window waiting for replies that cannot arrive.
	if len(s.peerAddresses()) == 0 {
		s.setState(SyncAlreadySynced)
		return s.State()
	}

	s.mu.Lock()
	s.responses = make(map[string]int64)
	s.order = nil
	s.collecting = true
	s.firstResp = make(chan struct{})
	s.once = sync.Once{}
	s.mu.Unlock()

	s.setState(SyncWaiting)
	selfHeight := s.selfHeight()
	s.broadcast(VerbGetLastBlock, GetLastBlockPayload{LatestBlockHeight: selfHeight})

	// Wait for the first response (or ctx expiry), then run the 3s
	// collection window before deciding.
	select {
	case <-s.firstResp:
	case <-ctx.Done():
		s.mu.Lock()
		s.collecting = false
		s.mu.Unlock()
		s.setState(SyncNotEnoughHeights)
		return s.State()
	}

	select {
	case <-time.After(collectWindow):
	case <-ctx.Done():
	}

	s.mu.Lock()
	s.collecting = false
	responses := make(map[string]int64, len(s.responses))
	for k, v := range s.responses {
		responses[k] = v
	}
	order := append([]string(nil), s.order...)
	s.mu.Unlock()

	peerCount := len(s.peerAddresses())
	threshold := peerCount / 2
	if len(responses) < threshold {
		s.setState(SyncNotEnoughHeights)
		return s.State()
	}

	starAddr, starHeight, found := pickTallest(responses, order)
	if !found || starHeight <= selfHeight {
		s.setState(SyncAlreadySynced)
		return s.State()
	}

	var prior []*Block
	if hard {
		if s.snapshotChain != nil {
			prior = s.snapshotChain()
		}
		s.hardReplace()
		selfHeight = 0
	}

	s.mu.Lock()
	s.pending = pendingInventory{peer: starAddr, fromHeight: selfHeight, toHeight: starHeight}
	s.mu.Unlock()

	if err := s.unicast(starAddr, VerbGetInventory, GetInventoryPayload{
		FromHeight: selfHeight,
		ToHeight:   starHeight,
	}); err != nil {
		s.log.WithError(err).Warn("getInventory unicast failed")
		s.setState(SyncInvalidState)
		s.rollback(prior)
		return s.State()
	}

	// Phase C resolution (accept/reject, state transition) happens inside
	// the node's VerbUpdateInventory handler, which calls ApplyInventory
	// below. Here we just wait for that to land or the attempt to time out.
	select {
	case <-ctx.Done():
		if s.State() == SyncWaiting {
			s.setState(SyncInvalidState)
		}
	case <-s.waitForResolution(ctx):
	}
	if s.State() != SyncFullySynced {
		s.rollback(prior)
	}
	return s.State()
}

// rollback reinstates the chain captured before a hard replace, so a failed
// or rejected inventory pull doesn't leave the node on a bare genesis.
func (s *Syncer) rollback(prior []*Block) {
	if prior == nil || s.restoreChain == nil {
		return
	}
	s.log.WithField("height", len(prior)-1).Warn("sync failed, restoring previous chain")
	s.restoreChain(prior)
}

// waitForResolution polls until the state leaves Waiting or ctx expires.
func (s *Syncer) waitForResolution(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if s.State() != SyncWaiting {
					close(done)
					return
				}
			case <-ctx.Done():
				close(done)
				return
			}
		}
	}()
	return done
}

// pendingInventory records which peer and height range a Syncer expects a
// reply from between sending getInventory and receiving updateInventory.
type pendingInventory struct {
	peer       string
	fromHeight int64
	toHeight   int64
}

// ApplyInventory handles an inbound updateInventory reply: verifies the
// source is the expected tallest reporter, verifies the block count, and on
// success splices the blocks in (fromHeight, toHeight] via the splice hook.
func (s *Syncer) ApplyInventory(fromPeer string, blocks []*Block) {
	s.mu.Lock()
	expected := s.pending
	s.mu.Unlock()

	// An unsolicited inventory (no getInventory outstanding) is dropped
	// without touching the sync state.
	if expected.peer == "" {
		return
	}
	s.mu.Lock()
	s.pending = pendingInventory{}
	s.mu.Unlock()

	if fromPeer != expected.peer {
		s.setState(SyncInvalidPeer)
		return
	}
	wantCount := int(expected.toHeight - expected.fromHeight)
	if len(blocks) != wantCount {
		s.setState(SyncInvalidState)
		return
	}
	if err := s.splice(blocks); err != nil {
		s.log.WithError(err).Warn("splice failed")
		s.setState(SyncInvalidState)
		return
	}
	s.setState(SyncFullySynced)
}

// pickTallest returns the peer address with the maximum reported height from
// responses, breaking ties by first-seen order. order lists peer addresses
// in the sequence their first listLastBlocks reply arrived in.
func pickTallest(responses map[string]int64, order []string) (addr string, height int64, found bool) {
	height = -1
	for _, a := range order {
		h, ok := responses[a]
		if !ok {
			continue
		}
		if h > height {
			addr, height, found = a, h, true
		}
	}
	return
}
