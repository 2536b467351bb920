package core

// Consensus is the pluggable mining rule. Both variants share one
// contract, dispatched through this interface plus the ConsensusKind tag
// on Block.
//
// Build graph: a Consensus implementation depends on nothing but a Wallet
// (for the stake variant's balance read) — it never touches the ledger,
// network or mempool directly. The node wires mempool snapshots into
// candidate blocks before calling Mine.

import (
	"context"
	"errors"
	"sync"
)

// Outcome is the result of one Mine call.
type Outcome int

const (
	// Found means block.Nonce now satisfies the consensus rule.
	Found Outcome = iota
	// Preempted means Stop was called before a solution was found.
	Preempted
)

func (o Outcome) String() string {
	if o == Found {
		return "found"
	}
	return "preempted"
}

// ErrInsufficientStake is returned by the stake variant's Mine when the
// wallet backing it has a zero balance. Callers must not start a mining
// loop for a zero-balance wallet; the node's mining loop treats it as a
// signal to stop rather than retry.
var ErrInsufficientStake = errors.New("consensus: insufficient stake to mine")

// ErrInvalidDifficulty is returned at Mine entry when Difficulty() holds a
// value the active variant cannot interpret (the puzzle variant only
// accepts a fractional part of 0 or 0.5).
var ErrInvalidDifficulty = errors.New("consensus: invalid difficulty for this variant")

// Consensus is implemented by both the puzzle and stake variants.
//
// Mine blocks the caller until it either finds a nonce satisfying the
// acceptance rule (mutating block.Nonce in place and returning Found) or
// Stop preempts it (returning Preempted; block.Nonce then holds no solution).
// Mine is idempotent across consecutive calls: calling it again on a fresh
// block with a freshly-constructed mining session works the same way every
// time — there is no carried state between calls other than Difficulty.
type Consensus interface {
	Mine(ctx context.Context, block *Block) (Outcome, error)
	// Stop requests preemption of any Mine call currently in flight. Safe
	// to call when no mining is in progress; it becomes a no-op.
	Stop()
	// Kind reports which ConsensusKind this implementation is, so blocks
	// it mines are tagged correctly and so Node.ValidateBlock can route to
	// the matching acceptance check.
	Kind() ConsensusKind
	// Difficulty returns the current difficulty knob. Safe to call
	// concurrently with Mine; a change made mid-Mine via SetDifficulty is
	// only guaranteed to apply starting with the next Mine call.
	Difficulty() float64
	// SetDifficulty updates the difficulty knob.
	SetDifficulty(d float64)
}

// preemptFlag is the shared cancellation primitive: a boolean polled every
// inner-loop iteration, backed by a mutex rather than a bare atomic so
// Stop/Mine can't race on the reset-vs-trigger handoff. Both variants embed
// one.
type preemptFlag struct {
	mu      sync.Mutex
	stopped bool
}

func (f *preemptFlag) reset() {
	f.mu.Lock()
	f.stopped = false
	f.mu.Unlock()
}

func (f *preemptFlag) trigger() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *preemptFlag) isStopped() bool {
	f.mu.Lock()
	s := f.stopped
	f.mu.Unlock()
	return s
}

// ctxOrStopped reports whether ctx is done or the preempt flag is set —
// the single condition every mining inner loop polls each iteration.
func ctxOrStopped(ctx context.Context, f *preemptFlag) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return f.isStopped()
	}
}
