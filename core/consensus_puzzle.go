package core

// PuzzleConsensus is the computational-puzzle variant: difficulty D splits
// into an integer prefix-length W and a fractional half-step flag F, and a
// candidate nonce is accepted once the block hash's first W hex characters
// are all "0" (and, when F is 0.5, the following hex character is "0" or
// "1").

import (
	"context"
	"math"
	"sync"

	"github.com/sirupsen/logrus"
)

// PuzzleConsensus mines by incrementing Block.Nonce from zero until the
// acceptance rule at the current Difficulty is satisfied.
type PuzzleConsensus struct {
	preempt preemptFlag

	mu   sync.Mutex
	diff float64

	log *logrus.Entry
}

// NewPuzzleConsensus constructs a puzzle-variant miner starting at the given
// difficulty. diff's fractional part must be 0 or 0.5; SetDifficulty accepts
// the same constraint and Mine returns ErrInvalidDifficulty if it is ever
// violated.
func NewPuzzleConsensus(diff float64, log *logrus.Logger) *PuzzleConsensus {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &PuzzleConsensus{diff: diff, log: log.WithField("consensus", "puzzle")}
}

func (c *PuzzleConsensus) Kind() ConsensusKind { return ConsensusPuzzle }

func (c *PuzzleConsensus) Difficulty() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.diff
}

func (c *PuzzleConsensus) SetDifficulty(d float64) {
	c.mu.Lock()
	c.diff = d
	c.mu.Unlock()
}

func (c *PuzzleConsensus) Stop() {
	c.preempt.trigger()
}

// puzzleParams splits a difficulty into its integer prefix length W and
// fractional flag F. Only F == 0 or F == 0.5 are valid.
func puzzleParams(diff float64) (w int, halfByte bool, ok bool) {
	if diff < 0 {
		return 0, false, false
	}
	whole := math.Floor(diff)
	frac := diff - whole
	switch {
	case frac == 0:
		return int(whole), false, true
	case frac == 0.5:
		return int(whole), true, true
	default:
		return 0, false, false
	}
}

// acceptsPuzzleHash reports whether h satisfies the W/halfByte acceptance
// rule: the first w hex characters must be "0", and when halfByte is set
// the (w+1)-th hex character must be "0" or "1".
func acceptsPuzzleHash(h Hash, w int, halfByte bool) bool {
	s := string(h)
	if len(s) < w {
		return false
	}
	for i := 0; i < w; i++ {
		if s[i] != '0' {
			return false
		}
	}
	if !halfByte {
		return true
	}
	if len(s) <= w {
		return false
	}
	c := s[w]
	return c == '0' || c == '1'
}

// Mine increments block.Nonce from zero, checking the acceptance rule each
// iteration, until it finds a solution, ctx is cancelled, or Stop is called.
// The preempt flag is reset at entry so a PuzzleConsensus can be reused
// across consecutive blocks after a prior Stop.
func (c *PuzzleConsensus) Mine(ctx context.Context, block *Block) (Outcome, error) {
	c.preempt.reset()

	w, halfByte, ok := puzzleParams(c.Difficulty())
	if !ok {
		return Preempted, ErrInvalidDifficulty
	}

	block.ConsensusAlgorithm = ConsensusPuzzle
	for nonce := uint64(0); ; nonce++ {
		if ctxOrStopped(ctx, &c.preempt) {
			return Preempted, nil
		}
		block.Nonce = nonce
		if acceptsPuzzleHash(block.Hash(), w, halfByte) {
			return Found, nil
		}
	}
}
