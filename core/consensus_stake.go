package core

// StakeConsensus is the stake-weighted variant: a candidate's acceptance
// hash is derived from the previous block hash, the miner's address and a
// time-based nonce, and is accepted once it falls under a threshold that
// scales linearly with the miner's balance and inversely with the
// difficulty multiplier.

import (
	"context"
	"encoding/binary"
	"math/big"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// StakeConsensus mines by repeatedly deriving an acceptance hash from a
// time-derived nonce until the hash falls under the current threshold, or it
// learns the backing wallet holds no stake.
type StakeConsensus struct {
	preempt preemptFlag
	wallet  *Wallet

	mu   sync.Mutex
	diff float64

	log *logrus.Entry
}

// NewStakeConsensus constructs a stake-variant miner backed by wallet's
// balance. diff must be positive; it is a multiplier that narrows
// (diff > 1) or widens (diff < 1) the acceptance threshold.
func NewStakeConsensus(wallet *Wallet, diff float64, log *logrus.Logger) *StakeConsensus {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &StakeConsensus{wallet: wallet, diff: diff, log: log.WithField("consensus", "stake")}
}

func (c *StakeConsensus) Kind() ConsensusKind { return ConsensusStake }

func (c *StakeConsensus) Difficulty() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.diff
}

func (c *StakeConsensus) SetDifficulty(d float64) {
	c.mu.Lock()
	c.diff = d
	c.mu.Unlock()
}

func (c *StakeConsensus) Stop() {
	c.preempt.trigger()
}

// stakeAcceptanceHash derives the candidate hash compared against the
// threshold: SHA3-256 of previousHash || minerAddress || nonce (big-endian
// uint64).
func stakeAcceptanceHash(previous Hash, miner Address, nonce uint64) Hash {
	buf := make([]byte, 0, len(previous)+len(miner)+8)
	buf = append(buf, []byte(previous)...)
	buf = append(buf, []byte(miner)...)
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	buf = append(buf, n[:]...)
	return hashBytes(buf)
}

// stakeThreshold computes 2^256 * balance / difficulty as a big.Int bound:
// an attempt is accepted when its hash, read as a 256-bit integer, is at or
// under this value. A balance at or above difficulty makes the threshold
// exceed the largest possible 256-bit hash, i.e. guaranteed acceptance on
// the next attempt; high-precision big.Float arithmetic avoids losing that
// scale to float64 rounding.
func stakeThreshold(balance int64, difficulty float64) *big.Int {
	if difficulty <= 0 {
		difficulty = 1
	}
	const prec = 300 // well above 256 bits of mantissa headroom
	maxHash := new(big.Float).SetPrec(prec).SetInt(new(big.Int).Lsh(big.NewInt(1), 256))
	bal := new(big.Float).SetPrec(prec).SetInt64(balance)
	diff := new(big.Float).SetPrec(prec).SetFloat64(difficulty)
	ratio := new(big.Float).SetPrec(prec).Quo(bal, diff)
	product := new(big.Float).SetPrec(prec).Mul(maxHash, ratio)

	threshold := new(big.Int)
	if product.Sign() <= 0 {
		return threshold // zero: no hash (hash >= 0) is ever accepted
	}
	product.Int(threshold)
	return threshold
}

// stakeNonce returns the current clock reading in 100ns ticks. Successive
// attempts get distinct nonces without any shared counter state.
func stakeNonce() uint64 {
	return uint64(time.Now().UnixNano() / 100)
}

// Mine derives acceptance hashes from a time-based nonce until one falls
// under the current threshold, ctx is cancelled, or Stop is called. It
// returns ErrInsufficientStake immediately if the backing wallet's balance
// is zero — no threshold would ever accept, so spinning is pointless.
func (c *StakeConsensus) Mine(ctx context.Context, block *Block) (Outcome, error) {
	c.preempt.reset()

	if c.wallet.Balance <= 0 {
		return Preempted, ErrInsufficientStake
	}

	threshold := stakeThreshold(c.wallet.Balance, c.Difficulty())
	block.ConsensusAlgorithm = ConsensusStake
	block.Miner = c.wallet.Address()

	for {
		if ctxOrStopped(ctx, &c.preempt) {
			return Preempted, nil
		}
		nonce := stakeNonce()
		h := stakeAcceptanceHash(block.PreviousHash, block.Miner, nonce)
		var hi big.Int
		hi.SetString(string(h), 16)
		if hi.Cmp(threshold) <= 0 {
			block.Nonce = nonce
			return Found, nil
		}
	}
}
