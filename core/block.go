package core

import (
	"encoding/json"
	"fmt"
)

// ConsensusKind tags which consensus variant produced (and must validate) a
// block.
type ConsensusKind bool

const (
	// ConsensusPuzzle is the computational-puzzle (PoW-like) variant.
	ConsensusPuzzle ConsensusKind = false
	// ConsensusStake is the stake-weighted (PoS-like) variant.
	ConsensusStake ConsensusKind = true
)

func (k ConsensusKind) String() string {
	if k == ConsensusStake {
		return "stake"
	}
	return "puzzle"
}

// GenesisPreviousHash is the sentinel previousHash value genesis blocks
// carry.
const GenesisPreviousHash Hash = "0"

// Block is an append-only ledger entry. Block equality is hash equality,
// not field equality — two blocks with the same fields always hash the
// same, so comparing hashes is sufficient and is what Ledger and the
// validation pipeline do throughout.
type Block struct {
	Timestamp         float64
	TransactionStore  TransactionStore
	Height            uint64
	ConsensusAlgorithm ConsensusKind
	PreviousHash      Hash
	Miner             Address
	Reward            int64
	Nonce             uint64
}

// NewGenesisBlock builds the height-0 block a fresh ledger starts from. The
// genesis's own consensus tag is whatever the caller supplies — a genesis
// is installed, never mined.
func NewGenesisBlock(kind ConsensusKind, miner Address, txs TransactionStore, timestamp float64) *Block {
	return &Block{
		Timestamp:          timestamp,
		TransactionStore:   txs,
		Height:             0,
		ConsensusAlgorithm: kind,
		PreviousHash:       GenesisPreviousHash,
		Miner:              miner,
		Reward:             0,
		Nonce:              0,
	}
}

// Hash computes the block's canonical SHA3-256 hash: the key-sorted textual
// serialization of every field, including the nonce that mining varies.
// This is always a fresh computation, never cached, so a caller that
// mutates Nonce between calls (as consensus.Mine does) never observes a
// stale hash.
func (b *Block) Hash() Hash {
	raw, err := json.Marshal(b)
	if err != nil {
		panic("core: block marshal: " + err.Error())
	}
	return hashBytes(raw)
}

// MarshalJSON implements json.Marshaler with the canonical key-sorted form;
// the transaction store is double-encoded as an array of stringified
// transaction JSONs.
func (b Block) MarshalJSON() ([]byte, error) {
	return canonicalObject(map[string]any{
		"timestamp":          b.Timestamp,
		"transactionStore":   b.TransactionStore.canonicalStrings(),
		"height":             b.Height,
		"consensusAlgorithm": bool(b.ConsensusAlgorithm),
		"previousHash":       string(b.PreviousHash),
		"miner":              string(b.Miner),
		"reward":             b.Reward,
		"nonce":              b.Nonce,
	}), nil
}

// UnmarshalJSON implements json.Unmarshaler, the inverse of MarshalJSON.
func (b *Block) UnmarshalJSON(raw []byte) error {
	var wire struct {
		Timestamp          float64  `json:"timestamp"`
		TransactionStore   []string `json:"transactionStore"`
		Height             uint64   `json:"height"`
		ConsensusAlgorithm bool     `json:"consensusAlgorithm"`
		PreviousHash       string   `json:"previousHash"`
		Miner              string   `json:"miner"`
		Reward             int64    `json:"reward"`
		Nonce              uint64   `json:"nonce"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return fmt.Errorf("block: %w", err)
	}
	txs, err := transactionStoreFromStrings(wire.TransactionStore)
	if err != nil {
		return fmt.Errorf("block: %w", err)
	}
	b.Timestamp = wire.Timestamp
	b.TransactionStore = txs
	b.Height = wire.Height
	b.ConsensusAlgorithm = ConsensusKind(wire.ConsensusAlgorithm)
	b.PreviousHash = Hash(wire.PreviousHash)
	b.Miner = Address(wire.Miner)
	b.Reward = wire.Reward
	b.Nonce = wire.Nonce
	return nil
}
