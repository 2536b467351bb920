package core

// Ledger is the in-memory, append-only chain of blocks at indices equal to
// their height. There is no account or UTXO database behind it: balances
// are computed by full replay of the chain.

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Ledger holds the canonical block sequence for one node. The zero value is
// not usable; construct with NewLedger.
type Ledger struct {
	mu     sync.RWMutex
	blocks []*Block

	fs  afero.Fs
	log *logrus.Entry
}

// NewLedger returns an empty ledger with no genesis block. Callers append a
// genesis via Append before calling Tip, Height or Balance.
func NewLedger(fs afero.Fs, log *logrus.Logger) *Ledger {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Ledger{fs: fs, log: log.WithField("component", "ledger")}
}

// Tip returns the highest-height block. It panics on an empty ledger;
// callers must install a genesis first.
func (l *Ledger) Tip() *Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.blocks) == 0 {
		panic("ledger: tip called on empty ledger")
	}
	return l.blocks[len(l.blocks)-1]
}

// Height returns the tip's height, or -1 on an empty ledger (used by callers
// that need to distinguish "no genesis yet" without risking Tip's panic).
func (l *Ledger) Height() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.blocks) == 0 {
		return -1
	}
	return int64(l.blocks[len(l.blocks)-1].Height)
}

// Len returns the number of blocks currently held.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.blocks)
}

// BlockAt returns the block at the given height, or ok=false if out of
// range.
func (l *Ledger) BlockAt(height uint64) (*Block, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if height >= uint64(len(l.blocks)) {
		return nil, false
	}
	return l.blocks[height], true
}

// Blocks returns a snapshot copy of the full chain, in height order.
func (l *Ledger) Blocks() []*Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Block, len(l.blocks))
	copy(out, l.blocks)
	return out
}

// Append adds block unconditionally at the next index. Validation — height
// contiguity, previousHash linkage, consensus acceptance — is the caller's
// responsibility.
func (l *Ledger) Append(block *Block) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blocks = append(l.blocks, block)
	l.log.WithField("height", block.Height).Debug("block appended")
}

// Replace discards the current chain and installs blocks wholesale — the
// hard-sync path.
func (l *Ledger) Replace(blocks []*Block) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blocks = blocks
	l.log.WithField("height", len(blocks)-1).Info("ledger replaced (hard sync)")
}

// Balance computes Σ rewards mined by addr + Σ amounts received by addr −
// Σ amounts spent by addr, over the full chain. Negative results are
// returned as-is, not clamped — the caller must validate before
// constructing a transaction that would drive a balance negative.
func (l *Ledger) Balance(addr Address) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var bal int64
	for _, b := range l.blocks {
		if b.Miner == addr {
			bal += b.Reward
		}
		for _, tx := range b.TransactionStore {
			for _, s := range tx.Senders {
				if s.Address == addr {
					bal -= s.Amount
				}
			}
			for _, r := range tx.Receivers {
				if r.Address == addr {
					bal += r.Amount
				}
			}
		}
	}
	return bal
}

// snapshotFile is the on-disk shape: savedTime, lastBlockHeight, and blocks
// re-encoded as their own canonical JSON strings (mirroring
// TransactionStore's double-encoding).
type snapshotFile struct {
	SavedTime       float64  `json:"savedTime"`
	LastBlockHeight int64    `json:"lastBlockHeight"`
	Blocks          []string `json:"blocks"`
}

func readSnapshotFile(fs afero.Fs, path string) (*snapshotFile, error) {
	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}
	if len(raw) >= 2 && raw[0] == 0x1f && raw[1] == 0x8b {
		gz, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("ledger: gzip snapshot: %w", err)
		}
		defer gz.Close()
		raw, err = io.ReadAll(gz)
		if err != nil {
			return nil, fmt.Errorf("ledger: gzip snapshot: %w", err)
		}
	}
	var sf snapshotFile
	if err := json.Unmarshal(raw, &sf); err != nil {
		return nil, fmt.Errorf("ledger: decode snapshot: %w", err)
	}
	return &sf, nil
}

// SnapshotSave writes `{ savedTime, lastBlockHeight, blocks }` to path.
// If overwrite is false and an existing file already encodes a
// lastBlockHeight at or above the current tip, the write is refused and
// false is returned — the conservative "longest chain wins" rule. An
// accepted save keeps the existing file's block strings as-is and appends
// only the in-memory blocks above the file's recorded tip, so a save never
// rewrites history it already persisted; overwrite replaces the file with
// the full in-memory chain. The file is rewritten atomically via a
// temp-file rename.
func (l *Ledger) SnapshotSave(path string, overwrite bool, now float64) (bool, error) {
	l.mu.RLock()
	cur := make([]*Block, len(l.blocks))
	copy(cur, l.blocks)
	l.mu.RUnlock()

	curHeight := int64(len(cur)) - 1

	// -1 keeps the genesis included when there is no file to merge from.
	lastSavedHeight := int64(-1)
	sf := snapshotFile{
		SavedTime:       now,
		LastBlockHeight: curHeight,
	}
	if !overwrite {
		if existing, err := readSnapshotFile(l.fs, path); err == nil {
			if existing.LastBlockHeight >= curHeight {
				return false, nil
			}
			lastSavedHeight = existing.LastBlockHeight
			sf.Blocks = append(sf.Blocks, existing.Blocks...)
		}
	}

	for i, b := range cur {
		if int64(b.Height) <= lastSavedHeight {
			continue
		}
		raw, err := json.Marshal(b)
		if err != nil {
			return false, fmt.Errorf("ledger: marshal block %d: %w", i, err)
		}
		sf.Blocks = append(sf.Blocks, string(raw))
	}

	raw, err := json.Marshal(sf)
	if err != nil {
		return false, fmt.Errorf("ledger: marshal snapshot: %w", err)
	}
	tmp := path + ".tmp"
	if err := afero.WriteFile(l.fs, tmp, raw, 0o600); err != nil {
		return false, fmt.Errorf("ledger: write snapshot: %w", err)
	}
	if err := l.fs.Rename(tmp, path); err != nil {
		return false, fmt.Errorf("ledger: rename snapshot: %w", err)
	}
	l.log.WithField("path", path).Info("ledger snapshot saved")
	return true, nil
}

// SnapshotLoad mirrors SnapshotSave's conservative rule: refuses when the
// file's recorded tip is not strictly longer than the current ledger's,
// unless overwrite is true, in which case it replaces the entire in-memory
// ledger with the file's contents.
func (l *Ledger) SnapshotLoad(path string, overwrite bool) (bool, error) {
	sf, err := readSnapshotFile(l.fs, path)
	if err != nil {
		return false, fmt.Errorf("ledger: read snapshot: %w", err)
	}

	l.mu.RLock()
	curHeight := int64(len(l.blocks)) - 1
	l.mu.RUnlock()

	if !overwrite && sf.LastBlockHeight <= curHeight {
		return false, nil
	}

	blocks := make([]*Block, len(sf.Blocks))
	for i, s := range sf.Blocks {
		b := &Block{}
		if err := json.Unmarshal([]byte(s), b); err != nil {
			return false, fmt.Errorf("ledger: decode block %d: %w", i, err)
		}
		blocks[i] = b
	}

	l.mu.Lock()
	l.blocks = blocks
	l.mu.Unlock()
	l.log.WithField("path", path).Info("ledger snapshot loaded")
	return true, nil
}
