package core

// Mempool is the node's pending-transaction buffer. Transactions enter via
// AddTransaction (local API / RPC) and leave either individually via
// RemoveTransaction or in bulk when the miner snapshots and clears on a
// successful block. An ordered slice is enough — there is no fee-priority
// ordering.
import "sync"

type Mempool struct {
	mu  sync.Mutex
	txs []*Transaction
}

// NewMempool returns an empty mempool.
func NewMempool() *Mempool {
	return &Mempool{}
}

// Add appends tx to the pool.
func (m *Mempool) Add(tx *Transaction) {
	m.mu.Lock()
	m.txs = append(m.txs, tx)
	m.mu.Unlock()
}

// Remove deletes the first transaction whose hash matches h, reporting
// whether one was found.
func (m *Mempool) Remove(h Hash) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, tx := range m.txs {
		if tx.HashTx() == h {
			m.txs = append(m.txs[:i], m.txs[i+1:]...)
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the current pool contents, in insertion order,
// for the miner to build a candidate block from without racing future Adds.
func (m *Mempool) Snapshot() TransactionStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(TransactionStore, len(m.txs))
	copy(out, m.txs)
	return out
}

// Clear empties the pool — called after a successful local mine.
func (m *Mempool) Clear() {
	m.mu.Lock()
	m.txs = nil
	m.mu.Unlock()
}

// Len reports the current pool size.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.txs)
}
