package core

// Node composes a Ledger, Wallet, Consensus, Transport, Mempool and Syncer
// into one full peer: it owns all state and serializes mutations to the
// ledger, mempool, peer table and sync state through the operations below.

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// computeReward is the constant per-block reward. There is no halving
// schedule.
const computeReward = 1

// maxFutureDrift bounds how far into the future a candidate block's
// timestamp may sit before validation rejects it.
const maxFutureDrift = 3600 // seconds

// ErrNotFound is returned by RemoveTransaction when no matching transaction
// is in the mempool.
var ErrNotFound = fmt.Errorf("core: transaction not found")

// Node is the full peer. Construct with NewNode, then call Start.
type Node struct {
	ledger    *Ledger
	wallet    *Wallet
	consensus Consensus
	mempool   *Mempool
	transport *Transport
	syncer    *Syncer
	seen      *seenCache

	selfAddr string

	miner   miningLoop
	log     *logrus.Entry
	nowFunc func() time.Time

	onBlockMined func()
}

// OnBlockMined registers a callback invoked after every block this node
// mines successfully — the health logger uses it to drive its mined-blocks
// counter without the node depending on HealthLogger directly.
func (n *Node) OnBlockMined(fn func()) {
	n.onBlockMined = fn
}

type miningLoop struct {
	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool
}

// NewNode wires the five subsystems together and registers RPC handlers on
// transport. It does not start listening or mining — call Start for that.
func NewNode(ledger *Ledger, wallet *Wallet, consensus Consensus, transport *Transport, selfAddr string, log *logrus.Logger) *Node {
	if log == nil {
		log = logrus.StandardLogger()
	}
	n := &Node{
		ledger:    ledger,
		wallet:    wallet,
		consensus: consensus,
		mempool:   NewMempool(),
		transport: transport,
		seen:      newSeenCache(),
		selfAddr:  selfAddr,
		log:       log.WithField("component", "node"),
		nowFunc:   time.Now,
	}
	n.syncer = NewSyncer(SyncerDeps{
		SelfHeight:    n.selfHeight,
		PeerAddresses: transport.PeerAddresses,
		Broadcast:     transport.Broadcast,
		Unicast:       transport.Unicast,
		HardReplace:   n.hardReplace,
		Splice:        n.splice,
		SnapshotChain: ledger.Blocks,
		RestoreChain:  n.restoreChain,
	}, log)
	n.registerHandlers()
	return n
}

// Start begins listening for inbound connections.
func (n *Node) Start() error {
	return n.transport.Listen()
}

func (n *Node) selfHeight() int64 {
	return n.ledger.Height()
}

// Ledger, Wallet, Mempool and Transport expose the owned subsystems for
// metrics, CLI and tests.
func (n *Node) Ledger() *Ledger       { return n.ledger }
func (n *Node) Wallet() *Wallet       { return n.wallet }
func (n *Node) Mempool() *Mempool     { return n.mempool }
func (n *Node) Transport() *Transport { return n.transport }
func (n *Node) SyncState() SyncState  { return n.syncer.State() }

func (n *Node) synced() bool {
	st := n.syncer.State()
	return st == SyncFullySynced || st == SyncAlreadySynced
}

// AddTransaction appends t to the mempool unconditionally.
func (n *Node) AddTransaction(t *Transaction) {
	n.mempool.Add(t)
}

// RemoveTransaction removes the first mempool match for t's hash.
func (n *Node) RemoveTransaction(t *Transaction) error {
	if n.mempool.Remove(t.HashTx()) {
		return nil
	}
	n.log.WithField("tx", t.HashTx()).Warn("remove_transaction: not found")
	return ErrNotFound
}

// ValidateTransaction checks t against the current ledger: both lists
// non-empty, no duplicate sender address, and every sender holding at least
// the amount it spends — no exemptions, or a gossiped block could mint
// funds from an unbacked sender. On a node that is not synced the answer is
// always false.
func (n *Node) ValidateTransaction(t *Transaction) bool {
	if !n.synced() {
		return false
	}
	if len(t.Senders) == 0 || len(t.Receivers) == 0 {
		return false
	}
	if t.hasDuplicateSender() {
		return false
	}
	for _, s := range t.Senders {
		if n.ledger.Balance(s.Address) < s.Amount {
			return false
		}
	}
	return true
}

// ValidateBlock checks b against the local tip: strictly increasing height,
// correct parent hash, a timestamp no more than an hour ahead, the fixed
// reward, the active consensus rule, and every carried transaction. On a
// node that is not synced the answer is always false.
func (n *Node) ValidateBlock(b *Block) bool {
	if !n.synced() {
		return false
	}
	if n.ledger.Len() > 0 {
		tip := n.ledger.Tip()
		if b.Height <= tip.Height {
			return false
		}
		if b.PreviousHash != tip.Hash() {
			return false
		}
	}
	if b.Timestamp > float64(n.nowFunc().Unix())+maxFutureDrift {
		return false
	}
	if b.Reward != computeReward {
		return false
	}
	if !n.consensusAccepts(b) {
		return false
	}
	for _, tx := range b.TransactionStore {
		if !n.ValidateTransaction(tx) {
			return false
		}
	}
	return true
}

func (n *Node) consensusAccepts(b *Block) bool {
	switch c := n.consensus.(type) {
	case *PuzzleConsensus:
		w, half, ok := puzzleParams(c.Difficulty())
		return ok && acceptsPuzzleHash(b.Hash(), w, half)
	case *StakeConsensus:
		// The claiming miner's balance before this block lands is its stake
		// weight; a validator reads it from its own ledger rather than the
		// miner's wallet.
		threshold := stakeThreshold(n.ledger.Balance(b.Miner), c.Difficulty())
		h := stakeAcceptanceHash(b.PreviousHash, b.Miner, b.Nonce)
		var hi big.Int
		hi.SetString(string(h), 16)
		return hi.Cmp(threshold) <= 0
	default:
		return false
	}
}

// StartMining starts the miner goroutine if not already running. For the
// stake variant a zero wallet balance makes this a logged no-op; on an
// unsynced node it is a silent no-op.
func (n *Node) StartMining() {
	if !n.synced() {
		return
	}
	if _, ok := n.consensus.(*StakeConsensus); ok && n.wallet.Balance <= 0 {
		n.log.Warn("start_mining: zero balance, refusing to start stake miner")
		return
	}
	if !n.miner.running.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	n.miner.cancel = cancel
	n.miner.done = make(chan struct{})
	go func() {
		defer close(n.miner.done)
		n.miningLoop(ctx)
	}()
}

// StopMining signals preemption and joins the miner goroutine. Once it
// returns, no further newBlock broadcasts originate from this node.
func (n *Node) StopMining() {
	if !n.miner.running.Load() {
		return
	}
	n.consensus.Stop()
	if n.miner.cancel != nil {
		n.miner.cancel()
	}
	if n.miner.done != nil {
		<-n.miner.done
	}
	n.miner.running.Store(false)
}

func (n *Node) miningLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		txs := n.mempool.Snapshot()
		tip := n.ledger.Tip()
		block := &Block{
			Timestamp:    float64(n.nowFunc().Unix()),
			Height:       tip.Height + 1,
			PreviousHash: tip.Hash(),
			Miner:        n.wallet.Address(),
			Reward:       computeReward,
			Nonce:        0,
		}
		block.TransactionStore = txs

		outcome, err := n.consensus.Mine(ctx, block)
		if err != nil {
			n.log.WithError(err).Warn("mining stopped")
			n.miner.running.Store(false)
			return
		}
		switch outcome {
		case Found:
			n.seen.seen(block.Hash())
			// The whole mempool is dropped here even though peers may still
			// reject this block, losing those transactions on that branch.
			n.mempool.Clear()
			n.ledger.Append(block)
			n.wallet.Balance = n.ledger.Balance(n.wallet.Address())
			n.transport.Broadcast(VerbNewBlock, block)
			n.log.WithField("height", block.Height).Info("mined block")
			if n.onBlockMined != nil {
				n.onBlockMined()
			}
		case Preempted:
			if ctx.Err() != nil {
				return
			}
			// preempted by a competing block; loop to build a fresh candidate
		}
	}
}

// Sync runs the three-phase protocol. autostart, when true, triggers
// StartMining immediately after a successful sync.
func (n *Node) Sync(hard, autostart bool) SyncState {
	ctx, cancel := context.WithTimeout(context.Background(), 2*attemptTimeout)
	defer cancel()
	st := n.syncer.Run(ctx, hard)
	if autostart && (st == SyncFullySynced || st == SyncAlreadySynced) {
		n.StartMining()
	}
	return st
}

func (n *Node) hardReplace() {
	genesis := NewGenesisBlock(n.consensus.Kind(), n.wallet.Address(), nil, float64(n.nowFunc().Unix()))
	n.ledger.Replace([]*Block{genesis})
}

func (n *Node) restoreChain(blocks []*Block) {
	n.ledger.Replace(blocks)
	n.wallet.Balance = n.ledger.Balance(n.wallet.Address())
}

func (n *Node) splice(blocks []*Block) error {
	for _, b := range blocks {
		if b.Height == 0 {
			continue
		}
		n.ledger.Append(b)
	}
	n.wallet.Balance = n.ledger.Balance(n.wallet.Address())
	return nil
}

// Shutdown stops mining, then broadcasts end and closes the listener and
// every peer connection.
func (n *Node) Shutdown() error {
	n.StopMining()
	return n.transport.Shutdown()
}

// registerHandlers wires every RPC verb to this node's state. Unknown verbs
// are already silently dropped by Transport itself.
func (n *Node) registerHandlers() {
	n.transport.OnVerb(VerbConnect, func(from string, body []byte) {
		var cp ConnectPayload
		if err := json.Unmarshal(body, &cp); err != nil {
			return
		}
		if cp.ServerAddress == "" || cp.ServerAddress == n.selfAddr {
			return
		}
		// Back-dial only when no link exists yet; an unconditional dial here
		// would bounce connect messages between two nodes forever.
		if n.transport.HasPeer(cp.ServerAddress) {
			return
		}
		if err := n.transport.Dial(cp.ServerAddress, n.selfAddr, n.transport.PeerAddresses()); err != nil {
			n.log.WithError(err).Warn("connect: back-dial failed")
		}
	})

	n.transport.OnVerb(VerbNewBlock, func(from string, body []byte) {
		b := &Block{}
		if err := json.Unmarshal(body, b); err != nil {
			n.log.WithError(err).Warn("newBlock: decode failed")
			return
		}
		if n.seen.seen(b.Hash()) {
			return
		}
		if !n.ValidateBlock(b) {
			return
		}
		n.consensus.Stop()
		n.ledger.Append(b)
		n.wallet.Balance = n.ledger.Balance(n.wallet.Address())
	})

	n.transport.OnVerb(VerbGetLastBlock, func(from string, body []byte) {
		var p GetLastBlockPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return
		}
		selfHeight := n.selfHeight()
		if selfHeight >= p.LatestBlockHeight {
			_ = n.transport.Unicast(from, VerbListLastBlocks, ListLastBlocksPayload{LastBlockHeight: selfHeight})
		}
	})

	n.transport.OnVerb(VerbListLastBlocks, func(from string, body []byte) {
		var p ListLastBlocksPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return
		}
		n.syncer.OnListLastBlocks(from, p.LastBlockHeight)
	})

	n.transport.OnVerb(VerbGetInventory, func(from string, body []byte) {
		var p GetInventoryPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return
		}
		var blocks []*Block
		for h := p.FromHeight + 1; h <= p.ToHeight; h++ {
			if b, ok := n.ledger.BlockAt(uint64(h)); ok {
				blocks = append(blocks, b)
			}
		}
		_ = n.transport.Unicast(from, VerbUpdateInventory, blocks)
	})

	n.transport.OnVerb(VerbUpdateInventory, func(from string, body []byte) {
		var blocks []*Block
		if err := json.Unmarshal(body, &blocks); err != nil {
			n.log.WithError(err).Warn("updateInventory: decode failed")
			return
		}
		n.syncer.ApplyInventory(from, blocks)
	})
}
