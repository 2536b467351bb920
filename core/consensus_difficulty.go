package core

// ConsensusStatus exposes high level consensus metrics: the active kind,
// current difficulty, and tip height. The health logger reads this to
// report node status without reaching into Consensus/Ledger internals
// directly.
type ConsensusStatus struct {
	Kind        ConsensusKind
	Difficulty  float64
	BlockHeight uint64
}

// Status snapshots the node's consensus kind, difficulty and tip height.
func (n *Node) Status() ConsensusStatus {
	st := ConsensusStatus{
		Kind:       n.consensus.Kind(),
		Difficulty: n.consensus.Difficulty(),
	}
	if n.ledger.Height() >= 0 {
		st.BlockHeight = uint64(n.ledger.Height())
	}
	return st
}
