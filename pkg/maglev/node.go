package maglev

import (
	"cmp"
	"fmt"
	"slices"
	"sync/atomic"
)

// NodeSpec is the caller-supplied description of a backend: its identity and
// its share of traffic. Weight is ignored entirely when no node in the set
// carries a non-zero weight, in which case the whole set builds unweighted.
type NodeSpec[ID cmp.Ordered] struct {
	ID     ID
	Weight uint32
}

// Node is one backend inside a finalized (or finalizing) node manager. It is
// safe to read from any goroutine once published; SlotCount and Stats are
// the only fields any goroutine besides the builder ever mutates, and both
// are internally synchronized.
type Node[ID cmp.Ordered] struct {
	id     ID
	idHash uint64
	weight uint32

	slotCnt atomic.Int32
	stats   *Stats
}

// ID returns the node's identity.
func (n *Node[ID]) ID() ID { return n.id }

// Weight returns the node's configured weight (0 for an unweighted set).
func (n *Node[ID]) Weight() uint32 { return n.weight }

// SlotCount returns the number of slot-table entries currently assigned to
// this node, refreshed on every Build.
func (n *Node[ID]) SlotCount() int { return int(n.slotCnt.Load()) }

// Stats returns the node's load/server statistics.
func (n *Node[ID]) Stats() *Stats { return n.stats }

func (n *Node[ID]) String() string { return fmt.Sprintf("Node(%v, w=%d)", n.id, n.weight) }

// NodeManager owns the sorted node sequence a single maglev generation is
// built over. It is write-once: AddNode accumulates candidates, ReadyGo
// freezes the sequence (sorting it by id, the original's tie-break for
// stable rank ordering), and nothing after that may resize it. A rebuild
// with a different node set always starts a fresh NodeManager rather than
// mutating this one in place.
type NodeManager[ID cmp.Ordered] struct {
	nodes []*Node[ID]
	byID  map[ID]int

	ready        bool
	weighted     bool
	anyWeightSet bool

	maxWeight        uint32
	weightSum        uint32
	avgWeight        float64
	limitedMaxWeight uint32
	maxAvgRateLimit  float64

	statsMode  StatsMode
	windowSize int
	hash64     func(ID) uint64
}

func newNodeManager[ID cmp.Ordered](statsMode StatsMode, windowSize int, maxAvgRateLimit float64, hash64 func(ID) uint64) *NodeManager[ID] {
	return &NodeManager[ID]{
		byID:            make(map[ID]int),
		statsMode:       statsMode,
		windowSize:      windowSize,
		maxAvgRateLimit: maxAvgRateLimit,
		hash64:          hash64,
	}
}

// AddNode appends a candidate node. It fails once the manager is finalized
// or the id is a repeat of one already added.
func (nm *NodeManager[ID]) AddNode(spec NodeSpec[ID]) error {
	if nm.ready {
		return ErrAlreadyReady
	}
	if _, exists := nm.byID[spec.ID]; exists {
		return fmt.Errorf("%w: %v", ErrDuplicateNodeID, spec.ID)
	}
	n := &Node[ID]{
		id:     spec.ID,
		idHash: nm.hash64(spec.ID),
		weight: spec.Weight,
		stats:  newStats(nm.statsMode, nm.windowSize),
	}
	nm.byID[spec.ID] = len(nm.nodes)
	nm.nodes = append(nm.nodes, n)
	if spec.Weight > 0 {
		nm.anyWeightSet = true
	}
	return nil
}

// ReadyGo freezes the node sequence: sorts it by id, rebuilds the identity
// index, and computes the weight statistics the weighted build variant
// needs. It is idempotent.
func (nm *NodeManager[ID]) ReadyGo() error {
	if nm.ready {
		return nil
	}
	if len(nm.nodes) == 0 {
		return ErrEmptyNodeSet
	}
	slices.SortFunc(nm.nodes, func(a, b *Node[ID]) int { return cmp.Compare(a.id, b.id) })
	nm.byID = make(map[ID]int, len(nm.nodes))
	for i, n := range nm.nodes {
		nm.byID[n.id] = i
	}
	nm.weighted = nm.anyWeightSet
	if err := nm.initWeight(); err != nil {
		return err
	}
	nm.ready = true
	return nil
}

func (nm *NodeManager[ID]) initWeight() error {
	var sum, max uint32
	for _, n := range nm.nodes {
		sum += n.weight
		if n.weight > max {
			max = n.weight
		}
	}
	nm.weightSum = sum
	nm.maxWeight = max
	nm.avgWeight = float64(sum) / float64(len(nm.nodes))
	nm.limitedMaxWeight = max
	if nm.maxAvgRateLimit > 0 {
		limit := uint32(nm.maxAvgRateLimit * nm.avgWeight)
		if nm.limitedMaxWeight > limit {
			nm.limitedMaxWeight = limit
		}
	}
	if nm.weighted && nm.weightSum == 0 {
		return ErrZeroWeightSum
	}
	return nil
}

// Ready reports whether ReadyGo has run.
func (nm *NodeManager[ID]) Ready() bool { return nm.ready }

// Weighted reports whether the build used the weighted acceptance test.
func (nm *NodeManager[ID]) Weighted() bool { return nm.weighted }

// Size returns the node count.
func (nm *NodeManager[ID]) Size() int { return len(nm.nodes) }

// NodeAt returns the node at the given zero-based rank-stable index.
func (nm *NodeManager[ID]) NodeAt(idx int) *Node[ID] { return nm.nodes[idx] }

// Nodes returns the live node sequence. Callers must not mutate the slice.
func (nm *NodeManager[ID]) Nodes() []*Node[ID] { return nm.nodes }

// NodesCopy returns a fresh copy of the node sequence, safe to sort in
// place without disturbing the id-ordered original.
func (nm *NodeManager[ID]) NodesCopy() []*Node[ID] {
	cp := make([]*Node[ID], len(nm.nodes))
	copy(cp, nm.nodes)
	return cp
}

// NodeByID looks a node up by identity.
func (nm *NodeManager[ID]) NodeByID(id ID) (*Node[ID], bool) {
	idx, ok := nm.byID[id]
	if !ok {
		return nil, false
	}
	return nm.nodes[idx], true
}

// LimitedMaxWeight returns the weight cap the weighted build's acceptance
// test compares every draw against.
func (nm *NodeManager[ID]) LimitedMaxWeight() uint32 { return nm.limitedMaxWeight }

// MaxWeight returns the largest configured weight.
func (nm *NodeManager[ID]) MaxWeight() uint32 { return nm.maxWeight }

// WeightSum returns the sum of configured weights.
func (nm *NodeManager[ID]) WeightSum() uint32 { return nm.weightSum }

// AvgWeight returns the mean configured weight.
func (nm *NodeManager[ID]) AvgWeight() float64 { return nm.avgWeight }
