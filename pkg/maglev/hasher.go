package maglev

import (
	"cmp"

	"github.com/Voskan/maglev-balancer/internal/permute"
	"github.com/Voskan/maglev-balancer/internal/slotarray"
)

// MaglevHasher is one immutable generation of the Maglev slot table: a
// frozen node manager and the slot array built over it. A Balancer never
// mutates a MaglevHasher after Build returns; a rebuild always constructs a
// brand new one and hot-swaps it in.
type MaglevHasher[ID cmp.Ordered] struct {
	nm    *NodeManager[ID]
	slots *slotarray.Array
}

func newMaglevHasher[ID cmp.Ordered](nm *NodeManager[ID], slotSize uint32) (*MaglevHasher[ID], error) {
	arr, err := slotarray.New(slotSize)
	if err != nil {
		return nil, err
	}
	return &MaglevHasher[ID]{nm: nm, slots: arr}, nil
}

// NodeManager returns the frozen node sequence this generation was built
// from.
func (h *MaglevHasher[ID]) NodeManager() *NodeManager[ID] { return h.nm }

// NodeSize returns the number of nodes in this generation.
func (h *MaglevHasher[ID]) NodeSize() int { return h.nm.Size() }

// NodeAt returns the node at the given index in this generation.
func (h *MaglevHasher[ID]) NodeAt(idx int) *Node[ID] { return h.nm.NodeAt(idx) }

// SlotSize returns the slot table's prime size M.
func (h *MaglevHasher[ID]) SlotSize() int { return h.slots.Len() }

// Build runs the Maglev slot assignment: every node offers slots from its
// own permutation in round-robin until the table is full. In weighted mode
// a node draws an independent acceptance sample before taking its next
// offered slot; a node with weight 0 never accepts.
func (h *MaglevHasher[ID]) Build() error {
	if !h.nm.Ready() {
		if err := h.nm.ReadyGo(); err != nil {
			return err
		}
	}
	n := h.nm.Size()
	if n == 0 {
		return ErrEmptyNodeSet
	}

	h.slots.Reset()
	gens := make([]permute.WeightedGenerator, n)
	for i, node := range h.nm.nodes {
		gens[i] = permute.NewWeighted(uint32(h.slots.Len()), node.idHash)
		node.slotCnt.Store(0)
	}

	weighted := h.nm.Weighted()
	total := h.slots.Len()
	distributed := 0
	nodeIdx := 0
	for distributed < total {
		node := h.nm.nodes[nodeIdx]
		accept := true
		if weighted {
			switch {
			case node.weight == 0:
				accept = false
			default:
				draw := gens[nodeIdx].Rand()
				accept = draw*uint64(h.nm.LimitedMaxWeight()) <= uint64(node.weight)*permute.RandMax
			}
		}
		if accept {
			for {
				slot := uint64(gens[nodeIdx].Next())
				if !h.slots.IsAssigned(slot) {
					h.slots.Set(slot, int32(nodeIdx))
					node.slotCnt.Add(1)
					distributed++
					break
				}
			}
		}
		nodeIdx++
		if nodeIdx >= n {
			nodeIdx = 0
		}
	}
	return nil
}

// PickSlot looks up the node occupying a specific slot table index.
func (h *MaglevHasher[ID]) PickSlot(slotIdx uint64) (int, *Node[ID]) {
	idx := h.slots.Get(slotIdx % uint64(h.slots.Len()))
	return int(idx), h.nm.nodes[idx]
}

// PickDirect looks up the node a hashed key maps to with no fallback
// rehashing applied — the raw Maglev table lookup.
func (h *MaglevHasher[ID]) PickDirect(hashedKey uint64) (int, *Node[ID]) {
	return h.PickSlot(hashedKey % uint64(h.slots.Len()))
}
