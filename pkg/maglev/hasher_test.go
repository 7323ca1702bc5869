package maglev

import "testing"

func buildHasher(t *testing.T, specs []NodeSpec[int], slotSize uint32) *MaglevHasher[int] {
	t.Helper()
	nm := newNodeManager[int](ModeServerStats, 10, 0, DefaultHash64[int])
	for _, s := range specs {
		if err := nm.AddNode(s); err != nil {
			t.Fatalf("AddNode(%v): %v", s, err)
		}
	}
	h, err := newMaglevHasher[int](nm, slotSize)
	if err != nil {
		t.Fatalf("newMaglevHasher: %v", err)
	}
	if err := h.Build(); err != nil {
		t.Fatalf("Build: %v", err)
	}
	return h
}

// Scenario 1: small consistency, M=7, N=3, uniform weight.
func TestSmallConsistency(t *testing.T) {
	h := buildHasher(t, []NodeSpec[int]{{ID: 0, Weight: 1}, {ID: 1, Weight: 1}, {ID: 2, Weight: 1}}, 7)

	total := 0
	for i := 0; i < 3; i++ {
		total += h.NodeAt(i).SlotCount()
	}
	if total != 7 {
		t.Fatalf("total slot count = %d, want 7", total)
	}

	for s := uint64(0); s < 7; s++ {
		idx, _ := h.PickSlot(s)
		if idx < 0 || idx >= 3 {
			t.Fatalf("slot %d owner %d out of range", s, idx)
		}
	}
}

// I1: slot coverage — every node's slot count sums to M and every slot
// holds a valid node index.
func TestSlotCoverage(t *testing.T) {
	specs := make([]NodeSpec[int], 0, 10)
	for i := 0; i < 10; i++ {
		specs = append(specs, NodeSpec[int]{ID: i, Weight: 1})
	}
	h := buildHasher(t, specs, 1009)

	counted := make([]int, 10)
	for s := uint64(0); s < 1009; s++ {
		idx, _ := h.PickSlot(s)
		if idx < 0 || idx >= 10 {
			t.Fatalf("slot %d has invalid owner %d", s, idx)
		}
		counted[idx]++
	}
	sum := 0
	for i, c := range counted {
		if c != h.NodeAt(i).SlotCount() {
			t.Fatalf("node %d: counted %d slots, SlotCount() = %d", i, c, h.NodeAt(i).SlotCount())
		}
		sum += c
	}
	if sum != 1009 {
		t.Fatalf("sum of slot counts = %d, want 1009", sum)
	}
}

// I4: determinism — two builds over the same node set and M agree exactly.
func TestBuildDeterministic(t *testing.T) {
	specs := []NodeSpec[int]{{ID: 0, Weight: 1}, {ID: 1, Weight: 3}, {ID: 2, Weight: 5}}
	h1 := buildHasher(t, specs, 1009)
	h2 := buildHasher(t, specs, 1009)

	for s := uint64(0); s < 1009; s++ {
		i1, _ := h1.PickSlot(s)
		i2, _ := h2.PickSlot(s)
		if i1 != i2 {
			t.Fatalf("slot %d: first build owner %d, second build owner %d", s, i1, i2)
		}
	}
}

// Scenario 2: weighted shares within ±2% of configured ratios.
func TestWeightedShares(t *testing.T) {
	h := buildHasher(t, []NodeSpec[int]{{ID: 0, Weight: 1}, {ID: 1, Weight: 2}, {ID: 2, Weight: 4}}, 65537)

	want := []float64{1.0 / 7, 2.0 / 7, 4.0 / 7}
	for i, w := range want {
		got := float64(h.NodeAt(i).SlotCount()) / 65537.0
		if diff := got - w; diff > 0.02 || diff < -0.02 {
			t.Fatalf("node %d: slot share %.4f, want %.4f within 2%%", i, got, w)
		}
	}
}

// Scenario 3: zero-weight nodes receive no slots and therefore no picks.
func TestZeroWeightExclusion(t *testing.T) {
	specs := make([]NodeSpec[int], 0, 10)
	for i := 0; i < 10; i++ {
		w := uint32(100 + i*10)
		if i == 1 || i == 5 {
			w = 0
		}
		specs = append(specs, NodeSpec[int]{ID: i, Weight: w})
	}
	h := buildHasher(t, specs, 65537)

	if h.NodeAt(1).SlotCount() != 0 {
		t.Fatalf("node 1 (weight 0) has %d slots, want 0", h.NodeAt(1).SlotCount())
	}
	if h.NodeAt(5).SlotCount() != 0 {
		t.Fatalf("node 5 (weight 0) has %d slots, want 0", h.NodeAt(5).SlotCount())
	}
	for i := 0; i < 10; i++ {
		if i == 1 || i == 5 {
			continue
		}
		if h.NodeAt(i).SlotCount() == 0 {
			t.Fatalf("node %d (nonzero weight) has 0 slots", i)
		}
	}
}
