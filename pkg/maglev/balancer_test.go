package maglev

import (
	"testing"
	"time"
)

func newTestBalancer(t *testing.T, clock func() time.Time) *Balancer[int] {
	t.Helper()
	opts := []Option[int]{WithSlotSize[int](1009), WithWindowSize[int](4)}
	if clock != nil {
		opts = append(opts, WithClock[int](clock))
	}
	b, err := New[int](opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := b.AddNode(NodeSpec[int]{ID: i, Weight: 1}); err != nil {
			t.Fatalf("AddNode(%d): %v", i, err)
		}
	}
	if err := b.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return b
}

func TestBalancerPickBeforeFinalizePanics(t *testing.T) {
	b, err := New[int]()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Fatal("Pick before Finalize should panic")
		}
	}()
	b.Pick(42)
}

func TestBalancerAddNodeRejectsDuplicate(t *testing.T) {
	b, _ := New[int]()
	if err := b.AddNode(NodeSpec[int]{ID: 1, Weight: 1}); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if err := b.AddNode(NodeSpec[int]{ID: 1, Weight: 1}); err == nil {
		t.Fatal("AddNode with duplicate id should fail")
	}
}

func TestBalancerFinalizeResetsStaging(t *testing.T) {
	b := newTestBalancer(t, nil)
	// staging must be empty and reusable for a second generation.
	if err := b.AddNode(NodeSpec[int]{ID: 99, Weight: 1}); err != nil {
		t.Fatalf("AddNode after Finalize: %v", err)
	}
	if err := b.Finalize(); err != nil {
		t.Fatalf("second Finalize: %v", err)
	}
	if _, ok := b.NodeByID(99); !ok {
		t.Fatal("second generation should include the newly added node")
	}
}

func TestBalancerPickIsConsistentByDefault(t *testing.T) {
	b := newTestBalancer(t, nil)
	r1 := b.Pick(12345)
	r2 := b.Pick(12345)
	if r1.NodeIdx != r2.NodeIdx {
		t.Fatalf("Pick not idempotent for a fixed hasher state: %d != %d", r1.NodeIdx, r2.NodeIdx)
	}
	if !r1.IsConsistent {
		t.Fatal("with no ban/overload pressure, Pick should return the consistent node")
	}
	if r1.NodeIdx != r1.ConsistentNodeIdx {
		t.Fatal("NodeIdx should equal ConsistentNodeIdx when IsConsistent")
	}
}

func TestBalancerRecordAndRecordLoadReachGlobalStats(t *testing.T) {
	b := newTestBalancer(t, nil)
	if err := b.Record(0, 10, 1, 0, 100); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := b.RecordLoad(0, 5); err != nil {
		t.Fatalf("RecordLoad: %v", err)
	}
	node, ok := b.NodeByID(0)
	if !ok {
		t.Fatal("node 0 should exist")
	}
	if node.Stats().Query().Now() != 10 {
		t.Fatalf("node query = %d, want 10", node.Stats().Query().Now())
	}
	if b.GlobalStats().Query().Now() != 10 {
		t.Fatalf("global query = %d, want 10", b.GlobalStats().Query().Now())
	}
	if b.GlobalStats().Load().Now() != 5 {
		t.Fatalf("global load = %d, want 5", b.GlobalStats().Load().Now())
	}
}

func TestBalancerRecordRejectsBadIndex(t *testing.T) {
	b := newTestBalancer(t, nil)
	if err := b.Record(99, 1, 0, 0, 1); err == nil {
		t.Fatal("Record with out-of-range index should fail")
	}
}

// Scenario 5: ban + recover.
func TestBanAndRecoverScenario(t *testing.T) {
	now := int64(1_000_000)
	clock := func() time.Time { return time.Unix(now, 0) }

	strategy := DefaultBalanceStrategy()
	strategy.MinFatalRatioToBan = 0.5
	strategy.MinQueryToBan = 1
	strategy.MaxFatalRankToBan = 5
	strategy.MaxPctOfBanByFatal = 1.0
	strategy.RecoverDelayS = 5
	strategy.MaxRecoverDelayS = 300

	b, err := New[int](
		WithSlotSize[int](1009),
		WithWindowSize[int](4),
		WithClock[int](clock),
		WithBalanceStrategy[int](strategy),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := b.AddNode(NodeSpec[int]{ID: i, Weight: 1}); err != nil {
			t.Fatalf("AddNode: %v", err)
		}
	}
	if err := b.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	target, ok := b.NodeByID(0)
	if !ok {
		t.Fatal("node 0 should exist")
	}
	targetIdx := 0

	// Drive two full fatal-rate=1.0 ticks so both "now" and "last" periods
	// cross the ban floor (ShouldBanByFatal requires both).
	for tick := 0; tick < 2; tick++ {
		if err := b.Record(targetIdx, 10, 0, 10, 100); err != nil {
			t.Fatalf("Record: %v", err)
		}
		now += 10
		b.Heartbeat()
	}

	if target.Stats().ConsecutiveBanCnt() != 1 {
		t.Fatalf("ConsecutiveBanCnt() = %d, want 1", target.Stats().ConsecutiveBanCnt())
	}
	if target.Stats().LastBanTime() <= 0 {
		t.Fatal("LastBanTime() should be positive after a ban")
	}

	// Find a hashed key whose consistent pick is node 0, then confirm the
	// ban diverts it.
	var hashedKey uint64
	found := false
	for k := uint64(0); k < 10000; k++ {
		r := b.Pick(k)
		if r.ConsistentNodeIdx == targetIdx {
			hashedKey = k
			found = true
			break
		}
	}
	if !found {
		t.Fatal("could not find a key whose consistent node is node 0")
	}
	r := b.Pick(hashedKey)
	if r.NodeIdx == targetIdx {
		t.Fatal("banned node should have been diverted away from")
	}
	if r.IsConsistent {
		t.Fatal("diverted pick must report IsConsistent = false")
	}

	// Advance past the recover delay; the node should become pickable again.
	now += strategy.RecoverDelayS*2 + 1
	r2 := b.Pick(hashedKey)
	if r2.NodeIdx != targetIdx || !r2.IsConsistent {
		t.Fatalf("after recover delay, Pick(%d) = {idx=%d consistent=%v}, want {idx=%d consistent=true}",
			hashedKey, r2.NodeIdx, r2.IsConsistent, targetIdx)
	}
}
