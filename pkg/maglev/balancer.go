// Package maglev implements a consistent-hashing load balancer over the
// Maglev permutation algorithm: a weighted slot table that maps any hashed
// key to a backend node with minimal disruption when the node set changes,
// plus the sliding-window load tracking and ban/recover policy that decide
// when a Pick should be diverted away from its consistent choice.
//
// © 2025 maglev-balancer authors. MIT License.
package maglev

import (
	"cmp"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// PickResult is the outcome of a single Pick call: the node traffic was
// actually routed to, plus — when that differs — the node the raw Maglev
// table would have chosen before the balance/ban policy intervened.
type PickResult[ID cmp.Ordered] struct {
	NodeIdx int
	Node    *Node[ID]

	IsConsistent bool

	ConsistentNodeIdx int
	ConsistentNode    *Node[ID]
}

// Balancer is the top-level handle: it owns the current published Maglev
// generation, the staging node manager new nodes are added to, the global
// load aggregate, and the balance/ban policy. A *Balancer is safe for
// concurrent use: Pick, Record, RecordLoad and NodeByID may be called from
// any number of goroutines; AddNode, Finalize and Heartbeat are intended
// for a single control-plane goroutine (or goroutines that serialize
// themselves, e.g. via the same singleflight key Finalize already uses).
type Balancer[ID cmp.Ordered] struct {
	hasher atomic.Pointer[MaglevHasher[ID]]

	stagingMu sync.Mutex
	staging   *NodeManager[ID]

	globalStats *Stats
	strategy    BalanceStrategy
	bannedCnt   atomic.Int32

	slotSize   uint32
	statsMode  StatsMode
	windowSize int
	hash64     func(ID) uint64

	clock   func() time.Time
	logger  *zap.Logger
	metrics metricsSink

	finalizeGroup singleflight.Group
}

// New constructs a Balancer with no nodes. Call AddNode for each backend and
// Finalize to publish the first generation before calling Pick.
func New[ID cmp.Ordered](opts ...Option[ID]) (*Balancer[ID], error) {
	cfg := defaultConfig[ID]()
	if err := applyOptions(cfg, opts); err != nil {
		return nil, err
	}
	b := &Balancer[ID]{
		globalStats: newStats(cfg.statsMode, cfg.windowSize),
		strategy:    cfg.strategy,
		slotSize:    cfg.slotSize,
		statsMode:   cfg.statsMode,
		windowSize:  cfg.windowSize,
		hash64:      cfg.hash64,
		clock:       cfg.clock,
		logger:      cfg.logger,
		metrics:     newMetricsSink(cfg.registry),
	}
	b.staging = newNodeManager[ID](cfg.statsMode, cfg.windowSize, cfg.maxAvgRateLimit, cfg.hash64)
	return b, nil
}

// AddNode registers a candidate node for the next Finalize. It is an error
// to add a node after Finalize has published at least one generation built
// from the current staging set — start a new round by calling AddNode again
// right after Finalize returns; Finalize always leaves a fresh, empty
// staging manager behind for the next generation.
func (b *Balancer[ID]) AddNode(spec NodeSpec[ID]) error {
	b.stagingMu.Lock()
	defer b.stagingMu.Unlock()
	return b.staging.AddNode(spec)
}

// Finalize freezes the staging node set, builds a new Maglev generation
// from it, and atomically publishes it — the hot swap every subsequent
// Pick observes. Concurrent Finalize calls collapse into a single build via
// singleflight, so a burst of callers racing to publish the same staged
// node set pays for one Build, not N.
func (b *Balancer[ID]) Finalize() error {
	_, err, _ := b.finalizeGroup.Do("finalize", func() (any, error) {
		b.stagingMu.Lock()
		nm := b.staging
		b.stagingMu.Unlock()

		h, err := newMaglevHasher[ID](nm, b.slotSize)
		if err != nil {
			return nil, err
		}
		if err := h.Build(); err != nil {
			return nil, err
		}

		b.hasher.Store(h)

		b.stagingMu.Lock()
		b.staging = newNodeManager[ID](b.statsMode, b.windowSize, nm.maxAvgRateLimit, b.hash64)
		b.stagingMu.Unlock()

		for i := 0; i < h.NodeSize(); i++ {
			b.metrics.setSlotCount(i, h.NodeAt(i).SlotCount())
		}
		b.logger.Debug("maglev: finalized generation", zap.Int("nodes", h.NodeSize()), zap.Int("slots", h.SlotSize()))
		return nil, nil
	})
	return err
}

// Pick resolves a hashed key to a node. If the consistent node is currently
// being diverted by the balance policy or is banned, Pick walks the
// deterministic rehash sequence (key, key+1*stride, key+2*stride, ...) until
// it finds a node the policy currently accepts, or exhausts the fleet — in
// which case it returns the last candidate tried rather than an error, since
// "every node is overloaded" is a real operating condition, not a precondition
// violation. Calling Pick before the first Finalize is a programmer error
// and panics, the same contract violation class as indexing past a slice.
func (b *Balancer[ID]) Pick(hashedKey uint64) PickResult[ID] {
	h := b.hasher.Load()
	if h == nil {
		panic("maglev: Pick called before the first Finalize")
	}

	n := h.NodeSize()
	now := b.clock().Unix()
	slotSize := uint64(h.SlotSize())

	var result PickResult[ID]
	for try := 0; try < n; try++ {
		slotIdx := rehash(hashedKey, uint64(try), slotSize)
		nodeIdx, node := h.PickSlot(slotIdx)

		if try == 0 {
			result.ConsistentNodeIdx = nodeIdx
			result.ConsistentNode = node
			result.IsConsistent = true
		}
		result.NodeIdx = nodeIdx
		result.Node = node

		divert := b.strategy.ShouldBalance(node.stats, b.globalStats, n) || b.strategy.ShouldBan(node.stats, b.globalStats, n, now)
		if !divert {
			result.IsConsistent = try == 0
			break
		}
		result.IsConsistent = false
	}

	b.metrics.incPick(result.NodeIdx)
	if !result.IsConsistent {
		b.metrics.incFallbackPick(result.NodeIdx)
	}
	return result
}

// rehash derives the slot index the tryCnt-th fallback attempt probes,
// mirroring the original balancer's deterministic stride: every retry lands
// on a different slot without ever looping back onto one already tried
// within a single node count's worth of attempts, for any key.
func rehash(key, tryCnt, slotSize uint64) uint64 {
	return (key + (key%997+1)*tryCnt) % slotSize
}

// PickWithHash hashes id with h and resolves it the same way Pick does. It
// exists for callers that route by a request attribute that is not itself
// the node identity type.
func (b *Balancer[ID]) PickWithHash(id ID, h func(ID) uint64) PickResult[ID] {
	return b.Pick(h(id))
}

// Record attaches one telemetry sample (query count, error count, fatal
// count, cumulative latency) to a node in the current generation and to the
// global aggregate. nodeIdx must belong to the generation currently
// published by the most recent Finalize.
func (b *Balancer[ID]) Record(nodeIdx int, query, errs, fatal, latency uint64) error {
	h := b.hasher.Load()
	if h == nil {
		return ErrNotReady
	}
	if nodeIdx < 0 || nodeIdx >= h.NodeSize() {
		return ErrNodeIndexOutOfRange
	}
	node := h.NodeAt(nodeIdx)
	node.stats.IncrServerLoad(query, errs, fatal, latency)
	b.globalStats.IncrServerLoad(query, errs, fatal, latency)
	return nil
}

// RecordLoad attaches units of generic load to a node and to the global
// aggregate, independent of the query/error/fatal/latency telemetry Record
// tracks.
func (b *Balancer[ID]) RecordLoad(nodeIdx int, units uint64) error {
	h := b.hasher.Load()
	if h == nil {
		return ErrNotReady
	}
	if nodeIdx < 0 || nodeIdx >= h.NodeSize() {
		return ErrNodeIndexOutOfRange
	}
	node := h.NodeAt(nodeIdx)
	node.stats.IncrLoad(units)
	b.globalStats.IncrLoad(units)
	return nil
}

// Heartbeat recomputes every node's rank, runs the ban/recover pass, and
// then closes the in-flight period of every sliding window (node-level and
// global). It is a no-op before the first Finalize. Only one goroutine may
// call Heartbeat at a time; callers typically drive it from a single ticker.
func (b *Balancer[ID]) Heartbeat() {
	h := b.hasher.Load()
	if h == nil {
		return
	}
	now := b.clock().Unix()
	banned := runHeartbeat(b.strategy, b.globalStats, h.NodeManager(), now)
	b.bannedCnt.Store(int32(banned))

	for _, n := range h.NodeManager().Nodes() {
		n.stats.Heartbeat()
	}
	b.globalStats.Heartbeat()

	b.metrics.setBanned(banned)
	b.metrics.incHeartbeat()
	b.logger.Debug("maglev: heartbeat", zap.Int("banned", banned), zap.Uint64("heartbeat_cnt", b.globalStats.Load().HeartbeatCnt()))
}

// BannedCount returns the number of nodes the most recent Heartbeat found
// banned.
func (b *Balancer[ID]) BannedCount() int { return int(b.bannedCnt.Load()) }

// HeartbeatCount returns the number of heartbeats the global load window has
// observed.
func (b *Balancer[ID]) HeartbeatCount() uint64 { return b.globalStats.Load().HeartbeatCnt() }

// GlobalStats returns the fleet-wide aggregate stats.
func (b *Balancer[ID]) GlobalStats() *Stats { return b.globalStats }

// NodeByID looks a node up by identity in the currently published
// generation. It returns false before the first Finalize or if id is not
// part of that generation.
func (b *Balancer[ID]) NodeByID(id ID) (*Node[ID], bool) {
	h := b.hasher.Load()
	if h == nil {
		return nil, false
	}
	return h.NodeManager().NodeByID(id)
}

// Nodes returns the node sequence of the currently published generation, or
// nil before the first Finalize. Callers must not mutate the returned slice.
func (b *Balancer[ID]) Nodes() []*Node[ID] {
	h := b.hasher.Load()
	if h == nil {
		return nil
	}
	return h.NodeManager().Nodes()
}

// NodeCount returns the number of nodes in the currently published
// generation, or 0 before the first Finalize.
func (b *Balancer[ID]) NodeCount() int {
	h := b.hasher.Load()
	if h == nil {
		return 0
	}
	return h.NodeSize()
}

// SlotSize returns the Maglev table size of the currently published
// generation, or 0 before the first Finalize.
func (b *Balancer[ID]) SlotSize() int {
	h := b.hasher.Load()
	if h == nil {
		return 0
	}
	return h.SlotSize()
}
