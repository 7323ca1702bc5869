package maglev

import (
	"cmp"
	"math"
	"sort"
)

// BalanceStrategy is the tunable policy that decides, on every Pick, whether
// a node's share of traffic should be diverted to its fallback, and, on
// every Heartbeat, which nodes cross from "overloaded" into "banned". All
// fields have defaults matching the original balancer's tuning; override
// only the ones a given deployment needs to change.
type BalanceStrategy struct {
	// MinHeartbeatCntToBalance withholds load-based diversion until the
	// global window has accumulated enough heartbeats to be meaningful.
	MinHeartbeatCntToBalance uint64
	// MinLoadToBalance is the in-flight load floor a node must cross before
	// it is even considered for diversion.
	MinLoadToBalance uint64
	// MinQueryToBalance is the in-flight query-count floor.
	MinQueryToBalance uint64
	// MinErrorRateToBalance and MinAvgLatencyToBalance gate the load-based
	// diversion branch on the node already showing *some* error/latency
	// signal; a node with a clean window is left alone even if overloaded.
	MinErrorRateToBalance    float64
	MinAvgLatencyToBalance   uint64
	// EpsOfLoadToBalance is the overload ratio a node's load must exceed
	// relative to the fleet's load before load-based diversion triggers.
	EpsOfLoadToBalance float64

	// MinErrorRateToBalanceByLatency and MaxPctOfBalanceByLatency gate the
	// latency-based diversion branch to the worst-latency-ranked slice of
	// the fleet that also shows elevated errors.
	MinErrorRateToBalanceByLatency float64
	MaxPctOfBalanceByLatency       float64
	EpsOfLatencyToBalance          float64
	LatencyThToForceBalance        uint64

	// MinErrorRateToBalanceByError and MaxPctOfBalanceByError gate the
	// error-based diversion branch similarly, ranked by error rate.
	MinErrorRateToBalanceByError float64
	MaxPctOfBalanceByError       float64

	// MaxFatalRankToBan and MaxPctOfBanByFatal bound which fatal-ranked
	// slice of the fleet is even eligible for banning.
	MaxFatalRankToBan  int
	MaxPctOfBanByFatal float64
	MinQueryToBan      uint64

	// MinFatalRatioToBan is the fatal-rate floor, required in both the
	// in-flight and the last-complete period, to ban a node outright.
	MinFatalRatioToBan float64

	// RecoverDelayS and MaxRecoverDelayS govern the exponential backoff a
	// banned node serves before it is eligible to rejoin: RecoverDelayS
	// doubles per consecutive ban, capped at MaxRecoverDelayS.
	RecoverDelayS    int64
	MaxRecoverDelayS int64
}

// DefaultBalanceStrategy returns the strategy's default tuning.
func DefaultBalanceStrategy() BalanceStrategy {
	return BalanceStrategy{
		MinHeartbeatCntToBalance:       5,
		MinLoadToBalance:               10,
		MinQueryToBalance:              10,
		MinErrorRateToBalance:          0,
		MinAvgLatencyToBalance:         0,
		EpsOfLoadToBalance:             1.2,
		MinErrorRateToBalanceByLatency: 0.01,
		MaxPctOfBalanceByLatency:       0.03,
		EpsOfLatencyToBalance:          1.5,
		LatencyThToForceBalance:        math.MaxUint64,
		MinErrorRateToBalanceByError:   0.5,
		MaxPctOfBalanceByError:         0.03,
		MaxFatalRankToBan:              3,
		MaxPctOfBanByFatal:             0.03,
		MinQueryToBan:                  10,
		MinFatalRatioToBan:             0.9,
		RecoverDelayS:                  5,
		MaxRecoverDelayS:               600,
	}
}

// ShouldBalance reports whether n's share of traffic should be diverted to
// its fallback, given the global aggregate g and the current fleet size.
func (bs BalanceStrategy) ShouldBalance(n, g *Stats, nodeSize int) bool {
	if n.Mode() == ModeLoadOnly {
		return bs.shouldBalanceLoadOnly(n, g, nodeSize)
	}
	return bs.shouldBalanceServer(n, g, nodeSize)
}

func (bs BalanceStrategy) shouldBalanceLoadOnly(n, g *Stats, nodeSize int) bool {
	if g.Load().HeartbeatCnt() <= bs.MinHeartbeatCntToBalance {
		return false
	}
	if n.Load().Now() <= bs.MinLoadToBalance {
		return false
	}
	gLoad := maxU64(g.Load().Now(), g.Load().Last())
	return float64(n.Load().Now())*float64(nodeSize) > float64(gLoad)*bs.EpsOfLoadToBalance
}

func (bs BalanceStrategy) shouldBalanceServer(n, g *Stats, nodeSize int) bool {
	if g.Load().HeartbeatCnt() <= bs.MinHeartbeatCntToBalance {
		return false
	}
	if n.Load().Now() <= bs.MinLoadToBalance {
		return false
	}
	if n.Query().Now() <= bs.MinQueryToBalance {
		return false
	}
	if n.ErrorRateOfWindow() <= bs.MinErrorRateToBalance {
		return false
	}
	if n.AvgLatencyOfWindow() <= float64(bs.MinAvgLatencyToBalance) {
		return false
	}

	gLoad := maxU64(g.Load().Now(), g.Load().Last())
	if float64(n.Load().Now())*float64(nodeSize) > float64(gLoad)*bs.EpsOfLoadToBalance {
		return true
	}

	latencyCeil := int(math.Ceil(float64(nodeSize) * bs.MaxPctOfBalanceByLatency))
	if n.ErrorRateOfWindow() > bs.MinErrorRateToBalanceByLatency && n.LatencyRank() <= latencyCeil {
		if n.AvgLatencyOfWindow() > g.AvgLatencyOfWindow()*bs.EpsOfLatencyToBalance {
			return true
		}
		if n.AvgLatencyOfWindow() > float64(bs.LatencyThToForceBalance) {
			return true
		}
	}

	errorCeil := int(math.Ceil(float64(nodeSize) * bs.MaxPctOfBalanceByError))
	if n.Error().Sum() > 0 && n.ErrorRateOfWindow() > bs.MinErrorRateToBalanceByError && n.ErrorRank() <= errorCeil {
		return true
	}
	return false
}

// ShouldBan reports whether n should be excluded from Pick entirely. Only
// meaningful for server-stats modes; a ModeLoadOnly fleet has no ban signal.
func (bs BalanceStrategy) ShouldBan(n, g *Stats, nodeSize int, now int64) bool {
	if n.Mode() == ModeLoadOnly {
		return false
	}
	// A node already serving its recovery backoff stays banned regardless
	// of current traffic volume or rank — those gates only decide whether
	// a *fresh* fatal-rate ban should begin.
	if bs.ShouldBanByDelayRecover(n, now) {
		return true
	}
	maxRank := bs.MaxFatalRankToBan
	if pctRank := int(math.Ceil(float64(nodeSize) * bs.MaxPctOfBanByFatal)); pctRank < maxRank {
		maxRank = pctRank
	}
	if n.FatalRank() > maxRank || n.Query().Now() < bs.MinQueryToBan {
		return false
	}
	return bs.ShouldBanByFatal(n)
}

// ShouldBanByFatal reports whether n's fatal rate has crossed the ban floor
// in both the in-flight and the last complete period.
func (bs BalanceStrategy) ShouldBanByFatal(n *Stats) bool {
	return n.FatalRateOfNow() > bs.MinFatalRatioToBan && n.FatalRateOfLast() > bs.MinFatalRatioToBan
}

// maxBanShift bounds the exponential backoff shift so a node with an
// implausibly long ban history cannot overflow the shift into a negative
// delay.
const maxBanShift = 30

// ShouldBanByDelayRecover reports whether n is still serving its recovery
// backoff from a previous ban.
func (bs BalanceStrategy) ShouldBanByDelayRecover(n *Stats, now int64) bool {
	if n.ConsecutiveBanCnt() <= 0 {
		return false
	}
	shift := n.ConsecutiveBanCnt()
	if shift > maxBanShift {
		shift = maxBanShift
	}
	delay := bs.RecoverDelayS << uint(shift)
	if delay > bs.MaxRecoverDelayS {
		delay = bs.MaxRecoverDelayS
	}
	return now <= n.LastBanTime()+delay
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// runHeartbeat recomputes every node's rank across each server-stats metric,
// applies the ban/recover pass, and returns the number of currently banned
// nodes. Window advance (closing the in-flight period of every counter) is
// the caller's responsibility and must happen strictly after this returns,
// matching the original: rank, then ban, then window advance.
func runHeartbeat[ID cmp.Ordered](bs BalanceStrategy, g *Stats, nm *NodeManager[ID], now int64) int {
	nodes := nm.NodesCopy()

	rankBy := func(key func(*Stats) float64) {
		sort.SliceStable(nodes, func(i, j int) bool { return key(nodes[i].stats) > key(nodes[j].stats) })
	}

	rankBy(func(s *Stats) float64 { return float64(s.Load().Sum()) })
	for i, n := range nodes {
		n.stats.SetLoadRank(i + 1)
	}

	if g.Mode() == ModeLoadOnly {
		return 0
	}

	rankBy(func(s *Stats) float64 { return float64(s.Query().Sum()) })
	for i, n := range nodes {
		n.stats.SetQueryRank(i + 1)
	}

	rankBy(func(s *Stats) float64 { return s.ErrorRateOfWindow() })
	for i, n := range nodes {
		n.stats.SetErrorRank(i + 1)
	}

	rankBy(func(s *Stats) float64 { return s.FatalRateOfWindow() })
	for i, n := range nodes {
		n.stats.SetFatalRank(i + 1)
	}

	rankBy(func(s *Stats) float64 { return s.AvgLatencyOfWindow() })
	for i, n := range nodes {
		n.stats.SetLatencyRank(i + 1)
	}

	maxRank := bs.MaxFatalRankToBan
	if pctRank := int(math.Ceil(float64(len(nodes)) * bs.MaxPctOfBanByFatal)); pctRank < maxRank {
		maxRank = pctRank
	}
	banned := 0
	for _, n := range nodes {
		s := n.stats
		switch {
		case bs.ShouldBanByDelayRecover(s, now):
			banned++
		case s.FatalRank() <= maxRank && s.Query().Now() >= bs.MinQueryToBan && bs.ShouldBanByFatal(s):
			s.IncrConsecutiveBanCnt()
			s.SetLastBanTime(now)
			banned++
		case s.Query().Now() > 0 && s.Fatal().Now() == 0 && s.Query().Last() > 0 && s.Fatal().Last() == 0:
			s.SetConsecutiveBanCnt(0)
		}
	}
	return banned
}
