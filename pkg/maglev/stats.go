package maglev

import "github.com/Voskan/maglev-balancer/internal/ring"

// SlidingWindow tracks a single metric over a fixed number of complete
// heartbeat periods plus the in-flight one. It is the building block every
// counter in Stats is made from: load, query count, error count, fatal
// count, latency sum.
type SlidingWindow struct {
	now  ring.Counter
	seq  *ring.Buffer
	sum  uint64
	hbCt uint64
}

// NewSlidingWindow allocates a window holding the last size complete
// periods. size must be > 0.
func NewSlidingWindow(size int) *SlidingWindow {
	return &SlidingWindow{seq: ring.NewBuffer(size)}
}

// Incr adds delta to the in-flight period and returns its new total.
func (w *SlidingWindow) Incr(delta uint64) uint64 { return w.now.Add(delta) }

// Now returns the in-flight period's running total.
func (w *SlidingWindow) Now() uint64 { return w.now.Load() }

// Last returns the most recently completed period's total.
func (w *SlidingWindow) Last() uint64 { return w.seq.Newest() }

// Sum returns the sum of every complete period currently in the window.
func (w *SlidingWindow) Sum() uint64 { return w.sum }

// HeartbeatCnt returns the number of heartbeats this window has observed.
func (w *SlidingWindow) HeartbeatCnt() uint64 { return w.hbCt }

// Avg returns the window's average period total: the sum divided by
// min(heartbeat count, window size), so a window that has not yet filled
// does not get diluted by periods that never happened.
func (w *SlidingWindow) Avg() float64 {
	denom := w.hbCt
	if denom == 0 || denom > uint64(w.seq.Size()) {
		denom = uint64(w.seq.Size())
	}
	if denom == 0 {
		return 0
	}
	return float64(w.sum) / float64(denom)
}

// Heartbeat closes the in-flight period: folds it into the running sum,
// evicts the oldest complete period from the sum, pushes the closed period
// into the ring, and resets the in-flight counter to zero. Only one
// goroutine may ever call Heartbeat on a given window.
func (w *SlidingWindow) Heartbeat() {
	now := w.now.Load()
	oldest := w.seq.Oldest()
	w.sum += now - oldest
	w.seq.Push(now)
	w.now.Clear()
	w.hbCt++
}

// StatsMode selects which metrics a Stats value tracks. It is chosen once,
// at Balancer construction, and applies uniformly to every node and to the
// global aggregate.
type StatsMode int

const (
	// ModeLoadOnly tracks only a generic load counter and its rank, with no
	// ban policy (a balancer with no notion of errored/fatal RPCs has
	// nothing to ban on).
	ModeLoadOnly StatsMode = iota
	// ModeServerStats tracks load plus query/error/fatal/latency, each with
	// its own rank, and supports the full ban-and-recover policy.
	ModeServerStats
	// ModeUnweightedServerStats is ModeServerStats with the load metric
	// aliased to the query window, for callers that have no separate
	// notion of "load units" distinct from request count.
	ModeUnweightedServerStats
)

// Stats is the flat, mode-tagged load/server/ban record a node or the
// global aggregate carries. Which fields are live depends on Mode: a
// ModeLoadOnly Stats has a load window and nothing else; the two server
// modes add query/error/fatal/latency windows, their ranks, and the ban
// overlay (consecutive ban count, last ban time).
type Stats struct {
	mode StatsMode

	load                                     *SlidingWindow
	query, errs, fatal, latency              *SlidingWindow
	loadRank, queryRank, errorRank, fatalRank int
	latencyRank                               int

	consecutiveBanCnt int
	lastBanTime       int64
}

func newStats(mode StatsMode, windowSize int) *Stats {
	s := &Stats{mode: mode}
	switch mode {
	case ModeLoadOnly:
		s.load = NewSlidingWindow(windowSize)
	case ModeServerStats:
		s.load = NewSlidingWindow(windowSize)
		s.query = NewSlidingWindow(windowSize)
		s.errs = NewSlidingWindow(windowSize)
		s.fatal = NewSlidingWindow(windowSize)
		s.latency = NewSlidingWindow(windowSize)
	case ModeUnweightedServerStats:
		s.query = NewSlidingWindow(windowSize)
		s.errs = NewSlidingWindow(windowSize)
		s.fatal = NewSlidingWindow(windowSize)
		s.latency = NewSlidingWindow(windowSize)
	}
	return s
}

// Mode returns the stats mode this value was constructed with.
func (s *Stats) Mode() StatsMode { return s.mode }

// Load returns the load window, or the query window in
// ModeUnweightedServerStats, which has no separate concept of load units.
func (s *Stats) Load() *SlidingWindow {
	if s.load != nil {
		return s.load
	}
	return s.query
}

// Query returns the query-count window. Nil in ModeLoadOnly.
func (s *Stats) Query() *SlidingWindow { return s.query }

// Error returns the error-count window. Nil in ModeLoadOnly.
func (s *Stats) Error() *SlidingWindow { return s.errs }

// Fatal returns the fatal-error-count window. Nil in ModeLoadOnly.
func (s *Stats) Fatal() *SlidingWindow { return s.fatal }

// Latency returns the latency-sum window. Nil in ModeLoadOnly.
func (s *Stats) Latency() *SlidingWindow { return s.latency }

func (s *Stats) LoadRank() int        { return s.loadRank }
func (s *Stats) SetLoadRank(r int)    { s.loadRank = r }
func (s *Stats) QueryRank() int       { return s.queryRank }
func (s *Stats) SetQueryRank(r int)   { s.queryRank = r }
func (s *Stats) ErrorRank() int       { return s.errorRank }
func (s *Stats) SetErrorRank(r int)   { s.errorRank = r }
func (s *Stats) FatalRank() int       { return s.fatalRank }
func (s *Stats) SetFatalRank(r int)   { s.fatalRank = r }
func (s *Stats) LatencyRank() int     { return s.latencyRank }
func (s *Stats) SetLatencyRank(r int) { s.latencyRank = r }

func (s *Stats) ConsecutiveBanCnt() int     { return s.consecutiveBanCnt }
func (s *Stats) SetConsecutiveBanCnt(v int) { s.consecutiveBanCnt = v }
func (s *Stats) IncrConsecutiveBanCnt() int {
	s.consecutiveBanCnt++
	return s.consecutiveBanCnt
}
func (s *Stats) LastBanTime() int64     { return s.lastBanTime }
func (s *Stats) SetLastBanTime(t int64) { s.lastBanTime = t }

// ErrorRateOfNow returns the in-flight period's error rate.
func (s *Stats) ErrorRateOfNow() float64 { return rateOf(s.errs.Now(), s.query.Now()) }

// ErrorRateOfLast returns the last complete period's error rate.
func (s *Stats) ErrorRateOfLast() float64 { return rateOf(s.errs.Last(), s.query.Last()) }

// ErrorRateOfWindow returns the whole window's error rate.
func (s *Stats) ErrorRateOfWindow() float64 { return rateOf(s.errs.Sum(), s.query.Sum()) }

// FatalRateOfNow returns the in-flight period's fatal rate.
func (s *Stats) FatalRateOfNow() float64 { return rateOf(s.fatal.Now(), s.query.Now()) }

// FatalRateOfLast returns the last complete period's fatal rate.
func (s *Stats) FatalRateOfLast() float64 { return rateOf(s.fatal.Last(), s.query.Last()) }

// FatalRateOfWindow returns the whole window's fatal rate.
func (s *Stats) FatalRateOfWindow() float64 { return rateOf(s.fatal.Sum(), s.query.Sum()) }

// AvgLatencyOfNow returns the in-flight period's mean per-query latency.
func (s *Stats) AvgLatencyOfNow() float64 { return rateOf(s.latency.Now(), s.query.Now()) }

// AvgLatencyOfLast returns the last complete period's mean per-query latency.
func (s *Stats) AvgLatencyOfLast() float64 { return rateOf(s.latency.Last(), s.query.Last()) }

// AvgLatencyOfWindow returns the whole window's mean per-query latency.
func (s *Stats) AvgLatencyOfWindow() float64 { return rateOf(s.latency.Sum(), s.query.Sum()) }

func rateOf(numerator, denominator uint64) float64 {
	if denominator == 0 {
		return 0
	}
	return float64(numerator) / float64(denominator)
}

// IncrLoad records units of generic load against the in-flight period.
func (s *Stats) IncrLoad(units uint64) { s.Load().Incr(units) }

// IncrServerLoad records one telemetry sample against the in-flight period
// of each server-stats window. It is a no-op in ModeLoadOnly.
func (s *Stats) IncrServerLoad(query, errs, fatal, latency uint64) {
	if s.query == nil {
		return
	}
	s.query.Incr(query)
	if errs > 0 {
		s.errs.Incr(errs)
	}
	if fatal > 0 {
		s.fatal.Incr(fatal)
	}
	s.latency.Incr(latency)
}

// Heartbeat closes the in-flight period of every live window.
func (s *Stats) Heartbeat() {
	if s.load != nil {
		s.load.Heartbeat()
	}
	if s.query != nil {
		s.query.Heartbeat()
		s.errs.Heartbeat()
		s.fatal.Heartbeat()
		s.latency.Heartbeat()
	}
}
