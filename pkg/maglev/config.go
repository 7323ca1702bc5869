// config.go defines the internal configuration object and the set of
// functional options New accepts. Option is generic over the node identity
// type so callbacks retain full type safety with respect to the ID chosen
// by the caller.
//
// Design notes
// ------------
// • All fields are initialized with sensible defaults in defaultConfig().
// • Options never allocate unless strictly necessary — they just capture
//   pointers to external objects (logger, registry, strategy).
// • config is unexported: callers can only influence behavior via Option.
//
// © 2025 maglev-balancer authors. MIT License.
package maglev

import (
	"cmp"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Voskan/maglev-balancer/internal/primeutil"
)

// Option is the functional option passed to New.
type Option[ID cmp.Ordered] func(*config[ID])

type config[ID cmp.Ordered] struct {
	slotSize        uint32
	windowSize      int
	statsMode       StatsMode
	maxAvgRateLimit float64
	strategy        BalanceStrategy
	hash64          func(ID) uint64
	clock           func() time.Time
	logger          *zap.Logger
	registry        *prometheus.Registry
}

func defaultConfig[ID cmp.Ordered]() *config[ID] {
	return &config[ID]{
		slotSize:   65537,
		windowSize: 10,
		statsMode:  ModeServerStats,
		strategy:   DefaultBalanceStrategy(),
		hash64:     DefaultHash64[ID],
		clock:      time.Now,
		logger:     zap.NewNop(),
		registry:   nil,
	}
}

// WithSlotSize overrides the Maglev slot table size M. M must be prime and
// comfortably larger than the largest expected node count (the original
// guidance is M >= 100 * max node count) for the permutation's fairness
// guarantee to hold. Default 65537.
func WithSlotSize[ID cmp.Ordered](m uint32) Option[ID] {
	return func(c *config[ID]) { c.slotSize = m }
}

// WithWindowSize overrides the number of complete heartbeat periods every
// sliding window retains. Default 10.
func WithWindowSize[ID cmp.Ordered](size int) Option[ID] {
	return func(c *config[ID]) {
		if size > 0 {
			c.windowSize = size
		}
	}
}

// WithStatsMode selects which metrics nodes and the global aggregate track.
// Default ModeServerStats.
func WithStatsMode[ID cmp.Ordered](mode StatsMode) Option[ID] {
	return func(c *config[ID]) { c.statsMode = mode }
}

// WithMaxAvgRateLimit caps a weighted build's effective max weight at
// limit * average weight, preventing one outsized node from monopolizing
// the slot table. A zero limit disables the cap (the default); a negative
// limit makes New fail with ErrNegativeRateLimit.
func WithMaxAvgRateLimit[ID cmp.Ordered](limit float64) Option[ID] {
	return func(c *config[ID]) { c.maxAvgRateLimit = limit }
}

// WithBalanceStrategy overrides the default balance/ban tuning.
func WithBalanceStrategy[ID cmp.Ordered](bs BalanceStrategy) Option[ID] {
	return func(c *config[ID]) { c.strategy = bs }
}

// WithHash64 overrides the default node-identity hash. Rarely needed: the
// default already special-cases every integer kind and string/[]byte ids.
func WithHash64[ID cmp.Ordered](fn func(ID) uint64) Option[ID] {
	return func(c *config[ID]) {
		if fn != nil {
			c.hash64 = fn
		}
	}
}

// WithClock overrides the wall clock the ban/recover policy reads. Intended
// for tests that need to fast-forward recovery windows deterministically.
func WithClock[ID cmp.Ordered](now func() time.Time) Option[ID] {
	return func(c *config[ID]) {
		if now != nil {
			c.clock = now
		}
	}
}

// WithLogger plugs an external zap.Logger. The balancer never logs on the
// pick path; only Heartbeat and Finalize emit at debug level.
func WithLogger[ID cmp.Ordered](l *zap.Logger) Option[ID] {
	return func(c *config[ID]) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics enables Prometheus metrics collection against the given
// registry. Passing nil disables metrics (the default).
func WithMetrics[ID cmp.Ordered](reg *prometheus.Registry) Option[ID] {
	return func(c *config[ID]) { c.registry = reg }
}

func applyOptions[ID cmp.Ordered](cfg *config[ID], opts []Option[ID]) error {
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.slotSize <= 1 || !primeutil.IsPrime(cfg.slotSize) {
		return ErrNotPrime
	}
	if cfg.maxAvgRateLimit < 0 {
		return ErrNegativeRateLimit
	}
	return nil
}
