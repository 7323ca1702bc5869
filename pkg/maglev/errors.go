package maglev

import "errors"

var (
	// ErrNotPrime is returned when a configured slot size is not a prime
	// greater than 1.
	ErrNotPrime = errors.New("maglev: slot size must be a prime greater than 1")

	// ErrEmptyNodeSet is returned by Finalize/ReadyGo when no node has been
	// added yet.
	ErrEmptyNodeSet = errors.New("maglev: node set is empty")

	// ErrAlreadyReady is returned by AddNode once the node manager it would
	// append to has already been finalized.
	ErrAlreadyReady = errors.New("maglev: node manager is already finalized")

	// ErrNotReady is returned by Record and RecordLoad before the first
	// Finalize has published a slot table. (Pick panics in that state and
	// Heartbeat does nothing.)
	ErrNotReady = errors.New("maglev: balancer has no finalized slot table yet")

	// ErrNodeIndexOutOfRange is returned by Record/RecordLoad when the given
	// node index does not belong to the currently published generation.
	ErrNodeIndexOutOfRange = errors.New("maglev: node index out of range")

	// ErrNegativeRateLimit is returned by New when WithMaxAvgRateLimit was
	// given a negative limit.
	ErrNegativeRateLimit = errors.New("maglev: max avg rate limit must not be negative")

	// ErrDuplicateNodeID is returned by AddNode for a repeated identity.
	ErrDuplicateNodeID = errors.New("maglev: duplicate node id")

	// ErrZeroWeightSum is returned by ReadyGo when weighted mode is active
	// (at least one node carries a non-zero weight) but the computed weight
	// sum is zero — this should not occur in practice and signals a bug in
	// the caller's accounting rather than a legitimate all-zero-weight set,
	// which is handled separately by falling back to unweighted mode.
	ErrZeroWeightSum = errors.New("maglev: weighted node set has zero weight sum")
)
