package maglev

import (
	"fmt"
	"hash/maphash"

	"github.com/Voskan/maglev-balancer/internal/primeutil"
)

// processSeed is fixed once per process so that DefaultHash64 is
// deterministic for the lifetime of a run — two Finalize/Build passes over
// the same node set in the same process always produce the same slot
// array (spec invariant I4). Across process restarts the seed differs,
// same as arena-cache's per-shard maphash.Seed; nothing in this package
// promises slot-array bytes survive a restart, only that a given run is
// internally reproducible.
var processSeed = maphash.MakeSeed()

// DefaultHash64 hashes a node identity into the 64-bit seed the permutation
// generator consumes. Integral ids are mixed through Mix64 (identity hashes
// cluster badly once reduced mod a prime); strings and byte slices go
// through maphash, mirroring arena-cache's own shard.hash type switch.
func DefaultHash64[ID comparable](id ID) uint64 {
	switch v := any(id).(type) {
	case string:
		var h maphash.Hash
		h.SetSeed(processSeed)
		h.WriteString(v)
		return h.Sum64()
	case []byte:
		var h maphash.Hash
		h.SetSeed(processSeed)
		h.Write(v)
		return h.Sum64()
	case int:
		return primeutil.Mix64(uint64(v))
	case int8:
		return primeutil.Mix64(uint64(v))
	case int16:
		return primeutil.Mix64(uint64(v))
	case int32:
		return primeutil.Mix64(uint64(v))
	case int64:
		return primeutil.Mix64(uint64(v))
	case uint:
		return primeutil.Mix64(uint64(v))
	case uint8:
		return primeutil.Mix64(uint64(v))
	case uint16:
		return primeutil.Mix64(uint64(v))
	case uint32:
		return primeutil.Mix64(uint64(v))
	case uint64:
		return primeutil.Mix64(v)
	default:
		// Rare: an ordered id type we don't special-case (e.g. a custom
		// named string/int type that didn't hit the cases above because
		// Go type switches are exact). Fall back through fmt, which is
		// slower but always available and still deterministic per process.
		return hashFallback(id)
	}
}

func hashFallback[ID comparable](id ID) uint64 {
	var h maphash.Hash
	h.SetSeed(processSeed)
	_, _ = h.WriteString(fmt.Sprintf("%v", id))
	return h.Sum64()
}
