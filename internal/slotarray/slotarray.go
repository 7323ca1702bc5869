// Package slotarray is a thin typed wrapper over the Maglev slot table: a
// contiguous array of node indices, sized to a prime M, indexed by
// hash(key) mod M.
//
// © 2025 maglev-balancer authors. MIT License.
package slotarray

import (
	"fmt"

	"github.com/Voskan/maglev-balancer/internal/primeutil"
)

// Unassigned is the sentinel stored in every slot before Build runs.
const Unassigned int32 = -1

// Array is the slot table. It is read-only once a build has populated every
// slot; up to that point it is write-only from the single builder
// goroutine.
type Array struct {
	slots []int32
}

// New allocates a slot table of size m. m must be prime and greater than 1.
func New(m uint32) (*Array, error) {
	if m <= 1 || !primeutil.IsPrime(m) {
		return nil, fmt.Errorf("slotarray: %d is not a prime greater than 1", m)
	}
	a := &Array{slots: make([]int32, m)}
	a.Reset()
	return a, nil
}

// Reset marks every slot unassigned. Called once at the start of every build.
func (a *Array) Reset() {
	for i := range a.slots {
		a.slots[i] = Unassigned
	}
}

// Len returns the slot table size M.
func (a *Array) Len() int { return len(a.slots) }

// Get returns the node index owning slot idx.
func (a *Array) Get(idx uint64) int32 { return a.slots[idx] }

// Set assigns slot idx to the given node index.
func (a *Array) Set(idx uint64, nodeIdx int32) { a.slots[idx] = nodeIdx }

// IsAssigned reports whether slot idx has been distributed already.
func (a *Array) IsAssigned(idx uint64) bool { return a.slots[idx] != Unassigned }
