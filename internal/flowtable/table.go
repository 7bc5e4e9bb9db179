// Package flowtable is the fixed-capacity collection of active flows: a
// map keyed by a monotonically assigned ID plus an ordered index for
// iteration. Insert and lookup are O(1); Remove is O(n), since it scans
// and shifts the ordered index. Iteration avoids the skip-while-iterating
// hazard of removing from an array while indexing it by position (see
// First and Each below).
package flowtable

import (
	"errors"

	"github.com/joeycumines/flowgrindd/internal/flow"
)

// ErrFull is returned by Add when the table is already at MaxFlows.
var ErrFull = errors.New("flowtable: at capacity")

// MaxFlows bounds the number of concurrently active flows a single daemon
// process will track.
const MaxFlows = 4096

// Table is a fixed-capacity flow collection with stable IDs.
type Table struct {
	byID  map[uint64]*flow.Flow
	order []uint64 // insertion order, for deterministic iteration
}

// New returns an empty flow table.
func New() *Table {
	return &Table{byID: make(map[uint64]*flow.Flow)}
}

// Len returns the number of active flows (num_flows).
func (t *Table) Len() int {
	return len(t.order)
}

// Add inserts a flow, returning ErrFull if the table is at MaxFlows.
func (t *Table) Add(f *flow.Flow) error {
	if len(t.order) >= MaxFlows {
		return ErrFull
	}
	t.byID[f.ID] = f
	t.order = append(t.order, f.ID)
	return nil
}

// Get looks up a flow by ID.
func (t *Table) Get(id uint64) (*flow.Flow, bool) {
	f, ok := t.byID[id]
	return f, ok
}

// Remove removes the flow with the given ID, if present, and returns it.
func (t *Table) Remove(id uint64) (*flow.Flow, bool) {
	f, ok := t.byID[id]
	if !ok {
		return nil, false
	}
	delete(t.byID, id)
	for i, v := range t.order {
		if v == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return f, true
}

// First returns the flow at index 0 in iteration order, if any. Combined
// with Remove, repeatedly calling First then Remove(first.ID) drains the
// whole table without skipping entries — the fix for the mass-stop
// iteration bug in daemon.c's stop_flow(-1), which indexed by a loop
// counter while remove_flow() shifted the backing array under it.
func (t *Table) First() (*flow.Flow, bool) {
	if len(t.order) == 0 {
		return nil, false
	}
	return t.byID[t.order[0]], true
}

// Each calls fn for every flow, in insertion order, snapshotting the ID
// list first so fn is free to remove the current flow (but must not
// remove other flows out from under the iteration — callers that need to
// remove arbitrary flows mid-scan should collect IDs and Remove after).
func (t *Table) Each(fn func(*flow.Flow)) {
	ids := make([]uint64, len(t.order))
	copy(ids, t.order)
	for _, id := range ids {
		if f, ok := t.byID[id]; ok {
			fn(f)
		}
	}
}

// IDs returns a snapshot of the active flow IDs, in insertion order.
func (t *Table) IDs() []uint64 {
	out := make([]uint64, len(t.order))
	copy(out, t.order)
	return out
}
