// Package hashmap provides a map keyed by tla.Value, which cannot be a
// native Go map key (it's backed by pointers to interface values with custom
// equality), by hashing keys through tla.Value.Hash. It backs the monitor's
// per-peer liveness table and the mailbox receiver's per-sender sequence
// dedup table.
package hashmap

import (
	"github.com/mpcal-runtime/distsys/tla"
)

// HashMap maps tla.Value keys to values of type V.
type HashMap[V any] struct {
	M    map[uint32]V
	Keys []tla.Value
}

// New constructs an empty HashMap.
func New[V any]() *HashMap[V] {
	return &HashMap[V]{M: make(map[uint32]V)}
}

// Set binds k to v, recording k in Keys the first time it is seen.
func (h *HashMap[V]) Set(k tla.Value, v V) {
	if _, ok := h.Get(k); !ok {
		h.Keys = append(h.Keys, k)
	}
	h.M[k.Hash()] = v
}

// Get looks up the value bound to k, if any.
func (h *HashMap[V]) Get(k tla.Value) (v V, ok bool) {
	v, ok = h.M[k.Hash()]
	return
}

// Delete removes k, if present.
func (h *HashMap[V]) Delete(k tla.Value) {
	delete(h.M, k.Hash())
	for i, key := range h.Keys {
		if key.Hash() == k.Hash() {
			h.Keys = append(h.Keys[:i], h.Keys[i+1:]...)
			break
		}
	}
}

// Clear empties the map.
func (h *HashMap[V]) Clear() {
	for k := range h.M {
		delete(h.M, k)
	}
	h.Keys = nil
}
