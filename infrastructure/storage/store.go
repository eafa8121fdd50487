// Package storage implements contract.Store, the key-value adapter holding
// every piece of room-scoped state. Keys carry their own TTL and vanish
// once it elapses; callers never see the difference between an expired
// key and one that never existed.
package storage

import (
	"maps"
	"slices"
)

type kind uint8

const (
	kindHash kind = iota + 1
	kindList
)

func (k kind) String() string {
	switch k {
	case kindHash:
		return "hash"
	case kindList:
		return "list"
	default:
		return "unknown"
	}
}

// rangeBounds resolves inclusive start/stop indexes over a list of n items,
// negative indexes counting from the tail. ok is false for an empty window.
func rangeBounds(n, start, stop int) (from, to int, ok bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop + 1, true
}

func cloneFields(fields map[string][]byte) map[string][]byte {
	out := make(map[string][]byte, len(fields))
	for k, v := range fields {
		out[k] = slices.Clone(v)
	}
	return out
}

func cloneValues(values [][]byte) [][]byte {
	out := make([][]byte, len(values))
	for i, v := range values {
		out[i] = slices.Clone(v)
	}
	return out
}

func mergeFields(dst, src map[string][]byte) map[string][]byte {
	if dst == nil {
		dst = make(map[string][]byte, len(src))
	}
	maps.Copy(dst, cloneFields(src))
	return dst
}
