package aggregate

import (
	"cmp"
	"slices"
)

// SortRecords orders records by less, breaking ties by key ascending and
// then by position in the dispatched key sequence. The order never depends
// on completion order.
func SortRecords[K cmp.Ordered, V any](records []Record[K, V], less func(a, b V) bool) {
	slices.SortStableFunc(records, func(a, b Record[K, V]) int {
		if less != nil {
			if less(a.Value, b.Value) {
				return -1
			}
			if less(b.Value, a.Value) {
				return 1
			}
		}
		if c := cmp.Compare(a.Key, b.Key); c != 0 {
			return c
		}
		return cmp.Compare(a.Index, b.Index)
	})
}
