package fetcher

// Result represents the outcome of a fetch operation.
// It's designed to be sent through channels from worker goroutines
// to the aggregator that collects them.
type Result[K comparable, V any] struct {
	// Key identifies the unit of work (ticker, page number, feed offset)
	Key K

	// Index is the position of Key in the dispatched key sequence
	Index int

	// Value is the fetched record
	Value V

	// Error contains any error that occurred during the fetch operation.
	// If Error is not nil, Value should be considered invalid.
	Error error
}

// OK reports whether the fetch succeeded.
func (r Result[K, V]) OK() bool {
	return r.Error == nil
}
