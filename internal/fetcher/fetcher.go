package fetcher

import "context"

// Func is the collaborator boundary every data source implements: given one
// key, return its record or an error. The aggregator does not know whether
// it performs an HTTP call, a scrape, or a local computation, and it may
// make several sequential calls internally.
type Func[K comparable, V any] func(ctx context.Context, key K) (V, error)
