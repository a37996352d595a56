package ledger

// recent is a bounded set remembering the last n keys inserted.
type recent[K comparable, V any] struct {
	cap   int
	order []K
	items map[K]V
}

func newRecent[K comparable, V any](n int) *recent[K, V] {
	return &recent[K, V]{cap: n, items: make(map[K]V, n)}
}

func (r *recent[K, V]) put(k K, v V) {
	if _, ok := r.items[k]; !ok {
		r.order = append(r.order, k)
	}
	r.items[k] = v
	for len(r.order) > r.cap {
		delete(r.items, r.order[0])
		r.order = r.order[1:]
	}
}

func (r *recent[K, V]) get(k K) (V, bool) {
	v, ok := r.items[k]
	return v, ok
}

func (r *recent[K, V]) has(k K) bool {
	_, ok := r.items[k]
	return ok
}
