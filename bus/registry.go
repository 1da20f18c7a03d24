package bus

// registry maps topic pattern -> subscription ID -> subscription.
// Pattern buckets are created lazily on first use and pruned when the last
// subscription leaves, so the map stays bounded by live subscriptions.
// Not safe for concurrent use; the bus guards it with its own lock.
type registry map[string]map[string]*subscription

// register inserts or overwrites the (pattern, id) mapping.
func (r registry) register(pattern, id string, s *subscription) {
	bucket, ok := r[pattern]
	if !ok {
		bucket = make(map[string]*subscription)
		r[pattern] = bucket
	}
	bucket[id] = s
}

// unregister removes id from each of the given pattern buckets. Absent
// entries are ignored, so removal is idempotent.
func (r registry) unregister(id string, patterns []string) {
	for _, pattern := range patterns {
		bucket, ok := r[pattern]
		if !ok {
			continue
		}
		delete(bucket, id)
		if len(bucket) == 0 {
			delete(r, pattern)
		}
	}
}

// collect appends the subscriptions bound to any of the candidate patterns,
// deduplicated by subscription ID so a subscriber reachable through several
// patterns is delivered to exactly once per event.
func (r registry) collect(candidates []string) []*subscription {
	var out []*subscription
	var seen map[string]bool

	for _, pattern := range candidates {
		bucket, ok := r[pattern]
		if !ok {
			continue
		}
		for id, s := range bucket {
			if seen == nil {
				seen = make(map[string]bool)
			}
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, s)
		}
	}
	return out
}
