package tasks

import "sort"

// Resolver selects the next eligible task given priority and dependency
// constraints. Selection is deterministic: descending priority, with ties
// broken by arrival order.
type Resolver struct{}

// NewResolver creates a resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Order returns the given pending tasks sorted by descending priority,
// preserving arrival order among equal priorities. The input is not mutated.
func (r *Resolver) Order(pending []*Task) []*Task {
	out := make([]*Task, len(pending))
	copy(out, pending)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// Next returns the first task in priority order whose dependencies are all
// in the completed set, or nil if none is eligible. Tasks with unmet
// dependencies are skipped without changing their position.
func (r *Resolver) Next(pending []*Task, completed map[string]struct{}) *Task {
	for _, t := range r.Order(pending) {
		if t.DependenciesMet(completed) {
			return t
		}
	}
	return nil
}
