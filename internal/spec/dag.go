package spec

// Dependency analysis. All functions are pure over an in-memory spec
// and deterministic: iteration follows document order so the same spec
// always yields the same cycle path, the same topological order, and
// the same dependent lists.

// DetectCycle returns the first dependency cycle found as an ordered
// path (closing edge implied from last back to first), or nil when the
// graph is acyclic. Tombstoned tasks participate: a cycle through a
// deleted task is still structural damage worth rejecting.
func DetectCycle(s *Spec) []string {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current DFS path
		black = 2 // fully explored
	)
	color := make(map[string]int, len(s.tasks))
	var path []string

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = gray
		path = append(path, id)
		t, _ := s.Get(id)
		for _, dep := range t.DependsOn {
			if !s.Has(dep) {
				continue // reported by MissingDeps, not a cycle
			}
			switch color[dep] {
			case white:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			case gray:
				// Slice the current path from the first occurrence of
				// dep to the end: that is the cycle.
				for i, node := range path {
					if node == dep {
						return append([]string(nil), path[i:]...)
					}
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return nil
	}

	for _, t := range s.tasks {
		if color[t.ID] == white {
			path = path[:0]
			if cycle := visit(t.ID); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// MissingDep records a dependency edge whose target does not exist or
// is tombstoned.
type MissingDep struct {
	TaskID string `json:"task_id"`
	Dep    string `json:"dep"`
}

// MissingDeps returns every dependency reference that is unresolvable
// or points at a deleted task, in document order.
func MissingDeps(s *Spec) []MissingDep {
	var out []MissingDep
	for _, t := range s.tasks {
		if t.Status == StatusDeleted {
			continue // edges out of tombstones are inert
		}
		for _, dep := range t.DependsOn {
			target, ok := s.Get(dep)
			if !ok || target.Status == StatusDeleted {
				out = append(out, MissingDep{TaskID: t.ID, Dep: dep})
			}
		}
	}
	return out
}

// IsClaimable reports whether t is ready and every dependency is
// verified. Lease availability is the scheduler's concern, not checked
// here.
func IsClaimable(t *Task, s *Spec) bool {
	if t.Status != StatusReady {
		return false
	}
	for _, dep := range t.DependsOn {
		target, ok := s.Get(dep)
		if !ok || target.Status != StatusVerified {
			return false
		}
	}
	return true
}

// Dependents returns the IDs of live tasks that directly depend on id,
// in document order.
func Dependents(s *Spec, id string) []string {
	var out []string
	for _, t := range s.tasks {
		if t.Status == StatusDeleted {
			continue
		}
		for _, dep := range t.DependsOn {
			if dep == id {
				out = append(out, t.ID)
				break
			}
		}
	}
	return out
}

// TransitiveDependents returns every live task reachable by following
// dependent edges from id, in breadth-first document order. Used for
// cascade deletion.
func TransitiveDependents(s *Spec, id string) []string {
	seen := map[string]bool{id: true}
	queue := []string{id}
	var out []string
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, dep := range Dependents(s, current) {
			if !seen[dep] {
				seen[dep] = true
				out = append(out, dep)
				queue = append(queue, dep)
			}
		}
	}
	return out
}

// TopoOrder returns live task IDs in a dependency-respecting order
// (dependencies before dependents), stable with respect to document
// order. Tasks in cycles are appended at the end in document order so
// graph export still shows every node even on an invalid spec.
func TopoOrder(s *Spec) []string {
	indegree := make(map[string]int, len(s.tasks))
	live := make(map[string]bool, len(s.tasks))
	for _, t := range s.tasks {
		if t.Status != StatusDeleted {
			live[t.ID] = true
			indegree[t.ID] = 0
		}
	}
	for _, t := range s.tasks {
		if !live[t.ID] {
			continue
		}
		for _, dep := range t.DependsOn {
			if live[dep] {
				indegree[t.ID]++
			}
		}
	}

	var order []string
	emitted := make(map[string]bool, len(live))
	// Kahn's algorithm, rescanning in document order for determinism.
	for len(order) < len(live) {
		progressed := false
		for _, t := range s.tasks {
			if !live[t.ID] || emitted[t.ID] || indegree[t.ID] != 0 {
				continue
			}
			order = append(order, t.ID)
			emitted[t.ID] = true
			progressed = true
			for _, d := range Dependents(s, t.ID) {
				indegree[d]--
			}
		}
		if !progressed {
			break // remaining nodes are in cycles
		}
	}
	for _, t := range s.tasks {
		if live[t.ID] && !emitted[t.ID] {
			order = append(order, t.ID)
		}
	}
	return order
}
