package catalog

// order.go computes the dependency-ordered migration sequence.
//
// Kahn's algorithm over the declared dependency edges. Among entities whose
// dependencies are all satisfied, registration order decides who goes next,
// so the result is stable across runs. A non-empty remainder after the walk
// means the graph has a cycle.

// topoSort orders entity types so every type appears after its dependencies.
func topoSort(order []string, schemas map[string]EntitySchema) ([]string, error) {
	indegree := make(map[string]int, len(order))
	dependents := make(map[string][]string, len(order))

	for _, t := range order {
		indegree[t] = len(schemas[t].Dependencies)
		for _, dep := range schemas[t].Dependencies {
			dependents[dep] = append(dependents[dep], t)
		}
	}

	sorted := make([]string, 0, len(order))
	placed := make(map[string]bool, len(order))

	for len(sorted) < len(order) {
		progressed := false
		// Scan in registration order so ties break deterministically.
		for _, t := range order {
			if placed[t] || indegree[t] != 0 {
				continue
			}
			placed[t] = true
			sorted = append(sorted, t)
			for _, d := range dependents[t] {
				indegree[d]--
			}
			progressed = true
		}
		if !progressed {
			var remaining []string
			for _, t := range order {
				if !placed[t] {
					remaining = append(remaining, t)
				}
			}
			return nil, &CyclicDependencyError{Remaining: remaining}
		}
	}

	return sorted, nil
}
