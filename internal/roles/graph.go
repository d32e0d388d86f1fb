package roles

// Graph is an edge-list view of a tenant's role hierarchy: role id to its
// parent role ids. It is a plain value so cycle checks and resolution can be
// tested without storage.
type Graph struct {
	Roles map[string]Role
	// Parents maps role id -> parent role ids.
	Parents map[string][]string
}

// WouldCycle reports whether replacing roleID's parent set with newParents
// introduces a cycle: roleID reachable from any of its proposed parents.
func (g Graph) WouldCycle(roleID string, newParents []string) bool {
	visited := map[string]bool{}
	queue := append([]string(nil), newParents...)
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current == roleID {
			return true
		}
		if visited[current] {
			continue
		}
		visited[current] = true
		queue = append(queue, g.Parents[current]...)
	}
	return false
}

// Ancestors returns the transitive parent closure of roleID in breadth-first
// order, excluding roleID itself. The visited set guarantees termination
// even if a cycle was incorrectly persisted.
func (g Graph) Ancestors(roleID string) []string {
	visited := map[string]bool{roleID: true}
	var order []string
	queue := append([]string(nil), g.Parents[roleID]...)
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		visited[current] = true
		order = append(order, current)
		queue = append(queue, g.Parents[current]...)
	}
	return order
}
