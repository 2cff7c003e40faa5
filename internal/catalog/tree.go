package catalog

import (
	"sync"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

const noParent = -1

type node struct {
	id     string
	name   string
	parent int
}

// Tree is a category hierarchy stored as an arena of nodes addressed by index.
type Tree struct {
	mu    sync.RWMutex
	nodes []node
	index map[string]int
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{index: make(map[string]int)}
}

// Add inserts a category under parentID, or as a root when parentID is empty.
func (t *Tree) Add(id, name, parentID string) error {
	if id == "" {
		return shared.Validationf("category id required")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.index[id]; ok {
		return shared.Conflictf("category %s exists", id)
	}
	parent := noParent
	if parentID != "" {
		p, ok := t.index[parentID]
		if !ok {
			return shared.NotFoundf("category %s", parentID)
		}
		parent = p
	}
	t.index[id] = len(t.nodes)
	t.nodes = append(t.nodes, node{id: id, name: name, parent: parent})
	return nil
}

// Move re-parents a category, rejecting moves that would create a cycle.
func (t *Tree) Move(id, parentID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.index[id]
	if !ok {
		return shared.NotFoundf("category %s", id)
	}
	if parentID == "" {
		t.nodes[n].parent = noParent
		return nil
	}
	p, ok := t.index[parentID]
	if !ok {
		return shared.NotFoundf("category %s", parentID)
	}
	for cur := p; cur != noParent; cur = t.nodes[cur].parent {
		if cur == n {
			return shared.Validationf("moving %s under %s creates a cycle", id, parentID)
		}
	}
	t.nodes[n].parent = p
	return nil
}

// Ancestors lists the ids from the direct parent up to the root.
func (t *Tree) Ancestors(id string) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.index[id]
	if !ok {
		return nil, shared.NotFoundf("category %s", id)
	}
	var out []string
	for cur := t.nodes[n].parent; cur != noParent; cur = t.nodes[cur].parent {
		out = append(out, t.nodes[cur].id)
	}
	return out, nil
}

// Contains reports whether the category exists.
func (t *Tree) Contains(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.index[id]
	return ok
}
