package models

import (
	"fmt"
	"slices"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/google/uuid"
)

// Tree is an arena of nodes indexed by id. Parent/child relations are stored
// as ids on each node; the tree is the only owner of its nodes.
//
// Tree is not safe for concurrent mutation. Readers on other goroutines must
// work on a Clone.
type Tree struct {
	root  uuid.UUID
	nodes map[uuid.UUID]*Node
}

// NewTree returns a tree containing a single root group.
func NewTree(rootTitle string) *Tree {
	r := NewGroup(rootTitle)
	return &Tree{root: r.ID, nodes: map[uuid.UUID]*Node{r.ID: r}}
}

// NewTreeWithRoot builds a tree around an existing detached group.
func NewTreeWithRoot(root *Node) (*Tree, error) {
	if root == nil || !root.IsGroup() || root.ID == uuid.Nil {
		return nil, fmt.Errorf("%w: root must be a group with an id", common.ErrValidation)
	}
	if len(root.Children) != 0 {
		return nil, fmt.Errorf("%w: root must be detached", common.ErrValidation)
	}
	root.Parent = uuid.Nil
	return &Tree{root: root.ID, nodes: map[uuid.UUID]*Node{root.ID: root}}, nil
}

func (t *Tree) RootID() uuid.UUID { return t.root }

func (t *Tree) Root() *Node { return t.nodes[t.root] }

func (t *Tree) Len() int { return len(t.nodes) }

func (t *Tree) Get(id uuid.UUID) (*Node, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

func (t *Tree) Contains(id uuid.UUID) bool {
	_, ok := t.nodes[id]
	return ok
}

// Children returns the direct children of id in order.
func (t *Tree) Children(id uuid.UUID) []*Node {
	n, ok := t.nodes[id]
	if !ok {
		return nil
	}
	out := make([]*Node, 0, len(n.Children))
	for _, c := range n.Children {
		out = append(out, t.nodes[c])
	}
	return out
}

func (t *Tree) Parent(id uuid.UUID) (*Node, bool) {
	n, ok := t.nodes[id]
	if !ok || n.Parent == uuid.Nil {
		return nil, false
	}
	p, ok := t.nodes[n.Parent]
	return p, ok
}

// IsDescendant reports whether id equals ancestor or lies beneath it.
func (t *Tree) IsDescendant(id, ancestor uuid.UUID) bool {
	for cur := id; cur != uuid.Nil; {
		if cur == ancestor {
			return true
		}
		n, ok := t.nodes[cur]
		if !ok {
			return false
		}
		cur = n.Parent
	}
	return false
}

// Ancestors returns the ids from id's parent up to the root.
func (t *Tree) Ancestors(id uuid.UUID) []uuid.UUID {
	var out []uuid.UUID
	n, ok := t.nodes[id]
	for ok && n.Parent != uuid.Nil {
		out = append(out, n.Parent)
		n, ok = t.nodes[n.Parent]
	}
	return out
}

// Walk visits every node in pre-order starting at the root. Returning false
// from fn stops the walk.
func (t *Tree) Walk(fn func(n *Node) bool) {
	t.WalkFrom(t.root, fn)
}

// WalkFrom is Walk restricted to the subtree rooted at id.
func (t *Tree) WalkFrom(id uuid.UUID, fn func(n *Node) bool) {
	if _, ok := t.nodes[id]; !ok {
		return
	}
	stack := []uuid.UUID{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := t.nodes[cur]
		if !fn(n) {
			return
		}
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, n.Children[i])
		}
	}
}

// Subtree returns id and all of its descendants in pre-order.
func (t *Tree) Subtree(id uuid.UUID) []*Node {
	var out []*Node
	t.WalkFrom(id, func(n *Node) bool {
		out = append(out, n)
		return true
	})
	return out
}

// Flatten returns deep copies of all nodes in pre-order.
func (t *Tree) Flatten() []Node {
	out := make([]Node, 0, len(t.nodes))
	t.Walk(func(n *Node) bool {
		out = append(out, *n.Clone())
		return true
	})
	return out
}

// Clone returns a deep copy of the tree.
func (t *Tree) Clone() *Tree {
	out := &Tree{root: t.root, nodes: make(map[uuid.UUID]*Node, len(t.nodes))}
	for id, n := range t.nodes {
		out.nodes[id] = n.Clone()
	}
	return out
}

// AddChild appends a detached node to parentID's children.
func (t *Tree) AddChild(parentID uuid.UUID, n *Node) error {
	return t.InsertChild(parentID, n, -1)
}

// InsertChild inserts a detached node at index among parentID's children.
// An index outside [0, len] appends.
func (t *Tree) InsertChild(parentID uuid.UUID, n *Node, index int) error {
	parent, ok := t.nodes[parentID]
	if !ok {
		return fmt.Errorf("%w: parent %s not found", common.ErrValidation, parentID)
	}
	if !parent.IsGroup() {
		return fmt.Errorf("%w: parent %s is not a group", common.ErrValidation, parentID)
	}
	if n == nil || n.ID == uuid.Nil {
		return fmt.Errorf("%w: node has no id", common.ErrValidation)
	}
	if _, exists := t.nodes[n.ID]; exists {
		return fmt.Errorf("%w: duplicate id %s", common.ErrValidation, n.ID)
	}
	if len(n.Children) != 0 {
		return fmt.Errorf("%w: node %s is not detached", common.ErrValidation, n.ID)
	}

	n.Parent = parentID
	t.nodes[n.ID] = n
	parent.Children = insertAt(parent.Children, n.ID, index)
	return nil
}

// Move re-parents id under newParent at index. Moving a node into itself or
// one of its descendants fails with ErrValidation.
func (t *Tree) Move(id, newParent uuid.UUID, index int) error {
	if err := t.ValidateMove(id, newParent); err != nil {
		return err
	}
	n := t.nodes[id]
	old := t.nodes[n.Parent]
	old.Children = slices.DeleteFunc(old.Children, func(c uuid.UUID) bool { return c == id })

	dst := t.nodes[newParent]
	dst.Children = insertAt(dst.Children, id, index)
	n.Parent = newParent
	return nil
}

// ValidateMove checks Move's preconditions without mutating.
func (t *Tree) ValidateMove(id, newParent uuid.UUID) error {
	if id == t.root {
		return fmt.Errorf("%w: cannot move the root", common.ErrValidation)
	}
	if _, ok := t.nodes[id]; !ok {
		return fmt.Errorf("%w: node %s not found", common.ErrValidation, id)
	}
	dst, ok := t.nodes[newParent]
	if !ok {
		return fmt.Errorf("%w: destination %s not found", common.ErrValidation, newParent)
	}
	if !dst.IsGroup() {
		return fmt.Errorf("%w: destination %s is not a group", common.ErrValidation, newParent)
	}
	if t.IsDescendant(newParent, id) {
		return fmt.Errorf("%w: cannot move %s into itself or a descendant", common.ErrValidation, id)
	}
	return nil
}

// Remove detaches id and its whole subtree, returning the removed nodes in
// pre-order.
func (t *Tree) Remove(id uuid.UUID) ([]*Node, error) {
	if id == t.root {
		return nil, fmt.Errorf("%w: cannot remove the root", common.ErrValidation)
	}
	n, ok := t.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: node %s not found", common.ErrValidation, id)
	}
	removed := t.Subtree(id)
	if p, ok := t.nodes[n.Parent]; ok {
		p.Children = slices.DeleteFunc(p.Children, func(c uuid.UUID) bool { return c == id })
	}
	for _, r := range removed {
		delete(t.nodes, r.ID)
	}
	return removed, nil
}

// IndexOf returns id's position among its siblings, or -1.
func (t *Tree) IndexOf(id uuid.UUID) int {
	p, ok := t.Parent(id)
	if !ok {
		return -1
	}
	return slices.Index(p.Children, id)
}

// SetIndex moves id to idx among its siblings, clamping idx to the valid
// range, and returns the index actually applied.
func (t *Tree) SetIndex(id uuid.UUID, idx int) (int, error) {
	p, ok := t.Parent(id)
	if !ok {
		return -1, fmt.Errorf("%w: node %s has no parent", common.ErrValidation, id)
	}
	idx = max(0, min(idx, len(p.Children)-1))
	p.Children = slices.DeleteFunc(p.Children, func(c uuid.UUID) bool { return c == id })
	p.Children = slices.Insert(p.Children, idx, id)
	return idx, nil
}

// Validate checks the structural invariants: one root, consistent parent
// back-references, every child reachable exactly once, no cycles.
func (t *Tree) Validate() error {
	root, ok := t.nodes[t.root]
	if !ok {
		return fmt.Errorf("%w: root missing", common.ErrValidation)
	}
	if root.Parent != uuid.Nil || !root.IsGroup() {
		return fmt.Errorf("%w: invalid root", common.ErrValidation)
	}

	seen := make(map[uuid.UUID]bool, len(t.nodes))
	stack := []uuid.UUID{t.root}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur] {
			return fmt.Errorf("%w: node %s reachable twice", common.ErrValidation, cur)
		}
		seen[cur] = true
		n := t.nodes[cur]
		if len(n.Children) > 0 && !n.IsGroup() {
			return fmt.Errorf("%w: entry %s has children", common.ErrValidation, cur)
		}
		for _, c := range n.Children {
			child, ok := t.nodes[c]
			if !ok {
				return fmt.Errorf("%w: dangling child %s", common.ErrValidation, c)
			}
			if child.Parent != cur {
				return fmt.Errorf("%w: node %s has inconsistent parent", common.ErrValidation, c)
			}
			stack = append(stack, c)
		}
	}
	if len(seen) != len(t.nodes) {
		return fmt.Errorf("%w: %d unreachable nodes", common.ErrValidation, len(t.nodes)-len(seen))
	}
	return nil
}

func insertAt(ids []uuid.UUID, id uuid.UUID, index int) []uuid.UUID {
	if index < 0 || index > len(ids) {
		return append(ids, id)
	}
	return slices.Insert(ids, index, id)
}
