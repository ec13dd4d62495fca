package models

import (
	"testing"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// sample builds root -> {a -> {a1 -> {e1}}, b, e2}.
func sample(t *testing.T) (*Tree, map[string]uuid.UUID) {
	t.Helper()
	tr := NewTree("root")
	ids := map[string]uuid.UUID{"root": tr.RootID()}

	a := NewGroup("a")
	require.NoError(t, tr.AddChild(tr.RootID(), a))
	a1 := NewGroup("a1")
	require.NoError(t, tr.AddChild(a.ID, a1))
	e1 := NewEntry(Fields{Title: "e1", Password: "p1"})
	require.NoError(t, tr.AddChild(a1.ID, e1))
	b := NewGroup("b")
	require.NoError(t, tr.AddChild(tr.RootID(), b))
	e2 := NewEntry(Fields{Title: "e2"})
	require.NoError(t, tr.AddChild(tr.RootID(), e2))

	ids["a"], ids["a1"], ids["e1"], ids["b"], ids["e2"] = a.ID, a1.ID, e1.ID, b.ID, e2.ID
	require.NoError(t, tr.Validate())
	return tr, ids
}

func titles(nodes []*Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Fields.Title)
	}
	return out
}

func TestTree_WalkPreOrder(t *testing.T) {
	tr, _ := sample(t)
	var got []string
	tr.Walk(func(n *Node) bool {
		got = append(got, n.Fields.Title)
		return true
	})
	require.Equal(t, []string{"root", "a", "a1", "e1", "b", "e2"}, got)
}

func TestTree_WalkStops(t *testing.T) {
	tr, _ := sample(t)
	n := 0
	tr.Walk(func(*Node) bool {
		n++
		return n < 2
	})
	require.Equal(t, 2, n)
}

func TestTree_AddChild_Errors(t *testing.T) {
	tr, ids := sample(t)

	err := tr.AddChild(ids["e2"], NewEntry(Fields{Title: "x"}))
	require.ErrorIs(t, err, common.ErrValidation, "entries cannot have children")

	err = tr.AddChild(uuid.New(), NewGroup("x"))
	require.ErrorIs(t, err, common.ErrValidation)

	dup := NewGroup("dup")
	dup.ID = ids["b"]
	err = tr.AddChild(tr.RootID(), dup)
	require.ErrorIs(t, err, common.ErrValidation)

	require.NoError(t, tr.Validate())
}

func TestTree_InsertChildAtIndex(t *testing.T) {
	tr, ids := sample(t)
	g := NewGroup("first")
	require.NoError(t, tr.InsertChild(tr.RootID(), g, 0))
	require.Equal(t, 0, tr.IndexOf(g.ID))
	require.Equal(t, 1, tr.IndexOf(ids["a"]))
}

func TestTree_MoveIntoDescendantFails(t *testing.T) {
	tests := []struct {
		name string
		node string
		dst  string
	}{
		{"into itself", "a", "a"},
		{"into child", "a", "a1"},
		{"root", "root", "b"},
		{"into entry", "b", "e2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, ids := sample(t)
			before := tr.Flatten()

			err := tr.Move(ids[tt.node], ids[tt.dst], -1)
			require.ErrorIs(t, err, common.ErrValidation)
			require.Equal(t, before, tr.Flatten())
		})
	}
}

func TestTree_Move(t *testing.T) {
	tr, ids := sample(t)
	require.NoError(t, tr.Move(ids["a1"], ids["b"], 0))
	require.NoError(t, tr.Validate())

	p, ok := tr.Parent(ids["a1"])
	require.True(t, ok)
	require.Equal(t, ids["b"], p.ID)
	require.Empty(t, tr.Children(ids["a"]))
	require.True(t, tr.IsDescendant(ids["e1"], ids["b"]))
	require.Equal(t, []uuid.UUID{ids["a1"], ids["b"], ids["root"]}, tr.Ancestors(ids["e1"]))
}

func TestTree_Remove(t *testing.T) {
	tr, ids := sample(t)
	removed, err := tr.Remove(ids["a"])
	require.NoError(t, err)
	require.Equal(t, []string{"a", "a1", "e1"}, titles(removed))
	require.False(t, tr.Contains(ids["e1"]))
	require.Equal(t, 3, tr.Len())
	require.NoError(t, tr.Validate())

	_, err = tr.Remove(tr.RootID())
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestTree_SetIndexClamps(t *testing.T) {
	tr, ids := sample(t)

	applied, err := tr.SetIndex(ids["a"], 99)
	require.NoError(t, err)
	require.Equal(t, 2, applied)
	require.Equal(t, 2, tr.IndexOf(ids["a"]))

	applied, err = tr.SetIndex(ids["a"], -5)
	require.NoError(t, err)
	require.Equal(t, 0, applied)

	_, err = tr.SetIndex(tr.RootID(), 0)
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestTree_CloneIsIndependent(t *testing.T) {
	tr, ids := sample(t)
	cp := tr.Clone()

	n, _ := cp.Get(ids["e1"])
	n.Fields.Title = "changed"
	n.Fields.Tags = append(n.Fields.Tags, "x")
	require.NoError(t, cp.Move(ids["e1"], ids["b"], -1))

	orig, _ := tr.Get(ids["e1"])
	require.Equal(t, "e1", orig.Fields.Title)
	require.Empty(t, orig.Fields.Tags)
	require.Equal(t, ids["a1"], orig.Parent)
}

func TestTree_ValidateDetectsCorruption(t *testing.T) {
	tr, ids := sample(t)
	n, _ := tr.Get(ids["e1"])
	n.Parent = ids["b"]
	require.ErrorIs(t, tr.Validate(), common.ErrValidation)

	tr, ids = sample(t)
	b, _ := tr.Get(ids["b"])
	b.Children = append(b.Children, ids["e2"])
	require.ErrorIs(t, tr.Validate(), common.ErrValidation)
}

func TestNewTreeWithRoot(t *testing.T) {
	_, err := NewTreeWithRoot(NewEntry(Fields{}))
	require.ErrorIs(t, err, common.ErrValidation)

	g := NewGroup("r")
	tr, err := NewTreeWithRoot(g)
	require.NoError(t, err)
	require.Equal(t, g.ID, tr.RootID())
}
