package search

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/dmitrijs2005/vaultcore/internal/models"
)

// CompareNodesForSort orders a before b. With foldersSeparately every group
// precedes every entry whatever the field or direction. descending inverts
// only the primary key; ties fall back to title then id, both ascending, so
// the order is total.
func CompareNodesForSort(a, b models.Node, field models.SortField, descending, foldersSeparately bool) int {
	if foldersSeparately && a.IsGroup() != b.IsGroup() {
		if a.IsGroup() {
			return -1
		}
		return 1
	}

	c := comparePrimary(a.Fields, b.Fields, field)
	if descending {
		c = -c
	}
	if c != 0 {
		return c
	}
	if c = compareText(a.Fields.Title, b.Fields.Title); c != 0 {
		return c
	}
	if c = strings.Compare(a.Fields.Title, b.Fields.Title); c != 0 {
		return c
	}
	return models.CompareUUID(a.ID, b.ID)
}

func comparePrimary(a, b models.Fields, field models.SortField) int {
	switch field {
	case models.SortFieldUsername:
		return compareText(a.Username, b.Username)
	case models.SortFieldPassword:
		return strings.Compare(a.Password, b.Password)
	case models.SortFieldURL:
		return compareText(a.URL, b.URL)
	case models.SortFieldCreated:
		return a.Created.Compare(b.Created)
	case models.SortFieldModified:
		return a.Modified.Compare(b.Modified)
	case models.SortFieldExpiry:
		return compareExpiry(a.Expires, b.Expires)
	default:
		return compareText(a.Title, b.Title)
	}
}

// compareText is case-insensitive.
func compareText(a, b string) int {
	return cmp.Compare(strings.ToLower(a), strings.ToLower(b))
}

// compareExpiry sorts entries that never expire last.
func compareExpiry(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	default:
		return a.Compare(*b)
	}
}

// Sort orders nodes in place by c.
func Sort(nodes []models.Node, c models.SortConfig) {
	slices.SortStableFunc(nodes, func(a, b models.Node) int {
		return CompareNodesForSort(a, b, c.Field, c.Descending, c.FoldersSeparately)
	})
}
