package database

import (
	"maps"
	"net"
	"net/url"
	"slices"
	"strings"

	"github.com/dmitrijs2005/vaultcore/internal/models"
	"github.com/google/uuid"
	"golang.org/x/net/publicsuffix"
)

type idSet map[uuid.UUID]struct{}

// fastMaps are secondary indices over the tree. The id index is the tree
// arena itself.
type fastMaps struct {
	byTag    map[string]idSet
	byDomain map[string]idSet
}

func (m *Model) rebuildMaps() {
	m.maps = fastMaps{byTag: map[string]idSet{}, byDomain: map[string]idSet{}}
	m.tree.Walk(func(n *models.Node) bool {
		m.maps.index(n)
		return true
	})
}

func (f *fastMaps) index(n *models.Node) {
	for _, t := range n.Fields.Tags {
		add(f.byTag, t, n.ID)
	}
	if !n.IsGroup() {
		if d := Domain(n.Fields.URL); d != "" {
			add(f.byDomain, d, n.ID)
		}
	}
}

func (f *fastMaps) unindex(n *models.Node) {
	for _, t := range n.Fields.Tags {
		del(f.byTag, t, n.ID)
	}
	if d := Domain(n.Fields.URL); d != "" {
		del(f.byDomain, d, n.ID)
	}
}

func add(m map[string]idSet, k string, id uuid.UUID) {
	s, ok := m[k]
	if !ok {
		s = idSet{}
		m[k] = s
	}
	s[id] = struct{}{}
}

func del(m map[string]idSet, k string, id uuid.UUID) {
	if s, ok := m[k]; ok {
		delete(s, id)
		if len(s) == 0 {
			delete(m, k)
		}
	}
}

func sortedIDs(s idSet) []uuid.UUID {
	ids := slices.Collect(maps.Keys(s))
	slices.SortFunc(ids, models.CompareUUID)
	return ids
}

// Domain returns the registrable domain (eTLD+1) of a URL, or the bare host
// for IPs and single-label hosts. Scheme-less URLs are accepted.
func Domain(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" {
		return ""
	}
	if net.ParseIP(host) != nil {
		return host
	}
	d, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return d
}

// EntriesWithTag returns the ids of nodes carrying tag.
func (m *Model) EntriesWithTag(tag string) []uuid.UUID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedIDs(m.maps.byTag[tag])
}

// TagSet returns every tag in use, sorted.
func (m *Model) TagSet() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tags := slices.Collect(maps.Keys(m.maps.byTag))
	slices.Sort(tags)
	return tags
}

// EntriesForDomain returns entries whose URL shares rawURL's registrable
// domain, excluding the recycle bin and legacy backup.
func (m *Model) EntriesForDomain(rawURL string) []uuid.UUID {
	d := Domain(rawURL)
	if d == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []uuid.UUID
	for _, id := range sortedIDs(m.maps.byDomain[d]) {
		if !m.inSpecial(id) {
			out = append(out, id)
		}
	}
	return out
}
