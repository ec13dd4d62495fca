// Package search filters, dereferences and orders views over a database
// for browsing, text search and autofill.
package search

import (
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/dmitrijs2005/vaultcore/internal/database"
	"github.com/dmitrijs2005/vaultcore/internal/models"
	"github.com/dmitrijs2005/vaultcore/internal/otpx"
	"github.com/google/uuid"
)

// BrowseFilter selects which nodes survive FilterForBrowse.
type BrowseFilter struct {
	IncludeRecycleBin   bool
	IncludeLegacyBackup bool
	IncludeExpired      bool
	IncludeGroups       bool
}

// Scope restricts which fields a text query is matched against.
type Scope int

const (
	ScopeAll Scope = iota
	ScopeTitle
	ScopeUsername
	ScopePassword
	ScopeURL
	ScopeTags
)

// Special queries bypass the text matcher.
type Special int

const (
	SpecialNone Special = iota
	SpecialAllEntries
	SpecialAuditFlagged
	SpecialTOTP
	SpecialExpired
	SpecialNearlyExpired
)

var specialTerms = map[string]Special{
	"is:all":           SpecialAllEntries,
	"is:flagged":       SpecialAuditFlagged,
	"is:totp":          SpecialTOTP,
	"is:expired":       SpecialExpired,
	"is:nearlyexpired": SpecialNearlyExpired,
	"is:expiring":      SpecialNearlyExpired,
}

// ParseSpecial recognises a special query term.
func ParseSpecial(query string) Special {
	return specialTerms[strings.ToLower(strings.TrimSpace(query))]
}

// Query is one search request.
type Query struct {
	Text        string
	Scope       Scope
	Dereference bool
	Filter      BrowseFilter
	Sort        models.SortConfig
}

// Engine runs queries against one database.
type Engine struct {
	db     *database.Model
	report func() *models.AuditReport
	now    func() time.Time
}

type Option func(*Engine)

// WithAuditReport supplies the latest audit report for flagged queries.
func WithAuditReport(fn func() *models.AuditReport) Option {
	return func(e *Engine) { e.report = fn }
}

// WithClock overrides time.Now for expiry evaluation.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(db *database.Model, opts ...Option) *Engine {
	e := &Engine{
		db:     db,
		report: func() *models.AuditReport { return nil },
		now:    time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// FilterForBrowse applies the browse predicate chain to nodes.
func (e *Engine) FilterForBrowse(nodes []models.Node, f BrowseFilter) []models.Node {
	now := e.now()
	out := make([]models.Node, 0, len(nodes))
	for _, n := range nodes {
		if !f.IncludeGroups && n.IsGroup() {
			continue
		}
		if !f.IncludeRecycleBin && e.db.InRecycleBin(n.ID) {
			continue
		}
		if !f.IncludeLegacyBackup && e.db.InLegacyBackup(n.ID) {
			continue
		}
		if !f.IncludeExpired && !n.IsGroup() && n.Fields.Expired(now) {
			continue
		}
		out = append(out, n)
	}
	return out
}

// FilterAndSortForBrowse filters nodes and orders them by c.
func (e *Engine) FilterAndSortForBrowse(nodes []models.Node, f BrowseFilter, c models.SortConfig) []models.Node {
	out := e.FilterForBrowse(nodes, f)
	Sort(out, c)
	return out
}

// Browse lists the children of group id for the given view.
func (e *Engine) Browse(id uuid.UUID, f BrowseFilter, view models.ViewType) []models.Node {
	prefs := e.db.Preferences()
	return e.FilterAndSortForBrowse(e.db.Children(id), f, prefs.SortFor(view))
}

// Search returns nodes matching q. A special term returns its derived list;
// otherwise every whitespace-separated term (or quoted phrase) must match
// one of the scoped fields, case-insensitively.
func (e *Engine) Search(q Query) []models.Node {
	var out []models.Node
	if sp := ParseSpecial(q.Text); sp != SpecialNone {
		out = e.FilterForBrowse(e.special(sp), withExpired(q.Filter, sp))
	} else {
		terms := Tokenize(q.Text)
		if len(terms) == 0 {
			return nil
		}
		candidates := e.db.AllEntries()
		if q.Filter.IncludeGroups {
			candidates = append(candidates, e.db.AllGroups()...)
		}
		for _, n := range e.FilterForBrowse(candidates, q.Filter) {
			if matches(n.Fields, terms, q.Scope, q.Dereference) {
				out = append(out, n)
			}
		}
	}
	Sort(out, q.Sort)
	return out
}

// the expired list is never filtered by expiry
func withExpired(f BrowseFilter, sp Special) BrowseFilter {
	if sp == SpecialExpired {
		f.IncludeExpired = true
	}
	return f
}

func (e *Engine) special(sp Special) []models.Node {
	entries := e.db.AllEntries()
	now := e.now()
	switch sp {
	case SpecialAllEntries:
		return entries
	case SpecialAuditFlagged:
		r := e.report()
		return keep(entries, func(n models.Node) bool { return r.IsFlagged(n.ID) })
	case SpecialTOTP:
		return keep(entries, func(n models.Node) bool { return otpx.HasTOTP(n.Fields) })
	case SpecialExpired:
		return keep(entries, func(n models.Node) bool { return n.Fields.Expired(now) })
	case SpecialNearlyExpired:
		window := e.db.Preferences().NearlyExpiredWindow
		return keep(entries, func(n models.Node) bool { return n.Fields.NearlyExpired(now, window) })
	default:
		return nil
	}
}

// AutoFill returns entries whose URL shares rawURL's registrable domain,
// ordered by title.
func (e *Engine) AutoFill(rawURL string) []models.Node {
	out := e.FilterForBrowse(e.db.GetItemsByID(e.db.EntriesForDomain(rawURL)), BrowseFilter{})
	Sort(out, models.SortConfig{Field: models.SortFieldTitle})
	return out
}

func keep(nodes []models.Node, fn func(models.Node) bool) []models.Node {
	return slices.DeleteFunc(nodes, func(n models.Node) bool { return !fn(n) })
}

// Tokenize splits a query into lower-cased terms. Double-quoted phrases are
// kept whole.
func Tokenize(query string) []string {
	var (
		terms  []string
		cur    strings.Builder
		quoted bool
	)
	flush := func() {
		if cur.Len() > 0 {
			terms = append(terms, strings.ToLower(cur.String()))
			cur.Reset()
		}
	}
	for _, r := range query {
		switch {
		case r == '"':
			flush()
			quoted = !quoted
		case unicode.IsSpace(r) && !quoted:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return terms
}

func matches(f models.Fields, terms []string, scope Scope, deref bool) bool {
	values := scopedValues(f, scope, deref)
	for _, t := range terms {
		found := false
		for _, v := range values {
			if strings.Contains(strings.ToLower(v), t) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func scopedValues(f models.Fields, scope Scope, deref bool) []string {
	val := func(name database.FieldName) string {
		if deref {
			return database.DereferenceField(f, name)
		}
		return name.Value(f)
	}
	switch scope {
	case ScopeTitle:
		return []string{val(database.FieldTitle)}
	case ScopeUsername:
		return []string{val(database.FieldUsername), val(database.FieldEmail)}
	case ScopePassword:
		return []string{val(database.FieldPassword)}
	case ScopeURL:
		return []string{val(database.FieldURL)}
	case ScopeTags:
		return f.Tags
	default:
		out := []string{
			val(database.FieldTitle), val(database.FieldUsername), val(database.FieldEmail),
			val(database.FieldURL), val(database.FieldNotes),
		}
		out = append(out, f.Tags...)
		for name, cf := range f.Custom {
			if !cf.Protected {
				out = append(out, name, cf.Value)
			}
		}
		return out
	}
}
