package database

import (
	"regexp"
	"slices"
	"strings"

	"github.com/dmitrijs2005/vaultcore/internal/models"
	"github.com/google/uuid"
)

// maxDerefDepth bounds nested expansion; a reference to a field that itself
// holds references is resolved, deeper chains are left verbatim.
const maxDerefDepth = 3

var derefToken = regexp.MustCompile(`\{([A-Za-z]+|[Ss]:[^{}]+)\}`)

// IsDereferenceable reports whether text contains a field reference token.
func IsDereferenceable(text string) bool {
	return derefToken.MatchString(text)
}

// Dereference substitutes {TITLE}, {USERNAME}, {PASSWORD}, {URL}, {NOTES},
// {EMAIL} and {S:name} tokens in text with values from f. Unknown tokens,
// self or mutual references and chains deeper than maxDerefDepth are left
// as written.
func Dereference(f models.Fields, text string) string {
	return expand(f, text, nil)
}

// DereferenceField resolves the references inside one of f's own fields.
func DereferenceField(f models.Fields, field FieldName) string {
	return expand(f, field.Value(f), []string{strings.ToUpper(string(field))})
}

func expand(f models.Fields, text string, stack []string) string {
	if !strings.Contains(text, "{") {
		return text
	}
	return derefToken.ReplaceAllStringFunc(text, func(tok string) string {
		key := tokenKey(tok[1 : len(tok)-1])
		if len(stack) >= maxDerefDepth || slices.Contains(stack, key) {
			return tok
		}
		v, ok := lookup(f, key)
		if !ok {
			return tok
		}
		return expand(f, v, append(slices.Clone(stack), key))
	})
}

// tokenKey upper-cases standard names; custom field names keep their case.
func tokenKey(name string) string {
	if len(name) > 2 && (name[0] == 'S' || name[0] == 's') && name[1] == ':' {
		return "S:" + name[2:]
	}
	return strings.ToUpper(name)
}

func lookup(f models.Fields, key string) (string, bool) {
	if custom, ok := strings.CutPrefix(key, "S:"); ok {
		cf, ok := f.Custom[custom]
		return cf.Value, ok
	}
	if fn := FieldName(strings.ToLower(key)); fn.ptr(&f) != nil {
		return fn.Value(f), true
	}
	return "", false
}

// Dereference resolves references in text against node id's fields.
func (m *Model) Dereference(id uuid.UUID, text string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.tree.Get(id)
	if !ok {
		return text
	}
	return Dereference(n.Fields, text)
}
