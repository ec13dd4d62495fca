package database

import (
	"testing"

	"github.com/dmitrijs2005/vaultcore/internal/models"
	"github.com/stretchr/testify/require"
)

func TestDereference(t *testing.T) {
	f := models.Fields{
		Title:    "site",
		Username: "{EMAIL}",
		Password: "{PASSWORD}",
		Email:    "a@example.com",
		Notes:    "user {username} on {Title}",
		URL:      "{NOTES}",
		Custom:   map[string]models.CustomField{"Pin": {Value: "1234"}},
	}

	tests := []struct {
		name, in, want string
	}{
		{"plain", "no tokens", "no tokens"},
		{"single", "{TITLE}", "site"},
		{"case insensitive", "{title}", "site"},
		{"one level", "{USERNAME}", "a@example.com"},
		{"two levels", "{NOTES}", "user a@example.com on site"},
		{"depth limit", "{URL}", "user {EMAIL} on site"},
		{"self reference", "{PASSWORD}", "{PASSWORD}"},
		{"custom", "pin={S:Pin}", "pin=1234"},
		{"custom missing", "{S:pin}", "{S:pin}"},
		{"unknown", "{FOO}", "{FOO}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Dereference(f, tt.in))
		})
	}
}

func TestDereference_MutualCycle(t *testing.T) {
	f := models.Fields{Title: "{USERNAME}", Username: "{TITLE}"}
	require.Equal(t, "{TITLE}", DereferenceField(f, FieldTitle))
	require.Equal(t, "{USERNAME}", DereferenceField(f, FieldUsername))
	require.True(t, IsDereferenceable(f.Title))
	require.False(t, IsDereferenceable("plain {"))
}

func TestModel_Dereference(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, "alice@gmail", f.m.Dereference(f.gmail, "{USERNAME}@{TITLE}"))
}
