package cli

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/config"
	"github.com/dmitrijs2005/vaultcore/internal/cryptox"
	"github.com/dmitrijs2005/vaultcore/internal/database"
	"github.com/dmitrijs2005/vaultcore/internal/format"
	"github.com/dmitrijs2005/vaultcore/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

var fast = format.GKV2{Params: cryptox.KDFParams{Time: 1, Memory: 1024, Threads: 1}}

// stubPasswords makes readPassword return pws in order, then fail.
func stubPasswords(t *testing.T, pws ...string) {
	t.Helper()
	orig := readPassword
	readPassword = func(int) ([]byte, error) {
		if len(pws) == 0 {
			return nil, errors.New("no terminal")
		}
		pw := pws[0]
		pws = pws[1:]
		return []byte(pw), nil
	}
	t.Cleanup(func() { readPassword = orig })
}

func stubKeyring(t *testing.T) map[string]string {
	t.Helper()
	secrets := map[string]string{}
	get, set, del := keyringGet, keyringSet, keyringDelete
	keyringGet = func(service, user string) (string, error) {
		if v, ok := secrets[service+"/"+user]; ok {
			return v, nil
		}
		return "", keyring.ErrNotFound
	}
	keyringSet = func(service, user, pw string) error {
		secrets[service+"/"+user] = pw
		return nil
	}
	keyringDelete = func(service, user string) error {
		delete(secrets, service+"/"+user)
		return nil
	}
	t.Cleanup(func() { keyringGet, keyringSet, keyringDelete = get, set, del })
	return secrets
}

func testConfig(dir string) *config.Config {
	var c config.Config
	c.LoadDefaults()
	c.DataDir = dir
	c.Backend = config.BackendFile
	c.PreferencesDB = filepath.Join(dir, "preferences.db")
	c.MonitorInterval = 0
	return &c
}

func newTestApp(t *testing.T, cfg *config.Config, input string) (*App, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	a := NewApp(cfg, strings.NewReader(input), &out, nil)
	a.encoder = fast
	a.checker = nil
	t.Cleanup(a.Close)
	return a, &out
}

func initVault(t *testing.T, cfg *config.Config) {
	t.Helper()
	stubPasswords(t, "pw", "pw")
	a, out := newTestApp(t, cfg, "")
	require.NoError(t, a.Run(context.Background(), []string{"init"}))
	assert.Contains(t, out.String(), "created vault main (gkv2)")
	a.Close()
}

func addEntry(t *testing.T, cfg *config.Config, input string, args ...string) {
	t.Helper()
	stubPasswords(t, "pw", "Entry-Pa55word!")
	a, out := newTestApp(t, cfg, input)
	require.NoError(t, a.Run(context.Background(), append([]string{"add"}, args...)))
	assert.Contains(t, out.String(), "added ")
	a.Close()
}

func TestRun_InitAddBrowse(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t.TempDir())
	initVault(t, cfg)
	addEntry(t, cfg, "mail\nalice\nhttps://mail.example\nfirst line\n\n")

	stubPasswords(t, "pw")
	a, out := newTestApp(t, cfg, "")

	require.NoError(t, a.Run(ctx, []string{"ls"}))
	assert.Contains(t, out.String(), "mail")
	assert.Contains(t, out.String(), "Recycle Bin/")

	out.Reset()
	require.NoError(t, a.Run(ctx, []string{"show", "mail"}))
	assert.Contains(t, out.String(), "alice")
	assert.Contains(t, out.String(), "********")
	assert.Contains(t, out.String(), "first line")

	out.Reset()
	require.NoError(t, a.Run(ctx, []string{"show", "-p", "mail"}))
	assert.Contains(t, out.String(), "Entry-Pa55word!")

	out.Reset()
	require.NoError(t, a.Run(ctx, []string{"search", "alice"}))
	assert.Contains(t, out.String(), "mail")

	require.ErrorIs(t, a.Run(ctx, []string{"show", "bank"}), common.ErrorNotFound)
	require.ErrorIs(t, a.Run(ctx, []string{"frobnicate"}), ErrUnknownCommand)
}

func TestRun_InitErrors(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t.TempDir())

	t.Run("mismatched passwords", func(t *testing.T) {
		stubPasswords(t, "pw", "other")
		a, _ := newTestApp(t, cfg, "")
		require.ErrorIs(t, a.Run(ctx, []string{"init"}), common.ErrValidation)
	})

	t.Run("unknown format", func(t *testing.T) {
		a, _ := newTestApp(t, cfg, "")
		require.ErrorIs(t, a.Run(ctx, []string{"init", "-format", "csv"}), common.ErrUnsupportedFormat)
	})

	initVault(t, cfg)

	t.Run("already exists", func(t *testing.T) {
		stubPasswords(t, "pw", "pw")
		a, _ := newTestApp(t, cfg, "")
		require.ErrorIs(t, a.Run(ctx, []string{"init"}), common.ErrValidation)
	})

	t.Run("wrong password", func(t *testing.T) {
		stubPasswords(t, "nope")
		a, _ := newTestApp(t, cfg, "")
		require.ErrorIs(t, a.Run(ctx, []string{"ls"}), common.ErrCredential)
	})
}

func TestRun_Keyring(t *testing.T) {
	ctx := context.Background()
	secrets := stubKeyring(t)
	cfg := testConfig(t.TempDir())
	cfg.UseKeyring = true

	initVault(t, cfg)
	assert.Equal(t, "pw", secrets[keyringService+"/main"])

	// no terminal: the keyring copy must be enough
	stubPasswords(t)
	a, _ := newTestApp(t, cfg, "")
	require.NoError(t, a.Run(ctx, []string{"ls"}))
	a.Close()

	secrets[keyringService+"/main"] = "stale"
	stubPasswords(t, "pw")
	a, _ = newTestApp(t, cfg, "")
	require.NoError(t, a.Run(ctx, []string{"ls"}))
	assert.Equal(t, "pw", secrets[keyringService+"/main"])
}

func TestRun_RemoveAndFavourite(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t.TempDir())
	initVault(t, cfg)
	addEntry(t, cfg, "mail\nalice\n\n\n")

	stubPasswords(t, "pw")
	a, out := newTestApp(t, cfg, "")

	require.NoError(t, a.Run(ctx, []string{"fav", "mail"}))
	assert.Contains(t, out.String(), "mail favourite: true")

	n, err := a.resolve("mail")
	require.NoError(t, err)
	require.NoError(t, a.Run(ctx, []string{"rm", "mail"}))

	db := a.session.DB()
	assert.False(t, db.CanRecycle(n.ID), "already in the bin")
	for _, e := range db.ActiveEntries() {
		assert.NotEqual(t, n.ID, e.ID)
	}
}

func TestRun_OTP(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t.TempDir())
	initVault(t, cfg)
	addEntry(t, cfg, "github\nalice\n\n\n", "-totp")

	stubPasswords(t, "pw")
	a, out := newTestApp(t, cfg, "")
	require.NoError(t, a.Run(ctx, []string{"otp", "github"}))
	assert.Regexp(t, regexp.MustCompile(`(?m)^\d{6}$`), out.String())

	out.Reset()
	require.NoError(t, a.Run(ctx, []string{"show", "github"}))
	assert.Contains(t, out.String(), "TOTP:")
}

func TestRun_SyncAsksOnConflict(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t.TempDir())
	initVault(t, cfg)
	addEntry(t, cfg, "mail\nalice\n\n\n")

	stubPasswords(t, "pw", "pw")
	first, _ := newTestApp(t, cfg, "")
	require.NoError(t, first.unlock(ctx, false, ""))
	second, out := newTestApp(t, cfg, "r\n")
	require.NoError(t, second.unlock(ctx, false, ""))

	n, err := first.resolve("mail")
	require.NoError(t, err)
	require.NoError(t, first.session.DB().SetField(n.ID, database.FieldUsername, "bob"))
	require.NoError(t, first.Run(ctx, []string{"sync"}))

	require.NoError(t, second.session.DB().SetField(n.ID, database.FieldUsername, "carol"))
	require.NoError(t, second.Run(ctx, []string{"sync"}))

	assert.Contains(t, out.String(), "conflict in mail")
	got, ok := second.session.DB().GetByID(n.ID)
	require.True(t, ok)
	assert.Equal(t, "bob", got.Fields.Username)
}

func TestRun_ConflictStrategyFromConfig(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t.TempDir())
	initVault(t, cfg)

	cfg.ConflictStrategy = "keep-local"
	stubPasswords(t, "pw")
	a, _ := newTestApp(t, cfg, "")
	require.NoError(t, a.Run(ctx, []string{"ls"}))
	assert.Equal(t, models.ConflictKeepLocal, a.session.DB().Preferences().ConflictStrategy)
}

func TestRun_Version(t *testing.T) {
	a, out := newTestApp(t, testConfig(t.TempDir()), "")
	require.NoError(t, a.Run(context.Background(), []string{"version"}))
	assert.Contains(t, out.String(), "Build version:")
}

func TestRun_ReadOnly(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t.TempDir())
	initVault(t, cfg)
	addEntry(t, cfg, "mail\nalice\n\n\n")

	cfg.ReadOnly = true
	stubPasswords(t, "pw", "Entry-Pa55word!")
	a, out := newTestApp(t, cfg, "bank\n\n\n\n")

	require.NoError(t, a.Run(ctx, []string{"ls"}))
	assert.Contains(t, out.String(), "mail")
	assert.Contains(t, a.status(), "read-only")

	require.ErrorIs(t, a.Run(ctx, []string{"add"}), common.ErrReadOnly)
	require.ErrorIs(t, a.Run(ctx, []string{"rm", "mail"}), common.ErrReadOnly)
	_, err := a.resolve("mail")
	require.NoError(t, err)

	stubPasswords(t, "pw", "pw")
	b, _ := newTestApp(t, cfg, "")
	require.ErrorIs(t, b.Run(ctx, []string{"init", "-format", "gkv2"}), common.ErrReadOnly)
}

func TestRun_GeneratedPasswords(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t.TempDir())

	a, out := newTestApp(t, cfg, "")
	require.NoError(t, a.Run(ctx, []string{"gen", "-len", "32", "-no-symbols"}))
	assert.Regexp(t, regexp.MustCompile(`^[A-Za-z0-9]{32}\n$`), out.String())
	require.ErrorIs(t, a.Run(ctx, []string{"gen", "-len", "2"}), common.ErrValidation)

	initVault(t, cfg)
	stubPasswords(t, "pw")
	b, out := newTestApp(t, cfg, "bank\nalice\n\n\n")
	require.NoError(t, b.Run(ctx, []string{"add", "-gen"}))
	assert.NotContains(t, out.String(), "Entry password:")

	n, err := b.resolve("bank")
	require.NoError(t, err)
	assert.Len(t, n.Fields.Password, 20)
}
