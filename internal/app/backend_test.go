package app

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/config"
	"github.com/dmitrijs2005/vaultcore/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	var c config.Config
	c.LoadDefaults()
	c.DataDir = t.TempDir()
	c.BoltPath = filepath.Join(c.DataDir, "vaults.db")
	c.PreferencesDB = filepath.Join(c.DataDir, "preferences.db")
	return &c
}

func TestOpenStorage(t *testing.T) {
	ctx := context.Background()

	for _, backend := range []string{config.BackendMemory, config.BackendFile, config.BackendBolt} {
		t.Run(backend, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Backend = backend

			s, closeStore, err := OpenStorage(ctx, cfg)
			require.NoError(t, err)
			defer func() { require.NoError(t, closeStore()) }()

			rev, err := s.Save(ctx, "main", []byte("blob"))
			require.NoError(t, err)
			data, got, err := s.Load(ctx, "main")
			require.NoError(t, err)
			assert.Equal(t, []byte("blob"), data)
			assert.Equal(t, rev, got)
		})
	}

	t.Run("postgres without dsn", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Backend = config.BackendPostgres
		_, _, err := OpenStorage(ctx, cfg)
		require.ErrorIs(t, err, common.ErrValidation)
	})

	t.Run("unknown", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Backend = "floppy"
		_, _, err := OpenStorage(ctx, cfg)
		require.ErrorIs(t, err, common.ErrValidation)
	})
}

func TestOpenPreferences(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.PreferencesDB = filepath.Join(cfg.DataDir, "nested", "preferences.db")

	store, closeDB, err := OpenPreferences(ctx, cfg)
	require.NoError(t, err)
	defer closeDB()

	p := models.DefaultPreferences()
	p.ConflictStrategy = models.ConflictKeepRemote
	require.NoError(t, store.Save(ctx, "main", p))

	got, err := store.Load(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, models.ConflictKeepRemote, got.ConflictStrategy)
}

func TestNewChecker_UsesConfiguredEndpoint(t *testing.T) {
	sum := sha1.Sum([]byte("hunter2"))
	hash := strings.ToUpper(hex.EncodeToString(sum[:]))

	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		assert.Equal(t, "/range/"+hash[:5], r.URL.Path)
		fmt.Fprintf(w, "%s:42\r\n0000000000000000000000000000000000A:1\r\n", hash[5:])
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.BreachURL = srv.URL
	cfg.BreachTimeout = time.Second

	hit, err := NewChecker(cfg).Check(context.Background(), "hunter2")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 1, hits)
}
