package app

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/cryptox"
	"github.com/dmitrijs2005/vaultcore/internal/events"
	"github.com/dmitrijs2005/vaultcore/internal/format"
	"github.com/dmitrijs2005/vaultcore/internal/models"
	"github.com/dmitrijs2005/vaultcore/internal/search"
	"github.com/dmitrijs2005/vaultcore/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fast = format.GKV2{Params: cryptox.KDFParams{Time: 1, Memory: 1024, Threads: 1}}

type fakeChecker struct {
	calls    atomic.Int32
	breached map[string]bool
}

func (c *fakeChecker) Check(_ context.Context, pw string) (bool, error) {
	c.calls.Add(1)
	return c.breached[pw], nil
}

func options(store storage.Storage, pw string) Options {
	return Options{
		ID:      "main",
		Key:     models.CompositeKey{Password: []byte(pw)},
		Store:   store,
		Encoder: fast,
	}
}

func TestCreate_ThenOpen(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()

	s, err := Create(ctx, options(store, "pw"), models.FormatGKV2)
	require.NoError(t, err)
	id, err := s.DB().AddNewEntry(s.DB().RootID(), models.Fields{Title: "mail", Password: "correct horse battery staple"})
	require.NoError(t, err)
	require.True(t, s.Save(ctx).Succeeded())
	s.Close()
	s.Close()

	reopened, err := Open(ctx, options(store, "pw"))
	require.NoError(t, err)
	defer reopened.Close()

	n, ok := reopened.DB().GetByID(id)
	require.True(t, ok)
	assert.Equal(t, "mail", n.Fields.Title)

	hits := reopened.Search().Search(search.Query{Text: "mail"})
	require.Len(t, hits, 1)
	assert.Equal(t, id, hits[0].ID)
}

func TestCreate_RefusesExisting(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()

	s, err := Create(ctx, options(store, "pw"), models.FormatGKV2)
	require.NoError(t, err)
	s.Close()

	_, err = Create(ctx, options(store, "pw"), models.FormatGKV2)
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestOpen_ReadOnly(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()

	ro := options(store, "pw")
	ro.ReadOnly = true
	_, err := Create(ctx, ro, models.FormatGKV2)
	require.ErrorIs(t, err, common.ErrReadOnly)

	s, err := Create(ctx, options(store, "pw"), models.FormatGKV2)
	require.NoError(t, err)
	s.Close()

	s, err = Open(ctx, ro)
	require.NoError(t, err)
	defer s.Close()
	require.True(t, s.DB().ReadOnly())
	_, err = s.DB().AddNewEntry(s.DB().RootID(), models.Fields{Title: "mail"})
	require.ErrorIs(t, err, common.ErrReadOnly)
	require.True(t, s.Save(ctx).Succeeded(), "nothing to write back")
}

func TestOpen_Errors(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()

	_, err := Open(ctx, options(store, "pw"))
	require.ErrorIs(t, err, common.ErrorNotFound)

	s, err := Create(ctx, options(store, "pw"), models.FormatGKV2)
	require.NoError(t, err)
	s.Close()

	_, err = Open(ctx, options(store, "wrong"))
	require.ErrorIs(t, err, common.ErrCredential)
}

func TestSession_AuditFollowsEdits(t *testing.T) {
	ctx := context.Background()
	s, err := Create(ctx, options(storage.NewMemory(), "pw"), models.FormatGKV2)
	require.NoError(t, err)
	defer s.Close()

	sub := s.Subscribe(events.KindAuditCompleted)
	defer sub.Close()

	db := s.DB()
	a, err := db.AddNewEntry(db.RootID(), models.Fields{Title: "a", Password: "Tr0ub4dor&3-xyzzy"})
	require.NoError(t, err)
	b, err := db.AddNewEntry(db.RootID(), models.Fields{Title: "b", Password: "Tr0ub4dor&3-xyzzy"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		rep := s.Audit().Report()
		return rep.FlagsFor(a).Has(models.AuditDuplicate) && rep.FlagsFor(b).Has(models.AuditDuplicate)
	}, 3*time.Second, 10*time.Millisecond)

	select {
	case <-sub.C:
	case <-time.After(3 * time.Second):
		t.Fatal("no audit completion event")
	}

	// excluding one side clears the duplicate on the other
	require.NoError(t, db.SetAuditExclusion(ctx, b, true))
	require.Eventually(t, func() bool {
		rep := s.Audit().Report()
		return rep != nil && !rep.FlagsFor(a).Has(models.AuditDuplicate)
	}, 3*time.Second, 10*time.Millisecond)
}

func TestSession_BreachChecks(t *testing.T) {
	ctx := context.Background()
	checker := &fakeChecker{breached: map[string]bool{"hunter2": true}}
	o := options(storage.NewMemory(), "pw")
	o.Checker = checker
	o.BreachTimeout = time.Second

	s, err := Create(ctx, o, models.FormatGKV2)
	require.NoError(t, err)
	defer s.Close()

	hit, err := s.CheckPassword(ctx, "hunter2")
	require.NoError(t, err)
	assert.True(t, hit)

	hit, err = s.CheckPassword(ctx, "something else")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.EqualValues(t, 2, checker.calls.Load())
}

func TestSession_MonitorPullsRemoteChanges(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()

	first, err := Create(ctx, options(store, "pw"), models.FormatGKV2)
	require.NoError(t, err)
	defer first.Close()

	o := options(store, "pw")
	o.MonitorInterval = time.Second
	watcher, err := Open(ctx, o)
	require.NoError(t, err)
	defer watcher.Close()

	id, err := first.DB().AddNewEntry(first.DB().RootID(), models.Fields{Title: "remote"})
	require.NoError(t, err)
	require.True(t, first.Save(ctx).Succeeded())

	require.Eventually(t, func() bool {
		_, ok := watcher.DB().GetByID(id)
		return ok
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, first.Coordinator().Revision(), watcher.Coordinator().Revision())
}
