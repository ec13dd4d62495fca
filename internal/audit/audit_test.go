package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/events"
	"github.com/dmitrijs2005/vaultcore/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeChecker struct {
	mu     sync.Mutex
	pwned  map[string]bool
	broken map[string]bool
	calls  atomic.Int32
	gate   chan struct{}
}

func (f *fakeChecker) Check(ctx context.Context, pw string) (bool, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken[pw] {
		return false, errors.New("lookup failed")
	}
	return f.pwned[pw], nil
}

func entry(title, pw string) models.Node {
	return *models.NewEntry(models.Fields{Title: title, Password: pw})
}

// onlyDuplicates disables every check except duplicate grouping.
func onlyDuplicates() models.AuditConfig {
	return models.AuditConfig{CheckDuplicates: true}
}

func runOnce(t *testing.T, e *Engine, snap Snapshot) *models.AuditReport {
	t.Helper()
	e.Restart(context.Background(), snap)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Wait(ctx))
	require.Equal(t, StateCompleted, e.State())
	rep := e.Report()
	require.NotNil(t, rep)
	return rep
}

func TestAudit_Duplicates(t *testing.T) {
	a, b, c := entry("A", "s4me-Passw0rd!x"), entry("B", "s4me-Passw0rd!x"), entry("C", "s4me-Passw0rd!x")
	d := entry("D", "another-0ne!!")
	eng := New()

	rep := runOnce(t, eng, Snapshot{Entries: []models.Node{a, b, c, d}, Config: onlyDuplicates(), Now: now})
	require.ElementsMatch(t, []uuid.UUID{b.ID, c.ID}, rep.DuplicatesOf(a.ID))
	require.True(t, rep.FlagsFor(a.ID).Has(models.AuditDuplicate))
	require.False(t, rep.IsFlagged(d.ID))
	require.Equal(t, 3, rep.NodesWithIssues)
	require.Equal(t, 3, rep.IssueCount)

	// changing B's password drops it from the set on the next run
	b.Fields.Password = "different-Pw-77"
	rep = runOnce(t, eng, Snapshot{Entries: []models.Node{a, b, c, d}, Config: onlyDuplicates(), Now: now})
	require.Equal(t, []uuid.UUID{c.ID}, rep.DuplicatesOf(a.ID))
	require.Empty(t, rep.DuplicatesOf(b.ID))
	require.False(t, rep.IsFlagged(b.ID))
}

func TestAudit_CaseInsensitiveDuplicates(t *testing.T) {
	a, b := entry("A", "Hunter-Two-22"), entry("B", "hunter-two-22")
	cfg := onlyDuplicates()

	rep := runOnce(t, New(), Snapshot{Entries: []models.Node{a, b}, Config: cfg, Now: now})
	require.Empty(t, rep.Duplicates)

	cfg.CaseInsensitiveDuplicates = true
	rep = runOnce(t, New(), Snapshot{Entries: []models.Node{a, b}, Config: cfg, Now: now})
	require.Equal(t, []uuid.UUID{b.ID}, rep.DuplicatesOf(a.ID))
}

func TestAudit_Exclusions(t *testing.T) {
	a, b, c := entry("A", "shared-secret-1"), entry("B", "shared-secret-1"), entry("C", "shared-secret-1")
	rep := runOnce(t, New(), Snapshot{
		Entries:  []models.Node{a, b, c},
		Excluded: []uuid.UUID{c.ID},
		Config:   onlyDuplicates(),
		Now:      now,
	})
	require.Equal(t, []uuid.UUID{b.ID}, rep.DuplicatesOf(a.ID))
	require.False(t, rep.IsFlagged(c.ID))
	require.Empty(t, rep.DuplicatesOf(c.ID))
	require.Equal(t, 2, rep.EntriesScanned)
	require.Equal(t, 2, rep.NodesWithIssues)
}

func TestAudit_LocalChecks(t *testing.T) {
	empty := entry("empty", "")
	weak := entry("weak", "password")
	short := entry("short", "Xq9!")
	strong := entry("strong", "vR7#kLp2$wQz9!mN4@tB")
	expired := *models.NewEntry(models.Fields{Title: "old", Password: "vR7#kLp2$wQz9!mN4@tC"})
	past := now.Add(-time.Hour)
	expired.Fields.Expires = &past
	soon := *models.NewEntry(models.Fields{Title: "soon", Password: "vR7#kLp2$wQz9!mN4@tD"})
	next := now.Add(24 * time.Hour)
	soon.Fields.Expires = &next
	tfa := *models.NewEntry(models.Fields{Title: "gh", Password: "vR7#kLp2$wQz9!mN4@tE", URL: "https://github.com/login"})

	cfg := models.DefaultAuditConfig()
	cfg.CheckDuplicates = false
	cfg.CheckSimilar = false

	rep := runOnce(t, New(), Snapshot{
		Entries: []models.Node{empty, weak, short, strong, expired, soon, tfa},
		Config:  cfg,
		Now:     now,
	})
	require.Equal(t, models.AuditNoPassword, rep.FlagsFor(empty.ID))
	require.True(t, rep.FlagsFor(weak.ID).Has(models.AuditCommon|models.AuditTooShort|models.AuditWeak))
	require.True(t, rep.FlagsFor(short.ID).Has(models.AuditTooShort))
	require.False(t, rep.IsFlagged(strong.ID))
	require.Equal(t, models.AuditExpired, rep.FlagsFor(expired.ID))
	require.Equal(t, models.AuditNearlyExpired, rep.FlagsFor(soon.ID))
	require.Equal(t, models.AuditTwoFactorAvailable, rep.FlagsFor(tfa.ID))
}

func TestAudit_GroupsIgnored(t *testing.T) {
	g := *models.NewGroup("folder")
	rep := runOnce(t, New(), Snapshot{Entries: []models.Node{g}, Config: models.DefaultAuditConfig(), Now: now})
	require.Zero(t, rep.EntriesScanned)
	require.False(t, rep.IsFlagged(g.ID))
}

func TestAudit_Similar(t *testing.T) {
	a, b := entry("A", "correcthorse-2023"), entry("B", "correcthorse-2024")
	c := entry("C", "correcthorse-2024")
	d := entry("D", "zebra!Quantum#77")
	cfg := models.AuditConfig{CheckSimilar: true, SimilarityThreshold: 0.75}

	rep := runOnce(t, New(), Snapshot{Entries: []models.Node{a, b, c, d}, Config: cfg, Now: now})
	require.Len(t, rep.Similar, 1)
	require.ElementsMatch(t, []uuid.UUID{a.ID, b.ID, c.ID}, rep.Similar[0])
	require.ElementsMatch(t, []uuid.UUID{b.ID, c.ID}, rep.SimilarTo(a.ID))
	require.Empty(t, rep.SimilarTo(d.ID))
	require.True(t, rep.FlagsFor(b.ID).Has(models.AuditSimilar))
}

func TestSimilarity(t *testing.T) {
	require.InDelta(t, 1.0, Similarity("", ""), 1e-9)
	require.InDelta(t, 1.0, Similarity("abc", "abc"), 1e-9)
	require.InDelta(t, 0.75, Similarity("abcd", "abce"), 1e-9)
	require.InDelta(t, 0.0, Similarity("abc", "xyz"), 1e-9)
}

func TestAudit_Breaches(t *testing.T) {
	chk := &fakeChecker{
		pwned:  map[string]bool{"leaked-one-11": true},
		broken: map[string]bool{"flaky-lookup-22": true},
	}
	a, b := entry("A", "leaked-one-11"), entry("B", "leaked-one-11")
	c, d := entry("C", "flaky-lookup-22"), entry("D", "flaky-lookup-22")
	ok := entry("E", "fine-and-dandy-33")
	cfg := models.AuditConfig{CheckBreached: true}

	rep := runOnce(t, New(WithChecker(chk), WithConcurrency(2)), Snapshot{Entries: []models.Node{a, b, c, d, ok}, Config: cfg, Now: now})
	require.Equal(t, models.AuditBreached, rep.FlagsFor(a.ID))
	require.Equal(t, models.AuditBreached, rep.FlagsFor(b.ID))
	require.False(t, rep.IsFlagged(c.ID))
	require.False(t, rep.IsFlagged(ok.ID))
	require.Equal(t, 2, rep.BreachCheckFailed)
	// one lookup per unique password
	require.Equal(t, int32(3), chk.calls.Load())
}

func TestAudit_BreachLookupTimeout(t *testing.T) {
	// never answers; only the per-lookup deadline ends the call
	chk := &fakeChecker{gate: make(chan struct{})}
	a, b := entry("A", "slow-lookup-44"), entry("B", "slow-lookup-44")
	cfg := models.AuditConfig{CheckBreached: true}

	eng := New(WithChecker(chk), WithBreachTimeout(50*time.Millisecond))
	rep := runOnce(t, eng, Snapshot{Entries: []models.Node{a, b}, Config: cfg, Now: now})
	require.Equal(t, 2, rep.BreachCheckFailed)
	require.False(t, rep.IsFlagged(a.ID))
	require.False(t, rep.IsFlagged(b.ID))
	require.Equal(t, int32(1), chk.calls.Load())
}

func TestAudit_ProgressAndCompletedEvents(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	sub := bus.Subscribe(events.KindAuditProgress, events.KindAuditCompleted)

	eng := New(WithPublisher(bus))
	id := eng.Restart(context.Background(), Snapshot{
		Entries: []models.Node{entry("A", "x"), entry("B", "y")},
		Config:  models.DefaultAuditConfig(),
	})

	var progress []int
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-sub.C:
			switch ev := ev.(type) {
			case events.AuditProgress:
				require.Equal(t, id, ev.RunID)
				progress = append(progress, ev.Percent)
			case events.AuditCompleted:
				require.Equal(t, id, ev.RunID)
				require.NotNil(t, ev.Report)
				require.Equal(t, []int{50, 100}, progress)
				return
			}
		case <-timeout:
			t.Fatal("no completion event")
		}
	}
}

func TestAudit_ParallelProgressIsOrdered(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	sub := bus.Subscribe(events.KindAuditProgress, events.KindAuditCompleted)

	var entries []models.Node
	for i := range 40 {
		entries = append(entries, entry(fmt.Sprintf("E%d", i), fmt.Sprintf("distinct-password-%02d", i)))
	}
	eng := New(WithPublisher(bus), WithChecker(&fakeChecker{}), WithConcurrency(8))
	eng.Restart(context.Background(), Snapshot{Entries: entries, Config: models.AuditConfig{CheckBreached: true}})

	last := -1
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-sub.C:
			switch ev := ev.(type) {
			case events.AuditProgress:
				require.GreaterOrEqual(t, ev.Percent, last)
				last = ev.Percent
			case events.AuditCompleted:
				require.Equal(t, 100, last)
				return
			}
		case <-timeout:
			t.Fatal("no completion event")
		}
	}
}

func TestAudit_StopCancelsRun(t *testing.T) {
	chk := &fakeChecker{gate: make(chan struct{})}
	defer close(chk.gate)
	eng := New(WithChecker(chk))

	eng.Restart(context.Background(), Snapshot{
		Entries: []models.Node{entry("A", "slow-one-1"), entry("B", "slow-two-2")},
		Config:  models.AuditConfig{CheckBreached: true},
	})
	require.Eventually(t, func() bool { return chk.calls.Load() > 0 }, time.Second, 5*time.Millisecond)
	require.True(t, eng.IsRunning())

	eng.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, eng.Wait(ctx))
	require.Equal(t, StateStopped, eng.State())
	require.Nil(t, eng.Report())
}

func TestAudit_RestartReplacesRun(t *testing.T) {
	chk := &fakeChecker{gate: make(chan struct{})}
	eng := New(WithChecker(chk))
	first := eng.Restart(context.Background(), Snapshot{
		Entries: []models.Node{entry("A", "slow-one-1")},
		Config:  models.AuditConfig{CheckBreached: true},
	})
	require.Eventually(t, func() bool { return chk.calls.Load() > 0 }, time.Second, 5*time.Millisecond)

	a, b := entry("A", "dup-dup-dup"), entry("B", "dup-dup-dup")
	rep := runOnce(t, eng, Snapshot{Entries: []models.Node{a, b}, Config: onlyDuplicates(), Now: now})
	require.NotEqual(t, first, eng.RunID())
	require.Equal(t, []uuid.UUID{b.ID}, rep.DuplicatesOf(a.ID))
	close(chk.gate)

	eng.StopAndClear()
	require.Equal(t, StateIdle, eng.State())
	require.Nil(t, eng.Report())
}

func TestOneTimeCheck(t *testing.T) {
	chk := &fakeChecker{pwned: map[string]bool{"hunter2": true}, gate: make(chan struct{})}
	eng := New(WithChecker(chk))

	const callers = 5
	var wg sync.WaitGroup
	results := make([]bool, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pwned, err := eng.OneTimeCheck(context.Background(), "hunter2")
			if err == nil {
				results[i] = pwned
			}
		}()
	}
	require.Eventually(t, func() bool { return chk.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(chk.gate)
	wg.Wait()

	require.Equal(t, int32(1), chk.calls.Load())
	for _, r := range results {
		require.True(t, r)
	}
}

func TestOneTimeCheck_Errors(t *testing.T) {
	_, err := New().OneTimeCheck(context.Background(), "x")
	require.ErrorIs(t, err, common.ErrValidation)

	_, err = New(WithChecker(&fakeChecker{})).OneTimeCheck(context.Background(), "")
	require.ErrorIs(t, err, common.ErrValidation)

	chk := &fakeChecker{gate: make(chan struct{})}
	defer close(chk.gate)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = New(WithChecker(chk)).OneTimeCheck(ctx, "y")
	require.ErrorIs(t, err, common.ErrCancelled)
}
