package audit

import (
	"bufio"
	"context"
	_ "embed"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/dmitrijs2005/vaultcore/internal/breach"
	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/database"
	"github.com/dmitrijs2005/vaultcore/internal/models"
	"github.com/dmitrijs2005/vaultcore/internal/otpx"
	"github.com/google/uuid"
	"github.com/nbutton23/zxcvbn-go"
	"golang.org/x/sync/errgroup"
)

//go:embed data/common.txt
var commonList string

//go:embed data/twofactor.txt
var twoFactorList string

var (
	commonPasswords  = loadSet(commonList)
	twoFactorDomains = loadSet(twoFactorList)
)

func loadSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out[strings.ToLower(line)] = struct{}{}
	}
	return out
}

// IsCommon reports whether pw is on the embedded common-password list.
func IsCommon(pw string) bool {
	_, ok := commonPasswords[strings.ToLower(pw)]
	return ok
}

// Entropy estimates password strength in bits.
func Entropy(pw string) float64 {
	if pw == "" {
		return 0
	}
	return zxcvbn.PasswordStrength(pw, nil).Entropy
}

// Similarity is 1 - editDistance/maxLen, in [0, 1].
func Similarity(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	n := max(la, lb)
	if n == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(n)
}

func offersTwoFactor(rawURL string) bool {
	d := database.Domain(rawURL)
	if d == "" {
		return false
	}
	_, ok := twoFactorDomains[d]
	return ok
}

// Snapshot is the immutable input of one audit run.
type Snapshot struct {
	Entries  []models.Node
	Excluded []uuid.UUID
	Config   models.AuditConfig
	Now      time.Time
}

type runner struct {
	snap     Snapshot
	checker  breach.Checker
	timeout  time.Duration
	limit    int
	progress func(pct int)

	mu    sync.Mutex
	done  int
	total int
}

// step counts one finished unit and reports progress. The callback runs under
// r.mu so parallel lookups publish percentages in order.
func (r *runner) step() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done++
	pct := 100
	if r.total > 0 {
		pct = r.done * 100 / r.total
	}
	if r.progress != nil {
		r.progress(pct)
	}
}

// run scans the snapshot. Cancellation is checked between entries and
// between breach lookups; a cancelled run returns common.ErrCancelled.
func (r *runner) run(ctx context.Context) (*models.AuditReport, error) {
	cfg := r.snap.Config
	excluded := make(map[uuid.UUID]bool, len(r.snap.Excluded))
	for _, id := range r.snap.Excluded {
		excluded[id] = true
	}
	entries := slices.DeleteFunc(slices.Clone(r.snap.Entries), func(n models.Node) bool {
		return n.IsGroup() || excluded[n.ID]
	})

	// unique exact password values and the entries sharing each
	byPassword := make(map[string][]uuid.UUID)
	var order []string
	for _, e := range entries {
		pw := e.Fields.Password
		if pw == "" {
			continue
		}
		if _, ok := byPassword[pw]; !ok {
			order = append(order, pw)
		}
		byPassword[pw] = append(byPassword[pw], e.ID)
	}

	checkBreach := cfg.CheckBreached && r.checker != nil
	r.total = len(entries)
	if checkBreach {
		r.total += len(order)
	}

	flags := make(map[uuid.UUID]models.AuditFlag, len(entries))
	dupes := make(map[string][]uuid.UUID)
	sim := newUnionFind()
	var seen []string

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, common.ErrCancelled
		}
		f := r.localFlags(e)
		pw := e.Fields.Password

		if pw != "" && cfg.CheckDuplicates {
			key := pw
			if cfg.CaseInsensitiveDuplicates {
				key = strings.ToLower(pw)
			}
			dupes[key] = append(dupes[key], e.ID)
		}
		if pw != "" && cfg.CheckSimilar && !sim.has(pw) {
			sim.add(pw)
			for _, other := range seen {
				if Similarity(pw, other) >= cfg.SimilarityThreshold {
					sim.union(pw, other)
				}
			}
			seen = append(seen, pw)
		}
		flags[e.ID] = f
		r.step()
	}

	rep := &models.AuditReport{
		Flags:          flags,
		Duplicates:     make(map[string][]uuid.UUID),
		EntriesScanned: len(entries),
	}
	for key, ids := range dupes {
		if len(ids) < 2 {
			continue
		}
		rep.Duplicates[key] = ids
		for _, id := range ids {
			flags[id] |= models.AuditDuplicate
		}
	}
	if cfg.CheckSimilar {
		for _, pws := range sim.clusters() {
			var ids []uuid.UUID
			for _, pw := range pws {
				ids = append(ids, byPassword[pw]...)
			}
			slices.SortFunc(ids, models.CompareUUID)
			rep.Similar = append(rep.Similar, ids)
			for _, id := range ids {
				flags[id] |= models.AuditSimilar
			}
		}
	}

	if checkBreach {
		failed, err := r.breaches(ctx, order, byPassword, flags)
		if err != nil {
			return nil, err
		}
		rep.BreachCheckFailed = failed
	}

	for id, f := range flags {
		if f == 0 {
			delete(flags, id)
			continue
		}
		rep.NodesWithIssues++
		rep.IssueCount += f.Count()
	}
	rep.CompletedAt = time.Now().UTC()
	return rep, nil
}

func (r *runner) localFlags(e models.Node) models.AuditFlag {
	cfg := r.snap.Config
	pw := e.Fields.Password
	var f models.AuditFlag

	if pw == "" {
		if cfg.CheckNoPasswords {
			f |= models.AuditNoPassword
		}
	} else {
		if cfg.CheckCommon && IsCommon(pw) {
			f |= models.AuditCommon
		}
		if cfg.CheckMinLength && utf8.RuneCountInString(pw) < cfg.MinLength {
			f |= models.AuditTooShort
		}
		if cfg.CheckWeak && Entropy(pw) < cfg.MinEntropy {
			f |= models.AuditWeak
		}
	}
	if cfg.CheckExpiry {
		if e.Fields.Expired(r.snap.Now) {
			f |= models.AuditExpired
		} else if e.Fields.NearlyExpired(r.snap.Now, cfg.NearlyExpiredWindow) {
			f |= models.AuditNearlyExpired
		}
	}
	if cfg.CheckTwoFactor && offersTwoFactor(e.Fields.URL) && !otpx.HasTOTP(e.Fields) {
		f |= models.AuditTwoFactorAvailable
	}
	return f
}

// breaches checks each unique password once. A failed or timed-out lookup
// counts every entry sharing that password as unchecked and does not abort
// the run.
func (r *runner) breaches(ctx context.Context, order []string, byPassword map[string][]uuid.UUID, flags map[uuid.UUID]models.AuditFlag) (int, error) {
	var (
		mu     sync.Mutex
		failed int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.limit, 1))

	for _, pw := range order {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			cctx, cancel := gctx, context.CancelFunc(func() {})
			if r.timeout > 0 {
				cctx, cancel = context.WithTimeout(gctx, r.timeout)
			}
			pwned, err := r.checker.Check(cctx, pw)
			cancel()

			ids := byPassword[pw]
			mu.Lock()
			switch {
			case err != nil:
				failed += len(ids)
			case pwned:
				for _, id := range ids {
					flags[id] |= models.AuditBreached
				}
			}
			mu.Unlock()
			r.step()
			return nil
		})
	}
	if err := g.Wait(); err != nil || ctx.Err() != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return 0, common.ErrCancelled
		}
		return 0, err
	}
	return failed, nil
}

// unionFind groups password values into similarity clusters.
type unionFind struct {
	parent map[string]string
	order  []string
}

func newUnionFind() *unionFind { return &unionFind{parent: map[string]string{}} }

func (u *unionFind) has(x string) bool {
	_, ok := u.parent[x]
	return ok
}

func (u *unionFind) add(x string) {
	u.parent[x] = x
	u.order = append(u.order, x)
}

func (u *unionFind) find(x string) string {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[rb] = ra
	}
}

// clusters returns the sets with more than one distinct password, in
// insertion order.
func (u *unionFind) clusters() [][]string {
	groups := make(map[string][]string)
	var roots []string
	for _, x := range u.order {
		r := u.find(x)
		if _, ok := groups[r]; !ok {
			roots = append(roots, r)
		}
		groups[r] = append(groups[r], x)
	}
	var out [][]string
	for _, r := range roots {
		if len(groups[r]) > 1 {
			out = append(out, groups[r])
		}
	}
	return out
}
