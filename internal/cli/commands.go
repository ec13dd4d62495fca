package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dmitrijs2005/vaultcore/internal/buildinfo"
	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/database"
	"github.com/dmitrijs2005/vaultcore/internal/models"
	"github.com/dmitrijs2005/vaultcore/internal/otpx"
	"github.com/dmitrijs2005/vaultcore/internal/passgen"
	"github.com/dmitrijs2005/vaultcore/internal/search"
	"github.com/google/uuid"
)

var ErrUnknownCommand = errors.New("unknown command")

const usage = `usage: vaultctl [global flags] <command> [args]

commands:
  init [-format gkv2|gkv1]   create the vault
  ls [group]                 list a group
  search <text>              search entries (also: expired, weak, breached, ...)
  show <entry> [-p]          show an entry
  add [-group g] [-totp] [-gen]
                             add an entry, optionally with a generated password
  gen [-len n] [-no-symbols] print a random password
  rm <entry>                 move to the recycle bin or delete
  fav <entry>                toggle favourite
  otp <entry>                print the TOTP code
  audit                      run the password audit
  check                      breach-check a password
  update                     pull remote changes
  sync                       merge and save
  shell                      interactive mode
  version                    print build info`

// Run executes one command line and returns when it is done.
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		args = []string{"shell"}
	}
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "help", "-h", "--help":
		fmt.Fprintln(a.out, usage)
		return nil
	case "version":
		buildinfo.PrintBuildData(a.out)
		return nil
	case "init":
		return a.initVault(ctx, rest)
	case "gen":
		return a.generate(rest)
	}

	if err := a.unlock(ctx, false, ""); err != nil {
		return err
	}
	if cmd == "shell" {
		runREPL(ctx, a, a.status, a.reader)
		return nil
	}
	return a.dispatch(ctx, cmd, rest)
}

func (a *App) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "ls", "l", "list":
		return a.list(args)
	case "search", "find":
		return a.search(args)
	case "show":
		return a.show(args)
	case "add":
		return a.add(ctx, args)
	case "rm", "delete":
		return a.remove(ctx, args)
	case "fav":
		return a.favourite(ctx, args)
	case "otp":
		return a.otp(args)
	case "audit":
		return a.audit(ctx)
	case "check":
		return a.check(ctx)
	case "update":
		return a.report(ctx, a.session.Update(ctx))
	case "sync", "save":
		return a.report(ctx, a.session.Save(ctx))
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, cmd)
	}
}

func (a *App) initVault(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	f := fs.String("format", string(models.FormatGKV2), "vault format")
	if err := fs.Parse(args); err != nil {
		return err
	}
	switch models.Format(*f) {
	case models.FormatGKV1, models.FormatGKV2:
	default:
		return fmt.Errorf("%w: format %q", common.ErrUnsupportedFormat, *f)
	}
	if err := a.unlock(ctx, true, models.Format(*f)); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "created vault %s (%s)\n", a.cfg.VaultID, *f)
	return nil
}

// resolve finds one node by id, exact title or a unique search hit.
func (a *App) resolve(ref string) (models.Node, error) {
	db := a.session.DB()
	if id, err := uuid.Parse(ref); err == nil {
		if n, ok := db.GetByID(id); ok {
			return *n, nil
		}
	}

	var exact []models.Node
	for _, n := range db.AllEntries() {
		if strings.EqualFold(n.Fields.Title, ref) {
			exact = append(exact, n)
		}
	}
	hits := exact
	if len(hits) == 0 {
		hits = a.session.Search().Search(search.Query{Text: ref})
	}
	switch len(hits) {
	case 0:
		return models.Node{}, fmt.Errorf("%q: %w", ref, common.ErrorNotFound)
	case 1:
		return hits[0], nil
	default:
		return models.Node{}, fmt.Errorf("%w: %q matches %d entries, use the id", common.ErrValidation, ref, len(hits))
	}
}

// group resolves a slash-separated title path from the root.
func (a *App) group(path string) (uuid.UUID, error) {
	db := a.session.DB()
	id := db.RootID()
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		if part == "" {
			continue
		}
		found := false
		for _, c := range db.Children(id) {
			if c.IsGroup() && strings.EqualFold(c.Fields.Title, part) {
				id, found = c.ID, true
				break
			}
		}
		if !found {
			return uuid.Nil, fmt.Errorf("group %q: %w", path, common.ErrorNotFound)
		}
	}
	return id, nil
}

func (a *App) printNodes(nodes []models.Node) {
	rep := a.session.Audit().Report()
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tUSERNAME\tISSUES")
	for _, n := range nodes {
		title := n.Fields.Title
		if n.IsGroup() {
			title += "/"
		} else if a.session.DB().IsFavourite(n.ID) {
			title = "* " + title
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", n.ID, title, n.Fields.Username, strings.Join(rep.FlagsFor(n.ID).Names(), ","))
	}
	tw.Flush()
}

func (a *App) list(args []string) error {
	id, err := a.group(strings.Join(args, " "))
	if err != nil {
		return err
	}
	a.printNodes(a.session.Search().Browse(id, search.BrowseFilter{IncludeGroups: true, IncludeExpired: true, IncludeRecycleBin: true}, models.ViewHierarchy))
	return nil
}

func (a *App) search(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: usage: search <text>", common.ErrValidation)
	}
	a.printNodes(a.session.Search().Search(search.Query{Text: strings.Join(args, " "), Dereference: true}))
	return nil
}

func (a *App) show(args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	reveal := fs.Bool("p", false, "reveal password")
	ref, err := parseWithRef(fs, args)
	if err != nil {
		return err
	}
	n, err := a.resolve(ref)
	if err != nil {
		return err
	}

	f := n.Fields
	pw := "********"
	if *reveal || f.Password == "" {
		pw = f.Password
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Path:\t/%s\n", strings.Join(a.session.DB().Path(n.ID), "/"))
	fmt.Fprintf(tw, "Title:\t%s\n", f.Title)
	fmt.Fprintf(tw, "Username:\t%s\n", f.Username)
	fmt.Fprintf(tw, "Password:\t%s\n", pw)
	fmt.Fprintf(tw, "URL:\t%s\n", f.URL)
	if f.Expires != nil {
		fmt.Fprintf(tw, "Expires:\t%s\n", f.Expires.Format("2006-01-02"))
	}
	if code, err := otpx.Code(f, a.now()); err == nil {
		fmt.Fprintf(tw, "TOTP:\t%s\n", code)
	}
	if names := a.session.Audit().Report().FlagsFor(n.ID).Names(); len(names) > 0 {
		fmt.Fprintf(tw, "Issues:\t%s\n", strings.Join(names, ", "))
	}
	tw.Flush()
	if f.Notes != "" {
		fmt.Fprintf(a.out, "\n%s\n", f.Notes)
	}
	return nil
}

func (a *App) add(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	groupPath := fs.String("group", "", "parent group path")
	withTOTP := fs.Bool("totp", false, "generate a TOTP secret")
	generated := fs.Bool("gen", false, "generate the entry password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	parent, err := a.group(*groupPath)
	if err != nil {
		return err
	}

	var f models.Fields
	if f.Title, err = GetSimpleText(a.reader, "Title", a.out); err != nil {
		return err
	}
	if f.Title == "" {
		return fmt.Errorf("%w: title is required", common.ErrValidation)
	}
	if f.Username, err = GetSimpleText(a.reader, "Username", a.out); err != nil {
		return err
	}
	if f.URL, err = GetSimpleText(a.reader, "URL", a.out); err != nil {
		return err
	}
	if *generated {
		if f.Password, err = passgen.Generate(passgen.Default()); err != nil {
			return err
		}
	} else {
		pw, err := GetPassword(a.out, "Entry password: ")
		if err != nil {
			return err
		}
		f.Password = string(pw)
		common.WipeByteArray(pw)
	}
	if f.Notes, err = GetMultiline(a.reader, "Notes", a.out); err != nil {
		return err
	}

	db := a.session.DB()
	id, err := db.AddNewEntry(parent, f)
	if err != nil {
		return err
	}
	if *withTOTP {
		account := f.Username
		if account == "" {
			account = f.Title
		}
		u, err := otpx.Generate("vaultcore", account)
		if err != nil {
			return err
		}
		if err := db.SetCustomField(id, otpx.FieldOTP, u, true); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "TOTP: %s\n", u)
	}
	fmt.Fprintf(a.out, "added %s\n", id)
	return a.report(ctx, a.session.Save(ctx))
}

func (a *App) generate(args []string) error {
	fs := flag.NewFlagSet("gen", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	c := passgen.Default()
	fs.IntVar(&c.Length, "len", c.Length, "password length")
	noSymbols := fs.Bool("no-symbols", false, "letters and digits only")
	if err := fs.Parse(args); err != nil {
		return err
	}
	c.Symbols = !*noSymbols
	pw, err := passgen.Generate(c)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, pw)
	return nil
}

func (a *App) remove(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: usage: rm <entry>", common.ErrValidation)
	}
	n, err := a.resolve(args[0])
	if err != nil {
		return err
	}
	db := a.session.DB()
	if db.CanRecycle(n.ID) {
		err = db.Recycle([]uuid.UUID{n.ID})
	} else if confirm(a.reader, fmt.Sprintf("Permanently delete %q?", n.Fields.Title), a.out) {
		err = db.Delete([]uuid.UUID{n.ID})
	} else {
		return nil
	}
	if err != nil {
		return err
	}
	return a.report(ctx, a.session.Save(ctx))
}

func (a *App) favourite(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: usage: fav <entry>", common.ErrValidation)
	}
	n, err := a.resolve(args[0])
	if err != nil {
		return err
	}
	on, err := a.session.DB().ToggleFavourite(ctx, n.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s favourite: %t\n", n.Fields.Title, on)
	return nil
}

func (a *App) otp(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: usage: otp <entry>", common.ErrValidation)
	}
	n, err := a.resolve(args[0])
	if err != nil {
		return err
	}
	code, err := otpx.Code(n.Fields, a.now())
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, code)
	return nil
}

func (a *App) audit(ctx context.Context) error {
	au := a.session.Audit()
	a.session.RestartAudit()
	if err := au.Wait(ctx); err != nil {
		return err
	}
	rep := au.Report()
	if rep == nil {
		return au.Err()
	}
	fmt.Fprintf(a.out, "scanned %d entries, %d issues on %d entries\n", rep.EntriesScanned, rep.IssueCount, rep.NodesWithIssues)
	if rep.BreachCheckFailed > 0 {
		fmt.Fprintf(a.out, "breach check failed for %d passwords\n", rep.BreachCheckFailed)
	}
	var flagged []models.Node
	for _, n := range a.session.DB().ActiveEntries() {
		if rep.FlagsFor(n.ID) != 0 {
			flagged = append(flagged, n)
		}
	}
	if len(flagged) > 0 {
		search.Sort(flagged, models.DefaultSortConfig())
		a.printNodes(flagged)
	}
	return nil
}

func (a *App) check(ctx context.Context) error {
	pw, err := GetPassword(a.out, "Password to check: ")
	if err != nil {
		return err
	}
	hit, err := a.session.CheckPassword(ctx, string(pw))
	common.WipeByteArray(pw)
	if err != nil {
		return err
	}
	if hit {
		fmt.Fprintln(a.out, "this password appears in known breaches")
	} else {
		fmt.Fprintln(a.out, "not found in known breaches")
	}
	return nil
}

// report prints an update result, walking the user through conflicts
// when the strategy asks for it.
func (a *App) report(ctx context.Context, res models.AsyncUpdateResult) error {
	if res.Outcome == models.OutcomeConflict {
		decisions := make(map[models.ConflictKey]models.Resolution, len(res.Conflicts))
		for _, c := range res.Conflicts {
			decisions[c.Key()] = a.askResolution(c)
		}
		res = a.session.Coordinator().Resolve(ctx, decisions, true)
	}
	switch res.Outcome {
	case models.OutcomeSucceeded:
		if res.LocalWasChanged {
			fmt.Fprintln(a.out, "merged remote changes")
		}
		fmt.Fprintf(a.out, "revision %s\n", shortRev(res.Revision))
		return nil
	case models.OutcomeConflict:
		return fmt.Errorf("%w: %d unresolved conflicts", common.ErrConflict, len(res.Conflicts))
	default:
		return res.Err
	}
}

func (a *App) askResolution(c models.Conflict) models.Resolution {
	title := c.NodeID.String()
	if n, ok := a.session.DB().GetByID(c.NodeID); ok {
		title = n.Fields.Title
	}
	fmt.Fprintf(a.out, "conflict in %s, field %s\n", title, c.Field)
	switch {
	case c.Field == string(database.FieldPassword):
		fmt.Fprintln(a.out, "  (password values hidden)")
	case c.Patch != "":
		fmt.Fprintf(a.out, "%s\n", c.Patch)
	default:
		fmt.Fprintf(a.out, "  local:  %s\n  remote: %s\n", c.Local, c.Remote)
	}
	s, _ := GetSimpleText(a.reader, "keep [l]ocal or [r]emote?", a.out)
	if strings.HasPrefix(strings.ToLower(s), "r") {
		return models.ResolveKeepRemote
	}
	return models.ResolveKeepLocal
}

func shortRev(r string) string {
	if len(r) > 12 {
		return r[:12]
	}
	return r
}

// parseWithRef parses flags that may appear before or after a single
// positional reference.
func parseWithRef(fs *flag.FlagSet, args []string) (string, error) {
	var ref []string
	for len(args) > 0 {
		if err := fs.Parse(args); err != nil {
			return "", err
		}
		args = fs.Args()
		if len(args) > 0 {
			ref = append(ref, args[0])
			args = args[1:]
		}
	}
	if len(ref) == 0 {
		return "", fmt.Errorf("%w: missing entry", common.ErrValidation)
	}
	return strings.Join(ref, " "), nil
}
