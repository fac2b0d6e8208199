package shorthand

import (
	"reflect"

	"github.com/pkg/errors"

	"github.com/kurobon/metarepo/internal/gitast"
)

// commitPool is the global, id-keyed arena spec.md §4.B step 1 describes:
// every commit contributed by any repo in a multi-repo definition, merged
// under a structural-equality rule on id collisions.
type commitPool struct {
	byID map[string]gitast.Commit
}

func newCommitPool() *commitPool {
	return &commitPool{byID: map[string]gitast.Commit{}}
}

func (p *commitPool) put(c gitast.Commit) error {
	existing, ok := p.byID[c.ID]
	if !ok {
		p.byID[c.ID] = c
		return nil
	}
	if !reflect.DeepEqual(existing, c) {
		return errors.Errorf("shorthand: commit %q defined inconsistently across repos", c.ID)
	}
	return nil
}

func (p *commitPool) get(id string) (gitast.Commit, bool) {
	c, ok := p.byID[id]
	return c, ok
}

// ResolveMulti implements spec.md §4.B's multi-repo resolution algorithm:
// merge every repo's commits into one pool, resolve bases (seeding or
// clone-of), apply overrides in order, then close over every reachable
// commit from the pool. It returns the resolved ASTs keyed by repo name.
func ResolveMulti(order []string, repos map[string]*ParsedRepo) (map[string]*gitast.RepoAST, error) {
	pool := newCommitPool()

	for _, name := range order {
		pr := repos[name]
		if pr.Base != BaseCloneOf {
			if err := pool.put(seedCommit()); err != nil {
				return nil, err
			}
		}
		for _, ov := range pr.Overrides {
			if ov.Kind != OvCommit {
				continue
			}
			c := gitast.Commit{ID: ov.CommitID, Parents: []string{ov.CommitParent}, Changes: changesToMap(ov.CommitChanges)}
			if err := pool.put(c); err != nil {
				return nil, err
			}
		}
	}

	// Each repo must be FULLY resolved — base, then its own overrides
	// applied — as a single unit before any other repo that clones it is
	// even based, so a clone-of always observes its source's final,
	// post-override branches/head (spec.md §4.B step 2: "for a clone,
	// copies reachable commits from the referenced parent's branches").
	// Resolving every repo's base first and applying overrides in a
	// second, repo-wide pass (the prior structure here) would let a
	// clone see its source's pre-override state instead.
	resolved := map[string]*gitast.RepoAST{}
	pending := append([]string(nil), order...)

	for len(pending) > 0 {
		progressed := false
		var next []string
		for _, name := range pending {
			pr := repos[name]
			if pr.Base == BaseCloneOf {
				if _, ok := resolved[pr.CloneName]; !ok {
					next = append(next, name)
					continue
				}
			}
			ast, err := resolveBase(name, pr, resolved, pool)
			if err != nil {
				return nil, err
			}
			if err := applyOverridesFor(ast, pr, pool); err != nil {
				return nil, errors.Wrapf(err, "shorthand: repo %q", name)
			}
			resolved[name] = ast
			progressed = true
		}
		if !progressed && len(next) > 0 {
			return nil, errors.Errorf("shorthand: unresolved clone-of chain among %v", next)
		}
		pending = next
	}

	return resolved, nil
}

func changesToMap(cs []ChangeSpec) map[string]gitast.Change {
	out := make(map[string]gitast.Change, len(cs))
	for _, c := range cs {
		out[c.Path] = c.Change
	}
	return out
}

func resolveBase(name string, pr *ParsedRepo, resolved map[string]*gitast.RepoAST, pool *commitPool) (*gitast.RepoAST, error) {
	switch pr.Base {
	case BaseSeedSimple, BaseSeedBare:
		ast := gitast.NewRepoAST()
		ast.Bare = pr.Base == BaseSeedBare
		ast.PutCommit(seedCommit())
		ast.Branches["master"] = gitast.BranchRef{Commit: seedCommitID}
		ast.CurrentBranchName = "master"
		if pr.Base == BaseSeedSimple {
			ast.Head = seedCommitID
		}
		return ast, nil

	case BaseCloneOf:
		src, ok := resolved[pr.CloneName]
		if !ok {
			return nil, errors.Errorf("shorthand: clone source %q not yet resolved for %q", pr.CloneName, name)
		}
		ast := gitast.NewRepoAST()
		branches := make(map[string]string, len(src.Branches))
		for bn, br := range src.Branches {
			branches[bn] = br.Commit
		}
		ast.Remotes["origin"] = gitast.Remote{URL: pr.CloneName, Branches: branches}

		if src.CurrentBranchName != "" {
			if br, ok := src.Branches[src.CurrentBranchName]; ok {
				ast.Branches[src.CurrentBranchName] = gitast.BranchRef{
					Commit:   br.Commit,
					Tracking: "origin/" + src.CurrentBranchName,
				}
				ast.Head = br.Commit
				ast.CurrentBranchName = src.CurrentBranchName
			}
		}

		for _, sha := range branches {
			closeOverAncestors(ast, pool, sha)
		}
		return ast, nil

	default:
		return nil, errors.Errorf("shorthand: unknown base kind for %q", name)
	}
}

// closeOverAncestors pulls id and every commit reachable through its
// parent chain from pool into ast.Commits, skipping ids already present.
func closeOverAncestors(ast *gitast.RepoAST, pool *commitPool, id string) {
	if id == "" {
		return
	}
	if _, ok := ast.CommitByID(id); ok {
		return
	}
	c, ok := pool.get(id)
	if !ok {
		return
	}
	ast.PutCommit(c)
	for _, parent := range c.Parents {
		closeOverAncestors(ast, pool, parent)
	}
}

func applyOverridesFor(ast *gitast.RepoAST, pr *ParsedRepo, pool *commitPool) error {
	if pr == nil {
		return nil
	}
	for _, ov := range pr.Overrides {
		switch ov.Kind {
		case OvHead:
			ast.Head = ov.HeadCommit
			ast.CurrentBranchName = ""
			closeOverAncestors(ast, pool, ov.HeadCommit)

		case OvCurrentBranch:
			if ov.CurrentBranchName == "" {
				ast.CurrentBranchName = ""
				continue
			}
			br, ok := ast.Branches[ov.CurrentBranchName]
			if !ok {
				return errors.Errorf("shorthand: *=%s names an unknown branch", ov.CurrentBranchName)
			}
			ast.CurrentBranchName = ov.CurrentBranchName
			ast.Head = br.Commit

		case OvBranch:
			if ov.BranchCommit == "" {
				delete(ast.Branches, ov.BranchName)
				continue
			}
			ast.Branches[ov.BranchName] = gitast.BranchRef{Commit: ov.BranchCommit}
			closeOverAncestors(ast, pool, ov.BranchCommit)

		case OvCommit:
			c, ok := pool.get(ov.CommitID)
			if !ok {
				return errors.Errorf("shorthand: commit %q not found in pool", ov.CommitID)
			}
			ast.PutCommit(c)
			closeOverAncestors(ast, pool, ov.CommitParent)

		case OvRemote:
			existing, had := ast.Remotes[ov.RemoteName]
			url := existing.URL
			if ov.RemoteURLGiven {
				url = ov.RemoteURL
			} else if !had {
				return errors.Errorf("shorthand: remote %q has no prior definition to update in place", ov.RemoteName)
			}
			branches := map[string]string{}
			for k, v := range existing.Branches {
				branches[k] = v
			}
			for _, rb := range ov.RemoteBranches {
				if rb.Commit == "" {
					delete(branches, rb.Name)
					continue
				}
				branches[rb.Name] = rb.Commit
				closeOverAncestors(ast, pool, rb.Commit)
			}
			ast.Remotes[ov.RemoteName] = gitast.Remote{URL: url, Branches: branches}
		}
	}

	// Final sweep (spec.md §4.B step 4): every commit reachable from
	// branches/head/remote branches must be present.
	if ast.Head != "" {
		closeOverAncestors(ast, pool, ast.Head)
	}
	for _, br := range ast.Branches {
		closeOverAncestors(ast, pool, br.Commit)
	}
	for _, rem := range ast.Remotes {
		for _, sha := range rem.Branches {
			closeOverAncestors(ast, pool, sha)
		}
	}
	return nil
}
