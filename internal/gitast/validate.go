package gitast

import "fmt"

// Validate checks the structural invariants spec.md §3 lists, for tests
// that hand-build a RepoAST, so a violated invariant is caught at
// construction time rather than surfacing as a confusing diff later. The
// shorthand parser and resolver do not call it.
func (a *RepoAST) Validate() error {
	if a.CurrentBranchName != "" {
		br, ok := a.Branches[a.CurrentBranchName]
		if !ok {
			return fmt.Errorf("currentBranchName %q names no branch", a.CurrentBranchName)
		}
		if !a.Bare && br.Commit != a.Head {
			return fmt.Errorf("currentBranchName %q is at %q but head is %q", a.CurrentBranchName, br.Commit, a.Head)
		}
	}

	for name, br := range a.Branches {
		if br.Commit == "" {
			continue
		}
		if _, ok := a.CommitByID(br.Commit); !ok {
			return fmt.Errorf("branch %q targets missing commit %q", name, br.Commit)
		}
	}
	for name, id := range a.Refs {
		if _, ok := a.CommitByID(id); !ok {
			return fmt.Errorf("ref %q targets missing commit %q", name, id)
		}
	}

	for _, id := range a.CommitIDs() {
		c, _ := a.CommitByID(id)
		for _, p := range c.Parents {
			if _, ok := a.CommitByID(p); !ok {
				return fmt.Errorf("commit %q references missing parent %q", id, p)
			}
		}
	}

	if a.Bare && (len(a.Index) != 0 || len(a.Workdir) != 0) {
		return fmt.Errorf("bare repo has non-empty index or workdir changes")
	}

	return nil
}

// ValidateSubmodule checks the submodule-entry invariant from spec.md §3:
// if Commit is nil, Index must be either nil (removed in commit and index)
// or carry an ADDED index status (recorded separately by the status
// aggregator, not on the value itself — callers pass it in).
func ValidateSubmodule(sub *Submodule, indexStatus FileStatus, hasIndexStatus bool) error {
	if sub.Commit != nil {
		return nil
	}
	if sub.Index == nil {
		return nil
	}
	if hasIndexStatus && indexStatus == StatusAdded {
		return nil
	}
	return fmt.Errorf("submodule %q: commit is nil but index is non-nil without an ADDED index status", sub.Name)
}
