// Package repoassert is the structural diff/assertion engine spec.md
// §4.F describes: compare two gitast.RepoAST values field by field and
// report every discrepancy as a human-readable string, for use by tests
// (never by production code — diff collection itself never panics or
// errors; only the top-level Assert* helpers do).
package repoassert

import (
	"fmt"
	"sort"

	"github.com/google/go-cmp/cmp"

	"github.com/kurobon/metarepo/internal/gitast"
)

// wildcardMessage lets a scenario test assert "a commit with this id,
// these parents, and these changes exists, regardless of its message".
const wildcardMessage = "*"

// DiffASTs returns every discrepancy between actual and expected, in a
// fixed field order (commits, remotes, branches, refs, notes, head, bare,
// currentBranch, index, workdir, submodules, rebase) so output is stable
// across runs.
func DiffASTs(actual, expected *gitast.RepoAST) []string {
	var out []string
	if actual == nil && expected == nil {
		return nil
	}
	if actual == nil || expected == nil {
		return []string{"one of actual/expected RepoAST is nil"}
	}

	out = append(out, diffCommits(actual, expected)...)
	out = append(out, diffRemotes(actual.Remotes, expected.Remotes)...)
	out = append(out, diffBranches(actual.Branches, expected.Branches)...)
	out = append(out, diffStringMap("ref", actual.Refs, expected.Refs)...)
	out = append(out, diffNotes(actual.Notes, expected.Notes)...)

	if actual.Head != expected.Head {
		out = append(out, fmt.Sprintf("head: got %q, want %q", actual.Head, expected.Head))
	}
	if actual.Bare != expected.Bare {
		out = append(out, fmt.Sprintf("bare: got %v, want %v", actual.Bare, expected.Bare))
	}
	if actual.CurrentBranchName != expected.CurrentBranchName {
		out = append(out, fmt.Sprintf("currentBranch: got %q, want %q", actual.CurrentBranchName, expected.CurrentBranchName))
	}

	out = append(out, diffChangeMap("index", actual.Index, expected.Index)...)
	out = append(out, diffChangeMap("workdir", actual.Workdir, expected.Workdir)...)
	out = append(out, diffOpenSubmodules(actual.OpenSubmodules, expected.OpenSubmodules)...)
	out = append(out, diffRebase(actual.Rebase, expected.Rebase)...)

	return out
}

func diffCommits(actual, expected *gitast.RepoAST) []string {
	var out []string
	for _, id := range expected.CommitIDs() {
		exp, _ := expected.CommitByID(id)
		act, ok := actual.CommitByID(id)
		if !ok {
			out = append(out, fmt.Sprintf("commit %q: missing", id))
			continue
		}
		if !cmp.Equal(act.Parents, exp.Parents) && !(len(act.Parents) == 0 && len(exp.Parents) == 0) {
			out = append(out, fmt.Sprintf("commit %q: parents got %v, want %v", id, act.Parents, exp.Parents))
		}
		if !cmp.Equal(act.Changes, exp.Changes) {
			out = append(out, fmt.Sprintf("commit %q: changes got %v, want %v", id, act.Changes, exp.Changes))
		}
		if exp.Message != wildcardMessage && act.Message != exp.Message {
			out = append(out, fmt.Sprintf("commit %q: message got %q, want %q", id, act.Message, exp.Message))
		}
	}
	for _, id := range actual.CommitIDs() {
		if _, ok := expected.CommitByID(id); !ok {
			out = append(out, fmt.Sprintf("commit %q: unexpected", id))
		}
	}
	return out
}

func diffRemotes(actual, expected map[string]gitast.Remote) []string {
	var out []string
	for name, exp := range expected {
		act, ok := actual[name]
		if !ok {
			out = append(out, fmt.Sprintf("remote %q: missing", name))
			continue
		}
		if act.URL != exp.URL {
			out = append(out, fmt.Sprintf("remote %q: url got %q, want %q", name, act.URL, exp.URL))
		}
		out = append(out, diffStringMap(fmt.Sprintf("remote %q branch", name), act.Branches, exp.Branches)...)
	}
	for name := range actual {
		if _, ok := expected[name]; !ok {
			out = append(out, fmt.Sprintf("remote %q: unexpected", name))
		}
	}
	return out
}

func diffBranches(actual, expected map[string]gitast.BranchRef) []string {
	var out []string
	for name, exp := range expected {
		act, ok := actual[name]
		if !ok {
			out = append(out, fmt.Sprintf("branch %q: missing", name))
			continue
		}
		if act.Commit != exp.Commit {
			out = append(out, fmt.Sprintf("branch %q: commit got %q, want %q", name, act.Commit, exp.Commit))
		}
	}
	for name := range actual {
		if _, ok := expected[name]; !ok {
			out = append(out, fmt.Sprintf("branch %q: unexpected", name))
		}
	}
	return out
}

func diffStringMap(label string, actual, expected map[string]string) []string {
	var out []string
	for k, exp := range expected {
		act, ok := actual[k]
		if !ok {
			out = append(out, fmt.Sprintf("%s %q: missing", label, k))
			continue
		}
		if act != exp {
			out = append(out, fmt.Sprintf("%s %q: got %q, want %q", label, k, act, exp))
		}
	}
	for k := range actual {
		if _, ok := expected[k]; !ok {
			out = append(out, fmt.Sprintf("%s %q: unexpected", label, k))
		}
	}
	return out
}

func diffNotes(actual, expected map[string]map[string]string) []string {
	var out []string
	for ref, exp := range expected {
		act, ok := actual[ref]
		if !ok {
			out = append(out, fmt.Sprintf("notes %q: missing", ref))
			continue
		}
		out = append(out, diffStringMap(fmt.Sprintf("notes %q entry", ref), act, exp)...)
	}
	for ref := range actual {
		if _, ok := expected[ref]; !ok {
			out = append(out, fmt.Sprintf("notes %q: unexpected", ref))
		}
	}
	return out
}

func diffChangeMap(label string, actual, expected map[string]gitast.Change) []string {
	var out []string
	for p, exp := range expected {
		act, ok := actual[p]
		if !ok {
			out = append(out, fmt.Sprintf("%s %q: missing", label, p))
			continue
		}
		if act != exp {
			out = append(out, fmt.Sprintf("%s %q: got %+v, want %+v", label, p, act, exp))
		}
	}
	for p := range actual {
		if _, ok := expected[p]; !ok {
			out = append(out, fmt.Sprintf("%s %q: unexpected", label, p))
		}
	}
	return out
}

func diffOpenSubmodules(actual, expected map[string]*gitast.RepoAST) []string {
	var out []string
	names := make(map[string]bool, len(expected)+len(actual))
	for n := range expected {
		names[n] = true
	}
	for n := range actual {
		names[n] = true
	}
	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	for _, n := range sorted {
		exp, hasExp := expected[n]
		act, hasAct := actual[n]
		switch {
		case hasExp && !hasAct:
			out = append(out, fmt.Sprintf("submodule %q: missing open repo", n))
		case hasAct && !hasExp:
			out = append(out, fmt.Sprintf("submodule %q: unexpected open repo", n))
		default:
			for _, d := range DiffASTs(act, exp) {
				out = append(out, fmt.Sprintf("submodule %q: %s", n, d))
			}
		}
	}
	return out
}

func diffRebase(actual, expected *gitast.RebaseState) []string {
	if actual == nil && expected == nil {
		return nil
	}
	if actual == nil || expected == nil {
		return []string{fmt.Sprintf("rebase: got %v, want %v", actual, expected)}
	}
	if !cmp.Equal(actual, expected) {
		return []string{fmt.Sprintf("rebase: got %+v, want %+v", actual, expected)}
	}
	return nil
}
