package repoassert

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/kurobon/metarepo/internal/gitast"
)

// AssertEqualASTs raises (returns a non-nil error) when actual and
// expected differ, joining every discrepancy DiffASTs found into one
// message.
func AssertEqualASTs(actual, expected *gitast.RepoAST) error {
	diffs := DiffASTs(actual, expected)
	if len(diffs) == 0 {
		return nil
	}
	return errors.Errorf("repoassert: ASTs differ:\n  %s", strings.Join(diffs, "\n  "))
}

// AssertEqualRepoMaps dispatches AssertEqualASTs across a name-keyed map
// of repos (the multi-repo shorthand's unit of comparison), joining every
// repo's discrepancies into one message.
func AssertEqualRepoMaps(actual, expected map[string]*gitast.RepoAST) error {
	var msgs []string
	for name, exp := range expected {
		act, ok := actual[name]
		if !ok {
			msgs = append(msgs, name+": missing repo")
			continue
		}
		if diffs := DiffASTs(act, exp); len(diffs) > 0 {
			for _, d := range diffs {
				msgs = append(msgs, name+": "+d)
			}
		}
	}
	for name := range actual {
		if _, ok := expected[name]; !ok {
			msgs = append(msgs, name+": unexpected repo")
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return errors.Errorf("repoassert: repo maps differ:\n  %s", strings.Join(msgs, "\n  "))
}

// MapCommitsAndUrls returns a copy of ast with every commit id and every
// remote/submodule url translated through commitMap/urlMap; entries
// absent from a map pass through unchanged. This is how the round-trip
// test normalizes backend-assigned commit hashes back to the logical ids
// a shorthand string used to create them.
func MapCommitsAndUrls(ast *gitast.RepoAST, commitMap, urlMap map[string]string) *gitast.RepoAST {
	out := gitast.NewRepoAST()
	out.Bare = ast.Bare
	out.Head = translate(commitMap, ast.Head)
	out.CurrentBranchName = ast.CurrentBranchName

	for _, id := range ast.CommitIDs() {
		c, _ := ast.CommitByID(id)
		mapped := gitast.Commit{
			ID:      translate(commitMap, c.ID),
			Message: c.Message,
			Changes: map[string]gitast.Change{},
		}
		for _, p := range c.Parents {
			mapped.Parents = append(mapped.Parents, translate(commitMap, p))
		}
		for path, ch := range c.Changes {
			mapped.Changes[path] = translateChange(ch, commitMap, urlMap)
		}
		out.PutCommit(mapped)
	}

	for name, br := range ast.Branches {
		out.Branches[name] = gitast.BranchRef{
			Commit:   translate(commitMap, br.Commit),
			Tracking: br.Tracking,
		}
	}
	for name, id := range ast.Refs {
		out.Refs[name] = translate(commitMap, id)
	}
	for name, rem := range ast.Remotes {
		branches := make(map[string]string, len(rem.Branches))
		for bn, id := range rem.Branches {
			branches[bn] = translate(commitMap, id)
		}
		out.Remotes[name] = gitast.Remote{URL: translate(urlMap, rem.URL), Branches: branches}
	}
	for ref, notes := range ast.Notes {
		translated := make(map[string]string, len(notes))
		for id, msg := range notes {
			translated[translate(commitMap, id)] = msg
		}
		out.Notes[translate(commitMap, ref)] = translated
	}
	for path, ch := range ast.Index {
		out.Index[path] = translateChange(ch, commitMap, urlMap)
	}
	for path, ch := range ast.Workdir {
		out.Workdir[path] = translateChange(ch, commitMap, urlMap)
	}
	for name, sub := range ast.OpenSubmodules {
		out.OpenSubmodules[name] = MapCommitsAndUrls(sub, commitMap, urlMap)
	}
	out.Rebase = ast.Rebase

	return out
}

func translate(m map[string]string, key string) string {
	if key == "" || m == nil {
		return key
	}
	if v, ok := m[key]; ok {
		return v
	}
	return key
}

func translateChange(ch gitast.Change, commitMap, urlMap map[string]string) gitast.Change {
	if ch.Kind != gitast.ChangeSubmodule {
		return ch
	}
	return gitast.SubmoduleChange(translate(urlMap, ch.SubmoduleURL), translate(commitMap, ch.SubmoduleSHA))
}
