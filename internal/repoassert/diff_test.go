package repoassert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurobon/metarepo/internal/gitast"
)

func sampleAST() *gitast.RepoAST {
	a := gitast.NewRepoAST()
	a.PutCommit(gitast.Commit{ID: "1", Changes: map[string]gitast.Change{"README.md": gitast.BlobChange("hello world")}})
	a.PutCommit(gitast.Commit{ID: "2", Parents: []string{"1"}, Changes: map[string]gitast.Change{"f": gitast.BlobChange("x")}, Message: "second"})
	a.Branches["master"] = gitast.BranchRef{Commit: "2"}
	a.Remotes["origin"] = gitast.Remote{URL: "a", Branches: map[string]string{"master": "1"}}
	a.Notes["commits"] = map[string]string{"2": "reviewed"}
	a.Head = "2"
	a.CurrentBranchName = "master"
	a.Index["g"] = gitast.BlobChange("staged")
	return a
}

// DiffASTs(a, a) = [] for every value a — spec.md §8's reflexivity
// property, spot-checked on a value exercising every field family.
func TestDiffASTsReflexive(t *testing.T) {
	a := sampleAST()
	assert.Empty(t, DiffASTs(a, a))
	assert.NoError(t, AssertEqualASTs(a, a))
}

func TestDiffASTsReportsEachDiscrepancyKind(t *testing.T) {
	actual := sampleAST()

	expected := sampleAST()
	expected.PutCommit(gitast.Commit{ID: "3", Parents: []string{"2"}})
	expected.Branches["feature"] = gitast.BranchRef{Commit: "1"}
	expected.Head = "1"
	expected.Remotes["origin"] = gitast.Remote{URL: "b", Branches: map[string]string{"master": "1"}}

	diffs := DiffASTs(actual, expected)
	assert.Contains(t, diffs, `commit "3": missing`)
	assert.Contains(t, diffs, `branch "feature": missing`)
	assert.Contains(t, diffs, `head: got "2", want "1"`)
	assert.Contains(t, diffs, `remote "origin": url got "a", want "b"`)

	// The inverse direction reports the same divergences as unexpected.
	reverse := DiffASTs(expected, actual)
	assert.Contains(t, reverse, `commit "3": unexpected`)
	assert.Contains(t, reverse, `branch "feature": unexpected`)
}

func TestDiffASTsWildcardMessage(t *testing.T) {
	actual := sampleAST()

	expected := sampleAST()
	c, _ := expected.CommitByID("2")
	expected.PutCommit(gitast.Commit{ID: c.ID, Parents: c.Parents, Changes: c.Changes, Message: "*"})

	assert.Empty(t, DiffASTs(actual, expected), "expected message \"*\" matches any actual message")

	expected.PutCommit(gitast.Commit{ID: c.ID, Parents: c.Parents, Changes: c.Changes, Message: "other"})
	diffs := DiffASTs(actual, expected)
	assert.Contains(t, diffs, `commit "2": message got "second", want "other"`)
}

func TestDiffASTsRecursesIntoOpenSubmodules(t *testing.T) {
	actual := sampleAST()
	sub := gitast.NewRepoAST()
	sub.PutCommit(gitast.Commit{ID: "s1"})
	sub.Head = "s1"
	actual.OpenSubmodules["libs/foo"] = sub

	expected := sampleAST()
	expSub := gitast.NewRepoAST()
	expSub.PutCommit(gitast.Commit{ID: "s1"})
	expSub.Head = "s2"
	expected.OpenSubmodules["libs/foo"] = expSub

	diffs := DiffASTs(actual, expected)
	require.Len(t, diffs, 1)
	assert.Equal(t, `submodule "libs/foo": head: got "s1", want "s2"`, diffs[0])
}

func TestMapCommitsAndUrlsTranslatesEverywhere(t *testing.T) {
	a := gitast.NewRepoAST()
	a.PutCommit(gitast.Commit{ID: "aaa", Changes: map[string]gitast.Change{
		"sub": gitast.SubmoduleChange("/tmp/x/child", "bbb"),
	}})
	a.PutCommit(gitast.Commit{ID: "bbb"})
	a.Branches["master"] = gitast.BranchRef{Commit: "aaa"}
	a.Refs["v1"] = "bbb"
	a.Remotes["origin"] = gitast.Remote{URL: "/tmp/x/parent", Branches: map[string]string{"master": "aaa"}}
	a.Notes["commits"] = map[string]string{"aaa": "note"}
	a.Head = "aaa"

	commitMap := map[string]string{"aaa": "1", "bbb": "2"}
	urlMap := map[string]string{"/tmp/x/child": "child", "/tmp/x/parent": "parent"}

	mapped := MapCommitsAndUrls(a, commitMap, urlMap)

	assert.Equal(t, "1", mapped.Head)
	assert.Equal(t, "1", mapped.Branches["master"].Commit)
	assert.Equal(t, "2", mapped.Refs["v1"])
	assert.Equal(t, "parent", mapped.Remotes["origin"].URL)
	assert.Equal(t, "1", mapped.Remotes["origin"].Branches["master"])
	assert.Equal(t, "note", mapped.Notes["commits"]["1"])

	c, ok := mapped.CommitByID("1")
	require.True(t, ok)
	assert.Equal(t, "child", c.Changes["sub"].SubmoduleURL)
	assert.Equal(t, "2", c.Changes["sub"].SubmoduleSHA)

	// Entries absent from the maps pass through unchanged.
	assert.Equal(t, "1", MapCommitsAndUrls(a, commitMap, nil).Head)
	assert.Equal(t, "aaa", MapCommitsAndUrls(a, nil, nil).Head)
}
