package shorthand

import (
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurobon/metarepo/internal/gitast"
	metaplumbing "github.com/kurobon/metarepo/internal/plumbing"
	"github.com/kurobon/metarepo/internal/repoassert"
)

func TestWriteAndReadRoundTripSimpleSeed(t *testing.T) {
	order, repos, err := ParseMultiShorthand("a=S:C2-1;Bfoo=2;*=foo")
	require.NoError(t, err)
	asts, err := ResolveMulti(order, repos)
	require.NoError(t, err)

	repo, err := metaplumbing.InitInMemory(memfs.New(), false)
	require.NoError(t, err)

	ids, err := WriteIntoRepo(asts["a"], repo)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	readBack, err := ReadRAST(repo)
	require.NoError(t, err)

	idMap := map[string]string{}
	for logical, hash := range ids {
		idMap[hash.String()] = logical
	}
	normalized := repoassert.MapCommitsAndUrls(readBack, idMap, nil)

	diffs := repoassert.DiffASTs(normalized, asts["a"])
	assert.Empty(t, diffs, "round trip should reproduce the written AST: %v", diffs)
}

// Notes and non-branch refs are not expressible in the grammar, but the
// writer/reader pair must still round-trip them for hand-built fixtures.
func TestWriteAndReadRoundTripNotesAndRefs(t *testing.T) {
	ast := gitast.NewRepoAST()
	ast.PutCommit(gitast.Commit{ID: "1", Changes: map[string]gitast.Change{"README.md": gitast.BlobChange("hello world")}})
	ast.PutCommit(gitast.Commit{ID: "2", Parents: []string{"1"}, Changes: map[string]gitast.Change{"f": gitast.BlobChange("x")}})
	ast.Branches["master"] = gitast.BranchRef{Commit: "2"}
	ast.CurrentBranchName = "master"
	ast.Head = "2"
	ast.Refs["v1"] = "1"
	ast.Notes["commits"] = map[string]string{"2": "reviewed upstream"}

	repo, err := metaplumbing.InitInMemory(memfs.New(), false)
	require.NoError(t, err)
	ids, err := WriteIntoRepo(ast, repo)
	require.NoError(t, err)

	readBack, err := ReadRAST(repo)
	require.NoError(t, err)

	idMap := map[string]string{}
	for logical, hash := range ids {
		idMap[hash.String()] = logical
	}
	normalized := repoassert.MapCommitsAndUrls(readBack, idMap, nil)

	assert.Equal(t, "1", normalized.Refs["v1"])
	assert.Equal(t, "reviewed upstream", normalized.Notes["commits"]["2"])
	diffs := repoassert.DiffASTs(normalized, ast)
	assert.Empty(t, diffs, "notes and refs survive the round trip: %v", diffs)
}

// WriteMultiRAST materializes every repo of a multi-repo fixture under
// one root on the real filesystem; t.TempDir registers the cleanup hook
// that removes the tree whatever the outcome.
func TestWriteMultiRASTOnDisk(t *testing.T) {
	order, repos, err := ParseMultiShorthand("a=S:C2-1;Bfoo=2;*=foo|b=Ca")
	require.NoError(t, err)
	asts, err := ResolveMulti(order, repos)
	require.NoError(t, err)

	root := t.TempDir()
	ids, urls, err := WriteMultiRAST(order, asts, root)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, root+"/a", urls["a"])

	repo, err := metaplumbing.OpenOnDisk(urls["a"], false)
	require.NoError(t, err)
	readBack, err := ReadRAST(repo)
	require.NoError(t, err)

	idMap := map[string]string{}
	for logical, hash := range ids["a"] {
		idMap[hash.String()] = logical
	}
	normalized := repoassert.MapCommitsAndUrls(readBack, idMap, nil)
	diffs := repoassert.DiffASTs(normalized, asts["a"])
	assert.Empty(t, diffs, "on-disk write round-trips like the in-memory one: %v", diffs)
}

func TestWriteIntoRepoRejectsCycles(t *testing.T) {
	ast := gitast.NewRepoAST()
	ast.PutCommit(gitast.Commit{ID: "x", Parents: []string{"y"}})
	ast.PutCommit(gitast.Commit{ID: "y", Parents: []string{"x"}})
	ast.Head = "x"

	repo, err := metaplumbing.InitInMemory(memfs.New(), false)
	require.NoError(t, err)

	_, err = WriteIntoRepo(ast, repo)
	assert.Error(t, err)
}
