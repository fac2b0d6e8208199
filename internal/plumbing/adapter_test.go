package plumbing

import (
	"io"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurobon/metarepo/internal/gitast"
)

func TestEditMessageRunsEditorAndStripsComments(t *testing.T) {
	repo, err := InitInMemory(memfs.New(), false)
	require.NoError(t, err)

	editor := func(fs EditorFS, path string) error {
		f, err := fs.Open(path)
		require.NoError(t, err)
		initial, err := io.ReadAll(f)
		require.NoError(t, err)
		f.Close()
		assert.Equal(t, "# Please enter the commit message\n", string(initial))

		w, err := fs.Create(path)
		require.NoError(t, err)
		_, err = w.Write([]byte("my message\n# trailing comment\n"))
		require.NoError(t, err)
		return w.Close()
	}

	msg, err := repo.EditMessage("# Please enter the commit message\n", editor)
	require.NoError(t, err)
	assert.Equal(t, "my message", msg)

	_, err = repo.GitDir.Stat(editMsgFile)
	assert.Error(t, err, "the scratch file is removed afterwards")
}

func TestMetaConfigValueReadsMetaSection(t *testing.T) {
	repo, err := InitInMemory(memfs.New(), false)
	require.NoError(t, err)

	cfg, err := repo.Repository.Storer.Config()
	require.NoError(t, err)
	cfg.Raw.Section("meta").SetOption("stashmessage", "custom")
	require.NoError(t, repo.Repository.Storer.SetConfig(cfg))

	v, ok, err := repo.MetaConfigValue("stashmessage")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "custom", v)

	_, ok, err = repo.MetaConfigValue("nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDiffTreeIndexWorkdir(t *testing.T) {
	repo, err := InitInMemory(memfs.New(), false)
	require.NoError(t, err)

	sig := DefaultSignature(time.Now())
	tree, err := repo.WriteTree(plumbing.ZeroHash, map[string]gitast.Change{
		"kept.txt":    gitast.BlobChange("same"),
		"changed.txt": gitast.BlobChange("old"),
		"gone.txt":    gitast.BlobChange("bye"),
	})
	require.NoError(t, err)
	c1, err := repo.CreateCommit(nil, sig, sig, "init", tree)
	require.NoError(t, err)
	require.NoError(t, repo.CreateRef(plumbing.NewBranchReferenceName("master"), c1, true, ""))
	require.NoError(t, repo.Repository.Storer.SetReference(
		plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("master"))))
	wt, err := repo.Repository.Worktree()
	require.NoError(t, err)
	require.NoError(t, wt.Checkout(&gogit.CheckoutOptions{Hash: c1, Force: true}))

	// Unstaged edits: rewrite one file, delete one, add one.
	f, err := repo.Worktree.Create("changed.txt")
	require.NoError(t, err)
	_, err = f.Write([]byte("new"))
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, repo.Worktree.Remove("gone.txt"))
	f, err = repo.Worktree.Create("fresh.txt")
	require.NoError(t, err)
	_, err = f.Write([]byte("hi"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	treeObj, err := repo.Repository.TreeObject(tree)
	require.NoError(t, err)

	toIndex, err := repo.DiffTreeToIndex(treeObj)
	require.NoError(t, err)
	assert.Empty(t, toIndex, "nothing staged yet")

	toWorkdir, err := repo.DiffIndexToWorkdir()
	require.NoError(t, err)
	assert.Equal(t, []Delta{
		{Path: "changed.txt", Kind: DeltaModified},
		{Path: "fresh.txt", Kind: DeltaAdded},
		{Path: "gone.txt", Kind: DeltaRemoved},
	}, toWorkdir)

	treeToWd, err := repo.DiffTreeToWorkdir(treeObj)
	require.NoError(t, err)
	assert.Equal(t, toWorkdir, treeToWd, "with a clean index both diffs agree")
}
