package status

import (
	"context"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurobon/metarepo/internal/gitast"
	metaplumbing "github.com/kurobon/metarepo/internal/plumbing"
)

// metaFixture is a meta repository with one open submodule "sub" whose
// child history is C1 <- C2 <- C3, so relation scenarios can pin the meta
// pointer and the child HEAD at arbitrary points of the chain.
type metaFixture struct {
	meta       *metaplumbing.Repo
	child      *metaplumbing.Repo
	c1, c2, c3 plumbing.Hash
}

func newMetaFixture(t *testing.T, metaPointsAt func(f *metaFixture) plumbing.Hash, childHeadAt func(f *metaFixture) plumbing.Hash) *metaFixture {
	t.Helper()

	f := &metaFixture{}
	var err error
	f.meta, err = metaplumbing.InitInMemory(memfs.New(), false)
	require.NoError(t, err)

	childFS, err := f.meta.Worktree.Chroot("sub")
	require.NoError(t, err)
	f.child, err = metaplumbing.InitInMemory(childFS, false)
	require.NoError(t, err)

	sig := metaplumbing.DefaultSignature(time.Now())
	mk := func(parent plumbing.Hash, content string) plumbing.Hash {
		tree, err := f.child.WriteTree(plumbing.ZeroHash, map[string]gitast.Change{
			"f.txt": gitast.BlobChange(content),
		})
		require.NoError(t, err)
		var parents []plumbing.Hash
		if parent != plumbing.ZeroHash {
			parents = []plumbing.Hash{parent}
		}
		c, err := f.child.CreateCommit(parents, sig, sig, content, tree)
		require.NoError(t, err)
		return c
	}
	f.c1 = mk(plumbing.ZeroHash, "one")
	f.c2 = mk(f.c1, "two")
	f.c3 = mk(f.c2, "three")

	head := childHeadAt(f)
	require.NoError(t, f.child.CreateRef(plumbing.NewBranchReferenceName("master"), head, true, ""))
	require.NoError(t, f.child.Repository.Storer.SetReference(
		plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("master"))))

	recorded := metaPointsAt(f)
	gitmodules := `[submodule "sub"]
	path = sub
	url = https://example.com/sub.git
`
	metaTree, err := f.meta.WriteTree(plumbing.ZeroHash, map[string]gitast.Change{
		".gitmodules": gitast.BlobChange(gitmodules),
		"sub":         gitast.SubmoduleChange("https://example.com/sub.git", recorded.String()),
		"README.md":   gitast.BlobChange("root"),
	})
	require.NoError(t, err)
	metaC1, err := f.meta.CreateCommit(nil, sig, sig, "meta init", metaTree)
	require.NoError(t, err)
	require.NoError(t, f.meta.CreateRef(plumbing.NewBranchReferenceName("master"), metaC1, true, ""))
	require.NoError(t, f.meta.Repository.Storer.SetReference(
		plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("master"))))
	metaWT, err := f.meta.Repository.Worktree()
	require.NoError(t, err)
	require.NoError(t, metaWT.Checkout(&gogit.CheckoutOptions{Branch: plumbing.NewBranchReferenceName("master"), Force: true}))

	// The child worktree goes in only after the meta checkout put
	// .gitmodules in place; a meta reset before that would sweep the
	// child's files away as untracked content.
	childWT, err := f.child.Repository.Worktree()
	require.NoError(t, err)
	require.NoError(t, childWT.Checkout(&gogit.CheckoutOptions{Branch: plumbing.NewBranchReferenceName("master"), Force: true}))

	return f
}

func TestGetRepoStatusBasics(t *testing.T) {
	f := newMetaFixture(t,
		func(f *metaFixture) plumbing.Hash { return f.c3 },
		func(f *metaFixture) plumbing.Hash { return f.c3 })

	st, err := GetRepoStatus(context.Background(), f.meta, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, "master", st.CurrentBranch)
	assert.NotEmpty(t, st.Head)
	assert.False(t, st.Bare)
	assert.Empty(t, st.Staged)
	assert.Empty(t, st.Workdir)
	assert.NotContains(t, st.Staged, ".gitmodules", "the submodule-config file is never reported")

	sub := st.Submodules["sub"]
	require.NotNil(t, sub)
	assert.Equal(t, "Open", sub.State())
	require.NotNil(t, sub.Commit)
	assert.Equal(t, f.c3.String(), sub.Commit.SHA)
	assert.Equal(t, "https://example.com/sub.git", sub.Commit.URL)
	require.NotNil(t, sub.Open)
	assert.Equal(t, "master", sub.Open.CurrentBranch)
	assert.Equal(t, gitast.RelSame.String(), sub.IndexShaRelation.String())
	assert.Equal(t, gitast.RelSame.String(), sub.WorkdirShaRelation.String())
}

// TestSubmoduleCommitRelations is spec.md §8 scenario 6.
func TestSubmoduleCommitRelations(t *testing.T) {
	t.Run("child ahead of meta pointer", func(t *testing.T) {
		f := newMetaFixture(t,
			func(f *metaFixture) plumbing.Hash { return f.c1 },
			func(f *metaFixture) plumbing.Hash { return f.c3 })
		st, err := GetRepoStatus(context.Background(), f.meta, DefaultOptions())
		require.NoError(t, err)
		assert.Equal(t, gitast.RelAhead.String(), st.Submodules["sub"].WorkdirShaRelation.String())
	})

	t.Run("child behind meta pointer", func(t *testing.T) {
		f := newMetaFixture(t,
			func(f *metaFixture) plumbing.Hash { return f.c3 },
			func(f *metaFixture) plumbing.Hash { return f.c1 })
		st, err := GetRepoStatus(context.Background(), f.meta, DefaultOptions())
		require.NoError(t, err)
		assert.Equal(t, gitast.RelBehind.String(), st.Submodules["sub"].WorkdirShaRelation.String())
	})

	t.Run("unrelated branch tip", func(t *testing.T) {
		f := newMetaFixture(t,
			func(f *metaFixture) plumbing.Hash { return f.c1 },
			func(f *metaFixture) plumbing.Hash { return f.c1 })

		// A rootless commit shares no history with the C1..C3 chain.
		sig := metaplumbing.DefaultSignature(time.Now())
		tree, err := f.child.WriteTree(plumbing.ZeroHash, map[string]gitast.Change{
			"other.txt": gitast.BlobChange("elsewhere"),
		})
		require.NoError(t, err)
		orphan, err := f.child.CreateCommit(nil, sig, sig, "orphan", tree)
		require.NoError(t, err)
		require.NoError(t, f.child.CreateRef(plumbing.NewBranchReferenceName("master"), orphan, true, ""))

		st, err := GetRepoStatus(context.Background(), f.meta, DefaultOptions())
		require.NoError(t, err)
		assert.Equal(t, gitast.RelUnrelated.String(), st.Submodules["sub"].WorkdirShaRelation.String())
	})

	t.Run("missing commit is unknown", func(t *testing.T) {
		f := newMetaFixture(t,
			func(f *metaFixture) plumbing.Hash {
				return plumbing.NewHash("deadbeefdeadbeefdeadbeefdeadbeefdeadbeef")
			},
			func(f *metaFixture) plumbing.Hash { return f.c1 })
		st, err := GetRepoStatus(context.Background(), f.meta, DefaultOptions())
		require.NoError(t, err)
		assert.Equal(t, gitast.RelUnknown.String(), st.Submodules["sub"].WorkdirShaRelation.String())
	})
}

func TestGetRepoStatusReportsMetaWorkdirChange(t *testing.T) {
	f := newMetaFixture(t,
		func(f *metaFixture) plumbing.Hash { return f.c3 },
		func(f *metaFixture) plumbing.Hash { return f.c3 })

	w, err := f.meta.Worktree.Create("README.md")
	require.NoError(t, err)
	_, err = w.Write([]byte("edited"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	st, err := GetRepoStatus(context.Background(), f.meta, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, gitast.StatusModified.String(), st.Workdir["README.md"].String())

	opts := DefaultOptions()
	opts.ShowMetaChanges = false
	st, err = GetRepoStatus(context.Background(), f.meta, opts)
	require.NoError(t, err)
	assert.Empty(t, st.Workdir, "meta changes are suppressed when ShowMetaChanges is off")
}

func TestGetRepoStatusPathFilterScopesSubmodules(t *testing.T) {
	f := newMetaFixture(t,
		func(f *metaFixture) plumbing.Hash { return f.c3 },
		func(f *metaFixture) plumbing.Hash { return f.c3 })

	opts := DefaultOptions()
	opts.Paths = []string{"sub/f.txt"}
	st, err := GetRepoStatus(context.Background(), f.meta, opts)
	require.NoError(t, err)
	require.Contains(t, st.Submodules, "sub")

	opts.Paths = []string{"unrelated.txt"}
	st, err = GetRepoStatus(context.Background(), f.meta, opts)
	require.NoError(t, err)
	assert.Empty(t, st.Submodules, "a path matching no submodule prefix filters them all out")
}

func TestGetRepoStatusDetectsSequencerState(t *testing.T) {
	f := newMetaFixture(t,
		func(f *metaFixture) plumbing.Hash { return f.c3 },
		func(f *metaFixture) plumbing.Hash { return f.c3 })

	target := "1111111111111111111111111111111111111111"
	w, err := f.meta.GitDir.Create("MERGE_HEAD")
	require.NoError(t, err)
	_, err = w.Write([]byte(target + "\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	st, err := GetRepoStatus(context.Background(), f.meta, DefaultOptions())
	require.NoError(t, err)
	require.NotNil(t, st.Sequencer)
	assert.Equal(t, gitast.SeqMerge.String(), st.Sequencer.Kind.String())
	assert.Equal(t, target, st.Sequencer.Target)
}

func TestResolvePaths(t *testing.T) {
	subs := map[string]bool{"libs/foo": true, "libs/bar": true}

	root, sub := resolvePaths([]string{"libs/foo/a.txt", "libs/bar", "README.md"}, subs)
	assert.Equal(t, []string{"README.md"}, root)
	assert.Equal(t, []string{"a.txt"}, sub["libs/foo"])
	_, whole := sub["libs/bar"]
	assert.True(t, whole, "an exact submodule name selects the whole submodule")
	assert.Nil(t, sub["libs/bar"])
}
