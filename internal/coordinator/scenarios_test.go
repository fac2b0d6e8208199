package coordinator

import (
	"fmt"
	"io"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurobon/metarepo/internal/gitast"
	metaplumbing "github.com/kurobon/metarepo/internal/plumbing"
)

// Cross-repo commit produces both meta and sub shas (spec.md §8
// scenario 2): a change staged inside the submodule, nothing staged in
// meta, all=false.
func TestCommitWithStagedSubmoduleChangeOnly(t *testing.T) {
	f := newFixture(t)

	w, err := f.child.Worktree.Create("README.md")
	require.NoError(t, err)
	_, err = w.Write([]byte("foo"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	childWT, err := f.child.Repository.Worktree()
	require.NoError(t, err)
	_, err = childWT.Add("README.md")
	require.NoError(t, err)

	st := f.status(t)
	require.False(t, st.IsIndexDeepClean(), "the staged sub change must defeat the fast exit")

	res, err := Commit(f.meta, false, st, "msg")
	require.NoError(t, err)
	require.NotNil(t, res)

	subSHA := res.SubmoduleCommits["libs/foo"]
	require.NotEmpty(t, subSHA)
	require.NotEmpty(t, res.MetaCommit)

	stAfter := f.status(t)
	require.NotNil(t, stAfter.Submodules["libs/foo"].Commit)
	assert.Equal(t, subSHA, stAfter.Submodules["libs/foo"].Commit.SHA)
	assert.Equal(t, res.MetaCommit, stAfter.Head)

	metaCommit, err := f.meta.GetCommit(hashFromHex(res.MetaCommit))
	require.NoError(t, err)
	metaTree, err := f.meta.GetTree(metaCommit)
	require.NoError(t, err)
	entry, err := f.meta.EntryByPath(metaTree, "libs/foo")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, subSHA, entry.Hash.String())
}

// Stash save/pop symmetry (spec.md §8 scenario 3).
func TestStashSavePopSymmetry(t *testing.T) {
	f := newFixture(t)

	w, err := f.child.Worktree.Create("f")
	require.NoError(t, err)
	_, err = w.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	st := f.status(t)
	saveRes, err := StashSave(f.meta, st, "")
	require.NoError(t, err)

	_, ok, err := f.meta.ReadRef(metaStashRef)
	require.NoError(t, err)
	require.True(t, ok, "refs/meta-stash must exist after save")
	reflog, err := f.meta.ReadReflog(metaStashRef)
	require.NoError(t, err)
	require.Len(t, reflog, 1)

	stAfterSave := f.status(t)
	require.True(t, stAfterSave.Submodules["libs/foo"].Open.IsWorkdirDeepClean(),
		"the submodule workdir is clean after save")

	subStashSHA := saveRes.SubStashes["libs/foo"]
	require.NotEmpty(t, subStashSHA)
	subStashRef := plumbing.ReferenceName(fmt.Sprintf(subStashRefFmt, subStashSHA))
	_, ok, err = f.child.ReadRef(subStashRef)
	require.NoError(t, err)
	require.True(t, ok, "refs/sub-stash/<sha> must exist in the child")

	_, err = StashPop(f.meta, 0, false)
	require.NoError(t, err)

	_, ok, err = f.meta.ReadRef(metaStashRef)
	require.NoError(t, err)
	assert.False(t, ok, "refs/meta-stash is deleted once the last entry is popped")

	rd, err := f.child.Worktree.Open("f")
	require.NoError(t, err)
	data, err := io.ReadAll(rd)
	require.NoError(t, err)
	rd.Close()
	assert.Equal(t, "x", string(data), "the stashed content is back in the workdir")

	_, ok, err = f.child.ReadRef(subStashRef)
	require.NoError(t, err)
	assert.False(t, ok, "pop removes the per-sub protection ref")
}

// A child that committed ahead of the meta pointer gets the private
// 4-parent encoding, and apply replays the diverged commits.
func TestStashSaveApplyChildAheadOfMetaPointer(t *testing.T) {
	f := newFixture(t)

	sig := metaplumbing.DefaultSignature(time.Now())
	c1Commit, err := f.child.GetCommit(f.c1)
	require.NoError(t, err)
	tree, err := f.child.WriteTree(c1Commit.TreeHash, map[string]gitast.Change{
		"ahead.txt": gitast.BlobChange("ahead"),
	})
	require.NoError(t, err)
	c2, err := f.child.CreateCommit([]plumbing.Hash{f.c1}, sig, sig, "child ahead", tree)
	require.NoError(t, err)
	require.NoError(t, f.child.CreateRef(plumbing.NewBranchReferenceName("master"), c2, true, ""))
	childWT, err := f.child.Repository.Worktree()
	require.NoError(t, err)
	require.NoError(t, childWT.Checkout(&gogit.CheckoutOptions{Branch: plumbing.NewBranchReferenceName("master"), Force: true}))

	st := f.status(t)
	require.Equal(t, gitast.RelAhead.String(), st.Submodules["libs/foo"].WorkdirShaRelation.String())

	saveRes, err := StashSave(f.meta, st, "")
	require.NoError(t, err)
	subStashSHA := saveRes.SubStashes["libs/foo"]
	require.NotEmpty(t, subStashSHA)

	stashCommit, err := f.child.GetCommit(hashFromHex(subStashSHA))
	require.NoError(t, err)
	require.Len(t, stashCommit.ParentHashes, 4, "a diverged child head forces the 4-parent encoding")
	assert.Equal(t, c2, stashCommit.ParentHashes[0], "parents[0] is the pre-stash HEAD")
	assert.Equal(t, f.c1, stashCommit.ParentHashes[2], "parents[2] is the meta-recorded pointer")

	headAfterSave, _, err := f.child.HeadCommit()
	require.NoError(t, err)
	assert.Equal(t, f.c1, headAfterSave, "save detaches the child at the meta pointer")

	_, err = StashApply(f.meta, 0, false)
	require.NoError(t, err)

	headAfterApply, _, err := f.child.HeadCommit()
	require.NoError(t, err)
	assert.Equal(t, c2, headAfterApply, "apply replays the diverged commit back onto HEAD")

	idx, err := f.meta.Index()
	require.NoError(t, err)
	entry := idx.GetByPath("libs/foo")
	require.NotNil(t, entry)
	assert.Equal(t, f.c1, entry.Hash, "the 4th parent's sha lands back in the meta index")
}

// rm recursive with -r requirement (spec.md §8 scenario 4).
func TestRmRequiresRecursiveForMultiFilePrefix(t *testing.T) {
	f := newFixture(t)

	sig := metaplumbing.DefaultSignature(time.Now())
	metaHead, _, err := f.meta.HeadCommit()
	require.NoError(t, err)
	headCommit, err := f.meta.GetCommit(metaHead)
	require.NoError(t, err)
	tree, err := f.meta.WriteTree(headCommit.TreeHash, map[string]gitast.Change{
		"x/y/a": gitast.BlobChange("a"),
		"x/y/b": gitast.BlobChange("b"),
	})
	require.NoError(t, err)
	c2, err := f.meta.CreateCommit([]plumbing.Hash{metaHead}, sig, sig, "add x/y", tree)
	require.NoError(t, err)
	require.NoError(t, f.meta.CreateRef(plumbing.NewBranchReferenceName("master"), c2, true, ""))
	wt, err := f.meta.Repository.Worktree()
	require.NoError(t, err)
	require.NoError(t, wt.Checkout(&gogit.CheckoutOptions{Branch: plumbing.NewBranchReferenceName("master"), Force: true}))

	st := f.status(t)
	_, err = RmPaths(f.meta, st, []string{"x/y"}, RmOptions{})
	require.Error(t, err)
	require.True(t, IsUserError(err))
	assert.Contains(t, err.Error(), `not removing "x/y" recursively without -r`)

	removed, err := RmPaths(f.meta, st, []string{"x/y"}, RmOptions{Recursive: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"x/y/a", "x/y/b"}, removed)

	idx, err := f.meta.Index()
	require.NoError(t, err)
	assert.Nil(t, idx.GetByPath("x/y/a"))
	assert.Nil(t, idx.GetByPath("x/y/b"))
	_, err = f.meta.Worktree.Stat("x/y/a")
	assert.Error(t, err, "without --cached the files leave disk too")
}

// rm cleanliness (spec.md §8 scenario 5): cached keeps the file on disk
// and relaxes the cleanliness rule to "index matches HEAD".
func TestRmCachedKeepsFileAndRelaxesCheck(t *testing.T) {
	f := newFixture(t)
	st := f.status(t)

	removed, err := RmPaths(f.meta, st, []string{"README.md"}, RmOptions{Cached: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"README.md"}, removed)

	idx, err := f.meta.Index()
	require.NoError(t, err)
	assert.Nil(t, idx.GetByPath("README.md"))
	_, err = f.meta.Worktree.Stat("README.md")
	assert.NoError(t, err, "--cached leaves the workdir copy in place")
}

func TestRmDryRunMutatesNothing(t *testing.T) {
	f := newFixture(t)
	st := f.status(t)

	removed, err := RmPaths(f.meta, st, []string{"README.md"}, RmOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"README.md"}, removed)

	idx, err := f.meta.Index()
	require.NoError(t, err)
	assert.NotNil(t, idx.GetByPath("README.md"), "a dry run reports but does not remove")
	_, err = f.meta.Worktree.Stat("README.md")
	assert.NoError(t, err)
}

func TestRmPrefixResolvesRelativePaths(t *testing.T) {
	f := newFixture(t)
	st := f.status(t)

	removed, err := RmPaths(f.meta, st, []string{"foo"}, RmOptions{Prefix: "libs"})
	require.NoError(t, err)
	assert.Equal(t, []string{"libs/foo"}, removed)
}

func TestRmRejectsEmptyPath(t *testing.T) {
	f := newFixture(t)
	st := f.status(t)

	_, err := RmPaths(f.meta, st, []string{""}, RmOptions{})
	require.Error(t, err)
	require.True(t, IsUserError(err))
}

func TestStashDropAdvancesRef(t *testing.T) {
	f := newFixture(t)

	mkDirty := func(content string) {
		w, err := f.meta.Worktree.Create("README.md")
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
		require.NoError(t, w.Close())
	}

	mkDirty("first stash")
	first, err := StashSave(f.meta, f.status(t), "first")
	require.NoError(t, err)
	mkDirty("second stash")
	_, err = StashSave(f.meta, f.status(t), "second")
	require.NoError(t, err)

	list, err := StashList(f.meta)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "second", list[0].Message, "stash@{0} is the newest entry")

	require.NoError(t, StashDrop(f.meta, 0))
	ref, ok, err := f.meta.ReadRef(metaStashRef)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.MetaStashSHA, ref.Hash().String(), "dropping the top advances the ref to the next entry")

	require.NoError(t, StashDrop(f.meta, 0))
	_, ok, err = f.meta.ReadRef(metaStashRef)
	require.NoError(t, err)
	assert.False(t, ok, "dropping the last entry deletes the ref")
}

func TestStashApplyOutOfRangeIsUserError(t *testing.T) {
	f := newFixture(t)
	_, err := StashApply(f.meta, 0, false)
	require.Error(t, err)
	require.True(t, IsUserError(err))
}
