package gitast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepoASTCopyLeavesOriginalUntouched(t *testing.T) {
	a := NewRepoAST()
	a.PutCommit(Commit{ID: "1", Changes: map[string]Change{"README.md": BlobChange("hello world")}})
	a.Branches["master"] = BranchRef{Commit: "1"}
	a.Head = "1"
	a.CurrentBranchName = "master"

	newHead := "2"
	b := a.Copy(RepoASTOverrides{Head: &newHead})

	assert.Equal(t, "1", a.Head, "original must be unaffected by Copy")
	assert.Equal(t, "2", b.Head)
	assert.Equal(t, "master", b.CurrentBranchName, "unrelated fields carry over")

	_, ok := b.CommitByID("1")
	assert.True(t, ok, "commit pool must be copied, not aliased empty")
}

func TestRepoASTCommitIDsPreservesInsertionOrder(t *testing.T) {
	a := NewRepoAST()
	a.PutCommit(Commit{ID: "3"})
	a.PutCommit(Commit{ID: "1"})
	a.PutCommit(Commit{ID: "2"})

	assert.Equal(t, []string{"3", "1", "2"}, a.CommitIDs())
}

func TestValidateRejectsDanglingParent(t *testing.T) {
	a := NewRepoAST()
	a.PutCommit(Commit{ID: "2", Parents: []string{"1"}})

	err := a.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing parent")
}

func TestValidateRejectsCurrentBranchMismatch(t *testing.T) {
	a := NewRepoAST()
	a.PutCommit(Commit{ID: "1"})
	a.PutCommit(Commit{ID: "2"})
	a.Branches["master"] = BranchRef{Commit: "1"}
	a.CurrentBranchName = "master"
	a.Head = "2"

	err := a.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "head is")
}

func TestSubmoduleState(t *testing.T) {
	cases := []struct {
		name string
		sub  Submodule
		want string
	}{
		{"new", Submodule{}, "New"},
		{"deleted", Submodule{Commit: &SubmoduleObservation{}}, "Deleted"},
		{"closed", Submodule{Commit: &SubmoduleObservation{}, Index: &SubmoduleObservation{}}, "Closed"},
		{"open", Submodule{Commit: &SubmoduleObservation{}, Index: &SubmoduleObservation{}, Workdir: &SubmoduleObservation{}}, "Open"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.sub.State())
		})
	}
}

func TestRepoStatusCopyLeavesOriginalUntouched(t *testing.T) {
	orig := &RepoStatus{
		Head:          "1",
		CurrentBranch: "master",
		Staged:        map[string]FileStatus{"a": StatusAdded},
		Workdir:       map[string]FileStatus{},
		Submodules:    map[string]*Submodule{},
	}

	newHead := "2"
	dup := orig.Copy(RepoStatusOverrides{
		Head:    &newHead,
		Workdir: map[string]FileStatus{"b": StatusModified},
	})

	assert.Equal(t, "1", orig.Head)
	assert.Empty(t, orig.Workdir)
	assert.Equal(t, "2", dup.Head)
	assert.Equal(t, StatusModified, dup.Workdir["b"])
	assert.Equal(t, StatusAdded, dup.Staged["a"], "unnamed fields carry over")
}

func TestSubmoduleCopySetNilVsLeaveAlone(t *testing.T) {
	sub := &Submodule{
		Name:   "s",
		Commit: &SubmoduleObservation{SHA: "1"},
		Index:  &SubmoduleObservation{SHA: "1"},
	}

	var cleared *SubmoduleObservation
	dup := sub.Copy(SubmoduleOverrides{Index: &cleared})

	assert.NotNil(t, sub.Index, "original keeps its index observation")
	assert.Nil(t, dup.Index, "a pointer-to-nil override clears the field")
	assert.Equal(t, "1", dup.Commit.SHA, "a nil override leaves the field alone")
	assert.Equal(t, "Deleted", dup.State())
}

func TestRepoStatusDeepClean(t *testing.T) {
	clean := &RepoStatus{Submodules: map[string]*Submodule{
		"s": {Open: &RepoStatus{}},
	}}
	assert.True(t, clean.IsDeepClean(true))

	dirty := &RepoStatus{Submodules: map[string]*Submodule{
		"s": {Open: &RepoStatus{Workdir: map[string]FileStatus{"f": StatusModified}}},
	}}
	assert.False(t, dirty.IsDeepClean(true))
	assert.True(t, dirty.IsDeepClean(false), "workdir dirtiness is ignored when includeWorkdir=false")
}
