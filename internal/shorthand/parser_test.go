package shorthand

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseShorthandSeedSimple(t *testing.T) {
	pr, err := ParseShorthand("S")
	require.NoError(t, err)
	assert.Equal(t, BaseSeedSimple, pr.Base)
	assert.Empty(t, pr.Overrides)
}

func TestParseShorthandOverrides(t *testing.T) {
	pr, err := ParseShorthand("S:C2-1;Bfoo=2;*=foo")
	require.NoError(t, err)
	require.Len(t, pr.Overrides, 3)

	commitOv := pr.Overrides[0]
	assert.Equal(t, OvCommit, commitOv.Kind)
	assert.Equal(t, "2", commitOv.CommitID)
	assert.Equal(t, "1", commitOv.CommitParent)
	require.Len(t, commitOv.CommitChanges, 1)
	assert.Equal(t, "2", commitOv.CommitChanges[0].Path)
	assert.Equal(t, "2", commitOv.CommitChanges[0].Change.Content)

	branchOv := pr.Overrides[1]
	assert.Equal(t, OvBranch, branchOv.Kind)
	assert.Equal(t, "foo", branchOv.BranchName)
	assert.Equal(t, "2", branchOv.BranchCommit)

	curOv := pr.Overrides[2]
	assert.Equal(t, OvCurrentBranch, curOv.Kind)
	assert.Equal(t, "foo", curOv.CurrentBranchName)
}

func TestParseShorthandHeadAndStarMutuallyExclusive(t *testing.T) {
	_, err := ParseShorthand("S:H=1;*=master")
	assert.Error(t, err)
}

func TestParseShorthandCloneBase(t *testing.T) {
	pr, err := ParseShorthand("Ca:Bg=1")
	require.NoError(t, err)
	assert.Equal(t, BaseCloneOf, pr.Base)
	assert.Equal(t, "a", pr.CloneName)
	require.Len(t, pr.Overrides, 1)
	assert.Equal(t, "g", pr.Overrides[0].BranchName)
}

func TestParseShorthandSubmoduleChange(t *testing.T) {
	pr, err := ParseShorthand("S:C2-1 sub=Surl:deadbeef")
	require.NoError(t, err)
	ov := pr.Overrides[0]
	require.Len(t, ov.CommitChanges, 1)
	cs := ov.CommitChanges[0]
	assert.Equal(t, "sub", cs.Path)
	assert.Equal(t, "url", cs.Change.SubmoduleURL)
	assert.Equal(t, "deadbeef", cs.Change.SubmoduleSHA)
}

func TestParseMultiShorthand(t *testing.T) {
	order, repos, err := ParseMultiShorthand("a=S:C2-1;Bfoo=2;*=foo|b=Ca:Bg=1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Len(t, repos, 2)
	assert.Equal(t, BaseCloneOf, repos["b"].Base)
	assert.Equal(t, "a", repos["b"].CloneName)
}
