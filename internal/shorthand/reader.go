package shorthand

import (
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/pkg/errors"

	"github.com/kurobon/metarepo/internal/gitast"
	metaplumbing "github.com/kurobon/metarepo/internal/plumbing"
)

// ReadRAST re-derives a RepoAST from a live repository: the inverse of
// WriteRAST, used by the round-trip property test (spec.md §8) and by
// fixture-authoring tools that want to print a shorthand-equivalent view
// of an existing repository. Commit ids in the result are backend commit
// hashes (hex strings), not the logical ids a shorthand string used to
// create them — callers compare through MapCommitsAndUrls (internal/
// repoassert) after translating via the id map WriteRAST returned.
func ReadRAST(repo *metaplumbing.Repo) (*gitast.RepoAST, error) {
	ast := gitast.NewRepoAST()
	ast.Bare = repo.Bare

	refs, err := repo.ListRefs()
	if err != nil {
		return nil, err
	}

	var branchTips []plumbing.Hash
	for _, ref := range refs {
		if ref.Type() != plumbing.HashReference {
			continue
		}
		name := ref.Name()
		if strings.HasPrefix(name.String(), notesRefPrefix) {
			if err := readNotesRef(repo, ast, ref); err != nil {
				return nil, err
			}
			continue
		}
		switch {
		case name.IsBranch():
			ast.Branches[name.Short()] = gitast.BranchRef{Commit: ref.Hash().String()}
			branchTips = append(branchTips, ref.Hash())
		case name.IsRemote():
			remote, branch, ok := splitRemoteRef(name)
			if !ok {
				continue
			}
			rem := ast.Remotes[remote]
			if rem.Branches == nil {
				rem.Branches = map[string]string{}
			}
			rem.Branches[branch] = ref.Hash().String()
			ast.Remotes[remote] = rem
			branchTips = append(branchTips, ref.Hash())
		case name.IsTag():
			ast.Refs[name.Short()] = ref.Hash().String()
			branchTips = append(branchTips, ref.Hash())
		}
	}

	cfg, err := repo.Repository.Storer.Config()
	if err == nil {
		for name, rc := range cfg.Remotes {
			rem := ast.Remotes[name]
			if len(rc.URLs) > 0 {
				rem.URL = rc.URLs[0]
			}
			if rem.Branches == nil {
				rem.Branches = map[string]string{}
			}
			ast.Remotes[name] = rem
		}
	}

	head, hasHead, err := repo.HeadCommit()
	if err != nil {
		return nil, err
	}
	branchName, onBranch, err := repo.CurrentBranch()
	if err != nil {
		return nil, err
	}
	if onBranch {
		ast.CurrentBranchName = branchName
	}
	if hasHead {
		branchTips = append(branchTips, head)
		// A bare repository sitting on a branch has no checked-out state;
		// its head is null even though HEAD resolves through the branch.
		if !repo.Bare || !onBranch {
			ast.Head = head.String()
		}
	}

	for _, tip := range branchTips {
		if err := walkCommits(repo, ast, tip); err != nil {
			return nil, err
		}
	}

	return ast, nil
}

const notesRefPrefix = "refs/notes/"

// readNotesRef expands one refs/notes/<ref> commit back into the
// ref -> commit-id -> message map. Notes commits are bookkeeping, not
// history, so they are deliberately not pulled into ast.Commits.
func readNotesRef(repo *metaplumbing.Repo, ast *gitast.RepoAST, ref *plumbing.Reference) error {
	commit, err := repo.GetCommit(ref.Hash())
	if err != nil {
		return errors.Wrapf(err, "shorthand: notes commit %s", ref.Hash())
	}
	tree, err := repo.GetTree(commit)
	if err != nil {
		return err
	}
	changes, err := repo.DiffTrees(plumbing.ZeroHash, tree.Hash)
	if err != nil {
		return err
	}
	short := strings.TrimPrefix(ref.Name().String(), notesRefPrefix)
	notes := map[string]string{}
	for target, ch := range changes {
		if ch.Kind != gitast.ChangeBlob {
			continue
		}
		notes[target] = ch.Content
	}
	ast.Notes[short] = notes
	return nil
}

func splitRemoteRef(name plumbing.ReferenceName) (remote, branch string, ok bool) {
	const prefix = "refs/remotes/"
	s := name.String()
	if !strings.HasPrefix(s, prefix) {
		return "", "", false
	}
	rest := s[len(prefix):]
	idx := strings.IndexByte(rest, '/')
	if idx < 0 {
		return "", "", false
	}
	return rest[:idx], rest[idx+1:], true
}

func walkCommits(repo *metaplumbing.Repo, ast *gitast.RepoAST, start plumbing.Hash) error {
	seen := map[string]bool{}
	queue := []plumbing.Hash{start}
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		id := h.String()
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, ok := ast.CommitByID(id); ok {
			continue
		}

		commit, err := repo.GetCommit(h)
		if err != nil {
			return errors.Wrapf(err, "shorthand: read commit %s", id)
		}

		var parentTree plumbing.Hash
		var parents []string
		for _, p := range commit.ParentHashes {
			parents = append(parents, p.String())
			queue = append(queue, p)
		}
		if len(commit.ParentHashes) > 0 {
			parentCommit, err := repo.GetCommit(commit.ParentHashes[0])
			if err != nil {
				return errors.Wrapf(err, "shorthand: read parent of %s", id)
			}
			parentTree = parentCommit.TreeHash
		}

		changes, err := repo.DiffTrees(parentTree, commit.TreeHash)
		if err != nil {
			return errors.Wrapf(err, "shorthand: diff commit %s", id)
		}

		ast.PutCommit(gitast.Commit{
			ID:      id,
			Parents: parents,
			Changes: changes,
			Message: commit.Message,
		})
	}
	return nil
}
