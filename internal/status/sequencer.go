package status

import (
	"io"
	"strings"

	"github.com/kurobon/metarepo/internal/gitast"
	metaplumbing "github.com/kurobon/metarepo/internal/plumbing"
)

// readSequencerState inspects the well-known state files a cherry-pick,
// merge, or rebase in progress leaves in the git directory, per spec.md
// §6's "in-progress operations are detected via META_MERGE/MSG|ORIG_HEAD|
// MERGE_HEAD text files (merge), a rebase state directory, and a
// sequencer state directory". Returns nil, nil when nothing is in
// progress.
func readSequencerState(repo *metaplumbing.Repo) (*gitast.SequencerState, error) {
	if repo.GitDir == nil {
		return nil, nil
	}

	if target, ok := readTrimmedFile(repo, "CHERRY_PICK_HEAD"); ok {
		return &gitast.SequencerState{
			Kind:         gitast.SeqCherryPick,
			Target:       target,
			OriginalHead: readOrigHead(repo),
		}, nil
	}

	if target, ok := readTrimmedFile(repo, "MERGE_HEAD"); ok {
		return &gitast.SequencerState{
			Kind:         gitast.SeqMerge,
			Target:       target,
			OriginalHead: readOrigHead(repo),
		}, nil
	}

	for _, dir := range []string{"rebase-merge", "rebase-apply"} {
		if _, err := repo.GitDir.Stat(dir); err == nil {
			onto, _ := readTrimmedFile(repo, dir+"/onto")
			return &gitast.SequencerState{
				Kind:         gitast.SeqRebase,
				Target:       onto,
				OriginalHead: readOrigHead(repo),
			}, nil
		}
	}

	return nil, nil
}

// readRebaseState expands an in-progress rebase's state directory into
// the richer gitast.RebaseState (branch, onto, remaining todo steps);
// nil when no rebase is in progress.
func readRebaseState(repo *metaplumbing.Repo) *gitast.RebaseState {
	if repo.GitDir == nil {
		return nil
	}
	for _, dir := range []string{"rebase-merge", "rebase-apply"} {
		if _, err := repo.GitDir.Stat(dir); err != nil {
			continue
		}
		rs := &gitast.RebaseState{}
		if name, ok := readTrimmedFile(repo, dir+"/head-name"); ok {
			rs.OriginalBranch = strings.TrimPrefix(name, "refs/heads/")
		}
		rs.Onto, _ = readTrimmedFile(repo, dir+"/onto")
		if todo, ok := readTrimmedFile(repo, dir+"/git-rebase-todo"); ok {
			rs.Steps = parseRebaseTodo(todo)
		}
		if done, ok := readTrimmedFile(repo, dir+"/done"); ok {
			rs.Done = parseRebaseTodo(done)
		}
		return rs
	}
	return nil
}

func parseRebaseTodo(text string) []gitast.RebaseStep {
	var out []gitast.RebaseStep
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		step := gitast.RebaseStep{Action: fields[0]}
		if len(fields) > 1 {
			step.Commit = fields[1]
		}
		out = append(out, step)
	}
	return out
}

func readOrigHead(repo *metaplumbing.Repo) string {
	head, _ := readTrimmedFile(repo, "ORIG_HEAD")
	return head
}

func readTrimmedFile(repo *metaplumbing.Repo, name string) (string, bool) {
	f, err := repo.GitDir.Open(name)
	if err != nil {
		return "", false
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(data)), true
}
