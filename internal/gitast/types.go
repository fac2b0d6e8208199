// Package gitast holds the immutable, value-equal representation of a
// repository (or a tree of repositories linked by submodules): commits as a
// DAG, branches, remotes, index/workdir deltas, open submodules, sequencer
// state. Nothing in this package touches disk or a live object database —
// see internal/plumbing for that — and nothing here mutates a value in
// place; "mutation" is always Copy-with-overrides returning a new value.
package gitast

import (
	"sort"

	"github.com/emirpasic/gods/maps/linkedhashmap"
)

// ChangeKind distinguishes a literal file write from a submodule pointer
// write in a commit or an index/workdir delta.
type ChangeKind int

const (
	ChangeBlob ChangeKind = iota
	ChangeSubmodule
	ChangeRemove
)

// Change is one path's content change. For ChangeBlob, Content holds the
// literal text. For ChangeSubmodule, SubmoduleURL/SubmoduleSHA hold the
// pointer. ChangeRemove carries neither and means "delete this path".
type Change struct {
	Kind          ChangeKind
	Content       string
	SubmoduleURL  string
	SubmoduleSHA  string
}

func BlobChange(content string) Change { return Change{Kind: ChangeBlob, Content: content} }

func SubmoduleChange(url, sha string) Change {
	return Change{Kind: ChangeSubmodule, SubmoduleURL: url, SubmoduleSHA: sha}
}

func RemoveChange() Change { return Change{Kind: ChangeRemove} }

// Commit is one immutable DAG node. ID is the logical identifier used by
// the shorthand grammar before a commit is written to a real store; once
// written, callers translate IDs through the id-remap returned by the
// writer (see internal/shorthand).
type Commit struct {
	ID      string
	Parents []string
	Changes map[string]Change
	Message string
}

// CommitOverrides names the fields Copy should replace; a nil field leaves
// the original value untouched.
type CommitOverrides struct {
	Parents *[]string
	Changes map[string]Change
	Message *string
}

func (c Commit) Copy(o CommitOverrides) Commit {
	out := c
	if o.Parents != nil {
		out.Parents = append([]string(nil), (*o.Parents)...)
	} else {
		out.Parents = append([]string(nil), c.Parents...)
	}
	out.Changes = make(map[string]Change, len(c.Changes))
	for k, v := range c.Changes {
		out.Changes[k] = v
	}
	for k, v := range o.Changes {
		out.Changes[k] = v
	}
	if o.Message != nil {
		out.Message = *o.Message
	}
	return out
}

// SortedPaths returns the commit's changed paths in deterministic order,
// used anywhere changes must be applied or printed reproducibly.
func (c Commit) SortedPaths() []string {
	paths := make([]string, 0, len(c.Changes))
	for p := range c.Changes {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// BranchRef binds a branch name to a commit id, with an optional tracking
// branch name for local branches that track a remote.
type BranchRef struct {
	Commit   string
	Tracking string
}

// Remote is a url plus the set of remote-tracking branch positions known
// for it at the time the value was captured.
type Remote struct {
	URL      string
	Branches map[string]string
}

func (r Remote) Copy(branches map[string]string) Remote {
	out := Remote{URL: r.URL, Branches: make(map[string]string, len(r.Branches))}
	for k, v := range r.Branches {
		out.Branches[k] = v
	}
	for k, v := range branches {
		if v == "" {
			delete(out.Branches, k)
			continue
		}
		out.Branches[k] = v
	}
	return out
}

// FileStatus is the per-path staged/workdir classification used by
// RepoStatus.
type FileStatus int

const (
	StatusAdded FileStatus = iota
	StatusModified
	StatusRemoved
	StatusRenamed
	StatusTypechanged
	StatusConflicted
)

func (s FileStatus) String() string {
	switch s {
	case StatusAdded:
		return "ADDED"
	case StatusModified:
		return "MODIFIED"
	case StatusRemoved:
		return "REMOVED"
	case StatusRenamed:
		return "RENAMED"
	case StatusTypechanged:
		return "TYPECHANGED"
	case StatusConflicted:
		return "CONFLICTED"
	default:
		return "UNKNOWN"
	}
}

// CommitRelation is the reachability relationship between two commit ids,
// as returned by a plumbing descendantOf/rel query.
type CommitRelation int

const (
	RelSame CommitRelation = iota
	RelAhead
	RelBehind
	RelUnrelated
	RelUnknown
)

func (r CommitRelation) String() string {
	switch r {
	case RelSame:
		return "SAME"
	case RelAhead:
		return "AHEAD"
	case RelBehind:
		return "BEHIND"
	case RelUnrelated:
		return "UNRELATED"
	default:
		return "UNKNOWN"
	}
}

// SequencerKind names the in-progress multi-step operation a sequencer
// state file describes.
type SequencerKind int

const (
	SeqCherryPick SequencerKind = iota
	SeqMerge
	SeqRebase
)

func (k SequencerKind) String() string {
	switch k {
	case SeqCherryPick:
		return "CHERRY_PICK"
	case SeqMerge:
		return "MERGE"
	case SeqRebase:
		return "REBASE"
	default:
		return "UNKNOWN"
	}
}

// SequencerState is the parsed contents of an in-progress cherry-pick,
// merge, or rebase state directory.
type SequencerState struct {
	Kind         SequencerKind
	OriginalHead string
	Target       string
}

// RebaseStep is one pick/squash/etc. line of a rebase todo list.
type RebaseStep struct {
	Action string
	Commit string
}

// RebaseState describes an in-progress rebase: the branch it started from,
// the commit it is rebasing onto, and the remaining todo list.
type RebaseState struct {
	OriginalBranch string
	Onto           string
	Steps          []RebaseStep
	Done           []RebaseStep
}

// SubmoduleObservation is one of the (up to) three facets — commit, index,
// workdir — that make up a submodule's status entry.
type SubmoduleObservation struct {
	URL string
	SHA string
}

// Submodule composes the three possible observations of a submodule's
// state, plus a recursive RepoStatus when the submodule is open.
type Submodule struct {
	Name    string
	Commit  *SubmoduleObservation
	Index   *SubmoduleObservation
	Workdir *SubmoduleObservation
	Open    *RepoStatus

	IndexShaRelation   CommitRelation
	WorkdirShaRelation CommitRelation
}

// State derives the {New, Deleted, Closed, Open} tag described in spec §3.
func (s *Submodule) State() string {
	switch {
	case s.Commit == nil:
		return "New"
	case s.Index == nil:
		return "Deleted"
	case s.Workdir == nil:
		return "Closed"
	default:
		return "Open"
	}
}

// RepoStatus is the derived-from-live-storage status tree for one
// repository (meta or submodule).
type RepoStatus struct {
	Head          string
	CurrentBranch string
	Bare          bool
	Staged        map[string]FileStatus
	Workdir       map[string]FileStatus
	Submodules    map[string]*Submodule
	Rebase        *RebaseState
	Sequencer     *SequencerState
}

// IsIndexDeepClean reports whether this status, and every open submodule's
// status recursively, has no staged changes.
func (s *RepoStatus) IsIndexDeepClean() bool {
	if len(s.Staged) != 0 {
		return false
	}
	for _, sub := range s.Submodules {
		if sub.Open != nil && !sub.Open.IsIndexDeepClean() {
			return false
		}
	}
	return true
}

// IsWorkdirDeepClean reports whether this status, and every open submodule's
// status recursively, has no unstaged workdir changes.
func (s *RepoStatus) IsWorkdirDeepClean() bool {
	if len(s.Workdir) != 0 {
		return false
	}
	for _, sub := range s.Submodules {
		if sub.Open != nil && !sub.Open.IsWorkdirDeepClean() {
			return false
		}
	}
	return true
}

// IsDeepClean is the combined staged+workdir cleanliness check used by the
// commit fast-exit and the property test in spec §8.
func (s *RepoStatus) IsDeepClean(includeWorkdir bool) bool {
	if !s.IsIndexDeepClean() {
		return false
	}
	return !includeWorkdir || s.IsWorkdirDeepClean()
}

// SubmoduleOverrides names the fields Submodule.Copy should replace; a
// double-pointer field distinguishes "leave alone" (nil) from "set to
// nil" (pointer to nil).
type SubmoduleOverrides struct {
	Commit  **SubmoduleObservation
	Index   **SubmoduleObservation
	Workdir **SubmoduleObservation
	Open    **RepoStatus

	IndexShaRelation   *CommitRelation
	WorkdirShaRelation *CommitRelation
}

func (s *Submodule) Copy(o SubmoduleOverrides) *Submodule {
	out := *s
	if o.Commit != nil {
		out.Commit = *o.Commit
	}
	if o.Index != nil {
		out.Index = *o.Index
	}
	if o.Workdir != nil {
		out.Workdir = *o.Workdir
	}
	if o.Open != nil {
		out.Open = *o.Open
	}
	if o.IndexShaRelation != nil {
		out.IndexShaRelation = *o.IndexShaRelation
	}
	if o.WorkdirShaRelation != nil {
		out.WorkdirShaRelation = *o.WorkdirShaRelation
	}
	return &out
}

// RepoStatusOverrides names the fields RepoStatus.Copy should replace;
// nil maps leave the original's copy untouched.
type RepoStatusOverrides struct {
	Head          *string
	CurrentBranch *string
	Bare          *bool
	Staged        map[string]FileStatus
	Workdir       map[string]FileStatus
	Submodules    map[string]*Submodule
	Rebase        **RebaseState
	Sequencer     **SequencerState
}

func (s *RepoStatus) Copy(o RepoStatusOverrides) *RepoStatus {
	out := &RepoStatus{
		Head:          s.Head,
		CurrentBranch: s.CurrentBranch,
		Bare:          s.Bare,
		Staged:        copyFileStatuses(s.Staged),
		Workdir:       copyFileStatuses(s.Workdir),
		Submodules:    make(map[string]*Submodule, len(s.Submodules)),
		Rebase:        s.Rebase,
		Sequencer:     s.Sequencer,
	}
	for k, v := range s.Submodules {
		out.Submodules[k] = v
	}

	if o.Head != nil {
		out.Head = *o.Head
	}
	if o.CurrentBranch != nil {
		out.CurrentBranch = *o.CurrentBranch
	}
	if o.Bare != nil {
		out.Bare = *o.Bare
	}
	for k, v := range o.Staged {
		out.Staged[k] = v
	}
	for k, v := range o.Workdir {
		out.Workdir[k] = v
	}
	for k, v := range o.Submodules {
		out.Submodules[k] = v
	}
	if o.Rebase != nil {
		out.Rebase = *o.Rebase
	}
	if o.Sequencer != nil {
		out.Sequencer = *o.Sequencer
	}
	return out
}

func copyFileStatuses(m map[string]FileStatus) map[string]FileStatus {
	out := make(map[string]FileStatus, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// RepoAST is the full ground-truth value of a repository. Commits is kept
// as an order-preserving map (not a bare Go map) because the shorthand
// writer must create commits in a deterministic topological order and the
// multi-repo resolver's global commit pool must merge in definition order
// for reproducible round-trips.
type RepoAST struct {
	Commits            *linkedhashmap.Map // string id -> Commit
	Branches           map[string]BranchRef
	Refs               map[string]string // non-branch ref name -> commit id
	Remotes            map[string]Remote
	Notes              map[string]map[string]string
	Head               string
	CurrentBranchName  string
	Bare               bool
	Index              map[string]Change
	Workdir            map[string]Change
	OpenSubmodules     map[string]*RepoAST
	Rebase             *RebaseState
}

// NewRepoAST returns a zero-value RepoAST with every collection
// initialized, never nil.
func NewRepoAST() *RepoAST {
	return &RepoAST{
		Commits:        linkedhashmap.New(),
		Branches:       map[string]BranchRef{},
		Refs:           map[string]string{},
		Remotes:        map[string]Remote{},
		Notes:          map[string]map[string]string{},
		Index:          map[string]Change{},
		Workdir:        map[string]Change{},
		OpenSubmodules: map[string]*RepoAST{},
	}
}

// RepoASTOverrides names the fields Copy should replace on a RepoAST. A
// non-nil pointer field (and a non-nil Commits pool) replaces the
// original value; a map field is merged key by key into a copy of the
// original, so a nil or empty map leaves that field unchanged.
type RepoASTOverrides struct {
	Commits           *linkedhashmap.Map
	Branches          map[string]BranchRef
	Refs              map[string]string
	Remotes           map[string]Remote
	Notes             map[string]map[string]string
	Head              *string
	CurrentBranchName *string
	Bare              *bool
	Index             map[string]Change
	Workdir           map[string]Change
	OpenSubmodules    map[string]*RepoAST
	Rebase            **RebaseState
}

// Copy returns a new RepoAST with the named overrides applied and every
// other field deep-copied from the receiver.
func (a *RepoAST) Copy(o RepoASTOverrides) *RepoAST {
	out := NewRepoAST()

	if o.Commits != nil {
		out.Commits = o.Commits
	} else {
		it := a.Commits.Iterator()
		for it.Next() {
			out.Commits.Put(it.Key(), it.Value())
		}
	}

	out.Branches = copyBranches(a.Branches)
	for k, v := range o.Branches {
		out.Branches[k] = v
	}

	out.Refs = copyStringMap(a.Refs)
	for k, v := range o.Refs {
		out.Refs[k] = v
	}

	out.Remotes = copyRemotes(a.Remotes)
	for k, v := range o.Remotes {
		out.Remotes[k] = v
	}

	out.Notes = copyNotes(a.Notes)
	for k, v := range o.Notes {
		out.Notes[k] = v
	}

	out.Head = a.Head
	if o.Head != nil {
		out.Head = *o.Head
	}
	out.CurrentBranchName = a.CurrentBranchName
	if o.CurrentBranchName != nil {
		out.CurrentBranchName = *o.CurrentBranchName
	}
	out.Bare = a.Bare
	if o.Bare != nil {
		out.Bare = *o.Bare
	}

	out.Index = copyChanges(a.Index)
	for k, v := range o.Index {
		out.Index[k] = v
	}
	out.Workdir = copyChanges(a.Workdir)
	for k, v := range o.Workdir {
		out.Workdir[k] = v
	}

	out.OpenSubmodules = make(map[string]*RepoAST, len(a.OpenSubmodules))
	for k, v := range a.OpenSubmodules {
		out.OpenSubmodules[k] = v
	}
	for k, v := range o.OpenSubmodules {
		out.OpenSubmodules[k] = v
	}

	out.Rebase = a.Rebase
	if o.Rebase != nil {
		out.Rebase = *o.Rebase
	}

	return out
}

func copyBranches(m map[string]BranchRef) map[string]BranchRef {
	out := make(map[string]BranchRef, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyChanges(m map[string]Change) map[string]Change {
	out := make(map[string]Change, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyRemotes(m map[string]Remote) map[string]Remote {
	out := make(map[string]Remote, len(m))
	for k, v := range m {
		out[k] = v.Copy(nil)
	}
	return out
}

func copyNotes(m map[string]map[string]string) map[string]map[string]string {
	out := make(map[string]map[string]string, len(m))
	for ref, notes := range m {
		out[ref] = copyStringMap(notes)
	}
	return out
}

// CommitByID is a typed lookup over the order-preserving Commits map.
func (a *RepoAST) CommitByID(id string) (Commit, bool) {
	v, ok := a.Commits.Get(id)
	if !ok {
		return Commit{}, false
	}
	return v.(Commit), true
}

// PutCommit inserts or replaces a commit, preserving first-insertion order
// for ids already present.
func (a *RepoAST) PutCommit(c Commit) {
	a.Commits.Put(c.ID, c)
}

// CommitIDs returns commit ids in insertion order.
func (a *RepoAST) CommitIDs() []string {
	keys := a.Commits.Keys()
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.(string)
	}
	return out
}
