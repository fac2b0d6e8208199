// Package shorthand implements the compact textual grammar spec.md §4.B
// describes for writing repository (and multi-repository) fixtures: a
// parser turning shorthand text into a gitast.RepoAST, a multi-repo
// resolver merging several such definitions through a shared commit pool,
// and a writer that materializes the result onto a live repository through
// internal/plumbing.
package shorthand

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/kurobon/metarepo/internal/gitast"
)

// BaseKind names the three ways a shorthand definition can seed a repo.
type BaseKind int

const (
	BaseSeedSimple BaseKind = iota
	BaseSeedBare
	BaseCloneOf
)

// OverrideKind tags which of the five override forms a parsed Override is.
type OverrideKind int

const (
	OvHead OverrideKind = iota
	OvCurrentBranch
	OvBranch
	OvCommit
	OvRemote
)

// RBranch is one remote-tracking branch entry inside an R override.
type RBranch struct {
	Name   string
	Commit string // empty means "remove this remote branch"
}

// Override is one parsed `;`-separated override clause. Only the fields
// relevant to Kind are meaningful; this mirrors the grammar's own union
// shape rather than inventing five separate types for five rarely-reused
// shapes.
type Override struct {
	Kind OverrideKind

	// OvHead
	HeadCommit string // empty => detach with no head at all

	// OvCurrentBranch
	CurrentBranchName string // empty => detach, leave head as-is

	// OvBranch
	BranchName   string
	BranchCommit string // empty => delete the branch

	// OvCommit
	CommitID      string
	CommitParent  string
	CommitChanges []ChangeSpec

	// OvRemote
	RemoteName     string
	RemoteURL      string
	RemoteURLGiven bool
	RemoteBranches []RBranch
}

// ChangeSpec is one path=data entry inside a commit override.
type ChangeSpec struct {
	Path   string
	Change gitast.Change
}

// ParsedRepo is one shorthand definition, not yet resolved against a
// global commit pool.
type ParsedRepo struct {
	Base      BaseKind
	CloneName string // set when Base == BaseCloneOf
	Overrides []Override
}

// ParseShorthand parses one single-repo shorthand string (the grammar's
// `shorthand` production).
func ParseShorthand(s string) (*ParsedRepo, error) {
	if s == "" {
		return nil, errors.New("shorthand: empty definition")
	}

	base, rest, err := parseBase(s)
	if err != nil {
		return nil, err
	}

	pr := &ParsedRepo{Base: base.kind, CloneName: base.cloneName}

	if rest == "" {
		return pr, nil
	}
	if rest[0] != ':' {
		return nil, errors.Errorf("shorthand: expected ':' before overrides in %q", s)
	}
	rest = rest[1:]

	seenHead, seenCurrentBranch := false, false
	seenBranch := map[string]bool{}
	seenCommit := map[string]bool{}

	for _, clause := range splitTop(rest, ';') {
		if clause == "" {
			continue
		}
		ov, err := parseOverride(clause)
		if err != nil {
			return nil, errors.Wrapf(err, "shorthand: override %q", clause)
		}
		switch ov.Kind {
		case OvHead:
			if seenCurrentBranch {
				return nil, errors.Errorf("shorthand: H and * are mutually exclusive in %q", s)
			}
			if seenHead {
				return nil, errors.Errorf("shorthand: duplicate H override in %q", s)
			}
			seenHead = true
		case OvCurrentBranch:
			if seenHead {
				return nil, errors.Errorf("shorthand: H and * are mutually exclusive in %q", s)
			}
			if seenCurrentBranch {
				return nil, errors.Errorf("shorthand: duplicate * override in %q", s)
			}
			seenCurrentBranch = true
		case OvBranch:
			if seenBranch[ov.BranchName] {
				return nil, errors.Errorf("shorthand: duplicate branch override %q in %q", ov.BranchName, s)
			}
			seenBranch[ov.BranchName] = true
		case OvCommit:
			if seenCommit[ov.CommitID] {
				return nil, errors.Errorf("shorthand: duplicate commit override %q in %q", ov.CommitID, s)
			}
			seenCommit[ov.CommitID] = true
		}
		pr.Overrides = append(pr.Overrides, *ov)
	}

	return pr, nil
}

type parsedBase struct {
	kind      BaseKind
	cloneName string
}

func parseBase(s string) (parsedBase, string, error) {
	switch s[0] {
	case 'S':
		return parsedBase{kind: BaseSeedSimple}, s[1:], nil
	case 'B':
		return parsedBase{kind: BaseSeedBare}, s[1:], nil
	case 'C':
		rest := s[1:]
		end := strings.IndexByte(rest, ':')
		if end < 0 {
			return parsedBase{kind: BaseCloneOf, cloneName: rest}, "", nil
		}
		return parsedBase{kind: BaseCloneOf, cloneName: rest[:end]}, rest[end:], nil
	default:
		return parsedBase{}, "", errors.Errorf("shorthand: unknown base %q", s)
	}
}

// splitTop splits s on sep, ignoring occurrences nested won't occur here
// since the grammar has no nested separators of the same kind at this
// level; kept as a named helper so intent reads clearly at call sites.
func splitTop(s string, sep byte) []string {
	return strings.Split(s, string(sep))
}

func parseOverride(clause string) (*Override, error) {
	switch clause[0] {
	case 'H':
		rest, err := expectEquals(clause, "H")
		if err != nil {
			return nil, err
		}
		return &Override{Kind: OvHead, HeadCommit: rest}, nil

	case '*':
		rest, err := expectEquals(clause, "*")
		if err != nil {
			return nil, err
		}
		return &Override{Kind: OvCurrentBranch, CurrentBranchName: rest}, nil

	case 'B':
		name, value, err := parseNamedEquals(clause[1:])
		if err != nil {
			return nil, err
		}
		return &Override{Kind: OvBranch, BranchName: name, BranchCommit: value}, nil

	case 'C':
		return parseCommitOverride(clause[1:])

	case 'R':
		return parseRemoteOverride(clause[1:])

	default:
		return nil, errors.Errorf("shorthand: unknown override %q", clause)
	}
}

func expectEquals(clause, prefix string) (string, error) {
	if !strings.HasPrefix(clause, prefix+"=") {
		return "", errors.Errorf("shorthand: expected %q in %q", prefix+"=", clause)
	}
	return clause[len(prefix)+1:], nil
}

// parseNamedEquals splits "name=value" into its two halves.
func parseNamedEquals(s string) (name, value string, err error) {
	idx := strings.IndexByte(s, '=')
	if idx < 0 {
		return "", "", errors.Errorf("shorthand: expected '=' in %q", s)
	}
	return s[:idx], s[idx+1:], nil
}

// parseCommitOverride parses "id-parent[ change(,change)*]".
func parseCommitOverride(s string) (*Override, error) {
	dash := strings.IndexByte(s, '-')
	if dash < 0 {
		return nil, errors.Errorf("shorthand: commit override missing '-' in %q", s)
	}
	id := s[:dash]
	rest := s[dash+1:]

	parent := rest
	changesPart := ""
	if sp := strings.IndexByte(rest, ' '); sp >= 0 {
		parent = rest[:sp]
		changesPart = rest[sp+1:]
	}
	if id == "" || parent == "" {
		return nil, errors.Errorf("shorthand: commit override requires id and parent in %q", s)
	}

	var changes []ChangeSpec
	if changesPart != "" {
		for _, tok := range strings.Split(changesPart, ",") {
			cs, err := parseChange(tok)
			if err != nil {
				return nil, err
			}
			changes = append(changes, cs)
		}
	} else {
		// Convention: a commit override with no explicit change list
		// still produces a single path=id change keyed on its own id,
		// so bare `Cid-parent` forms (as in spec.md §8 scenario 1) are
		// meaningful on their own.
		changes = []ChangeSpec{{Path: id, Change: gitast.BlobChange(id)}}
	}

	return &Override{Kind: OvCommit, CommitID: id, CommitParent: parent, CommitChanges: changes}, nil
}

func parseChange(tok string) (ChangeSpec, error) {
	name, data, err := parseNamedEquals(tok)
	if err != nil {
		return ChangeSpec{}, errors.Wrapf(err, "shorthand: change %q", tok)
	}
	if strings.HasPrefix(data, "S") {
		rest := data[1:]
		colon := strings.LastIndexByte(rest, ':')
		if colon < 0 {
			return ChangeSpec{}, errors.Errorf("shorthand: malformed submodule change %q", tok)
		}
		url, sha := rest[:colon], rest[colon+1:]
		return ChangeSpec{Path: name, Change: gitast.SubmoduleChange(url, sha)}, nil
	}
	return ChangeSpec{Path: name, Change: gitast.BlobChange(data)}, nil
}

// parseRemoteOverride parses "name=[url][ rbranch(,rbranch)*]".
func parseRemoteOverride(s string) (*Override, error) {
	eq := strings.IndexByte(s, '=')
	if eq < 0 {
		return nil, errors.Errorf("shorthand: remote override missing '=' in %q", s)
	}
	name := s[:eq]
	rest := s[eq+1:]

	url := rest
	branchesPart := ""
	urlGiven := false
	if sp := strings.IndexByte(rest, ' '); sp >= 0 {
		url = rest[:sp]
		branchesPart = rest[sp+1:]
	}
	urlGiven = url != ""

	var branches []RBranch
	if branchesPart != "" {
		for _, tok := range strings.Split(branchesPart, ",") {
			bn, bc, err := parseNamedEquals(tok)
			if err != nil {
				return nil, errors.Wrapf(err, "shorthand: remote branch %q", tok)
			}
			branches = append(branches, RBranch{Name: bn, Commit: bc})
		}
	}

	return &Override{
		Kind:           OvRemote,
		RemoteName:     name,
		RemoteURL:      url,
		RemoteURLGiven: urlGiven,
		RemoteBranches: branches,
	}, nil
}

// ParseMultiShorthand splits the `name=shorthand('|'name=shorthand)*`
// multi-repo form into its per-repo definitions, preserving left-to-right
// order (the resolver processes repos in this order when a clone-of base
// needs an already-resolved source).
func ParseMultiShorthand(s string) ([]string, map[string]*ParsedRepo, error) {
	var order []string
	repos := map[string]*ParsedRepo{}
	for _, part := range strings.Split(s, "|") {
		name, def, err := parseNamedEquals(part)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "shorthand: multi-repo entry %q", part)
		}
		if _, dup := repos[name]; dup {
			return nil, nil, errors.Errorf("shorthand: duplicate repo name %q", name)
		}
		pr, err := ParseShorthand(def)
		if err != nil {
			return nil, nil, err
		}
		order = append(order, name)
		repos[name] = pr
	}
	return order, repos, nil
}

// seedCommitID is the id of the implicit first commit every S/B base
// creates.
const seedCommitID = "1"

func seedCommit() gitast.Commit {
	return gitast.Commit{
		ID:      seedCommitID,
		Parents: nil,
		Changes: map[string]gitast.Change{"README.md": gitast.BlobChange("hello world")},
	}
}
