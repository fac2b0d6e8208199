package plumbing

import (
	"bufio"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/pkg/errors"
)

// ReflogEntry is one line of a reference's reflog, oldest-first (matching
// the on-disk git format and ReadReflog's return order).
type ReflogEntry struct {
	Old       plumbing.Hash
	New       plumbing.Hash
	Committer object.Signature
	Message   string
}

func reflogPath(name plumbing.ReferenceName) string {
	return path.Join("logs", name.String())
}

// ReadReflog returns name's reflog, oldest entry first. A ref with no
// reflog file yet returns an empty slice, not an error.
func (r *Repo) ReadReflog(name plumbing.ReferenceName) ([]ReflogEntry, error) {
	p := reflogPath(name)
	f, err := r.GitDir.Open(p)
	if err != nil {
		return nil, nil
	}
	defer f.Close()

	var out []ReflogEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		entry, err := parseReflogLine(sc.Text())
		if err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out, sc.Err()
}

func parseReflogLine(line string) (ReflogEntry, error) {
	tabIdx := strings.IndexByte(line, '\t')
	head, message := line, ""
	if tabIdx >= 0 {
		head, message = line[:tabIdx], line[tabIdx+1:]
	}
	fields := strings.SplitN(head, " ", 4)
	if len(fields) < 4 {
		return ReflogEntry{}, errors.Errorf("plumbing: malformed reflog line %q", line)
	}
	old := plumbing.NewHash(fields[0])
	newH := plumbing.NewHash(fields[1])

	nameEmail := fields[2]
	tsTZ := fields[3]

	name, email := splitNameEmail(nameEmail)
	sec, _ := splitTimestamp(tsTZ)

	sig := object.Signature{Name: name, Email: email, When: time.Unix(sec, 0)}
	return ReflogEntry{Old: old, New: newH, Committer: sig, Message: message}, nil
}

func splitNameEmail(s string) (string, string) {
	lt := strings.IndexByte(s, '<')
	gt := strings.IndexByte(s, '>')
	if lt < 0 || gt < 0 || gt < lt {
		return strings.TrimSpace(s), ""
	}
	return strings.TrimSpace(s[:lt]), s[lt+1 : gt]
}

func splitTimestamp(s string) (int64, string) {
	parts := strings.SplitN(s, " ", 2)
	sec, _ := strconv.ParseInt(parts[0], 10, 64)
	tz := "+0000"
	if len(parts) > 1 {
		tz = parts[1]
	}
	return sec, tz
}

// AppendReflog appends one entry to name's reflog, creating the file (and
// its parent directories) if this is the first entry.
func (r *Repo) AppendReflog(name plumbing.ReferenceName, old, newH plumbing.Hash, message string) error {
	return r.appendReflogEntry(name, ReflogEntry{
		Old:       old,
		New:       newH,
		Committer: DefaultSignature(time.Now()),
		Message:   message,
	})
}

func (r *Repo) appendReflogEntry(name plumbing.ReferenceName, e ReflogEntry) error {
	p := reflogPath(name)
	if dir := path.Dir(p); dir != "." {
		if err := r.GitDir.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "plumbing: mkdir for reflog %s", name)
		}
	}
	f, err := r.GitDir.OpenFile(p, osAppendCreateWronly, 0o644)
	if err != nil {
		return errors.Wrapf(err, "plumbing: open reflog %s", name)
	}
	defer f.Close()

	line := formatReflogLine(e)
	_, err = f.Write([]byte(line))
	return err
}

func formatReflogLine(e ReflogEntry) string {
	when := e.Committer.When
	if when.IsZero() {
		when = time.Now()
	}
	_, offset := when.Zone()
	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	tz := fmt.Sprintf("%s%02d%02d", sign, offset/3600, (offset%3600)/60)
	name := e.Committer.Name
	email := e.Committer.Email
	if name == "" {
		name = "metarepo"
	}
	if email == "" {
		email = "metarepo@localhost"
	}
	return fmt.Sprintf("%s %s %s <%s> %d %s\t%s\n", e.Old, e.New, name, email, when.Unix(), tz, e.Message)
}

// DropReflogEntry removes the nth-from-newest entry (n=0 is the most
// recent) and rewrites the file. Dropping the newest entry (n=0) leaves
// the ref itself untouched — callers that also need to move the ref back
// do so separately (see coordinator's stash drop, which advances
// refs/meta-stash to the new top after dropping index 0).
func (r *Repo) DropReflogEntry(name plumbing.ReferenceName, n int) error {
	entries, err := r.ReadReflog(name)
	if err != nil {
		return err
	}
	if n < 0 || n >= len(entries) {
		return errors.Errorf("plumbing: reflog index %d out of range (have %d)", n, len(entries))
	}
	// entries is oldest-first; n=0 (newest) is the last element.
	drop := len(entries) - 1 - n
	entries = append(entries[:drop], entries[drop+1:]...)

	if len(entries) == 0 {
		return r.GitDir.Remove(reflogPath(name))
	}

	p := reflogPath(name)
	f, err := r.GitDir.OpenFile(p, osTruncCreateWronly, 0o644)
	if err != nil {
		return errors.Wrapf(err, "plumbing: rewrite reflog %s", name)
	}
	defer f.Close()
	for _, e := range entries {
		if _, err := f.Write([]byte(formatReflogLine(e))); err != nil {
			return err
		}
	}
	return nil
}
