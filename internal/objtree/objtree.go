// Package objtree encodes a directory snapshot as an ordered mapping of
// relative path to blob digest. The canonical encoding is UTF-8,
// entries sorted byte-wise by path, one "<digest><SP><path><LF>" line
// per entry. Sorting by path (not by digest) keeps the encoding stable
// under the one thing that actually changes between pins, file content,
// and makes a rendered tree diffable by eye.
package objtree

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/spawn-build/spawn/internal/hash"
)

// Entry is one path→digest mapping in a Tree.
type Entry struct {
	Path   string
	Digest hash.Digest
}

// Tree is an ordered, content-addressable directory listing. Entries
// map file paths to blob digests, never to other trees, so there is
// exactly one flat Tree per migration's pinned component set, however
// deep the component directory actually nests on disk — nesting is
// expressed purely through slash-separated paths within a single Tree.
type Tree struct {
	Entries []Entry
}

// Add appends an entry in insertion order; Encode and Paths put the
// entries into canonical path order themselves.
func (t *Tree) Add(path string, d hash.Digest) {
	t.Entries = append(t.Entries, Entry{Path: path, Digest: d})
}

// Sort orders entries byte-wise by path, the order Encode writes them in.
func (t *Tree) Sort() {
	sort.Slice(t.Entries, func(i, j int) bool { return t.Entries[i].Path < t.Entries[j].Path })
}

// Build constructs a canonically sorted Tree from a path→digest map,
// validating every path (relative, no "..", no leading "/", unique —
// map keys are already unique by construction).
func Build(entries map[string]hash.Digest) (Tree, error) {
	t := Tree{Entries: make([]Entry, 0, len(entries))}
	for p, d := range entries {
		if err := validatePath(p); err != nil {
			return Tree{}, err
		}
		t.Add(p, d)
	}
	t.Sort()
	return t, nil
}

func validatePath(p string) error {
	if p == "" {
		return fmt.Errorf("objtree: empty path")
	}
	if strings.HasPrefix(p, "/") {
		return fmt.Errorf("objtree: path %q must not be absolute", p)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return fmt.Errorf("objtree: path %q contains '..'", p)
		}
	}
	return nil
}

// Encode renders the canonical byte form: sorted "<digest> <path>\n"
// lines. An empty tree encodes to an empty byte slice, which is itself
// a valid, hashable blob.
func Encode(t Tree) []byte {
	sorted := t
	sorted.Sort()
	var buf bytes.Buffer
	for _, e := range sorted.Entries {
		buf.WriteString(e.Digest.String())
		buf.WriteByte(' ')
		buf.WriteString(e.Path)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// Decode parses the canonical form back into a Tree, validating every
// line's shape and path.
func Decode(data []byte) (Tree, error) {
	var t Tree
	if len(data) == 0 {
		return t, nil
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	for _, line := range lines {
		if line == "" {
			continue
		}
		sp := strings.IndexByte(line, ' ')
		if sp < 0 {
			return Tree{}, fmt.Errorf("objtree: malformed line %q", line)
		}
		d, err := hash.Parse(line[:sp])
		if err != nil {
			return Tree{}, fmt.Errorf("objtree: malformed digest: %w", err)
		}
		path := line[sp+1:]
		if err := validatePath(path); err != nil {
			return Tree{}, err
		}
		t.Add(path, d)
	}
	return t, nil
}

// Digest returns the tree's own content hash — the hash of its
// canonical encoding.
func Digest(t Tree) hash.Digest {
	return hash.Sum(Encode(t))
}

// Lookup finds the digest for path, if present.
func (t Tree) Lookup(path string) (hash.Digest, bool) {
	for _, e := range t.Entries {
		if e.Path == path {
			return e.Digest, true
		}
	}
	return hash.Digest{}, false
}

// Paths returns every path in the tree, sorted.
func (t Tree) Paths() []string {
	sorted := t
	sorted.Sort()
	out := make([]string, len(sorted.Entries))
	for i, e := range sorted.Entries {
		out[i] = e.Path
	}
	return out
}
