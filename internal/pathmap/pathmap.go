// Package pathmap implements path mapping (spec.md §4.6): an ordered list
// of {local_root, remote_root} pairs applied at the client/debuggee
// boundary, longest-prefix-first-match.
package pathmap

import (
	"sort"
	"strings"

	"github.com/jborean93/ansibug/util/pathutil"
)

// Mapping is one {local_root, remote_root} pair.
type Mapping struct {
	LocalRoot  string
	RemoteRoot string
}

// Mapper applies an ordered set of Mappings, longest-prefix-first-match,
// inbound client paths local->remote, outbound paths remote->local.
type Mapper struct {
	mappings []Mapping
}

// New builds a Mapper from the given mappings, tilde-expanding local roots
// (util/pathutil, kept from the teacher) and sorting by descending root
// length so the longest prefix always wins regardless of input order.
func New(mappings []Mapping) *Mapper {
	m := &Mapper{mappings: make([]Mapping, len(mappings))}
	copy(m.mappings, mappings)
	for i := range m.mappings {
		m.mappings[i].LocalRoot = pathutil.ExpandTilde(m.mappings[i].LocalRoot)
	}
	sort.SliceStable(m.mappings, func(i, j int) bool {
		return len(m.mappings[i].LocalRoot) > len(m.mappings[j].LocalRoot)
	})
	return m
}

// ToRemote maps a client-supplied local path to its canonical remote path.
func (m *Mapper) ToRemote(localPath string) string {
	for _, mp := range m.mappings {
		if rest, ok := cutPrefix(localPath, mp.LocalRoot); ok {
			return joinRoot(mp.RemoteRoot, rest)
		}
	}
	return localPath
}

// ToLocal maps a debuggee-reported remote path back to its local path for
// the client, considering remote-root length for longest-match instead of
// local-root length.
func (m *Mapper) ToLocal(remotePath string) string {
	best := -1
	bestLocal := remotePath
	for _, mp := range m.mappings {
		if rest, ok := cutPrefix(remotePath, mp.RemoteRoot); ok {
			if len(mp.RemoteRoot) > best {
				best = len(mp.RemoteRoot)
				bestLocal = joinRoot(mp.LocalRoot, rest)
			}
		}
	}
	return bestLocal
}

func cutPrefix(path, root string) (string, bool) {
	if root == "" {
		return "", false
	}
	if path == root {
		return "", true
	}
	if strings.HasPrefix(path, root+"/") {
		return path[len(root)+1:], true
	}
	return "", false
}

func joinRoot(root, rest string) string {
	if rest == "" {
		return root
	}
	return strings.TrimSuffix(root, "/") + "/" + rest
}
