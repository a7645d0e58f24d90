package vfs

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Location is a URI-like address: scheme://authority/path.
//
// Paths are stored unescaped, slash separated and cleaned, so two Locations
// naming the same place compare equal as strings. The root of a scheme has
// the path "/".
type Location string

const schemeSep = "://"

// FileScheme is the scheme of the local filesystem.
const FileScheme = "file"

// Parse normalizes user input into a Location. Bare absolute paths become
// file:// locations, "~" expands to the home directory and relative paths
// are resolved against the working directory.
func Parse(input string) (Location, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", errors.New("empty location")
	}

	if i := strings.Index(input, schemeSep); i > 0 {
		scheme := strings.ToLower(input[:i])
		if !validScheme(scheme) {
			return "", fmt.Errorf("invalid scheme %q", input[:i])
		}
		rest := input[i+len(schemeSep):]
		authority, p := rest, "/"
		if j := strings.Index(rest, "/"); j >= 0 {
			authority, p = rest[:j], rest[j:]
		}
		return build(scheme, authority, p), nil
	}

	p := input
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand %q: %w", input, err)
		}
		p = filepath.Join(home, p[1:])
	}
	if !filepath.IsAbs(p) {
		abs, err := filepath.Abs(p)
		if err != nil {
			return "", fmt.Errorf("resolve %q: %w", input, err)
		}
		p = abs
	}
	return FromPath(p), nil
}

// MustParse is Parse for constants and tests.
func MustParse(input string) Location {
	loc, err := Parse(input)
	if err != nil {
		panic(err)
	}
	return loc
}

// FromPath converts an absolute local path into a file:// location.
func FromPath(p string) Location {
	p = filepath.ToSlash(p)
	if vol := filepath.VolumeName(p); vol != "" {
		p = "/" + p
	}
	return build(FileScheme, "", p)
}

func build(scheme, authority, p string) Location {
	if p == "" || p[0] != '/' {
		p = "/" + p
	}
	return Location(scheme + schemeSep + authority + path.Clean(p))
}

func validScheme(s string) bool {
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case i > 0 && (r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.'):
		default:
			return false
		}
	}
	return s != ""
}

func (l Location) split() (scheme, authority, p string) {
	s := string(l)
	i := strings.Index(s, schemeSep)
	if i < 0 {
		return "", "", s
	}
	scheme = s[:i]
	rest := s[i+len(schemeSep):]
	if j := strings.Index(rest, "/"); j >= 0 {
		return scheme, rest[:j], rest[j:]
	}
	return scheme, rest, "/"
}

func (l Location) String() string { return string(l) }

// Scheme returns the URI scheme.
func (l Location) Scheme() string {
	s, _, _ := l.split()
	return s
}

// Authority returns the host part, empty for local files.
func (l Location) Authority() string {
	_, a, _ := l.split()
	return a
}

// Path returns the slash separated path, always starting with "/".
func (l Location) Path() string {
	_, _, p := l.split()
	return p
}

// LocalPath returns the path in the host's separator convention.
func (l Location) LocalPath() string {
	p := l.Path()
	if len(p) > 2 && p[2] == ':' {
		p = p[1:] // /C:/x -> C:/x
	}
	return filepath.FromSlash(p)
}

// Root returns the scheme root containing l.
func (l Location) Root() Location {
	s, a, _ := l.split()
	return Location(s + schemeSep + a + "/")
}

// IsRoot reports whether l is its scheme root.
func (l Location) IsRoot() bool {
	return l.Path() == "/"
}

// Base returns the last path element, or the authority for a root.
func (l Location) Base() string {
	s, a, p := l.split()
	if p == "/" {
		if a != "" {
			return a
		}
		if s == FileScheme {
			return "/"
		}
		return s + schemeSep
	}
	return path.Base(p)
}

// Parent returns the enclosing location. Roots have no parent.
func (l Location) Parent() (Location, bool) {
	s, a, p := l.split()
	if p == "/" {
		return "", false
	}
	return Location(s + schemeSep + a + path.Dir(p)), true
}

// Join appends a child name.
func (l Location) Join(name string) Location {
	s, a, p := l.split()
	return build(s, a, path.Join(p, name))
}

// HasAncestor reports whether a is l or a literal path ancestor of l.
func (l Location) HasAncestor(a Location) bool {
	ls, la, lp := l.split()
	as, aa, ap := a.split()
	if ls != as || la != aa {
		return false
	}
	if ap == "/" || lp == ap {
		return true
	}
	return strings.HasPrefix(lp, ap+"/")
}

// Depth returns the number of path elements below the root.
func (l Location) Depth() int {
	p := l.Path()
	if p == "/" {
		return 0
	}
	return strings.Count(p, "/")
}

// AncestorChain returns [entry, ..., target]: every literal ancestor of
// target from entry downwards, with target last.
func AncestorChain(entry, target Location) ([]Location, error) {
	if !target.HasAncestor(entry) {
		return nil, fmt.Errorf("%s is not inside %s", target, entry)
	}
	chain := make([]Location, target.Depth()-entry.Depth()+1)
	cur := target
	for i := len(chain) - 1; i > 0; i-- {
		chain[i] = cur
		cur, _ = cur.Parent()
	}
	chain[0] = entry
	return chain, nil
}
