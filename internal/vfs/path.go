package vfs

import (
	"path"
	"strings"
)

// Separator is the path separator used by the virtual filesystem.
const Separator = "/"

// Home is the directory relative paths are resolved against.
const Home = Separator

// Normalize rewrites p to its canonical absolute form. Relative paths are
// rooted at Home; the result is lexically cleaned.
func Normalize(p string) string {
	if !strings.HasPrefix(p, Separator) {
		p = path.Join(Home, p)
	}
	return path.Clean(p)
}

// Canonicalize resolves p against home. Absolute paths are returned
// unchanged.
func Canonicalize(p, home string) string {
	if path.IsAbs(p) {
		return p
	}
	return path.Join(home, p)
}

// Expand decomposes p into its ancestor chain.
//
//	"/foo/bar"  => ["/", "foo", "bar"]
//	"rel/path"  => ["", "rel", "path"]
//	"" and "/"  => themselves, as a single element
//
// The first element marks the path as absolute ("/") or relative ("").
func Expand(p string) []string {
	if p == "" || p == Separator {
		return []string{p}
	}

	var head string
	rest := p
	if strings.HasPrefix(p, Separator) {
		head = Separator
		rest = strings.TrimLeft(p, Separator)
	}

	segments := []string{head}
	for _, seg := range strings.Split(rest, Separator) {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	return segments
}

// Join reassembles segments produced by Expand.
func Join(segments []string) string {
	if len(segments) == 0 {
		return ""
	}
	if segments[0] == Separator {
		return Separator + strings.Join(segments[1:], Separator)
	}
	return strings.Join(segments[1:], Separator)
}

// Contains reports whether target is a strict, non-empty prefix of
// candidate, i.e. the path candidate lies under target. A path never
// contains itself.
func Contains(candidate, target []string) bool {
	if len(target) == 0 || len(target) >= len(candidate) {
		return false
	}
	for i := range target {
		if candidate[i] != target[i] {
			return false
		}
	}
	return true
}

// MissingFolders returns every ancestor directory implied by paths that is
// not itself in paths. Results are in first-seen order, walking each path
// from its deepest ancestor towards the root.
func MissingFolders(paths []string) []string {
	pool := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		pool[p] = struct{}{}
	}

	var missing []string
	for _, p := range paths {
		segments := Expand(p)
		for n := len(segments); n > 0; n-- {
			folder := Join(segments[:n])
			if folder == "" {
				continue
			}
			if _, ok := pool[folder]; ok {
				continue
			}
			pool[folder] = struct{}{}
			missing = append(missing, folder)
		}
	}
	return missing
}

// Base returns the last segment of p, or "/" for the root.
func Base(p string) string {
	return path.Base(p)
}

// Parent returns the directory containing p.
func Parent(p string) string {
	return path.Dir(p)
}
