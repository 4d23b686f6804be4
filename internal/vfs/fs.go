// Package vfs implements the in-memory filesystem served over SFTP.
//
// The filesystem is a flat, insertion-ordered map from normalized absolute
// path to node. Directories carry no child list; a directory's children are
// found by scanning every path for the directory's prefix. Every strict
// ancestor of a present path is itself present as a directory.
package vfs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"sync"

	"github.com/acolita/fake-ssh/internal/adapters/realclock"
	"github.com/acolita/fake-ssh/internal/ports"
)

var (
	// ErrNotFound is returned for lookups of absent paths.
	ErrNotFound = fmt.Errorf("vfs: %w", fs.ErrNotExist)

	// ErrInvalidWriteTarget is returned when a file is created in a
	// directory that does not exist.
	ErrInvalidWriteTarget = errors.New("vfs: parent directory does not exist")
)

// Seed maps absolute paths to file content. A nil value is a directory.
type Seed map[string]*string

// Content is a helper for building seeds with string literals.
func Content(s string) *string { return &s }

// FS is the virtual filesystem. It is safe for concurrent use.
type FS struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	order []string
	clock ports.Clock
}

// Option configures an FS.
type Option func(*FS)

// WithClock sets the clock used for modification times.
func WithClock(c ports.Clock) Option {
	return func(f *FS) {
		f.clock = c
	}
}

// New builds a filesystem from seed and materializes every implied
// ancestor directory before returning it. Home is always present, so an
// empty seed still yields a filesystem that accepts uploads.
func New(seed Seed, opts ...Option) *FS {
	f := &FS{
		nodes: make(map[string]*Node),
		clock: realclock.New(),
	}
	for _, opt := range opts {
		opt(f)
	}

	f.PutDir(Home)

	keys := make([]string, 0, len(seed))
	for p := range seed {
		keys = append(keys, p)
	}
	sort.Strings(keys)

	for _, p := range keys {
		if content := seed[p]; content != nil {
			f.PutFile(p, []byte(*content))
		} else {
			f.PutDir(p)
		}
	}

	for _, dir := range MissingFolders(f.Paths()) {
		f.PutDir(dir)
	}
	return f
}

// PutFile inserts or replaces a file node at p.
func (f *FS) PutFile(p string, content []byte) *Node {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.putLocked(Normalize(p), KindFile, content)
}

// PutDir inserts or replaces a directory node at p.
func (f *FS) PutDir(p string) *Node {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.putLocked(Normalize(p), KindDir, nil)
}

// MkdirAll inserts or replaces a directory node at p and adds any of its
// ancestors that are missing.
func (f *FS) MkdirAll(p string) *Node {
	p = Normalize(p)

	f.mu.Lock()
	defer f.mu.Unlock()

	n := f.putLocked(p, KindDir, nil)
	for _, dir := range MissingFolders([]string{p}) {
		if _, ok := f.nodes[dir]; !ok {
			f.putLocked(dir, KindDir, nil)
		}
	}
	return n
}

func (f *FS) putLocked(p string, kind Kind, content []byte) *Node {
	now := f.clock.Now()
	n := &Node{
		path: p,
		attrs: Attributes{
			Name:  Base(p),
			Kind:  kind,
			Atime: now,
			Mtime: now,
		},
	}
	if kind == KindDir {
		n.attrs.Size = DirSize
		n.attrs.Mode = DefaultDirMode
	} else {
		n.content = append([]byte(nil), content...)
		n.attrs.Size = int64(len(n.content))
		n.attrs.Mode = DefaultFileMode
	}

	if _, ok := f.nodes[p]; !ok {
		f.order = append(f.order, p)
	}
	f.nodes[p] = n
	return n
}

// Get returns the node at p.
func (f *FS) Get(p string) (*Node, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	n, ok := f.nodes[Normalize(p)]
	if !ok {
		return nil, ErrNotFound
	}
	return n, nil
}

// Exists reports whether p is present.
func (f *FS) Exists(p string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.nodes[Normalize(p)]
	return ok
}

// Paths returns every present path in insertion order.
func (f *FS) Paths() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]string(nil), f.order...)
}

// Len returns the number of present paths.
func (f *FS) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.order)
}

// Stat returns a snapshot of the attributes of the node at p.
func (f *FS) Stat(p string) (Attributes, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	n, ok := f.nodes[Normalize(p)]
	if !ok {
		return Attributes{}, ErrNotFound
	}
	return n.attrs, nil
}

// Chattr merges patch into the attributes of the node at p. Fields the
// patch leaves unset keep their stored values.
func (f *FS) Chattr(p string, patch AttrPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, ok := f.nodes[Normalize(p)]
	if !ok {
		return ErrNotFound
	}
	n.attrs.merge(patch)
	return nil
}

// Create materializes an empty file at p. The parent directory must exist.
// An existing node at p is returned as is.
func (f *FS) Create(p string) (*Node, error) {
	p = Normalize(p)

	f.mu.Lock()
	defer f.mu.Unlock()

	if n, ok := f.nodes[p]; ok {
		return n, nil
	}
	if _, ok := f.nodes[Parent(p)]; !ok {
		return nil, fmt.Errorf("create %s: %w", p, ErrInvalidWriteTarget)
	}
	return f.putLocked(p, KindFile, nil), nil
}

// NodeStat returns the attributes of n, which may no longer be reachable
// by path.
func (f *FS) NodeStat(n *Node) Attributes {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return n.attrs
}

// NodeChattr merges patch into the attributes of n.
func (f *FS) NodeChattr(n *Node, patch AttrPatch) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n.attrs.merge(patch)
}

// ReadAt reads from the content of n at off.
func (f *FS) ReadAt(n *Node, b []byte, off int64) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if off < 0 {
		return 0, fmt.Errorf("read %s: negative offset", n.path)
	}
	if off >= int64(len(n.content)) {
		return 0, io.EOF
	}
	c := copy(b, n.content[off:])
	if c < len(b) {
		return c, io.EOF
	}
	return c, nil
}

// WriteAt writes b into the content of n at off, growing the buffer as
// needed. The size attribute tracks the content length after every write.
func (f *FS) WriteAt(n *Node, b []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if off < 0 {
		return 0, fmt.Errorf("write %s: negative offset", n.path)
	}
	end := off + int64(len(b))
	if end > int64(len(n.content)) {
		grown := make([]byte, end)
		copy(grown, n.content)
		n.content = grown
	}
	copy(n.content[off:], b)

	n.attrs.Size = int64(len(n.content))
	n.attrs.Mtime = f.clock.Now()
	return len(b), nil
}

// Truncate discards the content of n beyond size.
func (f *FS) Truncate(n *Node, size int64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if size < int64(len(n.content)) {
		n.content = n.content[:size]
	}
	n.attrs.Size = int64(len(n.content))
	n.attrs.Mtime = f.clock.Now()
}

// ReadFile returns a copy of the content of the file at p.
func (f *FS) ReadFile(p string) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	n, ok := f.nodes[Normalize(p)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), n.content...), nil
}
