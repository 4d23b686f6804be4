package vfs

import (
	"io/fs"
	"time"
)

// Kind distinguishes file nodes from directory nodes.
type Kind int

const (
	KindFile Kind = iota
	KindDir
)

func (k Kind) String() string {
	if k == KindDir {
		return "dir"
	}
	return "file"
}

// DirSize is the nominal size reported for every directory.
const DirSize = 4096

// Default permission bits for new nodes.
const (
	DefaultFileMode fs.FileMode = 0o644
	DefaultDirMode  fs.FileMode = 0o755
)

// Attributes is the metadata record exposed through stat-family calls.
type Attributes struct {
	Name  string
	Kind  Kind
	Size  int64
	Mode  fs.FileMode // permission bits only; the type bit comes from Kind
	UID   uint32
	GID   uint32
	Atime time.Time
	Mtime time.Time
}

// AttrPatch is a partial attribute update. Nil fields are left untouched.
type AttrPatch struct {
	Size  *int64
	UID   *uint32
	GID   *uint32
	Mode  *fs.FileMode
	Atime *time.Time
	Mtime *time.Time
}

// Empty reports whether the patch sets no field.
func (p AttrPatch) Empty() bool {
	return p.Size == nil && p.UID == nil && p.GID == nil &&
		p.Mode == nil && p.Atime == nil && p.Mtime == nil
}

func (a *Attributes) merge(p AttrPatch) {
	if p.Size != nil {
		a.Size = *p.Size
	}
	if p.UID != nil {
		a.UID = *p.UID
	}
	if p.GID != nil {
		a.GID = *p.GID
	}
	if p.Mode != nil {
		a.Mode = p.Mode.Perm()
	}
	if p.Atime != nil {
		a.Atime = *p.Atime
	}
	if p.Mtime != nil {
		a.Mtime = *p.Mtime
	}
}

// Node is a file or directory entry. Content and attributes are guarded by
// the owning FS; use the FS methods to access them.
type Node struct {
	path    string
	content []byte
	attrs   Attributes
}

// Path returns the normalized path the node was created at.
func (n *Node) Path() string { return n.path }

// IsDir reports whether the node is a directory.
func (n *Node) IsDir() bool { return n.attrs.Kind == KindDir }

// FileInfo adapts Attributes to fs.FileInfo.
type FileInfo struct {
	attrs Attributes
}

// NewFileInfo wraps a snapshot of attrs.
func NewFileInfo(attrs Attributes) *FileInfo {
	return &FileInfo{attrs: attrs}
}

func (fi *FileInfo) Name() string { return fi.attrs.Name }
func (fi *FileInfo) Size() int64  { return fi.attrs.Size }

func (fi *FileInfo) Mode() fs.FileMode {
	if fi.attrs.Kind == KindDir {
		return fi.attrs.Mode | fs.ModeDir
	}
	return fi.attrs.Mode
}

func (fi *FileInfo) ModTime() time.Time { return fi.attrs.Mtime }
func (fi *FileInfo) IsDir() bool        { return fi.attrs.Kind == KindDir }
func (fi *FileInfo) Sys() any           { return fi.attrs }

// Uid and Gid let the sftp server report ownership.
func (fi *FileInfo) Uid() uint32 { return fi.attrs.UID }
func (fi *FileInfo) Gid() uint32 { return fi.attrs.GID }

// Attributes returns the underlying record.
func (fi *FileInfo) Attributes() Attributes { return fi.attrs }

var _ fs.FileInfo = (*FileInfo)(nil)
