package sftpd

import (
	"os"

	"github.com/acolita/fake-ssh/internal/metrics"
	"github.com/acolita/fake-ssh/internal/vfs"
)

// File is an open handle bound to one node. Reads, writes and attribute
// changes go straight to the node, even if its path is later replaced.
type File struct {
	fs   *vfs.FS
	node *vfs.Node
}

// Name returns the path the handle was opened at.
func (f *File) Name() string { return f.node.Path() }

// ReadAt implements io.ReaderAt.
func (f *File) ReadAt(b []byte, off int64) (int, error) {
	return f.fs.ReadAt(f.node, b, off)
}

// WriteAt implements io.WriterAt.
func (f *File) WriteAt(b []byte, off int64) (int, error) {
	n, err := f.fs.WriteAt(f.node, b, off)
	metrics.RecordSFTPWrite(n)
	return n, err
}

// Stat returns the node's attributes.
func (f *File) Stat() (os.FileInfo, error) {
	return vfs.NewFileInfo(f.fs.NodeStat(f.node)), nil
}

// Chattr merges patch into the node's attributes.
func (f *File) Chattr(patch vfs.AttrPatch) error {
	f.fs.NodeChattr(f.node, patch)
	return nil
}

// Close is a no-op; virtual files stay open for their whole lifetime.
func (f *File) Close() error { return nil }
