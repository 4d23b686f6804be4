// Package sftpd serves SFTP requests from a virtual filesystem.
//
// Handler exposes the file operations as plain Go methods; Handlers adapts
// it to github.com/pkg/sftp's request server. Every failure reaches the
// peer as a protocol status, never as a dropped connection.
package sftpd

import (
	"errors"
	"log/slog"
	"os"

	"github.com/pkg/sftp"

	"github.com/acolita/fake-ssh/internal/metrics"
	"github.com/acolita/fake-ssh/internal/vfs"
)

// ErrNoSuchFile is the SSH_FX_NO_SUCH_FILE status.
var ErrNoSuchFile = sftp.ErrSSHFxNoSuchFile

// Handler answers SFTP operations against one filesystem. It keeps no
// per-session state.
type Handler struct {
	fs   *vfs.FS
	home string
}

// NewHandler returns a Handler serving fsys.
func NewHandler(fsys *vfs.FS) *Handler {
	return &Handler{fs: fsys, home: vfs.Home}
}

// Canonicalize resolves p against the home directory.
func (h *Handler) Canonicalize(p string) string {
	return vfs.Canonicalize(p, h.home)
}

// ListFolder returns the immediate children of p in the order they were
// first seen. An empty listing, or any child that fails to stat, fails the
// whole call.
func (h *Handler) ListFolder(p string) ([]os.FileInfo, error) {
	p = vfs.Normalize(p)
	target := vfs.Expand(p)

	var children []string
	seen := make(map[string]struct{})
	for _, candidate := range h.fs.Paths() {
		segments := vfs.Expand(candidate)
		if !vfs.Contains(segments, target) {
			continue
		}
		child := vfs.Join(segments[:len(target)+1])
		if _, ok := seen[child]; ok {
			continue
		}
		seen[child] = struct{}{}
		children = append(children, child)
	}

	if len(children) == 0 {
		slog.Debug("sftp list: no children", slog.String("path", p))
		return nil, ErrNoSuchFile
	}

	infos := make([]os.FileInfo, 0, len(children))
	for _, child := range children {
		fi, err := h.Stat(child)
		if err != nil {
			slog.Debug("sftp list: child vanished",
				slog.String("path", p),
				slog.String("child", child),
			)
			return nil, ErrNoSuchFile
		}
		infos = append(infos, fi)
	}
	return infos, nil
}

// Open returns a handle to the node at p. A missing file is created when
// write access is requested and its parent directory exists.
func (h *Handler) Open(p string, flags sftp.FileOpenFlags) (*File, error) {
	p = vfs.Normalize(p)
	write := flags.Write || flags.Append

	node, err := h.fs.Get(p)
	switch {
	case err == nil:
		if write && flags.Trunc && !node.IsDir() {
			h.fs.Truncate(node, 0)
		}
	case !write:
		return nil, ErrNoSuchFile
	default:
		node, err = h.fs.Create(p)
		if err != nil {
			if errors.Is(err, vfs.ErrInvalidWriteTarget) {
				slog.Debug("sftp open: parent missing", slog.String("path", p))
			}
			return nil, ErrNoSuchFile
		}
		metrics.SetFilesystemNodes(h.fs.Len())
		slog.Debug("sftp open: created file", slog.String("path", p))
	}

	return &File{fs: h.fs, node: node}, nil
}

// Stat returns the attributes of p.
func (h *Handler) Stat(p string) (os.FileInfo, error) {
	attrs, err := h.fs.Stat(vfs.Normalize(p))
	if err != nil {
		return nil, ErrNoSuchFile
	}
	return vfs.NewFileInfo(attrs), nil
}

// Lstat is Stat; the filesystem has no links.
func (h *Handler) Lstat(p string) (os.FileInfo, error) {
	return h.Stat(p)
}

// Chattr merges patch into the attributes of p.
func (h *Handler) Chattr(p string, patch vfs.AttrPatch) error {
	if err := h.fs.Chattr(vfs.Normalize(p), patch); err != nil {
		return ErrNoSuchFile
	}
	return nil
}

// Mkdir puts a directory at p, replacing whatever was there. Missing
// ancestors are created with it.
func (h *Handler) Mkdir(p string) error {
	h.fs.MkdirAll(vfs.Normalize(p))
	metrics.SetFilesystemNodes(h.fs.Len())
	return nil
}
