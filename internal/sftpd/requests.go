package sftpd

import (
	"io"
	"log/slog"
	"os"

	"github.com/pkg/sftp"

	"github.com/acolita/fake-ssh/internal/metrics"
	"github.com/acolita/fake-ssh/internal/vfs"
)

type cmdFunc func(h *Handler, r *sftp.Request) error

type listFunc func(h *Handler, r *sftp.Request) ([]os.FileInfo, error)

var fileCmds = map[string]cmdFunc{
	"Setstat": func(h *Handler, r *sftp.Request) error {
		return h.Chattr(r.Filepath, patchFromRequest(r))
	},
	"Mkdir": func(h *Handler, r *sftp.Request) error {
		return h.Mkdir(r.Filepath)
	},
}

var fileLists = map[string]listFunc{
	"List": func(h *Handler, r *sftp.Request) ([]os.FileInfo, error) {
		return h.ListFolder(r.Filepath)
	},
	"Stat": func(h *Handler, r *sftp.Request) ([]os.FileInfo, error) {
		return single(h.Stat(r.Filepath))
	},
	"Lstat": func(h *Handler, r *sftp.Request) ([]os.FileInfo, error) {
		return single(h.Lstat(r.Filepath))
	},
}

func single(fi os.FileInfo, err error) ([]os.FileInfo, error) {
	if err != nil {
		return nil, err
	}
	return []os.FileInfo{fi}, nil
}

// Handlers adapts h to sftp.NewRequestServer.
func (h *Handler) Handlers() sftp.Handlers {
	rh := &requestHandler{h: h}
	return sftp.Handlers{
		FileGet:  rh,
		FilePut:  rh,
		FileCmd:  rh,
		FileList: rh,
	}
}

type requestHandler struct {
	h *Handler
}

func (rh *requestHandler) Fileread(r *sftp.Request) (io.ReaderAt, error) {
	return rh.open(r)
}

func (rh *requestHandler) Filewrite(r *sftp.Request) (io.WriterAt, error) {
	return rh.open(r)
}

// OpenFile serves opens that ask for both read and write access.
func (rh *requestHandler) OpenFile(r *sftp.Request) (sftp.WriterAtReaderAt, error) {
	return rh.open(r)
}

func (rh *requestHandler) open(r *sftp.Request) (*File, error) {
	f, err := rh.h.Open(r.Filepath, r.Pflags())
	metrics.RecordSFTPRequest(r.Method, err)
	slog.Debug("sftp request",
		slog.String("method", r.Method),
		slog.String("path", r.Filepath),
		slog.Bool("ok", err == nil),
	)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (rh *requestHandler) Filecmd(r *sftp.Request) error {
	fn, ok := fileCmds[r.Method]
	if !ok {
		slog.Debug("sftp request unsupported", slog.String("method", r.Method))
		metrics.RecordSFTPRequest(r.Method, sftp.ErrSSHFxOpUnsupported)
		return sftp.ErrSSHFxOpUnsupported
	}
	err := fn(rh.h, r)
	metrics.RecordSFTPRequest(r.Method, err)
	slog.Debug("sftp request",
		slog.String("method", r.Method),
		slog.String("path", r.Filepath),
		slog.Bool("ok", err == nil),
	)
	return err
}

func (rh *requestHandler) Filelist(r *sftp.Request) (sftp.ListerAt, error) {
	fn, ok := fileLists[r.Method]
	if !ok {
		slog.Debug("sftp request unsupported", slog.String("method", r.Method))
		metrics.RecordSFTPRequest(r.Method, sftp.ErrSSHFxOpUnsupported)
		return nil, sftp.ErrSSHFxOpUnsupported
	}
	infos, err := fn(rh.h, r)
	metrics.RecordSFTPRequest(r.Method, err)
	slog.Debug("sftp request",
		slog.String("method", r.Method),
		slog.String("path", r.Filepath),
		slog.Int("entries", len(infos)),
		slog.Bool("ok", err == nil),
	)
	if err != nil {
		return nil, err
	}
	return listerAt(infos), nil
}

// RealPath implements sftp.RealPathFileLister.
func (rh *requestHandler) RealPath(p string) (string, error) {
	return rh.h.Canonicalize(p), nil
}

func patchFromRequest(r *sftp.Request) vfs.AttrPatch {
	var patch vfs.AttrPatch
	attrs := r.Attributes()
	flags := r.AttrFlags()

	if flags.Size {
		size := int64(attrs.Size)
		patch.Size = &size
	}
	if flags.UidGid {
		uid, gid := attrs.UID, attrs.GID
		patch.UID = &uid
		patch.GID = &gid
	}
	if flags.Permissions {
		mode := attrs.FileMode().Perm()
		patch.Mode = &mode
	}
	if flags.Acmodtime {
		atime, mtime := attrs.AccessTime(), attrs.ModTime()
		patch.Atime = &atime
		patch.Mtime = &mtime
	}
	return patch
}

type listerAt []os.FileInfo

func (l listerAt) ListAt(dst []os.FileInfo, offset int64) (int, error) {
	if offset >= int64(len(l)) {
		return 0, io.EOF
	}
	return copy(dst, l[offset:]), nil
}

var (
	_ sftp.FileReader         = (*requestHandler)(nil)
	_ sftp.FileWriter         = (*requestHandler)(nil)
	_ sftp.FileCmder          = (*requestHandler)(nil)
	_ sftp.FileLister         = (*requestHandler)(nil)
	_ sftp.OpenFileWriter     = (*requestHandler)(nil)
	_ sftp.RealPathFileLister = (*requestHandler)(nil)
)
