package remotefs

import (
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/sftp"
)

// Remote serves a connected host's filesystem over its file-transfer
// sub-channel. Once Close is called every method fails with ErrNotConnected
// without any network round trip.
type Remote struct {
	client *sftp.Client
	closed atomic.Bool
}

// NewRemote wraps an established sftp client.
func NewRemote(client *sftp.Client) *Remote {
	return &Remote{client: client}
}

// Close detaches the adapter from its sub-channel. Idempotent. The sftp
// client itself is owned and closed by the transport layer.
func (r *Remote) Close() {
	r.closed.Store(true)
}

func (r *Remote) guard() error {
	if r.closed.Load() {
		return ErrNotConnected
	}
	return nil
}

func (r *Remote) ListFiles(dir string) ([]Entry, error) {
	if err := r.guard(); err != nil {
		return nil, err
	}
	infos, err := r.client.ReadDir(dir)
	if err != nil {
		return nil, transferErr("list", dir, err)
	}

	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		e := Entry{
			Name:        info.Name(),
			Path:        path.Join(dir, info.Name()),
			Kind:        kindOf(info.Mode()),
			Size:        info.Size(),
			Permissions: permBits(info.Mode()),
			ModifyTime:  info.ModTime(),
		}
		if st, ok := info.Sys().(*sftp.FileStat); ok {
			e.UID = st.UID
			e.GID = st.GID
			e.AccessTime = time.Unix(int64(st.Atime), 0)
			// The protocol's stat has no creation time; the access time is
			// the closest stand-in and keeps the field populated.
			e.CreateTime = e.AccessTime
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// GetFile downloads one whole file. The local destination appears under its
// final name only after the copy completed.
func (r *Remote) GetFile(remotePath, localPath string) error {
	if err := r.guard(); err != nil {
		return err
	}
	src, err := r.client.Open(remotePath)
	if err != nil {
		return transferErr("get", remotePath, err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(filepath.Dir(localPath), filepath.Base(localPath)+".part*")
	if err != nil {
		return transferErr("get", localPath, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return transferErr("get", remotePath, err)
	}
	if err := tmp.Close(); err != nil {
		return transferErr("get", localPath, err)
	}
	if err := os.Rename(tmp.Name(), localPath); err != nil {
		return transferErr("get", localPath, err)
	}
	return nil
}

// PutFile uploads content as the whole remote file. The upload goes through
// a temporary name and renames into place, so a failure partway leaves any
// existing destination untouched.
func (r *Remote) PutFile(remotePath string, content []byte) error {
	if err := r.guard(); err != nil {
		return err
	}
	tmpPath := remotePath + ".part-" + uuid.NewString()[:8]
	dst, err := r.client.Create(tmpPath)
	if err != nil {
		return transferErr("put", remotePath, err)
	}
	if _, err := dst.Write(content); err != nil {
		dst.Close()
		r.client.Remove(tmpPath)
		return transferErr("put", remotePath, err)
	}
	if err := dst.Close(); err != nil {
		r.client.Remove(tmpPath)
		return transferErr("put", remotePath, err)
	}
	if err := r.client.PosixRename(tmpPath, remotePath); err != nil {
		r.client.Remove(tmpPath)
		return transferErr("put", remotePath, err)
	}
	return nil
}

// HomeDirectory asks the server to resolve its current directory. Failure
// degrades to "/" so the listing surface stays usable.
func (r *Remote) HomeDirectory() string {
	if err := r.guard(); err != nil {
		return "/"
	}
	home, err := r.client.RealPath(".")
	if err != nil || home == "" {
		log.Printf("remotefs: resolve remote home directory: %v, falling back to /", err)
		return "/"
	}
	return home
}

func (r *Remote) Mkdir(dir string) error {
	if err := r.guard(); err != nil {
		return err
	}
	return transferErr("mkdir", dir, r.client.Mkdir(dir))
}

// Remove deletes a single remote file. Directories are refused.
func (r *Remote) Remove(remotePath string) error {
	if err := r.guard(); err != nil {
		return err
	}
	info, err := r.client.Lstat(remotePath)
	if err != nil {
		return transferErr("remove", remotePath, err)
	}
	if info.IsDir() {
		return transferErr("remove", remotePath, errIsDirectory)
	}
	return transferErr("remove", remotePath, r.client.Remove(remotePath))
}
