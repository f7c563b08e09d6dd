package remotefs

import (
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
)

// Local serves the machine's own filesystem through the shared interface.
type Local struct{}

// NewLocal returns the local-side adapter.
func NewLocal() *Local { return &Local{} }

// ListFiles lists one directory. Entries whose stat fails mid-listing are
// skipped rather than failing the whole listing.
func (l *Local) ListFiles(path string) ([]Entry, error) {
	dirents, err := os.ReadDir(path)
	if err != nil {
		return nil, transferErr("list", path, err)
	}

	entries := make([]Entry, 0, len(dirents))
	for _, de := range dirents {
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, localEntry(path, info))
	}
	return entries, nil
}

// localEntry converts a stat result into the shared entry shape.
func localEntry(dir string, info fs.FileInfo) Entry {
	e := Entry{
		Name:        info.Name(),
		Path:        filepath.Join(dir, info.Name()),
		Kind:        kindOf(info.Mode()),
		Size:        info.Size(),
		Permissions: permBits(info.Mode()),
		ModifyTime:  info.ModTime(),
		AccessTime:  info.ModTime(),
		CreateTime:  info.ModTime(),
	}
	fillStat(&e, info)
	return e
}

func (l *Local) GetFile(path, localPath string) error {
	return copyFile(path, localPath)
}

func (l *Local) PutFile(path string, content []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".part*")
	if err != nil {
		return transferErr("put", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return transferErr("put", path, err)
	}
	if err := tmp.Close(); err != nil {
		return transferErr("put", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return transferErr("put", path, err)
	}
	return nil
}

func (l *Local) HomeDirectory() string {
	home, err := os.UserHomeDir()
	if err != nil {
		log.Printf("remotefs: resolve local home directory: %v, falling back to /", err)
		return "/"
	}
	return home
}

func (l *Local) Mkdir(path string) error {
	return transferErr("mkdir", path, os.Mkdir(path, 0o755))
}

// Remove deletes a single file. Directories are refused.
func (l *Local) Remove(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return transferErr("remove", path, err)
	}
	if info.IsDir() {
		return transferErr("remove", path, errIsDirectory)
	}
	return transferErr("remove", path, os.Remove(path))
}

// copyFile copies src to dst via a temp file in dst's directory so the
// destination name only ever refers to a complete file.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return transferErr("get", src, err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".part*")
	if err != nil {
		return transferErr("get", dst, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return transferErr("get", dst, err)
	}
	if err := tmp.Close(); err != nil {
		return transferErr("get", dst, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return transferErr("get", dst, err)
	}
	return nil
}
