// Package remotefs presents local and remote directory trees through one
// interface so callers can drive either pane of a file listing without
// caring which side of the wire it lives on.
package remotefs

import (
	"errors"
	"fmt"
	"io/fs"
	"time"
)

// Kind classifies a directory entry.
type Kind string

const (
	KindFile            Kind = "file"
	KindDirectory       Kind = "directory"
	KindSymlink         Kind = "symlink"
	KindBlockDevice     Kind = "block-device"
	KindCharacterDevice Kind = "character-device"
)

// kindOf maps mode bits to an entry kind. Sockets and pipes are reported as
// plain files.
func kindOf(mode fs.FileMode) Kind {
	switch {
	case mode.IsDir():
		return KindDirectory
	case mode&fs.ModeSymlink != 0:
		return KindSymlink
	case mode&fs.ModeCharDevice != 0:
		return KindCharacterDevice
	case mode&fs.ModeDevice != 0:
		return KindBlockDevice
	default:
		return KindFile
	}
}

// permBits flattens a mode into the numeric unix permission value, setuid,
// setgid and sticky included, so both sides report the same shape.
func permBits(mode fs.FileMode) uint32 {
	p := uint32(mode.Perm())
	if mode&fs.ModeSetuid != 0 {
		p |= 0o4000
	}
	if mode&fs.ModeSetgid != 0 {
		p |= 0o2000
	}
	if mode&fs.ModeSticky != 0 {
		p |= 0o1000
	}
	return p
}

// Entry is one listed file or directory. The shape is identical for local
// and remote listings; fields the remote protocol cannot supply (device
// numbers, inode, block counts, link count) are zero, never omitted.
type Entry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Kind Kind   `json:"kind"`
	Size int64  `json:"size"`

	// Permissions holds the low nine mode bits plus setuid/setgid/sticky.
	Permissions uint32 `json:"permissions"`

	AccessTime time.Time `json:"accessTime"`
	ModifyTime time.Time `json:"modifyTime"`
	CreateTime time.Time `json:"createTime"`

	UID       uint32 `json:"uid"`
	GID       uint32 `json:"gid"`
	LinkCount uint64 `json:"linkCount"`

	Dev       uint64 `json:"dev"`
	Inode     uint64 `json:"inode"`
	Rdev      uint64 `json:"rdev"`
	BlockSize int64  `json:"blockSize"`
	Blocks    int64  `json:"blocks"`
}

// Filesystem is the capability surface shared by the local and remote sides.
// Remote implementations return ErrNotConnected from every method once the
// owning transport is gone, without touching the network.
type Filesystem interface {
	// ListFiles returns the entries of one directory, non-recursively.
	ListFiles(path string) ([]Entry, error)
	// GetFile copies a whole file to localPath. The destination appears
	// under its final name only after the transfer completed.
	GetFile(path, localPath string) error
	// PutFile writes content as the whole file at path.
	PutFile(path string, content []byte) error
	// HomeDirectory resolves the landing directory. It never fails: when
	// resolution is impossible it logs a warning and returns "/".
	HomeDirectory() string
	// Mkdir creates a single directory.
	Mkdir(path string) error
	// Remove deletes a file. Directories are refused.
	Remove(path string) error
}

// ErrNotConnected is returned by remote filesystem methods after the owning
// transport has closed.
var ErrNotConnected = errors.New("remotefs: session not connected")

// errIsDirectory rejects Remove calls that target a directory.
var errIsDirectory = errors.New("target is a directory")

// TransferError wraps a failed file operation with what was attempted.
type TransferError struct {
	Op   string
	Path string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("remotefs: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// transferErr builds a TransferError unless err is nil.
func transferErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &TransferError{Op: op, Path: path, Err: err}
}
