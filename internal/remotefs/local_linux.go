//go:build linux

package remotefs

import (
	"io/fs"
	"syscall"
	"time"
)

// fillStat copies the numeric fields only the OS stat structure provides.
func fillStat(e *Entry, info fs.FileInfo) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}
	e.UID = st.Uid
	e.GID = st.Gid
	e.LinkCount = uint64(st.Nlink)
	e.Dev = uint64(st.Dev)
	e.Inode = st.Ino
	e.Rdev = uint64(st.Rdev)
	e.BlockSize = int64(st.Blksize)
	e.Blocks = st.Blocks
	e.AccessTime = time.Unix(st.Atim.Sec, st.Atim.Nsec)
	e.CreateTime = time.Unix(st.Ctim.Sec, st.Ctim.Nsec)
}
