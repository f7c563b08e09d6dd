//go:build !linux

package remotefs

import "io/fs"

// fillStat is a no-op on platforms without a known stat structure; the
// portable fields set by localEntry are all we report.
func fillStat(e *Entry, info fs.FileInfo) {}
