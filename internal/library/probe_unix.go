//go:build unix

package library

import "golang.org/x/sys/unix"

// hasLocalData reports whether the file's content is present on local
// storage. Cloud drives expose not-yet-downloaded files as placeholders
// with a size but no allocated blocks.
func hasLocalData(path string) (bool, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return false, err
	}
	return st.Blocks > 0 || st.Size == 0, nil
}
