//go:build unix

package recovery

import "golang.org/x/sys/unix"

// diskFree returns the bytes available to unprivileged users on the
// filesystem holding path.
func diskFree(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return uint64(st.Bavail) * uint64(st.Bsize), nil
}

func canRead(path string) error {
	return unix.Access(path, unix.R_OK)
}

func canWrite(path string) error {
	return unix.Access(path, unix.W_OK)
}
