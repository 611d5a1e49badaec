//go:build !unix

package recovery

import (
	"math"
	"os"
)

// diskFree is unknown on this platform and never blocks an operation.
func diskFree(string) (uint64, error) {
	return math.MaxUint64, nil
}

func canRead(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	return f.Close()
}

func canWrite(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Mode().Perm()&0200 == 0 {
		return os.ErrPermission
	}
	return nil
}
