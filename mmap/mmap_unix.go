//go:build unix

package mmap

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

func mmap(f *os.File, size int, opt Options) ([]byte, error) {
	flags := unix.MAP_SHARED
	if opt.Has(Prefault) {
		flags |= mapPopulate
	}
	b, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, flags)
	if err != nil {
		return nil, err
	}
	if opt.Has(RandomAccess) {
		// ENOSYS leaves a usable mapping without the hint.
		if err := unix.Madvise(b, unix.MADV_RANDOM); err != nil && err != unix.ENOSYS {
			unix.Munmap(b)
			return nil, fmt.Errorf("madvise: %w", err)
		}
	}
	return b, nil
}

func munmap(b []byte) error {
	return unix.Munmap(b)
}
