package mmap

import "os"

// Fdatasync flushes the data written to f to stable storage, skipping file
// metadata where the platform allows it.
//
// An error here is not recoverable: after a failed flush the page cache may
// already consider the pages clean. Treat the file as lost.
func Fdatasync(f *os.File) error {
	return fdatasync(f)
}
