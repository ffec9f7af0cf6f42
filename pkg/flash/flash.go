// Package flash abstracts the flash chip as a set of named, fixed-size,
// erasable and seekable files.
package flash

import (
	"errors"
	"fmt"
	"io"
)

// ErasedByte is what erased flash reads back as.
const ErasedByte = 0xff

var (
	// ErrOutOfRange indicates an access beyond the end of a file.
	ErrOutOfRange = errors.New("out of range")
	// ErrSizeMismatch indicates an existing file has a different size.
	ErrSizeMismatch = errors.New("size mismatch")
	// ErrClosed indicates the file is closed.
	ErrClosed = errors.New("file closed")
)

// FS opens files on the flash.
type FS interface {
	// Open opens the named file, creating it erased with size bytes if absent.
	Open(name string, size int64) (File, error)
}

// File is a fixed-size erasable file with a cursor.
type File interface {
	io.Reader
	io.Writer
	io.Closer
	// Seek moves the cursor to an absolute offset.
	Seek(offset int64) error
	// Erase resets the whole file to ErasedByte.
	Erase() error
	// Size returns the fixed file size.
	Size() int64
}

func checkRange(name string, off, n, size int64) error {
	if off < 0 || off+n > size {
		return fmt.Errorf("%s: offset %d length %d size %d: %w", name, off, n, size, ErrOutOfRange)
	}
	return nil
}
