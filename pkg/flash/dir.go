package flash

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DirFS stores each file as a regular file under a host directory.
type DirFS struct {
	Dir string
}

// NewDirFS creates the directory if needed.
func NewDirFS(dir string) (*DirFS, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &DirFS{Dir: dir}, nil
}

// Open implements FS.
func (fs *DirFS) Open(name string, size int64) (File, error) {
	fn := filepath.Join(fs.Dir, name)
	f, err := os.OpenFile(fn, os.O_RDWR, 0644)
	if errors.Is(err, os.ErrNotExist) {
		if f, err = os.OpenFile(fn, os.O_RDWR|os.O_CREATE, 0644); err != nil {
			return nil, err
		}
		file := &dirFile{name: name, f: f, size: size}
		if err = file.Erase(); err != nil {
			f.Close()
			return nil, err
		}
		return file, nil
	}
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() != size {
		f.Close()
		return nil, fmt.Errorf("%s: %w", name, ErrSizeMismatch)
	}
	return &dirFile{name: name, f: f, size: size}, nil
}

type dirFile struct {
	name string
	f    *os.File
	size int64
	off  int64
}

func (f *dirFile) Read(p []byte) (int, error) {
	if err := checkRange(f.name, f.off, int64(len(p)), f.size); err != nil {
		return 0, err
	}
	n, err := f.f.ReadAt(p, f.off)
	f.off += int64(n)
	if err == io.EOF && n == len(p) {
		err = nil
	}
	return n, err
}

func (f *dirFile) Write(p []byte) (int, error) {
	if err := checkRange(f.name, f.off, int64(len(p)), f.size); err != nil {
		return 0, err
	}
	n, err := f.f.WriteAt(p, f.off)
	f.off += int64(n)
	return n, err
}

func (f *dirFile) Seek(offset int64) error {
	if err := checkRange(f.name, offset, 0, f.size); err != nil {
		return err
	}
	f.off = offset
	return nil
}

func (f *dirFile) Erase() error {
	if _, err := f.f.WriteAt(bytes.Repeat([]byte{ErasedByte}, int(f.size)), 0); err != nil {
		return err
	}
	f.off = 0
	return f.f.Truncate(f.size)
}

func (f *dirFile) Size() int64 {
	return f.size
}

func (f *dirFile) Close() error {
	return f.f.Close()
}
