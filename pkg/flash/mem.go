package flash

import (
	"fmt"
	"sync"
)

// MemFS keeps files in RAM. It backs tests, simulations, and the degraded
// mode when the flash chip doesn't respond.
type MemFS struct {
	files map[string][]byte
	lock  sync.Mutex
}

// NewMemFS creates an empty MemFS.
func NewMemFS() *MemFS {
	return &MemFS{files: make(map[string][]byte)}
}

// Open implements FS.
func (fs *MemFS) Open(name string, size int64) (File, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	data, ok := fs.files[name]
	if !ok {
		data = make([]byte, size)
		fill(data)
		fs.files[name] = data
	} else if int64(len(data)) != size {
		return nil, fmt.Errorf("%s: %w", name, ErrSizeMismatch)
	}
	return &memFile{name: name, data: data}, nil
}

// Names lists the files created so far.
func (fs *MemFS) Names() []string {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	names := make([]string, 0, len(fs.files))
	for name := range fs.files {
		names = append(names, name)
	}
	return names
}

type memFile struct {
	name   string
	data   []byte
	off    int64
	closed bool
}

func (f *memFile) Read(p []byte) (int, error) {
	if f.closed {
		return 0, ErrClosed
	}
	if err := checkRange(f.name, f.off, int64(len(p)), f.Size()); err != nil {
		return 0, err
	}
	n := copy(p, f.data[f.off:])
	f.off += int64(n)
	return n, nil
}

func (f *memFile) Write(p []byte) (int, error) {
	if f.closed {
		return 0, ErrClosed
	}
	if err := checkRange(f.name, f.off, int64(len(p)), f.Size()); err != nil {
		return 0, err
	}
	n := copy(f.data[f.off:], p)
	f.off += int64(n)
	return n, nil
}

func (f *memFile) Seek(offset int64) error {
	if err := checkRange(f.name, offset, 0, f.Size()); err != nil {
		return err
	}
	f.off = offset
	return nil
}

func (f *memFile) Erase() error {
	if f.closed {
		return ErrClosed
	}
	fill(f.data)
	f.off = 0
	return nil
}

func (f *memFile) Size() int64 {
	return int64(len(f.data))
}

func (f *memFile) Close() error {
	f.closed = true
	return nil
}

func fill(b []byte) {
	for i := range b {
		b[i] = ErasedByte
	}
}
