package squashfs

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
)

// ByteSource provides random access to the raw archive bytes. Calls may be
// issued concurrently; implementations exist for local files, in-memory
// buffers, memory-mapped regions, and pooled sequential readers.
type ByteSource interface {
	io.ReaderAt
	Size() int64
}

// bytesSource serves an in-memory image.
type bytesSource struct {
	data []byte
}

// NewBytesSource returns a ByteSource over an in-memory image.
func NewBytesSource(data []byte) ByteSource {
	return &bytesSource{data: data}
}

func (s *bytesSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (s *bytesSource) Size() int64 { return int64(len(s.data)) }

// FileSource serves a local image file. *os.File supports concurrent
// positional reads, so no pooling is needed.
type FileSource struct {
	f    *os.File
	size int64
}

// OpenFileSource opens path as a ByteSource.
func OpenFileSource(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &FileSource{f: f, size: info.Size()}, nil
}

func (s *FileSource) ReadAt(p []byte, off int64) (int, error) {
	return s.f.ReadAt(p, off)
}

// Size returns the image size in bytes.
func (s *FileSource) Size() int64 { return s.size }

// Close closes the underlying file.
func (s *FileSource) Close() error { return s.f.Close() }

// ReaderPoolSource fronts a backend whose handles cannot be shared
// concurrently (sequential streams) with a bounded pool of handles. The
// pool size caps the number of outstanding physical reads; additional
// callers wait for a free handle rather than opening more.
type ReaderPoolSource struct {
	handles chan io.ReadSeekCloser
	size    int64

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewReaderPoolSource opens parallelism handles via factory. The image
// size is probed by seeking the first handle to its end.
func NewReaderPoolSource(factory func() (io.ReadSeekCloser, error), parallelism int) (*ReaderPoolSource, error) {
	if parallelism < 1 {
		parallelism = 1
	}
	s := &ReaderPoolSource{handles: make(chan io.ReadSeekCloser, parallelism)}
	for i := 0; i < parallelism; i++ {
		h, err := factory()
		if err != nil {
			s.Close()
			return nil, err
		}
		if i == 0 {
			size, serr := h.Seek(0, io.SeekEnd)
			if serr != nil {
				h.Close()
				s.Close()
				return nil, serr
			}
			s.size = size
		}
		s.handles <- h
	}
	return s, nil
}

func (s *ReaderPoolSource) ReadAt(p []byte, off int64) (int, error) {
	if s.closed.Load() {
		return 0, fmt.Errorf("squashfs: source closed")
	}
	h := <-s.handles
	defer func() { s.handles <- h }()

	if _, err := h.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return io.ReadFull(h, p)
}

// Size returns the image size in bytes.
func (s *ReaderPoolSource) Size() int64 { return s.size }

// Close closes all pooled handles. In-flight reads holding a handle will
// return it to a closed channel's buffer; Close drains what is present.
func (s *ReaderPoolSource) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		for {
			select {
			case h := <-s.handles:
				if err := h.Close(); err != nil && s.closeErr == nil {
					s.closeErr = err
				}
			default:
				return
			}
		}
	})
	return s.closeErr
}
