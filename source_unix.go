//go:build unix

package squashfs

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// MmapSource serves a local image through a read-only memory mapping.
// Reads never touch a file descriptor after construction, so concurrency
// is unbounded.
type MmapSource struct {
	data []byte
}

// OpenMmapSource maps path read-only.
func OpenMmapSource(path string) (*MmapSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() == 0 {
		return &MmapSource{}, nil
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	return &MmapSource{data: data}, nil
}

func (s *MmapSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the image size in bytes.
func (s *MmapSource) Size() int64 { return int64(len(s.data)) }

// Close unmaps the region. The source must not be used afterwards.
func (s *MmapSource) Close() error {
	if s.data == nil {
		return nil
	}
	data := s.data
	s.data = nil
	return unix.Munmap(data)
}
