//go:build !unix

package squashfs

import "errors"

// OpenMmapSource is unsupported on this platform; use OpenFileSource.
func OpenMmapSource(path string) (ByteSource, error) {
	return nil, errors.New("squashfs: memory mapping not supported on this platform")
}
