//go:build !linux && !darwin

package storage

// MMap falls back to buffered file I/O where mmap is unavailable.
type MMap struct {
	*File
}

func NewMMap(path string, pageSize int) (*MMap, error) {
	f, err := NewFile(path, pageSize, false)
	if err != nil {
		return nil, err
	}
	return &MMap{File: f}, nil
}
