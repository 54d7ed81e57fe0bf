package proxy

import (
	"fmt"
	"path/filepath"

	sys "golang.org/x/sys/unix"
)

// MemBacking abstracts the shared-memory region behind the frame slots.
// The two implementations expose the same contract: allocate a region
// (controller side), map it into this process, and unmap on release.
type MemBacking interface {
	// Name identifies the backing in logs and config.
	Name() string
	// Allocate creates a region of the given size and returns its fd.
	Allocate(name string, size int) (int, error)
	// Map maps size bytes of the region at offset read-write, shared.
	Map(fd int, offset int64, size int) ([]byte, error)
	// Unmap releases one mapping.
	Unmap(addr []byte) error
}

// NewMemBacking resolves a backing by config name ("memfd" or "shm").
func NewMemBacking(kind string) (MemBacking, error) {
	switch kind {
	case "memfd", "":
		return MemfdBacking{}, nil
	case "shm":
		return ShmBacking{}, nil
	default:
		return nil, fmt.Errorf("proxy: unknown memory backing %q", kind)
	}
}

// MemfdBacking backs the slots with an anonymous memfd region.
type MemfdBacking struct{}

func (MemfdBacking) Name() string { return "memfd" }

func (MemfdBacking) Allocate(name string, size int) (int, error) {
	fd, err := sys.MemfdCreate(name, sys.MFD_CLOEXEC)
	if err != nil {
		return -1, fmt.Errorf("memfd create %s: %w", name, err)
	}
	if err := sys.Ftruncate(fd, int64(size)); err != nil {
		sys.Close(fd)
		return -1, fmt.Errorf("memfd truncate %s: %w", name, err)
	}
	return fd, nil
}

func (MemfdBacking) Map(fd int, offset int64, size int) ([]byte, error) {
	addr, err := sys.Mmap(fd, offset, size, sys.PROT_READ|sys.PROT_WRITE, sys.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("memfd map: %w", err)
	}
	return addr, nil
}

func (MemfdBacking) Unmap(addr []byte) error {
	if err := sys.Munmap(addr); err != nil {
		return fmt.Errorf("memfd unmap: %w", err)
	}
	return nil
}

// ShmBacking backs the slots with a named POSIX shared-memory object
// under /dev/shm.
type ShmBacking struct{}

func (ShmBacking) Name() string { return "shm" }

func (ShmBacking) Allocate(name string, size int) (int, error) {
	path := filepath.Join("/dev/shm", name)
	fd, err := sys.Open(path, sys.O_RDWR|sys.O_CREAT, 0o600)
	if err != nil {
		return -1, fmt.Errorf("shm open %s: %w", path, err)
	}
	if err := sys.Ftruncate(fd, int64(size)); err != nil {
		sys.Close(fd)
		return -1, fmt.Errorf("shm truncate %s: %w", path, err)
	}
	return fd, nil
}

func (ShmBacking) Map(fd int, offset int64, size int) ([]byte, error) {
	addr, err := sys.Mmap(fd, offset, size, sys.PROT_READ|sys.PROT_WRITE, sys.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shm map: %w", err)
	}
	return addr, nil
}

func (ShmBacking) Unmap(addr []byte) error {
	if err := sys.Munmap(addr); err != nil {
		return fmt.Errorf("shm unmap: %w", err)
	}
	return nil
}
