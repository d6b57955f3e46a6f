//go:build unix

package pagecache

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// mmapMapper is the default Mapper: anonymous, private mmap regions.
// The kernel guarantees zero-initialized pages for MAP_ANONYMOUS, which
// is exactly the contract spec.md section 6 requires of the backing
// store.
type mmapMapper struct{}

// NewOSMapper returns the default OS-backed Mapper.
func NewOSMapper() Mapper {
	return mmapMapper{}
}

func (mmapMapper) Map(n int64) (uintptr, error) {
	data, err := unix.Mmap(
		-1, 0, int(n),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANONYMOUS|unix.MAP_PRIVATE)
	if err != nil {
		return 0, fmt.Errorf("pagecache: mmap %d bytes: %w", n, err)
	}
	return uintptr(unsafePointer(data)), nil
}

func (mmapMapper) Unmap(base uintptr, n int64) error {
	data := bytesFromBase(base, n)
	return unix.Munmap(data)
}
