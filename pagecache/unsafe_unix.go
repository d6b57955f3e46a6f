//go:build unix

package pagecache

import "unsafe"

func unsafePointer(data []byte) unsafe.Pointer {
	if len(data) == 0 {
		return nil
	}
	return unsafe.Pointer(&data[0])
}

func bytesFromBase(base uintptr, n int64) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(base)), int(n))
}
