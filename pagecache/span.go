package pagecache

import "github.com/bnclabs/memtier/sizeclass"

// Span is a contiguous run of pages managed as a unit by the page
// tier. While free, next chains it into its size bucket; base/pages
// are valid throughout the span's life, free or carved.
type Span struct {
	Base  uintptr
	Pages int64

	next *Span // intrusive link, meaningful only while in a free bucket
}

// Bytes is the span's total size in bytes.
func (s *Span) Bytes() int64 {
	return s.Pages * sizeclass.PageSize
}

// End is the address one byte past the span, used to detect adjacency
// for coalescing (predecessor.End() == successor.Base).
func (s *Span) End() uintptr {
	return s.Base + uintptr(s.Bytes())
}
