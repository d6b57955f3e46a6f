package sizeclass

// Alignment is the word-aligned allocation unit; every class size is a
// multiple of it. spec.md fixes this at 8 bytes.
const Alignment = int64(8)

// MaxBytes is the largest request routed through the thread/central/page
// tiers; anything larger bypasses them for the system allocator. The
// source this was distilled from disagreed between a MAX_BYTES and a
// MAX_SIZE constant across header revisions -- this repo keeps exactly
// one.
const MaxBytes = int64(256 * 1024)

// PageSize is the OS page facility's fixed unit.
const PageSize = int64(4096)

// K is the number of size classes, class indices span [0, K).
const K = int(MaxBytes / Alignment)

// RoundUp returns the smallest multiple of Alignment that is >= the
// larger of n and Alignment.
func RoundUp(n int64) int64 {
	if n < Alignment {
		n = Alignment
	}
	return ((n + Alignment - 1) / Alignment) * Alignment
}

// Index maps a byte count to its class index. Callers must have already
// rejected n > MaxBytes; Index does not bounds-check against MaxBytes so
// that it stays a total function of n alone.
func Index(n int64) int {
	if n < Alignment {
		n = Alignment
	}
	return int((n+Alignment-1)/Alignment) - 1
}

// ClassSize returns the block size carved for class index i.
func ClassSize(i int) int64 {
	return int64(i+1) * Alignment
}

// BatchHint suggests how many blocks a thread tier should pull from the
// central tier on a single refill, tuned by class size so that small,
// high-churn classes fetch deep batches and large classes fetch shallow
// ones.
func BatchHint(classSize int64) int64 {
	switch {
	case classSize <= 64:
		return 512
	case classSize <= 512:
		return 128
	case classSize <= 4096:
		return 32
	default:
		return 4
	}
}
