package dedupe

import "sync"

// DeletionSet records the indices of images that have been claimed for
// deletion. It is safe for concurrent use.
type DeletionSet struct {
	mu    sync.RWMutex
	bits  []uint64
	size  int
	count int
}

// NewDeletionSet creates a set able to hold indices in [0, n).
func NewDeletionSet(n int) *DeletionSet {
	return &DeletionSet{
		bits: make([]uint64, (n+63)/64),
		size: n,
	}
}

func (s *DeletionSet) Contains(i int) bool {
	if i < 0 || i >= s.size {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bits[i/64]&(1<<(uint(i)%64)) != 0
}

// ClaimIfPresent adds del unless keep or del is already a member, and
// reports whether this call added it. Both checks and the insert happen
// under one lock, so an image that was deleted elsewhere can never be the
// kept side of a new deletion, and exactly one of any number of concurrent
// claims for the same index succeeds.
func (s *DeletionSet) ClaimIfPresent(keep, del int) bool {
	if del < 0 || del >= s.size {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if keep >= 0 && keep < s.size && s.bits[keep/64]&(1<<(uint(keep)%64)) != 0 {
		return false
	}
	mask := uint64(1) << (uint(del) % 64)
	if s.bits[del/64]&mask != 0 {
		return false
	}
	s.bits[del/64] |= mask
	s.count++
	return true
}

// Indices returns the members in ascending order.
func (s *DeletionSet) Indices() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int, 0, s.count)
	for i := 0; i < s.size; i++ {
		if s.bits[i/64]&(1<<(uint(i)%64)) != 0 {
			out = append(out, i)
		}
	}
	return out
}
