package dedupe

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeletionSet(t *testing.T) {
	s := NewDeletionSet(130)

	assert.False(t, s.Contains(5))
	assert.True(t, s.ClaimIfPresent(0, 5))
	assert.False(t, s.ClaimIfPresent(0, 5), "second claim of the same index must fail")
	assert.True(t, s.ClaimIfPresent(0, 129))
	assert.True(t, s.ClaimIfPresent(1, 64))
	assert.True(t, s.Contains(5))
	assert.True(t, s.Contains(64))
	assert.False(t, s.Contains(63))

	assert.Equal(t, []int{5, 64, 129}, s.Indices())
}

func TestDeletionSet_KeptMustBePresent(t *testing.T) {
	s := NewDeletionSet(3)
	assert.True(t, s.ClaimIfPresent(0, 1))

	// 1 is gone, so it cannot take 2 down with it
	assert.False(t, s.ClaimIfPresent(1, 2))
	assert.False(t, s.Contains(2))

	assert.True(t, s.ClaimIfPresent(0, 2))
	assert.Equal(t, []int{1, 2}, s.Indices())
}

func TestDeletionSet_OutOfRange(t *testing.T) {
	s := NewDeletionSet(3)
	assert.False(t, s.ClaimIfPresent(0, -1))
	assert.False(t, s.ClaimIfPresent(0, 3))
	assert.False(t, s.Contains(3))
	assert.Empty(t, s.Indices())

	empty := NewDeletionSet(0)
	assert.False(t, empty.ClaimIfPresent(0, 0))
	assert.Empty(t, empty.Indices())
}

func TestDeletionSet_SingleWinner(t *testing.T) {
	s := NewDeletionSet(10)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.ClaimIfPresent(0, 7) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, []int{7}, s.Indices())
}

func TestDeletionSet_ChainedClaimsRace(t *testing.T) {
	// 0 keeps 1 while 1 tries to keep 2; whatever the order, 1 and 2 are
	// never both deleted through 1
	for range 200 {
		s := NewDeletionSet(3)
		var wg sync.WaitGroup
		var viaOne atomic.Bool
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.ClaimIfPresent(0, 1)
		}()
		go func() {
			defer wg.Done()
			viaOne.Store(s.ClaimIfPresent(1, 2))
		}()
		wg.Wait()

		if viaOne.Load() {
			assert.Equal(t, []int{1, 2}, s.Indices(), "2 was claimed while 1 was present")
		} else {
			assert.Equal(t, []int{1}, s.Indices())
		}
	}
}
