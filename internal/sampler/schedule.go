package sampler

import (
	"math"

	"github.com/kozaktomas/frameprep/internal/constants"
)

// Schedule returns roughly wantFrames evenly spaced frame indices for a video
// with totalFrames frames.
//
// Starting at frame 1, the position advances by totalFrames/wantFrames and is
// rounded half to even. When wantFrames exceeds totalFrames the stride drops
// below one and the same index can appear more than once; those repeats are
// kept. Indices are non-decreasing and always within [1, totalFrames).
func Schedule(totalFrames, wantFrames int) []int {
	if totalFrames <= 0 || wantFrames <= 0 {
		return nil
	}

	stride := float64(totalFrames) / float64(wantFrames)
	indices := make([]int, 0, wantFrames+1)
	for pos := float64(constants.FirstFrameIndex); pos < float64(totalFrames); pos += stride {
		idx := int(math.RoundToEven(pos))
		if idx >= totalFrames {
			break
		}
		indices = append(indices, idx)
	}
	return indices
}

// Unique drops consecutive repeats from a schedule.
func Unique(indices []int) []int {
	if len(indices) == 0 {
		return indices
	}
	out := make([]int, 0, len(indices))
	for i, idx := range indices {
		if i > 0 && idx == indices[i-1] {
			continue
		}
		out = append(out, idx)
	}
	return out
}
