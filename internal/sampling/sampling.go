// Package sampling decides which decoded frames are kept.
package sampling

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/withObsrvr/vid2frame/internal/config"
)

// ErrZeroFrameRate is returned when interval sampling has no usable rate.
var ErrZeroFrameRate = errors.New("frame rate is zero")

// Select returns the frame IDs to keep, sorted ascending without
// duplicates. ids may be in any order.
func Select(ids []int, mode config.SampleMode) []int {
	sorted := uniqueSorted(ids)
	if len(sorted) == 0 {
		return nil
	}

	switch mode.Kind {
	case config.SampleUniformCount:
		return uniform(sorted, mode.Count)
	case config.SampleStride:
		return stride(sorted, mode.Step)
	default:
		// SampleAll, and SampleInterval whose thinning is done by the decoder.
		return sorted
	}
}

// UniformPositions returns n evenly spaced positions over [lo, hi],
// rounded half away from zero and deduplicated. The result may hold fewer
// than n values when the range is narrower than n.
func UniformPositions(lo, hi, n int) []int {
	if n <= 0 || hi < lo {
		return nil
	}
	if n == 1 {
		return []int{lo}
	}

	step := float64(hi-lo) / float64(n-1)
	out := make([]int, 0, n)
	last := lo - 1
	for i := 0; i < n; i++ {
		p := lo + int(math.Round(float64(i)*step))
		if p != last {
			out = append(out, p)
			last = p
		}
	}
	return out
}

// IntervalStep converts a sampling interval in seconds into a frame step
// for the decoder's select filter: round(seconds * fps), at least 1.
func IntervalStep(seconds, fps float64) (int, error) {
	if fps <= 0 || math.IsNaN(fps) || math.IsInf(fps, 0) {
		return 0, ErrZeroFrameRate
	}
	if seconds <= 0 {
		return 0, fmt.Errorf("interval must be positive, got %g", seconds)
	}
	step := int(math.Round(seconds * fps))
	if step < 1 {
		step = 1
	}
	return step, nil
}

// IntervalFilter returns the decoder select filter keeping every step-th frame.
func IntervalFilter(step int) string {
	return fmt.Sprintf(`select='not(mod(n\,%d))'`, step)
}

func uniform(sorted []int, n int) []int {
	positions := UniformPositions(sorted[0], sorted[len(sorted)-1], n)

	present := make(map[int]struct{}, len(sorted))
	for _, id := range sorted {
		present[id] = struct{}{}
	}

	out := positions[:0]
	for _, p := range positions {
		if _, ok := present[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

func stride(sorted []int, k int) []int {
	if k <= 1 {
		return sorted
	}
	var out []int
	for _, id := range sorted {
		if (id-1)%k == 0 {
			out = append(out, id)
		}
	}
	return out
}

func uniqueSorted(ids []int) []int {
	if len(ids) == 0 {
		return nil
	}
	out := append([]int(nil), ids...)
	sort.Ints(out)

	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return out[:n]
}
