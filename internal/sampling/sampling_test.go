package sampling

import (
	"errors"
	"reflect"
	"testing"

	"github.com/withObsrvr/vid2frame/internal/config"
)

func frameRange(lo, hi int) []int {
	out := make([]int, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		out = append(out, i)
	}
	return out
}

func TestSelect_All(t *testing.T) {
	got := Select([]int{3, 1, 2, 2}, config.All())
	if want := []int{1, 2, 3}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSelect_Interval(t *testing.T) {
	ids := frameRange(1, 7)
	got := Select(ids, config.Interval(2))
	if !reflect.DeepEqual(got, ids) {
		t.Errorf("interval mode should pass frames through, got %v", got)
	}
}

func TestSelect_Stride(t *testing.T) {
	for _, k := range []int{1, 2, 3, 7, 50} {
		for _, m := range []int{1, 10, 49, 100} {
			got := Select(frameRange(1, m), config.Stride(k))

			var want []int
			for f := 1; f <= m; f++ {
				if (f-1)%k == 0 {
					want = append(want, f)
				}
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("k=%d m=%d: got %v, want %v", k, m, got, want)
			}
		}
	}
}

func TestSelect_UniformTenChooseThree(t *testing.T) {
	got := Select(frameRange(1, 10), config.UniformCount(3))
	if want := []int{1, 6, 10}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSelect_UniformEndpoints(t *testing.T) {
	for m := 2; m <= 60; m++ {
		for n := 2; n <= m; n++ {
			got := Select(frameRange(1, m), config.UniformCount(n))
			if len(got) > n {
				t.Fatalf("m=%d n=%d: %d frames selected", m, n, len(got))
			}
			if got[0] != 1 || got[len(got)-1] != m {
				t.Fatalf("m=%d n=%d: endpoints missing in %v", m, n, got)
			}
		}
	}
}

func TestSelect_UniformFewerFramesThanCount(t *testing.T) {
	got := Select(frameRange(1, 3), config.UniformCount(8))
	if want := []int{1, 2, 3}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSelect_UniformSingle(t *testing.T) {
	got := Select(frameRange(5, 9), config.UniformCount(1))
	if want := []int{5}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSelect_UniformSkipsMissingFrames(t *testing.T) {
	// 6 is the interpolated middle but was never decoded.
	got := Select([]int{1, 2, 3, 4, 5, 7, 8, 9, 10}, config.UniformCount(3))
	if want := []int{1, 10}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSelect_Empty(t *testing.T) {
	if got := Select(nil, config.UniformCount(3)); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}

func TestUniformPositions(t *testing.T) {
	tests := []struct {
		lo, hi, n int
		want      []int
	}{
		{1, 10, 3, []int{1, 6, 10}},
		{1, 10, 10, frameRange(1, 10)},
		{1, 100, 5, []int{1, 26, 51, 75, 100}},
		{1, 1, 4, []int{1}},
		{1, 10, 0, nil},
	}
	for _, tt := range tests {
		got := UniformPositions(tt.lo, tt.hi, tt.n)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("UniformPositions(%d, %d, %d) = %v, want %v", tt.lo, tt.hi, tt.n, got, tt.want)
		}
	}
}

func TestIntervalStep(t *testing.T) {
	step, err := IntervalStep(0.5, 29.97)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if step != 15 {
		t.Errorf("step = %d, want 15", step)
	}

	step, err = IntervalStep(0.01, 10)
	if err != nil || step != 1 {
		t.Errorf("tiny interval: step=%d err=%v, want 1", step, err)
	}

	if _, err := IntervalStep(1, 0); !errors.Is(err, ErrZeroFrameRate) {
		t.Errorf("expected ErrZeroFrameRate, got %v", err)
	}
}

func TestIntervalFilter(t *testing.T) {
	if got, want := IntervalFilter(15), `select='not(mod(n\,15))'`; got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}
