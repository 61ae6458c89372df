package config

import (
	"errors"
	"fmt"
	"math"
)

// ScaleKind selects how extracted frames are resized.
type ScaleKind int

const (
	ScaleAsIs ScaleKind = iota
	ScaleShortSide
	ScaleDimensions
)

func (k ScaleKind) String() string {
	switch k {
	case ScaleAsIs:
		return "asis"
	case ScaleShortSide:
		return "short"
	case ScaleDimensions:
		return "dimensions"
	default:
		return fmt.Sprintf("scale(%d)", int(k))
	}
}

// ScaleMode is one of AsIs, ShortSide(Short) or Dimensions(Width, Height).
// Only the fields of the selected kind are meaningful.
type ScaleMode struct {
	Kind   ScaleKind
	Short  int
	Width  int
	Height int
}

func AsIs() ScaleMode { return ScaleMode{Kind: ScaleAsIs} }
func ShortSide(s int) ScaleMode { return ScaleMode{Kind: ScaleShortSide, Short: s} }
func Dimensions(w, h int) ScaleMode { return ScaleMode{Kind: ScaleDimensions, Width: w, Height: h} }

// SampleKind selects which decoded frames are kept.
type SampleKind int

const (
	SampleAll SampleKind = iota
	SampleUniformCount
	SampleStride
	SampleInterval
)

func (k SampleKind) String() string {
	switch k {
	case SampleAll:
		return "all"
	case SampleUniformCount:
		return "uniform-count"
	case SampleStride:
		return "stride"
	case SampleInterval:
		return "interval"
	default:
		return fmt.Sprintf("sample(%d)", int(k))
	}
}

// SampleMode is one of All, UniformCount(Count), Stride(Step) or Interval(Seconds).
type SampleMode struct {
	Kind    SampleKind
	Count   int
	Step    int
	Seconds float64
}

func All() SampleMode { return SampleMode{Kind: SampleAll} }
func UniformCount(n int) SampleMode { return SampleMode{Kind: SampleUniformCount, Count: n} }
func Stride(k int) SampleMode { return SampleMode{Kind: SampleStride, Step: k} }
func Interval(r float64) SampleMode { return SampleMode{Kind: SampleInterval, Seconds: r} }

// NeedsFrameRate reports whether the mode depends on a probed frame rate.
func (m SampleMode) NeedsFrameRate() bool {
	return m.Kind == SampleInterval
}

// Scale builds the scale mode. Exactly one of asis, short or height+width
// may be given; giving none means as-is.
func (f FramesConfig) Scale() (ScaleMode, error) {
	if f.Short < 0 || f.Height < 0 || f.Width < 0 {
		return ScaleMode{}, errors.New("short, height and width must not be negative")
	}

	dims := f.Height > 0 || f.Width > 0
	set := 0
	if f.AsIs {
		set++
	}
	if f.Short > 0 {
		set++
	}
	if dims {
		set++
	}
	if set > 1 {
		return ScaleMode{}, errors.New("asis, short and height/width are mutually exclusive")
	}

	switch {
	case f.Short > 0:
		return ShortSide(f.Short), nil
	case dims:
		if f.Height == 0 || f.Width == 0 {
			return ScaleMode{}, fmt.Errorf("height and width must be given together (height=%d width=%d)", f.Height, f.Width)
		}
		return Dimensions(f.Width, f.Height), nil
	default:
		return AsIs(), nil
	}
}

// Sample builds the sampling mode. num_frame, skip>1 and interval are
// mutually exclusive; skip=1 (the default) means keep every frame.
func (f FramesConfig) Sample() (SampleMode, error) {
	if f.NumFrame < 0 {
		return SampleMode{}, fmt.Errorf("num_frame must not be negative, got %d", f.NumFrame)
	}
	if f.Skip < 0 {
		return SampleMode{}, fmt.Errorf("skip must not be negative, got %d", f.Skip)
	}
	if math.IsNaN(f.Interval) || math.IsInf(f.Interval, 0) {
		return SampleMode{}, fmt.Errorf("interval must be a finite number, got %g", f.Interval)
	}
	if f.Interval < 0 {
		return SampleMode{}, fmt.Errorf("interval must not be negative, got %g", f.Interval)
	}

	set := 0
	if f.NumFrame > 0 {
		set++
	}
	if f.Skip > 1 {
		set++
	}
	if f.Interval > 0 {
		set++
	}
	if set > 1 {
		return SampleMode{}, errors.New("num_frame, skip and interval are mutually exclusive")
	}

	switch {
	case f.NumFrame > 0:
		return UniformCount(f.NumFrame), nil
	case f.Skip > 1:
		return Stride(f.Skip), nil
	case f.Interval > 0:
		return Interval(f.Interval), nil
	default:
		return All(), nil
	}
}
