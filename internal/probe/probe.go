// Package probe reads a video's frame rate with ffprobe.
package probe

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// ProbeFunc runs ffprobe on a file and returns its JSON output.
type ProbeFunc func(ctx context.Context, path string, timeout time.Duration) (string, error)

// Prober obtains display frame rates. A failed or empty probe is reported
// as rate 0; the caller decides what that means.
type Prober struct {
	timeout time.Duration
	run     ProbeFunc
	log     *slog.Logger
}

// New creates a Prober backed by ffprobe.
func New(timeout time.Duration) *Prober {
	return NewWithFunc(timeout, ffprobe)
}

// NewWithFunc creates a Prober that runs fn instead of ffprobe.
func NewWithFunc(timeout time.Duration, fn ProbeFunc) *Prober {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Prober{
		timeout: timeout,
		run:     fn,
		log:     slog.With("component", "probe"),
	}
}

// Rate returns the frame rate of the video at path in Hz, or 0.
func (p *Prober) Rate(ctx context.Context, path string) float64 {
	out, err := p.run(ctx, path, p.timeout)
	if err != nil {
		p.log.Warn("probe failed", "path", path, "error", err)
		return 0
	}
	return ParseFrameRate([]byte(out))
}

func ffprobe(ctx context.Context, path string, timeout time.Duration) (string, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return ffmpeg.ProbeWithTimeout(path, timeout, ffmpeg.KwArgs{})
}

type probeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		RFrameRate string `json:"r_frame_rate"`
	} `json:"streams"`
}

// ParseFrameRate extracts the frame rate from ffprobe JSON. Every stream's
// r_frame_rate is considered and the last valid one wins. Missing streams,
// malformed input and zero denominators all give 0.
func ParseFrameRate(data []byte) float64 {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return 0
	}

	rate := 0.0
	for _, s := range out.Streams {
		if r, ok := parseRational(s.RFrameRate); ok {
			rate = r
		}
	}
	return rate
}

// parseRational parses "num/den" or a bare number.
func parseRational(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
	if err != nil {
		return 0, false
	}
	d := 1.0
	if found {
		d, err = strconv.ParseFloat(strings.TrimSpace(den), 64)
		if err != nil || d == 0 {
			return 0, false
		}
	}

	r := n / d
	if r <= 0 {
		return 0, false
	}
	return r, true
}
