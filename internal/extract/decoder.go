package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/withObsrvr/vid2frame/internal/config"
)

// FramePattern names decoded frames: 1-based, zero padded, JPEG.
const FramePattern = "%08d.jpg"

// jpegQuality is the fixed ffmpeg -qscale:v value.
const jpegQuality = 2

// ErrDecode is returned when the external decoder fails or times out.
var ErrDecode = errors.New("decode failed")

// Job is one decoder invocation.
type Job struct {
	Source string
	Dir    string
	Scale  config.ScaleMode
	Select string // optional select filter, already formatted
}

// Decoder writes the frames of Job.Source as numbered files into Job.Dir.
type Decoder interface {
	Decode(ctx context.Context, job Job) error
}

// FFmpegDecoder runs ffmpeg as a subprocess.
type FFmpegDecoder struct {
	Binary  string
	Timeout time.Duration
}

// NewFFmpegDecoder creates a decoder running the ffmpeg on PATH.
func NewFFmpegDecoder(timeout time.Duration) *FFmpegDecoder {
	return &FFmpegDecoder{Binary: "ffmpeg", Timeout: timeout}
}

// ScaleFilter returns the -vf scale expression for a scale mode, or ""
// for as-is.
func ScaleFilter(m config.ScaleMode) string {
	switch m.Kind {
	case config.ScaleShortSide:
		return fmt.Sprintf("scale='iw*1.0/min(iw,ih)*%d':'ih*1.0/min(iw,ih)*%d'", m.Short, m.Short)
	case config.ScaleDimensions:
		return fmt.Sprintf("scale=%d:%d", m.Width, m.Height)
	default:
		return ""
	}
}

// Args builds the ffmpeg command line for a job, without the binary.
func (d *FFmpegDecoder) Args(job Job) []string {
	kw := ffmpeg.KwArgs{"qscale:v": jpegQuality}

	var filters []string
	if job.Select != "" {
		filters = append(filters, job.Select)
		// keep output numbering contiguous after select drops frames
		kw["vsync"] = "vfr"
	}
	if f := ScaleFilter(job.Scale); f != "" {
		filters = append(filters, f)
	}
	if len(filters) > 0 {
		kw["vf"] = strings.Join(filters, ",")
	}

	stream := ffmpeg.Input(job.Source).
		Output(filepath.Join(job.Dir, FramePattern), kw).
		OverWriteOutput()

	return append([]string{"-nostdin", "-loglevel", "error"}, stream.GetArgs()...)
}

// Decode runs ffmpeg, bounded by the decoder timeout.
func (d *FFmpegDecoder) Decode(ctx context.Context, job Job) error {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, d.Binary, d.Args(job)...)
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s timed out after %s", ErrDecode, job.Source, d.Timeout)
	}
	if msg := lastLine(stderr.String()); msg != "" {
		return fmt.Errorf("%w: %s: %v: %s", ErrDecode, job.Source, err, msg)
	}
	return fmt.Errorf("%w: %s: %v", ErrDecode, job.Source, err)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
