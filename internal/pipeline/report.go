package pipeline

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/withObsrvr/vid2frame/internal/split"
)

// Failure is a video that produced no stored frames.
type Failure struct {
	VideoID string
	Path    string
	Stage   string // "invalid_id" | "decode" | "empty" | "validate" | "storage"
	Err     error
}

// Report summarizes one run over a split.
type Report struct {
	Split      string
	Total      int
	Processed  int
	Skipped    int // zero frame rate plus Resumed
	Resumed    int
	Failed     int
	Empty      int
	Duplicates int
	Frames     int
	Bytes      int64
	Duration   time.Duration
	Failures   []Failure
}

func (r *Report) addFailure(v split.VideoRef, stage string, err error) {
	r.Failures = append(r.Failures, Failure{VideoID: v.ID, Path: v.Path, Stage: stage, Err: err})
}

// Log emits the summary line.
func (r Report) Log(log *slog.Logger) {
	rate := 0.0
	if s := r.Duration.Seconds(); s > 0 {
		rate = float64(r.Frames) / s
	}
	log.Info("extraction complete",
		"total", r.Total,
		"processed", r.Processed,
		"skipped", r.Skipped,
		"resumed", r.Resumed,
		"failed", r.Failed,
		"empty", r.Empty,
		"duplicates", r.Duplicates,
		"frames", r.Frames,
		"bytes", r.Bytes,
		"frames_per_sec", fmt.Sprintf("%.2f", rate),
		"duration", r.Duration.String(),
	)
}

// Print writes a human readable summary.
func (r Report) Print(w io.Writer) {
	fmt.Fprintf(w, "split %s: %d/%d videos processed, %d skipped, %d failed, %d empty, %d duplicates\n",
		r.Split, r.Processed, r.Total, r.Skipped, r.Failed, r.Empty, r.Duplicates)
	fmt.Fprintf(w, "frames written: %d (%d bytes) in %s\n", r.Frames, r.Bytes, r.Duration.Round(time.Millisecond))
	for _, f := range r.Failures {
		fmt.Fprintf(w, "  %s [%s] %s: %v\n", f.Stage, f.VideoID, f.Path, f.Err)
	}
}
