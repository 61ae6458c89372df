// Package extract runs the per-video extraction state machine: stage a
// scratch directory, decode, collect and sample frames, clean up.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/withObsrvr/vid2frame/internal/config"
	"github.com/withObsrvr/vid2frame/internal/logging"
	"github.com/withObsrvr/vid2frame/internal/sampling"
	"github.com/withObsrvr/vid2frame/internal/split"
	"github.com/withObsrvr/vid2frame/internal/storage"
)

// ErrNoFrames is returned when decoding produced no frame files.
var ErrNoFrames = errors.New("no frames extracted")

// State is a step of the per-video state machine.
type State int

const (
	Staging State = iota
	Decoding
	Collecting
	Cleanup
	Aborted
)

func (s State) String() string {
	switch s {
	case Staging:
		return "STAGING"
	case Decoding:
		return "DECODING"
	case Collecting:
		return "COLLECTING"
	case Cleanup:
		return "CLEANUP"
	case Aborted:
		return "ABORTED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Frame is a selected frame file in the scratch directory.
type Frame struct {
	Index int
	Path  string
}

// Consumer persists the selected frames of one video. It runs before the
// scratch directory is removed.
type Consumer func(ctx context.Context, videoID string, frames []Frame) error

// RateProber returns a video's frame rate, or 0 when unknown.
type RateProber interface {
	Rate(ctx context.Context, path string) float64
}

// Outcome is the result of processing one video.
type Outcome struct {
	VideoID   string
	State     State // Cleanup, Aborted, or Staging for a rejected ID
	Repeat    bool  // the ID was already processed in this run
	FrameRate float64
	Decoded   int
	Frames    []Frame

	// Err is an extraction failure (staging, decode, no frames, abort).
	Err error
	// WriteErr is the error returned by the consumer.
	WriteErr error
}

// Skipped reports whether the video was aborted before decoding.
func (o Outcome) Skipped() bool {
	return o.State == Aborted
}

// Seen tracks video IDs processed during one run.
type Seen struct {
	ids map[string]int
}

// NewSeen creates an empty set.
func NewSeen() *Seen {
	return &Seen{ids: make(map[string]int)}
}

// Mark records id and returns how many times it was seen before.
func (s *Seen) Mark(id string) int {
	n := s.ids[id]
	s.ids[id] = n + 1
	return n
}

// Options configures an Orchestrator.
type Options struct {
	ScratchDir string
	Scale      config.ScaleMode
	Sample     config.SampleMode
	Decoder    Decoder
	Prober     RateProber
	Seen       *Seen
	Logger     *slog.Logger
}

// Orchestrator extracts frames for one video at a time.
type Orchestrator struct {
	opts Options
	log  *slog.Logger
}

// New creates an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.ScratchDir == "" {
		return nil, errors.New("scratch dir required")
	}
	if opts.Decoder == nil {
		return nil, errors.New("decoder required")
	}
	if opts.Sample.NeedsFrameRate() && opts.Prober == nil {
		return nil, errors.New("interval sampling requires a prober")
	}
	if opts.Seen == nil {
		opts.Seen = NewSeen()
	}
	log := opts.Logger
	if log == nil {
		log = logging.Component("extract")
	}
	return &Orchestrator{opts: opts, log: log}, nil
}

// ScratchPath returns the scratch directory for a video ID.
func (o *Orchestrator) ScratchPath(videoID string) string {
	return filepath.Join(o.opts.ScratchDir, videoID)
}

// Process runs STAGING, DECODING, COLLECTING and CLEANUP for one video.
// CLEANUP always runs. Interval sampling with a zero frame rate ends in
// ABORTED without decoding. An invalid video ID fails before anything on
// disk is touched.
func (o *Orchestrator) Process(ctx context.Context, v split.VideoRef, consume Consumer) (out Outcome) {
	out.VideoID = v.ID
	log := o.log.With("video_id", v.ID)
	if id := logging.RunID(ctx); id != "" {
		log = log.With("run_id", id)
	}

	if err := split.ValidateVideoID(v.ID); err != nil {
		out.State = Staging
		out.Err = fmt.Errorf("process %s: %w", v.Path, err)
		return out
	}

	if n := o.opts.Seen.Mark(v.ID); n > 0 {
		out.Repeat = true
		log.Warn("video id already processed in this run, processing again", "path", v.Path, "times_seen", n)
	}

	dir := o.ScratchPath(v.ID)
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Warn("failed to remove scratch directory", "dir", dir, "error", err)
		}
		if out.State != Aborted {
			out.State = Cleanup
		}
	}()

	// STAGING
	out.State = Staging
	if err := Stage(dir); err != nil {
		out.Err = err
		return out
	}

	// DECODING
	out.State = Decoding
	job := Job{Source: v.Path, Dir: dir, Scale: o.opts.Scale}
	if o.opts.Sample.NeedsFrameRate() {
		out.FrameRate = o.opts.Prober.Rate(ctx, v.Path)
		step, err := sampling.IntervalStep(o.opts.Sample.Seconds, out.FrameRate)
		if err != nil {
			out.State = Aborted
			out.Err = fmt.Errorf("interval sampling for %s: %w", v.ID, err)
			log.Warn("skipping video", "path", v.Path, "reason", err)
			return out
		}
		job.Select = sampling.IntervalFilter(step)
		log.Debug("interval sampling", "fps", out.FrameRate, "step", step)
	}

	decodeErr := o.opts.Decoder.Decode(ctx, job)

	// COLLECTING
	out.State = Collecting
	files, ignored, err := Collect(dir)
	if err != nil {
		out.Err = err
		return out
	}
	out.Decoded = len(files)
	if len(ignored) > 0 {
		log.Debug("ignored non-frame files", "count", len(ignored), "names", ignored)
	}

	if decodeErr != nil {
		out.Err = decodeErr
		return out
	}
	if len(files) == 0 {
		out.Err = fmt.Errorf("%w: %s", ErrNoFrames, v.Path)
		return out
	}

	keep := sampling.Select(SortedIndices(files), o.opts.Sample)
	if len(keep) == 0 {
		out.Err = fmt.Errorf("%w: sampling kept none of %d decoded frames of %s", ErrNoFrames, len(files), v.Path)
		return out
	}
	if last := keep[len(keep)-1]; last > storage.MaxFrameIndex {
		out.Err = fmt.Errorf("frame index %d of %s exceeds %d", last, v.ID, storage.MaxFrameIndex)
		return out
	}

	out.Frames = make([]Frame, len(keep))
	for i, id := range keep {
		out.Frames[i] = Frame{Index: id, Path: files[id]}
	}

	if consume != nil {
		out.WriteErr = consume(ctx, v.ID, out.Frames)
	}
	return out
}

// Stage removes whatever is at dir and recreates it empty.
func Stage(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clear scratch directory %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create scratch directory %s: %w", dir, err)
	}
	return nil
}

// frameFilePattern matches decoder output: 00000001.jpg
var frameFilePattern = regexp.MustCompile(`^(\d+)\.jpg$`)

// ParseFrameFilename extracts the frame index from a decoder output name.
func ParseFrameFilename(name string) (int, bool) {
	m := frameFilePattern.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	id, err := strconv.Atoi(m[1])
	if err != nil || id < 1 {
		return 0, false
	}
	return id, true
}

// Collect lists frame files in dir keyed by frame index, and the names of
// the entries that are not frame files.
func Collect(dir string) (map[int]string, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("read scratch directory: %w", err)
	}

	files := make(map[int]string, len(entries))
	var ignored []string
	for _, e := range entries {
		id, ok := ParseFrameFilename(e.Name())
		if e.IsDir() || !ok {
			ignored = append(ignored, e.Name())
			continue
		}
		files[id] = filepath.Join(dir, e.Name())
	}
	return files, ignored, nil
}

// SortedIndices returns the keys of a Collect result in ascending order.
func SortedIndices(files map[int]string) []int {
	ids := make([]int, 0, len(files))
	for id := range files {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
