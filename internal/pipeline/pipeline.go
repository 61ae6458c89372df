// Package pipeline runs extraction over one split: resume, extract, write
// frames, record catalog rows and checkpoints.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/withObsrvr/vid2frame/internal/catalog"
	"github.com/withObsrvr/vid2frame/internal/checkpoint"
	"github.com/withObsrvr/vid2frame/internal/config"
	"github.com/withObsrvr/vid2frame/internal/extract"
	"github.com/withObsrvr/vid2frame/internal/logging"
	"github.com/withObsrvr/vid2frame/internal/metrics"
	"github.com/withObsrvr/vid2frame/internal/split"
	"github.com/withObsrvr/vid2frame/internal/storage"
)

// Version information (set via ldflags)
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

// Processor extracts one video and hands its frames to consume.
type Processor interface {
	Process(ctx context.Context, v split.VideoRef, consume extract.Consumer) extract.Outcome
}

var _ Processor = (*extract.Orchestrator)(nil)

// Options configures a Runner.
type Options struct {
	RunID     string
	Split     string
	SplitFile string

	Store     storage.FrameStore
	Backend   string
	Processor Processor

	Checkpoint checkpoint.Manager // nil disables checkpoints
	Resume     bool
	Catalog    *catalog.Writer // nil disables the catalog

	OnError  string    // config.OnErrorStop | config.OnErrorSkip
	Progress io.Writer // nil disables the progress bar
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Runner processes the videos of one split sequentially.
type Runner struct {
	opts   Options
	labels metrics.Labels
	log    *slog.Logger
	cp     *checkpoint.Checkpoint
}

// New creates a Runner.
func New(opts Options) (*Runner, error) {
	if opts.Store == nil {
		return nil, errors.New("frame store required")
	}
	if opts.Processor == nil {
		return nil, errors.New("processor required")
	}
	switch opts.OnError {
	case "":
		opts.OnError = config.OnErrorStop
	case config.OnErrorStop, config.OnErrorSkip:
	default:
		return nil, fmt.Errorf("unknown on_error policy %q", opts.OnError)
	}
	if opts.RunID == "" {
		opts.RunID = logging.NewRunID()
	}
	log := opts.Logger
	if log == nil {
		log = logging.Component("pipeline")
	}

	return &Runner{
		opts:   opts,
		labels: metrics.Labels{Split: opts.Split, Backend: opts.Backend},
		log:    log.With("run_id", opts.RunID, "split", opts.Split),
	}, nil
}

// Run processes videos in order. It returns early with the partial report
// when the context is cancelled, or when a storage write fails under the
// stop policy.
func (r *Runner) Run(ctx context.Context, videos []split.VideoRef) (Report, error) {
	start := time.Now()
	rep := Report{Split: r.opts.Split, Total: len(videos)}

	done, err := r.loadCheckpoint(ctx)
	if err != nil {
		return rep, err
	}

	r.log.Info("starting extraction",
		"videos", len(videos),
		"store", r.opts.Store.URI(),
		"backend", r.opts.Backend,
		"on_error", r.opts.OnError,
		"resumed", len(done),
		"version", Version,
	)

	bar := r.newProgressBar(len(videos))
	defer func() {
		if bar != nil {
			bar.Finish()
		}
	}()

	for _, v := range videos {
		if err := ctx.Err(); err != nil {
			rep.Duration = time.Since(start)
			return rep, err
		}

		if done[v.ID] {
			rep.Skipped++
			rep.Resumed++
			r.incSkipped("resumed")
			r.tick(bar)
			continue
		}

		if err := r.runOne(ctx, v, &rep); err != nil {
			rep.Duration = time.Since(start)
			rep.Log(r.log)
			return rep, err
		}
		r.tick(bar)
	}

	rep.Duration = time.Since(start)
	rep.Log(r.log)
	return rep, nil
}

// runOne processes a single video and folds its outcome into rep. A
// non-nil error stops the run.
func (r *Runner) runOne(ctx context.Context, v split.VideoRef, rep *Report) error {
	log := logging.VideoLogger(r.log, v.ID)

	var wrote written
	started := time.Now()
	out := r.opts.Processor.Process(ctx, v, func(ctx context.Context, videoID string, frames []extract.Frame) error {
		var err error
		wrote, err = r.write(ctx, videoID, frames)
		return err
	})
	if m := r.opts.Metrics; m != nil && !out.Skipped() {
		m.ObserveDecodeDuration(r.labels, time.Since(started).Seconds()-wrote.took.Seconds())
	}

	if out.Repeat {
		rep.Duplicates++
	}

	switch {
	case out.Skipped():
		rep.Skipped++
		r.incSkipped("zero_frame_rate")
		return nil

	case errors.Is(out.Err, extract.ErrNoFrames):
		rep.Empty++
		rep.addFailure(v, "empty", out.Err)
		r.incFailed("empty")
		log.Warn("no frames extracted", "path", v.Path, "decoded", out.Decoded)
		return nil

	case errors.Is(out.Err, split.ErrInvalidVideoID):
		rep.Failed++
		rep.addFailure(v, "invalid_id", out.Err)
		r.incFailed("invalid_id")
		log.Error("video rejected", "path", v.Path, "error", out.Err)
		return nil

	case out.Err != nil:
		rep.Failed++
		rep.addFailure(v, "decode", out.Err)
		r.incFailed("decode")
		log.Error("extraction failed", "path", v.Path, "error", out.Err)
		return nil

	case out.WriteErr != nil:
		var verr *ValidationError
		if errors.As(out.WriteErr, &verr) {
			rep.Failed++
			rep.addFailure(v, "validate", out.WriteErr)
			r.incFailed("validate")
			log.Error("frames failed validation", "errors", verr.Result.Errors)
			return nil
		}

		if m := r.opts.Metrics; m != nil {
			m.IncStorageErrors(r.labels)
		}
		r.incFailed("storage")
		if r.opts.OnError == config.OnErrorStop {
			return fmt.Errorf("write frames of %s: %w", v.ID, out.WriteErr)
		}
		rep.Failed++
		rep.addFailure(v, "storage", out.WriteErr)
		log.Error("storage write failed, continuing", "error", out.WriteErr, "atomic", r.opts.Store.Atomic())
		return nil
	}

	rep.Processed++
	rep.Frames += wrote.frames
	rep.Bytes += wrote.bytes
	if m := r.opts.Metrics; m != nil {
		m.IncVideosProcessed(r.labels)
		m.AddFramesWritten(r.labels, wrote.frames, wrote.bytes)
	}
	log.Debug("video done",
		"frames", wrote.frames,
		"bytes", wrote.bytes,
		"decoded", out.Decoded,
		"fps", out.FrameRate,
	)

	r.saveCheckpoint(ctx, v.ID)
	return nil
}

type written struct {
	frames int
	bytes  int64
	took   time.Duration
}

// write reads the selected frame files, validates them and writes them as
// one batch. Catalog rows are added only after the batch succeeds.
func (r *Runner) write(ctx context.Context, videoID string, frames []extract.Frame) (written, error) {
	var w written

	entries := make([]storage.Entry, 0, len(frames))
	indices := make([]int, 0, len(frames))
	for _, f := range frames {
		data, err := os.ReadFile(f.Path)
		if err != nil {
			return w, fmt.Errorf("read frame %d: %w", f.Index, err)
		}
		entries = append(entries, storage.Entry{Key: storage.FrameKey(videoID, f.Index), Value: data})
		indices = append(indices, f.Index)
		w.bytes += int64(len(data))
	}

	if res := ValidateFrames(videoID, entries); !res.Passed {
		return w, &ValidationError{VideoID: videoID, Result: res}
	} else if len(res.Warnings) > 0 {
		r.log.Warn("frame validation warnings", "video_id", videoID, "warnings", res.Warnings)
	}

	start := time.Now()
	if err := r.opts.Store.PutBatch(ctx, entries); err != nil {
		return w, err
	}
	w.took = time.Since(start)
	w.frames = len(entries)

	if m := r.opts.Metrics; m != nil {
		m.ObserveWriteDuration(r.labels, w.took.Seconds())
	}

	if r.opts.Catalog != nil {
		at := time.Now()
		rows := make([]catalog.FrameRow, len(entries))
		for i, e := range entries {
			rows[i] = catalog.Row(r.opts.Split, videoID, indices[i], e.Key, e.Value, at)
		}
		r.opts.Catalog.Add(rows...)
	}
	return w, nil
}

// loadCheckpoint returns the completed video IDs to skip. A checkpoint
// written for a different split file or store is ignored.
func (r *Runner) loadCheckpoint(ctx context.Context) (map[string]bool, error) {
	if r.opts.Checkpoint == nil {
		return nil, nil
	}

	fresh := &checkpoint.Checkpoint{
		RunID:     r.opts.RunID,
		Split:     r.opts.Split,
		SplitFile: r.opts.SplitFile,
		FrameDB:   r.opts.Store.URI(),
	}
	r.cp = fresh
	if !r.opts.Resume {
		return nil, nil
	}

	cp, err := r.opts.Checkpoint.Load(ctx, r.opts.Split)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNoCheckpoint) {
			r.log.Info("no checkpoint found, starting fresh")
			return nil, nil
		}
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	if cp.SplitFile != fresh.SplitFile || cp.FrameDB != fresh.FrameDB {
		r.log.Info("checkpoint doesn't match config, starting fresh",
			"checkpoint_split_file", cp.SplitFile,
			"checkpoint_frame_db", cp.FrameDB,
		)
		return nil, nil
	}

	cp.RunID = r.opts.RunID
	r.cp = cp
	r.log.Info("resuming from checkpoint", "completed", len(cp.Completed))
	return cp.Done(), nil
}

func (r *Runner) saveCheckpoint(ctx context.Context, videoID string) {
	if r.cp == nil {
		return
	}
	r.cp.MarkDone(videoID)
	r.cp.UpdatedAt = time.Now().UTC()
	if err := r.opts.Checkpoint.Save(ctx, r.cp); err != nil {
		r.log.Warn("failed to save checkpoint", "error", err)
	}
}

func (r *Runner) newProgressBar(total int) *progressbar.ProgressBar {
	if r.opts.Progress == nil || total == 0 {
		return nil
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(r.opts.Progress),
		progressbar.OptionSetDescription(r.opts.Split),
		progressbar.OptionSetItsString("videos"),
		progressbar.OptionShowIts(),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(r.opts.Progress) }),
	)
}

func (r *Runner) tick(bar *progressbar.ProgressBar) {
	if bar != nil {
		bar.Add(1)
	}
}

func (r *Runner) incSkipped(reason string) {
	if m := r.opts.Metrics; m != nil {
		m.IncVideosSkipped(r.labels, reason)
	}
}

func (r *Runner) incFailed(stage string) {
	if m := r.opts.Metrics; m != nil {
		m.IncVideosFailed(r.labels, stage)
	}
}
