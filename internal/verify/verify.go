// Package verify checks that every value in a frame store decodes as an
// image.
package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register GIF
	_ "image/jpeg" // register JPEG
	_ "image/png"  // register PNG
	"log/slog"
	"sort"
	"sync"

	"github.com/withObsrvr/vid2frame/internal/catalog"
	"github.com/withObsrvr/vid2frame/internal/logging"
	"github.com/withObsrvr/vid2frame/internal/metrics"
	"github.com/withObsrvr/vid2frame/internal/storage"
)

var (
	// ErrEmptyImage is reported for images with a zero dimension.
	ErrEmptyImage = errors.New("image has zero size")

	// ErrChecksumMismatch is reported when a value differs from its catalog row.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrNotInCatalog is reported for stored keys the catalog does not list.
	ErrNotInCatalog = errors.New("key not in catalog")

	// ErrMissing is reported for catalog keys absent from the store.
	ErrMissing = errors.New("key missing from store")
)

// Options configures Verify.
type Options struct {
	// Workers decoding in parallel; values below 1 mean one.
	Workers int
	// MaxFailures stops the walk once reached; 0 means no limit.
	MaxFailures int
	// Checksums maps keys to catalog checksums. Nil skips checksum checks.
	Checksums map[string]string

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Failure is a key that did not verify.
type Failure struct {
	Key string
	Err error
}

// Report summarizes a verification pass.
type Report struct {
	Checked  int
	Failed   int
	Failures []Failure      // sorted by key
	PerVideo map[string]int // frames checked per video
	Formats  map[string]int // decoded image formats
	Stopped  bool           // MaxFailures was reached
}

// OK reports whether nothing failed.
func (r Report) OK() bool {
	return r.Failed == 0
}

// WithCatalog loads a frame catalog as checksum options.
func WithCatalog(opts Options, path string) (Options, error) {
	rows, err := catalog.Read(path)
	if err != nil {
		return opts, err
	}
	opts.Checksums = catalog.Index(rows)
	return opts, nil
}

type task struct {
	key   string
	value []byte
}

type result struct {
	key    string
	video  string
	format string
	err    error
}

// Verify walks every entry of s and decodes its image header.
//
// The walk is the dispatcher, Workers decode, and the calling goroutine
// collects results.
func Verify(ctx context.Context, s storage.FrameStore, opts Options) (Report, error) {
	rep := Report{
		PerVideo: make(map[string]int),
		Formats:  make(map[string]int),
	}

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	log := opts.Logger
	if log == nil {
		log = logging.Component("verify")
	}
	log.Info("verifying store", "store", s.URI(), "workers", workers, "max_failures", opts.MaxFailures)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tasks := make(chan task, workers*2)
	results := make(chan result, workers*2)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			workerLoop(ctx, logging.WorkerLogger(log, id), opts.Checksums, tasks, results)
		}(i)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	walkErr := make(chan error, 1)
	go func() {
		defer close(tasks)
		walkErr <- s.Walk(ctx, func(key string, value []byte) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case tasks <- task{key: key, value: value}:
				return nil
			}
		})
	}()

	seen := make(map[string]bool)
	for res := range results {
		if rep.Stopped {
			continue
		}
		seen[res.key] = true
		rep.add(res, opts.Metrics)

		if opts.MaxFailures > 0 && rep.Failed >= opts.MaxFailures {
			rep.Stopped = true
			log.Warn("max failures reached, stopping", "failed", rep.Failed)
			cancel()
		}
	}

	// Once stopped, the walk ends with whatever cancellation error the
	// backend reports.
	if err := <-walkErr; err != nil && !rep.Stopped {
		return rep.sorted(), fmt.Errorf("walk store: %w", err)
	}

	if opts.Checksums != nil && !rep.Stopped {
		for key := range opts.Checksums {
			if !seen[key] {
				rep.add(result{key: key, err: ErrMissing}, opts.Metrics)
			}
		}
	}

	rep = rep.sorted()
	log.Info("verification complete", "checked", rep.Checked, "failed", rep.Failed, "videos", len(rep.PerVideo))
	return rep, nil
}

func workerLoop(ctx context.Context, log *slog.Logger, checksums map[string]string, tasks <-chan task, results chan<- result) {
	for t := range tasks {
		res := check(t.key, t.value, checksums)
		if res.err != nil {
			log.Debug("frame failed verification", "key", t.key, "error", res.err)
		}
		select {
		case results <- res:
		case <-ctx.Done():
			return
		}
	}
}

// check verifies a single entry.
func check(key string, value []byte, checksums map[string]string) result {
	res := result{key: key}

	video, _, err := storage.ParseFrameKey(key)
	if err != nil {
		res.err = err
		return res
	}
	res.video = video

	cfg, format, err := image.DecodeConfig(bytes.NewReader(value))
	if err != nil {
		res.err = fmt.Errorf("decode image: %w", err)
		return res
	}
	res.format = format
	if cfg.Width == 0 || cfg.Height == 0 {
		res.err = fmt.Errorf("%w: %dx%d", ErrEmptyImage, cfg.Width, cfg.Height)
		return res
	}

	if checksums != nil {
		want, ok := checksums[key]
		switch {
		case !ok:
			res.err = ErrNotInCatalog
		case !catalog.VerifyChecksum(value, want):
			res.err = fmt.Errorf("%w: want %s", ErrChecksumMismatch, want)
		}
	}
	return res
}

func (r *Report) add(res result, m *metrics.Metrics) {
	if res.err == nil {
		r.Checked++
		r.PerVideo[res.video]++
		r.Formats[res.format]++
		if m != nil {
			m.IncFramesVerified("ok")
		}
		return
	}

	if !errors.Is(res.err, ErrMissing) {
		r.Checked++
		if res.video != "" {
			r.PerVideo[res.video]++
		}
	}
	r.Failed++
	r.Failures = append(r.Failures, Failure{Key: res.key, Err: res.err})
	if m != nil {
		m.IncFramesVerified("corrupt")
	}
}

func (r Report) sorted() Report {
	sort.Slice(r.Failures, func(i, j int) bool {
		return r.Failures[i].Key < r.Failures[j].Key
	})
	return r
}
