package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/withObsrvr/vid2frame/internal/catalog"
	"github.com/withObsrvr/vid2frame/internal/checkpoint"
	"github.com/withObsrvr/vid2frame/internal/config"
	"github.com/withObsrvr/vid2frame/internal/extract"
	"github.com/withObsrvr/vid2frame/internal/logging"
	"github.com/withObsrvr/vid2frame/internal/merge"
	"github.com/withObsrvr/vid2frame/internal/metrics"
	"github.com/withObsrvr/vid2frame/internal/pipeline"
	"github.com/withObsrvr/vid2frame/internal/probe"
	"github.com/withObsrvr/vid2frame/internal/split"
	"github.com/withObsrvr/vid2frame/internal/storage"
	"github.com/withObsrvr/vid2frame/internal/verify"
)

func splitCommand() *cli.Command {
	return &cli.Command{
		Name:  "split",
		Usage: "Partition a video collection into N split lists",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "root", Usage: "Directory scanned recursively for videos", EnvVars: env("ROOT")},
			&cli.StringFlag{Name: "list", Usage: "File with one video path per line, instead of --root", EnvVars: env("LIST")},
			&cli.IntFlag{Name: "splits", Required: true, Usage: "Number of splits", EnvVars: env("SPLITS")},
			&cli.StringFlag{Name: "out", Required: true, Usage: "Split file to write (.yaml, or .zst for zstd)", EnvVars: env("OUT")},
			&cli.StringSliceFlag{Name: "ext", Value: cli.NewStringSlice(split.DefaultExtensions...), Usage: "Video file extensions", EnvVars: env("EXT")},
		},
		Action: func(c *cli.Context) error {
			log := logging.Component("split")

			var (
				paths []string
				err   error
			)
			switch root, list := c.String("root"), c.String("list"); {
			case root != "" && list != "":
				return errors.New("--root conflicts with --list")
			case root != "":
				paths, err = split.Discover(root, c.StringSlice("ext"))
			case list != "":
				paths, err = split.ReadList(list)
			default:
				return errors.New("--root or --list is required")
			}
			if err != nil {
				return err
			}

			m, rep, err := split.Build(paths, c.Int("splits"))
			if err != nil {
				return err
			}
			rep.Log(log)

			if err := split.Save(c.String("out"), m); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "wrote %d videos in %d splits to %s\n", rep.Joined, len(m), c.String("out"))
			return nil
		},
	}
}

func extractCommand() *cli.Command {
	return &cli.Command{
		Name:      "extract",
		Usage:     "Extract frames of one split into a frame store",
		ArgsUsage: "SPLIT_FILE SPLIT FRAME_DB DB_TYPE",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "asis", Usage: "Keep the source resolution", EnvVars: env("ASIS")},
			&cli.IntFlag{Name: "short", Usage: "Scale so the shorter side is S pixels", EnvVars: env("SHORT")},
			&cli.IntFlag{Name: "height", Usage: "Scale to exactly this height (with --width)", EnvVars: env("HEIGHT")},
			&cli.IntFlag{Name: "width", Usage: "Scale to exactly this width (with --height)", EnvVars: env("WIDTH")},
			&cli.IntFlag{Name: "num-frame", Usage: "Keep N frames spread uniformly", EnvVars: env("NUM_FRAME")},
			&cli.IntFlag{Name: "skip", Usage: "Keep every K-th frame", EnvVars: env("SKIP")},
			&cli.Float64Flag{Name: "interval", Usage: "Keep one frame every R seconds", EnvVars: env("INTERVAL")},
			&cli.StringFlag{Name: "scratch", Usage: "Scratch directory root", EnvVars: env("SCRATCH")},
			&cli.DurationFlag{Name: "probe-timeout", Usage: "Timeout of one ffprobe call", EnvVars: env("PROBE_TIMEOUT")},
			&cli.DurationFlag{Name: "decode-timeout", Usage: "Timeout of one ffmpeg decode", EnvVars: env("DECODE_TIMEOUT")},
			&cli.StringFlag{Name: "ffmpeg", Value: "ffmpeg", Usage: "The ffmpeg binary path", EnvVars: env("FFMPEG")},
			&cli.StringFlag{Name: "on-error", Usage: "Storage error policy (stop, skip)", EnvVars: env("ON_ERROR")},
			&cli.StringFlag{Name: "checkpoint-dir", Usage: "Write per-split checkpoints to this directory", EnvVars: env("CHECKPOINT_DIR")},
			&cli.BoolFlag{Name: "resume", Usage: "Skip videos completed by an earlier run", EnvVars: env("RESUME")},
			&cli.StringFlag{Name: "catalog", Usage: "Write a parquet catalog of every frame to this file", EnvVars: env("CATALOG")},
			&cli.IntFlag{Name: "mmap-size", Usage: "Initial ordered-map size in bytes", EnvVars: env("MMAP_SIZE")},
			&cli.StringFlag{Name: "s3-endpoint", Usage: "S3-compatible endpoint for s3:// stores", EnvVars: env("S3_ENDPOINT")},
			&cli.StringFlag{Name: "s3-region", Usage: "Region for s3:// stores", EnvVars: env("S3_REGION")},
			&cli.BoolFlag{Name: "no-progress", Usage: "Disable the progress bar", EnvVars: env("NO_PROGRESS")},
		},
		Action: runExtract,
	}
}

func runExtract(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := applyExtractFlags(c, &cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx := c.Context
	log := logging.Component("extract")

	// Validate already checked both modes.
	scale, _ := cfg.Frames.Scale()
	sample, _ := cfg.Frames.Sample()

	mapping, err := split.Load(cfg.SplitFile)
	if err != nil {
		return err
	}
	videos, err := mapping.Videos(cfg.Split)
	if err != nil {
		return err
	}

	backend, err := storage.NormalizeType(cfg.Storage.Type)
	if err != nil {
		return err
	}
	store, err := storage.Open(ctx, storage.StorageConfig{
		Type:       backend,
		Path:       cfg.Storage.Path,
		MmapSize:   cfg.Storage.MmapSize,
		S3Endpoint: cfg.Storage.S3Endpoint,
		S3Region:   cfg.Storage.S3Region,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	decoder := extract.NewFFmpegDecoder(cfg.Timeouts.Decode)
	decoder.Binary = c.String("ffmpeg")

	orch, err := extract.New(extract.Options{
		ScratchDir: filepath.Join(cfg.Scratch.Dir, cfg.Split),
		Scale:      scale,
		Sample:     sample,
		Decoder:    decoder,
		Prober:     probe.New(cfg.Timeouts.Probe),
		Logger:     log,
	})
	if err != nil {
		return err
	}

	var cpMgr checkpoint.Manager
	if cfg.Checkpoint.Enabled {
		cpMgr, err = checkpoint.NewManager(checkpoint.Config{Enabled: true, Dir: cfg.Checkpoint.Dir})
		if err != nil {
			return err
		}
	}

	var cat *catalog.Writer
	if cfg.Catalog.Path != "" {
		cat = catalog.NewWriter(cfg.Catalog.Path)
	}

	runID := logging.NewRunID()
	ctx = logging.WithRunID(ctx, runID)

	opts := pipeline.Options{
		RunID:      runID,
		Split:      cfg.Split,
		SplitFile:  cfg.SplitFile,
		Store:      store,
		Backend:    backend,
		Processor:  orch,
		Checkpoint: cpMgr,
		Resume:     cfg.Checkpoint.Resume,
		Catalog:    cat,
		OnError:    cfg.OnError,
		Metrics:    metrics.Get(),
	}
	if cfg.Progress {
		opts.Progress = c.App.ErrWriter
	}

	runner, err := pipeline.New(opts)
	if err != nil {
		return err
	}

	log.Info("extracting split",
		"run_id", runID,
		"split", cfg.Split,
		"videos", len(videos),
		"scale", scale.Kind.String(),
		"sample", sample.Kind.String(),
	)
	rep, runErr := runner.Run(ctx, videos)
	rep.Print(c.App.Writer)

	// Rows of every video written so far are kept, even after a failure.
	if cat != nil {
		if err := cat.Close(); err != nil {
			log.Error("failed to write catalog", "path", cfg.Catalog.Path, "error", err)
			if runErr == nil {
				runErr = err
			}
		} else {
			log.Info("wrote catalog", "path", cfg.Catalog.Path, "rows", cat.Len())
		}
	}
	return runErr
}

// applyExtractFlags layers positional arguments and explicitly set flags
// over the config file.
func applyExtractFlags(c *cli.Context, cfg *config.Config) error {
	switch c.NArg() {
	case 0:
	case 4:
		cfg.SplitFile = c.Args().Get(0)
		cfg.Split = c.Args().Get(1)
		cfg.Storage.Path = c.Args().Get(2)
		cfg.Storage.Type = c.Args().Get(3)
	default:
		return fmt.Errorf("expected SPLIT_FILE SPLIT FRAME_DB DB_TYPE, got %d arguments", c.NArg())
	}

	f := &cfg.Frames
	if c.IsSet("asis") {
		f.AsIs = c.Bool("asis")
	}
	if c.IsSet("short") {
		f.Short = c.Int("short")
	}
	if c.IsSet("height") {
		f.Height = c.Int("height")
	}
	if c.IsSet("width") {
		f.Width = c.Int("width")
	}
	if c.IsSet("num-frame") {
		f.NumFrame = c.Int("num-frame")
	}
	if c.IsSet("skip") {
		f.Skip = c.Int("skip")
	}
	if c.IsSet("interval") {
		f.Interval = c.Float64("interval")
	}

	if c.IsSet("scratch") {
		cfg.Scratch.Dir = c.String("scratch")
	}
	if c.IsSet("probe-timeout") {
		cfg.Timeouts.Probe = c.Duration("probe-timeout")
	}
	if c.IsSet("decode-timeout") {
		cfg.Timeouts.Decode = c.Duration("decode-timeout")
	}
	if c.IsSet("on-error") {
		cfg.OnError = c.String("on-error")
	}
	if c.IsSet("checkpoint-dir") {
		cfg.Checkpoint.Enabled = true
		cfg.Checkpoint.Dir = c.String("checkpoint-dir")
	}
	if c.IsSet("resume") {
		cfg.Checkpoint.Resume = c.Bool("resume")
	}
	if c.IsSet("catalog") {
		cfg.Catalog.Path = c.String("catalog")
	}
	if c.IsSet("mmap-size") {
		cfg.Storage.MmapSize = c.Int("mmap-size")
	}
	if c.IsSet("s3-endpoint") {
		cfg.Storage.S3Endpoint = c.String("s3-endpoint")
	}
	if c.IsSet("s3-region") {
		cfg.Storage.S3Region = c.String("s3-region")
	}
	if c.Bool("no-progress") {
		cfg.Progress = false
	}
	return nil
}

func mergeCommand() *cli.Command {
	return &cli.Command{
		Name:      "merge",
		Usage:     "Merge frame stores into one",
		ArgsUsage: "SRC...",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "db-type", Required: true, Usage: "Destination store type (ordered-map, hierarchical)", EnvVars: env("DB_TYPE")},
			&cli.StringFlag{Name: "src-db-type", Usage: "Source store type, defaults to --db-type", EnvVars: env("SRC_DB_TYPE")},
			&cli.StringFlag{Name: "out", Required: true, Usage: "Destination store", EnvVars: env("OUT")},
			&cli.StringFlag{Name: "on-conflict", Value: string(merge.PolicyOverwrite), Usage: "Conflict policy (overwrite, skip, fail)", EnvVars: env("ON_CONFLICT")},
			&cli.IntFlag{Name: "mmap-size", Value: config.Default().Storage.MmapSize, Usage: "Initial ordered-map size in bytes", EnvVars: env("MMAP_SIZE")},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return errors.New("at least one source store is required")
			}
			ctx := c.Context

			policy, err := merge.ParsePolicy(c.String("on-conflict"))
			if err != nil {
				return err
			}
			srcType := c.String("src-db-type")
			if srcType == "" {
				srcType = c.String("db-type")
			}

			dst, err := storage.Open(ctx, storage.StorageConfig{
				Type:     c.String("db-type"),
				Path:     c.String("out"),
				MmapSize: c.Int("mmap-size"),
			})
			if err != nil {
				return err
			}
			defer dst.Close()

			srcs := make([]storage.FrameStore, 0, c.NArg())
			defer func() {
				for _, s := range srcs {
					s.Close()
				}
			}()
			for _, path := range c.Args().Slice() {
				s, err := storage.Open(ctx, storage.StorageConfig{Type: srcType, Path: path, ReadOnly: true})
				if err != nil {
					return err
				}
				srcs = append(srcs, s)
			}

			m := &merge.Merger{Policy: policy, Logger: logging.Component("merge")}
			stats, err := m.Merge(ctx, dst, srcs...)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "merged %d sources into %s: %d videos, %d frames copied, %d overwritten, %d skipped, %d frames total\n",
				stats.Sources, dst.URI(), stats.Videos, stats.Copied, stats.Overwritten, stats.Skipped, stats.Total)
			return nil
		},
	}
}

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "Check that every stored frame decodes as an image",
		ArgsUsage: "FRAME_DB DB_TYPE",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "workers", Value: 1, Usage: "Parallel decoders", EnvVars: env("WORKERS")},
			&cli.IntFlag{Name: "max-failures", Usage: "Stop after this many failures (0 = no limit)", EnvVars: env("MAX_FAILURES")},
			&cli.StringFlag{Name: "catalog", Usage: "Also compare checksums against this parquet catalog", EnvVars: env("CATALOG")},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("expected FRAME_DB DB_TYPE, got %d arguments", c.NArg())
			}
			return runVerify(c.Context, c, c.Args().Get(0), c.Args().Get(1))
		},
	}
}

func runVerify(ctx context.Context, c *cli.Context, path, dbType string) error {
	log := logging.Component("verify")

	store, err := storage.Open(ctx, storage.StorageConfig{Type: dbType, Path: path, ReadOnly: true})
	if err != nil {
		return err
	}
	defer store.Close()

	opts := verify.Options{
		Workers:     c.Int("workers"),
		MaxFailures: c.Int("max-failures"),
		Metrics:     metrics.Get(),
		Logger:      log,
	}
	if p := c.String("catalog"); p != "" {
		if opts, err = verify.WithCatalog(opts, p); err != nil {
			return err
		}
	}

	rep, err := verify.Verify(ctx, store, opts)
	if err != nil {
		return err
	}

	w := c.App.Writer
	for _, f := range rep.Failures {
		fmt.Fprintf(w, "%s: %v\n", f.Key, f.Err)
	}
	fmt.Fprintf(w, "checked %d frames of %d videos, %d failed\n", rep.Checked, len(rep.PerVideo), rep.Failed)
	if rep.Stopped {
		fmt.Fprintln(w, "stopped early: max failures reached")
	}
	if !rep.OK() {
		log.Warn("verification failed", "failed", rep.Failed)
		return cli.Exit(fmt.Sprintf("%d frames failed verification", rep.Failed), 2)
	}
	slog.Debug("verification passed", "store", store.URI())
	return nil
}
