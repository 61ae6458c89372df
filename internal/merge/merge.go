// Package merge combines several frame stores into one.
package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/withObsrvr/vid2frame/internal/logging"
	"github.com/withObsrvr/vid2frame/internal/storage"
)

// ErrKeyConflict is returned under PolicyFail when a key already exists in
// the destination.
var ErrKeyConflict = errors.New("key already exists in destination")

// Policy decides what happens when a key is already present.
type Policy string

const (
	PolicyOverwrite Policy = "overwrite" // last writer wins
	PolicySkip      Policy = "skip"      // first writer wins
	PolicyFail      Policy = "fail"
)

// ParsePolicy validates a policy name. Empty means overwrite.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyOverwrite:
		return PolicyOverwrite, nil
	case PolicySkip, PolicyFail:
		return Policy(s), nil
	default:
		return "", fmt.Errorf("unknown conflict policy %q", s)
	}
}

// Stats counts what a merge did.
type Stats struct {
	Sources     int
	Videos      int
	Copied      int
	Overwritten int
	Skipped     int
	Total       int // entries in the destination afterwards
}

// Merger copies frame stores into a destination.
type Merger struct {
	Policy Policy
	Logger *slog.Logger
}

// Merge copies every entry of every source into dst, in source order.
// Entries are written one video at a time with PutBatch, so an ordered-map
// destination never holds part of a video from a source.
func (m *Merger) Merge(ctx context.Context, dst storage.FrameStore, srcs ...storage.FrameStore) (Stats, error) {
	var stats Stats

	policy, err := ParsePolicy(string(m.Policy))
	if err != nil {
		return stats, err
	}
	log := m.Logger
	if log == nil {
		log = logging.Component("merge")
	}

	for _, src := range srcs {
		if sameStore(src, dst) {
			return stats, fmt.Errorf("source %s is the destination", src.URI())
		}
	}

	for _, src := range srcs {
		before := stats
		if err := m.mergeOne(ctx, policy, dst, src, &stats); err != nil {
			return stats, fmt.Errorf("merge %s: %w", src.URI(), err)
		}
		stats.Sources++

		log.Info("merged source",
			"source", src.URI(),
			"videos", stats.Videos-before.Videos,
			"copied", stats.Copied-before.Copied,
			"overwritten", stats.Overwritten-before.Overwritten,
			"skipped", stats.Skipped-before.Skipped,
		)
	}

	total, err := storage.Count(ctx, dst)
	if err != nil {
		return stats, fmt.Errorf("count %s: %w", dst.URI(), err)
	}
	stats.Total = total
	log.Info("merge complete", "destination", dst.URI(), "sources", stats.Sources, "total", stats.Total)
	return stats, nil
}

func (m *Merger) mergeOne(ctx context.Context, policy Policy, dst, src storage.FrameStore, stats *Stats) error {
	var (
		group string
		batch []storage.Entry
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := dst.PutBatch(ctx, batch); err != nil {
			return fmt.Errorf("write video %s: %w", group, err)
		}
		stats.Videos++
		stats.Copied += len(batch)
		batch = batch[:0]
		return nil
	}

	err := src.Walk(ctx, func(key string, value []byte) error {
		if g := videoOf(key); g != group {
			if err := flush(); err != nil {
				return err
			}
			group = g
		}

		exists, err := dst.Has(ctx, key)
		if err != nil {
			return fmt.Errorf("check %s: %w", key, err)
		}
		if exists {
			switch policy {
			case PolicySkip:
				stats.Skipped++
				return nil
			case PolicyFail:
				return fmt.Errorf("%w: %s", ErrKeyConflict, key)
			default:
				stats.Overwritten++
			}
		}

		batch = append(batch, storage.Entry{Key: key, Value: value})
		return nil
	})
	if err != nil {
		return err
	}
	return flush()
}

// sameStore reports whether a and b are the same store. In-memory buckets
// share a URI, so only identity counts for them.
func sameStore(a, b storage.FrameStore) bool {
	if a == b {
		return true
	}
	return a.URI() == b.URI() && !strings.HasPrefix(a.URI(), "mem://")
}

// videoOf groups keys by video ID. Keys that are not frame keys form their
// own group.
func videoOf(key string) string {
	id, _, err := storage.ParseFrameKey(key)
	if err != nil {
		return key
	}
	return id
}
