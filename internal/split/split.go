// Package split partitions a video corpus into round-robin shards.
package split

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrPartitionMismatch is returned when the shards do not reconstitute
	// the deduplicated input exactly once.
	ErrPartitionMismatch = errors.New("split partition does not match input")

	// ErrUnknownSplit is returned for a shard name absent from a mapping.
	ErrUnknownSplit = errors.New("unknown split")

	// ErrInvalidVideoID is returned for IDs that cannot name a scratch
	// directory or prefix a frame key.
	ErrInvalidVideoID = errors.New("invalid video id")
)

// VideoRef is a video file and the ID derived from it.
type VideoRef struct {
	Path string
	ID   string
}

// Duplicate records a path dropped because its ID was already taken.
type Duplicate struct {
	ID   string
	Path string
	Kept string
}

// VideoID is the file name without directory and extension. Leading dots
// belong to the name, so ".mp4" keeps its whole name as the ID.
func VideoID(path string) string {
	base := filepath.Base(path)
	rest := strings.TrimLeft(base, ".")
	i := strings.LastIndexByte(rest, '.')
	if i < 0 {
		return base
	}
	return base[:len(base)-len(rest)+i]
}

// ValidateVideoID rejects IDs that are empty, "." or "..", or that contain
// a path separator.
func ValidateVideoID(id string) error {
	switch {
	case id == "", id == ".", id == "..":
		return fmt.Errorf("%w: %q", ErrInvalidVideoID, id)
	case strings.ContainsAny(id, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidVideoID, id)
	}
	return nil
}

// Name returns the shard name for index i.
func Name(i int) string {
	return "split-" + strconv.Itoa(i)
}

// Rejected records a path whose derived ID is not valid.
type Rejected struct {
	Path string
	Err  error
}

// Dedup derives video IDs and keeps the first path seen for each ID.
// Paths with an invalid ID are rejected. Order of the kept videos follows
// the input.
func Dedup(paths []string) ([]VideoRef, []Duplicate, []Rejected) {
	seen := make(map[string]string, len(paths))
	videos := make([]VideoRef, 0, len(paths))
	var (
		dups     []Duplicate
		rejected []Rejected
	)

	for _, p := range paths {
		id := VideoID(p)
		if err := ValidateVideoID(id); err != nil {
			rejected = append(rejected, Rejected{Path: p, Err: err})
			continue
		}
		if kept, ok := seen[id]; ok {
			dups = append(dups, Duplicate{ID: id, Path: p, Kept: kept})
			continue
		}
		seen[id] = p
		videos = append(videos, VideoRef{Path: p, ID: id})
	}
	return videos, dups, rejected
}

// Mapping maps shard names to ordered video paths.
type Mapping map[string][]string

// Partition assigns the video at position i to shard i mod n.
func Partition(videos []VideoRef, n int) (Mapping, error) {
	if n < 1 {
		return nil, fmt.Errorf("split count must be at least 1, got %d", n)
	}

	m := make(Mapping, n)
	for i := 0; i < n; i++ {
		m[Name(i)] = []string{}
	}
	for i, v := range videos {
		name := Name(i % n)
		m[name] = append(m[name], v.Path)
	}
	return m, nil
}

// Names returns the shard names in numeric order.
func (m Mapping) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, aok := shardIndex(names[i])
		b, bok := shardIndex(names[j])
		if aok && bok {
			return a < b
		}
		if aok != bok {
			return aok
		}
		return names[i] < names[j]
	})
	return names
}

// Videos returns the videos of one shard.
func (m Mapping) Videos(name string) ([]VideoRef, error) {
	paths, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s (have %s)", ErrUnknownSplit, name, strings.Join(m.Names(), ", "))
	}
	out := make([]VideoRef, len(paths))
	for i, p := range paths {
		out[i] = VideoRef{Path: p, ID: VideoID(p)}
	}
	return out, nil
}

// Total returns the number of videos over all shards.
func (m Mapping) Total() int {
	n := 0
	for _, paths := range m {
		n += len(paths)
	}
	return n
}

// Verify checks that the shards hold every video exactly once and nothing
// else.
func (m Mapping) Verify(videos []VideoRef) error {
	want := make(map[string]int, len(videos))
	for _, v := range videos {
		want[v.Path]++
	}

	got := make(map[string]int, len(videos))
	for _, name := range m.Names() {
		for _, p := range m[name] {
			got[p]++
		}
	}

	var problems []string
	for p, n := range got {
		switch {
		case want[p] == 0:
			problems = append(problems, fmt.Sprintf("unexpected %s", p))
		case n != want[p]:
			problems = append(problems, fmt.Sprintf("%s appears %d times", p, n))
		}
	}
	for p := range want {
		if got[p] == 0 {
			problems = append(problems, fmt.Sprintf("missing %s", p))
		}
	}
	if total := m.Total(); total != len(videos) {
		problems = append(problems, fmt.Sprintf("total %d, expected %d", total, len(videos)))
	}

	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("%w: %s", ErrPartitionMismatch, strings.Join(problems, "; "))
}

// Report summarizes a split run.
type Report struct {
	Found      int
	Unique     int
	Duplicates []Duplicate
	Rejected   []Rejected
	PerSplit   map[string]int
	Joined     int
}

// Log writes the report at info level and every dropped path at warn level.
func (r Report) Log(log *slog.Logger) {
	for _, d := range r.Duplicates {
		log.Warn("duplicate video id dropped", "video_id", d.ID, "path", d.Path, "kept", d.Kept)
	}
	for _, rj := range r.Rejected {
		log.Warn("video dropped", "path", rj.Path, "error", rj.Err)
	}
	log.Info("videos found", "found", r.Found, "unique", r.Unique, "duplicates", len(r.Duplicates), "rejected", len(r.Rejected))

	names := make(Mapping, len(r.PerSplit))
	for name := range r.PerSplit {
		names[name] = nil
	}
	for _, name := range names.Names() {
		log.Info("split", "name", name, "videos", r.PerSplit[name])
	}
	log.Info("splits joined", "videos", r.Joined)
}

// Build deduplicates paths, partitions them into n shards and verifies
// the result.
func Build(paths []string, n int) (Mapping, Report, error) {
	videos, dups, rejected := Dedup(paths)

	m, err := Partition(videos, n)
	if err != nil {
		return nil, Report{}, err
	}
	if err := m.Verify(videos); err != nil {
		return nil, Report{}, err
	}

	r := Report{
		Found:      len(paths),
		Unique:     len(videos),
		Duplicates: dups,
		Rejected:   rejected,
		PerSplit:   make(map[string]int, len(m)),
		Joined:     m.Total(),
	}
	for name, ps := range m {
		r.PerSplit[name] = len(ps)
	}
	return m, r, nil
}

func shardIndex(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, "split-")
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return i, true
}
