package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/withObsrvr/vid2frame/internal/catalog"
	"github.com/withObsrvr/vid2frame/internal/checkpoint"
	"github.com/withObsrvr/vid2frame/internal/config"
	"github.com/withObsrvr/vid2frame/internal/extract"
	"github.com/withObsrvr/vid2frame/internal/logging"
	"github.com/withObsrvr/vid2frame/internal/split"
	"github.com/withObsrvr/vid2frame/internal/storage"
)

func jpegBytes(id string, i int) []byte {
	return append([]byte{0xFF, 0xD8}, []byte(fmt.Sprintf("%s-%d", id, i))...)
}

// fakeProcessor writes frames files itself and calls the consumer, unless
// an outcome is preset for the video ID.
type fakeProcessor struct {
	dir      string
	frames   int
	outcomes map[string]extract.Outcome
	calls    []string
}

func (p *fakeProcessor) Process(ctx context.Context, v split.VideoRef, consume extract.Consumer) extract.Outcome {
	p.calls = append(p.calls, v.ID)
	if out, ok := p.outcomes[v.ID]; ok {
		out.VideoID = v.ID
		return out
	}

	out := extract.Outcome{VideoID: v.ID, State: extract.Cleanup, Decoded: p.frames}
	for i := 1; i <= p.frames; i++ {
		path := filepath.Join(p.dir, fmt.Sprintf("%s-%08d.jpg", v.ID, i))
		if err := os.WriteFile(path, jpegBytes(v.ID, i), 0644); err != nil {
			out.Err = err
			return out
		}
		out.Frames = append(out.Frames, extract.Frame{Index: i, Path: path})
	}
	out.WriteErr = consume(ctx, v.ID, out.Frames)
	return out
}

// failingStore fails PutBatch for the listed videos.
type failingStore struct {
	storage.FrameStore
	fail map[string]bool
}

func (s *failingStore) PutBatch(ctx context.Context, entries []storage.Entry) error {
	if len(entries) > 0 {
		id, _, _ := storage.ParseFrameKey(entries[0].Key)
		if s.fail[id] {
			return errors.New("disk full")
		}
	}
	return s.FrameStore.PutBatch(ctx, entries)
}

func openBolt(t *testing.T) *storage.BoltStore {
	t.Helper()
	s, err := storage.OpenBolt(filepath.Join(t.TempDir(), "frames.db"), storage.BoltOptions{})
	if err != nil {
		t.Fatalf("OpenBolt failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func videos(ids ...string) []split.VideoRef {
	out := make([]split.VideoRef, len(ids))
	for i, id := range ids {
		out[i] = split.VideoRef{Path: "/videos/" + id + ".mp4", ID: id}
	}
	return out
}

func newRunner(t *testing.T, opts Options) *Runner {
	t.Helper()
	if opts.Split == "" {
		opts.Split = "split-0"
	}
	opts.Logger = logging.Discard()
	r, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return r
}

func TestRun_WritesFramesAndCatalog(t *testing.T) {
	store := openBolt(t)
	cat := catalog.NewWriter(filepath.Join(t.TempDir(), "catalog.parquet"))
	proc := &fakeProcessor{dir: t.TempDir(), frames: 3}

	r := newRunner(t, Options{Store: store, Backend: storage.OrderedMap, Processor: proc, Catalog: cat})
	rep, err := r.Run(context.Background(), videos("a", "b"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if rep.Total != 2 || rep.Processed != 2 || rep.Frames != 6 {
		t.Errorf("report = %+v", rep)
	}
	if rep.Failed != 0 || rep.Skipped != 0 || len(rep.Failures) != 0 {
		t.Errorf("unexpected failures: %+v", rep)
	}

	got, err := store.Get(context.Background(), "b/00000002")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got, jpegBytes("b", 2)) {
		t.Errorf("stored value = %q", got)
	}

	var want int64
	for _, id := range []string{"a", "b"} {
		for i := 1; i <= 3; i++ {
			want += int64(len(jpegBytes(id, i)))
		}
	}
	if rep.Bytes != want {
		t.Errorf("bytes = %d, want %d", rep.Bytes, want)
	}
	if cat.Len() != 6 {
		t.Errorf("catalog rows = %d, want 6", cat.Len())
	}
}

func TestRun_ClassifiesOutcomes(t *testing.T) {
	store := openBolt(t)
	proc := &fakeProcessor{
		dir:    t.TempDir(),
		frames: 2,
		outcomes: map[string]extract.Outcome{
			"nofps":  {State: extract.Aborted, Err: errors.New("frame rate is zero")},
			"broken": {State: extract.Cleanup, Err: fmt.Errorf("%w: exit status 1", extract.ErrDecode)},
			"blank":  {State: extract.Cleanup, Err: fmt.Errorf("%w: /videos/blank.mp4", extract.ErrNoFrames)},
			"again":  {State: extract.Cleanup, Repeat: true, Err: extract.ErrDecode},
		},
	}

	r := newRunner(t, Options{Store: store, Processor: proc})
	rep, err := r.Run(context.Background(), videos("ok", "nofps", "broken", "blank", "again"))
	if err != nil {
		t.Fatalf("decode failures must not stop the run: %v", err)
	}

	if rep.Processed != 1 || rep.Skipped != 1 || rep.Failed != 2 || rep.Empty != 1 || rep.Duplicates != 1 {
		t.Errorf("report = %+v", rep)
	}

	stages := map[string]string{}
	for _, f := range rep.Failures {
		stages[f.VideoID] = f.Stage
	}
	want := map[string]string{"broken": "decode", "blank": "empty", "again": "decode"}
	if !reflect.DeepEqual(stages, want) {
		t.Errorf("failure stages = %v, want %v", stages, want)
	}

	n, err := storage.Count(context.Background(), store)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("stored %d frames, want 2", n)
	}
}

func TestRun_StorageErrorPolicy(t *testing.T) {
	tests := []struct {
		policy        string
		wantErr       bool
		wantCalls     int
		wantProcessed int
		wantFailed    int
	}{
		{policy: config.OnErrorStop, wantErr: true, wantCalls: 2, wantProcessed: 1},
		{policy: config.OnErrorSkip, wantCalls: 3, wantProcessed: 2, wantFailed: 1},
	}

	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			store := &failingStore{FrameStore: openBolt(t), fail: map[string]bool{"b": true}}
			proc := &fakeProcessor{dir: t.TempDir(), frames: 1}

			r := newRunner(t, Options{Store: store, Processor: proc, OnError: tt.policy})
			rep, err := r.Run(context.Background(), videos("a", "b", "c"))

			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(proc.calls) != tt.wantCalls {
				t.Errorf("processed %v, want %d calls", proc.calls, tt.wantCalls)
			}
			if rep.Processed != tt.wantProcessed || rep.Failed != tt.wantFailed {
				t.Errorf("report = %+v", rep)
			}
		})
	}
}

func TestRun_ResumeSkipsCompleted(t *testing.T) {
	store := openBolt(t)
	mgr, err := checkpoint.NewManager(checkpoint.Config{Enabled: true, Dir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	first := &fakeProcessor{
		dir:      t.TempDir(),
		frames:   1,
		outcomes: map[string]extract.Outcome{"b": {State: extract.Cleanup, Err: extract.ErrDecode}},
	}
	r := newRunner(t, Options{Store: store, Processor: first, Checkpoint: mgr, SplitFile: "splits.yaml"})
	if _, err := r.Run(ctx, videos("a", "b", "c")); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	second := &fakeProcessor{dir: t.TempDir(), frames: 1}
	r = newRunner(t, Options{Store: store, Processor: second, Checkpoint: mgr, SplitFile: "splits.yaml", Resume: true})
	rep, err := r.Run(ctx, videos("a", "b", "c"))
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if !reflect.DeepEqual(second.calls, []string{"b"}) {
		t.Errorf("resumed run processed %v, want [b]", second.calls)
	}
	if rep.Resumed != 2 || rep.Skipped != 2 || rep.Processed != 1 {
		t.Errorf("report = %+v", rep)
	}

	cp, err := mgr.Load(ctx, "split-0")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cp.Completed, []string{"a", "b", "c"}) {
		t.Errorf("completed = %v", cp.Completed)
	}
}

func TestRun_ResumeIgnoresForeignCheckpoint(t *testing.T) {
	store := openBolt(t)
	mgr, err := checkpoint.NewManager(checkpoint.Config{Enabled: true, Dir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	cp := &checkpoint.Checkpoint{Split: "split-0", SplitFile: "other.yaml", FrameDB: store.URI()}
	cp.MarkDone("a")
	if err := mgr.Save(ctx, cp); err != nil {
		t.Fatal(err)
	}

	proc := &fakeProcessor{dir: t.TempDir(), frames: 1}
	r := newRunner(t, Options{Store: store, Processor: proc, Checkpoint: mgr, SplitFile: "splits.yaml", Resume: true})
	if _, err := r.Run(ctx, videos("a")); err != nil {
		t.Fatal(err)
	}
	if len(proc.calls) != 1 {
		t.Errorf("video a should be processed again, calls = %v", proc.calls)
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	proc := &fakeProcessor{dir: t.TempDir(), frames: 1}
	r := newRunner(t, Options{Store: openBolt(t), Processor: proc})
	_, err := r.Run(ctx, videos("a"))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if len(proc.calls) != 0 {
		t.Errorf("no video should be processed, got %v", proc.calls)
	}
}

// jpegDecoder stands in for ffmpeg, writing n frames that start with a
// JPEG marker.
type jpegDecoder struct{ frames int }

func (d jpegDecoder) Decode(ctx context.Context, job extract.Job) error {
	for i := 1; i <= d.frames; i++ {
		name := filepath.Join(job.Dir, fmt.Sprintf(extract.FramePattern, i))
		if err := os.WriteFile(name, jpegBytes("x", i), 0644); err != nil {
			return err
		}
	}
	return nil
}

func TestRun_WithOrchestrator(t *testing.T) {
	orch, err := extract.New(extract.Options{
		ScratchDir: t.TempDir(),
		Scale:      config.AsIs(),
		Sample:     config.UniformCount(3),
		Decoder:    jpegDecoder{frames: 10},
		Logger:     logging.Discard(),
	})
	if err != nil {
		t.Fatal(err)
	}
	store, err := storage.OpenBlob(context.Background(), "mem://", false)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	r := newRunner(t, Options{Store: store, Backend: storage.Hierarchical, Processor: orch})
	rep, err := r.Run(context.Background(), videos("clip"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if rep.Processed != 1 || rep.Frames != 3 {
		t.Fatalf("report = %+v", rep)
	}

	var keys []string
	err = store.Walk(context.Background(), func(key string, _ []byte) error {
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"clip/00000001", "clip/00000006", "clip/00000010"}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("keys = %v, want %v", keys, want)
	}
}

func TestNew_RejectsUnknownPolicy(t *testing.T) {
	_, err := New(Options{Store: openBolt(t), Processor: &fakeProcessor{}, OnError: "retry"})
	if err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestRun_InvalidVideoIDIsFailed(t *testing.T) {
	orch, err := extract.New(extract.Options{
		ScratchDir: t.TempDir(),
		Scale:      config.AsIs(),
		Sample:     config.All(),
		Decoder:    jpegDecoder{frames: 2},
		Logger:     logging.Discard(),
	})
	if err != nil {
		t.Fatal(err)
	}
	store := openBolt(t)

	refs := append(videos(".", "clip"), split.VideoRef{Path: "/videos/.mp4", ID: split.VideoID("/videos/.mp4")})
	r := newRunner(t, Options{Store: store, Backend: storage.OrderedMap, Processor: orch})
	rep, err := r.Run(context.Background(), refs)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if rep.Processed != 2 || rep.Failed != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if f := rep.Failures[0]; f.VideoID != "." || f.Stage != "invalid_id" || !errors.Is(f.Err, split.ErrInvalidVideoID) {
		t.Errorf("failure = %+v", f)
	}
	if has, _ := store.Has(context.Background(), "./00000001"); has {
		t.Error("frames of an invalid id must not be written")
	}
	if has, _ := store.Has(context.Background(), ".mp4/00000001"); !has {
		t.Error("dot-named video should be stored under its full name")
	}
}
