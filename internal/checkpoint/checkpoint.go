package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var (
	// ErrNoCheckpoint is returned when no checkpoint exists.
	ErrNoCheckpoint = errors.New("no checkpoint found")
)

// Checkpoint records the videos of one split already written to a store.
type Checkpoint struct {
	RunID     string    `json:"run_id"`
	Split     string    `json:"split"`
	SplitFile string    `json:"split_file"`
	FrameDB   string    `json:"frame_db"`
	Completed []string  `json:"completed"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Done returns the completed video IDs as a set.
func (cp *Checkpoint) Done() map[string]bool {
	out := make(map[string]bool, len(cp.Completed))
	for _, id := range cp.Completed {
		out[id] = true
	}
	return out
}

// MarkDone adds a video ID, keeping Completed sorted and unique.
func (cp *Checkpoint) MarkDone(videoID string) {
	i := sort.SearchStrings(cp.Completed, videoID)
	if i < len(cp.Completed) && cp.Completed[i] == videoID {
		return
	}
	cp.Completed = append(cp.Completed, "")
	copy(cp.Completed[i+1:], cp.Completed[i:])
	cp.Completed[i] = videoID
}

// Manager handles checkpoint persistence and retrieval.
type Manager interface {
	// Load reads the checkpoint of a split.
	Load(ctx context.Context, split string) (*Checkpoint, error)

	// Save persists the checkpoint.
	Save(ctx context.Context, cp *Checkpoint) error
}

// Config configures the checkpoint manager.
type Config struct {
	Enabled bool
	Dir     string // Directory for checkpoint files
}

// NewManager creates a checkpoint manager based on configuration.
func NewManager(cfg Config) (Manager, error) {
	if !cfg.Enabled {
		return &noopManager{}, nil
	}
	if cfg.Dir == "" {
		return nil, errors.New("checkpoint directory required")
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory %s: %w", cfg.Dir, err)
	}

	return &fileManager{dir: cfg.Dir}, nil
}

// fileManager persists checkpoints to local files, one per split.
type fileManager struct {
	dir string
}

func (m *fileManager) checkpointPath(split string) string {
	name := strings.NewReplacer("/", "_", string(os.PathSeparator), "_").Replace(split)
	return filepath.Join(m.dir, fmt.Sprintf("checkpoint_%s.json", name))
}

// Load reads the checkpoint of a split.
func (m *fileManager) Load(ctx context.Context, split string) (*Checkpoint, error) {
	data, err := os.ReadFile(m.checkpointPath(split))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("read checkpoint file: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint file: %w", err)
	}
	sort.Strings(cp.Completed)
	return &cp, nil
}

// Save persists the checkpoint to file.
func (m *fileManager) Save(ctx context.Context, cp *Checkpoint) error {
	path := m.checkpointPath(cp.Split)

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	// Write atomically
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write checkpoint temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename checkpoint file: %w", err)
	}

	return nil
}

// noopManager is a no-op checkpoint manager for when checkpointing is disabled.
type noopManager struct{}

func (m *noopManager) Load(ctx context.Context, split string) (*Checkpoint, error) {
	return nil, ErrNoCheckpoint
}

func (m *noopManager) Save(ctx context.Context, cp *Checkpoint) error {
	return nil
}
