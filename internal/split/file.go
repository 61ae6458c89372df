package split

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"
)

const fileVersion = 1

// file is the persisted form of a Mapping.
type file struct {
	Version int                 `yaml:"version"`
	Splits  map[string][]string `yaml:"splits"`
}

// Save writes the mapping as YAML. A path ending in .zst is zstd
// compressed. The write is atomic.
func Save(path string, m Mapping) error {
	data, err := yaml.Marshal(file{Version: fileVersion, Splits: m})
	if err != nil {
		return fmt.Errorf("marshal splits: %w", err)
	}

	if isCompressed(path) {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return fmt.Errorf("create zstd encoder: %w", err)
		}
		data = enc.EncodeAll(data, nil)
		enc.Close()
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write temp file %s: %w", tempPath, err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename %s to %s: %w", tempPath, path, err)
	}
	return nil
}

// Load reads a mapping written by Save.
func Load(path string) (Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read split file: %w", err)
	}

	if isCompressed(path) {
		dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}
		defer dec.Close()

		data, err = dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
	}

	var f file
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse split file: %w", err)
	}
	if f.Version != fileVersion {
		return nil, fmt.Errorf("unsupported split file version %d", f.Version)
	}
	if f.Splits == nil {
		return Mapping{}, nil
	}

	m := Mapping(f.Splits)
	for name, paths := range m {
		if paths == nil {
			m[name] = []string{}
		}
	}
	return m, nil
}

func isCompressed(path string) bool {
	return strings.HasSuffix(path, ".zst")
}
