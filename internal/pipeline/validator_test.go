package pipeline

import (
	"strings"
	"testing"

	"github.com/withObsrvr/vid2frame/internal/storage"
)

func entry(key string, value []byte) storage.Entry {
	return storage.Entry{Key: key, Value: value}
}

func TestValidateFrames_Valid(t *testing.T) {
	entries := []storage.Entry{
		entry("clip/00000001", jpegBytes("clip", 1)),
		entry("clip/00000004", jpegBytes("clip", 4)),
	}

	result := ValidateFrames("clip", entries)

	if !result.Passed {
		t.Errorf("Valid frames should pass. Errors: %v", result.Errors)
	}
	if len(result.Warnings) > 0 {
		t.Errorf("No warnings expected, got: %v", result.Warnings)
	}
	if result.FrameCount != 2 {
		t.Errorf("FrameCount = %d, want 2", result.FrameCount)
	}
}

func TestValidateFrames_Empty(t *testing.T) {
	result := ValidateFrames("clip", nil)
	if result.Passed {
		t.Error("Empty video should fail validation")
	}
}

func TestValidateFrames_Failures(t *testing.T) {
	tests := []struct {
		name    string
		entries []storage.Entry
		want    string
	}{
		{
			name:    "foreign video",
			entries: []storage.Entry{entry("other/00000001", jpegBytes("other", 1))},
			want:    "does not belong",
		},
		{
			name: "not ascending",
			entries: []storage.Entry{
				entry("clip/00000002", jpegBytes("clip", 2)),
				entry("clip/00000002", jpegBytes("clip", 2)),
			},
			want: "not ascending",
		},
		{
			name:    "empty value",
			entries: []storage.Entry{entry("clip/00000001", nil)},
			want:    "empty frame data",
		},
		{
			name:    "bad key",
			entries: []storage.Entry{entry("clip/1", jpegBytes("clip", 1))},
			want:    "malformed frame key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateFrames("clip", tt.entries)
			if result.Passed {
				t.Fatal("expected validation to fail")
			}
			if !strings.Contains(strings.Join(result.Errors, "; "), tt.want) {
				t.Errorf("errors %v should mention %q", result.Errors, tt.want)
			}
		})
	}
}

func TestValidateFrames_NonJPEGWarning(t *testing.T) {
	result := ValidateFrames("clip", []storage.Entry{entry("clip/00000001", []byte("png?"))})
	if !result.Passed {
		t.Errorf("non-JPEG data should only warn. Errors: %v", result.Errors)
	}
	if len(result.Warnings) != 1 {
		t.Errorf("expected one warning, got %v", result.Warnings)
	}
}
