package pipeline

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/withObsrvr/vid2frame/internal/storage"
)

// jpegSOI is the start-of-image marker every JPEG begins with.
var jpegSOI = []byte{0xFF, 0xD8}

// ValidationResult contains the outcome of frame validation.
type ValidationResult struct {
	Passed     bool
	Errors     []string
	Warnings   []string
	FrameCount int
	ByteSize   int64
}

// ValidationError is returned when a video's frames fail validation. No
// frame of that video is written.
type ValidationError struct {
	VideoID string
	Result  ValidationResult
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("frames of %s failed validation: %s", e.VideoID, strings.Join(e.Result.Errors, "; "))
}

// ValidateFrames performs quality checks on a video's entries before they
// are written:
// - at least one frame
// - every key parses and belongs to videoID
// - frame indices strictly increase
// - no empty values
// Values that do not start with a JPEG marker are reported as warnings.
func ValidateFrames(videoID string, entries []storage.Entry) ValidationResult {
	result := ValidationResult{
		Passed:     true,
		FrameCount: len(entries),
	}

	// Check 1: Non-empty video
	if len(entries) == 0 {
		result.Errors = append(result.Errors, "video has no frames")
		result.Passed = false
	}

	prev := 0
	for _, e := range entries {
		result.ByteSize += int64(len(e.Value))

		// Check 2: Key format and ownership
		id, index, err := storage.ParseFrameKey(e.Key)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			result.Passed = false
			continue
		}
		if id != videoID {
			result.Errors = append(result.Errors,
				fmt.Sprintf("key %s does not belong to video %s", e.Key, videoID))
			result.Passed = false
		}

		// Check 3: Ascending indices
		if index <= prev {
			result.Errors = append(result.Errors,
				fmt.Sprintf("frame index %d after %d is not ascending", index, prev))
			result.Passed = false
		}
		prev = index

		// Check 4: Non-empty values
		if len(e.Value) == 0 {
			result.Errors = append(result.Errors, fmt.Sprintf("empty frame data for %s", e.Key))
			result.Passed = false
			continue
		}

		// Check 5: JPEG marker
		if !bytes.HasPrefix(e.Value, jpegSOI) {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("frame %s does not start with a JPEG marker", e.Key))
		}
	}

	return result
}
