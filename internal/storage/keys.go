package storage

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MaxFrameIndex is the largest frame index whose key still sorts in numeric
// order with the fixed eight digit padding.
const MaxFrameIndex = 99_999_999

// ErrBadKey is returned when a key is not of the form <video_id>/<index>.
var ErrBadKey = errors.New("malformed frame key")

// FrameKey returns the storage key for a frame: <video_id>/<index %08d>.
func FrameKey(videoID string, index int) string {
	return VideoPrefix(videoID) + fmt.Sprintf("%08d", index)
}

// VideoPrefix returns the key prefix shared by all frames of a video.
func VideoPrefix(videoID string) string {
	return videoID + "/"
}

// ParseFrameKey splits a frame key into video ID and frame index.
func ParseFrameKey(key string) (string, int, error) {
	i := strings.LastIndexByte(key, '/')
	if i <= 0 || i == len(key)-1 {
		return "", 0, fmt.Errorf("%w: %q", ErrBadKey, key)
	}

	digits := key[i+1:]
	if len(digits) < 8 {
		return "", 0, fmt.Errorf("%w: index %q shorter than 8 digits", ErrBadKey, digits)
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return "", 0, fmt.Errorf("%w: index %q is not numeric", ErrBadKey, digits)
		}
	}

	index, err := strconv.Atoi(digits)
	if err != nil || index < 1 {
		return "", 0, fmt.Errorf("%w: index %q", ErrBadKey, digits)
	}
	return key[:i], index, nil
}
