package common

import (
	"fmt"
	"strings"
)

// VideoFormat represents the container written by the video stage
type VideoFormat string

const (
	VideoMP4 VideoFormat = "mp4"
	VideoAVI VideoFormat = "avi"
	VideoGIF VideoFormat = "gif"
)

// ParseVideoFormat converts a format string to a VideoFormat.
// Accepted values: "mp4", "avi", "gif"
func ParseVideoFormat(format string) (VideoFormat, error) {
	switch VideoFormat(strings.ToLower(strings.TrimPrefix(format, "."))) {
	case VideoMP4:
		return VideoMP4, nil
	case VideoAVI:
		return VideoAVI, nil
	case VideoGIF:
		return VideoGIF, nil
	default:
		return "", fmt.Errorf("invalid format: %s (must be 'mp4', 'avi', or 'gif')", format)
	}
}

// Ext returns the file extension including the dot
func (f VideoFormat) Ext() string {
	return "." + string(f)
}
