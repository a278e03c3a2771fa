// Package video reads frame counts and individual frames from video files.
package video

import (
	"context"
	"errors"
	"image"
	"time"
)

var (
	// ErrNoVideoStream is returned when a file carries no video stream.
	ErrNoVideoStream = errors.New("no video stream found")

	// ErrInvalidFrameCount is returned when a video reports no usable frame count.
	ErrInvalidFrameCount = errors.New("video reports no frames")

	// ErrFrameNotFound is returned when the requested frame could not be decoded.
	ErrFrameNotFound = errors.New("frame not found")
)

// Info describes a probed video.
type Info struct {
	Path       string
	FrameCount int
	FrameRate  float64
	Duration   time.Duration
}

// Reader opens videos. ReadFrame addresses frames by 0-based ordinal.
type Reader interface {
	Probe(ctx context.Context, path string) (Info, error)
	ReadFrame(ctx context.Context, path string, index int) (image.Image, error)
}
