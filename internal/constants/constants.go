// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// File type constants
var (
	// VideoExtensions are the lowercase extensions picked up by the frame sampler
	VideoExtensions = []string{".mp4", ".mov", ".avi", ".mkv"}

	// ImageExtensions are the lowercase extensions picked up by the duplicate filter
	ImageExtensions = []string{".png", ".jpg", ".jpeg", ".bmp"}

	// FrameFormats are the output formats the sampler can write
	FrameFormats = []string{"jpg", "png", "bmp"}
)

// Frame sampling constants
const (
	// FrameNameFormat builds a frame file name from label, frame index and extension
	FrameNameFormat = "%s_frame_%06d.%s"

	// FirstFrameIndex is where every sampling schedule starts
	FirstFrameIndex = 1

	// DefaultFramesPerVideo is the default target number of frames per video
	DefaultFramesPerVideo = 500

	// DefaultJPEGQuality is used when writing jpg frames
	DefaultJPEGQuality = 95
)

// Fingerprint constants
const (
	// ThumbnailSize is the width and height of the fingerprint thumbnail
	ThumbnailSize = 64
)

// Structural similarity constants
const (
	// SSIMWindow is the side of the square uniform window
	SSIMWindow = 7

	// SSIMK1 and SSIMK2 stabilise the luminance and contrast terms
	SSIMK1 = 0.01
	SSIMK2 = 0.03

	// SSIMDataRange is the dynamic range of 8-bit grayscale input
	SSIMDataRange = 255.0
)

// Duplicate detection constants
const (
	// DefaultSimilarityThreshold is the SSIM score at or above which the later image is deleted
	DefaultSimilarityThreshold = 0.9

	// DefaultGrayCacheTTLSeconds is how long a decoded grayscale image stays cached
	DefaultGrayCacheTTLSeconds = 120
)
