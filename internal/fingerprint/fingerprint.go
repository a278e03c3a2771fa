package fingerprint

import (
	"fmt"
	"image"

	"github.com/cespare/xxhash/v2"
	"github.com/disintegration/imaging"

	"github.com/kozaktomas/frameprep/internal/constants"
)

// Fingerprint is a 64-bit hash of a normalized low-resolution thumbnail.
// Two images can only be near duplicates when their fingerprints are equal.
type Fingerprint uint64

// String returns the fingerprint as 16 hex characters.
func (f Fingerprint) String() string {
	return fmt.Sprintf("%016x", uint64(f))
}

// MarshalText encodes the fingerprint as its hex string in JSON output.
func (f Fingerprint) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// Compute fingerprints an already decoded image.
func Compute(img image.Image) Fingerprint {
	thumb := resizeImage(img, constants.ThumbnailSize, constants.ThumbnailSize)
	return Fingerprint(xxhash.Sum64(rgbBytes(thumb)))
}

// resizeImage scales an image to the specified dimensions with a Lanczos filter.
func resizeImage(img image.Image, width, height int) *image.NRGBA {
	return imaging.Resize(img, width, height, imaging.Lanczos)
}

// rgbBytes packs the thumbnail as tightly laid out RGB triplets. Alpha is
// dropped so images differing only in their colour model hash the same.
func rgbBytes(img *image.NRGBA) []byte {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	out := make([]byte, 0, width*height*3)
	for y := range height {
		row := img.Pix[y*img.Stride : y*img.Stride+width*4]
		for x := 0; x < len(row); x += 4 {
			out = append(out, row[x], row[x+1], row[x+2])
		}
	}
	return out
}
