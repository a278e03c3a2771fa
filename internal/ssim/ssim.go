// Package ssim computes the mean structural similarity index of two
// grayscale images.
//
// The parameters follow the common reference setup: a 7x7 uniform window
// evaluated at every position where it fits inside the image, K1=0.01,
// K2=0.03, a data range of 255 and sample (N-1) covariance. Identical
// images score exactly 1.
package ssim

import (
	"errors"
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"

	"github.com/kozaktomas/frameprep/internal/constants"
)

var (
	// ErrSizeMismatch is returned when the two images differ in size.
	ErrSizeMismatch = errors.New("images have different dimensions")

	// ErrTooSmall is returned when an image is smaller than the window.
	ErrTooSmall = errors.New("image is smaller than the similarity window")
)

// Compare converts both images to grayscale and returns their mean SSIM.
func Compare(a, b image.Image) (float64, error) {
	return Index(ToGray(a), ToGray(b))
}

// ToGray converts img to 8-bit grayscale with the ITU-R BT.601 luma weights,
// rounding to the nearest level.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Rect.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, width, height))
		draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	}

	gray := image.NewGray(image.Rect(0, 0, width, height))
	for y := range height {
		src := rgba.Pix[y*rgba.Stride : y*rgba.Stride+width*4]
		dst := gray.Pix[y*gray.Stride : y*gray.Stride+width]
		for x := range width {
			r := float64(src[x*4])
			g := float64(src[x*4+1])
			b := float64(src[x*4+2])
			dst[x] = uint8(math.Round(0.299*r + 0.587*g + 0.114*b))
		}
	}
	return gray
}

// windowSums holds per-column sums of one row band for the five moments
// the index needs.
type windowSums struct {
	x, y, xx, yy, xy []float64
}

func newWindowSums(n int) windowSums {
	return windowSums{
		x:  make([]float64, n),
		y:  make([]float64, n),
		xx: make([]float64, n),
		yy: make([]float64, n),
		xy: make([]float64, n),
	}
}

func (w windowSums) add(o windowSums, sign float64) {
	for i := range w.x {
		w.x[i] += sign * o.x[i]
		w.y[i] += sign * o.y[i]
		w.xx[i] += sign * o.xx[i]
		w.yy[i] += sign * o.yy[i]
		w.xy[i] += sign * o.xy[i]
	}
}

// Index returns the mean SSIM of two grayscale images of equal size.
//
// Window sums are maintained incrementally: every row contributes its
// horizontal 7-pixel sums, and a ring of the last 7 rows turns those into
// full window sums, so memory stays proportional to the image width.
func Index(a, b *image.Gray) (float64, error) {
	sa := a.Bounds().Size()
	sb := b.Bounds().Size()
	if sa != sb {
		return 0, fmt.Errorf("%w: %dx%d vs %dx%d", ErrSizeMismatch, sa.X, sa.Y, sb.X, sb.Y)
	}

	win := constants.SSIMWindow
	width, height := sa.X, sa.Y
	if width < win || height < win {
		return 0, fmt.Errorf("%w: %dx%d < %dx%d", ErrTooSmall, width, height, win, win)
	}

	cols := width - win + 1
	n := float64(win * win)
	covNorm := n / (n - 1)
	c1 := math.Pow(constants.SSIMK1*constants.SSIMDataRange, 2)
	c2 := math.Pow(constants.SSIMK2*constants.SSIMDataRange, 2)

	ring := make([]windowSums, win)
	for i := range ring {
		ring[i] = newWindowSums(cols)
	}
	acc := newWindowSums(cols)

	var total float64
	for row := range height {
		slot := ring[row%win]
		if row >= win {
			acc.add(slot, -1)
		}
		rowSums(a.Pix[row*a.Stride:row*a.Stride+width], b.Pix[row*b.Stride:row*b.Stride+width], win, slot)
		acc.add(slot, 1)

		if row < win-1 {
			continue
		}
		for c := range cols {
			ux := acc.x[c] / n
			uy := acc.y[c] / n
			vx := covNorm * (acc.xx[c]/n - ux*ux)
			vy := covNorm * (acc.yy[c]/n - uy*uy)
			vxy := covNorm * (acc.xy[c]/n - ux*uy)

			num := (2*ux*uy + c1) * (2*vxy + c2)
			den := (ux*ux + uy*uy + c1) * (vx + vy + c2)
			total += num / den
		}
	}

	positions := float64(cols * (height - win + 1))
	return total / positions, nil
}

// rowSums fills out with the sliding horizontal window sums of one row.
func rowSums(ra, rb []uint8, win int, out windowSums) {
	var sx, sy, sxx, syy, sxy float64
	for i := range ra {
		x := float64(ra[i])
		y := float64(rb[i])
		sx += x
		sy += y
		sxx += x * x
		syy += y * y
		sxy += x * y

		if i >= win {
			ox := float64(ra[i-win])
			oy := float64(rb[i-win])
			sx -= ox
			sy -= oy
			sxx -= ox * ox
			syy -= oy * oy
			sxy -= ox * oy
		}
		if i >= win-1 {
			c := i - win + 1
			out.x[c] = sx
			out.y[c] = sy
			out.xx[c] = sxx
			out.yy[c] = syy
			out.xy[c] = sxy
		}
	}
}
