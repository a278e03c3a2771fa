package dedupe

import (
	"fmt"
	"image"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/spf13/afero"

	"github.com/kozaktomas/frameprep/internal/imagefile"
	"github.com/kozaktomas/frameprep/internal/ssim"
)

// Comparer scores the similarity of two scanned images. 1.0 means identical.
// Implementations must be safe for concurrent use.
type Comparer interface {
	Compare(a, b Record) (float64, error)
}

// SSIMComparer compares grayscale versions of the full images with
// structural similarity. Decoded grayscale images are cached by path, so an
// image that is compared against many others is decoded once.
type SSIMComparer struct {
	fs    afero.Fs
	cache *cache.Cache
}

func NewSSIMComparer(fs afero.Fs, ttl time.Duration) *SSIMComparer {
	return &SSIMComparer{
		fs:    fs,
		cache: cache.New(ttl, 2*ttl),
	}
}

func (c *SSIMComparer) Compare(a, b Record) (float64, error) {
	ga, err := c.gray(a.Path)
	if err != nil {
		return 0, err
	}
	gb, err := c.gray(b.Path)
	if err != nil {
		return 0, err
	}

	score, err := ssim.Index(ga, gb)
	if err != nil {
		return 0, fmt.Errorf("failed to compare %s and %s: %w", a.Name, b.Name, err)
	}
	return score, nil
}

// Forget drops a cached image, e.g. after its file was deleted.
func (c *SSIMComparer) Forget(path string) {
	c.cache.Delete(path)
}

func (c *SSIMComparer) gray(path string) (*image.Gray, error) {
	if v, ok := c.cache.Get(path); ok {
		return v.(*image.Gray), nil
	}

	img, err := imagefile.Decode(c.fs, path)
	if err != nil {
		return nil, err
	}
	g := ssim.ToGray(img)
	c.cache.SetDefault(path, g)
	return g, nil
}
