// Package upload stores images uploaded from the dashboard, along with a
// resized thumbnail of each, in a Cloud Storage bucket.
package upload

import (
	"bytes"
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"io/ioutil"
	"net/http"

	"cloud.google.com/go/storage"
	"github.com/golang/glog"
	"github.com/nfnt/resize"
)

const (
	THUMB_WIDTH = 640

	// MAX_BYTES is the default upload limit.
	MAX_BYTES = 8 << 20

	// MAX_PIXELS caps the decoded size, which the byte limit does not bound.
	MAX_PIXELS = 50 * 1000 * 1000
)

var (
	ErrTooLarge    = errors.New("image is too large")
	ErrUnsupported = errors.New("only JPEG, PNG and GIF images are supported")

	extensions = map[string]string{
		"image/jpeg": "jpg",
		"image/png":  "png",
		"image/gif":  "gif",
	}
)

// Bucket is where uploaded objects end up.
type Bucket interface {
	NewWriter(ctx context.Context, name, contentType string) io.WriteCloser
	URL(name string) string
}

// GCS is a Bucket backed by Cloud Storage.
type GCS struct {
	handle *storage.BucketHandle
	name   string
}

func NewGCS(client *storage.Client, name string) *GCS {
	return &GCS{
		handle: client.Bucket(name),
		name:   name,
	}
}

func (g *GCS) NewWriter(ctx context.Context, name, contentType string) io.WriteCloser {
	w := g.handle.Object(name).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "public, max-age=31536000, immutable"
	return w
}

func (g *GCS) URL(name string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", g.name, name)
}

// Image describes a stored upload.
type Image struct {
	URL      string `json:"url"`
	ThumbURL string `json:"thumbUrl"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

type Images struct {
	Bucket Bucket
}

func New(b Bucket) *Images {
	return &Images{Bucket: b}
}

// Thumbnail scales img down to width pixels wide, keeping the aspect ratio.
// Images that are already small enough are returned unchanged.
func Thumbnail(img image.Image, width uint) image.Image {
	if uint(img.Bounds().Dx()) <= width {
		return img
	}
	return resize.Resize(width, 0, img, resize.Lanczos3)
}

func (i *Images) write(ctx context.Context, name, contentType string, b []byte) error {
	w := i.Bucket.NewWriter(ctx, name, contentType)
	if _, err := w.Write(b); err != nil {
		_ = w.Close()
		return fmt.Errorf("Failed to write %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("Failed to close %s: %w", name, err)
	}
	return nil
}

// Upload reads an image of at most maxBytes from r and stores it along with
// its thumbnail. Objects are named by content hash so re-uploads are free.
func (i *Images) Upload(ctx context.Context, r io.Reader, maxBytes int64) (*Image, error) {
	if maxBytes <= 0 {
		maxBytes = MAX_BYTES
	}
	b, err := ioutil.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("Failed to read upload: %w", err)
	}
	if int64(len(b)) > maxBytes {
		return nil, ErrTooLarge
	}
	contentType := http.DetectContentType(b)
	ext, ok := extensions[contentType]
	if !ok {
		return nil, ErrUnsupported
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MAX_PIXELS {
		return nil, ErrTooLarge
	}
	img, _, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, err)
	}

	var buf bytes.Buffer
	encoder := png.Encoder{
		CompressionLevel: png.BestCompression,
	}
	if err := encoder.Encode(&buf, Thumbnail(img, THUMB_WIDTH)); err != nil {
		return nil, fmt.Errorf("Failed to encode thumbnail: %w", err)
	}

	hash := fmt.Sprintf("%x", md5.Sum(b))
	name := fmt.Sprintf("images/%s.%s", hash, ext)
	thumb := fmt.Sprintf("thumbs/%s.png", hash)
	if err := i.write(ctx, name, contentType, b); err != nil {
		return nil, err
	}
	if err := i.write(ctx, thumb, "image/png", buf.Bytes()); err != nil {
		return nil, err
	}
	glog.Infof("Stored upload %s (%d bytes)", name, len(b))
	bounds := img.Bounds()
	return &Image{
		URL:      i.Bucket.URL(name),
		ThumbURL: i.Bucket.URL(thumb),
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
	}, nil
}
