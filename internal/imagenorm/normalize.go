package imagenorm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"

	"github.com/andresmejia3/attendo/internal/types"
)

const (
	DefaultMaxEdge = 1024
	DefaultQuality = 85
)

// Options configures a Normalizer. Zero values fall back to the defaults.
type Options struct {
	WorkDir string
	MaxEdge int
	Quality int
}

// Normalizer turns a raw capture into an upright JPEG of bounded size.
type Normalizer struct {
	workDir string
	maxEdge int
	quality int
	logger  *zap.Logger
}

func New(opts Options, logger *zap.Logger) *Normalizer {
	if opts.MaxEdge <= 0 {
		opts.MaxEdge = DefaultMaxEdge
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = DefaultQuality
	}
	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}
	return &Normalizer{
		workDir: opts.WorkDir,
		maxEdge: opts.MaxEdge,
		quality: opts.Quality,
		logger:  logger.Named("imagenorm"),
	}
}

// Normalize writes the normalized image to a fresh path under the work dir and returns it.
// The caller owns the returned file.
func (n *Normalizer) Normalize(ctx context.Context, rawPath string) (string, error) {
	dst := filepath.Join(n.workDir, "normalized-"+uuid.NewString()+".jpg")
	if err := n.NormalizeTo(ctx, rawPath, dst); err != nil {
		return "", err
	}
	return dst, nil
}

// NormalizeTo writes the normalized image to dst, replacing any existing file.
// dst is either fully written or left untouched.
func (n *Normalizer) NormalizeTo(ctx context.Context, rawPath, dst string) error {
	if err := ctx.Err(); err != nil {
		return types.ErrNormalization.WithError(err)
	}

	data, err := os.ReadFile(rawPath)
	if err != nil {
		return types.ErrNormalization.WithError(fmt.Errorf("read source: %w", err))
	}
	if len(data) == 0 {
		return types.ErrNormalization.WithError(errors.New("source image is empty"))
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return types.ErrNormalization.WithError(fmt.Errorf("decode source: %w", err))
	}

	orientation := ReadOrientation(data)
	bounds := img.Bounds()
	img = Rotate(img, RotationFor(orientation))
	img = fit(img, n.maxEdge)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: n.quality}); err != nil {
		return types.ErrNormalization.WithError(fmt.Errorf("encode jpeg: %w", err))
	}

	if err := writeAtomic(dst, buf.Bytes()); err != nil {
		return types.ErrNormalization.WithError(err)
	}

	n.logger.Debug("image normalized",
		zap.String("source", rawPath),
		zap.String("destination", dst),
		zap.String("format", format),
		zap.Int("orientation", orientation),
		zap.Int("source_width", bounds.Dx()),
		zap.Int("source_height", bounds.Dy()),
		zap.Int("bytes", buf.Len()),
	)
	return nil
}

// fit scales img down so its longest edge is at most maxEdge. Smaller images are returned as is.
func fit(img image.Image, maxEdge int) image.Image {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= maxEdge && height <= maxEdge {
		return img
	}

	var newWidth, newHeight int
	if width > height {
		newWidth = maxEdge
		newHeight = int(float64(height) * float64(maxEdge) / float64(width))
	} else {
		newHeight = maxEdge
		newWidth = int(float64(width) * float64(maxEdge) / float64(height))
	}
	if newWidth < 1 {
		newWidth = 1
	}
	if newHeight < 1 {
		newHeight = 1
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
	return resized
}

// writeAtomic writes data next to dst and renames it into place.
func writeAtomic(dst string, data []byte) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create destination dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".normalize-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		cleanup()
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
