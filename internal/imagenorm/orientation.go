package imagenorm

import (
	"bytes"
	"image"
	"io"
	"os"

	"github.com/rwcarlsen/goexif/exif"

	"github.com/andresmejia3/attendo/internal/types"
)

// EXIF orientation tag values that carry a pure rotation.
const (
	OrientationNormal    = 1
	OrientationRotate180 = 3
	OrientationRotate90  = 6
	OrientationRotate270 = 8
)

// ReadOrientation returns the EXIF orientation tag of an encoded image,
// or OrientationNormal when there is no readable tag.
func ReadOrientation(data []byte) (orientation int) {
	// goexif can panic on truncated APP1 segments.
	defer func() {
		if recover() != nil {
			orientation = OrientationNormal
		}
	}()

	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return OrientationNormal
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return OrientationNormal
	}
	v, err := tag.Int(0)
	if err != nil {
		return OrientationNormal
	}
	return v
}

// RotationFor maps an orientation tag to clockwise degrees. Mirrored and unknown
// values map to 0.
func RotationFor(orientation int) int {
	switch orientation {
	case OrientationRotate90:
		return 90
	case OrientationRotate180:
		return 180
	case OrientationRotate270:
		return 270
	default:
		return 0
	}
}

// Rotate turns img clockwise by 90, 180 or 270 degrees. Any other value returns img unchanged.
func Rotate(img image.Image, degrees int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	var out *image.RGBA
	switch degrees {
	case 90:
		out = image.NewRGBA(image.Rect(0, 0, h, w))
		for y := 0; y < w; y++ {
			for x := 0; x < h; x++ {
				out.Set(x, y, img.At(b.Min.X+y, b.Min.Y+h-1-x))
			}
		}
	case 180:
		out = image.NewRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				out.Set(x, y, img.At(b.Min.X+w-1-x, b.Min.Y+h-1-y))
			}
		}
	case 270:
		out = image.NewRGBA(image.Rect(0, 0, h, w))
		for y := 0; y < w; y++ {
			for x := 0; x < h; x++ {
				out.Set(x, y, img.At(b.Min.X+w-1-y, b.Min.Y+x))
			}
		}
	default:
		return img
	}
	return out
}

// exifWindow covers the largest possible APP1 segment plus the SOI marker.
const exifWindow = 64*1024 + 4

// Capture stats the image at path and records its EXIF orientation.
func Capture(path string) (*types.CapturedImage, error) {
	img, err := types.NewCapturedImage(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	head, err := io.ReadAll(io.LimitReader(f, exifWindow))
	if err != nil {
		return nil, err
	}
	img.Orientation = ReadOrientation(head)
	return img, nil
}
