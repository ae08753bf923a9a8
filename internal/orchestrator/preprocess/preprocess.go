// Package preprocess turns a raw window frame into a bitonal image for OCR:
// crop, grayscale, invert, upscale, Sauvola threshold.
package preprocess

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"image"
	"image/png"
	"math"

	"github.com/nfnt/resize"

	apperrors "github.com/gridscout/platform/internal/errors"
	"github.com/gridscout/platform/internal/screen"
)

// DynamicRange is the Sauvola R constant for 8-bit images.
const DynamicRange = 128.0

// Params tune the transform. Window is the half-width of the Sauvola
// neighbourhood, so each pixel is compared against (2*Window+1)^2 pixels.
type Params struct {
	Scale  float64
	Window int
	K      float64
}

// DefaultParams matches the defaults in config.
func DefaultParams() Params {
	return Params{Scale: 5, Window: 10, K: 0.1}
}

// Image is a binarized frame: every pixel is 0 or 255.
type Image struct {
	Gray   *image.Gray
	Digest [sha256.Size]byte
}

// DigestHex returns the digest as lowercase hex.
func (i *Image) DigestHex() string {
	return hex.EncodeToString(i.Digest[:])
}

// PNG encodes the image for the OCR engine.
func (i *Image) PNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, i.Gray); err != nil {
		return nil, apperrors.Wrap(err, apperrors.Internal, "encode png")
	}
	return buf.Bytes(), nil
}

// Process applies the full chain. The result depends only on its inputs.
func Process(f screen.Frame, m screen.Margins, p Params) (*Image, error) {
	rect, err := CropRect(f.Width, f.Height, m)
	if err != nil {
		return nil, err
	}
	gray := invertedGray(f, rect)
	if p.Scale > 0 && p.Scale != 1 {
		gray = scale(gray, p.Scale)
	}
	out := sauvola(gray, p.Window, p.K)
	return &Image{Gray: out, Digest: digest(out)}, nil
}

// CropRect clamps negative margins to zero and rejects empty results.
func CropRect(width, height int, m screen.Margins) (image.Rectangle, error) {
	l, t, r, b := max(m.Left, 0), max(m.Top, 0), max(m.Right, 0), max(m.Bottom, 0)
	w, h := width-l-r, height-t-b
	if w <= 0 || h <= 0 {
		return image.Rectangle{}, apperrors.Newf(apperrors.InvalidCrop,
			"margins %+v leave %dx%d of a %dx%d frame", m, w, h, width, height)
	}
	return image.Rect(l, t, l+w, t+h), nil
}

// invertedGray converts the RGBA crop to inverted ITU-R 601 luma.
func invertedGray(f screen.Frame, rect image.Rectangle) *image.Gray {
	out := image.NewGray(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	stride := f.Width * 4
	for y := 0; y < rect.Dy(); y++ {
		src := f.Pix[(rect.Min.Y+y)*stride+rect.Min.X*4:]
		dst := out.Pix[y*out.Stride:]
		for x := 0; x < rect.Dx(); x++ {
			r, g, b := uint32(src[x*4]), uint32(src[x*4+1]), uint32(src[x*4+2])
			luma := (19595*r + 38470*g + 7471*b + 1<<15) >> 16
			dst[x] = 255 - uint8(luma)
		}
	}
	return out
}

func scale(g *image.Gray, factor float64) *image.Gray {
	b := g.Bounds()
	w := uint(math.Max(1, math.Round(float64(b.Dx())*factor)))
	h := uint(math.Max(1, math.Round(float64(b.Dy())*factor)))
	scaled := resize.Resize(w, h, g, resize.Bilinear)
	if sg, ok := scaled.(*image.Gray); ok && sg.Rect.Min == (image.Point{}) {
		return sg
	}
	sb := scaled.Bounds()
	out := image.NewGray(image.Rect(0, 0, sb.Dx(), sb.Dy()))
	for y := 0; y < sb.Dy(); y++ {
		for x := 0; x < sb.Dx(); x++ {
			out.Set(x, y, scaled.At(sb.Min.X+x, sb.Min.Y+y))
		}
	}
	return out
}

// sauvola thresholds each pixel at m*(1+k*(s/R-1)) over its clamped window,
// using integral images of the values and their squares.
func sauvola(g *image.Gray, half int, k float64) *image.Gray {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	iw := w + 1
	sum := make([]uint64, iw*(h+1))
	sq := make([]uint64, iw*(h+1))
	for y := 0; y < h; y++ {
		var rowSum, rowSq uint64
		for x := 0; x < w; x++ {
			v := uint64(g.Pix[y*g.Stride+x])
			rowSum += v
			rowSq += v * v
			sum[(y+1)*iw+x+1] = sum[y*iw+x+1] + rowSum
			sq[(y+1)*iw+x+1] = sq[y*iw+x+1] + rowSq
		}
	}

	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		y0, y1 := max(y-half, 0), min(y+half+1, h)
		for x := 0; x < w; x++ {
			x0, x1 := max(x-half, 0), min(x+half+1, w)
			n := float64((x1 - x0) * (y1 - y0))
			s := float64(sum[y1*iw+x1] + sum[y0*iw+x0] - sum[y0*iw+x1] - sum[y1*iw+x0])
			s2 := float64(sq[y1*iw+x1] + sq[y0*iw+x0] - sq[y0*iw+x1] - sq[y1*iw+x0])
			mean := s / n
			std := math.Sqrt(math.Max(s2/n-mean*mean, 0))
			threshold := mean * (1 + k*(std/DynamicRange-1))
			if float64(g.Pix[y*g.Stride+x]) > threshold {
				out.Pix[y*out.Stride+x] = 255
			}
		}
	}
	return out
}

func digest(g *image.Gray) [sha256.Size]byte {
	h := sha256.New()
	var dims [8]byte
	binary.BigEndian.PutUint32(dims[:4], uint32(g.Rect.Dx()))
	binary.BigEndian.PutUint32(dims[4:], uint32(g.Rect.Dy()))
	h.Write(dims[:])
	for y := 0; y < g.Rect.Dy(); y++ {
		h.Write(g.Pix[y*g.Stride : y*g.Stride+g.Rect.Dx()])
	}
	var d [sha256.Size]byte
	copy(d[:], h.Sum(nil))
	return d
}
