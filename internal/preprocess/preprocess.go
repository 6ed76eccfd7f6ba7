// Package preprocess converts raw camera frames into the fixed model
// input format: crop to the region of interest, resize to 320x240, and
// repack as unsigned 8-bit BGR.
package preprocess

import (
	"errors"
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"cardscan/internal/pipeline"
)

var (
	ErrUnsupportedFormat = errors.New("preprocess: unsupported pixel format")
	ErrBadRegion         = errors.New("preprocess: region outside frame bounds")
	ErrShortFrame        = errors.New("preprocess: frame buffer shorter than its dimensions")
)

// Converter implements pipeline.Preprocessor. It is stateless; the same
// frame and region always produce the same bytes.
type Converter struct {
	scaler draw.Scaler
}

// New returns a converter using approximate bilinear scaling,
// which is deterministic and fast enough for the sampled frame rate.
func New() *Converter {
	return &Converter{scaler: draw.ApproxBiLinear}
}

// Preprocess copies the region of interest out of the frame, scales it to
// the model input dimensions and returns a packed BGR buffer of exactly
// pipeline.InputBytes bytes. The frame's pixel slice is only read during
// the call; no reference to it is kept.
func (c *Converter) Preprocess(frame pipeline.Frame, roi pipeline.ROI) ([]byte, error) {
	bpp := frame.Format.BytesPerPixel()
	if bpp == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, frame.Format)
	}
	if frame.Width <= 0 || frame.Height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrBadRegion, frame.Width, frame.Height)
	}

	stride := frame.Stride
	if stride <= 0 {
		stride = frame.Width * bpp
	}

	if roi.Width <= 0 || roi.Height <= 0 || roi.X < 0 || roi.Y < 0 ||
		roi.X+roi.Width > frame.Width || roi.Y+roi.Height > frame.Height {
		return nil, fmt.Errorf("%w: roi %+v in %dx%d frame", ErrBadRegion, roi, frame.Width, frame.Height)
	}

	need := (roi.Y+roi.Height-1)*stride + (roi.X+roi.Width)*bpp
	if len(frame.Pix) < need {
		return nil, fmt.Errorf("%w: have %d bytes, need %d", ErrShortFrame, len(frame.Pix), need)
	}

	src, err := cropToRGBA(frame, roi, stride, bpp)
	if err != nil {
		return nil, err
	}

	dst := image.NewRGBA(image.Rect(0, 0, pipeline.InputWidth, pipeline.InputHeight))
	c.scaler.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	out := make([]byte, pipeline.InputBytes)
	for y := 0; y < pipeline.InputHeight; y++ {
		srcRow := dst.Pix[y*dst.Stride:]
		dstRow := out[y*pipeline.InputWidth*pipeline.InputChannels:]
		for x := 0; x < pipeline.InputWidth; x++ {
			r := srcRow[x*4]
			g := srcRow[x*4+1]
			b := srcRow[x*4+2]
			dstRow[x*3] = b
			dstRow[x*3+1] = g
			dstRow[x*3+2] = r
		}
	}
	return out, nil
}

// cropToRGBA copies the ROI into a fresh RGBA image, converting from the
// frame's packed layout. This copy is the point where the pipeline stops
// depending on the source-owned frame buffer.
func cropToRGBA(frame pipeline.Frame, roi pipeline.ROI, stride, bpp int) (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, roi.Width, roi.Height))

	for y := 0; y < roi.Height; y++ {
		srcRow := frame.Pix[(roi.Y+y)*stride+roi.X*bpp:]
		dstRow := img.Pix[y*img.Stride:]
		switch frame.Format {
		case pipeline.FormatBGR24:
			for x := 0; x < roi.Width; x++ {
				dstRow[x*4] = srcRow[x*3+2]   // R
				dstRow[x*4+1] = srcRow[x*3+1] // G
				dstRow[x*4+2] = srcRow[x*3]   // B
				dstRow[x*4+3] = 0xff
			}
		case pipeline.FormatRGBA:
			for x := 0; x < roi.Width; x++ {
				copy(dstRow[x*4:x*4+3], srcRow[x*4:x*4+3])
				dstRow[x*4+3] = 0xff
			}
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, frame.Format)
		}
	}
	return img, nil
}

var _ pipeline.Preprocessor = (*Converter)(nil)
