package preprocess

import (
	"testing"

	"github.com/stretchr/testify/require"

	"cardscan/internal/pipeline"
)

func solidBGRFrame(w, h int, b, g, r byte) pipeline.Frame {
	pix := make([]byte, w*h*3)
	for i := 0; i < len(pix); i += 3 {
		pix[i] = b
		pix[i+1] = g
		pix[i+2] = r
	}
	return pipeline.Frame{Width: w, Height: h, Format: pipeline.FormatBGR24, Stride: w * 3, Pix: pix}
}

func TestPreprocessOutputLength(t *testing.T) {
	c := New()

	frames := []pipeline.Frame{
		solidBGRFrame(640, 480, 1, 2, 3),
		solidBGRFrame(1080, 1920, 9, 9, 9),
		solidBGRFrame(320, 240, 0, 0, 0),
	}
	for _, f := range frames {
		roi := pipeline.CardROI(f.Width, f.Height)
		out, err := c.Preprocess(f, roi)
		require.NoError(t, err)
		require.Len(t, out, pipeline.InputBytes)
	}
}

func TestPreprocessPreservesBGRChannelOrder(t *testing.T) {
	c := New()
	f := solidBGRFrame(640, 480, 10, 20, 30)

	out, err := c.Preprocess(f, pipeline.CardROI(640, 480))
	require.NoError(t, err)

	// A solid frame survives crop and resize untouched.
	for i := 0; i < len(out); i += 3 {
		require.Equal(t, byte(10), out[i], "blue at %d", i)
		require.Equal(t, byte(20), out[i+1], "green at %d", i)
		require.Equal(t, byte(30), out[i+2], "red at %d", i)
	}
}

func TestPreprocessRGBAInput(t *testing.T) {
	c := New()
	w, h := 400, 400
	pix := make([]byte, w*h*4)
	for i := 0; i < len(pix); i += 4 {
		pix[i] = 30    // R
		pix[i+1] = 20  // G
		pix[i+2] = 10  // B
		pix[i+3] = 255 // A
	}
	f := pipeline.Frame{Width: w, Height: h, Format: pipeline.FormatRGBA, Stride: w * 4, Pix: pix}

	out, err := c.Preprocess(f, pipeline.CardROI(w, h))
	require.NoError(t, err)
	require.Equal(t, byte(10), out[0])
	require.Equal(t, byte(20), out[1])
	require.Equal(t, byte(30), out[2])
}

func TestPreprocessDeterministic(t *testing.T) {
	c := New()
	f := solidBGRFrame(640, 480, 5, 6, 7)
	// Add some structure so the resize actually interpolates.
	for i := 0; i < len(f.Pix); i += 7 {
		f.Pix[i] = byte(i)
	}
	roi := pipeline.CardROI(640, 480)

	a, err := c.Preprocess(f, roi)
	require.NoError(t, err)
	b, err := c.Preprocess(f, roi)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestPreprocessRejectsUnknownFormat(t *testing.T) {
	c := New()
	f := pipeline.Frame{Width: 10, Height: 10, Format: pipeline.FormatUnknown, Pix: make([]byte, 300)}

	_, err := c.Preprocess(f, pipeline.ROI{X: 0, Y: 0, Width: 5, Height: 5})
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestPreprocessRejectsRegionOutsideFrame(t *testing.T) {
	c := New()
	f := solidBGRFrame(100, 100, 0, 0, 0)

	cases := []pipeline.ROI{
		{X: -1, Y: 0, Width: 10, Height: 10},
		{X: 0, Y: 0, Width: 101, Height: 10},
		{X: 95, Y: 95, Width: 10, Height: 10},
		{X: 0, Y: 0, Width: 0, Height: 10},
	}
	for _, roi := range cases {
		_, err := c.Preprocess(f, roi)
		require.ErrorIs(t, err, ErrBadRegion, "roi %+v", roi)
	}
}

func TestPreprocessRejectsShortBuffer(t *testing.T) {
	c := New()
	f := solidBGRFrame(100, 100, 0, 0, 0)
	f.Pix = f.Pix[:100] // lie about the dimensions

	_, err := c.Preprocess(f, pipeline.ROI{X: 0, Y: 0, Width: 50, Height: 50})
	require.ErrorIs(t, err, ErrShortFrame)
}
