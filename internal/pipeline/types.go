package pipeline

import (
	"math"
	"time"
)

// Model input contract. The classifier consumes a fixed 320x240 BGR byte
// buffer named "image_buffer" with shape [height, width, channels].
const (
	InputTensorName = "image_buffer"
	InputWidth      = 320
	InputHeight     = 240
	InputChannels   = 3
	InputBytes      = InputWidth * InputHeight * InputChannels
)

// Sampling and interpretation constants. These are part of the pipeline
// contract and are compiled in, not configuration.
const (
	// ConfidenceThreshold is the strict lower bound a score must exceed
	// before a detection is reported.
	ConfidenceThreshold = 0.95

	// TargetSampleRate is the number of frames per second handed to the
	// inference side, regardless of the camera rate.
	TargetSampleRate = 2

	// TargetSampleInterval is the minimum spacing between sampled frames.
	TargetSampleInterval = time.Second / TargetSampleRate
)

// Card region-of-interest geometry. The ROI is a centered, card-shaped
// rectangle: its width is a fixed fraction of the frame width and its
// height follows the portrait ID-1 card aspect.
const (
	ROIWidthFraction = 0.83
	ROIAspect        = 1.62 // roi height / roi width
)

// PixelFormat tags the raw pixel layout of a captured frame.
type PixelFormat uint8

const (
	FormatUnknown PixelFormat = iota
	// FormatBGR24 is packed 8-bit BGR, 3 bytes per pixel.
	FormatBGR24
	// FormatRGBA is packed 8-bit RGBA, 4 bytes per pixel.
	FormatRGBA
)

func (f PixelFormat) String() string {
	switch f {
	case FormatBGR24:
		return "bgr24"
	case FormatRGBA:
		return "rgba"
	default:
		return "unknown"
	}
}

// BytesPerPixel returns the packed pixel width of the format, or 0 when
// the format is unknown.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case FormatBGR24:
		return 3
	case FormatRGBA:
		return 4
	default:
		return 0
	}
}

// Frame is a single captured video frame. The pixel slice is owned by the
// frame source and is only valid for the duration of the OnFrame callback;
// anything that outlives the callback must copy the bytes it needs.
type Frame struct {
	Width  int
	Height int
	Format PixelFormat
	Stride int // bytes per row
	Pix    []byte
}

// ROI is a rectangular region of a frame, in pixel coordinates.
type ROI struct {
	X      int
	Y      int
	Width  int
	Height int
}

// CardROI computes the card-shaped region of interest for a frame of the
// given dimensions. The rectangle is centered, ROIWidthFraction of the
// frame wide, and ROIAspect times its own width tall. When the frame is
// too short for the full card height the rectangle shrinks, keeping the
// aspect, so the result always fits the frame. Pure function of the
// dimensions; recomputed per frame.
func CardROI(frameWidth, frameHeight int) ROI {
	w := int(math.Round(float64(frameWidth) * ROIWidthFraction))
	h := int(math.Round(float64(w) * ROIAspect))
	if h > frameHeight {
		h = frameHeight
		w = int(math.Round(float64(h) / ROIAspect))
	}
	return ROI{
		X:      (frameWidth - w) / 2,
		Y:      (frameHeight - h) / 2,
		Width:  w,
		Height: h,
	}
}

// Label identifies which side of the card was recognized.
type Label string

const (
	LabelFront Label = "front"
	LabelBack  Label = "back"
)

// Detection is a single accepted classification result. Confidence is a
// rounded percentage in [0,100]. A Detection is immutable once published.
type Detection struct {
	Label      Label `json:"label"`
	Confidence int   `json:"confidence"`
}

// Snapshot is the externally visible pipeline state. It is published
// wholesale on every transition; readers always observe an internally
// consistent combination of fields.
type Snapshot struct {
	ModelReady    bool       `json:"model_ready"`
	Busy          bool       `json:"busy"`
	LastResult    *Detection `json:"last_result,omitempty"`
	LastLatencyMs int64      `json:"last_latency_ms"`
}

// Output is one named output tensor returned by an inference engine,
// flattened to its scalar values.
type Output struct {
	Name   string
	Values []float32
}

// Score and class id positions within the primary output tensor.
const (
	outputScoreIndex = 4
	outputClassIndex = 5
	// minOutputValues is the number of scalars the primary output must
	// carry for interpretation to be possible.
	minOutputValues = 6
)
