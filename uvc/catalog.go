package uvc

import (
	"go.uber.org/zap"

	"github.com/vladimirvivien/go4uvc/v4l2"
)

// Frame intervals are expressed in 100 ns units (10,000,000 / fps).
const (
	FrameInterval30fps uint32 = 333333
	FrameInterval25fps uint32 = 400000
	FrameInterval20fps uint32 = 500000
	FrameInterval15fps uint32 = 666666
	FrameInterval10fps uint32 = 1000000
	FrameInterval5fps  uint32 = 2000000
	FrameInterval1fps  uint32 = 10000000
)

// IsocMaxPacketSize is the USB isochronous max packet size advertised as
// dwMaxPayloadTransferSize.
// Full Speed: 1023B, High Speed: 1024B, Super Speed: 1024B.
const IsocMaxPacketSize uint32 = 1024

// FrameInfo describes one frame size and its supported intervals.
type FrameInfo struct {
	Width     uint16
	Height    uint16
	Intervals []uint32
}

// FormatInfo describes one pixel format and its frame descriptors.
type FormatInfo struct {
	Name   string
	FourCC v4l2.FourCCType
	Frames []FrameInfo
}

// Selection addresses one (format, frame, interval) triple with 0-based
// indices. The wire exposes the format and frame indices 1-based, per
// UVC convention.
type Selection struct {
	Format   int
	Frame    int
	Interval int
}

// NoSelection is the current selection before the host commits.
var NoSelection = Selection{Format: -1, Frame: -1, Interval: -1}

var sharedIntervals = []uint32{
	FrameInterval1fps,
	FrameInterval5fps,
	FrameInterval10fps,
	FrameInterval15fps,
	FrameInterval20fps,
	FrameInterval25fps,
	FrameInterval30fps,
}

// Catalog is the static table of formats offered to the host.
type Catalog struct {
	formats []FormatInfo
	log     *zap.Logger
}

// NewCatalog returns the built-in catalog: NV12, YUYV and MJPEG at
// 1920x1080 with the shared interval table.
func NewCatalog(log *zap.Logger) *Catalog {
	if log == nil {
		log = zap.NewNop()
	}
	return &Catalog{
		log: log,
		formats: []FormatInfo{
			{
				Name:   "NV12",
				FourCC: v4l2.PixelFmtNV12,
				Frames: []FrameInfo{{Width: 1920, Height: 1080, Intervals: sharedIntervals}},
			},
			{
				Name:   "YUYV",
				FourCC: v4l2.PixelFmtYUYV,
				Frames: []FrameInfo{{Width: 1920, Height: 1080, Intervals: sharedIntervals}},
			},
			{
				Name:   "MJPEG",
				FourCC: v4l2.PixelFmtMJPEG,
				Frames: []FrameInfo{{Width: 1920, Height: 1080, Intervals: sharedIntervals}},
			},
		},
	}
}

// FormatCount returns the number of formats.
func (c *Catalog) FormatCount() int {
	return len(c.formats)
}

// FrameCount returns the number of frames of format f, 0 when out of range.
func (c *Catalog) FrameCount(f int) int {
	if f < 0 || f >= len(c.formats) {
		return 0
	}
	return len(c.formats[f].Frames)
}

// IntervalCount returns the number of intervals of frame fr of format f.
func (c *Catalog) IntervalCount(f, fr int) int {
	if c.FrameCount(f) <= fr || fr < 0 {
		return 0
	}
	return len(c.formats[f].Frames[fr].Intervals)
}

// Format returns the format descriptor at index f.
func (c *Catalog) Format(f int) (FormatInfo, bool) {
	if f < 0 || f >= len(c.formats) {
		return FormatInfo{}, false
	}
	return c.formats[f], true
}

// Frame returns the frame descriptor at (f, fr).
func (c *Catalog) Frame(f, fr int) (FrameInfo, bool) {
	if fr < 0 || fr >= c.FrameCount(f) {
		return FrameInfo{}, false
	}
	return c.formats[f].Frames[fr], true
}

// Interval returns the interval value at (f, fr, i).
func (c *Catalog) Interval(f, fr, i int) (uint32, bool) {
	if i < 0 || i >= c.IntervalCount(f, fr) {
		return 0, false
	}
	return c.formats[f].Frames[fr].Intervals[i], true
}

// FindInterval returns the index of the exact interval value within
// frame (f, fr), or -1 when the host asked for an unsupported rate.
func (c *Catalog) FindInterval(f, fr int, interval uint32) int {
	frame, ok := c.Frame(f, fr)
	if !ok {
		return -1
	}
	for i, v := range frame.Intervals {
		if v == interval {
			return i
		}
	}
	return -1
}

// MaxFrameCount returns the largest frame count across all formats.
func (c *Catalog) MaxFrameCount() int {
	max := 0
	for f := range c.formats {
		if n := c.FrameCount(f); n > max {
			max = n
		}
	}
	return max
}

// MaxIntervalCount returns the largest interval count across all frames
// of all formats.
func (c *Catalog) MaxIntervalCount() int {
	max := 0
	for f := range c.formats {
		for fr := range c.formats[f].Frames {
			if n := c.IntervalCount(f, fr); n > max {
				max = n
			}
		}
	}
	return max
}

// IsCompressed reports whether the FourCC names a compressed stream. The
// data plane reports actual payload sizes for compressed formats and the
// committed dwMaxVideoFrameSize otherwise.
func IsCompressed(fcc v4l2.FourCCType) bool {
	return fcc == v4l2.PixelFmtMJPEG
}

// MaxFrameSize computes dwMaxVideoFrameSize for the (format, frame) pair.
// For MJPEG the uncompressed plane size is a pessimistic upper bound.
// Unknown formats yield 0.
func (c *Catalog) MaxFrameSize(f, fr int) uint32 {
	format, ok := c.Format(f)
	if !ok {
		return 0
	}
	frame, ok := c.Frame(f, fr)
	if !ok {
		return 0
	}

	pixels := uint32(frame.Width) * uint32(frame.Height)
	switch format.FourCC {
	case v4l2.PixelFmtYUYV:
		// YUV 4:2:2
		return pixels << 1
	case v4l2.PixelFmtNV12:
		// Y/CbCr 4:2:0
		return pixels + pixels>>1
	case v4l2.PixelFmtMJPEG:
		return pixels
	default:
		c.log.Error("unsupported format", zap.String("fourcc", v4l2.FourCCToString(format.FourCC)))
		return 0
	}
}
