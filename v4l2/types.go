//go:build linux && (amd64 || arm64)

package v4l2

import (
	"unsafe"

	sys "golang.org/x/sys/unix"
)

// Compile-time struct size assertions. These fail to compile if a struct
// layout drifts from the 64-bit kernel ABI, since the sizes are encoded
// into the ioctl request values.
// Pattern: [0]struct{} = [actual - expected]struct{} fails if actual != expected.
var (
	_ [0]struct{} = [unsafe.Sizeof(Capability{}) - 104]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(Format{}) - 208]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(PixFormat{}) - 48]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(RequestBuffers{}) - 20]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(Buffer{}) - 88]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(Timecode{}) - 16]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(EventSubscription{}) - 32]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(Event{}) - 136]struct{}{}
)

// BufType (v4l2_buf_type)
// https://elixir.bootlin.com/linux/latest/source/include/uapi/linux/videodev2.h#L141
type BufType = uint32

const (
	BufTypeVideoCapture BufType = 1 // V4L2_BUF_TYPE_VIDEO_CAPTURE
	BufTypeVideoOutput  BufType = 2 // V4L2_BUF_TYPE_VIDEO_OUTPUT
)

// IOType (v4l2_memory)
// https://elixir.bootlin.com/linux/latest/source/include/uapi/linux/videodev2.h#L188
type IOType = uint32

const (
	IOTypeMMAP    IOType = 1 // V4L2_MEMORY_MMAP
	IOTypeUserPtr IOType = 2 // V4L2_MEMORY_USERPTR
	IOTypeDMABuf  IOType = 4 // V4L2_MEMORY_DMABUF
)

// FieldType (v4l2_field)
type FieldType = uint32

const (
	FieldAny  FieldType = 0 // V4L2_FIELD_ANY
	FieldNone FieldType = 1 // V4L2_FIELD_NONE
)

// Capability flags
// https://elixir.bootlin.com/linux/latest/source/include/uapi/linux/videodev2.h#L451
const (
	CapVideoCapture       uint32 = 0x00000001 // V4L2_CAP_VIDEO_CAPTURE
	CapVideoOutput        uint32 = 0x00000002 // V4L2_CAP_VIDEO_OUTPUT
	CapStreaming          uint32 = 0x04000000 // V4L2_CAP_STREAMING
	CapDeviceCapabilities uint32 = 0x80000000 // V4L2_CAP_DEVICE_CAPS
)

// Buffer flags
// https://elixir.bootlin.com/linux/latest/source/include/uapi/linux/videodev2.h#L1066
type BufFlag = uint32

const (
	BufFlagMapped BufFlag = 0x00000001 // V4L2_BUF_FLAG_MAPPED
	BufFlagQueued BufFlag = 0x00000002 // V4L2_BUF_FLAG_QUEUED
	BufFlagDone   BufFlag = 0x00000004 // V4L2_BUF_FLAG_DONE
	BufFlagError  BufFlag = 0x00000040 // V4L2_BUF_FLAG_ERROR
)

// FourCCType represents a four-character pixel format code packed into
// a 32-bit integer.
type FourCCType = uint32

// fourcc packs four characters the way the v4l2_fourcc macro does.
func fourcc(a, b, c, d byte) FourCCType {
	return uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24
}

var (
	PixelFmtYUYV  = fourcc('Y', 'U', 'Y', 'V') // packed YUV 4:2:2
	PixelFmtNV12  = fourcc('N', 'V', '1', '2') // Y/CbCr 4:2:0, two planes
	PixelFmtMJPEG = fourcc('M', 'J', 'P', 'G') // Motion-JPEG
)

// FourCCToString renders a FourCC value for logs.
func FourCCToString(fcc FourCCType) string {
	return string([]byte{byte(fcc), byte(fcc >> 8), byte(fcc >> 16), byte(fcc >> 24)})
}

// Capability (v4l2_capability) reports device driver identity and feature flags.
// https://elixir.bootlin.com/linux/latest/source/include/uapi/linux/videodev2.h#L440
type Capability struct {
	driver       [16]byte
	card         [32]byte
	busInfo      [32]byte
	Version      uint32
	Capabilities uint32
	DeviceCaps   uint32
	reserved     [3]uint32
}

// PixFormat (v4l2_pix_format) describes a single-planar image format.
// https://elixir.bootlin.com/linux/latest/source/include/uapi/linux/videodev2.h#L496
type PixFormat struct {
	Width        uint32
	Height       uint32
	PixelFormat  FourCCType
	Field        uint32
	BytesPerLine uint32
	SizeImage    uint32
	Colorspace   uint32
	Priv         uint32
	Flags        uint32
	YcbcrEnc     uint32
	Quantization uint32
	XferFunc     uint32
}

// Format (v4l2_format) carries the buffer type and the format union. Only
// the pix arm of the union is used here; the raw array keeps the kernel's
// 200-byte union size.
type Format struct {
	StreamType uint32
	_          [4]byte
	fmt        [200]byte
}

// Pix returns the pix arm of the format union.
func (f *Format) Pix() *PixFormat {
	return (*PixFormat)(unsafe.Pointer(&f.fmt[0]))
}

// RequestBuffers (v4l2_requestbuffers) is used to request buffer allocation
// for memory mapped, user pointer, or DMA buffer streaming.
// https://elixir.bootlin.com/linux/latest/source/include/uapi/linux/videodev2.h#L949
type RequestBuffers struct {
	Count        uint32
	StreamType   uint32
	Memory       uint32
	Capabilities uint32
	_            [1]uint32
}

// Timecode (v4l2_timecode)
type Timecode struct {
	Type     uint32
	Flags    uint32
	Frames   uint8
	Seconds  uint8
	Minutes  uint8
	Hours    uint8
	UserBits [4]uint8
}

// BufferInfo is the m union of v4l2_buffer. Only the MMAP offset arm is
// used by this package; the second word keeps the union's 8-byte size.
type BufferInfo struct {
	Offset uint32
	_      uint32
}

// Buffer (v4l2_buffer) exchanges buffer state between application and driver
// after streaming IO has been initialized.
// https://elixir.bootlin.com/linux/latest/source/include/uapi/linux/videodev2.h#L1037
type Buffer struct {
	Index      uint32
	StreamType uint32
	BytesUsed  uint32
	Flags      uint32
	Field      uint32
	_          [4]byte
	Timestamp  sys.Timeval
	Timecode   Timecode
	Sequence   uint32
	Memory     uint32
	Info       BufferInfo
	Length     uint32
	Reserved2  uint32
	RequestFD  int32
	_          [4]byte
}

// EventType represents the type of a V4L2 event.
type EventType = uint32

const (
	EventAll          EventType = 0          // V4L2_EVENT_ALL
	EventPrivateStart EventType = 0x08000000 // V4L2_EVENT_PRIVATE_START
)

// EventSubscription (v4l2_event_subscription)
// https://elixir.bootlin.com/linux/latest/source/include/uapi/linux/videodev2.h#L2397
type EventSubscription struct {
	Type     EventType
	ID       uint32
	Flags    uint32
	reserved [5]uint32
}

// Event (v4l2_event). The union starts at offset 8 because the ctrl arm
// carries a 64-bit value; the tail padding keeps the kernel's 136-byte size.
// https://elixir.bootlin.com/linux/latest/source/include/uapi/linux/videodev2.h#L2341
type Event struct {
	Type      EventType
	_         [4]byte
	Data      [64]byte
	Pending   uint32
	Sequence  uint32
	Timestamp [16]byte // struct timespec
	ID        uint32
	reserved  [8]uint32
	_         [4]byte
}
