package v4l2

import (
	"fmt"
	"unsafe"
)

// GetPixFormatOutput retrieves the current video-output pixel format
// via VIDIOC_G_FMT.
func GetPixFormatOutput(fd uintptr) (PixFormat, error) {
	var format Format
	format.StreamType = BufTypeVideoOutput
	if err := send(fd, VidiocGetFormat, uintptr(unsafe.Pointer(&format))); err != nil {
		return PixFormat{}, fmt.Errorf("get format: %w", err)
	}
	return *format.Pix(), nil
}

// SetPixFormatOutput programs the video-output pixel format via
// VIDIOC_S_FMT. The gadget driver uses the committed format to size and
// pace the USB payload stream.
func SetPixFormatOutput(fd uintptr, pixFmt PixFormat) error {
	var format Format
	format.StreamType = BufTypeVideoOutput
	if pixFmt.Field == FieldAny {
		pixFmt.Field = FieldNone
	}
	*format.Pix() = pixFmt

	if err := send(fd, VidiocSetFormat, uintptr(unsafe.Pointer(&format))); err != nil {
		return fmt.Errorf("set format: %s %dx%d: %w",
			FourCCToString(pixFmt.PixelFormat), pixFmt.Width, pixFmt.Height, err)
	}
	return nil
}
