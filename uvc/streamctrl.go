package uvc

import (
	"encoding/binary"
	"fmt"
)

// StreamingControlSize is the wire size of the UVC 1.1 video probe and
// commit control structure (4.3.1.1, packed).
const StreamingControlSize = 34

// StreamingControl is the structure exchanged during the Probe/Commit
// negotiation (struct uvc_streaming_control). Field names keep the
// UVC 1.1 spelling so the negotiation rules read like Table 4-47.
type StreamingControl struct {
	BmHint                   uint16
	BFormatIndex             uint8
	BFrameIndex              uint8
	DwFrameInterval          uint32
	WKeyFrameRate            uint16
	WPFrameRate              uint16
	WCompQuality             uint16
	WCompWindowSize          uint16
	WDelay                   uint16
	DwMaxVideoFrameSize      uint32
	DwMaxPayloadTransferSize uint32
	DwClockFrequency         uint32
	BmFramingInfo            uint8
	BPreferedVersion         uint8
	BMinVersion              uint8
	BMaxVersion              uint8
}

// MarshalBinary encodes the control into its packed little-endian wire
// layout. USB multi-byte fields are little-endian (USB 2.0, 8.1).
func (c *StreamingControl) MarshalBinary() ([]byte, error) {
	buf := make([]byte, StreamingControlSize)
	binary.LittleEndian.PutUint16(buf[0:], c.BmHint)
	buf[2] = c.BFormatIndex
	buf[3] = c.BFrameIndex
	binary.LittleEndian.PutUint32(buf[4:], c.DwFrameInterval)
	binary.LittleEndian.PutUint16(buf[8:], c.WKeyFrameRate)
	binary.LittleEndian.PutUint16(buf[10:], c.WPFrameRate)
	binary.LittleEndian.PutUint16(buf[12:], c.WCompQuality)
	binary.LittleEndian.PutUint16(buf[14:], c.WCompWindowSize)
	binary.LittleEndian.PutUint16(buf[16:], c.WDelay)
	binary.LittleEndian.PutUint32(buf[18:], c.DwMaxVideoFrameSize)
	binary.LittleEndian.PutUint32(buf[22:], c.DwMaxPayloadTransferSize)
	binary.LittleEndian.PutUint32(buf[26:], c.DwClockFrequency)
	buf[30] = c.BmFramingInfo
	buf[31] = c.BPreferedVersion
	buf[32] = c.BMinVersion
	buf[33] = c.BMaxVersion
	return buf, nil
}

// UnmarshalBinary decodes a packed control. Hosts negotiating UVC 1.0
// send the 26-byte form; the trailing 1.1 fields are left zero, which the
// negotiation rules treat as "negotiable".
func (c *StreamingControl) UnmarshalBinary(data []byte) error {
	if len(data) > StreamingControlSize {
		data = data[:StreamingControlSize]
	}
	var buf [StreamingControlSize]byte
	if n := copy(buf[:], data); n < 26 {
		return fmt.Errorf("streaming control: short payload: %d bytes", n)
	}
	c.BmHint = binary.LittleEndian.Uint16(buf[0:])
	c.BFormatIndex = buf[2]
	c.BFrameIndex = buf[3]
	c.DwFrameInterval = binary.LittleEndian.Uint32(buf[4:])
	c.WKeyFrameRate = binary.LittleEndian.Uint16(buf[8:])
	c.WPFrameRate = binary.LittleEndian.Uint16(buf[10:])
	c.WCompQuality = binary.LittleEndian.Uint16(buf[12:])
	c.WCompWindowSize = binary.LittleEndian.Uint16(buf[14:])
	c.WDelay = binary.LittleEndian.Uint16(buf[16:])
	c.DwMaxVideoFrameSize = binary.LittleEndian.Uint32(buf[18:])
	c.DwMaxPayloadTransferSize = binary.LittleEndian.Uint32(buf[22:])
	c.DwClockFrequency = binary.LittleEndian.Uint32(buf[26:])
	c.BmFramingInfo = buf[30]
	c.BPreferedVersion = buf[31]
	c.BMinVersion = buf[32]
	c.BMaxVersion = buf[33]
	return nil
}

func (c *StreamingControl) String() string {
	return fmt.Sprintf(
		"bFormatIndex %d, bFrameIndex %d, dwFrameInterval %d, dwMaxVideoFrameSize %d, dwMaxPayloadTransferSize %d, bMin/MaxVersion [%d, %d]",
		c.BFormatIndex, c.BFrameIndex, c.DwFrameInterval,
		c.DwMaxVideoFrameSize, c.DwMaxPayloadTransferSize,
		c.BMinVersion, c.BMaxVersion)
}
