package uvc

import (
	"github.com/vladimirvivien/go4uvc/v4l2"
)

// Gadget event types, driver-private V4L2 events.
// https://elixir.bootlin.com/linux/latest/source/include/uapi/linux/usb/g_uvc.h
const (
	EventFirst      v4l2.EventType = v4l2.EventPrivateStart + 0
	EventConnect    v4l2.EventType = v4l2.EventPrivateStart + 0
	EventDisconnect v4l2.EventType = v4l2.EventPrivateStart + 1
	EventStreamOn   v4l2.EventType = v4l2.EventPrivateStart + 2
	EventStreamOff  v4l2.EventType = v4l2.EventPrivateStart + 3
	EventSetup      v4l2.EventType = v4l2.EventPrivateStart + 4
	EventData       v4l2.EventType = v4l2.EventPrivateStart + 5
	EventLast       v4l2.EventType = v4l2.EventPrivateStart + 5
)

// USB control request fields, chapter 9 of the USB 2.0 specification.
// https://elixir.bootlin.com/linux/latest/source/include/uapi/linux/usb/ch9.h
const (
	DirIn uint8 = 0x80 // device-to-host data phase

	TypeMask     uint8 = 0x60
	TypeStandard uint8 = 0x00
	TypeClass    uint8 = 0x20
	TypeVendor   uint8 = 0x40

	RecipMask      uint8 = 0x1f
	RecipDevice    uint8 = 0x00
	RecipInterface uint8 = 0x01
	RecipEndpoint  uint8 = 0x02
)

// Class-specific request codes, A.8.
const (
	SetCur  uint8 = 0x01
	GetCur  uint8 = 0x81
	GetMin  uint8 = 0x82
	GetMax  uint8 = 0x83
	GetRes  uint8 = 0x84
	GetLen  uint8 = 0x85
	GetInfo uint8 = 0x86
	GetDef  uint8 = 0x87
)

// GET_INFO capability bits, 4.1.2.
const (
	InfoSupportsGet      uint8 = 1 << 0
	InfoSupportsSet      uint8 = 1 << 1
	InfoDeviceControlled uint8 = 1 << 2
	InfoAutoUpdate       uint8 = 1 << 3
	InfoAsync            uint8 = 1 << 4
)

// Interfaces of one gadget endpoint. The kernel gadget function exposes a
// VideoControl and a VideoStreaming interface per endpoint, so the wire
// interface number is offset by endpoint*InterfacesPerEndpoint.
const (
	ControlInterface      = 0
	StreamingInterface    = 1
	InterfacesPerEndpoint = 2
)

// Entity IDs of the kernel gadget descriptors
// (drivers/usb/gadget/function/f_uvc.c).
const (
	EntityInterface      uint8 = 0 // virtual "interface" entity
	EntityInputTerminal  uint8 = 1
	EntityProcessingUnit uint8 = 2
)

// VideoControl interface control selectors, A.9.2.
const (
	VCRequestErrorCodeControl uint8 = 0x02
)

// Camera Terminal control selectors, A.9.4.
const (
	CTAEModeControl uint8 = 0x02
)

// Processing Unit control selectors, A.9.5.
const (
	PUBrightnessControl uint8 = 0x02
)

// VideoStreaming interface control selectors, A.9.7.
const (
	VSProbeControl           uint8 = 0x01
	VSCommitControl          uint8 = 0x02
	VSStreamErrorCodeControl uint8 = 0x06
)

// ErrCode is the value latched behind the Request Error Code Control,
// Table 4-7.
type ErrCode = uint8

const (
	ErrCodeNone           ErrCode = 0x00
	ErrCodeNotReady       ErrCode = 0x01
	ErrCodeWrongState     ErrCode = 0x02
	ErrCodePower          ErrCode = 0x03
	ErrCodeOutOfRange     ErrCode = 0x04
	ErrCodeInvalidUnit    ErrCode = 0x05
	ErrCodeInvalidControl ErrCode = 0x06
	ErrCodeInvalidRequest ErrCode = 0x07
	ErrCodeUnknown        ErrCode = 0xFF
)

// EventName renders a gadget event type for logs.
func EventName(t v4l2.EventType) string {
	switch t {
	case EventConnect:
		return "CONNECT"
	case EventDisconnect:
		return "DISCONNECT"
	case EventStreamOn:
		return "STREAMON"
	case EventStreamOff:
		return "STREAMOFF"
	case EventSetup:
		return "SETUP"
	case EventData:
		return "DATA"
	default:
		return "UNDEFINED_EVENT"
	}
}

// RequestName renders a class-specific request code for logs.
func RequestName(r uint8) string {
	switch r {
	case SetCur:
		return "SET_CUR"
	case GetCur:
		return "GET_CUR"
	case GetMin:
		return "GET_MIN"
	case GetMax:
		return "GET_MAX"
	case GetRes:
		return "GET_RES"
	case GetLen:
		return "GET_LEN"
	case GetInfo:
		return "GET_INFO"
	case GetDef:
		return "GET_DEF"
	default:
		return "UNDEFINED_REQUEST"
	}
}

// EntityName renders a gadget entity ID for logs.
func EntityName(id uint8) string {
	switch id {
	case EntityInputTerminal:
		return "INPUT_TERMINAL"
	case EntityProcessingUnit:
		return "PROCESSING_UNIT"
	case EntityInterface:
		return "INTERFACE"
	default:
		return "UNDEFINED_ENTITY"
	}
}
