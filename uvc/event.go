package uvc

import (
	"encoding/binary"
	"fmt"

	"github.com/vladimirvivien/go4uvc/v4l2"
)

// SetupPacket is the 8-byte USB Setup packet embedded in a SETUP event
// (USB 2.0, 9.3: "Every Setup packet has eight bytes").
type SetupPacket struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
}

// ParseSetupPacket decodes the packet from its wire layout.
func ParseSetupPacket(raw []byte) (SetupPacket, error) {
	if len(raw) < 8 {
		return SetupPacket{}, fmt.Errorf("setup packet: short read: %d bytes", len(raw))
	}
	return SetupPacket{
		RequestType: raw[0],
		Request:     raw[1],
		Value:       binary.LittleEndian.Uint16(raw[2:4]),
		Index:       binary.LittleEndian.Uint16(raw[4:6]),
		Length:      binary.LittleEndian.Uint16(raw[6:8]),
	}, nil
}

// Type returns the request type bits (standard, class, vendor).
func (p SetupPacket) Type() uint8 { return p.RequestType & TypeMask }

// Recipient returns the recipient bits of the request type.
func (p SetupPacket) Recipient() uint8 { return p.RequestType & RecipMask }

// IsIn reports whether the data phase moves device-to-host.
func (p SetupPacket) IsIn() bool { return p.RequestType&DirIn != 0 }

// Selector returns the control selector carried in the high byte of
// wValue (4.3.1: the low byte must be zero for interface control requests).
func (p SetupPacket) Selector() uint8 { return uint8(p.Value >> 8) }

// EntityID returns the entity ID carried in the high byte of wIndex.
func (p SetupPacket) EntityID() uint8 { return uint8(p.Index >> 8) }

// InterfaceNumber returns the wire interface number adjusted for the
// endpoint's interface pair: 0 = VideoControl, 1 = VideoStreaming.
func (p SetupPacket) InterfaceNumber(endpoint int) int {
	return int(p.Index&0x00ff) - endpoint*InterfacesPerEndpoint
}

func (p SetupPacket) direction() string {
	if p.IsIn() {
		return "IN"
	}
	return "OUT"
}

func (p SetupPacket) typeName() string {
	switch p.Type() {
	case TypeStandard:
		return "standard"
	case TypeClass:
		return "class"
	case TypeVendor:
		return "vendor"
	default:
		return "reserved"
	}
}

func (p SetupPacket) recipientName() string {
	switch p.Recipient() {
	case RecipDevice:
		return "device"
	case RecipInterface:
		return "interface"
	case RecipEndpoint:
		return "endpoint"
	default:
		return "other"
	}
}

func (p SetupPacket) String() string {
	return fmt.Sprintf(
		"bRequestType 0x%02x [%s, %s, %s], bRequest 0x%02x, wValue 0x%04x, wIndex 0x%04x, wLength %d",
		p.RequestType, p.direction(), p.typeName(), p.recipientName(),
		p.Request, p.Value, p.Index, p.Length)
}

// Event is the decoded form of one gadget notification. Higher layers
// switch on the concrete type and never see the raw event union.
type Event interface {
	isEvent()
}

type (
	// ConnectEvent signals host connection.
	ConnectEvent struct{}
	// DisconnectEvent signals host disconnection.
	DisconnectEvent struct{}
	// StreamOnEvent asks the gadget to start the video stream.
	StreamOnEvent struct{}
	// StreamOffEvent asks the gadget to stop the video stream.
	StreamOffEvent struct{}
	// SetupEvent carries a USB control request.
	SetupEvent struct {
		Ctrl SetupPacket
	}
	// DataEvent carries the host data phase of a control transfer.
	DataEvent struct {
		Data RequestData
	}
)

func (ConnectEvent) isEvent()    {}
func (DisconnectEvent) isEvent() {}
func (StreamOnEvent) isEvent()   {}
func (StreamOffEvent) isEvent()  {}
func (SetupEvent) isEvent()      {}
func (DataEvent) isEvent()       {}

// ParseEvent classifies a dequeued kernel event and decodes its payload.
// Unknown event types return an error; the caller stalls the pipe.
func ParseEvent(ev v4l2.Event) (Event, error) {
	switch ev.Type {
	case EventConnect:
		return ConnectEvent{}, nil
	case EventDisconnect:
		return DisconnectEvent{}, nil
	case EventStreamOn:
		return StreamOnEvent{}, nil
	case EventStreamOff:
		return StreamOffEvent{}, nil
	case EventSetup:
		pkt, err := ParseSetupPacket(ev.Data[:8])
		if err != nil {
			return nil, err
		}
		return SetupEvent{Ctrl: pkt}, nil
	case EventData:
		var data RequestData
		data.Length = int32(binary.LittleEndian.Uint32(ev.Data[0:4]))
		copy(data.Data[:], ev.Data[4:4+MaxRequestDataLength])
		return DataEvent{Data: data}, nil
	default:
		return nil, fmt.Errorf("unsupported event type 0x%08x", ev.Type)
	}
}
