// Package proxy implements the split-process frame path: a controller
// process owns the gadget, this side produces frames. A unix-domain
// stream socket carries three fixed-size datagrams (fixed sizes avoid
// framing ambiguity on SOCK_STREAM); the controller's reply transfers
// the shared-memory fd out-of-band via SCM_RIGHTS, and each frame
// written into a shared slot is announced with a notify datagram.
//
// The wire format is a same-machine ABI shared with the controller, so
// fields are encoded in host byte order (little-endian on the supported
// targets).
package proxy

import (
	"encoding/binary"
	"fmt"
)

// Wire sizes of the control messages.
const (
	RequestSize = 32
	ReplySize   = 64
	NotifySize  = 64

	// MemNameSize is the fixed size of the shared-memory name field.
	MemNameSize = 32
	// MemMaxSlots bounds the slot count a reply may announce.
	MemMaxSlots = 2
)

// Request asks the controller for resources. Alloc requests a
// shared-memory allocation for the endpoint at Index.
type Request struct {
	Alloc bool
	Index uint64
}

// MarshalBinary encodes the request into its 32-byte wire form:
// a flags word (bit 0 = alloc) followed by the data word.
func (r *Request) MarshalBinary() ([]byte, error) {
	buf := make([]byte, RequestSize)
	var flags uint64
	if r.Alloc {
		flags |= 1
	}
	binary.LittleEndian.PutUint64(buf[0:], flags)
	binary.LittleEndian.PutUint64(buf[8:], r.Index)
	return buf, nil
}

// UnmarshalBinary decodes a 32-byte request.
func (r *Request) UnmarshalBinary(data []byte) error {
	if len(data) < RequestSize {
		return fmt.Errorf("proxy request: short datagram: %d bytes", len(data))
	}
	r.Alloc = binary.LittleEndian.Uint64(data[0:])&1 != 0
	r.Index = binary.LittleEndian.Uint64(data[8:])
	return nil
}

// Reply carries the controller's answer to an alloc request: the
// shared-memory descriptor. The fd field is a placeholder on the wire;
// the authoritative descriptor arrives out-of-band via SCM_RIGHTS and
// overwrites it on receive.
type Reply struct {
	Status   uint64
	MemFD    int32
	MemName  string
	SlotNum  uint8
	SlotSize uint32
}

// MarshalBinary encodes the reply into its 64-byte wire form.
func (r *Reply) MarshalBinary() ([]byte, error) {
	if len(r.MemName) > MemNameSize {
		return nil, fmt.Errorf("proxy reply: name too long: %q", r.MemName)
	}
	buf := make([]byte, ReplySize)
	binary.LittleEndian.PutUint64(buf[0:], r.Status)
	binary.LittleEndian.PutUint32(buf[8:], uint32(r.MemFD))
	copy(buf[12:12+MemNameSize], r.MemName)
	buf[44] = r.SlotNum
	binary.LittleEndian.PutUint32(buf[48:], r.SlotSize)
	return buf, nil
}

// UnmarshalBinary decodes a 64-byte reply.
func (r *Reply) UnmarshalBinary(data []byte) error {
	if len(data) < ReplySize {
		return fmt.Errorf("proxy reply: short datagram: %d bytes", len(data))
	}
	r.Status = binary.LittleEndian.Uint64(data[0:])
	r.MemFD = int32(binary.LittleEndian.Uint32(data[8:]))
	r.MemName = cString(data[12 : 12+MemNameSize])
	r.SlotNum = data[44]
	r.SlotSize = binary.LittleEndian.Uint32(data[48:])
	return nil
}

// Notify announces one frame written into its shared-memory slot.
type Notify struct {
	CurrNo      uint64
	BytesUsed   uint64
	TimestampUs uint64
	Addr        uint64
}

// MarshalBinary encodes the notify into its 64-byte wire form.
func (n *Notify) MarshalBinary() ([]byte, error) {
	buf := make([]byte, NotifySize)
	binary.LittleEndian.PutUint64(buf[0:], n.CurrNo)
	binary.LittleEndian.PutUint64(buf[8:], n.BytesUsed)
	binary.LittleEndian.PutUint64(buf[16:], n.TimestampUs)
	binary.LittleEndian.PutUint64(buf[24:], n.Addr)
	return buf, nil
}

// UnmarshalBinary decodes a 64-byte notify.
func (n *Notify) UnmarshalBinary(data []byte) error {
	if len(data) < NotifySize {
		return fmt.Errorf("proxy notify: short datagram: %d bytes", len(data))
	}
	n.CurrNo = binary.LittleEndian.Uint64(data[0:])
	n.BytesUsed = binary.LittleEndian.Uint64(data[8:])
	n.TimestampUs = binary.LittleEndian.Uint64(data[16:])
	n.Addr = binary.LittleEndian.Uint64(data[24:])
	return nil
}

func cString(b []byte) string {
	for i, v := range b {
		if v == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
