package proxy

import (
	"encoding/binary"
	"testing"
)

func TestRequestWire(t *testing.T) {
	req := Request{Alloc: true, Index: 3}
	wire, err := req.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if len(wire) != RequestSize {
		t.Fatalf("wire size = %d, want %d", len(wire), RequestSize)
	}
	if wire[0] != 1 {
		t.Errorf("alloc flag = 0x%02x, want bit 0 set", wire[0])
	}
	if got := binary.LittleEndian.Uint64(wire[8:]); got != 3 {
		t.Errorf("index at offset 8 = %d", got)
	}

	var back Request
	if err := back.UnmarshalBinary(wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != req {
		t.Errorf("round trip = %+v, want %+v", back, req)
	}

	if err := back.UnmarshalBinary(wire[:16]); err == nil {
		t.Error("short request must be rejected")
	}
}

func TestReplyWire(t *testing.T) {
	reply := Reply{
		MemFD:    7,
		MemName:  "uvc-mem-0",
		SlotNum:  2,
		SlotSize: 3110400,
	}
	wire, err := reply.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if len(wire) != ReplySize {
		t.Fatalf("wire size = %d, want %d", len(wire), ReplySize)
	}
	if wire[44] != 2 {
		t.Errorf("slot count at offset 44 = %d", wire[44])
	}
	if got := binary.LittleEndian.Uint32(wire[48:]); got != 3110400 {
		t.Errorf("slot size at offset 48 = %d", got)
	}

	var back Reply
	if err := back.UnmarshalBinary(wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != reply {
		t.Errorf("round trip = %+v, want %+v", back, reply)
	}

	long := Reply{MemName: "0123456789012345678901234567890123456789"}
	if _, err := long.MarshalBinary(); err == nil {
		t.Error("oversized name must be rejected")
	}
}

func TestNotifyWire(t *testing.T) {
	notify := Notify{CurrNo: 9, BytesUsed: 1234, TimestampUs: 5_000_000}
	wire, err := notify.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if len(wire) != NotifySize {
		t.Fatalf("wire size = %d, want %d", len(wire), NotifySize)
	}
	if got := binary.LittleEndian.Uint64(wire[16:]); got != 5_000_000 {
		t.Errorf("timestamp at offset 16 = %d", got)
	}

	var back Notify
	if err := back.UnmarshalBinary(wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != notify {
		t.Errorf("round trip = %+v, want %+v", back, notify)
	}
}
