package uvc

import (
	"testing"

	"github.com/vladimirvivien/go4uvc/v4l2"
)

const (
	classIn  = DirIn | TypeClass | RecipInterface
	classOut = TypeClass | RecipInterface
)

func newTestState(t *testing.T) *ControlState {
	t.Helper()
	return NewControlState(0, NewFormatConfig(nil), nil)
}

// controlReq builds a class request against the VideoControl interface.
func controlReq(requestType, request, entity, selector uint8, wLength uint16) SetupPacket {
	return SetupPacket{
		RequestType: requestType,
		Request:     request,
		Value:       uint16(selector) << 8,
		Index:       uint16(entity)<<8 | ControlInterface,
		Length:      wLength,
	}
}

// streamingReq builds a class request against the VideoStreaming interface.
func streamingReq(request, selector uint8, wLength uint16) SetupPacket {
	requestType := uint8(classIn)
	if request == SetCur {
		requestType = classOut
	}
	return SetupPacket{
		RequestType: requestType,
		Request:     request,
		Value:       uint16(selector) << 8,
		Index:       StreamingInterface,
		Length:      wLength,
	}
}

// negotiate pushes one SET_CUR + data phase through the state machine.
func negotiate(t *testing.T, s *ControlState, selector uint8, ctrl StreamingControl) *FormatCommit {
	t.Helper()

	resp := s.HandleSetup(streamingReq(SetCur, selector, StreamingControlSize))
	if resp == nil || resp.IsStall() {
		t.Fatalf("SET_CUR rejected: %+v", resp)
	}

	wire, _ := ctrl.MarshalBinary()
	var data RequestData
	data.Length = int32(copy(data.Data[:], wire))

	commit, err := s.HandleData(data)
	if err != nil {
		t.Fatalf("data phase: %v", err)
	}
	return commit
}

func TestErrorCodeControlLatches(t *testing.T) {
	s := newTestState(t)

	// request against entity 1 with an unsupported selector
	resp := s.HandleSetup(controlReq(classIn, GetCur, EntityInputTerminal, 0xFF, 1))
	if resp == nil || !resp.IsStall() {
		t.Fatalf("unsupported selector must stall, got %+v", resp)
	}
	if resp.Length != StallLength {
		t.Errorf("stall length = %d, want %d", resp.Length, StallLength)
	}

	// the latched code is readable through the Request Error Code Control
	resp = s.HandleSetup(controlReq(classIn, GetCur, EntityInterface, VCRequestErrorCodeControl, 1))
	if resp == nil || resp.IsStall() {
		t.Fatalf("error code control must reply, got %+v", resp)
	}
	if resp.Length != 1 || resp.Data[0] != ErrCodeInvalidControl {
		t.Errorf("latched code = 0x%02x, want 0x%02x", resp.Data[0], ErrCodeInvalidControl)
	}
}

func TestErrorCodeControlStartsClean(t *testing.T) {
	s := newTestState(t)
	resp := s.HandleSetup(controlReq(classIn, GetCur, EntityInterface, VCRequestErrorCodeControl, 1))
	if resp == nil || resp.Length != 1 || resp.Data[0] != ErrCodeNone {
		t.Fatalf("initial error code must be NO_ERROR, got %+v", resp)
	}
}

func TestInvalidEntityStalls(t *testing.T) {
	s := newTestState(t)
	resp := s.HandleSetup(controlReq(classIn, GetCur, 5, 0x01, 1))
	if resp == nil || !resp.IsStall() {
		t.Fatal("unknown entity must stall")
	}
	if s.LastError() != ErrCodeInvalidUnit {
		t.Errorf("latched = 0x%02x, want INVALID_UNIT", s.LastError())
	}
}

func TestNonInterfaceRecipientStalls(t *testing.T) {
	s := newTestState(t)
	pkt := controlReq(DirIn|TypeClass|RecipDevice, GetCur, EntityInputTerminal, CTAEModeControl, 1)
	resp := s.HandleSetup(pkt)
	if resp == nil || !resp.IsStall() {
		t.Fatal("class request to a non-interface recipient must stall")
	}
}

func TestStandardRequestHasNoReply(t *testing.T) {
	s := newTestState(t)
	pkt := SetupPacket{RequestType: TypeStandard | RecipInterface, Request: 0x06}
	if resp := s.HandleSetup(pkt); resp != nil {
		t.Errorf("standard request must be a no-op, got %+v", resp)
	}
}

func TestVendorRequestStalls(t *testing.T) {
	s := newTestState(t)
	pkt := SetupPacket{RequestType: DirIn | TypeVendor | RecipInterface, Request: 0x01}
	resp := s.HandleSetup(pkt)
	if resp == nil || !resp.IsStall() {
		t.Error("vendor request must stall")
	}
}

func TestInputTerminalAEMode(t *testing.T) {
	tests := []struct {
		name     string
		request  uint8
		wantLen  int32
		wantByte uint8
		stall    bool
		wantErr  ErrCode
	}{
		{"GET_CUR returns auto mode", GetCur, 1, 0x02, false, ErrCodeNone},
		{"GET_RES returns auto mode", GetRes, 1, 0x02, false, ErrCodeNone},
		{"GET_DEF returns auto mode", GetDef, 1, 0x02, false, ErrCodeNone},
		{"GET_INFO reports device-controlled", GetInfo, 1, InfoDeviceControlled, false, ErrCodeNone},
		{"SET_CUR stalls", SetCur, 0, 0, true, ErrCodeInvalidRequest},
		{"GET_MIN stalls", GetMin, 0, 0, true, ErrCodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestState(t)
			resp := s.HandleSetup(controlReq(classIn, tt.request, EntityInputTerminal, CTAEModeControl, 1))
			if resp == nil {
				t.Fatal("no reply")
			}
			if tt.stall {
				if !resp.IsStall() {
					t.Fatal("want stall")
				}
				if s.LastError() != tt.wantErr {
					t.Errorf("latched = 0x%02x, want 0x%02x", s.LastError(), tt.wantErr)
				}
				return
			}
			if resp.Length != tt.wantLen || resp.Data[0] != tt.wantByte {
				t.Errorf("reply = len %d data 0x%02x, want len %d data 0x%02x",
					resp.Length, resp.Data[0], tt.wantLen, tt.wantByte)
			}
		})
	}
}

func TestProcessingUnitBrightness(t *testing.T) {
	tests := []struct {
		name     string
		request  uint8
		wantLen  int32
		wantByte uint8
		stall    bool
	}{
		{"GET_MIN is 0", GetMin, 2, 0, false},
		{"GET_MAX is 255", GetMax, 2, 255, false},
		{"GET_CUR is midpoint", GetCur, 2, 127, false},
		{"GET_DEF is midpoint", GetDef, 2, 127, false},
		{"GET_RES is 1", GetRes, 2, 1, false},
		{"GET_INFO reports device-controlled", GetInfo, 1, InfoDeviceControlled, false},
		{"SET_CUR stalls", SetCur, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestState(t)
			resp := s.HandleSetup(controlReq(classIn, tt.request, EntityProcessingUnit, PUBrightnessControl, 2))
			if resp == nil {
				t.Fatal("no reply")
			}
			if tt.stall {
				if !resp.IsStall() || s.LastError() != ErrCodeInvalidRequest {
					t.Fatalf("want stall with INVALID_REQUEST, got %+v code 0x%02x", resp, s.LastError())
				}
				return
			}
			if resp.Length != tt.wantLen || resp.Data[0] != tt.wantByte {
				t.Errorf("reply = len %d data 0x%02x, want len %d data 0x%02x",
					resp.Length, resp.Data[0], tt.wantLen, tt.wantByte)
			}
			if resp.Length == 2 && resp.Data[1] != 0 {
				t.Errorf("high byte = 0x%02x, want 0", resp.Data[1])
			}
		})
	}
}

func decodeReply(t *testing.T, resp *RequestData) StreamingControl {
	t.Helper()
	if resp == nil || resp.IsStall() {
		t.Fatalf("want streaming control reply, got %+v", resp)
	}
	if resp.Length != StreamingControlSize {
		t.Fatalf("reply length = %d, want %d", resp.Length, StreamingControlSize)
	}
	var ctrl StreamingControl
	if err := ctrl.UnmarshalBinary(resp.Payload()); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	return ctrl
}

func TestProbeBounds(t *testing.T) {
	s := newTestState(t)

	min := decodeReply(t, s.HandleSetup(streamingReq(GetMin, VSProbeControl, StreamingControlSize)))
	if min.BFormatIndex != 1 || min.BFrameIndex != 1 {
		t.Errorf("GET_MIN indices = (%d, %d), want (1, 1)", min.BFormatIndex, min.BFrameIndex)
	}
	if min.DwFrameInterval != FrameInterval1fps {
		t.Errorf("GET_MIN interval = %d, want first table entry %d", min.DwFrameInterval, FrameInterval1fps)
	}
	if min.DwMaxVideoFrameSize != 1920*1080*3/2 {
		t.Errorf("GET_MIN max frame size = %d, want NV12 size", min.DwMaxVideoFrameSize)
	}
	if min.DwMaxPayloadTransferSize != IsocMaxPacketSize {
		t.Errorf("GET_MIN payload size = %d, want %d", min.DwMaxPayloadTransferSize, IsocMaxPacketSize)
	}
	if min.WDelay != 200 || min.BmFramingInfo != 0x03 || min.BmHint != 1 {
		t.Errorf("GET_MIN constants wrong: %+v", min)
	}
	if min.BPreferedVersion != 1 || min.BMinVersion != 1 || min.BMaxVersion != 1 {
		t.Errorf("GET_MIN versions wrong: %+v", min)
	}

	max := decodeReply(t, s.HandleSetup(streamingReq(GetMax, VSProbeControl, StreamingControlSize)))
	if max.BFormatIndex != 3 || max.BFrameIndex != 1 {
		t.Errorf("GET_MAX indices = (%d, %d), want (3, 1)", max.BFormatIndex, max.BFrameIndex)
	}
	if max.DwFrameInterval != FrameInterval30fps {
		t.Errorf("GET_MAX interval = %d, want last table entry %d", max.DwFrameInterval, FrameInterval30fps)
	}

	def := decodeReply(t, s.HandleSetup(streamingReq(GetDef, VSProbeControl, StreamingControlSize)))
	if def.BFormatIndex != 1 || def.BFrameIndex != 1 || def.DwFrameInterval != FrameInterval1fps {
		t.Errorf("GET_DEF = %+v, want the default triple", def)
	}
}

func TestProbeAuxiliaryRequests(t *testing.T) {
	s := newTestState(t)

	resp := s.HandleSetup(streamingReq(GetLen, VSProbeControl, 2))
	if resp.Length != 2 || resp.Data[0] != 0 || resp.Data[1] != StreamingControlSize {
		t.Errorf("GET_LEN = %+v, want {0, %d}", resp, StreamingControlSize)
	}

	resp = s.HandleSetup(streamingReq(GetInfo, VSProbeControl, 1))
	if resp.Length != 1 || resp.Data[0] != InfoSupportsGet|InfoSupportsSet {
		t.Errorf("GET_INFO = %+v, want GET|SET bits", resp)
	}

	resp = s.HandleSetup(streamingReq(GetRes, VSProbeControl, StreamingControlSize))
	ctrl := decodeReply(t, resp)
	if ctrl != (StreamingControl{}) {
		t.Errorf("GET_RES must be zero-filled, got %+v", ctrl)
	}
}

func TestGetCurBeforeSetCurStalls(t *testing.T) {
	s := newTestState(t)
	resp := s.HandleSetup(streamingReq(GetCur, VSProbeControl, StreamingControlSize))
	if resp == nil || !resp.IsStall() {
		t.Fatal("GET_CUR before SET_CUR must stall")
	}
	if s.LastError() != ErrCodeInvalidRequest {
		t.Errorf("latched = 0x%02x, want INVALID_REQUEST", s.LastError())
	}
}

func TestStreamErrorCodeControlStalls(t *testing.T) {
	s := newTestState(t)
	resp := s.HandleSetup(streamingReq(GetCur, VSStreamErrorCodeControl, 1))
	if resp == nil || !resp.IsStall() {
		t.Fatal("stream error code control is not serviced")
	}
}

func TestProbeNegotiation(t *testing.T) {
	s := newTestState(t)

	// SET_CUR replies echo the host's wLength (UVC 1.0 hosts send 26)
	resp := s.HandleSetup(streamingReq(SetCur, VSProbeControl, 26))
	if resp == nil || resp.IsStall() || resp.Length != 26 {
		t.Fatalf("SET_CUR reply = %+v, want length 26", resp)
	}

	// data phase: NV12 1920x1080 at 30fps, sizes left for negotiation
	src := StreamingControl{
		BmHint:          1,
		BFormatIndex:    1,
		BFrameIndex:     1,
		DwFrameInterval: 333333,
	}
	wire, _ := src.MarshalBinary()
	var data RequestData
	data.Length = 26
	copy(data.Data[:], wire[:26])

	commit, err := s.HandleData(data)
	if err != nil {
		t.Fatalf("data phase: %v", err)
	}
	if commit == nil {
		t.Fatal("first negotiation must produce a format commit")
	}
	if commit.FourCC != v4l2.PixelFmtNV12 || commit.Width != 1920 || commit.Height != 1080 {
		t.Errorf("commit = %+v, want NV12 1920x1080", commit)
	}
	if commit.SizeImage != 3110400 {
		t.Errorf("commit size = %d, want 3110400", commit.SizeImage)
	}

	// negotiated values are visible through GET_CUR
	cur := decodeReply(t, s.HandleSetup(streamingReq(GetCur, VSProbeControl, StreamingControlSize)))
	if cur.DwMaxVideoFrameSize != 3110400 {
		t.Errorf("GET_CUR max frame size = %d, want 3110400", cur.DwMaxVideoFrameSize)
	}
	if cur.DwMaxPayloadTransferSize != 1024 {
		t.Errorf("GET_CUR payload size = %d, want 1024", cur.DwMaxPayloadTransferSize)
	}
	if cur.DwFrameInterval != 333333 {
		t.Errorf("GET_CUR interval = %d, want 333333", cur.DwFrameInterval)
	}
}

func TestCommitIdempotence(t *testing.T) {
	s := newTestState(t)

	src := StreamingControl{
		BmHint:                   1,
		BFormatIndex:             1,
		BFrameIndex:              1,
		DwFrameInterval:          333333,
		DwMaxVideoFrameSize:      3110400,
		DwMaxPayloadTransferSize: 1024,
	}

	if commit := negotiate(t, s, VSCommitControl, src); commit == nil {
		t.Fatal("first commit must program the format")
	}
	if commit := negotiate(t, s, VSCommitControl, src); commit != nil {
		t.Error("identical commit payload must not program the format again")
	}
}

func TestUnsupportedSelectionsRetained(t *testing.T) {
	s := newTestState(t)

	// establish a valid selection first
	negotiate(t, s, VSProbeControl, StreamingControl{
		BFormatIndex:    2,
		BFrameIndex:     1,
		DwFrameInterval: 333333,
	})

	// out-of-range format index and unsupported interval are ignored
	commit := negotiate(t, s, VSProbeControl, StreamingControl{
		BFormatIndex:    9,
		BFrameIndex:     7,
		DwFrameInterval: 12345,
	})
	if commit == nil {
		t.Fatal("renegotiation must still program the format")
	}
	if commit.FourCC != v4l2.PixelFmtYUYV {
		t.Errorf("format = %s, want retained YUYV", v4l2.FourCCToString(commit.FourCC))
	}

	cur := decodeReply(t, s.HandleSetup(streamingReq(GetCur, VSProbeControl, StreamingControlSize)))
	if cur.BFormatIndex != 2 {
		t.Errorf("bFormatIndex = %d, want retained 2", cur.BFormatIndex)
	}
	if cur.DwFrameInterval != 333333 {
		t.Errorf("dwFrameInterval = %d, want retained 333333", cur.DwFrameInterval)
	}
}

func TestDataPhaseWithoutSetCur(t *testing.T) {
	s := newTestState(t)
	var data RequestData
	data.Length = StreamingControlSize
	if _, err := s.HandleData(data); err == nil {
		t.Error("data phase without SET_CUR must fail")
	}
}
