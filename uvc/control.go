package uvc

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/vladimirvivien/go4uvc/v4l2"
)

// FormatConfig carries the catalog plus the negotiated selection. One
// config is shared by all endpoints of a device; Current stays
// NoSelection until the host's first accepted Probe/Commit data phase.
type FormatConfig struct {
	Catalog *Catalog
	Default Selection
	Current Selection
}

// NewFormatConfig returns a config over the built-in catalog with the
// default triple (0,0,0) and no current selection.
func NewFormatConfig(log *zap.Logger) *FormatConfig {
	return &FormatConfig{
		Catalog: NewCatalog(log),
		Default: Selection{},
		Current: NoSelection,
	}
}

// FormatCommit is the action output of a successful negotiation data
// phase: the format the device layer must program via S_FMT.
type FormatCommit struct {
	Width     uint32
	Height    uint32
	FourCC    v4l2.FourCCType
	SizeImage uint32
}

// ControlState is the per-endpoint control-plane state machine. Handlers
// consume decoded setup/data events and produce reply payloads (possibly
// stalls) and format-commit actions; the caller owns every kernel round
// trip. Callers serialize access (the device mutex).
type ControlState struct {
	log      *zap.Logger
	endpoint int
	config   *FormatConfig

	probe  StreamingControl
	commit StreamingControl
	// curr points at probe or commit once the host issues SET_CUR, nil
	// before that (4.3.1.1: GET_CUR state is undefined prior to the
	// initial SET_CUR).
	curr        *StreamingControl
	expectedLen int

	errCode ErrCode
}

// NewControlState returns the control plane for one endpoint.
func NewControlState(endpoint int, config *FormatConfig, log *zap.Logger) *ControlState {
	if log == nil {
		log = zap.NewNop()
	}
	return &ControlState{
		log:      log.With(zap.Int("endpoint", endpoint)),
		endpoint: endpoint,
		config:   config,
		errCode:  ErrCodeNone,
	}
}

// LastError returns the latched Request Error Code Control value.
func (s *ControlState) LastError() ErrCode { return s.errCode }

// CurrentControl returns the negotiated streaming control, nil before the
// first SET_CUR. The data plane reads DwMaxVideoFrameSize from it.
func (s *ControlState) CurrentControl() *StreamingControl { return s.curr }

// stall latches the given error code and produces a stall reply.
func (s *ControlState) stall(code ErrCode) *RequestData {
	s.errCode = code
	resp := Stall()
	return &resp
}

// HandleSetup processes one SETUP event. The returned reply must be
// handed to the driver via SendResponse; a nil return means the request
// needs no reply (standard requests are serviced by the kernel, the
// events are informational).
func (s *ControlState) HandleSetup(pkt SetupPacket) *RequestData {
	s.log.Debug("setup", zap.Stringer("ctrl", pkt))

	switch pkt.Type() {
	case TypeStandard:
		return nil
	case TypeClass:
		return s.handleClass(pkt)
	default:
		s.log.Warn("unsupported request type, stalling", zap.String("type", pkt.typeName()))
		resp := Stall()
		return &resp
	}
}

// handleClass dispatches a class-specific request to the addressed
// interface (4: "The wIndex field specifies the interface or endpoint to
// be addressed in the low byte, and the entity ID or zero in the high
// byte").
func (s *ControlState) handleClass(pkt SetupPacket) *RequestData {
	// reset data stage params
	s.expectedLen = 0

	if pkt.Recipient() != RecipInterface {
		s.log.Warn("recipient not interface, stalling", zap.String("recipient", pkt.recipientName()))
		resp := Stall()
		return &resp
	}

	switch pkt.InterfaceNumber(s.endpoint) {
	case ControlInterface:
		return s.handleControl(pkt)
	case StreamingInterface:
		return s.handleStreaming(pkt)
	default:
		s.log.Warn("unsupported interface, stalling", zap.Uint16("wIndex", pkt.Index))
		return s.stall(ErrCodeInvalidControl)
	}
}

// handleControl services the VideoControl interface: the virtual
// interface entity, the Input Terminal and the Processing Unit.
// 4.2: "If a video function does not support a certain request, it must
// indicate this by stalling the control pipe when that request is issued
// to the function".
func (s *ControlState) handleControl(pkt SetupPacket) *RequestData {
	entity := pkt.EntityID()
	s.log.Info("control request",
		zap.String("entity", EntityName(entity)),
		zap.String("request", RequestName(pkt.Request)),
		zap.Uint8("selector", pkt.Selector()),
		zap.Uint16("wLength", pkt.Length))

	switch entity {
	case EntityInterface:
		return s.handleInterfaceEntity(pkt)
	case EntityInputTerminal:
		return s.handleInputTerminal(pkt)
	case EntityProcessingUnit:
		return s.handleProcessingUnit(pkt)
	default:
		s.log.Error("invalid unit", zap.Uint8("entity", entity))
		return s.stall(ErrCodeInvalidUnit)
	}
}

// handleInterfaceEntity services entity 0. Only the Request Error Code
// Control is implemented (4.2.1.2, Table 4-7): a single byte holding the
// error code of the most recent class-level failure.
func (s *ControlState) handleInterfaceEntity(pkt SetupPacket) *RequestData {
	switch pkt.Selector() {
	case VCRequestErrorCodeControl:
		resp := RequestData{Length: 1}
		resp.Data[0] = s.errCode
		return &resp
	default:
		s.log.Error("invalid control", zap.Uint8("selector", pkt.Selector()))
		return s.stall(ErrCodeInvalidControl)
	}
}

// handleInputTerminal services entity 1. The kernel gadget camera
// terminal descriptor advertises bmControls = 2, so only the
// Auto-Exposure Mode control must be supported (3.7.2.3, D1).
func (s *ControlState) handleInputTerminal(pkt SetupPacket) *RequestData {
	if pkt.Selector() != CTAEModeControl {
		s.log.Warn("invalid control", zap.Uint8("selector", pkt.Selector()))
		return s.stall(ErrCodeInvalidControl)
	}

	// 4.2.2.1.2 Auto-Exposure Mode Control:
	// D0 manual, D1 auto, D2 shutter priority, D3 aperture priority.
	resp := RequestData{Length: 1}
	switch pkt.Request {
	case GetCur, GetRes, GetDef:
		resp.Data[0] = 0x02 // auto mode only
		return &resp
	case GetInfo:
		resp.Data[0] = InfoDeviceControlled
		return &resp
	default:
		s.log.Warn("invalid request", zap.String("request", RequestName(pkt.Request)))
		return s.stall(ErrCodeInvalidRequest)
	}
}

// handleProcessingUnit services entity 2. The kernel gadget processing
// unit descriptor advertises bmControls = 1, so only Brightness must be
// supported (3.7.2.5, D0).
func (s *ControlState) handleProcessingUnit(pkt SetupPacket) *RequestData {
	if pkt.Selector() != PUBrightnessControl {
		s.log.Warn("invalid control", zap.Uint8("selector", pkt.Selector()))
		return s.stall(ErrCodeInvalidControl)
	}

	// 4.2.2.3.2 Brightness Control: wBrightness, size 2, signed.
	resp := RequestData{Length: 2}
	switch pkt.Request {
	case GetMin:
		// 0
		return &resp
	case GetMax:
		resp.Data[0] = 255
		return &resp
	case GetCur, GetDef:
		resp.Data[0] = 127
		return &resp
	case GetRes:
		resp.Data[0] = 1
		return &resp
	case GetInfo:
		resp.Data[0] = InfoDeviceControlled
		resp.Length = 1
		return &resp
	default:
		s.log.Warn("invalid request", zap.String("request", RequestName(pkt.Request)))
		return s.stall(ErrCodeInvalidRequest)
	}
}

// handleStreaming services the VideoStreaming interface (4.3).
func (s *ControlState) handleStreaming(pkt SetupPacket) *RequestData {
	cs := pkt.Selector()
	s.log.Info("streaming request",
		zap.String("request", RequestName(pkt.Request)),
		zap.Uint8("selector", cs))

	switch cs {
	case VSProbeControl, VSCommitControl:
		return s.handleStreamingRequest(pkt)
	case VSStreamErrorCodeControl:
		// not serviced
		resp := Stall()
		return &resp
	default:
		s.log.Error("invalid control", zap.Uint8("selector", cs))
		return s.stall(ErrCodeInvalidControl)
	}
}

// handleStreamingRequest is the shared Probe/Commit handler
// (4.3.1.1.1 Probe and Commit Operational Model, Table 4-48).
func (s *ControlState) handleStreamingRequest(pkt SetupPacket) *RequestData {
	resp := RequestData{}

	putCtrl := func(ctrl *StreamingControl) {
		wire, _ := ctrl.MarshalBinary()
		copy(resp.Data[:], wire)
		resp.Length = StreamingControlSize
	}

	switch pkt.Request {
	case GetCur:
		// Prior to the initial SET_CUR operation the GET_CUR state is
		// undefined; stall.
		if s.curr == nil {
			s.log.Warn("GET_CUR before SET_CUR, stalling")
			return s.stall(ErrCodeInvalidRequest)
		}
		putCtrl(s.curr)
	case GetMin:
		ctrl := s.minStreamingControl()
		putCtrl(&ctrl)
	case GetMax:
		ctrl := s.maxStreamingControl()
		putCtrl(&ctrl)
	case GetDef:
		ctrl := s.defaultStreamingControl()
		putCtrl(&ctrl)
	case GetRes:
		// resolution of every negotiated field: zero-filled structure
		resp.Length = StreamingControlSize
	case GetLen:
		resp.Data[0] = 0x00
		resp.Data[1] = StreamingControlSize
		resp.Length = 2
	case GetInfo:
		resp.Data[0] = InfoSupportsGet | InfoSupportsSet
		resp.Length = 1
	case SetCur:
		switch pkt.Selector() {
		case VSProbeControl:
			s.curr = &s.probe
		case VSCommitControl:
			s.curr = &s.commit
		default:
			s.log.Warn("invalid request", zap.String("request", RequestName(pkt.Request)))
			return s.stall(ErrCodeInvalidRequest)
		}
		s.expectedLen = int(pkt.Length)
		resp.Length = int32(pkt.Length)
	default:
		s.log.Warn("invalid request", zap.String("request", RequestName(pkt.Request)))
		return s.stall(ErrCodeInvalidRequest)
	}
	return &resp
}

// HandleData consumes the host data phase following a SET_CUR. The
// payload is compared byte-wise against the current control; when equal
// the negotiation is a no-op, otherwise the control is coerced onto the
// catalog and the returned FormatCommit must be programmed via S_FMT.
func (s *ControlState) HandleData(data RequestData) (*FormatCommit, error) {
	if s.curr == nil {
		return nil, fmt.Errorf("data phase: current streaming setting not selected")
	}
	if s.expectedLen == 0 {
		return nil, fmt.Errorf("data phase: no data stage expected")
	}
	if int(data.Length) != s.expectedLen {
		s.log.Warn("data phase length mismatch",
			zap.Int32("length", data.Length), zap.Int("expected", s.expectedLen))
	}

	var src StreamingControl
	if err := src.UnmarshalBinary(data.Payload()); err != nil {
		return nil, fmt.Errorf("data phase: %w", err)
	}

	if *s.curr == src {
		s.log.Info("format change not needed")
		return nil, nil
	}

	return s.applyStreamingControl(&src), nil
}

// applyStreamingControl coerces the host's desired control onto the
// catalog. Index and interval fields move only onto supported values
// (out-of-range values retain the prior setting and the host
// renegotiates); fields still zero on the device side take the host's
// value per the "negotiation fields set to zero" rule of 4.3.1.1.1;
// dwMaxVideoFrameSize is recomputed from the catalog on every
// renegotiation after the first.
func (s *ControlState) applyStreamingControl(src *StreamingControl) *FormatCommit {
	cfg := s.config
	cat := cfg.Catalog
	dst := s.curr

	if dst.BmHint == 0 && src.BmHint != 0 {
		dst.BmHint = src.BmHint
	}

	if src.BFormatIndex != 0 && int(src.BFormatIndex) <= cat.FormatCount() {
		dst.BFormatIndex = src.BFormatIndex
		cfg.Current.Format = int(src.BFormatIndex) - 1
	}
	if cfg.Current.Format < 0 {
		// host never named a valid format; negotiate from the default
		s.log.Warn("no format selected, using default", zap.Int("format", cfg.Default.Format))
		cfg.Current.Format = cfg.Default.Format
	}

	if src.BFrameIndex != 0 && int(src.BFrameIndex) <= cat.FrameCount(cfg.Current.Format) {
		dst.BFrameIndex = src.BFrameIndex
		cfg.Current.Frame = int(src.BFrameIndex) - 1
	}
	if cfg.Current.Frame < 0 {
		cfg.Current.Frame = cfg.Default.Frame
	}

	if src.DwFrameInterval != 0 {
		if i := cat.FindInterval(cfg.Current.Format, cfg.Current.Frame, src.DwFrameInterval); i >= 0 {
			dst.DwFrameInterval = src.DwFrameInterval
			cfg.Current.Interval = i
		}
	}
	if cfg.Current.Interval < 0 {
		cfg.Current.Interval = cfg.Default.Interval
	}

	if dst.WKeyFrameRate == 0 && src.WKeyFrameRate != 0 {
		dst.WKeyFrameRate = src.WKeyFrameRate
	}
	if dst.WPFrameRate == 0 {
		dst.WPFrameRate = src.WPFrameRate
	}
	if dst.WCompQuality == 0 {
		dst.WCompQuality = src.WCompQuality
	}
	if dst.WCompWindowSize == 0 {
		dst.WCompWindowSize = src.WCompWindowSize
	}
	if dst.WDelay == 0 {
		dst.WDelay = src.WDelay
	}
	if dst.DwMaxVideoFrameSize == 0 && src.DwMaxVideoFrameSize != 0 {
		dst.DwMaxVideoFrameSize = src.DwMaxVideoFrameSize
	} else {
		// a zero from both sides means "negotiable": answer with the
		// catalog value, and recompute on every later renegotiation
		dst.DwMaxVideoFrameSize = cat.MaxFrameSize(cfg.Current.Format, cfg.Current.Frame)
	}
	if dst.DwMaxPayloadTransferSize == 0 {
		if src.DwMaxPayloadTransferSize != 0 {
			dst.DwMaxPayloadTransferSize = src.DwMaxPayloadTransferSize
		} else {
			dst.DwMaxPayloadTransferSize = IsocMaxPacketSize
		}
	}
	if dst.DwClockFrequency == 0 {
		dst.DwClockFrequency = src.DwClockFrequency
	}
	if dst.BmFramingInfo == 0 {
		dst.BmFramingInfo = src.BmFramingInfo
	}
	if dst.BPreferedVersion == 0 {
		dst.BPreferedVersion = src.BPreferedVersion
	}
	if dst.BMinVersion == 0 {
		dst.BMinVersion = src.BMinVersion
	}
	if dst.BMaxVersion == 0 {
		dst.BMaxVersion = src.BMaxVersion
	}

	format, _ := cat.Format(cfg.Current.Format)
	frame, _ := cat.Frame(cfg.Current.Format, cfg.Current.Frame)
	s.log.Info("apply streaming control",
		zap.String("format", format.Name),
		zap.Stringer("ctrl", dst))

	return &FormatCommit{
		Width:     uint32(frame.Width),
		Height:    uint32(frame.Height),
		FourCC:    format.FourCC,
		SizeImage: cat.MaxFrameSize(cfg.Current.Format, cfg.Current.Frame),
	}
}

// fillStreamingControl populates a control for the given catalog triple
// (4.3.1.1: field semantics of the Video Probe and Commit Controls).
func (s *ControlState) fillStreamingControl(ctrl *StreamingControl, sel Selection) {
	cat := s.config.Catalog
	if _, ok := cat.Format(sel.Format); !ok {
		return
	}
	interval, ok := cat.Interval(sel.Format, sel.Frame, sel.Interval)
	if !ok {
		return
	}

	*ctrl = StreamingControl{
		BmHint:                   1, // keep dwFrameInterval fixed
		BFormatIndex:             uint8(sel.Format + 1),
		BFrameIndex:              uint8(sel.Frame + 1),
		DwFrameInterval:          interval,
		WDelay:                   200, // ms
		DwMaxVideoFrameSize:      cat.MaxFrameSize(sel.Format, sel.Frame),
		DwMaxPayloadTransferSize: IsocMaxPacketSize,
		BmFramingInfo:            0x03, // FID + EOF required
		BPreferedVersion:         1,
		BMinVersion:              1,
		BMaxVersion:              1,
	}
}

func (s *ControlState) minStreamingControl() StreamingControl {
	var ctrl StreamingControl
	s.fillStreamingControl(&ctrl, Selection{Format: 0, Frame: 0, Interval: 0})
	return ctrl
}

func (s *ControlState) maxStreamingControl() StreamingControl {
	cat := s.config.Catalog
	var ctrl StreamingControl
	s.fillStreamingControl(&ctrl, Selection{
		Format:   cat.FormatCount() - 1,
		Frame:    cat.MaxFrameCount() - 1,
		Interval: cat.MaxIntervalCount() - 1,
	})
	return ctrl
}

func (s *ControlState) defaultStreamingControl() StreamingControl {
	var ctrl StreamingControl
	s.fillStreamingControl(&ctrl, s.config.Default)
	return ctrl
}
