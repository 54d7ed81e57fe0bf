package device

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	sys "golang.org/x/sys/unix"

	"github.com/vladimirvivien/go4uvc/uvc"
	"github.com/vladimirvivien/go4uvc/v4l2"
)

var errFake = fmt.Errorf("fake fatal error")

// fakeQueue is an in-memory kernelQueue with scriptable behavior.
type fakeQueue struct {
	granted    uint32
	slotLength uint32

	initErr    error
	queryErr   error
	mapErrAt   int // -1 disables
	dequeueErr error
	queueErr   error

	queryFlags map[uint32]v4l2.BufFlag

	mapped    int
	unmapped  int
	released  int
	streamOn  int
	streamOff int

	queuedSlots  map[uint32]int // index -> outstanding queue count
	queueCalls   []queueCall
	dequeueReady []uint32

	formats   []uvc.FormatCommit
	responses []uvc.RequestData
	events    []v4l2.Event
}

type queueCall struct {
	index     uint32
	bytesUsed uint32
}

func newFakeQueue(granted uint32) *fakeQueue {
	return &fakeQueue{
		granted:     granted,
		slotLength:  4096,
		mapErrAt:    -1,
		queryFlags:  make(map[uint32]v4l2.BufFlag),
		queuedSlots: make(map[uint32]int),
	}
}

func (f *fakeQueue) InitBuffers(count uint32) (uint32, error) {
	if f.initErr != nil {
		return 0, f.initErr
	}
	if f.granted < count {
		return f.granted, nil
	}
	return count, nil
}

func (f *fakeQueue) ReleaseBuffers() error {
	f.released++
	return nil
}

func (f *fakeQueue) QueryBuffer(index uint32) (v4l2.Buffer, error) {
	if f.queryErr != nil {
		return v4l2.Buffer{}, f.queryErr
	}
	return v4l2.Buffer{
		Index:  index,
		Length: f.slotLength,
		Flags:  f.queryFlags[index],
		Info:   v4l2.BufferInfo{Offset: index * f.slotLength},
	}, nil
}

func (f *fakeQueue) MapBuffer(offset int64, length int) ([]byte, error) {
	if f.mapErrAt >= 0 && f.mapped == f.mapErrAt {
		return nil, fmt.Errorf("fake map failure")
	}
	f.mapped++
	return make([]byte, length), nil
}

func (f *fakeQueue) UnmapBuffer(buf []byte) error {
	f.unmapped++
	return nil
}

func (f *fakeQueue) QueueBuffer(index, bytesUsed uint32, timestamp sys.Timeval) error {
	if f.queueErr != nil {
		return f.queueErr
	}
	if f.queuedSlots[index] > 0 {
		return fmt.Errorf("double queue of slot %d", index)
	}
	f.queuedSlots[index]++
	f.queryFlags[index] = v4l2.BufFlagQueued
	f.queueCalls = append(f.queueCalls, queueCall{index: index, bytesUsed: bytesUsed})
	return nil
}

func (f *fakeQueue) DequeueBuffer() (v4l2.Buffer, error) {
	if f.dequeueErr != nil {
		return v4l2.Buffer{}, f.dequeueErr
	}
	if len(f.dequeueReady) == 0 {
		return v4l2.Buffer{}, fmt.Errorf("buffer dequeue: %w", sys.EAGAIN)
	}
	index := f.dequeueReady[0]
	f.dequeueReady = f.dequeueReady[1:]
	f.queuedSlots[index]--
	f.queryFlags[index] = 0
	return v4l2.Buffer{Index: index}, nil
}

func (f *fakeQueue) StreamOn() error  { f.streamOn++; return nil }
func (f *fakeQueue) StreamOff() error { f.streamOff++; return nil }

func (f *fakeQueue) SetFormat(commit uvc.FormatCommit) error {
	f.formats = append(f.formats, commit)
	return nil
}

func (f *fakeQueue) SendResponse(resp uvc.RequestData) error {
	f.responses = append(f.responses, resp)
	return nil
}

func (f *fakeQueue) DequeueEvent() (v4l2.Event, error) {
	if len(f.events) == 0 {
		return v4l2.Event{}, fmt.Errorf("no event pending")
	}
	ev := f.events[0]
	f.events = f.events[1:]
	return ev, nil
}

// markDone simulates the driver finishing with a queued slot.
func (f *fakeQueue) markDone(index uint32) {
	f.queryFlags[index] = v4l2.BufFlagDone
	f.dequeueReady = append(f.dequeueReady, index)
}

// testFrame is a scriptable producer frame.
type testFrame struct {
	payload []byte
	pts     time.Duration
	dropped bool
}

func (t *testFrame) Fill(dst []byte) int {
	return copy(dst, t.payload)
}

func (t *testFrame) PTS() time.Duration { return t.pts }

func (t *testFrame) Drop() { t.dropped = true }

// newTestDevice builds a started single-endpoint device over a fake
// queue, without touching a gadget fd.
func newTestDevice(q kernelQueue) (*Device, *endpoint) {
	format := uvc.NewFormatConfig(nil)
	ep := &endpoint{
		no:    0,
		path:  "/dev/video-test",
		fd:    -1,
		queue: q,
		ctrl:  uvc.NewControlState(0, format, nil),
	}
	dev := &Device{
		cfg: config{
			logger:        zap.NewNop(),
			bufCount:      2,
			pollTimeout:   250 * time.Millisecond,
			heartbeat:     defaultHeartbeat,
			debugInterval: 30,
		},
		log:       zap.NewNop(),
		format:    format,
		endpoints: []*endpoint{ep},
		created:   time.Now(),
		state:     TaskStarted,
		done:      make(chan struct{}),
	}
	return dev, ep
}

// commitFormat drives the endpoint control plane through a commit so the
// data plane sees a negotiated format.
func commitFormat(dev *Device, ep *endpoint, formatIndex uint8) error {
	pkt := uvc.SetupPacket{
		RequestType: uvc.TypeClass | uvc.RecipInterface,
		Request:     uvc.SetCur,
		Value:       uint16(uvc.VSCommitControl) << 8,
		Index:       uvc.StreamingInterface,
		Length:      uvc.StreamingControlSize,
	}
	if resp := ep.ctrl.HandleSetup(pkt); resp == nil || resp.IsStall() {
		return fmt.Errorf("SET_CUR rejected")
	}

	src := uvc.StreamingControl{
		BmHint:          1,
		BFormatIndex:    formatIndex,
		BFrameIndex:     1,
		DwFrameInterval: 333333,
	}
	wire, _ := src.MarshalBinary()
	var data uvc.RequestData
	data.Length = int32(copy(data.Data[:], wire))

	commit, err := ep.ctrl.HandleData(data)
	if err != nil {
		return err
	}
	if commit != nil {
		return ep.queue.SetFormat(*commit)
	}
	return nil
}

// startStream allocates the fake buffer ring like a STREAMON event would.
func startStream(dev *Device, ep *endpoint) error {
	slots, err := acquireBuffers(ep.queue, dev.cfg.bufCount, dev.log)
	if err != nil {
		return err
	}
	ep.slots = slots
	return ep.queue.StreamOn()
}
