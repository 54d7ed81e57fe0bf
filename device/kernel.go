package device

import (
	sys "golang.org/x/sys/unix"

	"github.com/vladimirvivien/go4uvc/uvc"
	"github.com/vladimirvivien/go4uvc/v4l2"
)

// kernelQueue abstracts the per-endpoint kernel round trips made by the
// event and data handlers, so the pump and protocol wiring can be
// exercised without a gadget device.
type kernelQueue interface {
	InitBuffers(count uint32) (uint32, error)
	ReleaseBuffers() error
	QueryBuffer(index uint32) (v4l2.Buffer, error)
	MapBuffer(offset int64, length int) ([]byte, error)
	UnmapBuffer(buf []byte) error
	QueueBuffer(index, bytesUsed uint32, timestamp sys.Timeval) error
	DequeueBuffer() (v4l2.Buffer, error)
	StreamOn() error
	StreamOff() error
	SetFormat(commit uvc.FormatCommit) error
	SendResponse(resp uvc.RequestData) error
	DequeueEvent() (v4l2.Event, error)
}

// gadgetQueue is the kernelQueue over a real gadget fd.
type gadgetQueue struct {
	fd uintptr
}

func (g *gadgetQueue) InitBuffers(count uint32) (uint32, error) {
	req, err := v4l2.InitOutputBuffers(g.fd, count)
	if err != nil {
		return 0, err
	}
	return req.Count, nil
}

func (g *gadgetQueue) ReleaseBuffers() error {
	return v4l2.ReleaseOutputBuffers(g.fd)
}

func (g *gadgetQueue) QueryBuffer(index uint32) (v4l2.Buffer, error) {
	return v4l2.GetOutputBuffer(g.fd, index)
}

func (g *gadgetQueue) MapBuffer(offset int64, length int) ([]byte, error) {
	return v4l2.MapMemoryBuffer(g.fd, offset, length)
}

func (g *gadgetQueue) UnmapBuffer(buf []byte) error {
	return v4l2.UnmapMemoryBuffer(buf)
}

func (g *gadgetQueue) QueueBuffer(index, bytesUsed uint32, timestamp sys.Timeval) error {
	_, err := v4l2.QueueOutputBuffer(g.fd, index, bytesUsed, timestamp)
	return err
}

func (g *gadgetQueue) DequeueBuffer() (v4l2.Buffer, error) {
	return v4l2.DequeueOutputBuffer(g.fd)
}

func (g *gadgetQueue) StreamOn() error {
	return v4l2.StreamOn(g.fd)
}

func (g *gadgetQueue) StreamOff() error {
	return v4l2.StreamOff(g.fd)
}

func (g *gadgetQueue) SetFormat(commit uvc.FormatCommit) error {
	return v4l2.SetPixFormatOutput(g.fd, v4l2.PixFormat{
		Width:       commit.Width,
		Height:      commit.Height,
		PixelFormat: commit.FourCC,
		Field:       v4l2.FieldNone,
		SizeImage:   commit.SizeImage,
	})
}

func (g *gadgetQueue) SendResponse(resp uvc.RequestData) error {
	return uvc.SendResponse(g.fd, resp)
}

func (g *gadgetQueue) DequeueEvent() (v4l2.Event, error) {
	return v4l2.DequeueEvent(g.fd)
}
