package device

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	sys "golang.org/x/sys/unix"

	"github.com/vladimirvivien/go4uvc/metrics"
	"github.com/vladimirvivien/go4uvc/uvc"
	"github.com/vladimirvivien/go4uvc/v4l2"
)

// SinkData submits one producer frame to the endpoint. It never blocks:
// if the event task holds the device mutex the frame is counted as busy
// and dropped, which is the backpressure contract toward the producer.
//
// Returns 0 when the frame was accepted or dropped (a frame arriving while
// the task is still starting is dropped), -1 when the device is unusable.
// The transient code 1 is never returned.
func (d *Device) SinkData(no int, frame Frame) int {
	if no < 0 || no >= len(d.endpoints) || d.endpoints[no] == nil {
		return -1
	}
	ep := d.endpoints[no]

	if !d.mu.TryLock() {
		d.log.Warn("busy, dropping frame",
			zap.Uint64("busy_no", ep.stats.SinkBusyNo),
			zap.Uint64("drop_no", ep.stats.SinkDropNo),
			zap.Uint64("data_no", ep.stats.SinkDataNo))
		ep.stats.SinkBusyNo++
		metrics.SinkBusyTotal.WithLabelValues(ep.path).Inc()
		ep.stats.SinkDropNo++
		ep.stats.SinkDataNo++
		metrics.SinkDropsTotal.WithLabelValues(ep.path).Inc()
		metrics.SinkFramesTotal.WithLabelValues(ep.path).Inc()
		return 0
	}

	status := 0
	switch d.state {
	case TaskFailed, TaskStopped, TaskStopping:
		status = -1
	case TaskStarting:
		// soft busy: the task is coming up, drop and carry on
		status = 1
	case TaskStarted:
		status = d.handleData(ep, frame)
	}
	d.mu.Unlock()

	dropped := status != 0
	if status > 0 {
		status = 0
	}
	if dropped {
		ep.stats.SinkDropNo++
		metrics.SinkDropsTotal.WithLabelValues(ep.path).Inc()
	}
	ep.stats.SinkDataNo++
	metrics.SinkFramesTotal.WithLabelValues(ep.path).Inc()
	return status
}

// handleData runs one pump cycle with the device mutex held: pick the
// slot at currNo mod slot count, skip it while the kernel still owns it,
// reclaim it when done, fill, and requeue.
//
// Returns 0 delivered, 1 dropped, -1 fatal.
func (d *Device) handleData(ep *endpoint, frame Frame) int {
	ep.stats.DataNo++

	// stream is not on
	if len(ep.slots) == 0 {
		return d.dropData(ep, frame)
	}

	index := uint32(ep.currNo % uint64(len(ep.slots)))

	buf, err := ep.queue.QueryBuffer(index)
	if err != nil {
		d.log.Error("query buffer", zap.String("path", ep.path), zap.Error(err))
		return -1
	}

	queued := buf.Flags&v4l2.BufFlagQueued != 0
	done := buf.Flags&v4l2.BufFlagDone != 0
	d.log.Debug("pump",
		zap.Uint64("curr_no", ep.currNo),
		zap.Uint32("index", index),
		zap.Bool("queued", queued),
		zap.Bool("done", done),
		zap.Uint64("qbuf_no", ep.stats.QbufNo),
		zap.Uint64("dqbuf_no", ep.stats.DqbufNo))

	// slot is still in the kernel's hands
	if queued {
		return d.dropData(ep, frame)
	}

	if done {
		if _, err := ep.queue.DequeueBuffer(); err != nil {
			if errors.Is(err, sys.EAGAIN) {
				// not ready, benign
			} else {
				d.log.Error("dequeue buffer", zap.String("path", ep.path), zap.Error(err))
				return -1
			}
		} else {
			ep.stats.DqbufNo++
			metrics.BuffersDequeuedTotal.WithLabelValues(ep.path).Inc()
		}
	}

	slot := ep.slots[index]
	written := frame.Fill(slot)

	bytesUsed := uint32(written)
	ctrl := ep.ctrl.CurrentControl()
	format, haveFormat := d.format.Catalog.Format(d.format.Current.Format)
	if haveFormat && ctrl != nil && !uvc.IsCompressed(format.FourCC) {
		// The UVC host driver discards uncompressed frames whose size
		// differs from the negotiated dwMaxVideoFrameSize
		// (drivers/media/usb/uvc/uvc_video.c).
		bytesUsed = ctrl.DwMaxVideoFrameSize
	}

	timestamp := sys.NsecToTimeval(frame.PTS().Nanoseconds())
	if err := ep.queue.QueueBuffer(index, bytesUsed, timestamp); err != nil {
		if errors.Is(err, sys.EAGAIN) {
			return d.dropData(ep, frame)
		}
		d.log.Error("queue buffer", zap.String("path", ep.path), zap.Error(err))
		return -1
	}
	ep.stats.QbufNo++
	metrics.BuffersQueuedTotal.WithLabelValues(ep.path).Inc()
	ep.currNo++

	d.dumpFrame(ep, slot[:min(written, len(slot))])
	return 0
}

// dropData hands the frame back to the producer and accounts the drop.
func (d *Device) dropData(ep *endpoint, frame Frame) int {
	frame.Drop()
	ep.stats.DataDropNo++
	d.log.Debug("drop",
		zap.Uint64("data_drop", ep.stats.DataDropNo),
		zap.Uint64("data_no", ep.stats.DataNo))
	return 1
}

// dumpFrame writes every Nth delivered frame into the debug directory.
func (d *Device) dumpFrame(ep *endpoint, payload []byte) {
	if d.cfg.debugDir == "" || d.cfg.debugInterval == 0 || ep.stats.QbufNo%d.cfg.debugInterval != 0 {
		return
	}
	name := fmt.Sprintf("%s-ep%d-%08d.raw", d.dumpID, ep.no, ep.stats.QbufNo)
	path := filepath.Join(d.cfg.debugDir, name)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		d.log.Warn("frame dump failed", zap.String("path", path), zap.Error(err))
	}
}
