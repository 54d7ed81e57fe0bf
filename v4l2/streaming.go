package v4l2

import (
	"fmt"
	"unsafe"

	sys "golang.org/x/sys/unix"
)

// Streaming with video-output buffers.
// See https://www.kernel.org/doc/html/latest/userspace-api/media/v4l/buffer.html

// StreamOn requests streaming to be turned on for the video-output queue.
// https://www.kernel.org/doc/html/latest/userspace-api/media/v4l/vidioc-streamon.html
func StreamOn(fd uintptr) error {
	bufType := int32(BufTypeVideoOutput)
	if err := send(fd, VidiocStreamOn, uintptr(unsafe.Pointer(&bufType))); err != nil {
		return fmt.Errorf("stream on: %w", err)
	}
	return nil
}

// StreamOff requests streaming to be turned off for the video-output queue.
func StreamOff(fd uintptr) error {
	bufType := int32(BufTypeVideoOutput)
	if err := send(fd, VidiocStreamOff, uintptr(unsafe.Pointer(&bufType))); err != nil {
		return fmt.Errorf("stream off: %w", err)
	}
	return nil
}

// InitOutputBuffers requests count MMAP buffers on the video-output queue
// via VIDIOC_REQBUFS. The kernel may grant fewer buffers than requested;
// the returned structure carries the granted count.
// https://www.kernel.org/doc/html/latest/userspace-api/media/v4l/vidioc-reqbufs.html
func InitOutputBuffers(fd uintptr, count uint32) (RequestBuffers, error) {
	var req RequestBuffers
	req.Count = count
	req.StreamType = BufTypeVideoOutput
	req.Memory = IOTypeMMAP

	if err := send(fd, VidiocReqBufs, uintptr(unsafe.Pointer(&req))); err != nil {
		return RequestBuffers{}, fmt.Errorf("request buffers: %w", err)
	}
	if req.Count == 0 {
		return RequestBuffers{}, fmt.Errorf("request buffers: no buffers available")
	}

	return req, nil
}

// ReleaseOutputBuffers returns all buffers to the kernel with a
// zero-count VIDIOC_REQBUFS.
func ReleaseOutputBuffers(fd uintptr) error {
	var req RequestBuffers
	req.Count = 0
	req.StreamType = BufTypeVideoOutput
	req.Memory = IOTypeMMAP

	if err := send(fd, VidiocReqBufs, uintptr(unsafe.Pointer(&req))); err != nil {
		return fmt.Errorf("release buffers: %w", err)
	}
	return nil
}

// GetOutputBuffer retrieves buffer info for the allocated buffer at the
// provided index via VIDIOC_QUERYBUF. The returned Flags expose the
// queued/done state, Info.Offset the mmap offset.
func GetOutputBuffer(fd uintptr, index uint32) (Buffer, error) {
	var buf Buffer
	buf.StreamType = BufTypeVideoOutput
	buf.Memory = IOTypeMMAP
	buf.Index = index

	if err := send(fd, VidiocQueryBuf, uintptr(unsafe.Pointer(&buf))); err != nil {
		return Buffer{}, fmt.Errorf("query buffer: index %d: %w", index, err)
	}

	return buf, nil
}

// MapMemoryBuffer creates a local buffer mapped to the address space of
// the device specified by fd.
func MapMemoryBuffer(fd uintptr, offset int64, len int) ([]byte, error) {
	data, err := sys.Mmap(int(fd), offset, len, sys.PROT_READ|sys.PROT_WRITE, sys.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("map memory buffer: %w", err)
	}
	return data, nil
}

// UnmapMemoryBuffer removes a buffer that was previously mapped.
func UnmapMemoryBuffer(buf []byte) error {
	if err := sys.Munmap(buf); err != nil {
		return fmt.Errorf("unmap memory buffer: %w", err)
	}
	return nil
}

// QueueOutputBuffer enqueues a filled buffer on the video-output queue via
// VIDIOC_QBUF. bytesUsed is reported to the driver as-is; the timestamp
// carries the producer's presentation time.
// An EAGAIN from the driver is returned unmapped so that callers can treat
// it as a drop rather than a failure.
func QueueOutputBuffer(fd uintptr, index, bytesUsed uint32, timestamp sys.Timeval) (Buffer, error) {
	var buf Buffer
	buf.StreamType = BufTypeVideoOutput
	buf.Memory = IOTypeMMAP
	buf.Index = index
	buf.BytesUsed = bytesUsed
	buf.Field = FieldNone
	buf.Timestamp = timestamp

	if err := send(fd, VidiocQueueBuf, uintptr(unsafe.Pointer(&buf))); err != nil {
		return Buffer{}, fmt.Errorf("buffer queue: index %d: %w", index, err)
	}

	return buf, nil
}

// DequeueOutputBuffer dequeues a consumed buffer from the video-output
// queue via VIDIOC_DQBUF. An EAGAIN means the driver has nothing ready.
func DequeueOutputBuffer(fd uintptr) (Buffer, error) {
	var buf Buffer
	buf.StreamType = BufTypeVideoOutput
	buf.Memory = IOTypeMMAP

	if err := send(fd, VidiocDequeueBuf, uintptr(unsafe.Pointer(&buf))); err != nil {
		return Buffer{}, fmt.Errorf("buffer dequeue: %w", err)
	}

	return buf, nil
}
