package v4l2

import (
	"unsafe"
)

// ioctl uses a 32-bit value to encode commands sent to the kernel for device control.
// Requests sent via ioctl uses a 32-bit value with the following layout:
// - lower 16 bits: ioctl command
// - Upper 14 bits: size of the parameter structure
// - MSB 2 bits: are reserved for indicating the ``access mode''.
// https://elixir.bootlin.com/linux/latest/source/include/uapi/asm-generic/ioctl.h

const (
	// ioctl op direction:
	// Write: userland is writing and kernel is reading.
	// Read:  userland is reading and kernel is writing.
	iocOpNone  = 0
	iocOpWrite = 1
	iocOpRead  = 2

	// ioctl command bit sizes
	iocTypeBits   = 8
	iocNumberBits = 8
	iocSizeBits   = 14
	iocOpBits     = 2

	// ioctl bit layout positions
	numberPos = 0
	typePos   = numberPos + iocNumberBits
	sizePos   = typePos + iocTypeBits
	opPos     = sizePos + iocSizeBits
)

// iocEnc encodes an ioctl command as a request value.
// See https://elixir.bootlin.com/linux/latest/source/include/uapi/asm-generic/ioctl.h#L69
func iocEnc(iocMode, iocType, number, size uintptr) uintptr {
	return (iocMode << opPos) | (iocType << typePos) | (number << numberPos) | (size << sizePos)
}

// iocEncRead encodes ioctl command where program reads result from kernel.
func iocEncRead(iocType, number, size uintptr) uintptr {
	return iocEnc(iocOpRead, iocType, number, size)
}

// iocEncWrite encodes ioctl command where program writes values read by the kernel.
func iocEncWrite(iocType, number, size uintptr) uintptr {
	return iocEnc(iocOpWrite, iocType, number, size)
}

// iocEncReadWrite encodes ioctl command for program reads and program writes.
func iocEncReadWrite(iocType, number, size uintptr) uintptr {
	return iocEnc(iocOpRead|iocOpWrite, iocType, number, size)
}

// V4L2 command request values for ioctl.
// https://elixir.bootlin.com/linux/latest/source/include/uapi/linux/videodev2.h#L2510
var (
	VidiocQueryCap         = iocEncRead('V', 0, unsafe.Sizeof(Capability{}))               // VIDIOC_QUERYCAP
	VidiocGetFormat        = iocEncReadWrite('V', 4, unsafe.Sizeof(Format{}))              // VIDIOC_G_FMT
	VidiocSetFormat        = iocEncReadWrite('V', 5, unsafe.Sizeof(Format{}))              // VIDIOC_S_FMT
	VidiocReqBufs          = iocEncReadWrite('V', 8, unsafe.Sizeof(RequestBuffers{}))      // VIDIOC_REQBUFS
	VidiocQueryBuf         = iocEncReadWrite('V', 9, unsafe.Sizeof(Buffer{}))              // VIDIOC_QUERYBUF
	VidiocQueueBuf         = iocEncReadWrite('V', 15, unsafe.Sizeof(Buffer{}))             // VIDIOC_QBUF
	VidiocDequeueBuf       = iocEncReadWrite('V', 17, unsafe.Sizeof(Buffer{}))             // VIDIOC_DQBUF
	VidiocStreamOn         = iocEncWrite('V', 18, unsafe.Sizeof(int32(0)))                 // VIDIOC_STREAMON
	VidiocStreamOff        = iocEncWrite('V', 19, unsafe.Sizeof(int32(0)))                 // VIDIOC_STREAMOFF
	VidiocDequeueEvent     = iocEncRead('V', 89, unsafe.Sizeof(Event{}))                   // VIDIOC_DQEVENT
	VidiocSubscribeEvent   = iocEncWrite('V', 90, unsafe.Sizeof(EventSubscription{}))      // VIDIOC_SUBSCRIBE_EVENT
	VidiocUnsubscribeEvent = iocEncWrite('V', 91, unsafe.Sizeof(EventSubscription{}))      // VIDIOC_UNSUBSCRIBE_EVENT
)

// IocEncWrite encodes a write-direction ioctl request value for a
// driver-private command (the uvc package uses it for UVCIOC_SEND_RESPONSE).
func IocEncWrite(iocType, number, size uintptr) uintptr {
	return iocEncWrite(iocType, number, size)
}

// Send sends a raw ioctl request to the kernel (via ioctl syscall).
func Send(fd, req, arg uintptr) error {
	return send(fd, req, arg)
}
