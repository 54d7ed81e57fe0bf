/*
Package v4l2 provides the kernel ABI surface used by the UVC gadget
controller: ioctl plumbing for the V4L2 video-output path (format,
buffer request/queue/dequeue, stream on/off) and for the gadget event
queue (subscribe, dequeue).

All structures are hand-laid to match the 64-bit kernel layout and are
passed to the kernel directly, so the package compiles without cgo.
Compile-time assertions in types.go pin every structure size.
*/
package v4l2
