package v4l2

import (
	"fmt"
	"unsafe"
)

// GetCapability retrieves device capability info via VIDIOC_QUERYCAP.
// https://www.kernel.org/doc/html/latest/userspace-api/media/v4l/vidioc-querycap.html
func GetCapability(fd uintptr) (Capability, error) {
	var cap Capability
	if err := send(fd, VidiocQueryCap, uintptr(unsafe.Pointer(&cap))); err != nil {
		return Capability{}, fmt.Errorf("capability: %w", err)
	}
	return cap, nil
}

// Driver returns the name of the driver backing the device.
func (c Capability) Driver() string {
	return toGoString(c.driver[:])
}

// Card returns the name of the device.
func (c Capability) Card() string {
	return toGoString(c.card[:])
}

// BusInfo returns the location of the device in the system.
func (c Capability) BusInfo() string {
	return toGoString(c.busInfo[:])
}

// GetCapabilities returns the device-specific capability flags when the
// driver reports them, the driver-wide flags otherwise.
func (c Capability) GetCapabilities() uint32 {
	if c.Capabilities&CapDeviceCapabilities != 0 {
		return c.DeviceCaps
	}
	return c.Capabilities
}

// IsVideoOutputSupported reports whether the device supports the
// single-planar video output API. A UVC gadget endpoint must.
func (c Capability) IsVideoOutputSupported() bool {
	return c.GetCapabilities()&CapVideoOutput != 0
}

// IsStreamingSupported reports whether the device supports streaming IO.
func (c Capability) IsStreamingSupported() bool {
	return c.GetCapabilities()&CapStreaming != 0
}

func (c Capability) String() string {
	return fmt.Sprintf("driver: %s; card: %s; bus info: %s", c.Driver(), c.Card(), c.BusInfo())
}

func toGoString(b []byte) string {
	for i, v := range b {
		if v == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
