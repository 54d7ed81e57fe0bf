package uvc

import (
	"fmt"
	"unsafe"

	sys "golang.org/x/sys/unix"

	"github.com/vladimirvivien/go4uvc/v4l2"
)

// RequestDataSize is the wire size of struct uvc_request_data.
const RequestDataSize = 64

// MaxRequestDataLength is the payload capacity of one control reply.
const MaxRequestDataLength = 60

// StallLength is the negative length sentinel that makes the gadget
// driver stall the control pipe instead of replying.
var StallLength = -int32(sys.EL2HLT)

// RequestData mirrors struct uvc_request_data: the payload of a control
// reply handed to the driver, or of a host data phase handed to us.
// https://elixir.bootlin.com/linux/latest/source/include/uapi/linux/usb/g_uvc.h
type RequestData struct {
	Length int32
	Data   [MaxRequestDataLength]byte
}

var _ [0]struct{} = [unsafe.Sizeof(RequestData{}) - RequestDataSize]struct{}{}

// UvciocSendResponse is the UVCIOC_SEND_RESPONSE ioctl request value,
// _IOW('U', 1, struct uvc_request_data).
var UvciocSendResponse = v4l2.IocEncWrite('U', 1, unsafe.Sizeof(RequestData{}))

// Stall returns a reply that stalls the control pipe.
func Stall() RequestData {
	return RequestData{Length: StallLength}
}

// IsStall reports whether the reply is a stall.
func (r *RequestData) IsStall() bool {
	return r.Length < 0
}

// Payload returns the valid portion of the data array.
func (r *RequestData) Payload() []byte {
	if r.Length <= 0 {
		return nil
	}
	n := int(r.Length)
	if n > len(r.Data) {
		n = len(r.Data)
	}
	return r.Data[:n]
}

// SendResponse hands a control reply (or stall) to the gadget driver.
func SendResponse(fd uintptr, resp RequestData) error {
	if err := v4l2.Send(fd, UvciocSendResponse, uintptr(unsafe.Pointer(&resp))); err != nil {
		return fmt.Errorf("send response: %w", err)
	}
	return nil
}
