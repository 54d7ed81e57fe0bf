package v4l2

import (
	"fmt"
	"unsafe"
)

// Event subscription and dequeue support for the gadget event queue.
//
// The UVC gadget driver surfaces USB control traffic as driver-private
// V4L2 events; this file carries only the generic plumbing, the private
// event types live in the uvc package.
//
// See: https://www.kernel.org/doc/html/latest/userspace-api/media/v4l/vidioc-subscribe-event.html
// See: https://www.kernel.org/doc/html/latest/userspace-api/media/v4l/vidioc-dqevent.html

// SubscribeEvent subscribes the fd to an event type.
func SubscribeEvent(fd uintptr, eventType EventType) error {
	sub := EventSubscription{Type: eventType}
	if err := send(fd, VidiocSubscribeEvent, uintptr(unsafe.Pointer(&sub))); err != nil {
		return fmt.Errorf("subscribe event: type 0x%08x: %w", eventType, err)
	}
	return nil
}

// UnsubscribeAllEvents removes every event subscription on the fd.
func UnsubscribeAllEvents(fd uintptr) error {
	sub := EventSubscription{Type: EventAll}
	if err := send(fd, VidiocUnsubscribeEvent, uintptr(unsafe.Pointer(&sub))); err != nil {
		return fmt.Errorf("unsubscribe events: %w", err)
	}
	return nil
}

// DequeueEvent dequeues one pending event. Callers should only invoke it
// after the device fd signals priority readiness.
func DequeueEvent(fd uintptr) (Event, error) {
	var event Event
	if err := send(fd, VidiocDequeueEvent, uintptr(unsafe.Pointer(&event))); err != nil {
		return Event{}, fmt.Errorf("dequeue event: %w", err)
	}
	return event, nil
}
