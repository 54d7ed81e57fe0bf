// Package metrics exposes prometheus instrumentation for the gadget
// controller. The per-endpoint statistics counters stay plain integers
// on the device (they participate in accounting invariants); these
// vectors mirror them for scraping.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Producer admission path.

	SinkFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uvc_gadget_sink_frames_total",
			Help: "Frames submitted by the producer, by device path",
		},
		[]string{"device"},
	)

	SinkBusyTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uvc_gadget_sink_busy_total",
			Help: "Frames dropped because the event thread held the device mutex",
		},
		[]string{"device"},
	)

	SinkDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uvc_gadget_sink_drops_total",
			Help: "Frames dropped before reaching the kernel queue",
		},
		[]string{"device"},
	)

	// Kernel buffer pump.

	BuffersQueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uvc_gadget_buffers_queued_total",
			Help: "VIDIOC_QBUF round trips, by device path",
		},
		[]string{"device"},
	)

	BuffersDequeuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uvc_gadget_buffers_dequeued_total",
			Help: "VIDIOC_DQBUF round trips, by device path",
		},
		[]string{"device"},
	)

	// Coordinator lifecycle.

	TaskState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "uvc_gadget_task_state",
			Help: "Device task state (0=stopped 1=starting 2=started 3=stopping 4=failed)",
		},
		[]string{"device"},
	)

	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uvc_gadget_events_total",
			Help: "Gadget events dequeued, by device path and event name",
		},
		[]string{"device", "event"},
	)

	// Proxy connection.

	ProxyNotifyTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uvc_gadget_proxy_notify_total",
			Help: "Frame notifications sent to the controller process",
		},
		[]string{"socket"},
	)

	ProxyDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uvc_gadget_proxy_drops_total",
			Help: "Frame notifications dropped on socket send failure",
		},
		[]string{"socket"},
	)
)
