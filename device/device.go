package device

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	sys "golang.org/x/sys/unix"

	"github.com/vladimirvivien/go4uvc/logging"
	"github.com/vladimirvivien/go4uvc/metrics"
	"github.com/vladimirvivien/go4uvc/uvc"
	"github.com/vladimirvivien/go4uvc/v4l2"
)

// MaxEndpoints bounds the number of gadget character devices one Device
// may drive.
const MaxEndpoints = 32

const defaultHeartbeat = 10 * time.Second

// endpoint is the per-gadget-fd state: the open descriptor, the
// control-plane state machine, and the mapped buffer ring.
type endpoint struct {
	no    int
	path  string
	fd    int // -1 when closed
	queue kernelQueue
	ctrl  *uvc.ControlState

	slots  [][]byte
	currNo uint64

	stats Stats
}

// Device owns one set of gadget endpoints and their event task. All
// mutable state is serialized by mu: the event task holds it across each
// event handler, producers take it (try-lock) for the duration of one
// frame push, so control-plane and data-plane work never interleave on
// an endpoint.
type Device struct {
	cfg       config
	log       *zap.Logger
	endpoints []*endpoint
	format    *uvc.FormatConfig
	created   time.Time
	dumpID    string

	mu    sync.Mutex
	state TaskState
	done  chan struct{}
}

// New opens every gadget path, verifies video-output capability,
// subscribes to the gadget events and spawns the device event task.
// Partial failures roll back every endpoint opened so far.
func New(paths []string, opts ...Option) (*Device, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("device: no gadget paths")
	}
	if len(paths) > MaxEndpoints {
		return nil, fmt.Errorf("device: %d paths exceeds limit of %d", len(paths), MaxEndpoints)
	}

	cfg := config{
		logger:        zap.NewNop(),
		bufCount:      2,
		pollTimeout:   250 * time.Millisecond,
		heartbeat:     defaultHeartbeat,
		debugInterval: 30,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.formatConfig == nil {
		cfg.formatConfig = uvc.NewFormatConfig(cfg.logger)
	}

	dev := &Device{
		cfg:       cfg,
		log:       cfg.logger.Named("uvc-device"),
		format:    cfg.formatConfig,
		endpoints: make([]*endpoint, len(paths)),
		created:   time.Now(),
		dumpID:    uuid.NewString()[:8],
		state:     TaskStopped,
		done:      make(chan struct{}),
	}

	var grp errgroup.Group
	for i, path := range paths {
		i, path := i, path
		grp.Go(func() error {
			ep, err := dev.openEndpoint(i, path)
			if err != nil {
				return err
			}
			dev.endpoints[i] = ep
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		dev.closeEndpoints()
		return nil, fmt.Errorf("device: %w", err)
	}

	dev.setState(TaskStarting)
	go dev.task()

	dev.log.Info("created device",
		zap.Strings("paths", paths),
		zap.Time("created", dev.created))
	return dev, nil
}

// openEndpoint opens one gadget character device, verifies it and
// subscribes to the UVC gadget event set.
func (d *Device) openEndpoint(no int, path string) (*endpoint, error) {
	fd, err := v4l2.OpenDevice(path, sys.O_RDWR|sys.O_NONBLOCK, 0)
	if err != nil {
		return nil, err
	}

	cap, err := v4l2.GetCapability(fd)
	if err != nil {
		v4l2.CloseDevice(fd)
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if !cap.IsVideoOutputSupported() {
		v4l2.CloseDevice(fd)
		return nil, fmt.Errorf("%s: video output capability missing: %w", path, v4l2.ErrorUnsupportedFeature)
	}
	d.log.Info("opened gadget",
		zap.String("path", path),
		zap.String("capability", cap.String()),
		zap.Uint32("capabilities", cap.GetCapabilities()))

	events := []v4l2.EventType{
		uvc.EventConnect, uvc.EventDisconnect,
		uvc.EventStreamOn, uvc.EventStreamOff,
		uvc.EventSetup, uvc.EventData,
	}
	for _, ev := range events {
		if err := v4l2.SubscribeEvent(fd, ev); err != nil {
			v4l2.CloseDevice(fd)
			return nil, fmt.Errorf("%s: subscribe %s: %w", path, uvc.EventName(ev), err)
		}
	}

	return &endpoint{
		no:    no,
		path:  path,
		fd:    int(fd),
		queue: &gadgetQueue{fd: fd},
		ctrl:  uvc.NewControlState(no, d.format, d.log),
	}, nil
}

// Close stops the event task and tears the endpoints down: buffers are
// released (a zero-count request per endpoint) before the event
// unsubscription and the close, and the fds close in reverse open order.
// Close never issues STREAMOFF; only an explicit host event does.
func (d *Device) Close() error {
	d.joinTask()

	var errs []error
	if err := d.closeEndpoints(); err != nil {
		errs = append(errs, err)
	}
	d.log.Info("destroyed device")
	return errors.Join(errs...)
}

func (d *Device) closeEndpoints() error {
	var errs []error
	for i := len(d.endpoints) - 1; i >= 0; i-- {
		ep := d.endpoints[i]
		if ep == nil || ep.fd == -1 {
			continue
		}
		if err := releaseBuffers(ep.queue, ep.slots, d.log); err != nil {
			d.log.Error("release buffers", zap.String("path", ep.path), zap.Error(err))
			errs = append(errs, err)
		}
		ep.slots = nil
		if err := v4l2.UnsubscribeAllEvents(uintptr(ep.fd)); err != nil {
			d.log.Error("unsubscribe", zap.String("path", ep.path), zap.Error(err))
			errs = append(errs, err)
		}
		if err := v4l2.CloseDevice(uintptr(ep.fd)); err != nil {
			errs = append(errs, err)
		}
		ep.fd = -1
	}
	return errors.Join(errs...)
}

// State returns the task state.
func (d *Device) State() TaskState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Stats returns a snapshot of the endpoint's frame accounting.
func (d *Device) Stats(no int) Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	if no < 0 || no >= len(d.endpoints) || d.endpoints[no] == nil {
		return Stats{}
	}
	return d.endpoints[no].stats
}

// setState must not be called with mu held.
func (d *Device) setState(s TaskState) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
	d.reportState(s)
}

// transition moves from into to, unless another goroutine changed the
// state in between (a stop request racing task startup wins).
func (d *Device) transition(from, to TaskState) bool {
	d.mu.Lock()
	if d.state != from {
		d.mu.Unlock()
		return false
	}
	d.state = to
	d.mu.Unlock()
	d.reportState(to)
	return true
}

func (d *Device) reportState(s TaskState) {
	for _, ep := range d.endpoints {
		if ep != nil {
			metrics.TaskState.WithLabelValues(ep.path).Set(float64(s))
		}
	}
}

// joinTask asks the event task to stop and waits for it to exit. The
// task observes the state change within one poll quantum.
func (d *Device) joinTask() {
	d.mu.Lock()
	state := d.state
	if state == TaskStarting || state == TaskStarted {
		d.state = TaskStopping
	}
	d.mu.Unlock()

	if state == TaskStopped {
		return
	}
	<-d.done
	d.setState(TaskStopped)
	d.log.Info("joined device task")
}

// task is the device event loop: one epoll set over every endpoint fd,
// dispatching priority readiness to the event handlers under the device
// mutex.
func (d *Device) task() {
	defer close(d.done)

	epfd, err := sys.EpollCreate1(0)
	if err != nil {
		d.log.Error("epoll create", zap.Error(err))
		d.setState(TaskFailed)
		return
	}
	defer sys.Close(epfd)

	d.mu.Lock()
	for _, ep := range d.endpoints {
		if ep == nil || ep.fd == -1 {
			continue
		}
		event := sys.EpollEvent{
			Events: sys.EPOLLPRI | sys.EPOLLERR | sys.EPOLLHUP,
			Fd:     int32(ep.fd),
		}
		if err := sys.EpollCtl(epfd, sys.EPOLL_CTL_ADD, ep.fd, &event); err != nil {
			d.state = TaskFailed
			d.mu.Unlock()
			d.log.Error("epoll register", zap.String("path", ep.path), zap.Error(err))
			return
		}
		d.log.Info("listening for events", zap.String("path", ep.path), zap.Int("fd", ep.fd))
	}
	d.mu.Unlock()

	if d.transition(TaskStarting, TaskStarted) {
		d.log.Info("device task started")
	}

	events := make([]sys.EpollEvent, len(d.endpoints))
	timeoutMs := int(d.cfg.pollTimeout / time.Millisecond)
	lastBeat := time.Now()

	for cntr := uint64(0); ; cntr++ {
		d.mu.Lock()
		state := d.state
		d.mu.Unlock()
		if state == TaskStopping {
			d.log.Info("device task stopping")
			return
		}

		if elapsed := time.Since(lastBeat); elapsed > d.cfg.heartbeat {
			d.log.Debug("heartbeat", zap.Uint64("cntr", cntr))
			lastBeat = time.Now()
		}

		n, err := sys.EpollWait(epfd, events, timeoutMs)
		if err != nil {
			if errors.Is(err, sys.EINTR) {
				continue
			}
			d.log.Error("epoll wait", zap.Error(err))
			d.setState(TaskFailed)
			return
		}
		if n == 0 {
			continue
		}

		if err := d.dispatchEvents(events[:n]); err != nil {
			d.log.Error("event dispatch", zap.Error(err))
			d.setState(TaskFailed)
			return
		}
	}
}

// dispatchEvents routes each ready fd to its endpoint handler, holding
// the device mutex across the whole handler so a Probe/Commit exchange
// cannot interleave with a frame push.
func (d *Device) dispatchEvents(events []sys.EpollEvent) error {
	for _, ep := range d.endpoints {
		if ep == nil || ep.fd == -1 {
			continue
		}
		for _, ev := range events {
			if int(ev.Fd) != ep.fd {
				continue
			}
			if ev.Events&sys.EPOLLPRI != 0 {
				d.mu.Lock()
				err := d.handleEvents(ep)
				d.mu.Unlock()
				if err != nil {
					return err
				}
			} else {
				d.log.Error("unsupported epoll event",
					zap.String("path", ep.path), zap.Uint32("events", ev.Events))
			}
			break
		}
	}
	return nil
}

// handleEvents dequeues and services one gadget event. Called with the
// device mutex held.
func (d *Device) handleEvents(ep *endpoint) error {
	raw, err := ep.queue.DequeueEvent()
	if err != nil {
		return fmt.Errorf("%s: %w", ep.path, err)
	}

	d.log.Debug("event",
		zap.Int("endpoint", ep.no),
		zap.String("path", ep.path),
		zap.String("event", uvc.EventName(raw.Type)),
		zap.Uint32("sequence", raw.Sequence),
		zap.Duration("uptime", time.Since(d.created)))
	metrics.EventsTotal.WithLabelValues(ep.path, uvc.EventName(raw.Type)).Inc()

	event, err := uvc.ParseEvent(raw)
	if err != nil {
		// report "error" to the host side (stall transfer)
		d.log.Warn("unsupported event, stalling", zap.Error(err))
		return ep.queue.SendResponse(uvc.Stall())
	}

	switch ev := event.(type) {
	case uvc.ConnectEvent:
		d.log.Debug("connected", zap.Int("endpoint", ep.no))
		return nil
	case uvc.DisconnectEvent:
		d.log.Debug("disconnected", zap.Int("endpoint", ep.no))
		return nil
	case uvc.StreamOnEvent:
		return d.handleStreamOn(ep)
	case uvc.StreamOffEvent:
		return d.handleStreamOff(ep)
	case uvc.SetupEvent:
		if resp := ep.ctrl.HandleSetup(ev.Ctrl); resp != nil {
			d.logReply(resp)
			return ep.queue.SendResponse(*resp)
		}
		return nil
	case uvc.DataEvent:
		commit, err := ep.ctrl.HandleData(ev.Data)
		if err != nil {
			return fmt.Errorf("%s: %w", ep.path, err)
		}
		if commit != nil {
			return ep.queue.SetFormat(*commit)
		}
		return nil
	default:
		return nil
	}
}

func (d *Device) handleStreamOn(ep *endpoint) error {
	slots, err := acquireBuffers(ep.queue, d.cfg.bufCount, d.log)
	if err != nil {
		return fmt.Errorf("%s: %w", ep.path, err)
	}
	ep.slots = slots
	if err := ep.queue.StreamOn(); err != nil {
		return fmt.Errorf("%s: %w", ep.path, err)
	}
	d.log.Info("stream on", zap.String("path", ep.path), zap.Int("slots", len(slots)))
	return nil
}

func (d *Device) handleStreamOff(ep *endpoint) error {
	if err := ep.queue.StreamOff(); err != nil {
		return fmt.Errorf("%s: %w", ep.path, err)
	}
	if err := releaseBuffers(ep.queue, ep.slots, d.log); err != nil {
		return fmt.Errorf("%s: %w", ep.path, err)
	}
	ep.slots = nil
	d.log.Info("stream off", zap.String("path", ep.path))
	return nil
}

func (d *Device) logReply(resp *uvc.RequestData) {
	if ce := d.log.Check(zap.DebugLevel, "reply"); ce != nil {
		ce.Write(
			zap.Int32("length", resp.Length),
			zap.String("data", logging.Hexdump(resp.Payload(), 32)))
	}
}
