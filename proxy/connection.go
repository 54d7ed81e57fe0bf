package proxy

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"
	sys "golang.org/x/sys/unix"

	"github.com/vladimirvivien/go4uvc/device"
	"github.com/vladimirvivien/go4uvc/metrics"
)

// Socket timeouts. The controller is a same-machine peer; a stalled
// send or receive means it is wedged and frames should be dropped, not
// queued.
const (
	recvTimeout = 10 * 1000 // microseconds
	sendTimeout = 5 * 1000  // microseconds
)

// Connection is the producer-side client of a controller process that
// owns the gadget. On create it requests a shared-memory allocation and
// maps the frame slots; on every frame it writes one slot and sends a
// notify datagram.
type Connection struct {
	log     *zap.Logger
	id      string
	path    string
	fd      int
	index   uint64
	backing MemBacking

	memFD    int
	memName  string
	slotSize int
	slots    [][]byte

	currNo uint64
	dropNo uint64

	// bound records whether this side created the socket path and must
	// unlink it on destroy. The client never binds; controller-side
	// listeners built on the same wire helpers do.
	bound bool
}

// Connect dials the controller socket, performs the allocation handshake
// and maps the shared frame slots.
func Connect(path string, index uint64, backing MemBacking, log *zap.Logger) (*Connection, error) {
	if log == nil {
		log = zap.NewNop()
	}
	conn := &Connection{
		log:     log.Named("uvc-proxy").With(zap.String("socket", path), zap.Uint64("index", index)),
		id:      uuid.NewString()[:8],
		path:    path,
		fd:      -1,
		index:   index,
		backing: backing,
		memFD:   -1,
	}

	fd, err := socketCreate()
	if err != nil {
		return nil, fmt.Errorf("proxy connect: %w", err)
	}
	conn.fd = fd

	if err := sys.Connect(fd, &sys.SockaddrUnix{Name: path}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("proxy connect %s: %w", path, err)
	}

	if err := conn.setup(); err != nil {
		conn.Close()
		return nil, err
	}

	conn.log.Info("connected",
		zap.String("id", conn.id),
		zap.String("mem", conn.memName),
		zap.Int("mem_fd", conn.memFD),
		zap.Int("slots", len(conn.slots)),
		zap.Int("slot_size", conn.slotSize))
	return conn, nil
}

// socketCreate opens the unix stream socket with the receive and send
// timeouts applied.
func socketCreate() (int, error) {
	fd, err := sys.Socket(sys.AF_UNIX, sys.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}

	rtv := sys.Timeval{Usec: recvTimeout}
	if err := sys.SetsockoptTimeval(fd, sys.SOL_SOCKET, sys.SO_RCVTIMEO, &rtv); err != nil {
		sys.Close(fd)
		return -1, fmt.Errorf("socket recv timeout: %w", err)
	}
	stv := sys.Timeval{Usec: sendTimeout}
	if err := sys.SetsockoptTimeval(fd, sys.SOL_SOCKET, sys.SO_SNDTIMEO, &stv); err != nil {
		sys.Close(fd)
		return -1, fmt.Errorf("socket send timeout: %w", err)
	}
	return fd, nil
}

// setup runs the allocation handshake: send an alloc request, receive
// the reply together with the out-of-band shared-memory fd, and map the
// slots.
func (c *Connection) setup() error {
	req := Request{Alloc: true, Index: c.index}
	wire, err := req.MarshalBinary()
	if err != nil {
		return err
	}
	if err := sys.Sendto(c.fd, wire, 0, nil); err != nil {
		return fmt.Errorf("proxy setup: send request: %w", err)
	}

	// the receive timeout is sized for steady state; give the controller
	// a bounded number of timeout quanta to answer the handshake
	var reply Reply
	var memFD int
	for attempt := 0; ; attempt++ {
		reply, memFD, err = recvReply(c.fd)
		if err == nil {
			break
		}
		if attempt < 100 && (errors.Is(err, sys.EAGAIN) || errors.Is(err, sys.EWOULDBLOCK)) {
			continue
		}
		return fmt.Errorf("proxy setup: %w", err)
	}

	c.memFD = memFD
	c.memName = reply.MemName
	c.slotSize = int(reply.SlotSize)

	if reply.SlotNum == 0 || reply.SlotNum > MemMaxSlots || reply.SlotSize == 0 {
		return fmt.Errorf("proxy setup: bad shared memory layout: %d slots of %d bytes",
			reply.SlotNum, reply.SlotSize)
	}

	for i := 0; i < int(reply.SlotNum); i++ {
		addr, err := c.backing.Map(c.memFD, int64(i)*int64(c.slotSize), c.slotSize)
		if err != nil {
			c.unmapSlots()
			return fmt.Errorf("proxy setup: slot %d: %w", i, err)
		}
		c.slots = append(c.slots, addr)
	}
	return nil
}

// recvReply receives the 64-byte reply; the shared-memory fd travels as
// an SCM_RIGHTS ancillary message (a fd cannot traverse the stream
// in-band) and overwrites the wire copy.
func recvReply(fd int) (Reply, int, error) {
	wire := make([]byte, ReplySize)
	oob := make([]byte, sys.CmsgSpace(4))

	n, oobn, _, _, err := sys.Recvmsg(fd, wire, oob, 0)
	if err != nil {
		return Reply{}, -1, fmt.Errorf("recvmsg: %w", err)
	}

	var reply Reply
	if err := reply.UnmarshalBinary(wire[:n]); err != nil {
		return Reply{}, -1, err
	}

	cmsgs, err := sys.ParseSocketControlMessage(oob[:oobn])
	if err != nil || len(cmsgs) == 0 {
		return Reply{}, -1, fmt.Errorf("reply carried no control message: %w", err)
	}
	fds, err := sys.ParseUnixRights(&cmsgs[0])
	if err != nil || len(fds) == 0 {
		return Reply{}, -1, fmt.Errorf("reply carried no fd: %w", err)
	}

	reply.MemFD = int32(fds[0])
	return reply, fds[0], nil
}

// SinkData writes one producer frame into the current shared slot and
// announces it to the controller. A send failure drops the frame and
// keeps the connection; the controller may simply be slow.
func (c *Connection) SinkData(frame device.Frame) int {
	dst := c.slots[c.currNo%uint64(len(c.slots))]
	written := frame.Fill(dst)

	notify := Notify{
		CurrNo:      c.currNo,
		BytesUsed:   uint64(written),
		TimestampUs: uint64(frame.PTS().Microseconds()),
	}
	wire, _ := notify.MarshalBinary()

	if err := sys.Sendto(c.fd, wire, 0, nil); err != nil {
		c.dropNo++
		metrics.ProxyDropsTotal.WithLabelValues(c.path).Inc()
		c.log.Warn("notify dropped",
			zap.Uint64("drop_no", c.dropNo),
			zap.Uint64("curr_no", c.currNo),
			zap.Error(err))
		return 0
	}

	metrics.ProxyNotifyTotal.WithLabelValues(c.path).Inc()
	c.currNo++
	return 0
}

// Drops returns the number of notify datagrams dropped so far.
func (c *Connection) Drops() uint64 { return c.dropNo }

// Close unmaps the slots, closes the shared-memory fd and the socket,
// and unlinks the socket path if this side created it.
func (c *Connection) Close() error {
	var errs []error

	c.unmapSlots()
	if c.memFD != -1 {
		if err := sys.Close(c.memFD); err != nil {
			errs = append(errs, fmt.Errorf("close mem fd: %w", err))
		}
		c.memFD = -1
	}
	if c.fd != -1 {
		if err := sys.Close(c.fd); err != nil {
			errs = append(errs, fmt.Errorf("close socket: %w", err))
		}
		c.fd = -1
	}
	if c.bound {
		if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("unlink socket: %w", err))
		}
	}
	c.log.Info("closed", zap.String("id", c.id))
	return errors.Join(errs...)
}

func (c *Connection) unmapSlots() {
	for i := len(c.slots) - 1; i >= 0; i-- {
		if c.slots[i] == nil {
			continue
		}
		if err := c.backing.Unmap(c.slots[i]); err != nil {
			c.log.Error("unmap slot", zap.Int("slot", i), zap.Error(err))
		}
		c.slots[i] = nil
	}
	c.slots = nil
}
