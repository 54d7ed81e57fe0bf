package device

import (
	"fmt"

	"go.uber.org/zap"
)

// acquireBuffers requests count MMAP slots on the output queue and maps
// each into the address space. On any failure every mapping made so far
// is undone and the kernel request is released, so the endpoint is left
// without buffers.
func acquireBuffers(q kernelQueue, count uint32, log *zap.Logger) ([][]byte, error) {
	granted, err := q.InitBuffers(count)
	if err != nil {
		return nil, fmt.Errorf("acquire buffers: %w", err)
	}
	if granted != count {
		log.Warn("allocated fewer buffers than requested",
			zap.Uint32("requested", count), zap.Uint32("allocated", granted))
	}

	slots := make([][]byte, 0, granted)
	for i := uint32(0); i < granted; i++ {
		buf, err := q.QueryBuffer(i)
		if err != nil {
			unmapSlots(q, slots, log)
			if rerr := q.ReleaseBuffers(); rerr != nil {
				log.Error("release after failed query", zap.Error(rerr))
			}
			return nil, fmt.Errorf("acquire buffers: %w", err)
		}

		addr, err := q.MapBuffer(int64(buf.Info.Offset), int(buf.Length))
		if err != nil {
			unmapSlots(q, slots, log)
			if rerr := q.ReleaseBuffers(); rerr != nil {
				log.Error("release after failed map", zap.Error(rerr))
			}
			return nil, fmt.Errorf("acquire buffers: map slot %d: %w", i, err)
		}

		log.Info("mapped buffer",
			zap.Uint32("index", i),
			zap.Uint32("offset", buf.Info.Offset),
			zap.Int("size", len(addr)))
		slots = append(slots, addr)
	}

	return slots, nil
}

// releaseBuffers unmaps every slot and returns the buffers to the kernel
// with a zero-count request. Individual unmap failures are logged and
// skipped so the kernel release always runs.
func releaseBuffers(q kernelQueue, slots [][]byte, log *zap.Logger) error {
	unmapSlots(q, slots, log)

	if err := q.ReleaseBuffers(); err != nil {
		return fmt.Errorf("release buffers: %w", err)
	}
	return nil
}

// unmapSlots unmaps in reverse of mapping order.
func unmapSlots(q kernelQueue, slots [][]byte, log *zap.Logger) {
	for i := len(slots) - 1; i >= 0; i-- {
		if slots[i] == nil {
			continue
		}
		if err := q.UnmapBuffer(slots[i]); err != nil {
			log.Error("unmap failed", zap.Int("index", i), zap.Error(err))
			continue
		}
		slots[i] = nil
	}
}
