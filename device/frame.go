package device

import "time"

// Frame is the producer contract. The controller never looks inside the
// producer's payload: it asks the frame to copy itself into a mapped
// buffer slot, or tells it that it was dropped.
type Frame interface {
	// Fill copies the frame payload into dst, up to len(dst) bytes, and
	// returns the number of bytes written.
	Fill(dst []byte) int
	// PTS returns the presentation timestamp of the frame.
	PTS() time.Duration
	// Drop informs the producer that the frame will not be delivered.
	Drop()
}
