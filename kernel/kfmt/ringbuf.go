package kfmt

import "io"

// ringBufferSize defines the size of the buffer that captures early Printf
// output. It must be a power of 2.
const ringBufferSize = 2048

// ringBuffer is a fixed-size ring that buffers Printf output until the host
// installs an output sink. Once the buffer fills up the oldest data is
// overwritten.
type ringBuffer struct {
	data           [ringBufferSize]byte
	rIndex, wIndex int
}

// Write appends p to the ring buffer, dropping the oldest bytes on overflow.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		rb.data[rb.wIndex] = b
		rb.wIndex = (rb.wIndex + 1) & (ringBufferSize - 1)
		if rb.rIndex == rb.wIndex {
			rb.rIndex = (rb.rIndex + 1) & (ringBufferSize - 1)
		}
	}

	return len(p), nil
}

// Read copies up to len(p) buffered bytes into p. It returns io.EOF once all
// buffered data has been consumed.
func (rb *ringBuffer) Read(p []byte) (int, error) {
	var n int

	switch {
	case rb.rIndex < rb.wIndex:
		n = rb.wIndex - rb.rIndex
		if len(p) < n {
			n = len(p)
		}

		copy(p, rb.data[rb.rIndex:rb.rIndex+n])
		rb.rIndex += n

		return n, nil
	case rb.rIndex > rb.wIndex:
		// The write index has wrapped around; drain the tail first.
		n = ringBufferSize - rb.rIndex
		if len(p) < n {
			n = len(p)
		}

		copy(p, rb.data[rb.rIndex:rb.rIndex+n])
		rb.rIndex = (rb.rIndex + n) & (ringBufferSize - 1)

		return n, nil
	default:
		return 0, io.EOF
	}
}
