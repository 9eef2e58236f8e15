package audio

const (
	DefaultFirstChunkSize  = 158
	DefaultSteadyChunkSize = 4096
)

// Accumulator collects converted PCM bytes and cuts them into chunks of a fixed
// size. The first chunk of a session may use a smaller threshold so consumers
// get audio sooner.
//
// Accumulator is not safe for concurrent use; the capture session serializes
// access to it.
type Accumulator struct {
	firstThreshold  int
	steadyThreshold int
	firstEmitted    bool
	buf             []byte
}

// NewAccumulator returns an accumulator with the given thresholds. A
// non-positive steady threshold uses DefaultSteadyChunkSize and a non-positive
// first threshold falls back to the steady one.
func NewAccumulator(firstThreshold, steadyThreshold int) *Accumulator {
	if steadyThreshold <= 0 {
		steadyThreshold = DefaultSteadyChunkSize
	}
	if firstThreshold <= 0 {
		firstThreshold = steadyThreshold
	}
	return &Accumulator{
		firstThreshold:  firstThreshold,
		steadyThreshold: steadyThreshold,
		buf:             make([]byte, 0, steadyThreshold*2),
	}
}

// Append buffers p and returns every chunk that became complete, in order.
// Bytes beyond the last complete chunk stay buffered for the next call.
func (a *Accumulator) Append(p []byte) [][]byte {
	a.buf = append(a.buf, p...)

	var chunks [][]byte
	for {
		threshold := a.threshold()
		if len(a.buf) < threshold {
			break
		}
		chunk := make([]byte, threshold)
		copy(chunk, a.buf[:threshold])
		chunks = append(chunks, chunk)

		// Shift the overflow down instead of clearing so nothing is lost.
		n := copy(a.buf, a.buf[threshold:])
		a.buf = a.buf[:n]
		a.firstEmitted = true
	}
	return chunks
}

// Flush returns whatever is still buffered as a final chunk and empties the
// buffer. It returns nil when nothing is buffered.
func (a *Accumulator) Flush() []byte {
	if len(a.buf) == 0 {
		return nil
	}
	out := make([]byte, len(a.buf))
	copy(out, a.buf)
	a.buf = a.buf[:0]
	return out
}

// Reset drops buffered bytes and re-arms the first-chunk threshold.
func (a *Accumulator) Reset() {
	a.buf = a.buf[:0]
	a.firstEmitted = false
}

// Len returns the number of buffered bytes.
func (a *Accumulator) Len() int {
	return len(a.buf)
}

// FirstEmitted reports whether a chunk has been cut since the last Reset.
func (a *Accumulator) FirstEmitted() bool {
	return a.firstEmitted
}

func (a *Accumulator) threshold() int {
	if a.firstEmitted {
		return a.steadyThreshold
	}
	return a.firstThreshold
}
