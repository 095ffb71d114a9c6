package frame

// Source is the byte transport a Reader pulls frames from.
type Source interface {
	// Buffered returns the number of bytes that can be read without waiting.
	Buffered() int
	// ReadByte reads a single already buffered byte.
	ReadByte() (byte, error)
	// ReadFull reads up to len(p) bytes, waiting at most the transport's
	// read timeout. A short count with a nil error means the wait expired.
	ReadFull(p []byte) (int, error)
}

// Flusher is implemented by sources that can discard their input buffer in
// one call, such as a serial port.
type Flusher interface {
	ResetInputBuffer() error
}

// Reader acquires one frame per call from a Source.
type Reader struct {
	src    Source
	layout Layout
}

// NewReader returns a Reader for frames described by l.
func NewReader(src Source, l Layout) *Reader {
	return &Reader{src: src, layout: l.Clone()}
}

// Layout returns the layout the reader was built with.
func (r *Reader) Layout() Layout { return r.layout.Clone() }

// Acquire drops any stale input and then reads exactly one frame. Failures
// are returned as *TransportError; nothing is retried.
func (r *Reader) Acquire() (Frame, error) {
	want := r.layout.Length
	if err := r.flush(); err != nil {
		return nil, &TransportError{Reason: ReasonTransport, Want: want, Err: err}
	}

	buf := make(Frame, want)
	n, err := r.src.ReadFull(buf)
	if err != nil {
		return nil, &TransportError{Reason: ReasonTransport, Got: n, Want: want, Err: err}
	}
	if n < want {
		return nil, &TransportError{Reason: ReasonIncomplete, Got: n, Want: want}
	}
	return buf, nil
}

// flush discards bytes that were buffered before this read began. Only the
// bytes present at the start are dropped so a transport that keeps
// producing cannot hold the reader here.
func (r *Reader) flush() error {
	if f, ok := r.src.(Flusher); ok {
		return f.ResetInputBuffer()
	}
	for stale := r.src.Buffered(); stale > 0; stale-- {
		if _, err := r.src.ReadByte(); err != nil {
			return err
		}
	}
	return nil
}
