package frame

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// streamSource models a transport with bytes already sitting in its buffer
// (stale) and bytes that only arrive once a read is waiting (incoming).
type streamSource struct {
	stale    []byte
	incoming []byte
	readErr  error
	resets   int
}

func (s *streamSource) Buffered() int { return len(s.stale) }

func (s *streamSource) ReadByte() (byte, error) {
	if len(s.stale) == 0 {
		return 0, errors.New("buffer empty")
	}
	b := s.stale[0]
	s.stale = s.stale[1:]
	return b, nil
}

func (s *streamSource) ReadFull(p []byte) (int, error) {
	if s.readErr != nil {
		return 0, s.readErr
	}
	s.stale = append(s.stale, s.incoming...)
	s.incoming = nil
	n := copy(p, s.stale)
	s.stale = s.stale[n:]
	return n, nil
}

type flushingSource struct {
	streamSource
}

func (s *flushingSource) ResetInputBuffer() error {
	s.resets++
	s.stale = nil
	return nil
}

func TestReader_AcquireFullFrame(t *testing.T) {
	want := pmsFrame(t, 77)
	src := &streamSource{incoming: want}

	got, err := NewReader(src, PMS5003Layout()).Acquire()
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("frame mismatch (-want +got):\n%s", diff)
	}
}

func TestReader_StaleBytesAreFlushed(t *testing.T) {
	fresh := pmsFrame(t, 300)
	junk := []byte{0x42, 0x4D, 0x00, 0x1C, 0xDE, 0xAD, 0xBE, 0xEF, 0x42}
	src := &streamSource{stale: junk, incoming: fresh}

	got, err := NewReader(src, PMS5003Layout()).Acquire()
	require.NoError(t, err)
	if diff := cmp.Diff(fresh, got); diff != "" {
		t.Fatalf("stale bytes leaked into frame (-want +got):\n%s", diff)
	}

	v, err := Validate(got, PMS5003Layout())
	require.NoError(t, err)
	require.Equal(t, Measurement(300), v)
}

func TestReader_UsesFlusher(t *testing.T) {
	fresh := pmsFrame(t, 5)
	src := &flushingSource{streamSource{stale: []byte{1, 2, 3}, incoming: fresh}}

	got, err := NewReader(src, PMS5003Layout()).Acquire()
	require.NoError(t, err)
	require.Equal(t, 1, src.resets)
	require.Equal(t, fresh, got)
}

func TestReader_IncompleteFrame(t *testing.T) {
	src := &streamSource{incoming: pmsFrame(t, 1)[:20]}

	_, err := NewReader(src, PMS5003Layout()).Acquire()
	require.ErrorIs(t, err, ErrIncompleteFrame)

	var te *TransportError
	require.True(t, errors.As(err, &te))
	require.Equal(t, 20, te.Got)
	require.Equal(t, 32, te.Want)
}

func TestReader_TransportError(t *testing.T) {
	eio := errors.New("input/output error")
	src := &streamSource{readErr: eio}

	_, err := NewReader(src, PMS5003Layout()).Acquire()
	require.ErrorIs(t, err, ErrTransport)
	require.ErrorIs(t, err, eio)
	require.NotErrorIs(t, err, ErrIncompleteFrame)
}

func TestReader_DoesNotShareLayout(t *testing.T) {
	l := PMS5003Layout()
	r := NewReader(&streamSource{}, l)
	l.Header[0] = 0x00

	require.Equal(t, byte(0x42), r.Layout().Header[0])
}
