package pms

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newFrame builds a well-formed frame with the given >=2.5um and >=10um counts.
func newFrame(gt25, gt100 uint16) []byte {
	f := make([]byte, FrameLen)
	f[0], f[1] = startByte1, startByte2
	binary.BigEndian.PutUint16(f[2:], dataLen)
	for i := 4; i < 22; i += 2 {
		binary.BigEndian.PutUint16(f[i:], uint16(i))
	}
	binary.BigEndian.PutUint16(f[22:], gt25)
	binary.BigEndian.PutUint16(f[24:], 7)
	binary.BigEndian.PutUint16(f[26:], gt100)
	var sum uint16
	for _, b := range f[:30] {
		sum += uint16(b)
	}
	binary.BigEndian.PutUint16(f[30:], sum)
	return f
}

// stalledReader hands out its data and then reports timeouts the way a serial port does.
type stalledReader struct {
	data  []byte
	reads int
}

func (s *stalledReader) Read(p []byte) (int, error) {
	s.reads++
	if len(s.data) == 0 {
		return 0, nil
	}
	n := copy(p, s.data)
	s.data = s.data[n:]
	return n, nil
}

// bufferedPort holds bytes the driver queued before the current cycle ahead of fresh ones.
type bufferedPort struct {
	stale, fresh []byte
	events       []string
	resetErr     error
}

func (p *bufferedPort) Read(b []byte) (int, error) {
	p.events = append(p.events, "read")
	if len(p.stale) > 0 {
		n := copy(b, p.stale)
		p.stale = p.stale[n:]
		return n, nil
	}
	n := copy(b, p.fresh)
	p.fresh = p.fresh[n:]
	return n, nil
}

func (p *bufferedPort) ResetInputBuffer() error {
	p.events = append(p.events, "reset")
	if p.resetErr != nil {
		return p.resetErr
	}
	p.stale = nil
	return nil
}

func TestReadFrameReturnsWellFormedFrame(t *testing.T) {
	raw := newFrame(300, 12)
	trailer := []byte{0xaa, 0xbb}
	r := bytes.NewReader(append(append([]byte{}, raw...), trailer...))

	frame, err := NewDecoder(r).ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, raw, frame[:])

	rest, _ := io.ReadAll(r)
	assert.Equal(t, trailer, rest, "stream should be positioned right after the frame")
}

func TestReadFrameSkipsGarbage(t *testing.T) {
	raw := newFrame(1, 2)
	garbage := []byte{0x00, 0x42, 0x00, 0x4d, 0xff, 0x42, 0x11}
	r := bytes.NewReader(append(garbage, raw...))

	frame, err := NewDecoder(r).ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, raw, frame[:])
}

func TestReadFrameResumesOnRepeatedStartByte(t *testing.T) {
	raw := newFrame(5, 6)
	r := bytes.NewReader(append([]byte{0x42}, raw...))

	frame, err := NewDecoder(r).ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, raw, frame[:])
}

func TestReadFrameReadsConsecutiveFrames(t *testing.T) {
	first, second := newFrame(10, 20), newFrame(30, 40)
	d := NewDecoder(bytes.NewReader(append(append([]byte{}, first...), second...)))

	p, err := d.ReadParticulates()
	require.NoError(t, err)
	assert.Equal(t, uint16(10), p.PM25)
	assert.Equal(t, uint16(20), p.PM10)

	p, err = d.ReadParticulates()
	require.NoError(t, err)
	assert.Equal(t, uint16(30), p.PM25)
	assert.Equal(t, uint16(40), p.PM10)
}

func TestReadFrameTimesOutMidFrame(t *testing.T) {
	r := &stalledReader{data: newFrame(1, 1)[:20]}

	_, err := NewDecoder(r).ReadFrame()
	assert.True(t, errors.Is(err, ErrFramingTimeout))
}

func TestReadFrameTimesOutOnSilentLine(t *testing.T) {
	r := &stalledReader{}

	_, err := NewDecoder(r).ReadFrame()
	assert.True(t, errors.Is(err, ErrFramingTimeout))
	assert.Equal(t, 1, r.reads)
}

func TestReadFramePropagatesReadErrors(t *testing.T) {
	_, err := NewDecoder(bytes.NewReader(newFrame(1, 1)[:10])).ReadFrame()
	require.Error(t, err)
	assert.True(t, errors.Is(err, io.EOF))
}

func TestReadFrameRejectsBadChecksum(t *testing.T) {
	raw := newFrame(1, 2)
	raw[31] ^= 0xff

	_, err := NewDecoder(bytes.NewReader(raw)).ReadFrame()
	assert.True(t, errors.Is(err, ErrChecksumMismatch))
}

func TestReadFrameRejectsBadLength(t *testing.T) {
	raw := newFrame(1, 2)
	raw[3] = 20

	_, err := NewDecoder(bytes.NewReader(raw)).ReadFrame()
	assert.True(t, errors.Is(err, ErrBadLength))
}

func TestReadFrameResyncsAfterFalseStart(t *testing.T) {
	raw := newFrame(11, 22)
	prefix := []byte{0x00, 0x42, 0x4d, 0x00, 0x07, 0x01, 0x9a}
	r := bytes.NewReader(append(prefix, raw...))

	frame, err := NewDecoder(r).ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, raw, frame[:])
	assert.Equal(t, uint16(11), frame.Particulates().PM25)
	assert.Equal(t, uint16(22), frame.Particulates().PM10)
}

func TestReadFrameSkipsCorruptedFrame(t *testing.T) {
	bad, good := newFrame(1, 2), newFrame(3, 4)
	bad[31] ^= 0xff
	trailer := []byte{0xaa}
	r := bytes.NewReader(append(append(append([]byte{}, bad...), good...), trailer...))

	frame, err := NewDecoder(r).ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, good, frame[:])

	rest, _ := io.ReadAll(r)
	assert.Equal(t, trailer, rest)
}

func TestReadParticulatesFlushesStaleInput(t *testing.T) {
	port := &bufferedPort{
		stale: newFrame(100, 200),
		fresh: newFrame(1, 2),
	}

	p, err := NewDecoder(port).ReadParticulates()
	require.NoError(t, err)
	assert.Equal(t, uint16(1), p.PM25)
	assert.Equal(t, uint16(2), p.PM10)
	require.NotEmpty(t, port.events)
	assert.Equal(t, "reset", port.events[0])
}

func TestReadParticulatesFailsWhenFlushFails(t *testing.T) {
	port := &bufferedPort{fresh: newFrame(1, 2), resetErr: errors.New("device gone")}

	_, err := NewDecoder(port).ReadParticulates()
	require.Error(t, err)
	assert.Equal(t, []string{"reset"}, port.events)
}

func TestReadFrameWithoutVerificationTrustsStartBytes(t *testing.T) {
	raw := newFrame(1, 2)
	raw[31] ^= 0xff

	d := NewDecoder(bytes.NewReader(raw))
	d.VerifyChecksum = false

	frame, err := d.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, raw, frame[:])
}

func TestFrameReadingChannels(t *testing.T) {
	var frame Frame
	copy(frame[:], newFrame(0x0102, 0x0304))

	reading := frame.Reading()
	assert.Equal(t, uint16(4), reading.PM1Std)
	assert.Equal(t, uint16(20), reading.Gt10um)
	assert.Equal(t, uint16(0x0102), reading.Gt25um)
	assert.Equal(t, uint16(7), reading.Gt50um)
	assert.Equal(t, uint16(0x0304), reading.Gt100um)
	assert.NoError(t, frame.Validate())
}
