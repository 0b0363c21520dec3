package pms

import (
	"io"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"github.com/alepar/aqmonitor/airquality"
)

// ErrFramingTimeout is returned when the line went quiet before a full frame arrived.
var ErrFramingTimeout = errors.New("pms: timed out waiting for frame")

type PortOptions struct {
	BaudRate    int
	ReadTimeout time.Duration
}

func DefaultPortOptions() PortOptions {
	return PortOptions{
		BaudRate:    9600,
		ReadTimeout: 2 * time.Second,
	}
}

// Open opens the sensor's serial port in 8N1 with a read timeout, so that a silent
// sensor surfaces as ErrFramingTimeout instead of blocking forever.
func Open(path string, opts PortOptions) (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open serial port %s", path)
	}
	if err := port.SetReadTimeout(opts.ReadTimeout); err != nil {
		_ = port.Close()
		return nil, errors.Wrap(err, "failed to set serial read timeout")
	}

	return port, nil
}

// Decoder extracts frames from a byte stream. A Read returning no data and no error is
// treated as a timeout, which is how serial ports report an expired read deadline.
type Decoder struct {
	r io.Reader

	// VerifyChecksum rejects frames whose length field or checksum is off.
	VerifyChecksum bool

	// bytes of a rejected candidate frame still to be scanned
	pending []byte
	b       [1]byte
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r, VerifyChecksum: true}
}

// inputResetter is implemented by serial.Port.
type inputResetter interface {
	ResetInputBuffer() error
}

// Flush drops whatever the sensor sent before now, so the next frame read is a fresh
// one rather than one that sat in the driver buffer since the previous cycle.
func (d *Decoder) Flush() error {
	d.pending = nil
	if r, ok := d.r.(inputResetter); ok {
		if err := r.ResetInputBuffer(); err != nil {
			return errors.Wrap(err, "failed to reset serial input buffer")
		}
	}
	return nil
}

// ReadFrame scans for the start bytes and returns the next complete frame. With
// VerifyChecksum set, a candidate failing validation is treated as a false start and
// scanning resumes from its second byte. If the line ends before a valid frame turns
// up, the last validation error is returned.
func (d *Decoder) ReadFrame() (Frame, error) {
	var rejected error
	for {
		frame, err := d.nextCandidate()
		if err != nil {
			if rejected != nil {
				return frame, rejected
			}
			return frame, err
		}
		if !d.VerifyChecksum {
			return frame, nil
		}

		rejected = frame.Validate()
		if rejected == nil {
			return frame, nil
		}
		log.Debugf("pms: dropping false frame start: %s", rejected)
		d.unread(frame[1:])
	}
}

func (d *Decoder) nextCandidate() (Frame, error) {
	var frame Frame

	skipped := 0
	b, err := d.readByte()
	for {
		if err != nil {
			return frame, err
		}
		if b != startByte1 {
			skipped++
			b, err = d.readByte()
			continue
		}

		b, err = d.readByte()
		if err != nil {
			return frame, err
		}
		if b == startByte2 {
			break
		}
		// a repeated first start byte may still open a frame, keep it as the next candidate
		skipped++
	}
	if skipped > 0 {
		log.Debugf("pms: skipped %d bytes before frame", skipped)
	}

	frame[0], frame[1] = startByte1, startByte2
	if err := d.readFull(frame[2:]); err != nil {
		return frame, err
	}
	return frame, nil
}

// ReadParticulates flushes stale input and decodes the next frame.
func (d *Decoder) ReadParticulates() (airquality.ParticulateReading, error) {
	if err := d.Flush(); err != nil {
		return airquality.ParticulateReading{}, err
	}
	frame, err := d.ReadFrame()
	if err != nil {
		return airquality.ParticulateReading{}, err
	}
	return frame.Particulates(), nil
}

// unread puts p back in front of the bytes not yet consumed.
func (d *Decoder) unread(p []byte) {
	d.pending = append(append(make([]byte, 0, len(p)+len(d.pending)), p...), d.pending...)
}

func (d *Decoder) readByte() (byte, error) {
	if err := d.readFull(d.b[:]); err != nil {
		return 0, err
	}
	return d.b[0], nil
}

func (d *Decoder) readFull(p []byte) error {
	if len(d.pending) > 0 {
		n := copy(p, d.pending)
		d.pending = d.pending[n:]
		p = p[n:]
	}
	for len(p) > 0 {
		n, err := d.r.Read(p)
		p = p[n:]
		if len(p) == 0 {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "failed to read from serial")
		}
		if n == 0 {
			return ErrFramingTimeout
		}
	}
	return nil
}
