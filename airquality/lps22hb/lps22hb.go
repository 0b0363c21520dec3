package lps22hb

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/i2c"

	"github.com/alepar/aqmonitor/airquality"
)

var (
	ErrHardwareUnresponsive = errors.New("lps22hb: reset did not complete")
	ErrWrongDevice          = errors.New("lps22hb: unexpected device id")
)

type State int

const (
	Reset State = iota
	Idle
	OneShotTriggered
	DataReady
)

func (s State) String() string {
	switch s {
	case Reset:
		return "reset"
	case Idle:
		return "idle"
	case OneShotTriggered:
		return "one-shot-triggered"
	case DataReady:
		return "data-ready"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Opts struct {
	Addr uint16

	// ResetPolls caps the reads spent waiting for the reset bit to clear.
	ResetPolls int
}

var DefaultOpts = Opts{
	Addr:       Address,
	ResetPolls: 100,
}

// Dev is a handle to an LPS22HB. Every method is a blocking bus transaction; the mutex
// keeps read-modify-write sequences whole when the bus is shared with other devices.
type Dev struct {
	mu    sync.Mutex
	d     i2c.Dev
	opts  Opts
	state State
}

// New checks the device identity, resets it and enables block data update.
func New(bus i2c.Bus, opts *Opts) (*Dev, error) {
	o := DefaultOpts
	if opts != nil {
		o = *opts
	}
	if o.ResetPolls <= 0 {
		o.ResetPolls = DefaultOpts.ResetPolls
	}

	dev := &Dev{
		d:    i2c.Dev{Bus: bus, Addr: o.Addr},
		opts: o,
	}

	id, err := dev.readReg(RegWhoAmI)
	if err != nil {
		return nil, err
	}
	if id != ChipID {
		return nil, errors.Wrapf(ErrWrongDevice, "got %#02x, want %#02x", id, ChipID)
	}

	if err := dev.Reset(); err != nil {
		return nil, err
	}
	if err := dev.writeReg(RegCtrl1, Ctrl1BlockDataUpdate); err != nil {
		return nil, err
	}

	return dev, nil
}

func (d *Dev) String() string {
	return fmt.Sprintf("LPS22HB{%s}", &d.d)
}

func (d *Dev) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Reset sets the software reset bit and waits for the device to clear it.
func (d *Dev) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.state = Reset
	ctrl, err := d.readReg(RegCtrl2)
	if err != nil {
		return err
	}
	if err := d.writeReg(RegCtrl2, ctrl|Ctrl2SoftReset); err != nil {
		return err
	}

	for i := 1; i <= d.opts.ResetPolls; i++ {
		ctrl, err = d.readReg(RegCtrl2)
		if err != nil {
			return err
		}
		if ctrl&Ctrl2SoftReset == 0 {
			log.Debugf("lps22hb: reset completed after %d polls", i)
			d.state = Idle
			return nil
		}
	}

	return errors.Wrapf(ErrHardwareUnresponsive, "reset bit still set after %d polls", d.opts.ResetPolls)
}

// TriggerOneShot starts a single conversion.
func (d *Dev) TriggerOneShot() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ctrl, err := d.readReg(RegCtrl2)
	if err != nil {
		return err
	}
	if err := d.writeReg(RegCtrl2, ctrl|Ctrl2OneShot); err != nil {
		return err
	}
	d.state = OneShotTriggered
	return nil
}

// IsReady checks the status register once.
func (d *Dev) IsReady() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	status, err := d.readReg(RegStatus)
	if err != nil {
		return false, err
	}
	if status&StatusPressureReady == 0 {
		return false, nil
	}
	d.state = DataReady
	return true, nil
}

// ReadPressure returns the converted pressure in hPa. IsReady must have reported true.
func (d *Dev) ReadPressure() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != DataReady {
		return 0, errors.Wrapf(airquality.ErrNotReady, "lps22hb: pressure read in state %s", d.state)
	}

	var raw [3]byte
	for i, reg := range []byte{RegPressOutXL, RegPressOutL, RegPressOutH} {
		b, err := d.readReg(reg)
		if err != nil {
			return 0, err
		}
		raw[i] = b
	}
	d.state = Idle

	sample := uint32(raw[2])<<16 | uint32(raw[1])<<8 | uint32(raw[0])
	return float64(sample) / pressureScale, nil
}

func (d *Dev) readReg(reg byte) (byte, error) {
	var r [1]byte
	if err := d.d.Tx([]byte{reg}, r[:]); err != nil {
		return 0, errors.Wrapf(err, "lps22hb: failed to read register %#02x", reg)
	}
	return r[0], nil
}

func (d *Dev) writeReg(reg, value byte) error {
	if err := d.d.Tx([]byte{reg, value}, nil); err != nil {
		return errors.Wrapf(err, "lps22hb: failed to write register %#02x", reg)
	}
	return nil
}
