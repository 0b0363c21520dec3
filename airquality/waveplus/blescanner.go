package waveplus

import (
	"context"
	"fmt"
	"time"

	"github.com/go-ble/ble"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type BleScanner struct {
	ScanDuration time.Duration
	Retries      int
}

// Find scans for Wave Plus devices and returns the address of the one with the given
// serial number, or of the first one found when serialNr is empty.
func (scanner *BleScanner) Find(serialNr string) (string, error) {
	var addr string
	err := retry(scanner.Retries, 0, "scan", func() error {
		found, err := scanner.scan()
		if err != nil {
			return err
		}
		for sn, a := range found {
			if serialNr == "" || sn == serialNr {
				log.Infof("using wave plus serialNr %s addr %s", sn, a)
				addr = a
				return nil
			}
		}
		return errors.Errorf("no wave plus with serial number %q in range", serialNr)
	})
	return addr, err
}

// scan returns a map from serial number to address.
func (scanner *BleScanner) scan() (map[string]string, error) {
	ctx := ble.WithSigHandler(context.WithTimeout(context.Background(), scanner.ScanDuration))
	ads, err := ble.Find(ctx, false, wavePlusOnlyFilter)
	if err != nil {
		switch errors.Cause(err) {
		case context.DeadlineExceeded:
		case context.Canceled:
			return nil, errors.Wrap(err, "scan for devices cancelled")
		default:
			return nil, errors.Wrap(err, "failed to scan for devices")
		}
	}

	found := map[string]string{}
	for _, a := range ads {
		found[serialNumber(a.ManufacturerData())] = a.Addr().String()
	}
	return found, nil
}

func wavePlusOnlyFilter(a ble.Advertisement) bool {
	return a.Connectable() && isWavePlus(a.ManufacturerData())
}

// Airthings company id 0x0334, followed by the 32-bit serial number.
func isWavePlus(manufacturerData []byte) bool {
	return len(manufacturerData) >= 6 && manufacturerData[0] == 0x34 && manufacturerData[1] == 0x03
}

func serialNumber(manufacturerData []byte) string {
	serialNumber := uint32(manufacturerData[2])
	serialNumber |= uint32(manufacturerData[3]) << 8
	serialNumber |= uint32(manufacturerData[4]) << 16
	serialNumber |= uint32(manufacturerData[5]) << 24
	return fmt.Sprint(serialNumber)
}
