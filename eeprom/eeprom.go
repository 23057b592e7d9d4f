// Copyright 2023 The go-msi Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package eeprom persists the instrument's calibration dataset on the
// small I2C EEPROM of the analog board.
package eeprom // import "github.com/go-msi/msi/eeprom"

import (
	"fmt"
	"time"

	"github.com/go-daq/smbus"

	"github.com/go-msi/msi/calib"
)

// writeCycle is the EEPROM's internal write-cycle time: the part does
// not acknowledge while a byte write is in progress.
const writeCycle = 5 * time.Millisecond

type conn interface {
	ReadReg(addr, reg uint8) (uint8, error)
	WriteReg(addr, reg, v uint8) error
	Close() error
}

// Device is a 24C02-class I2C EEPROM holding the calibration dataset.
// It implements calib.Store.
type Device struct {
	conn conn
	addr uint8

	delay time.Duration
}

// Open connects to the EEPROM at the given address on the given I2C
// bus.
func Open(bus int, addr uint8) (*Device, error) {
	c, err := smbus.Open(bus, addr)
	if err != nil {
		return nil, fmt.Errorf("eeprom: could not open i2c bus %d: %w", bus, err)
	}
	return &Device{conn: c, addr: addr, delay: writeCycle}, nil
}

// Close releases the I2C bus.
func (dev *Device) Close() error {
	err := dev.conn.Close()
	if err != nil {
		return fmt.Errorf("eeprom: could not close i2c bus: %w", err)
	}
	return nil
}

// Load reads the calibration dataset from the EEPROM.
func (dev *Device) Load() (*calib.RawData, error) {
	p := make([]byte, calib.RawDataSize)
	for i := range p {
		v, err := dev.conn.ReadReg(dev.addr, uint8(i))
		if err != nil {
			return nil, fmt.Errorf("eeprom: could not read byte %d: %w", i, err)
		}
		p[i] = v
	}

	var raw calib.RawData
	if err := raw.UnmarshalBinary(p); err != nil {
		return nil, fmt.Errorf("eeprom: could not decode calibration data: %w", err)
	}
	return &raw, nil
}

// Store writes the calibration dataset to the EEPROM, byte by byte,
// waiting out the part's write cycle between bytes.
func (dev *Device) Store(raw *calib.RawData) error {
	p, err := raw.MarshalBinary()
	if err != nil {
		return fmt.Errorf("eeprom: could not encode calibration data: %w", err)
	}

	for i, v := range p {
		if err := dev.conn.WriteReg(dev.addr, uint8(i), v); err != nil {
			return fmt.Errorf("eeprom: could not write byte %d: %w", i, err)
		}
		time.Sleep(dev.delay)
	}
	return nil
}

// Erase overwrites the dataset with the default image, marking the
// storage as uncalibrated.
func (dev *Device) Erase() error {
	err := dev.Store(calib.Default())
	if err != nil {
		return fmt.Errorf("eeprom: could not erase calibration data: %w", err)
	}
	return nil
}
