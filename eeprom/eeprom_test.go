// Copyright 2023 The go-msi Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package eeprom

import (
	"errors"
	"reflect"
	"testing"

	"github.com/go-msi/msi/calib"
)

type fakeConn struct {
	mem    [256]byte
	addr   uint8
	rdErr  error
	wrErr  error
	closed bool
}

func (c *fakeConn) ReadReg(addr, reg uint8) (uint8, error) {
	if c.rdErr != nil {
		return 0, c.rdErr
	}
	c.addr = addr
	return c.mem[reg], nil
}

func (c *fakeConn) WriteReg(addr, reg, v uint8) error {
	if c.wrErr != nil {
		return c.wrErr
	}
	c.addr = addr
	c.mem[reg] = v
	return nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func newTestDevice() (*Device, *fakeConn) {
	c := &fakeConn{}
	return &Device{conn: c, addr: 0x50}, c
}

func TestStoreLoad(t *testing.T) {
	dev, c := newTestDevice()

	want := calib.Default()
	want.Version = calib.DataVersion
	want.UserOut[0][0] = 2725
	want.Seal()

	if err := dev.Store(want); err != nil {
		t.Fatalf("could not store dataset: %+v", err)
	}
	if c.addr != 0x50 {
		t.Fatalf("invalid device address: got=0x%02x, want=0x50", c.addr)
	}

	got, err := dev.Load()
	if err != nil {
		t.Fatalf("could not load dataset: %+v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip failed:\ngot= %#v\nwant=%#v", got, want)
	}
	if !got.Verify() {
		t.Fatalf("loaded dataset does not verify")
	}
}

func TestErase(t *testing.T) {
	dev, _ := newTestDevice()

	raw := calib.Default()
	raw.Version = calib.DataVersion
	raw.Seal()
	if err := dev.Store(raw); err != nil {
		t.Fatalf("could not store dataset: %+v", err)
	}

	if err := dev.Erase(); err != nil {
		t.Fatalf("could not erase dataset: %+v", err)
	}

	got, err := dev.Load()
	if err != nil {
		t.Fatalf("could not load dataset: %+v", err)
	}
	if !got.IsDefault() {
		t.Fatalf("erased storage not marked as default")
	}
}

func TestIOErrors(t *testing.T) {
	dev, c := newTestDevice()

	c.wrErr = errors.New("i2c: no ack")
	if err := dev.Store(calib.Default()); err == nil {
		t.Fatalf("expected a store error")
	}
	c.wrErr = nil

	c.rdErr = errors.New("i2c: no ack")
	if _, err := dev.Load(); err == nil {
		t.Fatalf("expected a load error")
	}
}

func TestClose(t *testing.T) {
	dev, c := newTestDevice()
	if err := dev.Close(); err != nil {
		t.Fatalf("could not close device: %+v", err)
	}
	if !c.closed {
		t.Fatalf("connection not closed")
	}
}
