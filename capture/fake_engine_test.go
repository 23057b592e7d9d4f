// Copyright 2023 The go-msi Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package capture

import (
	"sync"
)

type fakeClock struct {
	msel, nsel, psel uint8

	periph  bool
	vadc    bool
	updates int
}

func (clk *fakeClock) SetPLL0Audio(msel, nsel, psel uint8) {
	clk.msel = msel
	clk.nsel = nsel
	clk.psel = psel
}

func (clk *fakeClock) EnablePeriph(on bool) { clk.periph = on }
func (clk *fakeClock) EnableVADC(on bool)   { clk.vadc = on }
func (clk *fakeClock) Update()              { clk.updates++ }

type fakeDigital struct {
	inits    int
	prepares int
	arms     int
	disarms  int

	buf     Buffer
	cfg     DigitalConfig
	post    PostFill
	forced  bool
	counter uint16

	cfgErr error
	armErr error
}

func (dev *fakeDigital) Init() { dev.inits++ }

func (dev *fakeDigital) Configure(buf Buffer, cfg DigitalConfig, post PostFill, forced bool, counter uint16) error {
	if dev.cfgErr != nil {
		return dev.cfgErr
	}
	dev.buf = buf
	dev.cfg = cfg
	dev.post = post
	dev.forced = forced
	dev.counter = counter
	return nil
}

func (dev *fakeDigital) PrepareToArm() error { dev.prepares++; return dev.armErr }
func (dev *fakeDigital) Arm()                { dev.arms++ }
func (dev *fakeDigital) Disarm()             { dev.disarms++ }

type fakeAnalog struct {
	inits    int
	prepares int
	arms     int
	disarms  int

	buf    Buffer
	cfg    AnalogConfig
	post   PostFill
	forced bool

	cfgErr error
	armErr error
}

func (dev *fakeAnalog) Init() { dev.inits++ }

func (dev *fakeAnalog) Configure(buf Buffer, cfg AnalogConfig, post PostFill, forced bool) error {
	if dev.cfgErr != nil {
		return dev.cfgErr
	}
	dev.buf = buf
	dev.cfg = cfg
	dev.post = post
	dev.forced = forced
	return nil
}

func (dev *fakeAnalog) PrepareToArm() error { dev.prepares++; return dev.armErr }
func (dev *fakeAnalog) Arm()                { dev.arms++ }
func (dev *fakeAnalog) Disarm()             { dev.disarms++ }

type fakeHost struct {
	mu   sync.Mutex
	res  []*Result
	errs []error
}

func (host *fakeHost) SendCapturedSamples(res *Result) {
	host.mu.Lock()
	host.res = append(host.res, res)
	host.mu.Unlock()
}

func (host *fakeHost) SignalCaptureFailed(err error) {
	host.mu.Lock()
	host.errs = append(host.errs, err)
	host.mu.Unlock()
}

func (host *fakeHost) sends() (int, int) {
	host.mu.Lock()
	defer host.mu.Unlock()
	return len(host.res), len(host.errs)
}

type fakeLEDs struct {
	armed bool
	trigd bool
}

func (led *fakeLEDs) Armed(on bool)     { led.armed = on }
func (led *fakeLEDs) Triggered(on bool) { led.trigd = on }

type fakeRig struct {
	clk  *fakeClock
	dig  *fakeDigital
	ana  *fakeAnalog
	host *fakeHost
	led  *fakeLEDs

	coord *Coordinator
}

func newFakeRig() *fakeRig {
	rig := &fakeRig{
		clk:  &fakeClock{},
		dig:  &fakeDigital{},
		ana:  &fakeAnalog{},
		host: &fakeHost{},
		led:  &fakeLEDs{},
	}
	rig.coord = New(rig.clk, rig.dig, rig.ana, rig.host,
		WithLogger(discardLogger()),
		WithIndicators(rig.led),
	)
	return rig
}
