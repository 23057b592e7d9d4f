// Copyright 2023 The go-msi Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sim provides simulated capture hardware: clock, sampling
// engines, DAC and host transport wired the way the real drivers are.
// It backs the bench command server and the integration tests.
package sim // import "github.com/go-msi/msi/internal/sim"

import (
	"sync"
	"time"

	"github.com/go-msi/msi/calib"
	"github.com/go-msi/msi/capture"
)

// divMv lists the V/div ranges of the analog front end, in mV per
// division.
var divMv = [8]int32{20, 50, 100, 200, 500, 1000, 2000, 5000}

// Clock is a simulated PLL0AUDIO clock tree.
type Clock struct {
	mu sync.Mutex

	msel, nsel, psel uint8
	periph, vadc     bool
	updates          int
}

func (clk *Clock) SetPLL0Audio(msel, nsel, psel uint8) {
	clk.mu.Lock()
	clk.msel, clk.nsel, clk.psel = msel, nsel, psel
	clk.mu.Unlock()
}

func (clk *Clock) EnablePeriph(on bool) {
	clk.mu.Lock()
	clk.periph = on
	clk.mu.Unlock()
}

func (clk *Clock) EnableVADC(on bool) {
	clk.mu.Lock()
	clk.vadc = on
	clk.mu.Unlock()
}

func (clk *Clock) Update() {
	clk.mu.Lock()
	clk.updates++
	clk.mu.Unlock()
}

// DAC is a simulated analog-output DAC on the nominal transfer line.
type DAC struct {
	mu    sync.Mutex
	codes [2]uint16
}

func (dac *DAC) Set(ch int, code uint16) error {
	dac.mu.Lock()
	dac.codes[ch] = code
	dac.mu.Unlock()
	return nil
}

// Output returns the voltage, in mV, present at channel ch for the
// programmed code.
func (dac *DAC) Output(ch int) float64 {
	dac.mu.Lock()
	defer dac.mu.Unlock()
	return 5500 - 10.7421875*float64(dac.codes[ch])
}

// Digital is a simulated shift-register sampling engine. A capture
// completes asynchronously, a configurable delay after arming.
type Digital struct {
	mu sync.Mutex

	coord *capture.Coordinator
	delay time.Duration

	buf    capture.Buffer
	cfg    capture.DigitalConfig
	forced bool
	armed  bool
	gen    uint32
}

func (dev *Digital) Init() {}

func (dev *Digital) Configure(buf capture.Buffer, cfg capture.DigitalConfig, post capture.PostFill, forced bool, counter uint16) error {
	dev.mu.Lock()
	dev.buf = buf
	dev.cfg = cfg
	dev.forced = forced
	dev.mu.Unlock()
	return nil
}

func (dev *Digital) PrepareToArm() error { return nil }

func (dev *Digital) Arm() {
	dev.mu.Lock()
	dev.armed = true
	dev.gen++
	var (
		gen   = dev.gen
		buf   = dev.buf
		cfg   = dev.cfg
		coord = dev.coord
		delay = dev.delay
	)
	dev.mu.Unlock()

	go func() {
		time.Sleep(delay)
		dev.mu.Lock()
		live := dev.armed && gen == dev.gen
		dev.mu.Unlock()
		if !live || coord == nil {
			return
		}

		buf.Data = make([]byte, buf.Size)
		for i := range buf.Data {
			buf.Data[i] = byte(i)
		}
		var trig uint32
		if cfg.Triggers != 0 {
			trig = cfg.Triggers & -cfg.Triggers // lowest enabled trigger fires
		}
		coord.ReportDigitalDone(&buf, trig, buf.Size/2, cfg.Channels)
	}()
}

func (dev *Digital) Disarm() {
	dev.mu.Lock()
	dev.armed = false
	dev.mu.Unlock()
}

// Analog is a simulated VADC sampling engine: captured codes track the
// simulated DAC outputs, as on a bench with the outputs looped back
// into the inputs.
type Analog struct {
	mu sync.Mutex

	coord *capture.Coordinator
	dac   *DAC
	delay time.Duration

	buf    capture.Buffer
	cfg    capture.AnalogConfig
	forced bool
	armed  bool
	gen    uint32
}

func (dev *Analog) Init() {}

func (dev *Analog) Configure(buf capture.Buffer, cfg capture.AnalogConfig, post capture.PostFill, forced bool) error {
	dev.mu.Lock()
	dev.buf = buf
	dev.cfg = cfg
	dev.forced = forced
	dev.mu.Unlock()
	return nil
}

func (dev *Analog) PrepareToArm() error { return nil }

func (dev *Analog) Arm() {
	dev.mu.Lock()
	dev.armed = true
	dev.gen++
	var (
		gen   = dev.gen
		buf   = dev.buf
		cfg   = dev.cfg
		coord = dev.coord
		delay = dev.delay
	)
	dev.mu.Unlock()

	go func() {
		time.Sleep(delay)
		dev.mu.Lock()
		live := dev.armed && gen == dev.gen
		dev.mu.Unlock()
		if !live || coord == nil {
			return
		}

		buf.Data = make([]byte, buf.Size)
		for i := 0; i+3 < len(buf.Data); i += 4 {
			for ch := 0; ch < 2; ch++ {
				rng := int(cfg.VoltPerDiv>>(4*ch)) & 0x7
				code := dev.sample(ch, rng)
				buf.Data[i+2*ch] = byte(code)
				buf.Data[i+2*ch+1] = byte(code >> 8)
			}
		}
		var trig uint32
		if cfg.Triggers != 0 {
			trig = cfg.Triggers & -cfg.Triggers
		}
		coord.ReportAnalogDone(&buf, trig, buf.Size/4, cfg.Channels)
	}()
}

// sample returns the 12-bit ADC code seen on channel ch at the given
// V/div range: mid-scale at 0V, 512 codes per division.
func (dev *Analog) sample(ch, rng int) uint16 {
	code := 2048 + dev.dac.Output(ch)*512/float64(divMv[rng])
	if code < 0 {
		code = 0
	}
	if code > 4095 {
		code = 4095
	}
	return uint16(code)
}

func (dev *Analog) Disarm() {
	dev.mu.Lock()
	dev.armed = false
	dev.mu.Unlock()
}

// Host is a channel-backed host transport. Captures are dropped when
// nobody drains the channels, as the transport must not block the
// coordinator.
type Host struct {
	Results chan *capture.Result
	Errors  chan error
}

func (host *Host) SendCapturedSamples(res *capture.Result) {
	select {
	case host.Results <- res:
	default:
	}
}

func (host *Host) SignalCaptureFailed(err error) {
	select {
	case host.Errors <- err:
	default:
	}
}

// Store is an in-memory calibration dataset store.
type Store struct {
	mu  sync.Mutex
	raw *calib.RawData
}

// Load returns the stored dataset, or the nominal defaults when
// nothing was stored yet.
func (sto *Store) Load() (*calib.RawData, error) {
	sto.mu.Lock()
	defer sto.mu.Unlock()
	if sto.raw == nil {
		return calib.Default(), nil
	}
	cp := *sto.raw
	return &cp, nil
}

// Store records the dataset.
func (sto *Store) Store(raw *calib.RawData) error {
	sto.mu.Lock()
	defer sto.mu.Unlock()
	cp := *raw
	sto.raw = &cp
	return nil
}

// Rig bundles a full set of simulated capture hardware.
type Rig struct {
	Clock   *Clock
	Digital *Digital
	Analog  *Analog
	DAC     *DAC
	Host    *Host
}

// Option configures a Rig.
type Option func(rig *Rig)

// WithDelay sets the simulated capture completion delay.
func WithDelay(d time.Duration) Option {
	return func(rig *Rig) {
		rig.Digital.delay = d
		rig.Analog.delay = d
	}
}

// New creates a simulated rig.
func New(opts ...Option) *Rig {
	dac := &DAC{}
	rig := &Rig{
		Clock:   &Clock{},
		Digital: &Digital{delay: time.Millisecond},
		Analog:  &Analog{dac: dac, delay: time.Millisecond},
		DAC:     dac,
		Host: &Host{
			Results: make(chan *capture.Result, 4),
			Errors:  make(chan error, 4),
		},
	}
	for _, opt := range opts {
		opt(rig)
	}
	return rig
}

// Bind attaches the coordinator the simulated engines report to.
func (rig *Rig) Bind(coord *capture.Coordinator) {
	rig.Digital.mu.Lock()
	rig.Digital.coord = coord
	rig.Digital.mu.Unlock()

	rig.Analog.mu.Lock()
	rig.Analog.coord = coord
	rig.Analog.mu.Unlock()
}
