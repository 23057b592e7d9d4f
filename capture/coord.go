// Copyright 2023 The go-msi Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package capture

import (
	"log"
	"os"
	"sync"
)

// purpose tags what the current capture is for.
type purpose uint8

const (
	purposeNone        purpose = iota // no capture requested
	purposeHostRequest                // host requested a capture
	purposeShortShot                  // short-shot housekeeping capture
	purposeCalibrate                  // analog-input calibration capture
)

// hostRequest tracks what the host last asked for.
type hostRequest uint8

const (
	hostNothing  hostRequest = iota // host requested nothing yet
	hostDisarmed                    // host requested disarm
	hostArmed                       // host requested arm
)

// hotStandbyRange is the V/div range index used by the hot-standby
// short-shot capture (the least sensitive range).
const hotStandbyRange = 7

// calibSink consumes the outcome of a calibration capture.
type calibSink func(err error, buf *Buffer)

// captureState is the process-wide capture state. It lives from
// power-on to power-off and is only mutated under the coordinator lock.
type captureState struct {
	digBuf Buffer
	anaBuf Buffer

	numDigital int
	numAnalog  int

	res     Result
	digDone bool // digital engine reported (or is disabled)
	anaDone bool // analog engine reported (or is disabled)
	digErr  error
	anaErr  error
	sent    bool // combined result already forwarded

	setup      *Config // last accepted host configuration, for recovery
	calibSetup Config

	purpose purpose
	host    hostRequest
}

// Coordinator owns the capture state and coordinates the two
// independently clocked sampling sub-engines.
//
// Configure/Arm/Disarm/Start/Stop execute in command context; the
// Report* entry points execute in completion context. All of them
// serialize on one internal lock, the replacement for the firmware's
// interrupt masking.
type Coordinator struct {
	msg *log.Logger

	clk  Clock
	dig  DigitalEngine
	ana  AnalogEngine
	led  Indicators
	host Transport

	mu    sync.Mutex
	rates rateSelector
	state captureState
	calib calibSink
}

// Option configures a Coordinator.
type Option func(c *Coordinator)

// WithLogger sets the coordinator message logger.
func WithLogger(msg *log.Logger) Option {
	return func(c *Coordinator) {
		c.msg = msg
	}
}

// WithIndicators attaches front-panel indicators.
func WithIndicators(led Indicators) Option {
	return func(c *Coordinator) {
		c.led = led
	}
}

// New creates a capture coordinator over the given clock, sub-engine
// drivers and host transport, and initializes the capture hardware.
func New(clk Clock, dig DigitalEngine, ana AnalogEngine, host Transport, opts ...Option) *Coordinator {
	c := &Coordinator{
		msg:  log.New(os.Stdout, "capture: ", 0),
		clk:  clk,
		dig:  dig,
		ana:  ana,
		led:  noIndicators{},
		host: host,
	}
	c.rates = rateSelector{clk: clk, cur: -1, lastAnalog: -1}
	for _, opt := range opts {
		opt(c)
	}

	c.mu.Lock()
	c.init()
	c.mu.Unlock()
	return c
}

// SetCalibrationSink registers the consumer of calibration capture
// outcomes.
func (c *Coordinator) SetCalibrationSink(sink func(err error, buf *Buffer)) {
	c.mu.Lock()
	c.calib = sink
	c.mu.Unlock()
}

// Init reinitializes the capture subsystem: full-region buffers, the
// power-on sample rate and both sub-engines.
func (c *Coordinator) Init() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.init()
}

func (c *Coordinator) init() {
	c.led.Armed(false)
	c.led.Triggered(false)

	c.state.digBuf = wholeRegion()
	c.state.anaBuf = wholeRegion()

	c.rates.init()
	c.msg.Printf("set initial sample rate. rate=%d idx=%d", c.rates.sampleRate(), c.rates.cur)

	c.state.res = Result{}
	c.state.digDone = false
	c.state.anaDone = false
	c.state.digErr = nil
	c.state.anaErr = nil
	c.state.sent = false

	c.dig.Init()
	c.ana.Init()
}

// Configure validates and applies a capture configuration.
//
// The steps are applied in order (sanity check, sample rate, buffer
// plan, sub-engine configuration) and a failure aborts without rolling
// back the steps already applied; the previously accepted configuration
// remains the one used by the Start recovery path.
func (c *Coordinator) Configure(cfg *Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.configure(cfg)
}

func (c *Coordinator) configure(cfg *Config) error {
	vadc := cfg.physAnalog()
	switch cfg.NumAnalog {
	case ShortShotChannels:
		c.state.purpose = purposeShortShot
	case CalibrateChannels:
		c.state.purpose = purposeCalibrate
	default:
		// host requests a capture: retain the configuration for the
		// Start recovery path.
		cp := *cfg
		c.state.setup = &cp
		c.state.purpose = purposeHostRequest
	}

	c.led.Armed(false)
	c.led.Triggered(false)

	// disable all channels until configuration is done
	c.state.numDigital = 0
	c.state.numAnalog = 0

	// with no trigger on either engine, enter forced-trigger mode and
	// fill the buffers unconditionally.
	forced := true
	if (cfg.NumDigital > 0 && cfg.Digital.Triggers > 0) ||
		(vadc > 0 && cfg.Analog.Triggers > 0) {
		forced = false
	}

	if cfg.NumDigital == 0 && vadc == 0 {
		return ErrNoChannelsEnabled
	}

	if err := checkSignalCombination(cfg); err != nil {
		return err
	}

	if err := c.rates.apply(cfg.SampleRate, vadc); err != nil {
		c.msg.Printf("could not change sample rate to %d. keeping %d", cfg.SampleRate, c.rates.sampleRate())
		return err
	}

	plan, err := planBuffers(cfg)
	if err != nil {
		return err
	}
	c.state.digBuf = plan.digital
	c.state.anaBuf = plan.analog

	if cfg.NumDigital > 0 {
		err := c.dig.Configure(c.state.digBuf, cfg.Digital, cfg.PostFill, forced, c.rates.counter())
		if err != nil {
			return err
		}
	}
	if vadc > 0 {
		err := c.ana.Configure(c.state.anaBuf, cfg.Analog, cfg.PostFill, forced)
		if err != nil {
			return err
		}
	}

	c.state.numDigital = int(cfg.NumDigital)
	c.state.numAnalog = vadc
	return nil
}

// Arm starts the signal capture according to the last configuration.
// The two-phase start (prepare everything, then trigger both engines
// back to back) minimizes the skew between the digital and analog
// sample streams.
func (c *Coordinator) Arm() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.arm()
}

func (c *Coordinator) arm() error {
	c.led.Armed(true)
	c.led.Triggered(false)

	c.state.res = Result{}
	c.state.digErr = nil
	c.state.anaErr = nil
	c.state.sent = false

	// a disabled engine counts as already complete so that joint
	// completion does not wait on it.
	c.state.digDone = c.state.numDigital == 0
	c.state.anaDone = c.state.numAnalog == 0

	if c.state.numDigital > 0 {
		if err := c.dig.PrepareToArm(); err != nil {
			return err
		}
	}
	if c.state.numAnalog > 0 {
		if err := c.ana.PrepareToArm(); err != nil {
			return err
		}
	}

	if c.state.numDigital > 0 {
		c.dig.Arm()
	}
	if c.state.numAnalog > 0 {
		c.ana.Arm()
	}
	return nil
}

// Disarm stops the signal capture. It is idempotent and safe to call
// from any state.
func (c *Coordinator) Disarm() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disarm()
}

func (c *Coordinator) disarm() error {
	c.led.Armed(false)
	c.led.Triggered(false)

	if c.state.numDigital > 0 {
		c.dig.Disarm()
	}
	if c.state.numAnalog > 0 {
		c.ana.Disarm()
	}
	return nil
}

// Start arms the capture on behalf of the host. After an explicit Stop
// it recovers by reinitializing the subsystem and reapplying the last
// accepted configuration from scratch; when already armed it re-arms
// idempotently.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.setup == nil || c.state.setup.SampleRate == 0 {
		// host never configured a capture
		return ErrUnsupportedSampleRate
	}

	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	switch c.state.host {
	case hostDisarmed:
		// recover the configuration from scratch
		keep(c.disarm())
		c.init()
		keep(c.configure(c.state.setup))
	case hostArmed:
		// host requested start repeatedly: re-arm without
		// reconfiguring.
	}

	c.state.host = hostArmed
	keep(c.arm())
	return first
}

// Stop disarms the capture on behalf of the host and drops into hot
// standby: a self-driven low-rate short-shot capture that keeps the
// analog front end in a known, warmed state while the host is idle.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	keep(c.disarm())
	c.state.host = hostDisarmed
	keep(c.hotStandby())
	return first
}

func (c *Coordinator) hotStandby() error {
	c.init()
	if err := c.configureForCalibration(hotStandbyRange, ShortShotChannels); err != nil {
		return err
	}
	return c.arm()
}

// ConfigureForCalibration configures and arms an analog-only capture
// at a predetermined rate, on behalf of the calibration engine (escape
// value CalibrateChannels) or the hot-standby path (ShortShotChannels).
func (c *Coordinator) ConfigureForCalibration(voltsPerDiv int, numAnalog uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.configureForCalibration(voltsPerDiv, numAnalog)
}

func (c *Coordinator) configureForCalibration(voltsPerDiv int, numAnalog uint32) error {
	v := uint32(voltsPerDiv) & 0x7
	c.state.calibSetup = Config{
		NumDigital: 0,
		NumAnalog:  numAnalog,
		SampleRate: 1000000,
		PostFill:   0x0fffff00 | 100, // 100% post fill
		Analog: AnalogConfig{
			Channels:   0x3,          // both analog channels
			Triggers:   0,            // forced trigger
			VoltPerDiv: v | (v << 4), // same range on both channels
			Couplings:  0,            // DC coupling
		},
	}

	err := c.configure(&c.state.calibSetup)
	if err != nil {
		c.msg.Printf("could not configure calibration capture: %+v", err)
		return err
	}
	return c.arm()
}

// WillWaste reports whether the current capture's samples are to be
// discarded (a short-shot housekeeping capture).
func (c *Coordinator) WillWaste() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.purpose == purposeShortShot
}

// SampleRate returns the current sample rate.
func (c *Coordinator) SampleRate() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rates.sampleRate()
}

// VADCMatchValue returns the VADC match value for the current sample
// rate.
func (c *Coordinator) VADCMatchValue() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rates.counter()
}

// FADC returns the frequency the VADC runs at for the current sample
// rate. It is not the sample rate: it feeds the VADC CRS and DGEC
// settings.
func (c *Coordinator) FADC() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rates.fADC()
}

// ReportDigitalDone reports that the capture of digital signals
// completed. Called from the digital driver's completion context.
func (c *Coordinator) ReportDigitalDone(buf *Buffer, trigPoint, trigSample, activeChannels uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.res.TrigPoint |= trigPoint
	c.state.res.DigitalTrigSample = trigSample
	c.state.res.DigitalChannels = activeChannels
	c.state.res.Digital = buf
	c.state.digDone = true
	c.finish()
}

// ReportDigitalFailed reports that the capture of digital signals
// failed. Called from the digital driver's completion context.
func (c *Coordinator) ReportDigitalFailed(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.digErr = err
	c.state.digDone = true
	c.finish()
}

// ReportAnalogDone reports that the capture of analog signals
// completed. Called from the analog driver's completion context.
func (c *Coordinator) ReportAnalogDone(buf *Buffer, trigPoint, trigSample, activeChannels uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.res.TrigPoint |= trigPoint << 16
	c.state.res.AnalogTrigSample = trigSample
	c.state.res.AnalogChannels = activeChannels
	c.state.res.Analog = buf
	c.state.anaDone = true
	c.finish()
}

// ReportAnalogFailed reports that the capture of analog signals failed.
// Called from the analog driver's completion context.
func (c *Coordinator) ReportAnalogFailed(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.anaErr = err
	c.state.anaDone = true
	c.finish()
}

// finish forwards the combined capture outcome exactly once, when every
// enabled engine has reported. A failure with the partner engine
// disabled is forwarded immediately; with the partner enabled it is
// attributed to the whole capture once both results are known.
func (c *Coordinator) finish() {
	if c.state.sent {
		return
	}
	if !c.state.digDone || !c.state.anaDone {
		return
	}
	c.state.sent = true

	err := c.state.digErr
	if err == nil {
		err = c.state.anaErr
	}

	switch c.state.purpose {
	case purposeShortShot:
		// housekeeping capture: samples are wasted.
		if err != nil {
			c.msg.Printf("short-shot capture failed: %+v", err)
		}
		return
	case purposeCalibrate:
		if c.calib != nil {
			c.calib(err, c.state.res.Analog)
		}
		return
	}

	if err != nil {
		c.host.SignalCaptureFailed(err)
		return
	}
	res := c.state.res
	c.host.SendCapturedSamples(&res)
}
