// Copyright 2023 The go-msi Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package calib

import (
	"encoding/binary"
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/xerrors"
)

// State is the state of the calibration engine.
type State uint8

const (
	StateStopped      State = iota // no calibration ongoing
	StateAoutFirst                 // analog-output calibration, first pass
	StateAoutAgain                 // analog-output calibration, repeat pass
	StateAinSetupLow               // driving outputs to the range's low target
	StateAinSetupHigh              // driving outputs to the range's high target
	StateAinProcess                // issuing the calibration capture
	StateAinWait                   // waiting for the capture result
	StateSleeping                  // settling before the next operation
	StateStopping                  // stop requested, winding down
)

func (st State) String() string {
	switch st {
	case StateStopped:
		return "stopped"
	case StateAoutFirst:
		return "aout-first"
	case StateAoutAgain:
		return "aout-again"
	case StateAinSetupLow:
		return "ain-setup-low"
	case StateAinSetupHigh:
		return "ain-setup-high"
	case StateAinProcess:
		return "ain-process"
	case StateAinWait:
		return "ain-wait"
	case StateSleeping:
		return "sleeping"
	case StateStopping:
		return "stopping"
	}
	return "invalid"
}

var errStopped = xerrors.New("calib: calibration stopped")

// captureResult is the outcome of one calibration capture, handed over
// by the capture coordinator.
type captureResult struct {
	err  error
	data []byte
}

// Engine runs the calibration of the analog front end.
//
// The analog-output passes are host-driven: the host asks for a
// reference level, measures the real output with a voltmeter and
// reports it back. The analog-input run is self-driven: a goroutine
// sweeps every V/div range, driving the calibrated outputs into the
// inputs and capturing the response through the Capturer.
type Engine struct {
	msg    *log.Logger
	dac    DAC
	capt   Capturer
	sto    Store
	settle time.Duration

	mu       sync.Mutex
	state    State
	raw      RawData
	stopping bool

	results  chan captureResult
	quit     chan struct{}
	done     chan error
	finished chan struct{}
}

// EngineOption configures a calibration Engine.
type EngineOption func(eng *Engine)

// WithLogger sets the engine message logger.
func WithLogger(msg *log.Logger) EngineOption {
	return func(eng *Engine) {
		eng.msg = msg
	}
}

// WithSettle sets the settling delay between driving the analog
// outputs and capturing the inputs.
func WithSettle(d time.Duration) EngineOption {
	return func(eng *Engine) {
		eng.settle = d
	}
}

// New creates a calibration engine over the given DAC, capturer and
// dataset store.
func New(dac DAC, capt Capturer, sto Store, opts ...EngineOption) *Engine {
	eng := &Engine{
		msg:    log.New(os.Stdout, "calib: ", 0),
		dac:    dac,
		capt:   capt,
		sto:    sto,
		settle: 50 * time.Millisecond,
		state:  StateStopped,
	}
	for _, opt := range opts {
		opt(eng)
	}
	return eng
}

// Init loads the active calibration dataset from the store, falling
// back to the nominal defaults when the store is erased or corrupt.
func (eng *Engine) Init() error {
	raw, err := eng.sto.Load()
	switch {
	case err != nil:
		eng.msg.Printf("could not load calibration data: %+v. using defaults", err)
		raw = Default()
	case raw.IsDefault():
		eng.msg.Printf("calibration storage is erased. using defaults")
		raw = Default()
	case !raw.Verify():
		eng.msg.Printf("calibration data checksum mismatch. using defaults")
		raw = Default()
	}

	eng.mu.Lock()
	eng.raw = *raw
	eng.mu.Unlock()
	return nil
}

// Active returns a copy of the active calibration dataset.
func (eng *Engine) Active() RawData {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	return eng.raw
}

// State returns the current engine state.
func (eng *Engine) State() State {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	return eng.state
}

func (eng *Engine) setState(st State) {
	eng.mu.Lock()
	if eng.state != StateStopping {
		eng.state = st
	}
	eng.mu.Unlock()
}

// AnalogOut records one point of the analog-output calibration: the
// outputs the user measured at the given level's reference code, per
// channel and in mV. Both DAC channels are left driven at that code so
// the measurement can be repeated.
func (eng *Engine) AnalogOut(lvl Level, measuredMv [NumChannels]int32) error {
	if lvl < LevelLow || lvl > LevelHigh {
		return xerrors.Errorf("calib: invalid analog-out level %d", int(lvl))
	}

	for ch, mv := range measuredMv {
		switch lvl {
		case LevelLow:
			if mv < outLoMinMv || mv > outLoMaxMv {
				return xerrors.Errorf("calib: measured output %d mV on channel %d out of bounds [%d, %d]",
					mv, ch, outLoMinMv, outLoMaxMv)
			}
		case LevelHigh:
			if mv < outHiMinMv || mv > outHiMaxMv {
				return xerrors.Errorf("calib: measured output %d mV on channel %d out of bounds [%d, %d]",
					mv, ch, outHiMinMv, outHiMaxMv)
			}
		}
	}

	eng.mu.Lock()
	switch eng.state {
	case StateStopped:
		eng.state = StateAoutFirst
	case StateAoutFirst, StateAoutAgain:
		eng.state = StateAoutAgain
	default:
		st := eng.state
		eng.mu.Unlock()
		return xerrors.Errorf("calib: analog-out calibration not allowed in state %v", st)
	}
	eng.raw.DACOut[lvl] = uint32(dacCodes[lvl])
	for ch, mv := range measuredMv {
		eng.raw.UserOut[ch][lvl] = mv
	}
	eng.mu.Unlock()

	for ch := 0; ch < NumChannels; ch++ {
		if err := eng.dac.Set(ch, dacCodes[lvl]); err != nil {
			return xerrors.Errorf("calib: could not drive DAC channel %d: %w", ch, err)
		}
	}
	return nil
}

// AnalogIn starts the self-driven analog-input calibration run. The
// analog outputs must have been calibrated first. Completion is
// reported on the Done channel.
func (eng *Engine) AnalogIn() error {
	eng.mu.Lock()
	switch eng.state {
	case StateAoutFirst, StateAoutAgain:
	default:
		st := eng.state
		eng.mu.Unlock()
		return xerrors.Errorf("calib: analog-in calibration not allowed in state %v", st)
	}
	eng.state = StateAinSetupLow
	eng.stopping = false
	eng.results = make(chan captureResult, 1)
	eng.quit = make(chan struct{})
	eng.done = make(chan error, 1)
	eng.finished = make(chan struct{})
	eng.mu.Unlock()

	go eng.run()
	return nil
}

// Done returns the channel carrying the outcome of the analog-input
// calibration run started by AnalogIn.
func (eng *Engine) Done() <-chan error {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	return eng.done
}

// ProcessResult hands over the outcome of a calibration capture. It is
// the coordinator's calibration sink and never blocks.
func (eng *Engine) ProcessResult(err error, data []byte) {
	eng.mu.Lock()
	results := eng.results
	eng.mu.Unlock()
	if results == nil {
		return
	}
	select {
	case results <- captureResult{err: err, data: data}:
	default:
	}
}

// Stop aborts any ongoing calibration and returns the engine to the
// stopped state. It is safe to call mid-capture and from any state.
func (eng *Engine) Stop() error {
	eng.mu.Lock()
	switch eng.state {
	case StateStopped:
		eng.mu.Unlock()
		return nil
	case StateAoutFirst, StateAoutAgain:
		eng.state = StateStopped
		eng.mu.Unlock()
		return nil
	}

	eng.state = StateStopping
	if !eng.stopping {
		eng.stopping = true
		close(eng.quit)
	}
	finished := eng.finished
	eng.mu.Unlock()

	if err := eng.capt.Disarm(); err != nil {
		eng.msg.Printf("could not disarm in-flight capture: %+v", err)
	}
	<-finished
	return nil
}

// run is the analog-input calibration loop.
func (eng *Engine) run() {
	err := eng.calibrateInputs()
	if err == nil {
		eng.mu.Lock()
		eng.raw.Version = DataVersion
		eng.raw.Seal()
		raw := eng.raw
		eng.mu.Unlock()

		err = eng.sto.Store(&raw)
		if err != nil {
			err = xerrors.Errorf("calib: could not store calibration data: %w", err)
		}
	}

	eng.mu.Lock()
	eng.state = StateStopped
	eng.mu.Unlock()

	eng.done <- err
	close(eng.finished)
}

func (eng *Engine) calibrateInputs() error {
	for rng := 0; rng < NumRanges; rng++ {
		target := rangeTargetMv(rng)

		low, err := eng.measure(rng, StateAinSetupLow, target)
		if err != nil {
			return err
		}
		high, err := eng.measure(rng, StateAinSetupHigh, -target)
		if err != nil {
			return err
		}

		eng.mu.Lock()
		eng.raw.VoltsInLow[rng] = target
		eng.raw.VoltsInHigh[rng] = -target
		for ch := 0; ch < NumChannels; ch++ {
			eng.raw.InLow[ch][rng] = low[ch]
			eng.raw.InHigh[ch][rng] = high[ch]
		}
		eng.mu.Unlock()

		eng.msg.Printf("calibrated range %d: target=%+d mV low=%v high=%v", rng, target, low, high)
	}
	return nil
}

// measure drives both analog outputs to the target voltage, lets the
// front end settle, captures both inputs at the given V/div range and
// returns the averaged ADC code per channel.
func (eng *Engine) measure(rng int, setup State, targetMv int32) ([NumChannels]uint32, error) {
	var avg [NumChannels]uint32

	eng.setState(setup)
	eng.mu.Lock()
	var codes [NumChannels]uint16
	for ch := 0; ch < NumChannels; ch++ {
		codes[ch] = eng.raw.dacCodeFor(ch, targetMv)
	}
	eng.mu.Unlock()

	for ch, code := range codes {
		if err := eng.dac.Set(ch, code); err != nil {
			return avg, xerrors.Errorf("calib: could not drive DAC channel %d: %w", ch, err)
		}
	}

	eng.setState(StateSleeping)
	select {
	case <-time.After(eng.settle):
	case <-eng.quit:
		return avg, errStopped
	}

	eng.setState(StateAinProcess)
	err := eng.capt.ConfigureForCalibration(rng, calibrateChannels)
	if err != nil {
		return avg, xerrors.Errorf("calib: could not start calibration capture: %w", err)
	}

	eng.setState(StateAinWait)
	select {
	case res := <-eng.results:
		if res.err != nil {
			return avg, xerrors.Errorf("calib: calibration capture failed: %w", res.err)
		}
		return averageSamples(res.data)
	case <-eng.quit:
		return avg, errStopped
	}
}

// averageSamples averages the interleaved two-channel uint16 sample
// stream of a calibration capture.
func averageSamples(p []byte) ([NumChannels]uint32, error) {
	var avg [NumChannels]uint32
	if len(p) < 4 || len(p)%4 != 0 {
		return avg, xerrors.Errorf("calib: invalid calibration sample buffer size %d", len(p))
	}

	var (
		le  = binary.LittleEndian
		sum [NumChannels]uint64
		n   uint64
	)
	for i := 0; i+3 < len(p); i += 4 {
		sum[0] += uint64(le.Uint16(p[i:]))
		sum[1] += uint64(le.Uint16(p[i+2:]))
		n++
	}
	for ch := range avg {
		avg[ch] = uint32(sum[ch] / n)
	}
	return avg, nil
}
