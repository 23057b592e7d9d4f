// Copyright 2023 The go-msi Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package calib

import (
	"encoding/binary"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"
)

type fakeDAC struct {
	mu    sync.Mutex
	codes [NumChannels]uint16
}

func (dac *fakeDAC) Set(ch int, code uint16) error {
	dac.mu.Lock()
	dac.codes[ch] = code
	dac.mu.Unlock()
	return nil
}

// output returns the voltage, in mV, present at channel ch for the
// currently programmed DAC code, per the nominal transfer line.
func (dac *fakeDAC) output(ch int) float64 {
	dac.mu.Lock()
	defer dac.mu.Unlock()
	return 5500 - 10.7421875*float64(dac.codes[ch])
}

// fakeCapturer synthesizes calibration captures: the ADC code tracks
// the fake DAC output on the ideal 512-codes-per-division line.
type fakeCapturer struct {
	eng *Engine
	dac *fakeDAC

	mu      sync.Mutex
	mute    bool // drop capture requests (stuck hardware)
	disarms int
}

func (capt *fakeCapturer) ConfigureForCalibration(voltsPerDiv int, numAnalog uint32) error {
	capt.mu.Lock()
	mute := capt.mute
	capt.mu.Unlock()
	if mute {
		return nil
	}

	div := float64(divMv[voltsPerDiv])
	p := make([]byte, 4*16)
	le := binary.LittleEndian
	for i := 0; i < len(p); i += 4 {
		for ch := 0; ch < NumChannels; ch++ {
			code := 2048 + capt.dac.output(ch)*512/div
			if code < 0 {
				code = 0
			}
			if code > 4095 {
				code = 4095
			}
			le.PutUint16(p[i+2*ch:], uint16(code))
		}
	}
	capt.eng.ProcessResult(nil, p)
	return nil
}

func (capt *fakeCapturer) Disarm() error {
	capt.mu.Lock()
	capt.disarms++
	capt.mu.Unlock()
	return nil
}

type fakeStore struct {
	mu      sync.Mutex
	raw     *RawData
	loadErr error
}

func (sto *fakeStore) Load() (*RawData, error) {
	sto.mu.Lock()
	defer sto.mu.Unlock()
	if sto.loadErr != nil {
		return nil, sto.loadErr
	}
	if sto.raw == nil {
		return Default(), nil
	}
	cp := *sto.raw
	return &cp, nil
}

func (sto *fakeStore) Store(raw *RawData) error {
	sto.mu.Lock()
	defer sto.mu.Unlock()
	cp := *raw
	sto.raw = &cp
	return nil
}

func (sto *fakeStore) stored() *RawData {
	sto.mu.Lock()
	defer sto.mu.Unlock()
	return sto.raw
}

func newTestEngine(t *testing.T) (*Engine, *fakeDAC, *fakeCapturer, *fakeStore) {
	t.Helper()
	dac := &fakeDAC{}
	capt := &fakeCapturer{dac: dac}
	sto := &fakeStore{}
	eng := New(dac, capt, sto,
		WithLogger(log.New(io.Discard, "calib: ", 0)),
		WithSettle(0),
	)
	capt.eng = eng
	if err := eng.Init(); err != nil {
		t.Fatalf("could not init engine: %+v", err)
	}
	return eng, dac, capt, sto
}

func TestEngineInitFallsBack(t *testing.T) {
	dac := &fakeDAC{}
	capt := &fakeCapturer{dac: dac}
	sto := &fakeStore{loadErr: errors.New("eeprom: no ack")}
	eng := New(dac, capt, sto, WithLogger(log.New(io.Discard, "calib: ", 0)))
	capt.eng = eng

	if err := eng.Init(); err != nil {
		t.Fatalf("could not init engine: %+v", err)
	}
	raw := eng.Active()
	if !raw.IsDefault() {
		t.Fatalf("engine did not fall back to the default dataset")
	}
}

func TestEngineAnalogOut(t *testing.T) {
	eng, dac, _, _ := newTestEngine(t)

	err := eng.AnalogOut(LevelLow, [NumChannels]int32{2750, 2760})
	if err != nil {
		t.Fatalf("could not calibrate low output: %+v", err)
	}
	if got, want := eng.State(), StateAoutFirst; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}
	if got, want := dac.codes[0], uint16(dacOutLo); got != want {
		t.Fatalf("invalid DAC code: got=%d, want=%d", got, want)
	}

	err = eng.AnalogOut(LevelHigh, [NumChannels]int32{-2750, -2740})
	if err != nil {
		t.Fatalf("could not calibrate high output: %+v", err)
	}
	if got, want := eng.State(), StateAoutAgain; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}

	raw := eng.Active()
	if got, want := raw.UserOut[1][LevelLow], int32(2760); got != want {
		t.Fatalf("invalid recorded output: got=%d, want=%d", got, want)
	}
	if got, want := raw.DACOut[LevelHigh], uint32(dacOutHi); got != want {
		t.Fatalf("invalid recorded DAC code: got=%d, want=%d", got, want)
	}
}

func TestEngineAnalogOutBounds(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)

	for _, tc := range []struct {
		name string
		lvl  Level
		mv   [NumChannels]int32
	}{
		{name: "low-too-low", lvl: LevelLow, mv: [NumChannels]int32{1999, 2750}},
		{name: "low-too-high", lvl: LevelLow, mv: [NumChannels]int32{2750, 5801}},
		{name: "low-negative", lvl: LevelLow, mv: [NumChannels]int32{-2750, 2750}},
		{name: "high-too-low", lvl: LevelHigh, mv: [NumChannels]int32{-5801, -2750}},
		{name: "high-too-high", lvl: LevelHigh, mv: [NumChannels]int32{-2750, -1999}},
		{name: "invalid-level", lvl: Level(9), mv: [NumChannels]int32{2750, 2750}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if err := eng.AnalogOut(tc.lvl, tc.mv); err == nil {
				t.Fatalf("expected an error")
			}
		})
	}

	if got, want := eng.State(), StateStopped; got != want {
		t.Fatalf("invalid state after rejected passes: got=%v, want=%v", got, want)
	}
}

func TestEngineAnalogInRequiresOutputs(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	if err := eng.AnalogIn(); err == nil {
		t.Fatalf("expected an error starting input calibration from %v", eng.State())
	}
}

func TestEngineAnalogInEndToEnd(t *testing.T) {
	eng, _, _, sto := newTestEngine(t)

	if err := eng.AnalogOut(LevelLow, [NumChannels]int32{2750, 2750}); err != nil {
		t.Fatalf("could not calibrate low output: %+v", err)
	}
	if err := eng.AnalogOut(LevelHigh, [NumChannels]int32{-2750, -2750}); err != nil {
		t.Fatalf("could not calibrate high output: %+v", err)
	}
	if err := eng.AnalogIn(); err != nil {
		t.Fatalf("could not start input calibration: %+v", err)
	}

	select {
	case err := <-eng.Done():
		if err != nil {
			t.Fatalf("input calibration failed: %+v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("input calibration timed out in state %v", eng.State())
	}

	if got, want := eng.State(), StateStopped; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}

	raw := sto.stored()
	if raw == nil {
		t.Fatalf("calibration result not stored")
	}
	if !raw.Verify() {
		t.Fatalf("stored dataset does not verify")
	}
	if raw.IsDefault() {
		t.Fatalf("stored dataset marked as default")
	}
	if got, want := raw.Version, uint32(DataVersion); got != want {
		t.Fatalf("invalid dataset version: got=%d, want=%d", got, want)
	}

	f := raw.Factors()
	if !f.Reasonable() {
		t.Fatalf("derived factors not reasonable: %+v", f)
	}
	for ch := 0; ch < NumChannels; ch++ {
		for rng := 0; rng < NumRanges; rng++ {
			if raw.InLow[ch][rng] <= raw.InHigh[ch][rng] {
				t.Fatalf("inverted ADC codes: ch=%d rng=%d low=%d high=%d",
					ch, rng, raw.InLow[ch][rng], raw.InHigh[ch][rng])
			}
			if f.B[ch][rng] <= 0 {
				t.Fatalf("invalid B factor: ch=%d rng=%d b=%v", ch, rng, f.B[ch][rng])
			}
		}
	}
	if got, want := raw.VoltsInLow[0], int32(40); got != want {
		t.Fatalf("invalid range-0 target: got=%d, want=%d", got, want)
	}
	if got, want := raw.VoltsInHigh[7], int32(-5500); got != want {
		t.Fatalf("invalid range-7 target: got=%d, want=%d", got, want)
	}
}

func TestEngineStopMidCapture(t *testing.T) {
	eng, _, capt, sto := newTestEngine(t)
	capt.mute = true // captures never complete

	if err := eng.AnalogOut(LevelLow, [NumChannels]int32{2750, 2750}); err != nil {
		t.Fatalf("could not calibrate low output: %+v", err)
	}
	if err := eng.AnalogOut(LevelHigh, [NumChannels]int32{-2750, -2750}); err != nil {
		t.Fatalf("could not calibrate high output: %+v", err)
	}
	if err := eng.AnalogIn(); err != nil {
		t.Fatalf("could not start input calibration: %+v", err)
	}

	// wait for the engine to block on the capture result
	timeout := time.After(10 * time.Second)
	for eng.State() != StateAinWait {
		select {
		case <-timeout:
			t.Fatalf("engine never reached the wait state: %v", eng.State())
		case <-time.After(time.Millisecond):
		}
	}

	if err := eng.Stop(); err != nil {
		t.Fatalf("could not stop engine: %+v", err)
	}
	if got, want := eng.State(), StateStopped; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}
	if capt.disarms == 0 {
		t.Fatalf("in-flight capture not disarmed")
	}
	if err := <-eng.Done(); !errors.Is(err, errStopped) {
		t.Fatalf("invalid run outcome: got=%v, want=%v", err, errStopped)
	}
	if sto.stored() != nil {
		t.Fatalf("aborted calibration stored a dataset")
	}

	// stop is idempotent
	if err := eng.Stop(); err != nil {
		t.Fatalf("could not re-stop engine: %+v", err)
	}
}
