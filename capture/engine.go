// Copyright 2023 The go-msi Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package capture

// Buffer describes one sample buffer inside the fixed capture memory
// region. Data is the backing store, filled in by the sub-engine that
// owns the buffer.
type Buffer struct {
	Addr uint32
	Size uint32
	Data []byte
}

// End returns the first address past the buffer.
func (buf Buffer) End() uint32 { return buf.Addr + buf.Size }

// DigitalEngine is the interface to the SGPIO shift-register sampling
// peripheral driver. Completion is reported asynchronously through the
// coordinator's ReportDigitalDone/ReportDigitalFailed entry points.
type DigitalEngine interface {
	Init()
	Configure(buf Buffer, cfg DigitalConfig, post PostFill, forced bool, counter uint16) error
	PrepareToArm() error
	Arm()
	Disarm()
}

// AnalogEngine is the interface to the VADC sampling peripheral driver.
// Completion is reported asynchronously through the coordinator's
// ReportAnalogDone/ReportAnalogFailed entry points.
type AnalogEngine interface {
	Init()
	Configure(buf Buffer, cfg AnalogConfig, post PostFill, forced bool) error
	PrepareToArm() error
	Arm()
	Disarm()
}

// Clock programs the shared PLL0AUDIO and gates the two clock domains
// fed by it.
type Clock interface {
	SetPLL0Audio(msel, nsel, psel uint8)
	EnablePeriph(on bool)
	EnableVADC(on bool)
	Update()
}

// Indicators drives the front-panel armed/triggered indicators.
type Indicators interface {
	Armed(on bool)
	Triggered(on bool)
}

// noIndicators is used when no indicator hardware is attached.
type noIndicators struct{}

func (noIndicators) Armed(on bool)     {}
func (noIndicators) Triggered(on bool) {}

// Transport sends capture outcomes to the host. Implementations must
// not call back into the coordinator from these methods: both are
// invoked from completion context with the coordinator lock held.
type Transport interface {
	SendCapturedSamples(res *Result)
	SignalCaptureFailed(err error)
}

// Result is the combined outcome of a capture, sent to the host once
// every enabled sub-engine has reported.
type Result struct {
	TrigPoint uint32 // digital trigger bitmap in the low, analog in the high 16 bits

	DigitalTrigSample uint32
	DigitalChannels   uint32
	Digital           *Buffer

	AnalogTrigSample uint32
	AnalogChannels   uint32
	Analog           *Buffer
}
