// Copyright 2023 The go-msi Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package calib implements the calibration of the instrument's analog
// front end: the two-pass analog-output calibration against a
// user-operated voltmeter, the self-driven analog-input calibration
// that sweeps every V/div range through the capture path, and the
// persistent calibration dataset with its derived scaling factors.
package calib // import "github.com/go-msi/msi/calib"

const (
	// NumChannels is the number of analog input/output channel pairs.
	NumChannels = 2

	// NumRanges is the number of V/div ranges per analog input channel.
	NumRanges = 8
)

// Level indexes the reference points of the analog-output calibration.
type Level int

const (
	LevelLow    Level = 0 // low DAC code, positive output
	LevelMiddle Level = 1 // mid-scale DAC code
	LevelHigh   Level = 2 // high DAC code, negative output

	// NumLevels is the number of analog-output reference points.
	NumLevels = 3
)

func (lvl Level) String() string {
	switch lvl {
	case LevelLow:
		return "low"
	case LevelMiddle:
		return "middle"
	case LevelHigh:
		return "high"
	}
	return "invalid"
}

// Reference DAC codes (10-bit) and their nominal outputs. The analog
// output stage inverts: the low code produces the positive voltage.
const (
	dacOutLo  = 256
	dacOutMid = 512
	dacOutHi  = 768

	dacOutLoMv = 2750  // nominal output at dacOutLo, in mV
	dacOutHiMv = -2750 // nominal output at dacOutHi, in mV

	// plausibility bounds for user-measured outputs, in mV
	outLoMinMv = 2000
	outLoMaxMv = 5800
	outHiMinMv = -5800
	outHiMaxMv = -2000
)

// dacCodes maps a Level to its reference DAC code.
var dacCodes = [NumLevels]uint16{dacOutLo, dacOutMid, dacOutHi}

// DAC drives the analog-output digital-to-analog converter.
type DAC interface {
	// Set programs the 10-bit output code of one DAC channel.
	Set(ch int, code uint16) error
}

// Capturer issues calibration captures. It is implemented by the
// capture coordinator.
type Capturer interface {
	ConfigureForCalibration(voltsPerDiv int, numAnalog uint32) error
	Disarm() error
}

// calibrateChannels is the channel-count escape value selecting a
// calibration capture on the Capturer.
const calibrateChannels = 0xfe

// Store persists the calibration dataset.
type Store interface {
	Load() (*RawData, error)
	Store(raw *RawData) error
}
