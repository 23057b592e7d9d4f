// Copyright 2023 The go-msi Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package capture coordinates the digital (SGPIO) and analog (VADC)
// sampling sub-engines of the instrument: it translates sample-rate
// requests into PLL0AUDIO settings, partitions the fixed capture memory
// region into per-engine buffers and reports the combined result of a
// capture to the host exactly once.
package capture // import "github.com/go-msi/msi/capture"

import (
	"errors"
)

var (
	// ErrNoChannelsEnabled is returned by Configure when neither a
	// digital nor an analog channel is enabled.
	ErrNoChannelsEnabled = errors.New("capture: no channels enabled")

	// ErrInvalidSignalCombination is returned when the requested
	// combination of channels, triggers and sample rate cannot be
	// realized by the hardware.
	ErrInvalidSignalCombination = errors.New("capture: invalid signal combination")

	// ErrUnsupportedSampleRate is returned when the requested sample
	// rate has no entry in the rate table, when it would need a
	// non-integer peripheral counter, or by Start when no configuration
	// has ever been accepted.
	ErrUnsupportedSampleRate = errors.New("capture: unsupported sample rate")
)

// Escape values for Config.NumAnalog. They do not denote a physical
// channel count but select a special capture mode.
const (
	// ShortShotChannels selects a reduced fixed-size analog-only
	// capture on the fast analog path, used for calibration and
	// housekeeping.
	ShortShotChannels = 0xff

	// CalibrateChannels selects an analog-input calibration capture
	// on both physical analog channels.
	CalibrateChannels = 0xfe

	shortShotActual = 1 // physical channel count behind ShortShotChannels
	calibrateActual = 2 // physical channel count behind CalibrateChannels
)

// shortShotSamples is the fixed number of uint16 samples gathered by a
// short-shot capture.
const shortShotSamples = 1024

// PostFill packs the post-trigger fill policy: the low 8 bits hold the
// percent of the buffer reserved for samples taken after the trigger,
// the high 24 bits the maximum number of post-trigger samples.
type PostFill uint32

// Percent returns the post-trigger fill percentage.
func (pf PostFill) Percent() uint8 { return uint8(pf & 0xff) }

// MaxSamples returns the maximum number of post-trigger samples.
func (pf PostFill) MaxSamples() uint32 { return uint32(pf >> 8) }

// DigitalConfig is the digital sub-engine part of a capture
// configuration.
type DigitalConfig struct {
	Channels uint32 // enabled-channel bitmask, DIO0..DIO10
	Triggers uint32 // per-channel trigger-enable bitmask
}

// AnalogConfig is the analog sub-engine part of a capture
// configuration.
type AnalogConfig struct {
	Channels       uint32 // enabled-channel bitmask, CH0..CH1
	Triggers       uint32 // per-channel trigger-enable bitmask
	VoltPerDiv     uint32 // per-channel V/div range index, one nibble per channel
	Couplings      uint32 // per-channel coupling (0=DC)
	NoiseReduction uint32 // per-channel noise-reduction enable
}

// Config is the capture configuration sent by the host.
type Config struct {
	NumDigital uint32 // number of enabled digital signals
	NumAnalog  uint32 // number of enabled analog signals, or an escape value
	SampleRate uint32 // wanted sample rate in Hz
	PostFill   PostFill

	Digital DigitalConfig
	Analog  AnalogConfig
}

// physAnalog maps the analog channel count of cfg to the physical
// number of VADC channels, resolving the escape values.
func (cfg *Config) physAnalog() int {
	switch cfg.NumAnalog {
	case ShortShotChannels:
		return shortShotActual
	case CalibrateChannels:
		return calibrateActual
	}
	return int(cfg.NumAnalog)
}

// checkSignalCombination vets combinations of captured signals that are
// known to overload parts of the signal chain. It is a pure validation
// step with no side effects.
func checkSignalCombination(cfg *Config) error {
	vadc := cfg.physAnalog()

	if cfg.SampleRate < 20000 {
		// below 20 kHz the PLL0AUDIO can take >10s to lock.
		return ErrInvalidSignalCombination
	}

	if vadc == 0 {
		// digital-only capture
		mask := cfg.Digital.Channels & 0x7ff
		trig := cfg.Digital.Triggers & 0x7ff
		switch {
		case mask > 0x0ff:
			if cfg.SampleRate > 20000000 {
				// limit to 20MHz when sampling all digital signals
				return ErrInvalidSignalCombination
			}
		case mask > 0x00f:
			if cfg.SampleRate > 50000000 {
				// limit to 50MHz when sampling DIO0..DIO7
				return ErrInvalidSignalCombination
			}
			if cfg.SampleRate > 40000000 && trig != 0 {
				// limit to 40MHz when sampling DIO0..DIO7 with triggers
				return ErrInvalidSignalCombination
			}
		case mask > 0x003:
			if cfg.SampleRate > 80000000 && trig != 0 {
				// limit to 80MHz when sampling DIO0..DIO3 with triggers
				return ErrInvalidSignalCombination
			}
		}
		return nil
	}

	if cfg.NumDigital == 0 {
		// analog-only capture
		if cfg.SampleRate > 60000000 {
			return ErrUnsupportedSampleRate
		}
		if cfg.SampleRate > 30000000 && vadc >= 2 {
			// limit to 30MHz when sampling both analog signals
			return ErrUnsupportedSampleRate
		}
		return nil
	}

	// at least one analog and one digital channel enabled
	if cfg.SampleRate > 20000000 {
		// limit to 20MHz when sampling both analog and digital signals
		return ErrInvalidSignalCombination
	}

	return nil
}
