// Copyright 2023 The go-msi Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package calib

import (
	"math"

	"github.com/snksoft/crc"
)

// DataVersion is the current version of the calibration dataset.
const DataVersion = 1

// DefaultMark is the sentinel stored in the checksum and version words
// of an erased dataset.
const DefaultMark = 0x00dead00

// RawData is the calibration dataset as persisted in the instrument's
// EEPROM.
type RawData struct {
	Checksum uint32
	Version  uint32

	// Analog-output calibration: DAC codes driven during calibration
	// and the user-measured output, in mV, per channel and level.
	DACOut  [NumLevels]uint32
	UserOut [NumChannels][NumLevels]int32

	// Analog-input calibration: the output voltages, in mV, driven
	// while calibrating each V/div range, and the averaged ADC codes
	// measured per channel and range.
	VoltsInLow  [NumRanges]int32
	VoltsInHigh [NumRanges]int32
	InLow       [NumChannels][NumRanges]uint32
	InHigh      [NumChannels][NumRanges]uint32
}

// divMv lists the V/div ranges, in mV per division.
var divMv = [NumRanges]int32{20, 50, 100, 200, 500, 1000, 2000, 5000}

// DivMv returns the sensitivity of the given V/div range, in mV per
// division.
func DivMv(rng int) int32 { return divMv[rng] }

// rangeTargetMv returns the analog output driven while calibrating the
// given V/div range: two divisions, clamped to the DAC output span.
func rangeTargetMv(rng int) int32 {
	mv := 2 * divMv[rng]
	if mv > 5500 {
		mv = 5500
	}
	return mv
}

// IsDefault reports whether raw is the erased-storage dataset rather
// than data calibrated against the actual hardware.
func (raw *RawData) IsDefault() bool {
	return raw.Checksum == DefaultMark || raw.Version == DefaultMark
}

// Seal recomputes the dataset checksum over everything but the
// checksum word itself.
func (raw *RawData) Seal() {
	p, _ := raw.MarshalBinary()
	raw.Checksum = uint32(crc.CalculateCRC(crc.CRC32, p[4:]))
}

// Verify reports whether the dataset checksum is consistent with its
// payload.
func (raw *RawData) Verify() bool {
	p, _ := raw.MarshalBinary()
	return raw.Checksum == uint32(crc.CalculateCRC(crc.CRC32, p[4:]))
}

// Default returns the nominal dataset used when the persistent storage
// is erased or corrupt: reference DAC codes with their nominal outputs
// and ADC codes on the ideal transfer line.
func Default() *RawData {
	raw := &RawData{
		Checksum: DefaultMark,
		Version:  DefaultMark,
		DACOut:   [NumLevels]uint32{dacOutLo, dacOutMid, dacOutHi},
	}
	for ch := 0; ch < NumChannels; ch++ {
		raw.UserOut[ch] = [NumLevels]int32{dacOutLoMv, 0, dacOutHiMv}
	}
	for rng := 0; rng < NumRanges; rng++ {
		mv := rangeTargetMv(rng)
		raw.VoltsInLow[rng] = mv
		raw.VoltsInHigh[rng] = -mv

		// ideal 12-bit ADC line: mid-scale at 0V, 512 codes per
		// division.
		code := mv * 512 / divMv[rng]
		for ch := 0; ch < NumChannels; ch++ {
			raw.InLow[ch][rng] = uint32(2048 + code)
			raw.InHigh[ch][rng] = uint32(2048 - code)
		}
	}
	return raw
}

// DACFactors returns the two-point transfer line of channel ch of the
// analog-output DAC: output = a + b*code, in mV. The line is computed
// in float32 as the instrument does.
func (raw *RawData) DACFactors(ch int) (a, b float32) {
	var (
		dL = float32(raw.DACOut[LevelLow])
		dH = float32(raw.DACOut[LevelHigh])
		vL = float32(raw.UserOut[ch][LevelLow])
		vH = float32(raw.UserOut[ch][LevelHigh])
	)
	b = (vH - vL) / (dH - dL)
	a = vL - b*dL
	return a, b
}

// clipDAC clips a DAC input code to the 10-bit range.
func clipDAC(code int) int {
	if code < 0 {
		return 0
	}
	if code > 1023 {
		return 1023
	}
	return code
}

// dacCodeFor returns the DAC input code of channel ch that comes
// closest to the target output, per the channel's calibrated transfer
// line.
func (raw *RawData) dacCodeFor(ch int, targetMv int32) uint16 {
	a, b := raw.DACFactors(ch)
	return uint16(clipDAC(int((float32(targetMv) - a) / b)))
}

// estimateVin estimates the actual voltage, in V, present at the
// analog input of channel ch when its DAC is programmed to output
// targetMv: the target is rounded to a realizable DAC code and mapped
// back through the channel's transfer line.
func (raw *RawData) estimateVin(ch int, targetMv int32) float64 {
	a, b := raw.DACFactors(ch)
	code := clipDAC(int((float32(targetMv) - a) / b))
	return float64((a + b*float32(code)) / 1000)
}

// Factors holds the per-channel, per-range scaling factors that map a
// raw ADC code to a calibrated voltage: V = A + B*code.
type Factors struct {
	A [NumChannels][NumRanges]float64
	B [NumChannels][NumRanges]float64
}

// Factors derives the input scaling factors from the dataset:
//
//	B = (Vin1 - Vin2)/(raw1 - raw2)
//	A = Vin1 - B*raw1
//
// where Vin1/Vin2 are the estimated true analog-output voltages for the
// range's calibration targets and raw1/raw2 the averaged ADC codes
// measured at those targets.
func (raw *RawData) Factors() Factors {
	var f Factors
	for rng := 0; rng < NumRanges; rng++ {
		for ch := 0; ch < NumChannels; ch++ {
			var (
				vin1 = raw.estimateVin(ch, raw.VoltsInLow[rng])
				vin2 = raw.estimateVin(ch, raw.VoltsInHigh[rng])
				raw1 = float64(raw.InLow[ch][rng])
				raw2 = float64(raw.InHigh[ch][rng])
			)
			b := (vin1 - vin2) / (raw1 - raw2)
			f.B[ch][rng] = b
			f.A[ch][rng] = vin1 - b*raw1
		}
	}
	return f
}

// Reasonable reports whether every scaling factor is finite and within
// plausible bounds. It is advisory: unreasonable factors usually mean
// the instrument should be recalibrated.
func (f *Factors) Reasonable() bool {
	ok := func(v float64) bool {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
		return v >= -1000 && v <= 1000
	}
	for ch := 0; ch < NumChannels; ch++ {
		for rng := 0; rng < NumRanges; rng++ {
			if !ok(f.A[ch][rng]) || !ok(f.B[ch][rng]) {
				return false
			}
		}
	}
	return true
}
