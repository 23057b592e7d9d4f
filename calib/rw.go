// Copyright 2023 The go-msi Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package calib

import (
	"encoding/binary"

	"golang.org/x/xerrors"
)

// RawDataSize is the size, in bytes, of the persisted calibration
// dataset.
const RawDataSize = 236

// MarshalBinary encodes the dataset into its little-endian persistent
// form.
func (raw *RawData) MarshalBinary() ([]byte, error) {
	p := make([]byte, 0, RawDataSize)
	le := binary.LittleEndian

	u32 := func(v uint32) { p = le.AppendUint32(p, v) }
	i32 := func(v int32) { p = le.AppendUint32(p, uint32(v)) }

	u32(raw.Checksum)
	u32(raw.Version)
	for _, v := range raw.DACOut {
		u32(v)
	}
	for ch := range raw.UserOut {
		for _, v := range raw.UserOut[ch] {
			i32(v)
		}
	}
	for _, v := range raw.VoltsInLow {
		i32(v)
	}
	for _, v := range raw.VoltsInHigh {
		i32(v)
	}
	for ch := range raw.InLow {
		for _, v := range raw.InLow[ch] {
			u32(v)
		}
	}
	for ch := range raw.InHigh {
		for _, v := range raw.InHigh[ch] {
			u32(v)
		}
	}
	return p, nil
}

// UnmarshalBinary decodes the dataset from its little-endian persistent
// form.
func (raw *RawData) UnmarshalBinary(p []byte) error {
	if len(p) != RawDataSize {
		return xerrors.Errorf("calib: invalid dataset size %d (want %d)", len(p), RawDataSize)
	}

	le := binary.LittleEndian
	i := 0
	u32 := func() uint32 {
		v := le.Uint32(p[i:])
		i += 4
		return v
	}
	i32 := func() int32 { return int32(u32()) }

	raw.Checksum = u32()
	raw.Version = u32()
	for k := range raw.DACOut {
		raw.DACOut[k] = u32()
	}
	for ch := range raw.UserOut {
		for k := range raw.UserOut[ch] {
			raw.UserOut[ch][k] = i32()
		}
	}
	for k := range raw.VoltsInLow {
		raw.VoltsInLow[k] = i32()
	}
	for k := range raw.VoltsInHigh {
		raw.VoltsInHigh[k] = i32()
	}
	for ch := range raw.InLow {
		for k := range raw.InLow[ch] {
			raw.InLow[ch][k] = u32()
		}
	}
	for ch := range raw.InHigh {
		for k := range raw.InHigh[ch] {
			raw.InHigh[ch][k] = u32()
		}
	}
	return nil
}
