// Copyright 2023 The go-msi Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package calib

import (
	"encoding/binary"
	"reflect"
	"testing"
)

func TestRawDataRoundTrip(t *testing.T) {
	want := *Default()
	want.Version = DataVersion
	want.UserOut[0] = [NumLevels]int32{2720, -3, -2801}
	want.UserOut[1] = [NumLevels]int32{2781, 5, -2700}
	want.InLow[1][4] = 3111
	want.InHigh[0][2] = 987
	want.Seal()

	p, err := want.MarshalBinary()
	if err != nil {
		t.Fatalf("could not marshal dataset: %+v", err)
	}
	if got := len(p); got != RawDataSize {
		t.Fatalf("invalid dataset size: got=%d, want=%d", got, RawDataSize)
	}

	var got RawData
	err = got.UnmarshalBinary(p)
	if err != nil {
		t.Fatalf("could not unmarshal dataset: %+v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip failed:\ngot= %#v\nwant=%#v", got, want)
	}
	if !got.Verify() {
		t.Fatalf("round-tripped dataset does not verify")
	}
}

func TestRawDataLayout(t *testing.T) {
	var raw RawData
	raw.Checksum = 0x11223344
	raw.Version = DataVersion
	raw.DACOut[0] = 256
	raw.UserOut[0][0] = -1

	p, err := raw.MarshalBinary()
	if err != nil {
		t.Fatalf("could not marshal dataset: %+v", err)
	}

	le := binary.LittleEndian
	if got, want := le.Uint32(p[0:]), uint32(0x11223344); got != want {
		t.Fatalf("invalid checksum word: got=0x%08x, want=0x%08x", got, want)
	}
	if got, want := le.Uint32(p[4:]), uint32(DataVersion); got != want {
		t.Fatalf("invalid version word: got=%d, want=%d", got, want)
	}
	if got, want := le.Uint32(p[8:]), uint32(256); got != want {
		t.Fatalf("invalid dacOut[0] word: got=%d, want=%d", got, want)
	}
	// userOut starts after checksum+version+dacOut[3]
	if got, want := int32(le.Uint32(p[20:])), int32(-1); got != want {
		t.Fatalf("invalid userOut[0][0] word: got=%d, want=%d", got, want)
	}
}

func TestRawDataUnmarshalSize(t *testing.T) {
	var raw RawData
	for _, n := range []int{0, RawDataSize - 1, RawDataSize + 1} {
		if err := raw.UnmarshalBinary(make([]byte, n)); err == nil {
			t.Fatalf("expected an error for size %d", n)
		}
	}
}
