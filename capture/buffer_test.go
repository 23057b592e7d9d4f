// Copyright 2023 The go-msi Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package capture

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func TestHighestDigital(t *testing.T) {
	for _, tc := range []struct {
		mask uint32
		want int
	}{
		{mask: 0x000, want: -1},
		{mask: 0x001, want: 1},
		{mask: 0x021, want: 6},
		{mask: 0x400, want: 11},
		{mask: 0x7ff, want: 11},
	} {
		t.Run(fmt.Sprintf("mask=0x%03x", tc.mask), func(t *testing.T) {
			got := highestDigital(tc.mask)
			if got != tc.want {
				t.Fatalf("invalid channel count: got=%d, want=%d", got, tc.want)
			}
		})
	}
}

func TestPlanBuffersSingle(t *testing.T) {
	for _, tc := range []struct {
		name string
		cfg  Config
		dig  Buffer
		ana  Buffer
	}{
		{
			name: "digital-only",
			cfg: Config{
				NumDigital: 2,
				Digital:    DigitalConfig{Channels: 0x003},
			},
			dig: Buffer{Addr: bufAddr, Size: bufSize},
		},
		{
			name: "analog-only",
			cfg: Config{
				NumAnalog: 2,
				Analog:    AnalogConfig{Channels: 0x3},
			},
			ana: Buffer{Addr: bufAddr, Size: bufSize},
		},
		{
			name: "calibrate",
			cfg: Config{
				NumAnalog: CalibrateChannels,
				Analog:    AnalogConfig{Channels: 0x3},
			},
			ana: Buffer{Addr: bufAddr, Size: bufSize},
		},
		{
			name: "short-shot",
			cfg: Config{
				NumAnalog: ShortShotChannels,
				Analog:    AnalogConfig{Channels: 0x3},
			},
			ana: Buffer{Addr: bufAddr, Size: 2 * shortShotSamples},
		},
		{
			name: "combined-1-3",
			cfg: Config{
				NumDigital: 3,
				NumAnalog:  1,
				Digital:    DigitalConfig{Channels: 0x007},
				Analog:     AnalogConfig{Channels: 0x1},
			},
			dig: Buffer{Addr: bufAddr, Size: 0x20003300 - bufAddr},
			ana: Buffer{Addr: 0x20003400, Size: bufAddr + bufSize - 0x20003400},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			plan, err := planBuffers(&tc.cfg)
			if err != nil {
				t.Fatalf("could not plan buffers: %+v", err)
			}
			if !reflect.DeepEqual(plan.digital, tc.dig) {
				t.Fatalf("invalid digital buffer:\ngot= %#v\nwant=%#v", plan.digital, tc.dig)
			}
			if !reflect.DeepEqual(plan.analog, tc.ana) {
				t.Fatalf("invalid analog buffer:\ngot= %#v\nwant=%#v", plan.analog, tc.ana)
			}
		})
	}
}

func TestPlanBuffersInvalid(t *testing.T) {
	// 3 analog channels have no table entry
	cfg := Config{
		NumDigital: 1,
		NumAnalog:  3,
		Digital:    DigitalConfig{Channels: 0x001},
	}
	_, err := planBuffers(&cfg)
	if !errors.Is(err, ErrInvalidSignalCombination) {
		t.Fatalf("invalid error: got=%v, want=%v", err, ErrInvalidSignalCombination)
	}
}

func TestBufferTable(t *testing.T) {
	// every table pair must plan non-overlapping, in-region buffers.
	for _, e := range bufferTable {
		t.Run(fmt.Sprintf("vadc=%d-dio=%d", e.numAnalog, e.numDigital), func(t *testing.T) {
			cfg := Config{
				NumDigital: uint32(e.numDigital),
				NumAnalog:  uint32(e.numAnalog),
				Digital:    DigitalConfig{Channels: (1 << e.numDigital) - 1},
				Analog:     AnalogConfig{Channels: (1 << e.numAnalog) - 1},
			}
			plan, err := planBuffers(&cfg)
			if err != nil {
				t.Fatalf("could not plan buffers: %+v", err)
			}

			dig := plan.digital
			ana := plan.analog
			if dig.Addr != bufAddr {
				t.Fatalf("digital buffer does not start at the region: addr=0x%08x", dig.Addr)
			}
			if dig.Size == 0 || ana.Size == 0 {
				t.Fatalf("empty buffer: digital=%d analog=%d", dig.Size, ana.Size)
			}
			if dig.End() > ana.Addr {
				t.Fatalf("buffers overlap: digital end=0x%08x analog start=0x%08x", dig.End(), ana.Addr)
			}
			if ana.End() != bufAddr+bufSize {
				t.Fatalf("analog buffer does not end at the region: end=0x%08x", ana.End())
			}
		})
	}
}
