// Copyright 2023 The go-msi Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package capture

import (
	"encoding/binary"
	"fmt"
)

// configSize is the size of the capture configuration blob sent by the
// host: eleven little-endian uint32 words.
const configSize = 44

// decodeConfig decodes the host capture configuration blob.
func decodeConfig(p []byte) (*Config, error) {
	if len(p) != configSize {
		return nil, fmt.Errorf("capture: invalid configuration size %d (want %d)", len(p), configSize)
	}

	le := binary.LittleEndian
	u32 := func(i int) uint32 { return le.Uint32(p[4*i:]) }

	cfg := &Config{
		NumDigital: u32(0),
		NumAnalog:  u32(1),
		SampleRate: u32(2),
		PostFill:   PostFill(u32(3)),
		Digital: DigitalConfig{
			Channels: u32(4),
			Triggers: u32(5),
		},
		Analog: AnalogConfig{
			Channels:       u32(6),
			Triggers:       u32(7),
			VoltPerDiv:     u32(8),
			Couplings:      u32(9),
			NoiseReduction: u32(10),
		},
	}
	return cfg, nil
}

// ConfigureFrom decodes the host configuration blob and applies it.
func (c *Coordinator) ConfigureFrom(p []byte) error {
	cfg, err := decodeConfig(p)
	if err != nil {
		return err
	}
	return c.Configure(cfg)
}
