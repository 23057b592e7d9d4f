// Copyright 2023 The go-msi Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package capture

const (
	// fixed physical capture memory region.
	bufAddr = 0x20000000
	bufSize = 0x10000

	// maxDigitalIndex is the highest digital channel (DIO10).
	maxDigitalIndex = 10
)

// bufferEntry describes the buffer split for one combination of analog
// and digital channel counts. Entries are keyed by the physical analog
// channel count and by the highest enabled digital channel index + 1.
type bufferEntry struct {
	numAnalog  uint8
	numDigital uint8

	digitalEnd  uint32 // end of address space for digital samples
	analogStart uint32 // start of address space for analog samples
}

// bufferTable is based on the fact that the SGPIO engine copies all
// DIOx values up to and including the highest enabled DIOx, and that
// concatenation of SGPIO data introduces further limitations. The
// analog buffer must end at the region boundary, so an unused gap may
// separate the two buffers.
var bufferTable = [...]bufferEntry{
	// analog  digital  digital end  analog start
	{1, 1, 0x20001C00, 0x20002000},
	{1, 2, 0x20001C00, 0x20002000},
	{1, 3, 0x20003300, 0x20003400},
	{1, 4, 0x20003300, 0x20003400},
	{1, 5, 0x20005400, 0x20005800},
	{1, 6, 0x20005400, 0x20005800},
	{1, 7, 0x20005400, 0x20005800},
	{1, 8, 0x20005400, 0x20005800},
	{1, 9, 0x20005A00, 0x20006000},
	{1, 10, 0x20006180, 0x20006400},
	{1, 11, 0x200065C0, 0x20006C00},
	{2, 1, 0x20000F00, 0x20001000},
	{2, 2, 0x20000F00, 0x20001000},
	{2, 3, 0x20001C00, 0x20002000},
	{2, 4, 0x20001C00, 0x20002000},
	{2, 5, 0x20003200, 0x20003800},
	{2, 6, 0x20003200, 0x20003800},
	{2, 7, 0x20003200, 0x20003800},
	{2, 8, 0x20003200, 0x20003800},
	{2, 9, 0x20003600, 0x20004000},
	{2, 10, 0x20003C00, 0x20004000},
	{2, 11, 0x20003F40, 0x20004800},
}

// bufferPlan holds the buffer extents for one capture configuration.
// A zero-size buffer means the corresponding engine has no buffer.
type bufferPlan struct {
	digital Buffer
	analog  Buffer
}

func wholeRegion() Buffer {
	return Buffer{Addr: bufAddr, Size: bufSize}
}

// highestDigital returns the highest enabled digital channel index + 1,
// or -1 when the mask is empty. With DIO0 and DIO5 enabled, 6 channels
// (DIO0..DIO5) are copied by the shift-register engine even though only
// two of them are sampled.
func highestDigital(mask uint32) int {
	for i := maxDigitalIndex; i >= 0; i-- {
		if mask&(1<<uint(i)) != 0 {
			return i + 1
		}
	}
	return -1
}

// planBuffers computes the buffer extents for cfg.
//
// With only digital or only analog signals enabled the entire region is
// used as one buffer; a short-shot capture is sized to its fixed sample
// count. A combination of analog and digital signals splits the region
// per the buffer table so the same number of samples fits in each
// buffer.
func planBuffers(cfg *Config) (bufferPlan, error) {
	vadc := cfg.NumAnalog
	if vadc == 0 {
		// digital-only capture
		return bufferPlan{digital: wholeRegion()}, nil
	}

	switch vadc {
	case ShortShotChannels:
		return bufferPlan{analog: Buffer{Addr: bufAddr, Size: 2 * shortShotSamples}}, nil
	case CalibrateChannels:
		vadc = calibrateActual
	}

	if cfg.NumDigital == 0 {
		// analog-only capture
		return bufferPlan{analog: wholeRegion()}, nil
	}

	numDIO := highestDigital(cfg.Digital.Channels)
	for _, e := range bufferTable {
		if int(e.numAnalog) == int(vadc) && int(e.numDigital) == numDIO {
			return bufferPlan{
				digital: Buffer{Addr: bufAddr, Size: e.digitalEnd - bufAddr},
				analog:  Buffer{Addr: e.analogStart, Size: bufAddr + bufSize - e.analogStart},
			}, nil
		}
	}
	return bufferPlan{}, ErrInvalidSignalCombination
}
