// Copyright 2023 The go-msi Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package capture

// rateEntry maps one sample rate to its PLL0AUDIO settings and the
// SGPIO counter (which doubles as the VADC match value).
type rateEntry struct {
	rate uint32 // wanted sample rate in Hz

	msel uint8 // PLL0AUDIO multiplier
	nsel uint8 // PLL0AUDIO pre-divider
	psel uint8 // PLL0AUDIO post-divider

	counter uint16 // counter for SGPIO, match for VADC

	pllFreq uint32 // actual output of PLL0AUDIO
}

const (
	// initialRateIdx selects the 2MHz power-on sample rate.
	initialRateIdx = 14

	// sgpioOnlyOffset is the first entry of the digital-only
	// high-speed region of the rate table.
	sgpioOnlyOffset = 25
)

// rateTable maps wanted sample rates to PLL0AUDIO and counter settings.
// Entries up to the first sentinel (rate=0) are usable with any analog
// channel count; the region starting at sgpioOnlyOffset is usable only
// when no analog channel is enabled. Lookups are exact-match only.
var rateTable = [...]rateEntry{
	//          PLL0AUDIO    SGPIO/VADC  PLL out
	//  rate     M    N   P     counter     freq
	{50, 100, 250, 24, 4000, 200000},
	{100, 100, 250, 12, 4000, 400000},
	{200, 100, 250, 6, 4000, 800000},
	{500, 100, 200, 3, 4000, 2000000},
	{1000, 100, 150, 2, 4000, 4000000},
	{2000, 100, 150, 1, 4000, 8000000},
	{5000, 100, 60, 1, 4000, 20000000},
	{10000, 100, 30, 1, 4000, 40000000},
	{20000, 100, 15, 1, 4000, 80000000},
	{50000, 100, 15, 1, 1600, 80000000},
	{100000, 100, 15, 1, 800, 80000000},
	{200000, 100, 15, 1, 400, 80000000},
	{500000, 100, 15, 1, 160, 80000000},
	{1000000, 100, 15, 1, 80, 80000000},
	{2000000, 100, 15, 1, 40, 80000000}, // <-- initialRateIdx
	{5000000, 100, 15, 1, 16, 80000000},
	{10000000, 100, 15, 1, 8, 80000000},
	{20000000, 100, 15, 1, 4, 80000000},
	{30000000, 100, 20, 1, 2, 60000000},
	{40000000, 100, 15, 1, 2, 80000000},
	{50000000, 100, 24, 1, 1, 50000000},
	{60000000, 100, 20, 1, 1, 60000000},
	{70000000, 70, 12, 1, 1, 70000000},
	{80000000, 100, 15, 1, 1, 80000000},
	{0, 0, 0, 0, 0, 0},
	{10000000, 50, 3, 1, 20, 200000000}, // <-- sgpioOnlyOffset
	{20000000, 50, 3, 1, 10, 200000000},
	{30000000, 15, 1, 1, 6, 180000000},
	{40000000, 50, 3, 1, 5, 200000000},
	{50000000, 50, 3, 1, 4, 200000000},
	{60000000, 15, 1, 1, 3, 180000000},
	{70000000, 70, 4, 1, 3, 210000000},
	{80000000, 20, 1, 1, 3, 240000000},
	{90000000, 15, 1, 1, 2, 180000000},
	{100000000, 50, 3, 1, 2, 200000000},
	{0, 0, 0, 0, 0, 0},
}

// selectRate returns the rate-table index for the wanted sample rate.
// With no analog channel enabled the digital-only high-speed region is
// searched first. A combined-region match that would need a counter of
// 0.5 to sample two analog channels is rejected.
func selectRate(wanted uint32, numAnalog int) (int, error) {
	if numAnalog == 0 {
		for i := sgpioOnlyOffset; rateTable[i].rate > 0; i++ {
			if rateTable[i].rate == wanted {
				return i, nil
			}
		}
	}
	for i := 0; rateTable[i].rate > 0; i++ {
		if rateTable[i].rate == wanted {
			if numAnalog == 2 && rateTable[i].counter == 1 {
				// with 2 analog channels the sample rate must be
				// doubled, which the hardware cannot express when
				// the counter value is already 1.
				return -1, ErrUnsupportedSampleRate
			}
			return i, nil
		}
	}
	return -1, ErrUnsupportedSampleRate
}

// rateSelector applies rate-table entries to the clock hardware and
// caches the last applied (rate, analog-count) pair.
type rateSelector struct {
	clk Clock

	cur        int // current rate-table index, -1 until first applied
	lastAnalog int // analog channel count of the last applied rate
}

// init programs the power-on sample rate.
func (rs *rateSelector) init() {
	e := rateTable[initialRateIdx]
	rs.clk.SetPLL0Audio(e.msel, e.nsel, e.psel)
	rs.cur = initialRateIdx
	rs.lastAnalog = -1
	rs.clk.Update()
}

// apply programs the clock hardware for the wanted sample rate. It is
// a no-op when both the rate and the analog channel count are unchanged
// from the last applied configuration. Both clock domains fed by
// PLL0AUDIO are gated off while the PLL relocks.
func (rs *rateSelector) apply(wanted uint32, numAnalog int) error {
	if rs.cur >= 0 && wanted == rateTable[rs.cur].rate && numAnalog == rs.lastAnalog {
		return nil
	}

	i, err := selectRate(wanted, numAnalog)
	if err != nil {
		return err
	}

	rs.clk.EnablePeriph(false)
	rs.clk.EnableVADC(false)

	e := rateTable[i]
	rs.clk.SetPLL0Audio(e.msel, e.nsel, e.psel)
	rs.cur = i
	rs.clk.Update()

	rs.clk.EnablePeriph(true)
	rs.clk.EnableVADC(true)

	rs.lastAnalog = numAnalog
	return nil
}

// counter returns the SGPIO counter / VADC match value of the current
// sample rate.
func (rs *rateSelector) counter() uint16 { return rateTable[rs.cur].counter }

// fADC returns the frequency the VADC is clocked at for the current
// sample rate. It is not the sample rate itself: it feeds the VADC CRS
// and DGEC settings.
func (rs *rateSelector) fADC() uint32 { return rateTable[rs.cur].pllFreq }

// sampleRate returns the current sample rate.
func (rs *rateSelector) sampleRate() uint32 {
	if rs.cur < 0 {
		return 0
	}
	return rateTable[rs.cur].rate
}
