// Copyright 2023 The go-msi Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command msi-calib inspects an instrument's calibration dataset: it
// loads the raw blob from a file or from the analog board's EEPROM,
// derives the scaling factors, dumps both as CSV tables and optionally
// archives the dataset in the production database.
//
// Example:
//
//	$> msi-calib -f calib.bin -o calib
//	$> msi-calib -i2c-bus 1 -serial MSI-00042 -db msidb
package main // import "github.com/go-msi/msi/cmd/msi-calib"

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"go-hep.org/x/hep/csvutil"

	"github.com/go-msi/msi/caldb"
	"github.com/go-msi/msi/calib"
	"github.com/go-msi/msi/eeprom"
)

func main() {
	var (
		fname  = flag.String("f", "", "calibration blob file to inspect")
		bus    = flag.Int("i2c-bus", -1, "i2c bus of the calibration EEPROM")
		addr   = flag.Uint("i2c-addr", 0x50, "i2c address of the calibration EEPROM")
		out    = flag.String("o", "calib", "output prefix for the CSV tables")
		serial = flag.String("serial", "", "instrument serial number")
		dbname = flag.String("db", "", "archive the dataset in this database")
	)

	flag.Parse()

	log.SetPrefix("msi-calib: ")
	log.SetFlags(0)

	err := run(*fname, *bus, uint8(*addr), *out, *serial, *dbname)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(fname string, bus int, addr uint8, out, serial, dbname string) error {
	raw, err := load(fname, bus, addr)
	if err != nil {
		return err
	}

	switch {
	case raw.IsDefault():
		log.Printf("EEPROM is erased or was never calibrated: inspecting the default dataset")
	case !raw.Verify():
		log.Printf("dataset checksum mismatch: consider recalibrating")
	}

	f := raw.Factors()
	if !f.Reasonable() {
		log.Printf("dataset contains strange values: consider recalibrating")
	}

	if err := dumpRaw(out+"-raw.csv", raw); err != nil {
		return err
	}
	if err := dumpFactors(out+"-factors.csv", raw, &f); err != nil {
		return err
	}

	if dbname != "" {
		if serial == "" {
			return fmt.Errorf("could not archive dataset: missing -serial")
		}
		db, err := caldb.Open(dbname)
		if err != nil {
			return fmt.Errorf("could not open archive db: %w", err)
		}
		defer db.Close()

		err = db.StoreCalibration(context.Background(), serial, raw)
		if err != nil {
			return fmt.Errorf("could not archive dataset: %w", err)
		}
		log.Printf("archived calibration of %q to %q", serial, dbname)
	}

	return nil
}

func load(fname string, bus int, addr uint8) (*calib.RawData, error) {
	switch {
	case fname != "":
		p, err := os.ReadFile(fname)
		if err != nil {
			return nil, fmt.Errorf("could not read %q: %w", fname, err)
		}
		var raw calib.RawData
		if err := raw.UnmarshalBinary(p); err != nil {
			return nil, fmt.Errorf("could not decode %q: %w", fname, err)
		}
		return &raw, nil

	case bus >= 0:
		dev, err := eeprom.Open(bus, addr)
		if err != nil {
			return nil, fmt.Errorf("could not open EEPROM: %w", err)
		}
		defer dev.Close()

		raw, err := dev.Load()
		if err != nil {
			return nil, fmt.Errorf("could not load EEPROM: %w", err)
		}
		return raw, nil
	}
	return nil, fmt.Errorf("could not load dataset: give -f or -i2c-bus")
}

func dumpRaw(fname string, raw *calib.RawData) error {
	tbl, err := csvutil.Create(fname)
	if err != nil {
		return fmt.Errorf("could not create %q: %w", fname, err)
	}
	defer tbl.Close()
	tbl.Writer.Comma = ';'

	err = tbl.WriteHeader("## raw calibration data\n# range (mV/div);low (mV);in-low A0;in-low A1;high (mV);in-high A0;in-high A1\n")
	if err != nil {
		return fmt.Errorf("could not write header to %q: %w", fname, err)
	}

	for rng := 0; rng < calib.NumRanges; rng++ {
		row := struct {
			Div     int32
			LowMv   int32
			InLow0  uint32
			InLow1  uint32
			HighMv  int32
			InHigh0 uint32
			InHigh1 uint32
		}{
			Div:     calib.DivMv(rng),
			LowMv:   raw.VoltsInLow[rng],
			InLow0:  raw.InLow[0][rng],
			InLow1:  raw.InLow[1][rng],
			HighMv:  raw.VoltsInHigh[rng],
			InHigh0: raw.InHigh[0][rng],
			InHigh1: raw.InHigh[1][rng],
		}
		if err := tbl.WriteRow(row); err != nil {
			return fmt.Errorf("could not write row %d to %q: %w", rng, fname, err)
		}
	}

	err = tbl.Close()
	if err != nil {
		return fmt.Errorf("could not close %q: %w", fname, err)
	}
	return nil
}

func dumpFactors(fname string, raw *calib.RawData, f *calib.Factors) error {
	tbl, err := csvutil.Create(fname)
	if err != nil {
		return fmt.Errorf("could not create %q: %w", fname, err)
	}
	defer tbl.Close()
	tbl.Writer.Comma = ';'

	err = tbl.WriteHeader("## calibration factors (V = A + B*code)\n# range (mV/div);A ch0;B ch0;A ch1;B ch1\n")
	if err != nil {
		return fmt.Errorf("could not write header to %q: %w", fname, err)
	}

	for rng := 0; rng < calib.NumRanges; rng++ {
		row := struct {
			Div    int32
			A0, B0 float64
			A1, B1 float64
		}{
			Div: calib.DivMv(rng),
			A0:  f.A[0][rng],
			B0:  f.B[0][rng],
			A1:  f.A[1][rng],
			B1:  f.B[1][rng],
		}
		if err := tbl.WriteRow(row); err != nil {
			return fmt.Errorf("could not write row %d to %q: %w", rng, fname, err)
		}
	}

	err = tbl.Close()
	if err != nil {
		return fmt.Errorf("could not close %q: %w", fname, err)
	}
	return nil
}
