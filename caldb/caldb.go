// Copyright 2023 The go-msi Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package caldb archives the per-instrument calibration datasets in the
// production database.
package caldb // import "github.com/go-msi/msi/caldb"

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/go-msi/msi/calib"
)

const (
	host = "localhost"
)

var (
	usr = "username"
	pwd = "s3cr3t"

	drvName = "mysql"
)

// DB exposes convenience methods to archive and retrieve the
// calibration datasets of produced instruments.
type DB struct {
	db   *sql.DB
	name string // name of the calibration database
}

// Open opens a connection to the calibration database dbname.
func Open(dbname string) (*DB, error) {
	db, err := sql.Open(drvName, dsn(dbname))
	if err != nil {
		return nil, fmt.Errorf("caldb: could not open %q db: %w", dbname, err)
	}

	err = ping(db, dbname)
	if err != nil {
		return nil, fmt.Errorf("caldb: could not ping %q db: %w", dbname, err)
	}

	return &DB{db: db, name: dbname}, nil
}

func dsn(db string) string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s", usr, pwd, host, db)
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("caldb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return db.db.QueryContext(ctx, query, args...)
}

// LastCalibration retrieves the most recent calibration dataset
// archived for the instrument with the given serial number.
func (db *DB) LastCalibration(ctx context.Context, serial string) (*calib.RawData, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var blob string
	rows, err := db.db.QueryContext(
		ctx,
		"SELECT data FROM calibrations WHERE serial=? ORDER BY datetime DESC LIMIT 1",
		serial,
	)
	if err != nil {
		return nil, fmt.Errorf("caldb: could not query calibration for %q: %w", serial, err)
	}
	defer rows.Close()

	for rows.Next() {
		err = rows.Scan(&blob)
		if err != nil {
			return nil, fmt.Errorf("caldb: could not get calibration value for %q: %w", serial, err)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("caldb: could not scan db for calibration of %q: %w", serial, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("caldb: context error while retrieving calibration of %q: %w", serial, err)
	}

	if blob == "" {
		return nil, fmt.Errorf("caldb: no calibration archived for %q", serial)
	}

	p, err := hex.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("caldb: could not decode calibration blob for %q: %w", serial, err)
	}

	var raw calib.RawData
	if err := raw.UnmarshalBinary(p); err != nil {
		return nil, fmt.Errorf("caldb: could not decode calibration data for %q: %w", serial, err)
	}
	return &raw, nil
}

// StoreCalibration archives a calibration dataset for the instrument
// with the given serial number.
func (db *DB) StoreCalibration(ctx context.Context, serial string, raw *calib.RawData) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p, err := raw.MarshalBinary()
	if err != nil {
		return fmt.Errorf("caldb: could not encode calibration data for %q: %w", serial, err)
	}

	_, err = db.db.ExecContext(
		ctx,
		"INSERT INTO calibrations (serial, datetime, version, data) VALUES (?, NOW(), ?, ?)",
		serial, raw.Version, hex.EncodeToString(p),
	)
	if err != nil {
		return fmt.Errorf("caldb: could not archive calibration for %q: %w", serial, err)
	}
	return nil
}

// Serials lists the serial numbers of every instrument with an archived
// calibration.
func (db *DB) Serials(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var serials []string
	rows, err := db.db.QueryContext(ctx, "SELECT DISTINCT serial FROM calibrations ORDER BY serial")
	if err != nil {
		return nil, fmt.Errorf("caldb: could not query serials: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var serial string
		err = rows.Scan(&serial)
		if err != nil {
			return nil, fmt.Errorf("caldb: could not get serial value: %w", err)
		}
		serials = append(serials, serial)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("caldb: could not scan db for serials: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("caldb: context error while retrieving serials: %w", err)
	}

	return serials, nil
}
