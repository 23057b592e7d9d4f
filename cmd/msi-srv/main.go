// Copyright 2023 The go-msi Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command msi-srv exposes a capture coordinator as a TDAQ server.
// Without real hardware attached it runs over the simulated bench rig.
package main // import "github.com/go-msi/msi/cmd/msi-srv"

import (
	"context"
	"encoding/binary"
	"log"
	"os"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"

	"github.com/go-msi/msi/capture"
	"github.com/go-msi/msi/internal/sim"
)

func main() {
	cmd := flags.New()

	rig := sim.New()
	coord := capture.New(rig.Clock, rig.Digital, rig.Analog, rig.Host)
	rig.Bind(coord)

	dev := device{
		rig:   rig,
		coord: coord,
		srv:   capture.NewServer(coord),
	}

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.srv.OnConfig)
	srv.CmdHandle("/init", dev.srv.OnInit)
	srv.CmdHandle("/reset", dev.srv.OnReset)
	srv.CmdHandle("/start", dev.srv.OnStart)
	srv.CmdHandle("/stop", dev.srv.OnStop)
	srv.CmdHandle("/quit", dev.srv.OnQuit)

	srv.OutputHandle("/samples", dev.samples)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

type device struct {
	rig   *sim.Rig
	coord *capture.Coordinator
	srv   *capture.Server
}

// samples streams completed captures to downstream processes:
// trig-point word, then the digital and analog payloads, each
// length-prefixed.
func (dev *device) samples(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case res := <-dev.rig.Host.Results:
		dst.Body = encode(res)
	}
	return nil
}

func encode(res *capture.Result) []byte {
	le := binary.LittleEndian
	p := make([]byte, 0, 4)
	p = le.AppendUint32(p, res.TrigPoint)
	for _, buf := range []*capture.Buffer{res.Digital, res.Analog} {
		switch buf {
		case nil:
			p = le.AppendUint32(p, 0)
		default:
			p = le.AppendUint32(p, uint32(len(buf.Data)))
			p = append(p, buf.Data...)
		}
	}
	return p
}
