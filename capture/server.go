// Copyright 2023 The go-msi Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package capture

import (
	"fmt"

	"github.com/go-daq/tdaq"
)

// Server exposes a capture Coordinator over the tdaq command protocol.
type Server struct {
	coord *Coordinator
}

// NewServer wraps the given coordinator.
func NewServer(coord *Coordinator) *Server {
	return &Server{coord: coord}
}

// OnConfig handles the /config command: the request body carries the
// host configuration blob.
func (srv *Server) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")
	err := srv.coord.ConfigureFrom(req.Body)
	if err != nil {
		ctx.Msg.Errorf("could not configure capture: %+v", err)
		return fmt.Errorf("capture: could not configure capture: %w", err)
	}
	return nil
}

// OnInit handles the /init command.
func (srv *Server) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	srv.coord.Init()
	return nil
}

// OnReset handles the /reset command: the capture is disarmed and the
// subsystem reinitialized.
func (srv *Server) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	if err := srv.coord.Disarm(); err != nil {
		ctx.Msg.Errorf("could not disarm capture: %+v", err)
		return fmt.Errorf("capture: could not disarm capture: %w", err)
	}
	srv.coord.Init()
	return nil
}

// OnStart handles the /start command.
func (srv *Server) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	err := srv.coord.Start()
	if err != nil {
		ctx.Msg.Errorf("could not start capture: %+v", err)
		return fmt.Errorf("capture: could not start capture: %w", err)
	}
	return nil
}

// OnStop handles the /stop command.
func (srv *Server) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /stop command...")
	err := srv.coord.Stop()
	if err != nil {
		ctx.Msg.Errorf("could not stop capture: %+v", err)
		return fmt.Errorf("capture: could not stop capture: %w", err)
	}
	return nil
}

// OnQuit handles the /quit command.
func (srv *Server) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	return srv.coord.Disarm()
}
