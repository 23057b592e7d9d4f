// Copyright 2023 The go-msi Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command msi-shell provides an interactive command line to drive an
// msi-ctl server: it starts and stops acquisitions over the msi-ctl
// JSON protocol.
package main // import "github.com/go-msi/msi/cmd/msi-shell"

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
)

func main() {
	var (
		addr = flag.String("addr", "localhost:8876", "address of the msi-ctl server")
	)

	flag.Parse()

	log.SetPrefix("msi-shell: ")
	log.SetFlags(0)

	err := run(*addr)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

type Request struct {
	Name string   `json:"cmd"`
	Args []string `json:"args"`
}

type Reply struct {
	Msg string `json:"msg"`
	Err string `json:"err,omitempty"`
}

func run(addr string) error {
	term := liner.NewLiner()
	defer term.Close()

	term.SetCtrlCAborts(true)

	fname := filepath.Join(os.TempDir(), ".msi_shell_history")
	if f, err := os.Open(fname); err == nil {
		_, _ = term.ReadHistory(f)
		f.Close()
	}
	defer func() {
		f, err := os.Create(fname)
		if err != nil {
			log.Printf("could not save history to %q: %+v", fname, err)
			return
		}
		defer f.Close()
		_, _ = term.WriteHistory(f)
	}()

	cli := client{addr: addr}
	defer cli.close()

	for {
		raw, err := term.Prompt("msi>> ")
		if err != nil {
			if err == liner.ErrPromptAborted {
				continue
			}
			return nil
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		term.AppendHistory(raw)

		toks := strings.Fields(raw)
		switch toks[0] {
		case "quit", "exit":
			return nil
		case "start", "stop":
			err = cli.send(Request{Name: toks[0], Args: toks[1:]})
			if err != nil {
				log.Printf("could not %s acquisition: %+v", toks[0], err)
			}
		case "help":
			usage()
		default:
			log.Printf("unknown command %q", toks[0])
			usage()
		}
	}
}

func usage() {
	fmt.Print(`commands:
  start <args>... <run>   start an acquisition for the given run
  stop                    stop the current acquisition
  quit                    leave the shell
`)
}

type client struct {
	addr string
	conn net.Conn
}

func (cli *client) send(req Request) error {
	if cli.conn == nil {
		conn, err := net.Dial("tcp", cli.addr)
		if err != nil {
			return fmt.Errorf("could not dial %q: %w", cli.addr, err)
		}
		cli.conn = conn
	}

	err := json.NewEncoder(cli.conn).Encode(req)
	if err != nil {
		cli.close()
		return fmt.Errorf("could not send command: %w", err)
	}

	var rep Reply
	err = json.NewDecoder(cli.conn).Decode(&rep)
	if err != nil {
		cli.close()
		return fmt.Errorf("could not decode reply: %w", err)
	}
	if rep.Err != "" {
		return fmt.Errorf("server error: %s", rep.Err)
	}
	log.Printf("%s: %s", req.Name, rep.Msg)

	// the server tears down the session after a stop.
	if req.Name == "stop" {
		cli.close()
	}
	return nil
}

func (cli *client) close() {
	if cli.conn == nil {
		return
	}
	_ = cli.conn.Close()
	cli.conn = nil
}
