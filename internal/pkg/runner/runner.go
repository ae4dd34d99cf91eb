// Copyright (c) 2018-2020, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package runner implements the supervision-level contract every sandboxed
// binary exec'd by the wrapper must honor: re-root defensively, attach to
// the control fifo pair passed on the command line, and serve RPC requests
// (at minimum stop_runner) until told to shut down. What a runner actually
// does once it is up is application logic and lives outside this package.
package runner

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/oci-ci/ocirun/pkg/sylog"
	"github.com/oci-ci/ocirun/pkg/util/ipc"
)

// Server is the supervision-level runner: it owns the RPC peer and the
// shutdown signal, and lets callers register additional application
// handlers before Serve blocks.
type Server struct {
	peer     *ipc.Peer
	done     chan struct{}
	doneOnce sync.Once
}

// Attach performs the mandated startup sequence: chroot("."), chdir("/"),
// then opens argv[1]+".in" for reading and argv[1]+".out" for writing,
// establishing the bidirectional RPC framing the Master and this runner use
// to talk to each other. base is normally os.Args[1].
func Attach(base string) (*Server, error) {
	if err := chrootSelf(); err != nil {
		return nil, fmt.Errorf("runner: chroot(\".\"): %w", err)
	}
	if err := os.Chdir("/"); err != nil {
		return nil, fmt.Errorf("runner: chdir(\"/\"): %w", err)
	}

	in, err := os.OpenFile(base+".in", os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("runner: opening %s.in: %w", base, err)
	}
	out, err := os.OpenFile(base+".out", os.O_WRONLY, 0)
	if err != nil {
		in.Close()
		return nil, fmt.Errorf("runner: opening %s.out: %w", base, err)
	}

	rw := &fileReadWriter{r: in, w: out}
	s := &Server{peer: ipc.NewPeer(rw), done: make(chan struct{})}
	s.peer.RegisterHandler("stop_runner", func(payload []byte) (interface{}, error) {
		s.doneOnce.Do(func() { close(s.done) })
		return nil, nil
	})
	return s, nil
}

// RegisterHandler exposes an application-level RPC method alongside the
// mandatory stop_runner handler.
func (s *Server) RegisterHandler(method string, h ipc.Handler) {
	s.peer.RegisterHandler(method, h)
}

// Call invokes a method on the peer (the Master, for a generic runner; the
// Monitor's reverse channel, for the Master specifically).
func (s *Server) Call(method string, args, reply interface{}) error {
	return s.peer.Call(method, args, reply)
}

// Serve blocks until stop_runner is received or ctx is cancelled, then
// returns. The caller is expected to exit the process immediately after.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.peer.Serve() }()

	select {
	case <-s.done:
		sylog.Infof("runner: received stop_runner, shutting down")
		return nil
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type fileReadWriter struct {
	r *os.File
	w *os.File
}

func (f *fileReadWriter) Read(p []byte) (int, error)  { return f.r.Read(p) }
func (f *fileReadWriter) Write(p []byte) (int, error) { return f.w.Write(p) }
