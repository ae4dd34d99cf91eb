// Copyright (c) 2018-2020, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package ipc

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// Peer is a bidirectional RPC connection over a single framed stream, used
// for the Monitor<->Master channel: the Monitor exposes
// get_configuration/exec_in_namespace/kill_runner/set_cpuset to the Master,
// and the Master exposes stop_runner to the Monitor, all multiplexed over
// the one connection between them (a Unix domain socket; a Runner's own
// peer runs over its .in/.out fifo pair). This is deliberately a minimal
// substrate (envelope + method dispatch table), not a full RPC framework:
// the Master's own request/response payload shapes stay opaque to this
// package.
type Peer struct {
	w io.Writer
	r io.Reader

	nextID   uint64
	mu       sync.Mutex
	pending  map[uint64]chan envelope
	handlers map[string]Handler

	writeMu sync.Mutex
	closed  atomic.Bool
}

// Handler serves one inbound RPC method call, returning the gob-encodable
// response or an error to be propagated to the caller.
type Handler func(payload []byte) (interface{}, error)

type envelopeKind byte

const (
	kindRequest envelopeKind = iota
	kindResponse
)

type envelope struct {
	ID      uint64
	Kind    envelopeKind
	Method  string
	Payload []byte
	Err     string
}

// NewPeer creates an RPC peer over rw. Call RegisterHandler for every
// inbound method before calling Serve.
func NewPeer(rw io.ReadWriter) *Peer {
	return &Peer{
		w:        rw,
		r:        rw,
		pending:  make(map[uint64]chan envelope),
		handlers: make(map[string]Handler),
	}
}

// RegisterHandler installs the handler invoked when the peer receives a
// request for method.
func (p *Peer) RegisterHandler(method string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[method] = h
}

// Serve reads frames from the peer until the connection closes or an
// unrecoverable framing error occurs, dispatching inbound requests to their
// registered handler (each in its own goroutine, so a slow handler doesn't
// stall replies already in flight) and routing inbound responses back to
// the Call that is waiting on them. It returns when the peer is closed.
func (p *Peer) Serve() error {
	for {
		payload, err := ReadFrame(p.r)
		if err != nil {
			p.closed.Store(true)
			p.failPending(err)
			if err == io.EOF {
				return nil
			}
			return err
		}
		var e envelope
		if err := DecodeGob(payload, &e); err != nil {
			return fmt.Errorf("ipc: decoding envelope: %w", err)
		}
		switch e.Kind {
		case kindResponse:
			p.mu.Lock()
			ch, ok := p.pending[e.ID]
			if ok {
				delete(p.pending, e.ID)
			}
			p.mu.Unlock()
			if ok {
				ch <- e
			}
		case kindRequest:
			go p.dispatch(e)
		}
	}
}

func (p *Peer) dispatch(req envelope) {
	p.mu.Lock()
	h, ok := p.handlers[req.Method]
	p.mu.Unlock()

	resp := envelope{ID: req.ID, Kind: kindResponse, Method: req.Method}
	if !ok {
		resp.Err = fmt.Sprintf("ipc: no handler registered for method %q", req.Method)
	} else {
		result, err := h(req.Payload)
		if err != nil {
			resp.Err = err.Error()
		} else if result != nil {
			payload, encErr := EncodeGob(result)
			if encErr != nil {
				resp.Err = encErr.Error()
			} else {
				resp.Payload = payload
			}
		}
	}

	_ = p.writeEnvelope(resp)
}

func (p *Peer) failPending(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.pending {
		ch <- envelope{ID: id, Kind: kindResponse, Err: err.Error()}
		delete(p.pending, id)
	}
}

func (p *Peer) writeEnvelope(e envelope) error {
	payload, err := EncodeGob(e)
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return WriteFrame(p.w, payload)
}

// Call invokes method on the remote peer with args, decoding the response
// into reply. It blocks until the response arrives or the peer closes.
func (p *Peer) Call(method string, args, reply interface{}) error {
	if p.closed.Load() {
		return fmt.Errorf("ipc: peer is closed")
	}

	var argsPayload []byte
	if args != nil {
		var err error
		argsPayload, err = EncodeGob(args)
		if err != nil {
			return err
		}
	}

	id := atomic.AddUint64(&p.nextID, 1)
	ch := make(chan envelope, 1)
	p.mu.Lock()
	p.pending[id] = ch
	p.mu.Unlock()

	if err := p.writeEnvelope(envelope{ID: id, Kind: kindRequest, Method: method, Payload: argsPayload}); err != nil {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
		return err
	}

	resp := <-ch
	if resp.Err != "" {
		return fmt.Errorf("ipc: %s: %s", method, resp.Err)
	}
	if reply == nil || len(resp.Payload) == 0 {
		return nil
	}
	return DecodeGob(resp.Payload, reply)
}
