// Copyright (c) 2018-2020, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package ipc implements the length-prefixed binary framing that crosses
// the named pipes between Monitor, Wrapper and Runner, and the
// WrapperParameters struct carried by that framing.
package ipc

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
)

// maxFrameSize bounds a single frame so a corrupt length prefix can't make a
// reader block forever trying to allocate or read an absurd amount of data.
const maxFrameSize = 16 << 20 // 16 MiB

// WriteFrame writes a single length-prefixed frame: a 4-byte big-endian
// length followed by payload, as one Write call so partial frames can't
// interleave on a fifo.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > maxFrameSize {
		return fmt.Errorf("ipc: frame of %d bytes exceeds maximum %d", len(payload), maxFrameSize)
	}
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("ipc: writing frame: %w", err)
	}
	return nil
}

// ReadFrame reads a single length-prefixed frame written by WriteFrame.
// It returns io.EOF whenever the stream ends before a whole frame has been
// read, whether the peer closed before the length prefix or part-way
// through the frame; a partial write is not reported apart from a clean
// close.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("ipc: frame of %d bytes exceeds maximum %d", n, maxFrameSize)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return nil, err
	}
	return payload, nil
}

// WritePid writes the Wrapper->Monitor pid frame: a single little-endian
// uint32, with no gob envelope.
func WritePid(w io.Writer, pid uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], pid)
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("ipc: writing pid: %w", err)
	}
	return nil
}

// ReadPid reads the Wrapper->Monitor pid frame written by WritePid.
func ReadPid(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return 0, io.EOF
		}
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// EncodeGob gob-encodes v into a byte slice suitable for WriteFrame.
func EncodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("ipc: encoding payload: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeGob decodes a gob payload produced by EncodeGob into v.
func DecodeGob(payload []byte, v interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(v); err != nil {
		return fmt.Errorf("ipc: decoding payload: %w", err)
	}
	return nil
}
