// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/bureau-foundation/cloudconnect/lib/codec"
)

// FrameType discriminates frames. The values are wire constants.
type FrameType uint8

const (
	FrameCall   FrameType = 1
	FrameReply  FrameType = 2
	FrameError  FrameType = 3
	FrameSignal FrameType = 4
)

func (t FrameType) String() string {
	switch t {
	case FrameCall:
		return "call"
	case FrameReply:
		return "reply"
	case FrameError:
		return "error"
	case FrameSignal:
		return "signal"
	default:
		return fmt.Sprintf("FrameType(%d)", uint8(t))
	}
}

// DefaultMaxFrameSize bounds the encoded size of one frame and the
// uncompressed size of its body.
const DefaultMaxFrameSize = 1 << 20

// maxFrameSizeLimit is the largest MaxFrameSize an endpoint accepts.
const maxFrameSizeLimit = 64 << 20

// Frame is one message on the wire. Sender is filled in by the
// endpoint for inbound frames; whatever the peer put there is
// overwritten.
type Frame struct {
	Type        FrameType        `cbor:"type"`
	Serial      uint32           `cbor:"serial"`
	ReplySerial uint32           `cbor:"reply_serial,omitempty"`
	Sender      string           `cbor:"sender,omitempty"`
	Destination string           `cbor:"destination,omitempty"`
	Path        string           `cbor:"path,omitempty"`
	Interface   string           `cbor:"interface,omitempty"`
	Member      string           `cbor:"member,omitempty"`
	Signature   string           `cbor:"signature,omitempty"`
	ErrorName   string           `cbor:"error_name,omitempty"`
	Compression Compression      `cbor:"compression,omitempty"`
	BodySize    uint32           `cbor:"body_size,omitempty"`
	Body        codec.RawMessage `cbor:"body,omitempty"`
}

func (f *Frame) String() string {
	switch f.Type {
	case FrameCall, FrameSignal:
		return fmt.Sprintf("%s %d %s.%s on %s", f.Type, f.Serial, f.Interface, f.Member, f.Path)
	case FrameError:
		return fmt.Sprintf("error %d for %d: %s", f.Serial, f.ReplySerial, f.ErrorName)
	default:
		return fmt.Sprintf("%s %d for %d", f.Type, f.Serial, f.ReplySerial)
	}
}

// SetBody encodes args as the frame body. The number of args must
// match the number of complete types in signature.
func (f *Frame) SetBody(signature string, args ...any) error {
	types, err := SplitSignature(signature)
	if err != nil {
		return err
	}
	if len(types) != len(args) {
		return fmt.Errorf("signature %q declares %d arguments, have %d: %w",
			signature, len(types), len(args), ErrInvalidArgs)
	}
	f.Signature = signature
	if len(args) == 0 {
		f.Body = nil
		return nil
	}
	body, err := codec.Marshal(args)
	if err != nil {
		return fmt.Errorf("encoding body: %w", err)
	}
	f.Body = body
	return nil
}

// Args decodes the body into targets, one pointer per complete type in
// the frame's signature. Any mismatch in count or shape is reported as
// ErrInvalidArgs.
func (f *Frame) Args(targets ...any) error {
	types, err := SplitSignature(f.Signature)
	if err != nil {
		return err
	}
	if len(types) != len(targets) {
		return fmt.Errorf("signature %q declares %d arguments, decoding %d: %w",
			f.Signature, len(types), len(targets), ErrInvalidArgs)
	}
	if len(targets) == 0 {
		return nil
	}
	var elements []codec.RawMessage
	if err := codec.Unmarshal(f.Body, &elements); err != nil {
		return fmt.Errorf("body is not an argument array: %v: %w", err, ErrInvalidArgs)
	}
	if len(elements) != len(targets) {
		return fmt.Errorf("body has %d arguments, signature %q declares %d: %w",
			len(elements), f.Signature, len(targets), ErrInvalidArgs)
	}
	for index, element := range elements {
		if err := codec.Unmarshal(element, targets[index]); err != nil {
			return fmt.Errorf("argument %d (%s): %v: %w", index, types[index], err, ErrInvalidArgs)
		}
	}
	return nil
}

// frameCodec reads and writes length-delimited frames with a size
// limit and optional body compression.
type frameCodec struct {
	maxFrameSize      int
	compression       Compression
	compressThreshold int
}

// writeFrame encodes frame to w. The caller's frame is not modified.
func (c frameCodec) writeFrame(w io.Writer, frame *Frame) error {
	outgoing := *frame
	if c.compression != CompressionNone && len(outgoing.Body) >= c.compressThreshold {
		compressed, err := compressBody(outgoing.Body, c.compression)
		switch {
		case err == nil:
			outgoing.BodySize = uint32(len(outgoing.Body))
			outgoing.Compression = c.compression
			outgoing.Body = compressed
		case errors.Is(err, errIncompressible):
		default:
			return err
		}
	}

	data, err := codec.Marshal(&outgoing)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}
	if len(data) > c.maxFrameSize {
		return fmt.Errorf("%d bytes: %w", len(data), ErrFrameTooLarge)
	}
	buffer := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buffer, uint32(len(data)))
	copy(buffer[4:], data)
	_, err = w.Write(buffer)
	return err
}

// readFrame reads one frame from r and restores its body.
func (c frameCodec) readFrame(r io.Reader) (*Frame, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(prefix[:])
	if int64(length) > int64(c.maxFrameSize) {
		return nil, fmt.Errorf("%d bytes: %w", length, ErrFrameTooLarge)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	var frame Frame
	if err := codec.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}
	if frame.Compression != CompressionNone {
		if int64(frame.BodySize) > int64(c.maxFrameSize) {
			return nil, fmt.Errorf("uncompressed body of %d bytes: %w", frame.BodySize, ErrFrameTooLarge)
		}
		body, err := decompressBody(frame.Body, frame.Compression, int(frame.BodySize))
		if err != nil {
			return nil, err
		}
		frame.Body = body
		frame.Compression = CompressionNone
		frame.BodySize = 0
	}
	return &frame, nil
}
