// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

type pathValue struct {
	_     struct{} `cbor:",toarray"`
	Path  string
	Value string
}

func TestFrameArgs(t *testing.T) {
	frame := &Frame{Type: FrameCall, Member: "SetResourcesValues"}
	entries := []pathValue{{Path: "/8888/11/111", Value: "v"}}
	if err := frame.SetBody("sa(sv)", "token", entries); err != nil {
		t.Fatalf("SetBody: %v", err)
	}

	var (
		token   string
		decoded []pathValue
	)
	if err := frame.Args(&token, &decoded); err != nil {
		t.Fatalf("Args: %v", err)
	}
	if token != "token" || len(decoded) != 1 || decoded[0].Path != "/8888/11/111" || decoded[0].Value != "v" {
		t.Fatalf("decoded %q %+v", token, decoded)
	}

	var wrongShape int32
	if err := frame.Args(&token, &wrongShape); !errors.Is(err, ErrInvalidArgs) {
		t.Fatalf("Args into wrong type = %v, want ErrInvalidArgs", err)
	}
	if err := frame.Args(&token); !errors.Is(err, ErrInvalidArgs) {
		t.Fatalf("Args with too few targets = %v, want ErrInvalidArgs", err)
	}
	if err := frame.SetBody("s", "a", "b"); !errors.Is(err, ErrInvalidArgs) {
		t.Fatalf("SetBody with extra argument = %v, want ErrInvalidArgs", err)
	}

	// A body that lies about its signature.
	frame.Signature = "ss"
	if err := frame.Args(&token, new(string)); !errors.Is(err, ErrInvalidArgs) {
		t.Fatalf("Args with mismatched body = %v, want ErrInvalidArgs", err)
	}
}

func TestFrameCodecCompression(t *testing.T) {
	large := strings.Repeat("resource definition ", 200)
	for _, compression := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(compression.String(), func(t *testing.T) {
			codec := frameCodec{maxFrameSize: DefaultMaxFrameSize, compression: compression, compressThreshold: 64}
			frame := &Frame{Type: FrameCall, Serial: 9, Member: "RegisterResources"}
			if err := frame.SetBody("s", large); err != nil {
				t.Fatalf("SetBody: %v", err)
			}

			var buffer bytes.Buffer
			if err := codec.writeFrame(&buffer, frame); err != nil {
				t.Fatalf("writeFrame: %v", err)
			}
			if frame.Compression != CompressionNone {
				t.Fatal("writeFrame modified the caller's frame")
			}
			if compression != CompressionNone && buffer.Len() >= len(large) {
				t.Fatalf("%s frame is %d bytes for a %d byte body", compression, buffer.Len(), len(large))
			}

			decoded, err := codec.readFrame(&buffer)
			if err != nil {
				t.Fatalf("readFrame: %v", err)
			}
			var definition string
			if err := decoded.Args(&definition); err != nil {
				t.Fatalf("Args: %v", err)
			}
			if definition != large || decoded.Serial != 9 || decoded.Compression != CompressionNone {
				t.Fatalf("decoded frame %s with %d byte body", decoded, len(definition))
			}
		})
	}
}

func TestFrameCodecSizeLimit(t *testing.T) {
	small := frameCodec{maxFrameSize: 128}
	frame := &Frame{Type: FrameCall}
	if err := frame.SetBody("s", strings.Repeat("x", 256)); err != nil {
		t.Fatalf("SetBody: %v", err)
	}
	var buffer bytes.Buffer
	if err := small.writeFrame(&buffer, frame); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("writeFrame = %v, want ErrFrameTooLarge", err)
	}

	large := frameCodec{maxFrameSize: DefaultMaxFrameSize}
	if err := large.writeFrame(&buffer, frame); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}
	if _, err := small.readFrame(&buffer); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("readFrame = %v, want ErrFrameTooLarge", err)
	}
}

func TestCompressionNames(t *testing.T) {
	for _, compression := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		parsed, err := ParseCompression(compression.String())
		if err != nil || parsed != compression {
			t.Errorf("ParseCompression(%q) = %v, %v", compression.String(), parsed, err)
		}
	}
	if _, err := ParseCompression("gzip"); err == nil {
		t.Error("ParseCompression accepted gzip")
	}
}
