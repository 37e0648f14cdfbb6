// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"sync"
	"time"
)

// dialTimeout covers only the connect phase.
const dialTimeout = 5 * time.Second

// DefaultSignalBuffer is the number of signals a Client buffers for a
// slow reader before dropping new ones.
const DefaultSignalBuffer = 32

// ClientOptions configures a Client.
type ClientOptions struct {
	MaxFrameSize      int
	Compression       Compression
	CompressThreshold int
	SignalBuffer      int
	Logger            *slog.Logger
}

// Client is a connection to an Endpoint. Calls may be issued from any
// number of goroutines; replies are matched by serial.
type Client struct {
	conn   *net.UnixConn
	codec  frameCodec
	logger *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	serial  uint32
	pending map[uint32]chan *Frame

	signals chan *Frame
	done    chan struct{}
	err     error
}

// SocketPath returns the socket an endpoint owning name listens on.
func SocketPath(socketDir, name string) string {
	return filepath.Join(socketDir, name+".sock")
}

// Dial connects to the endpoint socket at socketPath.
func Dial(ctx context.Context, socketPath string, options ClientOptions) (*Client, error) {
	if options.MaxFrameSize == 0 {
		options.MaxFrameSize = DefaultMaxFrameSize
	}
	if options.CompressThreshold <= 0 {
		options.CompressThreshold = DefaultCompressThreshold
	}
	if options.SignalBuffer <= 0 {
		options.SignalBuffer = DefaultSignalBuffer
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", socketPath, err)
	}

	client := &Client{
		conn: conn.(*net.UnixConn),
		codec: frameCodec{
			maxFrameSize:      options.MaxFrameSize,
			compression:       options.Compression,
			compressThreshold: options.CompressThreshold,
		},
		logger:  options.Logger.With("component", "ipc-client"),
		pending: make(map[uint32]chan *Frame),
		signals: make(chan *Frame, options.SignalBuffer),
		done:    make(chan struct{}),
	}
	go client.readLoop()
	return client, nil
}

// Call sends a method call and waits for its reply. An error frame is
// returned as *RemoteError; the reply frame's body is decoded by the
// caller with Frame.Args.
func (c *Client) Call(ctx context.Context, destination, path, iface, member, signature string, args ...any) (*Frame, error) {
	frame := &Frame{
		Type:        FrameCall,
		Destination: destination,
		Path:        path,
		Interface:   iface,
		Member:      member,
	}
	if err := frame.SetBody(signature, args...); err != nil {
		return nil, err
	}

	replies := make(chan *Frame, 1)
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return nil, c.err
	}
	c.serial++
	frame.Serial = c.serial
	c.pending[frame.Serial] = replies
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, frame.Serial)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(deadline)
	} else {
		c.conn.SetWriteDeadline(time.Time{})
	}
	err := c.codec.writeFrame(c.conn, frame)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("sending %s: %w", member, err)
	}

	select {
	case reply := <-replies:
		return unwrapReply(reply)
	case <-c.done:
		// A reply read just before the connection ended is still
		// delivered.
		select {
		case reply := <-replies:
			return unwrapReply(reply)
		default:
		}
		return nil, c.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func unwrapReply(reply *Frame) (*Frame, error) {
	if reply.Type == FrameError {
		remote := &RemoteError{Name: reply.ErrorName}
		if reply.Signature == "s" {
			_ = reply.Args(&remote.Message)
		}
		return nil, remote
	}
	return reply, nil
}

// Signals delivers signal frames. The channel is closed when the
// connection ends. Signals arriving while the buffer is full are
// dropped and logged.
func (c *Client) Signals() <-chan *Frame {
	return c.signals
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, or nil while it is open.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close closes the connection and waits for the reader to stop.
func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.done
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (c *Client) readLoop() {
	var readErr error
	for {
		frame, err := c.codec.readFrame(c.conn)
		if err != nil {
			readErr = err
			break
		}
		switch frame.Type {
		case FrameReply, FrameError:
			c.mu.Lock()
			replies, exists := c.pending[frame.ReplySerial]
			delete(c.pending, frame.ReplySerial)
			c.mu.Unlock()
			if !exists {
				c.logger.Debug("reply for unknown call", "frame", frame.String())
				continue
			}
			replies <- frame
		case FrameSignal:
			select {
			case c.signals <- frame:
			default:
				c.logger.Warn("signal buffer full, dropping signal", "frame", frame.String())
			}
		default:
			c.logger.Debug("ignoring frame", "frame", frame.String())
		}
	}

	if errors.Is(readErr, io.EOF) || errors.Is(readErr, net.ErrClosed) {
		readErr = ErrClosed
	}
	c.mu.Lock()
	c.err = fmt.Errorf("ipc: connection ended: %w", readErr)
	c.mu.Unlock()
	close(c.signals)
	close(c.done)
}
