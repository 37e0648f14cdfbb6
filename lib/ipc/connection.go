// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"errors"
	"io"
	"net"
	"time"
)

// connection is one accepted peer. The reader goroutine queues inbound
// calls; the writer goroutine drains outbound and is the only code
// that closes conn, after flushing what was queued before shutdown.
type connection struct {
	id       ConnectionID
	conn     *net.UnixConn
	peer     Peer
	outbound chan *Frame

	// closing is guarded by Endpoint.mu. Once set, outbound is closed
	// and no more frames are queued.
	closing bool
}

// shutdown stops accepting outbound frames. Caller holds Endpoint.mu.
func (c *connection) shutdown() {
	if c.closing {
		return
	}
	c.closing = true
	close(c.outbound)
}

func (e *Endpoint) readLoop(c *connection) {
	defer e.workers.Done()
	for {
		frame, err := e.codec.readFrame(c.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				e.logger.Debug("read failed", "connection", c.id, "error", err)
			}
			break
		}
		if frame.Type != FrameCall {
			e.logger.Debug("ignoring non-call frame from peer", "connection", c.id, "frame", frame.String())
			continue
		}
		frame.Sender = string(c.id)
		e.push(Inbound{Kind: InboundCall, Connection: c.id, Frame: frame})
	}

	e.mu.Lock()
	c.shutdown()
	delete(e.connections, c.id)
	notify := e.lifecycle && !e.closed
	e.mu.Unlock()

	if notify {
		e.push(Inbound{Kind: InboundDisconnect, Connection: c.id})
	}
	e.logger.Debug("connection closed", "connection", c.id)
}

func (e *Endpoint) writeLoop(c *connection) {
	defer e.workers.Done()
	defer c.conn.Close()
	failed := false
	for frame := range c.outbound {
		if failed {
			continue
		}
		c.conn.SetWriteDeadline(time.Now().Add(e.options.WriteTimeout))
		if err := e.codec.writeFrame(c.conn, frame); err != nil {
			if errors.Is(err, ErrFrameTooLarge) {
				e.logger.Error("dropping oversized frame", "connection", c.id, "frame", frame.String(), "error", err)
				continue
			}
			e.logger.Debug("write failed", "connection", c.id, "frame", frame.String(), "error", err)
			failed = true
			// Unblock the reader so the connection is torn down.
			c.conn.CloseRead()
		}
	}
}
