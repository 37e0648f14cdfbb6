// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
)

// Defaults for EndpointOptions.
const (
	DefaultCompressThreshold = 1024
	DefaultWriteTimeout      = 5 * time.Second
	DefaultOutboundCapacity  = 64
)

// staleProbeTimeout bounds the dial used to decide whether an existing
// socket file belongs to a live endpoint.
const staleProbeTimeout = 250 * time.Millisecond

// A failed accept (EMFILE, ENFILE, ...) is retried after a pause that
// doubles from minAcceptBackoff up to maxAcceptBackoff.
const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// ConnectionID is the unique name an endpoint assigns to an accepted
// connection, such as ":1.4". IDs are never reused by one endpoint.
type ConnectionID string

// Peer holds the credentials of the process on the other end of a
// connection.
type Peer struct {
	PID int32
	UID uint32
	GID uint32
}

// InboundKind discriminates Inbound events.
type InboundKind uint8

const (
	// InboundCall is a method call frame from a peer.
	InboundCall InboundKind = iota + 1

	// InboundDisconnect reports that a peer's connection closed. Only
	// queued after SubscribePeerLifecycle.
	InboundDisconnect
)

// Inbound is one queued event. Frame is set for InboundCall.
type Inbound struct {
	Kind       InboundKind
	Connection ConnectionID
	Frame      *Frame
}

// EndpointOptions configures an Endpoint.
type EndpointOptions struct {
	// SocketDir holds the sockets of requested names. It must exist.
	SocketDir string

	// MaxFrameSize defaults to DefaultMaxFrameSize.
	MaxFrameSize int

	// Compression applies to outbound bodies of at least
	// CompressThreshold bytes.
	Compression       Compression
	CompressThreshold int

	// WriteTimeout bounds each frame write to a peer.
	WriteTimeout time.Duration

	// OutboundCapacity is the number of frames queued per connection
	// before the connection is dropped as too slow.
	OutboundCapacity int

	Logger *slog.Logger
}

// Endpoint is the server side of the transport. Export, RequestName,
// SubscribePeerLifecycle, Next and the send methods are meant for a
// single owning goroutine; the endpoint's own accept, read and write
// goroutines synchronize with it internally.
type Endpoint struct {
	options EndpointOptions
	codec   frameCodec
	logger  *slog.Logger

	serial atomic.Uint32

	mu             sync.Mutex
	closed         bool
	objects        objectTable
	name           string
	socketPath     string
	listener       *net.UnixListener
	acceptDone     chan struct{}
	connections    map[ConnectionID]*connection
	lastConnection uint64
	lifecycle      bool
	inbound        *queue.Queue

	readable chan struct{}
	workers  sync.WaitGroup
}

// Open creates an endpoint. It owns no name and accepts nothing until
// RequestName succeeds.
func Open(options EndpointOptions) (*Endpoint, error) {
	info, err := os.Stat(options.SocketDir)
	if err != nil {
		return nil, fmt.Errorf("ipc: socket directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("ipc: socket directory %s is not a directory", options.SocketDir)
	}
	if options.MaxFrameSize == 0 {
		options.MaxFrameSize = DefaultMaxFrameSize
	}
	if options.MaxFrameSize < 64 || options.MaxFrameSize > maxFrameSizeLimit {
		return nil, fmt.Errorf("ipc: max frame size %d not in [64, %d]", options.MaxFrameSize, maxFrameSizeLimit)
	}
	if options.Compression > CompressionZstd {
		return nil, fmt.Errorf("ipc: unsupported compression %d", options.Compression)
	}
	if options.CompressThreshold <= 0 {
		options.CompressThreshold = DefaultCompressThreshold
	}
	if options.WriteTimeout <= 0 {
		options.WriteTimeout = DefaultWriteTimeout
	}
	if options.OutboundCapacity <= 0 {
		options.OutboundCapacity = DefaultOutboundCapacity
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	return &Endpoint{
		options: options,
		codec: frameCodec{
			maxFrameSize:      options.MaxFrameSize,
			compression:       options.Compression,
			compressThreshold: options.CompressThreshold,
		},
		logger:      options.Logger.With("component", "ipc-endpoint"),
		objects:     make(objectTable),
		connections: make(map[ConnectionID]*connection),
		inbound:     queue.New(),
		readable:    make(chan struct{}, 1),
	}, nil
}

// Export publishes iface on the object at path. Exporting the same
// interface twice on one path is an error.
func (e *Endpoint) Export(path string, iface Interface) error {
	if !validObjectPath(path) {
		return fmt.Errorf("ipc: invalid object path %q", path)
	}
	if err := iface.validate(); err != nil {
		return fmt.Errorf("ipc: export: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	interfaces, exists := e.objects[path]
	if !exists {
		interfaces = make(map[string]Interface)
		e.objects[path] = interfaces
	}
	if _, exists := interfaces[iface.Name]; exists {
		return fmt.Errorf("ipc: %s already exported on %s", iface.Name, path)
	}
	interfaces[iface.Name] = iface
	return nil
}

// Unexport removes every interface exported on path.
func (e *Endpoint) Unexport(path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.objects, path)
}

// Resolve returns the exported method for a call, or ErrUnknownObject,
// ErrUnknownInterface or ErrUnknownMethod.
func (e *Endpoint) Resolve(path, iface, member string) (Method, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.objects.resolve(path, iface, member)
}

// RequestName binds the endpoint to "<SocketDir>/<name>.sock" and
// starts accepting connections. A socket file left behind by a dead
// process is replaced; one with a live listener fails with
// ErrNameTaken.
func (e *Endpoint) RequestName(name string) error {
	if name == "" || strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("ipc: invalid name %q", name)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.name != "" {
		return fmt.Errorf("ipc: endpoint already owns %q", e.name)
	}

	socketPath := filepath.Join(e.options.SocketDir, name+".sock")
	if err := removeStaleSocket(socketPath); err != nil {
		return fmt.Errorf("ipc: requesting %q: %w", name, err)
	}
	listener, err := net.ListenUnix("unix", &net.UnixAddr{Name: socketPath, Net: "unix"})
	if err != nil {
		return fmt.Errorf("ipc: listening on %s: %w", socketPath, err)
	}

	e.name = name
	e.socketPath = socketPath
	e.listener = listener
	e.acceptDone = make(chan struct{})
	go e.acceptLoop(listener, e.acceptDone)

	e.logger.Info("name acquired", "name", name, "socket", socketPath)
	return nil
}

// removeStaleSocket deletes socketPath unless something is listening
// on it.
func removeStaleSocket(socketPath string) error {
	if _, err := os.Lstat(socketPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	probe, err := net.DialTimeout("unix", socketPath, staleProbeTimeout)
	if err == nil {
		probe.Close()
		return ErrNameTaken
	}
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", socketPath, err)
	}
	return nil
}

// ReleaseName stops accepting connections and removes the socket file.
// Established connections stay open.
func (e *Endpoint) ReleaseName() error {
	e.mu.Lock()
	if e.name == "" {
		e.mu.Unlock()
		return ErrNameNotOwned
	}
	listener, acceptDone, name := e.listener, e.acceptDone, e.name
	e.name, e.socketPath, e.listener, e.acceptDone = "", "", nil, nil
	e.mu.Unlock()

	err := listener.Close()
	<-acceptDone
	e.logger.Info("name released", "name", name)
	return err
}

// SubscribePeerLifecycle makes the endpoint queue an InboundDisconnect
// event whenever a connection closes.
func (e *Endpoint) SubscribePeerLifecycle() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.lifecycle = true
	return nil
}

// Name returns the owned name, or "".
func (e *Endpoint) Name() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.name
}

// SocketPath returns the socket of the owned name, or "".
func (e *Endpoint) SocketPath() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.socketPath
}

// Readable receives a value whenever events were queued since the last
// time Next returned false. Drain with Next until it returns false.
func (e *Endpoint) Readable() <-chan struct{} {
	return e.readable
}

// Next dequeues one inbound event.
func (e *Endpoint) Next() (Inbound, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inbound.Length() == 0 {
		return Inbound{}, false
	}
	return e.inbound.Remove().(Inbound), true
}

// Peer returns the credentials of a live connection.
func (e *Endpoint) Peer(id ConnectionID) (Peer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	connection, exists := e.connections[id]
	if !exists {
		return Peer{}, false
	}
	return connection.peer, true
}

// Connections returns the number of live connections.
func (e *Endpoint) Connections() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.connections)
}

// Reply answers call with a reply frame carrying args.
func (e *Endpoint) Reply(to ConnectionID, call *Frame, signature string, args ...any) error {
	frame := &Frame{Type: FrameReply, ReplySerial: call.Serial, Destination: string(to)}
	if err := frame.SetBody(signature, args...); err != nil {
		return err
	}
	return e.send(to, frame)
}

// ReplyError answers call with an error frame. The body is the message
// as a single string.
func (e *Endpoint) ReplyError(to ConnectionID, call *Frame, errorName, message string) error {
	frame := &Frame{Type: FrameError, ReplySerial: call.Serial, Destination: string(to), ErrorName: errorName}
	if err := frame.SetBody("s", message); err != nil {
		return err
	}
	return e.send(to, frame)
}

// EmitSignal sends an exported signal to one connection.
func (e *Endpoint) EmitSignal(to ConnectionID, path, iface, member string, args ...any) error {
	e.mu.Lock()
	signature, err := e.objects.signal(path, iface, member)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	frame := &Frame{
		Type:        FrameSignal,
		Destination: string(to),
		Path:        path,
		Interface:   iface,
		Member:      member,
	}
	if err := frame.SetBody(signature, args...); err != nil {
		return err
	}
	return e.send(to, frame)
}

func (e *Endpoint) send(to ConnectionID, frame *Frame) error {
	frame.Serial = e.serial.Add(1)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	frame.Sender = e.name
	connection, exists := e.connections[to]
	if !exists || connection.closing {
		return fmt.Errorf("%s: %w", to, ErrUnknownConnection)
	}
	select {
	case connection.outbound <- frame:
		return nil
	default:
		e.logger.Warn("dropping slow connection", "connection", to, "queued", len(connection.outbound))
		connection.shutdown()
		return fmt.Errorf("%s: %w", to, ErrOutboundFull)
	}
}

// Close releases the name, closes every connection after flushing the
// frames already queued to it, and waits for all endpoint goroutines.
// Close is idempotent.
func (e *Endpoint) Close() error {
	var releaseErr error
	if e.Name() != "" {
		releaseErr = e.ReleaseName()
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	for _, connection := range e.connections {
		connection.shutdown()
	}
	e.mu.Unlock()

	e.workers.Wait()

	e.mu.Lock()
	for e.inbound.Length() > 0 {
		e.inbound.Remove()
	}
	e.mu.Unlock()
	if errors.Is(releaseErr, net.ErrClosed) {
		releaseErr = nil
	}
	return releaseErr
}

// push queues an inbound event and signals readiness.
func (e *Endpoint) push(event Inbound) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.inbound.Add(event)
	e.mu.Unlock()
	select {
	case e.readable <- struct{}{}:
	default:
	}
}

// unixAcceptor is the part of *net.UnixListener the accept loop uses.
type unixAcceptor interface {
	AcceptUnix() (*net.UnixConn, error)
}

func nextAcceptBackoff(previous time.Duration) time.Duration {
	if previous == 0 {
		return minAcceptBackoff
	}
	return min(previous*2, maxAcceptBackoff)
}

func (e *Endpoint) acceptLoop(listener unixAcceptor, done chan<- struct{}) {
	defer close(done)
	var backoff time.Duration
	for {
		conn, err := listener.AcceptUnix()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			backoff = nextAcceptBackoff(backoff)
			e.logger.Error("accept failed", "error", err, "retry_in", backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0
		e.addConnection(conn)
	}
}

func (e *Endpoint) addConnection(conn *net.UnixConn) {
	peer, err := peerCredentials(conn)
	if err != nil {
		e.logger.Debug("peer credentials unavailable", "error", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		conn.Close()
		return
	}
	e.lastConnection++
	connection := &connection{
		id:       ConnectionID(fmt.Sprintf(":1.%d", e.lastConnection)),
		conn:     conn,
		peer:     peer,
		outbound: make(chan *Frame, e.options.OutboundCapacity),
	}
	e.connections[connection.id] = connection
	e.workers.Add(2)
	go e.readLoop(connection)
	go e.writeLoop(connection)

	e.logger.Debug("connection accepted",
		"connection", connection.id,
		"pid", peer.PID,
		"uid", peer.UID,
	)
}
