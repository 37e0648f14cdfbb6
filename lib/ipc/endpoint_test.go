// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/bureau-foundation/cloudconnect/lib/testutil"
)

const (
	testName      = "com.example.Test"
	testPath      = "/com/example/Test"
	testInterface = "com.example.Test.Echo"
)

var testExport = Interface{
	Name: testInterface,
	Methods: map[string]Method{
		"Echo": {In: "s", Out: "s"},
	},
	Signals: map[string]string{
		"Tick": "i",
	},
}

func openEndpoint(t *testing.T, socketDir string) *Endpoint {
	t.Helper()
	endpoint, err := Open(EndpointOptions{SocketDir: socketDir, Logger: testutil.Logger()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = endpoint.Close() })
	if err := endpoint.Export(testPath, testExport); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if err := endpoint.RequestName(testName); err != nil {
		t.Fatalf("RequestName: %v", err)
	}
	if err := endpoint.SubscribePeerLifecycle(); err != nil {
		t.Fatalf("SubscribePeerLifecycle: %v", err)
	}
	return endpoint
}

func dial(t *testing.T, endpoint *Endpoint) *Client {
	t.Helper()
	client, err := Dial(context.Background(), endpoint.SocketPath(), ClientOptions{Logger: testutil.Logger()})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// nextInbound waits for the endpoint's next queued event.
func nextInbound(t *testing.T, endpoint *Endpoint) Inbound {
	t.Helper()
	for {
		if event, ok := endpoint.Next(); ok {
			return event
		}
		testutil.RequireReceive(t, endpoint.Readable(), 5*time.Second, "inbound event")
	}
}

type callResult struct {
	frame *Frame
	err   error
}

func callAsync(client *Client, path, iface, member, signature string, args ...any) <-chan callResult {
	result := make(chan callResult, 1)
	go func() {
		frame, err := client.Call(context.Background(), testName, path, iface, member, signature, args...)
		result <- callResult{frame, err}
	}()
	return result
}

func TestCallReplyAndSignal(t *testing.T) {
	endpoint := openEndpoint(t, testutil.SocketDir(t))
	client := dial(t, endpoint)

	pending := callAsync(client, testPath, testInterface, "Echo", "s", "hello")
	event := nextInbound(t, endpoint)
	if event.Kind != InboundCall || event.Frame.Member != "Echo" || event.Frame.Destination != testName {
		t.Fatalf("inbound = %+v", event)
	}
	if event.Frame.Sender != string(event.Connection) {
		t.Fatalf("Sender = %q, want connection %q", event.Frame.Sender, event.Connection)
	}
	method, err := endpoint.Resolve(event.Frame.Path, event.Frame.Interface, event.Frame.Member)
	if err != nil || method.In != "s" {
		t.Fatalf("Resolve = %+v, %v", method, err)
	}
	var text string
	if err := event.Frame.Args(&text); err != nil {
		t.Fatalf("Args: %v", err)
	}
	if err := endpoint.Reply(event.Connection, event.Frame, method.Out, text+" back"); err != nil {
		t.Fatalf("Reply: %v", err)
	}

	result := testutil.RequireReceive(t, pending, 5*time.Second, "Echo reply")
	if result.err != nil {
		t.Fatalf("Call: %v", result.err)
	}
	var reply string
	if err := result.frame.Args(&reply); err != nil || reply != "hello back" {
		t.Fatalf("reply = %q, %v", reply, err)
	}
	if result.frame.Sender != testName {
		t.Fatalf("reply Sender = %q", result.frame.Sender)
	}

	if err := endpoint.EmitSignal(event.Connection, testPath, testInterface, "Tick", int32(3)); err != nil {
		t.Fatalf("EmitSignal: %v", err)
	}
	signal := testutil.RequireReceive(t, client.Signals(), 5*time.Second, "Tick signal")
	var count int32
	if err := signal.Args(&count); err != nil || count != 3 || signal.Member != "Tick" {
		t.Fatalf("signal %s count %d err %v", signal, count, err)
	}

	if err := endpoint.EmitSignal(event.Connection, testPath, testInterface, "Tock", int32(1)); !errors.Is(err, ErrUnknownMethod) {
		t.Fatalf("EmitSignal of undeclared signal = %v", err)
	}

	if peer, ok := endpoint.Peer(event.Connection); !ok || peer.UID != uint32(os.Getuid()) {
		t.Fatalf("Peer = %+v, %v", peer, ok)
	}
}

func TestErrorReply(t *testing.T) {
	endpoint := openEndpoint(t, testutil.SocketDir(t))
	client := dial(t, endpoint)

	pending := callAsync(client, "/nowhere", testInterface, "Echo", "s", "x")
	event := nextInbound(t, endpoint)
	if _, err := endpoint.Resolve(event.Frame.Path, event.Frame.Interface, event.Frame.Member); !errors.Is(err, ErrUnknownObject) {
		t.Fatalf("Resolve = %v, want ErrUnknownObject", err)
	}
	if err := endpoint.ReplyError(event.Connection, event.Frame, "com.example.Error.UnknownObject", "no object"); err != nil {
		t.Fatalf("ReplyError: %v", err)
	}

	result := testutil.RequireReceive(t, pending, 5*time.Second, "error reply")
	var remote *RemoteError
	if !errors.As(result.err, &remote) {
		t.Fatalf("Call error = %v, want *RemoteError", result.err)
	}
	if remote.Name != "com.example.Error.UnknownObject" || remote.Message != "no object" {
		t.Fatalf("RemoteError = %+v", remote)
	}

	if _, err := endpoint.Resolve(testPath, "com.example.Other", "Echo"); !errors.Is(err, ErrUnknownInterface) {
		t.Fatalf("Resolve unknown interface = %v", err)
	}
	if _, err := endpoint.Resolve(testPath, testInterface, "Shout"); !errors.Is(err, ErrUnknownMethod) {
		t.Fatalf("Resolve unknown method = %v", err)
	}
}

func TestDisconnectEvent(t *testing.T) {
	endpoint := openEndpoint(t, testutil.SocketDir(t))
	client := dial(t, endpoint)

	pending := callAsync(client, testPath, testInterface, "Echo", "s", "x")
	call := nextInbound(t, endpoint)
	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	result := testutil.RequireReceive(t, pending, 5*time.Second, "call failed by Close")
	if !errors.Is(result.err, ErrClosed) {
		t.Fatalf("Call after Close = %v, want ErrClosed", result.err)
	}

	disconnect := nextInbound(t, endpoint)
	if disconnect.Kind != InboundDisconnect || disconnect.Connection != call.Connection {
		t.Fatalf("event = %+v, want disconnect of %s", disconnect, call.Connection)
	}
	if err := endpoint.Reply(call.Connection, call.Frame, "s", "late"); !errors.Is(err, ErrUnknownConnection) {
		t.Fatalf("Reply to closed connection = %v, want ErrUnknownConnection", err)
	}
	if endpoint.Connections() != 0 {
		t.Fatalf("Connections = %d", endpoint.Connections())
	}
}

func TestConnectionIDsAreUnique(t *testing.T) {
	endpoint := openEndpoint(t, testutil.SocketDir(t))
	seen := make(map[ConnectionID]bool)
	for i := 0; i < 3; i++ {
		client := dial(t, endpoint)
		pending := callAsync(client, testPath, testInterface, "Echo", "s", "x")
		event := nextInbound(t, endpoint)
		if seen[event.Connection] {
			t.Fatalf("connection id %s reused", event.Connection)
		}
		seen[event.Connection] = true
		endpoint.Reply(event.Connection, event.Frame, "s", "x")
		testutil.RequireReceive(t, pending, 5*time.Second, "reply")
	}
}

func TestCloseFlushesQueuedReplies(t *testing.T) {
	endpoint := openEndpoint(t, testutil.SocketDir(t))
	client := dial(t, endpoint)

	pending := callAsync(client, testPath, testInterface, "Echo", "s", "x")
	event := nextInbound(t, endpoint)
	if err := endpoint.ReplyError(event.Connection, event.Frame, "com.example.Error.ShuttingDown", ""); err != nil {
		t.Fatalf("ReplyError: %v", err)
	}
	socketPath := endpoint.SocketPath()
	if err := endpoint.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	result := testutil.RequireReceive(t, pending, 5*time.Second, "reply flushed before close")
	var remote *RemoteError
	if !errors.As(result.err, &remote) || remote.Name != "com.example.Error.ShuttingDown" {
		t.Fatalf("Call = %v, want the queued error reply", result.err)
	}
	testutil.RequireClosed(t, client.Done(), 5*time.Second, "client sees close")
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Fatalf("socket file left after Close: %v", err)
	}
	if err := endpoint.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := endpoint.Export("/other", testExport); !errors.Is(err, ErrClosed) {
		t.Fatalf("Export after Close = %v, want ErrClosed", err)
	}
}

func TestRequestNameReplacesStaleSocket(t *testing.T) {
	socketDir := testutil.SocketDir(t)

	// A socket file with no listener, as left by a crashed process.
	stalePath := filepath.Join(socketDir, testName+".sock")
	listener, err := net.ListenUnix("unix", &net.UnixAddr{Name: stalePath, Net: "unix"})
	if err != nil {
		t.Fatalf("ListenUnix: %v", err)
	}
	listener.SetUnlinkOnClose(false)
	listener.Close()
	if _, err := os.Stat(stalePath); err != nil {
		t.Fatalf("stale socket missing: %v", err)
	}

	endpoint := openEndpoint(t, socketDir)
	if endpoint.SocketPath() != stalePath {
		t.Fatalf("SocketPath = %q", endpoint.SocketPath())
	}

	// A second endpoint cannot take the live name.
	rival, err := Open(EndpointOptions{SocketDir: socketDir, Logger: testutil.Logger()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rival.Close()
	if err := rival.RequestName(testName); !errors.Is(err, ErrNameTaken) {
		t.Fatalf("RequestName of live name = %v, want ErrNameTaken", err)
	}

	if err := endpoint.ReleaseName(); err != nil {
		t.Fatalf("ReleaseName: %v", err)
	}
	if err := endpoint.ReleaseName(); !errors.Is(err, ErrNameNotOwned) {
		t.Fatalf("second ReleaseName = %v, want ErrNameNotOwned", err)
	}
	if err := rival.RequestName(testName); err != nil {
		t.Fatalf("RequestName after release: %v", err)
	}
}

func TestOpenValidatesOptions(t *testing.T) {
	if _, err := Open(EndpointOptions{SocketDir: "/nonexistent/ccrb"}); err == nil {
		t.Error("Open accepted a missing socket directory")
	}
	if _, err := Open(EndpointOptions{SocketDir: testutil.SocketDir(t), MaxFrameSize: 16}); err == nil {
		t.Error("Open accepted a 16 byte frame limit")
	}
	endpoint, err := Open(EndpointOptions{SocketDir: testutil.SocketDir(t), Logger: testutil.Logger()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer endpoint.Close()
	if err := endpoint.Export("relative/path", testExport); err == nil {
		t.Error("Export accepted a relative path")
	}
	if err := endpoint.Export(testPath, Interface{Name: "x.Bad", Methods: map[string]Method{"M": {In: "q"}}}); err == nil {
		t.Error("Export accepted an invalid signature")
	}
	if err := endpoint.Export(testPath, testExport); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if err := endpoint.Export(testPath, testExport); err == nil {
		t.Error("Export accepted a duplicate interface")
	}
	if err := endpoint.RequestName("bad/name"); err == nil {
		t.Error("RequestName accepted a name with a slash")
	}
}

// failingAcceptor fails a fixed number of accepts, then reports the
// listener closed.
type failingAcceptor struct {
	failures int
	calls    int
}

func (f *failingAcceptor) AcceptUnix() (*net.UnixConn, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, &net.OpError{Op: "accept", Net: "unix", Err: syscall.EMFILE}
	}
	return nil, net.ErrClosed
}

func TestAcceptLoopBacksOffAfterFailures(t *testing.T) {
	endpoint := &Endpoint{logger: testutil.Logger()}
	acceptor := &failingAcceptor{failures: 4}
	done := make(chan struct{})

	start := time.Now()
	go endpoint.acceptLoop(acceptor, done)
	testutil.RequireClosed(t, done, 5*time.Second, "accept loop to exit")
	elapsed := time.Since(start)

	if acceptor.calls != 5 {
		t.Fatalf("AcceptUnix called %d times, want 5", acceptor.calls)
	}
	// 5ms + 10ms + 20ms + 40ms of pauses.
	if want := 75 * time.Millisecond; elapsed < want {
		t.Fatalf("loop finished in %v, want at least %v of backoff", elapsed, want)
	}
}

func TestNextAcceptBackoffIsCapped(t *testing.T) {
	var backoff time.Duration
	for range 20 {
		backoff = nextAcceptBackoff(backoff)
	}
	if backoff != maxAcceptBackoff {
		t.Fatalf("backoff = %v, want %v", backoff, maxAcceptBackoff)
	}
	if first := nextAcceptBackoff(0); first != minAcceptBackoff {
		t.Fatalf("first backoff = %v, want %v", first, minAcceptBackoff)
	}
}
