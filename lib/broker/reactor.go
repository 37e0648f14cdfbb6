// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/cloudconnect/lib/clock"
	"github.com/bureau-foundation/cloudconnect/lib/eventloop"
	"github.com/bureau-foundation/cloudconnect/lib/ipc"
	"github.com/bureau-foundation/cloudconnect/lib/mailbox"
	"github.com/bureau-foundation/cloudconnect/lib/status"
)

// ErrInvalidState is returned by lifecycle operations invoked in a
// state that does not allow them.
var ErrInvalidState = errors.New("broker: invalid state")

// AdapterState is the reactor lifecycle state.
type AdapterState int32

const (
	StateUninitialized AdapterState = iota
	StateInitialized
	StateRunning
)

func (s AdapterState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	default:
		return fmt.Sprintf("AdapterState(%d)", int32(s))
	}
}

// StopReason is the value Run returns, as passed to Stop.
type StopReason int

const (
	StopShutdown StopReason = iota
	StopSignal
	StopFatal
)

func (r StopReason) String() string {
	switch r {
	case StopShutdown:
		return "shutdown"
	case StopSignal:
		return "signal"
	case StopFatal:
		return "fatal"
	default:
		return fmt.Sprintf("StopReason(%d)", int(r))
	}
}

// CallHandler receives validated calls and peer disconnects. All
// methods run on the reactor goroutine. A non-Success code from a
// method handler becomes an error reply named after the code.
type CallHandler interface {
	RegisterResources(connection ipc.ConnectionID, definition []byte) (status.Code, string)
	DeregisterResources(connection ipc.ConnectionID, token string) status.Code
	SetResourcesValues(connection ipc.ConnectionID, token string, operations []SetOperation) (status.Code, []status.Code)
	GetResourcesValues(connection ipc.ConnectionID, token string, operations []GetOperation) (status.Code, []GetResult)
	Status() Snapshot
	NotifyConnectionClosed(connection ipc.ConnectionID)
}

// Responder delivers asynchronous outcomes back to clients. Its
// methods must be called on the reactor goroutine.
type Responder interface {
	// RegistrationResult emits the RegistrationResult signal to
	// connection.
	RegistrationResult(connection ipc.ConnectionID, code status.Code, token string)

	// DeregistrationResult answers the DeregisterResources call that
	// is waiting on token.
	DeregistrationResult(token string, code status.Code)
}

// ReactorOptions configures a Reactor.
type ReactorOptions struct {
	// Endpoint configures the IPC endpoint. SocketDir is required.
	Endpoint ipc.EndpointOptions

	// ServiceName is the name requested on the endpoint and the only
	// destination accepted. Defaults to ServiceName.
	ServiceName string

	// MailboxCapacity and MailboxTimeout default to the mailbox
	// package defaults.
	MailboxCapacity int
	MailboxTimeout  time.Duration

	Handler CallHandler

	// Attach runs at the end of Init on the initializing goroutine,
	// with the loop idle. Detach runs first in Deinit. Either may be
	// nil.
	Attach func(loop *eventloop.Loop) error
	Detach func()

	Clock  clock.Clock
	Logger *slog.Logger
}

// PendingCall is a method call that has been accepted but not yet
// answered.
type PendingCall struct {
	Connection ipc.ConnectionID
	Frame      *ipc.Frame
	Method     ipc.Method
	Received   time.Time
}

// syncCompletion captures a DeregistrationResult that arrives while
// the handler for that same DeregisterResources call is still running.
type syncCompletion struct {
	token     string
	completed bool
	code      status.Code
}

// Reactor owns the event loop, the IPC endpoint and the mailbox.
// Init, Run and Deinit must be called in that order, by one goroutine
// at a time; Run may be repeated between Init and Deinit. Stop is the
// only method safe to call from any goroutine.
type Reactor struct {
	options ReactorOptions
	logger  *slog.Logger

	state atomic.Int32

	// handlesMu guards the loop and mailbox pointers, which Stop reads
	// from foreign goroutines while Init and Deinit replace them.
	handlesMu sync.Mutex
	mailbox   *mailbox.Mailbox
	loop      *eventloop.Loop

	endpoint       *ipc.Endpoint
	mailboxSource  eventloop.SourceID
	endpointSource eventloop.SourceID
	attached       bool

	// Reactor goroutine only.
	lastSequence uint64
	pending      map[*PendingCall]struct{}
	deferred     map[string]*PendingCall
	dispatching  *syncCompletion
}

// NewReactor validates options and returns an uninitialized reactor.
func NewReactor(options ReactorOptions) (*Reactor, error) {
	if options.Handler == nil {
		return nil, errors.New("broker: reactor requires a call handler")
	}
	if options.Endpoint.SocketDir == "" {
		return nil, errors.New("broker: reactor requires a socket directory")
	}
	if options.ServiceName == "" {
		options.ServiceName = ServiceName
	}
	if options.MailboxCapacity <= 0 {
		options.MailboxCapacity = mailbox.DefaultCapacity
	}
	if options.MailboxTimeout <= 0 {
		options.MailboxTimeout = mailbox.DefaultTimeout
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.Endpoint.Logger == nil {
		options.Endpoint.Logger = options.Logger
	}
	return &Reactor{
		options:  options,
		logger:   options.Logger.With("component", "reactor"),
		pending:  make(map[*PendingCall]struct{}),
		deferred: make(map[string]*PendingCall),
	}, nil
}

// State returns the current lifecycle state.
func (r *Reactor) State() AdapterState {
	return AdapterState(r.state.Load())
}

// Loop returns the event loop, or nil outside Init/Deinit.
func (r *Reactor) Loop() *eventloop.Loop {
	r.handlesMu.Lock()
	defer r.handlesMu.Unlock()
	return r.loop
}

// SocketPath returns the socket clients dial, or "" when not
// initialized.
func (r *Reactor) SocketPath() string {
	if r.endpoint == nil {
		return ""
	}
	return r.endpoint.SocketPath()
}

// PendingCalls returns the number of accepted, unanswered calls.
// Reactor goroutine only.
func (r *Reactor) PendingCalls() int { return len(r.pending) }

// Connections returns the number of open client connections.
func (r *Reactor) Connections() int {
	if r.endpoint == nil {
		return 0
	}
	return r.endpoint.Connections()
}

// Init creates the mailbox, the loop and the endpoint, claims the
// service name and runs the Attach hook. On failure everything already
// acquired is released and the reactor stays uninitialized.
func (r *Reactor) Init() error {
	if r.State() != StateUninitialized {
		return r.invalidState("init")
	}

	if err := r.acquire(); err != nil {
		if teardownErr := r.teardown(); teardownErr != nil {
			r.logger.Warn("rollback after failed init", "error", teardownErr)
		}
		r.logger.Error("reactor init failed", "error", err)
		return err
	}

	r.state.Store(int32(StateInitialized))
	r.logger.Info("reactor initialized",
		"service", r.options.ServiceName,
		"socket", r.endpoint.SocketPath(),
	)
	return nil
}

func (r *Reactor) acquire() error {
	r.lastSequence = 0
	r.handlesMu.Lock()
	r.mailbox = mailbox.New(r.options.MailboxCapacity, r.options.Clock)
	r.loop = eventloop.New(eventloop.Options{
		Name:   "cloudconnect",
		Clock:  r.options.Clock,
		Logger: r.options.Logger,
	})
	r.handlesMu.Unlock()

	var err error
	r.mailboxSource, err = r.loop.AddSource("mailbox", r.mailbox.Readable(), r.drainMailbox)
	if err != nil {
		return fmt.Errorf("watching mailbox: %w", err)
	}

	r.endpoint, err = ipc.Open(r.options.Endpoint)
	if err != nil {
		return err
	}
	if err := r.endpoint.Export(ObjectPath, Interface); err != nil {
		return fmt.Errorf("exporting %s: %w", ObjectPath, err)
	}
	if err := r.endpoint.RequestName(r.options.ServiceName); err != nil {
		return fmt.Errorf("requesting %s: %w", r.options.ServiceName, err)
	}
	if err := r.endpoint.SubscribePeerLifecycle(); err != nil {
		return fmt.Errorf("subscribing to peer lifecycle: %w", err)
	}
	r.endpointSource, err = r.loop.AddSource("ipc", r.endpoint.Readable(), r.drainInbound)
	if err != nil {
		return fmt.Errorf("watching endpoint: %w", err)
	}

	if r.options.Attach != nil {
		if err := r.options.Attach(r.loop); err != nil {
			return fmt.Errorf("attaching: %w", err)
		}
		r.attached = true
	}
	return nil
}

// Run processes calls until Stop is called and returns the reason
// passed to Stop.
func (r *Reactor) Run() (StopReason, error) {
	if !r.state.CompareAndSwap(int32(StateInitialized), int32(StateRunning)) {
		return 0, r.invalidState("run")
	}
	defer r.state.Store(int32(StateInitialized))

	code, err := r.loop.Run()
	if err != nil {
		return 0, err
	}
	return StopReason(code), nil
}

// Stop asks Run to return reason. On the reactor goroutine the request
// takes effect when the current handler returns; from any other
// goroutine it is delivered through the mailbox.
func (r *Reactor) Stop(reason StopReason) error {
	r.handlesMu.Lock()
	loop, box := r.loop, r.mailbox
	r.handlesMu.Unlock()
	if r.State() != StateRunning || loop == nil || box == nil {
		return r.invalidState("stop")
	}
	if loop.OnLoopThread() {
		scope, err := loop.Scope()
		if err != nil {
			return err
		}
		scope.Exit(int(reason))
		return nil
	}
	// If Run returned meanwhile, the exit lands in a mailbox nobody
	// drains again, or Send reports it closed.
	if err := box.Send(mailbox.Exit{Reason: int(reason)}, r.options.MailboxTimeout); err != nil {
		r.logger.Error("stop request not delivered", "reason", reason, "error", err)
		return fmt.Errorf("stopping reactor: %w", err)
	}
	return nil
}

// Deinit answers every pending call with ServiceShuttingDown, releases
// the service name and tears down what Init created, in reverse. It
// returns the first teardown error; the reactor is uninitialized
// afterwards either way.
func (r *Reactor) Deinit() error {
	if r.State() != StateInitialized {
		return r.invalidState("deinit")
	}
	err := r.teardown()
	r.state.Store(int32(StateUninitialized))
	if err != nil {
		r.logger.Error("reactor deinit", "error", err)
	} else {
		r.logger.Info("reactor deinitialized")
	}
	return err
}

// teardown releases whatever acquire got as far as creating.
func (r *Reactor) teardown() error {
	var first error
	record := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	if r.attached {
		if r.options.Detach != nil {
			r.options.Detach()
		}
		r.attached = false
	}

	for call := range r.pending {
		r.fail(call, ErrorName(status.ServiceShuttingDown), "service is shutting down")
	}
	clear(r.deferred)
	r.dispatching = nil

	if r.endpointSource != 0 {
		record(r.loop.RemoveSource(r.endpointSource))
		r.endpointSource = 0
	}
	if r.endpoint != nil {
		record(r.endpoint.Close())
		r.endpoint = nil
	}
	if r.mailboxSource != 0 {
		record(r.loop.RemoveSource(r.mailboxSource))
		r.mailboxSource = 0
	}
	r.handlesMu.Lock()
	loop, box := r.loop, r.mailbox
	r.loop, r.mailbox = nil, nil
	r.handlesMu.Unlock()
	if loop != nil {
		record(loop.Close())
	}
	if box != nil {
		box.Close()
	}
	return first
}

func (r *Reactor) invalidState(operation string) error {
	err := fmt.Errorf("%s in state %s: %w", operation, r.State(), ErrInvalidState)
	r.logger.Error("reactor lifecycle violation", "operation", operation, "error", err)
	return err
}

func (r *Reactor) drainMailbox(scope *eventloop.Scope) error {
	for {
		envelope, err := r.mailbox.Receive(0)
		if errors.Is(err, mailbox.ErrEmpty) {
			return nil
		}
		if err != nil {
			return err
		}
		if envelope.Sequence != r.lastSequence+1 {
			r.logger.Warn("mailbox sequence gap",
				"expected", r.lastSequence+1,
				"received", envelope.Sequence,
			)
		}
		r.lastSequence = envelope.Sequence

		switch message := envelope.Message.(type) {
		case mailbox.Exit:
			r.logger.Info("stop requested", "reason", StopReason(message.Reason))
			scope.Exit(message.Reason)
		case mailbox.Raw:
			r.logger.Debug("mailbox message", "envelope", envelope.String(), "bytes", len(message.Data))
		}
	}
}

func (r *Reactor) drainInbound(scope *eventloop.Scope) error {
	for {
		event, ok := r.endpoint.Next()
		if !ok {
			return nil
		}
		switch event.Kind {
		case ipc.InboundCall:
			r.dispatch(scope, event.Connection, event.Frame)
		case ipc.InboundDisconnect:
			r.logger.Debug("peer disconnected", "connection", event.Connection)
			r.options.Handler.NotifyConnectionClosed(event.Connection)
		}
	}
}

func (r *Reactor) dispatch(scope *eventloop.Scope, connection ipc.ConnectionID, frame *ipc.Frame) {
	logger := r.logger.With("connection", connection, "member", frame.Member, "serial", frame.Serial)

	if frame.Destination != r.options.ServiceName {
		r.reject(connection, frame, ErrorUnknownDestination,
			fmt.Sprintf("no service named %q", frame.Destination))
		return
	}
	method, err := r.endpoint.Resolve(frame.Path, frame.Interface, frame.Member)
	if err != nil {
		r.reject(connection, frame, resolveErrorName(err), err.Error())
		return
	}
	if frame.Signature != method.In {
		r.reject(connection, frame, ErrorInvalidSignature,
			fmt.Sprintf("%s takes %q, got %q", frame.Member, method.In, frame.Signature))
		return
	}

	call := &PendingCall{
		Connection: connection,
		Frame:      frame,
		Method:     method,
		Received:   scope.Now(),
	}
	r.pending[call] = struct{}{}
	logger.Debug("call accepted")

	handler := r.options.Handler
	switch frame.Member {
	case MemberRegisterResources:
		var definition string
		if err := frame.Args(&definition); err != nil {
			r.fail(call, ErrorInvalidArgs, err.Error())
			return
		}
		code, token := handler.RegisterResources(connection, []byte(definition))
		r.answer(call, code, token)

	case MemberDeregisterResources:
		var token string
		if err := frame.Args(&token); err != nil {
			r.fail(call, ErrorInvalidArgs, err.Error())
			return
		}
		r.dispatching = &syncCompletion{token: token}
		code := handler.DeregisterResources(connection, token)
		completion := r.dispatching
		r.dispatching = nil
		switch {
		case !code.OK():
			r.answer(call, code)
		case completion.completed:
			r.answer(call, completion.code)
		default:
			r.deferred[token] = call
			logger.Debug("deregistration deferred until backend answers")
		}

	case MemberSetResourcesValues:
		var token string
		var operations []SetOperation
		if err := frame.Args(&token, &operations); err != nil {
			r.fail(call, ErrorInvalidArgs, err.Error())
			return
		}
		code, results := handler.SetResourcesValues(connection, token, operations)
		if results == nil {
			results = []status.Code{}
		}
		r.answer(call, code, results)

	case MemberGetResourcesValues:
		var token string
		var operations []GetOperation
		if err := frame.Args(&token, &operations); err != nil {
			r.fail(call, ErrorInvalidArgs, err.Error())
			return
		}
		code, results := handler.GetResourcesValues(connection, token, operations)
		if results == nil {
			results = []GetResult{}
		}
		r.answer(call, code, results)

	case MemberGetStatus:
		snapshot := handler.Status()
		r.reply(call, &snapshot)

	default:
		r.fail(call, ErrorUnknownMethod, "no handler for "+frame.Member)
	}
}

// answer replies with code followed by rest when code is Success, and
// with the code's error name otherwise.
func (r *Reactor) answer(call *PendingCall, code status.Code, rest ...any) {
	if !code.OK() {
		r.fail(call, ErrorName(code), "")
		return
	}
	r.reply(call, append([]any{code}, rest...)...)
}

func (r *Reactor) reply(call *PendingCall, args ...any) {
	delete(r.pending, call)
	if err := r.endpoint.Reply(call.Connection, call.Frame, call.Method.Out, args...); err != nil {
		r.logger.Warn("reply not sent",
			"connection", call.Connection,
			"member", call.Frame.Member,
			"error", err,
		)
	}
}

func (r *Reactor) fail(call *PendingCall, errorName, message string) {
	delete(r.pending, call)
	r.reject(call.Connection, call.Frame, errorName, message)
}

func (r *Reactor) reject(connection ipc.ConnectionID, frame *ipc.Frame, errorName, message string) {
	r.logger.Debug("call rejected",
		"connection", connection,
		"member", frame.Member,
		"error_name", errorName,
	)
	if err := r.endpoint.ReplyError(connection, frame, errorName, message); err != nil {
		r.logger.Warn("error reply not sent", "connection", connection, "error", err)
	}
}

// RegistrationResult implements Responder.
func (r *Reactor) RegistrationResult(connection ipc.ConnectionID, code status.Code, token string) {
	if r.endpoint == nil {
		return
	}
	if err := r.endpoint.EmitSignal(connection, ObjectPath, InterfaceName, SignalRegistrationResult, code, token); err != nil {
		r.logger.Warn("registration result not delivered",
			"connection", connection,
			"status", code,
			"error", err,
		)
	}
}

// DeregistrationResult implements Responder.
func (r *Reactor) DeregistrationResult(token string, code status.Code) {
	if r.dispatching != nil && r.dispatching.token == token {
		r.dispatching.completed = true
		r.dispatching.code = code
		return
	}
	call, ok := r.deferred[token]
	if !ok {
		r.logger.Debug("deregistration result with no waiting call", "status", code)
		return
	}
	delete(r.deferred, token)
	r.answer(call, code)
}

func resolveErrorName(err error) string {
	switch {
	case errors.Is(err, ipc.ErrUnknownObject):
		return ErrorUnknownObject
	case errors.Is(err, ipc.ErrUnknownInterface):
		return ErrorUnknownInterface
	default:
		return ErrorUnknownMethod
	}
}
