// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/cloudconnect/lib/clock"
	"github.com/bureau-foundation/cloudconnect/lib/devicemgmt"
	"github.com/bureau-foundation/cloudconnect/lib/eventloop"
	"github.com/bureau-foundation/cloudconnect/lib/ipc"
	"github.com/bureau-foundation/cloudconnect/lib/resource"
	"github.com/bureau-foundation/cloudconnect/lib/status"
)

// Options configures a Broker.
type Options struct {
	// Endpoint configures the IPC endpoint. SocketDir is required.
	Endpoint ipc.EndpointOptions

	// ServiceName defaults to ServiceName.
	ServiceName string

	MailboxCapacity int
	MailboxTimeout  time.Duration

	// HeartbeatInterval is the period of the state-logging heartbeat.
	// Zero disables it.
	HeartbeatInterval time.Duration

	// Backend is the device-management client. Required.
	Backend devicemgmt.Client

	Clock  clock.Clock
	Logger *slog.Logger
}

// Broker is the resource broker service. Create one with New, then
// Start and Stop it; a stopped broker may be started again.
type Broker struct {
	logger    *slog.Logger
	backend   devicemgmt.Client
	reactor   *Reactor
	responder Responder
	heartbeat time.Duration

	// alive is true between a successful Init and the start of Stop.
	// Backend callbacks are dropped while it is false.
	alive atomic.Bool

	// Reactor goroutine only.
	records     map[string]*registrationRecord
	connections map[ipc.ConnectionID]string
	inflight    *registrationRecord
	heartbeats  uint64

	published atomic.Pointer[Snapshot]

	lifecycleMu sync.Mutex
	running     bool
	done        chan struct{}
	runErr      error
}

// New validates options and creates a stopped broker.
func New(options Options) (*Broker, error) {
	if options.Backend == nil {
		return nil, errors.New("broker: a device-management backend is required")
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}

	b := &Broker{
		logger:      options.Logger.With("component", "broker"),
		backend:     options.Backend,
		heartbeat:   options.HeartbeatInterval,
		records:     make(map[string]*registrationRecord),
		connections: make(map[ipc.ConnectionID]string),
	}
	reactor, err := NewReactor(ReactorOptions{
		Endpoint:        options.Endpoint,
		ServiceName:     options.ServiceName,
		MailboxCapacity: options.MailboxCapacity,
		MailboxTimeout:  options.MailboxTimeout,
		Handler:         b,
		Attach:          b.attach,
		Detach:          b.detach,
		Clock:           options.Clock,
		Logger:          options.Logger,
	})
	if err != nil {
		return nil, err
	}
	b.reactor = reactor
	b.responder = reactor
	return b, nil
}

// SocketPath returns the socket clients dial while the broker runs.
func (b *Broker) SocketPath() string { return b.reactor.SocketPath() }

// Start initializes the reactor and runs it on a new goroutine. It
// returns once the reactor is processing calls, or with the Init error.
func (b *Broker) Start() error {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()
	if b.running {
		return fmt.Errorf("start: %w", ErrInvalidState)
	}

	started := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := b.reactor.Init(); err != nil {
			started <- err
			return
		}
		b.alive.Store(true)

		// Fires on the loop goroutine once Run is underway, so Stop
		// from the caller always finds the reactor running.
		_, err := b.reactor.Loop().Events().SendImmediate(eventloop.Payload{},
			func(*eventloop.Scope, *eventloop.SelfEvent) error {
				b.publish()
				started <- nil
				return nil
			}, "broker started")
		if err != nil {
			b.alive.Store(false)
			started <- err
			b.runErr = b.reactor.Deinit()
			return
		}

		reason, runErr := b.reactor.Run()
		b.alive.Store(false)
		b.logger.Info("reactor stopped", "reason", reason)
		deinitErr := b.reactor.Deinit()
		b.runErr = errors.Join(runErr, deinitErr)
		b.publish()
	}()

	if err := <-started; err != nil {
		<-done
		return err
	}
	b.running = true
	b.done = done
	return nil
}

// Stop asks the reactor to exit, waits for its goroutine and returns
// any Run or Deinit error.
func (b *Broker) Stop() error {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()
	if !b.running {
		return fmt.Errorf("stop: %w", ErrInvalidState)
	}

	b.alive.Store(false)
	stopErr := b.reactor.Stop(StopShutdown)
	if stopErr != nil && !errors.Is(stopErr, ErrInvalidState) {
		// The reactor is unreachable; its goroutine is left running.
		return stopErr
	}
	<-b.done
	b.running = false
	return b.runErr
}

// Done is closed when the reactor goroutine of the current run exits.
// It is nil before the first Start.
func (b *Broker) Done() <-chan struct{} {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()
	return b.done
}

// Snapshot returns the most recently published copy of broker state.
// Safe from any goroutine.
func (b *Broker) Snapshot() Snapshot {
	published := b.published.Load()
	if published == nil {
		return Snapshot{State: b.reactor.State().String()}
	}
	snapshot := *published
	snapshot.State = b.reactor.State().String()
	snapshot.Records = slices.Clone(published.Records)
	return snapshot
}

// Status implements CallHandler. It publishes a fresh snapshot first.
// The GetStatus call being answered is not counted in PendingCalls.
func (b *Broker) Status() Snapshot {
	b.publishExcluding(1)
	return b.Snapshot()
}

// publish copies the record table into a new Snapshot. Reactor
// goroutine only.
func (b *Broker) publish() { b.publishExcluding(0) }

// publishExcluding publishes with answering calls left out of
// PendingCalls.
func (b *Broker) publishExcluding(answering int) {
	snapshot := &Snapshot{
		Connections:  b.reactor.Connections(),
		PendingCalls: max(b.reactor.PendingCalls()-answering, 0),
		Heartbeats:   b.heartbeats,
	}
	for _, token := range slices.Sorted(maps.Keys(b.records)) {
		record := b.records[token]
		snapshot.Records = append(snapshot.Records, RecordSnapshot{
			TokenPrefix: record.tokenPrefix(),
			State:       record.state.String(),
			Fingerprint: record.fingerprint.Short(),
			Resources:   record.tree.Len(),
			Connections: len(record.connections),
			Orphaned:    record.orphaned,
		})
	}
	b.published.Store(snapshot)
}

func (b *Broker) attach(loop *eventloop.Loop) error {
	if err := b.backend.Attach(loop.Events(), brokerCallbacks{b}); err != nil {
		return err
	}
	if b.heartbeat > 0 {
		_, err := loop.Events().SendPeriodic(eventloop.Payload{}, b.beat, b.heartbeat, "broker heartbeat")
		if err != nil {
			b.backend.Detach()
			return fmt.Errorf("scheduling heartbeat: %w", err)
		}
	}
	return nil
}

func (b *Broker) detach() {
	b.backend.Detach()
	for _, record := range b.records {
		b.logger.Info("dropping registration at shutdown",
			"token", record.tokenPrefix(),
			"state", record.state,
		)
	}
	clear(b.records)
	clear(b.connections)
	b.inflight = nil
}

func (b *Broker) beat(scope *eventloop.Scope, event *eventloop.SelfEvent) error {
	b.heartbeats++
	b.publish()
	attrs := []any{"heartbeat", event.FireCount(), "records", len(b.records), "connections", len(b.connections)}
	for _, record := range b.records {
		attrs = append(attrs, "token", record.tokenPrefix(), "state", record.state)
	}
	b.logger.Debug("broker heartbeat", attrs...)
	return nil
}

func newAccessToken() string {
	return uuid.NewString()
}

// lookup resolves a token for connection and tracks the connection on
// the record. Orphaned records do not resolve.
func (b *Broker) lookup(connection ipc.ConnectionID, token string) (*registrationRecord, bool) {
	record, ok := b.records[token]
	if !ok || record.orphaned {
		return nil, false
	}
	b.track(connection, record)
	return record, true
}

// track makes connection reference record, moving it off any record
// it referenced before.
func (b *Broker) track(connection ipc.ConnectionID, record *registrationRecord) {
	if previous, ok := b.connections[connection]; ok && previous != record.token {
		if old, exists := b.records[previous]; exists {
			b.untrack(connection, old)
		}
	}
	record.connections[connection] = struct{}{}
	b.connections[connection] = record.token
}

// untrack removes connection from record and settles the record if it
// lost its last connection.
func (b *Broker) untrack(connection ipc.ConnectionID, record *registrationRecord) {
	delete(record.connections, connection)
	if b.connections[connection] == record.token {
		delete(b.connections, connection)
	}
	if len(record.connections) > 0 {
		return
	}
	if record.state == recordRegistered {
		b.logger.Info("last connection closed, dropping registration", "token", record.tokenPrefix())
		b.destroy(record)
		return
	}
	b.logger.Info("last connection closed with backend request in flight",
		"token", record.tokenPrefix(),
		"state", record.state,
	)
	record.orphaned = true
}

func (b *Broker) destroy(record *registrationRecord) {
	for connection := range record.connections {
		if b.connections[connection] == record.token {
			delete(b.connections, connection)
		}
	}
	delete(b.records, record.token)
	if b.inflight == record {
		b.inflight = nil
	}
}

// RegisterResources implements CallHandler.
func (b *Broker) RegisterResources(connection ipc.ConnectionID, definition []byte) (status.Code, string) {
	defer b.publish()
	logger := b.logger.With("connection", connection)

	tree, err := resource.Parse(definition)
	if err != nil {
		code := status.FromError(err)
		logger.Warn("rejecting resource definition", "status", code, "error", err)
		return code, ""
	}

	for _, record := range b.records {
		if record.state == recordRegistering {
			logger.Info("registration rejected", "status", status.RegistrationAlreadyInProgress)
			return status.RegistrationAlreadyInProgress, ""
		}
		logger.Info("registration rejected", "status", status.AlreadyRegistered)
		return status.AlreadyRegistered, ""
	}

	token := newAccessToken()
	record := newRecord(token, tree, connection)
	b.records[token] = record
	b.track(connection, record)
	b.inflight = record

	if err := b.backend.BeginRegister(tree); err != nil {
		logger.Error("backend refused registration", "error", err)
		b.destroy(record)
		return status.RegistrationFailed, ""
	}
	logger.Info("registration started",
		"token", record.tokenPrefix(),
		"resources", tree.Len(),
		"fingerprint", record.fingerprint.Short(),
	)
	return status.Success, token
}

// DeregisterResources implements CallHandler. A Success return means
// the backend request was started and the reply waits for it.
func (b *Broker) DeregisterResources(connection ipc.ConnectionID, token string) status.Code {
	defer b.publish()
	record, ok := b.lookup(connection, token)
	if !ok {
		return status.InvalidAccessToken
	}
	if record.state != recordRegistered {
		return status.NotRegistered
	}

	record.state = recordDeregistering
	b.inflight = record
	if err := b.backend.BeginDeregister(record.token); err != nil {
		b.logger.Error("backend refused deregistration", "token", record.tokenPrefix(), "error", err)
		record.state = recordRegistered
		b.inflight = nil
		return status.DeregistrationFailed
	}
	b.logger.Info("deregistration started", "token", record.tokenPrefix(), "connection", connection)
	return status.Success
}

// SetResourcesValues implements CallHandler.
func (b *Broker) SetResourcesValues(connection ipc.ConnectionID, token string, operations []SetOperation) (status.Code, []status.Code) {
	record, ok := b.lookup(connection, token)
	if !ok {
		return status.InvalidAccessToken, nil
	}
	results := make([]status.Code, len(operations))
	for index, operation := range operations {
		results[index] = setOne(record.tree, operation)
	}
	return status.Success, results
}

// GetResourcesValues implements CallHandler.
func (b *Broker) GetResourcesValues(connection ipc.ConnectionID, token string, operations []GetOperation) (status.Code, []GetResult) {
	record, ok := b.lookup(connection, token)
	if !ok {
		return status.InvalidAccessToken, nil
	}
	results := make([]GetResult, len(operations))
	for index, operation := range operations {
		results[index] = getOne(record.tree, operation)
	}
	return status.Success, results
}

func setOne(tree *resource.Tree, operation SetOperation) status.Code {
	path, err := resource.ParsePath(operation.Path)
	if err != nil {
		return status.InvalidResourcePath
	}
	return resourceStatus(tree.Set(path, operation.Value))
}

func getOne(tree *resource.Tree, operation GetOperation) GetResult {
	path, err := resource.ParsePath(operation.Path)
	if err != nil {
		return GetResult{Status: status.InvalidResourcePath}
	}
	value, err := tree.Get(path, operation.Type)
	if err != nil {
		return GetResult{Status: resourceStatus(err)}
	}
	return GetResult{Status: status.Success, Value: value}
}

func resourceStatus(err error) status.Code {
	switch {
	case err == nil:
		return status.Success
	case errors.Is(err, resource.ErrNotFound):
		return status.ResourceNotFound
	case errors.Is(err, resource.ErrTypeMismatch):
		return status.InvalidResourceType
	case errors.Is(err, resource.ErrInvalidValue):
		return status.InvalidValue
	default:
		return status.Error
	}
}

// NotifyConnectionClosed implements CallHandler.
func (b *Broker) NotifyConnectionClosed(connection ipc.ConnectionID) {
	token, ok := b.connections[connection]
	if !ok {
		return
	}
	if record, exists := b.records[token]; exists {
		b.untrack(connection, record)
	} else {
		delete(b.connections, connection)
	}
	b.publish()
}

func (b *Broker) onRegistered() {
	defer b.publish()
	record := b.inflight
	if record == nil || record.state != recordRegistering {
		b.logger.Warn("registration confirmed with nothing registering")
		return
	}
	b.inflight = nil

	if record.orphaned {
		// Nobody holds the token any more; take the registration back
		// down and destroy the record when that completes.
		record.state = recordDeregistering
		b.inflight = record
		if err := b.backend.BeginDeregister(record.token); err != nil {
			b.logger.Error("could not deregister orphaned registration", "token", record.tokenPrefix(), "error", err)
			b.destroy(record)
		}
		return
	}

	record.state = recordRegistered
	b.logger.Info("registration confirmed", "token", record.tokenPrefix())
	b.responder.RegistrationResult(record.origin, status.Success, record.token)
}

func (b *Broker) onRegistrationFailed(code status.Code) {
	defer b.publish()
	record := b.inflight
	if record == nil || record.state != recordRegistering {
		b.logger.Warn("registration failure with nothing registering", "status", code)
		return
	}
	b.logger.Warn("registration failed", "token", record.tokenPrefix(), "status", code)
	b.destroy(record)
	if !record.orphaned {
		b.responder.RegistrationResult(record.origin, code, record.token)
	}
}

func (b *Broker) onUnregistered() {
	defer b.publish()
	record := b.inflight
	if record == nil || record.state != recordDeregistering {
		b.logger.Warn("deregistration confirmed with nothing deregistering")
		return
	}
	b.logger.Info("deregistration confirmed", "token", record.tokenPrefix())
	b.destroy(record)
	b.responder.DeregistrationResult(record.token, status.Success)
}

func (b *Broker) onDeregistrationFailed(code status.Code) {
	defer b.publish()
	record := b.inflight
	if record == nil || record.state != recordDeregistering {
		b.logger.Warn("deregistration failure with nothing deregistering", "status", code)
		return
	}
	b.inflight = nil
	b.logger.Warn("deregistration failed", "token", record.tokenPrefix(), "status", code)
	if record.orphaned {
		// The caller is gone, but its DeregisterResources call is
		// still tracked and must be answered to be released.
		b.destroy(record)
		b.responder.DeregistrationResult(record.token, status.DeregistrationFailed)
		return
	}
	record.state = recordRegistered
	b.responder.DeregistrationResult(record.token, status.DeregistrationFailed)
}

// brokerCallbacks forwards backend outcomes to the broker while it is
// alive.
type brokerCallbacks struct {
	broker *Broker
}

func (c brokerCallbacks) OnRegistered() {
	if c.broker.alive.Load() {
		c.broker.onRegistered()
	}
}

func (c brokerCallbacks) OnRegistrationFailed(code status.Code) {
	if c.broker.alive.Load() {
		c.broker.onRegistrationFailed(code)
	}
}

func (c brokerCallbacks) OnUnregistered() {
	if c.broker.alive.Load() {
		c.broker.onUnregistered()
	}
}

func (c brokerCallbacks) OnDeregistrationFailed(code status.Code) {
	if c.broker.alive.Load() {
		c.broker.onDeregistrationFailed(code)
	}
}
