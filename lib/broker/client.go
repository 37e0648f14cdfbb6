// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/cloudconnect/lib/ipc"
	"github.com/bureau-foundation/cloudconnect/lib/status"
)

// Client is a typed connection to a running broker. Errors the broker
// answers with a status code come back as *status.StatusError, so
// status.FromError recovers the code.
type Client struct {
	conn        *ipc.Client
	destination string
	results     chan RegistrationResult
	logger      *slog.Logger
}

// ClientOptions configures Dial.
type ClientOptions struct {
	// SocketDir and ServiceName locate the broker socket. ServiceName
	// defaults to ServiceName.
	SocketDir   string
	ServiceName string

	IPC ipc.ClientOptions
}

// Dial connects to the broker.
func Dial(ctx context.Context, options ClientOptions) (*Client, error) {
	if options.ServiceName == "" {
		options.ServiceName = ServiceName
	}
	logger := options.IPC.Logger
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := ipc.Dial(ctx, ipc.SocketPath(options.SocketDir, options.ServiceName), options.IPC)
	if err != nil {
		return nil, err
	}
	client := &Client{
		conn:        conn,
		destination: options.ServiceName,
		results:     make(chan RegistrationResult, cap(conn.Signals())),
		logger:      logger,
	}
	go client.forwardSignals()
	return client, nil
}

// Close closes the connection. Closing the last connection that used
// a token releases its registration.
func (c *Client) Close() error {
	return c.conn.Close()
}

// RegistrationResults delivers RegistrationResult signals. The channel
// is closed when the connection ends.
func (c *Client) RegistrationResults() <-chan RegistrationResult {
	return c.results
}

// RegisterResources submits a resource definition and returns the
// access token. The registration outcome arrives on
// RegistrationResults.
func (c *Client) RegisterResources(ctx context.Context, definition string) (string, error) {
	reply, err := c.call(ctx, MemberRegisterResources, "s", definition)
	if err != nil {
		return "", err
	}
	var code status.Code
	var token string
	if err := reply.Args(&code, &token); err != nil {
		return "", err
	}
	return token, codeError(code)
}

// DeregisterResources removes the registration and returns once the
// backend has answered.
func (c *Client) DeregisterResources(ctx context.Context, token string) error {
	reply, err := c.call(ctx, MemberDeregisterResources, "s", token)
	if err != nil {
		return err
	}
	var code status.Code
	if err := reply.Args(&code); err != nil {
		return err
	}
	return codeError(code)
}

// SetResourcesValues writes values and returns one code per operation.
func (c *Client) SetResourcesValues(ctx context.Context, token string, operations []SetOperation) ([]status.Code, error) {
	reply, err := c.call(ctx, MemberSetResourcesValues, "sa(sv)", token, operations)
	if err != nil {
		return nil, err
	}
	var code status.Code
	var results []status.Code
	if err := reply.Args(&code, &results); err != nil {
		return nil, err
	}
	return results, codeError(code)
}

// GetResourcesValues reads values and returns one result per
// operation.
func (c *Client) GetResourcesValues(ctx context.Context, token string, operations []GetOperation) ([]GetResult, error) {
	reply, err := c.call(ctx, MemberGetResourcesValues, "sa(si)", token, operations)
	if err != nil {
		return nil, err
	}
	var code status.Code
	var results []GetResult
	if err := reply.Args(&code, &results); err != nil {
		return nil, err
	}
	return results, codeError(code)
}

// Status returns the broker's state snapshot.
func (c *Client) Status(ctx context.Context) (Snapshot, error) {
	reply, err := c.call(ctx, MemberGetStatus, "")
	if err != nil {
		return Snapshot{}, err
	}
	var snapshot Snapshot
	if err := reply.Args(&snapshot); err != nil {
		return Snapshot{}, err
	}
	return snapshot, nil
}

func (c *Client) call(ctx context.Context, member, signature string, args ...any) (*ipc.Frame, error) {
	reply, err := c.conn.Call(ctx, c.destination, ObjectPath, InterfaceName, member, signature, args...)
	if err != nil {
		var remote *ipc.RemoteError
		if errors.As(err, &remote) {
			if code, ok := StatusFromErrorName(remote.Name); ok {
				return nil, &status.StatusError{Code: code, Message: remote.Message}
			}
		}
		return nil, fmt.Errorf("%s: %w", member, err)
	}
	return reply, nil
}

func (c *Client) forwardSignals() {
	defer close(c.results)
	for frame := range c.conn.Signals() {
		if frame.Interface != InterfaceName || frame.Member != SignalRegistrationResult {
			continue
		}
		var result RegistrationResult
		if err := frame.Args(&result.Status, &result.Token); err != nil {
			c.logger.Warn("malformed registration result", "error", err)
			continue
		}
		select {
		case c.results <- result:
		default:
			c.logger.Warn("registration result dropped, reader too slow", "status", result.Status)
		}
	}
}

func codeError(code status.Code) error {
	if code.OK() {
		return nil
	}
	return &status.StatusError{Code: code}
}
