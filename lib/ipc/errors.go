// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"errors"
	"fmt"
)

// Errors returned by the endpoint and client.
var (
	ErrClosed            = errors.New("ipc: closed")
	ErrNameTaken         = errors.New("ipc: name is owned by a live endpoint")
	ErrNameNotOwned      = errors.New("ipc: endpoint does not own a name")
	ErrUnknownConnection = errors.New("ipc: no such connection")
	ErrFrameTooLarge     = errors.New("ipc: frame exceeds size limit")
	ErrInvalidSignature  = errors.New("ipc: invalid signature")
	ErrInvalidArgs       = errors.New("ipc: body does not match signature")
	ErrUnknownObject     = errors.New("ipc: no object at path")
	ErrUnknownInterface  = errors.New("ipc: object does not implement interface")
	ErrUnknownMethod     = errors.New("ipc: interface has no such method")
	ErrOutboundFull      = errors.New("ipc: connection outbound queue full")
)

// RemoteError is an error frame returned for a call.
type RemoteError struct {
	Name    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}
