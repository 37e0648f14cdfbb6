// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package status defines the result codes the resource broker returns
// to clients. Codes travel as int32 on the wire; their names are the
// stable symbolic form used for IPC error names and logs.
//
// The numeric values are protocol constants. Append new codes; never
// renumber.
package status

import (
	"errors"
	"fmt"
	"strings"
)

// Code is a broker result code.
type Code int32

// Result codes. Error is the catch-all for failures that have no more
// specific code; ServiceShuttingDown answers calls that were still
// pending when the reactor was torn down.
const (
	Success Code = iota
	Error
	InvalidJSON
	InvalidResourceDefinition
	InvalidAccessToken
	AlreadyRegistered
	RegistrationAlreadyInProgress
	NotRegistered
	RegistrationFailed
	DeregistrationFailed
	InvalidResourcePath
	ResourceNotFound
	InvalidResourceType
	InvalidState
	ServiceShuttingDown
	InvalidValue
)

var names = [...]string{
	Success:                       "Success",
	Error:                         "Error",
	InvalidJSON:                   "InvalidJson",
	InvalidResourceDefinition:     "InvalidResourceDefinition",
	InvalidAccessToken:            "InvalidAccessToken",
	AlreadyRegistered:             "AlreadyRegistered",
	RegistrationAlreadyInProgress: "RegistrationAlreadyInProgress",
	NotRegistered:                 "NotRegistered",
	RegistrationFailed:            "RegistrationFailed",
	DeregistrationFailed:          "DeregistrationFailed",
	InvalidResourcePath:           "InvalidResourcePath",
	ResourceNotFound:              "ResourceNotFound",
	InvalidResourceType:           "InvalidResourceType",
	InvalidState:                  "InvalidState",
	ServiceShuttingDown:           "ServiceShuttingDown",
	InvalidValue:                  "InvalidValue",
}

// String returns the code's symbolic name.
func (c Code) String() string {
	if c >= 0 && int(c) < len(names) {
		return names[c]
	}
	return fmt.Sprintf("Code(%d)", int32(c))
}

// OK reports whether c is Success.
func (c Code) OK() bool { return c == Success }

// Parse returns the code with the given symbolic name. Matching is
// case-insensitive.
func Parse(name string) (Code, error) {
	for code, candidate := range names {
		if strings.EqualFold(candidate, name) {
			return Code(code), nil
		}
	}
	return Error, fmt.Errorf("unknown status %q", name)
}

// StatusError carries a Code through an error return.
type StatusError struct {
	Code    Code
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return e.Code.String() + ": " + e.Message
}

// Errorf builds a StatusError with a formatted message.
func Errorf(code Code, format string, args ...any) error {
	return &StatusError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// FromError extracts the Code from err. nil maps to Success, errors
// that carry no Code map to Error.
func FromError(err error) Code {
	if err == nil {
		return Success
	}
	var statusErr interface{ StatusCode() Code }
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode()
	}
	return Error
}

// StatusCode implements the interface FromError looks for.
func (e *StatusError) StatusCode() Code { return e.Code }
