// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"strings"

	"github.com/bureau-foundation/cloudconnect/lib/ipc"
	"github.com/bureau-foundation/cloudconnect/lib/resource"
	"github.com/bureau-foundation/cloudconnect/lib/status"
)

// Service addressing.
const (
	ServiceName   = "com.bureau.CloudConnect"
	ObjectPath    = "/com/bureau/CloudConnect/1"
	InterfaceName = "com.bureau.CloudConnect.ResourceBroker"
)

// Members of InterfaceName.
const (
	MemberRegisterResources   = "RegisterResources"
	MemberDeregisterResources = "DeregisterResources"
	MemberSetResourcesValues  = "SetResourcesValues"
	MemberGetResourcesValues  = "GetResourcesValues"
	MemberGetStatus           = "GetStatus"
	SignalRegistrationResult  = "RegistrationResult"
)

// ErrorPrefix starts every error name the service replies with.
const ErrorPrefix = "com.bureau.CloudConnect.Error."

// Error names for calls rejected before they reach the broker.
const (
	ErrorUnknownDestination = ErrorPrefix + "UnknownDestination"
	ErrorUnknownObject      = ErrorPrefix + "UnknownObject"
	ErrorUnknownInterface   = ErrorPrefix + "UnknownInterface"
	ErrorUnknownMethod      = ErrorPrefix + "UnknownMethod"
	ErrorInvalidSignature   = ErrorPrefix + "InvalidSignature"
	ErrorInvalidArgs        = ErrorPrefix + "InvalidArgs"
)

// ErrorName maps a status code to its error name.
func ErrorName(code status.Code) string {
	return ErrorPrefix + code.String()
}

// StatusFromErrorName is the inverse of ErrorName. Protocol error
// names report false.
func StatusFromErrorName(name string) (status.Code, bool) {
	if !strings.HasPrefix(name, ErrorPrefix) {
		return status.Error, false
	}
	code, err := status.Parse(strings.TrimPrefix(name, ErrorPrefix))
	if err != nil {
		return status.Error, false
	}
	return code, true
}

// Interface is the exported method and signal table.
var Interface = ipc.Interface{
	Name: InterfaceName,
	Methods: map[string]ipc.Method{
		MemberRegisterResources:   {In: "s", Out: "is"},
		MemberDeregisterResources: {In: "s", Out: "i"},
		MemberSetResourcesValues:  {In: "sa(sv)", Out: "ia(i)"},
		MemberGetResourcesValues:  {In: "sa(si)", Out: "ia(iv)"},
		MemberGetStatus:           {In: "", Out: "v"},
	},
	Signals: map[string]string{
		SignalRegistrationResult: "is",
	},
}

// SetOperation writes one resource. On the wire it is the "(sv)" entry
// of SetResourcesValues.
type SetOperation struct {
	_     struct{}       `cbor:",toarray"`
	Path  string         `json:"path"`
	Value resource.Value `json:"value"`
}

// GetOperation reads one resource, which must be declared as Type. On
// the wire it is the "(si)" entry of GetResourcesValues.
type GetOperation struct {
	_    struct{}      `cbor:",toarray"`
	Path string        `json:"path"`
	Type resource.Type `json:"type"`
}

// GetResult is the outcome of one GetOperation. Value is only set when
// Status is Success.
type GetResult struct {
	_      struct{}       `cbor:",toarray"`
	Status status.Code    `json:"status"`
	Value  resource.Value `json:"value"`
}

// RegistrationResult is the payload of the RegistrationResult signal.
type RegistrationResult struct {
	Status status.Code
	Token  string
}
