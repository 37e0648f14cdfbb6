// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package resource

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Type is a resource's declared value type.
type Type uint8

const (
	TypeNone Type = iota
	TypeString
	TypeInteger
	TypeFloat
	TypeBoolean
	TypeTime
	TypeOpaque
)

var typeNames = [...]string{
	TypeNone:    "none",
	TypeString:  "string",
	TypeInteger: "integer",
	TypeFloat:   "float",
	TypeBoolean: "boolean",
	TypeTime:    "time",
	TypeOpaque:  "opaque",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// ParseType accepts a type name in any case ("STRING", "string").
func ParseType(name string) (Type, error) {
	lowered := strings.ToLower(strings.TrimSpace(name))
	for index, candidate := range typeNames {
		if index != int(TypeNone) && candidate == lowered {
			return Type(index), nil
		}
	}
	return TypeNone, fmt.Errorf("unknown resource type %q", name)
}

// Value is a typed resource value. Only the field matching Type is
// meaningful; Time values are carried as Unix seconds in Integer.
type Value struct {
	Type    Type    `json:"type"`
	String  string  `json:"string,omitempty"`
	Integer int64   `json:"integer,omitempty"`
	Float   float64 `json:"float,omitempty"`
	Boolean bool    `json:"boolean,omitempty"`
	Opaque  []byte  `json:"opaque,omitempty"`
}

// StringValue returns a string value.
func StringValue(s string) Value { return Value{Type: TypeString, String: s} }

// IntegerValue returns an integer value.
func IntegerValue(i int64) Value { return Value{Type: TypeInteger, Integer: i} }

// FloatValue returns a float value.
func FloatValue(f float64) Value { return Value{Type: TypeFloat, Float: f} }

// BooleanValue returns a boolean value.
func BooleanValue(b bool) Value { return Value{Type: TypeBoolean, Boolean: b} }

// TimeValue returns a time value with second precision.
func TimeValue(t time.Time) Value { return Value{Type: TypeTime, Integer: t.Unix()} }

// OpaqueValue returns an opaque value holding a copy of data.
func OpaqueValue(data []byte) Value {
	return Value{Type: TypeOpaque, Opaque: append([]byte(nil), data...)}
}

// ZeroValue returns the zero value of t.
func ZeroValue(t Type) Value { return Value{Type: t} }

// Text formats the value the way ParseValue reads it.
func (v Value) Text() string {
	switch v.Type {
	case TypeString:
		return v.String
	case TypeInteger, TypeTime:
		return strconv.FormatInt(v.Integer, 10)
	case TypeFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case TypeBoolean:
		return strconv.FormatBool(v.Boolean)
	case TypeOpaque:
		return base64.StdEncoding.EncodeToString(v.Opaque)
	default:
		return ""
	}
}

// ParseValue reads text as a value of type t. Opaque values are
// base64; time values are Unix seconds.
func ParseValue(t Type, text string) (Value, error) {
	switch t {
	case TypeString:
		return StringValue(text), nil
	case TypeInteger, TypeTime:
		parsed, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parsing %s value %q: %w", t, text, err)
		}
		return Value{Type: t, Integer: parsed}, nil
	case TypeFloat:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return Value{}, fmt.Errorf("parsing float value %q: %w", text, err)
		}
		return FloatValue(parsed), nil
	case TypeBoolean:
		parsed, err := strconv.ParseBool(strings.TrimSpace(text))
		if err != nil {
			return Value{}, fmt.Errorf("parsing boolean value %q: %w", text, err)
		}
		return BooleanValue(parsed), nil
	case TypeOpaque:
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(text))
		if err != nil {
			return Value{}, fmt.Errorf("parsing opaque value: %w", err)
		}
		return OpaqueValue(decoded), nil
	default:
		return Value{}, fmt.Errorf("cannot parse a value of type %s", t)
	}
}

// Operations is the set of operations the cloud side may perform on a
// resource.
type Operations uint8

const (
	OperationGet Operations = 1 << iota
	OperationPut
	OperationPost
	OperationDelete
)

// ParseOperations reads a comma separated list such as "get,put".
// The empty string means get only.
func ParseOperations(text string) (Operations, error) {
	if strings.TrimSpace(text) == "" {
		return OperationGet, nil
	}
	var operations Operations
	for _, part := range strings.Split(text, ",") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "get":
			operations |= OperationGet
		case "put":
			operations |= OperationPut
		case "post":
			operations |= OperationPost
		case "delete":
			operations |= OperationDelete
		default:
			return 0, fmt.Errorf("unknown operation %q", part)
		}
	}
	return operations, nil
}

func (o Operations) String() string {
	var parts []string
	for _, named := range []struct {
		bit  Operations
		name string
	}{
		{OperationGet, "get"},
		{OperationPut, "put"},
		{OperationPost, "post"},
		{OperationDelete, "delete"},
	} {
		if o&named.bit != 0 {
			parts = append(parts, named.name)
		}
	}
	return strings.Join(parts, ",")
}
