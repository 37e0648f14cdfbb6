// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"fmt"
	"strings"
)

// Method declares the argument and result signatures of a method.
type Method struct {
	In  string
	Out string
}

// Interface is a named set of methods and signals exported on an
// object path.
type Interface struct {
	Name    string
	Methods map[string]Method
	// Signals maps signal name to argument signature.
	Signals map[string]string
}

func (i Interface) validate() error {
	if i.Name == "" || strings.ContainsAny(i.Name, "/ ") {
		return fmt.Errorf("invalid interface name %q", i.Name)
	}
	for name, method := range i.Methods {
		if err := ValidateSignature(method.In); err != nil {
			return fmt.Errorf("%s.%s in: %w", i.Name, name, err)
		}
		if err := ValidateSignature(method.Out); err != nil {
			return fmt.Errorf("%s.%s out: %w", i.Name, name, err)
		}
	}
	for name, signature := range i.Signals {
		if err := ValidateSignature(signature); err != nil {
			return fmt.Errorf("%s.%s signal: %w", i.Name, name, err)
		}
	}
	return nil
}

func validObjectPath(path string) bool {
	if path == "/" {
		return true
	}
	if !strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") {
		return false
	}
	for _, element := range strings.Split(path[1:], "/") {
		if element == "" {
			return false
		}
		for _, r := range element {
			if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_') {
				return false
			}
		}
	}
	return true
}

// objectTable is the set of exported objects.
type objectTable map[string]map[string]Interface

func (t objectTable) resolve(path, iface, member string) (Method, error) {
	interfaces, exists := t[path]
	if !exists {
		return Method{}, fmt.Errorf("%q: %w", path, ErrUnknownObject)
	}
	exported, exists := interfaces[iface]
	if !exists {
		return Method{}, fmt.Errorf("%q on %q: %w", iface, path, ErrUnknownInterface)
	}
	method, exists := exported.Methods[member]
	if !exists {
		return Method{}, fmt.Errorf("%s.%s: %w", iface, member, ErrUnknownMethod)
	}
	return method, nil
}

func (t objectTable) signal(path, iface, member string) (string, error) {
	interfaces, exists := t[path]
	if !exists {
		return "", fmt.Errorf("%q: %w", path, ErrUnknownObject)
	}
	exported, exists := interfaces[iface]
	if !exists {
		return "", fmt.Errorf("%q on %q: %w", iface, path, ErrUnknownInterface)
	}
	signature, exists := exported.Signals[member]
	if !exists {
		return "", fmt.Errorf("signal %s.%s: %w", iface, member, ErrUnknownMethod)
	}
	return signature, nil
}
