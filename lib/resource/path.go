// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package resource

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidPath is returned for a path that is not of the form
// "/object/instance/resource" with decimal ids in [0, 65535].
var ErrInvalidPath = errors.New("invalid resource path")

// Path addresses one resource in a Tree.
type Path struct {
	Object   uint16
	Instance uint16
	Resource uint16
}

// ParsePath parses "/8888/11/111". A trailing slash is not allowed and
// every level must be present.
func ParsePath(text string) (Path, error) {
	if !strings.HasPrefix(text, "/") {
		return Path{}, fmt.Errorf("%q: missing leading slash: %w", text, ErrInvalidPath)
	}
	parts := strings.Split(text[1:], "/")
	if len(parts) != 3 {
		return Path{}, fmt.Errorf("%q: want 3 levels, have %d: %w", text, len(parts), ErrInvalidPath)
	}
	var ids [3]uint16
	for index, part := range parts {
		id, err := parseID(part)
		if err != nil {
			return Path{}, fmt.Errorf("%q: level %d: %v: %w", text, index+1, err, ErrInvalidPath)
		}
		ids[index] = id
	}
	return Path{Object: ids[0], Instance: ids[1], Resource: ids[2]}, nil
}

func (p Path) String() string {
	return fmt.Sprintf("/%d/%d/%d", p.Object, p.Instance, p.Resource)
}

// Less orders paths object first, then instance, then resource.
func (p Path) Less(other Path) bool {
	if p.Object != other.Object {
		return p.Object < other.Object
	}
	if p.Instance != other.Instance {
		return p.Instance < other.Instance
	}
	return p.Resource < other.Resource
}

func parseID(text string) (uint16, error) {
	if text == "" {
		return 0, errors.New("empty id")
	}
	// ParseUint accepts "+1"; ids are plain digits.
	for _, r := range text {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("id %q is not a decimal number", text)
		}
	}
	id, err := strconv.ParseUint(text, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("id %q out of range", text)
	}
	return uint16(id), nil
}
