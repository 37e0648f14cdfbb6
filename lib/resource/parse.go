// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package resource

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/cloudconnect/lib/status"
)

// ParseError reports why a definition was rejected. Code is
// status.InvalidJSON for text that is not JSON at all and
// status.InvalidResourceDefinition for JSON that does not describe a
// valid tree.
type ParseError struct {
	Code    status.Code
	Message string
}

func (e *ParseError) Error() string {
	return "parsing resource definition: " + e.Code.String() + ": " + e.Message
}

// StatusCode lets status.FromError recover the code.
func (e *ParseError) StatusCode() status.Code { return e.Code }

func invalidDefinition(format string, args ...any) *ParseError {
	return &ParseError{Code: status.InvalidResourceDefinition, Message: fmt.Sprintf(format, args...)}
}

type definition struct {
	Objects []objectDefinition `json:"objects"`
}

type objectDefinition struct {
	ID        *id                  `json:"object-id"`
	Instances []instanceDefinition `json:"object-instances"`
}

type instanceDefinition struct {
	ID        *id                  `json:"object-instance-id"`
	Resources []resourceDefinition `json:"resources"`
}

type resourceDefinition struct {
	ID         *id             `json:"resource-id"`
	Type       string          `json:"resource-type"`
	Operations string          `json:"operations"`
	Observable bool            `json:"observable"`
	Value      json.RawMessage `json:"value"`
}

// id accepts 8888 or "8888".
type id uint16

func (i *id) UnmarshalJSON(data []byte) error {
	text := string(bytes.TrimSpace(data))
	if unquoted, err := strconv.Unquote(text); err == nil {
		text = unquoted
	}
	parsed, err := parseID(text)
	if err != nil {
		return err
	}
	*i = id(parsed)
	return nil
}

// Parse builds a Tree from a JSONC definition. The returned error is
// always a *ParseError.
//
// Two layouts are accepted. The listed layout has an "objects" array
// of {"object-id", "object-instances": [{"object-instance-id",
// "resources": [...]}]}. The keyed layout nests ids as keys:
//
//	{"8888": {"11": {"111": {"resource-type": "string"}}}}
func Parse(data []byte) (*Tree, error) {
	stripped := jsonc.ToJSON(data)
	if !json.Valid(stripped) {
		return nil, &ParseError{Code: status.InvalidJSON, Message: "definition is not valid JSON"}
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(stripped, &top); err != nil {
		return nil, invalidDefinition("definition must be a JSON object")
	}
	if _, listed := top["objects"]; !listed && len(top) > 0 {
		return parseKeyed(top)
	}
	return parseListed(stripped)
}

func parseListed(stripped []byte) (*Tree, error) {
	var content definition
	if err := json.Unmarshal(stripped, &content); err != nil {
		return nil, invalidDefinition("%v", err)
	}
	if len(content.Objects) == 0 {
		return nil, invalidDefinition("no objects")
	}

	tree := NewTree()
	for objectIndex, object := range content.Objects {
		if object.ID == nil {
			return nil, invalidDefinition("objects[%d]: missing object-id", objectIndex)
		}
		if _, exists := tree.Objects[uint16(*object.ID)]; exists {
			return nil, invalidDefinition("duplicate object %d", *object.ID)
		}
		if len(object.Instances) == 0 {
			return nil, invalidDefinition("object %d has no instances", *object.ID)
		}
		for instanceIndex, instance := range object.Instances {
			if instance.ID == nil {
				return nil, invalidDefinition("object %d: instances[%d]: missing object-instance-id", *object.ID, instanceIndex)
			}
			if len(instance.Resources) == 0 {
				return nil, invalidDefinition("/%d/%d has no resources", *object.ID, *instance.ID)
			}
			if existing, exists := tree.Objects[uint16(*object.ID)]; exists {
				if _, exists := existing.Instances[uint16(*instance.ID)]; exists {
					return nil, invalidDefinition("duplicate instance /%d/%d", *object.ID, *instance.ID)
				}
			}
			for resourceIndex, declared := range instance.Resources {
				if declared.ID == nil {
					return nil, invalidDefinition("/%d/%d: resources[%d]: missing resource-id", *object.ID, *instance.ID, resourceIndex)
				}
				path := Path{Object: uint16(*object.ID), Instance: uint16(*instance.ID), Resource: uint16(*declared.ID)}
				resource, err := buildResource(path, declared)
				if err != nil {
					return nil, err
				}
				if err := tree.Add(path, resource); err != nil {
					return nil, invalidDefinition("%v", err)
				}
			}
		}
	}
	return tree, nil
}

func parseKeyed(top map[string]json.RawMessage) (*Tree, error) {
	tree := NewTree()
	for _, objectKey := range slices.Sorted(maps.Keys(top)) {
		objectID, err := parseID(objectKey)
		if err != nil {
			return nil, invalidDefinition("object key: %v", err)
		}
		if _, exists := tree.Objects[objectID]; exists {
			return nil, invalidDefinition("duplicate object %d", objectID)
		}
		var instances map[string]map[string]resourceDefinition
		if err := json.Unmarshal(top[objectKey], &instances); err != nil {
			return nil, invalidDefinition("object %d: %v", objectID, err)
		}
		if len(instances) == 0 {
			return nil, invalidDefinition("object %d has no instances", objectID)
		}
		for _, instanceKey := range slices.Sorted(maps.Keys(instances)) {
			instanceID, err := parseID(instanceKey)
			if err != nil {
				return nil, invalidDefinition("object %d: instance key: %v", objectID, err)
			}
			if object, exists := tree.Objects[objectID]; exists {
				if _, exists := object.Instances[instanceID]; exists {
					return nil, invalidDefinition("duplicate instance /%d/%d", objectID, instanceID)
				}
			}
			resources := instances[instanceKey]
			if len(resources) == 0 {
				return nil, invalidDefinition("/%d/%d has no resources", objectID, instanceID)
			}
			for _, resourceKey := range slices.Sorted(maps.Keys(resources)) {
				resourceID, err := parseID(resourceKey)
				if err != nil {
					return nil, invalidDefinition("/%d/%d: resource key: %v", objectID, instanceID, err)
				}
				declared := resources[resourceKey]
				if declared.ID != nil && uint16(*declared.ID) != resourceID {
					return nil, invalidDefinition("/%d/%d/%d: resource-id %d disagrees with its key",
						objectID, instanceID, resourceID, *declared.ID)
				}
				path := Path{Object: objectID, Instance: instanceID, Resource: resourceID}
				resource, err := buildResource(path, declared)
				if err != nil {
					return nil, err
				}
				if err := tree.Add(path, resource); err != nil {
					return nil, invalidDefinition("%v", err)
				}
			}
		}
	}
	return tree, nil
}

// ParseFile reads and parses a definition file.
func ParseFile(path string) (*Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading resource definition: %w", err)
	}
	return Parse(data)
}

func buildResource(path Path, declared resourceDefinition) (*Resource, error) {
	resourceType, err := ParseType(declared.Type)
	if err != nil {
		return nil, invalidDefinition("%s: %v", path, err)
	}
	operations, err := ParseOperations(declared.Operations)
	if err != nil {
		return nil, invalidDefinition("%s: %v", path, err)
	}
	resource := &Resource{Type: resourceType, Operations: operations, Observable: declared.Observable}
	if len(declared.Value) > 0 && string(declared.Value) != "null" {
		value, err := initialValue(resourceType, declared.Value)
		if err != nil {
			return nil, invalidDefinition("%s: initial value: %v", path, err)
		}
		resource.Value = value
	}
	return resource, nil
}

// initialValue decodes a JSON literal as a value of the declared type.
// Strings, booleans and numbers must match their JSON kind; opaque
// values are base64 strings and time values are Unix seconds.
func initialValue(resourceType Type, raw json.RawMessage) (Value, error) {
	switch resourceType {
	case TypeString:
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return Value{}, fmt.Errorf("want a string")
		}
		return StringValue(text), nil
	case TypeOpaque:
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return Value{}, fmt.Errorf("want a base64 string")
		}
		return ParseValue(TypeOpaque, text)
	case TypeBoolean:
		var flag bool
		if err := json.Unmarshal(raw, &flag); err != nil {
			return Value{}, fmt.Errorf("want a boolean")
		}
		return BooleanValue(flag), nil
	case TypeInteger, TypeTime:
		var number int64
		if err := json.Unmarshal(raw, &number); err != nil {
			return Value{}, fmt.Errorf("want an integer")
		}
		return Value{Type: resourceType, Integer: number}, nil
	case TypeFloat:
		var number float64
		if err := json.Unmarshal(raw, &number); err != nil {
			return Value{}, fmt.Errorf("want a number")
		}
		return FloatValue(number), nil
	default:
		return Value{}, fmt.Errorf("type %s has no values", resourceType)
	}
}
