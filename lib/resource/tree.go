// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package resource

import (
	"errors"
	"fmt"
	"sort"
)

// Errors returned by Tree lookups and updates.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrTypeMismatch = errors.New("resource type mismatch")
	ErrInvalidValue = errors.New("invalid resource value")
)

// Resource is a leaf of the tree.
type Resource struct {
	ID         uint16
	Type       Type
	Operations Operations
	Observable bool
	Value      Value
}

// Instance is one instance of an object.
type Instance struct {
	ID        uint16
	Resources map[uint16]*Resource
}

// Object groups the instances of one object id.
type Object struct {
	ID        uint16
	Instances map[uint16]*Instance
}

// Tree is the resource hierarchy of one registration.
type Tree struct {
	Objects map[uint16]*Object
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{Objects: make(map[uint16]*Object)}
}

// Add inserts a resource at path, creating its object and instance as
// needed. Adding a path twice is an error.
func (t *Tree) Add(path Path, resource *Resource) error {
	object, exists := t.Objects[path.Object]
	if !exists {
		object = &Object{ID: path.Object, Instances: make(map[uint16]*Instance)}
		t.Objects[path.Object] = object
	}
	instance, exists := object.Instances[path.Instance]
	if !exists {
		instance = &Instance{ID: path.Instance, Resources: make(map[uint16]*Resource)}
		object.Instances[path.Instance] = instance
	}
	if _, exists := instance.Resources[path.Resource]; exists {
		return fmt.Errorf("duplicate resource %s", path)
	}
	resource.ID = path.Resource
	if resource.Value.Type == TypeNone {
		resource.Value = ZeroValue(resource.Type)
	}
	instance.Resources[path.Resource] = resource
	return nil
}

// Lookup returns the resource at path.
func (t *Tree) Lookup(path Path) (*Resource, error) {
	object, exists := t.Objects[path.Object]
	if !exists {
		return nil, fmt.Errorf("%s: object %d: %w", path, path.Object, ErrNotFound)
	}
	instance, exists := object.Instances[path.Instance]
	if !exists {
		return nil, fmt.Errorf("%s: instance %d: %w", path, path.Instance, ErrNotFound)
	}
	resource, exists := instance.Resources[path.Resource]
	if !exists {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return resource, nil
}

// Get returns the value at path, which must be declared as want.
func (t *Tree) Get(path Path, want Type) (Value, error) {
	resource, err := t.Lookup(path)
	if err != nil {
		return Value{}, err
	}
	if resource.Type != want {
		return Value{}, fmt.Errorf("%s is %s, requested %s: %w", path, resource.Type, want, ErrTypeMismatch)
	}
	return resource.Value, nil
}

// Set replaces the value at path. The value's type must equal the
// resource's declared type.
func (t *Tree) Set(path Path, value Value) error {
	resource, err := t.Lookup(path)
	if err != nil {
		return err
	}
	if value.Type == TypeNone {
		return fmt.Errorf("%s: untyped value: %w", path, ErrInvalidValue)
	}
	if resource.Type != value.Type {
		return fmt.Errorf("%s is %s, value is %s: %w", path, resource.Type, value.Type, ErrTypeMismatch)
	}
	if value.Type == TypeOpaque {
		value.Opaque = append([]byte(nil), value.Opaque...)
	}
	resource.Value = value
	return nil
}

// Paths returns every resource path in ascending order.
func (t *Tree) Paths() []Path {
	var paths []Path
	for objectID, object := range t.Objects {
		for instanceID, instance := range object.Instances {
			for resourceID := range instance.Resources {
				paths = append(paths, Path{Object: objectID, Instance: instanceID, Resource: resourceID})
			}
		}
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i].Less(paths[j]) })
	return paths
}

// Len returns the number of resources in the tree.
func (t *Tree) Len() int {
	count := 0
	for _, object := range t.Objects {
		for _, instance := range object.Instances {
			count += len(instance.Resources)
		}
	}
	return count
}
