// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import "fmt"

// ValidateSignature checks that signature is a sequence of complete
// types. The empty signature is valid and means "no arguments".
func ValidateSignature(signature string) error {
	_, err := SplitSignature(signature)
	return err
}

// SplitSignature returns the complete types of signature in order:
// "sa(sv)" splits into "s" and "a(sv)".
func SplitSignature(signature string) ([]string, error) {
	var types []string
	for position := 0; position < len(signature); {
		end, err := completeType(signature, position, 0)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", signature, err)
		}
		types = append(types, signature[position:end])
		position = end
	}
	return types, nil
}

// maxSignatureDepth bounds array and struct nesting.
const maxSignatureDepth = 32

// completeType returns the index just past the complete type starting
// at position.
func completeType(signature string, position, depth int) (int, error) {
	if depth > maxSignatureDepth {
		return 0, fmt.Errorf("nesting deeper than %d: %w", maxSignatureDepth, ErrInvalidSignature)
	}
	if position >= len(signature) {
		return 0, fmt.Errorf("truncated type: %w", ErrInvalidSignature)
	}
	switch code := signature[position]; code {
	case 's', 'i', 'u', 'x', 't', 'd', 'b', 'y', 'v':
		return position + 1, nil
	case 'a':
		return completeType(signature, position+1, depth+1)
	case '(':
		next := position + 1
		if next < len(signature) && signature[next] == ')' {
			return 0, fmt.Errorf("empty struct at %d: %w", position, ErrInvalidSignature)
		}
		for next < len(signature) && signature[next] != ')' {
			end, err := completeType(signature, next, depth+1)
			if err != nil {
				return 0, err
			}
			next = end
		}
		if next >= len(signature) {
			return 0, fmt.Errorf("unterminated struct at %d: %w", position, ErrInvalidSignature)
		}
		return next + 1, nil
	default:
		return 0, fmt.Errorf("unknown type code %q at %d: %w", code, position, ErrInvalidSignature)
	}
}
