// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package resource models the object/instance/resource tree a client
// application publishes through the broker, and parses the declarative
// definition the client sends at registration.
//
// The tree mirrors the device-management data model: objects contain
// instances, instances contain resources, and every resource has a
// declared [Type]. Resources are addressed by three-level paths such as
// "/8888/11/111".
//
// Definitions are JSON, authored as JSONC (comments and trailing commas
// are stripped before decoding):
//
//	{
//	    "objects": [{
//	        "object-id": "8888",
//	        "object-instances": [{
//	            "object-instance-id": 11,
//	            "resources": [
//	                {"resource-id": 111, "resource-type": "string", "value": "on"},
//	                {"resource-id": 112, "resource-type": "integer", "operations": "get"},
//	            ],
//	        }],
//	    }],
//	}
//
// Ids may be JSON numbers or numeric strings. [Parse] returns a
// *[ParseError] whose Code tells malformed JSON apart from a
// well-formed but invalid definition.
//
// Trees are not safe for concurrent use; the broker only touches them
// on its reactor goroutine.
package resource
