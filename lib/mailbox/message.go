// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mailbox

import "fmt"

// Message is the payload carried by the mailbox. The set of message
// kinds is closed: Exit and Raw are the only implementations.
type Message interface {
	// Kind names the message kind for logging.
	Kind() string

	isMessage()
}

// Exit asks the receiving loop to stop with Reason.
type Exit struct {
	Reason int
}

// Kind implements Message.
func (Exit) Kind() string { return "exit" }

func (Exit) isMessage() {}

// Raw carries opaque bytes. Used by diagnostics and tests to exercise
// the channel without side effects on the receiver.
type Raw struct {
	Data []byte
}

// Kind implements Message.
func (Raw) Kind() string { return "raw" }

func (Raw) isMessage() {}

// Envelope is a Message as delivered to the receiver.
type Envelope struct {
	// Sequence is assigned by Send. The first message sent through a
	// mailbox has sequence 1.
	Sequence uint64

	Message Message
}

func (e Envelope) String() string {
	return fmt.Sprintf("%s#%d", e.Message.Kind(), e.Sequence)
}
