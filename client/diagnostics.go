package client

import (
	"sync"

	"github.com/tabstream/go-tabstream/protocol"
)

const (
	// severityWarningMax is the highest severity still treated as a
	// warning. At or below, messages accumulate and never raise.
	severityWarningMax = 10

	// severityFatalMin is the severity at which the connection is
	// considered broken.
	severityFatalMin = 20
)

// Diagnostics collects the server messages of one operation and maps
// severity to outcome:
//
//	severity   category      effect
//	0 to 10    warning       accumulated, never raised
//	11 to 16   recoverable   statement aborted, session stays usable
//	17 to 19   resource      statement aborted, session stays usable
//	20 to 24+  fatal         session unusable, must not return to a pool
//
// All messages of the current operation are retained for inspection,
// whether or not one of them raised.
type Diagnostics struct {
	mu       sync.Mutex
	messages []protocol.Message
}

// NewDiagnostics creates an empty diagnostics collector.
func NewDiagnostics() *Diagnostics {
	return &Diagnostics{}
}

// Reset discards the previous operation's messages. Called at the start
// of each new operation.
func (d *Diagnostics) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = nil
}

// Absorb records a batch of messages and classifies them. Warnings are
// only accumulated. If any message exceeds warning severity, the highest
// severity one (the first, on ties) is returned as a typed error; the
// rest remain inspectable through Messages.
func (d *Diagnostics) Absorb(msgs ...protocol.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	d.mu.Lock()
	d.messages = append(d.messages, msgs...)
	d.mu.Unlock()

	var raised *protocol.Message
	for i := range msgs {
		m := &msgs[i]
		if m.Severity <= severityWarningMax {
			continue
		}
		if raised == nil || m.Severity > raised.Severity {
			raised = m
		}
	}

	if raised == nil {
		return nil
	}
	return classify(*raised)
}

// classify maps one raised message to its typed error.
func classify(msg protocol.Message) error {
	if msg.Severity >= severityFatalMin {
		return NewFatalConnectionError(msg)
	}
	return NewServerError(msg)
}

// Messages returns a copy of every message from the current operation,
// in arrival order.
func (d *Diagnostics) Messages() []protocol.Message {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]protocol.Message, len(d.messages))
	copy(out, d.messages)
	return out
}

// Warnings returns the warning-severity subset of the current
// operation's messages.
func (d *Diagnostics) Warnings() []protocol.Message {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []protocol.Message
	for _, m := range d.messages {
		if m.Severity <= severityWarningMax {
			out = append(out, m)
		}
	}
	return out
}
