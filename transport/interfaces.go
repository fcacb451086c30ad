// Package transport provides the byte sources that feed a receiver and the
// publishers that forward reassembled sentences.
package transport

import (
	"context"

	"github.com/kabili207/gpsrx/core/sentence"
)

// Transport is the base interface for all transport implementations.
type Transport interface {
	// Start opens the transport. The provided context controls its lifetime.
	Start(ctx context.Context) error
	// Stop gracefully shuts down the transport.
	Stop() error
	// IsConnected returns true if the transport is currently connected.
	IsConnected() bool
	// SetStateHandler sets the callback for transport state changes.
	SetStateHandler(fn StateHandler)
}

// LineSink accepts bytes arriving on a UART RX line and returns how many it
// kept. The simulated UARTE is a LineSink.
type LineSink interface {
	Receive(data []byte) int
}

// Source is a transport that delivers received bytes to a LineSink.
type Source interface {
	Transport
	// SetSink sets where received bytes are delivered. It must be called
	// before Start.
	SetSink(sink LineSink)
}

// Publisher is a transport that forwards sentences downstream.
type Publisher interface {
	Transport
	// Publish sends one sentence, marker included.
	Publish(s sentence.Sentence) error
}

// StateHandler is called when the transport state changes.
type StateHandler func(transport Transport, event Event)

// Event represents transport state change events.
type Event int

const (
	// EventConnected is fired when the transport connects.
	EventConnected Event = iota
	// EventDisconnected is fired when the transport disconnects.
	EventDisconnected
	// EventReconnecting is fired when the transport is attempting to reconnect.
	EventReconnecting
	// EventError is fired when an error occurs.
	EventError
)

func (e Event) String() string {
	switch e {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventReconnecting:
		return "reconnecting"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}
