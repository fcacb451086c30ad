// Package relay moves the contents of completed DMA frames into the
// sentence ring.
//
// A frame is accepted only if it is valid UTF-8 as a whole. Invalid frames
// are dropped entirely: nothing is forwarded and the diagnostic hook fires
// once. Multi-byte characters split across a frame boundary are therefore
// rejected; GPS sentences are ASCII so this does not occur on a healthy link.
//
// Relay runs in interrupt context on the device and does not allocate: it
// returns sentinel errors as they are and never logs.
package relay

import (
	"errors"
	"unicode/utf8"
)

// ErrInvalidText is returned for frames that are not valid UTF-8.
var ErrInvalidText = errors.New("frame is not valid text")

// Sink receives relayed bytes one at a time.
type Sink interface {
	Feed(b byte) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(b byte) error

// Feed implements Sink.
func (f SinkFunc) Feed(b byte) error { return f(b) }

// Options configures a Relay.
type Options struct {
	// OnDecodeError is called once for every rejected frame. It runs in the
	// caller's context (interrupt context on the device) and must not block.
	// The frame is only valid for the duration of the call.
	OnDecodeError func(frame []byte, err error)
}

// Relay forwards frame bytes to a Sink.
type Relay struct {
	sink Sink
	opts Options
}

// New creates a Relay feeding sink.
func New(sink Sink, opts Options) *Relay {
	return &Relay{
		sink: sink,
		opts: opts,
	}
}

// Relay forwards every byte of frame to the sink in order. If frame is not
// valid text, nothing is forwarded and ErrInvalidText is returned. Errors
// from the sink do not stop the frame; the first one is returned once every
// byte has been offered.
func (r *Relay) Relay(frame []byte) error {
	if !utf8.Valid(frame) {
		if r.opts.OnDecodeError != nil {
			r.opts.OnDecodeError(frame, ErrInvalidText)
		}
		return ErrInvalidText
	}

	var first error
	for _, b := range frame {
		if err := r.sink.Feed(b); err != nil && first == nil {
			first = err
		}
	}
	return first
}
