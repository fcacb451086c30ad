// Package uarte drives the receive path of a GPS module attached to a
// DMA-capable UART (the nRF52 UARTE and compatible peripherals).
//
// Receiver ties the pieces together:
//   - Init configures the peripheral, primes the DMA ring, stores the
//     peripheral for the interrupt handler, then arms interrupts and starts
//     reception.
//   - HandleInterrupt services RXSTARTED, ERROR and ENDRX, in that order,
//     within one invocation.
//   - Completed frames go through the relay into the sentence ring, where a
//     consumer picks up ready sentences via Sentences().
//
// The peripheral lives in a single-owner cell. The handler takes it on entry
// and puts it back before returning, so main-context code that needs it must
// take it the same way and cannot touch registers mid-interrupt. Init and
// Close swap it in a single critical section. The one main-context access
// without ownership is Init writing INTENSET and STARTRX after the store;
// the handler never writes either register.
package uarte

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/kabili207/gpsrx/core/critical"
	"github.com/kabili207/gpsrx/core/dmaring"
	"github.com/kabili207/gpsrx/core/relay"
	"github.com/kabili207/gpsrx/core/sentence"
)

const (
	// DefaultBaudRate is the factory rate of most NMEA GPS modules.
	DefaultBaudRate = 9600
	// DefaultRxPin is the GPIO the GPS TX line is wired to.
	DefaultRxPin = 3
)

var (
	// ErrNoPeripheral is returned by Init when called without a peripheral.
	ErrNoPeripheral = errors.New("no peripheral")
	// ErrUnsupportedBaudRate is returned by peripherals for rates they
	// cannot generate.
	ErrUnsupportedBaudRate = errors.New("unsupported baud rate")
)

// Config configures a Receiver.
type Config struct {
	// BaudRate is the serial line rate. Default: 9600.
	BaudRate uint32
	// RxPin is the GPIO routed to the UARTE RX input. Default: 3.
	RxPin uint8
	// OnDecodeError is called from interrupt context for each frame rejected
	// as invalid text. Optional.
	OnDecodeError func(frame []byte, err error)
	// Logger for receive path events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Receiver owns the DMA ring, the sentence ring and the peripheral.
type Receiver struct {
	cfg       Config
	log       *slog.Logger
	frames    dmaring.Ring
	sentences sentence.Ring
	relay     *relay.Relay
	periph    critical.Cell[Peripheral]
	counters  Counters

	// frame holds the completed transfer being relayed. Only the interrupt
	// handler touches it.
	frame dmaring.Frame
}

// New creates a Receiver with the given configuration. Storage for both
// rings is allocated here, once.
func New(cfg Config) *Receiver {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.RxPin == 0 {
		cfg.RxPin = DefaultRxPin
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := &Receiver{
		cfg: cfg,
		log: cfg.Logger.WithGroup("uarte"),
	}
	r.relay = relay.New(countingSink{r}, relay.Options{
		OnDecodeError: r.onDecodeError,
	})
	return r
}

// Init brings the receive path up from its power-on state: both rings and
// all counters are reset, the peripheral is configured, the first DMA target
// is published and reception starts. Init is safe to call again; every call
// yields the same state.
//
// The baud rate is validated before anything else changes. If p rejects it,
// Init returns the error and a previously installed peripheral keeps running
// untouched. Otherwise the previous peripheral is disabled and swapped out in
// one critical section, and p is stored in the cell before its interrupts
// are armed, so the handler always finds it.
func (r *Receiver) Init(p Peripheral) error {
	if p == nil {
		return ErrNoPeripheral
	}

	var err error
	r.periph.Update(func(prev Peripheral, running bool) (Peripheral, bool) {
		if err = p.SetBaudRate(r.cfg.BaudRate); err != nil {
			return prev, running
		}
		if running {
			prev.Disable()
		}
		p.Disable()
		return nil, false
	})
	if err != nil {
		return fmt.Errorf("setting baud rate: %w", err)
	}

	r.frames.Reset()
	r.sentences.Reset()
	r.counters.Reset()

	p.SetRxPin(r.cfg.RxPin)
	p.SetEndRxStartRxShort(true)
	r.frames.AdvanceAndPublish(p)
	p.SetRxMaxCount(dmaring.FrameSize)
	p.Enable()

	r.periph.Put(p)

	// From here on the handler may run at any time.
	p.EnableInterrupts(RxEvents)
	p.StartRx()

	r.log.Info("receiver started", "baud", r.cfg.BaudRate, "rx_pin", r.cfg.RxPin)
	return nil
}

// Close disables the peripheral and takes it back from the interrupt
// handler in one critical section. Ready sentences remain readable.
func (r *Receiver) Close() error {
	var stopped bool
	r.periph.Update(func(p Peripheral, running bool) (Peripheral, bool) {
		if running {
			p.Disable()
		}
		stopped = running
		return nil, false
	})
	if stopped {
		r.log.Info("receiver stopped")
	}
	return nil
}

// HandleInterrupt is the UARTE interrupt handler. Pending events are
// serviced in priority order: RXSTARTED, ERROR, ENDRX. It always returns
// normally, never allocates and never logs; outcomes are recorded in the
// counters.
func (r *Receiver) HandleInterrupt() {
	p, ok := r.periph.Take()
	if !ok {
		// No peripheral is installed, so nothing is armed.
		r.counters.Contended.Add(1)
		return
	}
	defer r.periph.Put(p)

	r.counters.Interrupts.Add(1)

	if p.Pending(EventRxStarted) {
		r.frames.AdvanceAndPublish(p)
		p.ClearEvent(EventRxStarted)
		r.counters.RxStarted.Add(1)
	}

	if p.Pending(EventError) {
		p.FlushRx()
		p.ClearEvent(EventError)
		r.counters.RxErrors.Add(1)
	}

	if p.Pending(EventEndRx) {
		r.frame, _ = r.frames.Consume()
		err := r.relay.Relay(r.frame[:])
		p.ClearEvent(EventEndRx)
		if !errors.Is(err, relay.ErrInvalidText) {
			r.counters.FramesRelayed.Add(1)
		}
	}
}

// Sentences returns the sentence ring for the consumer.
func (r *Receiver) Sentences() *sentence.Ring {
	return &r.sentences
}

// Frames returns the DMA ring.
func (r *Receiver) Frames() *dmaring.Ring {
	return &r.frames
}

// Counters returns the receive path counters.
func (r *Receiver) Counters() *Counters {
	return &r.counters
}

func (r *Receiver) onDecodeError(frame []byte, err error) {
	r.counters.DecodeErrors.Add(1)
	if r.cfg.OnDecodeError != nil {
		r.cfg.OnDecodeError(frame, err)
	}
}

// countingSink feeds the sentence ring and counts its failures.
type countingSink struct {
	r *Receiver
}

func (s countingSink) Feed(b byte) error {
	err := s.r.sentences.Feed(b)
	switch {
	case err == nil:
	case errors.Is(err, sentence.ErrRingExhausted):
		s.r.counters.RingExhausted.Add(1)
	case errors.Is(err, sentence.ErrSlotOverflow):
		s.r.counters.OverflowBytes.Add(1)
	}
	return err
}
