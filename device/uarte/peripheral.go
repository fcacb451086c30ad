package uarte

import "github.com/kabili207/gpsrx/core/dmaring"

// Event is a UARTE event flag serviced by the interrupt handler.
type Event uint8

const (
	// EventRxStarted fires when a DMA transfer starts and RXD.PTR may be
	// updated for the next one.
	EventRxStarted Event = iota
	// EventError fires on a framing, parity, break or overrun error.
	EventError
	// EventEndRx fires when the RX buffer has been filled.
	EventEndRx

	numEvents
)

func (e Event) String() string {
	switch e {
	case EventRxStarted:
		return "rxstarted"
	case EventError:
		return "error"
	case EventEndRx:
		return "endrx"
	default:
		return "unknown"
	}
}

// EventMask is a set of events, used to arm interrupt sources.
type EventMask uint8

// Mask returns the mask containing only e.
func (e Event) Mask() EventMask { return 1 << e }

// Has reports whether e is in m.
func (m EventMask) Has(e Event) bool { return m&e.Mask() != 0 }

// RxEvents is the set of interrupt sources the receiver arms.
const RxEvents = EventMask(1<<EventRxStarted | 1<<EventError | 1<<EventEndRx)

// Peripheral is the register surface of a DMA-capable UART receiver.
// Implementations are register shims: every method is a handful of register
// accesses and never blocks.
type Peripheral interface {
	dmaring.Target

	// Enable and Disable switch the peripheral on and off.
	Enable()
	Disable()
	// SetBaudRate selects the line rate. Rates the hardware cannot produce
	// return an error.
	SetBaudRate(baud uint32) error
	// SetRxPin routes the RX signal to a GPIO.
	SetRxPin(pin uint8)
	// SetRxMaxCount sets the DMA transfer length (RXD.MAXCNT).
	SetRxMaxCount(n int)
	// SetEndRxStartRxShort makes the hardware start the next transfer as soon
	// as one ends.
	SetEndRxStartRxShort(enabled bool)
	// EnableInterrupts arms the given sources and unmasks the interrupt line.
	EnableInterrupts(mask EventMask)
	// StartRx triggers the STARTRX task.
	StartRx()
	// Pending reads an event flag.
	Pending(ev Event) bool
	// ClearEvent resets an event flag.
	ClearEvent(ev Event)
	// FlushRx triggers the FLUSHRX task, discarding a partial transfer.
	FlushRx()
}
