//go:build !tinygo && !baremetal

// Package sim models a UARTE peripheral with EasyDMA on the host.
//
// The model follows the nRF52 behaviour the receiver relies on: STARTRX
// latches RXD.PTR and raises RXSTARTED, received bytes land in the latched
// buffer, ENDRX fires when RXD.MAXCNT bytes have arrived, and with the
// ENDRX->STARTRX short the next transfer starts at once on whatever RXD.PTR
// holds by then. FLUSHRX discards the partial transfer.
//
// The interrupt line is level triggered. Events raised while a handler is
// not running stay pending; Service runs the handler for as long as an armed
// event is pending and the handler makes progress. Receive services pending
// interrupts before every byte, modelling an interrupt latency shorter than
// one character time.
package sim

import (
	"slices"
	"sync"

	"github.com/kabili207/gpsrx/device/uarte"
)

// Compile-time interface check.
var _ uarte.Peripheral = (*UARTE)(nil)

// maxServicePasses bounds Service when a handler keeps an event pending.
const maxServicePasses = 8

// baudRates are the rates the nRF52 UARTE BAUDRATE register can produce.
var baudRates = []uint32{
	1200, 2400, 4800, 9600, 14400, 19200, 28800, 31250, 38400,
	56000, 57600, 76800, 115200, 230400, 250000, 460800, 921600, 1000000,
}

// UARTE is a simulated UARTE peripheral. All methods are safe for concurrent
// use, but bytes must be delivered from a single goroutine.
type UARTE struct {
	mu      sync.Mutex
	enabled bool
	baud    uint32
	pin     uint8
	ptr     []byte // RXD.PTR
	maxcnt  int    // RXD.MAXCNT
	short   bool   // SHORTS.ENDRX_STARTRX
	inten   uarte.EventMask
	events  [3]bool
	handler func()

	active  []byte // buffer of the transfer in progress
	fill    int
	running bool
	amount  int // RXD.AMOUNT of the last transfer

	flushes int
	dropped int
}

// New returns a powered-off simulated UARTE.
func New() *UARTE {
	return &UARTE{}
}

// SetInterruptHandler attaches the handler run by Service, the equivalent of
// registering the peripheral's IRQ.
func (u *UARTE) SetInterruptHandler(fn func()) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.handler = fn
}

func (u *UARTE) Enable() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.enabled = true
}

func (u *UARTE) Disable() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.enabled = false
	u.inten = 0
	u.running = false
	u.active = nil
	u.fill = 0
}

func (u *UARTE) SetBaudRate(baud uint32) error {
	if !slices.Contains(baudRates, baud) {
		return uarte.ErrUnsupportedBaudRate
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.baud = baud
	return nil
}

func (u *UARTE) SetRxPin(pin uint8) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.pin = pin
}

func (u *UARTE) SetRxPointer(buf []byte) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.ptr = buf
}

func (u *UARTE) SetRxMaxCount(n int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.maxcnt = n
}

func (u *UARTE) SetEndRxStartRxShort(enabled bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.short = enabled
}

func (u *UARTE) EnableInterrupts(mask uarte.EventMask) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.inten |= mask
}

func (u *UARTE) StartRx() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.startLocked()
}

// startLocked latches RXD.PTR and RXD.MAXCNT for a new transfer.
func (u *UARTE) startLocked() {
	if !u.enabled {
		return
	}
	n := min(u.maxcnt, len(u.ptr))
	u.active = u.ptr[:n]
	u.fill = 0
	u.running = n > 0
	u.events[uarte.EventRxStarted] = true
}

func (u *UARTE) Pending(ev uarte.Event) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return int(ev) < len(u.events) && u.events[ev]
}

func (u *UARTE) ClearEvent(ev uarte.Event) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if int(ev) < len(u.events) {
		u.events[ev] = false
	}
}

func (u *UARTE) FlushRx() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.fill = 0
	u.flushes++
}

// InjectError raises the ERROR event, as a framing or overrun error would.
func (u *UARTE) InjectError() {
	u.mu.Lock()
	u.events[uarte.EventError] = true
	u.mu.Unlock()
	u.Service()
}

// Receive delivers bytes on the RX line and returns how many were written to
// a DMA buffer. Bytes arriving while no transfer is running are lost, as on
// the hardware.
func (u *UARTE) Receive(data []byte) int {
	n := 0
	for _, b := range data {
		u.Service()

		u.mu.Lock()
		if !u.enabled || !u.running {
			u.dropped++
			u.mu.Unlock()
			continue
		}
		u.active[u.fill] = b
		u.fill++
		n++
		if u.fill == len(u.active) {
			u.amount = u.fill
			u.running = false
			u.events[uarte.EventEndRx] = true
			if u.short {
				u.startLocked()
			}
		}
		u.mu.Unlock()
	}
	u.Service()
	return n
}

// Service runs the interrupt handler while an armed event is pending. It
// stops early if a pass leaves the event flags unchanged; real hardware
// would keep re-entering the handler instead.
func (u *UARTE) Service() {
	for range maxServicePasses {
		u.mu.Lock()
		fn := u.handler
		asserted := u.assertedLocked()
		before := u.events
		u.mu.Unlock()

		if fn == nil || !asserted {
			return
		}
		fn()

		u.mu.Lock()
		after := u.events
		u.mu.Unlock()
		if after == before {
			return
		}
	}
}

func (u *UARTE) assertedLocked() bool {
	for ev, pending := range u.events {
		if pending && u.inten.Has(uarte.Event(ev)) {
			return true
		}
	}
	return false
}

// Enabled reports whether the peripheral is switched on.
func (u *UARTE) Enabled() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.enabled
}

// BaudRate returns the configured line rate.
func (u *UARTE) BaudRate() uint32 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.baud
}

// RxPin returns the routed RX pin.
func (u *UARTE) RxPin() uint8 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.pin
}

// MaxCount returns RXD.MAXCNT.
func (u *UARTE) MaxCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.maxcnt
}

// Amount returns RXD.AMOUNT, the length of the last completed transfer.
func (u *UARTE) Amount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.amount
}

// Short reports whether the ENDRX->STARTRX short is enabled.
func (u *UARTE) Short() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.short
}

// InterruptMask returns the armed interrupt sources.
func (u *UARTE) InterruptMask() uarte.EventMask {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.inten
}

// Flushes returns how many times FLUSHRX was triggered.
func (u *UARTE) Flushes() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.flushes
}

// Dropped returns how many bytes arrived with no transfer running.
func (u *UARTE) Dropped() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.dropped
}
