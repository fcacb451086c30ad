//go:build tinygo || baremetal

// Package nrf52 drives the nRF52 UARTE peripheral registers for the receiver.
package nrf52

import (
	"runtime/interrupt"
	"unsafe"

	"github.com/kabili207/gpsrx/device/uarte"

	"device/nrf"
)

var _ uarte.Peripheral = (*UARTE)(nil)

var baudRates = map[uint32]uint32{
	1200:    nrf.UARTE_BAUDRATE_BAUDRATE_Baud1200,
	2400:    nrf.UARTE_BAUDRATE_BAUDRATE_Baud2400,
	4800:    nrf.UARTE_BAUDRATE_BAUDRATE_Baud4800,
	9600:    nrf.UARTE_BAUDRATE_BAUDRATE_Baud9600,
	14400:   nrf.UARTE_BAUDRATE_BAUDRATE_Baud14400,
	19200:   nrf.UARTE_BAUDRATE_BAUDRATE_Baud19200,
	28800:   nrf.UARTE_BAUDRATE_BAUDRATE_Baud28800,
	31250:   nrf.UARTE_BAUDRATE_BAUDRATE_Baud31250,
	38400:   nrf.UARTE_BAUDRATE_BAUDRATE_Baud38400,
	56000:   nrf.UARTE_BAUDRATE_BAUDRATE_Baud56000,
	57600:   nrf.UARTE_BAUDRATE_BAUDRATE_Baud57600,
	76800:   nrf.UARTE_BAUDRATE_BAUDRATE_Baud76800,
	115200:  nrf.UARTE_BAUDRATE_BAUDRATE_Baud115200,
	230400:  nrf.UARTE_BAUDRATE_BAUDRATE_Baud230400,
	250000:  nrf.UARTE_BAUDRATE_BAUDRATE_Baud250000,
	460800:  nrf.UARTE_BAUDRATE_BAUDRATE_Baud460800,
	921600:  nrf.UARTE_BAUDRATE_BAUDRATE_Baud921600,
	1000000: nrf.UARTE_BAUDRATE_BAUDRATE_Baud1M,
}

// UARTE is a register shim over one UARTE instance.
type UARTE struct {
	Bus *nrf.UARTE_Type
	// Interrupt is the NVIC line of Bus. When set, EnableInterrupts also
	// enables the line.
	Interrupt interrupt.Interrupt
}

// New returns a shim for UARTE0.
func New() *UARTE {
	return &UARTE{Bus: nrf.UARTE0}
}

func (u *UARTE) Enable() {
	u.Bus.ENABLE.Set(nrf.UARTE_ENABLE_ENABLE_Enabled)
}

func (u *UARTE) Disable() {
	u.Bus.INTENCLR.Set(0xFFFFFFFF)
	u.Bus.TASKS_STOPRX.Set(1)
	u.Bus.ENABLE.Set(nrf.UARTE_ENABLE_ENABLE_Disabled)
}

func (u *UARTE) SetBaudRate(baud uint32) error {
	v, ok := baudRates[baud]
	if !ok {
		return uarte.ErrUnsupportedBaudRate
	}
	u.Bus.BAUDRATE.Set(v)
	return nil
}

func (u *UARTE) SetRxPin(pin uint8) {
	u.Bus.PSEL.RXD.Set(uint32(pin))
}

func (u *UARTE) SetRxPointer(buf []byte) {
	u.Bus.RXD.PTR.Set(uint32(uintptr(unsafe.Pointer(&buf[0]))))
}

func (u *UARTE) SetRxMaxCount(n int) {
	u.Bus.RXD.MAXCNT.Set(uint32(n))
}

func (u *UARTE) SetEndRxStartRxShort(enabled bool) {
	if enabled {
		u.Bus.SHORTS.SetBits(nrf.UARTE_SHORTS_ENDRX_STARTRX)
	} else {
		u.Bus.SHORTS.ClearBits(nrf.UARTE_SHORTS_ENDRX_STARTRX)
	}
}

func (u *UARTE) EnableInterrupts(mask uarte.EventMask) {
	var bits uint32
	if mask.Has(uarte.EventRxStarted) {
		bits |= nrf.UARTE_INTENSET_RXSTARTED
	}
	if mask.Has(uarte.EventError) {
		bits |= nrf.UARTE_INTENSET_ERROR
	}
	if mask.Has(uarte.EventEndRx) {
		bits |= nrf.UARTE_INTENSET_ENDRX
	}
	u.Bus.INTENSET.Set(bits)
	if u.Interrupt != (interrupt.Interrupt{}) {
		u.Interrupt.Enable()
	}
}

func (u *UARTE) StartRx() {
	u.Bus.TASKS_STARTRX.Set(1)
}

func (u *UARTE) Pending(ev uarte.Event) bool {
	switch ev {
	case uarte.EventRxStarted:
		return u.Bus.EVENTS_RXSTARTED.Get() != 0
	case uarte.EventError:
		return u.Bus.EVENTS_ERROR.Get() != 0
	case uarte.EventEndRx:
		return u.Bus.EVENTS_ENDRX.Get() != 0
	}
	return false
}

func (u *UARTE) ClearEvent(ev uarte.Event) {
	switch ev {
	case uarte.EventRxStarted:
		u.Bus.EVENTS_RXSTARTED.Set(0)
	case uarte.EventError:
		// ERRORSRC is write-one-to-clear.
		u.Bus.ERRORSRC.Set(u.Bus.ERRORSRC.Get())
		u.Bus.EVENTS_ERROR.Set(0)
	case uarte.EventEndRx:
		u.Bus.EVENTS_ENDRX.Set(0)
	}
}

func (u *UARTE) FlushRx() {
	u.Bus.TASKS_FLUSHRX.Set(1)
}
