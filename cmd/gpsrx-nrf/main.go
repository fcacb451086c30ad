//go:build tinygo

// Command gpsrx-nrf is the nRF52 firmware: it receives NMEA sentences on
// UARTE0 and echoes them on the console.
package main

import (
	"device/nrf"
	"log/slog"
	"machine"
	"runtime/interrupt"
	"time"

	"github.com/kabili207/gpsrx/core/sentence"
	"github.com/kabili207/gpsrx/device/uarte"
	"github.com/kabili207/gpsrx/device/uarte/nrf52"
)

// drainInterval must stay well below the time the sentence ring takes to
// fill, roughly 0.7s of NMEA traffic at 9600 baud.
const drainInterval = 100 * time.Millisecond

var receiver *uarte.Receiver

func handleUARTE(interrupt.Interrupt) {
	receiver.HandleInterrupt()
}

func main() {
	log := slog.New(slog.NewTextHandler(machine.Serial, &slog.HandlerOptions{Level: slog.LevelInfo}))

	receiver = uarte.New(uarte.Config{Logger: log})

	p := nrf52.New()
	p.Interrupt = interrupt.New(nrf.IRQ_UARTE0_UART0, handleUARTE)
	p.Interrupt.SetPriority(0xc0)

	if err := receiver.Init(p); err != nil {
		log.Error("receiver init failed", "error", err)
		for {
			time.Sleep(time.Second)
		}
	}

	for {
		receiver.Sentences().Drain(func(s sentence.Sentence) {
			machine.Serial.Write(s.Raw())
		})
		time.Sleep(drainInterval)
	}
}
