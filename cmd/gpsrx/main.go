//go:build !tinygo && !baremetal

// Command gpsrx runs the receive pipeline on a host against a real serial
// port. Bytes read from the port drive a simulated UARTE, the receiver
// reassembles sentences, and a drain loop logs them and optionally forwards
// them to MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kabili207/gpsrx/core/sentence"
	"github.com/kabili207/gpsrx/device/uarte"
	"github.com/kabili207/gpsrx/device/uarte/sim"
	"github.com/kabili207/gpsrx/transport"
	"github.com/kabili207/gpsrx/transport/mqtt"
	"github.com/kabili207/gpsrx/transport/serial"
	"golang.org/x/sync/errgroup"
)

type options struct {
	port       string
	baud       uint
	drain      time.Duration
	mqttBroker string
	mqttPrefix string
	device     string
	debug      bool
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("gpsrx", flag.ContinueOnError)
	fs.StringVar(&o.port, "port", envOr("GPSRX_PORT", "/dev/ttyUSB0"), "Serial port the GPS receiver is attached to.")
	fs.UintVar(&o.baud, "baud", uarte.DefaultBaudRate, "Serial line rate.")
	fs.DurationVar(&o.drain, "drain", 100*time.Millisecond, "Interval between sentence ring drains.")
	fs.StringVar(&o.mqttBroker, "mqtt-broker", os.Getenv("GPSRX_MQTT_BROKER"), "MQTT broker URL. Sentences are only logged when empty.")
	fs.StringVar(&o.mqttPrefix, "mqtt-prefix", mqtt.DefaultTopicPrefix, "MQTT topic prefix.")
	fs.StringVar(&o.device, "device", envOr("GPSRX_DEVICE", hostname()), "Device ID used in the MQTT topic.")
	fs.BoolVar(&o.debug, "debug", false, "Enable debug logging.")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.drain <= 0 {
		return o, fmt.Errorf("drain interval must be positive, got %v", o.drain)
	}
	return o, nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "gpsrx"
	}
	return h
}

func main() {
	o, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	level := slog.LevelInfo
	if o.debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o, log); err != nil {
		log.Error("gpsrx failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o options, log *slog.Logger) error {
	u := sim.New()
	r := uarte.New(uarte.Config{
		BaudRate: uint32(o.baud),
		Logger:   log,
		OnDecodeError: func(frame []byte, err error) {
			log.Debug("dropped frame", "frame", frame, "error", err)
		},
	})
	u.SetInterruptHandler(r.HandleInterrupt)
	if err := r.Init(u); err != nil {
		return fmt.Errorf("initializing receiver: %w", err)
	}
	defer r.Close()

	src := serial.New(serial.Config{Port: o.port, BaudRate: int(o.baud), Logger: log})
	src.SetSink(u)

	var pub transport.Publisher
	if o.mqttBroker != "" {
		m := mqtt.New(mqtt.Config{
			Broker:      o.mqttBroker,
			TopicPrefix: o.mqttPrefix,
			DeviceID:    o.device,
			Logger:      log,
		})
		if err := m.Start(ctx); err != nil {
			return fmt.Errorf("starting mqtt: %w", err)
		}
		defer m.Stop()
		pub = m
	}

	g, ctx := errgroup.WithContext(ctx)
	lost := make(chan struct{})
	var once sync.Once
	src.SetStateHandler(func(_ transport.Transport, ev transport.Event) {
		if ev == transport.EventDisconnected {
			once.Do(func() { close(lost) })
		}
	})
	if err := src.Start(ctx); err != nil {
		return fmt.Errorf("starting serial: %w", err)
	}

	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-lost:
		}
		err := src.Stop()
		if ctx.Err() == nil {
			return errors.New("serial port disconnected")
		}
		return err
	})
	g.Go(func() error {
		drainLoop(ctx, r.Sentences(), pub, o.drain, log)
		return nil
	})

	err := g.Wait()
	logCounters(log, r, src)
	return err
}

// drainLoop empties the sentence ring every interval until ctx is done, then
// drains once more.
func drainLoop(ctx context.Context, ring *sentence.Ring, pub transport.Publisher, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			forward(ring, pub, log)
			return
		case <-ticker.C:
			forward(ring, pub, log)
		}
	}
}

// forward drains ready sentences oldest first, logging each and handing it
// to pub when set. It returns the number drained.
func forward(ring *sentence.Ring, pub transport.Publisher, log *slog.Logger) int {
	return ring.Drain(func(s sentence.Sentence) {
		log.Info("sentence", "seq", s.Seq, "slot", s.Slot, "text", s.String(), "truncated", s.Truncated)
		if pub == nil {
			return
		}
		if err := pub.Publish(s); err != nil {
			log.Debug("publish failed", "seq", s.Seq, "error", err)
		}
	})
}

func logCounters(log *slog.Logger, r *uarte.Receiver, src *serial.Transport) {
	c := r.Counters().Snapshot()
	st := r.Sentences().Stats()
	ss := src.Stats()
	log.Info("receiver stopped",
		"interrupts", c.Interrupts,
		"frames", c.FramesRelayed,
		"decode_errors", c.DecodeErrors,
		"rx_errors", c.RxErrors,
		"sentences", st.Sentences,
		"exhausted", st.Exhausted,
		"overflows", st.SlotOverflows,
		"serial_skipped", ss.Skipped,
		"serial_lost", ss.Lost,
	)
}
