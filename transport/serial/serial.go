// Package serial provides a serial byte source for a GPS receiver.
//
// The transport reads the receiver's serial line with go.bug.st/serial and
// delivers the bytes to a transport.LineSink, normally the simulated UARTE.
// Until the first sentence marker is seen, bytes are dropped so the sink
// starts on a sentence boundary.
package serial

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/kabili207/gpsrx/core/sentence"
	"github.com/kabili207/gpsrx/transport"
	"go.bug.st/serial"
)

// Compile-time interface check.
var _ transport.Source = (*Transport)(nil)

const (
	// DefaultBaudRate is the NMEA 0183 line rate.
	DefaultBaudRate = 9600

	// readBufSize is the size of the serial read buffer.
	readBufSize = 256
)

var (
	// ErrNoPort is returned by Start when no port is configured.
	ErrNoPort = errors.New("serial port is required")
	// ErrNoSink is returned by Start when no sink is set.
	ErrNoSink = errors.New("no line sink set")
)

// Config holds the configuration for a serial transport.
type Config struct {
	// Port is the serial port path (e.g., "/dev/ttyUSB0" or "COM3").
	Port string
	// BaudRate is the serial baud rate. Defaults to 9600.
	BaudRate int
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Stats counts bytes that never reached the sink.
type Stats struct {
	// Skipped is the number of bytes dropped before the first marker.
	Skipped uint64
	// Lost is the number of bytes the sink did not accept.
	Lost uint64
}

// Transport implements transport.Source over a serial connection.
type Transport struct {
	cfg          Config
	port         serial.Port
	log          *slog.Logger
	mu           sync.RWMutex
	connected    bool
	cancel       context.CancelFunc
	done         chan struct{}
	sink         transport.LineSink
	stateHandler transport.StateHandler

	// synced is owned by the read loop.
	synced  bool
	skipped atomic.Uint64
	lost    atomic.Uint64
}

// New creates a new serial transport with the given configuration.
func New(cfg Config) *Transport {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Transport{
		cfg: cfg,
		log: cfg.Logger.WithGroup("serial"),
	}
}

// Start opens the serial port and begins delivering bytes to the sink.
func (t *Transport) Start(ctx context.Context) error {
	if t.cfg.Port == "" {
		return ErrNoPort
	}
	t.mu.RLock()
	sink := t.sink
	t.mu.RUnlock()
	if sink == nil {
		return ErrNoSink
	}

	mode := &serial.Mode{
		BaudRate: t.cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(t.cfg.Port, mode)
	if err != nil {
		return fmt.Errorf("opening serial port: %w", err)
	}

	t.mu.Lock()
	t.port = port
	t.connected = true
	t.synced = false
	t.done = make(chan struct{})
	handler := t.stateHandler
	done := t.done
	t.mu.Unlock()

	readCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	go t.readLoop(readCtx, port, done)

	t.log.Info("connected to serial port", "port", t.cfg.Port, "baud", t.cfg.BaudRate)

	if handler != nil {
		handler(t, transport.EventConnected)
	}

	return nil
}

// Stop closes the serial port and stops the read loop.
func (t *Transport) Stop() error {
	t.mu.Lock()
	handler := t.stateHandler
	t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
	}

	t.mu.Lock()
	t.connected = false
	port := t.port
	t.port = nil
	done := t.done
	t.mu.Unlock()

	var err error
	if port != nil {
		err = port.Close()
	}

	// Wait for read loop to finish
	if done != nil {
		<-done
	}

	if handler != nil {
		handler(t, transport.EventDisconnected)
	}

	return err
}

// IsConnected returns true if the serial port is open.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// SetSink sets where received bytes are delivered.
func (t *Transport) SetSink(sink transport.LineSink) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sink = sink
}

// SetStateHandler sets the callback for transport state changes.
func (t *Transport) SetStateHandler(fn transport.StateHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateHandler = fn
}

// Stats returns the dropped byte counters.
func (t *Transport) Stats() Stats {
	return Stats{Skipped: t.skipped.Load(), Lost: t.lost.Load()}
}

// readLoop reads from r until it fails or ctx is cancelled.
func (t *Transport) readLoop(ctx context.Context, r io.Reader, done chan struct{}) {
	defer close(done)

	buf := make([]byte, readBufSize)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := r.Read(buf)
		if n > 0 {
			t.deliver(buf[:n])
		}
		if err != nil {
			if ctx.Err() != nil {
				return // context cancelled, clean shutdown
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				t.handleDisconnect(err)
				return
			}
			t.log.Error("serial read error", "error", err)
			t.handleDisconnect(err)
			return
		}
	}
}

// deliver hands data to the sink, dropping everything before the first
// marker seen since Start.
func (t *Transport) deliver(data []byte) {
	if !t.synced {
		idx := findMarker(data)
		if idx < 0 {
			t.skipped.Add(uint64(len(data)))
			return
		}
		if idx > 0 {
			t.skipped.Add(uint64(idx))
			t.log.Debug("skipped partial sentence", "bytes", idx)
		}
		t.synced = true
		data = data[idx:]
	}

	t.mu.RLock()
	sink := t.sink
	t.mu.RUnlock()

	if sink == nil {
		t.lost.Add(uint64(len(data)))
		return
	}
	if n := sink.Receive(data); n < len(data) {
		t.lost.Add(uint64(len(data) - n))
		t.log.Debug("line sink dropped bytes", "bytes", len(data)-n)
	}
}

// findMarker returns the index of the first sentence marker in data, or -1.
func findMarker(data []byte) int {
	return bytes.IndexByte(data, sentence.Marker)
}

func (t *Transport) handleDisconnect(err error) {
	t.mu.Lock()
	t.connected = false
	handler := t.stateHandler
	t.mu.Unlock()

	if err != nil {
		t.log.Error("serial disconnected", "error", err)
	}

	if handler != nil {
		handler(t, transport.EventDisconnected)
	}
}
