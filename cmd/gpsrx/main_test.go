//go:build !tinygo && !baremetal

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/kabili207/gpsrx/core/sentence"
	"github.com/kabili207/gpsrx/transport"
)

type fakePublisher struct {
	got []string
	err error
}

func (p *fakePublisher) Start(context.Context) error               { return nil }
func (p *fakePublisher) Stop() error                               { return nil }
func (p *fakePublisher) IsConnected() bool                         { return true }
func (p *fakePublisher) SetStateHandler(fn transport.StateHandler) {}

func (p *fakePublisher) Publish(s sentence.Sentence) error {
	p.got = append(p.got, string(s.Raw()))
	return p.err
}

var _ transport.Publisher = (*fakePublisher)(nil)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fill(t *testing.T, r *sentence.Ring, text string) {
	t.Helper()
	for i := range len(text) {
		_ = r.Feed(text[i])
	}
}

func TestParseFlags_Defaults(t *testing.T) {
	t.Setenv("GPSRX_PORT", "")
	t.Setenv("GPSRX_MQTT_BROKER", "")

	o, err := parseFlags(nil)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if o.port != "/dev/ttyUSB0" {
		t.Errorf("port = %q", o.port)
	}
	if o.baud != 9600 {
		t.Errorf("baud = %d; want 9600", o.baud)
	}
	if o.drain != 100*time.Millisecond {
		t.Errorf("drain = %v", o.drain)
	}
	if o.mqttBroker != "" {
		t.Errorf("mqttBroker = %q; want empty", o.mqttBroker)
	}
	if o.device == "" {
		t.Error("device is empty")
	}
}

func TestParseFlags_Overrides(t *testing.T) {
	o, err := parseFlags([]string{
		"-port", "/dev/ttyACM1",
		"-baud", "38400",
		"-drain", "1s",
		"-mqtt-broker", "tcp://localhost:1883",
		"-mqtt-prefix", "fleet",
		"-device", "boat-1",
		"-debug",
	})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if o.port != "/dev/ttyACM1" || o.baud != 38400 || o.drain != time.Second {
		t.Errorf("serial options = %+v", o)
	}
	if o.mqttBroker != "tcp://localhost:1883" || o.mqttPrefix != "fleet" || o.device != "boat-1" {
		t.Errorf("mqtt options = %+v", o)
	}
	if !o.debug {
		t.Error("debug not set")
	}
}

func TestParseFlags_EnvDefaults(t *testing.T) {
	t.Setenv("GPSRX_PORT", "/dev/ttyS3")
	t.Setenv("GPSRX_DEVICE", "buoy-7")

	o, err := parseFlags(nil)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if o.port != "/dev/ttyS3" || o.device != "buoy-7" {
		t.Errorf("options = %+v", o)
	}
}

func TestParseFlags_RejectsZeroDrain(t *testing.T) {
	if _, err := parseFlags([]string{"-drain", "0s"}); err == nil {
		t.Fatal("expected error for zero drain interval")
	}
}

func TestForward_PublishesOldestFirst(t *testing.T) {
	var r sentence.Ring
	fill(t, &r, "$GPGGA,1*00\r\n$GPRMC,2*00\r\n$")

	pub := &fakePublisher{}
	if n := forward(&r, pub, quietLogger()); n != 2 {
		t.Fatalf("forward = %d; want 2", n)
	}
	want := []string{"$GPGGA,1*00\r\n", "$GPRMC,2*00\r\n"}
	if len(pub.got) != len(want) {
		t.Fatalf("published %q", pub.got)
	}
	for i := range want {
		if pub.got[i] != want[i] {
			t.Errorf("published[%d] = %q; want %q", i, pub.got[i], want[i])
		}
	}
	if len(r.Ready()) != 0 {
		t.Errorf("ready after forward: %v", r.Ready())
	}
}

func TestForward_PublishErrorStillReleases(t *testing.T) {
	var r sentence.Ring
	fill(t, &r, "$A$")

	pub := &fakePublisher{err: errors.New("broker down")}
	if n := forward(&r, pub, quietLogger()); n != 1 {
		t.Fatalf("forward = %d; want 1", n)
	}
	if len(r.Ready()) != 0 {
		t.Error("sentence not released after publish error")
	}
}

func TestForward_NoPublisher(t *testing.T) {
	var r sentence.Ring
	fill(t, &r, "$A$")

	if n := forward(&r, nil, quietLogger()); n != 1 {
		t.Errorf("forward = %d; want 1", n)
	}
}

func TestDrainLoop_DrainsOnCancel(t *testing.T) {
	var r sentence.Ring
	fill(t, &r, "$A$B$")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pub := &fakePublisher{}
	drainLoop(ctx, &r, pub, time.Hour, quietLogger())

	if len(pub.got) != 2 {
		t.Errorf("published %q; want 2 sentences", pub.got)
	}
}
