package uarte_test

import (
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/kabili207/gpsrx/core/dmaring"
	"github.com/kabili207/gpsrx/core/sentence"
	"github.com/kabili207/gpsrx/device/uarte"
	"github.com/kabili207/gpsrx/device/uarte/sim"
)

const gpsBurst = "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47\r\n" +
	"$GPGSA,A,3,04,05,,09,12,,,24,,,,,2.5,1.3,2.1*39\r\n" +
	"$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A\r\n"

func startReceiver(t *testing.T, cfg uarte.Config) (*uarte.Receiver, *sim.UARTE) {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := uarte.New(cfg)
	u := sim.New()
	u.SetInterruptHandler(r.HandleInterrupt)
	if err := r.Init(u); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return r, u
}

func drain(r *uarte.Receiver) []string {
	var out []string
	r.Sentences().Drain(func(s sentence.Sentence) { out = append(out, s.String()) })
	return out
}

// pad completes the in-flight DMA frame so every byte so far is relayed.
func pad(u *sim.UARTE, sent int) {
	if rem := sent % dmaring.FrameSize; rem != 0 {
		u.Receive([]byte(strings.Repeat("\n", dmaring.FrameSize-rem)))
	}
}

func TestReceiver_ReassemblesSentences(t *testing.T) {
	r, u := startReceiver(t, uarte.Config{})

	n := u.Receive([]byte(gpsBurst + "$"))
	pad(u, n)

	got := drain(r)
	want := strings.Split(strings.TrimSpace(gpsBurst), "\r\n")
	if len(got) != len(want) {
		t.Fatalf("got %d sentences: %q", len(got), got)
	}
	for i := range want {
		if got[i] != want[i]+"\r\n" {
			t.Errorf("sentence %d = %q; want %q", i, got[i], want[i]+"\r\n")
		}
	}

	c := r.Counters().Snapshot()
	if wantFrames := (n + dmaring.FrameSize - 1) / dmaring.FrameSize; int(c.FramesRelayed) != wantFrames {
		t.Errorf("FramesRelayed = %d; want %d", c.FramesRelayed, wantFrames)
	}
	if c.DecodeErrors != 0 || c.RxErrors != 0 {
		t.Errorf("unexpected errors: %+v", c)
	}
}

func TestReceiver_ByteAtATime(t *testing.T) {
	r, u := startReceiver(t, uarte.Config{})

	in := "$GPVTG,054.7,T,034.4,M,005.5,N,010.2,K*48$GPZDA,201530.00,04,07,2002,00,00*60$"
	for i := 0; i < len(in); i++ {
		u.Receive([]byte{in[i]})
	}
	pad(u, len(in))

	got := drain(r)
	if len(got) != 2 ||
		got[0] != "$GPVTG,054.7,T,034.4,M,005.5,N,010.2,K*48" ||
		got[1] != "$GPZDA,201530.00,04,07,2002,00,00*60" {
		t.Errorf("sentences = %q", got)
	}
}

func TestReceiver_ErrorFlushesPartialFrame(t *testing.T) {
	r, u := startReceiver(t, uarte.Config{})

	u.Receive([]byte("$AB"))
	u.InjectError()
	// The partial "$AB" is discarded; the transfer restarts in the same slot.
	u.Receive([]byte("$CDEF$"))
	pad(u, len("$CDEF$"))

	if u.Flushes() != 1 {
		t.Errorf("Flushes = %d; want 1", u.Flushes())
	}
	got := drain(r)
	if len(got) != 1 || got[0] != "$CDEF" {
		t.Errorf("sentences = %q; want [$CDEF]", got)
	}
	if c := r.Counters().Snapshot(); c.RxErrors != 1 {
		t.Errorf("RxErrors = %d; want 1", c.RxErrors)
	}
}

func TestReceiver_InvalidFrameDropped(t *testing.T) {
	var frames [][]byte
	r, u := startReceiver(t, uarte.Config{
		OnDecodeError: func(frame []byte, _ error) {
			frames = append(frames, append([]byte(nil), frame...))
		},
	})

	u.Receive([]byte("$ABCD"))
	u.Receive([]byte{'E', 0xff, 'F', 'G', 'H'})
	u.Receive([]byte("$IJKL$"))
	pad(u, 16)

	if len(frames) != 1 {
		t.Fatalf("decode signals = %d; want 1", len(frames))
	}
	got := drain(r)
	if len(got) != 2 || got[0] != "$ABCD" || got[1] != "$IJKL" {
		t.Errorf("sentences = %q; want [$ABCD $IJKL]", got)
	}
	if c := r.Counters().Snapshot(); c.FramesRelayed != 3 || c.DecodeErrors != 1 {
		t.Errorf("FramesRelayed/DecodeErrors = %d/%d; want 3/1", c.FramesRelayed, c.DecodeErrors)
	}
}

func TestReceiver_CloseDisarmsInterrupts(t *testing.T) {
	r, u := startReceiver(t, uarte.Config{})
	u.Receive([]byte("$ABCD"))

	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if u.Enabled() || u.InterruptMask() != 0 {
		t.Errorf("after Close: enabled=%v mask=%03b", u.Enabled(), u.InterruptMask())
	}

	before := r.Counters().Snapshot()
	u.Receive([]byte("$EFGH"))
	u.InjectError()
	after := r.Counters().Snapshot()
	if after.Interrupts != before.Interrupts || after.Contended != 0 {
		t.Errorf("handler ran after Close: %+v", after)
	}
}

func TestReceiver_RingExhaustedWithoutConsumer(t *testing.T) {
	r, u := startReceiver(t, uarte.Config{})

	var b strings.Builder
	for i := range sentence.Slots + 3 {
		b.WriteString("$S")
		b.WriteByte(byte('A' + i))
		b.WriteString("xx")
	}
	b.WriteString("$")
	n := u.Receive([]byte(b.String()))
	pad(u, n)

	c := r.Counters().Snapshot()
	if c.RingExhausted == 0 {
		t.Fatal("expected ring exhaustion with no consumer")
	}

	// The oldest sentences survive; newer ones were dropped.
	got := drain(r)
	if len(got) != sentence.Slots-1 {
		t.Fatalf("drained %d; want %d", len(got), sentence.Slots-1)
	}
	if got[0] != "$SAxx" {
		t.Errorf("first sentence = %q; want $SAxx", got[0])
	}
}

func TestReceiver_ReinitReproducesPowerOnState(t *testing.T) {
	fresh, _ := startReceiver(t, uarte.Config{})
	wantW, wantR := fresh.Frames().Cursors()

	r, u := startReceiver(t, uarte.Config{})
	n := u.Receive([]byte(gpsBurst))
	pad(u, n)
	u.InjectError()

	u2 := sim.New()
	u2.SetInterruptHandler(r.HandleInterrupt)
	if err := r.Init(u2); err != nil {
		t.Fatalf("re-Init: %v", err)
	}

	if w, rd := r.Frames().Cursors(); w != wantW || rd != wantR {
		t.Errorf("cursors = %d,%d; want %d,%d", w, rd, wantW, wantR)
	}
	for i := range dmaring.Slots {
		if f := r.Frames().TakeCompleted(i); f != (dmaring.Frame{}) {
			t.Errorf("frame %d not zeroed: %q", i, f[:])
		}
	}
	if r.Sentences().Current() != 0 || len(r.Sentences().Ready()) != 0 {
		t.Error("sentence ring not reset")
	}
	if c := r.Counters().Snapshot(); c != (uarte.CountersSnapshot{}) {
		t.Errorf("counters not reset: %+v", c)
	}
	if u.Enabled() {
		t.Error("previous peripheral left enabled")
	}

	// And it works afterwards.
	u2.Receive([]byte("$AB$"))
	pad(u2, 4)
	if got := drain(r); len(got) != 1 || got[0] != "$AB" {
		t.Errorf("after re-init got %q", got)
	}
}

func TestReceiver_ConfiguresPeripheral(t *testing.T) {
	_, u := startReceiver(t, uarte.Config{BaudRate: 115200, RxPin: 6})

	if !u.Enabled() {
		t.Error("peripheral not enabled")
	}
	if u.BaudRate() != 115200 || u.RxPin() != 6 {
		t.Errorf("baud/pin = %d/%d", u.BaudRate(), u.RxPin())
	}
	if u.MaxCount() != dmaring.FrameSize {
		t.Errorf("MaxCount = %d", u.MaxCount())
	}
	if !u.Short() {
		t.Error("ENDRX->STARTRX short not enabled")
	}
	if u.InterruptMask() != uarte.RxEvents {
		t.Errorf("interrupt mask = %03b", u.InterruptMask())
	}
}

func TestReceiver_UnsupportedBaud(t *testing.T) {
	r := uarte.New(uarte.Config{BaudRate: 12345, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err := r.Init(sim.New()); err == nil {
		t.Fatal("expected error for unsupported baud rate")
	}
}

func TestReceiver_ConcurrentConsumer(t *testing.T) {
	r, u := startReceiver(t, uarte.Config{})

	stop := make(chan struct{})
	var got []string
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			got = append(got, drain(r)...)
			select {
			case <-stop:
				got = append(got, drain(r)...)
				return
			default:
			}
		}
	}()

	sent := 0
	for range 200 {
		sent += u.Receive([]byte(gpsBurst))
	}
	sent += u.Receive([]byte("$"))
	pad(u, sent)
	close(stop)
	wg.Wait()

	if len(got) == 0 {
		t.Fatal("consumer saw nothing")
	}
	for _, s := range got {
		if !strings.HasPrefix(s, "$GP") || !strings.HasSuffix(s, "\r\n") {
			t.Fatalf("malformed sentence %q", s)
		}
	}
	c := r.Counters().Snapshot()
	if uint32(len(got))+c.RingExhausted != 600 {
		t.Errorf("drained %d + exhausted %d; want 600", len(got), c.RingExhausted)
	}
}
