package devicemux

import (
	"context"
	"testing"
	"time"

	"github.com/arobi/officer-rig/internal/logging"
	"github.com/arobi/officer-rig/internal/serial"
)

func runGatherFor(t *testing.T, mux *DeviceMux, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	mux.Run(ctx)
}

func TestWriteRejectsOversizedPayload(t *testing.T) {
	link := serial.NewFakeLink()
	mux := New(link, logging.New(0, nil), nil)
	err := mux.Write(Motors, 0x1, make([]byte, 8))
	if err == nil {
		t.Fatalf("expected ErrPayloadTooLarge for 8-byte payload")
	}
}

func TestWriteComposesHeaderAndPayload(t *testing.T) {
	link := serial.NewFakeLink()
	mux := New(link, logging.New(0, nil), nil)
	if err := mux.Write(Motors, 0x3, []byte{0xAA, 0xBB}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	want := []byte{0x80 | (2 << 4) | 0x3, 0xAA, 0xBB}
	got := link.Written.Bytes()
	if string(got) != string(want) {
		t.Fatalf("wire bytes = %v, want %v", got, want)
	}
}

// TestGatherDemultiplexesInterleavedMessages feeds messages for both
// devices and checks each is queued under the right device and that
// TryRead never returns a message for the wrong device (spec.md §8
// scenario 4 / invariant 2).
func TestGatherDemultiplexesInterleavedMessages(t *testing.T) {
	link := serial.NewFakeLink()
	mux := New(link, logging.New(0, nil), nil)

	// Handheld message: header device=0 extraLen=1 cmd=0x2, payload 0x11.
	link.Feed([]byte{0x00 | (1 << 4) | 0x2, 0x11})
	// Motors ack: header 0x8F, no payload.
	link.Feed([]byte{0x8F})
	// Handheld message: extraLen=0 cmd=0x5.
	link.Feed([]byte{0x00 | 0x5})

	runGatherFor(t, mux, 50*time.Millisecond)

	hh1, ok := mux.TryRead(Handheld)
	if !ok || hh1.Command() != 0x2 || len(hh1.Payload) != 1 || hh1.Payload[0] != 0x11 {
		t.Fatalf("unexpected first handheld message: %+v ok=%v", hh1, ok)
	}
	hh2, ok := mux.TryRead(Handheld)
	if !ok || hh2.Command() != 0x5 {
		t.Fatalf("unexpected second handheld message: %+v ok=%v", hh2, ok)
	}
	if _, ok := mux.TryRead(Handheld); ok {
		t.Fatalf("expected no more handheld messages")
	}

	motor, ok := mux.TryRead(Motors)
	if !ok || motor.Header != 0x8F {
		t.Fatalf("unexpected motor message: %+v ok=%v", motor, ok)
	}
}

// TestWriteThenGatherRoundTrips writes a message through one mux's
// Write and feeds the resulting wire bytes into a fresh mux's gather
// loop, checking device/command/payload all survive the round trip
// (spec.md §8's general encode/decode round-trip law).
func TestWriteThenGatherRoundTrips(t *testing.T) {
	for _, tc := range []struct {
		name    string
		device  Device
		command byte
		payload []byte
	}{
		{"handheld no payload", Handheld, 0x1, nil},
		{"handheld with payload", Handheld, 0x5, []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}},
		{"motors with payload", Motors, 0xA, []byte{0xFF, 0x00}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			writeLink := serial.NewFakeLink()
			writeMux := New(writeLink, logging.New(0, nil), nil)
			if err := writeMux.Write(tc.device, tc.command, tc.payload); err != nil {
				t.Fatalf("Write: %v", err)
			}

			readLink := serial.NewFakeLink()
			readLink.Feed(writeLink.Written.Bytes())
			readMux := New(readLink, logging.New(0, nil), nil)
			runGatherFor(t, readMux, 50*time.Millisecond)

			got, ok := readMux.TryRead(tc.device)
			if !ok {
				t.Fatalf("expected a queued message for device %v", tc.device)
			}
			if got.Command() != tc.command {
				t.Fatalf("command = %#x, want %#x", got.Command(), tc.command)
			}
			if len(got.Payload) != len(tc.payload) {
				t.Fatalf("payload = %v, want %v", got.Payload, tc.payload)
			}
			for i := range tc.payload {
				if got.Payload[i] != tc.payload[i] {
					t.Fatalf("payload[%d] = %#x, want %#x", i, got.Payload[i], tc.payload[i])
				}
			}
		})
	}
}

func TestReadWithHeaderDiscardsUntilMatch(t *testing.T) {
	link := serial.NewFakeLink()
	mux := New(link, logging.New(0, nil), nil)

	// Success token (0x81) arrives before the ack (0x8F) we actually want.
	link.Feed([]byte{0x81, 0x8F})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go runGatherFor(t, mux, 200*time.Millisecond)

	msg, err := mux.ReadWithHeader(ctx, Motors, 0x8F)
	if err != nil {
		t.Fatalf("ReadWithHeader: %v", err)
	}
	if msg.Header != 0x8F {
		t.Fatalf("expected ack 0x8F, got %#x", msg.Header)
	}

	// The discarded success token should not remain queued.
	if _, ok := mux.TryRead(Motors); ok {
		t.Fatalf("expected success token to have been discarded, not queued")
	}
}
