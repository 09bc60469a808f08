package display

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arobi/officer-rig/internal/logging"
	"github.com/arobi/officer-rig/internal/pipeline"
)

func testFrame(w, h int) pipeline.Frame {
	return pipeline.Frame{Width: w, Height: h, Pix: make([]byte, w*h*3)}
}

func TestViewerReceivesBroadcastFrame(t *testing.T) {
	win := New("test", logging.New(0, nil))
	win.Show()
	defer win.Close()

	server := httptest.NewServer(win)
	defer server.Close()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the register message a moment to land before broadcasting.
	time.Sleep(50 * time.Millisecond)
	win.Update(testFrame(4, 4))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if msgType != websocket.BinaryMessage {
		t.Fatalf("message type = %d, want BinaryMessage", msgType)
	}
	if len(data) == 0 || data[0] != 0xFF || data[1] != 0xD8 {
		t.Fatalf("expected a JPEG SOI marker, got %v", data[:min(len(data), 4)])
	}
}

func TestServeHTTPRejectsWhenNotShown(t *testing.T) {
	win := New("idle", logging.New(0, nil))
	server := httptest.NewServer(win)
	defer server.Close()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected dial to fail when window is not shown")
	}
	if resp != nil && resp.StatusCode != 503 {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestStatusReportsConnectedViewers(t *testing.T) {
	win := New("test", logging.New(0, nil))
	win.Show()
	defer win.Close()

	server := httptest.NewServer(win)
	defer server.Close()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	time.Sleep(50 * time.Millisecond)

	st := win.Status().(status)
	if st.Connected != 1 {
		t.Fatalf("connected viewers = %d, want 1", st.Connected)
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
