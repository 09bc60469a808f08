// Package display implements DisplayWindow (spec.md §4.9): rather than
// an on-box cv::imshow window, frames are pushed to any number of
// connected WebSocket viewers as binary JPEG messages, using the same
// register/unregister/broadcast hub shape as the realtime WebSocket
// manager this rig's stack already carries.
package display

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arobi/officer-rig/internal/logging"
	"github.com/arobi/officer-rig/internal/pipeline"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 4
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Window is a live preview broadcaster: Update JPEG-encodes the latest
// frame and pushes it to every connected viewer, and any slow viewer is
// dropped rather than stalling the broadcast.
type Window struct {
	Name string
	log  *logging.Logger

	mu         sync.RWMutex
	shown      bool
	viewers    map[*viewer]struct{}
	register   chan *viewer
	unregister chan *viewer
	frames     chan []byte
	done       chan struct{}
}

type viewer struct {
	conn *websocket.Conn
	send chan []byte
}

// New creates a Window named name (used only for logging/status).
func New(name string, log *logging.Logger) *Window {
	return &Window{
		Name:       name,
		log:        log,
		viewers:    make(map[*viewer]struct{}),
		register:   make(chan *viewer),
		unregister: make(chan *viewer),
		frames:     make(chan []byte, 2),
	}
}

// Show starts the hub loop. Idempotent.
func (w *Window) Show() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.shown {
		return
	}
	w.shown = true
	w.done = make(chan struct{})
	go w.run(w.done)
	w.log.Log("display window shown: "+w.Name, logging.Information)
}

// Close stops the hub loop and disconnects every viewer.
func (w *Window) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.shown {
		return
	}
	w.shown = false
	close(w.done)
	w.log.Log("display window closed: "+w.Name, logging.Information)
}

// IsShown reports whether the hub loop is active.
func (w *Window) IsShown() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.shown
}

// Update encodes frame as JPEG and broadcasts it to every connected
// viewer. If the broadcast queue is already full, the oldest queued
// frame is dropped to make room, matching the original DisplayWindow's
// "latest frame wins" semantics.
func (w *Window) Update(frame pipeline.Frame) {
	if !w.IsShown() {
		return
	}
	jpegBytes, err := encodeJPEG(frame)
	if err != nil {
		w.log.Log("display: encode frame: "+err.Error(), logging.Information|logging.Error)
		return
	}
	select {
	case w.frames <- jpegBytes:
	default:
		select {
		case <-w.frames:
		default:
		}
		select {
		case w.frames <- jpegBytes:
		default:
		}
	}
}

// Callback adapts Update to pipeline.Callback.
func (w *Window) Callback() pipeline.Callback {
	return func(frame pipeline.Frame) { w.Update(frame) }
}

// ServeHTTP upgrades the request to a WebSocket viewer connection.
func (w *Window) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if !w.IsShown() {
		http.Error(rw, "display window not active", http.StatusServiceUnavailable)
		return
	}
	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.log.Log("display: upgrade failed: "+err.Error(), logging.Information|logging.Error)
		return
	}

	v := &viewer{conn: conn, send: make(chan []byte, sendBufferSize)}
	w.register <- v
	go w.writePump(v)
	go w.readPump(v)
}

func (w *Window) run(done chan struct{}) {
	for {
		select {
		case v := <-w.register:
			w.mu.Lock()
			w.viewers[v] = struct{}{}
			w.mu.Unlock()

		case v := <-w.unregister:
			w.mu.Lock()
			if _, ok := w.viewers[v]; ok {
				delete(w.viewers, v)
				close(v.send)
			}
			w.mu.Unlock()

		case jpegBytes := <-w.frames:
			w.mu.Lock()
			for v := range w.viewers {
				select {
				case v.send <- jpegBytes:
				default:
					// Send buffer full: drop the slow viewer.
					delete(w.viewers, v)
					close(v.send)
				}
			}
			w.mu.Unlock()

		case <-done:
			w.mu.Lock()
			for v := range w.viewers {
				close(v.send)
				v.conn.Close()
			}
			w.viewers = make(map[*viewer]struct{})
			w.mu.Unlock()
			return
		}
	}
}

func (w *Window) readPump(v *viewer) {
	defer func() {
		w.unregister <- v
		v.conn.Close()
	}()
	v.conn.SetReadDeadline(time.Now().Add(pongWait))
	v.conn.SetPongHandler(func(string) error {
		v.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (w *Window) writePump(v *viewer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		v.conn.Close()
	}()
	for {
		select {
		case jpegBytes, ok := <-v.send:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				v.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := v.conn.WriteMessage(websocket.BinaryMessage, jpegBytes); err != nil {
				return
			}
		case <-ticker.C:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// status is the JSON payload for httpapi's /status endpoint contribution.
type status struct {
	Name      string `json:"name"`
	Shown     bool   `json:"shown"`
	Connected int    `json:"connectedViewers"`
}

// Status returns the window's current status as a JSON-marshalable value.
func (w *Window) Status() any {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return status{Name: w.Name, Shown: w.shown, Connected: len(w.viewers)}
}

// frameImage adapts a pipeline.Frame to image.Image for image/jpeg.
type frameImage struct {
	f pipeline.Frame
}

func (fi frameImage) ColorModel() color.Model { return color.RGBAModel }
func (fi frameImage) Bounds() image.Rectangle { return image.Rect(0, 0, fi.f.Width, fi.f.Height) }
func (fi frameImage) At(x, y int) color.Color {
	r, g, b := fi.f.At(x, y)
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

func encodeJPEG(frame pipeline.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frameImage{f: frame}, &jpeg.Options{Quality: 85}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
