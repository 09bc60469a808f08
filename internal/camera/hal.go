package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/arobi/officer-rig/internal/pipeline"
)

// HardwareConfig describes how to reach the machine-vision camera.
// Backend is "gige" for GigE Vision industrial cameras (the rig's
// primary target) or "mjpeg" for a USB/IP camera exposing an HTTP
// MJPEG stream.
type HardwareConfig struct {
	Backend string
	Address string
	Port    int
}

// gigeDiscoveryPort is the default GigE Vision control port.
const gigeDiscoveryPort = 3956

// HardwareAdapter implements pipeline.CameraAdapter against a real
// machine-vision camera. Width/height/rate/filter are recorded locally
// by the matching Set call; they are not sent to the device. Reconnect
// dials the device over UDP when Backend is "gige" and over TCP when it
// is "mjpeg"; no protocol handshake follows the dial.
type HardwareAdapter struct {
	mu     sync.Mutex
	config HardwareConfig

	width  int
	height int
	rate   float64
	filter string
	conn   net.Conn
}

// NewHardwareAdapter creates a HardwareAdapter for the given config. It
// does not connect; call Reconnect (via CameraSession.Connect) first.
func NewHardwareAdapter(config HardwareConfig) *HardwareAdapter {
	return &HardwareAdapter{config: config}
}

// FindDevices reports the configured address as the one camera
// "serial". For the GigE backend it first sends a discovery packet to
// that address over UDP and fails only if the packet cannot be sent;
// no reply is read. For other backends it returns the address as is.
func (h *HardwareAdapter) FindDevices(ctx context.Context) ([]string, error) {
	h.mu.Lock()
	backend, addr := h.config.Backend, h.config.Address
	h.mu.Unlock()

	if backend != "gige" {
		return []string{addr}, nil
	}

	udpAddr := net.JoinHostPort(addr, strconv.Itoa(gigeDiscoveryPort))
	conn, err := net.DialTimeout("udp", udpAddr, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("gige discovery: %w", err)
	}
	defer conn.Close()

	discovery := []byte{0x42, 0x01, 0x00, 0x02, 0x00, 0x00, 0x00, 0x00}
	if _, err := conn.Write(discovery); err != nil {
		return nil, fmt.Errorf("gige discovery write: %w", err)
	}
	return []string{addr}, nil
}

// Reconnect opens the control connection to the device identified by
// serial, replacing any prior connection.
func (h *HardwareAdapter) Reconnect(ctx context.Context, serial string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conn != nil {
		h.conn.Close()
		h.conn = nil
	}

	port := h.config.Port
	if port == 0 && h.config.Backend == "gige" {
		port = gigeDiscoveryPort
	}
	network := "udp"
	if h.config.Backend == "mjpeg" {
		network = "tcp"
	}

	conn, err := net.DialTimeout(network, net.JoinHostPort(serial, strconv.Itoa(port)), 5*time.Second)
	if err != nil {
		return fmt.Errorf("camera reconnect: %w", err)
	}
	h.conn = conn
	return nil
}

// Reset drops the current connection so the next NextFrame attempt
// fails until Reconnect is called again by CameraSession's power-cycle
// sequence.
func (h *HardwareAdapter) Reset(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn != nil {
		err := h.conn.Close()
		h.conn = nil
		return err
	}
	return nil
}

// NextFrame requests a single frame and decodes it to RGB8, releasing
// the wire representation immediately (spec.md §4.3 step 3: the
// adapter never holds onto the camera's native buffer past this call).
func (h *HardwareAdapter) NextFrame(ctx context.Context) (pipeline.Frame, error) {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	if conn == nil {
		return pipeline.Frame{}, fmt.Errorf("camera not connected")
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}

	buf := make([]byte, 1920*1080*3)
	n, err := conn.Read(buf)
	if err != nil {
		return pipeline.Frame{}, fmt.Errorf("camera read: %w", err)
	}

	return decodeRGB8(buf[:n])
}

// decodeRGB8 turns a wire frame in an image.Decode format (JPEG is the
// one this package registers) into a width/height-tagged RGB8 pixel
// buffer. Raw, unencoded pixel data is not decoded.
func decodeRGB8(raw []byte) (pipeline.Frame, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return pipeline.Frame{}, fmt.Errorf("decode frame: %w", err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	pix := make([]byte, w*h*3)
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			pix[i] = byte(r >> 8)
			pix[i+1] = byte(g >> 8)
			pix[i+2] = byte(b >> 8)
			i += 3
		}
	}
	return pipeline.Frame{Width: w, Height: h, Pix: pix}, nil
}

func (h *HardwareAdapter) SetFrameWidth(width int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.width = width
	return nil
}

func (h *HardwareAdapter) SetFrameHeight(height int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.height = height
	return nil
}

func (h *HardwareAdapter) SetFrameRate(hz float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rate = hz
	return nil
}

func (h *HardwareAdapter) SetFilter(filter string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.filter = filter
	return nil
}

// encodeJPEG re-encodes a decoded image as JPEG at quality 85. Nothing
// in this package calls it; the recorder and display packages each have
// their own encoder.
func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}
