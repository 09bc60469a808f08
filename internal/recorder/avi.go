package recorder

import (
	"encoding/binary"
	"io"
)

// aviWriter is a minimal RIFF/AVI 1.0 muxer for a single Motion-JPEG
// video stream. spec.md's output artifacts are plain AVI files
// (<N>_OfficerFootage.avi); no third-party repo in the reference pack
// carries an AVI/MJPEG muxing library (grep across _examples/*/go.mod
// turns up none), so this container layer is hand-rolled on
// encoding/binary and io — the one piece of the recorder genuinely
// without a corpus library to lean on. Frame-level JPEG encoding itself
// still goes through the standard image/jpeg package the way
// orbital/hal's Camera.encodeJPEG does.
type aviWriter struct {
	w             io.WriteSeeker
	width, height int
	fps           int

	frameCount  int
	moviListPos int64
	riffSizePos int64
	// avihFrameCountPos/strhFrameCountPos are the absolute file offsets
	// of the dwTotalFrames/dwLength fields written as 0 placeholders in
	// writeHeader, patched with the real count in Close.
	avihFrameCountPos int64
	strhFrameCountPos int64
	idx               []aviIndexEntry
}

type aviIndexEntry struct {
	offsetFromMovi uint32
	size           uint32
}

const aviStreamFourCC = "00dc" // stream 0, compressed DIB (video)

func newAVIWriter(w io.WriteSeeker, width, height, fps int) (*aviWriter, error) {
	a := &aviWriter{w: w, width: width, height: height, fps: fps}
	if err := a.writeHeader(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *aviWriter) writeHeader() error {
	// RIFF header; size patched in on Close.
	if _, err := a.w.Write([]byte("RIFF")); err != nil {
		return err
	}
	riffSizePos, err := a.w.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	a.riffSizePos = riffSizePos
	if err := writeUint32(a.w, 0); err != nil {
		return err
	}
	if _, err := a.w.Write([]byte("AVI ")); err != nil {
		return err
	}

	// hdrl LIST: avih + strl(strh + strf). Every chunk below has a
	// fixed size known up front, so only the hdrl LIST wraps a size
	// that can be written immediately (188 bytes of body + 4 for the
	// "hdrl" fourCC). The two frame-count fields nested inside avih and
	// strh are written as 0 here and patched once the real count is
	// known in Close.
	if err := writeChunkHeader(a.w, "LIST", 192); err != nil {
		return err
	}
	if _, err := a.w.Write([]byte("hdrl")); err != nil {
		return err
	}

	if err := writeChunkHeader(a.w, "avih", 56); err != nil {
		return err
	}
	avihPos, err := a.w.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	a.avihFrameCountPos = avihPos + 16
	if _, err := a.w.Write(a.mainHeader()); err != nil {
		return err
	}

	if err := writeChunkHeader(a.w, "LIST", 116); err != nil {
		return err
	}
	if _, err := a.w.Write([]byte("strl")); err != nil {
		return err
	}

	if err := writeChunkHeader(a.w, "strh", 56); err != nil {
		return err
	}
	strhPos, err := a.w.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	a.strhFrameCountPos = strhPos + 32
	if _, err := a.w.Write(a.streamHeader()); err != nil {
		return err
	}

	if err := writeChunkHeader(a.w, "strf", 40); err != nil {
		return err
	}
	if _, err := a.w.Write(a.streamFormat()); err != nil {
		return err
	}

	// movi LIST, left open for AddFrame to append "00dc" chunks into.
	if _, err := a.w.Write([]byte("LIST")); err != nil {
		return err
	}
	moviSizePos, err := a.w.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if err := writeUint32(a.w, 0); err != nil {
		return err
	}
	if _, err := a.w.Write([]byte("movi")); err != nil {
		return err
	}
	a.moviListPos = moviSizePos
	return nil
}

func (a *aviWriter) mainHeader() []byte {
	buf := make([]byte, 56)
	usecPerFrame := uint32(1000000 / max(a.fps, 1))
	binary.LittleEndian.PutUint32(buf[0:], usecPerFrame)
	binary.LittleEndian.PutUint32(buf[12:], 0x10) // dwFlags = AVIF_HASINDEX
	binary.LittleEndian.PutUint32(buf[16:], uint32(a.frameCount))
	binary.LittleEndian.PutUint32(buf[24:], 1) // streams
	binary.LittleEndian.PutUint32(buf[32:], uint32(a.width))
	binary.LittleEndian.PutUint32(buf[36:], uint32(a.height))
	return buf
}

func (a *aviWriter) streamHeader() []byte {
	buf := make([]byte, 56)
	copy(buf[0:4], "vids")
	copy(buf[4:8], "MJPG")
	binary.LittleEndian.PutUint32(buf[20:], 1)              // scale
	binary.LittleEndian.PutUint32(buf[24:], uint32(a.fps))  // rate
	binary.LittleEndian.PutUint32(buf[32:], uint32(a.frameCount))
	binary.LittleEndian.PutUint32(buf[44:], uint32(a.width))
	binary.LittleEndian.PutUint32(buf[48:], uint32(a.height))
	return buf
}

func (a *aviWriter) streamFormat() []byte {
	buf := make([]byte, 40)
	binary.LittleEndian.PutUint32(buf[0:], 40)
	binary.LittleEndian.PutUint32(buf[4:], uint32(a.width))
	binary.LittleEndian.PutUint32(buf[8:], uint32(a.height))
	binary.LittleEndian.PutUint16(buf[12:], 1)  // planes
	binary.LittleEndian.PutUint16(buf[14:], 24) // bit count
	copy(buf[16:20], "MJPG")
	return buf
}

// AddFrame appends one JPEG-encoded frame to the movi list and records
// its index entry.
func (a *aviWriter) AddFrame(jpegBytes []byte) error {
	pos, err := a.w.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	offsetFromMovi := uint32(pos - (a.moviListPos + 4))

	if _, err := a.w.Write([]byte(aviStreamFourCC)); err != nil {
		return err
	}
	if err := writeUint32(a.w, uint32(len(jpegBytes))); err != nil {
		return err
	}
	if _, err := a.w.Write(jpegBytes); err != nil {
		return err
	}
	if len(jpegBytes)%2 == 1 {
		if _, err := a.w.Write([]byte{0}); err != nil {
			return err
		}
	}

	a.idx = append(a.idx, aviIndexEntry{offsetFromMovi: offsetFromMovi, size: uint32(len(jpegBytes))})
	a.frameCount++
	return nil
}

// Close writes the idx1 chunk and patches the RIFF/movi/avih sizes now
// that the frame count and byte lengths are known.
func (a *aviWriter) Close() error {
	moviEnd, err := a.w.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	idx1 := make([]byte, 0, len(a.idx)*16)
	for _, e := range a.idx {
		entry := make([]byte, 16)
		copy(entry[0:4], aviStreamFourCC)
		binary.LittleEndian.PutUint32(entry[4:], 0x10) // AVIIF_KEYFRAME
		binary.LittleEndian.PutUint32(entry[8:], e.offsetFromMovi)
		binary.LittleEndian.PutUint32(entry[12:], e.size)
		idx1 = append(idx1, entry...)
	}
	if _, err := a.w.Write([]byte("idx1")); err != nil {
		return err
	}
	if err := writeUint32(a.w, uint32(len(idx1))); err != nil {
		return err
	}
	if _, err := a.w.Write(idx1); err != nil {
		return err
	}

	end, err := a.w.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	if err := patchUint32(a.w, a.moviListPos, uint32(moviEnd-(a.moviListPos+4))); err != nil {
		return err
	}
	if err := patchUint32(a.w, a.riffSizePos, uint32(end-(a.riffSizePos+4))); err != nil {
		return err
	}

	// Patch the frame counts now embedded in avih/strh, written earlier
	// with a placeholder of 0.
	if err := patchUint32(a.w, a.avihFrameCountPos, uint32(a.frameCount)); err != nil {
		return err
	}
	if err := patchUint32(a.w, a.strhFrameCountPos, uint32(a.frameCount)); err != nil {
		return err
	}
	return nil
}

// writeChunkHeader writes a 4-byte fourCC tag followed by its
// little-endian uint32 size, the common prefix of every RIFF chunk and
// LIST (for a LIST, size excludes the fourCC tag but includes the
// nested type fourCC written separately right after).
func writeChunkHeader(w io.Writer, fourCC string, size uint32) error {
	if _, err := w.Write([]byte(fourCC)); err != nil {
		return err
	}
	return writeUint32(w, size)
}

func writeUint32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func patchUint32(w io.WriteSeeker, pos int64, v uint32) error {
	cur, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if _, err := w.Seek(pos, io.SeekStart); err != nil {
		return err
	}
	if err := writeUint32(w, v); err != nil {
		return err
	}
	_, err = w.Seek(cur, io.SeekStart)
	return err
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
