package serial

import "testing"

func TestFakeLinkReadReturnsFedBytes(t *testing.T) {
	f := NewFakeLink()
	f.Feed([]byte{0x01, 0x02, 0x03})

	buf := make([]byte, 2)
	n, err := f.Read(buf)
	if err != nil || n != 2 {
		t.Fatalf("Read = %d, %v; want 2, nil", n, err)
	}
	if buf[0] != 0x01 || buf[1] != 0x02 {
		t.Fatalf("unexpected bytes: %v", buf)
	}
}

func TestFakeLinkReadEmptyReturnsZero(t *testing.T) {
	f := NewFakeLink()
	buf := make([]byte, 4)
	n, err := f.Read(buf)
	if err != nil || n != 0 {
		t.Fatalf("Read on empty buffer = %d, %v; want 0, nil (matches VMIN=0 semantics)", n, err)
	}
}

func TestFakeLinkWriteAccumulates(t *testing.T) {
	f := NewFakeLink()
	f.Write([]byte{0xAA})
	f.Write([]byte{0xBB})
	if got := f.Written.Bytes(); string(got) != string([]byte{0xAA, 0xBB}) {
		t.Fatalf("Written = %v, want [0xAA 0xBB]", got)
	}
}

func TestFakeLinkClearDiscardsBufferedInput(t *testing.T) {
	f := NewFakeLink()
	f.Feed([]byte{0x01, 0x02})
	f.Clear()
	buf := make([]byte, 4)
	n, _ := f.Read(buf)
	if n != 0 {
		t.Fatalf("expected 0 bytes after Clear, got %d", n)
	}
}
