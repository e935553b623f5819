package core

import (
	"io"
	"net"
	"testing"
	"time"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	payload := []byte("hello frame")
	go func() {
		if err := writeFrame(client, payload); err != nil {
			t.Errorf("writeFrame: %v", err)
		}
	}()

	got, err := readFrame(server)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("payload mismatch: got %q want %q", got, payload)
	}
}

func TestReadFrameCoalescesPartialWrites(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	payload := []byte("a medium length payload to split across writes")
	framed := make([]byte, 0, 4+len(payload))
	hdr := make([]byte, 4)
	n := len(payload)
	hdr[0] = byte(n >> 24)
	hdr[1] = byte(n >> 16)
	hdr[2] = byte(n >> 8)
	hdr[3] = byte(n)
	framed = append(framed, hdr...)
	framed = append(framed, payload...)

	go func() {
		for i := 0; i < len(framed); i += 3 {
			end := i + 3
			if end > len(framed) {
				end = len(framed)
			}
			if _, err := client.Write(framed[i:end]); err != nil {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	got, err := readFrame(server)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("payload mismatch after chunked write: got %q", got)
	}
}

func TestReadFrameCleanEOF(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	go client.Close()

	_, err := readFrame(server)
	if err != io.EOF {
		t.Fatalf("expected io.EOF on clean close, got %v", err)
	}
}

func TestReadFrameRejectsOversizedHeader(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		var hdr [4]byte
		hdr[0] = 0xFF
		hdr[1] = 0xFF
		hdr[2] = 0xFF
		hdr[3] = 0xFF
		client.Write(hdr[:])
	}()

	if _, err := readFrame(server); err != ErrBadFrame {
		t.Fatalf("expected ErrBadFrame for oversized header, got %v", err)
	}
}
