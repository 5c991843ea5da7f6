package wire

import (
	"bytes"
	"fmt"
	"testing"
)

func mustEncodeIngest(t *testing.T, cam string, ts int64, payload []byte) []byte {
	t.Helper()
	msg, err := EncodeIngest(FrameMeta{CamNo: cam, Timestamp: ts}, payload)
	if err != nil {
		t.Fatalf("EncodeIngest failed: %v", err)
	}
	return msg
}

// TestDecodeSingleFrame verifies a whole frame in one delivery.
func TestDecodeSingleFrame(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5}
	msg := mustEncodeIngest(t, "CAM0", 1000, payload)

	d := NewDecoder()
	frames := d.Feed(msg)
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	f := frames[0]
	if f.CamNo != "CAM0" || f.Timestamp != 1000 {
		t.Errorf("bad metadata: %+v", f)
	}
	if !bytes.Equal(f.Payload, payload) {
		t.Errorf("payload mismatch: %v", f.Payload)
	}
	if d.Pending() != 0 {
		t.Errorf("expected empty buffer, %d bytes pending", d.Pending())
	}
}

// TestDecodeChunkBoundaries verifies that any chunking of N wire units
// yields exactly N frames with identical payloads.
func TestDecodeChunkBoundaries(t *testing.T) {
	var stream []byte
	var want [][]byte
	for i := 0; i < 5; i++ {
		payload := bytes.Repeat([]byte{byte(i + 1)}, 10+i*7)
		want = append(want, payload)
		stream = append(stream, mustEncodeIngest(t, "CAM0", int64(100*(i+1)), payload)...)
	}

	for _, chunkSize := range []int{1, 2, 3, 7, 16, len(stream)} {
		t.Run(fmt.Sprintf("chunk=%d", chunkSize), func(t *testing.T) {
			d := NewDecoder()
			var got [][]byte
			for off := 0; off < len(stream); off += chunkSize {
				end := off + chunkSize
				if end > len(stream) {
					end = len(stream)
				}
				for _, f := range d.Feed(stream[off:end]) {
					got = append(got, f.Payload)
				}
			}
			if len(got) != len(want) {
				t.Fatalf("expected %d frames, got %d", len(want), len(got))
			}
			for i := range want {
				if !bytes.Equal(got[i], want[i]) {
					t.Errorf("frame %d payload mismatch", i)
				}
			}
		})
	}
}

// TestDecodeMultipleFramesOneDelivery verifies all complete frames are
// drained before returning.
func TestDecodeMultipleFramesOneDelivery(t *testing.T) {
	var stream []byte
	for i := 0; i < 3; i++ {
		stream = append(stream, mustEncodeIngest(t, "CAM0", int64(i+1), []byte("x"))...)
	}
	d := NewDecoder()
	frames := d.Feed(stream)
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames in one Feed, got %d", len(frames))
	}
	for i, f := range frames {
		if f.Timestamp != int64(i+1) {
			t.Errorf("frame %d out of order: ts=%d", i, f.Timestamp)
		}
	}
}

// TestDecodeMalformedMetadata verifies a bad metadata object kills only
// that frame attempt.
func TestDecodeMalformedMetadata(t *testing.T) {
	bad := []byte{0, 0, 0, 5, 'n', 'o', 'p', 'e', '!'}
	good := mustEncodeIngest(t, "CAM1", 42, []byte("ok"))

	d := NewDecoder()
	if frames := d.Feed(bad); len(frames) != 0 {
		t.Fatalf("expected no frames from malformed metadata, got %d", len(frames))
	}
	frames := d.Feed(good)
	if len(frames) != 1 {
		t.Fatalf("decoder did not recover: got %d frames", len(frames))
	}
	if frames[0].CamNo != "CAM1" {
		t.Errorf("wrong frame after recovery: %+v", frames[0])
	}
}

// TestDecodeMissingFields verifies valid JSON without identity fields is
// consumed (payload and all) and dropped.
func TestDecodeMissingFields(t *testing.T) {
	msg, err := EncodeIngest(FrameMeta{Timestamp: 10}, []byte("orphan"))
	if err != nil {
		t.Fatalf("EncodeIngest failed: %v", err)
	}
	good := mustEncodeIngest(t, "CAM2", 11, []byte("kept"))

	d := NewDecoder()
	var frames []string
	for _, f := range d.Feed(append(msg, good...)) {
		frames = append(frames, f.CamNo)
	}
	if len(frames) != 1 || frames[0] != "CAM2" {
		t.Fatalf("expected only CAM2 frame, got %v", frames)
	}
}

// TestOutboundRoundTrip checks the viewer message layout.
func TestOutboundRoundTrip(t *testing.T) {
	payload := []byte("frame-bytes")
	msg, err := Encode("CAM0", 1234, TypePlayback, payload)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	hdr, body, err := DecodeOutbound(msg)
	if err != nil {
		t.Fatalf("DecodeOutbound failed: %v", err)
	}
	if hdr.CamNo != "CAM0" || hdr.Timestamp != 1234 || hdr.Type != TypePlayback {
		t.Errorf("bad header: %+v", hdr)
	}
	if !bytes.Equal(body, payload) {
		t.Errorf("payload mismatch: %q", body)
	}
}

// TestDecodeEmptyPayload allows zero-length payloads.
func TestDecodeEmptyPayload(t *testing.T) {
	msg := mustEncodeIngest(t, "CAM0", 1, nil)
	d := NewDecoder()
	frames := d.Feed(msg)
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if len(frames[0].Payload) != 0 {
		t.Errorf("expected empty payload, got %d bytes", len(frames[0].Payload))
	}
}
