package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"camdvr/internal/logging"
	"camdvr/internal/models"
)

// Wire format, camera -> server (repeated):
//
//	[4-byte BE metadata length][JSON metadata][metadata.size payload bytes]
//
// Wire format, server -> viewer (one websocket message each):
//
//	[4-byte BE header length][JSON header][payload bytes]
const (
	headerLenSize = 4

	// Sanity cap on the declared metadata length. A stream that declares
	// more than this is out of sync and gets resynchronized at the next
	// length prefix.
	maxMetadataLen = 64 << 10
)

// Message type tags on outbound headers.
const (
	TypeLive     = "live"
	TypePlayback = "playback"
)

// FrameMeta is the ingest metadata object.
type FrameMeta struct {
	CamNo     string `json:"camNo"`
	Timestamp int64  `json:"timestamp"`
	Size      int    `json:"size"`
	File      string `json:"file,omitempty"`
}

// OutboundHeader precedes every frame sent to a viewer.
type OutboundHeader struct {
	CamNo     string `json:"camNo"`
	Timestamp int64  `json:"timestamp"`
	Type      string `json:"type"`
}

type decodeState int

const (
	awaitHeaderLen decodeState = iota
	awaitMetadata
	awaitPayload
)

// Decoder is a pull-based decoder over an accumulating byte buffer. Each
// camera connection owns one; it is not safe for concurrent use.
type Decoder struct {
	buf     []byte
	state   decodeState
	metaLen int
	meta    FrameMeta
	discard bool // metadata was unusable, consume the payload and drop it
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends b to the internal buffer and decodes every complete frame
// in it. Partial deliveries are buffered; malformed metadata aborts only
// the current frame attempt.
func (d *Decoder) Feed(b []byte) []models.Frame {
	d.buf = append(d.buf, b...)

	var frames []models.Frame
	for {
		switch d.state {
		case awaitHeaderLen:
			if len(d.buf) < headerLenSize {
				return frames
			}
			l := int(binary.BigEndian.Uint32(d.buf[:headerLenSize]))
			d.buf = d.buf[headerLenSize:]
			if l == 0 || l > maxMetadataLen {
				logging.Warnf("[wire] bad metadata length %d, waiting for resync", l)
				continue
			}
			d.metaLen = l
			d.state = awaitMetadata

		case awaitMetadata:
			if len(d.buf) < d.metaLen {
				return frames
			}
			raw := d.buf[:d.metaLen]
			d.buf = d.buf[d.metaLen:]

			d.meta = FrameMeta{}
			d.discard = false
			if err := json.Unmarshal(raw, &d.meta); err != nil {
				logging.Warnf("[wire] invalid frame metadata: %v", err)
				d.state = awaitHeaderLen
				continue
			}
			if d.meta.Size < 0 {
				logging.Warnf("[wire] negative payload size %d", d.meta.Size)
				d.state = awaitHeaderLen
				continue
			}
			if d.meta.CamNo == "" || d.meta.Timestamp <= 0 {
				// Identity fields missing but the declared size is usable:
				// consume the payload to stay aligned, drop the frame.
				logging.Warnf("[wire] frame metadata missing camNo/timestamp, dropping frame")
				d.discard = true
			}
			d.state = awaitPayload

		case awaitPayload:
			if len(d.buf) < d.meta.Size {
				return frames
			}
			payload := make([]byte, d.meta.Size)
			copy(payload, d.buf[:d.meta.Size])
			d.buf = d.buf[d.meta.Size:]
			d.state = awaitHeaderLen

			if !d.discard {
				frames = append(frames, models.Frame{
					CamNo:     d.meta.CamNo,
					Timestamp: d.meta.Timestamp,
					FileHint:  d.meta.File,
					Payload:   payload,
				})
			}
		}
	}
}

// Pending returns the number of buffered, not yet consumed bytes.
func (d *Decoder) Pending() int {
	return len(d.buf)
}

// Encode builds one outbound viewer message. The payload carries no
// length prefix; the websocket message boundary frames it.
func Encode(camNo string, timestamp int64, typ string, payload []byte) ([]byte, error) {
	header, err := json.Marshal(OutboundHeader{CamNo: camNo, Timestamp: timestamp, Type: typ})
	if err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}
	msg := make([]byte, headerLenSize+len(header)+len(payload))
	binary.BigEndian.PutUint32(msg[:headerLenSize], uint32(len(header)))
	copy(msg[headerLenSize:], header)
	copy(msg[headerLenSize+len(header):], payload)
	return msg, nil
}

// EncodeIngest builds one camera-side ingest unit. Used by the frame
// source simulator and the ingest tests.
func EncodeIngest(meta FrameMeta, payload []byte) ([]byte, error) {
	meta.Size = len(payload)
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	msg := make([]byte, headerLenSize+len(raw)+len(payload))
	binary.BigEndian.PutUint32(msg[:headerLenSize], uint32(len(raw)))
	copy(msg[headerLenSize:], raw)
	copy(msg[headerLenSize+len(raw):], payload)
	return msg, nil
}

// DecodeOutbound splits a viewer message back into header and payload.
// The viewer page does this in the browser; the Go side uses it in tests
// and in the CLI client.
func DecodeOutbound(msg []byte) (OutboundHeader, []byte, error) {
	var hdr OutboundHeader
	if len(msg) < headerLenSize {
		return hdr, nil, fmt.Errorf("message too short: %d bytes", len(msg))
	}
	l := int(binary.BigEndian.Uint32(msg[:headerLenSize]))
	if len(msg) < headerLenSize+l {
		return hdr, nil, fmt.Errorf("truncated header: want %d bytes, have %d", l, len(msg)-headerLenSize)
	}
	if err := json.Unmarshal(msg[headerLenSize:headerLenSize+l], &hdr); err != nil {
		return hdr, nil, fmt.Errorf("decode header: %w", err)
	}
	return hdr, msg[headerLenSize+l:], nil
}
