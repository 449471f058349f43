package monitor

import (
	"encoding/binary"
	"fmt"
)

// maxBodyLength caps a frame's declared body size (1 MiB) so a corrupt
// header cannot make the decoder allocate or wait forever.
const maxBodyLength = 1 << 20

// Frame is one complete response message extracted from the stream. It is
// constructed by the Decoder and consumed immediately by the correlator.
type Frame struct {
	Kind      ResponseKind
	KindCode  byte
	Status    byte
	RequestID uint32
	Body      []byte
}

// Async reports whether the frame carries the unsolicited sentinel id.
func (f *Frame) Async(d *Dialect) bool {
	return f.RequestID == sentinelFor(d)
}

// sentinelFor narrows the dialect's async sentinel to the wire id width.
func sentinelFor(d *Dialect) uint32 {
	if d.IDSize == 1 {
		return d.AsyncID & 0xff
	}
	return d.AsyncID
}

// Decoder extracts frames from an accumulating byte stream. Feed appends
// newly read bytes; Frames drains every complete frame, leaving a trailing
// partial frame buffered for the next read. A Decoder is not safe for
// concurrent use; the client's read loop is its only caller.
type Decoder struct {
	dialect *Dialect
	buf     []byte
}

// NewDecoder creates a decoder for the given dialect.
func NewDecoder(d *Dialect) *Decoder {
	return &Decoder{dialect: d}
}

// headerSize is the full response header length for the dialect.
func (dec *Decoder) headerSize() int {
	// start + version + length(4) + kind + status + id
	return 1 + 1 + 4 + 1 + 1 + dec.dialect.IDSize
}

// Feed appends bytes to the stream buffer and returns all frames completed
// by them, in arrival order.
func (dec *Decoder) Feed(p []byte) []*Frame {
	dec.buf = append(dec.buf, p...)

	var frames []*Frame
	for {
		f, ok := dec.next()
		if !ok {
			return frames
		}
		frames = append(frames, f)
	}
}

// Buffered returns the number of bytes held for an incomplete frame.
func (dec *Decoder) Buffered() int {
	return len(dec.buf)
}

// Reset discards any buffered partial frame.
func (dec *Decoder) Reset() {
	dec.buf = nil
}

// next extracts a single frame if the buffer holds a complete one. A byte
// that is not a start marker is dropped so the stream can resync; the buffer
// shrinks by at least one byte per resync iteration, so this terminates.
func (dec *Decoder) next() (*Frame, bool) {
	hdr := dec.headerSize()
	for {
		if len(dec.buf) < hdr {
			return nil, false
		}
		if dec.buf[0] != StartMarker {
			dec.buf = dec.buf[1:]
			continue
		}

		bodyLen := binary.LittleEndian.Uint32(dec.buf[2:6])
		if bodyLen > maxBodyLength {
			// Treat an absurd length as line noise and resync.
			dec.buf = dec.buf[1:]
			continue
		}
		total := hdr + int(bodyLen)
		if len(dec.buf) < total {
			return nil, false
		}

		f := dec.parseHeader(dec.buf[6:hdr])
		if bodyLen > 0 {
			f.Body = make([]byte, bodyLen)
			copy(f.Body, dec.buf[hdr:total])
		}
		dec.buf = dec.buf[total:]
		return f, true
	}
}

// parseHeader decodes the kind/status/id portion of a response header.
func (dec *Decoder) parseHeader(h []byte) *Frame {
	d := dec.dialect
	f := &Frame{}
	if d.IDFirst {
		f.RequestID = readID(h[:d.IDSize], d.IDSize)
		f.KindCode = h[d.IDSize]
		f.Status = h[d.IDSize+1]
	} else {
		f.KindCode = h[0]
		f.Status = h[1]
		f.RequestID = readID(h[2:2+d.IDSize], d.IDSize)
	}
	f.Kind = d.responseKind(f.KindCode)
	return f
}

func readID(p []byte, size int) uint32 {
	if size == 1 {
		return uint32(p[0])
	}
	return binary.LittleEndian.Uint32(p)
}

func putID(p []byte, id uint32, size int) {
	if size == 1 {
		p[0] = byte(id)
		return
	}
	binary.LittleEndian.PutUint32(p, id)
}

// EncodeRequest frames a command for the wire:
//
//	START(1) | VERSION(1) | BODY_LENGTH(4, LE) | REQUEST_ID(1|4) | COMMAND(1) | BODY
func EncodeRequest(d *Dialect, id uint32, cmd Command, body []byte) ([]byte, error) {
	code, ok := d.commandCode(cmd)
	if !ok {
		return nil, fmt.Errorf("command %s not available in protocol %s", cmd, d.Name)
	}

	buf := make([]byte, 0, 6+d.IDSize+1+len(body))
	buf = append(buf, StartMarker, d.APIVersion)

	var lenField [4]byte
	binary.LittleEndian.PutUint32(lenField[:], uint32(len(body)))
	buf = append(buf, lenField[:]...)

	idField := make([]byte, d.IDSize)
	putID(idField, id, d.IDSize)
	buf = append(buf, idField...)
	buf = append(buf, code)
	buf = append(buf, body...)
	return buf, nil
}

// EncodeResponse frames a response message. The client never sends
// responses; this exists so tests and mock peers share one encoder with the
// decoder they exercise.
func EncodeResponse(d *Dialect, f *Frame) []byte {
	buf := make([]byte, 0, 6+2+d.IDSize+len(f.Body))
	buf = append(buf, StartMarker, d.APIVersion)

	var lenField [4]byte
	binary.LittleEndian.PutUint32(lenField[:], uint32(len(f.Body)))
	buf = append(buf, lenField[:]...)

	idField := make([]byte, d.IDSize)
	putID(idField, f.RequestID, d.IDSize)
	if d.IDFirst {
		buf = append(buf, idField...)
		buf = append(buf, f.KindCode, f.Status)
	} else {
		buf = append(buf, f.KindCode, f.Status)
		buf = append(buf, idField...)
	}
	buf = append(buf, f.Body...)
	return buf
}

// DecodeRequest parses a framed request. Mock peers in tests use it to
// check what the client put on the wire.
func DecodeRequest(d *Dialect, p []byte) (id uint32, cmd byte, body []byte, err error) {
	hdr := 6 + d.IDSize + 1
	if len(p) < hdr {
		return 0, 0, nil, fmt.Errorf("request too short: %d bytes", len(p))
	}
	if p[0] != StartMarker {
		return 0, 0, nil, fmt.Errorf("bad start marker 0x%02x", p[0])
	}
	bodyLen := binary.LittleEndian.Uint32(p[2:6])
	if len(p) < hdr+int(bodyLen) {
		return 0, 0, nil, fmt.Errorf("request truncated: declared %d body bytes", bodyLen)
	}
	id = readID(p[6:6+d.IDSize], d.IDSize)
	cmd = p[6+d.IDSize]
	body = p[hdr : hdr+int(bodyLen)]
	return id, cmd, body, nil
}
