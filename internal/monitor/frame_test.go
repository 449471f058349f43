package monitor

import (
	"bytes"
	"testing"
)

func dialects() []*Dialect {
	return []*Dialect{DialectClassic(), DialectV1(), DialectV2()}
}

func TestRequestRoundTrip(t *testing.T) {
	for _, d := range dialects() {
		req, err := EncodeRequest(d, 42, CmdMemoryGet, []byte{1, 2, 3})
		if err != nil {
			t.Fatalf("%s: encode: %v", d.Name, err)
		}

		id, cmd, body, err := DecodeRequest(d, req)
		if err != nil {
			t.Fatalf("%s: decode: %v", d.Name, err)
		}
		if id != 42 {
			t.Errorf("%s: expected id 42, got %d", d.Name, id)
		}
		if cmd != d.Commands[CmdMemoryGet] {
			t.Errorf("%s: expected command 0x%02x, got 0x%02x", d.Name, d.Commands[CmdMemoryGet], cmd)
		}
		if !bytes.Equal(body, []byte{1, 2, 3}) {
			t.Errorf("%s: body mismatch: %v", d.Name, body)
		}
	}
}

func TestEncodeRequestUnsupportedCommand(t *testing.T) {
	d := DialectClassic()
	if _, err := EncodeRequest(d, 1, CmdDisplayGet, nil); err == nil {
		t.Error("expected error for command missing from classic dialect")
	}
}

func TestResponseRoundTrip(t *testing.T) {
	for _, d := range dialects() {
		orig := &Frame{
			Kind:      RespMemoryGet,
			KindCode:  0x01,
			Status:    0x00,
			RequestID: 7,
			Body:      []byte{0xde, 0xad},
		}
		frames := NewDecoder(d).Feed(EncodeResponse(d, orig))
		if len(frames) != 1 {
			t.Fatalf("%s: expected 1 frame, got %d", d.Name, len(frames))
		}
		f := frames[0]
		if f.Kind != RespMemoryGet || f.Status != 0 || f.RequestID != 7 {
			t.Errorf("%s: header mismatch: %+v", d.Name, f)
		}
		if !bytes.Equal(f.Body, orig.Body) {
			t.Errorf("%s: body mismatch: %v", d.Name, f.Body)
		}
	}
}

func TestDecoderZeroLengthBody(t *testing.T) {
	d := DialectV2()
	ack := &Frame{KindCode: 0x02, RequestID: 3}
	frames := NewDecoder(d).Feed(EncodeResponse(d, ack))
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if len(frames[0].Body) != 0 {
		t.Errorf("expected empty body, got %d bytes", len(frames[0].Body))
	}
}

func TestDecoderPartialFrames(t *testing.T) {
	d := DialectV2()
	wire := EncodeResponse(d, &Frame{
		KindCode:  0x01,
		RequestID: 9,
		Body:      []byte{1, 2, 3, 4, 5},
	})

	// Split at every possible boundary, including mid-header.
	for split := 1; split < len(wire); split++ {
		dec := NewDecoder(d)
		if got := dec.Feed(wire[:split]); len(got) != 0 {
			t.Fatalf("split %d: frame yielded from incomplete data", split)
		}
		frames := dec.Feed(wire[split:])
		if len(frames) != 1 {
			t.Fatalf("split %d: expected 1 frame, got %d", split, len(frames))
		}
		if frames[0].RequestID != 9 || !bytes.Equal(frames[0].Body, []byte{1, 2, 3, 4, 5}) {
			t.Errorf("split %d: frame mismatch: %+v", split, frames[0])
		}
		if dec.Buffered() != 0 {
			t.Errorf("split %d: %d bytes left buffered", split, dec.Buffered())
		}
	}
}

func TestDecoderMultipleFramesOneChunk(t *testing.T) {
	d := DialectV2()
	var wire []byte
	wire = append(wire, EncodeResponse(d, &Frame{KindCode: 0x01, RequestID: 1, Body: []byte{0xaa}})...)
	wire = append(wire, EncodeResponse(d, &Frame{KindCode: 0x02, RequestID: 2})...)

	frames := NewDecoder(d).Feed(wire)
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if frames[0].RequestID != 1 || frames[1].RequestID != 2 {
		t.Errorf("frames out of order: %d, %d", frames[0].RequestID, frames[1].RequestID)
	}
}

func TestDecoderResync(t *testing.T) {
	d := DialectV2()
	wire := append([]byte{0x99}, EncodeResponse(d, &Frame{KindCode: 0x01, RequestID: 5})...)

	frames := NewDecoder(d).Feed(wire)
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame after resync, got %d", len(frames))
	}
	if frames[0].RequestID != 5 {
		t.Errorf("expected id 5, got %d", frames[0].RequestID)
	}
}

func TestDecoderResyncGarbageRun(t *testing.T) {
	d := DialectV2()
	garbage := bytes.Repeat([]byte{0x55}, 64)
	wire := append(garbage, EncodeResponse(d, &Frame{KindCode: 0x81, RequestID: 1})...)

	frames := NewDecoder(d).Feed(wire)
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
}

func TestDecoderAbsurdLengthResyncs(t *testing.T) {
	d := DialectV2()
	// A start marker followed by a huge declared length must not wedge the
	// stream: the decoder drops the marker byte and recovers on the real
	// frame behind it.
	bad := []byte{StartMarker, d.APIVersion, 0xff, 0xff, 0xff, 0xff}
	wire := append(bad, EncodeResponse(d, &Frame{KindCode: 0x81, RequestID: 2})...)

	frames := NewDecoder(d).Feed(wire)
	if len(frames) != 1 || frames[0].RequestID != 2 {
		t.Fatalf("decoder did not recover from absurd length: %d frames", len(frames))
	}
}

func TestAsyncSentinel(t *testing.T) {
	for _, d := range dialects() {
		f := &Frame{KindCode: 0x62, RequestID: sentinelFor(d)}
		frames := NewDecoder(d).Feed(EncodeResponse(d, f))
		if len(frames) != 1 {
			t.Fatalf("%s: expected 1 frame", d.Name)
		}
		if !frames[0].Async(d) {
			t.Errorf("%s: sentinel frame not recognized as async", d.Name)
		}
	}
}
