package monitor

import (
	"context"
	"encoding/binary"
	"testing"
	"time"
)

// checkpointPeer answers checkpoint-set requests with a confirmation frame
// carrying a fresh id, and acks everything else.
func checkpointPeer(t *testing.T, d *Dialect) *mockPeer {
	t.Helper()
	var nextID uint32 = 100
	return startMockPeer(t, d, func(cmd byte, id uint32, body []byte) []*Frame {
		if cmd != d.Commands[CmdCheckpointSet] {
			return []*Frame{{KindCode: cmd, RequestID: id}}
		}
		nextID++
		cp := Checkpoint{
			ID:      nextID,
			Start:   binary.LittleEndian.Uint16(body[0:2]),
			End:     binary.LittleEndian.Uint16(body[2:4]),
			Stop:    body[4] != 0,
			Enabled: body[5] != 0,
			Op:      CheckpointOp(body[6]),
		}
		cp.Temporary = body[7] != 0
		// Confirmations arrive as async-tagged checkpoint-info frames.
		return []*Frame{{KindCode: 0x11, RequestID: d.AsyncID, Body: encodeCheckpointInfo(cp)}}
	})
}

func TestSetWatchpointThenDelete(t *testing.T) {
	d := DialectV2()
	p := checkpointPeer(t, d)
	c := connectClient(t, p)
	ctx := context.Background()

	cp, err := c.SetWatchpoint(ctx, 0xd020, 0xd020, OpStore, DefaultCheckpointOptions())
	if err != nil {
		t.Fatalf("setWatchpoint: %v", err)
	}
	if cp.Start != 0xd020 || cp.End != 0xd020 || cp.Op != OpStore {
		t.Errorf("checkpoint mismatch: %+v", cp)
	}
	if got := c.ListCheckpoints(); len(got) != 1 || got[0].ID != cp.ID {
		t.Fatalf("expected 1 tracked checkpoint, got %+v", got)
	}

	if err := c.DeleteCheckpoint(ctx, cp.ID); err != nil {
		t.Fatalf("deleteCheckpoint: %v", err)
	}
	if got := c.ListCheckpoints(); len(got) != 0 {
		t.Errorf("expected empty checkpoint table, got %+v", got)
	}
}

func TestSetBreakpointRangeValidation(t *testing.T) {
	d := DialectV2()
	p := checkpointPeer(t, d)
	c := connectClient(t, p)

	if _, err := c.SetBreakpoint(context.Background(), 0xc000, 0xb000, DefaultCheckpointOptions()); err == nil {
		t.Error("expected range validation error")
	}
	if _, err := c.SetWatchpoint(context.Background(), 0x1000, 0x1000, 0, DefaultCheckpointOptions()); err == nil {
		t.Error("expected error for watchpoint without load/store")
	}
}

func TestDeleteCheckpointIdempotent(t *testing.T) {
	d := DialectV2()
	p := startMockPeer(t, d, nil)
	c := connectClient(t, p)

	// The id is unknown locally; the delete must still reach the peer.
	if err := c.DeleteCheckpoint(context.Background(), 12345); err != nil {
		t.Fatalf("delete of untracked id: %v", err)
	}
	if p.requestCount() != 1 {
		t.Errorf("expected delete on the wire, saw %d requests", p.requestCount())
	}
}

func TestToggleCheckpointUpdatesTable(t *testing.T) {
	d := DialectV2()
	p := checkpointPeer(t, d)
	c := connectClient(t, p)
	ctx := context.Background()

	cp, err := c.SetBreakpoint(ctx, 0xc000, 0xc000, DefaultCheckpointOptions())
	if err != nil {
		t.Fatalf("setBreakpoint: %v", err)
	}
	if err := c.ToggleCheckpoint(ctx, cp.ID, false); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	got := c.ListCheckpoints()
	if len(got) != 1 || got[0].Enabled {
		t.Errorf("expected disabled checkpoint, got %+v", got)
	}
}

func TestTemporaryCheckpointEvictedOnHit(t *testing.T) {
	d := DialectV2()
	p := checkpointPeer(t, d)
	c := connectClient(t, p)
	ctx := context.Background()

	opts := DefaultCheckpointOptions()
	opts.Temporary = true
	cp, err := c.SetBreakpoint(ctx, 0xc000, 0xc000, opts)
	if err != nil {
		t.Fatalf("setBreakpoint: %v", err)
	}
	if len(c.ListCheckpoints()) != 1 {
		t.Fatal("temporary checkpoint not tracked after set")
	}

	hits := make(chan Checkpoint, 1)
	c.OnCheckpointHit(func(hit Checkpoint) { hits <- hit })

	// The peer consumes the temporary checkpoint and reports the hit
	// out-of-band; the local table must not drift.
	hit := cp
	hit.Hit = true
	hit.HitCount = 1
	p.push(&Frame{KindCode: 0x11, RequestID: d.AsyncID, Body: encodeCheckpointInfo(hit)})

	select {
	case got := <-hits:
		if got.ID != cp.ID || !got.Hit {
			t.Errorf("hit mismatch: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no checkpoint-hit event")
	}
	if got := c.ListCheckpoints(); len(got) != 0 {
		t.Errorf("temporary checkpoint still tracked after hit: %+v", got)
	}
}

func TestPersistentCheckpointHitUpdatesCounts(t *testing.T) {
	d := DialectV2()
	p := checkpointPeer(t, d)
	c := connectClient(t, p)

	cp, err := c.SetBreakpoint(context.Background(), 0xc000, 0xc010, DefaultCheckpointOptions())
	if err != nil {
		t.Fatalf("setBreakpoint: %v", err)
	}

	hits := make(chan Checkpoint, 1)
	c.OnCheckpointHit(func(hit Checkpoint) { hits <- hit })

	hit := cp
	hit.Hit = true
	hit.HitCount = 3
	p.push(&Frame{KindCode: 0x11, RequestID: d.AsyncID, Body: encodeCheckpointInfo(hit)})

	select {
	case <-hits:
	case <-time.After(time.Second):
		t.Fatal("no checkpoint-hit event")
	}
	got := c.ListCheckpoints()
	if len(got) != 1 || got[0].HitCount != 3 {
		t.Errorf("hit count not tracked: %+v", got)
	}
}
