package monitor

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
)

// Checkpoint is a peer-side breakpoint or watchpoint. The id is issued by
// the emulator; the client keeps a local table because the peer offers no
// reliable enumerate-all command across protocol generations.
type Checkpoint struct {
	ID          uint32       `json:"id"`
	Start       uint16       `json:"start"`
	End         uint16       `json:"end"`
	Stop        bool         `json:"stop"`
	Enabled     bool         `json:"enabled"`
	Temporary   bool         `json:"temporary"`
	Op          CheckpointOp `json:"-"`
	HitCount    uint32       `json:"hitCount"`
	IgnoreCount uint32       `json:"ignoreCount"`
	Memspace    MemSpace     `json:"-"`

	// Hit is set on checkpoint-info frames reporting the checkpoint that
	// halted execution.
	Hit bool `json:"hit,omitempty"`
}

// checkpointTable tracks checkpoints by id. Mutation happens from facade
// operations and from async checkpoint-hit frames on the read loop.
type checkpointTable struct {
	mu   sync.RWMutex
	byID map[uint32]Checkpoint
}

func (t *checkpointTable) init() {
	t.byID = make(map[uint32]Checkpoint)
}

func (t *checkpointTable) put(cp Checkpoint) {
	t.mu.Lock()
	cp.Hit = false
	t.byID[cp.ID] = cp
	t.mu.Unlock()
}

func (t *checkpointTable) remove(id uint32) {
	t.mu.Lock()
	delete(t.byID, id)
	t.mu.Unlock()
}

func (t *checkpointTable) list() []Checkpoint {
	t.mu.RLock()
	out := make([]Checkpoint, 0, len(t.byID))
	for _, cp := range t.byID {
		out = append(out, cp)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *checkpointTable) get(id uint32) (Checkpoint, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cp, ok := t.byID[id]
	return cp, ok
}

// checkpointInfoLen is the fixed body size of a checkpoint-info frame.
const checkpointInfoLen = 23

// decodeCheckpointInfo parses a checkpoint-info body:
//
//	id(4) hit(1) start(2) end(2) stop(1) enabled(1) op(1) temp(1)
//	hitCount(4) ignoreCount(4) hasCondition(1) memspace(1)
func decodeCheckpointInfo(body []byte) (Checkpoint, error) {
	if len(body) < checkpointInfoLen {
		return Checkpoint{}, fmt.Errorf("checkpoint info: %w: %d bytes", ErrShortResponse, len(body))
	}
	return Checkpoint{
		ID:          binary.LittleEndian.Uint32(body[0:4]),
		Hit:         body[4] != 0,
		Start:       binary.LittleEndian.Uint16(body[5:7]),
		End:         binary.LittleEndian.Uint16(body[7:9]),
		Stop:        body[9] != 0,
		Enabled:     body[10] != 0,
		Op:          CheckpointOp(body[11]),
		Temporary:   body[12] != 0,
		HitCount:    binary.LittleEndian.Uint32(body[13:17]),
		IgnoreCount: binary.LittleEndian.Uint32(body[17:21]),
		Memspace:    MemSpace(body[22]),
	}, nil
}
