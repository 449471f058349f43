package monitor

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
)

// Register ids used by the peer for the main CPU. The set is small and has
// been stable across protocol generations, unlike the command codes.
const (
	regA     = 0x00
	regX     = 0x01
	regY     = 0x02
	regPC    = 0x03
	regSP    = 0x04
	regFlags = 0x05
)

// Registers is the 6502 register file.
type Registers struct {
	PC    uint16 `json:"pc"`
	A     byte   `json:"a"`
	X     byte   `json:"x"`
	Y     byte   `json:"y"`
	SP    byte   `json:"sp"`
	Flags byte   `json:"flags"`
}

// StatusFlags is the decoded processor status byte.
type StatusFlags struct {
	Negative  bool `json:"negative"`
	Overflow  bool `json:"overflow"`
	Break     bool `json:"break"`
	Decimal   bool `json:"decimal"`
	Interrupt bool `json:"interrupt"`
	Zero      bool `json:"zero"`
	Carry     bool `json:"carry"`
}

// Status decodes the flag bits NV-BDIZC.
func (r Registers) Status() StatusFlags {
	return StatusFlags{
		Negative:  r.Flags&0x80 != 0,
		Overflow:  r.Flags&0x40 != 0,
		Break:     r.Flags&0x10 != 0,
		Decimal:   r.Flags&0x08 != 0,
		Interrupt: r.Flags&0x04 != 0,
		Zero:      r.Flags&0x02 != 0,
		Carry:     r.Flags&0x01 != 0,
	}
}

// String renders the flags in NV-BDIZC order, with dots for clear bits.
func (f StatusFlags) String() string {
	buf := []byte("........")
	set := []struct {
		on bool
		ch byte
		at int
	}{
		{f.Negative, 'N', 0}, {f.Overflow, 'V', 1},
		{f.Break, 'B', 3}, {f.Decimal, 'D', 4},
		{f.Interrupt, 'I', 5}, {f.Zero, 'Z', 6}, {f.Carry, 'C', 7},
	}
	buf[2] = '-'
	for _, s := range set {
		if s.on {
			buf[s.at] = s.ch
		}
	}
	return string(buf)
}

// Display is one captured emulator frame.
type Display struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	OffsetX     int    `json:"offsetX"`
	OffsetY     int    `json:"offsetY"`
	InnerWidth  int    `json:"innerWidth"`
	InnerHeight int    `json:"innerHeight"`
	BitsPerPix  int    `json:"bitsPerPixel"`
	Pixels      []byte `json:"-"`
}

// PaletteEntry is one RGB palette color.
type PaletteEntry struct {
	R byte `json:"r"`
	G byte `json:"g"`
	B byte `json:"b"`
}

// addressSpace is the top of the peer's fixed 16-bit address space.
const addressSpace = 0x10000

// validateAddr rejects addresses outside the 16-bit space before any I/O.
func validateAddr(addr int) error {
	if addr < 0 || addr >= addressSpace {
		return newError(CodeInvalidAddress, ErrInvalidAddress,
			fmt.Sprintf("address $%X outside $0000-$FFFF", addr),
			"addresses must fit the 16-bit space")
	}
	return nil
}

// validateRange rejects ranges that are out of bounds or inverted.
func validateRange(start, end int) error {
	if err := validateAddr(start); err != nil {
		return err
	}
	if err := validateAddr(end); err != nil {
		return err
	}
	if start > end {
		return newError(CodeInvalidRange, ErrInvalidRange,
			fmt.Sprintf("start $%04X is beyond end $%04X", start, end),
			"swap the range bounds")
	}
	return nil
}

// Ping checks that the emulator answers on the monitor socket.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.send(ctx, CmdPing, nil, RespInvalid)
	return err
}

// ReadMemory returns the bytes in [start, end] of the given memory space.
// Side effects of reads (e.g. on I/O registers) are suppressed.
func (c *Client) ReadMemory(ctx context.Context, start, end int, space MemSpace) ([]byte, error) {
	if err := validateRange(start, end); err != nil {
		return nil, err
	}

	body := make([]byte, 8)
	body[0] = 0 // no side effects
	binary.LittleEndian.PutUint16(body[1:3], uint16(start))
	binary.LittleEndian.PutUint16(body[3:5], uint16(end))
	body[5] = byte(space)
	binary.LittleEndian.PutUint16(body[6:8], 0) // bank: current

	f, err := c.send(ctx, CmdMemoryGet, body, RespInvalid)
	if err != nil {
		return nil, err
	}
	if len(f.Body) < 2 {
		return nil, newError(CodePeerError, ErrShortResponse, "memory response truncated", "")
	}
	n := int(binary.LittleEndian.Uint16(f.Body[0:2]))
	if len(f.Body) < 2+n {
		return nil, newError(CodePeerError, ErrShortResponse,
			fmt.Sprintf("memory response declares %d bytes, carries %d", n, len(f.Body)-2), "")
	}
	return f.Body[2 : 2+n], nil
}

// WriteMemory stores data starting at addr in the given memory space.
func (c *Client) WriteMemory(ctx context.Context, addr int, data []byte, space MemSpace) error {
	if len(data) == 0 {
		return newError(CodeInvalidRange, ErrEmptyPayload,
			"no bytes to write", "supply at least one byte")
	}
	if err := validateAddr(addr); err != nil {
		return err
	}
	if addr+len(data) > addressSpace {
		return newError(CodeInvalidRange, ErrInvalidRange,
			fmt.Sprintf("write of %d bytes at $%04X spills past $FFFF", len(data), addr),
			"shorten the payload or lower the address")
	}

	body := make([]byte, 8+len(data))
	body[0] = 0
	binary.LittleEndian.PutUint16(body[1:3], uint16(addr))
	binary.LittleEndian.PutUint16(body[3:5], uint16(addr+len(data)-1))
	body[5] = byte(space)
	binary.LittleEndian.PutUint16(body[6:8], 0)
	copy(body[8:], data)

	_, err := c.send(ctx, CmdMemorySet, body, RespInvalid)
	return err
}

// GetRegisters reads the register file of the given memory space. Register
// replies may arrive tagged as unsolicited, so the call also claims the
// oldest async register-info frame.
func (c *Client) GetRegisters(ctx context.Context, space MemSpace) (*Registers, error) {
	f, err := c.send(ctx, CmdRegistersGet, []byte{byte(space)}, RespRegisterInfo)
	if err != nil {
		return nil, err
	}
	return decodeRegisters(f.Body)
}

// SetRegisters writes named register values. Names are case-insensitive:
// pc, a, x, y, sp, flags.
func (c *Client) SetRegisters(ctx context.Context, values map[string]uint16, space MemSpace) error {
	ids := map[string]byte{
		"a": regA, "x": regX, "y": regY,
		"pc": regPC, "sp": regSP, "flags": regFlags,
	}

	body := []byte{byte(space), 0, 0}
	count := 0
	for name, value := range values {
		id, ok := ids[strings.ToLower(name)]
		if !ok {
			return newError(CodeInvalidRange, fmt.Errorf("unknown register %q", name),
				fmt.Sprintf("unknown register %q", name),
				"valid registers: pc, a, x, y, sp, flags")
		}
		item := make([]byte, 4)
		item[0] = 3 // item size after this byte
		item[1] = id
		binary.LittleEndian.PutUint16(item[2:4], value)
		body = append(body, item...)
		count++
	}
	binary.LittleEndian.PutUint16(body[1:3], uint16(count))

	_, err := c.send(ctx, CmdRegistersSet, body, RespInvalid)
	return err
}

// decodeRegisters parses count + (size, id, value) tuples into named form.
func decodeRegisters(body []byte) (*Registers, error) {
	if len(body) < 2 {
		return nil, newError(CodePeerError, ErrShortResponse, "register response truncated", "")
	}
	count := int(binary.LittleEndian.Uint16(body[0:2]))
	regs := &Registers{}
	off := 2
	for i := 0; i < count; i++ {
		if off >= len(body) {
			return nil, newError(CodePeerError, ErrShortResponse, "register list truncated", "")
		}
		size := int(body[off])
		if off+1+size > len(body) || size < 3 {
			return nil, newError(CodePeerError, ErrShortResponse, "register item truncated", "")
		}
		id := body[off+1]
		value := binary.LittleEndian.Uint16(body[off+2 : off+4])
		switch id {
		case regA:
			regs.A = byte(value)
		case regX:
			regs.X = byte(value)
		case regY:
			regs.Y = byte(value)
		case regPC:
			regs.PC = value
		case regSP:
			regs.SP = byte(value)
		case regFlags:
			regs.Flags = byte(value)
		}
		off += 1 + size
	}
	return regs, nil
}

// Step executes count instructions. stepOver treats subroutine calls as a
// single step. The emulator reports the resulting stop via an async frame,
// which flips the run state off.
func (c *Client) Step(ctx context.Context, count int, stepOver bool) error {
	if count < 1 {
		return newError(CodeInvalidRange, ErrInvalidRange,
			"step count must be at least 1", "")
	}
	body := make([]byte, 3)
	if stepOver {
		body[0] = 1
	}
	binary.LittleEndian.PutUint16(body[1:3], uint16(count))
	if _, err := c.send(ctx, CmdAdvance, body, RespInvalid); err != nil {
		return err
	}
	c.setRunning(false)
	return nil
}

// StepOut runs until the current subroutine returns.
func (c *Client) StepOut(ctx context.Context) error {
	if _, err := c.send(ctx, CmdExecuteUntilReturn, nil, RespInvalid); err != nil {
		return err
	}
	c.setRunning(false)
	return nil
}

// Continue resumes execution (exits the monitor).
func (c *Client) Continue(ctx context.Context) error {
	if _, err := c.send(ctx, CmdExit, nil, RespInvalid); err != nil {
		return err
	}
	c.setRunning(true)
	return nil
}

// Reset restarts the machine. A hard reset clears memory.
func (c *Client) Reset(ctx context.Context, hard bool) error {
	body := []byte{0}
	if hard {
		body[0] = 1
	}
	_, err := c.send(ctx, CmdReset, body, RespInvalid)
	return err
}

// CheckpointOptions tunes SetCheckpoint behavior.
type CheckpointOptions struct {
	// Stop halts execution on hit; false makes a tracepoint.
	Stop bool
	// Enabled arms the checkpoint immediately.
	Enabled bool
	// Temporary removes the checkpoint after its first hit.
	Temporary bool
}

// DefaultCheckpointOptions is a stopping, enabled, persistent checkpoint.
func DefaultCheckpointOptions() CheckpointOptions {
	return CheckpointOptions{Stop: true, Enabled: true}
}

// SetBreakpoint arms an execution checkpoint over [start, end] and records
// the peer-issued id locally.
func (c *Client) SetBreakpoint(ctx context.Context, start, end int, opts CheckpointOptions) (Checkpoint, error) {
	return c.setCheckpoint(ctx, start, end, OpExec, opts)
}

// SetWatchpoint arms a load and/or store checkpoint over [start, end].
func (c *Client) SetWatchpoint(ctx context.Context, start, end int, op CheckpointOp, opts CheckpointOptions) (Checkpoint, error) {
	if op&(OpLoad|OpStore) == 0 {
		return Checkpoint{}, newError(CodeInvalidRange, ErrInvalidRange,
			"watchpoint needs a load or store operation", "use load, store, or both")
	}
	return c.setCheckpoint(ctx, start, end, op, opts)
}

func (c *Client) setCheckpoint(ctx context.Context, start, end int, op CheckpointOp, opts CheckpointOptions) (Checkpoint, error) {
	if err := validateRange(start, end); err != nil {
		return Checkpoint{}, err
	}

	body := make([]byte, 8)
	binary.LittleEndian.PutUint16(body[0:2], uint16(start))
	binary.LittleEndian.PutUint16(body[2:4], uint16(end))
	if opts.Stop {
		body[4] = 1
	}
	if opts.Enabled {
		body[5] = 1
	}
	body[6] = byte(op)
	if opts.Temporary {
		body[7] = 1
	}

	// Checkpoint confirmations may arrive tagged as unsolicited frames.
	f, err := c.send(ctx, CmdCheckpointSet, body, RespCheckpointInfo)
	if err != nil {
		return Checkpoint{}, err
	}
	cp, err := decodeCheckpointInfo(f.Body)
	if err != nil {
		return Checkpoint{}, newError(CodePeerError, err, "bad checkpoint response", "")
	}
	c.checkpoints.put(cp)
	return cp, nil
}

// DeleteCheckpoint removes a checkpoint. The peer is authoritative: the
// delete is issued even when the id is absent from the local table.
func (c *Client) DeleteCheckpoint(ctx context.Context, id uint32) error {
	body := make([]byte, 4)
	binary.LittleEndian.PutUint32(body, id)
	if _, err := c.send(ctx, CmdCheckpointDelete, body, RespInvalid); err != nil {
		return err
	}
	c.checkpoints.remove(id)
	return nil
}

// ToggleCheckpoint enables or disables a checkpoint.
func (c *Client) ToggleCheckpoint(ctx context.Context, id uint32, enabled bool) error {
	body := make([]byte, 5)
	binary.LittleEndian.PutUint32(body, id)
	if enabled {
		body[4] = 1
	}
	if _, err := c.send(ctx, CmdCheckpointToggle, body, RespInvalid); err != nil {
		return err
	}
	if cp, ok := c.checkpoints.get(id); ok {
		cp.Enabled = enabled
		c.checkpoints.put(cp)
	}
	return nil
}

// ListCheckpoints returns the locally tracked checkpoints in id order.
func (c *Client) ListCheckpoints() []Checkpoint {
	return c.checkpoints.list()
}

// GetDisplay captures the current emulator frame. useIndexedPalette selects
// 8-bit indexed pixels instead of direct color.
func (c *Client) GetDisplay(ctx context.Context, useIndexedPalette bool) (*Display, error) {
	body := []byte{0, 0}
	if useIndexedPalette {
		body[1] = 1
	}
	f, err := c.send(ctx, CmdDisplayGet, body, RespInvalid)
	if err != nil {
		return nil, err
	}
	return decodeDisplay(f.Body)
}

// decodeDisplay parses the nested length fields of a display response:
//
//	infoLen(4) width(2) height(2) xOff(2) yOff(2) innerW(2) innerH(2)
//	bpp(1) bufLen(4) pixels(bufLen)
func decodeDisplay(body []byte) (*Display, error) {
	if len(body) < 4 {
		return nil, newError(CodePeerError, ErrShortResponse, "display response truncated", "")
	}
	infoLen := int(binary.LittleEndian.Uint32(body[0:4]))
	if infoLen < 13 || len(body) < 4+infoLen+4 {
		return nil, newError(CodePeerError, ErrShortResponse, "display header truncated", "")
	}
	info := body[4 : 4+infoLen]
	d := &Display{
		Width:       int(binary.LittleEndian.Uint16(info[0:2])),
		Height:      int(binary.LittleEndian.Uint16(info[2:4])),
		OffsetX:     int(binary.LittleEndian.Uint16(info[4:6])),
		OffsetY:     int(binary.LittleEndian.Uint16(info[6:8])),
		InnerWidth:  int(binary.LittleEndian.Uint16(info[8:10])),
		InnerHeight: int(binary.LittleEndian.Uint16(info[10:12])),
		BitsPerPix:  int(info[12]),
	}
	bufStart := 4 + infoLen
	bufLen := int(binary.LittleEndian.Uint32(body[bufStart : bufStart+4]))
	if len(body) < bufStart+4+bufLen {
		return nil, newError(CodePeerError, ErrShortResponse, "display buffer truncated", "")
	}
	d.Pixels = body[bufStart+4 : bufStart+4+bufLen]
	return d, nil
}

// GetPalette returns the emulator's active palette.
func (c *Client) GetPalette(ctx context.Context) ([]PaletteEntry, error) {
	f, err := c.send(ctx, CmdPaletteGet, []byte{0}, RespInvalid)
	if err != nil {
		return nil, err
	}
	body := f.Body
	if len(body) < 2 {
		return nil, newError(CodePeerError, ErrShortResponse, "palette response truncated", "")
	}
	count := int(binary.LittleEndian.Uint16(body[0:2]))
	entries := make([]PaletteEntry, 0, count)
	off := 2
	for i := 0; i < count; i++ {
		if off >= len(body) {
			return nil, newError(CodePeerError, ErrShortResponse, "palette list truncated", "")
		}
		size := int(body[off])
		if size < 3 || off+1+size > len(body) {
			return nil, newError(CodePeerError, ErrShortResponse, "palette item truncated", "")
		}
		entries = append(entries, PaletteEntry{
			R: body[off+1], G: body[off+2], B: body[off+3],
		})
		off += 1 + size
	}
	return entries, nil
}

// SaveSnapshot asks the emulator to dump machine state to path. The path is
// opaque to the client and resolved on the emulator's filesystem.
func (c *Client) SaveSnapshot(ctx context.Context, path string) error {
	body := make([]byte, 0, 3+len(path))
	body = append(body, 1, 1) // save ROMs, save disks
	body = append(body, byte(len(path)))
	body = append(body, path...)
	_, err := c.send(ctx, CmdDump, body, RespInvalid)
	return err
}

// LoadSnapshot restores machine state from path on the emulator's side.
func (c *Client) LoadSnapshot(ctx context.Context, path string) error {
	body := make([]byte, 0, 1+len(path))
	body = append(body, byte(len(path)))
	body = append(body, path...)
	_, err := c.send(ctx, CmdUndump, body, RespInvalid)
	return err
}

// Autostart loads and optionally runs a program or disk image.
func (c *Client) Autostart(ctx context.Context, path string, run bool, fileIndex int) error {
	body := make([]byte, 0, 4+len(path))
	if run {
		body = append(body, 1)
	} else {
		body = append(body, 0)
	}
	var idx [2]byte
	binary.LittleEndian.PutUint16(idx[:], uint16(fileIndex))
	body = append(body, idx[:]...)
	body = append(body, byte(len(path)))
	body = append(body, path...)
	_, err := c.send(ctx, CmdAutostart, body, RespInvalid)
	return err
}

// TypeText feeds already-encoded PETSCII bytes to the emulator keyboard.
func (c *Client) TypeText(ctx context.Context, petscii []byte) error {
	if len(petscii) == 0 {
		return newError(CodeInvalidRange, ErrEmptyPayload,
			"nothing to type", "supply at least one character")
	}
	body := make([]byte, 0, 1+len(petscii))
	body = append(body, byte(len(petscii)))
	body = append(body, petscii...)
	_, err := c.send(ctx, CmdKeyboardFeed, body, RespInvalid)
	return err
}

// Info returns the emulator's version string.
func (c *Client) Info(ctx context.Context) (string, error) {
	f, err := c.send(ctx, CmdInfo, nil, RespInvalid)
	if err != nil {
		return "", err
	}
	body := f.Body
	if len(body) < 1 {
		return "", newError(CodePeerError, ErrShortResponse, "info response truncated", "")
	}
	n := int(body[0])
	if len(body) < 1+n {
		return "", newError(CodePeerError, ErrShortResponse, "info string truncated", "")
	}
	parts := make([]string, 0, n)
	for _, b := range body[1 : 1+n] {
		parts = append(parts, fmt.Sprintf("%d", b))
	}
	return strings.Join(parts, "."), nil
}
