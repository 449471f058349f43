package monitor

// Command identifies a request operation. The numeric code sent on the wire
// depends on the active Dialect; Command values themselves are stable across
// protocol generations.
type Command int

const (
	CmdInvalid Command = iota
	CmdMemoryGet
	CmdMemorySet
	CmdCheckpointGet
	CmdCheckpointSet
	CmdCheckpointDelete
	CmdCheckpointList
	CmdCheckpointToggle
	CmdConditionSet
	CmdRegistersGet
	CmdRegistersSet
	CmdDump
	CmdUndump
	CmdResourceGet
	CmdResourceSet
	CmdAdvance
	CmdKeyboardFeed
	CmdExecuteUntilReturn
	CmdPing
	CmdBanksAvailable
	CmdRegistersAvailable
	CmdDisplayGet
	CmdInfo
	CmdPaletteGet
	CmdExit
	CmdQuit
	CmdReset
	CmdAutostart
)

// String returns the command name.
func (c Command) String() string {
	names := map[Command]string{
		CmdInvalid:            "invalid",
		CmdMemoryGet:          "memoryGet",
		CmdMemorySet:          "memorySet",
		CmdCheckpointGet:      "checkpointGet",
		CmdCheckpointSet:      "checkpointSet",
		CmdCheckpointDelete:   "checkpointDelete",
		CmdCheckpointList:     "checkpointList",
		CmdCheckpointToggle:   "checkpointToggle",
		CmdConditionSet:       "conditionSet",
		CmdRegistersGet:       "registersGet",
		CmdRegistersSet:       "registersSet",
		CmdDump:               "dump",
		CmdUndump:             "undump",
		CmdResourceGet:        "resourceGet",
		CmdResourceSet:        "resourceSet",
		CmdAdvance:            "advance",
		CmdKeyboardFeed:       "keyboardFeed",
		CmdExecuteUntilReturn: "executeUntilReturn",
		CmdPing:               "ping",
		CmdBanksAvailable:     "banksAvailable",
		CmdRegistersAvailable: "registersAvailable",
		CmdDisplayGet:         "displayGet",
		CmdInfo:               "info",
		CmdPaletteGet:         "paletteGet",
		CmdExit:               "exit",
		CmdQuit:               "quit",
		CmdReset:              "reset",
		CmdAutostart:          "autostart",
	}
	if n, ok := names[c]; ok {
		return n
	}
	return "unknown"
}

// ResponseKind tags a response frame. Like Command, the wire code is
// dialect-specific; these values are stable.
type ResponseKind int

const (
	RespInvalid ResponseKind = iota
	RespMemoryGet
	RespMemorySet
	RespCheckpointInfo
	RespCheckpointDelete
	RespCheckpointList
	RespCheckpointToggle
	RespConditionSet
	RespRegisterInfo
	RespDump
	RespUndump
	RespResourceGet
	RespResourceSet
	RespAdvance
	RespKeyboardFeed
	RespExecuteUntilReturn
	RespPing
	RespBanksAvailable
	RespRegistersAvailable
	RespDisplayGet
	RespInfo
	RespPaletteGet
	RespExit
	RespQuit
	RespReset
	RespAutostart
	RespJammed
	RespStopped
	RespResumed
)

// StartMarker is the first byte of every frame in all known protocol
// generations.
const StartMarker = 0x02

// Dialect describes one generation of the peer's wire protocol: header
// geometry plus the command and response code tables. The peer has shipped
// several incompatible layouts, so everything here is data selected at
// startup, never a compile-time constant.
type Dialect struct {
	// Name identifies the dialect in configuration ("classic", "v1", "v2").
	Name string

	// APIVersion is the version byte carried in every frame header.
	APIVersion byte

	// IDSize is the width of the request-id field in bytes (1 or 4).
	IDSize int

	// IDFirst controls response header order: true means the request id
	// precedes the kind/status bytes, false means it follows them.
	IDFirst bool

	// AsyncID is the sentinel request id tagging unsolicited frames.
	// With IDSize 1 only the low byte appears on the wire.
	AsyncID uint32

	// Commands maps stable Command values to wire codes.
	Commands map[Command]byte

	// Responses maps wire codes to stable ResponseKind values.
	Responses map[byte]ResponseKind
}

// MaxID returns the largest request id representable in this dialect.
func (d *Dialect) MaxID() uint32 {
	if d.IDSize == 1 {
		return 0xfe // keep clear of a 1-byte async sentinel
	}
	return 0xfffffffe
}

// commandCode returns the wire code for cmd, or (0, false) when the dialect
// predates the command.
func (d *Dialect) commandCode(cmd Command) (byte, bool) {
	code, ok := d.Commands[cmd]
	return code, ok
}

// responseKind maps a wire code to its kind, RespInvalid when unknown.
func (d *Dialect) responseKind(code byte) ResponseKind {
	if k, ok := d.Responses[code]; ok {
		return k
	}
	return RespInvalid
}

// modernCommands is the code table shared by the v1 and v2 generations.
func modernCommands() map[Command]byte {
	return map[Command]byte{
		CmdMemoryGet:          0x01,
		CmdMemorySet:          0x02,
		CmdCheckpointGet:      0x11,
		CmdCheckpointSet:      0x12,
		CmdCheckpointDelete:   0x13,
		CmdCheckpointList:     0x14,
		CmdCheckpointToggle:   0x15,
		CmdConditionSet:       0x22,
		CmdRegistersGet:       0x31,
		CmdRegistersSet:       0x32,
		CmdDump:               0x41,
		CmdUndump:             0x42,
		CmdResourceGet:        0x51,
		CmdResourceSet:        0x52,
		CmdAdvance:            0x71,
		CmdKeyboardFeed:       0x72,
		CmdExecuteUntilReturn: 0x73,
		CmdPing:               0x81,
		CmdBanksAvailable:     0x82,
		CmdRegistersAvailable: 0x83,
		CmdDisplayGet:         0x84,
		CmdInfo:               0x85,
		CmdPaletteGet:         0x91,
		CmdExit:               0xaa,
		CmdQuit:               0xbb,
		CmdReset:              0xcc,
		CmdAutostart:          0xdd,
	}
}

// modernResponses is the response table shared by v1 and v2. Most responses
// echo the command code; the async kinds have their own block.
func modernResponses() map[byte]ResponseKind {
	return map[byte]ResponseKind{
		0x00: RespInvalid,
		0x01: RespMemoryGet,
		0x02: RespMemorySet,
		0x11: RespCheckpointInfo,
		0x13: RespCheckpointDelete,
		0x14: RespCheckpointList,
		0x15: RespCheckpointToggle,
		0x22: RespConditionSet,
		0x31: RespRegisterInfo,
		0x41: RespDump,
		0x42: RespUndump,
		0x51: RespResourceGet,
		0x52: RespResourceSet,
		0x61: RespJammed,
		0x62: RespStopped,
		0x63: RespResumed,
		0x71: RespAdvance,
		0x72: RespKeyboardFeed,
		0x73: RespExecuteUntilReturn,
		0x81: RespPing,
		0x82: RespBanksAvailable,
		0x83: RespRegistersAvailable,
		0x84: RespDisplayGet,
		0x85: RespInfo,
		0x91: RespPaletteGet,
		0xaa: RespExit,
		0xbb: RespQuit,
		0xcc: RespReset,
		0xdd: RespAutostart,
	}
}

// DialectClassic is the earliest shipped layout: one-byte request ids that
// trail the kind/status pair, and a reduced command set.
func DialectClassic() *Dialect {
	cmds := modernCommands()
	// The classic generation predates display, palette, info and autostart.
	delete(cmds, CmdDisplayGet)
	delete(cmds, CmdInfo)
	delete(cmds, CmdPaletteGet)
	delete(cmds, CmdAutostart)
	resps := modernResponses()
	delete(resps, 0x84)
	delete(resps, 0x85)
	delete(resps, 0x91)
	delete(resps, 0xdd)
	return &Dialect{
		Name:       "classic",
		APIVersion: 0x01,
		IDSize:     1,
		IDFirst:    false,
		AsyncID:    0xff,
		Commands:   cmds,
		Responses:  resps,
	}
}

// DialectV1 widens the request id to four bytes and moves it ahead of the
// kind/status pair in responses.
func DialectV1() *Dialect {
	cmds := modernCommands()
	delete(cmds, CmdDisplayGet)
	delete(cmds, CmdPaletteGet)
	resps := modernResponses()
	delete(resps, 0x84)
	delete(resps, 0x91)
	return &Dialect{
		Name:       "v1",
		APIVersion: 0x01,
		IDSize:     4,
		IDFirst:    true,
		AsyncID:    0xffffffff,
		Commands:   cmds,
		Responses:  resps,
	}
}

// DialectV2 is the current generation: the full command set including
// display and palette retrieval.
func DialectV2() *Dialect {
	return &Dialect{
		Name:       "v2",
		APIVersion: 0x02,
		IDSize:     4,
		IDFirst:    false,
		AsyncID:    0xffffffff,
		Commands:   modernCommands(),
		Responses:  modernResponses(),
	}
}

// DialectByName resolves a configured protocol name, defaulting to v2.
func DialectByName(name string) (*Dialect, bool) {
	switch name {
	case "classic":
		return DialectClassic(), true
	case "v1":
		return DialectV1(), true
	case "v2", "":
		return DialectV2(), true
	default:
		return nil, false
	}
}

// MemSpace selects which address space a memory or register operation
// targets.
type MemSpace byte

const (
	MemMain MemSpace = iota
	MemDrive8
	MemDrive9
	MemDrive10
	MemDrive11
)

// CheckpointOp is the bitmask of accesses a checkpoint fires on.
type CheckpointOp byte

const (
	OpLoad  CheckpointOp = 0x01
	OpStore CheckpointOp = 0x02
	OpExec  CheckpointOp = 0x04
)

// String renders the mask as "load|store|exec".
func (op CheckpointOp) String() string {
	var parts []byte
	add := func(s string) {
		if len(parts) > 0 {
			parts = append(parts, '|')
		}
		parts = append(parts, s...)
	}
	if op&OpLoad != 0 {
		add("load")
	}
	if op&OpStore != 0 {
		add("store")
	}
	if op&OpExec != 0 {
		add("exec")
	}
	if len(parts) == 0 {
		return "none"
	}
	return string(parts)
}
