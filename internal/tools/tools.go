package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/vicelink/vicelink/internal/disasm"
	"github.com/vicelink/vicelink/internal/monitor"
	"github.com/vicelink/vicelink/internal/screen"
	"github.com/vicelink/vicelink/internal/vic"
)

// Tool is one callable operation.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`

	handler func(ctx context.Context, args gjson.Result) (any, error)
}

func (s *Server) register(name, description, schema string, handler func(context.Context, gjson.Result) (any, error)) {
	t := &Tool{
		Name:        name,
		Description: description,
		InputSchema: json.RawMessage(schema),
		handler:     handler,
	}
	s.tools = append(s.tools, t)
	s.toolIndex[name] = t
}

// parseNumber accepts JSON numbers and $/0x-prefixed hex strings, the two
// ways agents write C64 addresses.
func parseNumber(v gjson.Result) (int, error) {
	switch v.Type {
	case gjson.Number:
		return int(v.Int()), nil
	case gjson.String:
		str := strings.TrimSpace(v.Str)
		base := 10
		switch {
		case strings.HasPrefix(str, "$"):
			str, base = str[1:], 16
		case strings.HasPrefix(str, "0x"), strings.HasPrefix(str, "0X"):
			str, base = str[2:], 16
		}
		n, err := strconv.ParseInt(str, base, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: cannot parse %q as a number", errInvalidArgs, v.Str)
		}
		return int(n), nil
	}
	return 0, fmt.Errorf("%w: expected a number, got %s", errInvalidArgs, v.Type)
}

func intArg(args gjson.Result, path string) (int, error) {
	v := args.Get(path)
	if !v.Exists() {
		return 0, fmt.Errorf("%w: missing required field %q", errInvalidArgs, path)
	}
	return parseNumber(v)
}

func optIntArg(args gjson.Result, path string, def int) (int, error) {
	v := args.Get(path)
	if !v.Exists() {
		return def, nil
	}
	return parseNumber(v)
}

func strArg(args gjson.Result, path string) (string, error) {
	v := args.Get(path)
	if !v.Exists() || v.Type != gjson.String {
		return "", fmt.Errorf("%w: missing required string field %q", errInvalidArgs, path)
	}
	return v.Str, nil
}

// addrPair renders an address as both decimal and hex, so callers never
// have to guess the base.
func addrPair(v int) map[string]any {
	return map[string]any{"value": v, "hex": fmt.Sprintf("$%04X", v)}
}

func bytePair(v byte) map[string]any {
	return map[string]any{"value": v, "hex": fmt.Sprintf("$%02X", v)}
}

// hexdump renders data as rows of 16 hex bytes with leading addresses.
func hexdump(start int, data []byte) []string {
	rows := make([]string, 0, (len(data)+15)/16)
	for off := 0; off < len(data); off += 16 {
		end := off + 16
		if end > len(data) {
			end = len(data)
		}
		var b strings.Builder
		fmt.Fprintf(&b, "$%04X:", start+off)
		for _, by := range data[off:end] {
			fmt.Fprintf(&b, " %02X", by)
		}
		rows = append(rows, b.String())
	}
	return rows
}

func checkpointJSON(cp monitor.Checkpoint) map[string]any {
	return map[string]any{
		"id":          cp.ID,
		"start":       addrPair(int(cp.Start)),
		"end":         addrPair(int(cp.End)),
		"stop":        cp.Stop,
		"enabled":     cp.Enabled,
		"temporary":   cp.Temporary,
		"operation":   cp.Op.String(),
		"hitCount":    cp.HitCount,
		"ignoreCount": cp.IgnoreCount,
	}
}

const emptySchema = `{"type":"object","properties":{}}`

func (s *Server) registerTools() {
	emu := s.opts.Emulator

	s.register("connect",
		"Connect to the emulator's binary monitor socket.",
		`{"type":"object","properties":{"host":{"type":"string"},"port":{"type":"integer"}}}`,
		func(ctx context.Context, args gjson.Result) (any, error) {
			host := s.opts.Host
			if h := args.Get("host"); h.Exists() {
				host = h.Str
			}
			port, err := optIntArg(args, "port", s.opts.Port)
			if err != nil {
				return nil, err
			}
			if err := emu.Connect(host, port); err != nil {
				return nil, err
			}
			return map[string]any{"connected": true, "host": host, "port": port}, nil
		})

	s.register("disconnect",
		"Close the emulator connection.",
		emptySchema,
		func(ctx context.Context, args gjson.Result) (any, error) {
			emu.Disconnect()
			return map[string]any{"connected": false}, nil
		})

	s.register("ping",
		"Check that the emulator responds.",
		emptySchema,
		func(ctx context.Context, args gjson.Result) (any, error) {
			if err := emu.Ping(ctx); err != nil {
				return nil, err
			}
			return map[string]any{"ok": true}, nil
		})

	s.register("get_info",
		"Report the emulator version and connection state.",
		emptySchema,
		func(ctx context.Context, args gjson.Result) (any, error) {
			version, err := emu.Info(ctx)
			if err != nil {
				return nil, err
			}
			state := emu.State()
			return map[string]any{
				"version": version,
				"host":    state.Host,
				"port":    state.Port,
				"running": state.Running,
			}, nil
		})

	s.register("read_memory",
		"Read a memory range and return a hex dump.",
		`{"type":"object","properties":{"start":{"type":["integer","string"]},"end":{"type":["integer","string"]}},"required":["start","end"]}`,
		func(ctx context.Context, args gjson.Result) (any, error) {
			start, err := intArg(args, "start")
			if err != nil {
				return nil, err
			}
			end, err := intArg(args, "end")
			if err != nil {
				return nil, err
			}
			data, err := emu.ReadMemory(ctx, start, end, monitor.MemMain)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"start":   addrPair(start),
				"end":     addrPair(end),
				"length":  len(data),
				"hexdump": hexdump(start, data),
			}, nil
		})

	s.register("write_memory",
		"Write bytes to memory. Data is an array of byte values.",
		`{"type":"object","properties":{"address":{"type":["integer","string"]},"data":{"type":"array","items":{"type":["integer","string"]}}},"required":["address","data"]}`,
		func(ctx context.Context, args gjson.Result) (any, error) {
			addr, err := intArg(args, "address")
			if err != nil {
				return nil, err
			}
			items := args.Get("data").Array()
			if len(items) == 0 {
				return nil, fmt.Errorf("%w: data must be a non-empty array", errInvalidArgs)
			}
			data := make([]byte, 0, len(items))
			for _, item := range items {
				n, err := parseNumber(item)
				if err != nil {
					return nil, err
				}
				if n < 0 || n > 0xff {
					return nil, fmt.Errorf("%w: byte value %d out of range", errInvalidArgs, n)
				}
				data = append(data, byte(n))
			}
			if err := emu.WriteMemory(ctx, addr, data, monitor.MemMain); err != nil {
				return nil, err
			}
			return map[string]any{"address": addrPair(addr), "written": len(data)}, nil
		})

	s.register("get_registers",
		"Read the CPU registers and decoded status flags.",
		emptySchema,
		func(ctx context.Context, args gjson.Result) (any, error) {
			regs, err := emu.GetRegisters(ctx, monitor.MemMain)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"pc":     addrPair(int(regs.PC)),
				"a":      bytePair(regs.A),
				"x":      bytePair(regs.X),
				"y":      bytePair(regs.Y),
				"sp":     bytePair(regs.SP),
				"flags":  bytePair(regs.Flags),
				"status": regs.Status().String(),
			}, nil
		})

	s.register("set_registers",
		"Set CPU registers by name (pc, a, x, y, sp, flags).",
		`{"type":"object","properties":{"registers":{"type":"object"}},"required":["registers"]}`,
		func(ctx context.Context, args gjson.Result) (any, error) {
			regs := args.Get("registers")
			if !regs.IsObject() {
				return nil, fmt.Errorf("%w: registers must be an object", errInvalidArgs)
			}
			values := make(map[string]uint16)
			var perr error
			regs.ForEach(func(key, value gjson.Result) bool {
				n, err := parseNumber(value)
				if err != nil {
					perr = err
					return false
				}
				values[key.Str] = uint16(n)
				return true
			})
			if perr != nil {
				return nil, perr
			}
			if err := emu.SetRegisters(ctx, values, monitor.MemMain); err != nil {
				return nil, err
			}
			return map[string]any{"set": len(values)}, nil
		})

	s.register("step",
		"Single-step the CPU. Set over to step across subroutine calls.",
		`{"type":"object","properties":{"count":{"type":"integer"},"over":{"type":"boolean"}}}`,
		func(ctx context.Context, args gjson.Result) (any, error) {
			count, err := optIntArg(args, "count", 1)
			if err != nil {
				return nil, err
			}
			if err := emu.Step(ctx, count, args.Get("over").Bool()); err != nil {
				return nil, err
			}
			return s.registersAfterStop(ctx)
		})

	s.register("step_out",
		"Run until the current subroutine returns.",
		emptySchema,
		func(ctx context.Context, args gjson.Result) (any, error) {
			if err := emu.StepOut(ctx); err != nil {
				return nil, err
			}
			return s.registersAfterStop(ctx)
		})

	s.register("resume",
		"Resume execution.",
		emptySchema,
		func(ctx context.Context, args gjson.Result) (any, error) {
			if err := emu.Continue(ctx); err != nil {
				return nil, err
			}
			return map[string]any{"running": true}, nil
		})

	s.register("reset",
		"Reset the machine. Hard reset also clears memory.",
		`{"type":"object","properties":{"hard":{"type":"boolean"}}}`,
		func(ctx context.Context, args gjson.Result) (any, error) {
			if err := emu.Reset(ctx, args.Get("hard").Bool()); err != nil {
				return nil, err
			}
			return map[string]any{"reset": true, "hard": args.Get("hard").Bool()}, nil
		})

	s.register("set_breakpoint",
		"Set an execution breakpoint on an address or range.",
		`{"type":"object","properties":{"start":{"type":["integer","string"]},"end":{"type":["integer","string"]},"temporary":{"type":"boolean"}},"required":["start"]}`,
		func(ctx context.Context, args gjson.Result) (any, error) {
			start, err := intArg(args, "start")
			if err != nil {
				return nil, err
			}
			end, err := optIntArg(args, "end", start)
			if err != nil {
				return nil, err
			}
			opts := monitor.DefaultCheckpointOptions()
			opts.Temporary = args.Get("temporary").Bool()
			cp, err := emu.SetBreakpoint(ctx, start, end, opts)
			if err != nil {
				return nil, err
			}
			return checkpointJSON(cp), nil
		})

	s.register("set_watchpoint",
		"Watch a memory range for load, store or both.",
		`{"type":"object","properties":{"start":{"type":["integer","string"]},"end":{"type":["integer","string"]},"on":{"type":"string","enum":["load","store","both"]}},"required":["start"]}`,
		func(ctx context.Context, args gjson.Result) (any, error) {
			start, err := intArg(args, "start")
			if err != nil {
				return nil, err
			}
			end, err := optIntArg(args, "end", start)
			if err != nil {
				return nil, err
			}
			var op monitor.CheckpointOp
			switch on := args.Get("on").Str; on {
			case "load":
				op = monitor.OpLoad
			case "", "store":
				op = monitor.OpStore
			case "both":
				op = monitor.OpLoad | monitor.OpStore
			default:
				return nil, fmt.Errorf("%w: on must be load, store or both, got %q", errInvalidArgs, on)
			}
			cp, err := emu.SetWatchpoint(ctx, start, end, op, monitor.DefaultCheckpointOptions())
			if err != nil {
				return nil, err
			}
			return checkpointJSON(cp), nil
		})

	s.register("delete_checkpoint",
		"Delete a breakpoint or watchpoint by id.",
		`{"type":"object","properties":{"id":{"type":"integer"}},"required":["id"]}`,
		func(ctx context.Context, args gjson.Result) (any, error) {
			id, err := intArg(args, "id")
			if err != nil {
				return nil, err
			}
			if err := emu.DeleteCheckpoint(ctx, uint32(id)); err != nil {
				return nil, err
			}
			return map[string]any{"deleted": id}, nil
		})

	s.register("toggle_checkpoint",
		"Enable or disable a checkpoint by id.",
		`{"type":"object","properties":{"id":{"type":"integer"},"enabled":{"type":"boolean"}},"required":["id","enabled"]}`,
		func(ctx context.Context, args gjson.Result) (any, error) {
			id, err := intArg(args, "id")
			if err != nil {
				return nil, err
			}
			enabled := args.Get("enabled").Bool()
			if err := emu.ToggleCheckpoint(ctx, uint32(id), enabled); err != nil {
				return nil, err
			}
			return map[string]any{"id": id, "enabled": enabled}, nil
		})

	s.register("list_checkpoints",
		"List the checkpoints this session has set.",
		emptySchema,
		func(ctx context.Context, args gjson.Result) (any, error) {
			cps := emu.ListCheckpoints()
			out := make([]map[string]any, 0, len(cps))
			for _, cp := range cps {
				out = append(out, checkpointJSON(cp))
			}
			return map[string]any{"checkpoints": out, "count": len(out)}, nil
		})

	s.register("read_screen",
		"Decode the 40x25 text screen to readable text.",
		`{"type":"object","properties":{"lowercase":{"type":"boolean"}}}`,
		func(ctx context.Context, args gjson.Result) (any, error) {
			data, err := emu.ReadMemory(ctx, 0x0400, 0x0400+screen.MatrixSize-1, monitor.MemMain)
			if err != nil {
				return nil, err
			}
			rows := screen.DecodeScreen(data, args.Get("lowercase").Bool())
			return map[string]any{
				"rows": rows,
				"text": strings.Join(rows, "\n"),
			}, nil
		})

	s.register("get_vic_state",
		"Decode the VIC-II registers: mode, memory layout, colors, sprites.",
		emptySchema,
		func(ctx context.Context, args gjson.Result) (any, error) {
			regs, err := emu.ReadMemory(ctx, vic.BaseAddress, vic.BaseAddress+vic.RegisterCount-1, monitor.MemMain)
			if err != nil {
				return nil, err
			}
			state, err := vic.DecodeState(regs)
			if err != nil {
				return nil, err
			}
			return vicStateJSON(state), nil
		})

	s.register("get_sprites",
		"Render the enabled sprites as pixel art.",
		emptySchema,
		func(ctx context.Context, args gjson.Result) (any, error) {
			return s.spriteReport(ctx)
		})

	s.register("disassemble",
		"Disassemble 6502 code from memory.",
		`{"type":"object","properties":{"address":{"type":["integer","string"]},"length":{"type":"integer"}},"required":["address"]}`,
		func(ctx context.Context, args gjson.Result) (any, error) {
			addr, err := intArg(args, "address")
			if err != nil {
				return nil, err
			}
			length, err := optIntArg(args, "length", 32)
			if err != nil {
				return nil, err
			}
			if length < 1 || addr+length > 0x10000 {
				return nil, fmt.Errorf("%w: length %d runs past the address space", errInvalidArgs, length)
			}
			data, err := emu.ReadMemory(ctx, addr, addr+length-1, monitor.MemMain)
			if err != nil {
				return nil, err
			}
			ins := disasm.Disassemble(data, uint16(addr))
			lines := make([]string, 0, len(ins))
			for _, i := range ins {
				lines = append(lines, i.Text)
			}
			return map[string]any{
				"origin":       addrPair(addr),
				"instructions": lines,
			}, nil
		})

	s.register("get_display",
		"Report the current display frame geometry.",
		`{"type":"object","properties":{"indexed":{"type":"boolean"}}}`,
		func(ctx context.Context, args gjson.Result) (any, error) {
			disp, err := emu.GetDisplay(ctx, args.Get("indexed").Bool())
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"width":       disp.Width,
				"height":      disp.Height,
				"innerWidth":  disp.InnerWidth,
				"innerHeight": disp.InnerHeight,
				"offsetX":     disp.OffsetX,
				"offsetY":     disp.OffsetY,
				"bitsPerPix":  disp.BitsPerPix,
				"pixelBytes":  len(disp.Pixels),
			}, nil
		})

	s.register("get_palette",
		"Report the active palette with C64 color names.",
		emptySchema,
		func(ctx context.Context, args gjson.Result) (any, error) {
			entries, err := emu.GetPalette(ctx)
			if err != nil {
				return nil, err
			}
			out := make([]map[string]any, 0, len(entries))
			for i, e := range entries {
				entry := map[string]any{
					"index": i,
					"rgb":   fmt.Sprintf("#%02X%02X%02X", e.R, e.G, e.B),
				}
				if i < 16 {
					entry["name"] = vic.ColorName(uint8(i))
				}
				out = append(out, entry)
			}
			return map[string]any{"colors": out}, nil
		})

	s.register("save_snapshot",
		"Save the machine state to a snapshot file.",
		`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`,
		func(ctx context.Context, args gjson.Result) (any, error) {
			path, err := strArg(args, "path")
			if err != nil {
				return nil, err
			}
			if err := emu.SaveSnapshot(ctx, path); err != nil {
				return nil, err
			}
			return map[string]any{"saved": path}, nil
		})

	s.register("load_snapshot",
		"Restore the machine state from a snapshot file.",
		`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`,
		func(ctx context.Context, args gjson.Result) (any, error) {
			path, err := strArg(args, "path")
			if err != nil {
				return nil, err
			}
			if err := emu.LoadSnapshot(ctx, path); err != nil {
				return nil, err
			}
			return map[string]any{"loaded": path}, nil
		})

	s.register("autostart",
		"Load and optionally run a program or disk image.",
		`{"type":"object","properties":{"path":{"type":"string"},"run":{"type":"boolean"},"index":{"type":"integer"}},"required":["path"]}`,
		func(ctx context.Context, args gjson.Result) (any, error) {
			path, err := strArg(args, "path")
			if err != nil {
				return nil, err
			}
			run := true
			if r := args.Get("run"); r.Exists() {
				run = r.Bool()
			}
			index, err := optIntArg(args, "index", 0)
			if err != nil {
				return nil, err
			}
			if err := emu.Autostart(ctx, path, run, index); err != nil {
				return nil, err
			}
			return map[string]any{"autostarted": path, "run": run}, nil
		})

	s.register("type_text",
		"Type text on the emulated keyboard. Newlines press RETURN.",
		`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`,
		func(ctx context.Context, args gjson.Result) (any, error) {
			text, err := strArg(args, "text")
			if err != nil {
				return nil, err
			}
			petscii, err := screen.EncodePETSCII(text)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", errInvalidArgs, err)
			}
			if err := emu.TypeText(ctx, petscii); err != nil {
				return nil, err
			}
			return map[string]any{"typed": len(petscii)}, nil
		})

	s.register("run_script",
		"Run a Lua automation script against the machine.",
		`{"type":"object","properties":{"source":{"type":"string"}},"required":["source"]}`,
		func(ctx context.Context, args gjson.Result) (any, error) {
			if s.opts.Scripts == nil {
				return nil, fmt.Errorf("%w: scripting is disabled by configuration", errInvalidArgs)
			}
			source, err := strArg(args, "source")
			if err != nil {
				return nil, err
			}
			output, err := s.opts.Scripts.Run(ctx, source)
			if err != nil {
				return nil, err
			}
			return map[string]any{"output": output}, nil
		})
}

// registersAfterStop reports the register file once execution has paused.
func (s *Server) registersAfterStop(ctx context.Context) (any, error) {
	regs, err := s.opts.Emulator.GetRegisters(ctx, monitor.MemMain)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"running": false,
		"pc":      addrPair(int(regs.PC)),
		"a":       bytePair(regs.A),
		"x":       bytePair(regs.X),
		"y":       bytePair(regs.Y),
		"sp":      bytePair(regs.SP),
		"status":  regs.Status().String(),
	}, nil
}

func vicStateJSON(state *vic.State) map[string]any {
	sprites := make([]map[string]any, 0, 8)
	for _, sp := range state.Sprites {
		sprites = append(sprites, map[string]any{
			"index":      sp.Index,
			"x":          sp.X,
			"y":          sp.Y,
			"enabled":    sp.Enabled,
			"expandX":    sp.ExpandX,
			"expandY":    sp.ExpandY,
			"multicolor": sp.Multicolor,
			"behindText": sp.BehindText,
			"color":      sp.ColorName,
		})
	}
	return map[string]any{
		"mode":       string(state.Mode),
		"screenOn":   state.ScreenOn,
		"rasterLine": state.RasterLine,
		"screen":     addrPair(int(state.ScreenBase)),
		"charset":    addrPair(int(state.CharsetBase)),
		"bitmap":     addrPair(int(state.BitmapBase)),
		"border":     vic.ColorName(state.BorderColor),
		"background": vic.ColorName(state.Background[0]),
		"scrollX":    state.ScrollX,
		"scrollY":    state.ScrollY,
		"sprites":    sprites,
	}
}

// spriteReport renders every enabled sprite from its resolved data pointer.
func (s *Server) spriteReport(ctx context.Context) (any, error) {
	emu := s.opts.Emulator
	regs, err := emu.ReadMemory(ctx, vic.BaseAddress, vic.BaseAddress+vic.RegisterCount-1, monitor.MemMain)
	if err != nil {
		return nil, err
	}
	state, err := vic.DecodeState(regs)
	if err != nil {
		return nil, err
	}

	ptrBase := int(vic.SpritePointerAddr(state.ScreenBase, 0))
	pointers, err := emu.ReadMemory(ctx, ptrBase, ptrBase+7, monitor.MemMain)
	if err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0, 8)
	for i, sp := range state.Sprites {
		if !sp.Enabled {
			continue
		}
		dataAddr := int(pointers[i]) * 64
		data, err := emu.ReadMemory(ctx, dataAddr, dataAddr+vic.SpriteDataLen-1, monitor.MemMain)
		if err != nil {
			return nil, err
		}
		rows, err := vic.RenderSprite(data, sp.Multicolor)
		if err != nil {
			return nil, err
		}
		out = append(out, map[string]any{
			"index":      i,
			"x":          sp.X,
			"y":          sp.Y,
			"color":      sp.ColorName,
			"multicolor": sp.Multicolor,
			"data":       addrPair(dataAddr),
			"pixels":     rows,
		})
	}
	return map[string]any{"sprites": out, "enabled": len(out)}, nil
}
