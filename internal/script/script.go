// Package script runs Lua automation against the emulator monitor.
//
// gopher-lua's LState is not goroutine-safe, so all script execution is
// serialized through a single worker goroutine. Each run gets a fresh state;
// scripts cannot leak globals into each other. Scripts see a `c64` module
// wrapping the monitor facade and a `print` that captures output for the
// caller.
package script

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/vicelink/vicelink/internal/monitor"
	"github.com/vicelink/vicelink/internal/screen"
)

// ErrEngineClosed is returned when running on a closed engine.
var ErrEngineClosed = errors.New("script engine is closed")

// Monitor is the subset of the monitor client that scripts may drive.
type Monitor interface {
	Ping(ctx context.Context) error
	ReadMemory(ctx context.Context, start, end int, space monitor.MemSpace) ([]byte, error)
	WriteMemory(ctx context.Context, addr int, data []byte, space monitor.MemSpace) error
	GetRegisters(ctx context.Context, space monitor.MemSpace) (*monitor.Registers, error)
	SetRegisters(ctx context.Context, values map[string]uint16, space monitor.MemSpace) error
	Step(ctx context.Context, count int, stepOver bool) error
	StepOut(ctx context.Context) error
	Continue(ctx context.Context) error
	Reset(ctx context.Context, hard bool) error
	SetBreakpoint(ctx context.Context, start, end int, opts monitor.CheckpointOptions) (monitor.Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, id uint32) error
	TypeText(ctx context.Context, petscii []byte) error
}

type runRequest struct {
	ctx    context.Context
	source string
	result chan runResult
}

type runResult struct {
	output []string
	err    error
}

// Engine executes scripts one at a time on a dedicated goroutine.
type Engine struct {
	mon     Monitor
	timeout time.Duration

	queue     chan *runRequest
	done      chan struct{}
	closeOnce sync.Once
}

// NewEngine starts a script engine. timeout bounds each individual run.
func NewEngine(mon Monitor, timeout time.Duration) *Engine {
	e := &Engine{
		mon:     mon,
		timeout: timeout,
		queue:   make(chan *runRequest, 16),
		done:    make(chan struct{}),
	}
	go e.loop()
	return e
}

// Close stops the engine. Queued runs fail with ErrEngineClosed.
func (e *Engine) Close() {
	e.closeOnce.Do(func() { close(e.done) })
}

// Run executes Lua source and returns the lines captured from print. The
// run is aborted when its timeout elapses or ctx is cancelled.
func (e *Engine) Run(ctx context.Context, source string) ([]string, error) {
	req := &runRequest{ctx: ctx, source: source, result: make(chan runResult, 1)}

	select {
	case <-e.done:
		return nil, ErrEngineClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case e.queue <- req:
	}

	select {
	case <-e.done:
		return nil, ErrEngineClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-req.result:
		return res.output, res.err
	}
}

func (e *Engine) loop() {
	for {
		select {
		case <-e.done:
			e.drain()
			return
		case req := <-e.queue:
			out, err := e.execute(req.ctx, req.source)
			req.result <- runResult{output: out, err: err}
		}
	}
}

func (e *Engine) drain() {
	for {
		select {
		case req := <-e.queue:
			req.result <- runResult{err: ErrEngineClosed}
		default:
			return
		}
	}
}

func (e *Engine) execute(ctx context.Context, source string) (output []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("script panic: %v", r)
		}
	}()

	runCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: false})
	defer L.Close()
	L.SetContext(runCtx)

	var out []string
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		n := L.GetTop()
		line := ""
		for i := 1; i <= n; i++ {
			if i > 1 {
				line += "\t"
			}
			line += L.ToStringMeta(L.Get(i)).String()
		}
		out = append(out, line)
		return 0
	}))

	L.PreloadModule("c64", e.moduleLoader(runCtx))
	// Preloaded and required up front so scripts use c64 directly.
	if err := L.DoString(`c64 = require("c64")`); err != nil {
		return nil, err
	}

	if err := L.DoString(source); err != nil {
		return out, fmt.Errorf("script error: %w", err)
	}
	return out, nil
}

// moduleLoader builds the c64 module table for one run.
func (e *Engine) moduleLoader(ctx context.Context) lua.LGFunction {
	return func(L *lua.LState) int {
		mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
			"ping":       e.luaPing(ctx),
			"read":       e.luaRead(ctx),
			"write":      e.luaWrite(ctx),
			"peek":       e.luaPeek(ctx),
			"poke":       e.luaPoke(ctx),
			"registers":  e.luaRegisters(ctx),
			"setreg":     e.luaSetReg(ctx),
			"step":       e.luaStep(ctx),
			"stepout":    e.luaStepOut(ctx),
			"resume":     e.luaResume(ctx),
			"reset":      e.luaReset(ctx),
			"breakpoint": e.luaBreakpoint(ctx),
			"delete":     e.luaDelete(ctx),
			"typetext":   e.luaTypeText(ctx),
			"screentext": e.luaScreenText(ctx),
		})
		L.Push(mod)
		return 1
	}
}

func raise(L *lua.LState, err error) int {
	L.RaiseError("%s", err.Error())
	return 0
}

func (e *Engine) luaPing(ctx context.Context) lua.LGFunction {
	return func(L *lua.LState) int {
		if err := e.mon.Ping(ctx); err != nil {
			return raise(L, err)
		}
		return 0
	}
}

// c64.read(start, end) -> table of byte values
func (e *Engine) luaRead(ctx context.Context) lua.LGFunction {
	return func(L *lua.LState) int {
		start := L.CheckInt(1)
		end := L.CheckInt(2)
		data, err := e.mon.ReadMemory(ctx, start, end, monitor.MemMain)
		if err != nil {
			return raise(L, err)
		}
		t := L.NewTable()
		for i, b := range data {
			t.RawSetInt(i+1, lua.LNumber(b))
		}
		L.Push(t)
		return 1
	}
}

// c64.write(addr, table of byte values)
func (e *Engine) luaWrite(ctx context.Context) lua.LGFunction {
	return func(L *lua.LState) int {
		addr := L.CheckInt(1)
		t := L.CheckTable(2)
		data := make([]byte, 0, t.Len())
		for i := 1; i <= t.Len(); i++ {
			data = append(data, byte(lua.LVAsNumber(t.RawGetInt(i))))
		}
		if err := e.mon.WriteMemory(ctx, addr, data, monitor.MemMain); err != nil {
			return raise(L, err)
		}
		return 0
	}
}

func (e *Engine) luaPeek(ctx context.Context) lua.LGFunction {
	return func(L *lua.LState) int {
		addr := L.CheckInt(1)
		data, err := e.mon.ReadMemory(ctx, addr, addr, monitor.MemMain)
		if err != nil {
			return raise(L, err)
		}
		L.Push(lua.LNumber(data[0]))
		return 1
	}
}

func (e *Engine) luaPoke(ctx context.Context) lua.LGFunction {
	return func(L *lua.LState) int {
		addr := L.CheckInt(1)
		val := L.CheckInt(2)
		if err := e.mon.WriteMemory(ctx, addr, []byte{byte(val)}, monitor.MemMain); err != nil {
			return raise(L, err)
		}
		return 0
	}
}

// c64.registers() -> {a=, x=, y=, pc=, sp=, flags=, status=}
func (e *Engine) luaRegisters(ctx context.Context) lua.LGFunction {
	return func(L *lua.LState) int {
		regs, err := e.mon.GetRegisters(ctx, monitor.MemMain)
		if err != nil {
			return raise(L, err)
		}
		t := L.NewTable()
		t.RawSetString("a", lua.LNumber(regs.A))
		t.RawSetString("x", lua.LNumber(regs.X))
		t.RawSetString("y", lua.LNumber(regs.Y))
		t.RawSetString("pc", lua.LNumber(regs.PC))
		t.RawSetString("sp", lua.LNumber(regs.SP))
		t.RawSetString("flags", lua.LNumber(regs.Flags))
		t.RawSetString("status", lua.LString(regs.Status().String()))
		L.Push(t)
		return 1
	}
}

func (e *Engine) luaSetReg(ctx context.Context) lua.LGFunction {
	return func(L *lua.LState) int {
		name := L.CheckString(1)
		val := L.CheckInt(2)
		if err := e.mon.SetRegisters(ctx, map[string]uint16{name: uint16(val)}, monitor.MemMain); err != nil {
			return raise(L, err)
		}
		return 0
	}
}

// c64.step([count], [over])
func (e *Engine) luaStep(ctx context.Context) lua.LGFunction {
	return func(L *lua.LState) int {
		count := L.OptInt(1, 1)
		over := L.OptBool(2, false)
		if err := e.mon.Step(ctx, count, over); err != nil {
			return raise(L, err)
		}
		return 0
	}
}

func (e *Engine) luaStepOut(ctx context.Context) lua.LGFunction {
	return func(L *lua.LState) int {
		if err := e.mon.StepOut(ctx); err != nil {
			return raise(L, err)
		}
		return 0
	}
}

func (e *Engine) luaResume(ctx context.Context) lua.LGFunction {
	return func(L *lua.LState) int {
		if err := e.mon.Continue(ctx); err != nil {
			return raise(L, err)
		}
		return 0
	}
}

func (e *Engine) luaReset(ctx context.Context) lua.LGFunction {
	return func(L *lua.LState) int {
		hard := L.OptBool(1, false)
		if err := e.mon.Reset(ctx, hard); err != nil {
			return raise(L, err)
		}
		return 0
	}
}

// c64.breakpoint(start, [end]) -> checkpoint id
func (e *Engine) luaBreakpoint(ctx context.Context) lua.LGFunction {
	return func(L *lua.LState) int {
		start := L.CheckInt(1)
		end := L.OptInt(2, start)
		cp, err := e.mon.SetBreakpoint(ctx, start, end, monitor.DefaultCheckpointOptions())
		if err != nil {
			return raise(L, err)
		}
		L.Push(lua.LNumber(cp.ID))
		return 1
	}
}

func (e *Engine) luaDelete(ctx context.Context) lua.LGFunction {
	return func(L *lua.LState) int {
		id := L.CheckInt(1)
		if err := e.mon.DeleteCheckpoint(ctx, uint32(id)); err != nil {
			return raise(L, err)
		}
		return 0
	}
}

// c64.typetext(text) encodes host text to PETSCII and feeds the keyboard.
func (e *Engine) luaTypeText(ctx context.Context) lua.LGFunction {
	return func(L *lua.LState) int {
		text := L.CheckString(1)
		petscii, err := screen.EncodePETSCII(text)
		if err != nil {
			return raise(L, err)
		}
		if err := e.mon.TypeText(ctx, petscii); err != nil {
			return raise(L, err)
		}
		return 0
	}
}

// c64.screentext() -> the text matrix decoded to a string.
func (e *Engine) luaScreenText(ctx context.Context) lua.LGFunction {
	return func(L *lua.LState) int {
		data, err := e.mon.ReadMemory(ctx, 0x0400, 0x0400+screen.MatrixSize-1, monitor.MemMain)
		if err != nil {
			return raise(L, err)
		}
		rows := screen.DecodeScreen(data, false)
		text := ""
		for i, r := range rows {
			if i > 0 {
				text += "\n"
			}
			text += r
		}
		L.Push(lua.LString(text))
		return 1
	}
}
