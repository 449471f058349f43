// Package tools exposes the emulator monitor as a JSON-RPC 2.0 tool server.
//
// The transport is newline-delimited JSON over a reader/writer pair,
// normally stdio. Three methods exist: initialize, tools/list and
// tools/call. Each tool wraps one monitor or semantic operation; tool
// failures are reported inside the result as structured
// {isError, code, message, suggestion} objects, while protocol failures
// (bad JSON, unknown method) use JSON-RPC error responses.
package tools

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/vicelink/vicelink/internal/monitor"
)

// Emulator is the monitor surface the tool server drives.
type Emulator interface {
	Connect(host string, port int) error
	Disconnect()
	State() monitor.State
	Ping(ctx context.Context) error
	Info(ctx context.Context) (string, error)
	ReadMemory(ctx context.Context, start, end int, space monitor.MemSpace) ([]byte, error)
	WriteMemory(ctx context.Context, addr int, data []byte, space monitor.MemSpace) error
	GetRegisters(ctx context.Context, space monitor.MemSpace) (*monitor.Registers, error)
	SetRegisters(ctx context.Context, values map[string]uint16, space monitor.MemSpace) error
	Step(ctx context.Context, count int, stepOver bool) error
	StepOut(ctx context.Context) error
	Continue(ctx context.Context) error
	Reset(ctx context.Context, hard bool) error
	SetBreakpoint(ctx context.Context, start, end int, opts monitor.CheckpointOptions) (monitor.Checkpoint, error)
	SetWatchpoint(ctx context.Context, start, end int, op monitor.CheckpointOp, opts monitor.CheckpointOptions) (monitor.Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, id uint32) error
	ToggleCheckpoint(ctx context.Context, id uint32, enabled bool) error
	ListCheckpoints() []monitor.Checkpoint
	GetDisplay(ctx context.Context, useIndexedPalette bool) (*monitor.Display, error)
	GetPalette(ctx context.Context) ([]monitor.PaletteEntry, error)
	SaveSnapshot(ctx context.Context, path string) error
	LoadSnapshot(ctx context.Context, path string) error
	Autostart(ctx context.Context, path string, run bool, fileIndex int) error
	TypeText(ctx context.Context, petscii []byte) error
}

// Scripter runs automation scripts.
type Scripter interface {
	Run(ctx context.Context, source string) ([]string, error)
}

// Options configures a Server.
type Options struct {
	Name    string
	Version string

	// Default connection target for the connect tool.
	Host string
	Port int

	Emulator Emulator

	// Scripts is nil when scripting is disabled.
	Scripts Scripter
}

// Server dispatches JSON-RPC requests to tools.
type Server struct {
	opts    Options
	session string

	tools     []*Tool
	toolIndex map[string]*Tool

	writeMu sync.Mutex
	out     io.Writer
}

// NewServer builds a server with the full tool set registered.
func NewServer(opts Options) *Server {
	s := &Server{
		opts:      opts,
		session:   uuid.NewString(),
		toolIndex: make(map[string]*Tool),
	}
	s.registerTools()
	return s
}

// Session returns the server's session id.
func (s *Server) Session() string {
	return s.session
}

// Serve processes requests from r until EOF or ctx cancellation.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	s.out = w

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		s.handleLine(ctx, line)
	}
	return sc.Err()
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type response struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

func (s *Server) handleLine(ctx context.Context, line []byte) {
	if !gjson.ValidBytes(line) {
		s.writeError(json.RawMessage("null"), codeParseError, "parse error")
		return
	}

	method := gjson.GetBytes(line, "method").Str
	id := json.RawMessage(gjson.GetBytes(line, "id").Raw)
	notification := len(id) == 0

	switch method {
	case "initialize":
		s.writeResult(id, s.initializeResult())
	case "notifications/initialized", "initialized", "exit":
		// Notifications take no response.
	case "tools/list":
		s.writeResult(id, map[string]any{"tools": s.tools})
	case "tools/call":
		s.handleToolCall(ctx, id, line)
	default:
		if notification {
			log.Printf("tools: dropping unknown notification %q", method)
			return
		}
		s.writeError(id, codeMethodNotFound, fmt.Sprintf("unknown method %q", method))
	}
}

func (s *Server) initializeResult() map[string]any {
	return map[string]any{
		"protocolVersion": "2024-11-05",
		"serverInfo": map[string]any{
			"name":    s.opts.Name,
			"version": s.opts.Version,
		},
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
	}
}

func (s *Server) handleToolCall(ctx context.Context, id json.RawMessage, line []byte) {
	name := gjson.GetBytes(line, "params.name").Str
	tool, ok := s.toolIndex[name]
	if !ok {
		s.writeError(id, codeInvalidParams, fmt.Sprintf("unknown tool %q", name))
		return
	}

	args := gjson.GetBytes(line, "params.arguments")
	result, err := tool.handler(ctx, args)
	if err != nil {
		result = classify(err)
	}

	payload, merr := json.Marshal(result)
	if merr != nil {
		s.writeError(id, codeInvalidRequest, fmt.Sprintf("marshaling result: %v", merr))
		return
	}
	payload = s.injectMeta(payload)
	s.write(&response{Jsonrpc: "2.0", ID: id, Result: payload})
}

// injectMeta stamps session and connection state onto a tool result.
func (s *Server) injectMeta(payload []byte) []byte {
	state := s.opts.Emulator.State()
	out, err := sjson.SetBytes(payload, "_meta.sessionId", s.session)
	if err != nil {
		return payload
	}
	out, _ = sjson.SetBytes(out, "_meta.connected", state.Connected)
	out, _ = sjson.SetBytes(out, "_meta.running", state.Running)
	return out
}

func (s *Server) writeResult(id json.RawMessage, result any) {
	if len(id) == 0 {
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		s.writeError(id, codeInvalidRequest, err.Error())
		return
	}
	s.write(&response{Jsonrpc: "2.0", ID: id, Result: payload})
}

func (s *Server) writeError(id json.RawMessage, code int, message string) {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	s.write(&response{Jsonrpc: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}})
}

func (s *Server) write(resp *response) {
	data, err := json.Marshal(resp)
	if err != nil {
		log.Printf("tools: marshaling response: %v", err)
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.out.Write(append(data, '\n'))
}

// errInvalidArgs marks tool argument failures so they classify distinctly
// from emulator failures.
var errInvalidArgs = errors.New("invalid arguments")

// classify turns a tool failure into the structured error result.
func classify(err error) map[string]any {
	var merr *monitor.Error
	if errors.As(err, &merr) {
		out := map[string]any{
			"isError": true,
			"code":    string(merr.Code),
			"message": merr.Message,
		}
		if merr.Suggestion != "" {
			out["suggestion"] = merr.Suggestion
		}
		return out
	}
	code := "INTERNAL"
	switch {
	case errors.Is(err, errInvalidArgs):
		code = "INVALID_ARGUMENTS"
	case errors.Is(err, monitor.ErrNotConnected):
		code = string(monitor.CodeNotConnected)
	case errors.Is(err, monitor.ErrInvalidAddress):
		code = string(monitor.CodeInvalidAddress)
	case errors.Is(err, monitor.ErrInvalidRange):
		code = string(monitor.CodeInvalidRange)
	}
	return map[string]any{
		"isError": true,
		"code":    code,
		"message": err.Error(),
	}
}
